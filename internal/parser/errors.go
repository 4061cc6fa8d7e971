package parser

import (
	"fmt"

	"github.com/muurk/httpcore/internal/message"
)

// Kind classifies a parse failure.
type Kind int

const (
	// KindStartLine is a malformed request line or status line.
	KindStartLine Kind = iota
	// KindHeader is invalid header field syntax.
	KindHeader
	// KindFraming is an invalid or conflicting Content-Length/Transfer-Encoding.
	KindFraming
	// KindChunkSize is a chunk-size line that is not valid hex.
	KindChunkSize
	// KindChunkFormat is a missing CRLF around chunk data.
	KindChunkFormat
	// KindTooLarge is a header section beyond the configured limit.
	KindTooLarge
	// KindTruncated means the stream ended in the middle of a message.
	KindTruncated
	// KindAfterEOF means bytes were fed after end-of-stream was signalled.
	KindAfterEOF
)

func (k Kind) String() string {
	switch k {
	case KindStartLine:
		return "start-line"
	case KindHeader:
		return "header"
	case KindFraming:
		return "framing"
	case KindChunkSize:
		return "chunk-size"
	case KindChunkFormat:
		return "chunk-format"
	case KindTooLarge:
		return "too-large"
	case KindTruncated:
		return "truncated"
	case KindAfterEOF:
		return "after-eof"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseError describes why the byte stream is not valid HTTP/1.x.
type ParseError struct {
	Kind   Kind
	Reason string
	// Offset is the stream offset of the offending byte, or -1.
	Offset int64
}

func (e *ParseError) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("parser: %s error at offset %d: %s", e.Kind, e.Offset, e.Reason)
	}
	return fmt.Sprintf("parser: %s error: %s", e.Kind, e.Reason)
}

// Response maps the error to the response a server sends before closing.
func (e *ParseError) Response() *message.Response {
	code := 400
	if e.Kind == KindTooLarge {
		code = 431
	}
	r := message.Text(code, message.StatusText(code))
	r.Header.Set("Connection", "close")
	return r
}
