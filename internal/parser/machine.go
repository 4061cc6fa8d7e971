package parser

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/muurk/httpcore/internal/message"
)

type state uint8

const (
	stReady        state = iota // between messages
	stMessageBegin              // method, or version for responses
	stTarget                    // request-target, or status code for responses
	stLineTail                  // version for requests, reason phrase for responses
	stLineLF
	stHeaderName
	stHeaderValue
	stHeaderValueLF
	stHeadersLF // CR of the blank line seen
	stBody      // fixed-length body
	stChunkSize
	stChunkExt
	stChunkSizeLF
	stChunkData
	stChunkDataCR
	stChunkDataLF
	stUntilClose // body delimited by end of stream
	stUpgraded   // protocol switched; bytes are kept for the new owner
	stFailed
)

const (
	maxMethodLen    = 32
	maxChunkSizeLen = 16
)

// machine is the byte-level state machine shared by the request and
// response parsers.
type machine struct {
	opts     Options
	response bool

	state   state
	scratch []byte
	offset  int64
	used    int // header bytes consumed by the current message
	eof     bool
	err     error

	name      string
	header    *message.Header
	inTrailer bool
	remaining int64
	digits    int
	upgrade   bool
	leftover  []byte

	reqMethod message.Method
	req       *message.Request
	resp      *message.Response
	body      *liveBody

	reqs  []*message.Request
	resps []*message.Response
}

func (m *machine) fail(kind Kind, reason string) error {
	m.err = &ParseError{Kind: kind, Reason: reason, Offset: m.offset}
	m.state = stFailed
	if m.body != nil {
		m.body.fail(m.err)
	}
	return m.err
}

// take materializes the scratch buffer and clears it.
func (m *machine) take() string {
	s := string(m.scratch)
	m.scratch = m.scratch[:0]
	return s
}

func (m *machine) feed(chunk []byte) error {
	if m.err != nil {
		return m.err
	}
	if m.eof {
		if len(chunk) == 0 {
			return nil
		}
		return m.fail(KindAfterEOF, "data received after end of stream")
	}
	for i := 0; i < len(chunk); {
		switch m.state {
		case stUpgraded:
			m.leftover = append(m.leftover, chunk[i:]...)
			m.offset += int64(len(chunk) - i)
			return nil
		case stBody, stChunkData:
			n := int64(len(chunk) - i)
			if n > m.remaining {
				n = m.remaining
			}
			m.body.push(chunk[i : i+int(n)])
			i += int(n)
			m.offset += n
			m.remaining -= n
			if m.remaining == 0 {
				if m.state == stBody {
					m.completeMessage()
				} else {
					m.state = stChunkDataCR
				}
			}
		case stUntilClose:
			m.body.push(chunk[i:])
			m.offset += int64(len(chunk) - i)
			return nil
		default:
			if err := m.step(chunk[i]); err != nil {
				return err
			}
			i++
			m.offset++
		}
	}
	return nil
}

func (m *machine) countHeaderByte() error {
	m.used++
	if m.used > m.opts.maxHeaderBytes() {
		return m.fail(KindTooLarge, "header section exceeds "+strconv.Itoa(m.opts.maxHeaderBytes())+" bytes")
	}
	return nil
}

func (m *machine) step(b byte) error {
	switch m.state {
	case stReady:
		if b == '\r' || b == '\n' {
			return nil
		}
		m.beginMessage()
		return m.step(b)

	case stMessageBegin:
		if err := m.countHeaderByte(); err != nil {
			return err
		}
		if b == ' ' {
			return m.endMessageBegin()
		}
		if m.response {
			if b == '\r' || b == '\n' {
				return m.fail(KindStartLine, "status line ends after version")
			}
			if len(m.scratch) >= len("HTTP/1.1") {
				return m.fail(KindStartLine, "malformed HTTP version")
			}
		} else {
			if !isTokenChar(b) {
				return m.fail(KindStartLine, "invalid character in method")
			}
			if len(m.scratch) >= maxMethodLen {
				return m.fail(KindStartLine, "method too long")
			}
		}
		m.scratch = append(m.scratch, b)

	case stTarget:
		if err := m.countHeaderByte(); err != nil {
			return err
		}
		if m.response {
			switch {
			case b >= '0' && b <= '9':
				if len(m.scratch) == 3 {
					return m.fail(KindStartLine, "status code longer than three digits")
				}
				m.scratch = append(m.scratch, b)
			case b == ' ':
				if err := m.setStatus(); err != nil {
					return err
				}
				m.state = stLineTail
			case b == '\r':
				if err := m.setStatus(); err != nil {
					return err
				}
				m.state = stLineLF
			case b == '\n':
				if err := m.setStatus(); err != nil {
					return err
				}
				m.startLineComplete()
			default:
				return m.fail(KindStartLine, "invalid character in status code")
			}
			return nil
		}
		switch {
		case b == ' ':
			if len(m.scratch) == 0 {
				return m.fail(KindStartLine, "empty request target")
			}
			m.req.SetTarget(m.take())
			m.state = stLineTail
		case b == '\r' || b == '\n':
			return m.fail(KindStartLine, "request line has no HTTP version")
		case b < 0x21 || b == 0x7f:
			return m.fail(KindStartLine, "invalid character in request target")
		default:
			m.scratch = append(m.scratch, b)
		}

	case stLineTail:
		if err := m.countHeaderByte(); err != nil {
			return err
		}
		switch {
		case b == '\r':
			m.state = stLineLF
		case b == '\n':
			return m.endStartLine()
		case isCtl(b) && b != '\t':
			return m.fail(KindStartLine, "control character in start line")
		default:
			m.scratch = append(m.scratch, b)
		}

	case stLineLF:
		if err := m.countHeaderByte(); err != nil {
			return err
		}
		if b != '\n' {
			return m.fail(KindStartLine, "expected LF after CR")
		}
		return m.endStartLine()

	case stHeaderName:
		if err := m.countHeaderByte(); err != nil {
			return err
		}
		switch {
		case len(m.scratch) == 0 && b == '\r':
			m.state = stHeadersLF
		case len(m.scratch) == 0 && b == '\n':
			return m.endHeaderBlock()
		case len(m.scratch) == 0 && (b == ' ' || b == '\t'):
			return m.fail(KindHeader, "obsolete line folding is not supported")
		case b == ':':
			if len(m.scratch) == 0 {
				return m.fail(KindHeader, "empty header name")
			}
			m.name = m.take()
			m.state = stHeaderValue
		case isTokenChar(b):
			m.scratch = append(m.scratch, b)
		default:
			return m.fail(KindHeader, "invalid character "+strconv.Quote(string(b))+" in header name")
		}

	case stHeaderValue:
		if err := m.countHeaderByte(); err != nil {
			return err
		}
		switch {
		case b == '\r':
			m.state = stHeaderValueLF
		case b == '\n':
			m.endHeaderValue()
		case (b == ' ' || b == '\t') && len(m.scratch) == 0:
		case isCtl(b) && b != '\t':
			return m.fail(KindHeader, "control character in value of "+m.name)
		default:
			m.scratch = append(m.scratch, b)
		}

	case stHeaderValueLF:
		if err := m.countHeaderByte(); err != nil {
			return err
		}
		if b != '\n' {
			return m.fail(KindHeader, "expected LF after CR in header "+m.name)
		}
		m.endHeaderValue()

	case stHeadersLF:
		if err := m.countHeaderByte(); err != nil {
			return err
		}
		if b != '\n' {
			return m.fail(KindHeader, "expected LF terminating header section")
		}
		return m.endHeaderBlock()

	case stChunkSize:
		switch {
		case isHex(b):
			if m.digits == maxChunkSizeLen-1 {
				return m.fail(KindChunkSize, "chunk size too large")
			}
			m.remaining = m.remaining<<4 | int64(unhex(b))
			m.digits++
		case b == ';' || b == ' ' || b == '\t':
			if m.digits == 0 {
				return m.fail(KindChunkSize, "missing chunk size")
			}
			m.state = stChunkExt
		case b == '\r':
			if m.digits == 0 {
				return m.fail(KindChunkSize, "missing chunk size")
			}
			m.state = stChunkSizeLF
		case b == '\n':
			if m.digits == 0 {
				return m.fail(KindChunkSize, "missing chunk size")
			}
			m.endChunkSize()
		default:
			return m.fail(KindChunkSize, "invalid character "+strconv.Quote(string(b))+" in chunk size")
		}

	case stChunkExt:
		switch b {
		case '\r':
			m.state = stChunkSizeLF
		case '\n':
			m.endChunkSize()
		}

	case stChunkSizeLF:
		if b != '\n' {
			return m.fail(KindChunkFormat, "expected LF after chunk size")
		}
		m.endChunkSize()

	case stChunkDataCR:
		switch b {
		case '\r':
			m.state = stChunkDataLF
		case '\n':
			m.startChunk()
		default:
			return m.fail(KindChunkFormat, "chunk data not followed by CRLF")
		}

	case stChunkDataLF:
		if b != '\n' {
			return m.fail(KindChunkFormat, "chunk data not followed by CRLF")
		}
		m.startChunk()
	}
	return nil
}

func (m *machine) beginMessage() {
	m.used = 0
	m.inTrailer = false
	m.upgrade = false
	m.scratch = m.scratch[:0]
	if m.response {
		m.resp = &message.Response{}
		m.header = &m.resp.Header
	} else {
		m.req = &message.Request{}
		m.header = &m.req.Header
	}
	m.state = stMessageBegin
}

func (m *machine) endMessageBegin() error {
	if len(m.scratch) == 0 {
		return m.fail(KindStartLine, "empty start line token")
	}
	tok := m.take()
	if m.response {
		v, err := message.ParseVersion(tok)
		if err != nil || v.Major != 1 {
			return m.fail(KindStartLine, "unsupported version "+strconv.Quote(tok))
		}
		m.resp.Version = v
	} else {
		m.req.Method = message.Method(tok)
	}
	m.state = stTarget
	return nil
}

func (m *machine) setStatus() error {
	if len(m.scratch) != 3 {
		return m.fail(KindStartLine, "status code must have three digits")
	}
	code, _ := strconv.Atoi(m.take())
	if code < 100 {
		return m.fail(KindStartLine, "status code out of range")
	}
	m.resp.Status.Code = code
	return nil
}

func (m *machine) endStartLine() error {
	tail := m.take()
	if m.response {
		m.resp.Status.Reason = tail
	} else {
		v, err := message.ParseVersion(tail)
		if err != nil || v.Major != 1 {
			return m.fail(KindStartLine, "unsupported version "+strconv.Quote(tail))
		}
		m.req.Version = v
	}
	m.startLineComplete()
	return nil
}

func (m *machine) startLineComplete() {
	m.state = stHeaderName
}

func (m *machine) endHeaderValue() {
	value := strings.TrimRight(m.take(), " \t")
	if m.response && !m.inTrailer && strings.EqualFold(m.name, "Set-Cookie") {
		if c, err := http.ParseSetCookie(value); err == nil {
			m.resp.Cookies = append(m.resp.Cookies, c)
			m.name = ""
			m.state = stHeaderName
			return
		}
	}
	m.header.Add(m.name, value)
	m.name = ""
	m.state = stHeaderName
}

func (m *machine) endHeaderBlock() error {
	if m.inTrailer {
		m.completeMessage()
		return nil
	}
	return m.headersComplete()
}

// headersComplete decides the body framing and hands the message out.
func (m *machine) headersComplete() error {
	h := m.header
	te, hasTE := h.Lookup("Transfer-Encoding")
	cl, hasCL := h.Lookup("Content-Length")
	if hasTE && hasCL {
		return m.fail(KindFraming, "both Transfer-Encoding and Content-Length present")
	}

	var (
		length    int64
		chunked   bool
		untilEOF  bool
		noBody    bool
		upgrading bool
	)
	if m.response {
		code := m.resp.Status.Code
		noBody = (code >= 100 && code < 200) || code == 204 || code == 304 || m.reqMethod == message.HEAD
		upgrading = code == 101
	} else {
		upgrading = m.req.IsUpgrade() || m.req.Method == message.CONNECT
	}

	switch {
	case noBody:
	case hasTE:
		codings := strings.Split(te, ",")
		last := strings.ToLower(strings.TrimSpace(codings[len(codings)-1]))
		switch {
		case last == "chunked":
			chunked = true
		case m.response:
			untilEOF = true
		default:
			return m.fail(KindFraming, "unsupported transfer coding "+strconv.Quote(last))
		}
	case hasCL:
		n, ok := parseContentLength(cl)
		if !ok {
			return m.fail(KindFraming, "invalid Content-Length "+strconv.Quote(cl))
		}
		length = n
	case m.response:
		untilEOF = true
	}

	m.upgrade = upgrading
	if !chunked && !untilEOF && length == 0 {
		m.emit(message.Empty())
		m.completeMessage()
		return nil
	}

	m.body = &liveBody{pull: m.opts.Pull}
	m.emit(message.ReaderBody(m.body))
	switch {
	case chunked:
		m.startChunk()
	case untilEOF:
		m.state = stUntilClose
	default:
		m.remaining = length
		m.state = stBody
	}
	return nil
}

func (m *machine) emit(body *message.Body) {
	if m.response {
		m.resp.Body = body
		m.resps = append(m.resps, m.resp)
	} else {
		m.req.Body = body
		m.reqs = append(m.reqs, m.req)
	}
}

func (m *machine) startChunk() {
	m.remaining = 0
	m.digits = 0
	m.state = stChunkSize
}

func (m *machine) endChunkSize() {
	if m.remaining == 0 {
		m.inTrailer = true
		if m.response {
			m.header = &m.resp.Trailer
		} else {
			m.header = &m.req.Trailer
		}
		m.state = stHeaderName
		return
	}
	m.state = stChunkData
}

func (m *machine) completeMessage() {
	if m.body != nil {
		m.body.finish()
		m.body = nil
	}
	m.header = nil
	if m.upgrade {
		m.state = stUpgraded
		return
	}
	m.state = stReady
}

// finish signals end of stream.
func (m *machine) finish() error {
	if m.err != nil {
		return m.err
	}
	if m.eof {
		return nil
	}
	m.eof = true
	switch m.state {
	case stReady, stUpgraded:
		return nil
	case stUntilClose:
		m.completeMessage()
		return nil
	case stBody, stChunkSize, stChunkExt, stChunkSizeLF, stChunkData, stChunkDataCR, stChunkDataLF:
		return m.fail(KindTruncated, "stream ended inside message body")
	default:
		if m.inTrailer {
			return m.fail(KindTruncated, "stream ended inside trailer section")
		}
		return m.fail(KindTruncated, "stream ended inside header section")
	}
}

func (m *machine) inProgress() bool {
	switch m.state {
	case stReady, stUpgraded, stFailed:
		return false
	}
	return true
}

// parseContentLength accepts a decimal length, or a list of identical
// lengths produced by folding repeated header lines.
func parseContentLength(v string) (int64, bool) {
	var n int64 = -1
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return 0, false
		}
		for i := 0; i < len(part); i++ {
			if part[i] < '0' || part[i] > '9' {
				return 0, false
			}
		}
		v, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return 0, false
		}
		if n >= 0 && v != n {
			return 0, false
		}
		n = v
	}
	return n, n >= 0
}

func isCtl(b byte) bool { return b < 0x20 || b == 0x7f }

func isHex(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F')
}

func unhex(b byte) byte {
	switch {
	case b >= '0' && b <= '9':
		return b - '0'
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10
	default:
		return b - 'A' + 10
	}
}

// isTokenChar reports whether b is a tchar (RFC 9110 section 5.6.2).
func isTokenChar(b byte) bool {
	if (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9') {
		return true
	}
	switch b {
	case '!', '#', '$', '%', '&', '\'', '*', '+', '-', '.', '^', '_', '`', '|', '~':
		return true
	}
	return false
}
