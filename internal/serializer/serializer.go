// Package serializer writes HTTP/1.x messages to a transport stream.
//
// The header block goes out first, then the body through a framing sink
// chosen from the message headers: fixed length, chunked, or raw bytes
// delimited by closing the connection. Writer bodies are invoked exactly
// once against that sink, so memory use is bounded by the buffer size.
package serializer

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/muurk/httpcore/internal/message"
	"github.com/muurk/httpcore/internal/transport"
)

// Framing is the body delimitation used for a serialized message.
type Framing int

const (
	// FramingNone means the message carries no body.
	FramingNone Framing = iota
	// FramingFixed means the body length was sent in Content-Length.
	FramingFixed
	// FramingChunked means the body used chunked transfer coding.
	FramingChunked
	// FramingClose means the body ends when the connection closes.
	FramingClose
)

func (f Framing) String() string {
	switch f {
	case FramingNone:
		return "none"
	case FramingFixed:
		return "fixed"
	case FramingChunked:
		return "chunked"
	case FramingClose:
		return "close"
	default:
		return "Framing(" + strconv.Itoa(int(f)) + ")"
	}
}

// Serializer writes messages. It is owned by one connection.
type Serializer struct {
	bufferSize int
}

// New returns a serializer that coalesces writes into bufferSize bytes.
func New(bufferSize int) *Serializer {
	if bufferSize <= 0 {
		bufferSize = transport.DefaultBufferSize
	}
	return &Serializer{bufferSize: bufferSize}
}

// WriteResponse writes resp, which answers req, and flushes the stream. req
// may be nil. Framing headers (Content-Length, Transfer-Encoding and, for
// close-delimited bodies, Connection) are set on resp.Header to match what
// is written.
func (s *Serializer) WriteResponse(st transport.Stream, resp *message.Response, req *message.Request, deadline time.Time) (Framing, error) {
	version := resp.Version
	if version.Major == 0 {
		version = message.HTTP11
	}
	peer := version
	if req != nil {
		peer = req.Version
	}

	bodiless := !resp.Status.AllowsBody() || (req != nil && req.Method == message.HEAD)
	var (
		framing Framing
		length  int64
	)
	switch {
	case resp.Status.Code < 200 || resp.Status.Code == 204:
		resp.Header.Del("Content-Length")
		resp.Header.Del("Transfer-Encoding")
		framing = FramingNone
	case bodiless:
		if !resp.Header.Has("Content-Length") && !resp.Header.Has("Transfer-Encoding") && resp.Status.Code != 304 {
			if n, ok := resp.Body.Len(); ok {
				resp.Header.Set("Content-Length", strconv.FormatInt(n, 10))
			}
		}
		framing = FramingNone
	default:
		var err error
		framing, length, err = selectFraming(&resp.Header, resp.Body, peer.AtLeast(message.HTTP11), true)
		if err != nil {
			return FramingNone, err
		}
	}
	if framing == FramingClose {
		resp.Header.Set("Connection", "close")
	}

	out := s.output(st, deadline)
	reason := resp.Status.Reason
	if reason == "" {
		reason = message.StatusText(resp.Status.Code)
	}
	out.WriteString(version.String())
	out.WriteString(" ")
	out.WriteString(strconv.Itoa(resp.Status.Code))
	out.WriteString(" ")
	out.WriteString(sanitize(reason))
	out.WriteString("\r\n")
	if err := writeFields(out, &resp.Header); err != nil {
		return framing, err
	}
	for _, c := range resp.Cookies {
		if v := c.String(); v != "" {
			out.WriteString("Set-Cookie: ")
			out.WriteString(v)
			out.WriteString("\r\n")
		}
	}
	out.WriteString("\r\n")

	if err := writeBody(out, resp.Body, &resp.Trailer, framing, length, deadline); err != nil {
		return framing, err
	}
	return framing, finish(out, st, deadline)
}

// WriteRequest writes req and flushes the stream. Requests never use
// close-delimited bodies; an unsized body is sent chunked.
func (s *Serializer) WriteRequest(st transport.Stream, req *message.Request, deadline time.Time) (Framing, error) {
	version := req.Version
	if version.Major == 0 {
		version = message.HTTP11
	}
	target := req.Target
	if target == "" {
		target = "/"
	}
	if strings.ContainsAny(target, " \r\n") {
		return FramingNone, fmt.Errorf("serializer: invalid request target %q", target)
	}
	if !validToken(string(req.Method)) {
		return FramingNone, fmt.Errorf("serializer: invalid method %q", req.Method)
	}

	framing, length, err := selectFraming(&req.Header, req.Body, true, false)
	if err != nil {
		return FramingNone, err
	}
	if framing == FramingNone && allowsRequestBody(req.Method) && !req.Header.Has("Content-Length") {
		req.Header.Set("Content-Length", "0")
	}

	out := s.output(st, deadline)
	out.WriteString(string(req.Method))
	out.WriteString(" ")
	out.WriteString(target)
	out.WriteString(" ")
	out.WriteString(version.String())
	out.WriteString("\r\n")
	if err := writeFields(out, &req.Header); err != nil {
		return framing, err
	}
	out.WriteString("\r\n")

	if err := writeBody(out, req.Body, &req.Trailer, framing, length, deadline); err != nil {
		return framing, err
	}
	return framing, finish(out, st, deadline)
}

func (s *Serializer) output(st transport.Stream, deadline time.Time) *output {
	return &output{s: st, deadline: deadline, buf: make([]byte, 0, s.bufferSize)}
}

// selectFraming picks the body framing and fixes up the headers to match.
// Explicit headers win; otherwise a sized body gets Content-Length and an
// unsized one is chunked, or close-delimited when the peer predates
// HTTP/1.1 and close delimitation is allowed.
func selectFraming(h *message.Header, body *message.Body, chunkOK, closeOK bool) (Framing, int64, error) {
	if te, ok := h.Lookup("Transfer-Encoding"); ok {
		if h.Has("Content-Length") {
			return FramingNone, 0, fmt.Errorf("serializer: both Transfer-Encoding and Content-Length set")
		}
		codings := strings.Split(te, ",")
		if strings.EqualFold(strings.TrimSpace(codings[len(codings)-1]), "chunked") {
			return FramingChunked, 0, nil
		}
		if !closeOK {
			return FramingNone, 0, fmt.Errorf("serializer: request transfer coding must end in chunked")
		}
		return FramingClose, 0, nil
	}
	if cl, ok := h.Lookup("Content-Length"); ok {
		n, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 64)
		if err != nil || n < 0 {
			return FramingNone, 0, fmt.Errorf("serializer: invalid Content-Length %q", cl)
		}
		return FramingFixed, n, nil
	}
	if n, ok := body.Len(); ok {
		if n == 0 && !closeOK {
			return FramingNone, 0, nil
		}
		h.Set("Content-Length", strconv.FormatInt(n, 10))
		return FramingFixed, n, nil
	}
	if chunkOK {
		h.Set("Transfer-Encoding", "chunked")
		return FramingChunked, 0, nil
	}
	return FramingClose, 0, nil
}

func writeBody(out *output, body *message.Body, trailer *message.Header, framing Framing, length int64, deadline time.Time) error {
	switch framing {
	case FramingNone:
		return nil
	case FramingFixed:
		if n, ok := body.Len(); ok && n > length {
			return ErrContentLengthExceeded
		}
		sink := &fixedSink{out: out, remaining: length}
		if err := body.Writer(deadline)(sink); err != nil {
			return err
		}
		return sink.close()
	case FramingChunked:
		sink := &chunkedSink{out: out, trailer: trailer}
		if err := body.Writer(deadline)(sink); err != nil {
			return err
		}
		return sink.close()
	default:
		return body.Writer(deadline)(out)
	}
}

func finish(out *output, st transport.Stream, deadline time.Time) error {
	if err := out.flush(); err != nil {
		return err
	}
	return st.Flush(deadline)
}

func writeFields(out *output, h *message.Header) error {
	var err error
	h.Range(func(name, value string) bool {
		if !validToken(name) {
			err = fmt.Errorf("serializer: invalid header name %q", name)
			return false
		}
		out.WriteString(name)
		out.WriteString(": ")
		out.WriteString(sanitize(value))
		_, err = out.WriteString("\r\n")
		return err == nil
	})
	return err
}

func allowsRequestBody(m message.Method) bool {
	return m == message.POST || m == message.PUT || m == message.PATCH
}

// sanitize drops CR, LF and other control characters except HTAB.
func sanitize(v string) string {
	clean := true
	for i := 0; i < len(v); i++ {
		if c := v[i]; (c < 0x20 && c != '\t') || c == 0x7f {
			clean = false
			break
		}
	}
	if clean {
		return v
	}
	var b strings.Builder
	b.Grow(len(v))
	for i := 0; i < len(v); i++ {
		c := v[i]
		if (c < 0x20 && c != '\t') || c == 0x7f {
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func validToken(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case strings.IndexByte("!#$%&'*+-.^_`|~", c) >= 0:
		default:
			return false
		}
	}
	return true
}
