package message

import (
	"net/http"

	"github.com/muurk/httpcore/internal/transport"
)

// UpgradeFunc takes over the raw stream after an upgrade response has been
// flushed. The connection loop closes the stream once it returns.
type UpgradeFunc func(req *Request, s transport.Stream) error

// Response is an HTTP response.
type Response struct {
	Version Version
	Status  Status
	Header  Header
	Trailer Header
	// Cookies are written as one Set-Cookie line each.
	Cookies []*http.Cookie
	Body    *Body

	// Upgrade, when set, receives the stream after the response is written.
	Upgrade UpgradeFunc
}

// NewResponse returns an HTTP/1.1 response with an empty body.
func NewResponse(code int) *Response {
	return &Response{Version: HTTP11, Status: NewStatus(code), Body: Empty()}
}

// Text returns a text/plain response carrying s.
func Text(code int, s string) *Response {
	r := NewResponse(code)
	r.Header.Set("Content-Type", "text/plain; charset=utf-8")
	r.Body = StringBody(s)
	return r
}

// Stream returns a response whose body is produced by fn.
func Stream(code int, contentType string, fn WriterFunc) *Response {
	r := NewResponse(code)
	if contentType != "" {
		r.Header.Set("Content-Type", contentType)
	}
	r.Body = WriterBody(fn)
	return r
}

// SetCookie adds c to the response cookies.
func (r *Response) SetCookie(c *http.Cookie) {
	r.Cookies = append(r.Cookies, c)
}

// KeepAlive reports whether the response itself permits reuse of the
// connection.
func (r *Response) KeepAlive() bool {
	return !r.Header.HasToken("Connection", "close")
}
