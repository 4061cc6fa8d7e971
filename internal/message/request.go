package message

import (
	"context"
	"net/http"
	"strings"
)

// Params maps route parameter names to the path components they matched.
// It lives for the duration of one request.
type Params map[string]string

// Get returns the value bound to name, or "".
func (p Params) Get(name string) string { return p[name] }

// Request is an HTTP request.
type Request struct {
	Method  Method
	Target  string // request-target as sent on the wire
	Path    string // Target up to '?'
	Query   string // Target after '?', without the '?'
	Version Version
	Header  Header
	// Trailer holds trailer fields of a chunked body. It fills in as the body
	// is read.
	Trailer Header
	Body    *Body

	// Params is set by the router before hooks and handlers run.
	Params Params

	// RemoteAddr is the peer address for server-side requests.
	RemoteAddr string

	ctx context.Context
}

// NewRequest returns an HTTP/1.1 request for target with an empty body.
func NewRequest(method Method, target string) *Request {
	r := &Request{Method: method, Version: HTTP11, Body: Empty()}
	r.SetTarget(target)
	return r
}

// SetTarget sets Target and splits it into Path and Query.
func (r *Request) SetTarget(target string) {
	r.Target = target
	r.Path, r.Query = target, ""
	if i := strings.IndexByte(target, '?'); i >= 0 {
		r.Path, r.Query = target[:i], target[i+1:]
	}
}

// Param returns the route parameter bound to name.
func (r *Request) Param(name string) string { return r.Params.Get(name) }

// Context returns the request context, never nil.
func (r *Request) Context() context.Context {
	if r == nil || r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}

// WithContext returns a shallow copy of r using ctx.
func (r *Request) WithContext(ctx context.Context) *Request {
	r2 := *r
	r2.ctx = ctx
	return &r2
}

// KeepAlive reports whether the client asked to reuse the connection after
// this exchange: HTTP/1.1 unless "Connection: close", HTTP/1.0 only with an
// explicit "Connection: keep-alive".
func (r *Request) KeepAlive() bool {
	if r.Header.HasToken("Connection", "close") {
		return false
	}
	if r.Version.AtLeast(HTTP11) {
		return true
	}
	return r.Header.HasToken("Connection", "keep-alive")
}

// IsUpgrade reports whether the request asks for a protocol switch.
func (r *Request) IsUpgrade() bool {
	return r.Header.Has("Upgrade") && r.Header.HasToken("Connection", "upgrade")
}

// Cookies parses the Cookie header.
func (r *Request) Cookies() []*http.Cookie {
	line := r.Header.Get("Cookie")
	if line == "" {
		return nil
	}
	cookies, err := http.ParseCookie(line)
	if err != nil {
		return nil
	}
	return cookies
}

// Cookie returns the named request cookie, or nil.
func (r *Request) Cookie(name string) *http.Cookie {
	for _, c := range r.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// AddCookie appends c to the Cookie header.
func (r *Request) AddCookie(c *http.Cookie) {
	pair := c.Name + "=" + c.Value
	if v, ok := r.Header.Lookup("Cookie"); ok && v != "" {
		r.Header.Set("Cookie", v+"; "+pair)
		return
	}
	r.Header.Set("Cookie", pair)
}
