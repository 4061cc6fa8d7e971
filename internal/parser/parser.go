// Package parser implements an incremental HTTP/1.x message parser.
//
// Bytes may arrive in chunks of any size; the parser keeps its own state
// between calls and hands out a message as soon as its header section is
// complete. Bodies are exposed as live readers that fill in as more bytes
// are fed.
package parser

import (
	"time"

	"github.com/muurk/httpcore/internal/message"
)

// DefaultMaxHeaderBytes bounds the start line plus header section.
const DefaultMaxHeaderBytes = 64 << 10

// Options configures a parser.
type Options struct {
	// MaxHeaderBytes limits the start line and headers of one message.
	// Zero means DefaultMaxHeaderBytes.
	MaxHeaderBytes int

	// Pull is called by a body reader that has drained every byte fed so
	// far. It must feed the parser more input (or signal EOF) before
	// returning, or return an error. When nil, such reads fail with
	// ErrIncomplete.
	Pull func(deadline time.Time) error
}

func (o Options) maxHeaderBytes() int {
	if o.MaxHeaderBytes <= 0 {
		return DefaultMaxHeaderBytes
	}
	return o.MaxHeaderBytes
}

// RequestParser parses a stream of requests, as seen by a server.
type RequestParser struct {
	m machine
}

// NewRequestParser returns a parser positioned before the first request.
func NewRequestParser(opts Options) *RequestParser {
	return &RequestParser{m: machine{opts: opts}}
}

// Feed consumes chunk and returns every request whose header section
// completed. An empty chunk signals end of stream. After an error the
// parser stays failed.
func (p *RequestParser) Feed(chunk []byte) ([]*message.Request, error) {
	var err error
	if len(chunk) == 0 {
		err = p.m.finish()
	} else {
		err = p.m.feed(chunk)
	}
	out := p.m.reqs
	p.m.reqs = nil
	return out, err
}

// InProgress reports whether a message has started but not finished.
func (p *RequestParser) InProgress() bool { return p.m.inProgress() }

// Upgraded reports whether the last request switched protocols.
func (p *RequestParser) Upgraded() bool { return p.m.state == stUpgraded }

// Remaining returns and clears the bytes received after an upgrade
// request. They belong to the upgraded protocol.
func (p *RequestParser) Remaining() []byte {
	b := p.m.leftover
	p.m.leftover = nil
	return b
}

// ResponseParser parses a stream of responses, as seen by a client.
type ResponseParser struct {
	m machine
}

// NewResponseParser returns a parser positioned before the first response.
func NewResponseParser(opts Options) *ResponseParser {
	return &ResponseParser{m: machine{opts: opts, response: true}}
}

// SetRequestMethod records the method of the request the next response
// answers. Responses to HEAD carry no body regardless of their headers.
func (p *ResponseParser) SetRequestMethod(m message.Method) { p.m.reqMethod = m }

// Feed consumes chunk and returns every response whose header section
// completed. An empty chunk signals end of stream.
func (p *ResponseParser) Feed(chunk []byte) ([]*message.Response, error) {
	var err error
	if len(chunk) == 0 {
		err = p.m.finish()
	} else {
		err = p.m.feed(chunk)
	}
	out := p.m.resps
	p.m.resps = nil
	return out, err
}

// Finish signals end of stream. A response delimited by connection close
// is completed; one cut short is an error. The returned response is any
// response whose header section completed with the final bytes.
func (p *ResponseParser) Finish() (*message.Response, error) {
	resps, err := p.Feed(nil)
	if len(resps) > 0 {
		return resps[len(resps)-1], err
	}
	return nil, err
}

// InProgress reports whether a message has started but not finished.
func (p *ResponseParser) InProgress() bool { return p.m.inProgress() }

// Upgraded reports whether a 101 response switched protocols.
func (p *ResponseParser) Upgraded() bool { return p.m.state == stUpgraded }

// Remaining returns and clears the bytes received after a 101 response.
func (p *ResponseParser) Remaining() []byte {
	b := p.m.leftover
	p.m.leftover = nil
	return b
}
