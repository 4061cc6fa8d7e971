package client

import (
	"errors"
	"io"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/muurk/httpcore/internal/logging"
	"github.com/muurk/httpcore/internal/message"
	"github.com/muurk/httpcore/internal/parser"
	"github.com/muurk/httpcore/internal/transport"
)

// Pool keeps idle keep-alive connections per host:port. It is safe for
// concurrent use and may be shared between clients.
type Pool struct {
	mu          sync.Mutex
	idle        map[string][]*conn
	maxIdle     int
	idleTimeout time.Duration
	closed      bool
}

// NewPool returns a pool holding at most maxIdlePerHost connections per key.
// Connections idle for longer than idleTimeout are discarded on checkout; a
// zero idleTimeout keeps them until the peer closes.
func NewPool(maxIdlePerHost int, idleTimeout time.Duration) *Pool {
	if maxIdlePerHost <= 0 {
		maxIdlePerHost = 2
	}
	return &Pool{
		idle:        make(map[string][]*conn),
		maxIdle:     maxIdlePerHost,
		idleTimeout: idleTimeout,
	}
}

// get checks out the most recently returned live connection for key.
func (p *Pool) get(key string) *conn {
	p.mu.Lock()
	defer p.mu.Unlock()

	list := p.idle[key]
	for len(list) > 0 {
		c := list[len(list)-1]
		list = list[:len(list)-1]
		if p.idleTimeout > 0 && time.Since(c.idleSince) > p.idleTimeout {
			logging.Debug("Dropping expired pooled connection", zap.String("addr", key))
			_ = c.st.Close()
			continue
		}
		p.idle[key] = list
		return c
	}
	delete(p.idle, key)
	return nil
}

// put returns c to the pool. It reports false, and closes c, when the pool
// is full or closed.
func (p *Pool) put(c *conn) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || len(p.idle[c.key]) >= p.maxIdle {
		_ = c.st.Close()
		return false
	}
	c.idleSince = time.Now()
	p.idle[c.key] = append(p.idle[c.key], c)
	return true
}

// Idle returns the number of idle connections held for key.
func (p *Pool) Idle(key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle[key])
}

// Close closes every idle connection. Later returns are closed immediately.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var err error
	for key, list := range p.idle {
		for _, c := range list {
			if cerr := c.st.Close(); cerr != nil && !transport.IsClosed(cerr) {
				err = multierr.Append(err, cerr)
			}
		}
		delete(p.idle, key)
	}
	p.closed = true
	return err
}

// conn is one client connection with its response parser.
type conn struct {
	key       string
	st        transport.Stream
	p         *parser.ResponseParser
	buf       []byte
	queue     []*message.Response
	received  int
	eof       bool
	idleSince time.Time
}

func newConn(key string, st transport.Stream, bufferSize, maxHeaderBytes int) *conn {
	if bufferSize <= 0 {
		bufferSize = transport.DefaultBufferSize
	}
	c := &conn{key: key, st: st, buf: make([]byte, bufferSize)}
	c.p = parser.NewResponseParser(parser.Options{
		MaxHeaderBytes: maxHeaderBytes,
		Pull:           c.pull,
	})
	return c
}

func (c *conn) fill(deadline time.Time) error {
	n, err := c.st.Read(c.buf, deadline)
	if n > 0 {
		c.received += n
		resps, perr := c.p.Feed(c.buf[:n])
		c.queue = append(c.queue, resps...)
		if perr != nil {
			return perr
		}
	}
	if errors.Is(err, io.EOF) {
		c.eof = true
		resps, perr := c.p.Feed(nil)
		c.queue = append(c.queue, resps...)
		return perr
	}
	return err
}

func (c *conn) pull(deadline time.Time) error {
	if c.eof {
		return io.ErrUnexpectedEOF
	}
	return c.fill(deadline)
}

// next returns the next response whose header section is complete.
func (c *conn) next(deadline time.Time) (*message.Response, error) {
	for len(c.queue) == 0 {
		if c.eof {
			return nil, io.ErrUnexpectedEOF
		}
		if err := c.fill(deadline); err != nil && len(c.queue) == 0 {
			return nil, err
		}
	}
	resp := c.queue[0]
	c.queue = c.queue[1:]
	return resp, nil
}

// reusable reports whether another exchange may follow on c.
func (c *conn) reusable(req *message.Request, resp *message.Response) bool {
	if c.eof || c.p.InProgress() || c.p.Upgraded() || len(c.queue) > 0 {
		return false
	}
	if !req.KeepAlive() || !resp.KeepAlive() {
		return false
	}
	return resp.Version.AtLeast(message.HTTP11) || resp.Header.HasToken("Connection", "keep-alive")
}
