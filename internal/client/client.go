// Package client performs HTTP/1.1 round trips with the same parser and
// serializer the server side uses, keeping idle connections in a Pool.
package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/httpcore/internal/logging"
	"github.com/muurk/httpcore/internal/message"
	"github.com/muurk/httpcore/internal/serializer"
	"github.com/muurk/httpcore/internal/transport"
	"github.com/muurk/httpcore/internal/version"
)

// Options configure a Client.
type Options struct {
	// Pool is shared with other clients when set. Otherwise the client owns
	// a pool built from MaxIdlePerHost and IdleTimeout.
	Pool           *Pool
	MaxIdlePerHost int
	IdleTimeout    time.Duration

	// Timeout bounds a whole round trip when ctx carries no earlier deadline.
	Timeout        time.Duration
	BufferSize     int
	MaxHeaderBytes int
	TLSConfig      *tls.Config

	// Dial replaces net.Dialer.DialContext, mostly for tests.
	Dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

// Client sends requests and reads their responses.
type Client struct {
	opts    Options
	pool    *Pool
	ownPool bool
	ser     *serializer.Serializer
}

// New returns a client configured by opts.
func New(opts Options) *Client {
	c := &Client{opts: opts, pool: opts.Pool, ser: serializer.New(opts.BufferSize)}
	if c.pool == nil {
		c.pool = NewPool(opts.MaxIdlePerHost, opts.IdleTimeout)
		c.ownPool = true
	}
	if c.opts.Dial == nil {
		d := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
		c.opts.Dial = d.DialContext
	}
	return c
}

// Close drains the pool when the client owns it.
func (c *Client) Close() error {
	if !c.ownPool {
		return nil
	}
	return c.pool.Close()
}

// Do sends req to addr (host:port) in plain text and returns the response
// with its body buffered.
func (c *Client) Do(ctx context.Context, addr string, req *message.Request) (*message.Response, error) {
	return c.do(ctx, addr, false, req)
}

// Get fetches rawURL. https URLs are dialed over TLS.
func (c *Client) Get(ctx context.Context, rawURL string) (*message.Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}
	var secure bool
	switch u.Scheme {
	case "http":
	case "https":
		secure = true
	default:
		return nil, fmt.Errorf("client: unsupported scheme %q", u.Scheme)
	}
	port := u.Port()
	if port == "" {
		port = "80"
		if secure {
			port = "443"
		}
	}

	req := message.NewRequest(message.GET, u.RequestURI())
	req.Header.Set("Host", u.Host)
	return c.do(ctx, net.JoinHostPort(u.Hostname(), port), secure, req)
}

func (c *Client) do(ctx context.Context, addr string, secure bool, req *message.Request) (*message.Response, error) {
	if !req.Header.Has("Host") {
		req.Header.Set("Host", addr)
	}
	if !req.Header.Has("User-Agent") {
		req.Header.Set("User-Agent", version.UserAgent())
	}
	key := addr
	if secure {
		key = "https://" + addr
	}

	deadline := c.deadline(ctx)
	// A request body that is already in memory can be sent again.
	replayable := req.Body == nil || req.Body.Kind() == message.Buffered

	for attempt := 0; ; attempt++ {
		cn, reused := c.pool.get(key), true
		if cn == nil {
			var err error
			if cn, err = c.dial(ctx, key, addr, secure, deadline); err != nil {
				return nil, err
			}
			reused = false
		}

		start := cn.received
		resp, err := c.roundTrip(ctx, cn, req, deadline)
		if err == nil {
			return resp, nil
		}
		_ = cn.st.Close()

		stale := reused && cn.received == start && transport.IsDisconnect(err)
		if stale && attempt == 0 && replayable && ctx.Err() == nil {
			logging.Debug("Pooled connection was stale, retrying",
				zap.String("addr", addr), zap.Error(err))
			continue
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("client: %s %s: %w", req.Method, req.Target, ctxErr)
		}
		return nil, fmt.Errorf("client: %s %s: %w", req.Method, req.Target, err)
	}
}

func (c *Client) deadline(ctx context.Context) time.Time {
	var d time.Time
	if c.opts.Timeout > 0 {
		d = time.Now().Add(c.opts.Timeout)
	}
	if cd, ok := ctx.Deadline(); ok && (d.IsZero() || cd.Before(d)) {
		d = cd
	}
	return d
}

func (c *Client) dial(ctx context.Context, key, addr string, secure bool, deadline time.Time) (*conn, error) {
	nc, err := c.opts.Dial(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", addr, err)
	}
	if secure {
		cfg := c.opts.TLSConfig.Clone()
		if cfg == nil {
			cfg = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		if cfg.ServerName == "" {
			host, _, _ := net.SplitHostPort(addr)
			cfg.ServerName = host
		}
		nc = tls.Client(nc, cfg)
	}

	st := transport.NewConn(nc, c.opts.BufferSize)
	if err := st.Open(deadline); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("client: open %s: %w", addr, err)
	}
	if tc, ok := nc.(*tls.Conn); ok {
		logging.LogTLSHandshake(addr, tc.ConnectionState())
	}
	logging.Debug("Dialed", zap.String("addr", addr), zap.Bool("tls", secure))
	return newConn(key, st, c.opts.BufferSize, c.opts.MaxHeaderBytes), nil
}

// roundTrip writes req on cn and reads the final response. Interim 1xx
// responses other than 101 are skipped. On success cn goes back to the
// pool or is closed.
func (c *Client) roundTrip(ctx context.Context, cn *conn, req *message.Request, deadline time.Time) (*message.Response, error) {
	stop := context.AfterFunc(ctx, func() { _ = cn.st.Close() })
	defer stop()

	if _, err := c.ser.WriteRequest(cn.st, req, deadline); err != nil {
		return nil, err
	}

	var resp *message.Response
	for {
		cn.p.SetRequestMethod(req.Method)
		r, err := cn.next(deadline)
		if err != nil {
			return nil, err
		}
		if r.Status.Code >= 200 || r.Status.Code == 101 {
			resp = r
			break
		}
		logging.Debug("Skipping interim response", zap.Int("status", r.Status.Code))
	}

	if _, err := resp.Body.Bytes(deadline); err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}

	if !stop() {
		// ctx fired and the stream is being closed.
		return nil, errors.Join(context.Cause(ctx), transport.ErrClosed)
	}
	if cn.reusable(req, resp) {
		c.pool.put(cn)
	} else {
		_ = cn.st.Close()
	}
	return resp, nil
}
