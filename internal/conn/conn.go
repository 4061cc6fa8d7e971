// Package conn runs the HTTP/1.1 exchange loop on one transport stream.
//
// Each cycle reads bytes with the read timeout, feeds the connection's own
// parser, dispatches every completed request in arrival order and writes
// the response with the write timeout. The loop ends when either side asks
// to close, the body framing requires it, a response hands the stream to
// an upgrade callback, or the stream fails.
package conn

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/muurk/httpcore/internal/logging"
	"github.com/muurk/httpcore/internal/message"
	"github.com/muurk/httpcore/internal/parser"
	"github.com/muurk/httpcore/internal/serializer"
	"github.com/muurk/httpcore/internal/transport"
)

// Config bounds one connection.
type Config struct {
	BufferSize     int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxHeaderBytes int
}

// Observer receives connection and request events. internal/metrics
// provides the Prometheus implementation.
type Observer interface {
	ConnectionOpened()
	ConnectionClosed()
	RequestServed(method string, code int, elapsed time.Duration)
	ParseError(kind string)
}

type nopObserver struct{}

func (nopObserver) ConnectionOpened()                        {}
func (nopObserver) ConnectionClosed()                        {}
func (nopObserver) RequestServed(string, int, time.Duration) {}
func (nopObserver) ParseError(string)                        {}

// Option customizes Serve.
type Option func(*loop)

// WithObserver reports events to o.
func WithObserver(o Observer) Option {
	return func(l *loop) {
		if o != nil {
			l.obs = o
		}
	}
}

// WithConnID sets the id used in log lines instead of a generated one.
func WithConnID(id string) Option {
	return func(l *loop) { l.id = id }
}

// WithRemoteAddr overrides the peer address recorded on requests.
func WithRemoteAddr(addr string) Option {
	return func(l *loop) { l.remote = addr }
}

type loop struct {
	ctx    context.Context
	s      transport.Stream
	h      message.Handler
	cfg    Config
	p      *parser.RequestParser
	ser    *serializer.Serializer
	buf    []byte
	obs    Observer
	id     string
	remote string

	readDeadline  func() time.Time
	writeDeadline func() time.Time

	pending []*message.Request
	perr    error // parse error, surfaced once pending requests are served
	eof     bool
}

// Serve runs the loop until the connection ends and closes s. Peer
// disconnects and errors on an already closed stream return nil; parse
// errors are answered with 400 (or 431) before closing and also return nil.
// Anything else is returned for the caller to log.
func Serve(ctx context.Context, s transport.Stream, h message.Handler, cfg Config, opts ...Option) error {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = transport.DefaultBufferSize
	}
	l := &loop{
		ctx:    ctx,
		s:      s,
		h:      h,
		cfg:    cfg,
		ser:    serializer.New(cfg.BufferSize),
		buf:    make([]byte, cfg.BufferSize),
		obs:    nopObserver{},
		remote: transport.RemoteAddr(s),

		readDeadline:  transport.After(cfg.ReadTimeout),
		writeDeadline: transport.After(cfg.WriteTimeout),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.id == "" {
		l.id = uuid.NewString()
	}
	l.p = parser.NewRequestParser(parser.Options{
		MaxHeaderBytes: cfg.MaxHeaderBytes,
		Pull:           l.pull,
	})

	l.obs.ConnectionOpened()
	logging.LogConnection(l.id, l.remote, "connection_opened")
	defer func() {
		_ = s.Close()
		l.obs.ConnectionClosed()
		logging.LogConnection(l.id, l.remote, "connection_closed")
	}()

	if err := s.Open(l.readDeadline()); err != nil {
		return l.classify(fmt.Errorf("open: %w", err))
	}
	l.logTLS()
	return l.classify(l.run())
}

func (l *loop) run() error {
	for {
		req, err := l.next()
		if err != nil {
			var pe *parser.ParseError
			if errors.As(err, &pe) {
				l.rejectMalformed(pe)
				return nil
			}
			return err
		}
		if req == nil {
			return nil
		}
		done, err := l.serve(req)
		if err != nil || done {
			return err
		}
	}
}

// next returns the next complete request header, or nil when the peer is
// done or the server is stopping.
func (l *loop) next() (*message.Request, error) {
	for {
		if len(l.pending) > 0 {
			req := l.pending[0]
			l.pending = l.pending[1:]
			return req, nil
		}
		if l.perr != nil {
			return nil, l.perr
		}
		if l.eof || l.p.Upgraded() {
			return nil, nil
		}
		idle := !l.p.InProgress()
		if idle && l.ctx.Err() != nil {
			return nil, nil
		}
		err := l.fill(l.readDeadline())
		switch {
		case err == nil, err == l.perr:
		case idle && transport.IsTimeout(err) && len(l.pending) == 0:
			// Keep-alive wait.
		default:
			return nil, err
		}
	}
}

// fill reads once and feeds the parser. Completed requests are queued.
func (l *loop) fill(deadline time.Time) error {
	n, err := l.s.Read(l.buf, deadline)
	if n > 0 {
		reqs, perr := l.p.Feed(l.buf[:n])
		l.pending = append(l.pending, reqs...)
		if perr != nil {
			l.perr = perr
			logging.LogRawBytes("Unparseable input", l.buf[:n], zap.String("conn_id", l.id))
			return perr
		}
	}
	if errors.Is(err, io.EOF) {
		l.eof = true
		reqs, perr := l.p.Feed(nil)
		l.pending = append(l.pending, reqs...)
		if perr != nil {
			l.perr = perr
			return perr
		}
		return nil
	}
	return err
}

// pull feeds a live request body that ran dry.
func (l *loop) pull(deadline time.Time) error {
	if l.perr != nil {
		return l.perr
	}
	if l.eof {
		return io.ErrUnexpectedEOF
	}
	if deadline.IsZero() {
		deadline = l.readDeadline()
	}
	return l.fill(deadline)
}

// serve answers one request. done reports that the connection must end.
func (l *loop) serve(req *message.Request) (done bool, err error) {
	start := time.Now()
	req.RemoteAddr = l.remote
	req = req.WithContext(l.ctx)

	// Keep hold of a live body so it can be drained even if the handler
	// converted or dropped it.
	var body message.Source
	if req.Body.Kind() == message.Reader {
		body, _ = req.Body.Source(time.Time{})
	}

	resp := l.dispatch(req)
	upgrade := resp.Upgrade != nil
	keep := req.KeepAlive() && resp.KeepAlive() && !upgrade && !l.p.Upgraded()
	switch {
	case upgrade:
	case !keep:
		resp.Header.Set("Connection", "close")
	case !req.Version.AtLeast(message.HTTP11):
		resp.Header.Set("Connection", "keep-alive")
	}

	framing, err := l.ser.WriteResponse(l.s, resp, req, l.writeDeadline())
	elapsed := time.Since(start)
	l.obs.RequestServed(string(req.Method), resp.Status.Code, elapsed)
	logging.LogRequest(l.id, string(req.Method), req.Path, resp.Status.Code, elapsed)
	if err != nil {
		return true, fmt.Errorf("write response: %w", err)
	}

	if upgrade {
		logging.LogConnection(l.id, l.remote, "upgraded")
		stream := transport.WithPrefix(l.s, l.p.Remaining())
		if err := resp.Upgrade(req, stream); err != nil {
			return true, fmt.Errorf("upgrade: %w", err)
		}
		return true, nil
	}
	if !keep || framing == serializer.FramingClose {
		return true, nil
	}
	if body != nil {
		// Each pull takes a fresh read deadline.
		if err := drain(body, time.Time{}); err != nil {
			if l.perr != nil && errors.Is(err, l.perr) {
				// This request was already answered; the bad body ends
				// the connection without a second response.
				var pe *parser.ParseError
				if errors.As(l.perr, &pe) {
					l.reportMalformed(pe)
				}
				return true, nil
			}
			return true, fmt.Errorf("drain request body: %w", err)
		}
	}
	return false, nil
}

// dispatch calls the handler, turning errors and panics into responses.
func (l *loop) dispatch(req *message.Request) (resp *message.Response) {
	defer func() {
		if v := recover(); v != nil {
			logging.Error("Handler panic",
				zap.String("conn_id", l.id),
				zap.String("path", req.Path),
				zap.Any("panic", v),
				zap.Stack("stack"),
			)
			resp = message.ResponseFor(fmt.Errorf("handler panic: %v", v))
		}
	}()
	resp, err := l.h.Respond(req)
	if err != nil {
		logging.Debug("Handler error",
			zap.String("conn_id", l.id),
			zap.String("path", req.Path),
			zap.Error(err),
		)
		return message.ResponseFor(err)
	}
	if resp == nil {
		return message.ResponseFor(errors.New("handler returned no response"))
	}
	return resp
}

// rejectMalformed answers a parse error when the stream is still writable.
func (l *loop) rejectMalformed(pe *parser.ParseError) {
	l.reportMalformed(pe)
	if pe.Kind == parser.KindTruncated {
		return
	}
	if _, err := l.ser.WriteResponse(l.s, pe.Response(), nil, l.writeDeadline()); err != nil {
		logging.Debug("Could not send error response", zap.String("conn_id", l.id), zap.Error(err))
	}
}

func (l *loop) reportMalformed(pe *parser.ParseError) {
	l.obs.ParseError(pe.Kind.String())
	logging.Warn("Malformed request",
		zap.String("conn_id", l.id),
		zap.String("remote_addr", l.remote),
		zap.String("kind", pe.Kind.String()),
		zap.String("reason", pe.Reason),
		zap.Int64("offset", pe.Offset),
	)
}

func (l *loop) classify(err error) error {
	switch {
	case err == nil:
		return nil
	case transport.IsDisconnect(err):
		logging.Debug("Peer disconnected", zap.String("conn_id", l.id), zap.Error(err))
		return nil
	default:
		return fmt.Errorf("connection %s: %w", l.id, err)
	}
}

func (l *loop) logTLS() {
	type netConner interface{ NetConn() net.Conn }
	nc, ok := l.s.(netConner)
	if !ok {
		return
	}
	if tc, ok := nc.NetConn().(*tls.Conn); ok {
		logging.LogTLSHandshake(l.remote, tc.ConnectionState())
	}
}

func drain(src message.Source, deadline time.Time) error {
	var buf [4096]byte
	for {
		_, err := src.Read(buf[:], deadline)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
