package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/muurk/httpcore/internal/config"
	"github.com/muurk/httpcore/internal/conn"
	"github.com/muurk/httpcore/internal/discovery"
	"github.com/muurk/httpcore/internal/logging"
	"github.com/muurk/httpcore/internal/message"
	"github.com/muurk/httpcore/internal/transport"
	"github.com/muurk/httpcore/internal/version"
)

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// ErrServing is returned by Serve when the server already has a listener.
var ErrServing = errors.New("server: already serving")

// Server accepts connections and runs the connection loop on each.
type Server struct {
	config    *config.Config
	handler   message.Handler
	tlsConfig *tls.Config
	observer  conn.Observer

	// Connection loops watch connCtx; Shutdown cancels it.
	connCtx    context.Context
	cancelConn context.CancelFunc

	wg           sync.WaitGroup
	mu           sync.Mutex
	listener     net.Listener
	activeConns  map[string]net.Conn
	shuttingDown bool
	announcement *discovery.Announcement
}

// Option customizes New.
type Option func(*Server)

// WithObserver reports connection events, typically to internal/metrics.
func WithObserver(o conn.Observer) Option {
	return func(s *Server) { s.observer = o }
}

// WithTLSConfig serves TLS with cfg regardless of the configured files.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(s *Server) { s.tlsConfig = cfg }
}

// New creates a server for h. TLS material named by cfg is loaded (or
// generated) here, so configuration mistakes surface before listening.
func New(cfg *config.Config, h message.Handler, opts ...Option) (*Server, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	s := &Server{
		config:      cfg,
		handler:     h,
		activeConns: make(map[string]net.Conn),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.connCtx, s.cancelConn = context.WithCancel(context.Background())

	t := cfg.Server.TLS
	if s.tlsConfig != nil || !t.Enabled() {
		return s, nil
	}
	var err error
	if t.SelfSigned {
		host := cfg.Server.Host
		if host == "" {
			host = "localhost"
		}
		var cert *SelfSigned
		if cert, err = GenerateSelfSigned([]string{host, "127.0.0.1", "::1"}, 365*24*time.Hour); err != nil {
			return nil, err
		}
		s.tlsConfig, err = NewTLSConfigFromMemory(cert.CertPEM, cert.KeyPEM)
	} else {
		s.tlsConfig, err = NewTLSConfig(t.Cert, t.Key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create TLS config: %w", err)
	}
	return s, nil
}

// TLSConfig returns the server's TLS configuration, or nil for plain HTTP.
func (s *Server) TLSConfig() *tls.Config { return s.tlsConfig }

// Start listens on the configured address and serves until ctx is done or
// SIGINT/SIGTERM arrives.
func (s *Server) Start(ctx context.Context) error {
	addr := s.config.Addr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return s.Serve(ctx, ln)
}

// Serve accepts connections from ln until ctx is done or Shutdown is
// called. When ctx ends the server shuts down gracefully, bounded by the
// configured shutdown timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.listener != nil || s.shuttingDown {
		s.mu.Unlock()
		return ErrServing
	}
	if s.tlsConfig != nil {
		ln = tls.NewListener(ln, s.tlsConfig)
	}
	s.listener = ln
	s.mu.Unlock()

	logging.Info("Server listening for connections",
		zap.String("addr", ln.Addr().String()),
		zap.Bool("tls", s.tlsConfig != nil),
	)
	if s.tlsConfig != nil {
		logging.Debug("TLS configuration", zap.Any("tls_info", GetTLSInfo(s.tlsConfig)))
	}
	s.announce(ln.Addr())

	errChan := make(chan error, 1)
	go func() {
		errChan <- s.acceptConnections(ln)
	}()

	select {
	case <-ctx.Done():
		logging.Info("Shutdown requested, stopping server...")
		timeout := s.config.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		sctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		err := s.Shutdown(sctx)
		return multierr.Append(err, <-errChan)
	case err := <-errChan:
		return err
	}
}

func (s *Server) announce(addr net.Addr) {
	if !s.config.MDNS.Enabled {
		return
	}
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		return
	}
	txt := []string{"path=/", "version=" + version.Get().Version}
	if s.tlsConfig != nil {
		txt = append(txt, "tls=1")
	}
	a, err := discovery.Announce(s.config.MDNS.Instance, tcp.Port, txt)
	if err != nil {
		logging.Warn("mDNS announcement failed", zap.Error(err))
		return
	}
	s.mu.Lock()
	s.announcement = a
	s.mu.Unlock()
}

// acceptConnections runs until the listener is closed. Other accept errors
// are retried with exponential backoff.
func (s *Server) acceptConnections(ln net.Listener) error {
	var backoff time.Duration
	for {
		nc, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			if backoff == 0 {
				backoff = minAcceptBackoff
			} else {
				backoff = min(backoff*2, maxAcceptBackoff)
			}
			logging.Error("Failed to accept connection",
				zap.Error(err),
				zap.Duration("retry_in", backoff),
			)
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		id := uuid.NewString()
		s.mu.Lock()
		if s.shuttingDown {
			s.mu.Unlock()
			_ = nc.Close()
			continue
		}
		s.activeConns[id] = nc
		s.wg.Add(1)
		s.mu.Unlock()

		go func() {
			defer s.wg.Done()
			s.handleConnection(id, nc)
		}()
	}
}

func (s *Server) handleConnection(id string, nc net.Conn) {
	defer func() {
		s.mu.Lock()
		delete(s.activeConns, id)
		s.mu.Unlock()
	}()

	cfg := conn.Config{
		BufferSize:     s.config.Server.BufferSize,
		ReadTimeout:    s.config.Server.ReadTimeout,
		WriteTimeout:   s.config.Server.WriteTimeout,
		MaxHeaderBytes: s.config.Server.MaxHeaderBytes,
	}
	opts := []conn.Option{conn.WithConnID(id)}
	if s.observer != nil {
		opts = append(opts, conn.WithObserver(s.observer))
	}

	st := transport.NewConn(nc, cfg.BufferSize)
	if err := conn.Serve(s.connCtx, st, s.handler, cfg, opts...); err != nil {
		logging.Warn("Connection ended with error",
			zap.String("conn_id", id),
			zap.String("remote_addr", st.RemoteAddr()),
			zap.Error(err),
		)
	}
}

// Shutdown stops accepting, lets connection loops finish their current
// exchange and waits for them. When ctx ends first the remaining
// connections are closed and ctx's error is included in the result.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down server...")

	s.mu.Lock()
	s.shuttingDown = true
	ln := s.listener
	a := s.announcement
	s.announcement = nil
	s.mu.Unlock()

	var err error
	if ln != nil {
		if cerr := ln.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = multierr.Append(err, fmt.Errorf("close listener: %w", cerr))
		}
	}
	a.Shutdown()
	s.cancelConn()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logging.Info("All connections closed gracefully")
	case <-ctx.Done():
		logging.Warn("Shutdown timeout, forcing close", zap.Int("active", s.ActiveConnections()))
		s.mu.Lock()
		for id, nc := range s.activeConns {
			if cerr := nc.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
				err = multierr.Append(err, fmt.Errorf("close %s: %w", id, cerr))
			}
		}
		s.mu.Unlock()
		<-done
		err = multierr.Append(err, ctx.Err())
	}

	logging.Sync()
	return err
}

// ActiveConnections returns the number of connections being served.
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.activeConns)
}

// Addr returns the listening address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}
