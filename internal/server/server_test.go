package server

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muurk/httpcore/internal/client"
	"github.com/muurk/httpcore/internal/config"
	"github.com/muurk/httpcore/internal/message"
	"github.com/muurk/httpcore/internal/router"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Server.ReadTimeout = 50 * time.Millisecond
	cfg.Server.ShutdownTimeout = time.Second
	return cfg
}

func hello() message.Handler {
	root := router.New()
	root.Route("/hello/:name").Get(func(req *message.Request) (*message.Response, error) {
		return message.Text(200, "hello "+req.Param("name")), nil
	})
	return root.Build()
}

type counter struct {
	mu       sync.Mutex
	opened   int
	closed   int
	requests []int
}

func (c *counter) ConnectionOpened() { c.mu.Lock(); c.opened++; c.mu.Unlock() }
func (c *counter) ConnectionClosed() { c.mu.Lock(); c.closed++; c.mu.Unlock() }
func (c *counter) RequestServed(_ string, code int, _ time.Duration) {
	c.mu.Lock()
	c.requests = append(c.requests, code)
	c.mu.Unlock()
}
func (c *counter) ParseError(string) {}

// serve starts srv on a loopback listener and returns its address and a
// function that stops it and returns Serve's result.
func serve(t *testing.T, srv *Server) (string, func() error) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()
	var once sync.Once
	var result error
	stop := func() error {
		once.Do(func() {
			cancel()
			result = <-done
		})
		return result
	}
	t.Cleanup(func() { _ = stop() })
	return ln.Addr().String(), stop
}

func TestServeAndGracefulStop(t *testing.T) {
	obs := &counter{}
	srv, err := New(testConfig(), hello(), WithObserver(obs))
	require.NoError(t, err)
	addr, stop := serve(t, srv)

	c := client.New(client.Options{Timeout: 2 * time.Second})
	resp, err := c.Get(context.Background(), "http://"+addr+"/hello/world")
	require.NoError(t, err)
	body, _ := resp.Body.Bytes(time.Time{})
	assert.Equal(t, "hello world", string(body))
	assert.Equal(t, 1, srv.ActiveConnections(), "pooled keep-alive connection stays open")

	// The idle keep-alive connection ends once the loop notices the shutdown.
	require.NoError(t, stop())
	assert.Equal(t, 0, srv.ActiveConnections())
	require.NoError(t, c.Close())

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, 1, obs.opened)
	assert.Equal(t, 1, obs.closed)
	assert.Equal(t, []int{200}, obs.requests)
}

func TestServeTwice(t *testing.T) {
	srv, err := New(testConfig(), hello())
	require.NoError(t, err)
	serve(t, srv)
	require.Eventually(t, func() bool { return srv.Addr() != nil }, time.Second, 5*time.Millisecond)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	assert.ErrorIs(t, srv.Serve(context.Background(), ln), ErrServing)
}

func TestSelfSignedTLS(t *testing.T) {
	cfg := testConfig()
	cfg.Server.TLS.SelfSigned = true
	srv, err := New(cfg, hello())
	require.NoError(t, err)
	require.NotNil(t, srv.TLSConfig())
	addr, _ := serve(t, srv)

	leaf := srv.TLSConfig().Certificates[0].Leaf
	require.NotNil(t, leaf)
	roots := x509.NewCertPool()
	roots.AddCert(leaf)

	c := client.New(client.Options{
		Timeout:   5 * time.Second,
		TLSConfig: &tls.Config{RootCAs: roots, MinVersion: tls.VersionTLS12},
	})
	defer c.Close()
	resp, err := c.Get(context.Background(), "https://"+addr+"/hello/tls")
	require.NoError(t, err)
	body, _ := resp.Body.Bytes(time.Time{})
	assert.Equal(t, "hello tls", string(body))

	// Without the root the handshake fails.
	plain := client.New(client.Options{Timeout: 5 * time.Second})
	defer plain.Close()
	_, err = plain.Get(context.Background(), "https://"+addr+"/hello/tls")
	assert.Error(t, err)
}

func TestShutdownForcesStuckConnections(t *testing.T) {
	cfg := testConfig()
	cfg.Server.ReadTimeout = 0 // a half-sent request blocks the loop
	srv, err := New(cfg, hello())
	require.NoError(t, err)
	addr, _ := serve(t, srv)

	nc, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer nc.Close()
	_, err = nc.Write([]byte("GET /hello/x HTTP/1.1\r\nHost:"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return srv.ActiveConnections() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = srv.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, srv.ActiveConnections())
}

// flakyListener fails Accept a few times before reporting closed.
type flakyListener struct {
	net.Listener
	failures atomic.Int32
}

func (l *flakyListener) Accept() (net.Conn, error) {
	if l.failures.Add(-1) >= 0 {
		return nil, errors.New("accept: too many open files")
	}
	return nil, net.ErrClosed
}

func TestAcceptErrorsAreRetried(t *testing.T) {
	srv, err := New(testConfig(), hello())
	require.NoError(t, err)

	inner, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer inner.Close()
	ln := &flakyListener{Listener: inner}
	ln.failures.Store(3)

	start := time.Now()
	require.NoError(t, srv.Serve(context.Background(), ln))
	// 5ms + 10ms + 20ms of backoff.
	assert.GreaterOrEqual(t, time.Since(start), 35*time.Millisecond)
}

func TestGenerateSelfSigned(t *testing.T) {
	cert, err := GenerateSelfSigned([]string{"example.test", "10.1.2.3"}, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []string{"example.test"}, cert.Certificate.DNSNames)
	require.Len(t, cert.Certificate.IPAddresses, 1)
	assert.Equal(t, "10.1.2.3", cert.Certificate.IPAddresses[0].String())

	_, err = NewTLSConfigFromMemory(cert.CertPEM, cert.KeyPEM)
	assert.NoError(t, err)
	_, err = NewTLSConfigFromMemory(cert.CertPEM, []byte("junk"))
	assert.Error(t, err)
}
