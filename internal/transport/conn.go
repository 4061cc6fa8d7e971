package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"
)

// DefaultBufferSize is used when a non-positive buffer size is requested.
const DefaultBufferSize = 4096

// Conn adapts a net.Conn to Stream. Writes are buffered up to the configured
// size and reach the socket on Flush or when the buffer fills.
type Conn struct {
	nc     net.Conn
	bw     *bufio.Writer
	closed atomic.Bool
}

// NewConn wraps nc. bufferSize bounds the write buffer.
func NewConn(nc net.Conn, bufferSize int) *Conn {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Conn{nc: nc, bw: bufio.NewWriterSize(nc, bufferSize)}
}

// NetConn exposes the wrapped connection.
func (c *Conn) NetConn() net.Conn { return c.nc }

// RemoteAddr implements Addresser.
func (c *Conn) RemoteAddr() string {
	if a := c.nc.RemoteAddr(); a != nil {
		return a.String()
	}
	return ""
}

// Open completes the TLS handshake for TLS connections. Plain connections are
// open as soon as they are accepted or dialed.
func (c *Conn) Open(deadline time.Time) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if Elapsed(deadline) {
		return timeoutError("open")
	}
	tc, ok := c.nc.(*tls.Conn)
	if !ok {
		return nil
	}
	ctx := context.Background()
	if !deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}
	if err := tc.HandshakeContext(ctx); err != nil {
		return c.wrap("open", err)
	}
	return nil
}

// Close closes the underlying connection. Buffered bytes that were not
// flushed are discarded.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.nc.Close()
}

// Read reads into p, failing with ErrTimeout once deadline passes.
func (c *Conn) Read(p []byte, deadline time.Time) (int, error) {
	if c.closed.Load() {
		return 0, ErrClosed
	}
	if Elapsed(deadline) {
		return 0, timeoutError("read")
	}
	if err := c.nc.SetReadDeadline(deadline); err != nil {
		return 0, c.wrap("read", err)
	}
	n, err := c.nc.Read(p)
	if err == io.EOF {
		return n, io.EOF
	}
	if err != nil {
		return n, c.wrap("read", err)
	}
	return n, nil
}

// Write buffers p. Bytes may reach the socket before Flush when the buffer
// overflows; the deadline applies to those writes.
func (c *Conn) Write(p []byte, deadline time.Time) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if Elapsed(deadline) {
		return timeoutError("write")
	}
	if err := c.nc.SetWriteDeadline(deadline); err != nil {
		return c.wrap("write", err)
	}
	if _, err := c.bw.Write(p); err != nil {
		return c.wrap("write", err)
	}
	return nil
}

// Flush pushes buffered bytes to the socket.
func (c *Conn) Flush(deadline time.Time) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if Elapsed(deadline) {
		return timeoutError("flush")
	}
	if err := c.nc.SetWriteDeadline(deadline); err != nil {
		return c.wrap("flush", err)
	}
	if err := c.bw.Flush(); err != nil {
		return c.wrap("flush", err)
	}
	return nil
}

func (c *Conn) wrap(op string, err error) error {
	if IsTimeout(err) {
		return fmt.Errorf("transport: %s: %w (%v)", op, ErrTimeout, err)
	}
	return fmt.Errorf("transport: %s: %w", op, err)
}
