// Package transport defines the Stream contract the HTTP core runs on: a
// duplex byte stream whose every blocking call takes an absolute deadline.
// It also provides the net.Conn adapter, an in-memory stream for tests and
// helpers that classify timeouts and peer disconnects.
package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"time"
)

var (
	// ErrTimeout is wrapped by every error caused by an elapsed deadline.
	ErrTimeout = errors.New("transport: deadline exceeded")

	// ErrClosed is returned by operations on a stream that was closed locally.
	ErrClosed = errors.New("transport: stream closed")
)

// Stream is the duplex byte stream the HTTP core runs over.
//
// Every blocking call takes an absolute deadline. A deadline that has already
// elapsed fails immediately with an error wrapping ErrTimeout instead of
// performing the operation. A zero deadline means no deadline.
//
// Read returns io.EOF once the peer has finished sending.
type Stream interface {
	Open(deadline time.Time) error
	Close() error
	Read(p []byte, deadline time.Time) (int, error)
	Write(p []byte, deadline time.Time) error
	Flush(deadline time.Time) error
}

// Addresser is implemented by streams that know their peer address.
type Addresser interface {
	RemoteAddr() string
}

// RemoteAddr returns the peer address of s, or "" when unknown.
func RemoteAddr(s Stream) string {
	if a, ok := s.(Addresser); ok {
		return a.RemoteAddr()
	}
	return ""
}

// Elapsed reports whether deadline is set and already in the past.
func Elapsed(deadline time.Time) bool {
	return !deadline.IsZero() && !time.Now().Before(deadline)
}

// timeoutError builds the error returned for an elapsed deadline.
func timeoutError(op string) error {
	return fmt.Errorf("transport: %s: %w", op, ErrTimeout)
}

// IsTimeout reports whether err was caused by an elapsed deadline.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// IsClosed reports whether err means the stream is already closed.
func IsClosed(err error) bool {
	return errors.Is(err, ErrClosed) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}

// IsDisconnect reports whether err is an ordinary peer disconnect: end of
// stream, broken pipe, connection reset or a closed stream.
func IsDisconnect(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || IsClosed(err) {
		return true
	}
	return errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNABORTED)
}
