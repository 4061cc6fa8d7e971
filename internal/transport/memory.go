package transport

import (
	"bytes"
	"io"
	"sync"
	"time"
)

// Memory is a scripted in-memory Stream. Each Read returns bytes from the next
// queued chunk; once the chunks run out Read reports io.EOF, or a timeout when
// the stream was built with Idle. Everything written is captured.
type Memory struct {
	mu       sync.Mutex
	chunks   [][]byte
	idle     bool
	closed   bool
	opened   bool
	written  bytes.Buffer
	flushes  int
	writeErr error
	addr     string
}

// NewMemory returns a stream that will deliver chunks in order.
func NewMemory(chunks ...[]byte) *Memory {
	m := &Memory{addr: "memory"}
	for _, c := range chunks {
		m.chunks = append(m.chunks, append([]byte(nil), c...))
	}
	return m
}

// Idle makes Read time out instead of reporting end of stream once the
// scripted chunks are consumed.
func (m *Memory) Idle() *Memory {
	m.mu.Lock()
	m.idle = true
	m.mu.Unlock()
	return m
}

// FailWrites makes every later Write and Flush fail with err.
func (m *Memory) FailWrites(err error) *Memory {
	m.mu.Lock()
	m.writeErr = err
	m.mu.Unlock()
	return m
}

// Push queues another chunk for reading.
func (m *Memory) Push(chunk []byte) {
	m.mu.Lock()
	m.chunks = append(m.chunks, append([]byte(nil), chunk...))
	m.mu.Unlock()
}

// Written returns a copy of all bytes written so far.
func (m *Memory) Written() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.written.Bytes()...)
}

// Flushes returns how many times Flush succeeded.
func (m *Memory) Flushes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushes
}

// Closed reports whether Close was called.
func (m *Memory) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// RemoteAddr implements Addresser.
func (m *Memory) RemoteAddr() string { return m.addr }

func (m *Memory) Open(deadline time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if Elapsed(deadline) {
		return timeoutError("open")
	}
	m.opened = true
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *Memory) Read(p []byte, deadline time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	if Elapsed(deadline) {
		return 0, timeoutError("read")
	}
	if len(m.chunks) == 0 {
		if m.idle {
			return 0, timeoutError("read")
		}
		return 0, io.EOF
	}
	n := copy(p, m.chunks[0])
	if n == len(m.chunks[0]) {
		m.chunks = m.chunks[1:]
	} else {
		m.chunks[0] = m.chunks[0][n:]
	}
	return n, nil
}

func (m *Memory) Write(p []byte, deadline time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if Elapsed(deadline) {
		return timeoutError("write")
	}
	if m.writeErr != nil {
		return m.writeErr
	}
	m.written.Write(p)
	return nil
}

func (m *Memory) Flush(deadline time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if Elapsed(deadline) {
		return timeoutError("flush")
	}
	if m.writeErr != nil {
		return m.writeErr
	}
	m.flushes++
	return nil
}
