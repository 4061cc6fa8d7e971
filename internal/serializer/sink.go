package serializer

import (
	"errors"
	"strconv"
	"time"

	"github.com/muurk/httpcore/internal/message"
	"github.com/muurk/httpcore/internal/transport"
)

var (
	// ErrContentLengthExceeded is returned when a body produces more bytes
	// than its declared Content-Length. The excess never reaches the stream.
	ErrContentLengthExceeded = errors.New("serializer: content-length exceeded")
	// ErrContentLengthShort is returned when a body ends before its declared
	// Content-Length was reached.
	ErrContentLengthShort = errors.New("serializer: body shorter than content-length")
)

// output coalesces small writes into a buffer of bufferSize bytes before
// handing them to the stream.
type output struct {
	s        transport.Stream
	deadline time.Time
	buf      []byte
	err      error // first stream error; later writes are dropped
}

func (o *output) Write(p []byte) (int, error) {
	if o.err != nil {
		return 0, o.err
	}
	if len(o.buf)+len(p) > cap(o.buf) {
		if err := o.flush(); err != nil {
			return 0, err
		}
		if len(p) >= cap(o.buf) {
			if err := o.s.Write(p, o.deadline); err != nil {
				o.err = err
				return 0, err
			}
			return len(p), nil
		}
	}
	o.buf = append(o.buf, p...)
	return len(p), nil
}

func (o *output) WriteString(s string) (int, error) {
	if o.err == nil && len(o.buf)+len(s) <= cap(o.buf) {
		o.buf = append(o.buf, s...)
		return len(s), nil
	}
	return o.Write([]byte(s))
}

func (o *output) flush() error {
	if o.err != nil || len(o.buf) == 0 {
		return o.err
	}
	o.err = o.s.Write(o.buf, o.deadline)
	o.buf = o.buf[:0]
	return o.err
}

// fixedSink enforces a declared Content-Length. Once a write overruns the
// length the sink stays failed, so close reports it even when the body
// writer dropped the error.
type fixedSink struct {
	out       *output
	remaining int64
	exceeded  bool
}

func (f *fixedSink) Write(p []byte) (int, error) {
	if f.exceeded {
		return 0, ErrContentLengthExceeded
	}
	if int64(len(p)) > f.remaining {
		f.exceeded = true
		n := int(f.remaining)
		if n > 0 {
			if _, err := f.out.Write(p[:n]); err != nil {
				return 0, err
			}
			f.remaining = 0
		}
		return n, ErrContentLengthExceeded
	}
	n, err := f.out.Write(p)
	f.remaining -= int64(n)
	return n, err
}

func (f *fixedSink) close() error {
	if f.exceeded {
		return ErrContentLengthExceeded
	}
	if f.remaining > 0 {
		return ErrContentLengthShort
	}
	return nil
}

// chunkedSink frames every write as one chunk.
type chunkedSink struct {
	out     *output
	trailer *message.Header
	hex     []byte
}

func (c *chunkedSink) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	c.hex = strconv.AppendInt(c.hex[:0], int64(len(p)), 16)
	c.hex = append(c.hex, '\r', '\n')
	if _, err := c.out.Write(c.hex); err != nil {
		return 0, err
	}
	if _, err := c.out.Write(p); err != nil {
		return 0, err
	}
	if _, err := c.out.WriteString("\r\n"); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *chunkedSink) close() error {
	if _, err := c.out.WriteString("0\r\n"); err != nil {
		return err
	}
	if c.trailer != nil {
		if err := writeFields(c.out, c.trailer); err != nil {
			return err
		}
	}
	_, err := c.out.WriteString("\r\n")
	return err
}
