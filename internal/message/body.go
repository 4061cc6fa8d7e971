package message

import (
	"bytes"
	"errors"
	"io"
	"time"
)

// BodyKind identifies which representation a Body currently holds.
type BodyKind int

const (
	// Buffered bodies hold all of their bytes in memory.
	Buffered BodyKind = iota
	// Reader bodies are pulled from a Source.
	Reader
	// Writer bodies push their bytes into a sink when asked.
	Writer
)

func (k BodyKind) String() string {
	switch k {
	case Buffered:
		return "buffered"
	case Reader:
		return "reader"
	case Writer:
		return "writer"
	default:
		return "unknown"
	}
}

// Source is a pull source of body bytes. Read returns io.EOF at the end.
type Source interface {
	Read(p []byte, deadline time.Time) (int, error)
}

// WriterFunc produces a body by writing it into w.
type WriterFunc func(w io.Writer) error

// ErrBodyConsumed is returned when a reader body is read after another
// representation already drained it.
var ErrBodyConsumed = errors.New("message: body already consumed")

// Body is a message body in exactly one of three representations. Converting
// replaces the held representation, so converting twice to the same kind
// is a no-op and an underlying source or writer is drained at most once.
//
// A Body is owned by a single goroutine.
type Body struct {
	kind BodyKind
	data []byte
	src  Source
	fn   WriterFunc
}

// Empty returns a buffered body with no bytes.
func Empty() *Body { return &Body{kind: Buffered} }

// BytesBody returns a buffered body holding b.
func BytesBody(b []byte) *Body { return &Body{kind: Buffered, data: b} }

// StringBody returns a buffered body holding s.
func StringBody(s string) *Body { return &Body{kind: Buffered, data: []byte(s)} }

// ReaderBody returns a body pulled from src.
func ReaderBody(src Source) *Body { return &Body{kind: Reader, src: src} }

// WriterBody returns a body produced by fn.
func WriterBody(fn WriterFunc) *Body { return &Body{kind: Writer, fn: fn} }

// Kind returns the current representation.
func (b *Body) Kind() BodyKind {
	if b == nil {
		return Buffered
	}
	return b.kind
}

// Len returns the body length when it is known without draining anything.
func (b *Body) Len() (int64, bool) {
	if b == nil {
		return 0, true
	}
	switch b.kind {
	case Buffered:
		return int64(len(b.data)), true
	case Reader:
		if bs, ok := b.src.(*bytesSource); ok {
			return int64(len(bs.data) - bs.off), true
		}
	}
	return 0, false
}

// Bytes converts the body to its buffered form and returns the bytes. The
// deadline bounds reads from a reader source.
func (b *Body) Bytes(deadline time.Time) ([]byte, error) {
	if b == nil {
		return nil, nil
	}
	switch b.kind {
	case Buffered:
		return b.data, nil
	case Reader:
		if bs, ok := b.src.(*bytesSource); ok {
			b.setBuffered(bs.data[bs.off:])
			return b.data, nil
		}
		var buf bytes.Buffer
		if err := copySource(&buf, b.src, deadline); err != nil {
			return nil, err
		}
		b.setBuffered(buf.Bytes())
		return b.data, nil
	default:
		var buf bytes.Buffer
		fn := b.fn
		b.fn = nil
		if fn == nil {
			return nil, ErrBodyConsumed
		}
		if err := fn(&buf); err != nil {
			return nil, err
		}
		b.setBuffered(buf.Bytes())
		return b.data, nil
	}
}

// Source converts the body to its reader form. Buffered bodies are wrapped;
// writer bodies are drained into memory first.
func (b *Body) Source(deadline time.Time) (Source, error) {
	if b == nil {
		return &bytesSource{}, nil
	}
	switch b.kind {
	case Reader:
		return b.src, nil
	case Writer:
		if _, err := b.Bytes(deadline); err != nil {
			return nil, err
		}
	}
	src := &bytesSource{data: b.data}
	b.kind, b.src, b.data = Reader, src, nil
	return src, nil
}

// Writer converts the body to its writer form. A reader body is forwarded to
// the sink chunk by chunk, with each read bounded by deadline.
func (b *Body) Writer(deadline time.Time) WriterFunc {
	if b == nil {
		return func(io.Writer) error { return nil }
	}
	switch b.kind {
	case Writer:
		return b.fn
	case Buffered:
		data := b.data
		b.fn = func(w io.Writer) error {
			_, err := w.Write(data)
			return err
		}
	case Reader:
		src := b.src
		b.fn = func(w io.Writer) error { return copySource(w, src, deadline) }
		b.src = nil
	}
	b.kind, b.data = Writer, nil
	return b.fn
}

// Discard drains a reader body without keeping the bytes. The connection
// loop uses it so the next pipelined request can be parsed.
func (b *Body) Discard(deadline time.Time) error {
	if b == nil || b.kind != Reader {
		return nil
	}
	err := copySource(io.Discard, b.src, deadline)
	b.setBuffered(nil)
	return err
}

func (b *Body) setBuffered(data []byte) {
	b.kind, b.data, b.src, b.fn = Buffered, data, nil, nil
}

const copyChunk = 32 << 10

func copySource(w io.Writer, src Source, deadline time.Time) error {
	buf := make([]byte, copyChunk)
	for {
		n, err := src.Read(buf, deadline)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

type bytesSource struct {
	data []byte
	off  int
}

func (s *bytesSource) Read(p []byte, _ time.Time) (int, error) {
	if s.off >= len(s.data) {
		return 0, io.EOF
	}
	n := copy(p, s.data[s.off:])
	s.off += n
	return n, nil
}
