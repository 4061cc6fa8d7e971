package parser

import (
	"bytes"
	"errors"
	"io"
	"time"
)

// ErrIncomplete is returned by a live body that has run out of queued bytes
// and has no way to ask for more.
var ErrIncomplete = errors.New("parser: body not fully received")

// liveBody is the reader side of a body the parser is still receiving. The
// parser appends to the queue; readers drain it and, when it is empty, call
// pull so the owner of the stream can feed the parser more bytes.
type liveBody struct {
	queue bytes.Buffer
	done  bool
	err   error
	pull  func(deadline time.Time) error
}

func (b *liveBody) push(p []byte) { b.queue.Write(p) }

func (b *liveBody) finish() { b.done = true }

func (b *liveBody) fail(err error) {
	if !b.done && b.err == nil {
		b.err = err
	}
}

func (b *liveBody) Read(p []byte, deadline time.Time) (int, error) {
	for {
		if b.queue.Len() > 0 {
			return b.queue.Read(p)
		}
		if b.done {
			return 0, io.EOF
		}
		if b.err != nil {
			return 0, b.err
		}
		if b.pull == nil {
			return 0, ErrIncomplete
		}
		if err := b.pull(deadline); err != nil {
			return 0, err
		}
	}
}
