package transport

import (
	"io"
	"time"
)

// Reader adapts s to io.Reader. Each Read uses the deadline returned by
// deadline at the time of the call.
func Reader(s Stream, deadline func() time.Time) io.Reader {
	return &streamReader{s: s, deadline: deadline}
}

// Writer adapts s to io.Writer with the same deadline rule as Reader.
func Writer(s Stream, deadline func() time.Time) io.Writer {
	return &streamWriter{s: s, deadline: deadline}
}

// After returns a deadline function yielding now+d on every call, or no
// deadline when d is not positive.
func After(d time.Duration) func() time.Time {
	return func() time.Time {
		if d <= 0 {
			return time.Time{}
		}
		return time.Now().Add(d)
	}
}

type streamReader struct {
	s        Stream
	deadline func() time.Time
}

func (r *streamReader) Read(p []byte) (int, error) {
	return r.s.Read(p, r.deadline())
}

type streamWriter struct {
	s        Stream
	deadline func() time.Time
}

func (w *streamWriter) Write(p []byte) (int, error) {
	if err := w.s.Write(p, w.deadline()); err != nil {
		return 0, err
	}
	return len(p), nil
}
