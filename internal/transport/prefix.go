package transport

import "time"

// WithPrefix returns a stream that serves prefix before reading from s. The
// connection loop uses it to hand bytes the parser already consumed over to
// an upgrade callback.
func WithPrefix(s Stream, prefix []byte) Stream {
	if len(prefix) == 0 {
		return s
	}
	return &prefixed{Stream: s, prefix: append([]byte(nil), prefix...)}
}

type prefixed struct {
	Stream
	prefix []byte
}

func (p *prefixed) Read(b []byte, deadline time.Time) (int, error) {
	if len(p.prefix) == 0 {
		return p.Stream.Read(b, deadline)
	}
	n := copy(b, p.prefix)
	p.prefix = p.prefix[n:]
	return n, nil
}

func (p *prefixed) RemoteAddr() string { return RemoteAddr(p.Stream) }
