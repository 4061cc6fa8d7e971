package serializer

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/muurk/httpcore/internal/message"
	"github.com/muurk/httpcore/internal/parser"
	"github.com/muurk/httpcore/internal/transport"
)

func TestBufferedResponse(t *testing.T) {
	st := transport.NewMemory()
	resp := message.Text(200, "hello")
	resp.Header.Set("X-Trace", "abc")
	req := message.NewRequest(message.GET, "/")

	framing, err := New(64).WriteResponse(st, resp, req, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if framing != FramingFixed {
		t.Errorf("framing = %v", framing)
	}
	want := "HTTP/1.1 200 OK\r\nContent-Type: text/plain; charset=utf-8\r\nX-Trace: abc\r\nContent-Length: 5\r\n\r\nhello"
	if got := string(st.Written()); got != want {
		t.Errorf("wire =\n%q\nwant\n%q", got, want)
	}
	if st.Flushes() != 1 {
		t.Errorf("flushes = %d", st.Flushes())
	}
}

func TestContentLengthExceeded(t *testing.T) {
	st := transport.NewMemory()
	resp := message.Stream(200, "", func(w io.Writer) error {
		_, err := io.WriteString(w, "0123456789X")
		return err
	})
	resp.Header.Set("Content-Length", "10")

	_, err := New(0).WriteResponse(st, resp, nil, time.Time{})
	if !errors.Is(err, ErrContentLengthExceeded) {
		t.Fatalf("err = %v", err)
	}
	if strings.Contains(string(st.Written()), "X") {
		t.Errorf("excess byte reached the stream: %q", st.Written())
	}
}

func TestContentLengthExceededAcrossWrites(t *testing.T) {
	st := transport.NewMemory()
	resp := message.Stream(200, "", func(w io.Writer) error {
		for i := 0; i < 11; i++ {
			if _, err := w.Write([]byte{'a' + byte(i)}); err != nil {
				return err
			}
		}
		return nil
	})
	resp.Header.Set("Content-Length", "10")
	// A tiny buffer forces earlier bytes out to the stream.
	_, err := New(4).WriteResponse(st, resp, nil, time.Time{})
	if !errors.Is(err, ErrContentLengthExceeded) {
		t.Fatalf("err = %v", err)
	}
	if strings.Contains(string(st.Written()), "k") {
		t.Errorf("11th byte reached the stream: %q", st.Written())
	}
}

func TestContentLengthExceededIgnoredByWriter(t *testing.T) {
	st := transport.NewMemory()
	resp := message.Stream(200, "", func(w io.Writer) error {
		fmt.Fprint(w, "0123456789X")
		fmt.Fprint(w, "YZ")
		return nil
	})
	resp.Header.Set("Content-Length", "10")

	_, err := New(0).WriteResponse(st, resp, nil, time.Time{})
	if !errors.Is(err, ErrContentLengthExceeded) {
		t.Fatalf("err = %v", err)
	}
	if out := string(st.Written()); strings.ContainsAny(out, "XYZ") {
		t.Errorf("excess bytes reached the stream: %q", out)
	}
}

func TestBufferedBodyLongerThanContentLength(t *testing.T) {
	tests := []struct {
		name   string
		length string
	}{
		{"zero", "0"},
		{"short", "2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := transport.NewMemory()
			resp := message.Text(200, "abc")
			resp.Header.Set("Content-Length", tt.length)

			_, err := New(0).WriteResponse(st, resp, nil, time.Time{})
			if !errors.Is(err, ErrContentLengthExceeded) {
				t.Fatalf("err = %v", err)
			}
			if strings.Contains(string(st.Written()), "ab") {
				t.Errorf("body reached the stream: %q", st.Written())
			}
		})
	}
}

func TestContentLengthShort(t *testing.T) {
	resp := message.Stream(200, "", func(w io.Writer) error {
		_, err := io.WriteString(w, "abc")
		return err
	})
	resp.Header.Set("Content-Length", "10")
	_, err := New(0).WriteResponse(transport.NewMemory(), resp, nil, time.Time{})
	if !errors.Is(err, ErrContentLengthShort) {
		t.Fatalf("err = %v", err)
	}
}

func TestChunkedWriterBody(t *testing.T) {
	st := transport.NewMemory()
	calls := 0
	resp := message.Stream(200, "text/plain", func(w io.Writer) error {
		calls++
		io.WriteString(w, "hello")
		w.Write(nil)
		_, err := io.WriteString(w, " world!!!!!!!!!!")
		return err
	})
	resp.Trailer.Set("X-Checksum", "42")

	framing, err := New(0).WriteResponse(st, resp, message.NewRequest(message.GET, "/stream"), time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if framing != FramingChunked || calls != 1 {
		t.Fatalf("framing=%v calls=%d", framing, calls)
	}
	got := string(st.Written())
	if !strings.Contains(got, "Transfer-Encoding: chunked\r\n") {
		t.Errorf("missing TE header: %q", got)
	}
	if !strings.HasSuffix(got, "\r\n\r\n5\r\nhello\r\n10\r\n world!!!!!!!!!!\r\n0\r\nX-Checksum: 42\r\n\r\n") {
		t.Errorf("chunked body = %q", got)
	}
}

func TestCloseDelimitedForHTTP10(t *testing.T) {
	st := transport.NewMemory()
	req := message.NewRequest(message.GET, "/")
	req.Version = message.HTTP10
	resp := message.Stream(200, "", func(w io.Writer) error {
		_, err := io.WriteString(w, "raw bytes")
		return err
	})
	framing, err := New(0).WriteResponse(st, resp, req, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if framing != FramingClose {
		t.Errorf("framing = %v", framing)
	}
	if resp.Header.Get("Connection") != "close" {
		t.Errorf("Connection = %q", resp.Header.Get("Connection"))
	}
	if !strings.HasSuffix(string(st.Written()), "\r\n\r\nraw bytes") {
		t.Errorf("wire = %q", st.Written())
	}
}

func TestHeadAndNoContent(t *testing.T) {
	st := transport.NewMemory()
	resp := message.Text(200, "not sent")
	framing, err := New(0).WriteResponse(st, resp, message.NewRequest(message.HEAD, "/"), time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	got := string(st.Written())
	if framing != FramingNone || strings.Contains(got, "not sent") {
		t.Errorf("framing=%v wire=%q", framing, got)
	}
	if !strings.Contains(got, "Content-Length: 8\r\n") {
		t.Errorf("HEAD should advertise the GET length: %q", got)
	}

	st = transport.NewMemory()
	resp = message.NewResponse(204)
	resp.Header.Set("Content-Length", "3")
	if _, err := New(0).WriteResponse(st, resp, nil, time.Time{}); err != nil {
		t.Fatal(err)
	}
	if got := string(st.Written()); got != "HTTP/1.1 204 No Content\r\n\r\n" {
		t.Errorf("204 wire = %q", got)
	}
}

func TestCookiesAndSanitizing(t *testing.T) {
	st := transport.NewMemory()
	resp := message.NewResponse(200)
	resp.Header.Set("X-Injected", "a\r\nSet-Cookie: evil=1")
	resp.SetCookie(&http.Cookie{Name: "session", Value: "abc", Path: "/"})
	resp.SetCookie(&http.Cookie{Name: "theme", Value: "dark"})
	if _, err := New(0).WriteResponse(st, resp, nil, time.Time{}); err != nil {
		t.Fatal(err)
	}
	got := string(st.Written())
	if strings.Count(got, "Set-Cookie: ") != 2 {
		t.Errorf("want two Set-Cookie lines: %q", got)
	}
	if !strings.Contains(got, "Set-Cookie: session=abc; Path=/\r\nSet-Cookie: theme=dark\r\n") {
		t.Errorf("cookies = %q", got)
	}
	if !strings.Contains(got, "X-Injected: aSet-Cookie: evil=1\r\n") {
		t.Errorf("header value not sanitized: %q", got)
	}
}

func TestInvalidHeaderName(t *testing.T) {
	resp := message.NewResponse(200)
	resp.Header.Set("Bad Name", "x")
	if _, err := New(0).WriteResponse(transport.NewMemory(), resp, nil, time.Time{}); err == nil {
		t.Fatal("expected error")
	}
}

// A serialized response parsed back must carry the same status, headers
// and body.
func TestResponseRoundTrip(t *testing.T) {
	bodies := []string{"", "x", strings.Repeat("payload ", 1000)}
	for _, b := range bodies {
		st := transport.NewMemory()
		resp := message.Text(201, b)
		resp.Header.Set("Location", "/users/9")
		if _, err := New(128).WriteResponse(st, resp, nil, time.Time{}); err != nil {
			t.Fatal(err)
		}

		p := parser.NewResponseParser(parser.Options{})
		got, err := p.Feed(st.Written())
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 {
			t.Fatalf("parsed %d responses", len(got))
		}
		r := got[0]
		if r.Status.Code != 201 || r.Status.Reason != "Created" {
			t.Errorf("status = %+v", r.Status)
		}
		for _, name := range []string{"Location", "Content-Type", "Content-Length"} {
			if r.Header.Get(name) != resp.Header.Get(name) {
				t.Errorf("%s = %q, want %q", name, r.Header.Get(name), resp.Header.Get(name))
			}
		}
		data, err := r.Body.Bytes(time.Time{})
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != b {
			t.Errorf("body length %d, want %d", len(data), len(b))
		}
	}
}

func TestWriteRequest(t *testing.T) {
	tests := []struct {
		name    string
		req     func() *message.Request
		framing Framing
		want    string
	}{
		{
			name:    "get",
			req:     func() *message.Request { return message.NewRequest(message.GET, "/users/7?full=1") },
			framing: FramingNone,
			want:    "GET /users/7?full=1 HTTP/1.1\r\n\r\n",
		},
		{
			name:    "empty post",
			req:     func() *message.Request { return message.NewRequest(message.POST, "/echo") },
			framing: FramingNone,
			want:    "POST /echo HTTP/1.1\r\nContent-Length: 0\r\n\r\n",
		},
		{
			name: "buffered put",
			req: func() *message.Request {
				r := message.NewRequest(message.PUT, "/x")
				r.Body = message.StringBody("data")
				return r
			},
			framing: FramingFixed,
			want:    "PUT /x HTTP/1.1\r\nContent-Length: 4\r\n\r\ndata",
		},
		{
			name: "streamed post",
			req: func() *message.Request {
				r := message.NewRequest(message.POST, "/up")
				r.Body = message.WriterBody(func(w io.Writer) error {
					_, err := io.WriteString(w, "abc")
					return err
				})
				return r
			},
			framing: FramingChunked,
			want:    "POST /up HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n3\r\nabc\r\n0\r\n\r\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := transport.NewMemory()
			framing, err := New(0).WriteRequest(st, tt.req(), time.Time{})
			if err != nil {
				t.Fatal(err)
			}
			if framing != tt.framing {
				t.Errorf("framing = %v, want %v", framing, tt.framing)
			}
			if got := string(st.Written()); got != tt.want {
				t.Errorf("wire = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestElapsedDeadline(t *testing.T) {
	st := transport.NewMemory()
	_, err := New(0).WriteResponse(st, message.Text(200, "x"), nil, time.Now().Add(-time.Second))
	if !transport.IsTimeout(err) {
		t.Fatalf("err = %v, want timeout", err)
	}
	if len(st.Written()) != 0 {
		t.Errorf("bytes written past deadline: %q", st.Written())
	}
}
