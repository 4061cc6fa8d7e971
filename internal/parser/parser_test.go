package parser

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/muurk/httpcore/internal/message"
)

func body(t *testing.T, b *message.Body) string {
	t.Helper()
	data, err := b.Bytes(time.Time{})
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	return string(data)
}

func TestRequestContentLength(t *testing.T) {
	p := NewRequestParser(Options{})
	reqs, err := p.Feed([]byte("POST /users/7?x=1 HTTP/1.1\r\nHost: example.com\r\nContent-Length: 5\r\n\r\nhello"))
	if err != nil {
		t.Fatal(err)
	}
	if len(reqs) != 1 {
		t.Fatalf("got %d requests", len(reqs))
	}
	r := reqs[0]
	if r.Method != message.POST || r.Path != "/users/7" || r.Query != "x=1" || r.Version != message.HTTP11 {
		t.Errorf("start line = %s %s %s %v", r.Method, r.Path, r.Query, r.Version)
	}
	if r.Header.Get("host") != "example.com" {
		t.Errorf("Host = %q", r.Header.Get("host"))
	}
	if got := body(t, r.Body); got != "hello" {
		t.Errorf("body = %q", got)
	}
	if p.InProgress() {
		t.Error("parser still in progress after complete message")
	}
}

func TestRequestChunkedWithTrailer(t *testing.T) {
	input := "POST /upload HTTP/1.1\r\nTransfer-Encoding: gzip, chunked\r\n\r\n" +
		"5;name=val\r\nhello\r\n6\r\n world\r\n0\r\nChecksum: abc\r\n\r\n"
	p := NewRequestParser(Options{})
	reqs, err := p.Feed([]byte(input))
	if err != nil {
		t.Fatal(err)
	}
	if got := body(t, reqs[0].Body); got != "hello world" {
		t.Errorf("body = %q", got)
	}
	if got := reqs[0].Trailer.Get("Checksum"); got != "abc" {
		t.Errorf("trailer = %q", got)
	}
	if reqs[0].Header.Has("Checksum") {
		t.Error("trailer leaked into header")
	}
}

func TestPipelinedRequests(t *testing.T) {
	input := "GET /a HTTP/1.1\r\n\r\nPOST /b HTTP/1.1\r\nContent-Length: 2\r\n\r\nokGET /c HTTP/1.1\r\n\r\n"
	reqs, err := NewRequestParser(Options{}).Feed([]byte(input))
	if err != nil {
		t.Fatal(err)
	}
	var paths []string
	for _, r := range reqs {
		paths = append(paths, r.Path)
	}
	if strings.Join(paths, ",") != "/a,/b,/c" {
		t.Errorf("paths = %v", paths)
	}
	if got := body(t, reqs[1].Body); got != "ok" {
		t.Errorf("second body = %q", got)
	}
	if got := body(t, reqs[2].Body); got != "" {
		t.Errorf("third body = %q", got)
	}
}

// Splitting the input anywhere must not change the result.
func TestChunkBoundaryInvariance(t *testing.T) {
	input := "PUT /x HTTP/1.1\r\nContent-Type: text/plain\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"3\r\nabc\r\n10\r\n0123456789abcdef\r\n0\r\nX-Sum: 9\r\n\r\n" +
		"GET /y HTTP/1.0\r\nConnection: keep-alive\r\n\r\n"

	for split := 1; split < len(input); split++ {
		p := NewRequestParser(Options{})
		first, err := p.Feed([]byte(input[:split]))
		if err != nil {
			t.Fatalf("split %d: %v", split, err)
		}
		second, err := p.Feed([]byte(input[split:]))
		if err != nil {
			t.Fatalf("split %d: %v", split, err)
		}
		reqs := append(first, second...)
		if len(reqs) != 2 {
			t.Fatalf("split %d: got %d requests", split, len(reqs))
		}
		if got := body(t, reqs[0].Body); got != "abc0123456789abcdef" {
			t.Fatalf("split %d: body = %q", split, got)
		}
		if reqs[0].Trailer.Get("x-sum") != "9" || reqs[1].Path != "/y" || reqs[1].Version != message.HTTP10 {
			t.Fatalf("split %d: trailer=%q second=%s %v", split, reqs[0].Trailer.Get("x-sum"), reqs[1].Path, reqs[1].Version)
		}
	}

	// One byte at a time.
	p := NewRequestParser(Options{})
	var reqs []*message.Request
	for i := 0; i < len(input); i++ {
		out, err := p.Feed([]byte{input[i]})
		if err != nil {
			t.Fatalf("byte %d: %v", i, err)
		}
		reqs = append(reqs, out...)
	}
	if len(reqs) != 2 {
		t.Fatalf("bytewise: got %d requests", len(reqs))
	}
}

func TestRequestErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		kind  Kind
	}{
		{"te and cl", "POST / HTTP/1.1\r\nTransfer-Encoding: chunked\r\nContent-Length: 3\r\n\r\n", KindFraming},
		{"conflicting lengths", "POST / HTTP/1.1\r\nContent-Length: 5\r\nContent-Length: 6\r\n\r\n", KindFraming},
		{"negative length", "POST / HTTP/1.1\r\nContent-Length: -1\r\n\r\n", KindFraming},
		{"unknown coding", "POST / HTTP/1.1\r\nTransfer-Encoding: gzip\r\n\r\n", KindFraming},
		{"bad header name", "GET / HTTP/1.1\r\nBad Name: x\r\n\r\n", KindHeader},
		{"obs fold", "GET / HTTP/1.1\r\nA: b\r\n c\r\n\r\n", KindHeader},
		{"bad method", "G(T / HTTP/1.1\r\n\r\n", KindStartLine},
		{"missing version", "GET /\r\n\r\n", KindStartLine},
		{"bad version", "GET / HTTP/2.0\r\n\r\n", KindStartLine},
		{"bad chunk size", "POST / HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\nzz\r\n", KindChunkSize},
		{"missing chunk crlf", "POST / HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n2\r\nabX", KindChunkFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRequestParser(Options{}).Feed([]byte(tt.input))
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("err = %v, want ParseError", err)
			}
			if pe.Kind != tt.kind {
				t.Errorf("kind = %v, want %v (%v)", pe.Kind, tt.kind, err)
			}
		})
	}
}

func TestRepeatedEqualContentLength(t *testing.T) {
	reqs, err := NewRequestParser(Options{}).Feed([]byte("POST / HTTP/1.1\r\nContent-Length: 3\r\nContent-Length: 3\r\n\r\nabc"))
	if err != nil {
		t.Fatal(err)
	}
	if got := body(t, reqs[0].Body); got != "abc" {
		t.Errorf("body = %q", got)
	}
}

func TestErrorOffset(t *testing.T) {
	_, err := NewRequestParser(Options{}).Feed([]byte("GET / HTTP/1.1\r\nA\x01: b\r\n\r\n"))
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v", err)
	}
	if pe.Offset != 17 {
		t.Errorf("offset = %d, want 17", pe.Offset)
	}
}

func TestParserStaysFailed(t *testing.T) {
	p := NewRequestParser(Options{})
	_, first := p.Feed([]byte("BAD\x00"))
	if first == nil {
		t.Fatal("expected error")
	}
	_, second := p.Feed([]byte("GET / HTTP/1.1\r\n\r\n"))
	if second != first {
		t.Errorf("second feed returned %v, want the original error", second)
	}
}

func TestHeaderTooLarge(t *testing.T) {
	p := NewRequestParser(Options{MaxHeaderBytes: 64})
	_, err := p.Feed([]byte("GET / HTTP/1.1\r\nX-Long: " + strings.Repeat("a", 100) + "\r\n\r\n"))
	var pe *ParseError
	if !errors.As(err, &pe) || pe.Kind != KindTooLarge {
		t.Fatalf("err = %v, want too-large", err)
	}
	if pe.Response().Status.Code != 431 {
		t.Errorf("status = %d", pe.Response().Status.Code)
	}
}

func TestTruncatedAndAfterEOF(t *testing.T) {
	p := NewRequestParser(Options{})
	reqs, err := p.Feed([]byte("POST / HTTP/1.1\r\nContent-Length: 10\r\n\r\nabc"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Feed(nil); err == nil {
		t.Fatal("expected truncation error")
	} else if pe := err.(*ParseError); pe.Kind != KindTruncated {
		t.Errorf("kind = %v", pe.Kind)
	}
	if _, err := reqs[0].Body.Bytes(time.Time{}); err == nil {
		t.Error("truncated body read succeeded")
	}

	p = NewRequestParser(Options{})
	if _, err := p.Feed(nil); err != nil {
		t.Fatalf("clean EOF: %v", err)
	}
	_, err = p.Feed([]byte("GET"))
	var pe *ParseError
	if !errors.As(err, &pe) || pe.Kind != KindAfterEOF {
		t.Errorf("err = %v, want after-eof", err)
	}
}

func TestLiveBodyPull(t *testing.T) {
	var p *RequestParser
	rest := [][]byte{[]byte("lo wo"), []byte("rld")}
	p = NewRequestParser(Options{Pull: func(time.Time) error {
		next := rest[0]
		rest = rest[1:]
		_, err := p.Feed(next)
		return err
	}})
	reqs, err := p.Feed([]byte("POST / HTTP/1.1\r\nContent-Length: 11\r\n\r\nhel"))
	if err != nil {
		t.Fatal(err)
	}
	if got := body(t, reqs[0].Body); got != "hello world" {
		t.Errorf("body = %q", got)
	}
	if len(rest) != 0 {
		t.Errorf("%d chunks never pulled", len(rest))
	}
}

func TestIncompleteWithoutPull(t *testing.T) {
	reqs, _ := NewRequestParser(Options{}).Feed([]byte("POST / HTTP/1.1\r\nContent-Length: 4\r\n\r\nab"))
	_, err := reqs[0].Body.Bytes(time.Time{})
	if !errors.Is(err, ErrIncomplete) {
		t.Errorf("err = %v", err)
	}
}

func TestUpgradeRemaining(t *testing.T) {
	p := NewRequestParser(Options{})
	reqs, err := p.Feed([]byte("GET /ws HTTP/1.1\r\nConnection: Upgrade\r\nUpgrade: websocket\r\n\r\n\x81\x05hello"))
	if err != nil {
		t.Fatal(err)
	}
	if len(reqs) != 1 || !p.Upgraded() {
		t.Fatalf("reqs=%d upgraded=%v", len(reqs), p.Upgraded())
	}
	if _, err := p.Feed([]byte("more")); err != nil {
		t.Fatal(err)
	}
	if got := string(p.Remaining()); got != "\x81\x05hellomore" {
		t.Errorf("remaining = %q", got)
	}
	if p.Remaining() != nil {
		t.Error("Remaining not cleared")
	}
}

func TestResponseUntilClose(t *testing.T) {
	p := NewResponseParser(Options{})
	resps, err := p.Feed([]byte("HTTP/1.0 200 OK\r\nServer: test\r\n\r\nstreamed "))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.Feed([]byte("until close")); err != nil {
		t.Fatal(err)
	}
	if !p.InProgress() {
		t.Error("expected body in progress")
	}
	if _, err := p.Finish(); err != nil {
		t.Fatal(err)
	}
	r := resps[0]
	if r.Status.Code != 200 || r.Status.Reason != "OK" || r.Version != message.HTTP10 {
		t.Errorf("status line = %v %v", r.Version, r.Status)
	}
	if got := body(t, r.Body); got != "streamed until close" {
		t.Errorf("body = %q", got)
	}
}

func TestResponseWithoutBody(t *testing.T) {
	tests := []struct {
		name   string
		method message.Method
		input  string
	}{
		{"head", message.HEAD, "HTTP/1.1 200 OK\r\nContent-Length: 42\r\n\r\n"},
		{"no content", message.GET, "HTTP/1.1 204 No Content\r\n\r\n"},
		{"not modified", message.GET, "HTTP/1.1 304 Not Modified\r\nContent-Length: 10\r\n\r\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewResponseParser(Options{})
			p.SetRequestMethod(tt.method)
			resps, err := p.Feed([]byte(tt.input + "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok"))
			if err != nil {
				t.Fatal(err)
			}
			if len(resps) != 2 {
				t.Fatalf("got %d responses", len(resps))
			}
			if got := body(t, resps[0].Body); got != "" {
				t.Errorf("first body = %q", got)
			}
		})
	}
}

func TestResponseCookiesAndEmptyReason(t *testing.T) {
	p := NewResponseParser(Options{})
	resps, err := p.Feed([]byte("HTTP/1.1 200\r\nSet-Cookie: a=1; Path=/\r\nSet-Cookie: b=2\r\nContent-Length: 0\r\n\r\n"))
	if err != nil {
		t.Fatal(err)
	}
	r := resps[0]
	if r.Status.Code != 200 || r.Status.Reason != "" {
		t.Errorf("status = %+v", r.Status)
	}
	if len(r.Cookies) != 2 || r.Cookies[0].Name != "a" || r.Cookies[0].Path != "/" || r.Cookies[1].Value != "2" {
		t.Errorf("cookies = %v", r.Cookies)
	}
}

func TestSwitchingProtocolsResponse(t *testing.T) {
	p := NewResponseParser(Options{})
	resps, err := p.Feed([]byte("HTTP/1.1 101 Switching Protocols\r\nUpgrade: websocket\r\n\r\n\x88\x00"))
	if err != nil {
		t.Fatal(err)
	}
	if resps[0].Status.Code != 101 || !p.Upgraded() {
		t.Fatalf("status=%d upgraded=%v", resps[0].Status.Code, p.Upgraded())
	}
	if got := p.Remaining(); string(got) != "\x88\x00" {
		t.Errorf("remaining = %q", got)
	}
}
