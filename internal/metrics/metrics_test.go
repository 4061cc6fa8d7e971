package metrics

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/muurk/httpcore/internal/conn"
	"github.com/muurk/httpcore/internal/message"
	"github.com/muurk/httpcore/internal/parser"
	"github.com/muurk/httpcore/internal/transport"
)

var _ conn.Observer = (*Metrics)(nil)

func TestObserverCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.RequestServed("GET", 200, 2*time.Millisecond)
	m.RequestServed("GET", 200, time.Millisecond)
	m.RequestServed("BREW", 405, time.Millisecond)
	m.ParseError("header")

	if got := testutil.ToFloat64(m.connections); got != 2 {
		t.Errorf("connections_total = %v", got)
	}
	if got := testutil.ToFloat64(m.active); got != 1 {
		t.Errorf("connections_active = %v", got)
	}
	if got := testutil.ToFloat64(m.requests.WithLabelValues("GET", "200")); got != 2 {
		t.Errorf("requests GET 200 = %v", got)
	}
	if got := testutil.ToFloat64(m.requests.WithLabelValues("OTHER", "405")); got != 1 {
		t.Errorf("requests OTHER 405 = %v", got)
	}
	if got := testutil.ToFloat64(m.parseErrors.WithLabelValues("header")); got != 1 {
		t.Errorf("parse errors = %v", got)
	}
}

func TestHandlerServesTextFormat(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	h := Handler(reg)

	st := transport.NewMemory([]byte("GET /metrics HTTP/1.1\r\n\r\nGET /metrics HTTP/1.1\r\n\r\n"))
	if err := conn.Serve(context.Background(), st, h, conn.Config{}, conn.WithObserver(m)); err != nil {
		t.Fatal(err)
	}
	out := string(st.Written())
	if !strings.Contains(out, "Transfer-Encoding: chunked\r\n") {
		t.Errorf("metrics body not streamed: %q", out)
	}
	if !strings.Contains(out, "Content-Type: text/plain; version=0.0.4") {
		t.Errorf("content type missing: %q", out)
	}

	resps, err := parser.NewResponseParser(parser.Options{}).Feed(st.Written())
	if err != nil {
		t.Fatal(err)
	}
	if len(resps) != 2 {
		t.Fatalf("parsed %d responses", len(resps))
	}
	second, err := resps[1].Body.Bytes(time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	// The second scrape sees the first request.
	if !strings.Contains(string(second), `httpcore_requests_total{code="200",method="GET"} 1`) {
		t.Errorf("request counter missing: %s", second)
	}

	resp, err := h.Respond(message.NewRequest(message.GET, "/metrics"))
	if err != nil {
		t.Fatal(err)
	}
	body, err := resp.Body.Bytes(time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), "# TYPE httpcore_connections_active gauge") {
		t.Errorf("body = %s", body)
	}
}
