package main

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muurk/httpcore/internal/config"
	"github.com/muurk/httpcore/internal/conn"
	"github.com/muurk/httpcore/internal/metrics"
	"github.com/muurk/httpcore/internal/transport"
)

type reply struct {
	status  int
	header  http.Header
	body    string
	chunked bool
}

// exchange serves raw requests on an in-memory stream and decodes the
// responses with net/http, which is independent of our serializer.
func exchange(t *testing.T, raw ...string) []reply {
	t.Helper()
	reg := prometheus.NewRegistry()
	obs := conn.WithObserver(metrics.New(reg))
	app := newApp(config.Default(), reg)

	var chunks [][]byte
	for _, r := range raw {
		chunks = append(chunks, []byte(r))
	}
	st := transport.NewMemory(chunks...)
	require.NoError(t, conn.Serve(context.Background(), st, app, conn.Config{BufferSize: 256}, obs))

	var out []reply
	br := bufio.NewReader(strings.NewReader(string(st.Written())))
	for {
		if _, err := br.Peek(1); err == io.EOF {
			return out
		}
		resp, err := http.ReadResponse(br, nil)
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		resp.Body.Close()
		out = append(out, reply{
			status:  resp.StatusCode,
			header:  resp.Header,
			body:    string(body),
			chunked: len(resp.TransferEncoding) > 0,
		})
		if resp.StatusCode == http.StatusSwitchingProtocols {
			return out
		}
	}
}

func TestUsers(t *testing.T) {
	got := exchange(t,
		"GET /users/1 HTTP/1.1\r\nHost: x\r\n\r\n",
		"GET /users/active HTTP/1.1\r\nHost: x\r\nX-Request-ID: given\r\n\r\n",
		"DELETE /users/2 HTTP/1.1\r\nHost: x\r\n\r\n",
		"GET /users/2 HTTP/1.1\r\nHost: x\r\nX-Request-ID: missing\r\n\r\n",
		"POST /users/1 HTTP/1.1\r\nHost: x\r\nContent-Length: 0\r\n\r\n",
	)
	require.Len(t, got, 5)

	assert.Equal(t, 200, got[0].status)
	assert.Equal(t, "ada", got[0].body)
	assert.Len(t, got[0].header.Get(requestIDHeader), 36, "generated uuid")

	assert.Equal(t, "ada\nlinus", got[1].body)
	assert.Equal(t, "given", got[1].header.Get(requestIDHeader))

	assert.Equal(t, 204, got[2].status)

	assert.Equal(t, 404, got[3].status)
	assert.Equal(t, "missing", got[3].header.Get(requestIDHeader), "failures keep the request id")

	assert.Equal(t, 405, got[4].status)
	assert.Contains(t, got[4].header.Get("Allow"), "GET")
}

func TestUnknownRoute(t *testing.T) {
	got := exchange(t, "GET /nope HTTP/1.1\r\nHost: x\r\nX-Request-ID: r1\r\n\r\n")
	require.Len(t, got, 1)
	assert.Equal(t, 404, got[0].status)
	assert.Equal(t, "r1", got[0].header.Get(requestIDHeader))
}

func TestEchoStreamsBody(t *testing.T) {
	got := exchange(t,
		"POST /echo HTTP/1.1\r\nHost: x\r\nContent-Type: text/plain\r\nContent-Length: 11\r\n\r\nhello",
		" world",
		"POST /echo HTTP/1.1\r\nHost: x\r\nTransfer-Encoding: chunked\r\n\r\n3\r\nabc\r\n0\r\n\r\n",
	)
	require.Len(t, got, 2)
	assert.Equal(t, "hello world", got[0].body)
	assert.Equal(t, "text/plain", got[0].header.Get("Content-Type"))
	assert.True(t, got[0].chunked)

	assert.Equal(t, "abc", got[1].body)
	assert.Equal(t, "application/octet-stream", got[1].header.Get("Content-Type"))
}

func TestStream(t *testing.T) {
	got := exchange(t,
		"GET /stream?n=3 HTTP/1.1\r\nHost: x\r\n\r\n",
		"GET /stream?n=5000 HTTP/1.1\r\nHost: x\r\n\r\n",
	)
	require.Len(t, got, 2)
	assert.Equal(t, "event 1\nevent 2\nevent 3\n", got[0].body)
	assert.True(t, got[0].chunked)
	assert.Equal(t, 400, got[1].status)
}

func TestMetricsEndpoint(t *testing.T) {
	got := exchange(t,
		"GET /users/1 HTTP/1.1\r\nHost: x\r\n\r\n",
		"GET /metrics HTTP/1.1\r\nHost: x\r\n\r\n",
	)
	require.Len(t, got, 2)
	assert.Equal(t, 200, got[1].status)
	assert.Contains(t, got[1].body, `httpcore_requests_total{code="200",method="GET"} 1`)
	assert.Contains(t, got[1].body, "httpcore_connections_active 1")
}

func TestMetricsDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.Metrics.Enabled = false
	for _, r := range newApp(cfg, prometheus.NewRegistry()).Routes() {
		assert.NotEqual(t, "/metrics", r.Pattern)
	}
}

func TestWebSocketUpgrade(t *testing.T) {
	got := exchange(t, "GET /ws HTTP/1.1\r\nHost: x\r\n"+
		"Upgrade: websocket\r\nConnection: Upgrade\r\n"+
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\nSec-WebSocket-Version: 13\r\n\r\n")
	require.Len(t, got, 1)
	assert.Equal(t, 101, got[0].status)
	assert.Equal(t, "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=", got[0].header.Get("Sec-WebSocket-Accept"))
	assert.NotEmpty(t, got[0].header.Get(requestIDHeader))

	got = exchange(t, "GET /ws HTTP/1.1\r\nHost: x\r\n\r\n")
	require.Len(t, got, 1)
	assert.Equal(t, 400, got[0].status)
}
