package ui

import (
	"net/http"
	"strings"
	"testing"

	"github.com/muurk/httpcore/internal/message"
	"github.com/muurk/httpcore/internal/router"
)

func TestRouteTablePlain(t *testing.T) {
	SetPlain(true)
	routes := []router.Route{
		{Method: message.GET, Pattern: "/"},
		{Method: message.DELETE, Pattern: "/users/:id"},
	}
	want := "  GET     /\n  DELETE  /users/:id\n"
	if got := RouteTable(routes); got != want {
		t.Errorf("RouteTable() = %q, want %q", got, want)
	}
	if got := RouteTable(nil); got != "no routes\n" {
		t.Errorf("RouteTable(nil) = %q", got)
	}
}

func TestRouteTableStyled(t *testing.T) {
	SetPlain(false)
	defer SetPlain(true)
	out := RouteTable([]router.Route{{Method: message.GET, Pattern: "/users/:id"}})
	if !strings.Contains(out, "GET") || !strings.Contains(out, ":id") {
		t.Errorf("styled table lost content: %q", out)
	}
}

func TestResponseSummary(t *testing.T) {
	SetPlain(true)
	resp := message.Text(404, "missing")
	resp.Header.Set("X-Trace", "abc")
	resp.SetCookie(&http.Cookie{Name: "sid", Value: "1"})

	want := "HTTP/1.1 404 Not Found\n" +
		"Content-Type: text/plain; charset=utf-8\n" +
		"Set-Cookie: sid=1\n" +
		"X-Trace: abc\n"
	if got := ResponseSummary(resp); got != want {
		t.Errorf("ResponseSummary() = %q, want %q", got, want)
	}
}

func TestBannerPlain(t *testing.T) {
	SetPlain(true)
	out := Banner("127.0.0.1:8080", Detail{Key: "TLS", Value: "off"})
	for _, want := range []string{"HTTPCORE", "Listening: 127.0.0.1:8080", "TLS:       off"} {
		if !strings.Contains(out, want) {
			t.Errorf("banner missing %q:\n%s", want, out)
		}
	}
}
