package main

import (
	"fmt"
	"io"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/muurk/httpcore/internal/config"
	"github.com/muurk/httpcore/internal/logging"
	"github.com/muurk/httpcore/internal/message"
	"github.com/muurk/httpcore/internal/metrics"
	"github.com/muurk/httpcore/internal/router"
	"github.com/muurk/httpcore/internal/websocket"
)

const requestIDHeader = "X-Request-ID"

// users is the demo application's in-memory store.
type users struct {
	mu     sync.RWMutex
	byID   map[string]string
	active map[string]bool
}

func newUsers() *users {
	return &users{
		byID:   map[string]string{"1": "ada", "2": "grace", "3": "linus"},
		active: map[string]bool{"1": true, "3": true},
	}
}

func (u *users) get(req *message.Request) (*message.Response, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	name, ok := u.byID[req.Param("id")]
	if !ok {
		return nil, message.Errorf(404, "no user %s", req.Param("id"))
	}
	return message.Text(200, name), nil
}

func (u *users) delete(req *message.Request) (*message.Response, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	id := req.Param("id")
	if _, ok := u.byID[id]; !ok {
		return nil, message.Errorf(404, "no user %s", id)
	}
	delete(u.byID, id)
	delete(u.active, id)
	return message.NewResponse(204), nil
}

func (u *users) listActive(*message.Request) (*message.Response, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	var names []string
	for id := range u.active {
		names = append(names, u.byID[id])
	}
	sort.Strings(names)
	return message.Text(200, strings.Join(names, "\n")), nil
}

// echo streams the request body back as it arrives.
func echo(req *message.Request) (*message.Response, error) {
	resp := message.NewResponse(200)
	contentType := req.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	resp.Header.Set("Content-Type", contentType)
	resp.Body = message.WriterBody(req.Body.Writer(time.Now().Add(30 * time.Second)))
	return resp, nil
}

// stream writes n lines as separate chunks.
func stream(req *message.Request) (*message.Response, error) {
	q, err := url.ParseQuery(req.Query)
	if err != nil {
		return nil, message.Errorf(400, "bad query: %v", err)
	}
	n := 5
	if v := q.Get("n"); v != "" {
		if n, err = strconv.Atoi(v); err != nil || n < 0 || n > 1000 {
			return nil, message.Errorf(400, "n must be between 0 and 1000")
		}
	}
	return message.Stream(200, "text/plain; charset=utf-8", func(w io.Writer) error {
		for i := 1; i <= n; i++ {
			if _, err := fmt.Fprintf(w, "event %d\n", i); err != nil {
				return err
			}
		}
		return nil
	}), nil
}

func ws(req *message.Request) (*message.Response, error) {
	return websocket.Upgrade(req, websocket.Echo)
}

// ensureRequestID tags every request; tagResponse copies the id back.
func ensureRequestID(req *message.Request) error {
	if !req.Header.Has(requestIDHeader) {
		req.Header.Set(requestIDHeader, uuid.NewString())
	}
	return nil
}

func tagResponse(req *message.Request, resp *message.Response) (*message.Response, error) {
	resp.Header.Set(requestIDHeader, req.Header.Get(requestIDHeader))
	return resp, nil
}

func logFailure(req *message.Request, err error) (*message.Response, error) {
	logging.Debug("Request failed",
		zap.String("request_id", req.Header.Get(requestIDHeader)),
		zap.String("method", string(req.Method)),
		zap.String("path", req.Path),
		zap.Error(err),
	)
	resp := message.ResponseFor(err)
	resp.Header.Set(requestIDHeader, req.Header.Get(requestIDHeader))
	return resp, nil
}

// newApp builds the demo application. reg receives the server metrics when
// metrics are enabled; nil leaves /metrics out.
func newApp(cfg *config.Config, reg *prometheus.Registry) *router.Router {
	root := router.New().
		Before(ensureRequestID).
		After(tagResponse).
		Recover(logFailure)

	u := newUsers()
	root.Path("users/active").Get(u.listActive)
	root.Route("/users/:id").Get(u.get).Delete(u.delete)

	root.Path("echo").Post(echo)
	root.Path("stream").Get(stream)
	root.Path("ws").Get(ws)

	if reg != nil && cfg.Metrics.Enabled {
		root.Path(cfg.Metrics.Path).Handle(message.GET, metrics.Handler(reg))
	}
	return root.Build()
}
