package router

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/muurk/httpcore/internal/message"
)

var (
	// ErrNotFound is matched by routing errors for unknown paths.
	ErrNotFound = errors.New("router: not found")
	// ErrMethodNotAllowed is matched by routing errors for a known path
	// without a handler for the request method.
	ErrMethodNotAllowed = errors.New("router: method not allowed")
)

// RouteError is the error handed to recover hooks when dispatch fails.
type RouteError struct {
	Path  string
	Allow []string // methods served at Path, for 405
	err   error
}

func (e *RouteError) Error() string { return e.err.Error() + ": " + e.Path }

func (e *RouteError) Unwrap() error { return e.err }

// Response maps the error to 404, or 405 with an Allow header.
func (e *RouteError) Response() *message.Response {
	if errors.Is(e.err, ErrMethodNotAllowed) {
		r := message.Text(405, message.StatusText(405))
		r.Header.Set("Allow", strings.Join(e.Allow, ", "))
		return r
	}
	return message.Text(404, message.StatusText(404))
}

// Router dispatches requests through a sealed route tree. It implements
// message.Handler and never returns an error.
type Router struct {
	root *Node
}

// Route describes one registered handler.
type Route struct {
	Method  message.Method
	Pattern string
}

// Respond implements message.Handler.
func (r *Router) Respond(req *message.Request) (*message.Response, error) {
	visited, err := r.match(req)
	if err == nil {
		var resp *message.Response
		resp, err = run(visited, req)
		if err == nil {
			return resp, nil
		}
	}
	return recoverFrom(visited, req, err), nil
}

// match walks the tree, binding parameters into req.Params. It always
// returns the nodes visited so recovery can start from the deepest one.
func (r *Router) match(req *message.Request) ([]*Node, error) {
	visited := []*Node{r.root}
	cur := r.root
	for _, seg := range splitPath(req.Path) {
		next := cur.lookup(seg)
		if next == nil {
			return visited, &RouteError{Path: req.Path, err: ErrNotFound}
		}
		if next.param != "" {
			if req.Params == nil {
				req.Params = make(message.Params)
			}
			if v, err := url.PathUnescape(seg); err == nil {
				seg = v
			}
			req.Params[next.param] = seg
		}
		visited = append(visited, next)
		cur = next
	}
	if len(cur.handlers) == 0 {
		return visited, &RouteError{Path: req.Path, err: ErrNotFound}
	}
	if cur.handler(req.Method) == nil {
		return visited, &RouteError{Path: req.Path, Allow: cur.allow(), err: ErrMethodNotAllowed}
	}
	return visited, nil
}

// lookup prefers a literal child over the parameter child.
func (n *Node) lookup(seg string) *Node {
	for _, c := range n.children {
		if c.literal == seg {
			return c
		}
	}
	return n.paramChild
}

func (n *Node) handler(m message.Method) message.Handler {
	if h, ok := n.handlers[m]; ok {
		return h
	}
	if m == message.HEAD {
		return n.handlers[message.GET]
	}
	return nil
}

func (n *Node) allow() []string {
	var out []string
	for _, m := range n.methods {
		out = append(out, string(m))
	}
	if _, ok := n.handlers[message.GET]; ok {
		if _, ok := n.handlers[message.HEAD]; !ok {
			out = append(out, string(message.HEAD))
		}
	}
	sort.Strings(out)
	return out
}

func run(visited []*Node, req *message.Request) (*message.Response, error) {
	for _, n := range visited {
		if n.pre != nil {
			if err := guard(func() error { return n.pre(req) }); err != nil {
				return nil, err
			}
		}
	}

	terminal := visited[len(visited)-1]
	var resp *message.Response
	err := guard(func() error {
		var err error
		resp, err = terminal.handler(req.Method).Respond(req)
		return err
	})
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("router: handler for %s %s returned no response", req.Method, terminal.Pattern())
	}

	for i := len(visited) - 1; i >= 0; i-- {
		n := visited[i]
		if n.post == nil {
			continue
		}
		err := guard(func() error {
			out, err := n.post(req, resp)
			if out != nil {
				resp = out
			}
			return err
		})
		if err != nil {
			return nil, err
		}
	}
	return resp, nil
}

// recoverFrom offers err to recover hooks from the deepest visited node up.
// Unrecovered errors fall back to the error's own response mapping.
func recoverFrom(visited []*Node, req *message.Request, err error) *message.Response {
	for i := len(visited) - 1; i >= 0; i-- {
		n := visited[i]
		if n.recover == nil {
			continue
		}
		var resp *message.Response
		herr := guard(func() error {
			var err2 error
			resp, err2 = n.recover(req, err)
			return err2
		})
		if herr != nil {
			err = herr
			continue
		}
		if resp != nil {
			return resp
		}
	}
	return message.ResponseFor(err)
}

// guard turns a panic in application code into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("router: panic: %v", v)
		}
	}()
	return fn()
}

// Walk calls fn for every registered handler, depth first, literal children
// in registration order before the parameter child.
func (r *Router) Walk(fn func(Route)) {
	walk(r.root, fn)
}

// Routes returns every registered handler.
func (r *Router) Routes() []Route {
	var out []Route
	r.Walk(func(rt Route) { out = append(out, rt) })
	return out
}

func walk(n *Node, fn func(Route)) {
	for _, m := range n.methods {
		fn(Route{Method: m, Pattern: n.Pattern()})
	}
	for _, c := range n.children {
		walk(c, fn)
	}
	if n.paramChild != nil {
		walk(n.paramChild, fn)
	}
}
