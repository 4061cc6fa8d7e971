// Package router dispatches requests over a tree of path segments.
//
// A tree is built once at startup and sealed with Build; after that it is
// only read, so every connection may dispatch through it concurrently.
package router

import (
	"strings"

	"github.com/muurk/httpcore/internal/message"
)

// PreHook runs before the handler, outermost node first. An error stops
// dispatch and enters recovery.
type PreHook func(req *message.Request) error

// PostHook runs after the handler succeeded, innermost node first. It may
// return a replacement response.
type PostHook func(req *message.Request, resp *message.Response) (*message.Response, error)

// RecoverHook is offered an error raised below or at its node. Returning a
// response ends recovery; returning an error hands that error to the next
// node up.
type RecoverHook func(req *message.Request, err error) (*message.Response, error)

// tree is shared by every node of one route tree.
type tree struct {
	sealed bool
}

// Node is one path segment of a route tree.
type Node struct {
	tree   *tree
	parent *Node

	literal string
	param   string // set on parameter nodes

	children   []*Node // literal children in insertion order
	paramChild *Node

	handlers map[message.Method]message.Handler
	methods  []message.Method

	pre     PreHook
	post    PostHook
	recover RecoverHook
}

// New returns the root node of an empty tree.
func New() *Node {
	return &Node{tree: &tree{}}
}

func (n *Node) mutable() {
	if n.tree.sealed {
		panic("router: route tree modified after Build")
	}
}

// Path returns the literal descendant for p, creating missing nodes. p may
// span several segments ("api/v1").
func (n *Node) Path(p string) *Node {
	n.mutable()
	cur := n
	for _, seg := range splitPath(p) {
		cur = cur.literalChild(seg)
	}
	return cur
}

func (n *Node) literalChild(seg string) *Node {
	for _, c := range n.children {
		if c.literal == seg {
			return c
		}
	}
	c := &Node{tree: n.tree, parent: n, literal: seg}
	n.children = append(n.children, c)
	return c
}

// Param returns the parameter child binding name. A node has at most one
// parameter child; asking for a second name panics.
func (n *Node) Param(name string) *Node {
	n.mutable()
	if name == "" {
		panic("router: empty parameter name")
	}
	if n.paramChild != nil {
		if n.paramChild.param != name {
			panic("router: parameter :" + name + " conflicts with :" + n.paramChild.param + " under " + n.Pattern())
		}
		return n.paramChild
	}
	n.paramChild = &Node{tree: n.tree, parent: n, param: name}
	return n.paramChild
}

// Route walks pattern from n, treating ":name" segments as parameters, and
// returns the final node.
func (n *Node) Route(pattern string) *Node {
	n.mutable()
	cur := n
	for _, seg := range splitPath(pattern) {
		if strings.HasPrefix(seg, ":") {
			cur = cur.Param(seg[1:])
		} else {
			cur = cur.literalChild(seg)
		}
	}
	return cur
}

// Handle registers h for method on n.
func (n *Node) Handle(method message.Method, h message.Handler) *Node {
	n.mutable()
	if n.handlers == nil {
		n.handlers = make(map[message.Method]message.Handler)
	}
	if _, ok := n.handlers[method]; !ok {
		n.methods = append(n.methods, method)
	}
	n.handlers[method] = h
	return n
}

func (n *Node) Get(h message.HandlerFunc) *Node    { return n.Handle(message.GET, h) }
func (n *Node) Post(h message.HandlerFunc) *Node   { return n.Handle(message.POST, h) }
func (n *Node) Put(h message.HandlerFunc) *Node    { return n.Handle(message.PUT, h) }
func (n *Node) Patch(h message.HandlerFunc) *Node  { return n.Handle(message.PATCH, h) }
func (n *Node) Delete(h message.HandlerFunc) *Node { return n.Handle(message.DELETE, h) }

// Before sets the preprocess hook of n.
func (n *Node) Before(h PreHook) *Node {
	n.mutable()
	n.pre = h
	return n
}

// After sets the postprocess hook of n.
func (n *Node) After(h PostHook) *Node {
	n.mutable()
	n.post = h
	return n
}

// Recover sets the recover hook of n.
func (n *Node) Recover(h RecoverHook) *Node {
	n.mutable()
	n.recover = h
	return n
}

// Pattern returns the path of n from the root, with parameters as ":name".
func (n *Node) Pattern() string {
	var segs []string
	for cur := n; cur.parent != nil; cur = cur.parent {
		if cur.param != "" {
			segs = append(segs, ":"+cur.param)
		} else {
			segs = append(segs, cur.literal)
		}
	}
	var b strings.Builder
	for i := len(segs) - 1; i >= 0; i-- {
		b.WriteByte('/')
		b.WriteString(segs[i])
	}
	if b.Len() == 0 {
		return "/"
	}
	return b.String()
}

// Build seals the tree rooted at n and returns its dispatcher.
func (n *Node) Build() *Router {
	root := n
	for root.parent != nil {
		root = root.parent
	}
	root.tree.sealed = true
	return &Router{root: root}
}

func splitPath(p string) []string {
	var segs []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}
