// Package capture is the side channel: a note rendered the way the editor
// renders it, held as a DOM that extensions query for widgets (diagrams,
// callouts, icons) they cannot reproduce from Markdown alone.
package capture

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Host renders a whole note into a Container. Widgets that finish
// asynchronously keep mutating the container after Render returns.
type Host interface {
	Render(ctx context.Context, notePath string) (*Container, error)
}

// Measurer reports the laid-out size of a node when a layout engine is
// available.
type Measurer interface {
	BoundingBox(n *html.Node) (width, height float64, ok bool)
}

// Container is a DOM subtree guarded by a mutex. Every Mutate wakes the
// goroutines blocked in Wait.
type Container struct {
	mu       sync.Mutex
	root     *html.Node
	changed  chan struct{}
	measurer Measurer
}

// NewContainer wraps root. A nil root becomes an empty <div>.
func NewContainer(root *html.Node) *Container {
	if root == nil {
		root = &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	}
	return &Container{root: root, changed: make(chan struct{})}
}

// ParseContainer parses an HTML fragment into a container rooted at a <div>.
func ParseContainer(fragment string) (*Container, error) {
	root := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), body)
	if err != nil {
		return nil, err
	}
	for _, n := range nodes {
		root.AppendChild(n)
	}
	return NewContainer(root), nil
}

// SetMeasurer installs the layout engine used for bounding boxes.
func (c *Container) SetMeasurer(m Measurer) {
	c.mu.Lock()
	c.measurer = m
	c.mu.Unlock()
}

// Measurer returns the installed layout engine, or nil.
func (c *Container) Measurer() Measurer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.measurer
}

// Mutate runs fn with exclusive access to the tree and notifies observers.
func (c *Container) Mutate(fn func(root *html.Node)) {
	c.mu.Lock()
	fn(c.root)
	close(c.changed)
	c.changed = make(chan struct{})
	c.mu.Unlock()
}

func compile(selector string) cascadia.Selector {
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return nil
	}
	return sel
}

func nth(root *html.Node, sel cascadia.Selector, index int) *html.Node {
	if sel == nil || index < 0 {
		return nil
	}
	all := sel.MatchAll(root)
	if index >= len(all) {
		return nil
	}
	return all[index]
}

// Query returns a detached copy of the index-th node (0-based, document
// order) matching selector, or nil when there is no such node or the
// selector is invalid. A nil container matches nothing.
func (c *Container) Query(selector string, index int) *html.Node {
	if c == nil {
		return nil
	}
	sel := compile(selector)
	c.mu.Lock()
	defer c.mu.Unlock()
	n := nth(c.root, sel, index)
	if n == nil {
		return nil
	}
	return Clone(n)
}

// Count returns how many nodes match selector.
func (c *Container) Count(selector string) int {
	if c == nil {
		return 0
	}
	sel := compile(selector)
	if sel == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(sel.MatchAll(c.root))
}

// Wait blocks until cond holds for the tree, the timeout passes or ctx is
// done, re-checking after every mutation. It reports whether cond held;
// running out of time is not an error. cond runs with the container
// locked and must only inspect root, never call back into c.
func (c *Container) Wait(ctx context.Context, timeout time.Duration, cond func(root *html.Node) bool) bool {
	if c == nil {
		return false
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		c.mu.Lock()
		ok := cond(c.root)
		changed := c.changed
		c.mu.Unlock()
		if ok {
			return true
		}
		select {
		case <-changed:
		case <-timer.C:
			return false
		case <-ctx.Done():
			return false
		}
	}
}

// WaitForSelector waits until any node matches selector.
func (c *Container) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) bool {
	sel := compile(selector)
	if sel == nil {
		return false
	}
	return c.Wait(ctx, timeout, func(root *html.Node) bool {
		return sel.MatchFirst(root) != nil
	})
}

// WaitForIndex waits until selector has more than index matches and
// returns a copy of the index-th one, or nil on timeout.
func (c *Container) WaitForIndex(ctx context.Context, selector string, index int, timeout time.Duration) *html.Node {
	sel := compile(selector)
	if sel == nil {
		return nil
	}
	c.Wait(ctx, timeout, func(root *html.Node) bool {
		return nth(root, sel, index) != nil
	})
	return c.Query(selector, index)
}

// WaitForChild waits until the index-th match of selector has a descendant
// matching child, then returns a copy of that node. On timeout it returns
// whatever the index-th match looks like at that moment, or nil.
func (c *Container) WaitForChild(ctx context.Context, selector string, index int, child string, timeout time.Duration) *html.Node {
	sel, childSel := compile(selector), compile(child)
	if sel == nil || childSel == nil {
		return nil
	}
	c.Wait(ctx, timeout, func(root *html.Node) bool {
		n := nth(root, sel, index)
		return n != nil && childSel.MatchFirst(n) != nil
	})
	return c.Query(selector, index)
}

// HTML serialises the container's children.
func (c *Container) HTML() string {
	if c == nil {
		return ""
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return InnerHTML(c.root)
}

// Clone deep-copies n without its parent and siblings.
func Clone(n *html.Node) *html.Node {
	cp := &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
		Attr:      append([]html.Attribute(nil), n.Attr...),
	}
	for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
		cp.AppendChild(Clone(ch))
	}
	return cp
}

// OuterHTML renders n itself.
func OuterHTML(n *html.Node) string {
	var buf bytes.Buffer
	_ = html.Render(&buf, n)
	return buf.String()
}

// InnerHTML renders n's children.
func InnerHTML(n *html.Node) string {
	var buf bytes.Buffer
	for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
		_ = html.Render(&buf, ch)
	}
	return buf.String()
}

// Remove detaches every descendant of n matching selector.
func Remove(n *html.Node, selector string) {
	sel := compile(selector)
	if sel == nil {
		return
	}
	for _, m := range sel.MatchAll(n) {
		if m != n && m.Parent != nil {
			m.Parent.RemoveChild(m)
		}
	}
}

// Find returns the first descendant of n (or n) matching selector.
func Find(n *html.Node, selector string) *html.Node {
	sel := compile(selector)
	if sel == nil || n == nil {
		return nil
	}
	return sel.MatchFirst(n)
}
