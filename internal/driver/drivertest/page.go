// Package drivertest provides a scripted, in-memory driver.Driver.
//
// A Page is a tree of Nodes. Each Node holds its children keyed by the
// selector that finds them, so a page is described with the same selectors
// the locator map uses. Lookups search the whole subtree, the way CSS
// queries do. Clicks run Node.OnClick, which may mutate the page (mount a
// cart panel, reveal a dialog, navigate). Failures can be queued per
// operation and target to exercise retries.
package drivertest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/roach88/dropcart/internal/driver"
)

// Operation names used by Fail and Calls.
const (
	OpNavigate    = "navigate"
	OpLocate      = "locate"
	OpClick       = "click"
	OpRead        = "read"
	OpWaitVisible = "wait_visible"
	OpWaitHidden  = "wait_hidden"
	OpCapture     = "capture"
	OpReset       = "reset"
)

// Node is one element of a scripted page.
type Node struct {
	Text     string
	Hidden   bool
	Children map[string][]*Node
	OnClick  func(p *Page) error
}

// NewNode returns a visible node with text.
func NewNode(text string) *Node {
	return &Node{Text: text}
}

// With appends children under selector and returns n.
func (n *Node) With(selector string, children ...*Node) *Node {
	if n.Children == nil {
		n.Children = make(map[string][]*Node)
	}
	n.Children[selector] = append(n.Children[selector], children...)
	return n
}

// Hide marks n hidden and returns it.
func (n *Node) Hide() *Node {
	n.Hidden = true
	return n
}

// Clicked sets the click handler and returns n.
func (n *Node) Clicked(fn func(p *Page) error) *Node {
	n.OnClick = fn
	return n
}

// Call records one driver operation.
type Call struct {
	Op     string
	Target string
}

// Page implements driver.Driver over a tree of Nodes.
type Page struct {
	mu         sync.Mutex
	root       *Node
	url        string
	routes     map[string]*Node
	generation int
	failures   map[string][]error
	calls      []Call
	artifacts  int
	closed     bool
}

var _ driver.Driver = (*Page)(nil)
var _ driver.Resetter = (*Page)(nil)

// New creates a page whose document is empty until Navigate.
func New() *Page {
	return &Page{
		root:     &Node{},
		routes:   make(map[string]*Node),
		failures: make(map[string][]error),
	}
}

// Route registers the document served for url.
func (p *Page) Route(url string, root *Node) *Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.routes[url] = root
	return p
}

// Fail queues errors returned by the next calls of op on target. Targets
// are URLs for navigate, selectors for locate and waits, and the selector a
// node was found under for click and read.
func (p *Page) Fail(op, target string, errs ...error) *Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := op + " " + target
	p.failures[key] = append(p.failures[key], errs...)
	return p
}

// CloseSession makes every later operation fail with driver.ErrSessionClosed.
func (p *Page) CloseSession() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

// Mount adds nodes under selector at the document root.
func (p *Page) Mount(selector string, nodes ...*Node) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.root.With(selector, nodes...)
}

// Show unhides every node found under selector.
func (p *Page) Show(selector string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, n := range find(p.root, selector) {
		n.Hidden = false
	}
}

// URL returns the last navigated URL.
func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

// Calls returns a copy of every recorded operation.
func (p *Page) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Call, len(p.calls))
	copy(out, p.calls)
	return out
}

// Count returns how many times op was called on target.
func (p *Page) Count(op, target string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		if c.Op == op && c.Target == target {
			n++
		}
	}
	return n
}

type element struct {
	node       *Node
	selector   string
	index      int
	generation int
}

func (e *element) Handle() string {
	return fmt.Sprintf("%s#%d@%d", e.selector, e.index, e.generation)
}

// begin records the call and returns a queued failure, if any.
// Caller must hold p.mu.
func (p *Page) begin(op, target string) error {
	p.calls = append(p.calls, Call{Op: op, Target: target})
	if p.closed {
		return driver.Wrap(op, target, driver.ErrSessionClosed)
	}
	key := op + " " + target
	if queued := p.failures[key]; len(queued) > 0 {
		p.failures[key] = queued[1:]
		return driver.Wrap(op, target, queued[0])
	}
	return nil
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin(OpNavigate, url); err != nil {
		return err
	}
	p.url = url
	p.generation++
	if root, ok := p.routes[url]; ok {
		p.root = root
	} else {
		p.root = &Node{}
	}
	return nil
}

func (p *Page) Locate(ctx context.Context, selector string, scope driver.Element) ([]driver.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin(OpLocate, selector); err != nil {
		return nil, err
	}

	base := p.root
	if scope != nil {
		el, err := p.element(OpLocate, selector, scope)
		if err != nil {
			return nil, err
		}
		base = el.node
	}

	found := find(base, selector)
	out := make([]driver.Element, 0, len(found))
	for i, n := range found {
		out = append(out, &element{node: n, selector: selector, index: i, generation: p.generation})
	}
	return out, nil
}

func (p *Page) Click(ctx context.Context, el driver.Element) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	e, err := p.element(OpClick, "", el)
	if err == nil {
		err = p.begin(OpClick, e.selector)
	}
	if err == nil && e.node.Hidden {
		err = driver.Wrap(OpClick, e.selector, driver.ErrNotFound)
	}
	p.mu.Unlock()
	if err != nil {
		return err
	}
	if e.node.OnClick != nil {
		return e.node.OnClick(p)
	}
	return nil
}

func (p *Page) ReadText(ctx context.Context, el driver.Element) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	e, err := p.element(OpRead, "", el)
	if err != nil {
		return "", err
	}
	if err := p.begin(OpRead, e.selector); err != nil {
		return "", err
	}
	return e.node.Text, nil
}

// WaitVisible does not sleep: the page is static between clicks, so a
// selector that is not visible now never becomes visible on its own.
func (p *Page) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin(OpWaitVisible, selector); err != nil {
		return err
	}
	for _, n := range find(p.root, selector) {
		if !n.Hidden {
			return nil
		}
	}
	return driver.Wrap(OpWaitVisible, selector, driver.ErrTimeout)
}

func (p *Page) WaitHidden(ctx context.Context, selector string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin(OpWaitHidden, selector); err != nil {
		return err
	}
	for _, n := range find(p.root, selector) {
		if !n.Hidden {
			return driver.Wrap(OpWaitHidden, selector, driver.ErrTimeout)
		}
	}
	return nil
}

func (p *Page) CaptureArtifact(ctx context.Context, kind string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin(OpCapture, kind); err != nil {
		return "", err
	}
	p.artifacts++
	return fmt.Sprintf("artifacts/%s-%d", kind, p.artifacts), nil
}

// Reset clears the document, as closing a tab would.
func (p *Page) Reset(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin(OpReset, ""); err != nil {
		return err
	}
	p.root = &Node{}
	p.url = ""
	p.generation++
	return nil
}

// element unwraps a handle produced by this page. Caller must hold p.mu.
func (p *Page) element(op, target string, el driver.Element) (*element, error) {
	e, ok := el.(*element)
	if !ok {
		return nil, driver.Wrap(op, target, fmt.Errorf("foreign element %T", el))
	}
	if e.generation != p.generation {
		return nil, driver.Wrap(op, e.selector, driver.ErrStale)
	}
	return e, nil
}

// find returns every node under n, at any depth, whose key matches one of
// the alternatives in selector. Results are in document order.
func find(n *Node, selector string) []*Node {
	alts := splitGroup(selector)
	var out []*Node
	var walk func(*Node)
	walk = func(cur *Node) {
		keys := sortedKeys(cur.Children)
		for _, k := range keys {
			for _, child := range cur.Children[k] {
				if matches(alts, k) {
					out = append(out, child)
				}
				walk(child)
			}
		}
	}
	walk(n)
	return out
}

func matches(alts []string, key string) bool {
	for _, a := range alts {
		if a == key {
			return true
		}
	}
	return false
}

func splitGroup(selector string) []string {
	parts := strings.Split(selector, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}
