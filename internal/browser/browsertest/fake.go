// Package browsertest provides scripted in-memory browsers for tests.
//
// A Page holds a tree of Nodes. A query matches a node when the selector is
// equal and the node text satisfies the query's text matcher. Lookups never
// wait: a missing node is reported as browser.ErrNotFound at once, and pages
// change only through hooks such as Node.OnClick and Page.OnNavigate.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shehryarbajwa/invite-runner/internal/browser"
)

// Node is one scripted DOM element.
type Node struct {
	Selector string
	Text     string
	Hidden   bool
	Disabled bool
	Children []*Node

	// OnClick runs after the click is recorded.
	OnClick func(p *Page)
	// ClickErr fails every click.
	ClickErr error
	FillErr  error

	mu     sync.Mutex
	page   *Page
	clicks int
	hovers int
	value  string
}

// Clicks returns how often the node was clicked.
func (n *Node) Clicks() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.clicks
}

// Hovers returns how often the node was hovered.
func (n *Node) Hovers() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.hovers
}

// Value returns the last filled text.
func (n *Node) Value() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.value
}

func (n *Node) matches(q browser.Query) bool {
	if n.Selector != q.Selector {
		return false
	}
	return q.Text == "" || browser.MatchText(q.Text, n.Text)
}

// Navigation records one Navigate call.
type Navigation struct {
	URL  string
	Opts browser.NavigateOptions
}

// Page is a scripted browser.Page.
type Page struct {
	mu          sync.Mutex
	url         string
	nodes       []*Node
	navigations []Navigation
	observers   []func(browser.Response)
	shots       int
	scrolls     []int

	// OnNavigate replaces the default navigation, which moves to the URL and
	// emits a 200 document response.
	OnNavigate func(p *Page, rawURL string, opts browser.NavigateOptions) error
	// ScreenshotErr fails every screenshot.
	ScreenshotErr error
	// FindErr fails every lookup with a non-miss error.
	FindErr error
	// ObserveErr fails OnResponse.
	ObserveErr error
}

// NewPage returns a blank page holding nodes.
func NewPage(nodes ...*Node) *Page {
	p := &Page{url: "about:blank"}
	p.SetNodes(nodes...)
	return p
}

// SetNodes replaces the whole DOM.
func (p *Page) SetNodes(nodes ...*Node) {
	p.mu.Lock()
	p.nodes = nodes
	p.mu.Unlock()
}

// AddNodes appends to the DOM.
func (p *Page) AddNodes(nodes ...*Node) {
	p.mu.Lock()
	p.nodes = append(p.nodes, nodes...)
	p.mu.Unlock()
}

// SetURL moves the page without a navigation, as a client-side redirect would.
func (p *Page) SetURL(u string) {
	p.mu.Lock()
	p.url = u
	p.mu.Unlock()
}

// Emit delivers a response to every observer.
func (p *Page) Emit(r browser.Response) {
	p.mu.Lock()
	obs := append([]func(browser.Response){}, p.observers...)
	p.mu.Unlock()
	for _, fn := range obs {
		fn(r)
	}
}

// Navigations returns every Navigate call so far.
func (p *Page) Navigations() []Navigation {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Navigation(nil), p.navigations...)
}

// Screenshots returns how many screenshots succeeded.
func (p *Page) Screenshots() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shots
}

// Scrolls returns every scroll offset requested.
func (p *Page) Scrolls() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.scrolls...)
}

func (p *Page) Find(ctx context.Context, q browser.Query) (browser.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s", browser.ErrNotFound, q)
	}
	p.mu.Lock()
	nodes := p.nodes
	findErr := p.FindErr
	p.mu.Unlock()
	if findErr != nil {
		return nil, findErr
	}
	if n := search(nodes, q); n != nil {
		return p.element(n), nil
	}
	return nil, fmt.Errorf("%w: %s", browser.ErrNotFound, q)
}

func (p *Page) element(n *Node) *Element {
	n.mu.Lock()
	n.page = p
	n.mu.Unlock()
	return &Element{node: n}
}

func search(nodes []*Node, q browser.Query) *Node {
	for _, n := range nodes {
		if n.matches(q) {
			return n
		}
		if hit := search(n.Children, q); hit != nil {
			return hit
		}
	}
	return nil
}

func (p *Page) Navigate(ctx context.Context, rawURL string, opts browser.NavigateOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.navigations = append(p.navigations, Navigation{URL: rawURL, Opts: opts})
	hook := p.OnNavigate
	p.mu.Unlock()

	if hook != nil {
		return hook(p, rawURL, opts)
	}
	p.SetURL(rawURL)
	p.Emit(browser.Response{URL: rawURL, Status: 200, Document: true})
	return nil
}

func (p *Page) URL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

func (p *Page) Scroll(ctx context.Context, dy int) error {
	p.mu.Lock()
	p.scrolls = append(p.scrolls, dy)
	p.mu.Unlock()
	return nil
}

func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ScreenshotErr != nil {
		return nil, p.ScreenshotErr
	}
	p.shots++
	return []byte{0x89, 'P', 'N', 'G'}, nil
}

func (p *Page) OnResponse(ctx context.Context, fn func(browser.Response)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ObserveErr != nil {
		return p.ObserveErr
	}
	p.observers = append(p.observers, fn)
	return nil
}

// Element is a located Node.
type Element struct {
	node *Node
}

// Node returns the node behind the element.
func (e *Element) Node() *Node { return e.node }

func (e *Element) Find(ctx context.Context, q browser.Query) (browser.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s", browser.ErrNotFound, q)
	}
	e.node.mu.Lock()
	children, page := e.node.Children, e.node.page
	e.node.mu.Unlock()
	if n := search(children, q); n != nil {
		return page.element(n), nil
	}
	return nil, fmt.Errorf("%w: %s", browser.ErrNotFound, q)
}

func (e *Element) Visible(ctx context.Context) (bool, error) {
	return !e.node.Hidden, nil
}

func (e *Element) Enabled(ctx context.Context) (bool, error) {
	return !e.node.Disabled, nil
}

func (e *Element) Text(ctx context.Context) (string, error) {
	return e.node.Text, nil
}

func (e *Element) Hover(ctx context.Context) error {
	e.node.mu.Lock()
	e.node.hovers++
	e.node.mu.Unlock()
	return nil
}

func (e *Element) Click(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n := e.node
	if n.ClickErr != nil {
		return n.ClickErr
	}
	n.mu.Lock()
	n.clicks++
	hook, page := n.OnClick, n.page
	n.mu.Unlock()
	if hook != nil {
		hook(page)
	}
	return nil
}

func (e *Element) Fill(ctx context.Context, text string) error {
	if e.node.FillErr != nil {
		return e.node.FillErr
	}
	e.node.mu.Lock()
	e.node.value = text
	e.node.mu.Unlock()
	return nil
}

// Instance is a scripted browser.Instance around one Page.
type Instance struct {
	page *Page

	mu         sync.Mutex
	cookies    []browser.Cookie
	closed     int
	CookiesErr error
	CloseErr   error
	// DropCookies accepts cookies without storing them, like a browser
	// rejecting them for a domain mismatch.
	DropCookies bool
}

// NewInstance wraps page.
func NewInstance(page *Page) *Instance {
	return &Instance{page: page}
}

func (i *Instance) Page() browser.Page { return i.page }

func (i *Instance) ControlURL() string { return "ws://127.0.0.1:0/devtools/browser/fake" }

func (i *Instance) SetCookies(ctx context.Context, cookies []browser.Cookie) error {
	if i.CookiesErr != nil {
		return i.CookiesErr
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.DropCookies {
		i.cookies = append(i.cookies, cookies...)
	}
	return nil
}

func (i *Instance) Cookies(ctx context.Context) ([]browser.Cookie, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]browser.Cookie(nil), i.cookies...), nil
}

func (i *Instance) Close(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.closed++
	return i.CloseErr
}

// Closed returns how many times Close was called.
func (i *Instance) Closed() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.closed
}

// Launcher hands out one prepared Instance.
type Launcher struct {
	Instance *Instance
	Err      error

	mu       sync.Mutex
	launches []browser.LaunchOptions
}

func (l *Launcher) Launch(ctx context.Context, opts browser.LaunchOptions) (browser.Instance, error) {
	l.mu.Lock()
	l.launches = append(l.launches, opts)
	l.mu.Unlock()
	if l.Err != nil {
		return nil, l.Err
	}
	if l.Instance == nil {
		return nil, errors.New("browsertest: no instance prepared")
	}
	return l.Instance, nil
}

// Launches returns the options of every Launch call.
func (l *Launcher) Launches() []browser.LaunchOptions {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]browser.LaunchOptions(nil), l.launches...)
}
