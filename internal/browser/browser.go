// Package browser launches disguised, proxied browser instances and exposes
// the small surface the automation engine drives: navigation, element
// lookup, input, cookies, response observation and screenshots.
//
// The interfaces here are implemented by the rod-backed instances in this
// package and by the scripted fakes in browsertest.
package browser

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a query matched nothing before its deadline.
	ErrNotFound = errors.New("element not found")
	// ErrRedirectLoop marks a navigation aborted by too many redirects.
	ErrRedirectLoop = errors.New("redirect loop")
	// ErrProxy marks a navigation the proxy refused or could not tunnel.
	ErrProxy = errors.New("proxy transport failure")
	// ErrNavigationTimeout marks a navigation whose wait condition never fired.
	ErrNavigationTimeout = errors.New("navigation wait timed out")
)

// WaitUntil selects the load milestone a navigation waits for.
type WaitUntil int

const (
	WaitDOMContentLoaded WaitUntil = iota
	WaitNetworkIdle
)

func (w WaitUntil) String() string {
	if w == WaitNetworkIdle {
		return "network-idle"
	}
	return "dom-content-loaded"
}

// NavigateOptions bound one navigation.
type NavigateOptions struct {
	Until    WaitUntil
	Timeout  time.Duration
	Referrer string
}

// Query locates one element: a CSS selector, optionally narrowed to elements
// whose text matches Text. Text uses the /pattern/flags form understood by
// both the page-side matcher and MatchText.
type Query struct {
	Selector string
	Text     string
}

func (q Query) String() string {
	if q.Text == "" {
		return q.Selector
	}
	return fmt.Sprintf("%s ~ %s", q.Selector, q.Text)
}

// Scope is something elements can be searched in: a page or an element.
// Find waits until a match exists or ctx is done, in which case it returns
// an error wrapping ErrNotFound.
type Scope interface {
	Find(ctx context.Context, q Query) (Element, error)
}

// Element is a located DOM node.
type Element interface {
	Scope
	Visible(ctx context.Context) (bool, error)
	Enabled(ctx context.Context) (bool, error)
	Text(ctx context.Context) (string, error)
	Hover(ctx context.Context) error
	Click(ctx context.Context) error
	// Fill replaces the element's value with text.
	Fill(ctx context.Context, text string) error
}

// Response is one network response seen by the page.
type Response struct {
	URL      string
	Status   int
	Document bool
}

// Page is the single tab a run drives.
type Page interface {
	Scope
	Navigate(ctx context.Context, url string, opts NavigateOptions) error
	URL(ctx context.Context) (string, error)
	Scroll(ctx context.Context, dy int) error
	Screenshot(ctx context.Context) ([]byte, error)
	// OnResponse calls fn for every response until ctx is done. fn may be
	// called from another goroutine. An error means no response will be
	// observed.
	OnResponse(ctx context.Context, fn func(Response)) error
}

// Cookie is one cookie-store entry.
type Cookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	Secure   bool
	HTTPOnly bool
	Expires  time.Time
}

// Instance is one isolated browser owned by exactly one run.
type Instance interface {
	Page() Page
	SetCookies(ctx context.Context, cookies []Cookie) error
	Cookies(ctx context.Context) ([]Cookie, error)
	// ControlURL is the DevTools endpoint, used for live debugging.
	ControlURL() string
	// Close releases the browser. It is safe to call more than once.
	Close(ctx context.Context) error
}

// Proxy is an upstream HTTP proxy.
type Proxy struct {
	Host     string
	Port     int
	Username string
	Password string
}

// Address returns host:port.
func (p Proxy) Address() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// HasCredentials reports whether the proxy needs authentication.
func (p Proxy) HasCredentials() bool {
	return p.Username != ""
}

// Validate checks the proxy endpoint is usable.
func (p Proxy) Validate() error {
	if strings.TrimSpace(p.Host) == "" {
		return errors.New("proxy host is empty")
	}
	if p.Port <= 0 || p.Port > 65535 {
		return fmt.Errorf("proxy port %d out of range", p.Port)
	}
	if p.Password != "" && p.Username == "" {
		return errors.New("proxy password set without username")
	}
	return nil
}

// LaunchOptions configure one browser instance.
type LaunchOptions struct {
	CorrelationID string
	Headless      bool
	Proxy         *Proxy
	Fingerprint   Fingerprint
}

// Launcher creates browser instances.
type Launcher interface {
	Launch(ctx context.Context, opts LaunchOptions) (Instance, error)
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(ctx context.Context, opts LaunchOptions) (Instance, error)

func (f LauncherFunc) Launch(ctx context.Context, opts LaunchOptions) (Instance, error) {
	return f(ctx, opts)
}

var jsRegex = regexp.MustCompile(`^/(.*)/([a-z]*)$`)

// CompileText turns a /pattern/flags text matcher into a Go regexp. A bare
// string is matched as a case-sensitive substring.
func CompileText(text string) (*regexp.Regexp, error) {
	m := jsRegex.FindStringSubmatch(text)
	if m == nil {
		return regexp.Compile(regexp.QuoteMeta(text))
	}
	pattern, flags := m[1], ""
	for _, f := range m[2] {
		switch f {
		case 'i', 'm', 's':
			flags += string(f)
		}
	}
	if flags != "" {
		pattern = "(?" + flags + ")" + pattern
	}
	return regexp.Compile(pattern)
}

// MatchText reports whether s satisfies the text matcher.
func MatchText(text, s string) bool {
	re, err := CompileText(text)
	if err != nil {
		return false
	}
	return re.MatchString(s)
}
