package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

// rodInstance is an Instance backed by a rod browser connection.
type rodInstance struct {
	browser    *rod.Browser
	page       *rodPage
	controlURL string
	log        *zap.Logger

	stopEvents context.CancelFunc
	release    func()
	closeOnce  sync.Once
	closeErr   error
}

// connect attaches to a DevTools endpoint, applies the fingerprint and the
// stealth script to a fresh tab, and wires proxy authentication. release is
// called once the browser is closed and must free the underlying process
// or container.
func connect(ctx context.Context, controlURL string, opts LaunchOptions, release func(), log *zap.Logger) (*rodInstance, error) {
	b := rod.New().ControlURL(controlURL).NoDefaultDevice().Context(ctx)
	if err := b.Connect(); err != nil {
		release()
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}
	// the connection outlives the launch context; every call below scopes its own ctx
	b = b.Context(context.Background())

	eventsCtx, stopEvents := context.WithCancel(context.Background())
	inst := &rodInstance{
		browser:    b,
		controlURL: controlURL,
		log:        log,
		stopEvents: stopEvents,
		release:    release,
	}

	if opts.Proxy != nil && opts.Proxy.HasCredentials() {
		if err := handleProxyAuth(eventsCtx, b, *opts.Proxy); err != nil {
			_ = inst.Close(context.Background())
			return nil, fmt.Errorf("proxy auth: %w", err)
		}
	}

	page, err := b.Context(ctx).Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = inst.Close(context.Background())
		return nil, fmt.Errorf("create page: %w", err)
	}
	page = page.Context(context.Background())

	if err := disguise(ctx, page, opts.Fingerprint); err != nil {
		_ = inst.Close(context.Background())
		return nil, err
	}

	inst.page = &rodPage{page: page}
	return inst, nil
}

// disguise must run before the first navigation.
func disguise(ctx context.Context, page *rod.Page, fp Fingerprint) error {
	p := page.Context(ctx)
	if _, err := p.EvalOnNewDocument(StealthScript(fp)); err != nil {
		return fmt.Errorf("inject stealth script: %w", err)
	}
	if err := (proto.NetworkSetUserAgentOverride{
		UserAgent:      fp.UserAgent,
		AcceptLanguage: fp.AcceptLanguage(),
		Platform:       fp.Platform,
	}).Call(p); err != nil {
		return fmt.Errorf("override user agent: %w", err)
	}
	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             fp.Width,
		Height:            fp.Height,
		DeviceScaleFactor: 1,
		Mobile:            false,
	}).Call(p); err != nil {
		return fmt.Errorf("set viewport: %w", err)
	}
	if err := (proto.EmulationSetTimezoneOverride{TimezoneID: fp.Timezone}).Call(p); err != nil {
		return fmt.Errorf("set timezone: %w", err)
	}
	if err := (proto.EmulationSetLocaleOverride{Locale: fp.Locale}).Call(p); err != nil {
		return fmt.Errorf("set locale: %w", err)
	}
	return nil
}

// handleProxyAuth answers proxy auth challenges at the transport layer for
// the whole browser until ctx is cancelled.
func handleProxyAuth(ctx context.Context, b *rod.Browser, proxy Proxy) error {
	bb := b.Context(ctx)
	wait := bb.EachEvent(
		func(e *proto.FetchRequestPaused) {
			go func() { _ = proto.FetchContinueRequest{RequestID: e.RequestID}.Call(bb) }()
		},
		func(e *proto.FetchAuthRequired) {
			resp := &proto.FetchAuthChallengeResponse{
				Response: proto.FetchAuthChallengeResponseResponseDefault,
			}
			if e.AuthChallenge != nil && e.AuthChallenge.Source == proto.FetchAuthChallengeSourceProxy {
				resp = &proto.FetchAuthChallengeResponse{
					Response: proto.FetchAuthChallengeResponseResponseProvideCredentials,
					Username: proxy.Username,
					Password: proxy.Password,
				}
			}
			go func() {
				_ = proto.FetchContinueWithAuth{RequestID: e.RequestID, AuthChallengeResponse: resp}.Call(bb)
			}()
		},
	)
	if err := (proto.FetchEnable{HandleAuthRequests: true}).Call(bb); err != nil {
		return err
	}
	go wait()
	return nil
}

func (i *rodInstance) Page() Page { return i.page }

func (i *rodInstance) ControlURL() string { return i.controlURL }

func (i *rodInstance) SetCookies(ctx context.Context, cookies []Cookie) error {
	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		p := &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		if !c.Expires.IsZero() {
			p.Expires = proto.TimeSinceEpoch(c.Expires.Unix())
		}
		params = append(params, p)
	}
	return i.browser.Context(ctx).SetCookies(params)
}

func (i *rodInstance) Cookies(ctx context.Context) ([]Cookie, error) {
	raw, err := i.browser.Context(ctx).GetCookies()
	if err != nil {
		return nil, err
	}
	out := make([]Cookie, 0, len(raw))
	for _, c := range raw {
		out = append(out, Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		})
	}
	return out, nil
}

// Close shuts the browser down and releases its process or container. The
// caller's ctx only bounds the graceful part; release always runs.
func (i *rodInstance) Close(ctx context.Context) error {
	i.closeOnce.Do(func() {
		i.stopEvents()
		if err := i.browser.Context(ctx).Close(); err != nil {
			i.closeErr = fmt.Errorf("close browser: %w", err)
			i.log.Debug("graceful browser close failed", zap.Error(err))
		}
		i.release()
	})
	return i.closeErr
}

type rodPage struct {
	page *rod.Page
}

func (p *rodPage) Find(ctx context.Context, q Query) (Element, error) {
	el, err := findIn(ctx, p.page.Context(ctx), nil, q)
	if err != nil {
		return nil, err
	}
	return &rodElement{el: el}, nil
}

func (p *rodPage) Navigate(ctx context.Context, url string, opts NavigateOptions) error {
	pg := p.page.Context(ctx)
	if opts.Timeout > 0 {
		pg = pg.Timeout(opts.Timeout)
		defer pg.CancelTimeout()
	}

	event := proto.PageLifecycleEventNameDOMContentLoaded
	if opts.Until == WaitNetworkIdle {
		event = proto.PageLifecycleEventNameNetworkIdle
	}
	wait := pg.WaitNavigation(event)

	res, err := proto.PageNavigate{URL: url, Referrer: opts.Referrer}.Call(pg)
	if err != nil {
		return classifyNavigation(err.Error(), err)
	}
	if res.ErrorText != "" {
		return classifyNavigation(res.ErrorText, nil)
	}

	wait()
	if err := pg.GetContext().Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s after %s", ErrNavigationTimeout, opts.Until, opts.Timeout)
	}
	return nil
}

func classifyNavigation(text string, cause error) error {
	switch {
	case strings.Contains(text, "ERR_TOO_MANY_REDIRECTS"):
		return fmt.Errorf("%w: %s", ErrRedirectLoop, text)
	case strings.Contains(text, "ERR_PROXY"), strings.Contains(text, "ERR_TUNNEL_CONNECTION_FAILED"):
		return fmt.Errorf("%w: %s", ErrProxy, text)
	case errors.Is(cause, context.DeadlineExceeded):
		return fmt.Errorf("%w: %s", ErrNavigationTimeout, text)
	case cause != nil:
		return fmt.Errorf("navigate: %w", cause)
	}
	return fmt.Errorf("navigate: %s", text)
}

func (p *rodPage) URL(ctx context.Context) (string, error) {
	info, err := p.page.Context(ctx).Info()
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

func (p *rodPage) Scroll(ctx context.Context, dy int) error {
	_, err := p.page.Context(ctx).Eval(`(dy) => window.scrollBy({ top: dy, behavior: 'smooth' })`, dy)
	return err
}

func (p *rodPage) Screenshot(ctx context.Context) ([]byte, error) {
	return p.page.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
}

func (p *rodPage) OnResponse(ctx context.Context, fn func(Response)) error {
	pg := p.page.Context(ctx)
	wait := pg.EachEvent(func(e *proto.NetworkResponseReceived) {
		if e.Response == nil {
			return
		}
		fn(Response{
			URL:      e.Response.URL,
			Status:   e.Response.Status,
			Document: e.Type == proto.NetworkResourceTypeDocument,
		})
	})
	if err := (proto.NetworkEnable{}).Call(pg); err != nil {
		return fmt.Errorf("enable network events: %w", err)
	}
	go wait()
	return nil
}

type rodElement struct {
	el *rod.Element
}

func (e *rodElement) Find(ctx context.Context, q Query) (Element, error) {
	el, err := findIn(ctx, nil, e.el.Context(ctx), q)
	if err != nil {
		return nil, err
	}
	return &rodElement{el: el}, nil
}

// findIn searches either a page or an element. Running out of time is a miss,
// not a failure.
func findIn(ctx context.Context, page *rod.Page, parent *rod.Element, q Query) (*rod.Element, error) {
	var (
		el  *rod.Element
		err error
	)
	switch {
	case page != nil && q.Text != "":
		el, err = page.ElementR(q.Selector, q.Text)
	case page != nil:
		el, err = page.Element(q.Selector)
	case q.Text != "":
		el, err = parent.ElementR(q.Selector, q.Text)
	default:
		el, err = parent.Element(q.Selector)
	}
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, q)
		}
		var notFound *rod.ElementNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, q)
		}
		return nil, err
	}
	return el, nil
}

func (e *rodElement) Visible(ctx context.Context) (bool, error) {
	return e.el.Context(ctx).Visible()
}

func (e *rodElement) Enabled(ctx context.Context) (bool, error) {
	disabled, err := e.el.Context(ctx).Disabled()
	if err != nil {
		return false, err
	}
	return !disabled, nil
}

func (e *rodElement) Text(ctx context.Context) (string, error) {
	return e.el.Context(ctx).Text()
}

func (e *rodElement) Hover(ctx context.Context) error {
	el := e.el.Context(ctx)
	if err := el.ScrollIntoView(); err != nil {
		return err
	}
	return el.Hover()
}

func (e *rodElement) Click(ctx context.Context) error {
	return e.el.Context(ctx).Click(proto.InputMouseButtonLeft, 1)
}

func (e *rodElement) Fill(ctx context.Context, text string) error {
	el := e.el.Context(ctx)
	if err := el.ScrollIntoView(); err != nil {
		return err
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return err
	}
	if err := el.SelectAllText(); err != nil {
		return err
	}
	return el.Input(text)
}
