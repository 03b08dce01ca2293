// Package navigate moves a run's page from the landing surface to the target
// while watching for login walls and challenges.
package navigate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/shehryarbajwa/invite-runner/internal/browser"
	"github.com/shehryarbajwa/invite-runner/internal/humanize"
	"github.com/shehryarbajwa/invite-runner/internal/locate"
	"github.com/shehryarbajwa/invite-runner/internal/outcome"
	"github.com/shehryarbajwa/invite-runner/internal/platform"
)

// ErrSessionRejected means the warm-up landed on a login surface.
var ErrSessionRejected = errors.New("session rejected by platform")

// Error is a navigation that failed for a reason other than a block or a
// proxy fault.
type Error struct {
	Stage string
	URL   string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s navigation to %s failed: %v", e.Stage, e.URL, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Timings bound every navigation wait and warm-up pause.
type Timings struct {
	WarmUpTimeout   time.Duration
	WarmUpPauseMin  time.Duration
	WarmUpPauseMax  time.Duration
	ScrollMin       int
	ScrollMax       int
	TargetTimeout   time.Duration
	FallbackTimeout time.Duration
}

// DefaultTimings are the production waits.
var DefaultTimings = Timings{
	WarmUpTimeout:   20 * time.Second,
	WarmUpPauseMin:  1500 * time.Millisecond,
	WarmUpPauseMax:  3500 * time.Millisecond,
	ScrollMin:       200,
	ScrollMax:       800,
	TargetTimeout:   30 * time.Second,
	FallbackTimeout: 15 * time.Second,
}

// Controller drives the two navigations of a run.
type Controller struct {
	Profile  *platform.Profile
	Pacer    humanize.Pacer
	Latch    *outcome.Latch
	Recorder locate.Recorder
	Log      *zap.Logger
	Timings  Timings
}

func (c *Controller) timings() Timings {
	if c.Timings == (Timings{}) {
		return DefaultTimings
	}
	return c.Timings
}

func (c *Controller) logf(format string, args ...any) {
	if c.Recorder != nil {
		c.Recorder.Logf("navigate", format, args...)
	}
}

// WarmUp visits the landing surface like a person would before going
// anywhere else. A login redirect returns ErrSessionRejected; a challenge
// raises the latch and returns its *outcome.BlockedError.
func (c *Controller) WarmUp(ctx context.Context, page browser.Page) error {
	if err := c.Latch.Check(); err != nil {
		return err
	}
	landing := c.Profile.LandingURL()
	c.logf("warm-up: opening %s", landing)
	err := page.Navigate(ctx, landing, browser.NavigateOptions{
		Until:   browser.WaitDOMContentLoaded,
		Timeout: c.timings().WarmUpTimeout,
	})
	if err != nil {
		return c.failure(ctx, "warm-up", landing, err)
	}

	current, err := page.URL(ctx)
	if err != nil {
		return &Error{Stage: "warm-up", URL: landing, Err: err}
	}
	switch class := c.Profile.Classify(current); class {
	case platform.PathChallenge:
		c.Latch.Raise(current)
		c.logf("warm-up: challenge at %s", current)
		return c.Latch.Check()
	case platform.PathLogin, platform.PathAuthwall:
		c.logf("warm-up: redirected to %s page", class)
		return fmt.Errorf("%w: warm-up redirected to %s", ErrSessionRejected, class)
	}
	if err := c.Latch.Check(); err != nil {
		return err
	}

	if err := c.Pacer.Between(ctx, c.timings().WarmUpPauseMin, c.timings().WarmUpPauseMax); err != nil {
		return err
	}
	dy := c.Pacer.Pixels(c.timings().ScrollMin, c.timings().ScrollMax)
	if err := page.Scroll(ctx, dy); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logf("warm-up: scroll failed: %v", err)
	} else {
		c.logf("warm-up: scrolled %dpx", dy)
	}
	return c.Latch.Check()
}

// Open navigates to target with the landing page as referrer. A redirect
// loop on the network-idle wait is retried once with the lighter
// content-loaded wait; nothing else is retried. Landing anywhere that needs
// authentication raises the latch.
func (c *Controller) Open(ctx context.Context, page browser.Page, target string) error {
	if err := c.Latch.Check(); err != nil {
		return err
	}
	referrer := c.Profile.LandingURL()
	c.logf("target: opening %s", target)
	err := page.Navigate(ctx, target, browser.NavigateOptions{
		Until:    browser.WaitNetworkIdle,
		Timeout:  c.timings().TargetTimeout,
		Referrer: referrer,
	})
	if errors.Is(err, browser.ErrRedirectLoop) {
		c.logf("target: redirect loop, retrying with %s wait", browser.WaitDOMContentLoaded)
		if blocked := c.Latch.Check(); blocked != nil {
			return blocked
		}
		err = page.Navigate(ctx, target, browser.NavigateOptions{
			Until:    browser.WaitDOMContentLoaded,
			Timeout:  c.timings().FallbackTimeout,
			Referrer: referrer,
		})
	}
	if err != nil {
		return c.failure(ctx, "target", target, err)
	}

	current, err := page.URL(ctx)
	if err != nil {
		return &Error{Stage: "target", URL: target, Err: err}
	}
	if class := c.Profile.Classify(current); class != platform.PathNormal {
		c.Latch.Raise(current)
		c.logf("target: landed on %s page %s", class, current)
	}
	if err := c.Latch.Check(); err != nil {
		return err
	}
	c.logf("target: loaded %s", current)
	return nil
}

// failure sorts a navigation error: blocks and cancellation pass through,
// proxy faults stay recognisable, everything else becomes *Error.
func (c *Controller) failure(ctx context.Context, stage, url string, err error) error {
	if blocked := c.Latch.Check(); blocked != nil {
		return blocked
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	c.logf("%s: navigation failed: %v", stage, err)
	if errors.Is(err, browser.ErrProxy) {
		return err
	}
	if c.Log != nil {
		c.Log.Warn("navigation failed", zap.String("stage", stage), zap.Error(err))
	}
	return &Error{Stage: stage, URL: url, Err: err}
}
