package navigate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shehryarbajwa/invite-runner/internal/artifact"
	"github.com/shehryarbajwa/invite-runner/internal/browser"
	"github.com/shehryarbajwa/invite-runner/internal/browser/browsertest"
	"github.com/shehryarbajwa/invite-runner/internal/humanize"
	"github.com/shehryarbajwa/invite-runner/internal/outcome"
	"github.com/shehryarbajwa/invite-runner/internal/platform"
)

const target = "https://www.linkedin.com/in/jane-doe/"

func newController(page *browsertest.Page) (*Controller, *humanize.Instant, *artifact.Trail) {
	profile := platform.Default()
	latch := outcome.NewLatch(profile)
	page.OnResponse(context.Background(), latch.Observe)
	pacer := &humanize.Instant{}
	trail := artifact.NewTrail(0)
	return &Controller{Profile: profile, Pacer: pacer, Latch: latch, Recorder: trail}, pacer, trail
}

// redirectTo sends every navigation to dest instead.
func redirectTo(dest string) func(*browsertest.Page, string, browser.NavigateOptions) error {
	return func(p *browsertest.Page, _ string, _ browser.NavigateOptions) error {
		p.SetURL(dest)
		p.Emit(browser.Response{URL: dest, Status: 200, Document: true})
		return nil
	}
}

func TestWarmUp(t *testing.T) {
	page := browsertest.NewPage()
	c, pacer, trail := newController(page)

	require.NoError(t, c.WarmUp(context.Background(), page))

	navs := page.Navigations()
	require.Len(t, navs, 1)
	assert.Equal(t, "https://www.linkedin.com/feed/", navs[0].URL)
	assert.Equal(t, browser.WaitDOMContentLoaded, navs[0].Opts.Until)
	assert.Equal(t, DefaultTimings.WarmUpTimeout, navs[0].Opts.Timeout)
	assert.Equal(t, []int{DefaultTimings.ScrollMin}, page.Scrolls())
	assert.Equal(t, DefaultTimings.WarmUpPauseMin, pacer.Requests[0])
	assert.NotEmpty(t, trail.Lines())
}

func TestWarmUpLoginRedirectIsSessionRejected(t *testing.T) {
	page := browsertest.NewPage()
	page.OnNavigate = redirectTo("https://www.linkedin.com/login?session_redirect=%2Ffeed%2F")
	c, _, _ := newController(page)

	err := c.WarmUp(context.Background(), page)
	assert.ErrorIs(t, err, ErrSessionRejected)
	assert.Empty(t, page.Scrolls())
}

func TestWarmUpChallengeIsBlocked(t *testing.T) {
	page := browsertest.NewPage()
	page.OnNavigate = redirectTo("https://www.linkedin.com/checkpoint/challenge/AgE")
	c, _, _ := newController(page)

	err := c.WarmUp(context.Background(), page)
	assert.ErrorIs(t, err, outcome.ErrBlocked)
	assert.NotErrorIs(t, err, ErrSessionRejected)
}

func TestWarmUpBlockStatusRaisesLatch(t *testing.T) {
	page := browsertest.NewPage()
	page.OnNavigate = func(p *browsertest.Page, u string, _ browser.NavigateOptions) error {
		p.SetURL(u)
		p.Emit(browser.Response{URL: u, Status: 999, Document: true})
		return nil
	}
	c, _, _ := newController(page)

	err := c.WarmUp(context.Background(), page)
	var be *outcome.BlockedError
	require.ErrorAs(t, err, &be)
	assert.Contains(t, be.Indicator, "999")
}

func TestOpenUsesReferrerAndNetworkIdle(t *testing.T) {
	page := browsertest.NewPage()
	c, _, _ := newController(page)

	require.NoError(t, c.Open(context.Background(), page, target))
	navs := page.Navigations()
	require.Len(t, navs, 1)
	assert.Equal(t, target, navs[0].URL)
	assert.Equal(t, browser.WaitNetworkIdle, navs[0].Opts.Until)
	assert.Equal(t, "https://www.linkedin.com/feed/", navs[0].Opts.Referrer)
}

func TestOpenFallsBackOnceOnRedirectLoop(t *testing.T) {
	page := browsertest.NewPage()
	page.OnNavigate = func(p *browsertest.Page, u string, opts browser.NavigateOptions) error {
		if opts.Until == browser.WaitNetworkIdle {
			return browser.ErrRedirectLoop
		}
		p.SetURL(u)
		return nil
	}
	c, _, trail := newController(page)

	require.NoError(t, c.Open(context.Background(), page, target))
	navs := page.Navigations()
	require.Len(t, navs, 2)
	assert.Equal(t, browser.WaitDOMContentLoaded, navs[1].Opts.Until)
	assert.Equal(t, DefaultTimings.FallbackTimeout, navs[1].Opts.Timeout)
	assert.Equal(t, navs[0].Opts.Referrer, navs[1].Opts.Referrer)
	assert.Contains(t, trail.Lines()[1], "redirect loop")
}

func TestOpenFailures(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		calls int
		check func(t *testing.T, err error)
	}{
		{"second redirect loop", browser.ErrRedirectLoop, 2, func(t *testing.T, err error) {
			var ne *Error
			require.ErrorAs(t, err, &ne)
			assert.Equal(t, "target", ne.Stage)
		}},
		{"timeout is not retried", browser.ErrNavigationTimeout, 1, func(t *testing.T, err error) {
			var ne *Error
			require.ErrorAs(t, err, &ne)
			assert.ErrorIs(t, err, browser.ErrNavigationTimeout)
		}},
		{"proxy failure stays recognisable", browser.ErrProxy, 1, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, browser.ErrProxy)
			var ne *Error
			assert.False(t, errors.As(err, &ne))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := browsertest.NewPage()
			page.OnNavigate = func(*browsertest.Page, string, browser.NavigateOptions) error { return tt.err }
			c, _, _ := newController(page)

			err := c.Open(context.Background(), page, target)
			require.Error(t, err)
			tt.check(t, err)
			assert.Len(t, page.Navigations(), tt.calls)
		})
	}
}

func TestOpenAuthwallIsBlocked(t *testing.T) {
	for _, dest := range []string{
		"https://www.linkedin.com/authwall?trk=bf",
		"https://www.linkedin.com/login",
		"https://www.linkedin.com/checkpoint/challenge/x",
	} {
		page := browsertest.NewPage()
		page.OnNavigate = redirectTo(dest)
		c, _, _ := newController(page)

		err := c.Open(context.Background(), page, target)
		assert.ErrorIs(t, err, outcome.ErrBlocked, dest)
		_, raised := c.Latch.Raised()
		assert.True(t, raised)
	}
}

func TestOpenRefusesOnceBlocked(t *testing.T) {
	page := browsertest.NewPage()
	c, _, _ := newController(page)
	c.Latch.Raise("earlier challenge")

	assert.ErrorIs(t, c.Open(context.Background(), page, target), outcome.ErrBlocked)
	assert.Empty(t, page.Navigations())
}

func TestOpenCancelled(t *testing.T) {
	page := browsertest.NewPage()
	c, _, _ := newController(page)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.Open(ctx, page, target)
	assert.ErrorIs(t, err, context.Canceled)
}
