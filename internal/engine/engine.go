// Package engine runs one invitation end to end: hydrate the session, launch
// a disguised browser, warm up, open the target, operate the controls and
// classify what happened. Submit always returns a result.
package engine

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/shehryarbajwa/invite-runner/internal/browser"
	"github.com/shehryarbajwa/invite-runner/internal/humanize"
	"github.com/shehryarbajwa/invite-runner/internal/navigate"
	"github.com/shehryarbajwa/invite-runner/internal/outcome"
	"github.com/shehryarbajwa/invite-runner/internal/platform"
	"github.com/shehryarbajwa/invite-runner/internal/resolver"
	"github.com/shehryarbajwa/invite-runner/internal/session"
	"github.com/shehryarbajwa/invite-runner/internal/telemetry"
)

// ErrConfiguration wraps every error New returns for bad settings.
var ErrConfiguration = errors.New("invalid engine configuration")

// Config is the read-only configuration shared by every run.
type Config struct {
	Profile    *platform.Profile
	SessionKey string
	Proxy      *browser.Proxy
	Headless   bool
	// StrictConfirmation reports an unconfirmed submission as a
	// TransientError instead of an unconfirmed Success.
	StrictConfirmation bool
	TrailMaxLines      int
	// RunTimeout bounds a whole run; zero leaves it to the caller's context.
	RunTimeout time.Duration
}

// Observer is told when a run acquires and releases its browser.
type Observer interface {
	RunStarted(id string, inst browser.Instance)
	RunFinished(id string)
}

// Engine executes runs. It is safe for concurrent use; runs share nothing
// but the configuration.
type Engine struct {
	cfg      Config
	launcher browser.Launcher
	hydrator *session.Hydrator
	log      *zap.Logger
	metrics  *telemetry.Metrics
	observer Observer

	newPacer       func() humanize.Pacer
	fingerprint    func() browser.Fingerprint
	navTimings     navigate.Timings
	resolveTimings resolver.Timings
	settle         time.Duration
	window         time.Duration
	closeTimeout   time.Duration
	now            func() time.Time
}

// Option customises an Engine.
type Option func(*Engine)

// WithLogger sets the logger; runs add their correlation id to it.
func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithMetrics records run metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithObserver reports browser acquisition and release.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// WithPacer replaces the per-run pacer factory.
func WithPacer(newPacer func() humanize.Pacer) Option {
	return func(e *Engine) { e.newPacer = newPacer }
}

// WithFingerprint replaces the random fingerprint source.
func WithFingerprint(fp func() browser.Fingerprint) Option {
	return func(e *Engine) { e.fingerprint = fp }
}

// WithTimings overrides navigation and resolver waits.
func WithTimings(nav navigate.Timings, res resolver.Timings) Option {
	return func(e *Engine) {
		e.navTimings = nav
		e.resolveTimings = res
	}
}

// WithClassifierWindow overrides the post-submit settle pause and search
// window.
func WithClassifierWindow(settle, window time.Duration) Option {
	return func(e *Engine) {
		e.settle = settle
		e.window = window
	}
}

// New validates cfg and builds an engine around launcher.
func New(cfg Config, launcher browser.Launcher, opts ...Option) (*Engine, error) {
	if launcher == nil {
		return nil, fmt.Errorf("%w: no browser launcher", ErrConfiguration)
	}
	if cfg.Profile == nil {
		cfg.Profile = platform.Default()
	}
	if err := cfg.Profile.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	if cfg.Proxy != nil {
		if err := cfg.Proxy.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
		}
	}

	e := &Engine{
		cfg:            cfg,
		launcher:       launcher,
		log:            zap.NewNop(),
		newPacer:       func() humanize.Pacer { return humanize.NewRandom() },
		fingerprint:    func() browser.Fingerprint { return browser.RandomFingerprint(nil) },
		navTimings:     navigate.DefaultTimings,
		resolveTimings: resolver.DefaultTimings,
		settle:         outcome.DefaultSettle,
		window:         outcome.DefaultWindow,
		closeTimeout:   10 * time.Second,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.hydrator = session.NewHydrator(cfg.SessionKey, cfg.Profile.CriticalTokens, e.log.Named("session"))
	return e, nil
}

// validateTarget accepts only absolute http(s) URLs on the platform.
func (e *Engine) validateTarget(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("target url: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("target url %q is not http(s)", raw)
	}
	if !e.cfg.Profile.OnPlatform(raw) {
		return fmt.Errorf("target url %q is not on %s", raw, e.cfg.Profile.Name)
	}
	return nil
}
