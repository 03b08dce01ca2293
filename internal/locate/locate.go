// Package locate finds UI controls whose markup is not stable. A control is
// described by an ordered list of independent strategies; a cascade tries
// them in order and stops at the first visible match.
package locate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shehryarbajwa/invite-runner/internal/browser"
)

// Kind tags how a strategy identifies its control.
type Kind string

const (
	// KindLabel matches on accessible labels (aria-label and friends).
	KindLabel Kind = "label"
	// KindAttribute matches on structured data attributes.
	KindAttribute Kind = "attribute"
	// KindText matches on visible text.
	KindText Kind = "text"
	// KindClass matches on structural class names.
	KindClass Kind = "class"
)

// DefaultTimeout bounds a strategy that does not set its own.
const DefaultTimeout = 2 * time.Second

// ErrNoMatch is returned when every strategy of a control missed.
var ErrNoMatch = errors.New("no strategy matched")

// Strategy is one way of finding a control.
type Strategy struct {
	Kind     Kind          `yaml:"kind"`
	Selector string        `yaml:"selector"`
	Text     string        `yaml:"text,omitempty"`
	Timeout  time.Duration `yaml:"timeout,omitempty"`
}

// Query converts the strategy to a browser query.
func (s Strategy) Query() browser.Query {
	return browser.Query{Selector: s.Selector, Text: s.Text}
}

func (s Strategy) String() string {
	return fmt.Sprintf("%s(%s)", s.Kind, s.Query())
}

func (s Strategy) timeout() time.Duration {
	if s.Timeout <= 0 {
		return DefaultTimeout
	}
	return s.Timeout
}

// Control is a named, ordered strategy list.
type Control struct {
	Name       string     `yaml:"name"`
	Strategies []Strategy `yaml:"strategies"`
	// RequireEnabled skips matches that are visible but disabled.
	RequireEnabled bool `yaml:"require_enabled,omitempty"`
}

// Hit is the result of a successful cascade.
type Hit struct {
	Element  browser.Element
	Strategy Strategy
	Index    int
}

// Recorder receives one line per attempt.
type Recorder interface {
	Logf(stage, format string, args ...any)
}

// AttemptObserver is told about every attempt, for metrics.
type AttemptObserver func(control, kind, result string)

// Attempt results.
const (
	ResultHit      = "hit"
	ResultMiss     = "miss"
	ResultHidden   = "hidden"
	ResultDisabled = "disabled"
	ResultError    = "error"
)

// Finder runs cascades and reports every attempt.
type Finder struct {
	Recorder Recorder
	Observe  AttemptObserver
}

// First tries c's strategies in order within scope and returns the first
// visible match. It returns an error wrapping ErrNoMatch when all miss, or
// ctx's error when the caller's context ended mid-cascade.
func (f *Finder) First(ctx context.Context, scope browser.Scope, c Control) (Hit, error) {
	for i, s := range c.Strategies {
		el, result, err := f.try(ctx, scope, s, c.RequireEnabled)
		if ctx.Err() != nil {
			return Hit{}, ctx.Err()
		}
		f.report(c, i, s, result, err)
		if result == ResultHit {
			return Hit{Element: el, Strategy: s, Index: i}, nil
		}
	}
	return Hit{}, fmt.Errorf("%s: %w after %d strategies", c.Name, ErrNoMatch, len(c.Strategies))
}

func (f *Finder) try(ctx context.Context, scope browser.Scope, s Strategy, requireEnabled bool) (browser.Element, string, error) {
	sctx, cancel := context.WithTimeout(ctx, s.timeout())
	defer cancel()

	el, err := scope.Find(sctx, s.Query())
	switch {
	case errors.Is(err, browser.ErrNotFound):
		return nil, ResultMiss, nil
	case err != nil:
		return nil, ResultError, err
	}

	visible, err := el.Visible(sctx)
	if err != nil {
		return nil, ResultError, err
	}
	if !visible {
		return nil, ResultHidden, nil
	}
	if requireEnabled {
		enabled, err := el.Enabled(sctx)
		if err != nil {
			return nil, ResultError, err
		}
		if !enabled {
			return nil, ResultDisabled, nil
		}
	}
	return el, ResultHit, nil
}

func (f *Finder) report(c Control, i int, s Strategy, result string, err error) {
	if f.Recorder != nil {
		if err != nil {
			f.Recorder.Logf("locate", "%s #%d %s: %s (%v)", c.Name, i+1, s, result, err)
		} else {
			f.Recorder.Logf("locate", "%s #%d %s: %s", c.Name, i+1, s, result)
		}
	}
	if f.Observe != nil {
		f.Observe(c.Name, string(s.Kind), result)
	}
}
