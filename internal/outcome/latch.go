package outcome

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/shehryarbajwa/invite-runner/internal/browser"
	"github.com/shehryarbajwa/invite-runner/internal/platform"
)

// ErrBlocked matches any *BlockedError.
var ErrBlocked = errors.New("blocked by platform")

// BlockedError is returned by every stage once the latch is raised.
type BlockedError struct {
	Indicator string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("blocked by platform: %s", e.Indicator)
}

func (e *BlockedError) Is(target error) bool { return target == ErrBlocked }

// Latch records the first challenge signal of a run. Once raised it stays
// raised.
type Latch struct {
	profile *platform.Profile

	mu        sync.Mutex
	indicator string
	done      chan struct{}
	// OnRaise, if set, is called once with the indicator when the latch is
	// raised. It must not block.
	OnRaise func(indicator string)
}

// NewLatch returns a lowered latch that interprets responses with profile.
func NewLatch(profile *platform.Profile) *Latch {
	return &Latch{profile: profile, done: make(chan struct{})}
}

// Observe inspects one response: a document served from a challenge path,
// or any block status, raises the latch.
func (l *Latch) Observe(r browser.Response) {
	switch {
	case l.profile.IsBlockStatus(r.Status):
		l.Raise("HTTP " + strconv.Itoa(r.Status) + " " + r.URL)
	case r.Document && l.profile.Classify(r.URL) == platform.PathChallenge:
		l.Raise(r.URL)
	}
}

// Raise raises the latch. Only the first indicator is kept; it reports
// whether this call raised it.
func (l *Latch) Raise(indicator string) bool {
	l.mu.Lock()
	if l.indicator != "" {
		l.mu.Unlock()
		return false
	}
	l.indicator = indicator
	close(l.done)
	hook := l.OnRaise
	l.mu.Unlock()

	if hook != nil {
		hook(indicator)
	}
	return true
}

// Raised returns the indicator and whether the latch is raised.
func (l *Latch) Raised() (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.indicator, l.indicator != ""
}

// Done is closed when the latch is raised.
func (l *Latch) Done() <-chan struct{} {
	return l.done
}

// Check returns a *BlockedError once the latch is raised.
func (l *Latch) Check() error {
	if indicator, ok := l.Raised(); ok {
		return &BlockedError{Indicator: indicator}
	}
	return nil
}
