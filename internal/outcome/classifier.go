package outcome

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shehryarbajwa/invite-runner/internal/browser"
	"github.com/shehryarbajwa/invite-runner/internal/humanize"
	"github.com/shehryarbajwa/invite-runner/internal/locate"
)

const (
	DefaultSettle = 2500 * time.Millisecond
	DefaultWindow = 8 * time.Second

	maxErrorText = 200
)

var errSurfaceFound = errors.New("surface found")

// Classifier inspects the page after submission.
type Classifier struct {
	Finder       *locate.Finder
	Confirmation locate.Control
	Error        locate.Control
	Pacer        humanize.Pacer
	Recorder     locate.Recorder
	// Settle is the pause before looking; Window bounds the search.
	Settle time.Duration
	Window time.Duration
	// Strict turns "nothing seen" into a TransientError instead of an
	// unconfirmed Success.
	Strict bool
}

// Classify waits for the page to settle, then searches the confirmation and
// error surfaces concurrently. A raised latch wins over anything found. The
// error is non-nil only when ctx ended.
func (c *Classifier) Classify(ctx context.Context, page browser.Page, latch *Latch) (Outcome, error) {
	settle, window := c.Settle, c.Window
	if settle <= 0 {
		settle = DefaultSettle
	}
	if window <= 0 {
		window = DefaultWindow
	}

	if err := c.Pacer.Fixed(ctx, settle); err != nil {
		return Outcome{}, err
	}
	if indicator, ok := latch.Raised(); ok {
		return BlockedBy(indicator), nil
	}

	wctx, cancel := context.WithTimeout(ctx, window)
	defer cancel()
	go func() {
		select {
		case <-latch.Done():
			cancel()
		case <-wctx.Done():
		}
	}()

	var (
		mu        sync.Mutex
		confirmed bool
		errText   string
		errSeen   bool
	)
	g, gctx := errgroup.WithContext(wctx)
	g.Go(func() error {
		hit, err := c.Finder.First(gctx, page, c.Confirmation)
		if err != nil {
			return nil
		}
		text, _ := hit.Element.Text(gctx)
		c.logf("confirmation surface: %q", clip(text))
		mu.Lock()
		confirmed = true
		mu.Unlock()
		return errSurfaceFound
	})
	g.Go(func() error {
		hit, err := c.Finder.First(gctx, page, c.Error)
		if err != nil {
			return nil
		}
		// a surface whose text can no longer be read was found as the
		// window closed and does not count
		text, err := hit.Element.Text(gctx)
		if err != nil {
			c.logf("error surface text unreadable: %v", err)
			return nil
		}
		c.logf("error surface: %q", clip(text))
		mu.Lock()
		errSeen, errText = true, clip(text)
		mu.Unlock()
		return errSurfaceFound
	})
	_ = g.Wait()

	if indicator, ok := latch.Raised(); ok {
		return BlockedBy(indicator), nil
	}
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}

	mu.Lock()
	defer mu.Unlock()
	switch {
	case errSeen:
		return Transient(errText), nil
	case confirmed:
		return Sent(false), nil
	case c.Strict:
		c.logf("no confirmation within %s", window)
		return Outcome{Kind: TransientError, Message: "Invitation not confirmed"}, nil
	}
	c.logf("no confirmation or error within %s, assuming sent", window)
	return Sent(true), nil
}

func (c *Classifier) logf(format string, args ...any) {
	if c.Recorder != nil {
		c.Recorder.Logf("classify", format, args...)
	}
}

func clip(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) > maxErrorText {
		return string(r[:maxErrorText]) + "…"
	}
	return s
}
