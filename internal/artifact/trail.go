// Package artifact accumulates the forensic trail of one automation run:
// timestamped log lines plus checkpoint screenshots. A trail is owned by a
// single run and handed back to the caller once the run finishes.
package artifact

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultMaxLines caps a trail when the caller does not configure a limit.
const DefaultMaxLines = 500

const lineTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Checkpoint names the moment a screenshot was taken.
type Checkpoint string

const (
	CheckpointLanding Checkpoint = "landing"
	CheckpointTarget  Checkpoint = "target"
	CheckpointSuccess Checkpoint = "success"
	CheckpointFailure Checkpoint = "failure"
)

// Terminal reports whether the checkpoint closes the run.
func (c Checkpoint) Terminal() bool {
	return c == CheckpointSuccess || c == CheckpointFailure
}

// Screenshot is one captured checkpoint image.
type Screenshot struct {
	Checkpoint Checkpoint `json:"checkpoint"`
	TakenAt    time.Time  `json:"takenAt"`
	PNG        []byte     `json:"png"`
}

// Camera is anything that can capture the current page.
type Camera interface {
	Screenshot(ctx context.Context) ([]byte, error)
}

// Trail is an append-only record. Lines are never removed; once the cap is
// reached a single truncation marker is written and later lines are counted
// but not stored.
type Trail struct {
	mu       sync.Mutex
	maxLines int
	lines    []string
	dropped  int
	last     time.Time
	shots    []Screenshot
	taken    map[Checkpoint]bool
	closed   bool
	now      func() time.Time
}

// NewTrail creates an empty trail holding at most maxLines lines.
func NewTrail(maxLines int) *Trail {
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}
	return &Trail{
		maxLines: maxLines,
		taken:    make(map[Checkpoint]bool),
		now:      time.Now,
	}
}

// Log appends one line for the given stage.
func (t *Trail) Log(stage, msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.appendLocked(stage, msg)
}

// Logf appends one formatted line for the given stage.
func (t *Trail) Logf(stage, format string, args ...any) {
	t.Log(stage, fmt.Sprintf(format, args...))
}

func (t *Trail) appendLocked(stage, msg string) {
	ts := t.now()
	// wall clock can step backwards; keep lines ordered
	if ts.Before(t.last) {
		ts = t.last
	}
	t.last = ts

	// the last free slot is reserved for the truncation marker
	if len(t.lines) >= t.maxLines-1 {
		if len(t.lines) == t.maxLines-1 {
			t.lines = append(t.lines, fmt.Sprintf("%s [artifact] trail truncated at %d lines", ts.Format(lineTimeFormat), t.maxLines))
		}
		t.dropped++
		return
	}
	t.lines = append(t.lines, fmt.Sprintf("%s [%s] %s", ts.Format(lineTimeFormat), stage, msg))
}

// Capture takes a screenshot for the checkpoint. Each checkpoint is captured
// at most once and only one terminal checkpoint is accepted per trail. It
// returns false when the capture was skipped or failed; failures are logged.
func (t *Trail) Capture(ctx context.Context, cam Camera, cp Checkpoint) bool {
	t.mu.Lock()
	if t.closed || t.taken[cp] {
		t.mu.Unlock()
		return false
	}
	t.taken[cp] = true
	if cp.Terminal() {
		t.closed = true
	}
	t.mu.Unlock()

	if cam == nil {
		t.Logf("artifact", "screenshot %s skipped: no page", cp)
		return false
	}
	png, err := cam.Screenshot(ctx)
	if err != nil {
		t.Logf("artifact", "screenshot %s failed: %v", cp, err)
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.shots = append(t.shots, Screenshot{Checkpoint: cp, TakenAt: t.now(), PNG: png})
	t.appendLocked("artifact", fmt.Sprintf("screenshot %s captured (%d bytes)", cp, len(png)))
	return true
}

// Lines returns a copy of the recorded lines.
func (t *Trail) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.lines))
	copy(out, t.lines)
	return out
}

// Screenshots returns the captured screenshots in capture order.
func (t *Trail) Screenshots() []Screenshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Screenshot, len(t.shots))
	copy(out, t.shots)
	return out
}

// Dropped is the number of lines discarded after the cap was reached.
func (t *Trail) Dropped() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dropped
}
