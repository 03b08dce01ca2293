package artifact

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCamera struct {
	png   []byte
	err   error
	calls int
}

func (c *stubCamera) Screenshot(context.Context) ([]byte, error) {
	c.calls++
	return c.png, c.err
}

func TestTrailLinesAreOrderedAndTagged(t *testing.T) {
	tr := NewTrail(10)
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	ticks := []time.Time{base, base.Add(time.Second), base.Add(-time.Minute)}
	i := 0
	tr.now = func() time.Time {
		ts := ticks[i]
		i++
		return ts
	}

	tr.Log("session", "hydrated")
	tr.Logf("navigate", "warm-up %s", "ok")
	tr.Log("resolver", "clock went backwards")

	lines := tr.Lines()
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "[session] hydrated")
	assert.Contains(t, lines[1], "[navigate] warm-up ok")
	// backwards step is clamped to the previous timestamp
	assert.True(t, strings.HasPrefix(lines[2], base.Add(time.Second).Format(lineTimeFormat)))
}

func TestTrailCapsLinesWithSingleMarker(t *testing.T) {
	tr := NewTrail(4)
	for i := 0; i < 10; i++ {
		tr.Logf("loop", "line %d", i)
	}

	lines := tr.Lines()
	require.Len(t, lines, 4)
	assert.Contains(t, lines[3], "trail truncated at 4 lines")
	assert.Equal(t, 7, tr.Dropped())
}

func TestCaptureAcceptsOneTerminalCheckpoint(t *testing.T) {
	tr := NewTrail(0)
	cam := &stubCamera{png: []byte{0x89, 'P', 'N', 'G'}}
	ctx := context.Background()

	assert.True(t, tr.Capture(ctx, cam, CheckpointLanding))
	assert.False(t, tr.Capture(ctx, cam, CheckpointLanding), "duplicate checkpoint")
	assert.True(t, tr.Capture(ctx, cam, CheckpointTarget))
	assert.True(t, tr.Capture(ctx, cam, CheckpointSuccess))
	assert.False(t, tr.Capture(ctx, cam, CheckpointFailure), "second terminal checkpoint")

	shots := tr.Screenshots()
	require.Len(t, shots, 3)
	assert.Equal(t, CheckpointSuccess, shots[2].Checkpoint)
	assert.Equal(t, 3, cam.calls)
}

func TestCaptureFailureIsLoggedNotStored(t *testing.T) {
	tr := NewTrail(0)
	cam := &stubCamera{err: errors.New("target closed")}

	assert.False(t, tr.Capture(context.Background(), cam, CheckpointFailure))
	assert.Empty(t, tr.Screenshots())
	require.Len(t, tr.Lines(), 1)
	assert.Contains(t, tr.Lines()[0], "screenshot failure failed: target closed")
}
