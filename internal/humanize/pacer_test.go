package humanize

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRandomStaysInRange(t *testing.T) {
	r := NewRandom()
	for i := 0; i < 1000; i++ {
		d := r.Duration(300*time.Millisecond, 700*time.Millisecond)
		assert.GreaterOrEqual(t, d, 300*time.Millisecond)
		assert.LessOrEqual(t, d, 700*time.Millisecond)

		px := r.Pixels(200, 800)
		assert.GreaterOrEqual(t, px, 200)
		assert.LessOrEqual(t, px, 800)
	}
	assert.Equal(t, time.Second, r.Duration(time.Second, time.Second))
}

func TestSleepReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := Sleep(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestInstantRecordsRequests(t *testing.T) {
	p := &Instant{}
	ctx := context.Background()
	assert.NoError(t, p.Between(ctx, 400*time.Millisecond, 700*time.Millisecond))
	assert.NoError(t, p.Fixed(ctx, 2*time.Second))
	assert.Equal(t, []time.Duration{400 * time.Millisecond, 2 * time.Second}, p.Requests)
}
