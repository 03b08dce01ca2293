// Package humanize produces human-looking pauses and scroll amounts.
package humanize

import (
	"context"
	"math/rand/v2"
	"time"
)

// Pacer sleeps for human-like intervals. Every pause honours ctx.
type Pacer interface {
	// Between pauses for a random duration in [min, max].
	Between(ctx context.Context, min, max time.Duration) error
	// Fixed pauses for exactly d.
	Fixed(ctx context.Context, d time.Duration) error
	// Pixels returns a random scroll distance in [min, max].
	Pixels(min, max int) int
}

// Random is the production pacer.
type Random struct {
	rng *rand.Rand
}

// NewRandom returns a pacer seeded from the runtime source.
func NewRandom() *Random {
	return &Random{rng: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))}
}

// Duration picks a value in [min, max].
func (r *Random) Duration(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(r.rng.Int64N(int64(max-min)+1))
}

func (r *Random) Between(ctx context.Context, min, max time.Duration) error {
	return Sleep(ctx, r.Duration(min, max))
}

func (r *Random) Fixed(ctx context.Context, d time.Duration) error {
	return Sleep(ctx, d)
}

func (r *Random) Pixels(min, max int) int {
	if max <= min {
		return min
	}
	return min + r.rng.IntN(max-min+1)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Instant never sleeps. It records requested pauses so tests can assert on
// pacing without waiting.
type Instant struct {
	Requests []time.Duration
}

func (i *Instant) Between(ctx context.Context, min, max time.Duration) error {
	i.Requests = append(i.Requests, min)
	return ctx.Err()
}

func (i *Instant) Fixed(ctx context.Context, d time.Duration) error {
	i.Requests = append(i.Requests, d)
	return ctx.Err()
}

func (i *Instant) Pixels(min, _ int) int { return min }
