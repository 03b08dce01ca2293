package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBurstThenRefill(t *testing.T) {
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l := NewLimiter(3600, 2)
	l.now = func() time.Time { return clock }

	assert.True(t, l.Allow("acct-1"))
	assert.True(t, l.Allow("acct-1"))
	assert.False(t, l.Allow("acct-1"))
	assert.Equal(t, 0, l.Remaining("acct-1"))

	assert.True(t, l.Allow("acct-2"), "accounts do not share buckets")

	clock = clock.Add(time.Second)
	assert.True(t, l.Allow("acct-1"))
}

func TestPruneForgetsIdleAccounts(t *testing.T) {
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	l := NewLimiter(100, 10)
	l.now = func() time.Time { return clock }

	l.Allow("old")
	clock = clock.Add(2 * time.Hour)
	l.Allow("fresh")

	assert.Equal(t, 1, l.Prune(time.Hour))
	assert.Equal(t, 1, l.Len())
	assert.Equal(t, 100, l.PerHour())
}
