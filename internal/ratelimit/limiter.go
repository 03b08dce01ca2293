// Package ratelimit throttles invitation requests per account.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter holds one token bucket per account.
type Limiter struct {
	mu       sync.Mutex
	accounts map[string]*entry
	rate     rate.Limit
	burst    int
	perHour  int
	now      func() time.Time
}

// NewLimiter allows requestsPerHour per account with bursts of up to burst.
func NewLimiter(requestsPerHour, burst int) *Limiter {
	return &Limiter{
		accounts: make(map[string]*entry),
		rate:     rate.Limit(float64(requestsPerHour) / 3600.0),
		burst:    burst,
		perHour:  requestsPerHour,
		now:      time.Now,
	}
}

// PerHour returns the configured hourly allowance.
func (l *Limiter) PerHour() int { return l.perHour }

func (l *Limiter) get(account string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.accounts[account]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.accounts[account] = e
	}
	e.lastSeen = l.now()
	return e.limiter
}

// Allow reports whether account may start a run now and spends a token if so.
func (l *Limiter) Allow(account string) bool {
	return l.get(account).AllowN(l.now(), 1)
}

// Remaining returns the whole tokens left for account.
func (l *Limiter) Remaining(account string) int {
	n := int(l.get(account).TokensAt(l.now()))
	if n < 0 {
		return 0
	}
	return n
}

// Prune forgets accounts idle for longer than idle. A forgotten account
// starts again with a full bucket, so idle must exceed the refill time.
func (l *Limiter) Prune(idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-idle)
	n := 0
	for account, e := range l.accounts {
		if e.lastSeen.Before(cutoff) {
			delete(l.accounts, account)
			n++
		}
	}
	return n
}

// Len returns how many accounts are tracked.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.accounts)
}
