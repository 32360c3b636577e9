package credential

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/terraconstructs/gatehouse/pkg/httperr"
)

type attempts struct {
	count int
	since time.Time
}

// AttemptLimiter bounds failed sign-in attempts per key (usually a client
// address) within a sliding window. Only the most recently seen keys are
// tracked.
type AttemptLimiter struct {
	mu      sync.Mutex
	seen    *lru.Cache[string, attempts]
	max     int
	window  time.Duration
	nowFunc func() time.Time
}

// NewAttemptLimiter tracks up to size keys, allowing maxFailures failures per window.
func NewAttemptLimiter(size, maxFailures int, window time.Duration) (*AttemptLimiter, error) {
	cache, err := lru.New[string, attempts](size)
	if err != nil {
		return nil, fmt.Errorf("create attempt cache: %w", err)
	}
	return &AttemptLimiter{
		seen:    cache,
		max:     maxFailures,
		window:  window,
		nowFunc: time.Now,
	}, nil
}

// Allow fails with TooManyRequests once key has exhausted its failures.
func (l *AttemptLimiter) Allow(key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	a, ok := l.seen.Get(key)
	if !ok || l.nowFunc().Sub(a.since) >= l.window {
		return nil
	}
	if a.count >= l.max {
		return httperr.TooManyRequests("sign-in attempts exhausted")
	}
	return nil
}

// Fail records a failed attempt for key.
func (l *AttemptLimiter) Fail(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc()
	a, ok := l.seen.Get(key)
	if !ok || now.Sub(a.since) >= l.window {
		a = attempts{since: now}
	}
	a.count++
	l.seen.Add(key, a)
}

// Reset forgets key, typically after a successful sign-in.
func (l *AttemptLimiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen.Remove(key)
}
