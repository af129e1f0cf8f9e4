package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

const keyPrefix = "ratelimit:"

// Store counts hits per key within a window. Implementations must make
// IncrementAndGet atomic: the window starts on the first hit and the counter
// disappears when it ends.
type Store interface {
	IncrementAndGet(ctx context.Context, key string, window time.Duration) (int64, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
}

// Decision is the outcome of one rate limit check.
type Decision struct {
	Allowed    bool
	Count      int64
	Limit      int
	Remaining  int
	RetryAfter time.Duration
	ResetAt    time.Time
}

// Limiter applies policies against a Store.
type Limiter struct {
	store Store
	now   func() time.Time
}

// NewLimiter creates a Limiter backed by store.
func NewLimiter(store Store) *Limiter {
	return &Limiter{store: store, now: time.Now}
}

// Allow records a hit for key under policy. A request is allowed while the
// window's count stays within policy.Max.
//
// When the store fails the returned Decision allows the request and the
// error is returned alongside it; callers decide whether to fail open.
func (l *Limiter) Allow(ctx context.Context, policy Policy, key string) (Decision, error) {
	now := l.now()
	fullKey := Key(policy, key)

	count, err := l.store.IncrementAndGet(ctx, fullKey, policy.Window)
	if err != nil {
		return Decision{
			Allowed:   true,
			Limit:     policy.Max,
			Remaining: policy.Max,
			ResetAt:   now.Add(policy.Window),
		}, fmt.Errorf("increment %s: %w", fullKey, err)
	}

	ttl, err := l.store.TTL(ctx, fullKey)
	if err != nil || ttl <= 0 || ttl > policy.Window {
		ttl = policy.Window
	}

	remaining := policy.Max - int(count)
	if remaining < 0 {
		remaining = 0
	}

	d := Decision{
		Allowed:   count <= int64(policy.Max),
		Count:     count,
		Limit:     policy.Max,
		Remaining: remaining,
		ResetAt:   now.Add(ttl),
	}
	if !d.Allowed {
		d.RetryAfter = retryAfter(ttl, policy.Window)
	}
	return d, nil
}

// retryAfter rounds ttl up to whole seconds, at least one and at most the
// window.
func retryAfter(ttl, window time.Duration) time.Duration {
	secs := (ttl + time.Second - 1) / time.Second
	if secs < 1 {
		secs = 1
	}
	d := secs * time.Second
	if d > window && window >= time.Second {
		d = window.Truncate(time.Second)
	}
	return d
}

// Key builds the store key for a policy and client parts.
func Key(policy Policy, parts ...string) string {
	return keyPrefix + policy.Name + ":" + strings.Join(parts, ":")
}

// HashClient returns a truncated SHA-256 of a client identifier so raw IP
// addresses are never used as store keys.
func HashClient(id string) string {
	hash := sha256.Sum256([]byte(id))
	return hex.EncodeToString(hash[:8])
}
