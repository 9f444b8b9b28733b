// Package ratelimit implements the process-wide rate limiter (C3): one
// token bucket per (clientId, endpoint) pair, backed by golang.org/x/time/rate
// the same way the pack's adaptive limiter
// (goa-ai's features/model/middleware.AdaptiveRateLimiter) wraps
// rate.Limiter rather than hand-rolling bucket math. That limiter adapts
// its budget over time in response to provider backoff signals; this one
// keeps a fixed budget per key but borrows the same NewLimiter(rate.Limit,
// burst) construction and per-key mutex discipline.
//
// Buckets live in a github.com/hashicorp/golang-lru/v2 cache rather than a
// plain map: every execution mints a fresh clientId, so an unbounded map
// would grow by at least one entry per execution for the life of the
// process. Capacity-bounded eviction is the same fix schemacache.Cache
// applies to the tool-schema cache.
package ratelimit

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// Config tunes the token bucket shared by every key.
type Config struct {
	Tokens   int           // burst/capacity, default 30.
	Window   time.Duration // refill window for the full bucket, default 60s.
	Capacity int           // max resident (clientId,endpoint) buckets, default 10000.
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{Tokens: 30, Window: 60 * time.Second, Capacity: 10000}
}

func (c Config) normalized() Config {
	if c.Tokens <= 0 {
		c.Tokens = 30
	}
	if c.Window <= 0 {
		c.Window = 60 * time.Second
	}
	if c.Capacity <= 0 {
		c.Capacity = 10000
	}
	return c
}

// Result is the outcome of one checkLimit call.
type Result struct {
	Allowed     bool
	Remaining   int
	ResetInMs   int64
	FillLevel   float64 // remaining / capacity, in [0,1].
}

// Limiter owns one independent bucket set, identified by a string key the
// caller composes (typically "clientId:endpoint"). Separate Limiter
// instances for discovery vs tool-call endpoints give each its own budget,
// per spec §4.3 ("a discovery burst cannot starve invocation").
type Limiter struct {
	cfg Config

	mu      sync.Mutex
	buckets *lru.Cache[string, *rate.Limiter]
}

// New constructs a Limiter with the given config. The bucket cache capacity
// is fixed at construction; a panic here would mean a negative or overflowing
// Capacity slipped past normalized(), which cannot happen.
func New(cfg Config) *Limiter {
	cfg = cfg.normalized()
	buckets, err := lru.New[string, *rate.Limiter](cfg.Capacity)
	if err != nil {
		panic(err)
	}
	return &Limiter{cfg: cfg, buckets: buckets}
}

func (l *Limiter) bucketFor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets.Get(key)
	if !ok {
		refillPerSec := float64(l.cfg.Tokens) / l.cfg.Window.Seconds()
		b = rate.NewLimiter(rate.Limit(refillPerSec), l.cfg.Tokens)
		l.buckets.Add(key, b)
	}
	return b
}

// CheckLimit consumes one token from key's bucket if available and reports
// the bucket's resulting state. A denial never mutates the bucket's tokens.
func (l *Limiter) CheckLimit(key string) Result {
	b := l.bucketFor(key)
	now := time.Now()

	allowed := b.AllowN(now, 1)
	remainingTokens := b.TokensAt(now)
	remaining := int(remainingTokens)
	if remaining < 0 {
		remaining = 0
	}
	if remaining > l.cfg.Tokens {
		remaining = l.cfg.Tokens
	}

	fillLevel := remainingTokens / float64(l.cfg.Tokens)
	if fillLevel < 0 {
		fillLevel = 0
	}
	if fillLevel > 1 {
		fillLevel = 1
	}

	var resetInMs int64
	if remainingTokens < float64(l.cfg.Tokens) {
		deficit := float64(l.cfg.Tokens) - remainingTokens
		secondsToFull := deficit / (float64(l.cfg.Tokens) / l.cfg.Window.Seconds())
		resetInMs = int64(secondsToFull * 1000)
	}

	return Result{
		Allowed:   allowed,
		Remaining: remaining,
		ResetInMs: resetInMs,
		FillLevel: fillLevel,
	}
}

// Reset drops a key's bucket, letting the next CheckLimit recreate it at
// full capacity. Used by tests and by execution teardown for per-execution
// keys that should not leak across runs.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buckets.Remove(key)
}
