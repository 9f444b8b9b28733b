// Package breaker implements the per-backend circuit breaker (C1):
// closed/open/half-open fault isolation with a single in-flight probe.
//
// Grounded on the retry-classification discipline of the teacher's
// internal/engine/errors.go (RetryClass, EngineError) — that package
// decided whether to retry; this one decides whether to call at all.
package breaker

import (
	"context"
	"sync"
	"time"

	"github.com/ChamsBouzaiene/dodo/internal/model"
)

// State is one of the three circuit states.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// Config tunes the breaker's thresholds.
type Config struct {
	FailureThreshold int           // consecutive failures before tripping. Default 5.
	Cooldown         time.Duration // time open before a probe is allowed. Default 30s.
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{FailureThreshold: 5, Cooldown: 30 * time.Second}
}

// Snapshot is the observable state of a breaker, used for metrics and tests.
type Snapshot struct {
	State               State
	ConsecutiveFailures int
	TotalFailures       int
	OpenedAt            time.Time
	NextProbeAt         time.Time
}

// Breaker is one per-backend circuit. All state mutation is serialized by
// mu; the wrapped function itself always runs outside the lock so a slow
// backend never blocks metrics reads or other goroutines' state checks.
type Breaker struct {
	cfg Config

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	totalFailures       int
	openedAt            time.Time
	nextProbeAt         time.Time
	probeInFlight       bool

	onTransition func(from, to State)
}

// New creates a closed breaker with the given config. onTransition, if
// non-nil, is invoked (outside the lock) on every state change — the
// upstream pool uses it to update the Prometheus state gauge.
func New(cfg Config, onTransition func(from, to State)) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &Breaker{cfg: cfg, state: StateClosed, onTransition: onTransition}
}

// Snapshot returns a point-in-time copy of the breaker's state.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		State:               b.state,
		ConsecutiveFailures: b.consecutiveFailures,
		TotalFailures:       b.totalFailures,
		OpenedAt:            b.openedAt,
		NextProbeAt:         b.nextProbeAt,
	}
}

// admit decides, under the lock, whether a call may proceed right now, and
// if so whether it counts as the sole half-open probe. Returns the state to
// record the outcome against.
func (b *Breaker) admit(now time.Time) (allowed bool, asProbe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true, false
	case StateOpen:
		if now.Before(b.nextProbeAt) {
			return false, false
		}
		// Transition to half-open on first attempt at/after nextProbeAt.
		b.transitionLocked(StateHalfOpen)
		b.probeInFlight = true
		return true, true
	case StateHalfOpen:
		if b.probeInFlight {
			// Concurrent probes are rejected like open (spec §4.1).
			return false, false
		}
		b.probeInFlight = true
		return true, true
	default:
		return false, false
	}
}

func (b *Breaker) transitionLocked(to State) {
	from := b.state
	b.state = to
	if from == to {
		return
	}
	if b.onTransition != nil {
		from, to := from, to
		go b.onTransition(from, to)
	}
}

func (b *Breaker) recordSuccess(asProbe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if asProbe {
		b.probeInFlight = false
	}
	b.consecutiveFailures = 0
	if b.state != StateClosed {
		b.transitionLocked(StateClosed)
	}
	b.openedAt = time.Time{}
	b.nextProbeAt = time.Time{}
}

func (b *Breaker) recordFailure(asProbe bool, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if asProbe {
		b.probeInFlight = false
	}
	b.consecutiveFailures++
	b.totalFailures++

	if b.state == StateHalfOpen {
		b.openedAt = now
		b.nextProbeAt = now.Add(b.cfg.Cooldown)
		b.transitionLocked(StateOpen)
		return
	}

	if b.consecutiveFailures >= b.cfg.FailureThreshold {
		b.openedAt = now
		b.nextProbeAt = now.Add(b.cfg.Cooldown)
		b.transitionLocked(StateOpen)
	}
}

// Execute runs fn under the breaker's fault-isolation policy. If the
// circuit is open (or a half-open probe is already in flight), fn is never
// invoked and an UpstreamUnavailable error is returned immediately.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	now := time.Now()
	allowed, asProbe := b.admit(now)
	if !allowed {
		return model.New(model.KindUpstreamUnavailable, "circuit open")
	}

	err := fn(ctx)
	if err != nil {
		b.recordFailure(asProbe, time.Now())
		return err
	}
	b.recordSuccess(asProbe)
	return nil
}
