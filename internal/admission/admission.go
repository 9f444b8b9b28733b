// Package admission implements the process-wide admission pool (C2): a
// bound on concurrent upstream tool calls with a strict-FIFO overflow
// queue and per-waiter expiry.
//
// Grounded on the same lock-guards-state/signal-outside-lock discipline as
// internal/breaker.Breaker — here the "state" is an active counter plus an
// ordered waiter list instead of a three-state machine. Each waiter is
// released through a dedicated one-shot channel rather than a shared
// condition variable, so release() can single out exactly the head of the
// queue without waking and re-checking every waiter (the polling design
// the spec calls out as the thing that caused FIFO violations and memory
// churn in an earlier iteration).
package admission

import (
	"container/list"
	"sync"
	"time"

	"github.com/ChamsBouzaiene/dodo/internal/model"
)

// Config tunes the pool's bounds.
type Config struct {
	MaxConcurrent int           // default 100, bounded [1, 1000].
	QueueMax      int           // default 200.
	QueueTimeout  time.Duration // default 30s.
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{MaxConcurrent: 100, QueueMax: 200, QueueTimeout: 30 * time.Second}
}

func (c Config) normalized() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 100
	}
	if c.MaxConcurrent > 1000 {
		c.MaxConcurrent = 1000
	}
	if c.QueueMax <= 0 {
		c.QueueMax = 200
	}
	if c.QueueTimeout <= 0 {
		c.QueueTimeout = 30 * time.Second
	}
	return c
}

// Permit is the capability token returned by Acquire; it must be passed to
// Release exactly once.
type Permit struct {
	pool *Pool
}

// waiter is one entry in the FIFO overflow queue. granted is closed exactly
// once, either by release() handing the waiter a slot, or by the waiter's
// own expiry/drain path removing itself first.
type waiter struct {
	granted chan struct{}
	expired bool
	timer   *time.Timer
}

// Pool is the process-wide admission singleton. A single mutex guards
// active, draining, and the waiter list; waiters are notified outside the
// lock so a slow waiter goroutine can never hold up admission of the next.
type Pool struct {
	cfg Config

	mu        sync.Mutex
	drainCond *sync.Cond
	active    int
	draining  bool
	waiters   *list.List // of *waiter
}

// New constructs a Pool with the given config.
func New(cfg Config) *Pool {
	p := &Pool{cfg: cfg.normalized(), waiters: list.New()}
	p.drainCond = sync.NewCond(&p.mu)
	return p
}

// Acquire blocks until a permit is available, the pool is draining, the
// queue is full, or the caller's wait expires.
func (p *Pool) Acquire() (*Permit, error) {
	p.mu.Lock()
	if p.draining {
		p.mu.Unlock()
		return nil, model.New(model.KindSandboxUnavailable, "admission pool draining")
	}
	if p.active < p.cfg.MaxConcurrent {
		p.active++
		p.mu.Unlock()
		return &Permit{pool: p}, nil
	}
	if p.waiters.Len() >= p.cfg.QueueMax {
		p.mu.Unlock()
		return nil, model.New(model.KindSandboxUnavailable, "admission queue full")
	}

	w := &waiter{granted: make(chan struct{}, 1)}
	elem := p.waiters.PushBack(w)
	w.timer = time.AfterFunc(p.cfg.QueueTimeout, func() {
		p.expire(elem, w)
	})
	p.mu.Unlock()

	<-w.granted

	p.mu.Lock()
	timedOut := w.expired
	p.mu.Unlock()
	if timedOut {
		return nil, model.New(model.KindSandboxUnavailable, "admission wait expired")
	}
	w.timer.Stop()
	return &Permit{pool: p}, nil
}

// expire fires from the waiter's timer. If the waiter is still queued it is
// removed and marked expired; if it has already been granted a slot (the
// race between the timer firing and release() picking the same waiter),
// the grant wins and expiry is a no-op.
func (p *Pool) expire(elem *list.Element, w *waiter) {
	p.mu.Lock()
	if elem.Value == nil {
		p.mu.Unlock()
		return
	}
	p.waiters.Remove(elem)
	elem.Value = nil
	w.expired = true
	p.mu.Unlock()
	w.granted <- struct{}{}
}

// Release returns a permit to the pool, decrements the active count, and
// wakes exactly the head of the FIFO queue if one is waiting. The waiter's
// channel is signalled outside the lock.
func (p *Permit) Release() {
	p.pool.mu.Lock()
	p.pool.active--

	var next *waiter
	for {
		front := p.pool.waiters.Front()
		if front == nil {
			break
		}
		w := front.Value.(*waiter)
		p.pool.waiters.Remove(front)
		front.Value = nil
		if w.expired {
			// Already claimed by its own timer; skip to the next waiter.
			continue
		}
		p.pool.active++
		next = w
		break
	}
	if p.pool.active == 0 {
		p.pool.drainCond.Broadcast()
	}
	p.pool.mu.Unlock()

	if next != nil {
		next.granted <- struct{}{}
	}
}

// Drain marks the pool as no longer accepting new admissions, rejects every
// queued waiter immediately, and waits event-driven (via a polling-free
// done channel) for active permits to reach zero or for timeout to elapse.
func (p *Pool) Drain(timeout time.Duration) bool {
	p.mu.Lock()
	p.draining = true
	for {
		front := p.waiters.Front()
		if front == nil {
			break
		}
		w := front.Value.(*waiter)
		p.waiters.Remove(front)
		front.Value = nil
		w.expired = true
		w.timer.Stop()
		w.granted <- struct{}{}
	}
	active := p.active
	p.mu.Unlock()

	if active == 0 {
		return true
	}

	done := make(chan struct{})
	go p.waitForDrain(done)

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// waitForDrain blocks until active reaches zero, woken by a condition
// variable rather than a poll loop. A timed-out Drain leaves this goroutine
// running harmlessly until the last Release fires the broadcast.
func (p *Pool) waitForDrain(done chan struct{}) {
	p.mu.Lock()
	for p.active > 0 {
		p.drainCond.Wait()
	}
	p.mu.Unlock()
	close(done)
}

// Snapshot reports the pool's current load, used for metrics.
type Snapshot struct {
	Active   int
	Queued   int
	Draining bool
}

func (p *Pool) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Snapshot{Active: p.active, Queued: p.waiters.Len(), Draining: p.draining}
}
