package sampling

import (
	"sync"
	"time"

	"github.com/ChamsBouzaiene/dodo/internal/model"
)

// Quota enforces the per-execution round and token budget for one sampling
// broker instance. One Quota is created fresh per execution; it never
// survives past the broker's teardown.
type Quota struct {
	maxRounds int
	maxTokens int

	mu         sync.Mutex
	roundsUsed int
	tokensUsed int
	startedAt  time.Time
}

// NewQuota constructs a Quota with the given per-execution limits.
// maxRounds <= 0 defaults to 10, maxTokens <= 0 defaults to 10000.
func NewQuota(maxRounds, maxTokens int) *Quota {
	if maxRounds <= 0 {
		maxRounds = 10
	}
	if maxTokens <= 0 {
		maxTokens = 10000
	}
	return &Quota{maxRounds: maxRounds, maxTokens: maxTokens, startedAt: time.Now()}
}

// ReserveRound atomically checks and increments the round counter. It
// returns a QuotaExceeded error without mutating state if the execution has
// already used its full round budget.
func (q *Quota) ReserveRound() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.roundsUsed >= q.maxRounds {
		return model.New(model.KindQuotaExceeded, "sampling round quota exhausted (%d/%d)", q.roundsUsed, q.maxRounds)
	}
	q.roundsUsed++
	return nil
}

// ReleaseRound gives back a round reserved by ReserveRound, used when a
// request fails validation after the round was already reserved.
func (q *Quota) ReleaseRound() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.roundsUsed > 0 {
		q.roundsUsed--
	}
}

// PrecheckTokens reports whether at least one more token may be spent,
// without reserving any. Used before a non-streaming call to fail fast when
// the budget is already exhausted.
func (q *Quota) PrecheckTokens() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.tokensUsed >= q.maxTokens {
		return model.New(model.KindQuotaExceeded, "sampling token quota exhausted (%d/%d)", q.tokensUsed, q.maxTokens)
	}
	return nil
}

// WouldExceed reports whether committing n additional tokens on top of
// what's already used would exceed maxTokens, without mutating state. Used
// to reconcile a streaming call's provisional usage against its actual
// final usage before committing it.
func (q *Quota) WouldExceed(n int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tokensUsed+n > q.maxTokens
}

// CommitTokens records actual token usage reported by a provider after a
// call completes. It never blocks a call already in flight; overshoot past
// maxTokens on the call that exhausts the budget is permitted (the check
// happens on the *next* call), matching the teacher's admission-pool
// pattern of bounding the input queue, not an in-flight unit of work.
func (q *Quota) CommitTokens(n int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tokensUsed += n
}

// RollbackTokens reverses a provisional CommitTokens made before a
// streaming call's final usage was known, replacing it with the true count.
func (q *Quota) RollbackTokens(n int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tokensUsed -= n
	if q.tokensUsed < 0 {
		q.tokensUsed = 0
	}
}

// Snapshot returns the current usage as a model.SamplingQuota for the
// execution's final report.
func (q *Quota) Snapshot() model.SamplingQuota {
	q.mu.Lock()
	defer q.mu.Unlock()
	return model.SamplingQuota{
		RoundsUsed: q.roundsUsed,
		TokensUsed: q.tokensUsed,
		MaxRounds:  q.maxRounds,
		MaxTokens:  q.maxTokens,
		StartedAt:  q.startedAt,
	}
}
