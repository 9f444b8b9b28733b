package broker

import (
	"sync"
	"time"

	"github.com/ChamsBouzaiene/dodo/internal/model"
)

// Tracker accumulates tool-call invocation records for one execution: a
// flat temporal list (duplicates preserved, per §4.7) plus a per-tool
// aggregate, both safe for concurrent record-keeping since multiple
// goroutines may be serving concurrent C7 requests for the same execution.
type Tracker struct {
	mu      sync.Mutex
	records []model.InvocationRecord
	byTool  map[string]*model.ToolSummary
}

// NewTracker constructs an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{byTool: make(map[string]*model.ToolSummary)}
}

// Record appends one invocation outcome and folds it into the tool's
// running aggregate.
func (t *Tracker) Record(rec model.InvocationRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.records = append(t.records, rec)

	summary, ok := t.byTool[rec.ToolName]
	if !ok {
		summary = &model.ToolSummary{ToolName: rec.ToolName}
		t.byTool[rec.ToolName] = summary
	}
	summary.CallCount++
	summary.TotalDurationMs += rec.DurationMs
	summary.LastStatus = rec.Status
	summary.LastError = rec.ErrorMessage
	summary.LastCalledAt = rec.StartedAt.Add(time.Duration(rec.DurationMs) * time.Millisecond)
	if rec.Status == "ok" {
		summary.OkCount++
	} else {
		summary.ErrCount++
	}
}

// ToolsCalled returns the flat, temporally-ordered list of tool names
// invoked, duplicates preserved, for ExecutionResult.ToolsCalled.
func (t *Tracker) ToolsCalled() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	names := make([]string, len(t.records))
	for i, r := range t.records {
		names[i] = r.ToolName
	}
	return names
}

// Summaries returns the per-tool aggregates, order unspecified.
func (t *Tracker) Summaries() []model.ToolSummary {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]model.ToolSummary, 0, len(t.byTool))
	for _, s := range t.byTool {
		out = append(out, *s)
	}
	return out
}
