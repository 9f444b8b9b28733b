package upstream

import (
	"context"
	"errors"
	"strings"

	"github.com/ChamsBouzaiene/dodo/internal/model"
)

// classifyMessage string-sniffs a lowercased error message into one of the
// kinds the tool-call broker distinguishes, the same heuristic shape as
// the teacher's ClassifyLLMError/ClassifyToolError in
// internal/engine/errors.go — generalized from "retry or not" to "which
// HTTP-facing error kind", since this broker has no retry loop of its own
// (retries belong to the circuit breaker's probe cycle, not to C5's call
// path).
func classifyMessage(msg string) model.Kind {
	lower := strings.ToLower(msg)

	switch {
	case strings.Contains(lower, "deadline exceeded"), strings.Contains(lower, "timeout"):
		return model.KindTimeout
	case strings.Contains(lower, "connection refused"),
		strings.Contains(lower, "connection reset"),
		strings.Contains(lower, "no such host"),
		strings.Contains(lower, "broken pipe"),
		strings.Contains(lower, "eof"):
		return model.KindUpstreamUnavailable
	default:
		return model.KindUpstreamError
	}
}

// classifyErr classifies a Go error value. An error that already carries a
// Kind (e.g. the breaker's own "circuit open" error) keeps it rather than
// being re-classified by message text; otherwise context-based
// classification (ctx.Err()) takes priority over string-sniffing when the
// call's own context has already expired.
func classifyErr(ctx context.Context, err error) model.Kind {
	if err == nil {
		return ""
	}
	var merr *model.Error
	if errors.As(err, &merr) {
		return merr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || (ctx != nil && ctx.Err() == context.DeadlineExceeded) {
		return model.KindTimeout
	}
	return classifyMessage(err.Error())
}
