package invocation

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ChamsBouzaiene/dodo/internal/model"
	"github.com/ChamsBouzaiene/dodo/internal/ratelimit"
	"github.com/ChamsBouzaiene/dodo/internal/sandbox"
)

type fakeRunner struct {
	result  sandbox.Result
	err     error
	lastEnv map[string]string
}

func (f *fakeRunner) Run(ctx context.Context, spec sandbox.Spec) (sandbox.Result, error) {
	f.lastEnv = spec.Env
	return f.result, f.err
}

func newTestHandler(runner sandbox.Runner) *Handler {
	return New(Config{
		RateLimiter:   ratelimit.New(ratelimit.DefaultConfig()),
		SandboxRunner: runner,
		SandboxConfig: sandbox.Config{},
	})
}

func TestInvocation_EmptyCodeIsBadArguments(t *testing.T) {
	h := newTestHandler(&fakeRunner{})
	_, err := h.Execute(context.Background(), model.ExecutionRequest{Language: model.LanguageTypeScript})
	var merr *model.Error
	if !errors.As(err, &merr) || merr.Kind != model.KindBadArguments {
		t.Fatalf("expected KindBadArguments, got %v", err)
	}
}

func TestInvocation_SuccessfulExecutionInjectsToolCallEndpoint(t *testing.T) {
	runner := &fakeRunner{result: sandbox.Result{Stdout: "ok", Code: 0}}
	h := newTestHandler(runner)

	result, err := h.Execute(context.Background(), model.ExecutionRequest{
		Code:         "console.log(1)",
		Language:     model.LanguageTypeScript,
		AllowedTools: []string{"dodo__demo__echo"},
	})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.Stdout != "ok" {
		t.Fatalf("expected stdout %q, got %q", "ok", result.Stdout)
	}
	if url, ok := runner.lastEnv["DODO_TOOLCALL_URL"]; !ok || !strings.HasPrefix(url, "http://127.0.0.1:") {
		t.Fatalf("expected a loopback tool-call URL in env, got %q", url)
	}
	if runner.lastEnv["DODO_TOOLCALL_TOKEN"] == "" {
		t.Fatalf("expected a non-empty tool-call token")
	}
}

func TestInvocation_TimeoutReportsNonZeroError(t *testing.T) {
	runner := &fakeRunner{result: sandbox.Result{Code: 1, TimedOut: true}}
	h := newTestHandler(runner)

	result, err := h.Execute(context.Background(), model.ExecutionRequest{
		Code:      "while(true){}",
		Language:  model.LanguageTypeScript,
		TimeoutMs: 10,
	})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if result.Success {
		t.Fatalf("expected failure on timeout")
	}
	if !strings.Contains(result.Error, "timeout") {
		t.Fatalf("expected a timeout error message, got %q", result.Error)
	}
}

func TestInvocation_DangerousPatternIsRejected(t *testing.T) {
	h := newTestHandler(&fakeRunner{})
	_, err := h.Execute(context.Background(), model.ExecutionRequest{
		Code:     `require("child_process").exec("rm -rf /")`,
		Language: model.LanguageTypeScript,
	})
	var merr *model.Error
	if !errors.As(err, &merr) || merr.Kind != model.KindForbidden {
		t.Fatalf("expected KindForbidden, got %v", err)
	}
}

func TestInvocation_DangerousPatternCheckCanBeSkipped(t *testing.T) {
	runner := &fakeRunner{result: sandbox.Result{Code: 0}}
	h := newTestHandler(runner)
	result, err := h.Execute(context.Background(), model.ExecutionRequest{
		Code:                      `require("child_process").exec("ls")`,
		Language:                  model.LanguageTypeScript,
		SkipDangerousPatternCheck: true,
	})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success when the check is skipped, got %+v", result)
	}
}

func TestInvocation_RunnerFailureIsSandboxUnavailable(t *testing.T) {
	runner := &fakeRunner{err: errors.New("boom")}
	h := newTestHandler(runner)

	result, err := h.Execute(context.Background(), model.ExecutionRequest{
		Code:     "x",
		Language: model.LanguageTypeScript,
	})
	if err != nil {
		t.Fatalf("Execute should report failure via the result, not an error: %v", err)
	}
	if result.Success {
		t.Fatalf("expected failure")
	}
}
