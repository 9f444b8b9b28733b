package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/ChamsBouzaiene/dodo/internal/invocation"
	"github.com/ChamsBouzaiene/dodo/internal/ratelimit"
	"github.com/ChamsBouzaiene/dodo/internal/sandbox"
)

type fakeRunner struct{}

func (fakeRunner) Run(ctx context.Context, spec sandbox.Spec) (sandbox.Result, error) {
	return sandbox.Result{Stdout: "hi", Code: 0}, nil
}

func newTestHandler() *invocation.Handler {
	return invocation.New(invocation.Config{
		RateLimiter:   ratelimit.New(ratelimit.DefaultConfig()),
		SandboxRunner: fakeRunner{},
	})
}

func readResponses(t *testing.T, out *bytes.Buffer, n int) []Response {
	t.Helper()
	scanner := bufio.NewScanner(out)
	var got []Response
	for scanner.Scan() && len(got) < n {
		var resp Response
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			t.Fatalf("unmarshal response: %v", err)
		}
		got = append(got, resp)
	}
	return got
}

func TestRun_HealthRoundTrip(t *testing.T) {
	in := strings.NewReader(`{"id":"1","method":"health"}` + "\n")
	var out bytes.Buffer
	log := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	if err := run(context.Background(), in, &out, newTestHandler(), false, log); err != nil {
		t.Fatalf("run: %v", err)
	}

	resps := readResponses(t, &out, 1)
	if len(resps) != 1 || resps[0].ID != "1" || resps[0].Error != nil {
		t.Fatalf("unexpected response: %+v", resps)
	}
}

func TestRun_UnknownMethodIsBadArguments(t *testing.T) {
	in := strings.NewReader(`{"id":"2","method":"bogus"}` + "\n")
	var out bytes.Buffer
	log := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	if err := run(context.Background(), in, &out, newTestHandler(), false, log); err != nil {
		t.Fatalf("run: %v", err)
	}

	resps := readResponses(t, &out, 1)
	if len(resps) != 1 || resps[0].Error == nil || resps[0].Error.Kind != "BadArguments" {
		t.Fatalf("unexpected response: %+v", resps)
	}
}

func TestRun_ExecuteTypescriptReturnsResult(t *testing.T) {
	in := strings.NewReader(`{"id":"3","method":"executeTypescript","params":{"code":"console.log(1)"}}` + "\n")
	var out bytes.Buffer
	log := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	if err := run(context.Background(), in, &out, newTestHandler(), false, log); err != nil {
		t.Fatalf("run: %v", err)
	}

	resps := readResponses(t, &out, 1)
	if len(resps) != 1 || resps[0].Error != nil {
		t.Fatalf("unexpected response: %+v", resps)
	}
	var result map[string]any
	if err := json.Unmarshal(resps[0].Result, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result["stdout"] != "hi" {
		t.Fatalf("expected stdout %q, got %+v", "hi", result)
	}
}
