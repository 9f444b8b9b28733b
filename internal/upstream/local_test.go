package upstream

import (
	"context"
	"testing"
	"time"
)

// fakeBackendScript is a tiny shell program that answers listTools and any
// other method with a canned JSON-RPC response, used to exercise
// LocalProcess's framing and correlation logic without a real MCP-like
// backend.
const fakeBackendScript = `
while IFS= read -r line; do
  id=$(echo "$line" | sed -n 's/.*"id":"\([^"]*\)".*/\1/p')
  method=$(echo "$line" | sed -n 's/.*"method":"\([^"]*\)".*/\1/p')
  if [ "$method" = "listTools" ]; then
    printf '{"id":"%s","result":[{"name":"echo","description":"echoes","inputSchema":{"type":"object"}}]}\n' "$id"
  else
    printf '{"id":"%s","result":{"ok":true}}\n' "$id"
  fi
done
`

func newFakeLocalProcess(t *testing.T) *LocalProcess {
	t.Helper()
	return NewLocalProcess("sh", []string{"-c", fakeBackendScript})
}

func TestLocalProcess_ListTools(t *testing.T) {
	lp := newFakeLocalProcess(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := lp.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer lp.Close(ctx)

	tools, err := lp.ListTools(ctx)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(tools) != 1 || tools[0].Name != "echo" {
		t.Fatalf("unexpected tools: %+v", tools)
	}
}

func TestLocalProcess_Call(t *testing.T) {
	lp := newFakeLocalProcess(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := lp.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer lp.Close(ctx)

	raw, err := lp.Call(ctx, "echo", map[string]any{"text": "hi"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if len(raw) == 0 {
		t.Fatal("expected non-empty result")
	}
}

func TestLocalProcess_ConcurrentCallsCorrelateByID(t *testing.T) {
	lp := newFakeLocalProcess(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := lp.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer lp.Close(ctx)

	const n = 20
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := lp.Call(ctx, "echo", map[string]any{"i": i})
			errs <- err
		}()
	}
	for i := 0; i < n; i++ {
		if err := <-errs; err != nil {
			t.Errorf("concurrent call failed: %v", err)
		}
	}
}

func TestLocalProcess_CloseTerminatesProcess(t *testing.T) {
	lp := newFakeLocalProcess(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := lp.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := lp.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
