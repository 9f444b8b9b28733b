package toolcall

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ChamsBouzaiene/dodo/internal/admission"
	"github.com/ChamsBouzaiene/dodo/internal/broker"
	brkr "github.com/ChamsBouzaiene/dodo/internal/breaker"
	"github.com/ChamsBouzaiene/dodo/internal/model"
	"github.com/ChamsBouzaiene/dodo/internal/ratelimit"
	"github.com/ChamsBouzaiene/dodo/internal/schemacache"
	"github.com/ChamsBouzaiene/dodo/internal/upstream"
)

const fakeScript = `
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

func newTestBroker(t *testing.T, token string, allow []string) *Broker {
	t.Helper()
	admPool := admission.New(admission.DefaultConfig())
	cache, err := schemacache.New(schemacache.DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("schemacache.New: %v", err)
	}
	reg := brkr.NewRegistry(brkr.DefaultConfig(), nil)
	pool := upstream.New(admPool, cache, reg, nil)
	if err := pool.AddBackend(model.BackendDescriptor{
		Name:      "files",
		Transport: model.TransportLocalProcess,
		Command:   "sh",
		Args:      []string{"-c", fakeScript},
	}); err != nil {
		t.Fatalf("AddBackend: %v", err)
	}
	if _, err := pool.ListTools(t.Context(), "files"); err != nil {
		t.Fatalf("warm cache: %v", err)
	}

	return New(Config{
		Token:     token,
		Allowlist: model.NewAllowlist(allow),
		ClientID:  "exec-1",
		Limiter:   ratelimit.New(ratelimit.DefaultConfig()),
		Pool:      pool,
		Tracker:   broker.NewTracker(),
	})
}

func doCall(t *testing.T, b *Broker, token, toolName string) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(map[string]any{"toolName": toolName, "params": map[string]any{}})
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, req)
	return rec
}

func TestToolcall_AllowedToolSucceeds(t *testing.T) {
	b := newTestBroker(t, "secret", []string{"dodo__files__echo"})
	rec := doCall(t, b, "secret", "dodo__files__echo")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestToolcall_DeniedByAllowlist(t *testing.T) {
	b := newTestBroker(t, "secret", []string{"dodo__files__other"})
	rec := doCall(t, b, "secret", "dodo__files__echo")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestToolcall_WrongTokenUnauthorized(t *testing.T) {
	b := newTestBroker(t, "secret", []string{"dodo__files__echo"})
	rec := doCall(t, b, "wrong", "dodo__files__echo")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestToolcall_OtherMethodNotAllowed(t *testing.T) {
	b := newTestBroker(t, "secret", []string{"dodo__files__echo"})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestToolcall_TracksInvocations(t *testing.T) {
	b := newTestBroker(t, "secret", []string{"dodo__files__echo"})
	doCall(t, b, "secret", "dodo__files__echo")
	doCall(t, b, "secret", "dodo__files__echo")

	names := b.tracker.ToolsCalled()
	if len(names) != 2 {
		t.Fatalf("expected 2 tracked calls, got %d", len(names))
	}
	summaries := b.tracker.Summaries()
	if len(summaries) != 1 || summaries[0].CallCount != 2 {
		t.Fatalf("unexpected summary: %+v", summaries)
	}
}
