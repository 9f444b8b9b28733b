package discovery

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ChamsBouzaiene/dodo/internal/admission"
	brkr "github.com/ChamsBouzaiene/dodo/internal/breaker"
	"github.com/ChamsBouzaiene/dodo/internal/model"
	"github.com/ChamsBouzaiene/dodo/internal/ratelimit"
	"github.com/ChamsBouzaiene/dodo/internal/schemacache"
	"github.com/ChamsBouzaiene/dodo/internal/upstream"
)

const fakeScript = `
while IFS= read -r line; do
  id=$(echo "$line" | sed -n 's/.*"id":"\([^"]*\)".*/\1/p')
  printf '{"id":"%s","result":[{"name":"read_file","description":"reads a file from disk","inputSchema":{"type":"object"}},{"name":"write_file","description":"writes a file","inputSchema":{"type":"object"}}]}\n' "$id"
done
`

type fakeAudit struct {
	mu     sync.Mutex
	events int
}

func (f *fakeAudit) AuditDiscovery(endpoint string, searchTerms []string, resultsCount int, timestamp time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events++
}

func newTestBroker(t *testing.T, token string) (*Broker, *fakeAudit) {
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

	fa := &fakeAudit{}
	b := New(Config{
		Token:    token,
		ClientID: "exec-1",
		Limiter:  ratelimit.New(ratelimit.DefaultConfig()),
		Pool:     pool,
		Audit:    fa,
	})
	return b, fa
}

func doDiscover(b *Broker, token, query string) *httptest.ResponseRecorder {
	path := "/tools"
	if query != "" {
		path += "?" + query
	}
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, req)
	return rec
}

func TestDiscovery_NoQueryReturnsAll(t *testing.T) {
	b, fa := newTestBroker(t, "secret")
	rec := doDiscover(b, "secret", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if fa.events != 1 {
		t.Fatalf("expected 1 audit event, got %d", fa.events)
	}
}

func TestDiscovery_FiltersBySubstring(t *testing.T) {
	b, _ := newTestBroker(t, "secret")
	rec := doDiscover(b, "secret", "q=write")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "write_file") || strings.Contains(rec.Body.String(), "read_file") {
		t.Fatalf("expected only write_file in response: %s", rec.Body.String())
	}
}

func TestDiscovery_ResultsCarryInputSchema(t *testing.T) {
	b, _ := newTestBroker(t, "secret")
	rec := doDiscover(b, "secret", "q=read")

	var resp discoverResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Tools) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(resp.Tools))
	}
	if resp.Tools[0].InputSchema == nil || resp.Tools[0].InputSchema["type"] != "object" {
		t.Fatalf("expected inputSchema to carry the backend's schema, got %+v", resp.Tools[0].InputSchema)
	}
}

func TestDiscovery_InvalidSearchTermRejected(t *testing.T) {
	b, _ := newTestBroker(t, "secret")
	rec := doDiscover(b, "secret", "q="+url400)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestDiscovery_IgnoresAllowlist(t *testing.T) {
	// Discovery has no allowlist knob at all — its absence from Config is
	// itself the test: a Broker here can only see every backend tool.
	b, _ := newTestBroker(t, "secret")
	rec := doDiscover(b, "secret", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestDiscovery_WrongTokenUnauthorized(t *testing.T) {
	b, _ := newTestBroker(t, "secret")
	rec := doDiscover(b, "wrong", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

const url400 = "bad%24term" // contains '$', outside [A-Za-z0-9_- ]
