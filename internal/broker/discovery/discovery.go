// Package discovery implements the discovery endpoint (C8): a loopback
// GET that lets the sandboxed child self-describe the available tool
// universe. Unlike the tool-call broker, it does not enforce the
// allowlist — read-only metadata is intentionally visible beyond what
// execution is permitted to invoke, per §4.8's documented exception.
package discovery

import (
	"context"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ChamsBouzaiene/dodo/internal/broker"
	"github.com/ChamsBouzaiene/dodo/internal/model"
	"github.com/ChamsBouzaiene/dodo/internal/ratelimit"
	"github.com/ChamsBouzaiene/dodo/internal/upstream"
)

const rateLimitEndpoint = "discovery"

const overallTimeout = 500 * time.Millisecond

var searchTermRE = regexp.MustCompile(`^[A-Za-z0-9_\- ]{1,100}$`)

// AuditLogger records one structured audit entry per discovery request,
// successful or not, per §4.8.
type AuditLogger interface {
	AuditDiscovery(endpoint string, searchTerms []string, resultsCount int, timestamp time.Time)
}

// Broker serves one execution's discovery surface.
type Broker struct {
	log      *slog.Logger
	limiter  *ratelimit.Limiter
	clientID string
	pool     *upstream.Pool
	audit    AuditLogger

	router chi.Router
}

// Config is everything one Broker instance needs.
type Config struct {
	Token    string
	ClientID string
	Limiter  *ratelimit.Limiter
	Pool     *upstream.Pool
	Audit    AuditLogger
	Log      *slog.Logger
}

// New constructs a Broker and mounts its route.
func New(cfg Config) *Broker {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	b := &Broker{
		log:      cfg.Log,
		limiter:  cfg.Limiter,
		clientID: cfg.ClientID,
		pool:     cfg.Pool,
		audit:    cfg.Audit,
	}

	r := chi.NewRouter()
	r.Use(broker.RequestID)
	r.Use(broker.BearerAuth(cfg.Token))
	r.Get("/tools", b.handleDiscover)
	b.router = r
	return b
}

// Handler returns the http.Handler to mount.
func (b *Broker) Handler() http.Handler { return b.router }

// Shutdown releases this broker's execution-scoped state. Like the
// tool-call broker it sits beside, it holds no connections of its own.
func (b *Broker) Shutdown() {}

type toolSummary struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

type discoverResponse struct {
	Tools []toolSummary `json:"tools"`
}

func (b *Broker) handleDiscover(w http.ResponseWriter, r *http.Request) {
	queries := r.URL.Query()["q"]

	for _, q := range queries {
		if !searchTermRE.MatchString(q) {
			b.recordAudit(queries, 0)
			broker.WriteError(w, http.StatusBadRequest, string(model.KindBadArguments),
				"invalid search term %q: must be 1-100 chars of [A-Za-z0-9_- ]", nil)
			return
		}
	}

	limit := b.limiter.CheckLimit(b.clientID + ":" + rateLimitEndpoint)
	if !limit.Allowed {
		b.recordAudit(queries, 0)
		broker.WriteErrorWithRetry(w, http.StatusTooManyRequests, string(model.KindRateLimited),
			"rate limit exceeded for discovery", limit.ResetInMs)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), overallTimeout)
	defer cancel()

	schemas, timedOut := b.listAllWithTimeout(ctx)
	if timedOut {
		b.recordAudit(queries, 0)
		broker.WriteError(w, http.StatusInternalServerError, string(model.KindInternal),
			"discovery timed out after 500ms", nil)
		return
	}

	filtered := filterSchemas(schemas, queries)
	out := make([]toolSummary, 0, len(filtered))
	for _, s := range filtered {
		out = append(out, toolSummary{Name: s.Name, Description: s.Description, InputSchema: s.InputSchema})
	}

	b.recordAudit(queries, len(out))
	broker.WriteJSON(w, http.StatusOK, discoverResponse{Tools: out})
}

// listAllWithTimeout runs ListAllToolSchemas on a goroutine bounded by
// ctx's deadline, since the upstream pool's fan-out has no built-in
// timeout of its own.
func (b *Broker) listAllWithTimeout(ctx context.Context) (schemas []model.ToolSchema, timedOut bool) {
	done := make(chan []model.ToolSchema, 1)
	go func() { done <- b.pool.ListAllToolSchemas(ctx) }()

	select {
	case schemas := <-done:
		return schemas, false
	case <-ctx.Done():
		return nil, true
	}
}

// filterSchemas applies OR-semantics case-insensitive substring filtering
// across name/description; an empty queries list returns everything.
func filterSchemas(schemas []model.ToolSchema, queries []string) []model.ToolSchema {
	if len(queries) == 0 {
		return schemas
	}
	lowered := make([]string, len(queries))
	for i, q := range queries {
		lowered[i] = strings.ToLower(q)
	}

	out := make([]model.ToolSchema, 0, len(schemas))
	for _, s := range schemas {
		name := strings.ToLower(s.Name)
		desc := strings.ToLower(s.Description)
		for _, q := range lowered {
			if strings.Contains(name, q) || strings.Contains(desc, q) {
				out = append(out, s)
				break
			}
		}
	}
	return out
}

func (b *Broker) recordAudit(searchTerms []string, resultsCount int) {
	if b.audit == nil {
		return
	}
	b.audit.AuditDiscovery("discovery", searchTerms, resultsCount, time.Now())
}
