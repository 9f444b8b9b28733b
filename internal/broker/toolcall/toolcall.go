// Package toolcall implements the tool-call broker (C7): a short-lived
// loopback HTTP endpoint, one per execution, through which the sandboxed
// child dispatches tool calls. Allowlist denial never reaches the upstream
// pool; everything else is rate-limited, schema-validated, dispatched, and
// tracked.
package toolcall

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ChamsBouzaiene/dodo/internal/broker"
	"github.com/ChamsBouzaiene/dodo/internal/model"
	"github.com/ChamsBouzaiene/dodo/internal/ratelimit"
	"github.com/ChamsBouzaiene/dodo/internal/upstream"
)

const rateLimitEndpoint = "toolcall"

// Broker serves one execution's tool-call surface.
type Broker struct {
	log       *slog.Logger
	allowlist model.Allowlist
	limiter   *ratelimit.Limiter
	clientID  string
	pool      *upstream.Pool
	tracker   *broker.Tracker

	router chi.Router
}

// Config is everything one Broker instance needs, handed in by the
// invocation handler (C12) at execution start.
type Config struct {
	Token     string
	Allowlist model.Allowlist
	ClientID  string // identifies this execution's rate-limit bucket
	Limiter   *ratelimit.Limiter
	Pool      *upstream.Pool
	Tracker   *broker.Tracker
	Log       *slog.Logger
}

// New constructs a Broker and mounts its routes on a fresh chi.Router.
func New(cfg Config) *Broker {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	b := &Broker{
		log:       cfg.Log,
		allowlist: cfg.Allowlist,
		limiter:   cfg.Limiter,
		clientID:  cfg.ClientID,
		pool:      cfg.Pool,
		tracker:   cfg.Tracker,
	}

	r := chi.NewRouter()
	r.Use(broker.RequestID)
	r.Use(broker.BearerAuth(cfg.Token))
	r.Post("/", b.handleCall)
	b.router = r
	return b
}

// Handler returns the http.Handler to mount (or serve directly).
func (b *Broker) Handler() http.Handler { return b.router }

// Shutdown releases this broker's execution-scoped state. The broker
// holds no connections of its own (the upstream pool it dispatches
// through outlives one execution), so there is nothing to drain.
func (b *Broker) Shutdown() {}

type callRequest struct {
	ToolName string         `json:"toolName"`
	Params   map[string]any `json:"params"`
}

type callResponse struct {
	Result json.RawMessage `json:"result"`
}

func (b *Broker) handleCall(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		broker.WriteError(w, http.StatusInternalServerError, string(model.KindInternal), "read request body: "+err.Error(), nil)
		return
	}
	var req callRequest
	if err := json.Unmarshal(body, &req); err != nil {
		broker.WriteError(w, http.StatusBadRequest, string(model.KindBadArguments), "malformed request body: "+err.Error(), nil)
		return
	}

	// Step 1: allowlist. Denied calls never reach C3/C5/C6.
	if !b.allowlist.Allows(req.ToolName) {
		broker.WriteError(w, http.StatusForbidden, string(model.KindForbidden),
			"tool \""+req.ToolName+"\" is not in the allowlist for this execution", b.allowlist.Names())
		return
	}

	// Step 2: rate limit.
	limit := b.limiter.CheckLimit(b.clientID + ":" + rateLimitEndpoint)
	if !limit.Allowed {
		broker.WriteErrorWithRetry(w, http.StatusTooManyRequests, string(model.KindRateLimited),
			"rate limit exceeded for tool calls", limit.ResetInMs)
		return
	}

	// Steps 3-4: schema validate, dispatch, classify.
	schema, raw, cerr := b.pool.CallTool(r.Context(), req.ToolName, req.Params)
	duration := time.Since(started)

	if cerr != nil {
		merr := asModelError(cerr)
		b.tracker.Record(model.InvocationRecord{
			ToolName:     req.ToolName,
			StartedAt:    started,
			DurationMs:   duration.Milliseconds(),
			Status:       "error",
			ErrorMessage: merr.Message,
		})
		broker.WriteError(w, merr.Kind.HTTPStatus(), string(merr.Kind), merr.Message, nil)
		return
	}

	_ = schema // reserved for response-schema validation, not required by spec
	b.tracker.Record(model.InvocationRecord{
		ToolName:   req.ToolName,
		StartedAt:  started,
		DurationMs: duration.Milliseconds(),
		Status:     "ok",
	})
	broker.WriteJSON(w, http.StatusOK, callResponse{Result: raw})
}

// asModelError normalizes any error returned by the upstream pool or the
// validator into a *model.Error, defaulting to Internal for anything that
// arrived as a plain error (should not happen in practice, since every
// failure path in internal/upstream and internal/validate already wraps
// into model.Error, but a broker must never panic on an unexpected type).
func asModelError(err error) *model.Error {
	if merr, ok := err.(*model.Error); ok {
		return merr
	}
	return model.Wrap(model.KindInternal, err, "unclassified tool-call failure")
}
