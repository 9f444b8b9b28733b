// Package sampling implements the LLM-sampling broker (C9): a loopback
// HTTP endpoint the sandboxed child calls to make bounded recursive LLM
// calls, layering round/token quotas, a system-prompt and model allowlist,
// and optional secret/PII redaction around a sampling.Provider. Routing and
// request/response plumbing follow internal/broker/toolcall's chi-based
// shape; quota enforcement is new.
package sampling

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ChamsBouzaiene/dodo/internal/broker"
	"github.com/ChamsBouzaiene/dodo/internal/model"
	"github.com/ChamsBouzaiene/dodo/internal/ratelimit"
	"github.com/ChamsBouzaiene/dodo/internal/sampling"
)

const rateLimitEndpoint = "sampling"

// Config configures one execution-scoped sampling broker instance.
type Config struct {
	Token string

	// AllowedSystemPrompts is the set of systemPrompt values a caller may
	// request. An empty/absent systemPrompt is always permitted regardless
	// of this set's contents.
	AllowedSystemPrompts model.Allowlist
	// AllowedModels is the set of model values a caller may request.
	AllowedModels model.Allowlist

	MaxRounds    int
	MaxTokens    int
	RedactPII    bool
	ScrubContent bool

	ClientID string
	Limiter  *ratelimit.Limiter
	Provider sampling.Provider
	Tracker  *broker.Tracker

	// DrainTimeout bounds how long Shutdown waits for in-flight requests.
	DrainTimeout time.Duration

	Log *slog.Logger
}

// Broker is one execution's sampling endpoint.
type Broker struct {
	cfg      Config
	log      *slog.Logger
	quota    *Quota
	router   chi.Router
	draining chan struct{}
	inFlight *inFlightCounter
}

// New constructs a sampling Broker.
func New(cfg Config) *Broker {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 5 * time.Second
	}

	b := &Broker{
		cfg:      cfg,
		log:      log,
		quota:    NewQuota(cfg.MaxRounds, cfg.MaxTokens),
		draining: make(chan struct{}),
		inFlight: newInFlightCounter(),
	}

	r := chi.NewRouter()
	r.Use(broker.RequestID)
	r.Use(broker.BearerAuth(cfg.Token))
	r.Post("/sample", b.handleSample)
	b.router = r
	return b
}

// Handler returns the broker's http.Handler.
func (b *Broker) Handler() http.Handler { return b.router }

// Quota returns the execution's live sampling quota, for inclusion in the
// final model.ExecutionResult.
func (b *Broker) Quota() model.SamplingQuota { return b.quota.Snapshot() }

// Shutdown refuses new requests and waits up to cfg.DrainTimeout for
// in-flight requests to finish.
func (b *Broker) Shutdown() {
	close(b.draining)
	b.inFlight.wait(b.cfg.DrainTimeout)
}

func (b *Broker) isDraining() bool {
	select {
	case <-b.draining:
		return true
	default:
		return false
	}
}

type sampleRequest struct {
	Messages     []sampling.Message `json:"messages"`
	Model        string             `json:"model"`
	SystemPrompt string             `json:"systemPrompt"`
	MaxTokens    int                `json:"maxTokens"`
	Stream       bool               `json:"stream"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type sampleResponse struct {
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stopReason,omitempty"`
	Model      string         `json:"model"`
	Usage      sampling.Usage `json:"usage"`
}

func (b *Broker) handleSample(w http.ResponseWriter, r *http.Request) {
	if b.isDraining() {
		broker.WriteError(w, http.StatusServiceUnavailable, string(model.KindSandboxUnavailable), "sampling broker is shutting down", nil)
		return
	}
	b.inFlight.add(1)
	defer b.inFlight.add(-1)

	if res := b.cfg.Limiter.CheckLimit(b.cfg.ClientID + ":" + rateLimitEndpoint); !res.Allowed {
		broker.WriteErrorWithRetry(w, http.StatusTooManyRequests, string(model.KindRateLimited), "sampling rate limit exceeded", res.ResetInMs)
		return
	}

	var req sampleRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		broker.WriteError(w, http.StatusBadRequest, string(model.KindBadArguments), "invalid JSON body", nil)
		return
	}

	if err := b.quota.ReserveRound(); err != nil {
		b.writeQuotaErr(w, err)
		return
	}
	committed := false
	defer func() {
		if !committed {
			b.quota.ReleaseRound()
		}
	}()

	if req.SystemPrompt != "" && !b.cfg.AllowedSystemPrompts.Allows(req.SystemPrompt) {
		broker.WriteError(w, http.StatusForbidden, string(model.KindForbidden), "systemPrompt not permitted", b.cfg.AllowedSystemPrompts.Names())
		return
	}
	if !b.cfg.AllowedModels.Allows(req.Model) {
		broker.WriteError(w, http.StatusForbidden, string(model.KindForbidden), "model not permitted", b.cfg.AllowedModels.Names())
		return
	}

	sreq := sampling.Request{
		Messages:     req.Messages,
		Model:        req.Model,
		SystemPrompt: req.SystemPrompt,
		MaxTokens:    req.MaxTokens,
	}

	started := time.Now()
	if req.Stream {
		committed = true
		b.streamSample(w, r, sreq)
		return
	}

	if err := b.quota.PrecheckTokens(); err != nil {
		b.writeQuotaErr(w, err)
		return
	}

	result, err := b.cfg.Provider.Complete(r.Context(), sreq)
	committed = true
	if err != nil {
		b.recordExchange(started, req.Model, 0, 0, false)
		broker.WriteError(w, http.StatusBadGateway, string(model.KindUpstreamError), fmt.Sprintf("sampling provider error: %v", err), nil)
		return
	}

	b.quota.CommitTokens(result.Usage.InputTokens + result.Usage.OutputTokens)
	b.recordExchange(started, result.Model, result.Usage.InputTokens, result.Usage.OutputTokens, true)

	text := result.Content
	if b.cfg.ScrubContent {
		text = scrub(text, b.cfg.RedactPII)
	}
	broker.WriteJSON(w, http.StatusOK, sampleResponse{
		Content:    []contentBlock{{Type: "text", Text: text}},
		StopReason: result.StopReason,
		Model:      result.Model,
		Usage:      result.Usage,
	})
}

func (b *Broker) writeQuotaErr(w http.ResponseWriter, err error) {
	merr, ok := err.(*model.Error)
	if !ok {
		broker.WriteError(w, http.StatusInternalServerError, string(model.KindInternal), err.Error(), nil)
		return
	}
	broker.WriteError(w, merr.Kind.HTTPStatus(), string(merr.Kind), merr.Message, nil)
}

// streamSample serves the request's chunks as SSE, reconciling the token
// quota against the provider's final usage report at the "done" event and
// rolling back + terminating with an error if the reconciled total would
// exceed quota.
func (b *Broker) streamSample(w http.ResponseWriter, r *http.Request, req sampling.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		broker.WriteError(w, http.StatusInternalServerError, string(model.KindInternal), "streaming unsupported", nil)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	started := time.Now()
	chunks, errs := b.cfg.Provider.Stream(r.Context(), req)

	var accumulatedTokens int
	writeEvent := func(ev sampling.Chunk) {
		payload, _ := json.Marshal(ev)
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}

	for {
		select {
		case <-r.Context().Done():
			b.quota.RollbackTokens(accumulatedTokens)
			b.recordExchange(started, req.Model, 0, 0, false)
			return

		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			if chunk.Type == sampling.ChunkDone && chunk.Usage != nil {
				total := chunk.Usage.InputTokens + chunk.Usage.OutputTokens
				if !b.quota.WouldExceed(total) {
					b.quota.CommitTokens(total)
					accumulatedTokens = total
					b.recordExchange(started, chunk.Model, chunk.Usage.InputTokens, chunk.Usage.OutputTokens, true)
					writeEvent(chunk)
				} else {
					b.quota.ReleaseRound()
					b.recordExchange(started, chunk.Model, 0, 0, false)
					err := model.New(model.KindQuotaExceeded, "sampling token quota would be exceeded by this round's actual usage (%d tokens): round rolled back", total)
					writeEvent(sampling.Chunk{Type: sampling.ChunkError, Error: err.Error()})
				}
				return
			}
			if chunk.Type == sampling.ChunkText && b.cfg.ScrubContent {
				chunk.Content = scrub(chunk.Content, b.cfg.RedactPII)
			}
			writeEvent(chunk)

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				b.recordExchange(started, req.Model, 0, 0, false)
				writeEvent(sampling.Chunk{Type: sampling.ChunkError, Error: err.Error()})
				return
			}
		}
		if chunks == nil && errs == nil {
			return
		}
	}
}

func (b *Broker) recordExchange(started time.Time, model_ string, inputTokens, outputTokens int, ok bool) {
	if b.cfg.Tracker == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	b.cfg.Tracker.Record(model.InvocationRecord{
		ToolName:   "sample:" + model_,
		StartedAt:  started,
		DurationMs: time.Since(started).Milliseconds(),
		Status:     status,
	})
}
