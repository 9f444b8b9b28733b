// Package invocation implements the tool-invocation handler (C12): the
// top-level "execute code" operation. It assembles one execution's
// loopback brokers (C7 tool-call, C8 discovery, C9 sampling, C10 output
// stream), hands them to the sandbox supervisor (C11), and translates the
// outcome into an ExecutionResult.
package invocation

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/ChamsBouzaiene/dodo/internal/broker"
	"github.com/ChamsBouzaiene/dodo/internal/broker/discovery"
	"github.com/ChamsBouzaiene/dodo/internal/broker/outputstream"
	"github.com/ChamsBouzaiene/dodo/internal/broker/sampling"
	"github.com/ChamsBouzaiene/dodo/internal/broker/toolcall"
	"github.com/ChamsBouzaiene/dodo/internal/dangercheck"
	"github.com/ChamsBouzaiene/dodo/internal/model"
	"github.com/ChamsBouzaiene/dodo/internal/ratelimit"
	samplingprovider "github.com/ChamsBouzaiene/dodo/internal/sampling"
	"github.com/ChamsBouzaiene/dodo/internal/sandbox"
	"github.com/ChamsBouzaiene/dodo/internal/upstream"
)

const loopbackHost = "127.0.0.1"

// defaults mirror the ones named across §4.9/§4.11 of the expanded spec.
const (
	defaultTimeout      = 30 * time.Second
	defaultMaxRounds    = 10
	defaultMaxTokens    = 10000
	defaultDrainTimeout = 5 * time.Second
)

// Config is the set of process-wide, execution-spanning dependencies the
// handler assembles every execution's brokers around.
type Config struct {
	Pool             *upstream.Pool            // C5, shared across executions.
	RateLimiter      *ratelimit.Limiter        // C3, shared across executions.
	SamplingProvider samplingprovider.Provider // C9's backing LLM, shared.
	DiscoveryAudit   discovery.AuditLogger
	SandboxConfig    sandbox.Config
	SandboxRunner    sandbox.Runner
	Log              *slog.Logger
}

// Handler serves one "execute code" operation at a time (concurrently —
// it holds no mutable state of its own beyond its Config).
type Handler struct {
	cfg Config
	log *slog.Logger
}

// New constructs a Handler.
func New(cfg Config) *Handler {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.SandboxRunner == nil {
		cfg.SandboxRunner = sandbox.NewDefaultRunner(cfg.SandboxConfig)
	}
	return &Handler{cfg: cfg, log: cfg.Log}
}

// listenerBroker bundles a started HTTP server with the broker(s) it
// serves, so tearing it down both stops accepting new connections and
// releases the broker's own execution-scoped state.
type listenerBroker struct {
	listener net.Listener
	server   *http.Server
	token    string
	inner    []sandbox.Shutdowner
}

func (l *listenerBroker) Shutdown() {
	if l == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultDrainTimeout)
	defer cancel()
	_ = l.server.Shutdown(ctx)
	for _, sd := range l.inner {
		sd.Shutdown()
	}
}

func (l *listenerBroker) url(path string) string {
	return fmt.Sprintf("http://%s%s", l.listener.Addr().String(), path)
}

// Execute runs the §4.12 seven-step sequence: validate, optionally start
// C10, start C7(+C8), optionally start C9, invoke C11, build the result,
// tear everything down.
func (h *Handler) Execute(ctx context.Context, req model.ExecutionRequest) (model.ExecutionResult, error) {
	start := time.Now()

	// Step 1: validate inputs, apply defaults.
	if req.Code == "" {
		return model.ExecutionResult{}, model.New(model.KindBadArguments, "code must not be empty")
	}
	if !req.SkipDangerousPatternCheck {
		if analysis := dangercheck.Analyze(req.Code); !analysis.IsSafe {
			f := analysis.Findings[0]
			return model.ExecutionResult{}, model.New(model.KindForbidden,
				"snippet contains %q (%s)", f.Pattern, dangercheck.RiskDescription(f.Risk))
		}
	}
	timeout := time.Duration(req.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxRounds := req.MaxSamplingRounds
	if maxRounds <= 0 {
		maxRounds = defaultMaxRounds
	}
	maxTokens := req.MaxSamplingTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	clientID := newID()
	tracker := broker.NewTracker()

	var outputBroker *listenerBroker

	// Step 2: start C10, if requested. Non-critical: log and continue.
	if req.EnableOutputStream {
		var err error
		outputBroker, _, err = h.startOutputStream(clientID)
		if err != nil {
			h.log.Warn("failed to start output-stream broker, continuing without it", "error", err)
			outputBroker = nil
		}
	}

	// Step 3: start C7 (+ C8 sibling on the same port, per the resolved
	// Open Question) for this execution's allowlist.
	toolBroker, err := h.startToolCall(req, clientID, tracker)
	if err != nil {
		if outputBroker != nil {
			outputBroker.Shutdown()
		}
		return model.ExecutionResult{}, model.Wrap(model.KindSandboxUnavailable, err, "failed to start tool-call broker")
	}

	var samplingBroker *listenerBroker
	var samplingBrokerImpl *sampling.Broker
	if req.EnableSampling {
		// Step 4: start C9. On failure, tear down C7/C10 and fail the execution.
		samplingBroker, samplingBrokerImpl, err = h.startSampling(req, clientID, tracker, maxRounds, maxTokens)
		if err != nil {
			toolBroker.Shutdown()
			if outputBroker != nil {
				outputBroker.Shutdown()
			}
			return model.ExecutionResult{}, model.Wrap(model.KindSandboxUnavailable, err, "failed to start sampling broker")
		}
	}

	endpoints, env := h.buildEndpointsAndEnv(toolBroker, samplingBroker, outputBroker)

	preamble := sandbox.BuildPreamble(req.Language, endpoints)

	var outStreamShutdowner sandbox.Shutdowner
	if outputBroker != nil {
		outStreamShutdowner = outputBroker
	}
	var samplingShutdowner sandbox.Shutdowner
	if samplingBroker != nil {
		samplingShutdowner = samplingBroker
	}

	plan := sandbox.ExecutionPlan{
		Code:         req.Code,
		Language:     req.Language,
		Permissions:  req.Permissions,
		Timeout:      timeout,
		Preamble:     preamble,
		Env:          env,
		OutputStream: outStreamShutdowner,
		ToolCall:     toolBroker,
		Sampling:     samplingShutdowner,
	}

	// Step 5/6: invoke C11, await its outcome, build the ExecutionResult.
	supervisor := sandbox.NewSupervisor(h.cfg.SandboxRunner, h.cfg.SandboxConfig, h.log)
	outcome, runErr := supervisor.Run(ctx, plan)

	// Step 7: supervisor.Run already tore down OutputStream/ToolCall/Sampling
	// in order as part of its own deferred teardown.

	result := model.ExecutionResult{
		DurationMs: time.Since(start).Milliseconds(),
	}
	if runErr != nil {
		merr := asModelError(runErr)
		result.Success = false
		result.Error = merr.Message
		return result, nil
	}

	result.Success = outcome.Result.Code == 0 && !outcome.Result.TimedOut
	result.Stdout = outcome.Result.Stdout
	result.Stderr = outcome.Result.Stderr
	if outcome.Result.TimedOut {
		result.Error = fmt.Sprintf("Execution timeout after %dms", timeout.Milliseconds())
	} else if outcome.Result.Code != 0 {
		result.Error = outcome.Result.Stderr
	}
	result.ToolsCalled = tracker.ToolsCalled()
	result.ToolSummary = tracker.Summaries()
	if samplingBrokerImpl != nil {
		quota := samplingBrokerImpl.Quota()
		result.SamplingMetrics = &quota
	}
	if outputBroker != nil {
		result.StreamEndpoint = outputBroker.listener.Addr().String()
	}

	return result, nil
}

func (h *Handler) startOutputStream(clientID string) (*listenerBroker, *outputstream.Broker, error) {
	lis, err := net.Listen("tcp", loopbackHost+":0")
	if err != nil {
		return nil, nil, err
	}
	token := newToken()
	b := outputstream.New(outputstream.Config{Token: token, Log: h.log})
	srv := &http.Server{Handler: b.Handler()}
	go func() { _ = srv.Serve(lis) }()
	return &listenerBroker{listener: lis, server: srv, token: token, inner: []sandbox.Shutdowner{b}}, b, nil
}

func (h *Handler) startToolCall(req model.ExecutionRequest, clientID string, tracker *broker.Tracker) (*listenerBroker, error) {
	lis, err := net.Listen("tcp", loopbackHost+":0")
	if err != nil {
		return nil, err
	}
	token := newToken()
	allow := model.NewAllowlist(req.AllowedTools)
	tc := toolcall.New(toolcall.Config{
		Token:     token,
		Allowlist: allow,
		ClientID:  clientID,
		Limiter:   h.cfg.RateLimiter,
		Pool:      h.cfg.Pool,
		Tracker:   tracker,
		Log:       h.log,
	})
	disc := discovery.New(discovery.Config{
		Token:    token,
		ClientID: clientID,
		Limiter:  h.cfg.RateLimiter,
		Pool:     h.cfg.Pool,
		Audit:    h.cfg.DiscoveryAudit,
		Log:      h.log,
	})

	// Discovery is mounted as a sibling path on the same port by default:
	// "/tools" routes to discovery, everything else to the tool-call broker.
	mux := http.NewServeMux()
	mux.Handle("/tools", disc.Handler())
	mux.Handle("/", tc.Handler())

	srv := &http.Server{Handler: mux}
	go func() { _ = srv.Serve(lis) }()

	return &listenerBroker{
		listener: lis,
		server:   srv,
		token:    token,
		inner:    []sandbox.Shutdowner{tc, disc},
	}, nil
}

func (h *Handler) startSampling(req model.ExecutionRequest, clientID string, tracker *broker.Tracker, maxRounds, maxTokens int) (*listenerBroker, *sampling.Broker, error) {
	lis, err := net.Listen("tcp", loopbackHost+":0")
	if err != nil {
		return nil, nil, err
	}
	token := newToken()
	b := sampling.New(sampling.Config{
		Token:                token,
		AllowedSystemPrompts: model.NewAllowlist(req.SamplingSystemPrompts),
		AllowedModels:        model.NewAllowlist(req.AllowedSamplingModels),
		MaxRounds:            maxRounds,
		MaxTokens:            maxTokens,
		RedactPII:            true,
		ScrubContent:         true,
		ClientID:             clientID,
		Limiter:              h.cfg.RateLimiter,
		Provider:             h.cfg.SamplingProvider,
		Tracker:              tracker,
		DrainTimeout:         defaultDrainTimeout,
		Log:                  h.log,
	})
	srv := &http.Server{Handler: b.Handler()}
	go func() { _ = srv.Serve(lis) }()
	return &listenerBroker{listener: lis, server: srv, token: token, inner: []sandbox.Shutdowner{b}}, b, nil
}

// buildEndpointsAndEnv derives the child's callback URLs/tokens from the
// started brokers. Discovery shares the tool-call broker's token since it
// is mounted as a sibling path on the same listener.
func (h *Handler) buildEndpointsAndEnv(toolBroker, samplingBroker, outputBroker *listenerBroker) (sandbox.Endpoints, map[string]string) {
	env := map[string]string{}
	var ep sandbox.Endpoints

	if toolBroker != nil {
		ep.ToolCallURL = toolBroker.url("/")
		ep.ToolCallToken = toolBroker.token
		ep.DiscoveryURL = toolBroker.url("/tools")
		ep.DiscoveryToken = toolBroker.token
		env["DODO_TOOLCALL_URL"] = ep.ToolCallURL
		env["DODO_TOOLCALL_TOKEN"] = ep.ToolCallToken
		env["DODO_DISCOVERY_URL"] = ep.DiscoveryURL
	}
	if samplingBroker != nil {
		ep.SamplingURL = samplingBroker.url("/sample")
		ep.SamplingToken = samplingBroker.token
		env["DODO_SAMPLING_URL"] = ep.SamplingURL
		env["DODO_SAMPLING_TOKEN"] = ep.SamplingToken
	}
	if outputBroker != nil {
		ep.OutputStreamURL = "ws://" + outputBroker.listener.Addr().String() + "/?token=" + outputBroker.token
		env["DODO_OUTPUT_STREAM_URL"] = ep.OutputStreamURL
	}

	return ep, env
}

func newID() string {
	return newToken()[:16]
}

func newToken() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func asModelError(err error) *model.Error {
	var merr *model.Error
	if e, ok := err.(*model.Error); ok {
		merr = e
	} else {
		merr = model.Wrap(model.KindInternal, err, "execution failed")
	}
	return merr
}
