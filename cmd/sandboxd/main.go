// Command sandboxd is the broker process: it exposes the three-operation
// JSON-RPC surface (§6) over newline-delimited JSON on stdio, framed the
// same way the teacher's cmd/repl stdio bridge frames its own session
// protocol (bufio.Scanner request loop, buffered io.Writer response loop),
// generalized from that command set (start_session, user_message, ...) to
// this process's three operations (executeTypescript, executePython,
// health). Each request runs in its own goroutine so one long execution
// never blocks a concurrent health check.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ChamsBouzaiene/dodo/internal/admission"
	"github.com/ChamsBouzaiene/dodo/internal/audit"
	"github.com/ChamsBouzaiene/dodo/internal/breaker"
	"github.com/ChamsBouzaiene/dodo/internal/config"
	"github.com/ChamsBouzaiene/dodo/internal/invocation"
	"github.com/ChamsBouzaiene/dodo/internal/model"
	"github.com/ChamsBouzaiene/dodo/internal/ratelimit"
	"github.com/ChamsBouzaiene/dodo/internal/sampling"
	"github.com/ChamsBouzaiene/dodo/internal/sandbox"
	"github.com/ChamsBouzaiene/dodo/internal/schemacache"
	"github.com/ChamsBouzaiene/dodo/internal/upstream"
)

// Request is the wire envelope for one call into the broker.
type Request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"` // executeTypescript | executePython | health
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is the wire envelope for one reply out of the broker.
type Response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
}

// RPCError is the JSON-RPC facing projection of a model.Error.
type RPCError struct {
	Kind         model.Kind `json:"kind"`
	Message      string     `json:"message"`
	RetryAfterMs int64      `json:"retryAfterMs,omitempty"`
}

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	pools, err := config.LoadPools()
	if err != nil {
		log.Error("invalid startup configuration", "error", err)
		os.Exit(1)
	}

	manifestMgr, err := config.NewManifestManager()
	if err != nil {
		log.Error("failed to resolve backend manifest path", "error", err)
		os.Exit(1)
	}
	manifest, err := manifestMgr.Load()
	if err != nil {
		log.Error("failed to load backend manifest", "path", manifestMgr.Path(), "error", err)
		os.Exit(1)
	}

	auditLogger := newAuditLogger(log)
	defer auditLogger.Close()

	cache, err := schemacache.New(schemacache.DefaultConfig(), log)
	if err != nil {
		log.Error("failed to start schema cache", "error", err)
		os.Exit(1)
	}
	breakers := breaker.NewRegistry(pools.Breaker, nil)
	admissionPool := admission.New(pools.Admission)
	pool := upstream.New(admissionPool, cache, breakers, log)
	defer pool.Shutdown(context.Background())

	for _, b := range manifest.Backends {
		if err := pool.AddBackend(b); err != nil {
			log.Error("failed to register backend", "backend", b.Name, "error", err)
			os.Exit(1)
		}
	}

	provider, err := sampling.ProviderFromEnv()
	if err != nil {
		log.Warn("no sampling provider configured, enableSampling requests will fail", "error", err)
		provider = nil
	}

	handler := invocation.New(invocation.Config{
		Pool:             pool,
		RateLimiter:      ratelimit.New(pools.RateLimit),
		SamplingProvider: provider,
		DiscoveryAudit:   auditLogger,
		SandboxConfig:    sandbox.DefaultConfig(),
		Log:              log,
	})

	if err := run(context.Background(), os.Stdin, os.Stdout, handler, pools.SkipDangerousPatternCheck, log); err != nil {
		log.Error("stdio loop exited with error", "error", err)
		os.Exit(1)
	}
}

func newAuditLogger(log *slog.Logger) *audit.Logger {
	out := io.Writer(os.Stdout)
	if path := os.Getenv("DODO_AUDIT_FILE"); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			log.Warn("failed to open audit file, falling back to stdout", "path", path, "error", err)
		} else {
			out = f
		}
	}
	return audit.New(audit.Config{Output: out}, log)
}

// run drives the stdio request/response loop until stdin closes or ctx is
// cancelled. Writes are serialized by writeMu since responses can arrive
// out of request order from concurrent goroutines.
func run(ctx context.Context, in io.Reader, out io.Writer, handler *invocation.Handler, skipDangerousDefault bool, log *slog.Logger) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	writer := bufio.NewWriter(out)

	var writeMu sync.Mutex
	var wg sync.WaitGroup

	writeResponse := func(resp Response) {
		payload, err := json.Marshal(resp)
		if err != nil {
			log.Error("failed to marshal response", "id", resp.ID, "error", err)
			return
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		writer.Write(payload)
		writer.WriteByte('\n')
		writer.Flush()
	}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var req Request
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			writeResponse(Response{Error: &RPCError{Kind: model.KindBadArguments, Message: fmt.Sprintf("malformed request: %v", err)}})
			continue
		}

		wg.Add(1)
		go func(req Request) {
			defer wg.Done()
			writeResponse(dispatch(ctx, handler, req, skipDangerousDefault))
		}(req)
	}

	wg.Wait()
	if err := scanner.Err(); err != nil && err != io.EOF {
		return fmt.Errorf("sandboxd: stdin read: %w", err)
	}
	return nil
}

func dispatch(ctx context.Context, handler *invocation.Handler, req Request, skipDangerousDefault bool) Response {
	switch req.Method {
	case "executeTypescript", "executePython":
		return executeRequest(ctx, handler, req, skipDangerousDefault)
	case "health":
		return healthRequest(req)
	default:
		return Response{ID: req.ID, Error: &RPCError{Kind: model.KindBadArguments, Message: fmt.Sprintf("unknown method %q", req.Method)}}
	}
}

func executeRequest(ctx context.Context, handler *invocation.Handler, req Request, skipDangerousDefault bool) Response {
	var execReq model.ExecutionRequest
	if err := json.Unmarshal(req.Params, &execReq); err != nil {
		return Response{ID: req.ID, Error: &RPCError{Kind: model.KindBadArguments, Message: fmt.Sprintf("malformed params: %v", err)}}
	}
	if req.Method == "executeTypescript" {
		execReq.Language = model.LanguageTypeScript
	} else {
		execReq.Language = model.LanguagePython
	}
	execReq.SkipDangerousPatternCheck = execReq.SkipDangerousPatternCheck || skipDangerousDefault

	result, err := handler.Execute(ctx, execReq)
	if err != nil {
		var merr *model.Error
		if errors.As(err, &merr) {
			return Response{ID: req.ID, Error: &RPCError{Kind: merr.Kind, Message: merr.Error(), RetryAfterMs: merr.RetryAfterMs}}
		}
		return Response{ID: req.ID, Error: &RPCError{Kind: model.KindInternal, Message: err.Error()}}
	}

	payload, merr := json.Marshal(result)
	if merr != nil {
		return Response{ID: req.ID, Error: &RPCError{Kind: model.KindInternal, Message: fmt.Sprintf("marshal result: %v", merr)}}
	}
	return Response{ID: req.ID, Result: payload}
}

func healthRequest(req Request) Response {
	payload, _ := json.Marshal(map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
	return Response{ID: req.ID, Result: payload}
}

