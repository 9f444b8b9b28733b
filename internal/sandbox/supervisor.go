package sandbox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ChamsBouzaiene/dodo/internal/model"
)

// Shutdowner is implemented by every loopback broker (C7/C8/C9/C10) the
// supervisor tears down once the child exits.
type Shutdowner interface {
	Shutdown()
}

// outputPublisher is the subset of outputstream.Broker the supervisor
// needs; declared locally so this package doesn't import outputstream.
type outputPublisher interface {
	PublishOutput(channel, data string)
	PublishComplete(success bool, errMsg string)
}

// ExecutionPlan is everything the supervisor needs to launch one
// execution's child: the snippet, its language, the least-privilege
// grants, the environment to inject, and the brokers to tear down once
// the child exits.
type ExecutionPlan struct {
	Code        string
	Language    model.Language
	Permissions model.Permissions
	Timeout     time.Duration

	// Preamble is language-specific source, prepended to Code, defining
	// the in-sandbox callback primitives (tool call, discovery, sampling)
	// that call out to the brokers named in Env.
	Preamble string

	// Env is the full environment the child receives: per-execution
	// bearer tokens and broker base URLs. No ambient environment leaks in.
	Env map[string]string

	// OutputStream, if non-nil, also satisfies outputPublisher and
	// receives the child's stdout/stderr and completion event.
	OutputStream Shutdowner
	ToolCall     Shutdowner // C7, possibly fronting a sibling C8.
	Sampling     Shutdowner // C9, nil if sampling is not enabled.
}

// Outcome is the supervisor's report of one execution.
type Outcome struct {
	Result Result
	// ContentHash is the sha256 of the snippet exactly as written to
	// scratch, computed before launch and never re-read afterward: the
	// execution record reflects what was written, not what a racing
	// writer to the same path might have left behind.
	ContentHash string
}

// Supervisor prepares a scratch workspace, launches the child through a
// Runner, pipes its output, and tears down the execution's brokers once
// it exits. It never interprets tool calls or sampling requests itself —
// those cross the loopback brokers the child was handed URLs for.
type Supervisor struct {
	runner Runner
	config Config
	log    *slog.Logger
}

// NewSupervisor constructs a Supervisor over the given Runner.
func NewSupervisor(runner Runner, cfg Config, log *slog.Logger) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{runner: runner, config: cfg, log: log}
}

// Run writes plan's snippet to a fresh scratch file, launches it through
// the Supervisor's Runner, forwards its output to plan.OutputStream if
// present, and tears down plan's brokers in the fixed order
// output-stream, tool-call, sampling once the child has exited (or
// failed to start). Teardown errors are never surfaced: each broker's
// own Shutdown is already best-effort.
func (s *Supervisor) Run(ctx context.Context, plan ExecutionPlan) (Outcome, error) {
	scratchDir, scratchPath, err := s.writeScratch(plan.Language, plan.Preamble+plan.Code)
	defer func() {
		if scratchDir != "" {
			_ = os.RemoveAll(scratchDir)
		}
	}()
	if err != nil {
		return Outcome{}, model.Wrap(model.KindSandboxUnavailable, err, "failed to prepare scratch workspace")
	}

	hash := sha256.Sum256([]byte(plan.Preamble + plan.Code))
	contentHash := hex.EncodeToString(hash[:])

	defer s.teardown(plan)

	cmd, args := interpreterCommand(plan.Language, scratchPath)

	spec := Spec{
		ScratchDir:       scratchDir,
		ScratchPath:      scratchPath,
		Command:          cmd,
		Args:             args,
		Image:            defaultImage(plan.Language, s.config.DockerImage),
		Env:              plan.Env,
		ReadPaths:        append([]string{scratchDir, "/tmp"}, plan.Permissions.Read...),
		WritePaths:       append([]string{"/tmp"}, plan.Permissions.Write...),
		NetHosts:         plan.Permissions.Net,
		MemoryLimitBytes: s.config.MemoryLimitBytes,
		Timeout:          plan.Timeout,
	}

	result, err := s.runner.Run(ctx, spec)
	if err != nil {
		s.log.Warn("sandbox child failed to launch", "error", err, "contentHash", contentHash)
		return Outcome{ContentHash: contentHash}, model.Wrap(model.KindSandboxUnavailable, err, "failed to launch sandbox child")
	}

	s.log.Info("execution finished", "contentHash", contentHash, "exitCode", result.Code, "timedOut", result.TimedOut)
	s.publishOutput(plan, result)

	return Outcome{Result: result, ContentHash: contentHash}, nil
}

func (s *Supervisor) publishOutput(plan ExecutionPlan, result Result) {
	if plan.OutputStream == nil {
		return
	}
	pub, ok := plan.OutputStream.(outputPublisher)
	if !ok {
		return
	}
	if result.Stdout != "" {
		pub.PublishOutput("stdout", result.Stdout)
	}
	if result.Stderr != "" {
		pub.PublishOutput("stderr", result.Stderr)
	}
	errMsg := ""
	if result.TimedOut {
		errMsg = fmt.Sprintf("Execution timeout after %s", plan.Timeout)
	} else if result.Code != 0 {
		errMsg = fmt.Sprintf("exited with code %d", result.Code)
	}
	pub.PublishComplete(result.Code == 0 && !result.TimedOut, errMsg)
}

// writeScratch picks a unique scratch directory and writes the snippet
// atomically (write to a sibling temp file, then rename into place) so
// nothing ever observes a partially-written snippet.
func (s *Supervisor) writeScratch(lang model.Language, source string) (dir, path string, err error) {
	dir, err = os.MkdirTemp("", "dodo-exec-*")
	if err != nil {
		return "", "", err
	}

	ext := ".ts"
	if lang == model.LanguagePython {
		ext = ".py"
	}
	path = filepath.Join(dir, "snippet"+ext)

	tmp := path + ".tmp"
	if werr := os.WriteFile(tmp, []byte(source), 0o600); werr != nil {
		return dir, "", werr
	}
	if rerr := os.Rename(tmp, path); rerr != nil {
		return dir, "", rerr
	}

	return dir, path, nil
}

// teardown shuts down plan's brokers in the order output-stream,
// tool-call, sampling, swallowing any panic from a misbehaving broker so
// one failure never blocks the rest.
func (s *Supervisor) teardown(plan ExecutionPlan) {
	for _, sd := range []Shutdowner{plan.OutputStream, plan.ToolCall, plan.Sampling} {
		if sd == nil {
			continue
		}
		s.safeShutdown(sd)
	}
}

func (s *Supervisor) safeShutdown(sd Shutdowner) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Warn("broker shutdown panicked", "recovered", r)
		}
	}()
	sd.Shutdown()
}
