// Package sandbox implements the sandbox supervisor (C11): it prepares a
// scratch file, builds a least-privilege execution spec, launches the
// child through a Runner (Docker or bare host process), pipes its output,
// and enforces the wall-clock timeout. Adapted from the teacher's
// sandbox.Runner/DockerRunner/HostRunner, which ran arbitrary repo-local
// commands with no network/filesystem restriction beyond a bind mount —
// here the child runs exactly one submitted snippet, with per-execution
// credentials injected and an explicit permission grant instead of full
// repo access.
package sandbox

import (
	"context"
	"time"
)

// Result captures the outcome of one child execution.
type Result struct {
	Stdout   string
	Stderr   string
	Code     int
	TimedOut bool
}

// Spec is everything a Runner needs to launch one execution's child
// process: the scratch file to run, the least-privilege grants derived
// from the caller's permissions, and the per-execution broker credentials
// to inject as environment variables.
type Spec struct {
	// ScratchDir is the directory containing ScratchPath; bind-mounted
	// read-only for Docker runners, used as-is for the host runner.
	ScratchDir  string
	ScratchPath string

	// Command/Args is the language interpreter invocation, e.g.
	// {"node", []string{scratchPath}} or {"python3", []string{scratchPath}}.
	Command string
	Args    []string

	Image string // Docker image to run under; ignored by HostRunner.

	// Env is the full environment the child receives: per-execution
	// bearer tokens and broker URLs. No ambient environment is inherited.
	Env map[string]string

	ReadPaths  []string // always includes ScratchDir.
	WritePaths []string
	NetHosts   []string // loopback is always implicitly allowed.

	MemoryLimitBytes int64
	Timeout          time.Duration
}

// Runner defines the interface for launching one execution's child
// process in an isolated environment.
type Runner interface {
	Run(ctx context.Context, spec Spec) (Result, error)
}
