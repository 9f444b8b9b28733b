package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/ChamsBouzaiene/dodo/internal/admission"
	"github.com/ChamsBouzaiene/dodo/internal/breaker"
	"github.com/ChamsBouzaiene/dodo/internal/ratelimit"
)

// Pools bundles the process-wide C1-C3 configs derived from environment
// variables, each falling back to its package's own documented default
// when the variable is unset.
type Pools struct {
	Breaker                   breaker.Config
	Admission                 admission.Config
	RateLimit                 ratelimit.Config
	SkipDangerousPatternCheck bool
}

// LoadPools reads DODO_MAX_CONCURRENT, DODO_QUEUE_SIZE, DODO_QUEUE_TIMEOUT_MS
// (the three admission-pool bounds), plus the breaker/rate-limit and
// dangerous-pattern-bypass variables, validating each against the bounds a
// startup error message. An out-of-range or non-numeric value is reported
// through err rather than silently clamped, since these are operator
// startup inputs, not per-request ones.
func LoadPools() (Pools, error) {
	pools := Pools{
		Breaker:   breaker.DefaultConfig(),
		Admission: admission.DefaultConfig(),
		RateLimit: ratelimit.DefaultConfig(),
	}

	if v := os.Getenv("DODO_MAX_CONCURRENT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			return Pools{}, fmt.Errorf("config: DODO_MAX_CONCURRENT must be an integer in [1, 1000], got %q", v)
		}
		pools.Admission.MaxConcurrent = n
	}

	if v := os.Getenv("DODO_QUEUE_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			return Pools{}, fmt.Errorf("config: DODO_QUEUE_SIZE must be an integer in [1, 1000], got %q", v)
		}
		pools.Admission.QueueMax = n
	}

	if v := os.Getenv("DODO_QUEUE_TIMEOUT_MS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1000 || n > 300000 {
			return Pools{}, fmt.Errorf("config: DODO_QUEUE_TIMEOUT_MS must be an integer in [1000, 300000], got %q", v)
		}
		pools.Admission.QueueTimeout = time.Duration(n) * time.Millisecond
	}

	if v := os.Getenv("DODO_BREAKER_FAILURE_THRESHOLD"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return Pools{}, fmt.Errorf("config: DODO_BREAKER_FAILURE_THRESHOLD must be a positive integer, got %q", v)
		}
		pools.Breaker.FailureThreshold = n
	}

	if v := os.Getenv("DODO_BREAKER_COOLDOWN"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Pools{}, fmt.Errorf("config: DODO_BREAKER_COOLDOWN must be a positive duration, got %q", v)
		}
		pools.Breaker.Cooldown = d
	}

	if v := os.Getenv("DODO_RATE_LIMIT_TOKENS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return Pools{}, fmt.Errorf("config: DODO_RATE_LIMIT_TOKENS must be a positive integer, got %q", v)
		}
		pools.RateLimit.Tokens = n
	}

	if v := os.Getenv("DODO_RATE_LIMIT_WINDOW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Pools{}, fmt.Errorf("config: DODO_RATE_LIMIT_WINDOW must be a positive duration, got %q", v)
		}
		pools.RateLimit.Window = d
	}

	if v := os.Getenv("DODO_SKIP_DANGEROUS_PATTERN_CHECK"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Pools{}, fmt.Errorf("config: DODO_SKIP_DANGEROUS_PATTERN_CHECK must be a bool, got %q", v)
		}
		pools.SkipDangerousPatternCheck = b
		if b {
			slog.Warn("DODO_SKIP_DANGEROUS_PATTERN_CHECK is set: every execution defaults to skipping the dangerous-pattern check")
		}
	}

	return pools, nil
}
