package config

import "testing"

func TestLoadPools_DefaultsWhenUnset(t *testing.T) {
	pools, err := LoadPools()
	if err != nil {
		t.Fatalf("LoadPools: %v", err)
	}
	if pools.Admission.MaxConcurrent != 100 || pools.Admission.QueueMax != 200 {
		t.Fatalf("expected documented defaults, got %+v", pools.Admission)
	}
}

func TestLoadPools_OverridesFromEnv(t *testing.T) {
	t.Setenv("DODO_MAX_CONCURRENT", "250")
	t.Setenv("DODO_QUEUE_SIZE", "400")
	t.Setenv("DODO_QUEUE_TIMEOUT_MS", "15000")

	pools, err := LoadPools()
	if err != nil {
		t.Fatalf("LoadPools: %v", err)
	}
	if pools.Admission.MaxConcurrent != 250 {
		t.Fatalf("expected MaxConcurrent 250, got %d", pools.Admission.MaxConcurrent)
	}
	if pools.Admission.QueueMax != 400 {
		t.Fatalf("expected QueueMax 400, got %d", pools.Admission.QueueMax)
	}
	if pools.Admission.QueueTimeout.String() != "15s" {
		t.Fatalf("expected QueueTimeout 15s, got %s", pools.Admission.QueueTimeout)
	}
}

func TestLoadPools_RejectsOutOfRangeMaxConcurrent(t *testing.T) {
	t.Setenv("DODO_MAX_CONCURRENT", "0")
	if _, err := LoadPools(); err == nil {
		t.Fatalf("expected an error for DODO_MAX_CONCURRENT=0")
	}

	t.Setenv("DODO_MAX_CONCURRENT", "5000")
	if _, err := LoadPools(); err == nil {
		t.Fatalf("expected an error for DODO_MAX_CONCURRENT=5000")
	}
}

func TestLoadPools_RejectsNonNumericQueueTimeout(t *testing.T) {
	t.Setenv("DODO_QUEUE_TIMEOUT_MS", "soon")
	if _, err := LoadPools(); err == nil {
		t.Fatalf("expected an error for a non-numeric queue timeout")
	}
}

func TestLoadPools_SkipDangerousPatternCheckFlag(t *testing.T) {
	t.Setenv("DODO_SKIP_DANGEROUS_PATTERN_CHECK", "true")
	pools, err := LoadPools()
	if err != nil {
		t.Fatalf("LoadPools: %v", err)
	}
	if !pools.SkipDangerousPatternCheck {
		t.Fatalf("expected SkipDangerousPatternCheck to be true")
	}
}
