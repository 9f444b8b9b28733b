package ratelimit

import (
	"testing"
	"time"
)

func TestLimiter_AllowsUpToCapacity(t *testing.T) {
	l := New(Config{Tokens: 3, Window: time.Minute})
	for i := 0; i < 3; i++ {
		res := l.CheckLimit("client:tool")
		if !res.Allowed {
			t.Fatalf("call %d: expected allowed", i)
		}
	}
	res := l.CheckLimit("client:tool")
	if res.Allowed {
		t.Fatalf("4th call should be denied")
	}
	if res.ResetInMs <= 0 {
		t.Fatalf("expected positive resetInMs on denial, got %d", res.ResetInMs)
	}
}

func TestLimiter_IndependentKeys(t *testing.T) {
	l := New(Config{Tokens: 1, Window: time.Minute})
	if !l.CheckLimit("client:discovery").Allowed {
		t.Fatalf("discovery bucket should allow first call")
	}
	if !l.CheckLimit("client:toolcall").Allowed {
		t.Fatalf("toolcall bucket should be independent of discovery")
	}
	if l.CheckLimit("client:discovery").Allowed {
		t.Fatalf("discovery bucket should now be exhausted")
	}
}

func TestLimiter_FillLevelReported(t *testing.T) {
	l := New(Config{Tokens: 10, Window: time.Minute})
	res := l.CheckLimit("client:x")
	if res.FillLevel <= 0 || res.FillLevel > 1 {
		t.Fatalf("expected fillLevel in (0,1], got %v", res.FillLevel)
	}
	if res.Remaining != 9 {
		t.Fatalf("expected 9 remaining after first call, got %d", res.Remaining)
	}
}

func TestLimiter_Reset(t *testing.T) {
	l := New(Config{Tokens: 1, Window: time.Minute})
	l.CheckLimit("k")
	if l.CheckLimit("k").Allowed {
		t.Fatalf("bucket should be exhausted before reset")
	}
	l.Reset("k")
	if !l.CheckLimit("k").Allowed {
		t.Fatalf("bucket should be full again after reset")
	}
}

func TestLimiter_EvictsIdleBucketsPastCapacity(t *testing.T) {
	l := New(Config{Tokens: 1, Window: time.Minute, Capacity: 2})
	l.CheckLimit("a")
	l.CheckLimit("b")
	l.CheckLimit("c") // evicts "a", the least recently used bucket.

	if !l.CheckLimit("a").Allowed {
		t.Fatalf("expected a fresh bucket for the evicted key, got the exhausted one")
	}
}
