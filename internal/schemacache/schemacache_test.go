package schemacache

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ChamsBouzaiene/dodo/internal/model"
)

func newTestCache(t *testing.T, cfg Config) *Cache {
	t.Helper()
	c, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestCache_GetMissThenFetch(t *testing.T) {
	c := newTestCache(t, Config{Capacity: 10, DefaultTTL: time.Hour})
	if _, ok := c.Get("dodo__fs__read_file"); ok {
		t.Fatalf("expected miss on empty cache")
	}

	var calls int32
	schema, err := c.GetOrFetch("dodo__fs__read_file", func() (model.ToolSchema, error) {
		atomic.AddInt32(&calls, 1)
		return model.ToolSchema{Name: "dodo__fs__read_file"}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if schema.Name != "dodo__fs__read_file" {
		t.Fatalf("unexpected schema: %+v", schema)
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 fetch, got %d", calls)
	}

	if got, ok := c.Get("dodo__fs__read_file"); !ok || got.Name != schema.Name {
		t.Fatalf("expected subsequent Get to hit cache")
	}
}

func TestCache_CoalescesConcurrentFetches(t *testing.T) {
	c := newTestCache(t, Config{Capacity: 10, DefaultTTL: time.Hour})
	var calls int32
	start := make(chan struct{})

	var wg sync.WaitGroup
	const n = 20
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			<-start
			_, err := c.GetOrFetch("dodo__fs__list_files", func() (model.ToolSchema, error) {
				atomic.AddInt32(&calls, 1)
				time.Sleep(10 * time.Millisecond)
				return model.ToolSchema{Name: "dodo__fs__list_files"}, nil
			})
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if calls != 1 {
		t.Fatalf("expected exactly 1 fetch across %d concurrent callers, got %d", n, calls)
	}
}

func TestCache_StaleOnError(t *testing.T) {
	c := newTestCache(t, Config{Capacity: 10, DefaultTTL: time.Millisecond})
	_, err := c.GetOrFetch("dodo__fs__write_file", func() (model.ToolSchema, error) {
		return model.ToolSchema{Name: "dodo__fs__write_file"}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	time.Sleep(5 * time.Millisecond) // let the TTL lapse

	boom := errors.New("backend unreachable")
	schema, err := c.GetOrFetch("dodo__fs__write_file", func() (model.ToolSchema, error) {
		return model.ToolSchema{}, boom
	})
	if err != nil {
		t.Fatalf("expected stale entry to mask the fetch error, got %v", err)
	}
	if schema.Name != "dodo__fs__write_file" {
		t.Fatalf("expected stale schema returned, got %+v", schema)
	}
}

func TestCache_ErrorWithoutStaleEntryPropagates(t *testing.T) {
	c := newTestCache(t, Config{Capacity: 10, DefaultTTL: time.Hour})
	boom := errors.New("backend unreachable")
	_, err := c.GetOrFetch("dodo__fs__delete_file", func() (model.ToolSchema, error) {
		return model.ToolSchema{}, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fetch error to propagate, got %v", err)
	}
}

func TestCache_InvalidateAndClear(t *testing.T) {
	c := newTestCache(t, Config{Capacity: 10, DefaultTTL: time.Hour})
	_, _ = c.GetOrFetch("a", func() (model.ToolSchema, error) { return model.ToolSchema{Name: "a"}, nil })
	_, _ = c.GetOrFetch("b", func() (model.ToolSchema, error) { return model.ToolSchema{Name: "b"}, nil })

	c.Invalidate("a")
	if _, ok := c.Get("a"); ok {
		t.Fatalf("expected 'a' to be gone after Invalidate")
	}
	if _, ok := c.Get("b"); !ok {
		t.Fatalf("expected 'b' to remain")
	}

	c.Clear()
	if c.Len() != 0 {
		t.Fatalf("expected empty cache after Clear, got %d entries", c.Len())
	}
}
