package audit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"testing"
	"time"
)

func TestLogger_WritesDiscoveryEvent(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Output: &buf, BufferSize: 8}, nil)

	l.AuditDiscovery("discovery", []string{"fs"}, 2, time.Now())
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	scanner := bufio.NewScanner(&buf)
	if !scanner.Scan() {
		t.Fatal("expected at least one line written")
	}
	var ev Event
	if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if ev.Action != string(EventDiscovery) || ev.ResultsCount != 2 {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestLogger_DropsWhenBufferFull(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Output: &buf, BufferSize: 1}, nil)

	for i := 0; i < 50; i++ {
		l.AuditDiscovery("discovery", nil, i, time.Now())
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// No assertion on exact count: the point is that emitting far more
	// events than the buffer holds must not block or panic.
}
