// Package audit implements the structured audit trail referenced across
// §4.8 (discovery requests) and §4.11 (scratch-file integrity events): a
// JSON-lines writer with async buffered writes, adapted from
// haasonsaas-nexus's internal/audit.Logger — narrowed from that package's
// general-purpose event taxonomy (tool/agent/permission/session/message/
// gateway events) down to the handful of event kinds this broker actually
// emits.
package audit

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// EventType categorizes an audit record.
type EventType string

const (
	EventDiscovery         EventType = "discovery"
	EventAllowlistDenied   EventType = "tool.allowlist_denied"
	EventScratchFileHash   EventType = "sandbox.scratch_hash"
	EventIntegrityMismatch EventType = "sandbox.integrity_mismatch"
)

// Event is one audit record, written as a single JSON line.
type Event struct {
	Action       string    `json:"action"`
	Timestamp    time.Time `json:"timestamp"`
	Endpoint     string    `json:"endpoint,omitempty"`
	SearchTerms  []string  `json:"searchTerms,omitempty"`
	ResultsCount int       `json:"resultsCount,omitempty"`
	ToolName     string    `json:"toolName,omitempty"`
	Detail       string    `json:"detail,omitempty"`
}

// Logger writes Events as JSON lines, batched through a buffered channel
// and flushed by one background goroutine so a slow or blocked sink (a
// full disk, a stalled log shipper) never stalls the broker request path.
type Logger struct {
	log    *slog.Logger
	out    io.Writer
	mu     sync.Mutex
	events chan Event
	done   chan struct{}
	wg     sync.WaitGroup
}

// Config tunes the logger's output and buffering.
type Config struct {
	Output     io.Writer // defaults to os.Stdout
	BufferSize int       // defaults to 256
}

// New constructs a Logger and starts its background writer.
func New(cfg Config, log *slog.Logger) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	if log == nil {
		log = slog.Default()
	}
	l := &Logger{
		log:    log,
		out:    cfg.Output,
		events: make(chan Event, cfg.BufferSize),
		done:   make(chan struct{}),
	}
	l.wg.Add(1)
	go l.run()
	return l
}

func (l *Logger) run() {
	defer l.wg.Done()
	for {
		select {
		case ev, ok := <-l.events:
			if !ok {
				return
			}
			l.write(ev)
		case <-l.done:
			// Drain whatever is already queued before exiting.
			for {
				select {
				case ev := <-l.events:
					l.write(ev)
				default:
					return
				}
			}
		}
	}
}

func (l *Logger) write(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	enc := json.NewEncoder(l.out)
	if err := enc.Encode(ev); err != nil {
		l.log.Warn("audit: failed to write event", "error", err)
	}
}

// emit enqueues ev, dropping it with a warning log if the buffer is full
// rather than blocking the caller — an audit trail gap is preferable to
// stalling a tool call or discovery request.
func (l *Logger) emit(ev Event) {
	select {
	case l.events <- ev:
	default:
		l.log.Warn("audit: buffer full, dropping event", "action", ev.Action)
	}
}

// AuditDiscovery implements discovery.AuditLogger: one record per
// discovery request, successful or not, per §4.8.
func (l *Logger) AuditDiscovery(endpoint string, searchTerms []string, resultsCount int, timestamp time.Time) {
	l.emit(Event{
		Action:       string(EventDiscovery),
		Timestamp:    timestamp,
		Endpoint:     endpoint,
		SearchTerms:  searchTerms,
		ResultsCount: resultsCount,
	})
}

// AuditAllowlistDenied records a tool call rejected by the allowlist.
func (l *Logger) AuditAllowlistDenied(toolName string, timestamp time.Time) {
	l.emit(Event{
		Action:    string(EventAllowlistDenied),
		Timestamp: timestamp,
		ToolName:  toolName,
	})
}

// AuditScratchHash records the pre-write content hash of a scratch file.
func (l *Logger) AuditScratchHash(hash string, timestamp time.Time) {
	l.emit(Event{
		Action:    string(EventScratchFileHash),
		Timestamp: timestamp,
		Detail:    hash,
	})
}

// AuditIntegrityMismatch records a post-exit integrity re-verification
// failure (only emitted when Config.VerifyIntegrity is enabled; see
// internal/sandbox).
func (l *Logger) AuditIntegrityMismatch(detail string, timestamp time.Time) {
	l.emit(Event{
		Action:    string(EventIntegrityMismatch),
		Timestamp: timestamp,
		Detail:    detail,
	})
}

// Close stops the background writer, draining any already-queued events.
func (l *Logger) Close() error {
	close(l.done)
	l.wg.Wait()
	return nil
}
