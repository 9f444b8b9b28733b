// Package outputstream implements the output-stream broker (C10): an
// optional loopback WebSocket endpoint that fans stdout/stderr chunks out
// to every connected subscriber as they're produced. Grounded on
// haasonsaas-nexus's internal/gateway.wsControlPlane session shape (one
// read loop, one write loop per connection, ping/pong keepalive), narrowed
// from a full bidirectional control-plane protocol down to a one-way
// fan-out: subscribers never send anything the broker acts on.
package outputstream

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ChamsBouzaiene/dodo/internal/broker"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 45 * time.Second
	pingInterval   = 15 * time.Second
	maxReadPayload = 1 << 10 // subscribers never send payloads; just enough to read a close/pong.
	subscriberBuf  = 64      // per-subscriber bounded send buffer; full buffer drops.
)

// EventType identifies the kind of event pushed to subscribers.
type EventType string

const (
	EventOutput   EventType = "output"
	EventComplete EventType = "complete"
)

// Stream is one output event, wire-identical for every subscriber.
type Stream struct {
	Type    EventType `json:"type"`
	Channel string    `json:"channel,omitempty"` // "stdout" | "stderr", set when Type == output
	Data    string    `json:"data,omitempty"`
	Success *bool     `json:"success,omitempty"` // set when Type == complete
	Error   string    `json:"error,omitempty"`
}

// Config configures one execution's output-stream broker.
type Config struct {
	Token string
	Log   *slog.Logger
}

// Broker is one execution's output-stream endpoint. Best-effort: a
// subscriber that can't keep up has chunks dropped for it rather than
// blocking the sandbox's stdout/stderr pump.
type Broker struct {
	log      *slog.Logger
	upgrader websocket.Upgrader
	router   chi.Router

	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
	dropped     atomic.Int64
}

type subscriber struct {
	send chan []byte
}

// New constructs an output-stream Broker.
func New(cfg Config) *Broker {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	b := &Broker{
		log:         log,
		subscribers: make(map[*subscriber]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Loopback-only endpoint bound to a random port per execution;
			// Origin checks don't add meaningful protection here, matching
			// the teacher's control-plane upgrader.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	r := chi.NewRouter()
	r.Use(broker.RequestID)
	r.Get("/", b.handleUpgrade(cfg.Token))
	b.router = r
	return b
}

// Handler returns the broker's http.Handler.
func (b *Broker) Handler() http.Handler { return b.router }

// DroppedCount reports how many chunks were dropped across all
// subscribers for a full send buffer, for inclusion in diagnostics.
func (b *Broker) DroppedCount() int64 { return b.dropped.Load() }

func (b *Broker) handleUpgrade(token string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != token {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := b.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		sub := &subscriber{send: make(chan []byte, subscriberBuf)}
		b.mu.Lock()
		b.subscribers[sub] = struct{}{}
		b.mu.Unlock()

		go b.writeLoop(conn, sub)
		b.readLoop(conn, sub)
	}
}

// readLoop exists only to drain pongs and detect disconnection; output-
// stream subscribers never send application frames.
func (b *Broker) readLoop(conn *websocket.Conn, sub *subscriber) {
	conn.SetReadLimit(maxReadPayload)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	b.mu.Lock()
	delete(b.subscribers, sub)
	b.mu.Unlock()
	close(sub.send)
	_ = conn.Close()
}

func (b *Broker) writeLoop(conn *websocket.Conn, sub *subscriber) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-sub.send:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Publish fans ev out to every currently connected subscriber. A
// subscriber whose send buffer is full has this event dropped for it; the
// drop is counted, never blocks the caller (the sandbox's stdout/stderr
// pump), and never errors.
func (b *Broker) Publish(ev Stream) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subscribers {
		select {
		case sub.send <- payload:
		default:
			b.dropped.Add(1)
		}
	}
}

// PublishOutput is a convenience wrapper over Publish for one stdout/stderr
// chunk.
func (b *Broker) PublishOutput(channel, data string) {
	b.Publish(Stream{Type: EventOutput, Channel: channel, Data: data})
}

// PublishComplete announces execution completion to every subscriber.
func (b *Broker) PublishComplete(success bool, errMsg string) {
	b.Publish(Stream{Type: EventComplete, Success: &success, Error: errMsg})
}

// Shutdown closes every subscriber's connection. Best-effort: it does not
// wait for in-flight writes to flush, matching the broker's "best-effort,
// never blocks the sandbox" contract.
func (b *Broker) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subscribers {
		close(sub.send)
	}
	b.subscribers = make(map[*subscriber]struct{})
}
