// Package upstream implements the upstream client pool (C5): connecting
// to N configured backends over either a local-process stdio transport or
// an HTTP transport, fanning out discovery, and dispatching tool calls
// through the circuit breaker (C1) and admission pool (C2).
package upstream

import (
	"context"
	"encoding/json"
)

// ToolDescriptor is the wire shape a backend returns for one tool in its
// tool-list response, before it is stamped with the "prefix__server__"
// identifier and folded into a model.ToolSchema by the pool.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema"`
}

// Transport is the connection a backend descriptor is reached through.
// LocalProcess and HTTPStream each implement this against the same
// contract so the pool's call/list logic never branches on transport kind.
type Transport interface {
	// Connect establishes (or re-establishes) the connection. Idempotent:
	// calling Connect on an already-connected transport is a no-op.
	Connect(ctx context.Context) error
	// ListTools fetches the backend's current tool catalog.
	ListTools(ctx context.Context) ([]ToolDescriptor, error)
	// Call invokes one backend tool by its backend-local name (without the
	// "prefix__server__" wrapping the pool applies).
	Call(ctx context.Context, toolName string, params map[string]any) (json.RawMessage, error)
	// Close releases the transport's resources. For LocalProcess this
	// signals the child to terminate; for HTTPStream it closes idle
	// connections.
	Close(ctx context.Context) error
}
