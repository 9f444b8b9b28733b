// Package sampling narrows the teacher's full agent-loop LLM client
// abstraction (internal/providers, internal/engine.LLMClient — a
// multi-turn chat loop with tool-call round-tripping) down to the single
// request/response shape the LLM-sampling broker (C9) needs: one
// message list in, one completion or token-stream out, no tool calls.
package sampling

import "context"

// Role is the message role in a sampling request, mirroring the subset of
// roles a recursive sampling call can use (no "tool" role — sampling
// never round-trips tool calls, only C7 does).
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in a sampling request's conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request is one sampling call, corresponding directly to the wire body
// POSTed to `/sample` in §6.
type Request struct {
	Messages     []Message `json:"messages"`
	Model        string    `json:"model,omitempty"`
	SystemPrompt string    `json:"systemPrompt,omitempty"`
	MaxTokens    int       `json:"maxTokens,omitempty"`
}

// Usage is token accounting as reported by the provider.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// Result is a completed, non-streaming sampling response.
type Result struct {
	Content    string `json:"content"`
	StopReason string `json:"stopReason,omitempty"`
	Model      string `json:"model"`
	Usage      Usage  `json:"usage"`
}

// ChunkType identifies the kind of event on a streaming sampling response.
type ChunkType string

const (
	ChunkText  ChunkType = "chunk"
	ChunkDone  ChunkType = "done"
	ChunkError ChunkType = "error"
)

// Chunk is one SSE event emitted by a streaming sampling call.
type Chunk struct {
	Type    ChunkType `json:"type"`
	Content string    `json:"content,omitempty"`
	Model   string    `json:"model,omitempty"`
	Usage   *Usage    `json:"usage,omitempty"`
	Error   string    `json:"error,omitempty"`
}

// Provider is the interface every LLM backend implements for the sampling
// broker: a single blocking completion, or a channel of streamed chunks.
type Provider interface {
	Complete(ctx context.Context, req Request) (Result, error)
	Stream(ctx context.Context, req Request) (<-chan Chunk, <-chan error)
}
