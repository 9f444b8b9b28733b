package sampling

import (
	"context"
	"fmt"

	anthropic "github.com/liushuangls/go-anthropic/v2"
)

// AnthropicProvider adapts github.com/liushuangls/go-anthropic/v2 to
// Provider. Grounded on the teacher's internal/providers.AnthropicClient,
// stripped of that client's tool-call round-tripping (Chat's
// ToolCalls/ToolDefinition handling, Stream's OnContentBlockStop tool_use
// branch) since sampling is plain text completion only.
type AnthropicProvider struct {
	client       *anthropic.Client
	defaultModel string
}

// NewAnthropicProvider constructs an AnthropicProvider.
func NewAnthropicProvider(apiKey, defaultModel string) *AnthropicProvider {
	return &AnthropicProvider{client: anthropic.NewClient(apiKey), defaultModel: defaultModel}
}

func (p *AnthropicProvider) model(req Request) string {
	if req.Model != "" {
		return req.Model
	}
	return p.defaultModel
}

func toAnthropicMessages(msgs []Message) []anthropic.Message {
	out := make([]anthropic.Message, 0, len(msgs))
	for _, m := range msgs {
		role := anthropic.RoleUser
		if m.Role == RoleAssistant {
			role = anthropic.RoleAssistant
		}
		out = append(out, anthropic.Message{
			Role:    role,
			Content: []anthropic.MessageContent{anthropic.NewTextMessageContent(m.Content)},
		})
	}
	return out
}

func (p *AnthropicProvider) buildRequest(req Request) anthropic.MessagesRequest {
	maxTokens := 4096
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	temperature := float32(0.1)

	areq := anthropic.MessagesRequest{
		Model:       anthropic.Model(p.model(req)),
		Messages:    toAnthropicMessages(req.Messages),
		MaxTokens:   maxTokens,
		Temperature: &temperature,
	}
	if req.SystemPrompt != "" {
		areq.MultiSystem = []anthropic.MessageSystemPart{{Type: "text", Text: req.SystemPrompt}}
	}
	return areq
}

func (p *AnthropicProvider) Complete(ctx context.Context, req Request) (Result, error) {
	resp, err := p.client.CreateMessages(ctx, p.buildRequest(req))
	if err != nil {
		return Result{}, fmt.Errorf("sampling: anthropic: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == anthropic.MessagesContentTypeText && block.Text != nil {
			text += *block.Text
		}
	}

	return Result{
		Content:    text,
		StopReason: string(resp.StopReason),
		Model:      p.model(req),
		Usage: Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
	}, nil
}

func (p *AnthropicProvider) Stream(ctx context.Context, req Request) (<-chan Chunk, <-chan error) {
	chunks := make(chan Chunk, 10)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		sreq := anthropic.MessagesStreamRequest{MessagesRequest: p.buildRequest(req)}
		sreq.OnError = func(resp anthropic.ErrorResponse) {
			select {
			case chunks <- Chunk{Type: ChunkError, Error: resp.Error.Message}:
			case <-ctx.Done():
			}
		}
		sreq.OnContentBlockDelta = func(delta anthropic.MessagesEventContentBlockDeltaData) {
			if delta.Delta.Type != "text_delta" || delta.Delta.Text == nil {
				return
			}
			select {
			case chunks <- Chunk{Type: ChunkText, Content: *delta.Delta.Text}:
			case <-ctx.Done():
			}
		}

		resp, err := p.client.CreateMessagesStream(ctx, sreq)
		if err != nil {
			errs <- fmt.Errorf("sampling: anthropic stream: %w", err)
			return
		}

		select {
		case chunks <- Chunk{
			Type:  ChunkDone,
			Model: p.model(req),
			Usage: &Usage{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens},
		}:
		case <-ctx.Done():
		}
	}()

	return chunks, errs
}
