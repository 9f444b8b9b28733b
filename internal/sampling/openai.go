package sampling

import (
	"context"
	"errors"
	"fmt"
	"io"

	openai "github.com/meguminnnnnnnnn/go-openai"
)

// OpenAIProvider adapts github.com/meguminnnnnnnnn/go-openai (and any
// OpenAI-compatible endpoint reachable via baseURL) to Provider. Grounded
// on the teacher's internal/providers.OpenAIClient, stripped of its
// tool-call accumulation logic (the toolCallAccumulator map keyed by
// streamed tool-call ID) since sampling never dispatches tool calls.
type OpenAIProvider struct {
	client       *openai.Client
	defaultModel string
}

// NewOpenAIProvider constructs an OpenAIProvider. baseURL may be empty to
// use the default OpenAI endpoint.
func NewOpenAIProvider(apiKey, defaultModel, baseURL string) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIProvider{client: openai.NewClientWithConfig(cfg), defaultModel: defaultModel}
}

func (p *OpenAIProvider) model(req Request) string {
	if req.Model != "" {
		return req.Model
	}
	return p.defaultModel
}

func toOpenAIMessages(req Request) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		role := openai.ChatMessageRoleUser
		if m.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return out
}

func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (Result, error) {
	oreq := openai.ChatCompletionRequest{
		Model:    p.model(req),
		Messages: toOpenAIMessages(req),
	}
	if req.MaxTokens > 0 {
		oreq.MaxTokens = req.MaxTokens
	}

	resp, err := p.client.CreateChatCompletion(ctx, oreq)
	if err != nil {
		return Result{}, fmt.Errorf("sampling: openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Result{}, fmt.Errorf("sampling: openai: empty response")
	}
	choice := resp.Choices[0]

	return Result{
		Content:    choice.Message.Content,
		StopReason: string(choice.FinishReason),
		Model:      p.model(req),
		Usage: Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

func (p *OpenAIProvider) Stream(ctx context.Context, req Request) (<-chan Chunk, <-chan error) {
	chunks := make(chan Chunk, 10)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		oreq := openai.ChatCompletionRequest{
			Model:         p.model(req),
			Messages:      toOpenAIMessages(req),
			Stream:        true,
			StreamOptions: &openai.StreamOptions{IncludeUsage: true},
		}
		if req.MaxTokens > 0 {
			oreq.MaxTokens = req.MaxTokens
		}

		stream, err := p.client.CreateChatCompletionStream(ctx, oreq)
		if err != nil {
			errs <- fmt.Errorf("sampling: openai stream: %w", err)
			return
		}
		defer stream.Close()

		var usage Usage
		for {
			resp, err := stream.Recv()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					errs <- fmt.Errorf("sampling: openai stream: %w", err)
					return
				}
				break
			}
			if resp.Usage != nil {
				usage = Usage{InputTokens: resp.Usage.PromptTokens, OutputTokens: resp.Usage.CompletionTokens}
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			select {
			case chunks <- Chunk{Type: ChunkText, Content: delta}:
			case <-ctx.Done():
				return
			}
		}

		select {
		case chunks <- Chunk{Type: ChunkDone, Model: p.model(req), Usage: &usage}:
		case <-ctx.Done():
		}
	}()

	return chunks, errs
}
