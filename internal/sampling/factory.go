package sampling

import (
	"fmt"
	"os"
)

// ProviderFromEnv builds a Provider from environment variables, adapting
// the teacher's internal/providers.NewLLMClientFromEnv provider-switch
// idiom. Trimmed to the two concrete SDKs wired into this module plus a
// generic OpenAI-compatible escape hatch (OPENAI_BASE_URL) rather than
// replicating every alias the teacher's factory recognizes — kimi, glm,
// minimax, deepseek, and groq are all "OpenAI-compatible with a different
// base URL", which OPENAI_BASE_URL already covers without a named branch
// per vendor.
func ProviderFromEnv() (Provider, error) {
	switch os.Getenv("LLM_PROVIDER") {
	case "anthropic":
		apiKey := os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("sampling: ANTHROPIC_API_KEY not set")
		}
		model := os.Getenv("ANTHROPIC_MODEL")
		if model == "" {
			model = "claude-3-5-sonnet-latest"
		}
		return NewAnthropicProvider(apiKey, model), nil

	case "openai", "":
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("sampling: OPENAI_API_KEY not set")
		}
		model := os.Getenv("OPENAI_MODEL")
		if model == "" {
			model = "gpt-4o-mini"
		}
		return NewOpenAIProvider(apiKey, model, os.Getenv("OPENAI_BASE_URL")), nil

	default:
		return nil, fmt.Errorf("sampling: unknown LLM_PROVIDER %q", os.Getenv("LLM_PROVIDER"))
	}
}
