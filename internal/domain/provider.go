package domain

import "context"

// ProviderKind is the closed set of supported LLM backends.
type ProviderKind string

const (
	ProviderOpenAI    ProviderKind = "openai"
	ProviderAnthropic ProviderKind = "anthropic"
	ProviderXAI       ProviderKind = "xai"
)

// ProviderKinds lists the accepted values of ProviderConfig.Provider.
var ProviderKinds = []ProviderKind{ProviderOpenAI, ProviderAnthropic, ProviderXAI}

func (k ProviderKind) Valid() bool {
	for _, known := range ProviderKinds {
		if k == known {
			return true
		}
	}
	return false
}

// ProviderConfig selects and parameterizes the single active provider.
// It is built once at startup and never mutated afterwards.
type ProviderConfig struct {
	Provider    ProviderKind
	APIKey      string
	Model       string
	MaxTokens   int
	APIBase     string  // optional endpoint override
	Temperature float64 // OpenAI-style providers only
}

// Provider is the uniform contract over LLM backends.
type Provider interface {
	// Generate sends prompt as a single user message. maxTokens <= 0 uses the
	// configured default for this call only.
	Generate(ctx context.Context, prompt string, maxTokens int) (*GenerationResult, error)
	Name() string
	Model() string
}

// GenerationResult is produced once per successful provider call.
type GenerationResult struct {
	Text       string
	TokensUsed int // 0 when the provider did not report usage
	Provider   string
	Model      string
}
