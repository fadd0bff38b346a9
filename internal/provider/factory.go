package provider

import (
	"fmt"
	"log/slog"

	"textllm/internal/domain"
)

// constructor builds a provider from the validated config.
type constructor func(cfg domain.ProviderConfig, logger *slog.Logger) domain.Provider

var constructors = map[domain.ProviderKind]constructor{
	domain.ProviderOpenAI: func(cfg domain.ProviderConfig, logger *slog.Logger) domain.Provider {
		return NewOpenAI(OpenAIConfig{
			APIKey:      cfg.APIKey,
			APIBase:     cfg.APIBase,
			Model:       cfg.Model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
			Logger:      logger,
		})
	},
	domain.ProviderXAI: func(cfg domain.ProviderConfig, logger *slog.Logger) domain.Provider {
		base := cfg.APIBase
		if base == "" {
			base = xaiDefaultBase
		}
		model := cfg.Model
		if model == "" {
			model = xaiDefaultModel
		}
		return NewOpenAI(OpenAIConfig{
			Name:        string(domain.ProviderXAI),
			APIKey:      cfg.APIKey,
			APIBase:     base,
			Model:       model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
			Logger:      logger,
		})
	},
	domain.ProviderAnthropic: func(cfg domain.ProviderConfig, logger *slog.Logger) domain.Provider {
		return NewClaude(ClaudeConfig{
			APIKey:    cfg.APIKey,
			APIBase:   cfg.APIBase,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
			Logger:    logger,
		})
	},
}

// New returns the provider selected by cfg.Provider. An unsupported kind or a
// missing API key is a *domain.ConfigurationError.
func New(cfg domain.ProviderConfig, logger *slog.Logger) (domain.Provider, error) {
	ctor, ok := constructors[cfg.Provider]
	if !ok {
		return nil, &domain.ConfigurationError{Problems: []string{
			fmt.Sprintf("unsupported llm provider %q (want one of %v)", cfg.Provider, domain.ProviderKinds),
		}}
	}
	if cfg.APIKey == "" {
		return nil, &domain.ConfigurationError{Problems: []string{
			fmt.Sprintf("llm provider %s: api key is required", cfg.Provider),
		}}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return ctor(cfg, logger), nil
}

// DefaultModel reports the model used for kind when none is configured.
func DefaultModel(kind domain.ProviderKind) string {
	switch kind {
	case domain.ProviderOpenAI:
		return openAIDefaultModel
	case domain.ProviderXAI:
		return xaiDefaultModel
	case domain.ProviderAnthropic:
		return claudeDefaultModel
	}
	return ""
}
