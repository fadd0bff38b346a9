package provider

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"textllm/internal/domain"

	openai "github.com/sashabaranov/go-openai"
)

const (
	openAIDefaultBase  = "https://api.openai.com/v1"
	openAIDefaultModel = "gpt-4o-mini"
	xaiDefaultBase     = "https://api.x.ai/v1"
	xaiDefaultModel    = "grok-beta"
)

// OpenAI implements domain.Provider for the OpenAI chat completions API and
// for API-compatible backends such as xAI.
type OpenAI struct {
	name        string
	model       string
	maxTokens   int
	temperature float32
	client      *openai.Client
	logger      *slog.Logger
}

type OpenAIConfig struct {
	Name        string // reported provider name, "openai" when empty
	APIKey      string
	APIBase     string
	Model       string
	MaxTokens   int
	Temperature float64
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.Name == "" {
		cfg.Name = string(domain.ProviderOpenAI)
	}
	if cfg.APIBase == "" {
		cfg.APIBase = openAIDefaultBase
	}
	if cfg.Model == "" {
		cfg.Model = openAIDefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = SharedHTTPClient(GenerationTimeout)
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = strings.TrimRight(cfg.APIBase, "/")
	oc.HTTPClient = recordErrorBodies(cfg.HTTPClient)

	return &OpenAI{
		name:        cfg.Name,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: float32(cfg.Temperature),
		client:      openai.NewClientWithConfig(oc),
		logger:      cfg.Logger,
	}
}

func (o *OpenAI) Name() string  { return o.name }
func (o *OpenAI) Model() string { return o.model }

func (o *OpenAI) Generate(ctx context.Context, prompt string, maxTokens int) (*domain.GenerationResult, error) {
	if maxTokens <= 0 {
		maxTokens = o.maxTokens
	}

	var failed errorBody
	resp, err := o.client.CreateChatCompletion(withErrorBody(ctx, &failed), openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   maxTokens,
		Temperature: o.temperature,
	})
	if err != nil {
		return nil, o.wrapErr(err, failed.data)
	}

	if len(resp.Choices) == 0 {
		return nil, &domain.ProviderError{Provider: o.name, Err: errors.New("response has no choices")}
	}
	text := resp.Choices[0].Message.Content
	if strings.TrimSpace(text) == "" {
		return nil, &domain.ProviderError{Provider: o.name, Err: errors.New("empty completion")}
	}

	o.logger.Debug("completion received",
		"provider", o.name, "model", o.model, "tokens", resp.Usage.TotalTokens)

	return &domain.GenerationResult{
		Text:       text,
		TokensUsed: resp.Usage.TotalTokens,
		Provider:   o.name,
		Model:      o.model,
	}, nil
}

// wrapErr maps go-openai failures onto domain.ProviderError. Body is the raw
// upstream response when one was captured, else what the SDK decoded.
func (o *OpenAI) wrapErr(err error, raw []byte) error {
	pe := &domain.ProviderError{Provider: o.name, Err: err}

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		pe.StatusCode = apiErr.HTTPStatusCode
		pe.Body = apiErr.Message
	case errors.As(err, &reqErr):
		pe.StatusCode = reqErr.HTTPStatusCode
		pe.Body = string(reqErr.Body)
	}
	if len(raw) > 0 {
		pe.Body = string(raw)
	}
	return pe
}
