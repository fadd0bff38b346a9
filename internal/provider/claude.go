package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"textllm/internal/domain"
)

const (
	claudeDefaultBase  = "https://api.anthropic.com/v1"
	claudeAPIVersion   = "2023-06-01"
	claudeDefaultModel = "claude-3-5-sonnet-20241022"
	defaultMaxTokens   = 1000
	maxErrorBody       = 4096
)

// Claude implements domain.Provider for the Anthropic Messages API.
type Claude struct {
	apiKey    string
	apiBase   string
	model     string
	maxTokens int
	client    *http.Client
	logger    *slog.Logger
}

type ClaudeConfig struct {
	APIKey     string
	APIBase    string
	Model      string
	MaxTokens  int
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// NewClaude creates a new Claude provider.
func NewClaude(cfg ClaudeConfig) *Claude {
	if cfg.APIBase == "" {
		cfg.APIBase = claudeDefaultBase
	}
	if cfg.Model == "" {
		cfg.Model = claudeDefaultModel
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
	return &Claude{
		apiKey:    cfg.APIKey,
		apiBase:   strings.TrimRight(cfg.APIBase, "/"),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		client:    cfg.HTTPClient,
		logger:    cfg.Logger,
	}
}

func (c *Claude) Name() string  { return string(domain.ProviderAnthropic) }
func (c *Claude) Model() string { return c.model }

type claudeRequest struct {
	Model     string      `json:"model"`
	MaxTokens int         `json:"max_tokens"`
	Messages  []claudeMsg `json:"messages"`
}

type claudeMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type claudeResponse struct {
	Content    []claudeContent `json:"content"`
	StopReason string          `json:"stop_reason"`
	Usage      claudeUsage     `json:"usage"`
}

type claudeUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func (c *Claude) Generate(ctx context.Context, prompt string, maxTokens int) (*domain.GenerationResult, error) {
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	jsonBody, err := json.Marshal(claudeRequest{
		Model:     c.model,
		MaxTokens: maxTokens,
		Messages:  []claudeMsg{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return nil, c.fail(0, "", fmt.Errorf("marshal: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/messages", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, c.fail(0, "", fmt.Errorf("new request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", claudeAPIVersion)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, c.fail(0, "", fmt.Errorf("request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, c.fail(resp.StatusCode, string(respBody), errors.New(http.StatusText(resp.StatusCode)))
	}

	var claudeResp claudeResponse
	if err := json.NewDecoder(resp.Body).Decode(&claudeResp); err != nil {
		return nil, c.fail(resp.StatusCode, "", fmt.Errorf("decode: %w", err))
	}

	text, ok := firstText(claudeResp.Content)
	if !ok {
		return nil, c.fail(resp.StatusCode, "", errors.New("response has no text block"))
	}

	c.logger.Debug("completion received",
		"provider", c.Name(), "model", c.model,
		"stop_reason", claudeResp.StopReason, "tokens", claudeResp.Usage.OutputTokens)

	return &domain.GenerationResult{
		Text:       text,
		TokensUsed: claudeResp.Usage.OutputTokens,
		Provider:   c.Name(),
		Model:      c.model,
	}, nil
}

func (c *Claude) fail(status int, body string, err error) error {
	return &domain.ProviderError{Provider: c.Name(), StatusCode: status, Body: body, Err: err}
}

func firstText(blocks []claudeContent) (string, bool) {
	for _, b := range blocks {
		if b.Type == "text" && strings.TrimSpace(b.Text) != "" {
			return b.Text, true
		}
	}
	return "", false
}
