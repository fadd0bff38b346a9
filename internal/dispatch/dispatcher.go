// Package dispatch turns canonical inbound messages into replies by calling
// the configured LLM provider exactly once per message.
package dispatch

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"textllm/internal/domain"
	"textllm/internal/metrics"

	"github.com/google/uuid"
)

// FallbackText is the reply sent when the provider call fails.
const FallbackText = "Sorry, I encountered an error processing your request. Please try again later."

// Dispatcher implements domain.Processor. It is stateless apart from its
// dependencies and safe for concurrent use.
type Dispatcher struct {
	provider  domain.Provider
	maxTokens int
	timeout   time.Duration
	metrics   *metrics.Relay
	logger    *slog.Logger
}

type Config struct {
	Provider  domain.Provider
	MaxTokens int           // per-call override; 0 uses the provider default
	Timeout   time.Duration // bound on a single generation; 0 means 60s
	Metrics   *metrics.Relay
	Logger    *slog.Logger
}

func New(cfg Config) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Dispatcher{
		provider:  cfg.Provider,
		maxTokens: cfg.MaxTokens,
		timeout:   cfg.Timeout,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
	}
}

// Handle makes one provider call for msg and returns the reply to deliver.
// It never fails: a provider error yields FallbackText.
func (d *Dispatcher) Handle(ctx context.Context, msg domain.InboundMessage) domain.OutboundReply {
	if msg.RequestID == "" {
		msg.RequestID = uuid.NewString()
	}
	logger := d.logger.With(
		"request_id", msg.RequestID,
		"channel", msg.Channel,
		"chat_id", msg.ChatID,
	)
	d.metrics.MessageReceived(string(msg.Channel))
	logger.Info("dispatching message", "sender", msg.SenderID, "text_len", len(msg.Text))

	reply := domain.OutboundReply{
		Channel:     msg.Channel,
		ChatID:      msg.ChatID,
		ReplyTarget: msg.ReplyTarget,
	}

	text, err := d.generate(ctx, strings.TrimSpace(msg.Text), logger)
	if err != nil {
		logger.Error("generation failed", "provider", d.provider.Name(), "err", err)
		text = FallbackText
	}

	reply.Text = msg.Channel.ClampReply(text)
	return reply
}

func (d *Dispatcher) generate(ctx context.Context, prompt string, logger *slog.Logger) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	done := d.metrics.InFlight()
	defer done()

	start := time.Now()
	res, err := d.provider.Generate(ctx, prompt, d.maxTokens)
	elapsed := time.Since(start)
	d.metrics.ProviderCall(d.provider.Name(), elapsed, err)
	if err != nil {
		return "", err
	}

	logger.Info("generation complete",
		"provider", res.Provider,
		"model", res.Model,
		"tokens", res.TokensUsed,
		"reply_len", len(res.Text),
		"elapsed", elapsed.Round(time.Millisecond),
	)
	return res.Text, nil
}

// Process runs Handle and delivers the reply through sender, reporting
// whether delivery succeeded.
func (d *Dispatcher) Process(ctx context.Context, msg domain.InboundMessage, sender domain.Sender) bool {
	reply := d.Handle(ctx, msg)
	if ok := sender.Send(ctx, reply); !ok {
		d.metrics.DeliveryFailed(string(reply.Channel))
		d.logger.Warn("reply not delivered", "channel", reply.Channel, "chat_id", reply.ChatID)
		return false
	}
	return true
}
