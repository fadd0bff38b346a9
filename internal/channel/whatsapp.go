package channel

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"textllm/internal/domain"

	"github.com/twilio/twilio-go/client"
	"github.com/twilio/twilio-go/twiml"
)

// EmptyMessageReply answers a WhatsApp message with no body.
const EmptyMessageReply = "Empty message received."

// WhatsApp handles Twilio's WhatsApp webhook. Replies are returned inline as
// TwiML in the webhook response rather than through the REST API.
type WhatsApp struct {
	authToken  string
	accountSID string
	validator  client.RequestValidator
	logger     *slog.Logger
}

type WhatsAppConfig struct {
	AuthToken  string
	AccountSID string // optional: reject webhooks for other accounts
	Logger     *slog.Logger
}

func NewWhatsApp(cfg WhatsAppConfig) *WhatsApp {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &WhatsApp{
		authToken:  cfg.AuthToken,
		accountSID: cfg.AccountSID,
		validator:  client.NewRequestValidator(cfg.AuthToken),
		logger:     cfg.Logger,
	}
}

func (w *WhatsApp) Channel() domain.Channel { return domain.ChannelWhatsApp }

// Validate checks the X-Twilio-Signature header value against the full
// request URL and the POSTed form parameters. Twilio signs each parameter
// once, so only the first value of a repeated key is used.
func (w *WhatsApp) Validate(rawURL string, form url.Values, signature string) bool {
	if signature == "" || w.authToken == "" {
		return false
	}
	params := make(map[string]string, len(form))
	for k, v := range form {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	return w.validator.Validate(rawURL, params, signature)
}

// Parse builds the canonical message from a validated webhook form. An empty
// Body yields (nil, nil).
func (w *WhatsApp) Parse(form url.Values) (*domain.InboundMessage, error) {
	if form == nil {
		return nil, &domain.ParseError{Channel: domain.ChannelWhatsApp, Reason: "missing form"}
	}
	if w.accountSID != "" {
		if sid := form.Get("AccountSid"); sid != "" && sid != w.accountSID {
			return nil, &domain.ParseError{Channel: domain.ChannelWhatsApp, Reason: "unexpected AccountSid " + sid}
		}
	}

	body := strings.TrimSpace(form.Get("Body"))
	if body == "" {
		return nil, nil
	}

	sender := form.Get("WaId")
	if sender == "" {
		sender = form.Get("From")
	}
	if sender == "" {
		sender = "unknown"
	}

	return &domain.InboundMessage{
		Channel:    domain.ChannelWhatsApp,
		SenderID:   sender,
		ChatID:     sender,
		Text:       body,
		ReceivedAt: time.Now(),
	}, nil
}

// Reply renders text as a TwiML messaging response.
func Reply(text string) (string, error) {
	doc, err := twiml.Messages([]twiml.Element{twiml.MessagingMessage{Body: text}})
	if err != nil {
		return "", fmt.Errorf("render twiml: %w", err)
	}
	return doc, nil
}

// WriteReply writes text as a 200 TwiML response.
func WriteReply(rw http.ResponseWriter, text string) error {
	doc, err := Reply(text)
	if err != nil {
		return err
	}
	rw.Header().Set("Content-Type", "application/xml")
	rw.WriteHeader(http.StatusOK)
	_, err = rw.Write([]byte(doc))
	return err
}

// Responder returns a domain.Sender that delivers the reply as the TwiML body
// of the pending webhook response.
func (w *WhatsApp) Responder(rw http.ResponseWriter) domain.Sender {
	return &twimlSender{rw: rw, logger: w.logger}
}

type twimlSender struct {
	rw     http.ResponseWriter
	logger *slog.Logger
}

func (s *twimlSender) Channel() domain.Channel { return domain.ChannelWhatsApp }

func (s *twimlSender) Send(_ context.Context, reply domain.OutboundReply) bool {
	if err := WriteReply(s.rw, reply.Text); err != nil {
		s.logger.Error("whatsapp reply failed", "chat_id", reply.ChatID,
			"err", &domain.DeliveryError{Channel: domain.ChannelWhatsApp, Err: err})
		return false
	}
	s.logger.Info("whatsapp reply sent", "chat_id", reply.ChatID, "text_len", len(reply.Text))
	return true
}
