package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"textllm/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	telegramSendTimeout   = 30 * time.Second
	telegramTypingTimeout = 10 * time.Second
)

// Telegram is the webhook-driven Telegram Bot API adapter.
type Telegram struct {
	bot    *tgbotapi.BotAPI // sendMessage, setWebhook
	typing *tgbotapi.BotAPI // same bot on a shorter timeout for chat actions
	logger *slog.Logger
}

type TelegramConfig struct {
	Token       string
	APIEndpoint string // printf pattern taking token and method; empty = api.telegram.org
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

// NewTelegram connects to the Bot API (getMe) and returns the adapter.
func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	if cfg.APIEndpoint == "" {
		cfg.APIEndpoint = tgbotapi.APIEndpoint
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: telegramSendTimeout}
	}

	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, cfg.APIEndpoint, client)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}

	typing := *bot
	typing.Client = &http.Client{Timeout: telegramTypingTimeout, Transport: client.Transport}

	cfg.Logger.Info("telegram bot connected", "username", bot.Self.UserName, "id", bot.Self.ID)
	return &Telegram{bot: bot, typing: &typing, logger: cfg.Logger}, nil
}

func (t *Telegram) Channel() domain.Channel { return domain.ChannelTelegram }

// Parse decodes a webhook update body. Updates without usable text return
// (nil, nil); structurally invalid bodies return a *domain.ParseError.
func (t *Telegram) Parse(body []byte) (*domain.InboundMessage, error) {
	return ParseTelegramUpdate(body)
}

// telegramProbe detects missing required fields, which decode to zero values
// in tgbotapi.Update.
type telegramProbe struct {
	UpdateID      *int64                `json:"update_id"`
	Message       *telegramProbeMessage `json:"message"`
	EditedMessage *telegramProbeMessage `json:"edited_message"`
}

type telegramProbeMessage struct {
	MessageID *int64 `json:"message_id"`
	Chat      *struct {
		ID *int64 `json:"id"`
	} `json:"chat"`
}

func (m *telegramProbeMessage) missing() string {
	switch {
	case m.MessageID == nil:
		return "message_id"
	case m.Chat == nil || m.Chat.ID == nil:
		return "chat.id"
	}
	return ""
}

func ParseTelegramUpdate(body []byte) (*domain.InboundMessage, error) {
	var probe telegramProbe
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, &domain.ParseError{Channel: domain.ChannelTelegram, Reason: "malformed json", Err: err}
	}
	if probe.UpdateID == nil {
		return nil, &domain.ParseError{Channel: domain.ChannelTelegram, Reason: "missing update_id"}
	}
	for _, m := range []*telegramProbeMessage{probe.Message, probe.EditedMessage} {
		if m == nil {
			continue
		}
		if field := m.missing(); field != "" {
			return nil, &domain.ParseError{Channel: domain.ChannelTelegram, Reason: "missing " + field}
		}
	}

	var update tgbotapi.Update
	if err := json.Unmarshal(body, &update); err != nil {
		return nil, &domain.ParseError{Channel: domain.ChannelTelegram, Reason: "malformed update", Err: err}
	}

	msg, edited := update.Message, false
	if msg == nil {
		msg, edited = update.EditedMessage, true
	}
	if msg == nil || msg.Chat == nil {
		return nil, nil
	}
	if msg.From != nil && msg.From.IsBot {
		return nil, nil
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return nil, nil
	}

	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	sender := chatID
	if msg.From != nil {
		sender = strconv.FormatInt(msg.From.ID, 10)
	}

	in := &domain.InboundMessage{
		Channel:    domain.ChannelTelegram,
		SenderID:   sender,
		ChatID:     chatID,
		Text:       text,
		ReceivedAt: time.Now(),
	}
	if !edited {
		in.ReplyTarget = strconv.Itoa(msg.MessageID)
	}
	return in, nil
}

// Send delivers reply with sendMessage, threading it under ReplyTarget.
func (t *Telegram) Send(ctx context.Context, reply domain.OutboundReply) bool {
	if err := t.send(ctx, reply); err != nil {
		t.logger.Error("telegram send failed", "chat_id", reply.ChatID, "err", err)
		return false
	}
	t.logger.Info("telegram reply sent", "chat_id", reply.ChatID, "text_len", len(reply.Text))
	return true
}

func (t *Telegram) send(ctx context.Context, reply domain.OutboundReply) error {
	if err := ctx.Err(); err != nil {
		return &domain.DeliveryError{Channel: domain.ChannelTelegram, Err: err}
	}
	chatID, err := strconv.ParseInt(reply.ChatID, 10, 64)
	if err != nil {
		return &domain.DeliveryError{Channel: domain.ChannelTelegram, Err: fmt.Errorf("invalid chat id %q: %w", reply.ChatID, err)}
	}

	msg := tgbotapi.NewMessage(chatID, reply.Text)
	if reply.ReplyTarget != "" {
		if id, err := strconv.Atoi(reply.ReplyTarget); err == nil {
			msg.ReplyToMessageID = id
			msg.AllowSendingWithoutReply = true
		}
	}

	if _, err := t.bot.Send(msg); err != nil {
		return telegramDeliveryError(err)
	}
	return nil
}

func telegramDeliveryError(err error) error {
	de := &domain.DeliveryError{Channel: domain.ChannelTelegram, Err: err}
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		de.StatusCode = apiErr.Code
	}
	return de
}

// SendTyping shows the typing indicator. Failures are logged and ignored.
func (t *Telegram) SendTyping(ctx context.Context, chatID string) {
	if ctx.Err() != nil {
		return
	}
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		t.logger.Warn("telegram typing skipped", "chat_id", chatID, "err", err)
		return
	}
	if _, err := t.typing.Request(tgbotapi.NewChatAction(id, tgbotapi.ChatTyping)); err != nil {
		t.logger.Warn("telegram typing failed", "chat_id", chatID, "err", err)
	}
}

// SetWebhook registers url as the bot's webhook.
func (t *Telegram) SetWebhook(ctx context.Context, url string) bool {
	if ctx.Err() != nil {
		return false
	}
	wh, err := tgbotapi.NewWebhook(url)
	if err != nil {
		t.logger.Error("invalid webhook url", "url", url, "err", err)
		return false
	}
	if _, err := t.bot.Request(wh); err != nil {
		t.logger.Error("telegram setWebhook failed", "url", url, "err", telegramDeliveryError(err))
		return false
	}
	t.logger.Info("telegram webhook set", "url", url)
	return true
}
