package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"textllm/internal/domain"

	"github.com/bwmarrin/discordgo"
)

const (
	discordSendTimeout   = 30 * time.Second
	discordTypingTimeout = 10 * time.Second
	healthReply          = "Bot is running."
)

// discordAPI is the subset of *discordgo.Session used for outbound calls.
type discordAPI interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
}

// Discord relays DMs and mentions from the Discord gateway.
type Discord struct {
	token     string
	guildID   string
	prefix    string
	processor domain.Processor
	api       discordAPI
	logger    *slog.Logger
}

// DiscordConfig configures the Discord channel.
type DiscordConfig struct {
	Token         string
	GuildID       string // optional: ignore guild messages from other guilds
	CommandPrefix string // "!" when empty
	Processor     domain.Processor
	Logger        *slog.Logger
}

// NewDiscord creates a new Discord channel handler.
func NewDiscord(cfg DiscordConfig) *Discord {
	if cfg.CommandPrefix == "" {
		cfg.CommandPrefix = "!"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Discord{
		token:     cfg.Token,
		guildID:   cfg.GuildID,
		prefix:    cfg.CommandPrefix,
		processor: cfg.Processor,
		logger:    cfg.Logger,
	}
}

func (d *Discord) Channel() domain.Channel { return domain.ChannelDiscord }

// Start connects to the gateway and relays messages until ctx is cancelled.
func (d *Discord) Start(ctx context.Context) error {
	session, err := discordgo.New("Bot " + d.token)
	if err != nil {
		return fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent
	d.api = session

	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if s.State == nil || s.State.User == nil {
			return
		}
		d.onMessage(ctx, m.Message, s.State.User.ID)
	})

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord connect: %w", err)
	}
	d.logger.Info("discord bot connected", "user", session.State.User.Username)

	<-ctx.Done()
	d.logger.Info("discord bot disconnecting")
	return session.Close()
}

// Parse extracts the prompt from a gateway message addressed to the bot.
// Bot traffic, guild messages without a mention, and messages that are empty
// once mention tags are stripped return (nil, nil).
func (d *Discord) Parse(m *discordgo.Message, selfID string) (*domain.InboundMessage, error) {
	if m == nil || m.Author == nil {
		return nil, &domain.ParseError{Channel: domain.ChannelDiscord, Reason: "message without author"}
	}
	if m.Author.Bot || m.Author.ID == selfID {
		return nil, nil
	}

	isDM := m.GuildID == ""
	if !isDM && !mentions(m, selfID) {
		return nil, nil
	}

	text := stripMention(m.Content, selfID)
	if text == "" {
		return nil, nil
	}

	return &domain.InboundMessage{
		Channel:     domain.ChannelDiscord,
		SenderID:    m.Author.ID,
		ChatID:      m.ChannelID,
		Text:        text,
		ReplyTarget: m.ID,
		ReceivedAt:  time.Now(),
	}, nil
}

func mentions(m *discordgo.Message, selfID string) bool {
	for _, u := range m.Mentions {
		if u != nil && u.ID == selfID {
			return true
		}
	}
	return false
}

func stripMention(content, selfID string) string {
	content = strings.ReplaceAll(content, "<@!"+selfID+">", "")
	content = strings.ReplaceAll(content, "<@"+selfID+">", "")
	return strings.TrimSpace(content)
}

// onMessage handles one MessageCreate event: text commands first, then
// mention/DM relay. At most one reply is sent per event.
func (d *Discord) onMessage(ctx context.Context, m *discordgo.Message, selfID string) {
	if m == nil || m.Author == nil || m.Author.Bot {
		return
	}
	if d.guildID != "" && m.GuildID != "" && m.GuildID != d.guildID {
		return
	}

	if handled := d.handleCommand(ctx, m); handled {
		return
	}

	msg, err := d.Parse(m, selfID)
	if err != nil {
		d.logger.Warn("discord message rejected", "err", err)
		return
	}
	if msg == nil {
		return
	}
	d.relay(ctx, *msg)
}

// handleCommand runs prefix commands ("!ask <question>", "!health").
func (d *Discord) handleCommand(ctx context.Context, m *discordgo.Message) bool {
	content := strings.TrimSpace(m.Content)
	if !strings.HasPrefix(content, d.prefix) {
		return false
	}
	name, arg, _ := strings.Cut(strings.TrimPrefix(content, d.prefix), " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(name) {
	case "health":
		d.Send(ctx, domain.OutboundReply{Channel: domain.ChannelDiscord, ChatID: m.ChannelID, Text: healthReply})
		return true
	case "ask":
		if arg == "" {
			d.Send(ctx, domain.OutboundReply{
				Channel: domain.ChannelDiscord, ChatID: m.ChannelID, ReplyTarget: m.ID,
				Text: "Usage: " + d.prefix + "ask <your question>",
			})
			return true
		}
		d.relay(ctx, domain.InboundMessage{
			Channel:     domain.ChannelDiscord,
			SenderID:    m.Author.ID,
			ChatID:      m.ChannelID,
			Text:        arg,
			ReplyTarget: m.ID,
			ReceivedAt:  time.Now(),
		})
		return true
	}
	return false
}

// relay answers msg even if the session shuts down while it is in flight.
func (d *Discord) relay(ctx context.Context, msg domain.InboundMessage) {
	ctx = context.WithoutCancel(ctx)
	d.logger.Info("discord message received", "sender", msg.SenderID, "chat_id", msg.ChatID, "text_len", len(msg.Text))
	d.SendTyping(ctx, msg.ChatID)
	d.processor.Process(ctx, msg, d)
}

// Send posts reply as a Discord reply to ReplyTarget without pinging its author.
func (d *Discord) Send(ctx context.Context, reply domain.OutboundReply) bool {
	if d.api == nil {
		d.logger.Error("discord send before connect", "chat_id", reply.ChatID)
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, discordSendTimeout)
	defer cancel()

	data := &discordgo.MessageSend{
		Content:         reply.Text,
		AllowedMentions: &discordgo.MessageAllowedMentions{RepliedUser: false},
	}
	if reply.ReplyTarget != "" {
		failIfMissing := false
		data.Reference = &discordgo.MessageReference{
			MessageID:       reply.ReplyTarget,
			ChannelID:       reply.ChatID,
			FailIfNotExists: &failIfMissing,
		}
	}

	if _, err := d.api.ChannelMessageSendComplex(reply.ChatID, data, discordgo.WithContext(ctx)); err != nil {
		d.logger.Error("discord send failed", "chat_id", reply.ChatID,
			"err", &domain.DeliveryError{Channel: domain.ChannelDiscord, Err: err})
		return false
	}
	d.logger.Info("discord reply sent", "chat_id", reply.ChatID, "text_len", len(reply.Text))
	return true
}

// SendTyping triggers the typing indicator. Failures are logged and ignored.
func (d *Discord) SendTyping(ctx context.Context, chatID string) {
	if d.api == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, discordTypingTimeout)
	defer cancel()
	if err := d.api.ChannelTyping(chatID, discordgo.WithContext(ctx)); err != nil {
		d.logger.Warn("discord typing failed", "chat_id", chatID, "err", err)
	}
}
