package channel

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"textllm/internal/dispatch"
	"textllm/internal/domain"
	"textllm/internal/metrics"

	"github.com/bwmarrin/discordgo"
)

const selfID = "900"

type fakeDiscordAPI struct {
	mu     sync.Mutex
	sent   []*discordgo.MessageSend
	typing int
	err    error
}

func (f *fakeDiscordAPI) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, data)
	return &discordgo.Message{ID: "reply", ChannelID: channelID}, nil
}

func (f *fakeDiscordAPI) ChannelTyping(string, ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing++
	return nil
}

// echoProcessor answers every message with "re: <text>" through the sender
// and records the context state it was called with.
type echoProcessor struct {
	calls   []domain.InboundMessage
	ctxErrs []error
	onCall  func()
}

func (p *echoProcessor) Process(ctx context.Context, msg domain.InboundMessage, sender domain.Sender) bool {
	if p.onCall != nil {
		p.onCall()
	}
	p.calls = append(p.calls, msg)
	p.ctxErrs = append(p.ctxErrs, ctx.Err())
	return sender.Send(ctx, domain.OutboundReply{Channel: msg.Channel, ChatID: msg.ChatID, ReplyTarget: msg.ReplyTarget, Text: "re: " + msg.Text})
}

// echoProvider lets tests run the real dispatcher without an LLM.
type echoProvider struct{}

func (echoProvider) Generate(_ context.Context, prompt string, _ int) (*domain.GenerationResult, error) {
	return &domain.GenerationResult{Text: "re: " + prompt, Provider: "echo", Model: "echo-1"}, nil
}

func (echoProvider) Name() string  { return "echo" }
func (echoProvider) Model() string { return "echo-1" }

func newTestDiscord(guildID string) (*Discord, *fakeDiscordAPI, *echoProcessor) {
	h := &echoProcessor{}
	d := NewDiscord(DiscordConfig{Token: "t", GuildID: guildID, Processor: h, Logger: testLogger()})
	api := &fakeDiscordAPI{}
	d.api = api
	return d, api, h
}

func userMsg(content, guildID string, mentioned ...string) *discordgo.Message {
	m := &discordgo.Message{
		ID:        "m1",
		ChannelID: "c1",
		GuildID:   guildID,
		Content:   content,
		Author:    &discordgo.User{ID: "u1", Username: "alice"},
	}
	for _, id := range mentioned {
		m.Mentions = append(m.Mentions, &discordgo.User{ID: id})
	}
	return m
}

func TestDiscordParse_DirectMessage(t *testing.T) {
	d, _, _ := newTestDiscord("")
	msg, err := d.Parse(userMsg("  what is go?  ", ""), selfID)
	if err != nil || msg == nil {
		t.Fatalf("expected message, got %v %v", msg, err)
	}
	if msg.Text != "what is go?" || msg.ChatID != "c1" || msg.ReplyTarget != "m1" || msg.SenderID != "u1" {
		t.Fatalf("unexpected message %+v", msg)
	}
}

func TestDiscordParse_GuildMention(t *testing.T) {
	d, _, _ := newTestDiscord("")
	for _, content := range []string{"<@900> hello", "<@!900> hello", "hello <@900>"} {
		msg, err := d.Parse(userMsg(content, "g1", selfID), selfID)
		if err != nil || msg == nil {
			t.Fatalf("%q: expected message, got %v %v", content, msg, err)
		}
		if msg.Text != "hello" {
			t.Fatalf("%q: mention not stripped: %q", content, msg.Text)
		}
	}
}

func TestDiscordParse_Dropped(t *testing.T) {
	d, _, _ := newTestDiscord("")

	bot := userMsg("hi", "")
	bot.Author.Bot = true
	self := userMsg("hi", "")
	self.Author.ID = selfID

	cases := map[string]*discordgo.Message{
		"bot author":        bot,
		"own message":       self,
		"guild, no mention": userMsg("hello everyone", "g1"),
		"mention only":      userMsg("<@900>", "g1", selfID),
		"other mentioned":   userMsg("<@123> hi", "g1", "123"),
	}
	for name, m := range cases {
		msg, err := d.Parse(m, selfID)
		if err != nil {
			t.Fatalf("%s: unexpected error %v", name, err)
		}
		if msg != nil {
			t.Fatalf("%s: expected nil, got %+v", name, msg)
		}
	}
}

func TestDiscordParse_NoAuthor(t *testing.T) {
	d, _, _ := newTestDiscord("")
	_, err := d.Parse(&discordgo.Message{Content: "hi"}, selfID)
	var pe *domain.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %v", err)
	}
}

func TestDiscord_OnMessageRelaysAndReplies(t *testing.T) {
	d, api, h := newTestDiscord("")
	d.onMessage(context.Background(), userMsg("<@900> ping", "g1", selfID), selfID)

	if len(h.calls) != 1 || h.calls[0].Text != "ping" {
		t.Fatalf("unexpected dispatches %+v", h.calls)
	}
	if len(api.sent) != 1 {
		t.Fatalf("expected one reply, got %d", len(api.sent))
	}
	sent := api.sent[0]
	if sent.Content != "re: ping" {
		t.Fatalf("unexpected content %q", sent.Content)
	}
	if sent.Reference == nil || sent.Reference.MessageID != "m1" {
		t.Fatalf("reply should reference the original message: %+v", sent.Reference)
	}
	if sent.AllowedMentions == nil || sent.AllowedMentions.RepliedUser {
		t.Fatal("reply must not ping the author")
	}
	if api.typing != 1 {
		t.Fatalf("expected typing indicator, got %d", api.typing)
	}
}

func TestDiscord_BotAuthorNeverDispatched(t *testing.T) {
	d, api, h := newTestDiscord("")
	m := userMsg("<@900> ping", "g1", selfID)
	m.Author.Bot = true

	d.onMessage(context.Background(), m, selfID)
	if len(h.calls) != 0 || len(api.sent) != 0 {
		t.Fatalf("bot message was dispatched: calls=%d sent=%d", len(h.calls), len(api.sent))
	}
}

func TestDiscord_GuildFilter(t *testing.T) {
	d, _, h := newTestDiscord("g1")

	d.onMessage(context.Background(), userMsg("<@900> hi", "g2", selfID), selfID)
	if len(h.calls) != 0 {
		t.Fatal("message from another guild was dispatched")
	}

	d.onMessage(context.Background(), userMsg("hi", ""), selfID)
	if len(h.calls) != 1 {
		t.Fatal("DMs should pass the guild filter")
	}
}

func TestDiscord_HealthCommand(t *testing.T) {
	d, api, h := newTestDiscord("")
	d.onMessage(context.Background(), userMsg("!health", "g1"), selfID)

	if len(h.calls) != 0 {
		t.Fatal("health must not call the provider")
	}
	if len(api.sent) != 1 || api.sent[0].Content != "Bot is running." {
		t.Fatalf("unexpected replies %+v", api.sent)
	}
}

func TestDiscord_AskCommandRepliesOnce(t *testing.T) {
	d, api, h := newTestDiscord("")
	// A DM "!ask" would also qualify as a plain DM; only one reply is expected.
	d.onMessage(context.Background(), userMsg("!ask why is the sky blue?", ""), selfID)

	if len(h.calls) != 1 || h.calls[0].Text != "why is the sky blue?" {
		t.Fatalf("unexpected dispatches %+v", h.calls)
	}
	if len(api.sent) != 1 {
		t.Fatalf("expected exactly one reply, got %d", len(api.sent))
	}
}

func TestDiscord_InFlightMessageSurvivesShutdown(t *testing.T) {
	d, api, h := newTestDiscord("")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d.onMessage(ctx, userMsg("still answer me", ""), selfID)
	if len(h.ctxErrs) != 1 || h.ctxErrs[0] != nil {
		t.Fatalf("processor saw a cancelled context: %v", h.ctxErrs)
	}
	if len(api.sent) != 1 {
		t.Fatalf("expected the reply to be sent, got %d", len(api.sent))
	}
}

func TestDiscord_DeliveryFailureCounted(t *testing.T) {
	reg := metrics.NewRegistry()
	relay := metrics.NewRelay(reg)
	d := NewDiscord(DiscordConfig{
		Token:     "t",
		Processor: dispatch.New(dispatch.Config{Provider: echoProvider{}, Metrics: relay, Logger: testLogger()}),
		Logger:    testLogger(),
	})
	d.api = &fakeDiscordAPI{err: errors.New("HTTP 403 Forbidden")}

	d.onMessage(context.Background(), userMsg("hi", ""), selfID)
	if !strings.Contains(reg.Render(), `textllm_delivery_failures_total{channel="discord"} 1`) {
		t.Fatalf("delivery failure not recorded:\n%s", reg.Render())
	}
}

func TestDiscord_SendFailure(t *testing.T) {
	d, api, _ := newTestDiscord("")
	api.err = errors.New("HTTP 403 Forbidden")

	if d.Send(context.Background(), domain.OutboundReply{ChatID: "c1", Text: "x"}) {
		t.Fatal("expected send failure")
	}
}

func TestDiscord_SendBeforeConnect(t *testing.T) {
	d := NewDiscord(DiscordConfig{Token: "t", Logger: testLogger()})
	if d.Send(context.Background(), domain.OutboundReply{ChatID: "c1", Text: "x"}) {
		t.Fatal("send without a session should fail")
	}
}
