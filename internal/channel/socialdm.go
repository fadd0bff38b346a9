package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"textllm/internal/domain"
	"textllm/internal/metrics"
	"textllm/internal/state"

	"golang.org/x/oauth2"
)

const (
	socialDefaultBase     = "https://api.x.com"
	socialDefaultInterval = 3 * time.Second
	socialSendTimeout     = 30 * time.Second
	socialFetchTimeout    = 30 * time.Second
	socialMarkerKey       = "social"
	socialEventFields     = "id,text,sender_id,dm_conversation_id,created_at"
	maxSocialErrorBody    = 4096
)

// DMEvent is one MessageCreate entry of the X dm_events listing.
type DMEvent struct {
	ID               string `json:"id"`
	EventType        string `json:"event_type"`
	Text             string `json:"text"`
	SenderID         string `json:"sender_id"`
	DMConversationID string `json:"dm_conversation_id"`
	CreatedAt        string `json:"created_at"`
}

type dmEventsResponse struct {
	Data []DMEvent `json:"data"`
}

// SocialDM polls direct messages on X and answers each new one.
// A single goroutine runs Run; Poll is not meant to be called concurrently.
type SocialDM struct {
	apiBase        string
	userID         string
	interval       time.Duration
	processBacklog bool
	client         *http.Client
	store          state.MarkerStore
	processor      domain.Processor
	metrics        *metrics.Relay
	logger         *slog.Logger
}

type SocialDMConfig struct {
	BearerToken    string
	UserID         string // bot's own user id; resolved through /2/users/me when empty
	APIBase        string
	PollInterval   time.Duration
	ProcessBacklog bool // answer events already present at first start
	Store          state.MarkerStore
	Processor      domain.Processor
	Metrics        *metrics.Relay
	HTTPClient     *http.Client // base transport; the bearer token is layered on top
	Logger         *slog.Logger
}

func NewSocialDM(cfg SocialDMConfig) *SocialDM {
	if cfg.APIBase == "" {
		cfg.APIBase = socialDefaultBase
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = socialDefaultInterval
	}
	if cfg.Store == nil {
		cfg.Store = state.NewMemoryMarkerStore()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	base := cfg.HTTPClient
	if base == nil {
		base = &http.Client{Timeout: socialSendTimeout}
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: cfg.BearerToken,
		TokenType:   "Bearer",
	}))

	return &SocialDM{
		apiBase:        strings.TrimRight(cfg.APIBase, "/"),
		userID:         cfg.UserID,
		interval:       cfg.PollInterval,
		processBacklog: cfg.ProcessBacklog,
		client:         client,
		store:          cfg.Store,
		processor:      cfg.Processor,
		metrics:        cfg.Metrics,
		logger:         cfg.Logger,
	}
}

func (s *SocialDM) Channel() domain.Channel { return domain.ChannelSocial }

// Run polls until ctx is cancelled, sleeping the poll interval after each
// cycle. A failed or panicking cycle is logged and the loop continues.
func (s *SocialDM) Run(ctx context.Context) {
	s.logger.Info("social dm poller started", "interval", s.interval)
	for {
		err := s.safePoll(ctx)
		s.metrics.PollCycle(err)
		if err != nil && ctx.Err() == nil {
			s.logger.Warn("social dm poll failed", "err", err)
		}

		select {
		case <-ctx.Done():
			s.logger.Info("social dm poller stopped")
			return
		case <-time.After(s.interval):
		}
	}
}

func (s *SocialDM) safePoll(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("poll panic: %v", r)
		}
	}()
	return s.Poll(ctx)
}

// Poll runs one cycle: fetch recent events, answer the ones newer than the
// stored marker oldest first, and advance the marker after each.
func (s *SocialDM) Poll(ctx context.Context) error {
	selfID, err := s.self(ctx)
	if err != nil {
		return err
	}

	events, err := s.fetchEvents(ctx)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	marker, err := s.store.Get(ctx, socialMarkerKey)
	if err != nil {
		return fmt.Errorf("read poll marker: %w", err)
	}
	if marker == "" && !s.processBacklog {
		s.logger.Info("social dm marker primed", "event_id", events[0].ID, "skipped", len(events))
		return s.store.Set(ctx, socialMarkerKey, events[0].ID)
	}

	// Events are newest first; everything before the marker is unseen.
	var fresh []DMEvent
	for _, ev := range events {
		if ev.ID == marker {
			break
		}
		fresh = append(fresh, ev)
	}

	for i := len(fresh) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return err
		}
		ev := fresh[i]
		s.handleEvent(ctx, ev, selfID)
		// The event is answered, so the marker moves even during shutdown.
		if err := s.store.Set(context.WithoutCancel(ctx), socialMarkerKey, ev.ID); err != nil {
			return fmt.Errorf("advance poll marker: %w", err)
		}
	}
	return nil
}

func (s *SocialDM) handleEvent(ctx context.Context, ev DMEvent, selfID string) {
	msg, err := s.Parse(ev, selfID)
	if err != nil {
		s.logger.Warn("social dm event rejected", "event_id", ev.ID, "err", err)
		s.metrics.Rejected(string(domain.ChannelSocial), "parse")
		return
	}
	if msg == nil {
		return
	}

	s.logger.Info("social dm received", "event_id", ev.ID, "sender", msg.SenderID, "text_len", len(msg.Text))
	// Shutdown does not abandon a message already being answered.
	s.processor.Process(context.WithoutCancel(ctx), *msg, s)
}

// Parse converts a DM event into the canonical message. The bot's own
// messages and events without text return (nil, nil).
func (s *SocialDM) Parse(ev DMEvent, selfID string) (*domain.InboundMessage, error) {
	if ev.ID == "" {
		return nil, &domain.ParseError{Channel: domain.ChannelSocial, Reason: "event without id"}
	}
	if ev.EventType != "" && ev.EventType != "MessageCreate" {
		return nil, nil
	}
	if ev.SenderID == "" {
		return nil, &domain.ParseError{Channel: domain.ChannelSocial, Reason: "event " + ev.ID + " without sender_id"}
	}
	if ev.SenderID == selfID {
		return nil, nil
	}
	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return nil, nil
	}

	received := time.Now()
	if t, err := time.Parse(time.RFC3339, ev.CreatedAt); err == nil {
		received = t
	}
	return &domain.InboundMessage{
		Channel:    domain.ChannelSocial,
		SenderID:   ev.SenderID,
		ChatID:     ev.SenderID,
		Text:       text,
		ReceivedAt: received,
	}, nil
}

func (s *SocialDM) fetchEvents(ctx context.Context) ([]DMEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, socialFetchTimeout)
	defer cancel()

	q := url.Values{}
	q.Set("event_types", "MessageCreate")
	q.Set("dm_event.fields", socialEventFields)

	var out dmEventsResponse
	if err := s.getJSON(ctx, "/2/dm_events?"+q.Encode(), &out); err != nil {
		return nil, fmt.Errorf("list dm events: %w", err)
	}
	return out.Data, nil
}

// self returns the bot's user id, looking it up once when not configured.
func (s *SocialDM) self(ctx context.Context) (string, error) {
	if s.userID != "" {
		return s.userID, nil
	}
	ctx, cancel := context.WithTimeout(ctx, socialFetchTimeout)
	defer cancel()

	var out struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := s.getJSON(ctx, "/2/users/me", &out); err != nil {
		return "", fmt.Errorf("resolve own user id: %w", err)
	}
	if out.Data.ID == "" {
		return "", errors.New("resolve own user id: empty id")
	}
	s.userID = out.Data.ID
	s.logger.Info("social dm user resolved", "user_id", s.userID)
	return s.userID, nil
}

func (s *SocialDM) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.apiBase+path, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxSocialErrorBody))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Send posts the reply into the one-to-one conversation with ChatID.
func (s *SocialDM) Send(ctx context.Context, reply domain.OutboundReply) bool {
	ctx, cancel := context.WithTimeout(ctx, socialSendTimeout)
	defer cancel()

	if err := s.send(ctx, reply); err != nil {
		s.logger.Error("social dm send failed", "chat_id", reply.ChatID, "err", err)
		return false
	}
	s.logger.Info("social dm reply sent", "chat_id", reply.ChatID, "text_len", len(reply.Text))
	return true
}

func (s *SocialDM) send(ctx context.Context, reply domain.OutboundReply) error {
	payload, err := json.Marshal(map[string]string{"text": reply.Text})
	if err != nil {
		return &domain.DeliveryError{Channel: domain.ChannelSocial, Err: err}
	}

	endpoint := fmt.Sprintf("%s/2/dm_conversations/with/%s/messages", s.apiBase, url.PathEscape(reply.ChatID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return &domain.DeliveryError{Channel: domain.ChannelSocial, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return &domain.DeliveryError{Channel: domain.ChannelSocial, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxSocialErrorBody))
		return &domain.DeliveryError{
			Channel:    domain.ChannelSocial,
			StatusCode: resp.StatusCode,
			Err:        errors.New(strings.TrimSpace(string(body))),
		}
	}
	return nil
}
