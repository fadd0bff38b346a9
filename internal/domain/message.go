package domain

import (
	"time"
	"unicode/utf16"
	"unicode/utf8"
)

// Channel identifies the messaging surface a message came from.
type Channel string

const (
	ChannelTelegram Channel = "telegram"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelDiscord  Channel = "discord"
	ChannelSocial   Channel = "social"
)

// TruncationMarker is appended to replies clamped to a channel's length limit.
const TruncationMarker = "\n\n...[truncated]"

// MaxTextLen returns the longest reply text (before the truncation marker) the
// channel accepts in a single message. Telegram counts UTF-16 code units, the
// others count runes.
func (c Channel) MaxTextLen() int {
	switch c {
	case ChannelDiscord:
		return 1900
	case ChannelTelegram:
		return 4000
	case ChannelWhatsApp:
		return 1500
	case ChannelSocial:
		return 9900
	default:
		return 1900
	}
}

// ClampReply cuts text to the channel's limit in the unit that channel counts.
func (c Channel) ClampReply(text string) string {
	if c == ChannelTelegram {
		return ClampUTF16(text, c.MaxTextLen())
	}
	return Clamp(text, c.MaxTextLen())
}

func (c Channel) Valid() bool {
	switch c {
	case ChannelTelegram, ChannelWhatsApp, ChannelDiscord, ChannelSocial:
		return true
	}
	return false
}

type InboundMessage struct {
	Channel     Channel
	SenderID    string
	ChatID      string
	Text        string
	ReplyTarget string // channel-native message id to thread the reply under; empty = none
	RequestID   string // log correlation only
	ReceivedAt  time.Time
}

type OutboundReply struct {
	Channel     Channel
	ChatID      string
	Text        string
	ReplyTarget string
}

// Clamp cuts text to at most max runes and appends TruncationMarker when it had
// to cut. Text within the limit is returned unchanged.
func Clamp(text string, max int) string {
	if max <= 0 || utf8.RuneCountInString(text) <= max {
		return text
	}
	runes := []rune(text)
	return string(runes[:max]) + TruncationMarker
}

// ClampUTF16 is Clamp measured in UTF-16 code units. A rune outside the BMP
// counts twice and is never split.
func ClampUTF16(text string, max int) string {
	if max <= 0 {
		return text
	}
	units := 0
	for i, r := range text {
		n := utf16.RuneLen(r)
		if n < 0 {
			n = 1
		}
		if units+n > max {
			return text[:i] + TruncationMarker
		}
		units += n
	}
	return text
}
