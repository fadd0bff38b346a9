package domain

import "context"

// Processor handles a message and delivers the reply through sender,
// reporting whether delivery succeeded. The dispatcher implements it.
type Processor interface {
	Process(ctx context.Context, msg InboundMessage, sender Sender) bool
}

// Sender delivers a reply through a channel. Implementations log failures and
// report them through the return value instead of an error.
type Sender interface {
	Channel() Channel
	Send(ctx context.Context, reply OutboundReply) bool
}

// TypingNotifier is implemented by channels that can show a "typing" hint.
// It is best effort: failures are logged by the channel and never surfaced.
type TypingNotifier interface {
	SendTyping(ctx context.Context, chatID string)
}
