// Package transport abstracts the chat platform behind a small adapter
// interface so the bot core stays platform-neutral.
package transport

import "context"

// Message is one inbound chat message. GuildID is the chat the message
// arrived in; ChannelID is the topic or thread within it, 0 when the chat
// has no threads.
type Message struct {
	MessageID int
	GuildID   int64
	ChannelID int64
	AuthorID  int64
	Author    string
	Text      string
}

// Target addresses an outbound message.
type Target struct {
	GuildID   int64
	ChannelID int64
}

type Adapter interface {
	// Start begins delivering inbound messages on out until the context is
	// cancelled or Stop is called. Delivery must never block: when the
	// consumer lags, messages are dropped and counted.
	Start(ctx context.Context, out chan<- Message) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to Target, text string) error
}
