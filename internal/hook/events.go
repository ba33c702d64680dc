// Package hook implements guildbot's event fan-out bus. Components publish
// typed events; modules subscribe handler functions that run asynchronously,
// one goroutine per subscriber, with delivery order preserved per subscriber.
package hook

import "time"

// Kind identifies an event family. Subscriptions are per kind.
type Kind string

const (
	MessageReceived Kind = "message.received"
	CommandExecuted Kind = "command.executed"
	CommandFailed   Kind = "command.failed"
	CommandDenied   Kind = "command.denied"
	TaskCompleted   Kind = "task.completed"
	TaskFailed      Kind = "task.failed"
)

// Event is one published occurrence. Data holds the kind-specific payload
// (one of the structs below); subscribers type-assert on it.
type Event struct {
	Kind Kind
	Time time.Time
	Data any
}

// MessageEvent is the payload of MessageReceived, published for every
// inbound message before command parsing.
type MessageEvent struct {
	GuildID   int64
	ChannelID int64
	AuthorID  int64
	Author    string
	Text      string
}

// CommandEvent is the payload of CommandExecuted, CommandFailed and
// CommandDenied. Err is set for failures, Node for denials.
type CommandEvent struct {
	GuildID   int64
	ChannelID int64
	AuthorID  int64
	Command   string
	Args      []string
	ReqID     string
	Duration  time.Duration
	Node      string
	Err       error
}

// TaskEvent is the payload of TaskCompleted and TaskFailed.
type TaskEvent struct {
	Task     string
	Started  time.Time
	Duration time.Duration
	Err      error
}
