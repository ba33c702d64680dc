// Package command implements guildbot's command tree: named, permissioned
// command nodes registered once at startup and looked up by the dispatcher
// with a greedy longest-prefix walk.
package command

import (
	"context"
	"sync"

	"guildbot/internal/permission"
	logx "guildbot/pkg/logx"
)

// HandlerFunc is the single entry point of a command executor. It receives
// the invocation context and reads residual argument tokens from it, and
// returns the user-facing reply payload.
type HandlerFunc func(ctx context.Context, inv *Invocation) (string, error)

// Command describes one node of the command tree. Name and Aliases must be
// unique among siblings (case-insensitive). An empty Permissions list means
// the command is public. A nil Handle makes the node a pure container whose
// purpose is grouping subcommands.
type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Permissions []permission.Identifier
	Handle      HandlerFunc
}

// Invocation is the per-dispatch context handed to executors. It is owned by
// exactly one dispatch and never shared across dispatches.
type Invocation struct {
	GuildID   int64
	ChannelID int64
	AuthorID  int64
	Author    string // display name, may be empty

	// Command is the matched node's fully-qualified path ("mod kick").
	Command string
	// Args are the residual tokens left over after the registry walk.
	Args []string
	// Tokens is the full token sequence of the raw message.
	Tokens []string

	ReqID  string
	Logger logx.Logger

	resolveOnce sync.Once
	resolve     func(ctx context.Context) (permission.Set, error)
	perms       permission.Set
	permsErr    error
}

// SetPermissionSource installs the lazy permission resolver. Called once by
// the dispatcher before the invocation is used.
func (inv *Invocation) SetPermissionSource(fn func(ctx context.Context) (permission.Set, error)) {
	inv.resolve = fn
}

// Permissions returns the author's effective permission set, computing it at
// most once per invocation. Nested checks within the same dispatch reuse the
// cached result.
func (inv *Invocation) Permissions(ctx context.Context) (permission.Set, error) {
	inv.resolveOnce.Do(func() {
		if inv.resolve == nil {
			inv.perms = permission.Set{}
			return
		}
		inv.perms, inv.permsErr = inv.resolve(ctx)
	})
	return inv.perms, inv.permsErr
}
