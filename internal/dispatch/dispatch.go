// Package dispatch turns inbound message text into command executions:
// tokenize, walk the command tree, gate on permissions, run the handler,
// and publish the outcome on the hook bus.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"guildbot/internal/command"
	"guildbot/internal/hook"
	"guildbot/internal/permission"
	logx "guildbot/pkg/logx"
)

// Input is one prefix-stripped command message. The transport layer decides
// whether a message addresses the bot; Input.Text starts at the command name.
type Input struct {
	GuildID   int64
	ChannelID int64
	AuthorID  int64
	Author    string
	Text      string
}

// Config wires a Dispatcher. Resolver and Bus may be nil: a nil resolver
// treats every member's permission set as empty, a nil bus disables outcome
// events. Admins bypass permission checks entirely.
type Config struct {
	Registry *command.Registry
	Resolver *permission.Resolver
	Bus      *hook.Bus
	Logger   logx.Logger
	Admins   []int64
}

type Dispatcher struct {
	reg      *command.Registry
	resolver *permission.Resolver
	bus      *hook.Bus
	log      logx.Logger
	admins   map[int64]struct{}
	chain    []Middleware
}

func New(cfg Config) *Dispatcher {
	d := &Dispatcher{
		reg:      cfg.Registry,
		resolver: cfg.Resolver,
		bus:      cfg.Bus,
		log:      cfg.Logger,
		admins:   make(map[int64]struct{}, len(cfg.Admins)),
	}
	for _, id := range cfg.Admins {
		d.admins[id] = struct{}{}
	}
	d.chain = []Middleware{
		MWPanicRecover(d.log),
		MWRequestLog(d.log),
	}
	return d
}

// Dispatch runs one command message end to end and returns the handler's
// reply payload. Errors belong to the dispatch taxonomy: ErrUnknownCommand,
// ErrInvalidArguments, *PermissionDeniedError, permission.ErrLookup (the
// store was unavailable, the check is undecided) or *ExecutionError.
func (d *Dispatcher) Dispatch(ctx context.Context, in Input) (string, error) {
	tokens, err := Tokenize(in.Text)
	if err != nil {
		return "", err
	}
	if len(tokens) == 0 {
		return "", ErrUnknownCommand
	}

	node, residual, ok := d.reg.Lookup(tokens)
	if !ok {
		return "", ErrUnknownCommand
	}
	path := node.Path()
	cmd := node.Command()
	if cmd.Handle == nil {
		return "", fmt.Errorf("%w: %s expects a subcommand", ErrInvalidArguments, path)
	}

	rid := newReqID()
	inv := &command.Invocation{
		GuildID:   in.GuildID,
		ChannelID: in.ChannelID,
		AuthorID:  in.AuthorID,
		Author:    in.Author,
		Command:   path,
		Args:      residual,
		Tokens:    tokens,
		ReqID:     rid,
		Logger:    d.log.With(logx.String("req_id", rid), logx.String("cmd", path)),
	}
	if d.resolver != nil {
		guildID, userID := in.GuildID, in.AuthorID
		inv.SetPermissionSource(func(ctx context.Context) (permission.Set, error) {
			return d.resolver.Resolve(ctx, guildID, userID)
		})
	}

	start := time.Now()
	if err := d.authorize(ctx, inv, cmd); err != nil {
		d.publishOutcome(inv, time.Since(start), err)
		return "", err
	}

	out, err := Chain(cmd.Handle, d.chain...)(ctx, inv)
	dur := time.Since(start)
	if err != nil {
		// Handlers reject their own arguments with ErrInvalidArguments;
		// everything else is an execution failure.
		if !errors.Is(err, ErrInvalidArguments) {
			err = &ExecutionError{Command: path, Err: err}
		}
		d.publishOutcome(inv, dur, err)
		return "", err
	}
	d.publishOutcome(inv, dur, nil)
	return out, nil
}

func (d *Dispatcher) authorize(ctx context.Context, inv *command.Invocation, cmd *command.Command) error {
	if len(cmd.Permissions) == 0 {
		return nil
	}
	if _, ok := d.admins[inv.AuthorID]; ok {
		return nil
	}
	// A failed lookup is returned as-is: it is neither a denial nor a
	// handler failure, and callers distinguish it via permission.ErrLookup.
	set, err := inv.Permissions(ctx)
	if err != nil {
		return err
	}
	for _, node := range cmd.Permissions {
		if !set.Has(node) {
			return &PermissionDeniedError{Node: node}
		}
	}
	return nil
}

func (d *Dispatcher) publishOutcome(inv *command.Invocation, dur time.Duration, err error) {
	if d.bus == nil {
		return
	}
	ev := hook.CommandEvent{
		GuildID:   inv.GuildID,
		ChannelID: inv.ChannelID,
		AuthorID:  inv.AuthorID,
		Command:   inv.Command,
		Args:      inv.Args,
		ReqID:     inv.ReqID,
		Duration:  dur,
	}
	kind := hook.CommandExecuted
	switch e := err.(type) {
	case nil:
	case *PermissionDeniedError:
		kind = hook.CommandDenied
		ev.Node = string(e.Node)
	default:
		kind = hook.CommandFailed
		ev.Err = err
	}
	d.bus.Publish(hook.Event{Kind: kind, Data: ev})
}
