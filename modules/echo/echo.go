// Package echo is the smallest feature module: reply-only commands with no
// state, tasks or hooks.
package echo

import (
	"context"
	"fmt"
	"strings"

	"guildbot/internal/command"
	"guildbot/internal/dispatch"
	"guildbot/internal/module"
	"guildbot/internal/task"
)

type Module struct{}

func New() *Module { return &Module{} }

func (*Module) Name() string                 { return "echo" }
func (*Module) Tasks() []task.Task           { return nil }
func (*Module) Hooks() []module.Subscription { return nil }

func (*Module) Commands() []module.Registration {
	return []module.Registration{
		{Cmd: command.Command{
			Name:        "echo",
			Description: "repeat the given text",
			Usage:       "echo <text...>",
			Handle:      echoHandler,
		}},
		{Cmd: command.Command{
			Name:        "greet",
			Description: "say hello",
			Handle:      greetHandler,
		}},
	}
}

func echoHandler(_ context.Context, inv *command.Invocation) (string, error) {
	if len(inv.Args) == 0 {
		return "", fmt.Errorf("%w: echo needs text", dispatch.ErrInvalidArguments)
	}
	return strings.Join(inv.Args, " "), nil
}

func greetHandler(_ context.Context, inv *command.Invocation) (string, error) {
	if inv.Author != "" {
		return "hello, " + inv.Author, nil
	}
	return fmt.Sprintf("hello, %d", inv.AuthorID), nil
}
