package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"guildbot/internal/command"
	"guildbot/internal/dispatch"
	"guildbot/internal/module"
	"guildbot/internal/task"
)

// builtins is the always-on module: help, version and uptime.
type builtins struct {
	app *App
}

// Builtins returns the core module. Load it before any feature modules so
// "help" is reserved early.
func (a *App) Builtins() module.Module { return &builtins{app: a} }

func (b *builtins) Name() string { return "core" }

func (b *builtins) Tasks() []task.Task           { return nil }
func (b *builtins) Hooks() []module.Subscription { return nil }

func (b *builtins) Commands() []module.Registration {
	return []module.Registration{
		{Cmd: command.Command{
			Name:        "help",
			Aliases:     []string{"h"},
			Description: "show available commands",
			Usage:       "help [command...]",
			Handle:      b.help,
		}},
		{Cmd: command.Command{
			Name:        "version",
			Description: "show the bot version",
			Handle:      b.version,
		}},
		{Cmd: command.Command{
			Name:        "uptime",
			Description: "show how long the bot has been running",
			Handle:      b.uptime,
		}},
	}
}

func (b *builtins) help(_ context.Context, inv *command.Invocation) (string, error) {
	reg := b.app.Registry()
	if len(inv.Args) == 0 {
		var sb strings.Builder
		sb.WriteString("commands:\n")
		for _, n := range reg.Roots() {
			writeCommandLine(&sb, n)
		}
		sb.WriteString("\nuse \"help <command>\" for details")
		return sb.String(), nil
	}

	node := reg.Find(inv.Args)
	if node == nil {
		return "", fmt.Errorf("%w: no such command %q", dispatch.ErrInvalidArguments, strings.Join(inv.Args, " "))
	}

	var sb strings.Builder
	sb.WriteString(node.Path())
	if d := node.Description(); d != "" {
		sb.WriteString(" - ")
		sb.WriteString(d)
	}
	sb.WriteString("\n")
	if u := node.Usage(); u != "" {
		fmt.Fprintf(&sb, "usage: %s\n", u)
	}
	if perms := node.Command().Permissions; len(perms) > 0 {
		parts := make([]string, len(perms))
		for i, p := range perms {
			parts[i] = string(p)
		}
		fmt.Fprintf(&sb, "requires: %s\n", strings.Join(parts, ", "))
	}
	if kids := node.Children(); len(kids) > 0 {
		sb.WriteString("subcommands:\n")
		for _, k := range kids {
			writeCommandLine(&sb, k)
		}
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func writeCommandLine(sb *strings.Builder, n *command.Node) {
	sb.WriteString("  ")
	sb.WriteString(n.Name())
	if len(n.Children()) > 0 {
		sb.WriteString(" ...")
	}
	if d := n.Description(); d != "" {
		sb.WriteString(" - ")
		sb.WriteString(d)
	}
	sb.WriteString("\n")
}

func (b *builtins) version(context.Context, *command.Invocation) (string, error) {
	return "guildbot " + Version, nil
}

func (b *builtins) uptime(context.Context, *command.Invocation) (string, error) {
	up := time.Since(b.app.StartedAt()).Round(time.Second)
	return "up " + formatUptime(up), nil
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}
