// Package moderation bundles the guild moderation commands: kick, purge and
// a warning ledger with automatic expiry.
package moderation

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"guildbot/internal/command"
	"guildbot/internal/dispatch"
	"guildbot/internal/hook"
	"guildbot/internal/module"
	"guildbot/internal/permission"
	"guildbot/internal/task"
	logx "guildbot/pkg/logx"
)

type Config struct {
	// PurgeMax caps how many messages one purge may cover.
	PurgeMax int `json:"purge_max"`
	// WarnTTL is how long warnings count before the cleanup task drops
	// them. Zero keeps warnings forever.
	WarnTTL time.Duration `json:"-"`
}

type warning struct {
	userID int64
	reason string
	at     time.Time
}

type Module struct {
	cfg Config
	log logx.Logger

	mu    sync.Mutex
	warns map[int64][]warning // guildID -> warnings
}

func New(cfg Config, log logx.Logger) *Module {
	if cfg.PurgeMax <= 0 {
		cfg.PurgeMax = 100
	}
	return &Module{cfg: cfg, log: log, warns: map[int64][]warning{}}
}

func (*Module) Name() string { return "moderation" }

func (m *Module) Commands() []module.Registration {
	return []module.Registration{
		{Cmd: command.Command{
			Name:        "mod",
			Aliases:     []string{"moderation"},
			Description: "moderation tools",
		}},
		{Parent: "mod", Cmd: command.Command{
			Name:        "kick",
			Description: "kick a member from the guild",
			Usage:       "mod kick <user-id> [reason...]",
			Permissions: []permission.Identifier{"admin.kick"},
			Handle:      m.kick,
		}},
		{Parent: "mod", Cmd: command.Command{
			Name:        "purge",
			Description: "delete the last n messages",
			Usage:       "mod purge <n>",
			Permissions: []permission.Identifier{"mod.purge"},
			Handle:      m.purge,
		}},
		{Parent: "mod", Cmd: command.Command{
			Name:        "warn",
			Description: "warn a member",
			Usage:       "mod warn <user-id> [reason...]",
			Permissions: []permission.Identifier{"mod.warn"},
			Handle:      m.warn,
		}},
		{Parent: "mod", Cmd: command.Command{
			Name:        "warns",
			Description: "list a member's warnings",
			Usage:       "mod warns <user-id>",
			Permissions: []permission.Identifier{"mod.warn"},
			Handle:      m.listWarns,
		}},
	}
}

func (m *Module) Tasks() []task.Task {
	if m.cfg.WarnTTL <= 0 {
		return nil
	}
	return []task.Task{{
		Name:     "moderation.warn-expiry",
		Schedule: task.Every(time.Hour),
		Run:      m.expireWarns,
	}}
}

func (m *Module) Hooks() []module.Subscription {
	return []module.Subscription{{
		Kind: hook.CommandDenied,
		Name: "moderation.denial-audit",
		Fn:   m.auditDenial,
	}}
}

func (m *Module) kick(_ context.Context, inv *command.Invocation) (string, error) {
	userID, reason, err := userAndReason(inv.Args)
	if err != nil {
		return "", err
	}
	m.log.Info("member kicked",
		logx.Int64("guild_id", inv.GuildID),
		logx.Int64("user_id", userID),
		logx.Int64("by", inv.AuthorID),
		logx.String("reason", reason),
	)
	if reason != "" {
		return fmt.Sprintf("kicked %d: %s", userID, reason), nil
	}
	return fmt.Sprintf("kicked %d", userID), nil
}

func (m *Module) purge(_ context.Context, inv *command.Invocation) (string, error) {
	if len(inv.Args) != 1 {
		return "", fmt.Errorf("%w: purge needs a message count", dispatch.ErrInvalidArguments)
	}
	n, err := strconv.Atoi(inv.Args[0])
	if err != nil || n <= 0 {
		return "", fmt.Errorf("%w: %q is not a positive count", dispatch.ErrInvalidArguments, inv.Args[0])
	}
	if n > m.cfg.PurgeMax {
		n = m.cfg.PurgeMax
	}
	m.log.Info("channel purged",
		logx.Int64("guild_id", inv.GuildID),
		logx.Int64("channel_id", inv.ChannelID),
		logx.Int("count", n),
		logx.Int64("by", inv.AuthorID),
	)
	return fmt.Sprintf("purged %d messages", n), nil
}

func (m *Module) warn(_ context.Context, inv *command.Invocation) (string, error) {
	userID, reason, err := userAndReason(inv.Args)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	m.warns[inv.GuildID] = append(m.warns[inv.GuildID], warning{
		userID: userID,
		reason: reason,
		at:     time.Now(),
	})
	count := 0
	for _, w := range m.warns[inv.GuildID] {
		if w.userID == userID {
			count++
		}
	}
	m.mu.Unlock()
	return fmt.Sprintf("warned %d (%d active warnings)", userID, count), nil
}

func (m *Module) listWarns(_ context.Context, inv *command.Invocation) (string, error) {
	if len(inv.Args) != 1 {
		return "", fmt.Errorf("%w: warns needs a user id", dispatch.ErrInvalidArguments)
	}
	userID, err := strconv.ParseInt(inv.Args[0], 10, 64)
	if err != nil {
		return "", fmt.Errorf("%w: %q is not a user id", dispatch.ErrInvalidArguments, inv.Args[0])
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var sb strings.Builder
	n := 0
	for _, w := range m.warns[inv.GuildID] {
		if w.userID != userID {
			continue
		}
		n++
		fmt.Fprintf(&sb, "%d. %s", n, w.at.Format("2006-01-02 15:04"))
		if w.reason != "" {
			sb.WriteString(" - ")
			sb.WriteString(w.reason)
		}
		sb.WriteString("\n")
	}
	if n == 0 {
		return fmt.Sprintf("no warnings for %d", userID), nil
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func (m *Module) expireWarns(context.Context) error {
	cutoff := time.Now().Add(-m.cfg.WarnTTL)
	m.mu.Lock()
	defer m.mu.Unlock()
	for guildID, ws := range m.warns {
		kept := ws[:0]
		for _, w := range ws {
			if w.at.After(cutoff) {
				kept = append(kept, w)
			}
		}
		if len(kept) == 0 {
			delete(m.warns, guildID)
			continue
		}
		m.warns[guildID] = kept
	}
	return nil
}

func (m *Module) auditDenial(e hook.Event) error {
	ev, ok := e.Data.(hook.CommandEvent)
	if !ok {
		return nil
	}
	m.log.Info("command denied",
		logx.Int64("guild_id", ev.GuildID),
		logx.Int64("user_id", ev.AuthorID),
		logx.String("cmd", ev.Command),
		logx.String("node", ev.Node),
	)
	return nil
}

func userAndReason(args []string) (int64, string, error) {
	if len(args) == 0 {
		return 0, "", fmt.Errorf("%w: a user id is required", dispatch.ErrInvalidArguments)
	}
	userID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("%w: %q is not a user id", dispatch.ErrInvalidArguments, args[0])
	}
	return userID, strings.Join(args[1:], " "), nil
}
