// Package store persists guildbot's permission data: role bindings per
// member, permission nodes per role, and per-user overrides.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"guildbot/internal/permission"
	logx "guildbot/pkg/logx"
)

// Store is the persistence API behind the permission resolver plus the write
// side used by the permission-administration commands. Implementations must
// be safe for concurrent use.
type Store interface {
	permission.Store

	AddMemberRole(ctx context.Context, guildID, userID int64, role string) error
	RemoveMemberRole(ctx context.Context, guildID, userID int64, role string) error

	AddRolePermission(ctx context.Context, guildID int64, role string, node permission.Identifier) error
	RemoveRolePermission(ctx context.Context, guildID int64, role string, node permission.Identifier) error

	SetOverride(ctx context.Context, guildID, userID int64, o permission.Override) error
	RemoveOverride(ctx context.Context, guildID, userID int64, node permission.Identifier) error

	// Roles lists the roles that have at least one permission in the guild.
	Roles(ctx context.Context, guildID int64) ([]string, error)

	Close() error
}

type Config struct {
	Driver      string        `json:"driver"` // memory | sqlite
	Path        string        `json:"path"`
	BusyTimeout time.Duration `json:"busy_timeout"`
}

// Open initializes the configured store. An empty driver means memory.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
