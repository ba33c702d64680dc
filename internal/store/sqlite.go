package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"guildbot/internal/permission"
	logx "guildbot/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	st.log.Debug("sqlite store opened", logx.String("path", cfg.Path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) MemberRoles(ctx context.Context, guildID, userID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role FROM member_roles WHERE guild_id = ? AND user_id = ? ORDER BY role`,
		guildID, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	return out, rows.Err()
}

func (s *sqliteStore) RolePermissions(ctx context.Context, guildID int64, role string) ([]permission.Identifier, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT node FROM role_permissions WHERE guild_id = ? AND role = ? ORDER BY node`,
		guildID, role,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []permission.Identifier
	for rows.Next() {
		var node string
		if err := rows.Scan(&node); err != nil {
			return nil, err
		}
		out = append(out, permission.Identifier(node))
	}
	return out, rows.Err()
}

func (s *sqliteStore) Overrides(ctx context.Context, guildID, userID int64) ([]permission.Override, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT node, allow FROM user_overrides WHERE guild_id = ? AND user_id = ? ORDER BY node`,
		guildID, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []permission.Override
	for rows.Next() {
		var (
			node  string
			allow bool
		)
		if err := rows.Scan(&node, &allow); err != nil {
			return nil, err
		}
		out = append(out, permission.Override{Node: permission.Identifier(node), Allow: allow})
	}
	return out, rows.Err()
}

func (s *sqliteStore) AddMemberRole(ctx context.Context, guildID, userID int64, role string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO member_roles(guild_id, user_id, role) VALUES(?,?,?)
		 ON CONFLICT(guild_id, user_id, role) DO NOTHING`,
		guildID, userID, role,
	)
	return err
}

func (s *sqliteStore) RemoveMemberRole(ctx context.Context, guildID, userID int64, role string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM member_roles WHERE guild_id = ? AND user_id = ? AND role = ?`,
		guildID, userID, role,
	)
	return err
}

func (s *sqliteStore) AddRolePermission(ctx context.Context, guildID int64, role string, node permission.Identifier) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO role_permissions(guild_id, role, node) VALUES(?,?,?)
		 ON CONFLICT(guild_id, role, node) DO NOTHING`,
		guildID, role, string(node),
	)
	return err
}

func (s *sqliteStore) RemoveRolePermission(ctx context.Context, guildID int64, role string, node permission.Identifier) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM role_permissions WHERE guild_id = ? AND role = ? AND node = ?`,
		guildID, role, string(node),
	)
	return err
}

func (s *sqliteStore) SetOverride(ctx context.Context, guildID, userID int64, o permission.Override) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_overrides(guild_id, user_id, node, allow) VALUES(?,?,?,?)
		 ON CONFLICT(guild_id, user_id, node) DO UPDATE SET allow = excluded.allow`,
		guildID, userID, string(o.Node), o.Allow,
	)
	return err
}

func (s *sqliteStore) RemoveOverride(ctx context.Context, guildID, userID int64, node permission.Identifier) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM user_overrides WHERE guild_id = ? AND user_id = ? AND node = ?`,
		guildID, userID, string(node),
	)
	return err
}

func (s *sqliteStore) Roles(ctx context.Context, guildID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT role FROM role_permissions WHERE guild_id = ? ORDER BY role`,
		guildID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	return out, rows.Err()
}
