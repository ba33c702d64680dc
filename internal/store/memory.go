package store

import (
	"context"
	"sort"
	"sync"

	"guildbot/internal/permission"
)

// Memory is the in-process store. It backs guilds that run without
// persistence and doubles as the test store.
type Memory struct {
	mu sync.RWMutex
	// guildID -> userID -> roles
	memberRoles map[int64]map[int64][]string
	// guildID -> role -> nodes
	rolePerms map[int64]map[string][]permission.Identifier
	// guildID -> userID -> overrides
	overrides map[int64]map[int64][]permission.Override
}

func NewMemory() *Memory {
	return &Memory{
		memberRoles: map[int64]map[int64][]string{},
		rolePerms:   map[int64]map[string][]permission.Identifier{},
		overrides:   map[int64]map[int64][]permission.Override{},
	}
}

func (m *Memory) MemberRoles(_ context.Context, guildID, userID int64) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.memberRoles[guildID][userID]...), nil
}

func (m *Memory) RolePermissions(_ context.Context, guildID int64, role string) ([]permission.Identifier, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]permission.Identifier(nil), m.rolePerms[guildID][role]...), nil
}

func (m *Memory) Overrides(_ context.Context, guildID, userID int64) ([]permission.Override, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]permission.Override(nil), m.overrides[guildID][userID]...), nil
}

func (m *Memory) AddMemberRole(_ context.Context, guildID, userID int64, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g := m.memberRoles[guildID]
	if g == nil {
		g = map[int64][]string{}
		m.memberRoles[guildID] = g
	}
	for _, r := range g[userID] {
		if r == role {
			return nil
		}
	}
	g[userID] = append(g[userID], role)
	return nil
}

func (m *Memory) RemoveMemberRole(_ context.Context, guildID, userID int64, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	roles := m.memberRoles[guildID][userID]
	for i, r := range roles {
		if r == role {
			m.memberRoles[guildID][userID] = append(roles[:i], roles[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *Memory) AddRolePermission(_ context.Context, guildID int64, role string, node permission.Identifier) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g := m.rolePerms[guildID]
	if g == nil {
		g = map[string][]permission.Identifier{}
		m.rolePerms[guildID] = g
	}
	for _, n := range g[role] {
		if n == node {
			return nil
		}
	}
	g[role] = append(g[role], node)
	return nil
}

func (m *Memory) RemoveRolePermission(_ context.Context, guildID int64, role string, node permission.Identifier) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	nodes := m.rolePerms[guildID][role]
	for i, n := range nodes {
		if n == node {
			m.rolePerms[guildID][role] = append(nodes[:i], nodes[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *Memory) SetOverride(_ context.Context, guildID, userID int64, o permission.Override) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g := m.overrides[guildID]
	if g == nil {
		g = map[int64][]permission.Override{}
		m.overrides[guildID] = g
	}
	for i, cur := range g[userID] {
		if cur.Node == o.Node {
			g[userID][i] = o
			return nil
		}
	}
	g[userID] = append(g[userID], o)
	return nil
}

func (m *Memory) RemoveOverride(_ context.Context, guildID, userID int64, node permission.Identifier) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	overrides := m.overrides[guildID][userID]
	for i, o := range overrides {
		if o.Node == node {
			m.overrides[guildID][userID] = append(overrides[:i], overrides[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *Memory) Roles(_ context.Context, guildID int64) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.rolePerms[guildID]))
	for role := range m.rolePerms[guildID] {
		out = append(out, role)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) Close() error { return nil }
