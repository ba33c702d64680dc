package permission

import (
	"context"
	"errors"
	"fmt"
)

// ErrLookup wraps failures of the backing permission store. Resolution never
// degrades into a silent grant or deny: callers must treat a lookup failure
// as "undecided" and surface it.
var ErrLookup = errors.New("permission lookup failed")

// Store is the read side of the permission data maintained by the
// permission-administration collaborator. Implementations must be safe for
// concurrent use.
type Store interface {
	// MemberRoles returns the role identifiers the user holds in the guild.
	MemberRoles(ctx context.Context, guildID, userID int64) ([]string, error)
	// RolePermissions returns the identifiers granted to a role in the guild.
	RolePermissions(ctx context.Context, guildID int64, role string) ([]Identifier, error)
	// Overrides returns the per-user overrides in the guild.
	Overrides(ctx context.Context, guildID, userID int64) ([]Override, error)
}

// Resolver computes effective permission sets. It holds no mutable state and
// is safe to share across concurrent dispatches.
type Resolver struct {
	store Store
}

func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve computes the user's effective permission set in the guild:
// the union of all role grants, with per-user overrides applied on top.
// Override grants add nodes no role granted; override revokes deny nodes
// even when a role wildcard would have granted them.
//
// Resolve never mutates store data. Callers are expected to cache the result
// for the lifetime of one invocation context.
func (r *Resolver) Resolve(ctx context.Context, guildID, userID int64) (Set, error) {
	roles, err := r.store.MemberRoles(ctx, guildID, userID)
	if err != nil {
		return Set{}, fmt.Errorf("%w: member roles of %d in guild %d: %v", ErrLookup, userID, guildID, err)
	}

	var set Set
	for _, role := range roles {
		nodes, err := r.store.RolePermissions(ctx, guildID, role)
		if err != nil {
			return Set{}, fmt.Errorf("%w: role %q in guild %d: %v", ErrLookup, role, guildID, err)
		}
		for _, n := range nodes {
			set.grant(n)
		}
	}

	overrides, err := r.store.Overrides(ctx, guildID, userID)
	if err != nil {
		return Set{}, fmt.Errorf("%w: overrides of %d in guild %d: %v", ErrLookup, userID, guildID, err)
	}
	// Apply grants first so a revoke of the same node wins.
	for _, o := range overrides {
		if o.Allow {
			set.grant(o.Node)
		}
	}
	for _, o := range overrides {
		if !o.Allow {
			set.revoke(o.Node)
		}
	}

	return set, nil
}
