// Package permission implements guildbot's permission nodes and the resolver
// that computes a member's effective permission set from role bindings and
// per-user overrides.
package permission

import "strings"

// Identifier is a dotted permission node, e.g. "admin.kick".
//
// A trailing ".*" makes the identifier a wildcard that covers every node
// below its prefix ("admin.*" covers "admin.kick" and "admin.roles.edit").
// A bare "*" covers everything. Identifiers are immutable values and compare
// structurally.
type Identifier string

// IsWildcard reports whether the identifier ends in a wildcard segment.
func (id Identifier) IsWildcard() bool {
	return id == "*" || strings.HasSuffix(string(id), ".*")
}

// prefix returns the namespace a wildcard identifier covers
// ("admin.*" -> "admin."). Only meaningful for wildcards; "*" covers all.
func (id Identifier) prefix() string {
	return strings.TrimSuffix(string(id), "*")
}

// Covers reports whether a granted identifier satisfies a required one:
// either an exact match, or the granted identifier is a wildcard ancestor
// of the required node.
func (id Identifier) Covers(required Identifier) bool {
	if id == required {
		return true
	}
	if !id.IsWildcard() {
		return false
	}
	if id == "*" {
		return true
	}
	return strings.HasPrefix(string(required), id.prefix())
}

// Override is an explicit per-user grant (Allow=true) or revoke (Allow=false)
// of a single identifier. Overrides take precedence over role-derived grants,
// and revokes win over grants at the same scope.
type Override struct {
	Node  Identifier
	Allow bool
}

// Set is a member's effective permission set.
//
// Revoked nodes are tracked separately from grants: a role may grant "admin.*"
// while a user-level revoke of "admin.kick" must still deny "admin.kick", so
// removing members from the granted set alone is not enough.
type Set struct {
	granted map[Identifier]struct{}
	revoked map[Identifier]struct{}
}

// NewSet builds a set from granted identifiers only.
func NewSet(granted ...Identifier) Set {
	s := Set{granted: make(map[Identifier]struct{}, len(granted))}
	for _, id := range granted {
		s.granted[id] = struct{}{}
	}
	return s
}

func (s *Set) grant(id Identifier) {
	if s.granted == nil {
		s.granted = map[Identifier]struct{}{}
	}
	s.granted[id] = struct{}{}
	delete(s.revoked, id)
}

func (s *Set) revoke(id Identifier) {
	if s.revoked == nil {
		s.revoked = map[Identifier]struct{}{}
	}
	s.revoked[id] = struct{}{}
	delete(s.granted, id)
}

// Has reports whether the set satisfies the required identifier.
// A matching revoke always wins; otherwise any exact or wildcard-ancestor
// grant satisfies the requirement.
func (s Set) Has(required Identifier) bool {
	for r := range s.revoked {
		if r.Covers(required) {
			return false
		}
	}
	for g := range s.granted {
		if g.Covers(required) {
			return true
		}
	}
	return false
}

// Granted returns the granted identifiers (order unspecified).
// Intended for help/inspection output, not for permission checks.
func (s Set) Granted() []Identifier {
	out := make([]Identifier, 0, len(s.granted))
	for g := range s.granted {
		out = append(out, g)
	}
	return out
}

// Len returns the number of granted identifiers.
func (s Set) Len() int { return len(s.granted) }
