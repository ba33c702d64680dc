package permission

import (
	"context"
	"errors"
	"testing"
)

// fakeStore is an in-memory Store for resolver tests.
type fakeStore struct {
	roles     map[int64][]string // userID -> roles
	rolePerms map[string][]Identifier
	overrides map[int64][]Override

	failRoles bool
}

func (f *fakeStore) MemberRoles(_ context.Context, _ int64, userID int64) ([]string, error) {
	if f.failRoles {
		return nil, errors.New("store offline")
	}
	return f.roles[userID], nil
}

func (f *fakeStore) RolePermissions(_ context.Context, _ int64, role string) ([]Identifier, error) {
	return f.rolePerms[role], nil
}

func (f *fakeStore) Overrides(_ context.Context, _ int64, userID int64) ([]Override, error) {
	return f.overrides[userID], nil
}

func TestResolveRoleUnionAndOverrides(t *testing.T) {
	t.Parallel()

	st := &fakeStore{
		roles: map[int64][]string{
			42: {"mod", "dj"},
		},
		rolePerms: map[string][]Identifier{
			"mod": {"admin.*"},
			"dj":  {"music.play"},
		},
		overrides: map[int64][]Override{
			42: {
				{Node: "admin.kick", Allow: false},
				{Node: "confess.read", Allow: true},
			},
		},
	}
	r := NewResolver(st)

	set, err := r.Resolve(context.Background(), 1, 42)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if !set.Has("admin.ban") {
		t.Fatal("role wildcard should grant admin.ban")
	}
	if !set.Has("music.play") {
		t.Fatal("union of roles should include music.play")
	}
	if set.Has("admin.kick") {
		t.Fatal("user-level revoke must deny admin.kick despite admin.* role grant")
	}
	if !set.Has("confess.read") {
		t.Fatal("user-level grant must add confess.read without any role grant")
	}
}

func TestResolveRevokeWinsOverGrantSameScope(t *testing.T) {
	t.Parallel()

	st := &fakeStore{
		roles: map[int64][]string{7: nil},
		overrides: map[int64][]Override{
			7: {
				{Node: "tag.edit", Allow: true},
				{Node: "tag.edit", Allow: false},
			},
		},
	}
	set, err := NewResolver(st).Resolve(context.Background(), 1, 7)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if set.Has("tag.edit") {
		t.Fatal("revoke must win over grant at the same scope")
	}
}

func TestResolveLookupFailure(t *testing.T) {
	t.Parallel()

	st := &fakeStore{failRoles: true}
	_, err := NewResolver(st).Resolve(context.Background(), 1, 42)
	if !errors.Is(err, ErrLookup) {
		t.Fatalf("expected ErrLookup, got %v", err)
	}
}
