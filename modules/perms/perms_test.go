package perms

import (
	"context"
	"errors"
	"strings"
	"testing"

	"guildbot/internal/command"
	"guildbot/internal/dispatch"
	"guildbot/internal/module"
	"guildbot/internal/permission"
	"guildbot/internal/store"
	logx "guildbot/pkg/logx"
)

func newTestModule(t *testing.T) (*command.Registry, store.Store) {
	t.Helper()
	st := store.NewMemory()
	m := New(st, permission.NewResolver(st))
	reg := command.NewRegistry()
	if err := module.Load(reg, nil, nil, logx.Nop(), m); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return reg, st
}

func run(t *testing.T, reg *command.Registry, text string) (string, error) {
	t.Helper()
	node, args, ok := reg.Lookup(strings.Fields(text))
	if !ok || !node.Runnable() {
		t.Fatalf("Lookup(%q): not a runnable command", text)
	}
	inv := &command.Invocation{GuildID: 7, AuthorID: 1, Args: args}
	return node.Command().Handle(context.Background(), inv)
}

func TestRoleGrantsRoundTrip(t *testing.T) {
	t.Parallel()
	reg, st := newTestModule(t)
	ctx := context.Background()

	if _, err := run(t, reg, "perms role add mods mod.*"); err != nil {
		t.Fatalf("role add: %v", err)
	}
	if _, err := run(t, reg, "perms role add mods admin.kick"); err != nil {
		t.Fatalf("role add: %v", err)
	}

	out, err := run(t, reg, "perms role list mods")
	if err != nil {
		t.Fatalf("role list mods: %v", err)
	}
	if !strings.Contains(out, "mod.*") || !strings.Contains(out, "admin.kick") {
		t.Fatalf("role list = %q", out)
	}

	out, err = run(t, reg, "perms role list")
	if err != nil || !strings.Contains(out, "mods") {
		t.Fatalf("role list = %q, %v", out, err)
	}

	if _, err := run(t, reg, "perms role remove mods admin.kick"); err != nil {
		t.Fatalf("role remove: %v", err)
	}
	nodes, err := st.RolePermissions(ctx, 7, "mods")
	if err != nil {
		t.Fatalf("RolePermissions: %v", err)
	}
	if len(nodes) != 1 || nodes[0] != "mod.*" {
		t.Fatalf("grants after remove = %v", nodes)
	}
}

func TestUserRolesAndOverrides(t *testing.T) {
	t.Parallel()
	reg, st := newTestModule(t)
	ctx := context.Background()
	resolver := permission.NewResolver(st)

	for _, text := range []string{
		"perms role add mods mod.*",
		"perms user addrole 42 mods",
		"perms user grant 42 admin.kick",
		"perms user revoke 42 mod.purge",
	} {
		if _, err := run(t, reg, text); err != nil {
			t.Fatalf("%q: %v", text, err)
		}
	}

	set, err := resolver.Resolve(ctx, 7, 42)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !set.Has("mod.warn") {
		t.Fatal("role wildcard should cover mod.warn")
	}
	if !set.Has("admin.kick") {
		t.Fatal("override grant should cover admin.kick")
	}
	if set.Has("mod.purge") {
		t.Fatal("override revoke should beat the role wildcard")
	}

	if _, err := run(t, reg, "perms user clear 42 mod.purge"); err != nil {
		t.Fatalf("user clear: %v", err)
	}
	set, err = resolver.Resolve(ctx, 7, 42)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !set.Has("mod.purge") {
		t.Fatal("clearing the revoke should restore the wildcard grant")
	}

	if _, err := run(t, reg, "perms user removerole 42 mods"); err != nil {
		t.Fatalf("user removerole: %v", err)
	}
	set, err = resolver.Resolve(ctx, 7, 42)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if set.Has("mod.warn") {
		t.Fatal("role removal should drop role-derived grants")
	}
}

func TestShow(t *testing.T) {
	t.Parallel()
	reg, _ := newTestModule(t)

	for _, text := range []string{
		"perms role add mods mod.*",
		"perms user addrole 42 mods",
		"perms user grant 42 admin.kick",
	} {
		if _, err := run(t, reg, text); err != nil {
			t.Fatalf("%q: %v", text, err)
		}
	}

	out, err := run(t, reg, "perms show 42")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	for _, want := range []string{"user 42", "mods", "mod.*", "admin.kick"} {
		if !strings.Contains(out, want) {
			t.Fatalf("show missing %q:\n%s", want, out)
		}
	}

	out, err = run(t, reg, "perms show 1000")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	if !strings.Contains(out, "roles: none") || !strings.Contains(out, "permissions: none") {
		t.Fatalf("show for unknown user = %q", out)
	}
}

func TestArgumentValidation(t *testing.T) {
	t.Parallel()
	reg, _ := newTestModule(t)

	for _, text := range []string{
		"perms role add mods",
		"perms role list a b",
		"perms user addrole bob mods",
		"perms user grant 42",
		"perms show",
		"perms show bob",
	} {
		if _, err := run(t, reg, text); !errors.Is(err, dispatch.ErrInvalidArguments) {
			t.Fatalf("%q = %v, want ErrInvalidArguments", text, err)
		}
	}
}

func TestEveryWriteCommandIsGated(t *testing.T) {
	t.Parallel()
	reg, _ := newTestModule(t)

	var walk func(n *command.Node)
	walk = func(n *command.Node) {
		if n.Runnable() && len(n.Command().Permissions) == 0 {
			t.Errorf("%s is not permission-gated", n.Path())
		}
		for _, c := range n.Children() {
			walk(c)
		}
	}
	for _, n := range reg.Roots() {
		walk(n)
	}
}
