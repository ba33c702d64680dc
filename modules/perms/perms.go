// Package perms exposes the permission administration commands: role
// bindings, role grants and per-user overrides, all persisted in the store.
package perms

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"guildbot/internal/command"
	"guildbot/internal/dispatch"
	"guildbot/internal/module"
	"guildbot/internal/permission"
	"guildbot/internal/store"
	"guildbot/internal/task"
)

// manageNode gates every write command of the module.
const manageNode permission.Identifier = "perms.manage"

type Module struct {
	store    store.Store
	resolver *permission.Resolver
}

func New(st store.Store, resolver *permission.Resolver) *Module {
	return &Module{store: st, resolver: resolver}
}

func (*Module) Name() string                 { return "perms" }
func (*Module) Tasks() []task.Task           { return nil }
func (*Module) Hooks() []module.Subscription { return nil }

func (m *Module) Commands() []module.Registration {
	manage := []permission.Identifier{manageNode}
	return []module.Registration{
		{Cmd: command.Command{
			Name:        "perms",
			Aliases:     []string{"permissions"},
			Description: "manage roles and permissions",
		}},
		{Parent: "perms", Cmd: command.Command{
			Name:        "role",
			Description: "manage role permission grants",
		}},
		{Parent: "perms role", Cmd: command.Command{
			Name:        "add",
			Description: "grant a permission node to a role",
			Usage:       "perms role add <role> <node>",
			Permissions: manage,
			Handle:      m.roleAdd,
		}},
		{Parent: "perms role", Cmd: command.Command{
			Name:        "remove",
			Description: "remove a permission node from a role",
			Usage:       "perms role remove <role> <node>",
			Permissions: manage,
			Handle:      m.roleRemove,
		}},
		{Parent: "perms role", Cmd: command.Command{
			Name:        "list",
			Description: "list roles, or one role's grants",
			Usage:       "perms role list [role]",
			Permissions: manage,
			Handle:      m.roleList,
		}},
		{Parent: "perms", Cmd: command.Command{
			Name:        "user",
			Description: "manage a member's roles and overrides",
		}},
		{Parent: "perms user", Cmd: command.Command{
			Name:        "addrole",
			Description: "bind a role to a member",
			Usage:       "perms user addrole <user-id> <role>",
			Permissions: manage,
			Handle:      m.userAddRole,
		}},
		{Parent: "perms user", Cmd: command.Command{
			Name:        "removerole",
			Description: "unbind a role from a member",
			Usage:       "perms user removerole <user-id> <role>",
			Permissions: manage,
			Handle:      m.userRemoveRole,
		}},
		{Parent: "perms user", Cmd: command.Command{
			Name:        "grant",
			Description: "grant a node to a member directly",
			Usage:       "perms user grant <user-id> <node>",
			Permissions: manage,
			Handle:      m.userGrant,
		}},
		{Parent: "perms user", Cmd: command.Command{
			Name:        "revoke",
			Description: "revoke a node from a member, overriding role grants",
			Usage:       "perms user revoke <user-id> <node>",
			Permissions: manage,
			Handle:      m.userRevoke,
		}},
		{Parent: "perms user", Cmd: command.Command{
			Name:        "clear",
			Description: "drop a member's override for a node",
			Usage:       "perms user clear <user-id> <node>",
			Permissions: manage,
			Handle:      m.userClear,
		}},
		{Parent: "perms", Cmd: command.Command{
			Name:        "show",
			Description: "show a member's effective permissions",
			Usage:       "perms show <user-id>",
			Permissions: manage,
			Handle:      m.show,
		}},
	}
}

func (m *Module) roleAdd(ctx context.Context, inv *command.Invocation) (string, error) {
	role, node, err := roleAndNode(inv.Args)
	if err != nil {
		return "", err
	}
	if err := m.store.AddRolePermission(ctx, inv.GuildID, role, node); err != nil {
		return "", fmt.Errorf("grant %s to role %s: %w", node, role, err)
	}
	return fmt.Sprintf("role %s now grants %s", role, node), nil
}

func (m *Module) roleRemove(ctx context.Context, inv *command.Invocation) (string, error) {
	role, node, err := roleAndNode(inv.Args)
	if err != nil {
		return "", err
	}
	if err := m.store.RemoveRolePermission(ctx, inv.GuildID, role, node); err != nil {
		return "", fmt.Errorf("remove %s from role %s: %w", node, role, err)
	}
	return fmt.Sprintf("role %s no longer grants %s", role, node), nil
}

func (m *Module) roleList(ctx context.Context, inv *command.Invocation) (string, error) {
	switch len(inv.Args) {
	case 0:
		roles, err := m.store.Roles(ctx, inv.GuildID)
		if err != nil {
			return "", fmt.Errorf("list roles: %w", err)
		}
		if len(roles) == 0 {
			return "no roles configured", nil
		}
		return "roles: " + strings.Join(roles, ", "), nil
	case 1:
		role := inv.Args[0]
		nodes, err := m.store.RolePermissions(ctx, inv.GuildID, role)
		if err != nil {
			return "", fmt.Errorf("list grants of role %s: %w", role, err)
		}
		if len(nodes) == 0 {
			return fmt.Sprintf("role %s grants nothing", role), nil
		}
		return fmt.Sprintf("role %s grants: %s", role, joinNodes(nodes)), nil
	default:
		return "", fmt.Errorf("%w: at most one role", dispatch.ErrInvalidArguments)
	}
}

func (m *Module) userAddRole(ctx context.Context, inv *command.Invocation) (string, error) {
	userID, role, err := userAndWord(inv.Args, "role")
	if err != nil {
		return "", err
	}
	if err := m.store.AddMemberRole(ctx, inv.GuildID, userID, role); err != nil {
		return "", fmt.Errorf("bind role %s to %d: %w", role, userID, err)
	}
	return fmt.Sprintf("%d now has role %s", userID, role), nil
}

func (m *Module) userRemoveRole(ctx context.Context, inv *command.Invocation) (string, error) {
	userID, role, err := userAndWord(inv.Args, "role")
	if err != nil {
		return "", err
	}
	if err := m.store.RemoveMemberRole(ctx, inv.GuildID, userID, role); err != nil {
		return "", fmt.Errorf("unbind role %s from %d: %w", role, userID, err)
	}
	return fmt.Sprintf("%d no longer has role %s", userID, role), nil
}

func (m *Module) userGrant(ctx context.Context, inv *command.Invocation) (string, error) {
	userID, node, err := userAndNode(inv.Args)
	if err != nil {
		return "", err
	}
	o := permission.Override{Node: node, Allow: true}
	if err := m.store.SetOverride(ctx, inv.GuildID, userID, o); err != nil {
		return "", fmt.Errorf("grant %s to %d: %w", node, userID, err)
	}
	return fmt.Sprintf("%d granted %s", userID, node), nil
}

func (m *Module) userRevoke(ctx context.Context, inv *command.Invocation) (string, error) {
	userID, node, err := userAndNode(inv.Args)
	if err != nil {
		return "", err
	}
	o := permission.Override{Node: node, Allow: false}
	if err := m.store.SetOverride(ctx, inv.GuildID, userID, o); err != nil {
		return "", fmt.Errorf("revoke %s from %d: %w", node, userID, err)
	}
	return fmt.Sprintf("%d revoked %s", userID, node), nil
}

func (m *Module) userClear(ctx context.Context, inv *command.Invocation) (string, error) {
	userID, node, err := userAndNode(inv.Args)
	if err != nil {
		return "", err
	}
	if err := m.store.RemoveOverride(ctx, inv.GuildID, userID, node); err != nil {
		return "", fmt.Errorf("clear override %s of %d: %w", node, userID, err)
	}
	return fmt.Sprintf("override %s of %d cleared", node, userID), nil
}

func (m *Module) show(ctx context.Context, inv *command.Invocation) (string, error) {
	if len(inv.Args) != 1 {
		return "", fmt.Errorf("%w: show needs a user id", dispatch.ErrInvalidArguments)
	}
	userID, err := parseUserID(inv.Args[0])
	if err != nil {
		return "", err
	}

	roles, err := m.store.MemberRoles(ctx, inv.GuildID, userID)
	if err != nil {
		return "", fmt.Errorf("roles of %d: %w", userID, err)
	}
	set, err := m.resolver.Resolve(ctx, inv.GuildID, userID)
	if err != nil {
		return "", fmt.Errorf("resolve %d: %w", userID, err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "user %d\n", userID)
	if len(roles) > 0 {
		fmt.Fprintf(&sb, "roles: %s\n", strings.Join(roles, ", "))
	} else {
		sb.WriteString("roles: none\n")
	}
	if set.Len() == 0 {
		sb.WriteString("permissions: none")
		return sb.String(), nil
	}
	fmt.Fprintf(&sb, "permissions: %s", joinNodes(set.Granted()))
	return sb.String(), nil
}

func roleAndNode(args []string) (string, permission.Identifier, error) {
	if len(args) != 2 {
		return "", "", fmt.Errorf("%w: a role and a node are required", dispatch.ErrInvalidArguments)
	}
	return args[0], permission.Identifier(args[1]), nil
}

func userAndNode(args []string) (int64, permission.Identifier, error) {
	userID, word, err := userAndWord(args, "node")
	return userID, permission.Identifier(word), err
}

func userAndWord(args []string, what string) (int64, string, error) {
	if len(args) != 2 {
		return 0, "", fmt.Errorf("%w: a user id and a %s are required", dispatch.ErrInvalidArguments, what)
	}
	userID, err := parseUserID(args[0])
	if err != nil {
		return 0, "", err
	}
	return userID, args[1], nil
}

func parseUserID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a user id", dispatch.ErrInvalidArguments, s)
	}
	return id, nil
}

func joinNodes(nodes []permission.Identifier) string {
	parts := make([]string, len(nodes))
	for i, n := range nodes {
		parts[i] = string(n)
	}
	sort.Strings(parts)
	return strings.Join(parts, ", ")
}
