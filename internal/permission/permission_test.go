package permission

import "testing"

func TestCovers(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		granted  Identifier
		required Identifier
		want     bool
	}{
		{name: "exact", granted: "admin.kick", required: "admin.kick", want: true},
		{name: "wildcard child", granted: "admin.*", required: "admin.kick", want: true},
		{name: "wildcard grandchild", granted: "admin.*", required: "admin.roles.edit", want: true},
		{name: "wildcard self literal", granted: "admin.*", required: "admin.*", want: true},
		{name: "global wildcard", granted: "*", required: "anything.at.all", want: true},
		{name: "different namespace", granted: "admin.*", required: "mod.purge", want: false},
		{name: "plain is not wildcard", granted: "admin", required: "admin.kick", want: false},
		{name: "prefix without dot", granted: "admin.*", required: "administrator", want: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.granted.Covers(tt.required); got != tt.want {
				t.Fatalf("Covers(%q, %q) = %v, want %v", tt.granted, tt.required, got, tt.want)
			}
		})
	}
}

func TestSetHas(t *testing.T) {
	t.Parallel()

	var s Set
	s.grant("admin.*")
	s.grant("mod.purge")

	if !s.Has("admin.kick") {
		t.Fatal("wildcard grant should satisfy admin.kick")
	}
	if !s.Has("mod.purge") {
		t.Fatal("exact grant should satisfy mod.purge")
	}
	if s.Has("mod.ban") {
		t.Fatal("mod.ban was never granted")
	}

	// A revoke denies even when a wildcard grant remains in the set.
	s.revoke("admin.kick")
	if s.Has("admin.kick") {
		t.Fatal("revoke of admin.kick must win over admin.* grant")
	}
	if !s.Has("admin.ban") {
		t.Fatal("revoke of admin.kick must not affect admin.ban")
	}

	// A wildcard revoke denies the whole subtree.
	s.revoke("mod.*")
	if s.Has("mod.purge") {
		t.Fatal("wildcard revoke must deny mod.purge")
	}
}
