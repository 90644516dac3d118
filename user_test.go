package main

import "testing"

func TestUserHasACL(t *testing.T) {
	u := NewUser("alice", "Alice", []string{"user:auspex"}, nil)
	if !u.HasACL("user:auspex") {
		t.Fatal("expected user:auspex")
	}
	if u.HasACL("user:grant") {
		t.Fatal("did not expect user:grant")
	}
}

func TestUserHasAnyAllACL(t *testing.T) {
	u := NewUser("alice", "Alice", []string{"a", "b"}, nil)
	if !u.HasAnyACL("x", "b") {
		t.Fatal("expected HasAnyACL true")
	}
	if u.HasAnyACL("x", "y") {
		t.Fatal("expected HasAnyACL false")
	}
	if !u.HasAllACL("a", "b") {
		t.Fatal("expected HasAllACL true")
	}
	if u.HasAllACL("a", "c") {
		t.Fatal("expected HasAllACL false")
	}
}

func TestUserGroupNamesFiltersPrivate(t *testing.T) {
	u := NewUser("alice", "Alice", nil, nil)
	pub := NewGroup("#pub")
	priv := NewGroup("#priv")
	priv.Properties["private"] = true
	pub.MemberAdd(u, "")
	priv.MemberAdd(u, "")

	names := u.GroupNames(func(g *Group) bool { return !g.HasProperty("private") })
	if len(names) != 1 || names[0] != "#pub" {
		t.Fatalf("names = %v, want [#pub]", names)
	}

	all := u.GroupNames(nil)
	if len(all) != 2 {
		t.Fatalf("all = %v, want 2 entries", all)
	}
}

func TestUserSendNoopWithoutSession(t *testing.T) {
	u := NewUser("alice", "Alice", nil, nil)
	// Must not panic with a nil Session.
	u.Send(nil, "message", map[string][]string{"body": {"hi"}})
}
