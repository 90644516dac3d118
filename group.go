package main

import (
	"sort"
	"sync"
)

// Group is created on-demand when the first user enters it and is reclaimed
// once its last member departs (spec.md §3). Server.groups is the only
// owning map; Users hold weak (name-keyed) references to the Groups they
// belong to. mu guards Members/ACL/Properties: membership is mutated from
// whichever session's goroutine runs group-enter/group-exit/acl-set/acl-del,
// while other sessions' goroutines concurrently range Members for message
// fan-out and acl-list — exactly the cross-goroutine access room.go's
// Room.mu guards for Room.clients.
type Group struct {
	Name string

	mu sync.RWMutex

	// Members currently in the group, keyed by handle.
	Members map[string]*User

	// ACL holds per-member grant tokens scoped to this group (the
	// group-scope half of spec.md §4.6's authorization model): handle ->
	// set of tokens that handle holds within this group.
	ACL map[string]map[string]bool

	// Properties are group-wide flags, e.g. "private" (hides the group
	// from non-auspex whois) or "group:grant-only-acl" (restricts acl-list
	// visibility to grant holders — SPEC_FULL.md §5.5).
	Properties map[string]bool
}

// NewGroup constructs an empty group with the given (already-validated)
// name, including its leading '#'.
func NewGroup(name string) *Group {
	return &Group{
		Name:       name,
		Members:    make(map[string]*User),
		ACL:        make(map[string]map[string]bool),
		Properties: make(map[string]bool),
	}
}

// HasProperty reports whether the group carries the given group-wide flag.
func (g *Group) HasProperty(p string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.Properties[p]
}

// HasMember reports whether handle currently belongs to the group.
func (g *Group) HasMember(handle string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.Members[handle]
	return ok
}

// MemberHasACL reports whether handle holds acl within this group.
func (g *Group) MemberHasACL(handle, acl string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.ACL[handle][acl]
}

// MemberHasAnyACL reports whether handle holds any of acls within this
// group.
func (g *Group) MemberHasAnyACL(handle string, acls ...string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	grants := g.ACL[handle]
	for _, a := range acls {
		if grants[a] {
			return true
		}
	}
	return false
}

// SetMemberACL grants acl to handle within the group. Returns false if
// already held.
func (g *Group) SetMemberACL(handle, acl string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	grants, ok := g.ACL[handle]
	if !ok {
		grants = make(map[string]bool)
		g.ACL[handle] = grants
	}
	if grants[acl] {
		return false
	}
	grants[acl] = true
	return true
}

// DeleteMemberACL revokes acl from handle within the group. Returns false if
// not held.
func (g *Group) DeleteMemberACL(handle, acl string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	grants := g.ACL[handle]
	if !grants[acl] {
		return false
	}
	delete(grants, acl)
	if len(grants) == 0 {
		delete(g.ACL, handle)
	}
	return true
}

// Snapshot returns the group's current members as a slice, safe to range
// over and send to without holding g.mu (spec.md §5: deliver best-effort
// per member without one member's slow session blocking another or racing
// concurrent membership changes).
func (g *Group) Snapshot() []*User {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*User, 0, len(g.Members))
	for _, m := range g.Members {
		out = append(out, m)
	}
	return out
}

// MemberAdd enrolls user into the group and broadcasts the join to every
// current member, including the new one, with source = user (spec.md
// §4.4's group-enter). The two-sided membership invariant (U in
// G.Members <=> G in U.Groups) is maintained here in one step, and the
// fan-out snapshot is taken under the same lock as the mutation so no
// concurrent group-exit can race it.
func (g *Group) MemberAdd(user *User, reason string) {
	g.mu.Lock()
	g.Members[user.Handle] = user
	targets := make([]*User, 0, len(g.Members))
	for _, m := range g.Members {
		targets = append(targets, m)
	}
	g.mu.Unlock()

	user.addGroup(g)

	kval := map[string][]string{}
	if reason != "" {
		kval["reason"] = []string{reason}
	}
	sendToGroupMembers(targets, user, g, "group-enter", kval)
}

// MemberDel removes user from the group and broadcasts the departure to the
// remaining members (and the leaving user, who was still a member when the
// fan-out snapshot was taken). reason is a single string (spec.md §9 item
// iii, resolved in SPEC_FULL.md §5.4).
func (g *Group) MemberDel(user *User, reason string) {
	g.mu.Lock()
	if _, ok := g.Members[user.Handle]; !ok {
		g.mu.Unlock()
		return
	}
	targets := make([]*User, 0, len(g.Members))
	for _, m := range g.Members {
		targets = append(targets, m)
	}
	delete(g.Members, user.Handle)
	delete(g.ACL, user.Handle)
	g.mu.Unlock()

	user.removeGroup(g)

	kval := map[string][]string{}
	if reason != "" {
		kval["reason"] = []string{reason}
	}
	sendToGroupMembers(targets, user, g, "group-exit", kval)
}

// sendToGroupMembers delivers a membership-event frame, targeted at the
// group itself (not the recipient), to every member in targets.
// Delivery is best-effort per member: one member's closed or slow session
// never blocks delivery to the others. Always called with g.mu released;
// returns once every member's write has finished or failed.
func sendToGroupMembers(targets []*User, source *User, g *Group, command string, kval map[string][]string) {
	var wg sync.WaitGroup
	for _, m := range targets {
		if m.Session == nil {
			continue
		}
		wg.Add(1)
		go func(sess *Session) {
			defer wg.Done()
			sess.Send(source, g, command, kval)
		}(m.Session)
	}
	wg.Wait()
}

// Message fans a `message` frame, targeted at the group, out to every member
// except sender (spec.md §4.4).
func (g *Group) Message(sender *User, body []string) {
	targets := g.Snapshot()

	kval := map[string][]string{}
	if len(body) > 0 {
		kval["body"] = body
	}
	for _, m := range targets {
		if m.Handle == sender.Handle || m.Session == nil {
			continue
		}
		m.Session.Send(sender, g, "message", kval)
	}
}

// Empty reports whether the group has no members left and is eligible for
// reclamation.
func (g *Group) Empty() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.Members) == 0
}

// SortedMemberHandles returns member handles in sorted order.
func (g *Group) SortedMemberHandles() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0, len(g.Members))
	for h := range g.Members {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}
