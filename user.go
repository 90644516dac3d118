package main

import (
	"sort"
	"sync"
)

// User is created on successful signon or registration and destroyed when
// its Session closes (spec.md §3). It is shared-referenced by its owning
// Session and by every Group it has entered; Server.users is the only
// owning map. mu guards ACLSet/Properties/Groups: a user's own session
// mutates them (group-enter/exit, acl-set/-del on self), while another
// session's goroutine can read them concurrently (whois on this user,
// acl-set/-del targeting this user by another session) — the same
// cross-goroutine access pattern Group.mu guards for Group.Members.
type User struct {
	Handle string
	Gecos  string
	Options []string

	Session *Session

	mu         sync.RWMutex
	ACLSet     map[string]bool
	Properties map[string]bool

	// Groups this user currently belongs to, keyed by group name for O(1)
	// membership tests. Weak ownership: Server.groups is authoritative.
	Groups map[string]*Group

	// PendingPing is true between a sent `ping` and the matching `pong`;
	// a ping tick that finds it still set closes the connection
	// (spec.md §4.5). Only ever touched from the owning Session's
	// serialization point (handlers and timer callbacks alike), so it
	// needs no lock of its own.
	PendingPing bool
}

// NewUser constructs a User from a freshly-looked-up credential record.
func NewUser(handle, gecos string, acls, properties []string) *User {
	u := &User{
		Handle:     handle,
		Gecos:      gecos,
		ACLSet:     make(map[string]bool, len(acls)),
		Properties: make(map[string]bool, len(properties)),
		Groups:     make(map[string]*Group),
	}
	for _, a := range acls {
		u.ACLSet[a] = true
	}
	for _, p := range properties {
		u.Properties[p] = true
	}
	return u
}

// HasACL reports whether the user directly holds acl.
func (u *User) HasACL(acl string) bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.ACLSet[acl]
}

// HasAnyACL reports whether the user holds any of acls.
func (u *User) HasAnyACL(acls ...string) bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	for _, a := range acls {
		if u.ACLSet[a] {
			return true
		}
	}
	return false
}

// HasAllACL reports whether the user holds every one of acls.
func (u *User) HasAllACL(acls ...string) bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	for _, a := range acls {
		if !u.ACLSet[a] {
			return false
		}
	}
	return true
}

// SortedACL returns the user's ACL tokens in sorted order, for deterministic
// whois/acl-list output.
func (u *User) SortedACL() []string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	out := make([]string, 0, len(u.ACLSet))
	for a := range u.ACLSet {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// SetACL grants acl directly on the user (the user-scope half of
// spec.md §4.6's authorization model, applied to an online target by
// acl-set/acl-del).
func (u *User) SetACL(acl string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.ACLSet[acl] = true
}

// DeleteACL revokes acl directly from the user.
func (u *User) DeleteACL(acl string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.ACLSet, acl)
}

// HasProperty reports whether the user carries the given property flag.
func (u *User) HasProperty(p string) bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.Properties[p]
}

// addGroup records that the user has entered g. Called by Group.MemberAdd
// after it has installed the user into Members under its own lock.
func (u *User) addGroup(g *Group) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.Groups[g.Name] = g
}

// removeGroup records that the user has left g. Called by Group.MemberDel
// after it has removed the user from Members under its own lock.
func (u *User) removeGroup(g *Group) {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.Groups, g.Name)
}

// GroupList returns the groups this user currently belongs to, as a slice
// safe to range over without holding u.mu (used by userExit, which calls
// back into Group.MemberDel for each one).
func (u *User) GroupList() []*Group {
	u.mu.RLock()
	defer u.mu.RUnlock()
	out := make([]*Group, 0, len(u.Groups))
	for _, g := range u.Groups {
		out = append(out, g)
	}
	return out
}

// GroupNames returns the names of every group this user currently belongs
// to, filtered through the visibility predicate visible (used by whois to
// hide private groups from requesters lacking user:auspex).
func (u *User) GroupNames(visible func(*Group) bool) []string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	var out []string
	for name, g := range u.Groups {
		if visible == nil || visible(g) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Send frames a message to this user's live session. No-op if the user has
// no attached session (e.g. mid-teardown).
func (u *User) Send(source any, command string, kval map[string][]string) {
	if u.Session == nil {
		return
	}
	u.Session.Send(source, u, command, kval)
}
