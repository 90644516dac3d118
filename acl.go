package main

import (
	"strconv"
	"strings"
	"sync"

	"dcp/store"
	"dcp/wire"
)

// userACLVocabulary and groupACLVocabulary are the two fixed token
// vocabularies spec.md §4.6 requires the handler to validate against.
// original_source leaves the concrete token lists to the deployment; these
// are the tokens this repo's own handlers (whois, group properties) check
// for, plus the grant family spec.md describes explicitly.
var userACLVocabulary = map[string]bool{
	"user:auspex": true,
	"user:grant":  true,
	"group:grant": true,
}

var groupACLVocabulary = map[string]bool{
	"op":          true,
	"voice":       true,
	"grant":       true,
	"grant:*":     true,
	"grant:op":    true,
	"grant:voice": true,
}

// aclResolveTarget validates the {target, acl, user} triple of an
// acl-set/-del command and resolves it to either a group plus the member
// handle the ACL applies to, or a bare user handle for a user-scope grant —
// the Go analogue of ACLBase.registered in
// original_source/server/commands/acl.py.
func aclResolveTarget(sess *Session, command string, frame *wire.Frame, acl string) (g *Group, handle string, ok bool) {
	target := strings.ToLower(frame.Target)
	switch {
	case target == "*" || target == "":
		sess.Error(command, "No valid target", false, map[string][]string{"acl": {acl}})
		return nil, "", false
	case strings.HasPrefix(target, "#"):
		if !groupACLVocabulary[acl] {
			sess.Error(command, "Invalid ACL", false, map[string][]string{"target": {target}, "acl": {acl}})
			return nil, "", false
		}
		member := strings.ToLower(frame.Get("user"))
		if member == "" {
			sess.Error(command, "No valid user for target", false, map[string][]string{"target": {target}, "acl": {acl}})
			return nil, "", false
		}
		g := sess.server.GetGroup(target)
		if g == nil {
			sess.Error(command, "No such target", false, map[string][]string{"target": {target}, "acl": {acl}})
			return nil, "", false
		}
		return g, member, true
	case strings.HasPrefix(target, "="):
		sess.Error(command, "ACLs can't be set on servers yet", false, map[string][]string{"target": {target}, "acl": {acl}})
		return nil, "", false
	default:
		if !userACLVocabulary[acl] {
			sess.Error(command, "Invalid ACL", false, map[string][]string{"target": {target}, "acl": {acl}})
			return nil, "", false
		}
		return nil, target, true
	}
}

// hasGrantGroup implements spec.md §4.6's group-scoped grant check.
func hasGrantGroup(requester *User, g *Group, acl string) (bool, string) {
	if !g.HasMember(requester.Handle) {
		return false, "Must be in group to alter ACLs in it"
	}
	if g.MemberHasAnyACL(requester.Handle, "grant", "grant:*", "grant:"+acl) {
		return true, ""
	}
	if requester.HasACL("group:grant") {
		return true, ""
	}
	return false, "No permission to alter ACL"
}

// hasGrantUser implements spec.md §4.6's user-scoped grant check: the
// requester must hold user:grant AND every ACL being assigned.
func hasGrantUser(requester *User, acl string) (bool, string) {
	if !requester.HasACL("user:grant") || (acl != "" && !requester.HasACL(acl)) {
		return false, "No permission to alter ACL"
	}
	return true, ""
}

func cmdACLSet(s *Server, sess *Session, user *User, frame *wire.Frame) {
	aclSet(s, sess, user, frame, false)
}

func cmdACLDel(s *Server, sess *Session, user *User, frame *wire.Frame) {
	aclDel(s, sess, user, frame, false)
}

func cmdACLList(s *Server, sess *Session, user *User, frame *wire.Frame) {
	aclList(s, sess, user, frame)
}

// aclSet is shared by the dispatcher path and the trusted/IPC path
// (SPEC_FULL.md §5.1): when authorized is true no grant check runs and the
// emitted frames carry no source (rendered `*`) rather than the requesting
// user.
func aclSet(s *Server, sess *Session, requester *User, frame *wire.Frame, authorized bool) {
	acl := strings.ToLower(frame.Get("acl"))
	if acl == "" {
		sess.Error("acl-set", "No ACL", false, nil)
		return
	}
	g, handle, ok := aclResolveTarget(sess, "acl-set", frame, acl)
	if !ok {
		return
	}

	kval := map[string][]string{"acl": {acl}}
	if g != nil {
		kval["target"] = []string{g.Name}
		kval["user"] = []string{handle}
	} else {
		kval["target"] = []string{handle}
	}
	if reason := frame.Get("reason"); reason != "" {
		kval["reason"] = []string{reason}
	}

	var source any = requester
	if !authorized {
		var allowed bool
		var msg string
		if g != nil {
			allowed, msg = hasGrantGroup(requester, g, acl)
		} else {
			allowed, msg = hasGrantUser(requester, acl)
		}
		if !allowed {
			sess.Error("acl-set", msg, false, kval)
			return
		}
	} else {
		source = nil
	}

	setter := requester.Handle
	if authorized {
		setter = "*"
	}

	if g != nil {
		if !g.SetMemberACL(handle, acl) {
			sess.Error("acl-set", "ACL exists", false, kval)
			return
		}
		_ = s.Store.SetGroupACL(g.Name, handle, acl, setter)
		// requester is necessarily a member (hasGrantGroup requires it), so
		// this fan-out alone also serves as their confirmation. Each member
		// is written concurrently so one slow member does not hold up the
		// others.
		var wg sync.WaitGroup
		for _, m := range g.Snapshot() {
			wg.Add(1)
			go func(m *User) {
				defer wg.Done()
				m.Send(source, "acl-set", kval)
			}(m)
		}
		wg.Wait()
		return
	}

	cred, err := s.Store.Get(handle)
	if err != nil {
		sess.Error("acl-set", "Internal server error (this isn't your fault)", false, nil)
		return
	}
	if cred == nil {
		sess.Error("acl-set", "No such target", false, map[string][]string{"target": {handle}})
		return
	}
	if err := s.Store.SetUserACL(handle, acl, setter); err != nil {
		if err == store.ErrExists {
			sess.Error("acl-set", "ACL exists", false, kval)
			return
		}
		sess.Error("acl-set", "Internal server error (this isn't your fault)", false, nil)
		return
	}

	notified := map[string]bool{}
	if tu := s.GetUser(handle); tu != nil {
		tu.SetACL(acl)
		tu.Send(source, "acl-set", kval)
		notified[tu.Handle] = true
	}
	if !notified[requester.Handle] {
		requester.Send(source, "acl-set", kval)
	}
}

func aclDel(s *Server, sess *Session, requester *User, frame *wire.Frame, authorized bool) {
	acl := strings.ToLower(frame.Get("acl"))
	if acl == "" {
		sess.Error("acl-del", "No ACL", false, nil)
		return
	}
	g, handle, ok := aclResolveTarget(sess, "acl-del", frame, acl)
	if !ok {
		return
	}

	kval := map[string][]string{"acl": {acl}}
	if g != nil {
		kval["target"] = []string{g.Name}
		kval["user"] = []string{handle}
	} else {
		kval["target"] = []string{handle}
	}

	var source any = requester
	if !authorized {
		var allowed bool
		var msg string
		if g != nil {
			allowed, msg = hasGrantGroup(requester, g, acl)
		} else {
			allowed, msg = hasGrantUser(requester, acl)
		}
		if !allowed {
			sess.Error("acl-del", msg, false, kval)
			return
		}
	} else {
		source = nil
	}

	if g != nil {
		if !g.DeleteMemberACL(handle, acl) {
			sess.Error("acl-del", "ACL does not exist", false, kval)
			return
		}
		_ = s.Store.DeleteGroupACL(g.Name, handle, acl)
		// requester is necessarily a member (hasGrantGroup requires it), so
		// this loop alone also serves as their confirmation.
		for _, m := range g.Snapshot() {
			m.Send(source, "acl-del", kval)
		}
		return
	}

	if err := s.Store.DeleteUserACL(handle, acl); err != nil {
		if err == store.ErrNotFound {
			sess.Error("acl-del", "ACL does not exist", false, kval)
			return
		}
		sess.Error("acl-del", "Internal server error (this isn't your fault)", false, nil)
		return
	}

	notified := map[string]bool{}
	if tu := s.GetUser(handle); tu != nil {
		tu.DeleteACL(acl)
		tu.Send(source, "acl-del", kval)
		notified[tu.Handle] = true
	}
	if !notified[requester.Handle] {
		requester.Send(source, "acl-del", kval)
	}
}

// aclList implements spec.md §4.6's `acl-list`: group listing is visible to
// members (additionally grant-gated when the group carries
// `group:grant-only-acl`, SPEC_FULL.md §5.5); user listing requires the
// same grant check used for mutation, except a user may always list their
// own ACLs.
func aclList(s *Server, sess *Session, requester *User, frame *wire.Frame) {
	target := strings.ToLower(frame.Target)
	switch {
	case strings.HasPrefix(target, "#"):
		g := s.GetGroup(target)
		if g == nil || !g.HasMember(requester.Handle) {
			sess.Error("acl-list", "Must be in group to list its ACLs", false, map[string][]string{"target": {target}})
			return
		}
		if g.HasProperty("group:grant-only-acl") {
			if ok, msg := hasGrantGroup(requester, g, "*"); !ok {
				sess.Error("acl-list", msg, false, map[string][]string{"target": {target}})
				return
			}
		}
		entries, err := s.Store.GetGroupACL(target)
		if err != nil {
			sess.Error("acl-list", "Internal server error (this isn't your fault)", false, nil)
			return
		}
		sendACLList(s, sess, requester, "acl-list", target, entries)
	default:
		if target != requester.Handle {
			if ok, msg := hasGrantUser(requester, ""); !ok {
				sess.Error("acl-list", msg, false, map[string][]string{"target": {target}})
				return
			}
		}
		cred, err := s.Store.Get(target)
		if err != nil {
			sess.Error("acl-list", "Internal server error (this isn't your fault)", false, nil)
			return
		}
		if cred == nil {
			sess.Error("acl-list", "No such target", false, map[string][]string{"target": {target}})
			return
		}
		entries, err := s.Store.GetUserACL(target)
		if err != nil {
			sess.Error("acl-list", "Internal server error (this isn't your fault)", false, nil)
			return
		}
		sendACLList(s, sess, requester, "acl-list", target, entries)
	}
}

func sendACLList(s *Server, sess *Session, requester *User, command, target string, entries []store.ACLEntry) {
	var acls, times, setters []string
	for _, e := range entries {
		acls = append(acls, e.ACL)
		times = append(times, strconv.FormatInt(e.Timestamp, 10))
		setters = append(setters, e.Setter)
	}
	kval := map[string][]string{
		"target":     {target},
		"acl":        acls,
		"acl-time":   times,
		"acl-setter": setters,
	}
	sess.SendMultipart(s, requester, command, []string{"acl", "acl-time", "acl-setter"}, kval)
}
