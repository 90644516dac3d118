package main

import (
	"log"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"dcp/store"
	"dcp/wire"
)

// cmdSignon implements spec.md §4.4's `signon`: handle validation, server
// password check, credential lookup, constant-time password verification,
// single-session enforcement, then userEnter.
func cmdSignon(s *Server, sess *Session, _ *User, frame *wire.Frame) {
	handle := strings.ToLower(frame.Get("handle"))
	if !validHandle(handle) {
		sess.Error("signon", "Invalid handle", true, nil)
		return
	}
	if s.ServPass != "" && frame.Get("servpass") != s.ServPass {
		sess.Error("signon", "Invalid server password", true, nil)
		return
	}
	cred, err := s.Store.Get(handle)
	if err != nil {
		log.Printf("[dispatch] signon store lookup %q: %v", handle, err)
		sess.Error("signon", "Internal server error (this isn't your fault)", true, nil)
		return
	}
	if cred == nil || !store.VerifyPassword(cred.Hash, frame.Get("password")) {
		sess.Error("signon", "Invalid password", true, nil)
		return
	}
	if s.GetUser(handle) != nil {
		sess.Error("signon", "Already online", true, nil)
		return
	}

	s.userEnter(sess, handle, cred.Gecos, cred.ACLs, nil, frame.KVal["options"], nil)
}

// cmdRegister implements spec.md §4.4's `register`: same handle checks,
// minimum password length, credential persistence, then the same
// registration transition as signon, preceded by a `register` echo.
func cmdRegister(s *Server, sess *Session, _ *User, frame *wire.Frame) {
	handle := strings.ToLower(frame.Get("handle"))
	if !validHandle(handle) {
		sess.Error("register", "Invalid handle", false, nil)
		return
	}
	if s.ServPass != "" && frame.Get("servpass") != s.ServPass {
		sess.Error("register", "Invalid server password", true, nil)
		return
	}

	password := frame.Get("password")
	if len(password) < minPasswordLength {
		sess.Error("register", "Password too short", false, nil)
		return
	}

	gecos := frame.Get("gecos")
	if gecos == "" {
		gecos = handle
	}

	hash, err := store.HashPassword(password)
	if err != nil {
		log.Printf("[dispatch] register hash %q: %v", handle, err)
		sess.Error("register", "Internal server error (this isn't your fault)", true, nil)
		return
	}

	if err := s.Store.Add(handle, hash, gecos, nil); err != nil {
		if err == store.ErrExists {
			sess.Error("register", "Already registered", false, nil)
			return
		}
		log.Printf("[dispatch] register store add %q: %v", handle, err)
		sess.Error("register", "Internal server error (this isn't your fault)", true, nil)
		return
	}

	s.userEnter(sess, handle, gecos, nil, nil, frame.KVal["options"], func(u *User) {
		u.Send(s, "register", map[string][]string{
			"handle": {handle},
			"gecos":  {gecos},
			"reason": {"Welcome to " + s.Name},
		})
	})
}

// cmdMessage implements spec.md §4.4's `message`: routes to a user handle
// or fans out to a group's members (excluding the sender); target `*` and
// bare server targets are rejected.
func cmdMessage(s *Server, sess *Session, user *User, frame *wire.Frame) {
	target := strings.ToLower(frame.Target)
	body := frame.KVal["body"]

	switch {
	case target == "*" || target == "":
		sess.Error("message", "No valid target", false, nil)
	case strings.HasPrefix(target, "#"):
		g := s.GetGroup(target)
		if g == nil || !g.HasMember(user.Handle) {
			sess.Error("message", "No such target", false, map[string][]string{"target": {target}})
			return
		}
		g.Message(user, body)
	case strings.HasPrefix(target, "="):
		sess.Error("message", "Cannot message servers yet", false, nil)
	default:
		u := s.GetUser(target)
		if u == nil {
			sess.Error("message", "No such target", false, map[string][]string{"target": {target}})
			return
		}
		u.Send(user, "message", map[string][]string{"body": body})
	}
}

// cmdMOTD implements spec.md §4.4's `motd`: one frame per pre-computed
// block, or a single empty frame if no MOTD is configured.
func cmdMOTD(s *Server, sess *Session) {
	if len(s.MOTD) == 0 {
		sess.Send(s, sess.User(), "motd", map[string][]string{})
		return
	}
	total := len(s.MOTD)
	for i, block := range s.MOTD {
		sess.Send(s, sess.User(), "motd", map[string][]string{
			"text":      block,
			"multipart": {"*"},
			"part":      {strconv.Itoa(i + 1)},
			"total":     {strconv.Itoa(total)},
		})
	}
}

// cmdWhois implements spec.md §4.4's `whois`: handle, gecos and groups
// always; acl only when the requester holds `user:auspex`, and private
// groups are filtered out of the `groups` list unless that grant is held.
func cmdWhois(s *Server, sess *Session, user *User, frame *wire.Frame) {
	target := strings.ToLower(frame.Target)
	if target == "*" || strings.HasPrefix(target, "#") || strings.HasPrefix(target, "=") {
		sess.Error("whois", "No valid target", false, nil)
		return
	}
	u := s.GetUser(target)
	if u == nil {
		sess.Error("whois", "No such target", false, map[string][]string{"target": {target}})
		return
	}

	auspex := user.HasACL("user:auspex")
	kval := map[string][]string{
		"handle": {u.Handle},
		"gecos":  {u.Gecos},
	}
	if auspex {
		kval["acl"] = u.SortedACL()
	}
	groups := u.GroupNames(func(g *Group) bool {
		return auspex || !g.HasProperty("private")
	})
	kval["groups"] = groups

	sess.SendMultipart(s, user, "whois", []string{"acl", "groups"}, kval)
}

// cmdGroupEnter implements spec.md §4.4's `group-enter`.
func cmdGroupEnter(s *Server, sess *Session, user *User, frame *wire.Frame) {
	target := strings.ToLower(frame.Target)
	if !validGroupName(target) {
		sess.Error("group-enter", "Invalid group name", false, nil)
		return
	}
	g := s.GetOrCreateGroup(target)
	if g.HasMember(user.Handle) {
		sess.Error("group-enter", "Already a member", false, map[string][]string{"target": {target}})
		return
	}
	g.MemberAdd(user, frame.Get("reason"))
}

// cmdGroupExit implements spec.md §4.4's `group-exit`.
func cmdGroupExit(s *Server, sess *Session, user *User, frame *wire.Frame) {
	target := strings.ToLower(frame.Target)
	g := s.GetGroup(target)
	if g == nil || !g.HasMember(user.Handle) {
		sess.Error("group-exit", "Not a member", false, map[string][]string{"target": {target}})
		return
	}
	g.MemberDel(user, frame.Get("reason"))
	s.reclaimGroupIfEmpty(g)
}

// cmdPong clears the pending-ping flag (spec.md §4.4, §4.5).
func cmdPong(_ *Server, _ *Session, user *User, _ *wire.Frame) {
	user.PendingPing = false
}

// pingJitterFunc computes the next ping interval; a var (rather than a
// plain function) so tests can substitute a fast, deterministic interval
// instead of waiting out the real 45-60s window.
var pingJitterFunc = pingJitter

// pingJitter returns a random duration uniformly distributed over the 1500
// centisecond positions between pingMinInterval and pingMaxInterval
// (spec.md §4.5).
func pingJitter() time.Duration {
	const centisecond = 10 * time.Millisecond
	span := int((pingMaxInterval - pingMinInterval) / centisecond)
	c := int(pingMinInterval/centisecond) + rand.Intn(span)
	return time.Duration(c) * centisecond
}

// armPing schedules the first liveness ping for a newly-registered user.
func armPing(s *Server, sess *Session, user *User) {
	scheduleNextPing(s, sess, user)
}

// scheduleNextPing arms the next ping tick. The tick body runs inside
// sess.runSerialized so it never races cmdPong's write to
// user.PendingPing, which Dispatch runs through the same serialization
// point (spec.md §5).
func scheduleNextPing(s *Server, sess *Session, user *User) {
	sess.scheduleCallback("ping", pingJitterFunc(), func() {
		sess.runSerialized(func() {
			if sess.isClosed() {
				return
			}
			if user.PendingPing {
				sess.Error("ping", "Ping timeout", true, nil)
				return
			}
			user.PendingPing = true
			user.Send(s, "ping", map[string][]string{"time": {unixSecondsRounded()}})
			scheduleNextPing(s, sess, user)
		})
	})
}

