package main

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"dcp/wire"
)

// Server is the process-wide DCP core: command table, registered users and
// groups, and the credential store and MOTD blocks it was configured with
// (spec.md §9, "Global server singleton becomes a process-wide Server value
// created in main and passed explicitly into Session construction").
// Server.users and Server.groups are the sole owning maps; every other
// reference to a User or Group is non-owning, matching room.go's
// Room.clients discipline in the teacher.
type Server struct {
	Name     string
	ServPass string

	Store CredentialStore
	Codec wire.Codec

	MOTD [][]string

	commands map[string]*commandSpec

	mu       sync.RWMutex
	users    map[string]*User
	groups   map[string]*Group
	sessions map[*Session]struct{}

	startedAt       time.Time
	framesProcessed atomic.Uint64
}

// NewServer constructs a Server and installs its static command table.
func NewServer(name, servPass string, store CredentialStore, codec wire.Codec, motdBlocks [][]string) *Server {
	s := &Server{
		Name:      name,
		ServPass:  servPass,
		Store:     store,
		Codec:     codec,
		MOTD:      motdBlocks,
		users:     make(map[string]*User),
		groups:    make(map[string]*Group),
		sessions:  make(map[*Session]struct{}),
		startedAt: time.Now(),
	}
	s.commands = buildCommandTable()
	return s
}

// registerSession tracks a newly-accepted connection so graceful shutdown
// can close it even if it never completes registration (spec.md §5:
// "Graceful shutdown closes the acceptor, then iterates all Sessions and
// closes each").
func (s *Server) registerSession(sess *Session) {
	s.mu.Lock()
	s.sessions[sess] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) unregisterSession(sess *Session) {
	s.mu.Lock()
	delete(s.sessions, sess)
	s.mu.Unlock()
}

// CloseAllSessions closes every currently-tracked session. Called once the
// acceptor has stopped taking new connections.
func (s *Server) CloseAllSessions() {
	s.mu.RLock()
	sessions := make([]*Session, 0, len(s.sessions))
	for sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.RUnlock()

	for _, sess := range sessions {
		sess.Close()
	}
}

// GetUser returns the online user with the given handle, or nil.
func (s *Server) GetUser(handle string) *User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.users[handle]
}

// GetGroup returns the group with the given name, or nil.
func (s *Server) GetGroup(name string) *Group {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.groups[name]
}

// GetOrCreateGroup returns the named group, creating it if this is the
// first time anyone has entered it (spec.md §3, lazy group creation).
func (s *Server) GetOrCreateGroup(name string) *Group {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[name]
	if !ok {
		log.Printf("[dispatch] creating group %s", name)
		g = NewGroup(name)
		s.groups[name] = g
	}
	return g
}

// reclaimGroupIfEmpty removes a group from Server.groups once its last
// member has left (spec.md §3: "destroyed when empty").
func (s *Server) reclaimGroupIfEmpty(g *Group) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g.Empty() {
		delete(s.groups, g.Name)
	}
}

// UserCount and GroupCount back the operational /stats surface.
func (s *Server) UserCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

func (s *Server) GroupCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.groups)
}

func (s *Server) FramesProcessed() uint64 {
	return s.framesProcessed.Load()
}

func (s *Server) Uptime() time.Duration {
	return time.Since(s.startedAt)
}

// userEnter installs a freshly-authenticated user into Server.users,
// attaches it to the session, cancels the signon timeout, emits the
// `signon` confirmation frame, and unconditionally sends the MOTD
// (SPEC_FULL.md §5.3, resolving spec.md §9 item i). It then arms the first
// ping tick.
func (s *Server) userEnter(sess *Session, handle, gecos string, acls, properties, options []string, preSend func(*User)) *User {
	user := NewUser(handle, gecos, acls, properties)
	user.Options = options
	user.Session = sess

	s.mu.Lock()
	s.users[handle] = user
	s.mu.Unlock()

	sess.setUser(user)
	sess.cancelCallback("signon")

	if preSend != nil {
		preSend(user)
	}

	kval := map[string][]string{
		"name":    {s.Name},
		"time":    {unixSecondsRounded()},
		"version": {"DCP server", "v1"},
		"options": {},
	}
	user.Send(s, "signon", kval)

	cmdMOTD(s, sess)
	armPing(s, sess, user)

	log.Printf("[dispatch] user %s entered from %s", handle, sess.Peer)
	return user
}

// userExit tears down a user on session close: removes it from every group
// it belonged to and from Server.users. Safe to call with a nil user (a
// session that never completed registration).
func (s *Server) userExit(user *User) {
	if user == nil {
		return
	}

	for _, g := range user.GroupList() {
		g.MemberDel(user, "")
		s.reclaimGroupIfEmpty(g)
	}

	s.mu.Lock()
	delete(s.users, user.Handle)
	s.mu.Unlock()

	log.Printf("[dispatch] user %s exited", user.Handle)
}
