package main

import (
	"log"
	"strings"

	"dcp/wire"
)

// registrationGuard is the per-handler precondition the dispatcher enforces
// uniformly (spec.md §4.3: "each handler declares which state it requires").
type registrationGuard int

const (
	// guardUnregistered handlers run only before signon/register completes.
	guardUnregistered registrationGuard = iota
	// guardRegistered handlers run only once a user is attached.
	guardRegistered
)

// commandHandler is a dispatch-table entry's function shape. user is nil
// for guardUnregistered commands.
type commandHandler func(srv *Server, sess *Session, user *User, frame *wire.Frame)

type commandSpec struct {
	guard registrationGuard
	fn    commandHandler
}

// buildCommandTable is the static table populated at startup — the Go
// analogue of the source's decorator-populated global command registry
// (spec.md §9, "Command registration... becomes a static table of
// {name -> handler} initialized at startup").
func buildCommandTable() map[string]*commandSpec {
	return map[string]*commandSpec{
		"signon":      {guard: guardUnregistered, fn: cmdSignon},
		"register":    {guard: guardUnregistered, fn: cmdRegister},
		"message":     {guard: guardRegistered, fn: cmdMessage},
		"motd":        {guard: guardRegistered, fn: func(s *Server, sess *Session, _ *User, _ *wire.Frame) { cmdMOTD(s, sess) }},
		"whois":       {guard: guardRegistered, fn: cmdWhois},
		"group_enter": {guard: guardRegistered, fn: cmdGroupEnter},
		"group_exit":  {guard: guardRegistered, fn: cmdGroupExit},
		"pong":        {guard: guardRegistered, fn: cmdPong},
		"acl_set":     {guard: guardRegistered, fn: cmdACLSet},
		"acl_del":     {guard: guardRegistered, fn: cmdACLDel},
		"acl_list":    {guard: guardRegistered, fn: cmdACLList},
	}
}

// Dispatch binds one decoded frame to its handler, enforcing the
// registration guard and converting handler panics into a logged,
// non-fatal internal-server-error reply (spec.md §4.7).
func (s *Server) Dispatch(sess *Session, frame *wire.Frame) {
	s.framesProcessed.Add(1)

	key := strings.ReplaceAll(frame.Command, "-", "_")
	spec, ok := s.commands[key]
	if !ok {
		sess.Error(frame.Command, "No such command", false, nil)
		return
	}

	user := sess.User()
	switch spec.guard {
	case guardUnregistered:
		if user != nil {
			sess.Error(frame.Command, "This command is only usable before registration", false, nil)
			return
		}
	case guardRegistered:
		if user == nil {
			sess.Error(frame.Command, "You are not registered", false, nil)
			return
		}
	}

	sess.runSerialized(func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[dispatch] handler %q panicked: %v", frame.Command, r)
				sess.Error(frame.Command, "Internal server error (this isn't your fault)", false, nil)
			}
		}()
		spec.fn(s, sess, user, frame)
	})
}
