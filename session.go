package main

import (
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"dcp/wire"
)

// signonTimeout is how long a freshly-accepted connection has to complete
// signon or register before being dropped (spec.md §4.3).
const signonTimeout = 60 * time.Second

// readChunk is the size of each net.Conn.Read call feeding the session's
// accumulation buffer.
const readChunk = 4096

// Session is the per-connection state machine: one per accepted TLS stream
// (spec.md §3, §4.2). Exactly one goroutine — Serve's caller — drives the
// read loop, so handler invocations for a given session are never
// concurrent with each other; Send/Error may be called concurrently from
// other sessions' goroutines during group fan-out, so the write path has
// its own lock independent of the read-loop state.
type Session struct {
	conn   net.Conn
	codec  wire.Codec
	server *Server

	Peer    string
	TraceID string

	mu        sync.Mutex
	buf       []byte
	user      *User
	callbacks map[string]*time.Timer
	closed    bool

	// execMu is the session's serialization domain: Dispatch holds it for
	// the duration of a handler call, and every timer callback (ping,
	// signon timeout) holds it for the duration of its body, so a handler
	// invocation and a timer firing never run concurrently against this
	// session's or its user's state (spec.md §5).
	execMu sync.Mutex

	writeMu sync.Mutex
}

// NewSession wraps an accepted connection.
func NewSession(conn net.Conn, codec wire.Codec, server *Server) *Session {
	peer := "unknown"
	if conn.RemoteAddr() != nil {
		peer = conn.RemoteAddr().String()
	}
	return &Session{
		conn:      conn,
		codec:     codec,
		server:    server,
		Peer:      peer,
		TraceID:   uuid.NewString(),
		callbacks: make(map[string]*time.Timer),
	}
}

// User returns the session's registered user, or nil before signon/register
// completes.
func (s *Session) User() *User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// setUser attaches user to the session. Called once, by userEnter.
func (s *Session) setUser(u *User) {
	s.mu.Lock()
	s.user = u
	s.mu.Unlock()
}

// Serve runs the read loop until the connection closes or a fatal error is
// emitted. It blocks the calling goroutine; callers should run it in its
// own goroutine per accepted connection.
func (s *Session) Serve() {
	log.Printf("[session %s] connection from %s", s.TraceID, s.Peer)
	s.scheduleCallback("signon", signonTimeout, func() { s.runSerialized(s.onSignonTimeout) })

	defer s.teardown()

	chunk := make([]byte, readChunk)
	for {
		n, err := s.conn.Read(chunk)
		if n > 0 {
			s.mu.Lock()
			s.buf = append(s.buf, chunk[:n]...)
			s.mu.Unlock()
			s.drainFrames()
		}
		if err != nil {
			if s.isClosed() {
				return
			}
			log.Printf("[session %s] read error: %v", s.TraceID, err)
			return
		}
	}
}

// drainFrames decodes and dispatches every complete frame currently
// buffered, leaving a partial trailing frame (if any) for the next read.
func (s *Session) drainFrames() {
	for {
		s.mu.Lock()
		buf := s.buf
		s.mu.Unlock()
		if len(buf) == 0 {
			return
		}

		frame, consumed, err := s.codec.Decode(buf)
		if err != nil {
			if errors.Is(err, wire.ErrIncomplete) {
				return
			}
			// Oversize/invalid: emit a non-fatal error and drop the
			// offending bytes, but keep the connection open.
			s.mu.Lock()
			s.buf = s.buf[consumed:]
			s.mu.Unlock()
			s.Error("*", fmt.Sprintf("Parser failure: %v", err), false, nil)
			continue
		}

		s.mu.Lock()
		s.buf = s.buf[consumed:]
		s.mu.Unlock()

		s.server.Dispatch(s, frame)
		if s.isClosed() {
			return
		}
	}
}

// scheduleCallback arms a named timer, cancelling any previous timer under
// the same name. Session owns its timers and must cancel all of them on
// close (spec.md §3, §5).
func (s *Session) scheduleCallback(name string, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if old, ok := s.callbacks[name]; ok {
		old.Stop()
	}
	s.callbacks[name] = time.AfterFunc(d, fn)
}

// runSerialized runs fn inside the session's execution-serialization
// domain. Dispatch and every timer callback call in through here, so
// fn never runs concurrently with a handler invocation or another timer
// callback for this session (spec.md §5: "no two handlers run
// concurrently on the same Session's state").
func (s *Session) runSerialized(fn func()) {
	s.execMu.Lock()
	defer s.execMu.Unlock()
	fn()
}

// cancelCallback stops and forgets a named timer, if armed.
func (s *Session) cancelCallback(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.callbacks[name]; ok {
		t.Stop()
		delete(s.callbacks, name)
	}
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) onSignonTimeout() {
	if s.User() != nil {
		// Registration already completed; the timer firing here means it
		// raced the cancellation in userEnter and lost — nothing to do.
		return
	}
	s.Error("*", "Timed out", true, nil)
}

// resolveName implements spec.md §4.2's source/target coercion: User or
// Group -> its name; *Server -> "=<serverName>"; nil -> "*"; anything else
// -> "&<name>".
func (s *Session) resolveName(v any) string {
	switch t := v.(type) {
	case nil:
		return "*"
	case *User:
		if t == nil {
			return "*"
		}
		return t.Handle
	case *Group:
		if t == nil {
			return "*"
		}
		return t.Name
	case *Server:
		return "=" + t.Name
	case string:
		return "&" + t
	default:
		return "&" + fmt.Sprint(v)
	}
}

// Send constructs a frame from source/target/command/kval and writes it.
func (s *Session) Send(source, target any, command string, kval map[string][]string) error {
	frame := &wire.Frame{
		Source:  s.resolveName(source),
		Target:  s.resolveName(target),
		Command: command,
		KVal:    kval,
	}
	return s.write(frame)
}

// SendMultipart splits kval across several frames when the total would
// exceed the codec's size budget (spec.md §4.2). Only the keys listed in
// pagingKeys are sliced; every other key is repeated verbatim in every
// part.
func (s *Session) SendMultipart(source, target any, command string, pagingKeys []string, kval map[string][]string) error {
	fit := s.codec.Fit(command, kval)
	if fit < 0 {
		fit = 0
	}

	maxLen := 0
	for _, k := range pagingKeys {
		if n := len(kval[k]); n > maxLen {
			maxLen = n
		}
	}
	if maxLen == 0 {
		return s.Send(source, target, command, kval)
	}

	// Estimate how many paged entries fit per frame from the per-entry
	// average size across the paging keys, then clamp to at least 1 so a
	// single oversize entry still makes progress instead of looping
	// forever.
	totalBytes := 0
	for _, k := range pagingKeys {
		for _, v := range kval[k] {
			totalBytes += len(v) + len(k) + 4
		}
	}
	perEntry := 1
	if totalBytes > 0 && maxLen > 0 {
		perEntry = totalBytes / maxLen
	}
	perFrame := maxLen
	if perEntry > 0 {
		if n := fit / perEntry; n > 0 {
			perFrame = n
		} else {
			perFrame = 1
		}
	}
	if perFrame > maxLen {
		perFrame = maxLen
	}

	total := (maxLen + perFrame - 1) / perFrame
	if total < 1 {
		total = 1
	}

	for part := 0; part < total; part++ {
		lo := part * perFrame
		hi := lo + perFrame
		if hi > maxLen {
			hi = maxLen
		}

		partKVal := make(map[string][]string, len(kval))
		for k, v := range kval {
			if contains(pagingKeys, k) {
				if lo < len(v) {
					end := hi
					if end > len(v) {
						end = len(v)
					}
					partKVal[k] = v[lo:end]
				}
			} else {
				partKVal[k] = v
			}
		}
		partKVal["multipart"] = []string{"*"}
		partKVal["part"] = []string{fmt.Sprint(part + 1)}
		partKVal["total"] = []string{fmt.Sprint(total)}

		if err := s.Send(source, target, command, partKVal); err != nil {
			return err
		}
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// Error emits a non-fatal or fatal `error` frame (spec.md §4.2, §4.7). If
// fatal, the transport is closed after the write.
func (s *Session) Error(command, reason string, fatal bool, extargs map[string][]string) {
	kval := map[string][]string{
		"command": {command},
		"reason":  {reason},
	}
	for k, v := range extargs {
		kval[k] = v
	}

	var target any
	if u := s.User(); u != nil {
		target = u
	}
	if err := s.Send(s.server, target, "error", kval); err != nil {
		log.Printf("[session %s] error write failed: %v", s.TraceID, err)
	}

	if fatal {
		log.Printf("[session %s] fatal error (%s: %s)", s.TraceID, command, reason)
		s.Close()
	}
}

func (s *Session) write(frame *wire.Frame) error {
	b, err := s.codec.Encode(frame)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.isClosed() {
		return nil
	}
	_, err = s.conn.Write(b)
	return err
}

// Close cancels all of the session's timers and closes the transport.
// Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for _, t := range s.callbacks {
		t.Stop()
	}
	s.callbacks = map[string]*time.Timer{}
	s.mu.Unlock()

	s.conn.Close()
}

// teardown runs once, when Serve's read loop exits, removing the session's
// user (if any) from every group and from Server.users.
func (s *Session) teardown() {
	s.Close()
	s.server.userExit(s.User())
	s.server.unregisterSession(s)
	log.Printf("[session %s] closed", s.TraceID)
}
