package main

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"dcp/store"
	"dcp/wire"
)

func newTestServer(t *testing.T) (*Server, *store.Memory) {
	t.Helper()
	st := store.NewMemory()
	srv := NewServer("testserver", "", st, wire.Binary{}, nil)
	return srv, st
}

// harness wraps one end of a net.Pipe wired to a live Session, with the
// peer end available for the test to write requests and read responses.
type harness struct {
	t    *testing.T
	sess *Session
	peer net.Conn
	buf  []byte
}

func connect(t *testing.T, srv *Server) *harness {
	t.Helper()
	serverSide, peer := net.Pipe()
	sess := NewSession(serverSide, srv.Codec, srv)
	srv.registerSession(sess)
	go sess.Serve()
	t.Cleanup(func() { peer.Close() })
	return &harness{t: t, sess: sess, peer: peer}
}

func (h *harness) send(f *wire.Frame) {
	h.t.Helper()
	b, err := wire.Binary{}.Encode(f)
	if err != nil {
		h.t.Fatalf("encode: %v", err)
	}
	h.peer.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if _, err := h.peer.Write(b); err != nil {
		h.t.Fatalf("write: %v", err)
	}
}

func (h *harness) recv() *wire.Frame {
	h.t.Helper()
	h.peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	chunk := make([]byte, 4096)
	for {
		if frame, consumed, err := (wire.Binary{}).Decode(h.buf); err == nil {
			h.buf = h.buf[consumed:]
			return frame
		}
		n, err := h.peer.Read(chunk)
		if n > 0 {
			h.buf = append(h.buf, chunk[:n]...)
		}
		if err != nil {
			h.t.Fatalf("read: %v", err)
		}
	}
}

func registerUser(t *testing.T, st *store.Memory, handle, password, gecos string, acls []string) {
	t.Helper()
	hash, err := store.HashPassword(password)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if err := st.Add(handle, hash, gecos, acls); err != nil {
		t.Fatalf("add: %v", err)
	}
}

// Scenario 1: signon happy path.
func TestSignonHappyPath(t *testing.T) {
	srv, st := newTestServer(t)
	registerUser(t, st, "alice", "hunter2", "Alice", nil)

	h := connect(t, srv)
	h.send(&wire.Frame{Source: "*", Target: "*", Command: "signon", KVal: map[string][]string{
		"handle": {"alice"}, "password": {"hunter2"},
	}})

	resp := h.recv()
	if resp.Command != "signon" {
		t.Fatalf("command = %q, want signon", resp.Command)
	}
	if resp.Target != "alice" {
		t.Fatalf("target = %q, want alice", resp.Target)
	}
	if len(resp.KVal["name"]) == 0 || len(resp.KVal["time"]) == 0 {
		t.Fatalf("kval = %v, missing name/time", resp.KVal)
	}

	motdResp := h.recv()
	if motdResp.Command != "motd" {
		t.Fatalf("command = %q, want motd", motdResp.Command)
	}

	if srv.GetUser("alice") == nil {
		t.Fatal("expected alice registered in Server.users")
	}
}

// Scenario 2: signon bad password.
func TestSignonBadPassword(t *testing.T) {
	srv, st := newTestServer(t)
	registerUser(t, st, "alice", "hunter2", "Alice", nil)

	h := connect(t, srv)
	h.send(&wire.Frame{Source: "*", Target: "*", Command: "signon", KVal: map[string][]string{
		"handle": {"alice"}, "password": {"wrong"},
	}})

	resp := h.recv()
	if resp.Command != "error" {
		t.Fatalf("command = %q, want error", resp.Command)
	}
	if resp.Get("command") != "signon" || resp.Get("reason") != "Invalid password" {
		t.Fatalf("kval = %v", resp.KVal)
	}

	if srv.GetUser("alice") != nil {
		t.Fatal("expected alice not registered after bad password")
	}
}

// Scenario 4: group join/leave broadcast.
func TestGroupJoinLeaveBroadcast(t *testing.T) {
	srv, st := newTestServer(t)
	registerUser(t, st, "alice", "hunter2", "Alice", nil)
	registerUser(t, st, "bob", "hunter2", "Bob", nil)

	alice := connect(t, srv)
	alice.send(&wire.Frame{Command: "signon", KVal: map[string][]string{"handle": {"alice"}, "password": {"hunter2"}}})
	alice.recv() // signon
	alice.recv() // motd

	alice.send(&wire.Frame{Target: "#lobby", Command: "group-enter", KVal: map[string][]string{}})
	join := alice.recv()
	if join.Command != "group-enter" || join.Source != "alice" {
		t.Fatalf("alice's own join = %+v", join)
	}

	bob := connect(t, srv)
	bob.send(&wire.Frame{Command: "signon", KVal: map[string][]string{"handle": {"bob"}, "password": {"hunter2"}}})
	bob.recv() // signon
	bob.recv() // motd

	bob.send(&wire.Frame{Target: "#lobby", Command: "group-enter", KVal: map[string][]string{}})

	aliceSeesBob := alice.recv()
	if aliceSeesBob.Command != "group-enter" || aliceSeesBob.Source != "bob" || aliceSeesBob.Target != "#lobby" {
		t.Fatalf("alice sees bob's join = %+v", aliceSeesBob)
	}
	bobSeesSelf := bob.recv()
	if bobSeesSelf.Command != "group-enter" || bobSeesSelf.Source != "bob" {
		t.Fatalf("bob sees own join = %+v", bobSeesSelf)
	}

	bob.send(&wire.Frame{Target: "#lobby", Command: "group-exit", KVal: map[string][]string{}})
	aliceSeesExit := alice.recv()
	if aliceSeesExit.Command != "group-exit" || aliceSeesExit.Source != "bob" {
		t.Fatalf("alice sees bob's exit = %+v", aliceSeesExit)
	}
	bobSeesExit := bob.recv()
	if bobSeesExit.Command != "group-exit" || bobSeesExit.Source != "bob" {
		t.Fatalf("bob sees own exit = %+v", bobSeesExit)
	}
}

// Scenario 6: ACL set without grant.
func TestACLSetWithoutGrant(t *testing.T) {
	srv, st := newTestServer(t)
	registerUser(t, st, "alice", "hunter2", "Alice", nil)
	registerUser(t, st, "bob", "hunter2", "Bob", nil)

	alice := connect(t, srv)
	alice.send(&wire.Frame{Command: "signon", KVal: map[string][]string{"handle": {"alice"}, "password": {"hunter2"}}})
	alice.recv()
	alice.recv()

	alice.send(&wire.Frame{Target: "bob", Command: "acl-set", KVal: map[string][]string{"acl": {"user:auspex"}}})
	resp := alice.recv()
	if resp.Command != "error" || resp.Get("reason") != "No permission to alter ACL" {
		t.Fatalf("resp = %+v", resp)
	}
}

// Scenario 3: an oversize declared frame length is rejected with a
// non-fatal error, and the connection stays open for further traffic.
func TestOversizeFrameStaysOpen(t *testing.T) {
	srv, st := newTestServer(t)
	registerUser(t, st, "alice", "hunter2", "Alice", nil)

	h := connect(t, srv)

	var raw [3]byte
	binary.BigEndian.PutUint16(raw[:2], wire.MaxFrame+100)
	h.peer.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if _, err := h.peer.Write(raw[:]); err != nil {
		t.Fatalf("write: %v", err)
	}

	resp := h.recv()
	if resp.Command != "error" {
		t.Fatalf("command = %q, want error", resp.Command)
	}

	h.send(&wire.Frame{Command: "signon", KVal: map[string][]string{"handle": {"alice"}, "password": {"hunter2"}}})
	signonResp := h.recv()
	if signonResp.Command != "signon" {
		t.Fatalf("connection did not survive oversize frame: got %+v", signonResp)
	}
}

// Scenario 5: a client that never answers `ping` with `pong` is dropped
// once the next ping tick still finds the previous one pending.
func TestPingTimeoutClosesSession(t *testing.T) {
	old := pingJitterFunc
	pingJitterFunc = func() time.Duration { return 30 * time.Millisecond }
	t.Cleanup(func() { pingJitterFunc = old })

	srv, st := newTestServer(t)
	registerUser(t, st, "alice", "hunter2", "Alice", nil)

	h := connect(t, srv)
	h.send(&wire.Frame{Command: "signon", KVal: map[string][]string{"handle": {"alice"}, "password": {"hunter2"}}})
	h.recv() // signon
	h.recv() // motd

	ping := h.recv()
	if ping.Command != "ping" {
		t.Fatalf("command = %q, want ping", ping.Command)
	}

	// Deliberately never reply with pong; the next tick should close us out.
	timeout := h.recv()
	if timeout.Command != "error" || timeout.Get("reason") != "Ping timeout" {
		t.Fatalf("resp = %+v", timeout)
	}
}

// Group-scope acl-set requires both a #group target and a separate `user`
// kval naming the member whose grant is being changed, and broadcasts to
// every member; each frame is addressed to its recipient and names the
// group in its `target` kval.
func TestGroupACLSetRequiresMemberAndBroadcastsToGroup(t *testing.T) {
	srv, st := newTestServer(t)
	registerUser(t, st, "alice", "hunter2", "Alice", []string{"group:grant"})
	registerUser(t, st, "bob", "hunter2", "Bob", nil)

	alice := connect(t, srv)
	alice.send(&wire.Frame{Command: "signon", KVal: map[string][]string{"handle": {"alice"}, "password": {"hunter2"}}})
	alice.recv()
	alice.recv()
	alice.send(&wire.Frame{Target: "#lobby", Command: "group-enter", KVal: map[string][]string{}})
	alice.recv()

	bob := connect(t, srv)
	bob.send(&wire.Frame{Command: "signon", KVal: map[string][]string{"handle": {"bob"}, "password": {"hunter2"}}})
	bob.recv()
	bob.recv()
	bob.send(&wire.Frame{Target: "#lobby", Command: "group-enter", KVal: map[string][]string{}})
	alice.recv() // alice sees bob join
	bob.recv()   // bob sees own join

	// Missing `user` kval is rejected outright.
	alice.send(&wire.Frame{Target: "#lobby", Command: "acl-set", KVal: map[string][]string{"acl": {"op"}}})
	missingUser := alice.recv()
	if missingUser.Command != "error" || missingUser.Get("reason") != "No valid user for target" {
		t.Fatalf("resp = %+v", missingUser)
	}

	alice.send(&wire.Frame{Target: "#lobby", Command: "acl-set", KVal: map[string][]string{
		"acl": {"op"}, "user": {"bob"},
	}})

	aliceEcho := alice.recv()
	if aliceEcho.Command != "acl-set" || aliceEcho.Get("target") != "#lobby" || aliceEcho.Get("user") != "bob" {
		t.Fatalf("alice echo = %+v", aliceEcho)
	}
	bobNotice := bob.recv()
	if bobNotice.Command != "acl-set" || bobNotice.Target != "bob" || bobNotice.Get("user") != "bob" {
		t.Fatalf("bob notice = %+v", bobNotice)
	}

	g := srv.GetGroup("#lobby")
	if !g.MemberHasACL("bob", "op") {
		t.Fatal("expected bob to hold op in #lobby")
	}
}

// Duplicate online handle is rejected (single-session policy, spec.md §4.4).
func TestSignonRejectsDuplicateOnline(t *testing.T) {
	srv, st := newTestServer(t)
	registerUser(t, st, "alice", "hunter2", "Alice", nil)

	first := connect(t, srv)
	first.send(&wire.Frame{Command: "signon", KVal: map[string][]string{"handle": {"alice"}, "password": {"hunter2"}}})
	first.recv()
	first.recv()

	second := connect(t, srv)
	second.send(&wire.Frame{Command: "signon", KVal: map[string][]string{"handle": {"alice"}, "password": {"hunter2"}}})
	resp := second.recv()
	if resp.Command != "error" || resp.Get("reason") != "Already online" {
		t.Fatalf("resp = %+v", resp)
	}
}
