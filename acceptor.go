package main

import (
	"context"
	"crypto/tls"
	"errors"
	"log"
	"net"
	"sync/atomic"
)

// Acceptor is the TLS/TCP glue (spec.md §2 item 6): listens, and constructs
// a Session per accepted connection, the DCP analogue of the teacher's
// Server.Run websocket-upgrade loop in server.go.
type Acceptor struct {
	addr      string
	tlsConfig *tls.Config
	server    *Server

	ready atomic.Bool
	ln    net.Listener
}

// NewAcceptor wraps a configured Server with a TLS listener.
func NewAcceptor(addr string, tlsConfig *tls.Config, server *Server) *Acceptor {
	return &Acceptor{addr: addr, tlsConfig: tlsConfig, server: server}
}

// Ready reports whether the listener has been bound yet (backs /healthz).
func (a *Acceptor) Ready() bool {
	return a.ready.Load()
}

// Run binds the listener and accepts connections until ctx is cancelled;
// any other accept error is logged and accepting continues. It returns an
// error only when the listener cannot be bound. Each accepted connection gets its
// own Session running in its own goroutine (spec.md §5: one goroutine per
// Session).
func (a *Acceptor) Run(ctx context.Context) error {
	ln, err := tls.Listen("tcp", a.addr, a.tlsConfig)
	if err != nil {
		return err
	}
	a.ln = ln
	a.ready.Store(true)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	log.Printf("[acceptor] listening on %s", a.addr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Printf("[acceptor] accept: %v", err)
			continue
		}
		sess := NewSession(conn, a.server.Codec, a.server)
		a.server.registerSession(sess)
		go sess.Serve()
	}
}
