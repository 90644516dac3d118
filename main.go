package main

import (
	"context"
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"time"

	"dcp/motd"
	"dcp/opsapi"
	"dcp/store"
	"dcp/tlsutil"
	"dcp/wire"
)

// Version is the current server version. Set at build time via -ldflags,
// the same convention as the teacher's api.go.
var Version = "0.1.0-dev"

func main() {
	// Check for CLI subcommands before parsing flags.
	if len(os.Args) > 1 {
		cliDB := "dcp.db"
		if RunCLI(os.Args[1:], cliDB) {
			return
		}
	}

	addr := flag.String("addr", ":7934", "TLS listen address (listen_addr:listen_port)")
	opsAddr := flag.String("ops-addr", "", "operational HTTP (/healthz, /stats) listen address (empty to disable)")
	dbPath := flag.String("db", "dcp.db", "credential store SQLite path")
	serverName := flag.String("name", "dcp server", "server name, appears as =<name> in source fields")
	serverPassword := flag.String("server-password", "", "if set, required as servpass on signon/register")
	motdPath := flag.String("motd", "motd.txt", "path to the message-of-the-day text file")
	certValidity := flag.Duration("cert-validity", 24*time.Hour, "self-signed TLS certificate validity")
	dialect := flag.String("dialect", "binary", "wire dialect: binary or json")
	flag.Parse()

	st, err := store.New(*dbPath)
	if err != nil {
		log.Fatalf("[store] %v", err)
	}
	defer st.Close()

	var codec wire.Codec
	switch *dialect {
	case "binary":
		codec = wire.Binary{}
	case "json":
		codec = wire.JSON{}
	default:
		log.Fatalf("[server] unknown -dialect %q (want binary or json)", *dialect)
	}

	motdBlocks, err := motd.Load(*motdPath, *serverName)
	if err != nil {
		log.Fatalf("[motd] %v", err)
	}

	tlsHostname := ""
	if host, _, err := net.SplitHostPort(*addr); err == nil && host != "" {
		tlsHostname = host
	}
	tlsConfig, fingerprint, err := tlsutil.GenerateConfig(*certValidity, tlsHostname)
	if err != nil {
		log.Fatalf("[tls] %v", err)
	}
	log.Printf("[tls] certificate fingerprint: %s", fingerprint)

	srv := NewServer(*serverName, *serverPassword, st, codec, motdBlocks)
	acceptor := NewAcceptor(*addr, tlsConfig, srv)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Println("[server] shutting down...")
		cancel()
	}()

	go RunMetrics(ctx, srv, 30*time.Second)

	if *opsAddr != "" {
		ops := opsapi.New(srv, acceptor.Ready)
		go ops.Run(ctx, *opsAddr)
		log.Printf("[ops] listening on %s", *opsAddr)
	}

	go func() {
		<-ctx.Done()
		srv.CloseAllSessions()
	}()

	if err := acceptor.Run(ctx); err != nil {
		log.Fatalf("[acceptor] %v", err)
	}
}
