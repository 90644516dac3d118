package main

import (
	"fmt"
	"os"
	"strings"

	"dcp/store"
)

// RunCLI handles subcommand execution against the credential store:
// `dcpd useradd`, `dcpd passwd`, `dcpd acl`, `dcpd status`.
func RunCLI(args []string, dbPath string) bool {
	if len(args) == 0 {
		return false
	}

	subcmd := args[0]
	switch subcmd {
	case "version":
		fmt.Printf("dcpd %s\n", Version)
		return true
	case "status":
		return cliStatus(dbPath)
	case "useradd":
		return cliUserAdd(args[1:], dbPath)
	case "passwd":
		return cliPasswd(args[1:], dbPath)
	case "acl":
		return cliACL(args[1:], dbPath)
	default:
		return false
	}
}

func openStore(dbPath string) *store.Store {
	st, err := store.New(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening database: %v\n", err)
		os.Exit(1)
	}
	return st
}

func cliStatus(dbPath string) bool {
	st := openStore(dbPath)
	defer st.Close()

	fmt.Printf("Database: %s\n", dbPath)
	fmt.Printf("Version: %s\n", Version)
	return true
}

func cliUserAdd(args []string, dbPath string) bool {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "Usage: dcpd useradd <handle> <password> [gecos]")
		os.Exit(1)
	}
	handle := strings.ToLower(args[0])
	password := args[1]
	gecos := handle
	if len(args) > 2 {
		gecos = strings.Join(args[2:], " ")
	}
	if !validHandle(handle) {
		fmt.Fprintf(os.Stderr, "invalid handle %q\n", handle)
		os.Exit(1)
	}
	if len(password) < minPasswordLength {
		fmt.Fprintln(os.Stderr, "password too short")
		os.Exit(1)
	}

	hash, err := store.HashPassword(password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error hashing password: %v\n", err)
		os.Exit(1)
	}

	st := openStore(dbPath)
	defer st.Close()

	if err := st.Add(handle, hash, gecos, nil); err != nil {
		fmt.Fprintf(os.Stderr, "error creating account: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Created account %q\n", handle)
	return true
}

func cliPasswd(args []string, dbPath string) bool {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "Usage: dcpd passwd <handle> <new-password>")
		os.Exit(1)
	}
	handle := strings.ToLower(args[0])
	password := args[1]
	if len(password) < minPasswordLength {
		fmt.Fprintln(os.Stderr, "password too short")
		os.Exit(1)
	}

	st := openStore(dbPath)
	defer st.Close()

	cred, err := st.Get(handle)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if cred == nil {
		fmt.Fprintf(os.Stderr, "no such account %q\n", handle)
		os.Exit(1)
	}

	hash, err := store.HashPassword(password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error hashing password: %v\n", err)
		os.Exit(1)
	}
	if err := st.SetPasswordHash(handle, hash); err != nil {
		fmt.Fprintf(os.Stderr, "error updating password: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Password updated for %q\n", handle)
	return true
}

// cliACL sets or deletes a user-scope ACL directly in the store, with setter
// `*`, bypassing the grant check a live connection would require. It does
// not go through aclSet/aclDel, so no online user is notified and an online
// user's in-memory ACL set is not updated.
func cliACL(args []string, dbPath string) bool {
	if len(args) < 3 {
		fmt.Fprintln(os.Stderr, "Usage: dcpd acl <set|del> <handle> <acl>")
		os.Exit(1)
	}
	action, handle, acl := args[0], strings.ToLower(args[1]), strings.ToLower(args[2])
	if !userACLVocabulary[acl] {
		fmt.Fprintf(os.Stderr, "unknown user ACL %q\n", acl)
		os.Exit(1)
	}

	st := openStore(dbPath)
	defer st.Close()

	cred, err := st.Get(handle)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if cred == nil {
		fmt.Fprintf(os.Stderr, "no such account %q\n", handle)
		os.Exit(1)
	}

	switch action {
	case "set":
		if err := st.SetUserACL(handle, acl, "*"); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Granted %s to %s\n", acl, handle)
	case "del":
		if err := st.DeleteUserACL(handle, acl); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Revoked %s from %s\n", acl, handle)
	default:
		fmt.Fprintln(os.Stderr, "Usage: dcpd acl <set|del> <handle> <acl>")
		os.Exit(1)
	}
	return true
}
