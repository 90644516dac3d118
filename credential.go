package main

import "dcp/store"

// CredentialStore is the external on-disk account store (spec.md §6). Both
// store.Store (SQLite) and store.Memory (in-process stub, spec.md §2 item
// 2's "stub implementation for tests") implement it.
type CredentialStore interface {
	Get(handle string) (*store.Credential, error)
	Add(handle, hash, gecos string, acls []string) error
	GetUserACL(handle string) ([]store.ACLEntry, error)
	GetGroupACL(groupname string) ([]store.ACLEntry, error)
	SetUserACL(handle, acl, setter string) error
	DeleteUserACL(handle, acl string) error
	SetGroupACL(groupname, handle, acl, setter string) error
	DeleteGroupACL(groupname, handle, acl string) error
}
