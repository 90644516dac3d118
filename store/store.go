// Package store provides the on-disk credential store backed by an embedded
// SQLite database. It owns handle/password-hash/gecos/ACL records and the
// per-ACL-entry timestamp/setter metadata needed to answer acl-list.
//
// Migration design: SQL statements are kept in the [migrations] slice as
// ordered strings. Each is applied exactly once; the applied version is
// tracked in the schema_migrations table. To add a migration, append a new
// string — never edit or reorder existing entries.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrExists is returned by Add when the handle is already registered.
var ErrExists = errors.New("store: handle already registered")

// ErrNotFound is returned by the ACL mutators when there is nothing to
// remove, and by SetPasswordHash when the handle is not registered. Get
// reports an unregistered handle as a nil record, not as this error.
var ErrNotFound = errors.New("store: not found")

var migrations = []string{
	// v1 — registered handles
	`CREATE TABLE IF NOT EXISTS credentials (
		handle TEXT PRIMARY KEY,
		hash   TEXT NOT NULL,
		gecos  TEXT NOT NULL DEFAULT ''
	)`,
	// v2 — per-user ACL grants, with provenance
	`CREATE TABLE IF NOT EXISTS user_acl (
		handle     TEXT NOT NULL,
		acl        TEXT NOT NULL,
		setter     TEXT NOT NULL DEFAULT '*',
		created_at INTEGER NOT NULL DEFAULT (unixepoch()),
		PRIMARY KEY (handle, acl)
	)`,
	// v3 — per-group ACL grants, with provenance
	`CREATE TABLE IF NOT EXISTS group_acl (
		groupname  TEXT NOT NULL,
		handle     TEXT NOT NULL,
		acl        TEXT NOT NULL,
		setter     TEXT NOT NULL DEFAULT '*',
		created_at INTEGER NOT NULL DEFAULT (unixepoch()),
		PRIMARY KEY (groupname, handle, acl)
	)`,
	// v4 — enable WAL mode
	`PRAGMA journal_mode=WAL`,
}

// Credential is one registered account's persisted record.
type Credential struct {
	Handle string
	Hash   string
	Gecos  string
	ACLs   []string
}

// ACLEntry is one grant as reported by acl-list: the token itself plus who
// set it and when.
type ACLEntry struct {
	ACL       string
	Timestamp int64
	Setter    string
}

// Store wraps a SQLite database and implements the credential-store
// interface consumed by the dispatcher and the CLI tool.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the SQLite database at path and applies any pending
// migrations. Use ":memory:" for ephemeral in-process storage (tests).
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		log.Printf("[store] WAL mode: %v (non-fatal)", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		log.Printf("[store] busy_timeout: %v (non-fatal)", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := s.db.QueryRow(
		`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`,
	).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i, stmt := range migrations {
		v := i + 1
		if v <= current {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d: %w", v, err)
		}
		if _, err := s.db.Exec(
			`INSERT INTO schema_migrations(version) VALUES(?)`, v,
		); err != nil {
			return fmt.Errorf("record migration %d: %w", v, err)
		}
		log.Printf("[store] applied migration v%d", v)
	}
	return nil
}

// Get looks up handle (case-folded by the caller) and returns its record, or
// nil if unregistered.
func (s *Store) Get(handle string) (*Credential, error) {
	var c Credential
	c.Handle = handle
	err := s.db.QueryRow(
		`SELECT hash, gecos FROM credentials WHERE handle = ?`, handle,
	).Scan(&c.Hash, &c.Gecos)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	acls, err := s.handleACLs("user_acl", "handle", handle)
	if err != nil {
		return nil, err
	}
	for _, e := range acls {
		c.ACLs = append(c.ACLs, e.ACL)
	}
	return &c, nil
}

// Add persists a freshly registered handle. Returns ErrExists if the handle
// is already present.
func (s *Store) Add(handle, hash, gecos string, acls []string) error {
	_, err := s.db.Exec(
		`INSERT INTO credentials(handle, hash, gecos) VALUES(?, ?, ?)`,
		handle, hash, gecos,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return ErrExists
		}
		return err
	}
	for _, a := range acls {
		if err := s.SetUserACL(handle, a, "*"); err != nil {
			return fmt.Errorf("seed acl %q: %w", a, err)
		}
	}
	return nil
}

// SetPasswordHash overwrites the stored hash for an already-registered
// handle (the CLI's `dcpd passwd`). Returns ErrNotFound if handle doesn't
// exist.
func (s *Store) SetPasswordHash(handle, hash string) error {
	res, err := s.db.Exec(`UPDATE credentials SET hash = ? WHERE handle = ?`, hash, handle)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

// GetUserACL returns the full ACL record set for handle, ordered oldest
// first, for acl-list pagination.
func (s *Store) GetUserACL(handle string) ([]ACLEntry, error) {
	return s.handleACLs("user_acl", "handle", handle)
}

// GetGroupACL returns the full ACL record set for groupname.
func (s *Store) GetGroupACL(groupname string) ([]ACLEntry, error) {
	return s.handleACLs("group_acl", "groupname", groupname)
}

func (s *Store) handleACLs(table, column, key string) ([]ACLEntry, error) {
	rows, err := s.db.Query(
		fmt.Sprintf(`SELECT acl, created_at, setter FROM %s WHERE %s = ? ORDER BY created_at ASC`, table, column),
		key,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ACLEntry
	for rows.Next() {
		var e ACLEntry
		if err := rows.Scan(&e.ACL, &e.Timestamp, &e.Setter); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SetUserACL persists a user-scope grant. Returns ErrExists if already set.
func (s *Store) SetUserACL(handle, acl, setter string) error {
	_, err := s.db.Exec(
		`INSERT INTO user_acl(handle, acl, setter, created_at) VALUES(?, ?, ?, ?)`,
		handle, acl, setter, time.Now().Unix(),
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE") {
		return ErrExists
	}
	return err
}

// DeleteUserACL removes a user-scope grant. Returns ErrNotFound if absent.
func (s *Store) DeleteUserACL(handle, acl string) error {
	res, err := s.db.Exec(`DELETE FROM user_acl WHERE handle = ? AND acl = ?`, handle, acl)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

// SetGroupACL persists a group-scope, per-member grant.
func (s *Store) SetGroupACL(groupname, handle, acl, setter string) error {
	_, err := s.db.Exec(
		`INSERT INTO group_acl(groupname, handle, acl, setter, created_at) VALUES(?, ?, ?, ?, ?)`,
		groupname, handle, acl, setter, time.Now().Unix(),
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE") {
		return ErrExists
	}
	return err
}

// DeleteGroupACL removes a group-scope, per-member grant.
func (s *Store) DeleteGroupACL(groupname, handle, acl string) error {
	res, err := s.db.Exec(
		`DELETE FROM group_acl WHERE groupname = ? AND handle = ? AND acl = ?`,
		groupname, handle, acl,
	)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
