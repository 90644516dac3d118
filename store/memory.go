package store

import "sync"

// Memory is an in-process credential store with the same method set as
// Store, for unit tests that don't want a SQLite file on disk.
type Memory struct {
	mu    sync.Mutex
	creds map[string]Credential
	uacl  map[string][]ACLEntry
	gacl  map[string][]ACLEntry
	// gaclMember tracks which member each group_acl entry in gacl[groupname]
	// belongs to, by parallel index, since ACLEntry itself (matching the
	// store interface's returned shape) carries no member field.
	gaclMember map[string][]string
	clock      func() int64
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		creds:      make(map[string]Credential),
		uacl:       make(map[string][]ACLEntry),
		gacl:       make(map[string][]ACLEntry),
		gaclMember: make(map[string][]string),
		clock:      func() int64 { return 0 },
	}
}

func (m *Memory) Get(handle string) (*Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creds[handle]
	if !ok {
		return nil, nil
	}
	out := c
	out.ACLs = append([]string(nil), c.ACLs...)
	return &out, nil
}

func (m *Memory) Add(handle, hash, gecos string, acls []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.creds[handle]; ok {
		return ErrExists
	}
	m.creds[handle] = Credential{Handle: handle, Hash: hash, Gecos: gecos, ACLs: append([]string(nil), acls...)}
	for _, a := range acls {
		m.uacl[handle] = append(m.uacl[handle], ACLEntry{ACL: a, Setter: "*"})
	}
	return nil
}

func (m *Memory) SetPasswordHash(handle, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creds[handle]
	if !ok {
		return ErrNotFound
	}
	c.Hash = hash
	m.creds[handle] = c
	return nil
}

func (m *Memory) GetUserACL(handle string) ([]ACLEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ACLEntry(nil), m.uacl[handle]...), nil
}

func (m *Memory) GetGroupACL(groupname string) ([]ACLEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ACLEntry(nil), m.gacl[groupname]...), nil
}

func (m *Memory) SetUserACL(handle, acl, setter string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.uacl[handle] {
		if e.ACL == acl {
			return ErrExists
		}
	}
	m.uacl[handle] = append(m.uacl[handle], ACLEntry{ACL: acl, Setter: setter, Timestamp: m.clock()})
	return nil
}

func (m *Memory) DeleteUserACL(handle, acl string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.uacl[handle]
	for i, e := range list {
		if e.ACL == acl {
			m.uacl[handle] = append(list[:i], list[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) SetGroupACL(groupname, handle, acl, setter string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	members := m.gaclMember[groupname]
	for i, e := range m.gacl[groupname] {
		if e.ACL == acl && members[i] == handle {
			return ErrExists
		}
	}
	m.gacl[groupname] = append(m.gacl[groupname], ACLEntry{ACL: acl, Setter: setter, Timestamp: m.clock()})
	m.gaclMember[groupname] = append(m.gaclMember[groupname], handle)
	return nil
}

func (m *Memory) DeleteGroupACL(groupname, handle, acl string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.gacl[groupname]
	members := m.gaclMember[groupname]
	for i, e := range list {
		if e.ACL == acl && members[i] == handle {
			m.gacl[groupname] = append(list[:i], list[i+1:]...)
			m.gaclMember[groupname] = append(members[:i], members[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}
