package client

import "sync"

// Snapshot is the client state that survives a page reload. It seeds the
// pending-rejoin record before any transport event has happened.
type Snapshot struct {
	RoomCode   string
	PlayerName string
	WasHost    bool
}

// Store is the persisted-state collaborator. The real one lives in the web
// shell; MemStore backs tests and headless runs.
type Store interface {
	Load() (Snapshot, bool)
	Save(Snapshot)
	Clear()
}

type MemStore struct {
	mu   sync.Mutex
	snap Snapshot
	set  bool
}

func NewMemStore() *MemStore { return &MemStore{} }

func (m *MemStore) Load() (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap, m.set
}

func (m *MemStore) Save(s Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap, m.set = s, true
}

func (m *MemStore) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap, m.set = Snapshot{}, false
}
