package checkpoint

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory checkpoint store for tests and single-process
// development. Data is lost when the process exits.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string]*Checkpoint
	closed bool
}

// NewMemoryStore creates a new in-memory checkpoint store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]*Checkpoint),
	}
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, cp *Checkpoint) error {
	if err := cp.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	if existing, ok := m.data[cp.ThreadID]; ok && existing.Sequence > cp.Sequence {
		return ErrStaleSequence
	}

	m.data[cp.ThreadID] = cp.Clone()
	return nil
}

// Load implements Store.
func (m *MemoryStore) Load(_ context.Context, threadID string) (*Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	cp, ok := m.data[threadID]
	if !ok {
		return nil, ErrNotFound
	}
	return cp.Clone(), nil
}

// List implements Store.
func (m *MemoryStore) List(_ context.Context) ([]Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	infos := make([]Info, 0, len(m.data))
	for _, cp := range m.data {
		infos = append(infos, cp.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ThreadID < infos[j].ThreadID
	})
	return infos, nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	delete(m.data, threadID)
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.data = nil
	return nil
}

// Len returns the number of stored threads.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
