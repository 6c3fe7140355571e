package store

import (
	"context"
	"sync"
	"time"
)

// MemStore is an in-memory Store.
//
// It loses all records when the process exits. Use it in tests or when no
// disk spill is wanted.
type MemStore struct {
	mu      sync.RWMutex
	records map[string]Record
	closed  bool
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{records: make(map[string]Record)}
}

// Put implements Store.
func (m *MemStore) Put(_ context.Context, records ...Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	for _, r := range records {
		r.Payload = append([]byte(nil), r.Payload...)
		m.records[r.ID] = r
	}
	return nil
}

// Get implements Store.
func (m *MemStore) Get(_ context.Context, id string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return Record{}, ErrClosed
	}
	r, ok := m.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return r, nil
}

// DeleteOlderThan implements Store.
func (m *MemStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	n := 0
	for id, r := range m.records {
		if r.Timestamp.Before(cutoff) {
			delete(m.records, id)
			n++
		}
	}
	return n, nil
}

// Len implements Store.
func (m *MemStore) Len(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrClosed
	}
	return len(m.records), nil
}

// Close implements Store.
func (m *MemStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.records = nil
	return nil
}
