// Copyright 2024-2026 Aiku AI

package state

import (
	"context"
	"maps"
	"sync"
	"time"
)

type memoryEntry struct {
	name    string
	expires time.Time
}

// MemoryStore keeps state in process. It suits tests and single-instance
// bots that can afford to lose state on restart.
type MemoryStore struct {
	mu     sync.Mutex
	states map[string]memoryEntry
	data   map[string]map[string]any
	now    func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states: make(map[string]memoryEntry),
		data:   make(map[string]map[string]any),
		now:    time.Now,
	}
}

// SetClock replaces the time source used for TTL checks.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryStore) GetState(_ context.Context, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.states[userID]
	if !ok {
		return "", nil
	}
	if !entry.expires.IsZero() && !m.now().Before(entry.expires) {
		delete(m.states, userID)
		return "", nil
	}
	return entry.name, nil
}

func (m *MemoryStore) SetState(_ context.Context, userID string, st State, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := memoryEntry{name: st.String()}
	if ttl > 0 {
		entry.expires = m.now().Add(ttl)
	}
	m.states[userID] = entry
	return nil
}

func (m *MemoryStore) DeleteState(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, userID)
	return nil
}

func (m *MemoryStore) GetData(_ context.Context, userID string) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]any, len(m.data[userID]))
	maps.Copy(out, m.data[userID])
	return out, nil
}

func (m *MemoryStore) UpdateData(_ context.Context, userID string, patch map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.data[userID]
	if !ok {
		existing = make(map[string]any, len(patch))
		m.data[userID] = existing
	}
	maps.Copy(existing, patch)
	return nil
}
