package seenset

import (
	"context"
	"sync"
)

// Memory is a process-local seen-set. Contents are lost on restart, so it
// suits tests and dry runs rather than production cycles.
type Memory struct {
	mu   sync.RWMutex
	keys map[string]struct{}
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{keys: make(map[string]struct{})}
}

// Contains reports whether the key was added before.
func (m *Memory) Contains(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.keys[key]
	return ok, nil
}

// Add records the key. Re-adding is a no-op.
func (m *Memory) Add(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key] = struct{}{}
	return nil
}

// Len returns the number of stored keys.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.keys)
}

// Close implements Store.
func (m *Memory) Close() error { return nil }
