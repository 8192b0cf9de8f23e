// file: internal/storage/memory_store.go
// version: 1.0.0
// guid: 9d0e1f2a-3b4c-4d5e-8f6a-7b8c9d0e1f2a

package storage

import (
	"sort"
	"sync"
)

// MemoryStore is an in-process Storage with an optional byte quota, the
// closest analogue to browser localStorage.
type MemoryStore struct {
	mu     sync.RWMutex
	items  map[string][]byte
	used   int64
	quota  int64
	closed bool
}

// NewMemoryStore creates a store. quota <= 0 disables the limit.
func NewMemoryStore(quota int64) *MemoryStore {
	return &MemoryStore{
		items: make(map[string][]byte),
		quota: quota,
	}
}

func (m *MemoryStore) GetItem(key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, false, ErrClosed
	}
	v, ok := m.items[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (m *MemoryStore) SetItem(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	size := int64(len(key) + len(value))
	var prev int64
	if old, ok := m.items[key]; ok {
		prev = int64(len(key) + len(old))
	}
	if m.quota > 0 && m.used-prev+size > m.quota {
		return ErrQuotaExceeded
	}

	v := make([]byte, len(value))
	copy(v, value)
	m.items[key] = v
	m.used += size - prev
	return nil
}

func (m *MemoryStore) RemoveItem(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if old, ok := m.items[key]; ok {
		m.used -= int64(len(key) + len(old))
		delete(m.items, key)
	}
	return nil
}

func (m *MemoryStore) Keys() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	keys := make([]string, 0, len(m.items))
	for k := range m.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Used reports the bytes currently accounted against the quota.
func (m *MemoryStore) Used() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.used
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.items = nil
	m.used = 0
	return nil
}
