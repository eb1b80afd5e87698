package kvstore

import (
	"sync"
)

// MemoryStorage is a thread-safe in-memory Storage implementation. State
// does not survive process restarts; intended for tests and hosts that
// supply their own persistence.
type MemoryStorage struct {
	mu    sync.RWMutex
	items map[string][]byte
}

var _ Storage = (*MemoryStorage)(nil)

// NewMemoryStorage creates an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		items: make(map[string][]byte),
	}
}

// SaveItem stores a copy of value under key.
func (m *MemoryStorage) SaveItem(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	buf := make([]byte, len(value))
	copy(buf, value)
	m.items[key] = buf
	return nil
}

// LoadItem returns a copy of the blob stored under key.
func (m *MemoryStorage) LoadItem(key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.items[key]
	if !ok {
		return nil, false, nil
	}
	buf := make([]byte, len(value))
	copy(buf, value)
	return buf, true, nil
}

// DeleteItem removes the blob stored under key.
func (m *MemoryStorage) DeleteItem(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.items, key)
	return nil
}
