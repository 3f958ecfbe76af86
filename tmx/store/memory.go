package store

import (
	"context"
	"fmt"
	"path"
	"sort"
	"sync"
)

// MemoryStore is an in-process KVStore. The CLI falls back to it when no Valkey
// server is configured, and tests use it in place of a server. TTLs are recorded
// but never enforced.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]string
	lists  map[string][]string
	ttls   map[string]int
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[string]string),
		lists:  make(map[string][]string),
		ttls:   make(map[string]int),
	}
}

var _ KVStore = (*MemoryStore)(nil)

func (m *MemoryStore) SetValue(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	delete(m.ttls, key)
	return nil
}

func (m *MemoryStore) SetValueWithTTL(ctx context.Context, key, value string, ttlSeconds int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	m.ttls[key] = ttlSeconds
	return nil
}

func (m *MemoryStore) GetValue(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.values[key]
	if !ok {
		return "", fmt.Errorf("%w: '%s'", ErrNotFound, key)
	}
	return value, nil
}

// GetTTL mirrors Valkey: -2 for a missing key, -1 for a key without expiry.
func (m *MemoryStore) GetTTL(ctx context.Context, key string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.exists(key) {
		return -2, nil
	}
	if ttl, ok := m.ttls[key]; ok {
		return ttl, nil
	}
	return -1, nil
}

func (m *MemoryStore) SetExpire(ctx context.Context, key string, ttlSeconds int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.exists(key) {
		m.ttls[key] = ttlSeconds
	}
	return nil
}

func (m *MemoryStore) ListKeys(ctx context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0)
	match := func(key string) error {
		ok, err := path.Match(pattern, key)
		if err != nil {
			return fmt.Errorf("bad pattern '%s': %w", pattern, err)
		}
		if ok {
			keys = append(keys, key)
		}
		return nil
	}
	for key := range m.values {
		if err := match(key); err != nil {
			return nil, err
		}
	}
	for key := range m.lists {
		if err := match(key); err != nil {
			return nil, err
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryStore) DeleteValue(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	delete(m.lists, key)
	delete(m.ttls, key)
	return nil
}

func (m *MemoryStore) AppendList(ctx context.Context, key string, values ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists[key] = append(m.lists[key], values...)
	return int64(len(m.lists[key])), nil
}

func (m *MemoryStore) ListRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.lists[key]
	n := int64(len(list))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop {
		return []string{}, nil
	}
	out := make([]string, stop-start+1)
	copy(out, list[start:stop+1])
	return out, nil
}

func (m *MemoryStore) Close() error {
	return nil
}

func (m *MemoryStore) exists(key string) bool {
	if _, ok := m.values[key]; ok {
		return true
	}
	_, ok := m.lists[key]
	return ok
}
