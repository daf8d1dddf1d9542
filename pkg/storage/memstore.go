package storage

import (
	"bytes"
	"sort"
)

// MemStore is an in-memory KV used in tests and single-process tooling.
// Keys are copied on write so callers can reuse buffers.
type MemStore struct {
	data map[string][]byte
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string][]byte)}
}

func (m *MemStore) Get(key []byte) ([]byte, bool) {
	v, ok := m.data[string(key)]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true
}

func (m *MemStore) Set(key, value []byte) {
	v := make([]byte, len(value))
	copy(v, value)
	m.data[string(key)] = v
}

func (m *MemStore) Delete(key []byte) {
	delete(m.data, string(key))
}

func (m *MemStore) Scan(prefix []byte, fn func(key, value []byte) bool) {
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		if bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !fn([]byte(k), m.data[k]) {
			return
		}
	}
}

// Len returns the number of stored keys.
func (m *MemStore) Len() int { return len(m.data) }

var _ KV = (*MemStore)(nil)
