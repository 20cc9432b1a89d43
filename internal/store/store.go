package store

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"sync"
)

var ErrNotFound = errors.New("store: not found")

// Entry is a key/value pair returned by scans.
type Entry struct {
	Key   []byte
	Value []byte
}

// Change is one write of an atomic commit. Delete wins over Value.
type Change struct {
	Key    []byte
	Value  []byte
	Delete bool
}

// KV is the durable keyed map backing gateway state. Commit must apply all
// changes or none of them.
type KV interface {
	Get(ctx context.Context, key []byte) ([]byte, error)
	Scan(ctx context.Context, prefix []byte) ([]Entry, error)
	Commit(ctx context.Context, changes []Change) error
}

// Memory implements KV in process.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

var _ KV = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Get(ctx context.Context, key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(v), nil
}

func (m *Memory) Scan(ctx context.Context, prefix []byte) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Entry
	for k, v := range m.data {
		if !bytes.HasPrefix([]byte(k), prefix) {
			continue
		}
		out = append(out, Entry{Key: []byte(k), Value: bytes.Clone(v)})
	}
	sortEntries(out)
	return out, nil
}

func (m *Memory) Commit(ctx context.Context, changes []Change) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range changes {
		if c.Delete {
			delete(m.data, string(c.Key))
			continue
		}
		m.data[string(c.Key)] = bytes.Clone(c.Value)
	}
	return nil
}

// Len returns the number of stored keys.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return bytes.Compare(entries[i].Key, entries[j].Key) < 0
	})
}
