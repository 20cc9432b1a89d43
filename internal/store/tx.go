package store

import (
	"bytes"
	"context"
	"errors"
	"sort"
)

// Tx buffers writes over a KV. Reads see the buffered writes; nothing reaches
// the KV until Commit, so dropping a Tx discards every change made through it.
type Tx struct {
	kv     KV
	writes map[string]Change
}

func Begin(kv KV) *Tx {
	return &Tx{kv: kv, writes: make(map[string]Change)}
}

func (t *Tx) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	if w, ok := t.writes[string(key)]; ok {
		if w.Delete {
			return nil, false, nil
		}
		return bytes.Clone(w.Value), true, nil
	}
	v, err := t.kv.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (t *Tx) Put(key, value []byte) {
	t.writes[string(key)] = Change{Key: bytes.Clone(key), Value: bytes.Clone(value)}
}

func (t *Tx) Delete(key []byte) {
	t.writes[string(key)] = Change{Key: bytes.Clone(key), Delete: true}
}

// Scan merges the committed entries under prefix with the buffered writes.
func (t *Tx) Scan(ctx context.Context, prefix []byte) ([]Entry, error) {
	base, err := t.kv.Scan(ctx, prefix)
	if err != nil {
		return nil, err
	}
	merged := make(map[string][]byte, len(base))
	for _, e := range base {
		merged[string(e.Key)] = e.Value
	}
	for k, w := range t.writes {
		if !bytes.HasPrefix([]byte(k), prefix) {
			continue
		}
		if w.Delete {
			delete(merged, k)
			continue
		}
		merged[k] = w.Value
	}
	out := make([]Entry, 0, len(merged))
	for k, v := range merged {
		out = append(out, Entry{Key: []byte(k), Value: bytes.Clone(v)})
	}
	sortEntries(out)
	return out, nil
}

// Dirty reports whether any write is buffered.
func (t *Tx) Dirty() bool { return len(t.writes) > 0 }

// Changes returns the buffered writes ordered by key.
func (t *Tx) Changes() []Change {
	out := make([]Change, 0, len(t.writes))
	for _, w := range t.writes {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Key, out[j].Key) < 0
	})
	return out
}

// Commit flushes the buffered writes atomically. A clean Tx is a no-op.
func (t *Tx) Commit(ctx context.Context) error {
	if !t.Dirty() {
		return nil
	}
	if err := t.kv.Commit(ctx, t.Changes()); err != nil {
		return err
	}
	t.writes = make(map[string]Change)
	return nil
}
