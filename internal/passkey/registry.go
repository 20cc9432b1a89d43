package passkey

import (
	"context"
	"fmt"

	"passkeygate.org/internal/store"
)

var registryPrefix = []byte("pk/")

// Backend is the keyed view the registry persists into. *store.Tx satisfies it.
type Backend interface {
	Get(ctx context.Context, key []byte) ([]byte, bool, error)
	Put(key, value []byte)
	Delete(key []byte)
	Scan(ctx context.Context, prefix []byte) ([]store.Entry, error)
}

// Registry is the set of registered passkey credentials. Membership carries
// no ordering; List returns keys sorted by their byte identity.
type Registry struct {
	backend Backend
}

func NewRegistry(b Backend) *Registry {
	return &Registry{backend: b}
}

// Add inserts key and reports whether it was absent before.
func (r *Registry) Add(ctx context.Context, key PublicKey) (bool, error) {
	if key.IsZero() {
		return false, fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	ok, err := r.Contains(ctx, key)
	if err != nil || ok {
		return false, err
	}
	r.backend.Put(entryKey(key), []byte{1})
	return true, nil
}

// Remove deletes key and reports whether it was present.
func (r *Registry) Remove(ctx context.Context, key PublicKey) (bool, error) {
	ok, err := r.Contains(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	r.backend.Delete(entryKey(key))
	return true, nil
}

func (r *Registry) Contains(ctx context.Context, key PublicKey) (bool, error) {
	if key.IsZero() {
		return false, nil
	}
	_, ok, err := r.backend.Get(ctx, entryKey(key))
	return ok, err
}

func (r *Registry) List(ctx context.Context) ([]PublicKey, error) {
	entries, err := r.backend.Scan(ctx, registryPrefix)
	if err != nil {
		return nil, err
	}
	keys := make([]PublicKey, 0, len(entries))
	for _, e := range entries {
		k, err := FromBytes(e.Key[len(registryPrefix):])
		if err != nil {
			return nil, fmt.Errorf("decode registry entry: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, nil
}

func entryKey(k PublicKey) []byte {
	return append(append([]byte{}, registryPrefix...), k.Bytes()...)
}
