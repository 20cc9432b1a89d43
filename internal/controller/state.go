package controller

import (
	"context"

	"passkeygate.org/internal/account"
	"passkeygate.org/internal/passkey"
	"passkeygate.org/internal/store"
)

var (
	ownerKey   = []byte("cfg/owner")
	relayerKey = []byte("cfg/relayer")
)

// state is the gateway state as seen by one call.
type state struct {
	tx       *store.Tx
	registry *passkey.Registry
}

func newState(kv store.KV) *state {
	tx := store.Begin(kv)
	return &state{tx: tx, registry: passkey.NewRegistry(tx)}
}

func (s *state) initialized(ctx context.Context) (bool, error) {
	_, ok, err := s.tx.Get(ctx, ownerKey)
	return ok, err
}

func (s *state) owner(ctx context.Context) (account.ID, error) {
	return s.accountAt(ctx, ownerKey)
}

func (s *state) relayer(ctx context.Context) (account.ID, error) {
	return s.accountAt(ctx, relayerKey)
}

func (s *state) accountAt(ctx context.Context, key []byte) (account.ID, error) {
	v, ok, err := s.tx.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrNotInitialized
	}
	return account.ID(v), nil
}

func (s *state) requireOwner(ctx context.Context, op string, caller account.ID) error {
	owner, err := s.owner(ctx)
	if err != nil {
		return err
	}
	if caller.IsZero() || caller != owner {
		return &AuthorizationError{Op: op, Caller: caller, Role: "owner"}
	}
	return nil
}

func (s *state) requireRelayer(ctx context.Context, op string, caller account.ID) error {
	relayer, err := s.relayer(ctx)
	if err != nil {
		return err
	}
	if caller.IsZero() || caller != relayer {
		return &AuthorizationError{Op: op, Caller: caller, Role: "trusted relayer"}
	}
	return nil
}

func (s *state) requireRegistered(ctx context.Context, cred passkey.PublicKey) error {
	ok, err := s.registry.Contains(ctx, cred)
	if err != nil {
		return err
	}
	if !ok {
		return &NotRegisteredError{Credential: cred}
	}
	return nil
}
