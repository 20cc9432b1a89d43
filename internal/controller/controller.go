// Package controller is the execution gateway: it authorizes callers against
// the trust configuration and the passkey registry, and turns authorized
// action batches into promises on the operation sink.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"passkeygate.org/internal/account"
	"passkeygate.org/internal/action"
	"passkeygate.org/internal/audit"
	"passkeygate.org/internal/dispatch"
	"passkeygate.org/internal/ids"
	"passkeygate.org/internal/obs"
	"passkeygate.org/internal/passkey"
	"passkeygate.org/internal/sink"
	"passkeygate.org/internal/store"
)

// ExecutionContext describes who is calling. It is supplied per call and
// never persisted.
type ExecutionContext struct {
	// CurrentAccount is the gateway's own account.
	CurrentAccount account.ID
	// Caller is the account that invoked the gateway.
	Caller account.ID
	// Signer is the account that signed the transaction, and SignerKey the
	// credential it signed with.
	Signer    account.ID
	SignerKey passkey.PublicKey
}

func (ec ExecutionContext) env() action.Env {
	return action.Env{Contract: ec.CurrentAccount, Signer: ec.Signer}
}

// InitParams seeds the gateway state.
type InitParams struct {
	Owner          account.ID
	TrustedRelayer account.ID
	Credentials    []passkey.PublicKey
}

// Controller serializes calls against the state store. Every call works on
// a private overlay and a pending batch; both are dropped when it fails.
type Controller struct {
	mu      sync.Mutex
	kv      store.KV
	sink    sink.Sink
	batchID func() string
}

type Option func(*Controller)

// WithBatchIDs overrides the batch id generator.
func WithBatchIDs(fn func() string) Option {
	return func(c *Controller) {
		if fn != nil {
			c.batchID = fn
		}
	}
}

func New(kv store.KV, s sink.Sink, opts ...Option) *Controller {
	c := &Controller{kv: kv, sink: s, batchID: ids.NewBatchID}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Initialize stores the owner and relayer and seeds the registry. It
// succeeds once.
func (c *Controller) Initialize(ctx context.Context, ec ExecutionContext, p InitParams) error {
	_, err := c.call(ctx, "initialize", ec, func(st *state, _ *dispatch.Dispatcher) error {
		if ok, err := st.initialized(ctx); err != nil {
			return err
		} else if ok {
			return ErrAlreadyInitialized
		}
		if err := p.Owner.Validate(); err != nil {
			return fmt.Errorf("owner: %w", err)
		}
		if err := p.TrustedRelayer.Validate(); err != nil {
			return fmt.Errorf("trusted relayer: %w", err)
		}
		st.tx.Put(ownerKey, []byte(p.Owner))
		st.tx.Put(relayerKey, []byte(p.TrustedRelayer))
		for _, k := range p.Credentials {
			if _, err := st.registry.Add(ctx, k); err != nil {
				return fmt.Errorf("seed credential: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	_ = audit.LogEvent(ctx, audit.EventInitialized, map[string]any{
		"owner":       p.Owner.String(),
		"relayer":     p.TrustedRelayer.String(),
		"credentials": len(p.Credentials),
	})
	return nil
}

// SetTrustedRelayer replaces the trusted relayer. Owner only.
func (c *Controller) SetTrustedRelayer(ctx context.Context, ec ExecutionContext, relayer account.ID) error {
	var previous account.ID
	_, err := c.call(ctx, "set_trusted_relayer", ec, func(st *state, _ *dispatch.Dispatcher) error {
		if err := st.requireOwner(ctx, "set_trusted_relayer", ec.Caller); err != nil {
			return err
		}
		if err := relayer.Validate(); err != nil {
			return err
		}
		var err error
		if previous, err = st.relayer(ctx); err != nil {
			return err
		}
		st.tx.Put(relayerKey, []byte(relayer))
		return nil
	})
	if err != nil {
		return err
	}
	_ = audit.LogEvent(ctx, audit.EventRelayerChanged, map[string]any{"from": previous.String(), "to": relayer.String()})
	return nil
}

// TransferOwnership hands governance to owner. Owner only.
func (c *Controller) TransferOwnership(ctx context.Context, ec ExecutionContext, owner account.ID) error {
	_, err := c.call(ctx, "transfer_ownership", ec, func(st *state, _ *dispatch.Dispatcher) error {
		if err := st.requireOwner(ctx, "transfer_ownership", ec.Caller); err != nil {
			return err
		}
		if err := owner.Validate(); err != nil {
			return err
		}
		st.tx.Put(ownerKey, []byte(owner))
		return nil
	})
	if err != nil {
		return err
	}
	_ = audit.LogEvent(ctx, audit.EventOwnerChanged, map[string]any{"from": ec.Caller.String(), "to": owner.String()})
	return nil
}

func (c *Controller) TrustedRelayer(ctx context.Context) (account.ID, error) {
	var out account.ID
	err := c.read(ctx, func(st *state) (err error) {
		out, err = st.relayer(ctx)
		return err
	})
	return out, err
}

func (c *Controller) Owner(ctx context.Context) (account.ID, error) {
	var out account.ID
	err := c.read(ctx, func(st *state) (err error) {
		out, err = st.owner(ctx)
		return err
	})
	return out, err
}

// AddCredential registers key and reports whether it was new. Relayer only.
func (c *Controller) AddCredential(ctx context.Context, ec ExecutionContext, key passkey.PublicKey) (bool, error) {
	var added bool
	_, err := c.call(ctx, "add_credential", ec, func(st *state, _ *dispatch.Dispatcher) error {
		if err := st.requireRelayer(ctx, "add_credential", ec.Caller); err != nil {
			return err
		}
		var err error
		added, err = st.registry.Add(ctx, key)
		return err
	})
	if err != nil {
		return false, err
	}
	if added {
		_ = audit.LogEvent(ctx, audit.EventCredentialAdded, map[string]any{"credential": key.String()})
	}
	return added, nil
}

// RemoveCredential unregisters key and reports whether it was present.
// Relayer only.
func (c *Controller) RemoveCredential(ctx context.Context, ec ExecutionContext, key passkey.PublicKey) (bool, error) {
	var removed bool
	_, err := c.call(ctx, "remove_credential", ec, func(st *state, _ *dispatch.Dispatcher) error {
		if err := st.requireRelayer(ctx, "remove_credential", ec.Caller); err != nil {
			return err
		}
		var err error
		removed, err = st.registry.Remove(ctx, key)
		return err
	})
	if err != nil {
		return false, err
	}
	if removed {
		_ = audit.LogEvent(ctx, audit.EventCredentialRemoved, map[string]any{"credential": key.String()})
	}
	return removed, nil
}

func (c *Controller) IsCredentialRegistered(ctx context.Context, key passkey.PublicKey) (bool, error) {
	var ok bool
	err := c.read(ctx, func(st *state) (err error) {
		ok, err = st.registry.Contains(ctx, key)
		return err
	})
	return ok, err
}

func (c *Controller) ListCredentials(ctx context.Context) ([]passkey.PublicKey, error) {
	var keys []passkey.PublicKey
	err := c.read(ctx, func(st *state) (err error) {
		keys, err = st.registry.List(ctx)
		return err
	})
	return keys, err
}

// ExecuteDelegatedAction runs one relayed action on behalf of cred.
func (c *Controller) ExecuteDelegatedAction(ctx context.Context, ec ExecutionContext, cred passkey.PublicKey, d action.Descriptor) (sink.Batch, error) {
	return c.executeDelegated(ctx, "delegated", ec, cred, []action.Descriptor{d}, false)
}

// ExecuteDelegatedActions runs a relayed batch on behalf of cred. The caller
// must be the trusted relayer and cred must be registered. Any failing
// action aborts the whole batch.
func (c *Controller) ExecuteDelegatedActions(ctx context.Context, ec ExecutionContext, cred passkey.PublicKey, ds []action.Descriptor) (sink.Batch, error) {
	return c.executeDelegated(ctx, "delegated_batch", ec, cred, ds, true)
}

// ExecuteDirectAction runs one action for a signer whose own credential is
// registered. The calling account plays no part in the check.
func (c *Controller) ExecuteDirectAction(ctx context.Context, ec ExecutionContext, d action.Descriptor) (sink.Batch, error) {
	return c.executeDirect(ctx, "direct", ec, []action.Descriptor{d}, false)
}

// ExecuteDirectActions is the batch form of ExecuteDirectAction.
func (c *Controller) ExecuteDirectActions(ctx context.Context, ec ExecutionContext, ds []action.Descriptor) (sink.Batch, error) {
	return c.executeDirect(ctx, "direct_batch", ec, ds, true)
}

func (c *Controller) executeDelegated(ctx context.Context, entry string, ec ExecutionContext, cred passkey.PublicKey, ds []action.Descriptor, batch bool) (sink.Batch, error) {
	return c.call(ctx, entry, ec, func(st *state, disp *dispatch.Dispatcher) error {
		if err := st.requireRelayer(ctx, "execute_delegated_action", ec.Caller); err != nil {
			return err
		}
		if err := st.requireRegistered(ctx, cred); err != nil {
			return err
		}
		return dispatchAll(ctx, disp, ds, action.Delegated, ec.env(), batch)
	})
}

func (c *Controller) executeDirect(ctx context.Context, entry string, ec ExecutionContext, ds []action.Descriptor, batch bool) (sink.Batch, error) {
	return c.call(ctx, entry, ec, func(st *state, disp *dispatch.Dispatcher) error {
		if err := st.requireRegistered(ctx, ec.SignerKey); err != nil {
			return err
		}
		return dispatchAll(ctx, disp, ds, action.Direct, ec.env(), batch)
	})
}

func dispatchAll(ctx context.Context, disp *dispatch.Dispatcher, ds []action.Descriptor, mode action.Mode, env action.Env, batch bool) error {
	for i, d := range ds {
		err := func() error {
			v, err := action.Validate(d, mode, env)
			if err != nil {
				return err
			}
			_, err = disp.Dispatch(ctx, v)
			return err
		}()
		if err != nil {
			if batch {
				return fmt.Errorf("action %d: %w", i, err)
			}
			return err
		}
	}
	return nil
}

// call runs fn under the controller lock against a fresh overlay and pending
// batch. State is committed and the batch submitted only when fn succeeds.
func (c *Controller) call(ctx context.Context, entry string, ec ExecutionContext, fn func(*state, *dispatch.Dispatcher) error) (sink.Batch, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	batch, err := c.callLocked(ctx, ec, fn)
	obs.ObserveCall(entry, outcome(err))
	if err != nil {
		return sink.Batch{}, err
	}
	for _, p := range batch.Promises {
		for _, op := range p.Ops {
			obs.ObservePromise(op.Type())
		}
	}
	if len(batch.Promises) > 0 {
		_ = audit.LogEvent(ctx, audit.EventActionsExecuted, map[string]any{
			"entry":    entry,
			"batch_id": batch.ID,
			"promises": len(batch.Promises),
		})
	}
	return batch, nil
}

func (c *Controller) callLocked(ctx context.Context, ec ExecutionContext, fn func(*state, *dispatch.Dispatcher) error) (sink.Batch, error) {
	if err := ctx.Err(); err != nil {
		return sink.Batch{}, err
	}
	st := newState(c.kv)
	var pending sink.Pending
	if err := fn(st, dispatch.New(&pending)); err != nil {
		return sink.Batch{}, err
	}
	if err := st.tx.Commit(ctx); err != nil {
		return sink.Batch{}, fmt.Errorf("commit state: %w", err)
	}
	if pending.Len() == 0 {
		return sink.Batch{}, nil
	}
	batch := pending.Batch(c.batchID(), ec.CurrentAccount)
	if err := c.sink.Submit(ctx, batch); err != nil {
		return sink.Batch{}, fmt.Errorf("submit batch %s: %w", batch.ID, err)
	}
	return batch, nil
}

func (c *Controller) read(ctx context.Context, fn func(*state) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(newState(c.kv))
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrNotRegistered):
		return "not_registered"
	case errors.Is(err, action.ErrMissingField), errors.Is(err, action.ErrInvalidField):
		return "invalid"
	case errors.Is(err, ErrNotInitialized), errors.Is(err, ErrAlreadyInitialized):
		return "conflict"
	default:
		return "error"
	}
}
