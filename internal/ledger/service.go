// Package ledger is an in-process host ledger. It applies promise batches
// from the gateway the way the host chain would, one promise at a time.
package ledger

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/holiman/uint256"

	"passkeygate.org/internal/account"
	"passkeygate.org/internal/passkey"
	"passkeygate.org/internal/sink"
)

type record struct {
	id        account.ID
	createdAt time.Time
	balance   uint256.Int
	locked    uint256.Int
	code      []byte
	keys      map[string]AccessKey
	validator passkey.PublicKey
}

func (r *record) clone() *record {
	out := *r
	out.code = bytes.Clone(r.code)
	out.keys = make(map[string]AccessKey, len(r.keys))
	for k, v := range r.keys {
		out.keys[k] = v
	}
	return &out
}

// InMemory implements sink.Sink with in-process concurrency safety.
type InMemory struct {
	mu       sync.RWMutex
	accts    map[account.ID]*record
	seq      uint64
	receipts []Receipt
	calls    []Call
	now      func() time.Time
}

var _ sink.Sink = (*InMemory)(nil)

func NewInMemory() *InMemory {
	return &InMemory{
		accts: make(map[account.ID]*record),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// CreateAccount opens id with an initial balance, outside any batch.
func (s *InMemory) CreateAccount(ctx context.Context, id account.ID, initial *uint256.Int) (Account, error) {
	if err := id.Validate(); err != nil {
		return Account{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accts[id]; ok {
		return Account{}, ErrAccountExists
	}
	r := &record{id: id, createdAt: s.now(), keys: map[string]AccessKey{}}
	if initial != nil {
		r.balance.Set(initial)
	}
	s.accts[id] = r
	return r.snapshot(), nil
}

func (s *InMemory) GetAccount(ctx context.Context, id account.ID) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.accts[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	return r.snapshot(), nil
}

func (s *InMemory) Balance(ctx context.Context, id account.ID) (*uint256.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.accts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return new(uint256.Int).Set(&r.balance), nil
}

// Code returns the contract installed on id.
func (s *InMemory) Code(ctx context.Context, id account.ID) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.accts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(r.code), nil
}

// Submit applies every promise of b in order. Each promise is atomic; a
// failing promise is recorded in its receipt and does not stop the rest.
func (s *InMemory) Submit(ctx context.Context, b sink.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range b.Promises {
		s.seq++
		rc := Receipt{Sequence: s.seq, BatchID: b.ID, Index: i, Receiver: p.Receiver, AppliedAt: s.now()}
		if err := s.applyLocked(b.Origin, p); err != nil {
			rc.Error = err.Error()
		} else {
			rc.OK = true
		}
		s.receipts = append(s.receipts, rc)
	}
	return nil
}

// Receipts pages through receipts with sequence greater than afterSeq.
func (s *InMemory) Receipts(ctx context.Context, limit int, afterSeq uint64) ([]Receipt, uint64, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []Receipt
	var last uint64
	for _, rc := range s.receipts {
		if rc.Sequence <= afterSeq {
			continue
		}
		res = append(res, rc)
		last = rc.Sequence
		if len(res) >= limit {
			break
		}
	}
	return res, last, nil
}

// Calls lists the function calls delivered so far.
func (s *InMemory) Calls(ctx context.Context) []Call {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// view stages account changes for one promise.
type view struct {
	base    map[account.ID]*record
	touched map[account.ID]*record
	deleted map[account.ID]bool
	calls   []Call
}

func (v *view) get(id account.ID) (*record, bool) {
	if v.deleted[id] {
		return nil, false
	}
	if r, ok := v.touched[id]; ok {
		return r, true
	}
	r, ok := v.base[id]
	if !ok {
		return nil, false
	}
	c := r.clone()
	v.touched[id] = c
	return c, true
}

func (s *InMemory) applyLocked(origin account.ID, p sink.Promise) error {
	v := &view{base: s.accts, touched: map[account.ID]*record{}, deleted: map[account.ID]bool{}}
	for i, op := range p.Ops {
		if err := s.applyOp(v, origin, p.Receiver, op); err != nil {
			return fmt.Errorf("op %d (%s): %w", i, op.Type(), err)
		}
	}
	for id := range v.deleted {
		delete(s.accts, id)
	}
	for id, r := range v.touched {
		if !v.deleted[id] {
			s.accts[id] = r
		}
	}
	for _, c := range v.calls {
		c.Sequence = uint64(len(s.calls) + 1)
		s.calls = append(s.calls, c)
	}
	return nil
}

func (s *InMemory) applyOp(v *view, origin, receiver account.ID, op sink.Op) error {
	switch o := op.(type) {
	case sink.CreateAccount:
		if _, ok := v.get(receiver); ok {
			return fmt.Errorf("%w: %s", ErrAccountExists, receiver)
		}
		if err := receiver.Validate(); err != nil {
			return err
		}
		delete(v.deleted, receiver)
		v.touched[receiver] = &record{id: receiver, createdAt: s.now(), keys: map[string]AccessKey{}}
	case sink.Transfer:
		return move(v, origin, receiver, o.Amount)
	case sink.FunctionCall:
		dst, ok := v.get(receiver)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, receiver)
		}
		if len(dst.code) == 0 {
			return fmt.Errorf("%w: %s", ErrNoCode, receiver)
		}
		if err := move(v, origin, receiver, o.Deposit); err != nil {
			return err
		}
		v.calls = append(v.calls, Call{
			Caller: origin, Receiver: receiver, MethodName: o.MethodName,
			Args: bytes.Clone(o.Args), Deposit: amountOrZero(o.Deposit), Gas: o.Gas,
		})
	case sink.DeployContract:
		r, ok := v.get(receiver)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, receiver)
		}
		r.code = bytes.Clone(o.Code)
	case sink.Stake:
		r, ok := v.get(receiver)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, receiver)
		}
		target := amountOrZero(o.Amount)
		if target.Gt(&r.locked) {
			delta := new(uint256.Int).Sub(target, &r.locked)
			if r.balance.Lt(delta) {
				return ErrInsufficientFunds
			}
			r.balance.Sub(&r.balance, delta)
		} else {
			r.balance.Add(&r.balance, new(uint256.Int).Sub(&r.locked, target))
		}
		r.locked.Set(target)
		r.validator = o.PublicKey
	case sink.AddFullAccessKey:
		return addKey(v, receiver, AccessKey{PublicKey: o.PublicKey, FullAccess: true})
	case sink.AddFunctionCallKey:
		return addKey(v, receiver, AccessKey{
			PublicKey:   o.PublicKey,
			Allowance:   o.Allowance,
			ReceiverID:  o.ReceiverID,
			MethodNames: append([]string(nil), o.MethodNames...),
		})
	case sink.DeleteKey:
		r, ok := v.get(receiver)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, receiver)
		}
		k := string(o.PublicKey.Bytes())
		if _, ok := r.keys[k]; !ok {
			return ErrKeyNotFound
		}
		delete(r.keys, k)
	case sink.DeleteAccount:
		r, ok := v.get(receiver)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, receiver)
		}
		if !r.locked.IsZero() {
			return ErrStillStaked
		}
		// The balance is burned when the beneficiary does not exist.
		if b, ok := v.get(o.BeneficiaryID); ok && o.BeneficiaryID != receiver {
			b.balance.Add(&b.balance, &r.balance)
		}
		v.deleted[receiver] = true
	default:
		return fmt.Errorf("unsupported op %T", op)
	}
	return nil
}

func move(v *view, from, to account.ID, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	src, ok := v.get(from)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, from)
	}
	dst, ok := v.get(to)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, to)
	}
	if src.balance.Lt(amount) {
		return ErrInsufficientFunds
	}
	src.balance.Sub(&src.balance, amount)
	dst.balance.Add(&dst.balance, amount)
	return nil
}

func addKey(v *view, receiver account.ID, key AccessKey) error {
	r, ok := v.get(receiver)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, receiver)
	}
	k := string(key.PublicKey.Bytes())
	if _, ok := r.keys[k]; ok {
		return ErrKeyExists
	}
	r.keys[k] = key
	return nil
}

func amountOrZero(n *uint256.Int) *uint256.Int {
	if n == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(n)
}

func (r *record) snapshot() Account {
	keys := make([]AccessKey, 0, len(r.keys))
	for _, k := range r.keys {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return bytes.Compare(keys[i].PublicKey.Bytes(), keys[j].PublicKey.Bytes()) < 0
	})
	return Account{
		ID:           r.id,
		CreatedAt:    r.createdAt,
		Balance:      new(uint256.Int).Set(&r.balance),
		Locked:       new(uint256.Int).Set(&r.locked),
		CodeSize:     len(r.code),
		Keys:         keys,
		ValidatorKey: r.validator,
	}
}
