// Package dispatch turns validated action descriptors into promises on the
// operation sink.
package dispatch

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"

	"passkeygate.org/internal/action"
	"passkeygate.org/internal/obs"
	"passkeygate.org/internal/sink"
)

// Dispatcher builds exactly one promise per validated descriptor. It does
// not observe whether the sink later applies it.
type Dispatcher struct {
	sched sink.Scheduler
	log   func(msg string, fields map[string]any)
}

type Option func(*Dispatcher)

// WithLogger replaces the structured logger used for prepared promises.
func WithLogger(fn func(msg string, fields map[string]any)) Option {
	return func(d *Dispatcher) { d.log = fn }
}

func New(sched sink.Scheduler, opts ...Option) *Dispatcher {
	d := &Dispatcher{sched: sched, log: obs.Info}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch schedules the promise for v and returns its index in the batch.
func (d *Dispatcher) Dispatch(ctx context.Context, v action.Validated) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	p, err := Build(v)
	if err != nil {
		return 0, err
	}
	idx := d.sched.Schedule(p)
	if d.log != nil {
		d.log("promise_prepared", map[string]any{
			"index":    idx,
			"kind":     v.Descriptor.Kind().WireName(),
			"mode":     v.Mode.String(),
			"receiver": p.Receiver.String(),
			"ops":      len(p.Ops),
		})
	}
	return idx, nil
}

// Build maps a validated descriptor to its promise without scheduling it.
func Build(v action.Validated) (sink.Promise, error) {
	p := sink.Promise{Receiver: v.Target}
	switch a := v.Descriptor.(type) {
	case action.CreateAccount:
		p.Ops = append(p.Ops, sink.CreateAccount{})
		if a.InitialDeposit != nil && !a.InitialDeposit.IsZero() {
			p.Ops = append(p.Ops, sink.Transfer{Amount: clone(a.InitialDeposit)})
		}
		if !a.PublicKey.IsZero() {
			p.Ops = append(p.Ops, sink.AddFullAccessKey{PublicKey: a.PublicKey})
		}
	case action.DeployContract:
		p.Ops = append(p.Ops, sink.DeployContract{Code: a.Code})
	case action.FunctionCall:
		p.Ops = append(p.Ops, sink.FunctionCall{
			MethodName: a.MethodName,
			Args:       a.Args,
			Deposit:    clone(a.Deposit),
			Gas:        a.Gas,
		})
	case action.Transfer:
		p.Ops = append(p.Ops, sink.Transfer{Amount: clone(a.Amount)})
	case action.Stake:
		p.Ops = append(p.Ops, sink.Stake{Amount: clone(a.Amount), PublicKey: a.PublicKey})
	case action.AddKey:
		p.Ops = append(p.Ops, sink.AddFunctionCallKey{
			PublicKey:   a.PublicKey,
			Allowance:   action.AllowanceFor(a.Allowance),
			ReceiverID:  a.ReceiverID,
			MethodNames: a.MethodNames,
		})
	case action.DeleteKey:
		p.Ops = append(p.Ops, sink.DeleteKey{PublicKey: a.PublicKey})
	case action.DeleteAccount:
		p.Ops = append(p.Ops, sink.DeleteAccount{BeneficiaryID: a.BeneficiaryID})
	default:
		return sink.Promise{}, fmt.Errorf("dispatch: %w: %T", action.ErrUnknownKind, v.Descriptor)
	}
	return p, nil
}

// clone copies n, mapping nil to zero.
func clone(n *uint256.Int) *uint256.Int {
	if n == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(n)
}
