package sink

import (
	"context"
	"sync"

	"passkeygate.org/internal/account"
)

// Promise is an ordered group of operations applied to one receiver.
type Promise struct {
	Receiver account.ID
	Ops      []Op
}

// Batch is the set of promises produced by one successful gateway call.
// Origin is the gateway account that issued them.
type Batch struct {
	ID       string
	Origin   account.ID
	Promises []Promise
}

// Sink receives committed batches. Implementations apply them later and
// outside the call that produced them.
type Sink interface {
	Submit(ctx context.Context, b Batch) error
}

// Scheduler collects promises during a call.
type Scheduler interface {
	Schedule(p Promise) int
}

// Pending buffers promises until the producing call succeeds.
type Pending struct {
	promises []Promise
}

var _ Scheduler = (*Pending)(nil)

// Schedule appends p and returns its index in the batch.
func (p *Pending) Schedule(pr Promise) int {
	p.promises = append(p.promises, pr)
	return len(p.promises) - 1
}

func (p *Pending) Len() int { return len(p.promises) }

func (p *Pending) Promises() []Promise {
	out := make([]Promise, len(p.promises))
	copy(out, p.promises)
	return out
}

// Batch seals the buffered promises into a batch.
func (p *Pending) Batch(id string, origin account.ID) Batch {
	return Batch{ID: id, Origin: origin, Promises: p.Promises()}
}

// Reset drops everything scheduled so far.
func (p *Pending) Reset() { p.promises = nil }

// Recorder is a Sink that keeps every submitted batch in memory.
type Recorder struct {
	mu      sync.Mutex
	batches []Batch
}

var _ Sink = (*Recorder)(nil)

func (r *Recorder) Submit(ctx context.Context, b Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, b)
	return nil
}

func (r *Recorder) Batches() []Batch {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Batch, len(r.batches))
	copy(out, r.batches)
	return out
}

// Promises flattens all recorded batches in submission order.
func (r *Recorder) Promises() []Promise {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Promise
	for _, b := range r.batches {
		out = append(out, b.Promises...)
	}
	return out
}

// Fanout submits to every sink in order and stops at the first error.
type Fanout []Sink

func (f Fanout) Submit(ctx context.Context, b Batch) error {
	for _, s := range f {
		if err := s.Submit(ctx, b); err != nil {
			return err
		}
	}
	return nil
}
