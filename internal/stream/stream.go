// Package stream fans submitted batches out to live subscribers.
package stream

import (
	"context"
	"sync"
	"time"

	"passkeygate.org/internal/account"
	"passkeygate.org/internal/sink"
)

// BatchEvent summarises a batch accepted by the downstream sink.
type BatchEvent struct {
	BatchID   string       `json:"batch_id"`
	Origin    account.ID   `json:"origin"`
	Receivers []account.ID `json:"receivers"`
	Ops       []string     `json:"ops"`
	Timestamp time.Time    `json:"timestamp"`
}

// Hub fan-outs batch events to all active subscribers (SSE clients).
type Hub struct {
	mu   sync.RWMutex
	subs map[int]chan BatchEvent
	next int
	now  func() time.Time
}

func New() *Hub {
	return &Hub{
		subs: make(map[int]chan BatchEvent),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Subscribe registers a subscriber and returns a channel which will receive events.
// The channel is closed when the provided context ends.
func (h *Hub) Subscribe(ctx context.Context) <-chan BatchEvent {
	ch := make(chan BatchEvent, 16)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = ch
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, id)
		close(ch)
		h.mu.Unlock()
	}()

	return ch
}

// Subscribers reports how many clients are attached.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Publish fan-outs the event to all subscribers.
func (h *Hub) Publish(evt BatchEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- evt:
		default:
			// slow subscriber, drop
		}
	}
}

// Event builds the summary for b.
func (h *Hub) Event(b sink.Batch) BatchEvent {
	evt := BatchEvent{BatchID: b.ID, Origin: b.Origin, Timestamp: h.now()}
	for _, p := range b.Promises {
		evt.Receivers = append(evt.Receivers, p.Receiver)
		for _, op := range p.Ops {
			evt.Ops = append(evt.Ops, op.Type())
		}
	}
	return evt
}

type tee struct {
	next sink.Sink
	hub  *Hub
}

// Tee returns a sink that submits to next and, once next accepts the batch,
// publishes it on hub.
func Tee(next sink.Sink, hub *Hub) sink.Sink {
	return &tee{next: next, hub: hub}
}

func (t *tee) Submit(ctx context.Context, b sink.Batch) error {
	if err := t.next.Submit(ctx, b); err != nil {
		return err
	}
	t.hub.Publish(t.hub.Event(b))
	return nil
}
