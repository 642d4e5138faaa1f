package realtime

import (
	"context"
	"sync"
	"sync/atomic"

	v1 "slate/shared/contracts/scene/v1"
)

// Broadcaster fans session events out to every subscribed connection.
//
// Concurrency guarantees:
// - Subscribe/Close are safe under concurrent Publish.
// - Publish never blocks: a subscriber whose buffer is full accrues a missed
//   count instead, surfaced as an explicit lag signal on its next receive.
// - Within one session, publishes happen under the registry lock, so every
//   subscriber observes events in the order they were applied.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[uint64]*Subscription
	next uint64
}

// NewBroadcaster constructs an empty fanout.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[uint64]*Subscription)}
}

// Subscription is one consumer's bounded view of a session's event stream.
type Subscription struct {
	ch     chan v1.ServerMessage
	missed atomic.Uint64

	owner *Broadcaster
	id    uint64

	closeOnce sync.Once
	done      chan struct{}
}

// Subscribe registers a new consumer with a bounded buffer.
func (b *Broadcaster) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = broadcastBufSize
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.next++
	s := &Subscription{
		ch:    make(chan v1.ServerMessage, buffer),
		owner: b,
		id:    b.next,
		done:  make(chan struct{}),
	}
	b.subs[s.id] = s
	return s
}

// Publish delivers msg to every subscriber without blocking.
// A full subscriber buffer counts as a miss for that subscriber.
func (b *Broadcaster) Publish(msg v1.ServerMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, s := range b.subs {
		select {
		case s.ch <- msg:
		default:
			s.missed.Add(1)
			metricBroadcastLagged.Inc()
		}
	}
}

// Subscribers reports the current consumer count.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Next blocks for the next event. The returned missed count is the number of
// events this subscriber lost since its previous receive; callers must
// log-and-continue on lag, never terminate.
func (s *Subscription) Next(ctx context.Context) (v1.ServerMessage, uint64, error) {
	select {
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	case <-s.done:
		return nil, 0, context.Canceled
	case msg := <-s.ch:
		return msg, s.missed.Swap(0), nil
	}
}

// Close detaches the subscription from its broadcaster (idempotent).
func (s *Subscription) Close() {
	if s == nil {
		return
	}
	s.closeOnce.Do(func() {
		close(s.done)
		s.owner.mu.Lock()
		delete(s.owner.subs, s.id)
		s.owner.mu.Unlock()
	})
}
