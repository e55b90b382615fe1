package eventbus

import (
	"io"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
)

// DefaultSubscriptionCapacity is used when Subscribe is given a non-positive capacity.
const DefaultSubscriptionCapacity = 16

// Subscription is one observer's view of the bus.
type Subscription struct {
	id    uint64
	kinds map[Kind]struct{} // nil accepts every kind
	ch    *RingChannel[Event]
}

// C returns the channel events are delivered on. It is closed on Unsubscribe
// or when the bus closes.
func (s *Subscription) C() <-chan Event {
	return s.ch.C()
}

// Dropped returns how many events were overwritten before being read.
func (s *Subscription) Dropped() int64 {
	return s.ch.GetMetrics().Overwritten
}

func (s *Subscription) accepts(k Kind) bool {
	if s.kinds == nil {
		return true
	}
	_, ok := s.kinds[k]
	return ok
}

// Bus fans events out to subscriptions. Publish is safe from any goroutine
// and never blocks.
type Bus struct {
	subs   *hashmap.Map[uint64, *Subscription]
	nextID atomic.Uint64
	closed atomic.Bool
	logger *logrus.Logger
}

// New creates an empty bus.
func New(logger *logrus.Logger) *Bus {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &Bus{
		subs:   hashmap.New[uint64, *Subscription](),
		logger: logger,
	}
}

// Subscribe registers an observer holding at most capacity undelivered events.
// When kinds are given, only those kinds are delivered.
func (b *Bus) Subscribe(capacity int, kinds ...Kind) *Subscription {
	if capacity <= 0 {
		capacity = DefaultSubscriptionCapacity
	}
	sub := &Subscription{
		id: b.nextID.Add(1),
		ch: NewRingChannel[Event](capacity),
	}
	if len(kinds) > 0 {
		sub.kinds = make(map[Kind]struct{}, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = struct{}{}
		}
	}

	if b.closed.Load() {
		sub.ch.Close()
		return sub
	}
	b.subs.Set(sub.id, sub)

	b.logger.WithFields(logrus.Fields{
		"subscription": sub.id,
		"capacity":     capacity,
	}).Debug("Event subscription added")
	return sub
}

// Unsubscribe removes an observer and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.subs.Del(sub.id)
	sub.ch.Close()
}

// Publish delivers ev to every interested subscription.
func (b *Bus) Publish(ev Event) {
	if ev == nil || b.closed.Load() {
		return
	}
	kind := ev.Kind()
	b.subs.Range(func(_ uint64, sub *Subscription) bool {
		if sub.accepts(kind) {
			sub.ch.Send(ev)
		}
		return true
	})
}

// Len returns the number of active subscriptions.
func (b *Bus) Len() int {
	return b.subs.Len()
}

// Close closes every subscription. Later publishes are ignored.
func (b *Bus) Close() {
	if !b.closed.CompareAndSwap(false, true) {
		return
	}
	var ids []uint64
	b.subs.Range(func(id uint64, sub *Subscription) bool {
		sub.ch.Close()
		ids = append(ids, id)
		return true
	})
	for _, id := range ids {
		b.subs.Del(id)
	}
}
