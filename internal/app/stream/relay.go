package stream

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/dkeye/audiocast/internal/core"
	"github.com/dkeye/audiocast/internal/domain"
	"github.com/dkeye/audiocast/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Relay fans every published block out to all current subscribers.
//
// Publish runs on the capture thread and never takes r.mu: it walks an
// immutable snapshot of the subscriber index that Subscribe/Unsubscribe
// replace under the lock.
type Relay struct {
	depth   int
	policy  DropPolicy
	metrics *metrics.Metrics

	mu     sync.Mutex
	subs   map[SubscriberID]*Subscriber
	nextID SubscriberID

	snapshot  atomic.Pointer[[]*Subscriber]
	published atomic.Uint64
}

func NewRelay(depth int, policy DropPolicy, m *metrics.Metrics) *Relay {
	r := &Relay{
		depth:   depth,
		policy:  policy,
		metrics: m,
		subs:    make(map[SubscriberID]*Subscriber),
	}
	r.snapshot.Store(&[]*Subscriber{})
	return r
}

// Subscribe adds a queue that receives blocks published from now on.
func (r *Relay) Subscribe() *Subscriber {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	sub := newSubscriber(r.nextID, r.depth, r.policy)
	r.subs[sub.id] = sub
	r.storeSnapshotLocked()
	log.Debug().Str("module", "stream.relay").Uint64("subscriber", uint64(sub.id)).Int("subscribers", len(r.subs)).Msg("subscribed")
	return sub
}

// Unsubscribe removes id from the index and ends its stream.
// It reports whether id was still subscribed.
func (r *Relay) Unsubscribe(id SubscriberID) bool {
	r.mu.Lock()
	sub, ok := r.subs[id]
	if ok {
		delete(r.subs, id)
		r.storeSnapshotLocked()
	}
	left := len(r.subs)
	r.mu.Unlock()
	if !ok {
		return false
	}
	sub.close(core.ErrStreamEnded)
	log.Debug().Str("module", "stream.relay").Uint64("subscriber", uint64(id)).Int("subscribers", left).Uint64("dropped", sub.Dropped()).Msg("unsubscribed")
	return true
}

// Publish delivers b to every subscriber without blocking.
func (r *Relay) Publish(b domain.AudioBlock) {
	r.published.Add(1)
	for _, sub := range *r.snapshot.Load() {
		if sub.offer(b) {
			r.metrics.BlocksDropped.Inc()
		}
	}
}

// CloseAll removes every subscriber, ending each stream with cause.
func (r *Relay) CloseAll(cause error) int {
	r.mu.Lock()
	subs := make([]*Subscriber, 0, len(r.subs))
	for id, sub := range r.subs {
		subs = append(subs, sub)
		delete(r.subs, id)
	}
	r.storeSnapshotLocked()
	r.mu.Unlock()

	err := fmt.Errorf("%w: %w", core.ErrStreamEnded, cause)
	for _, sub := range subs {
		sub.close(err)
	}
	if len(subs) > 0 {
		log.Warn().Str("module", "stream.relay").Err(cause).Int("subscribers", len(subs)).Msg("closed all subscribers")
	}
	return len(subs)
}

// Len is the number of current subscribers.
func (r *Relay) Len() int {
	return len(*r.snapshot.Load())
}

// Published is the number of blocks offered to the relay so far.
func (r *Relay) Published() uint64 { return r.published.Load() }

func (r *Relay) storeSnapshotLocked() {
	snap := make([]*Subscriber, 0, len(r.subs))
	for _, sub := range r.subs {
		snap = append(snap, sub)
	}
	slices.SortFunc(snap, func(a, b *Subscriber) int {
		switch {
		case a.id < b.id:
			return -1
		case a.id > b.id:
			return 1
		}
		return 0
	})
	r.snapshot.Store(&snap)
	r.metrics.RelaySubscribed.Set(float64(len(snap)))
}
