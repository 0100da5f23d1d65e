package stream

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dkeye/audiocast/internal/domain"
)

// DropPolicy decides which block is lost when a subscriber queue is full.
type DropPolicy int32

const (
	// DropOldest evicts the oldest queued block so the newest always gets in.
	DropOldest DropPolicy = iota
	// DropNewest discards the incoming block and keeps the queue as is.
	DropNewest
)

func (p DropPolicy) String() string {
	switch p {
	case DropOldest:
		return "newest-wins"
	case DropNewest:
		return "oldest-wins"
	}
	return "unknown"
}

// ParseDropPolicy accepts the config spelling of a policy.
func ParseDropPolicy(s string) (DropPolicy, error) {
	switch s {
	case "newest-wins", "drop-oldest", "":
		return DropOldest, nil
	case "oldest-wins", "drop-newest":
		return DropNewest, nil
	}
	return 0, fmt.Errorf("unknown drop policy %q", s)
}

type SubscriberID uint64

// Subscriber is one bounded queue of blocks. It is owned by a Track; the
// relay only keeps it in its index for delivery.
type Subscriber struct {
	id     SubscriberID
	queue  chan domain.AudioBlock
	policy DropPolicy

	dropped   atomic.Uint64
	delivered atomic.Uint64

	done      chan struct{}
	closeOnce sync.Once
	err       error // written once before done is closed
}

func newSubscriber(id SubscriberID, depth int, policy DropPolicy) *Subscriber {
	if depth < 1 {
		depth = 1
	}
	return &Subscriber{
		id:     id,
		queue:  make(chan domain.AudioBlock, depth),
		policy: policy,
		done:   make(chan struct{}),
	}
}

func (s *Subscriber) ID() SubscriberID { return s.id }

// Dropped is the number of blocks lost to overflow.
func (s *Subscriber) Dropped() uint64 { return s.dropped.Load() }

// Delivered is the number of blocks that entered the queue.
func (s *Subscriber) Delivered() uint64 { return s.delivered.Load() }

// Len is the current queue occupancy.
func (s *Subscriber) Len() int { return len(s.queue) }

func (s *Subscriber) Cap() int { return cap(s.queue) }

// Done is closed when the subscriber is removed or the source fails.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

// Err is the reason Done was closed.
func (s *Subscriber) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// offer enqueues b without blocking and reports whether a block was dropped.
// Only the relay's publisher calls it, so after evicting one block the second
// send cannot find the queue full.
func (s *Subscriber) offer(b domain.AudioBlock) (dropped bool) {
	select {
	case <-s.done:
		return false
	default:
	}
	for attempt := 0; attempt < 2; attempt++ {
		select {
		case s.queue <- b:
			s.delivered.Add(1)
			return dropped
		default:
		}
		if s.policy == DropNewest {
			s.dropped.Add(1)
			return true
		}
		select {
		case <-s.queue:
			s.dropped.Add(1)
			dropped = true
		default:
		}
	}
	// another publisher refilled the queue; count the incoming block as lost
	s.dropped.Add(1)
	return true
}

func (s *Subscriber) close(err error) {
	s.closeOnce.Do(func() {
		s.err = err
		close(s.done)
	})
}
