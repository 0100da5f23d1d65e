package stream

import (
	"context"
	"sync"

	"github.com/dkeye/audiocast/internal/domain"
)

// Track is one session's view of the source. NextFrame must be called from a
// single goroutine.
type Track struct {
	src    *Source
	sub    *Subscriber
	format domain.Format

	pts       uint64
	closeOnce sync.Once
}

func newTrack(src *Source, sub *Subscriber) *Track {
	return &Track{src: src, sub: sub, format: src.cfg.Format}
}

// NextFrame waits for the next block and stamps it with the number of samples
// per channel handed out before it. Drops leave no gap in the timestamps.
// Once the track has ended the pending queue is discarded.
func (t *Track) NextFrame(ctx context.Context) (domain.Frame, error) {
	select {
	case <-t.sub.done:
		return domain.Frame{}, t.sub.Err()
	default:
	}
	select {
	case b := <-t.sub.queue:
		f := domain.Frame{
			Block:     b,
			PTS:       t.pts,
			ClockRate: t.format.SampleRate,
			Channels:  t.format.Channels,
		}
		t.pts += uint64(len(b.Samples) / t.format.Channels)
		return f, nil
	case <-t.sub.done:
		return domain.Frame{}, t.sub.Err()
	case <-ctx.Done():
		return domain.Frame{}, ctx.Err()
	}
}

func (t *Track) Done() <-chan struct{} { return t.sub.Done() }

func (t *Track) Err() error { return t.sub.Err() }

// Dropped is the number of blocks this track lost to a full queue.
func (t *Track) Dropped() uint64 { return t.sub.Dropped() }

// Close unsubscribes from the relay. Only the first call has an effect.
func (t *Track) Close() {
	t.closeOnce.Do(func() {
		t.src.unsubscribe(t.sub.id)
	})
}
