package stream

import (
	"errors"
	"sync"

	"github.com/dkeye/audiocast/internal/core"
	"github.com/dkeye/audiocast/internal/domain"
)

// fakeDevice stands in for the host capture device; tests drive the block
// callback by hand.
type fakeDevice struct {
	mu      sync.Mutex
	openErr error
	opened  int
	streams []*fakeStream
}

type fakeStream struct {
	dev     *fakeDevice
	format  domain.Format
	onBlock core.BlockFunc
	onError func(error)

	mu      sync.Mutex
	started bool
	closed  int
}

func (d *fakeDevice) Open(f domain.Format, onBlock core.BlockFunc, onError func(error)) (core.CaptureStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.openErr != nil {
		return nil, d.openErr
	}
	d.opened++
	s := &fakeStream{dev: d, format: f, onBlock: onBlock, onError: onError}
	d.streams = append(d.streams, s)
	return s, nil
}

func (d *fakeDevice) last() *fakeStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.streams) == 0 {
		return nil
	}
	return d.streams[len(d.streams)-1]
}

func (d *fakeDevice) openCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opened
}

func (s *fakeStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed > 0 {
		return errors.New("stream closed")
	}
	s.started = true
	return nil
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *fakeStream) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// emit delivers one block whose samples are all set to v.
func (s *fakeStream) emit(v int16, status core.CaptureStatus) {
	buf := make([]int16, s.format.BlockLen())
	for i := range buf {
		buf[i] = v
	}
	s.onBlock(buf, status)
}

func block(i uint64) domain.AudioBlock {
	return domain.AudioBlock{Index: i, Samples: make([]int16, domain.DefaultFormat.BlockLen())}
}

func drain(s *Subscriber) []uint64 {
	var got []uint64
	for {
		select {
		case b := <-s.queue:
			got = append(got, b.Index)
		default:
			return got
		}
	}
}
