// Package stream moves captured audio blocks from the device thread to the
// per-session tracks.
package stream

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dkeye/audiocast/internal/core"
	"github.com/dkeye/audiocast/internal/domain"
	"github.com/dkeye/audiocast/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

type SourceConfig struct {
	Format     domain.Format
	QueueDepth int
	DropPolicy DropPolicy
	// KeepAlive leaves the device open after the last track unsubscribes.
	KeepAlive bool
}

// Source owns the capture device. It is opened by the first Subscribe and,
// unless KeepAlive is set, closed again when the last track goes away.
type Source struct {
	device  core.CaptureDevice
	cfg     SourceConfig
	relay   *Relay
	metrics *metrics.Metrics

	overrun  prometheus.Counter
	underrun prometheus.Counter

	mu     sync.Mutex
	stream core.CaptureStream
	gen    uint64

	next atomic.Uint64
}

func NewSource(device core.CaptureDevice, cfg SourceConfig, m *metrics.Metrics) *Source {
	if cfg.Format.BlockSamples == 0 {
		cfg.Format = domain.DefaultFormat
	}
	return &Source{
		device:   device,
		cfg:      cfg,
		relay:    NewRelay(cfg.QueueDepth, cfg.DropPolicy, m),
		metrics:  m,
		overrun:  m.CaptureStatus.WithLabelValues("overrun"),
		underrun: m.CaptureStatus.WithLabelValues("underrun"),
	}
}

// Subscribe returns a track that starts with the next captured block.
// A device that cannot be opened yields an error wrapping core.ErrDeviceFailure;
// the next call tries again.
func (s *Source) Subscribe() (core.AudioTrack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		if err := s.startLocked(); err != nil {
			return nil, err
		}
	}
	sub := s.relay.Subscribe()
	return newTrack(s, sub), nil
}

// Running reports whether the device is open.
func (s *Source) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream != nil
}

// Subscribers is the number of live tracks.
func (s *Source) Subscribers() int { return s.relay.Len() }

// Stop ends every track and releases the device. Safe to call repeatedly.
func (s *Source) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.relay.CloseAll(core.ErrClosed)
	s.stopLocked()
}

func (s *Source) unsubscribe(id SubscriberID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.relay.Unsubscribe(id) {
		return
	}
	if s.relay.Len() == 0 && !s.cfg.KeepAlive {
		s.stopLocked()
	}
}

func (s *Source) startLocked() error {
	s.gen++
	gen := s.gen
	stream, err := s.device.Open(s.cfg.Format, s.onBlock, func(err error) {
		// device thread: never wait on s.mu here
		go s.fail(gen, err)
	})
	if err != nil {
		s.metrics.DeviceFailures.Inc()
		log.Error().Str("module", "stream.source").Err(err).Msg("open capture device")
		return fmt.Errorf("%w: %w", core.ErrDeviceFailure, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		s.metrics.DeviceFailures.Inc()
		log.Error().Str("module", "stream.source").Err(err).Msg("start capture device")
		return fmt.Errorf("%w: %w", core.ErrDeviceFailure, err)
	}
	s.stream = stream
	s.metrics.SourceRunning.Set(1)
	log.Info().Str("module", "stream.source").
		Int("rate", s.cfg.Format.SampleRate).
		Int("channels", s.cfg.Format.Channels).
		Int("block", s.cfg.Format.BlockSamples).
		Msg("capture started")
	return nil
}

func (s *Source) stopLocked() {
	if s.stream == nil {
		return
	}
	if err := s.stream.Close(); err != nil {
		log.Warn().Str("module", "stream.source").Err(err).Msg("close capture device")
	}
	s.stream = nil
	s.metrics.SourceRunning.Set(0)
	log.Info().Str("module", "stream.source").Uint64("blocks", s.relay.Published()).Msg("capture stopped")
}

// fail tears down the stream of generation gen; errors from an older stream
// that was already replaced are ignored.
func (s *Source) fail(gen uint64, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.stream == nil {
		return
	}
	s.metrics.DeviceFailures.Inc()
	log.Error().Str("module", "stream.source").Err(cause).Msg("capture device failed")
	s.stopLocked()
	s.relay.CloseAll(fmt.Errorf("%w: %w", core.ErrDeviceFailure, cause))
}

// onBlock runs on the device thread. It copies the block and hands it to
// the relay; nothing here waits.
func (s *Source) onBlock(samples []int16, status core.CaptureStatus) {
	if status&core.StatusOverrun != 0 {
		s.overrun.Inc()
	}
	if status&core.StatusUnderrun != 0 {
		s.underrun.Inc()
	}
	b := domain.AudioBlock{
		Index:   s.next.Add(1) - 1,
		Samples: append([]int16(nil), samples...),
	}
	s.metrics.BlocksCaptured.Inc()
	s.relay.Publish(b)
}
