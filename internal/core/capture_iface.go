package core

import "github.com/dkeye/audiocast/internal/domain"

// CaptureStatus carries device xrun flags reported alongside a block.
type CaptureStatus uint8

const (
	StatusOverrun CaptureStatus = 1 << iota
	StatusUnderrun
)

// BlockFunc receives exactly Format.BlockLen() interleaved samples.
// It runs on the device's real-time thread: it must not block and must copy
// samples before returning, the slice is reused.
type BlockFunc func(samples []int16, status CaptureStatus)

// CaptureDevice opens audio streams on the host device.
type CaptureDevice interface {
	// Open prepares a stream; nothing is delivered until Start.
	// onError reports a persistent device failure and may be called from the
	// device thread.
	Open(f domain.Format, onBlock BlockFunc, onError func(error)) (CaptureStream, error)
}

// CaptureStream is one open device stream. Close is idempotent and releases
// the device handle.
type CaptureStream interface {
	Start() error
	Close() error
}
