package capture

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dkeye/audiocast/internal/core"
	"github.com/dkeye/audiocast/internal/domain"
	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog/log"
)

// Mode selects what is captured.
type Mode string

const (
	// ModeLoopback records what the host is playing. Only WASAPI supports it;
	// elsewhere pick a monitor source with ModeCapture and a device name.
	ModeLoopback Mode = "loopback"
	ModeCapture  Mode = "capture"
)

var errDeviceStopped = errors.New("device stopped unexpectedly")

type Config struct {
	Mode Mode
	// DeviceName selects the first capture device whose name contains it.
	// Empty means the system default.
	DeviceName string
}

// Device opens capture streams with miniaudio.
type Device struct {
	cfg Config
}

func NewDevice(cfg Config) *Device {
	if cfg.Mode == "" {
		cfg.Mode = ModeLoopback
	}
	return &Device{cfg: cfg}
}

func (d *Device) Open(f domain.Format, onBlock core.BlockFunc, onError func(error)) (core.CaptureStream, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		log.Debug().Str("module", "capture").Msg(strings.TrimSpace(msg))
	})
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}

	s := &stream{ctx: mctx, blocks: newBlocker(f.BlockLen(), onBlock), onError: onError}

	devType := malgo.Capture
	if d.cfg.Mode == ModeLoopback {
		devType = malgo.Loopback
	}
	dc := malgo.DefaultDeviceConfig(devType)
	dc.Capture.Format = malgo.FormatS16
	dc.Capture.Channels = uint32(f.Channels)
	dc.SampleRate = uint32(f.SampleRate)
	dc.PeriodSizeInFrames = uint32(f.BlockSamples)
	dc.Alsa.NoMMap = 1

	if d.cfg.DeviceName != "" {
		info, err := findDevice(mctx, d.cfg.DeviceName)
		if err != nil {
			s.free()
			return nil, err
		}
		dc.Capture.DeviceID = info.ID.Pointer()
		log.Info().Str("module", "capture").Str("device", info.Name()).Msg("selected capture device")
	}

	dev, err := malgo.InitDevice(mctx.Context, dc, malgo.DeviceCallbacks{
		Data: s.onData,
		Stop: s.onStop,
	})
	if err != nil {
		s.free()
		return nil, fmt.Errorf("init %s device: %w", d.cfg.Mode, err)
	}
	s.dev = dev
	log.Info().Str("module", "capture").Str("mode", string(d.cfg.Mode)).Int("rate", f.SampleRate).Int("channels", f.Channels).Dur("block", f.BlockDuration()).Msg("capture device opened")
	return s, nil
}

type stream struct {
	ctx     *malgo.AllocatedContext
	dev     *malgo.Device
	blocks  *blocker
	onError func(error)

	closing   atomic.Bool
	closeOnce sync.Once
}

func (s *stream) Start() error {
	return s.dev.Start()
}

func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		if s.dev != nil {
			s.dev.Uninit()
		}
		s.free()
	})
	return nil
}

func (s *stream) free() {
	if err := s.ctx.Uninit(); err != nil {
		log.Warn().Str("module", "capture").Err(err).Msg("uninit audio context")
	}
	s.ctx.Free()
}

// onData runs on the miniaudio thread.
func (s *stream) onData(_, in []byte, _ uint32) {
	if s.closing.Load() {
		return
	}
	s.blocks.write(in)
}

func (s *stream) onStop() {
	if s.closing.Load() {
		return
	}
	s.onError(errDeviceStopped)
}

func findDevice(mctx *malgo.AllocatedContext, name string) (malgo.DeviceInfo, error) {
	infos, err := mctx.Devices(malgo.Capture)
	if err != nil {
		return malgo.DeviceInfo{}, fmt.Errorf("list capture devices: %w", err)
	}
	want := strings.ToLower(name)
	for _, info := range infos {
		if strings.Contains(strings.ToLower(info.Name()), want) {
			return info, nil
		}
	}
	return malgo.DeviceInfo{}, fmt.Errorf("no capture device matching %q", name)
}

// DeviceInfo describes one capture endpoint for listing.
type DeviceInfo struct {
	Name      string
	ID        string
	IsDefault bool
}

// ListDevices enumerates capture endpoints, monitor sources included.
func ListDevices() ([]DeviceInfo, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}
	defer func() {
		_ = mctx.Uninit()
		mctx.Free()
	}()

	infos, err := mctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("list capture devices: %w", err)
	}
	out := make([]DeviceInfo, 0, len(infos))
	for _, info := range infos {
		out = append(out, DeviceInfo{
			Name:      info.Name(),
			ID:        info.ID.String(),
			IsDefault: info.IsDefault != 0,
		})
	}
	return out, nil
}
