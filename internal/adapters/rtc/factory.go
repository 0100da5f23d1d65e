// Package rtc implements media connections on top of pion/webrtc.
package rtc

import (
	"time"

	"github.com/dkeye/audiocast/internal/core"
	"github.com/dkeye/audiocast/internal/metrics"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type Config struct {
	ICEServers          []string
	GatherTimeout       time.Duration
	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration
	KeepAliveInterval   time.Duration
	// IncludeLoopback offers 127.0.0.1 candidates, for same-host clients.
	IncludeLoopback bool
}

func DefaultConfig() Config {
	return Config{
		ICEServers:          []string{"stun:stun.l.google.com:19302"},
		GatherTimeout:       10 * time.Second,
		DisconnectedTimeout: 5 * time.Second,
		FailedTimeout:       25 * time.Second,
		KeepAliveInterval:   2 * time.Second,
	}
}

func (c Config) peerConfig() webrtc.Configuration {
	var cfg webrtc.Configuration
	if len(c.ICEServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: c.ICEServers}}
	}
	return cfg
}

// Factory builds one peer connection per session from a shared API.
type Factory struct {
	api     *webrtc.API
	cfg     Config
	metrics *metrics.Metrics
}

func NewFactory(cfg Config, m *metrics.Metrics) (*Factory, error) {
	if cfg.GatherTimeout <= 0 {
		cfg.GatherTimeout = DefaultConfig().GatherTimeout
	}
	me := &webrtc.MediaEngine{}
	if err := me.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(me, ir); err != nil {
		return nil, err
	}
	se := webrtc.SettingEngine{}
	if cfg.DisconnectedTimeout > 0 && cfg.FailedTimeout > 0 && cfg.KeepAliveInterval > 0 {
		se.SetICETimeouts(cfg.DisconnectedTimeout, cfg.FailedTimeout, cfg.KeepAliveInterval)
	}
	se.SetIncludeLoopbackCandidate(cfg.IncludeLoopback)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(me),
		webrtc.WithInterceptorRegistry(ir),
		webrtc.WithSettingEngine(se),
	)
	return &Factory{api: api, cfg: cfg, metrics: m}, nil
}

func (f *Factory) NewConnection(sid core.SessionID) (core.MediaConnection, error) {
	c, err := newWebRTCConnection(f.api, f.cfg, sid, f.metrics)
	if err != nil {
		return nil, err
	}
	log.Info().Str("module", "webrtc").Str("sid", string(sid)).Msg("peer connection created")
	return c, nil
}
