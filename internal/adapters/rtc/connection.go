package rtc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/dkeye/audiocast/internal/core"
	"github.com/dkeye/audiocast/internal/domain"
	"github.com/dkeye/audiocast/internal/metrics"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const rtpMTU = 1200

// WebRTCConnection sends one audio track to one browser.
type WebRTCConnection struct {
	pc      *webrtc.PeerConnection
	sid     core.SessionID
	audio   *webrtc.TrackLocalStaticRTP
	sender  *webrtc.RTPSender
	metrics *metrics.Metrics

	gatherTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	onState  func(core.MediaState)
	attached bool

	closeOnce sync.Once
}

func newWebRTCConnection(api *webrtc.API, cfg Config, sid core.SessionID, m *metrics.Metrics) (*WebRTCConnection, error) {
	pc, err := api.NewPeerConnection(cfg.peerConfig())
	if err != nil {
		return nil, err
	}
	audio, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: pcmuRate, Channels: 1},
		"audio", "audiocast",
	)
	if err != nil {
		_ = pc.Close()
		return nil, err
	}
	sender, err := pc.AddTrack(audio)
	if err != nil {
		_ = pc.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &WebRTCConnection{
		pc:            pc,
		sid:           sid,
		audio:         audio,
		sender:        sender,
		metrics:       m,
		gatherTimeout: cfg.GatherTimeout,
		ctx:           ctx,
		cancel:        cancel,
	}

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Debug().Str("module", "webrtc").Str("sid", string(sid)).Str("ice_state", s.String()).Msg("ICE state")
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "webrtc").Str("sid", string(sid)).Str("peer_connection_state", s.String()).Msg("Peer state")
		if st, ok := mediaState(s); ok {
			c.emit(st)
		}
	})

	c.wg.Add(1)
	go c.readRTCP()
	return c, nil
}

// mediaState maps the peer connection state. Disconnected is not reported:
// it either recovers or turns into failed after the ICE timeout.
func mediaState(s webrtc.PeerConnectionState) (core.MediaState, bool) {
	switch s {
	case webrtc.PeerConnectionStateNew, webrtc.PeerConnectionStateConnecting:
		return core.MediaConnecting, true
	case webrtc.PeerConnectionStateConnected:
		return core.MediaConnected, true
	case webrtc.PeerConnectionStateFailed:
		return core.MediaFailed, true
	case webrtc.PeerConnectionStateClosed:
		return core.MediaClosed, true
	}
	return 0, false
}

func (c *WebRTCConnection) emit(st core.MediaState) {
	c.mu.Lock()
	fn := c.onState
	c.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}

func (c *WebRTCConnection) OnStateChange(fn func(core.MediaState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = fn
}

// AttachTrack starts the pump that encodes frames from t and writes them to
// the outgoing RTP track. Frames are consumed before the peer connects so the
// queue never goes stale.
func (c *WebRTCConnection) AttachTrack(t core.AudioTrack) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attached {
		return errors.New("track already attached")
	}
	c.attached = true
	c.wg.Add(1)
	go c.pump(t)
	return nil
}

func (c *WebRTCConnection) pump(t core.AudioTrack) {
	defer c.wg.Done()

	var (
		enc        *pcmuEncoder
		packetizer rtp.Packetizer
	)
	for {
		f, err := t.NextFrame(c.ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Info().Str("module", "webrtc").Str("sid", string(c.sid)).Err(err).Msg("audio track ended")
			}
			return
		}
		if enc == nil {
			if enc, err = newPCMUEncoder(f.ClockRate, f.Channels); err != nil {
				log.Error().Str("module", "webrtc").Str("sid", string(c.sid)).Err(err).Msg("audio format")
				return
			}
			packetizer = rtp.NewPacketizer(rtpMTU, 0, rand.Uint32(), &codecs.G711Payloader{},
				rtp.NewRandomSequencer(), pcmuRate)
		}
		if err := c.writeFrame(enc, packetizer, f); err != nil {
			if errors.Is(err, io.ErrClosedPipe) {
				return
			}
			log.Warn().Str("module", "webrtc").Str("sid", string(c.sid)).Err(err).Msg("write rtp")
		}
	}
}

func (c *WebRTCConnection) writeFrame(enc *pcmuEncoder, p rtp.Packetizer, f domain.Frame) error {
	frames := len(f.Block.Samples) / f.Channels
	payload := enc.encode(f.Block.Samples)
	for _, pkt := range p.Packetize(payload, enc.samplesPerPayload(frames)) {
		if err := c.audio.WriteRTP(pkt); err != nil {
			return err
		}
		c.metrics.RTPPackets.Inc()
	}
	return nil
}

// readRTCP drains the sender so interceptors keep running.
func (c *WebRTCConnection) readRTCP() {
	defer c.wg.Done()
	for {
		pkts, _, err := c.sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, pkt := range pkts {
			rr, ok := pkt.(*rtcp.ReceiverReport)
			if !ok {
				continue
			}
			for _, rep := range rr.Reports {
				log.Debug().Str("module", "webrtc").Str("sid", string(c.sid)).
					Uint8("fraction_lost", rep.FractionLost).
					Uint32("total_lost", rep.TotalLost).
					Uint32("jitter", rep.Jitter).
					Msg("receiver report")
			}
		}
	}
}

func (c *WebRTCConnection) ApplyOffer(sdp string) error {
	return c.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp})
}

// CreateAnswer sets the local description and waits for candidate gathering
// so the answer carries every candidate. After the gather timeout the answer
// goes out with whatever was found.
func (c *WebRTCConnection) CreateAnswer(ctx context.Context) (string, error) {
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return "", err
	}

	gatherComplete := webrtc.GatheringCompletePromise(c.pc)
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return "", err
	}
	timer := time.NewTimer(c.gatherTimeout)
	defer timer.Stop()
	select {
	case <-gatherComplete:
	case <-timer.C:
		log.Warn().Str("module", "webrtc").Str("sid", string(c.sid)).Dur("timeout", c.gatherTimeout).Msg("ICE gathering incomplete")
	case <-ctx.Done():
		return "", ctx.Err()
	}

	local := c.pc.LocalDescription()
	if local == nil {
		return "", errors.New("no local description")
	}
	return local.SDP, nil
}

func (c *WebRTCConnection) AddICECandidate(cand domain.Candidate) error {
	return c.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:        cand.Candidate,
		SDPMid:           cand.SDPMid,
		SDPMLineIndex:    cand.SDPMLineIndex,
		UsernameFragment: cand.UsernameFragment,
	})
}

// Close stops the pump and closes the peer connection. Idempotent.
func (c *WebRTCConnection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if err = c.pc.Close(); err != nil {
			log.Error().Err(err).Str("module", "webrtc").Str("sid", string(c.sid)).Msg("close error")
		} else {
			log.Info().Str("module", "webrtc").Str("sid", string(c.sid)).Msg("closed")
		}
		c.wg.Wait()
	})
	if err != nil {
		return fmt.Errorf("close peer connection: %w", err)
	}
	return nil
}
