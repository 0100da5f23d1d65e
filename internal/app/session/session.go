package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/audiocast/internal/core"
	"github.com/dkeye/audiocast/internal/domain"
	"github.com/dkeye/audiocast/internal/metrics"
	"github.com/rs/zerolog/log"
)

type inbound struct {
	msg domain.SignalMessage
	err error
}

// Session is one client's negotiation and media relationship. All state
// changes happen on the goroutine running run; other goroutines only post
// to its inbox or media channel.
type Session struct {
	id      core.SessionID
	client  string
	created time.Time

	sig     core.SignalChannel
	media   core.MediaConnection
	source  core.AudioSource
	reg     Registry
	metrics *metrics.Metrics

	track core.AudioTrack
	state atomic.Int32
	cause error

	inbox   chan inbound
	mediaCh chan core.MediaState

	// negCtx bounds CreateAnswer. abort cancels it as soon as the session
	// is known to be ending, before the loop gets to the event.
	negCtx context.Context
	abort  context.CancelFunc

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	tearOnce sync.Once
}

func newSession(ctx context.Context, id core.SessionID, client string, sig core.SignalChannel, media core.MediaConnection, m *Manager) *Session {
	s := &Session{
		id:      id,
		client:  client,
		created: time.Now(),
		sig:     sig,
		media:   media,
		source:  m.Source,
		reg:     m.Registry,
		metrics: m.Metrics,
		inbox:   make(chan inbound),
		mediaCh: make(chan core.MediaState, 4),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	s.negCtx, s.abort = context.WithCancel(ctx)
	media.OnStateChange(func(st core.MediaState) {
		if st == core.MediaFailed || st == core.MediaClosed {
			s.abort()
		}
		select {
		case s.mediaCh <- st:
		case <-s.done:
		}
	})
	return s
}

func (s *Session) ID() core.SessionID { return s.id }

func (s *Session) State() core.SessionState { return core.SessionState(s.state.Load()) }

func (s *Session) Info() core.SessionInfo {
	return core.SessionInfo{
		ID:        s.id,
		Client:    s.client,
		State:     s.State().String(),
		CreatedAt: s.created,
	}
}

// Close ends the session from outside and waits for teardown.
func (s *Session) Close() {
	s.stopOnce.Do(func() {
		s.abort()
		close(s.stop)
	})
	<-s.done
}

// Done is closed after teardown.
func (s *Session) Done() <-chan struct{} { return s.done }

// Cause is the error that ended the session; nil after a client bye.
// Valid once Done is closed.
func (s *Session) Cause() error { return s.cause }

func (s *Session) run(ctx context.Context) error {
	defer s.teardown()
	defer s.abort()
	go s.readLoop()

	for !s.State().Terminal() {
		var trackDone <-chan struct{}
		if s.track != nil {
			trackDone = s.track.Done()
		}
		select {
		case in := <-s.inbox:
			if in.err != nil {
				s.onRecvError(in.err)
				continue
			}
			s.onMessage(in.msg)
		case st := <-s.mediaCh:
			s.onMediaState(st)
		case <-trackDone:
			err := s.track.Err()
			if errors.Is(err, core.ErrDeviceFailure) {
				s.finish(core.StateFailed, err)
			} else {
				s.finish(core.StateClosed, err)
			}
		case <-s.stop:
			s.finish(core.StateClosed, core.ErrClosed)
		case <-ctx.Done():
			s.finish(core.StateClosed, ctx.Err())
		}
	}
	return s.cause
}

// readLoop feeds the inbox until the channel fails or the session ends.
func (s *Session) readLoop() {
	for {
		msg, err := s.sig.Recv()
		if err != nil {
			s.abort()
		}
		select {
		case s.inbox <- inbound{msg: msg, err: err}:
		case <-s.done:
			return
		}
		if err != nil {
			return
		}
	}
}

func (s *Session) onRecvError(err error) {
	if errors.Is(err, core.ErrProtocolViolation) {
		s.metrics.SignalMessages.WithLabelValues("malformed").Inc()
		_, verr := transition(s.State(), evMalformed)
		s.finish(core.StateFailed, fmt.Errorf("%w: %w", verr, err))
		return
	}
	// a vanished client is an implicit bye
	s.apply(evBye, fmt.Errorf("%w: %w", core.ErrTransportDisconnect, err))
}

func (s *Session) onMessage(msg domain.SignalMessage) {
	if msg.Type.Known() {
		s.metrics.SignalMessages.WithLabelValues(string(msg.Type)).Inc()
	} else {
		s.metrics.SignalMessages.WithLabelValues("unknown").Inc()
	}

	switch msg.Type {
	case domain.MessageOffer:
		if !s.apply(evOffer, nil) {
			return
		}
		s.negotiate(msg.SDP)
	case domain.MessageCandidate:
		if !s.apply(evCandidate, nil) {
			return
		}
		if msg.Candidate == nil {
			s.finish(core.StateFailed, fmt.Errorf("%w: candidate without payload", core.ErrProtocolViolation))
			return
		}
		if err := s.media.AddICECandidate(*msg.Candidate); err != nil {
			log.Warn().Str("module", "session").Str("sid", string(s.id)).Err(err).Msg("add ice candidate")
		}
	case domain.MessageAnswer:
		s.apply(evRemoteAnswer, nil)
	case domain.MessageBye:
		s.apply(evBye, nil)
	default:
		log.Debug().Str("module", "session").Str("sid", string(s.id)).Str("type", string(msg.Type)).Msg("ignored unknown message")
	}
}

// negotiate answers the stored offer. Messages that arrive meanwhile stay in
// the inbox, so the answer goes out before any of them reach the media side.
func (s *Session) negotiate(sdp string) {
	track, err := s.source.Subscribe()
	if err != nil {
		s.finish(core.StateFailed, err)
		return
	}
	s.track = track
	if err := s.media.AttachTrack(track); err != nil {
		s.finish(core.StateFailed, fmt.Errorf("%w: attach track: %w", core.ErrNegotiationFailure, err))
		return
	}
	if err := s.media.ApplyOffer(sdp); err != nil {
		s.finish(core.StateFailed, fmt.Errorf("%w: apply offer: %w", core.ErrNegotiationFailure, err))
		return
	}
	answer, err := s.media.CreateAnswer(s.negCtx)
	if err != nil {
		if s.negCtx.Err() != nil {
			// the event that aborted the answer is already on its way to run
			return
		}
		s.finish(core.StateFailed, fmt.Errorf("%w: create answer: %w", core.ErrNegotiationFailure, err))
		return
	}
	if err := s.sig.Send(domain.Answer(answer)); err != nil {
		if errors.Is(err, core.ErrTransportDisconnect) {
			s.finish(core.StateClosed, err)
		} else {
			s.finish(core.StateFailed, err)
		}
		return
	}
	s.apply(evAnswerSent, nil)
}

func (s *Session) onMediaState(st core.MediaState) {
	log.Info().Str("module", "session").Str("sid", string(s.id)).Str("media_state", st.String()).Msg("media state")
	switch st {
	case core.MediaConnected:
		s.apply(evMediaConnected, nil)
	case core.MediaFailed:
		s.apply(evMediaFailed, core.ErrNegotiationFailure)
	case core.MediaClosed:
		s.apply(evMediaClosed, core.ErrTransportDisconnect)
	}
}

// apply runs ev through the state machine and reports whether the session
// is still live. cause is recorded when ev ends the session.
func (s *Session) apply(ev event, cause error) bool {
	from := s.State()
	to, err := transition(from, ev)
	if err != nil {
		cause = err
	}
	if to.Terminal() {
		s.finish(to, cause)
		return false
	}
	if to != from {
		s.state.Store(int32(to))
		log.Info().Str("module", "session").Str("sid", string(s.id)).Str("from", from.String()).Str("to", to.String()).Msg("state changed")
	}
	return true
}

func (s *Session) finish(to core.SessionState, cause error) {
	from := s.State()
	if from.Terminal() {
		return
	}
	s.cause = cause
	s.state.Store(int32(to))
	ev := log.Info()
	if to == core.StateFailed {
		ev = log.Warn()
	}
	ev.Str("module", "session").Str("sid", string(s.id)).Str("from", from.String()).Str("to", to.String()).AnErr("cause", cause).Msg("session ended")
}

// teardown releases everything the session holds. It runs once, on the
// session goroutine, after the terminal state is reached.
func (s *Session) teardown() {
	s.tearOnce.Do(func() {
		if s.track != nil {
			s.track.Close()
		}
		if err := s.media.Close(); err != nil {
			log.Warn().Str("module", "session").Str("sid", string(s.id)).Err(err).Msg("close media")
		}
		s.reg.Remove(s.id)
		s.sig.Close()
		s.metrics.ActiveSessions.Dec()
		s.metrics.Sessions.WithLabelValues(s.State().String()).Inc()
		close(s.done)
	})
}
