package session

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/audiocast/internal/core"
	"github.com/dkeye/audiocast/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCandidateBeforeOfferFails(t *testing.T) {
	h := startSession(t, nil)
	h.sig.push(candidate("candidate:1 1 udp 1 10.0.0.1 5000 typ host"))

	err := h.wait(t)
	assert.ErrorIs(t, err, core.ErrProtocolViolation)
	assert.Equal(t, core.StateFailed, h.sess.State())
	assert.Empty(t, h.source.tracks)
	assert.Empty(t, h.media.cands)
	assert.Equal(t, 1, h.reg.removals(h.sess.ID()))
	assert.Equal(t, 1, h.media.closeCount())
}

func TestOfferCandidatesByeCloses(t *testing.T) {
	h := startSession(t, nil)
	h.sig.push(domain.Offer("X"))
	h.sig.push(candidate("c1"))
	h.sig.push(candidate("c2"))
	h.sig.push(domain.Bye())

	require.NoError(t, h.wait(t))
	assert.Equal(t, core.StateClosed, h.sess.State())
	assert.Equal(t, 1, h.source.track(t).closeCount())
	assert.Equal(t, 1, h.reg.removals(h.sess.ID()))
	assert.Equal(t, 1, h.media.closeCount())

	sent := h.sig.sentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, domain.MessageAnswer, sent[0].Type)
	assert.Equal(t, "v=0 answer", sent[0].SDP)
	assert.Len(t, h.media.cands, 2)
}

func TestAnswerSentBeforeConcurrentCandidates(t *testing.T) {
	gate := make(chan struct{})
	h := startSession(t, func(h *harness) { h.media.answerGate = gate })

	h.sig.push(domain.Offer("X"))
	h.sig.push(candidate("c1"))
	h.sig.push(candidate("c2"))
	h.waitState(t, core.StateOfferReceived)
	// candidates are queued while the answer is still being generated
	time.Sleep(20 * time.Millisecond)
	close(gate)

	h.waitState(t, core.StateAnswerSent)
	require.Eventually(t, func() bool { return len(h.j.list()) == 6 }, time.Second, 2*time.Millisecond)
	assert.Equal(t, []string{
		"attach",
		"offer X",
		"create answer",
		"send answer",
		"candidate c1",
		"candidate c2",
	}, h.j.list())

	h.sig.push(domain.Bye())
	require.NoError(t, h.wait(t))
}

func TestByeRacingMediaFailureTearsDownOnce(t *testing.T) {
	for i := 0; i < 20; i++ {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			h := startSession(t, nil)
			h.sig.push(domain.Offer("X"))
			h.waitState(t, core.StateAnswerSent)

			var wg sync.WaitGroup
			wg.Add(2)
			go func() { defer wg.Done(); h.sig.push(domain.Bye()) }()
			go func() { defer wg.Done(); h.media.fire(core.MediaFailed) }()
			wg.Wait()

			h.wait(t)
			assert.True(t, h.sess.State().Terminal())
			assert.Equal(t, 1, h.source.track(t).closeCount())
			assert.Equal(t, 1, h.reg.removals(h.sess.ID()))
			assert.Equal(t, 1, h.media.closeCount())

			// a late close from the registry is a no-op
			h.sess.Close()
			assert.Equal(t, 1, h.reg.removals(h.sess.ID()))
		})
	}
}

func TestMediaConnectedThenFailed(t *testing.T) {
	h := startSession(t, nil)
	h.sig.push(domain.Offer("X"))
	h.waitState(t, core.StateAnswerSent)

	h.media.fire(core.MediaConnecting)
	h.media.fire(core.MediaConnected)
	h.waitState(t, core.StateConnected)
	assert.Equal(t, "connected", h.sess.Info().State)
	assert.Equal(t, "client-1", h.sess.Info().Client)

	h.media.fire(core.MediaFailed)
	err := h.wait(t)
	assert.ErrorIs(t, err, core.ErrNegotiationFailure)
	assert.Equal(t, core.StateFailed, h.sess.State())
}

func TestMediaClosedClosesSession(t *testing.T) {
	h := startSession(t, nil)
	h.sig.push(domain.Offer("X"))
	h.waitState(t, core.StateAnswerSent)
	h.media.fire(core.MediaClosed)

	h.wait(t)
	assert.Equal(t, core.StateClosed, h.sess.State())
}

func TestTransportDisconnectIsImplicitBye(t *testing.T) {
	h := startSession(t, nil)
	h.sig.push(domain.Offer("X"))
	h.waitState(t, core.StateAnswerSent)
	h.sig.Close()

	err := h.wait(t)
	assert.ErrorIs(t, err, core.ErrTransportDisconnect)
	assert.Equal(t, core.StateClosed, h.sess.State())
	assert.Equal(t, 1, h.source.track(t).closeCount())
}

func TestMalformedMessageFails(t *testing.T) {
	h := startSession(t, nil)
	h.sig.in <- inbound{err: fmt.Errorf("%w: bad json", core.ErrProtocolViolation)}

	err := h.wait(t)
	assert.ErrorIs(t, err, core.ErrProtocolViolation)
	assert.Equal(t, core.StateFailed, h.sess.State())
}

func TestClientAnswerFails(t *testing.T) {
	h := startSession(t, nil)
	h.sig.push(domain.Offer("X"))
	h.sig.push(domain.Answer("Y"))

	err := h.wait(t)
	assert.ErrorIs(t, err, core.ErrProtocolViolation)
}

func TestSecondOfferFails(t *testing.T) {
	h := startSession(t, nil)
	h.sig.push(domain.Offer("X"))
	h.sig.push(domain.Offer("Y"))

	err := h.wait(t)
	assert.ErrorIs(t, err, core.ErrProtocolViolation)
	assert.Equal(t, 1, h.source.track(t).closeCount())
}

func TestUnknownMessageIgnored(t *testing.T) {
	h := startSession(t, nil)
	h.sig.push(domain.SignalMessage{Type: "ping"})
	h.sig.push(domain.Offer("X"))
	h.waitState(t, core.StateAnswerSent)

	h.sig.push(domain.Bye())
	require.NoError(t, h.wait(t))
}

func TestDeviceFailureOnOffer(t *testing.T) {
	h := startSession(t, func(h *harness) {
		h.source.err = fmt.Errorf("%w: %w", core.ErrDeviceFailure, errDevice)
	})
	h.sig.push(domain.Offer("X"))

	err := h.wait(t)
	assert.ErrorIs(t, err, core.ErrDeviceFailure)
	assert.Equal(t, core.StateFailed, h.sess.State())
	assert.Empty(t, h.sig.sentMessages())
}

func TestTrackEndOnDeviceFailure(t *testing.T) {
	h := startSession(t, nil)
	h.sig.push(domain.Offer("X"))
	h.waitState(t, core.StateAnswerSent)
	h.source.track(t).end(fmt.Errorf("%w: %w", core.ErrStreamEnded, core.ErrDeviceFailure))

	err := h.wait(t)
	assert.ErrorIs(t, err, core.ErrDeviceFailure)
	assert.Equal(t, core.StateFailed, h.sess.State())
}

func TestApplyOfferFailure(t *testing.T) {
	h := startSession(t, func(h *harness) { h.media.applyErr = fmt.Errorf("bad sdp") })
	h.sig.push(domain.Offer("garbage"))

	err := h.wait(t)
	assert.ErrorIs(t, err, core.ErrNegotiationFailure)
	assert.Equal(t, 1, h.source.track(t).closeCount())
}

func TestCloseFromRegistry(t *testing.T) {
	h := startSession(t, nil)
	h.sig.push(domain.Offer("X"))
	h.waitState(t, core.StateAnswerSent)

	h.sess.Close()
	select {
	case <-h.sess.Done():
	default:
		t.Fatal("Close returned before teardown")
	}
	assert.ErrorIs(t, h.wait(t), core.ErrClosed)
	assert.Equal(t, core.StateClosed, h.sess.State())
	assert.Equal(t, 1, h.reg.removals(h.sess.ID()))
}

func TestCloseDuringNegotiationReturnsPromptly(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	h := startSession(t, func(h *harness) { h.media.answerGate = gate })
	h.sig.push(domain.Offer("X"))
	h.waitState(t, core.StateOfferReceived)

	closed := make(chan struct{})
	go func() {
		h.sess.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatalf("Close blocked while the answer was pending; state=%s", h.sess.State())
	}
	assert.ErrorIs(t, h.wait(t), core.ErrClosed)
	assert.Equal(t, core.StateClosed, h.sess.State())
	assert.Empty(t, h.sig.sentMessages())
	assert.Equal(t, 1, h.source.track(t).closeCount())
	assert.Equal(t, 1, h.media.closeCount())
}

func TestMediaFailureDuringNegotiation(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	h := startSession(t, func(h *harness) { h.media.answerGate = gate })
	h.sig.push(domain.Offer("X"))
	h.waitState(t, core.StateOfferReceived)

	h.media.fire(core.MediaFailed)
	assert.ErrorIs(t, h.wait(t), core.ErrNegotiationFailure)
	assert.Equal(t, core.StateFailed, h.sess.State())
	assert.Empty(t, h.sig.sentMessages())
}

func TestDisconnectDuringNegotiation(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	h := startSession(t, func(h *harness) { h.media.answerGate = gate })
	h.sig.push(domain.Offer("X"))
	h.waitState(t, core.StateOfferReceived)

	h.sig.Close()
	assert.ErrorIs(t, h.wait(t), core.ErrTransportDisconnect)
	assert.Equal(t, core.StateClosed, h.sess.State())
	assert.Equal(t, 1, h.reg.removals(h.sess.ID()))
}

func TestAnswerBackpressureFails(t *testing.T) {
	h := startSession(t, func(h *harness) { h.sig.sendErr = core.ErrBackpressure })
	h.sig.push(domain.Offer("X"))

	assert.ErrorIs(t, h.wait(t), core.ErrBackpressure)
	assert.Equal(t, core.StateFailed, h.sess.State())
	assert.Equal(t, 1, h.source.track(t).closeCount())
}
