package session

import (
	"fmt"

	"github.com/dkeye/audiocast/internal/core"
)

type event int

const (
	evOffer event = iota
	evAnswerSent
	evCandidate
	evRemoteAnswer
	evBye
	evUnknown
	evMalformed
	evMediaConnected
	evMediaFailed
	evMediaClosed
)

func (e event) String() string {
	switch e {
	case evOffer:
		return "offer"
	case evAnswerSent:
		return "answer_sent"
	case evCandidate:
		return "candidate"
	case evRemoteAnswer:
		return "answer"
	case evBye:
		return "bye"
	case evUnknown:
		return "unknown"
	case evMalformed:
		return "malformed"
	case evMediaConnected:
		return "media_connected"
	case evMediaFailed:
		return "media_failed"
	case evMediaClosed:
		return "media_closed"
	}
	return "invalid"
}

// transition returns the state reached from `from` on ev. A non-nil error
// wraps core.ErrProtocolViolation and the returned state is then StateFailed.
// Terminal states absorb every event.
func transition(from core.SessionState, ev event) (core.SessionState, error) {
	if from.Terminal() {
		return from, nil
	}
	switch ev {
	case evOffer:
		if from == core.StateNew {
			return core.StateOfferReceived, nil
		}
		return violation(from, ev)
	case evAnswerSent:
		if from == core.StateOfferReceived {
			return core.StateAnswerSent, nil
		}
		return violation(from, ev)
	case evCandidate:
		if from == core.StateNew {
			return violation(from, ev)
		}
		return from, nil
	case evRemoteAnswer, evMalformed:
		// this side always answers
		return violation(from, ev)
	case evBye, evMediaClosed:
		return core.StateClosed, nil
	case evMediaFailed:
		return core.StateFailed, nil
	case evMediaConnected:
		if from == core.StateAnswerSent {
			return core.StateConnected, nil
		}
		return from, nil
	case evUnknown:
		return from, nil
	}
	return violation(from, ev)
}

func violation(from core.SessionState, ev event) (core.SessionState, error) {
	return core.StateFailed, fmt.Errorf("%w: %s in state %s", core.ErrProtocolViolation, ev, from)
}
