// Package signal carries negotiation messages over a WebSocket.
package signal

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/dkeye/audiocast/internal/core"
	"github.com/dkeye/audiocast/internal/domain"
)

// wireMessage is the JSON envelope. Candidate is either the browser's
// RTCIceCandidate object or a bare candidate string; in the latter case the
// mid and index may sit next to it at the top level.
type wireMessage struct {
	Type             string          `json:"type"`
	SDP              string          `json:"sdp,omitempty"`
	Candidate        json.RawMessage `json:"candidate,omitempty"`
	SDPMid           *string         `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16         `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string         `json:"usernameFragment,omitempty"`
}

func violation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", core.ErrProtocolViolation, fmt.Sprintf(format, args...))
}

// decode parses one inbound frame. Unknown types are returned as is, with no
// payload, so the session can ignore them.
func decode(data []byte) (domain.SignalMessage, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return domain.SignalMessage{}, violation("bad json: %v", err)
	}
	msg := domain.SignalMessage{Type: domain.MessageType(w.Type)}

	switch msg.Type {
	case "":
		return domain.SignalMessage{}, violation("missing type")
	case domain.MessageOffer, domain.MessageAnswer:
		if w.SDP == "" {
			return domain.SignalMessage{}, violation("%s without sdp", w.Type)
		}
		msg.SDP = w.SDP
	case domain.MessageCandidate:
		c, err := decodeCandidate(w)
		if err != nil {
			return domain.SignalMessage{}, err
		}
		msg.Candidate = &c
	}
	return msg, nil
}

func decodeCandidate(w wireMessage) (domain.Candidate, error) {
	raw := bytes.TrimSpace(w.Candidate)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return domain.Candidate{}, violation("candidate without payload")
	}

	var c domain.Candidate
	switch raw[0] {
	case '{':
		if err := json.Unmarshal(raw, &c); err != nil {
			return domain.Candidate{}, violation("bad candidate: %v", err)
		}
	case '"':
		if err := json.Unmarshal(raw, &c.Candidate); err != nil {
			return domain.Candidate{}, violation("bad candidate: %v", err)
		}
		c.SDPMid = w.SDPMid
		c.SDPMLineIndex = w.SDPMLineIndex
		c.UsernameFragment = w.UsernameFragment
	default:
		return domain.Candidate{}, violation("candidate must be an object or a string")
	}
	return c, nil
}

// encode renders an outbound message; candidates use the object form.
func encode(m domain.SignalMessage) ([]byte, error) {
	w := wireMessage{Type: string(m.Type), SDP: m.SDP}
	if m.Candidate != nil {
		raw, err := json.Marshal(m.Candidate)
		if err != nil {
			return nil, err
		}
		w.Candidate = raw
	}
	return json.Marshal(w)
}
