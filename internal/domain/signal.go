package domain

type MessageType string

const (
	MessageOffer     MessageType = "offer"
	MessageAnswer    MessageType = "answer"
	MessageCandidate MessageType = "candidate"
	MessageBye       MessageType = "bye"
)

// Candidate mirrors the browser RTCIceCandidateInit dictionary.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// SignalMessage is one negotiation step. SDP is set for offer/answer,
// Candidate for candidate; bye carries nothing.
// A Type outside the known set is passed through so the receiver can ignore it.
type SignalMessage struct {
	Type      MessageType
	SDP       string
	Candidate *Candidate
}

func Offer(sdp string) SignalMessage  { return SignalMessage{Type: MessageOffer, SDP: sdp} }
func Answer(sdp string) SignalMessage { return SignalMessage{Type: MessageAnswer, SDP: sdp} }
func Bye() SignalMessage              { return SignalMessage{Type: MessageBye} }

func CandidateMessage(c Candidate) SignalMessage {
	return SignalMessage{Type: MessageCandidate, Candidate: &c}
}

// Known reports whether t is one of the four defined message types.
func (t MessageType) Known() bool {
	switch t {
	case MessageOffer, MessageAnswer, MessageCandidate, MessageBye:
		return true
	}
	return false
}
