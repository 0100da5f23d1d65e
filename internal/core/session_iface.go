package core

import "time"

type SessionID string

type SessionState int

const (
	StateNew SessionState = iota
	StateOfferReceived
	StateAnswerSent
	StateConnected
	StateClosed
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateOfferReceived:
		return "offer_received"
	case StateAnswerSent:
		return "answer_sent"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether no further transition is possible.
func (s SessionState) Terminal() bool { return s == StateClosed || s == StateFailed }

// SessionInfo is a read-only view for APIs.
type SessionInfo struct {
	ID        SessionID `json:"id"`
	Client    string    `json:"client,omitempty"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
}

// StreamSession is what the registry keeps: enough to enumerate and to close.
type StreamSession interface {
	ID() SessionID
	Info() SessionInfo
	Close()
}
