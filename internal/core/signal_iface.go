package core

import "github.com/dkeye/audiocast/internal/domain"

// SignalChannel abstracts the per-client duplex message transport.
// Owned by the adapter; Close unblocks a pending Recv.
type SignalChannel interface {
	// Recv blocks for the next message. A malformed message yields an error
	// wrapping ErrProtocolViolation; a closed channel yields ErrTransportDisconnect.
	Recv() (domain.SignalMessage, error)
	Send(m domain.SignalMessage) error
	Close()
}
