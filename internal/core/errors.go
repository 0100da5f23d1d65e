package core

import "errors"

var (
	ErrDeviceFailure       = errors.New("capture device failure")
	ErrStreamEnded         = errors.New("stream ended")
	ErrProtocolViolation   = errors.New("protocol violation")
	ErrNegotiationFailure  = errors.New("negotiation failure")
	ErrTransportDisconnect = errors.New("transport disconnected")
	ErrBackpressure        = errors.New("backpressure")
	ErrClosed              = errors.New("closed")
)
