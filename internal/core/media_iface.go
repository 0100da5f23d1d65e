package core

import (
	"context"

	"github.com/dkeye/audiocast/internal/domain"
)

// MediaState is the transport's view of the peer connection.
type MediaState int

const (
	MediaConnecting MediaState = iota
	MediaConnected
	MediaFailed
	MediaClosed
)

func (s MediaState) String() string {
	switch s {
	case MediaConnecting:
		return "connecting"
	case MediaConnected:
		return "connected"
	case MediaFailed:
		return "failed"
	case MediaClosed:
		return "closed"
	}
	return "unknown"
}

// AudioTrack is a session's view of the broadcast: a stream of stamped frames.
type AudioTrack interface {
	// NextFrame waits for the next frame. After the track ends it returns an
	// error wrapping ErrStreamEnded (and ErrDeviceFailure when that was the cause).
	NextFrame(ctx context.Context) (domain.Frame, error)
	// Done is closed once the track has ended.
	Done() <-chan struct{}
	Err() error
	// Close unsubscribes the track. Idempotent.
	Close()
}

// AudioSource hands out independent tracks of the host audio.
type AudioSource interface {
	Subscribe() (AudioTrack, error)
}

// MediaConnection is the peer-to-peer transport for one session.
type MediaConnection interface {
	// AttachTrack starts sending frames read from t.
	AttachTrack(t AudioTrack) error
	// ApplyOffer stores the remote descriptor.
	ApplyOffer(sdp string) error
	// CreateAnswer generates and applies the local descriptor and returns it.
	CreateAnswer(ctx context.Context) (string, error)
	AddICECandidate(c domain.Candidate) error
	// OnStateChange registers the callback for asynchronous state changes.
	// The callback may run on any goroutine.
	OnStateChange(fn func(MediaState))
	Close() error
}

// MediaFactory creates one MediaConnection per session.
type MediaFactory interface {
	NewConnection(sid SessionID) (MediaConnection, error)
}
