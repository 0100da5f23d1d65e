// Package session drives the offer/answer negotiation for each client and
// tears the session down when either side goes away.
package session

import (
	"context"
	"fmt"

	"github.com/dkeye/audiocast/internal/core"
	"github.com/dkeye/audiocast/internal/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Registry is the bookkeeping a session reports to.
type Registry interface {
	Add(s core.StreamSession)
	Remove(sid core.SessionID) bool
}

type Manager struct {
	Source   core.AudioSource
	Media    core.MediaFactory
	Registry Registry
	Metrics  *metrics.Metrics
}

// Serve runs one session over ch until it is closed or failed. ch is owned
// by the session from here on and is closed before Serve returns.
// The returned error is the session's cause; nil after a clean bye.
func (m *Manager) Serve(ctx context.Context, client string, ch core.SignalChannel) error {
	sid := core.SessionID(uuid.NewString())
	mc, err := m.Media.NewConnection(sid)
	if err != nil {
		ch.Close()
		log.Error().Str("module", "session").Str("sid", string(sid)).Err(err).Msg("create media connection")
		return fmt.Errorf("%w: %w", core.ErrNegotiationFailure, err)
	}

	s := newSession(ctx, sid, client, ch, mc, m)
	m.Registry.Add(s)
	m.Metrics.ActiveSessions.Inc()
	log.Info().Str("module", "session").Str("sid", string(sid)).Str("client", client).Msg("session started")

	return s.run(ctx)
}
