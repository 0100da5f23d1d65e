package app

import (
	"slices"
	"strings"
	"sync"

	"github.com/dkeye/audiocast/internal/core"
	"github.com/rs/zerolog/log"
)

// Registry is the process-wide set of live sessions. It is only used to list
// sessions and to close them all on shutdown.
type Registry struct {
	mu       sync.RWMutex
	sessions map[core.SessionID]core.StreamSession
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[core.SessionID]core.StreamSession)}
}

func (r *Registry) Add(s core.StreamSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID()] = s
	log.Info().Str("module", "app.registry").Str("sid", string(s.ID())).Int("sessions", len(r.sessions)).Msg("added session")
}

// Remove reports whether sid was registered.
func (r *Registry) Remove(sid core.SessionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sid]; !ok {
		return false
	}
	delete(r.sessions, sid)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Int("sessions", len(r.sessions)).Msg("removed session")
	return true
}

func (r *Registry) Get(sid core.SessionID) (core.StreamSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sid]
	return s, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// List returns a snapshot ordered by creation time.
func (r *Registry) List() []core.SessionInfo {
	r.mu.RLock()
	out := make([]core.SessionInfo, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.Info())
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b core.SessionInfo) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(string(a.ID), string(b.ID))
	})
	return out
}

// CloseAll closes every registered session. Sessions remove themselves while
// closing, so the lock is not held across Close.
func (r *Registry) CloseAll() int {
	r.mu.RLock()
	snap := make([]core.StreamSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		snap = append(snap, s)
	}
	r.mu.RUnlock()

	for _, s := range snap {
		s.Close()
	}
	log.Info().Str("module", "app.registry").Int("closed", len(snap)).Msg("closed all sessions")
	return len(snap)
}
