package app

import (
	"maps"
	"slices"
	"sync"

	"github.com/dkeye/Relay/internal/core"
	"github.com/rs/zerolog/log"
)

// SessionRegistry tracks every admitted connection for the liveness sweep.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[core.SessionID]*core.Session
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[core.SessionID]*core.Session)}
}

func (r *SessionRegistry) Bind(s *core.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
	log.Debug().Str("module", "app.sessions").Str("sid", string(s.ID)).Str("role", s.Role.String()).Msg("bound session")
}

func (r *SessionRegistry) Unbind(sid core.SessionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sid]; !ok {
		return false
	}
	delete(r.sessions, sid)
	log.Debug().Str("module", "app.sessions").Str("sid", string(sid)).Msg("unbind session")
	return true
}

func (r *SessionRegistry) Get(sid core.SessionID) (*core.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sid]
	return s, ok
}

func (r *SessionRegistry) Snapshot() []*core.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Collect(maps.Values(r.sessions))
}

func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
