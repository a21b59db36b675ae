package core

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/Relay/internal/domain"
	"github.com/google/uuid"
)

// Session binds a Transport to the role it declared and the room it joined.
// Rooms reference sessions; they never own the transport.
type Session struct {
	ID        SessionID
	Role      domain.Role
	CreatedAt time.Time
	Transport Transport

	mu     sync.RWMutex
	room   domain.RoomCode
	player domain.PlayerID

	alive    atomic.Bool
	detached atomic.Bool
}

func NewSession(role domain.Role, t Transport) *Session {
	s := &Session{
		ID:        SessionID(uuid.NewString()),
		Role:      role,
		CreatedAt: time.Now(),
		Transport: t,
	}
	s.alive.Store(true)
	return s
}

func (s *Session) Bind(code domain.RoomCode, player domain.PlayerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.room = code
	s.player = player
}

func (s *Session) Room() domain.RoomCode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.room
}

func (s *Session) Player() domain.PlayerID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.player
}

// MarkAlive records that the peer answered since the last liveness sweep.
func (s *Session) MarkAlive() { s.alive.Store(true) }

// TakeAlive clears the liveness flag and reports its previous value.
func (s *Session) TakeAlive() bool { return s.alive.Swap(false) }

// MarkDetached reports true exactly once, for whoever releases the session first.
func (s *Session) MarkDetached() bool { return s.detached.CompareAndSwap(false, true) }
