// Package orch admits relay connections into rooms and routes their
// messages by role.
package orch

import (
	"github.com/dkeye/Relay/internal/app"
	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Dispatcher is what a transport adapter feeds inbound messages to.
// HostSession and ViewerSession implement it.
type Dispatcher interface {
	Session() *core.Session
	HandleText(data []byte)
	HandleBinary(f core.Frame)
}

type Orchestrator struct {
	Rooms    *app.RoomRegistry
	Sessions *app.SessionRegistry
	Frames   *app.Broadcaster
}

// OnDisconnect releases everything s holds. Safe to call more than once:
// both the read loop and the liveness monitor may report the same session.
func (o *Orchestrator) OnDisconnect(s *core.Session) {
	if !s.MarkDetached() {
		return
	}
	o.Sessions.Unbind(s.ID)
	o.Rooms.Detach(s)
	log.Info().Str("module", "orch").Str("sid", string(s.ID)).Str("role", s.Role.String()).Str("room", string(s.Room())).Msg("session released")
}

func (o *Orchestrator) sendJSON(room *core.Room, s *core.Session, v any) {
	b, err := protocol.Encode(v)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("sendJSON marshal")
		return
	}
	o.send(room, s, b)
}

func (o *Orchestrator) send(room *core.Room, s *core.Session, b []byte) {
	if err := s.Transport.SendText(b); err != nil {
		log.Debug().Err(err).Str("module", "orch").Str("sid", string(s.ID)).Msg("send dropped")
		return
	}
	if room != nil {
		room.Sent(len(b))
	}
}
