package orch

import (
	"errors"
	"fmt"

	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/dkeye/Relay/internal/protocol"
	"github.com/rs/zerolog/log"
)

const msgRoomUnavailable = "Room not found or host offline"

// Connect admits a freshly opened transport under the declared role.
// A refused connection has already been told why and closed when Connect
// returns an error.
func (o *Orchestrator) Connect(role domain.Role, rawCode string, t core.Transport) (Dispatcher, error) {
	s := core.NewSession(role, t)
	if role == domain.RoleHost {
		return o.joinHost(s, rawCode)
	}
	return o.joinViewer(s, rawCode)
}

func (o *Orchestrator) joinHost(s *core.Session, rawCode string) (Dispatcher, error) {
	var code domain.RoomCode
	if rawCode != "" {
		c, err := domain.ParseRoomCode(rawCode)
		if err != nil {
			return nil, o.refuse(s, err, "Invalid room code")
		}
		code = c
	}
	room := o.Rooms.OpenHost(code, s)
	o.Sessions.Bind(s)
	o.sendJSON(room, s, protocol.NewRoomCreated(room.Code))
	log.Info().Str("module", "orch").Str("sid", string(s.ID)).Str("room", string(room.Code)).Msg("host joined")
	return &HostSession{o: o, s: s, room: room}, nil
}

func (o *Orchestrator) joinViewer(s *core.Session, rawCode string) (Dispatcher, error) {
	code, err := domain.ParseRoomCode(rawCode)
	if err != nil {
		if errors.Is(err, domain.ErrRoomCodeRequired) {
			return nil, o.refuse(s, err, "Room code required")
		}
		return nil, o.refuse(s, err, msgRoomUnavailable)
	}
	room, id, total, err := o.Rooms.AttachViewer(code, s)
	if err != nil {
		return nil, o.refuse(s, err, msgRoomUnavailable)
	}
	o.Sessions.Bind(s)
	o.sendJSON(room, s, protocol.NewJoinedRoom(code, id))
	if host := room.Host(); host != nil {
		o.sendJSON(room, host, protocol.NewPlayerJoined(id, total))
	}
	log.Info().Str("module", "orch").Str("sid", string(s.ID)).Str("room", string(code)).Str("player", string(id)).Msg("viewer joined")
	return &ViewerSession{o: o, s: s, room: room, id: id}, nil
}

// refuse reports err to the peer and closes it right away. The relay never
// waits for a room to appear.
func (o *Orchestrator) refuse(s *core.Session, err error, msg string) error {
	log.Warn().Err(err).Str("module", "orch").Str("sid", string(s.ID)).Str("role", s.Role.String()).Msg("connection refused")
	o.sendJSON(nil, s, protocol.NewError(msg))
	s.Transport.Close()
	return fmt.Errorf("join as %s: %w", s.Role, err)
}
