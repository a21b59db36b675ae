package orch

import (
	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/dkeye/Relay/internal/protocol"
	"github.com/rs/zerolog/log"
)

// ViewerSession routes what a consumer sends. Everything goes to the host
// only, stamped with the viewer's id.
type ViewerSession struct {
	o    *Orchestrator
	s    *core.Session
	room *core.Room
	id   domain.PlayerID
}

func (v *ViewerSession) Session() *core.Session    { return v.s }
func (v *ViewerSession) Room() *core.Room          { return v.room }
func (v *ViewerSession) PlayerID() domain.PlayerID { return v.id }

// HandleBinary drops viewer frames; only hosts produce frames.
func (v *ViewerSession) HandleBinary(f core.Frame) {
	log.Debug().Str("module", "orch").Str("player", string(v.id)).Int("bytes", len(f)).Msg("viewer binary dropped")
}

func (v *ViewerSession) HandleText(data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("player", string(v.id)).Str("room", string(v.room.Code)).Msg("bad json")
		return
	}
	v.room.Received(len(data))
	if env.Type == protocol.TypeHeartbeat {
		v.s.MarkAlive()
		return
	}

	tagged, err := protocol.TagSender(data, v.id)
	if err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("player", string(v.id)).Msg("untaggable message dropped")
		return
	}
	host := v.room.Host()
	if host == nil {
		log.Debug().Str("module", "orch").Str("room", string(v.room.Code)).Str("type", env.Type).Msg("no host, viewer message dropped")
		return
	}
	v.o.send(v.room, host, tagged)
}
