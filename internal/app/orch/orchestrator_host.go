package orch

import (
	"errors"

	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/protocol"
	"github.com/rs/zerolog/log"
)

// HostSession routes what the room's producer sends.
type HostSession struct {
	o    *Orchestrator
	s    *core.Session
	room *core.Room
}

func (h *HostSession) Session() *core.Session { return h.s }
func (h *HostSession) Room() *core.Room       { return h.room }

func (h *HostSession) HandleBinary(f core.Frame) {
	if !h.room.IsHost(h.s) {
		return
	}
	h.o.Frames.Enqueue(h.room, f)
}

func (h *HostSession) HandleText(data []byte) {
	if !h.room.IsHost(h.s) {
		log.Debug().Str("module", "orch").Str("sid", string(h.s.ID)).Msg("message from replaced host dropped")
		return
	}
	env, err := protocol.Decode(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("sid", string(h.s.ID)).Str("room", string(h.room.Code)).Msg("bad json")
		return
	}
	h.room.Received(len(data))

	switch env.Type {
	case protocol.TypeHeartbeat:
		h.s.MarkAlive()
	case protocol.TypeState:
		h.broadcastLatest(data)
	case protocol.TypeWorldSyncStart:
		h.observeStart(data)
		h.broadcast(data)
	case protocol.TypeWorldSyncChunk:
		h.observeChunk(data)
		h.broadcast(data)
	case protocol.TypeWorldSyncEnd:
		h.observeEnd()
		h.broadcast(data)
	default:
		h.broadcast(data)
	}
}

// broadcastLatest fans out a message that a newer one supersedes, so
// backlogged viewers may skip it.
func (h *HostSession) broadcastLatest(data []byte) {
	res := h.o.Frames.Publish(h.room, h.room.Viewers(), func(s *core.Session) error {
		return s.Transport.SendText(data)
	}, len(data))
	if len(res.Skipped) > 0 {
		log.Debug().Str("module", "orch").Str("room", string(h.room.Code)).Int("skipped", len(res.Skipped)).Msg("state skipped for backlogged viewers")
	}
}

// broadcast fans out a message every viewer must see.
func (h *HostSession) broadcast(data []byte) {
	for _, v := range h.room.Viewers() {
		h.o.send(h.room, v, data)
	}
}

func (h *HostSession) observeStart(data []byte) {
	msg, err := protocol.DecodeAs[protocol.WorldSyncStart](data)
	if err == nil {
		err = h.room.BeginTransfer(msg.TotalChunks, msg.TotalSize)
	}
	if err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("room", string(h.room.Code)).Msg("world sync start rejected")
		return
	}
	log.Info().Str("module", "orch").Str("room", string(h.room.Code)).Int("chunks", msg.TotalChunks).Int("bytes", msg.TotalSize).Msg("world sync started")
}

func (h *HostSession) observeChunk(data []byte) {
	msg, err := protocol.DecodeAs[protocol.WorldSyncChunk](data)
	if err == nil {
		err = h.room.AddChunk(msg.Index, len(msg.Data))
	}
	if err != nil && !errors.Is(err, protocol.ErrNoTransfer) {
		log.Warn().Err(err).Str("module", "orch").Str("room", string(h.room.Code)).Msg("world sync chunk rejected")
	}
}

func (h *HostSession) observeEnd() {
	info, err := h.room.EndTransfer()
	switch {
	case errors.Is(err, protocol.ErrNoTransfer):
		log.Warn().Str("module", "orch").Str("room", string(h.room.Code)).Msg("world sync end without start ignored")
	case err != nil:
		log.Warn().Err(err).Str("module", "orch").Str("room", string(h.room.Code)).Msg("world sync incomplete")
	default:
		log.Info().Str("module", "orch").Str("room", string(h.room.Code)).Int("bytes", info.Bytes).Int("chunks", info.Chunks).Msg("world sync completed")
	}
}
