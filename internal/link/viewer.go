package link

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/dkeye/Relay/internal/protocol"
	"github.com/rs/zerolog/log"
)

type ViewerEvents struct {
	OnJoined           func(code domain.RoomCode, id domain.PlayerID)
	OnState            func(p protocol.StatePayload)
	OnFrame            func(f core.Frame)
	OnWorldSync        func(world json.RawMessage)
	OnHostDisconnected func()
	OnError            func(msg string)
}

// ViewerLink consumes what a host publishes and sends viewer input back.
type ViewerLink struct {
	events ViewerEvents

	mu     sync.RWMutex
	t      core.Transport
	room   domain.RoomCode
	player domain.PlayerID

	// only touched from the read loop
	world *protocol.Reassembler
}

// NewViewerLink accepts world transfers up to maxWorld bytes; zero means no limit.
func NewViewerLink(maxWorld int, events ViewerEvents) *ViewerLink {
	return &ViewerLink{events: events, world: protocol.NewReassembler(maxWorld)}
}

func (l *ViewerLink) Attach(t core.Transport) {
	l.mu.Lock()
	l.t = t
	l.mu.Unlock()
}

func (l *ViewerLink) Identity() (domain.RoomCode, domain.PlayerID) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.room, l.player
}

func (l *ViewerLink) SendOrientation(p protocol.OrientationPayload) error {
	return l.sendText(protocol.MustEncode(protocol.NewOrientation(p)))
}

func (l *ViewerLink) SendInput(payload json.RawMessage) error {
	if !json.Valid(payload) {
		return protocol.ErrMalformed
	}
	return l.sendText(protocol.MustEncode(protocol.NewInput(payload)))
}

func (l *ViewerLink) RequestWorldSync() error {
	return l.sendText(protocol.MustEncode(protocol.NewRequestWorldSync()))
}

func (l *ViewerLink) sendText(msg []byte) error {
	l.mu.RLock()
	t := l.t
	l.mu.RUnlock()
	if t == nil {
		return ErrNotConnected
	}
	return t.SendText(msg)
}

func (l *ViewerLink) HandleText(data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		log.Warn().Str("module", "link.viewer").Err(err).Msg("dropping message")
		return
	}
	switch env.Type {
	case protocol.TypeJoinedRoom:
		m, err := protocol.DecodeAs[protocol.JoinedRoom](data)
		if err != nil {
			log.Warn().Str("module", "link.viewer").Err(err).Msg("bad joined_room")
			return
		}
		l.mu.Lock()
		l.room, l.player = m.RoomCode, m.PlayerID
		l.mu.Unlock()
		log.Info().Str("module", "link.viewer").Str("room", string(m.RoomCode)).Str("player", string(m.PlayerID)).Msg("joined room")
		if l.events.OnJoined != nil {
			l.events.OnJoined(m.RoomCode, m.PlayerID)
		}
	case protocol.TypeState:
		m, err := protocol.DecodeAs[protocol.State](data)
		if err != nil {
			log.Warn().Str("module", "link.viewer").Err(err).Msg("bad state")
			return
		}
		if l.events.OnState != nil {
			l.events.OnState(m.Payload)
		}
	case protocol.TypeWorldSync:
		m, err := protocol.DecodeAs[protocol.WorldSync](data)
		if err != nil {
			log.Warn().Str("module", "link.viewer").Err(err).Msg("bad world_sync")
			return
		}
		l.deliverWorld(m.Payload)
	case protocol.TypeWorldSyncStart:
		m, err := protocol.DecodeAs[protocol.WorldSyncStart](data)
		if err == nil {
			err = l.world.Start(m.TotalChunks, m.TotalSize)
		}
		if err != nil {
			log.Warn().Str("module", "link.viewer").Err(err).Msg("world transfer refused")
		}
	case protocol.TypeWorldSyncChunk:
		m, err := protocol.DecodeAs[protocol.WorldSyncChunk](data)
		if err == nil {
			err = l.world.Add(m.Index, []byte(m.Data))
		}
		if err != nil {
			log.Warn().Str("module", "link.viewer").Err(err).Msg("world chunk dropped")
		}
	case protocol.TypeWorldSyncEnd:
		world, err := l.world.End()
		switch {
		case errors.Is(err, protocol.ErrNoTransfer):
			log.Debug().Str("module", "link.viewer").Msg("world_sync_end without start")
		case err != nil:
			log.Warn().Str("module", "link.viewer").Err(err).Msg("world transfer failed")
		default:
			l.deliverWorld(world)
		}
	case protocol.TypeHostDisconnected:
		log.Info().Str("module", "link.viewer").Msg("host disconnected")
		if l.events.OnHostDisconnected != nil {
			l.events.OnHostDisconnected()
		}
	case protocol.TypeError:
		m, _ := protocol.DecodeAs[protocol.Error](data)
		log.Warn().Str("module", "link.viewer").Str("message", m.Message).Msg("relay error")
		if l.events.OnError != nil {
			l.events.OnError(m.Message)
		}
	case protocol.TypeHeartbeat:
	default:
		log.Debug().Str("module", "link.viewer").Str("type", env.Type).Msg("ignoring message")
	}
}

func (l *ViewerLink) deliverWorld(world json.RawMessage) {
	log.Info().Str("module", "link.viewer").Int("bytes", len(world)).Msg("world received")
	if l.events.OnWorldSync != nil {
		l.events.OnWorldSync(world)
	}
}

func (l *ViewerLink) HandleBinary(f core.Frame) {
	if l.events.OnFrame != nil {
		l.events.OnFrame(f)
	}
}
