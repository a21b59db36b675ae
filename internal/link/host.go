package link

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/dkeye/Relay/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Phase is the sender side state of a chunked world transfer.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseTransferring
	PhaseFlushing
)

func (p Phase) String() string {
	switch p {
	case PhaseTransferring:
		return "transferring"
	case PhaseFlushing:
		return "flushing"
	default:
		return "idle"
	}
}

type HostConfig struct {
	ChunkSize int
	// HighWater is the backlog above which a chunk is preceded by BackoffPause.
	HighWater int64
	// LowWater is the backlog the transfer must drain below before state resumes.
	LowWater       int64
	BackoffPause   time.Duration
	PollInterval   time.Duration
	HeartbeatEvery int
}

func DefaultHostConfig() HostConfig {
	return HostConfig{
		ChunkSize:      protocol.DefaultChunkSize,
		HighWater:      8 << 20,
		LowWater:       10 << 10,
		BackoffPause:   50 * time.Millisecond,
		PollInterval:   25 * time.Millisecond,
		HeartbeatEvery: 5,
	}
}

func (c HostConfig) withDefaults() HostConfig {
	d := DefaultHostConfig()
	if c.ChunkSize <= 0 {
		c.ChunkSize = d.ChunkSize
	}
	if c.HighWater <= 0 {
		c.HighWater = d.HighWater
	}
	if c.LowWater <= 0 {
		c.LowWater = d.LowWater
	}
	if c.BackoffPause <= 0 {
		c.BackoffPause = d.BackoffPause
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.HeartbeatEvery <= 0 {
		c.HeartbeatEvery = d.HeartbeatEvery
	}
	return c
}

// HostEvents are optional callbacks for messages the relay delivers to a host.
type HostEvents struct {
	OnRoomCreated      func(code domain.RoomCode)
	OnPlayerJoined     func(id domain.PlayerID, total int)
	OnPlayerLeft       func(id domain.PlayerID, total int)
	OnWorldSyncRequest func(from domain.PlayerID)
	// OnViewerMessage receives every other viewer message, already tagged with its sender.
	OnViewerMessage func(typ string, from domain.PlayerID, data []byte)
	OnError         func(msg string)
	// OnTransferFailed runs when a world transfer is cut short by the connection.
	OnTransferFailed func(err error)
}

// HostLink publishes host state to the relay. While a world transfer is in
// flight, state and frames are refused so the chunks are not starved.
type HostLink struct {
	cfg    HostConfig
	events HostEvents

	mu   sync.RWMutex
	t    core.Transport
	room domain.RoomCode

	phase  atomic.Int32
	paused atomic.Bool
}

func NewHostLink(cfg HostConfig, events HostEvents) *HostLink {
	return &HostLink{cfg: cfg.withDefaults(), events: events}
}

// Attach points the link at a new connection.
func (l *HostLink) Attach(t core.Transport) {
	l.mu.Lock()
	l.t = t
	l.mu.Unlock()
}

func (l *HostLink) transport() core.Transport {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.t
}

func (l *HostLink) Room() domain.RoomCode {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.room
}

func (l *HostLink) Phase() Phase { return Phase(l.phase.Load()) }

func (l *HostLink) Paused() bool { return l.paused.Load() }

func (l *HostLink) PushState(p protocol.StatePayload) error {
	if l.paused.Load() {
		return ErrPaused
	}
	t := l.transport()
	if t == nil {
		return ErrNotConnected
	}
	return t.SendText(protocol.MustEncode(protocol.NewState(p)))
}

// SendFrame is skipped while the link is paused or the outbound backlog is
// above high water.
func (l *HostLink) SendFrame(f core.Frame) error {
	if l.paused.Load() {
		return ErrPaused
	}
	t := l.transport()
	if t == nil {
		return ErrNotConnected
	}
	if t.BacklogBytes() > l.cfg.HighWater {
		return ErrBacklogged
	}
	return t.SendBinary(f)
}

// SendWorldSync serializes payload and sends it as a start, chunks, end
// sequence. It returns once the outbound backlog has drained below low water,
// or with ErrTransferAborted if the connection closes first.
func (l *HostLink) SendWorldSync(ctx context.Context, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode world: %w", err)
	}
	if !l.phase.CompareAndSwap(int32(PhaseIdle), int32(PhaseTransferring)) {
		return ErrTransferInProgress
	}
	l.paused.Store(true)
	defer func() {
		l.paused.Store(false)
		l.phase.Store(int32(PhaseIdle))
	}()

	t := l.transport()
	if t == nil {
		return ErrNotConnected
	}

	chunks := protocol.Split(data, l.cfg.ChunkSize)
	logger := log.With().Str("module", "link.host").Str("room", string(l.Room())).Logger()
	logger.Info().Int("bytes", len(data)).Int("chunks", len(chunks)).Msg("world transfer started")

	if err := l.send(ctx, t, protocol.MustEncode(protocol.NewWorldSyncStart(len(chunks), len(data)))); err != nil {
		return l.abort(err)
	}
	heartbeat := protocol.MustEncode(protocol.NewHeartbeat())
	for i, c := range chunks {
		if t.BacklogBytes() > l.cfg.HighWater {
			logger.Debug().Int64("backlog", t.BacklogBytes()).Msg("backlog above high water, pausing")
			if err := sleep(ctx, t, l.cfg.BackoffPause); err != nil {
				return l.abort(err)
			}
		}
		if err := l.send(ctx, t, protocol.MustEncode(protocol.NewWorldSyncChunk(i, c))); err != nil {
			return l.abort(err)
		}
		if (i+1)%l.cfg.HeartbeatEvery == 0 {
			if err := l.send(ctx, t, heartbeat); err != nil {
				return l.abort(err)
			}
		}
	}
	if err := l.send(ctx, t, protocol.MustEncode(protocol.NewWorldSyncEnd())); err != nil {
		return l.abort(err)
	}
	if err := l.send(ctx, t, heartbeat); err != nil {
		return l.abort(err)
	}

	l.phase.Store(int32(PhaseFlushing))
	for t.BacklogBytes() >= l.cfg.LowWater {
		if err := sleep(ctx, t, l.cfg.PollInterval); err != nil {
			return l.abort(err)
		}
	}
	logger.Info().Int("bytes", len(data)).Msg("world transfer flushed")
	return nil
}

// send retries a refused message after a pause until the connection closes.
func (l *HostLink) send(ctx context.Context, t core.Transport, msg []byte) error {
	for {
		err := t.SendText(msg)
		if err == nil {
			return nil
		}
		select {
		case <-t.Done():
			return err
		default:
		}
		if err := sleep(ctx, t, l.cfg.BackoffPause); err != nil {
			return err
		}
	}
}

func (l *HostLink) abort(cause error) error {
	err := fmt.Errorf("%w: %v", ErrTransferAborted, cause)
	log.Warn().Str("module", "link.host").Str("phase", l.Phase().String()).Err(cause).
		Msg("world transfer aborted, not reconnecting")
	if l.events.OnTransferFailed != nil {
		l.events.OnTransferFailed(err)
	}
	return err
}

func (l *HostLink) HandleText(data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		log.Warn().Str("module", "link.host").Err(err).Msg("dropping message")
		return
	}
	switch env.Type {
	case protocol.TypeRoomCreated:
		m, err := protocol.DecodeAs[protocol.RoomCreated](data)
		if err != nil {
			log.Warn().Str("module", "link.host").Err(err).Msg("bad room_created")
			return
		}
		l.mu.Lock()
		l.room = m.RoomCode
		l.mu.Unlock()
		log.Info().Str("module", "link.host").Str("room", string(m.RoomCode)).Msg("room created")
		if l.events.OnRoomCreated != nil {
			l.events.OnRoomCreated(m.RoomCode)
		}
	case protocol.TypePlayerJoined, protocol.TypePlayerLeft:
		m, err := protocol.DecodeAs[protocol.PlayerCount](data)
		if err != nil {
			log.Warn().Str("module", "link.host").Err(err).Msg("bad player count")
			return
		}
		fn := l.events.OnPlayerJoined
		if env.Type == protocol.TypePlayerLeft {
			fn = l.events.OnPlayerLeft
		}
		if fn != nil {
			fn(m.PlayerID, m.TotalPlayers)
		}
	case protocol.TypeError:
		m, _ := protocol.DecodeAs[protocol.Error](data)
		log.Warn().Str("module", "link.host").Str("message", m.Message).Msg("relay error")
		if l.events.OnError != nil {
			l.events.OnError(m.Message)
		}
	case protocol.TypeHeartbeat:
	case protocol.TypeRequestWorldSync:
		m, _ := protocol.DecodeAs[protocol.Tagged](data)
		if l.events.OnWorldSyncRequest != nil {
			l.events.OnWorldSyncRequest(m.PlayerID)
		}
	default:
		m, _ := protocol.DecodeAs[protocol.Tagged](data)
		if l.events.OnViewerMessage != nil {
			l.events.OnViewerMessage(env.Type, m.PlayerID, data)
		}
	}
}

func (l *HostLink) HandleBinary(f core.Frame) {
	log.Debug().Str("module", "link.host").Int("bytes", len(f)).Msg("unexpected binary from relay")
}
