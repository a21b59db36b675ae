package app

import (
	"cmp"
	"slices"
	"sync"

	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/dkeye/Relay/internal/protocol"
	"github.com/rs/zerolog/log"
)

// codeAttempts bounds how often a generated code is redrawn on collision.
const codeAttempts = 16

type RoomRegistryOption func(*RoomRegistry)

// WithCodeGenerator replaces the random room code source.
func WithCodeGenerator(fn func() domain.RoomCode) RoomRegistryOption {
	return func(r *RoomRegistry) { r.newCode = fn }
}

// WithMaxTransfer bounds the size of a chunked transfer a room will reassemble.
func WithMaxTransfer(n int) RoomRegistryOption {
	return func(r *RoomRegistry) { r.maxTransfer = n }
}

// RoomRegistry owns code -> Room. Membership changes and deletion happen
// under one lock so a join can never land in a room being deleted.
type RoomRegistry struct {
	mu          sync.Mutex
	rooms       map[domain.RoomCode]*core.Room
	newCode     func() domain.RoomCode
	maxTransfer int
}

func NewRoomRegistry(opts ...RoomRegistryOption) *RoomRegistry {
	r := &RoomRegistry{
		rooms:   make(map[domain.RoomCode]*core.Room),
		newCode: domain.NewRoomCode,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateOrGetRoom returns the room for code, creating it if needed. An empty
// code asks for a freshly generated one.
func (r *RoomRegistry) CreateOrGetRoom(code domain.RoomCode) *core.Room {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.createOrGetLocked(code)
}

func (r *RoomRegistry) createOrGetLocked(code domain.RoomCode) *core.Room {
	if code == "" {
		code = r.newCode()
		for i := 1; i < codeAttempts; i++ {
			if _, taken := r.rooms[code]; !taken {
				break
			}
			code = r.newCode()
		}
	}
	if room, ok := r.rooms[code]; ok {
		return room
	}
	room := core.NewRoom(code, r.maxTransfer)
	r.rooms[code] = room
	log.Info().Str("module", "app.rooms").Str("room", string(code)).Msg("room created")
	return room
}

func (r *RoomRegistry) Get(code domain.RoomCode) (*core.Room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[code]
	return room, ok
}

// OpenHost creates or reuses the room for code and makes s its host.
func (r *RoomRegistry) OpenHost(code domain.RoomCode, s *core.Session) *core.Room {
	r.mu.Lock()
	room := r.createOrGetLocked(code)
	old := r.attachHostLocked(room, s)
	r.mu.Unlock()
	evict(room, old)
	return room
}

// AttachHost makes s the host of room, force closing the previous host.
func (r *RoomRegistry) AttachHost(room *core.Room, s *core.Session) {
	r.mu.Lock()
	if _, ok := r.rooms[room.Code]; !ok {
		r.rooms[room.Code] = room
	}
	old := r.attachHostLocked(room, s)
	r.mu.Unlock()
	evict(room, old)
}

func (r *RoomRegistry) attachHostLocked(room *core.Room, s *core.Session) *core.Session {
	old := room.SetHost(s)
	s.Bind(room.Code, "")
	if old == s {
		return nil
	}
	return old
}

func evict(room *core.Room, old *core.Session) {
	if old == nil {
		return
	}
	log.Info().Str("module", "app.rooms").Str("room", string(room.Code)).Str("sid", string(old.ID)).Msg("evicting previous host")
	old.Transport.Close()
}

// AttachViewer adds s to the room with the given code under a fresh player id.
func (r *RoomRegistry) AttachViewer(code domain.RoomCode, s *core.Session) (*core.Room, domain.PlayerID, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[code]
	if !ok {
		return nil, "", 0, domain.ErrRoomNotFound
	}
	if room.Host() == nil {
		return nil, "", 0, domain.ErrHostOffline
	}
	id := domain.NewPlayerID()
	for room.HasViewer(id) {
		id = domain.NewPlayerID()
	}
	n := room.AddViewer(id, s)
	s.Bind(code, id)
	log.Info().Str("module", "app.rooms").Str("room", string(code)).Str("player", string(id)).Int("viewers", n).Msg("viewer attached")
	return room, id, n, nil
}

// Detach releases s from its room, tells the other side and deletes the
// room once it is empty.
func (r *RoomRegistry) Detach(s *core.Session) {
	code := s.Room()
	if code == "" {
		return
	}
	var (
		notify []*core.Session
		msg    []byte
	)

	r.mu.Lock()
	room, ok := r.rooms[code]
	if !ok {
		r.mu.Unlock()
		return
	}
	switch s.Role {
	case domain.RoleHost:
		if room.ClearHost(s) {
			notify = room.Viewers()
			msg = protocol.MustEncode(protocol.NewHostDisconnected())
			log.Info().Str("module", "app.rooms").Str("room", string(code)).Int("viewers", len(notify)).Msg("host detached")
		}
	case domain.RoleViewer:
		id := s.Player()
		if left, removed := room.RemoveViewer(id, s); removed {
			if host := room.Host(); host != nil {
				notify = []*core.Session{host}
			}
			msg = protocol.MustEncode(protocol.NewPlayerLeft(id, left))
			log.Info().Str("module", "app.rooms").Str("room", string(code)).Str("player", string(id)).Int("viewers", left).Msg("viewer detached")
		}
	}
	r.tryDeleteLocked(room)
	r.mu.Unlock()

	for _, peer := range notify {
		if err := peer.Transport.SendText(msg); err == nil {
			room.Sent(len(msg))
		}
	}
}

// TryDelete removes room iff it has no host and no viewers.
func (r *RoomRegistry) TryDelete(room *core.Room) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tryDeleteLocked(room)
}

func (r *RoomRegistry) tryDeleteLocked(room *core.Room) bool {
	if !room.Empty() {
		return false
	}
	if cur, ok := r.rooms[room.Code]; ok && cur == room {
		delete(r.rooms, room.Code)
	}
	room.Delete()
	log.Info().Str("module", "app.rooms").Str("room", string(room.Code)).Msg("room deleted")
	return true
}

func (r *RoomRegistry) List() []core.RoomInfo {
	r.mu.Lock()
	rooms := make([]*core.Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		rooms = append(rooms, room)
	}
	r.mu.Unlock()
	out := make([]core.RoomInfo, 0, len(rooms))
	for _, room := range rooms {
		out = append(out, room.Info())
	}
	slices.SortFunc(out, func(a, b core.RoomInfo) int { return cmp.Compare(a.Code, b.Code) })
	return out
}

func (r *RoomRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}
