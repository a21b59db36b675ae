package core

import (
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/dkeye/Relay/internal/domain"
	"github.com/dkeye/Relay/internal/protocol"
)

// WorldSyncInfo describes the last chunked transfer a room completed.
type WorldSyncInfo struct {
	Bytes       int       `json:"bytes"`
	Chunks      int       `json:"chunks"`
	CompletedAt time.Time `json:"completedAt"`
}

// RoomInfo is a read-only view for APIs (no transport fields).
type RoomInfo struct {
	Code      domain.RoomCode  `json:"code"`
	CreatedAt time.Time        `json:"createdAt"`
	HasHost   bool             `json:"hasHost"`
	Viewers   int              `json:"viewers"`
	Counters  CountersSnapshot `json:"counters"`
	WorldSync *WorldSyncInfo   `json:"worldSync,omitempty"`
}

// Room is the per-code state record. It owns its flush timer and the
// transfer tracker but never closes adapter-owned resources.
type Room struct {
	Code      domain.RoomCode
	CreatedAt time.Time
	Counters

	mu       sync.Mutex
	host     *Session
	viewers  map[domain.PlayerID]*Session
	latest   Frame
	flush    *time.Timer
	transfer *protocol.Tracker
	lastSync *WorldSyncInfo
	deleted  bool
}

func NewRoom(code domain.RoomCode, maxTransfer int) *Room {
	return &Room{
		Code:      code,
		CreatedAt: time.Now(),
		viewers:   make(map[domain.PlayerID]*Session),
		transfer:  protocol.NewTracker(maxTransfer),
	}
}

func (r *Room) Host() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.host
}

func (r *Room) IsHost(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.host == s
}

// SetHost installs s as host and returns the session it replaced, if any.
func (r *Room) SetHost(s *Session) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.host
	r.host = s
	return old
}

// ClearHost drops s if it is still the host. A host that was already
// replaced leaves the room untouched.
func (r *Room) ClearHost(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.host != s {
		return false
	}
	r.host = nil
	return true
}

// AddViewer registers s under id and returns the new viewer count.
func (r *Room) AddViewer(id domain.PlayerID, s *Session) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.viewers[id] = s
	return len(r.viewers)
}

func (r *Room) HasViewer(id domain.PlayerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.viewers[id]
	return ok
}

// RemoveViewer drops the viewer and returns how many remain.
func (r *Room) RemoveViewer(id domain.PlayerID, s *Session) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.viewers[id]; !ok || cur != s {
		return len(r.viewers), false
	}
	delete(r.viewers, id)
	return len(r.viewers), true
}

func (r *Room) Viewers() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Collect(maps.Values(r.viewers))
}

func (r *Room) ViewerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.viewers)
}

// Empty reports whether the room has neither a host nor viewers.
func (r *Room) Empty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.host == nil && len(r.viewers) == 0
}

// StoreFrame replaces the pending frame. When no flush is armed it arms one
// that runs fn after window.
func (r *Room) StoreFrame(f Frame, window time.Duration, fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleted {
		return
	}
	r.latest = f
	if r.flush == nil {
		r.flush = time.AfterFunc(window, fn)
	}
}

// TakeFrame returns and clears the pending frame and disarms the flush.
func (r *Room) TakeFrame() Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	f := r.latest
	r.latest = nil
	if r.flush != nil {
		r.flush.Stop()
		r.flush = nil
	}
	return f
}

// FlushPending reports whether a flush timer is armed.
func (r *Room) FlushPending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flush != nil
}

// Delete stops the flush timer and drops any pending frame or transfer.
func (r *Room) Delete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = true
	if r.flush != nil {
		r.flush.Stop()
		r.flush = nil
	}
	r.latest = nil
	r.transfer = protocol.NewTracker(r.transfer.MaxSize)
}

func (r *Room) Deleted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deleted
}

func (r *Room) BeginTransfer(totalChunks, totalSize int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transfer.Start(totalChunks, totalSize)
}

// AddChunk accounts for a forwarded chunk of n bytes. The data is not kept.
func (r *Room) AddChunk(index, n int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transfer.Add(index, n)
}

// EndTransfer completes the transfer in progress and records it.
func (r *Room) EndTransfer() (WorldSyncInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats, err := r.transfer.End()
	if err != nil {
		return WorldSyncInfo{}, err
	}
	info := WorldSyncInfo{Bytes: stats.Bytes, Chunks: stats.Chunks, CompletedAt: time.Now()}
	r.lastSync = &info
	return info, nil
}

func (r *Room) Info() RoomInfo {
	r.mu.Lock()
	info := RoomInfo{
		Code:      r.Code,
		CreatedAt: r.CreatedAt,
		HasHost:   r.host != nil,
		Viewers:   len(r.viewers),
	}
	if r.lastSync != nil {
		ls := *r.lastSync
		info.WorldSync = &ls
	}
	r.mu.Unlock()
	info.Counters = r.Counters.Snapshot()
	return info
}
