package app

import (
	"time"

	"github.com/dkeye/Relay/internal/core"
	"github.com/rs/zerolog/log"
)

// PublishResult reports delivery stats/backpressure for one fan-out.
type PublishResult struct {
	SentTo  int
	Skipped []*core.Session
	Failed  []*core.Session
}

// Broadcaster coalesces host frames per room and fans the latest one out
// once per batching window. Slow viewers lose frames instead of queueing them.
type Broadcaster struct {
	Window time.Duration
	Policy Policy
}

func NewBroadcaster(window time.Duration, policy Policy) *Broadcaster {
	return &Broadcaster{Window: window, Policy: policy}
}

// Enqueue makes f the room's pending frame, overwriting any unsent one.
func (b *Broadcaster) Enqueue(room *core.Room, f core.Frame) {
	room.Received(len(f))
	room.StoreFrame(f, b.Window, func() { b.Flush(room) })
}

// Flush sends the pending frame, if any, to every viewer below the backlog ceiling.
func (b *Broadcaster) Flush(room *core.Room) PublishResult {
	f := room.TakeFrame()
	if f == nil {
		return PublishResult{}
	}
	res := b.Publish(room, room.Viewers(), func(s *core.Session) error {
		return s.Transport.SendBinary(f)
	}, len(f))
	log.Debug().
		Str("module", "app.broadcast").
		Str("room", string(room.Code)).
		Int("bytes", len(f)).
		Int("sent_to", res.SentTo).
		Int("skipped", len(res.Skipped)).
		Msg("frame flushed")
	return res
}

// Publish delivers one latest-wins message to each recipient the policy admits.
func (b *Broadcaster) Publish(room *core.Room, to []*core.Session, send func(*core.Session) error, size int) PublishResult {
	res := PublishResult{}
	for _, s := range to {
		if b.Policy != nil && b.Policy.OnBackPressure(s) == SkipMessage {
			res.Skipped = append(res.Skipped, s)
			continue
		}
		if err := send(s); err != nil {
			res.Failed = append(res.Failed, s)
			continue
		}
		room.Sent(size)
		res.SentTo++
	}
	return res
}
