package app

import (
	"context"
	"time"

	"github.com/dkeye/Relay/internal/core"
	"github.com/rs/zerolog/log"
)

// LivenessMonitor pings every session on a fixed interval and hard closes
// those that did not answer the previous ping.
type LivenessMonitor struct {
	Sessions *SessionRegistry
	Interval time.Duration
	// OnDead runs after a session is terminated so its room bookkeeping is released.
	OnDead func(*core.Session)
}

func (m *LivenessMonitor) Run(ctx context.Context) error {
	t := time.NewTicker(m.Interval)
	defer t.Stop()
	log.Info().Str("module", "app.liveness").Dur("interval", m.Interval).Msg("liveness monitor started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			m.Sweep()
		}
	}
}

// Sweep runs one round and reports how many sessions were evicted.
func (m *LivenessMonitor) Sweep() int {
	evicted := 0
	for _, s := range m.Sessions.Snapshot() {
		if !s.TakeAlive() {
			log.Warn().Str("module", "app.liveness").Str("sid", string(s.ID)).Str("room", string(s.Room())).Msg("no pong since last sweep, terminating")
			s.Transport.Terminate()
			if m.OnDead != nil {
				m.OnDead(s)
			}
			evicted++
			continue
		}
		if err := s.Transport.Ping(); err != nil {
			log.Debug().Err(err).Str("module", "app.liveness").Str("sid", string(s.ID)).Msg("ping failed")
		}
	}
	return evicted
}
