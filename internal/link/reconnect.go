package link

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dkeye/Relay/internal/core"
	"github.com/jpillora/backoff"
	"github.com/rs/zerolog/log"
)

// State of a Supervisor.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateBackoff
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateBackoff:
		return "backoff"
	default:
		return "idle"
	}
}

// ReconnectPolicy decides whether and how fast a lost link is re-established.
type ReconnectPolicy struct {
	Enabled bool
	// MaxAttempts bounds consecutive failed attempts; zero means unbounded.
	MaxAttempts int
	Min         time.Duration
	Max         time.Duration
	Factor      float64
	Jitter      bool
	// ReconnectAfterTransferFailure allows a retry when the connection was
	// lost in the middle of a world transfer.
	ReconnectAfterTransferFailure bool
}

// HostPolicy never reconnects. A host that comes back opens a fresh room
// session on its own terms instead of racing a replacement host.
func HostPolicy() ReconnectPolicy {
	return ReconnectPolicy{}
}

func ViewerPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		Enabled:                       true,
		MaxAttempts:                   10,
		Min:                           500 * time.Millisecond,
		Max:                           30 * time.Second,
		Factor:                        2,
		Jitter:                        true,
		ReconnectAfterTransferFailure: true,
	}
}

type DialFunc func(ctx context.Context) (core.Transport, error)

// ServeFunc runs one connected period and returns when the transport is gone.
type ServeFunc func(ctx context.Context, t core.Transport) error

// Supervisor drives Idle -> Connecting -> Connected -> Backoff -> Connecting
// according to its policy.
type Supervisor struct {
	Policy ReconnectPolicy
	Dial   DialFunc
	Serve  ServeFunc
	// OnState observes every transition.
	OnState func(State)

	state          atomic.Int32
	transferFailed atomic.Bool
}

func (s *Supervisor) State() State { return State(s.state.Load()) }

// TransferFailed records that the current connection dropped mid transfer.
func (s *Supervisor) TransferFailed() { s.transferFailed.Store(true) }

func (s *Supervisor) set(st State) {
	s.state.Store(int32(st))
	if s.OnState != nil {
		s.OnState(st)
	}
}

// Run returns nil when ctx ends, the error that ended the last connection
// when the policy forbids a retry, or ErrGaveUp once attempts run out.
func (s *Supervisor) Run(ctx context.Context) error {
	defer s.set(StateIdle)
	b := &backoff.Backoff{Min: s.Policy.Min, Max: s.Policy.Max, Factor: s.Policy.Factor, Jitter: s.Policy.Jitter}
	failures := 0
	for {
		s.set(StateConnecting)
		s.transferFailed.Store(false)
		t, err := s.Dial(ctx)
		if err == nil {
			s.set(StateConnected)
			b.Reset()
			failures = 0
			err = s.Serve(ctx, t)
			t.Terminate()
			if err == nil {
				err = ErrNotConnected
			}
		} else {
			failures++
		}
		if ctx.Err() != nil {
			return nil
		}

		logger := log.With().Str("module", "link.reconnect").Err(err).Logger()
		switch {
		case !s.Policy.Enabled:
			logger.Info().Msg("link lost, reconnect disabled for this role")
			return err
		case s.transferFailed.Load() && !s.Policy.ReconnectAfterTransferFailure:
			logger.Info().Msg("link lost during world transfer, not reconnecting")
			return errors.Join(ErrTransferAborted, err)
		case s.Policy.MaxAttempts > 0 && failures >= s.Policy.MaxAttempts:
			logger.Warn().Int("attempts", failures).Msg("giving up")
			return fmt.Errorf("%w after %d attempts: %v", ErrGaveUp, failures, err)
		}

		d := b.Duration()
		s.set(StateBackoff)
		logger.Info().Dur("delay", d).Int("failures", failures).Msg("reconnecting")
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// HostSupervisor returns a Supervisor for l under HostPolicy. Transfers that
// l aborts are reported to it, so the transfer failure rule of the policy
// applies to the connection that carried them.
func HostSupervisor(l *HostLink, dial DialFunc, heartbeat time.Duration) *Supervisor {
	sup := &Supervisor{Policy: HostPolicy(), Dial: dial, Serve: ServeLink(l, heartbeat)}
	prev := l.events.OnTransferFailed
	l.events.OnTransferFailed = func(err error) {
		sup.TransferFailed()
		if prev != nil {
			prev(err)
		}
	}
	return sup
}
