package app

import "github.com/dkeye/Relay/internal/core"

type BackpressureAction int

const (
	Deliver BackpressureAction = iota
	SkipMessage
)

// Policy decides, per recipient, whether a latest-wins message is sent now
// or dropped for this cycle.
type Policy interface {
	OnBackPressure(s *core.Session) BackpressureAction
}

// CeilingPolicy skips a recipient whose outbound backlog exceeds Ceiling bytes.
type CeilingPolicy struct {
	Ceiling int64
}

func (p CeilingPolicy) OnBackPressure(s *core.Session) BackpressureAction {
	if s.Transport.BacklogBytes() > p.Ceiling {
		return SkipMessage
	}
	return Deliver
}
