package app

import (
	"context"
	"testing"
	"time"

	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/domain"
)

func TestLivenessSweep(t *testing.T) {
	reg := NewSessionRegistry()
	s, st := session(domain.RoleViewer)
	reg.Bind(s)

	var dead []*core.Session
	m := &LivenessMonitor{Sessions: reg, Interval: time.Hour, OnDead: func(s *core.Session) {
		dead = append(dead, s)
		reg.Unbind(s.ID)
	}}

	if n := m.Sweep(); n != 0 {
		t.Fatalf("fresh session evicted")
	}
	if st.Pings() != 1 {
		t.Errorf("pings = %d, want 1", st.Pings())
	}

	// Pong arrives: survives the next sweep.
	s.MarkAlive()
	if n := m.Sweep(); n != 0 {
		t.Fatalf("responsive session evicted")
	}

	// No pong: terminated on the following sweep.
	if n := m.Sweep(); n != 1 {
		t.Fatalf("Sweep() evicted %d, want 1", n)
	}
	if !st.Terminated() {
		t.Errorf("dead session was not hard terminated")
	}
	if len(dead) != 1 || dead[0] != s {
		t.Errorf("OnDead not called for the dead session")
	}
	if reg.Len() != 0 {
		t.Errorf("dead session still registered")
	}
}

func TestLivenessRunStops(t *testing.T) {
	m := &LivenessMonitor{Sessions: NewSessionRegistry(), Interval: time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}
