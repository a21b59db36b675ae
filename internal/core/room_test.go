package core_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/core/coretest"
	"github.com/dkeye/Relay/internal/domain"
)

func TestRoomHostReplacement(t *testing.T) {
	r := core.NewRoom("AB12CD", 0)
	a := core.NewSession(domain.RoleHost, coretest.New())
	b := core.NewSession(domain.RoleHost, coretest.New())

	if old := r.SetHost(a); old != nil {
		t.Fatalf("SetHost on empty room returned %v", old)
	}
	if old := r.SetHost(b); old != a {
		t.Fatalf("SetHost returned %v, want previous host", old)
	}
	if r.ClearHost(a) {
		t.Errorf("ClearHost of a replaced host must not clear the current one")
	}
	if !r.IsHost(b) {
		t.Errorf("current host lost")
	}
	if !r.ClearHost(b) || !r.Empty() {
		t.Errorf("room should be empty after clearing the only host")
	}
}

func TestRoomViewers(t *testing.T) {
	r := core.NewRoom("AB12CD", 0)
	v := core.NewSession(domain.RoleViewer, coretest.New())
	other := core.NewSession(domain.RoleViewer, coretest.New())
	if n := r.AddViewer("p1", v); n != 1 {
		t.Fatalf("AddViewer count = %d, want 1", n)
	}
	if _, ok := r.RemoveViewer("p1", other); ok {
		t.Errorf("RemoveViewer with a foreign session removed the viewer")
	}
	n, ok := r.RemoveViewer("p1", v)
	if !ok || n != 0 {
		t.Errorf("RemoveViewer = %d, %v; want 0, true", n, ok)
	}
}

func TestRoomFrameCoalescing(t *testing.T) {
	r := core.NewRoom("AB12CD", 0)
	var fired atomic.Int32
	got := make(chan core.Frame, 1)
	fn := func() {
		fired.Add(1)
		got <- r.TakeFrame()
	}
	r.StoreFrame(core.Frame("F1"), 10*time.Millisecond, fn)
	r.StoreFrame(core.Frame("F2"), 10*time.Millisecond, fn)
	r.StoreFrame(core.Frame("F3"), 10*time.Millisecond, fn)

	select {
	case f := <-got:
		if string(f) != "F3" {
			t.Errorf("flushed %q, want F3", f)
		}
	case <-time.After(time.Second):
		t.Fatal("flush never fired")
	}
	time.Sleep(30 * time.Millisecond)
	if n := fired.Load(); n != 1 {
		t.Errorf("flush fired %d times, want 1", n)
	}
}

func TestRoomDeleteCancelsFlush(t *testing.T) {
	r := core.NewRoom("AB12CD", 0)
	var fired atomic.Bool
	r.StoreFrame(core.Frame("F1"), 20*time.Millisecond, func() { fired.Store(true) })
	r.Delete()
	time.Sleep(50 * time.Millisecond)
	if fired.Load() {
		t.Errorf("flush fired after room deletion")
	}
	r.StoreFrame(core.Frame("F2"), time.Millisecond, func() { fired.Store(true) })
	if r.FlushPending() {
		t.Errorf("deleted room armed a new flush")
	}
}

func TestRoomTransferStats(t *testing.T) {
	r := core.NewRoom("AB12CD", 0)
	if _, err := r.EndTransfer(); err == nil {
		t.Fatalf("EndTransfer without BeginTransfer succeeded")
	}
	if r.Info().WorldSync != nil {
		t.Fatalf("stray end recorded a world sync")
	}
	_ = r.BeginTransfer(2, 7)
	_ = r.AddChunk(1, 3)
	_ = r.AddChunk(0, 4)
	if _, err := r.EndTransfer(); err != nil {
		t.Fatal(err)
	}
	ws := r.Info().WorldSync
	if ws == nil || ws.Bytes != 7 || ws.Chunks != 2 {
		t.Errorf("WorldSync = %+v, want 7 bytes in 2 chunks", ws)
	}

	if err := r.BeginTransfer(1<<50, 1<<50); err == nil {
		t.Errorf("absurd chunk count accepted")
	}
	_ = r.BeginTransfer(1, 2)
	if err := r.AddChunk(0, 3); err == nil {
		t.Errorf("chunk beyond declared size accepted")
	}
	if _, err := r.EndTransfer(); err == nil {
		t.Errorf("transfer survived an oversized chunk")
	}
}
