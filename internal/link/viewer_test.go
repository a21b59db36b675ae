package link

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/dkeye/Relay/internal/core"
	"github.com/dkeye/Relay/internal/core/coretest"
	"github.com/dkeye/Relay/internal/protocol"
	"github.com/google/go-cmp/cmp"
)

func TestViewerLinkEvents(t *testing.T) {
	var (
		states   []protocol.StatePayload
		frames   []string
		worlds   []string
		hostGone int
		errs     []string
	)
	l := NewViewerLink(0, ViewerEvents{
		OnState:            func(p protocol.StatePayload) { states = append(states, p) },
		OnFrame:            func(f core.Frame) { frames = append(frames, string(f)) },
		OnWorldSync:        func(w json.RawMessage) { worlds = append(worlds, string(w)) },
		OnHostDisconnected: func() { hostGone++ },
		OnError:            func(msg string) { errs = append(errs, msg) },
	})

	l.HandleText([]byte(`{"type":"joined_room","roomCode":"AB12CD","playerId":"player_1_2"}`))
	l.HandleText([]byte(`{"type":"state","payload":{"mode":"fly","pos":{"x":1,"y":2,"z":3},"quat":{"x":0,"y":0,"z":0,"w":1}}}`))
	l.HandleText([]byte(`{"type":"world_sync_end"}`))
	l.HandleText([]byte(`{"type":"world_sync","payload":{"legacy":true}}`))
	l.HandleText([]byte(`{"type":"world_sync_start","totalChunks":2,"totalSize":9}`))
	l.HandleText([]byte(`{"type":"world_sync_chunk","index":1,"data":"2]}"}`))
	l.HandleText([]byte(`{"type":"world_sync_chunk","index":0,"data":"{\"a\":["}`))
	l.HandleText([]byte(`{"type":"world_sync_end"}`))
	l.HandleText([]byte(`{{{`))
	l.HandleBinary(core.Frame("jpeg"))
	l.HandleText([]byte(`{"type":"host_disconnected"}`))
	l.HandleText([]byte(`{"type":"error","message":"Room not found or host offline"}`))

	room, player := l.Identity()
	if room != "AB12CD" || player != "player_1_2" {
		t.Errorf("identity = %s %s", room, player)
	}
	wantState := []protocol.StatePayload{{
		Mode: "fly",
		Pos:  protocol.Vec3{X: 1, Y: 2, Z: 3},
		Quat: protocol.Quat{W: 1},
	}}
	if diff := cmp.Diff(wantState, states); diff != "" {
		t.Errorf("states diff(-want,+got):%v", diff)
	}
	if diff := cmp.Diff([]string{`{"legacy":true}`, `{"a":[2]}`}, worlds); diff != "" {
		t.Errorf("worlds diff(-want,+got):%v", diff)
	}
	if diff := cmp.Diff([]string{"jpeg"}, frames); diff != "" {
		t.Errorf("frames diff(-want,+got):%v", diff)
	}
	if hostGone != 1 || len(errs) != 1 {
		t.Errorf("hostGone=%d errs=%v", hostGone, errs)
	}
}

func TestViewerLinkSends(t *testing.T) {
	l := NewViewerLink(0, ViewerEvents{})
	if err := l.RequestWorldSync(); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("RequestWorldSync before attach = %v", err)
	}

	tr := coretest.New()
	l.Attach(tr)
	if err := l.SendOrientation(protocol.OrientationPayload{Yaw: 0.5}); err != nil {
		t.Fatal(err)
	}
	if err := l.SendInput(json.RawMessage(`{"key":"w"}`)); err != nil {
		t.Fatal(err)
	}
	if err := l.SendInput(json.RawMessage(`{`)); !errors.Is(err, protocol.ErrMalformed) {
		t.Fatalf("SendInput(bad) = %v, want ErrMalformed", err)
	}
	if err := l.RequestWorldSync(); err != nil {
		t.Fatal(err)
	}

	want := []string{protocol.TypeOrientation, protocol.TypeInput, protocol.TypeRequestWorldSync}
	if diff := cmp.Diff(want, tr.Types()); diff != "" {
		t.Errorf("sent diff(-want,+got):%v", diff)
	}
	o, _ := tr.Last(protocol.TypeOrientation)
	if _, tagged := o[protocol.SenderField]; tagged {
		t.Errorf("viewer must not claim an id itself: %v", o)
	}
}

func TestViewerLinkRejectsOversizedWorld(t *testing.T) {
	var got int
	l := NewViewerLink(4, ViewerEvents{OnWorldSync: func(json.RawMessage) { got++ }})
	l.HandleText(protocol.MustEncode(protocol.NewWorldSyncStart(1, 5)))
	l.HandleText(protocol.MustEncode(protocol.NewWorldSyncChunk(0, []byte(`"abc"`))))
	l.HandleText(protocol.MustEncode(protocol.NewWorldSyncEnd()))
	if got != 0 {
		t.Errorf("oversized world delivered")
	}
}

func TestViewerLinkSurvivesAbsurdChunkCount(t *testing.T) {
	var got int
	l := NewViewerLink(0, ViewerEvents{OnWorldSync: func(json.RawMessage) { got++ }})
	l.HandleText(protocol.MustEncode(protocol.NewWorldSyncStart(1<<50, 1<<50)))
	l.HandleText(protocol.MustEncode(protocol.NewWorldSyncChunk(0, []byte(`{}`))))
	l.HandleText(protocol.MustEncode(protocol.NewWorldSyncEnd()))
	if got != 0 {
		t.Errorf("world delivered from a rejected transfer")
	}
}
