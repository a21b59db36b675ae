package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/Relay/internal/app"
	"github.com/dkeye/Relay/internal/app/orch"
	"github.com/dkeye/Relay/internal/config"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"
)

func testServer(t *testing.T, opts ...func(*config.Config)) (*httptest.Server, *orch.Orchestrator) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{
		Mode:       "test",
		StaticPath: t.TempDir(),
		Secret:     "test-secret",
		PublicURL:  "http://relay.test",
		Relay: config.RelayConfig{
			BatchWindow:      5 * time.Millisecond,
			ViewerSkipBytes:  2 << 20,
			MaxMessageBytes:  50 << 20,
			LivenessInterval: time.Minute,
			SendQueue:        64,
			WriteWait:        time.Second,
		},
	}
	for _, opt := range opts {
		opt(cfg)
	}
	policy := app.CeilingPolicy{Ceiling: cfg.Relay.ViewerSkipBytes}
	o := &orch.Orchestrator{
		Rooms:    app.NewRoomRegistry(app.WithCodeGenerator(func() domain.RoomCode { return "AB12CD" })),
		Sessions: app.NewSessionRegistry(),
		Frames:   app.NewBroadcaster(cfg.Relay.BatchWindow, policy),
	}
	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(SetupRouter(ctx, cfg, o))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return srv, o
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/relay?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", query, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if kind != websocket.TextMessage {
		t.Fatalf("got message kind %d, want text", kind)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("bad json %q: %v", data, err)
	}
	return m
}

func TestRelayEndToEnd(t *testing.T) {
	srv, o := testServer(t)

	host := dial(t, srv, "role=host")
	if m := readJSON(t, host); m["type"] != "room_created" || m["roomCode"] != "AB12CD" {
		t.Fatalf("host got %v, want room_created AB12CD", m)
	}

	viewer := dial(t, srv, "role=viewer&room=ab12cd")
	joined := readJSON(t, viewer)
	if joined["type"] != "joined_room" || joined["roomCode"] != "AB12CD" {
		t.Fatalf("viewer got %v, want joined_room", joined)
	}
	pj := readJSON(t, host)
	if pj["type"] != "player_joined" || pj["totalPlayers"] != float64(1) {
		t.Fatalf("host got %v, want player_joined", pj)
	}

	state := `{"type":"state","payload":{"mode":"walk","pos":{"x":1,"y":0,"z":0},"quat":{"x":0,"y":0,"z":0,"w":1}}}`
	if err := host.WriteMessage(websocket.TextMessage, []byte(state)); err != nil {
		t.Fatal(err)
	}
	if m := readJSON(t, viewer); m["type"] != "state" {
		t.Fatalf("viewer got %v, want state", m)
	}

	if err := host.WriteMessage(websocket.BinaryMessage, []byte("frame-1")); err != nil {
		t.Fatal(err)
	}
	_ = viewer.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, data, err := viewer.ReadMessage()
	if err != nil || kind != websocket.BinaryMessage || string(data) != "frame-1" {
		t.Fatalf("viewer frame = %d %q %v", kind, data, err)
	}

	if err := viewer.WriteMessage(websocket.TextMessage, []byte(`{"type":"orientation","payload":{"yaw":1,"pitch":2,"roll":3}}`)); err != nil {
		t.Fatal(err)
	}
	if m := readJSON(t, host); m["type"] != "orientation" || m["playerId"] != joined["playerId"] {
		t.Fatalf("host got %v, want tagged orientation", m)
	}

	viewer.Close()
	if m := readJSON(t, host); m["type"] != "player_left" || m["totalPlayers"] != float64(0) {
		t.Fatalf("host got %v, want player_left", m)
	}

	host.Close()
	deadline := time.Now().Add(2 * time.Second)
	for o.Rooms.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if o.Rooms.Len() != 0 {
		t.Fatalf("room not deleted after everyone left")
	}

	late := dial(t, srv, "role=viewer&room=AB12CD")
	if m := readJSON(t, late); m["type"] != "error" {
		t.Fatalf("late viewer got %v, want error", m)
	}
	_ = late.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := late.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("late viewer read err = %v, want normal closure", err)
	}
}

func TestRelayRejectsBadRole(t *testing.T) {
	srv, _ := testServer(t)
	resp, err := http.Get(srv.URL + "/relay?role=admin")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestRelayJoinRateLimit(t *testing.T) {
	srv, _ := testServer(t, func(c *config.Config) {
		c.Relay.JoinLimit = 1
		c.Relay.JoinWindow = time.Minute
	})
	statuses := make([]int, 0, 2)
	for range 2 {
		resp, err := http.Get(srv.URL + "/relay?role=host")
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		statuses = append(statuses, resp.StatusCode)
	}
	// the first attempt passes the limiter and fails the websocket handshake
	if diff := cmp.Diff([]int{http.StatusBadRequest, http.StatusTooManyRequests}, statuses); diff != "" {
		t.Errorf("statuses diff(-want,+got):%v", diff)
	}
}

func TestRoomsAPI(t *testing.T) {
	srv, _ := testServer(t)
	host := dial(t, srv, "role=host")
	readJSON(t, host)

	resp, err := http.Get(srv.URL + "/api/rooms")
	if err != nil {
		t.Fatal(err)
	}
	var list struct {
		Rooms []struct {
			Code    string `json:"code"`
			HasHost bool   `json:"hasHost"`
			Viewers int    `json:"viewers"`
		} `json:"rooms"`
	}
	err = json.NewDecoder(resp.Body).Decode(&list)
	resp.Body.Close()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(1, len(list.Rooms)); diff != "" {
		t.Fatalf("rooms diff(-want,+got):%v", diff)
	}
	if list.Rooms[0].Code != "AB12CD" || !list.Rooms[0].HasHost {
		t.Errorf("room = %+v", list.Rooms[0])
	}

	tests := []struct {
		path        string
		status      int
		contentType string
	}{
		{path: "/api/rooms/ab12cd", status: http.StatusOK, contentType: "application/json"},
		{path: "/api/rooms/ZZZZZZ", status: http.StatusNotFound, contentType: "application/json"},
		{path: "/api/rooms/bad", status: http.StatusBadRequest, contentType: "application/json"},
		{path: "/api/rooms/AB12CD/qr", status: http.StatusOK, contentType: "image/png"},
		{path: "/api/rooms/ZZZZZZ/qr", status: http.StatusNotFound, contentType: "application/json"},
		{path: "/healthz", status: http.StatusOK, contentType: "application/json"},
	}
	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			resp, err := http.Get(srv.URL + tc.path)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tc.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tc.status)
			}
			if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, tc.contentType) {
				t.Errorf("Content-Type = %q, want %s", ct, tc.contentType)
			}
		})
	}
}
