package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr error
	}{
		{name: "state", in: `{"type":"state","payload":{}}`, want: TypeState},
		{name: "not json", in: `{"type":`, wantErr: ErrMalformed},
		{name: "no type", in: `{"payload":1}`, wantErr: ErrMalformed},
		{name: "array", in: `[1,2]`, wantErr: ErrMalformed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env, err := Decode([]byte(tc.in))
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("Decode err = %v, want %v", err, tc.wantErr)
			}
			if env.Type != tc.want {
				t.Errorf("Decode type = %q, want %q", env.Type, tc.want)
			}
		})
	}
}

func TestTagSender(t *testing.T) {
	in := `{"type":"orientation","playerId":"spoofed","payload":{"yaw":1,"pitch":2,"roll":3}}`
	out, err := TagSender([]byte(in), "player_1_2")
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeAs[Orientation](out)
	if err != nil {
		t.Fatal(err)
	}
	want := Orientation{Type: TypeOrientation, PlayerID: "player_1_2", Payload: OrientationPayload{Yaw: 1, Pitch: 2, Roll: 3}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("TagSender diff(-want,+got):%v", diff)
	}

	if _, err := TagSender([]byte(`"text"`), "p"); !errors.Is(err, ErrMalformed) {
		t.Errorf("TagSender on non-object err = %v, want ErrMalformed", err)
	}
}

func TestWireNames(t *testing.T) {
	got := map[string]any{}
	if err := json.Unmarshal(MustEncode(NewPlayerLeft("player_x", 0)), &got); err != nil {
		t.Fatal(err)
	}
	want := map[string]any{"type": "player_left", "playerId": "player_x", "totalPlayers": float64(0)}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("player_left diff(-want,+got):%v", diff)
	}
}
