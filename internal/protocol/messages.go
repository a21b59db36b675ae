// Package protocol describes the text messages exchanged over a relay
// connection. Every message is a JSON object with a "type" discriminator.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/Relay/internal/domain"
)

const (
	TypeRoomCreated      = "room_created"
	TypeJoinedRoom       = "joined_room"
	TypeError            = "error"
	TypePlayerJoined     = "player_joined"
	TypePlayerLeft       = "player_left"
	TypeHostDisconnected = "host_disconnected"
	TypeState            = "state"
	TypeOrientation      = "orientation"
	TypeInput            = "input"
	TypeHeartbeat        = "heartbeat"
	TypeRequestWorldSync = "request_world_sync"
	TypePlayerSync       = "player_sync"
	TypeWorldSync        = "world_sync"
	TypeWorldSyncStart   = "world_sync_start"
	TypeWorldSyncChunk   = "world_sync_chunk"
	TypeWorldSyncEnd     = "world_sync_end"
)

// SenderField is the key the relay adds to viewer messages before they reach the host.
const SenderField = "playerId"

var ErrMalformed = errors.New("malformed message")

// Envelope is the part every message shares.
type Envelope struct {
	Type string `json:"type"`
}

// Decode reads the discriminator of a text message.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return env, nil
}

// DecodeAs unmarshals a full message once its type is known.
func DecodeAs[T any](data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return v, nil
}

// TagSender stamps a viewer message with the viewer's id. Any id already
// present is overwritten so a viewer cannot speak for another.
func TagSender(data []byte, id domain.PlayerID) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	raw, err := json.Marshal(id)
	if err != nil {
		return nil, err
	}
	fields[SenderField] = raw
	return json.Marshal(fields)
}

type RoomCreated struct {
	Type     string          `json:"type"`
	RoomCode domain.RoomCode `json:"roomCode"`
}

func NewRoomCreated(code domain.RoomCode) RoomCreated {
	return RoomCreated{Type: TypeRoomCreated, RoomCode: code}
}

type JoinedRoom struct {
	Type     string          `json:"type"`
	RoomCode domain.RoomCode `json:"roomCode"`
	PlayerID domain.PlayerID `json:"playerId"`
}

func NewJoinedRoom(code domain.RoomCode, id domain.PlayerID) JoinedRoom {
	return JoinedRoom{Type: TypeJoinedRoom, RoomCode: code, PlayerID: id}
}

type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewError(msg string) Error {
	return Error{Type: TypeError, Message: msg}
}

// PlayerCount is used for both player_joined and player_left.
type PlayerCount struct {
	Type         string          `json:"type"`
	PlayerID     domain.PlayerID `json:"playerId"`
	TotalPlayers int             `json:"totalPlayers"`
}

func NewPlayerJoined(id domain.PlayerID, total int) PlayerCount {
	return PlayerCount{Type: TypePlayerJoined, PlayerID: id, TotalPlayers: total}
}

func NewPlayerLeft(id domain.PlayerID, total int) PlayerCount {
	return PlayerCount{Type: TypePlayerLeft, PlayerID: id, TotalPlayers: total}
}

// Bare is a message with no fields besides its type.
type Bare struct {
	Type string `json:"type"`
}

func NewHostDisconnected() Bare { return Bare{Type: TypeHostDisconnected} }
func NewHeartbeat() Bare        { return Bare{Type: TypeHeartbeat} }
func NewRequestWorldSync() Bare { return Bare{Type: TypeRequestWorldSync} }
func NewWorldSyncEnd() Bare     { return Bare{Type: TypeWorldSyncEnd} }

type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type Quat struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

type StatePayload struct {
	Mode string `json:"mode"`
	Pos  Vec3   `json:"pos"`
	Quat Quat   `json:"quat"`
}

type State struct {
	Type    string       `json:"type"`
	Payload StatePayload `json:"payload"`
}

func NewState(p StatePayload) State {
	return State{Type: TypeState, Payload: p}
}

type OrientationPayload struct {
	Yaw   float64 `json:"yaw"`
	Pitch float64 `json:"pitch"`
	Roll  float64 `json:"roll"`
}

type Orientation struct {
	Type     string             `json:"type"`
	PlayerID domain.PlayerID    `json:"playerId,omitempty"`
	Payload  OrientationPayload `json:"payload"`
}

func NewOrientation(p OrientationPayload) Orientation {
	return Orientation{Type: TypeOrientation, Payload: p}
}

// Input carries any other viewer control payload to the host.
type Input struct {
	Type     string          `json:"type"`
	PlayerID domain.PlayerID `json:"playerId,omitempty"`
	Payload  json.RawMessage `json:"payload"`
}

func NewInput(payload json.RawMessage) Input {
	return Input{Type: TypeInput, Payload: payload}
}

// Tagged extracts the sender id the relay added to a viewer message.
type Tagged struct {
	Type     string          `json:"type"`
	PlayerID domain.PlayerID `json:"playerId"`
}

// WorldSync is the legacy single message form of a world transfer.
type WorldSync struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func NewWorldSync(payload json.RawMessage) WorldSync {
	return WorldSync{Type: TypeWorldSync, Payload: payload}
}

type WorldSyncStart struct {
	Type        string `json:"type"`
	TotalChunks int    `json:"totalChunks"`
	TotalSize   int    `json:"totalSize"`
}

func NewWorldSyncStart(chunks, size int) WorldSyncStart {
	return WorldSyncStart{Type: TypeWorldSyncStart, TotalChunks: chunks, TotalSize: size}
}

type WorldSyncChunk struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
	Data  string `json:"data"`
}

func NewWorldSyncChunk(index int, data []byte) WorldSyncChunk {
	return WorldSyncChunk{Type: TypeWorldSyncChunk, Index: index, Data: string(data)}
}

// Encode marshals any message of this package.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// MustEncode is for messages built from constructors above, which always marshal.
func MustEncode(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("protocol: encode %T: %v", v, err))
	}
	return b
}

// IsWorldSync reports whether a host message belongs to the world sync family.
func IsWorldSync(typ string) bool {
	switch typ {
	case TypeWorldSync, TypeWorldSyncStart, TypeWorldSyncChunk, TypeWorldSyncEnd, TypePlayerSync:
		return true
	}
	return false
}
