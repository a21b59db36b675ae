package domain

import (
	"errors"
	"math/rand/v2"
	"strings"
)

const RoomCodeLen = 6

const roomCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

var (
	ErrRoomNotFound     = errors.New("room not found")
	ErrHostOffline      = errors.New("host offline")
	ErrRoomCodeRequired = errors.New("room code required")
	ErrInvalidRoomCode  = errors.New("invalid room code")
)

// RoomCode is the short, case-insensitive name a room is shared by.
// Values of this type are always upper case.
type RoomCode string

// NewRoomCode returns a random 6 character base-36 code.
func NewRoomCode() RoomCode {
	var b [RoomCodeLen]byte
	for i := range b {
		b[i] = roomCodeAlphabet[rand.IntN(len(roomCodeAlphabet))]
	}
	return RoomCode(b[:])
}

// ParseRoomCode normalises raw user input into a RoomCode.
func ParseRoomCode(raw string) (RoomCode, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if code == "" {
		return "", ErrRoomCodeRequired
	}
	if len(code) != RoomCodeLen {
		return "", ErrInvalidRoomCode
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(roomCodeAlphabet, code[i]) < 0 {
			return "", ErrInvalidRoomCode
		}
	}
	return RoomCode(code), nil
}
