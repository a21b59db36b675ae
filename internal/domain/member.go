package domain

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
)

var ErrUnknownRole = errors.New("unknown role")

// Role is what a connection declared itself as when it opened.
type Role int

const (
	RoleViewer Role = iota
	RoleHost
)

func (r Role) String() string {
	if r == RoleHost {
		return "host"
	}
	return "viewer"
}

// ParseRole maps the connection query value to a Role. Empty means viewer;
// "client" is accepted for older viewers.
func ParseRole(raw string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "viewer", "client":
		return RoleViewer, nil
	case "host":
		return RoleHost, nil
	default:
		return RoleViewer, fmt.Errorf("%w: %q", ErrUnknownRole, raw)
	}
}

// PlayerID identifies a viewer inside its room.
type PlayerID string

func NewPlayerID() PlayerID {
	return PlayerID(fmt.Sprintf("player_%d_%d", time.Now().UnixMilli(), rand.Uint32()))
}
