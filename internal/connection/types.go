// Package connection tracks every live client connection and its place in
// a world: who is the DM, which players control which characters, and who
// is only watching. It is the routing layer everything else uses to reach
// clients.
package connection

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a connection, user, or character cannot
	// be located.
	ErrNotFound = errors.New("connection not found")
	// ErrSeatTaken is returned when a different user already holds the DM
	// seat for a world and the join did not ask to take it over.
	ErrSeatTaken = errors.New("dm seat already taken")
	// ErrConnectionLocked is returned when a character is already bound to
	// another live player connection and the join did not ask to steal it.
	ErrConnectionLocked = errors.New("character bound to another connection")
	// ErrNoDM is returned when a world has no DM connection to deliver to.
	ErrNoDM = errors.New("world has no dm")
)

// Sender delivers one serialized message to a client. Implementations are
// provided by the transport layer and must be safe for concurrent use.
type Sender func(ctx context.Context, data []byte) error

// Role is a connection's capacity within a world.
type Role string

const (
	RoleDM        Role = "dm"
	RolePlayer    Role = "player"
	RoleSpectator Role = "spectator"
)

func (r *Role) UnmarshalText(text []byte) error {
	switch Role(text) {
	case RoleDM:
		*r = RoleDM
	case RolePlayer:
		*r = RolePlayer
	case RoleSpectator:
		*r = RoleSpectator
	default:
		return fmt.Errorf("unknown role: %s", text)
	}
	return nil
}

// Info is the public view of one connection.
type Info struct {
	ID             uuid.UUID
	UserID         string
	ClientID       string
	WorldID        string
	Role           Role
	PCID           string
	SpectateTarget string
}

// ConnectedUser summarizes one participant of a world.
type ConnectedUser struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
	PCID   string `json:"pc_id,omitempty"`
}

// PC pairs a player character with the user currently controlling it.
type PC struct {
	PCID         string
	UserID       string
	ConnectionID uuid.UUID
}

// Stats is a point-in-time census of the registry.
type Stats struct {
	Connections int `json:"connections"`
	Worlds      int `json:"worlds"`
	DMs         int `json:"dms"`
	Players     int `json:"players"`
	Spectators  int `json:"spectators"`
}
