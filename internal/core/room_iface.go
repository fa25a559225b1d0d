package core

import (
	"time"

	"github.com/dkeye/Mesh/internal/domain"
)

type RoomInfo struct {
	Name        domain.RoomID `json:"name"`
	MemberCount int           `json:"client_count"`
}

// CallInfo is a read-only view of a call edge.
type CallInfo struct {
	ID        string    `json:"id"`
	A         ConnID    `json:"a"`
	B         ConnID    `json:"b"`
	Initiator ConnID    `json:"initiator"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
}

// PresenceInfo lists what one identity currently holds.
type PresenceInfo struct {
	Identity    domain.Identity `json:"identity"`
	Connections []ConnID        `json:"connections"`
	Rooms       []domain.RoomID `json:"rooms"`
}
