package core

import "github.com/dkeye/Mesh/internal/domain"

// ConnID identifies one live transport channel. Ordering of ConnIDs is
// lexicographic and is used to break call glare.
type ConnID string

// MemberDTO is a read-only view of a room member for APIs and acks.
type MemberDTO struct {
	ID       ConnID          `json:"id"`
	Identity domain.Identity `json:"identity"`
}
