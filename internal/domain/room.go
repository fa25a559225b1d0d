package domain

import (
	"fmt"
	"strings"
)

// RoomID is the caller-chosen room code. It is opaque to the coordinator.
type RoomID string

// NewRoomID trims and validates a raw room code.
func NewRoomID(raw string, maxLen int) (RoomID, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("room is required: %w", ErrValidation)
	}
	if maxLen <= 0 {
		maxLen = MaxRoomIDLen
	}
	if len(s) > maxLen {
		return "", fmt.Errorf("room longer than %d: %w", maxLen, ErrValidation)
	}
	return RoomID(s), nil
}
