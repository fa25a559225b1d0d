// Package domain contains entity without logic, just meta-data
package domain

import (
	"fmt"
	"strings"
)

const (
	MaxIdentityLen = 254
	MaxRoomIDLen   = 64
)

// Identity is the application-supplied label of a participant (e.g. an email).
// It is not unique: one identity may hold several connections.
type Identity string

// NewIdentity trims and validates a raw identity.
func NewIdentity(raw string, maxLen int) (Identity, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("identity is required: %w", ErrValidation)
	}
	if maxLen <= 0 {
		maxLen = MaxIdentityLen
	}
	if len(s) > maxLen {
		return "", fmt.Errorf("identity longer than %d: %w", maxLen, ErrValidation)
	}
	return Identity(s), nil
}
