package domain

import "errors"

var (
	ErrValidation        = errors.New("validation error")
	ErrNotFound          = errors.New("not found")
	ErrNotInRoom         = errors.New("not in room")
	ErrDuplicateIdentity = errors.New("duplicate identity")
	ErrStaleAnswer       = errors.New("stale answer")
	ErrCallGlare         = errors.New("call glare")
	ErrRateLimited       = errors.New("rate limited")
)
