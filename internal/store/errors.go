package store

import "errors"

var (
	ErrConflict       = errors.New("conflict")
	ErrNotFound       = errors.New("not found")
	ErrAlreadyClaimed = errors.New("slot already claimed")
)
