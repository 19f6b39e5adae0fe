package session

import "errors"

// Sentinel errors for the session registry.
var (
	ErrNotFound         = errors.New("session not found")
	ErrDuplicateSession = errors.New("session already exists")
	ErrUnknownKind      = errors.New("unknown session kind")
	ErrEmptyID          = errors.New("session id is empty")
)
