package domain

import (
	"errors"
	"fmt"
)

var (
	ErrMissingFields   = errors.New("missing required fields")
	ErrSessionNotFound = errors.New("session not found")
)

// NotReadyError rejects a send attempted outside ready/connected and carries
// the observed state for diagnostics.
type NotReadyError struct {
	Status    SessionStatus
	Connected bool
}

func (e NotReadyError) Error() string {
	return fmt.Sprintf("session not ready (status=%s connected=%t)", e.Status, e.Connected)
}
