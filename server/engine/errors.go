package engine

import (
	"errors"
	"fmt"

	"geoquest/server/field"
	"geoquest/server/progression"
	"geoquest/shared/geo"
)

var (
	ErrNoActivePlayer = errors.New("no active player")
	ErrPersistence    = errors.New("persistence failure")

	// Re-exported so callers only need this package to classify failures.
	ErrInvalidCoordinate  = geo.ErrInvalidCoordinate
	ErrNegativeXP         = progression.ErrNegativeXP
	ErrAlreadyCollected   = field.ErrAlreadyCollected
	ErrUnknownCollectible = field.ErrUnknownCollectible
	ErrInvalidZoom        = field.ErrInvalidZoom
)

// PersistenceError reports a failed load or save. The in-memory player is
// unchanged when one is returned.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, ErrPersistence, e.Err)
}

func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistence, e.Err}
}
