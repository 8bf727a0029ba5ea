package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and clients return these
// (optionally wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: entity does not exist in store
// - ErrConflict: write lost to a uniqueness or ordering constraint
// - ErrInvalidState: entity in wrong state for requested operation
// - ErrAlreadyProcessing: remote engine refused a trigger because a run is outstanding
// - ErrUnavailable: service or resource temporarily unavailable
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrInvalidState      = errors.New("invalid state")
	ErrAlreadyProcessing = errors.New("already processing")
	ErrUnavailable       = errors.New("unavailable")
)
