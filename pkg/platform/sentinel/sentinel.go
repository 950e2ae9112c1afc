package sentinel

import "errors"

// Sentinel errors for storage facts. Stores return these (optionally wrapped)
// and services translate them into domain errors:
//   - ErrNotFound: row does not exist for the given key
//   - ErrConflict: unique key already taken, or a serialization failure outlived its retries
//   - ErrInvalidState: row exists but is in the wrong state (e.g. staging vendor already MIGRATED)
//   - ErrUnavailable: an external collaborator is down or its circuit is open
//
// Input validation failures belong in pkg/domain-errors, not here.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
