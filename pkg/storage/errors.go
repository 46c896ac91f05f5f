package storage

import "errors"

// Sentinel errors returned by Store implementations. Call sites wrap
// these with fmt.Errorf("...: %w", err) to add context without losing
// the ability to errors.Is against the sentinel.
var (
	// ErrNotInitialized is returned by any operation called before
	// Initialize or after Close.
	ErrNotInitialized = errors.New("storage: not initialized")

	// ErrInvalidField is returned by EnsureSchema when a field name is
	// reserved or malformed.
	ErrInvalidField = errors.New("storage: invalid field name")

	// ErrInvalidID is returned when a record or delete operation is
	// given a missing or non-string id.
	ErrInvalidID = errors.New("storage: invalid id")

	// ErrInvalidEvent is returned when an event is missing eventId or
	// dataId.
	ErrInvalidEvent = errors.New("storage: invalid event")

	// ErrNotFound is returned by GetByID/GetEventByID/GetEventByDataID
	// when no row matches.
	ErrNotFound = errors.New("storage: not found")

	// ErrStorageError wraps unexpected failures surfaced by the
	// underlying database engine.
	ErrStorageError = errors.New("storage: engine error")

	// ErrUnknownRepository is returned when a repository is used
	// before EnsureSchema has declared it.
	ErrUnknownRepository = errors.New("storage: unknown repository")
)
