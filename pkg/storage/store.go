package storage

import (
	"github.com/meridian-sync/meridian/pkg/types"
)

// Store is the embedded local store's public contract: a single-process
// engine holding one BoltDB file per namespace, each file holding a
// record table and an event log per repository.
//
// Initialize must be called before any other method; every other
// method returns ErrNotInitialized otherwise. All methods are safe for
// concurrent use.
type Store interface {
	// Initialize opens the store rooted at dataDir. Calling Initialize
	// again on an already-open store is a no-op.
	Initialize(dataDir string) error

	// Close releases the underlying database handle. Idempotent.
	Close() error

	// UseNamespace switches to a disjoint storage space identified by
	// name, closing the active database handle first and reopening a
	// fresh one. Any outstanding watchQuery subscriptions from the
	// previous namespace are cancelled.
	UseNamespace(name string) error

	// EnsureSchema declares a repository's indexed fields. Must be
	// called once per repository before any write against it. Calling
	// it again with a different schema never drops existing data; it
	// only registers newly indexable fields going forward.
	EnsureSchema(repository string, schema types.Schema, idField string) error

	// Insert upserts a record row. Same id means update.
	Insert(repository string, record types.Record) error

	// Update is an alias for Insert: the record table has upsert
	// semantics keyed by id.
	Update(repository string, record types.Record) error

	// Delete tombstones one record row by id: the row is retained with
	// Deleted set rather than physically removed, so an includeDeleted
	// Query can still surface it. Missing id is not an error.
	Delete(repository, id string) error

	// DeleteAll removes every record row in a repository.
	DeleteAll(repository string) error

	// DeleteAllEvents clears a repository's event log and by-dataId
	// index, leaving its record rows untouched.
	DeleteAllEvents(repository string) error

	// InsertEvent appends a row to a repository's event log.
	InsertEvent(repository string, event types.Event) error

	// UpdateEvent overwrites an existing event log row (used to stamp
	// serverSequence and syncStatus once the server authority accepts
	// an event).
	UpdateEvent(repository string, event types.Event) error

	// DeleteEvent removes one event log row by eventId.
	DeleteEvent(repository, eventID string) error

	// GetAll returns every current record row in a repository.
	GetAll(repository string) ([]types.Record, error)

	// GetByID returns one record row, or ErrNotFound.
	GetByID(repository, id string) (*types.Record, error)

	// GetAllEvents returns every event log row in a repository, ordered
	// by createdAt (for locally produced events, the order they were
	// written).
	GetAllEvents(repository string) ([]types.Event, error)

	// GetEventByID returns one event log row by eventId, or
	// ErrNotFound.
	GetEventByID(repository, eventID string) (*types.Event, error)

	// GetEventByDataID returns the most recent event log row for a
	// given dataId, or ErrNotFound.
	GetEventByDataID(repository, dataID string) (*types.Event, error)

	// Query evaluates q against repository and returns one snapshot.
	Query(repository string, q types.Query) ([]types.Record, error)

	// WatchQuery returns a channel that receives one snapshot
	// immediately and a new snapshot after every subsequent write that
	// touches repository. Call the returned cancel func to stop
	// receiving and release the watcher.
	WatchQuery(repository string, q types.Query) (ch <-chan []types.Record, cancel func())

	// SetConfigValue stores a typed key-value pair in the local config
	// bucket.
	SetConfigValue(key string, value types.ConfigValue) error

	// GetConfigValue returns the value stored for key, with the Kind it
	// was stored under, and whether key was found. It does not compare
	// the stored Kind against any expected type.
	GetConfigValue(key string) (types.ConfigValue, bool, error)

	// ContainsConfigKey reports whether key has a stored value.
	ContainsConfigKey(key string) (bool, error)

	// RemoveConfig deletes one config key.
	RemoveConfig(key string) error

	// ClearConfig deletes every config key.
	ClearConfig() error

	// GetConfigKeys lists every stored config key.
	GetConfigKeys() ([]string, error)

	// NextSequence atomically increments and returns the monotonic
	// sequence counter for repository. Used by the server authority to
	// assign serverSequence to an accepted event; the counter is keyed
	// by the repository name string itself, never by a coerced or
	// auto-assigned record id.
	NextSequence(repository string) (int64, error)
}
