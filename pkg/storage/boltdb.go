package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/meridian-sync/meridian/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketSchemas   = []byte("schemas")
	bucketSequences = []byte("sequences")
	bucketConfig    = []byte("config")
)

func recordsBucket(repository string) []byte { return []byte(repository) }
func eventsBucket(repository string) []byte  { return []byte(repository + "__events") }
func byDataIDBucket(repository string) []byte { return []byte(repository + "__events__by_data") }

// BoltStore implements Store using BoltDB: one file per namespace,
// one bucket pair per repository, plus shared schemas/sequences/config
// buckets. It backs both the client-side local store and, reused as-is,
// the server authority's applied state behind the raft FSM.
type BoltStore struct {
	mu      sync.RWMutex
	dataDir string
	ns      string
	db      *bolt.DB
	watches *watchRegistry
}

// NewBoltStore creates an unopened store. Call Initialize with the data
// directory before using it.
func NewBoltStore() *BoltStore {
	return &BoltStore{watches: newWatchRegistry()}
}

func (s *BoltStore) dbPath(namespace string) string {
	name := "default"
	if namespace != "" {
		name = namespace
	}
	return filepath.Join(s.dataDir, name+".db")
}

// Initialize opens the default namespace's database file under dataDir.
func (s *BoltStore) Initialize(dataDir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return nil
	}

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return fmt.Errorf("%w: creating data directory: %v", ErrStorageError, err)
	}
	s.dataDir = dataDir

	db, err := s.open(s.dbPath(""))
	if err != nil {
		return err
	}
	s.db = db
	s.ns = ""
	return nil
}

func (s *BoltStore) open(path string) (*bolt.DB, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: opening database: %v", ErrStorageError, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketSchemas, bucketSequences, bucketConfig} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("%w: creating bucket %s: %v", ErrStorageError, b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Close releases the underlying database handle.
func (s *BoltStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *BoltStore) closeLocked() error {
	if s.db == nil {
		return nil
	}
	s.watches.cancelAll()
	err := s.db.Close()
	s.db = nil
	return err
}

// UseNamespace switches to a disjoint storage space, closing the
// active handle first and cancelling watchers bound to it.
func (s *BoltStore) UseNamespace(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dataDir == "" {
		return ErrNotInitialized
	}
	if err := s.closeLocked(); err != nil {
		return err
	}

	db, err := s.open(s.dbPath(name))
	if err != nil {
		return err
	}
	s.db = db
	s.ns = name
	return nil
}

func (s *BoltStore) handle() (*bolt.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, ErrNotInitialized
	}
	return s.db, nil
}

type schemaEntry struct {
	Schema  types.Schema `json:"schema"`
	IDField string       `json:"idField"`
}

// EnsureSchema declares a repository's buckets and indexed fields. It
// never touches existing record or event rows.
func (s *BoltStore) EnsureSchema(repository string, schema types.Schema, idField string) error {
	if err := schema.Validate(); err != nil {
		return err
	}

	db, err := s.handle()
	if err != nil {
		return err
	}

	return db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{recordsBucket(repository), eventsBucket(repository), byDataIDBucket(repository)} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("%w: creating bucket %s: %v", ErrStorageError, b, err)
			}
		}

		entry := schemaEntry{Schema: schema, IDField: idField}
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketSchemas).Put([]byte(repository), data)
	})
}

func validateID(id string) error {
	if id == "" {
		return ErrInvalidID
	}
	return nil
}

// Insert upserts a record row keyed by id.
func (s *BoltStore) Insert(repository string, record types.Record) error {
	if err := validateID(record.ID); err != nil {
		return err
	}

	db, err := s.handle()
	if err != nil {
		return err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(recordsBucket(repository))
		if b == nil {
			return ErrUnknownRepository
		}
		data, err := json.Marshal(record)
		if err != nil {
			return err
		}
		return b.Put([]byte(record.ID), data)
	})
	if err != nil {
		return err
	}

	s.notify(repository)
	return nil
}

// Update is an alias for Insert.
func (s *BoltStore) Update(repository string, record types.Record) error {
	return s.Insert(repository, record)
}

// Delete tombstones one record row by id: the row is kept (with
// Deleted set) so an includeDeleted query can still surface it, but
// GetByID and every non-includeDeleted Query treat it as absent.
func (s *BoltStore) Delete(repository, id string) error {
	if err := validateID(id); err != nil {
		return err
	}

	db, err := s.handle()
	if err != nil {
		return err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(recordsBucket(repository))
		if b == nil {
			return ErrUnknownRepository
		}

		var rec types.Record
		if existing := b.Get([]byte(id)); existing != nil {
			if err := json.Unmarshal(existing, &rec); err != nil {
				return err
			}
		} else {
			rec = types.Record{ID: id}
		}
		rec.Deleted = true

		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), data)
	})
	if err != nil {
		return err
	}

	s.notify(repository)
	return nil
}

// DeleteAll removes every record row in a repository.
func (s *BoltStore) DeleteAll(repository string) error {
	db, err := s.handle()
	if err != nil {
		return err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(recordsBucket(repository)); err != nil && err != bolt.ErrBucketNotFound {
			return fmt.Errorf("%w: %v", ErrStorageError, err)
		}
		_, err := tx.CreateBucket(recordsBucket(repository))
		return err
	})
	if err != nil {
		return err
	}

	s.notify(repository)
	return nil
}

// DeleteAllEvents clears a repository's event log and by-dataId index,
// leaving its record rows untouched. Used when restoring an FSM
// snapshot, which re-derives records from the replayed event log.
func (s *BoltStore) DeleteAllEvents(repository string) error {
	db, err := s.handle()
	if err != nil {
		return err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{eventsBucket(repository), byDataIDBucket(repository)} {
			if err := tx.DeleteBucket(bucket); err != nil && err != bolt.ErrBucketNotFound {
				return fmt.Errorf("%w: %v", ErrStorageError, err)
			}
			if _, err := tx.CreateBucket(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.notify(repository)
	return nil
}

func validateEvent(event types.Event) error {
	if event.EventID == "" || event.DataID == "" {
		return ErrInvalidEvent
	}
	return nil
}

// InsertEvent appends or overwrites a row in a repository's event log,
// keyed by eventId, and maintains the dataId secondary index.
func (s *BoltStore) InsertEvent(repository string, event types.Event) error {
	if err := validateEvent(event); err != nil {
		return err
	}

	db, err := s.handle()
	if err != nil {
		return err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		eb := tx.Bucket(eventsBucket(repository))
		ib := tx.Bucket(byDataIDBucket(repository))
		if eb == nil || ib == nil {
			return ErrUnknownRepository
		}
		data, err := json.Marshal(event)
		if err != nil {
			return err
		}
		if err := eb.Put([]byte(event.EventID), data); err != nil {
			return err
		}
		return ib.Put([]byte(event.DataID), []byte(event.EventID))
	})
	if err != nil {
		return err
	}

	s.notify(repository)
	return nil
}

// UpdateEvent is an alias for InsertEvent: event rows are upserted by
// eventId, used to stamp serverSequence and syncStatus after acceptance.
func (s *BoltStore) UpdateEvent(repository string, event types.Event) error {
	return s.InsertEvent(repository, event)
}

// DeleteEvent removes one event log row by eventId.
func (s *BoltStore) DeleteEvent(repository, eventID string) error {
	db, err := s.handle()
	if err != nil {
		return err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		eb := tx.Bucket(eventsBucket(repository))
		if eb == nil {
			return ErrUnknownRepository
		}
		return eb.Delete([]byte(eventID))
	})
	if err != nil {
		return err
	}

	s.notify(repository)
	return nil
}

// GetAll returns every current record row in a repository.
func (s *BoltStore) GetAll(repository string) ([]types.Record, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	var records []types.Record
	err = db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(recordsBucket(repository))
		if b == nil {
			return ErrUnknownRepository
		}
		return b.ForEach(func(_, v []byte) error {
			var rec types.Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			records = append(records, rec)
			return nil
		})
	})
	return records, err
}

// GetByID returns one record row, or ErrNotFound. A tombstoned
// (deleted) row is reported as ErrNotFound, the same as a row that was
// never written; use Query with IncludeDeleted to see tombstones.
func (s *BoltStore) GetByID(repository, id string) (*types.Record, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	var rec types.Record
	err = db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(recordsBucket(repository))
		if b == nil {
			return ErrUnknownRepository
		}
		data := b.Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, err
	}
	if rec.Deleted {
		return nil, ErrNotFound
	}
	return &rec, nil
}

// GetAllEvents returns every event log row in a repository, ordered by
// createdAt.
func (s *BoltStore) GetAllEvents(repository string) ([]types.Event, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	var events []types.Event
	err = db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(eventsBucket(repository))
		if b == nil {
			return ErrUnknownRepository
		}
		return b.ForEach(func(_, v []byte) error {
			var evt types.Event
			if err := json.Unmarshal(v, &evt); err != nil {
				return err
			}
			events = append(events, evt)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].CreatedAt.Before(events[j].CreatedAt)
	})
	return events, nil
}

// GetEventByID returns one event log row by eventId, or ErrNotFound.
func (s *BoltStore) GetEventByID(repository, eventID string) (*types.Event, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	var evt types.Event
	err = db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(eventsBucket(repository))
		if b == nil {
			return ErrUnknownRepository
		}
		data := b.Get([]byte(eventID))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &evt)
	})
	if err != nil {
		return nil, err
	}
	return &evt, nil
}

// GetEventByDataID returns the event log row currently indexed for
// dataID, or ErrNotFound.
func (s *BoltStore) GetEventByDataID(repository, dataID string) (*types.Event, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	var evt types.Event
	err = db.View(func(tx *bolt.Tx) error {
		ib := tx.Bucket(byDataIDBucket(repository))
		eb := tx.Bucket(eventsBucket(repository))
		if ib == nil || eb == nil {
			return ErrUnknownRepository
		}
		eventID := ib.Get([]byte(dataID))
		if eventID == nil {
			return ErrNotFound
		}
		data := eb.Get(eventID)
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &evt)
	})
	if err != nil {
		return nil, err
	}
	return &evt, nil
}

// Query evaluates q against repository and returns one snapshot.
func (s *BoltStore) Query(repository string, q types.Query) ([]types.Record, error) {
	records, err := s.GetAll(repository)
	if err != nil {
		return nil, err
	}
	return evaluateQuery(records, q), nil
}

// WatchQuery registers a live watcher for repository and q, delivering
// an initial snapshot immediately.
func (s *BoltStore) WatchQuery(repository string, q types.Query) (<-chan []types.Record, func()) {
	sub, cancel := s.watches.subscribe(repository, func() []types.Record {
		records, err := s.Query(repository, q)
		if err != nil {
			return nil
		}
		return records
	})
	return sub, cancel
}

func (s *BoltStore) notify(repository string) {
	s.watches.notify(repository)
}

// SetConfigValue stores a typed key-value pair.
func (s *BoltStore) SetConfigValue(key string, value types.ConfigValue) error {
	db, err := s.handle()
	if err != nil {
		return err
	}

	return db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(value)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketConfig).Put([]byte(key), data)
	})
}

// GetConfigValue returns the value stored for key.
func (s *BoltStore) GetConfigValue(key string) (types.ConfigValue, bool, error) {
	db, err := s.handle()
	if err != nil {
		return types.ConfigValue{}, false, err
	}

	var value types.ConfigValue
	found := false
	err = db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketConfig).Get([]byte(key))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &value)
	})
	if err != nil {
		return types.ConfigValue{}, false, err
	}
	return value, found, nil
}

// ContainsConfigKey reports whether key has a stored value.
func (s *BoltStore) ContainsConfigKey(key string) (bool, error) {
	_, found, err := s.GetConfigValue(key)
	return found, err
}

// RemoveConfig deletes one config key.
func (s *BoltStore) RemoveConfig(key string) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	return db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketConfig).Delete([]byte(key))
	})
}

// ClearConfig deletes every config key.
func (s *BoltStore) ClearConfig() error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	return db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketConfig); err != nil && err != bolt.ErrBucketNotFound {
			return fmt.Errorf("%w: %v", ErrStorageError, err)
		}
		_, err := tx.CreateBucket(bucketConfig)
		return err
	})
}

// GetConfigKeys lists every stored config key.
func (s *BoltStore) GetConfigKeys() ([]string, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	var keys []string
	err = db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketConfig).ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	return keys, err
}

// NextSequence atomically increments and returns the sequence counter
// for repository, keyed by the repository name itself rather than by
// any auto-coerced document id.
func (s *BoltStore) NextSequence(repository string) (int64, error) {
	db, err := s.handle()
	if err != nil {
		return 0, err
	}

	var next int64
	err = db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSequences)
		key := []byte(repository)
		cur := b.Get(key)
		var n uint64
		if cur != nil {
			n = binary.BigEndian.Uint64(cur)
		}
		n++
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, n)
		next = int64(n)
		return b.Put(key, buf)
	})
	return next, err
}

var _ Store = (*BoltStore)(nil)
