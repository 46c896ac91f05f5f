// Package repository provides a generic typed facade over pkg/storage
// so application code works with its own domain type instead of raw
// records, while upsert/delete still produce the event log entries
// the sync engine depends on.
package repository

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/meridian-sync/meridian/pkg/storage"
	"github.com/meridian-sync/meridian/pkg/types"
)

// EventHandoff receives every event a Repository produces, so the
// owning Client can forward it to sync strategies. Set via
// Repository.SetEventHandoff; nil means events are stored but not
// forwarded (used in tests and by the server, which has no client
// handoff).
type EventHandoff func(repository string, event types.Event)

// ConflictResolver decides the winning value when a pulled remote
// change and the current local value disagree. The default policy
// used by New is "newer updatedAt wins, remote breaks ties."
type ConflictResolver[T any] func(local, remote T) T

// timeType is reflect.TypeOf((*time.Time)(nil)).Elem(), used to spot an
// UpdatedAt field or Updated() accessor on an application type.
var timeType = reflect.TypeOf(time.Time{})

// defaultConflictResolver builds the resolver New falls back to when a
// Config omits Conflict: newer updatedAt wins, remote breaks ties (and
// remote always wins when T exposes no updatedAt timestamp at all).
// T is examined once via reflection for either an exported UpdatedAt
// time.Time field or an Updated() time.Time method.
func defaultConflictResolver[T any]() ConflictResolver[T] {
	updatedAt, ok := updatedAtAccessor[T]()
	if !ok {
		return func(_, remote T) T { return remote }
	}
	return func(local, remote T) T {
		if updatedAt(local).After(updatedAt(remote)) {
			return local
		}
		return remote
	}
}

// updatedAtAccessor returns a func reading T's update timestamp and
// true, or false if T exposes neither an UpdatedAt field nor an
// Updated() time.Time method.
func updatedAtAccessor[T any]() (func(T) time.Time, bool) {
	var zero T
	rt := reflect.TypeOf(zero)
	if rt == nil {
		return nil, false
	}

	if m, ok := rt.MethodByName("Updated"); ok && m.Type.NumIn() == 1 && m.Type.NumOut() == 1 && m.Type.Out(0) == timeType {
		return func(t T) time.Time {
			out := reflect.ValueOf(t).Method(m.Index).Call(nil)
			return out[0].Interface().(time.Time)
		}, true
	}

	if rt.Kind() == reflect.Struct {
		if f, ok := rt.FieldByName("UpdatedAt"); ok && f.Type == timeType {
			return func(t T) time.Time {
				return reflect.ValueOf(t).FieldByIndex(f.Index).Interface().(time.Time)
			}, true
		}
	}

	return nil, false
}

// Repository is a typed facade over one collection in a storage.Store.
type Repository[T any] struct {
	name     string
	idField  string
	store    storage.Store
	getID    func(T) string
	toRecord func(T) (json.RawMessage, error)
	fromData func(json.RawMessage) (T, error)
	conflict ConflictResolver[T]
	schema   types.Schema

	handoff EventHandoff
}

// Config describes how to adapt application type T to the record/event
// model.
type Config[T any] struct {
	Name     string
	IDField  string
	Schema   types.Schema
	GetID    func(T) string
	ToRecord func(T) (json.RawMessage, error)
	FromData func(json.RawMessage) (T, error)
	Conflict ConflictResolver[T]
}

// New builds a Repository bound to store, declaring cfg.Schema via
// EnsureSchema.
func New[T any](store storage.Store, cfg Config[T]) (*Repository[T], error) {
	if err := store.EnsureSchema(cfg.Name, cfg.Schema, cfg.IDField); err != nil {
		return nil, fmt.Errorf("repository %s: %w", cfg.Name, err)
	}

	conflict := cfg.Conflict
	if conflict == nil {
		conflict = defaultConflictResolver[T]()
	}

	return &Repository[T]{
		name:     cfg.Name,
		idField:  cfg.IDField,
		store:    store,
		getID:    cfg.GetID,
		toRecord: cfg.ToRecord,
		fromData: cfg.FromData,
		conflict: conflict,
		schema:   cfg.Schema,
	}, nil
}

// SetEventHandoff wires the repository to its owning client's event
// dispatch.
func (r *Repository[T]) SetEventHandoff(h EventHandoff) {
	r.handoff = h
}

// Name returns the repository's storage name.
func (r *Repository[T]) Name() string { return r.name }

// Upsert translates t to record form and atomically inserts/updates
// the record row and appends the corresponding event. No event is
// produced if the storage write fails.
func (r *Repository[T]) Upsert(t T) (types.Event, error) {
	id := r.getID(t)
	if id == "" {
		return types.Event{}, fmt.Errorf("repository %s: %w", r.name, storage.ErrInvalidID)
	}

	data, err := r.toRecord(t)
	if err != nil {
		return types.Event{}, fmt.Errorf("repository %s: encoding record: %w", r.name, err)
	}

	op := types.OpUpdate
	if _, err := r.store.GetByID(r.name, id); err != nil {
		op = types.OpInsert
	}

	eventID := uuid.New().String()
	record := types.Record{ID: id, Data: data, LastEventID: eventID}

	if err := r.store.Insert(r.name, record); err != nil {
		return types.Event{}, fmt.Errorf("repository %s: %w", r.name, err)
	}

	evt := types.Event{
		EventID:    eventID,
		Repository: r.name,
		DataID:     id,
		Operation:  op,
		CreatedAt:  time.Now(),
		SyncStatus: types.SyncPending,
		Data:       data,
	}
	if err := r.store.InsertEvent(r.name, evt); err != nil {
		return types.Event{}, fmt.Errorf("repository %s: %w", r.name, err)
	}

	if r.handoff != nil {
		r.handoff(r.name, evt)
	}
	return evt, nil
}

// Delete removes the record by id and appends a delete event.
func (r *Repository[T]) Delete(id string) (types.Event, error) {
	if err := r.store.Delete(r.name, id); err != nil {
		return types.Event{}, fmt.Errorf("repository %s: %w", r.name, err)
	}

	eventID := uuid.New().String()
	evt := types.Event{
		EventID:    eventID,
		Repository: r.name,
		DataID:     id,
		Operation:  types.OpDelete,
		CreatedAt:  time.Now(),
		SyncStatus: types.SyncPending,
	}
	if err := r.store.InsertEvent(r.name, evt); err != nil {
		return types.Event{}, fmt.Errorf("repository %s: %w", r.name, err)
	}

	if r.handoff != nil {
		r.handoff(r.name, evt)
	}
	return evt, nil
}

// Get returns the application value stored for id.
func (r *Repository[T]) Get(id string) (T, error) {
	var zero T
	rec, err := r.store.GetByID(r.name, id)
	if err != nil {
		return zero, fmt.Errorf("repository %s: %w", r.name, err)
	}
	return r.fromData(rec.Data)
}

// QueryBuilder accumulates filters/sort/page before compiling to a
// types.Query.
type QueryBuilder[T any] struct {
	repo *Repository[T]
	q    types.Query
}

// Query starts a QueryBuilder for this repository.
func (r *Repository[T]) Query() *QueryBuilder[T] {
	return &QueryBuilder[T]{repo: r}
}

// Where adds a filter.
func (b *QueryBuilder[T]) Where(field string, op types.Operator, value interface{}) *QueryBuilder[T] {
	b.q.Filters = append(b.q.Filters, types.Filter{Field: field, Op: op, Value: value})
	return b
}

// OrderBy adds a sort key.
func (b *QueryBuilder[T]) OrderBy(field string, dir types.SortDirection) *QueryBuilder[T] {
	b.q.Sort = append(b.q.Sort, types.SortKey{Field: field, Direction: dir})
	return b
}

// Limit caps the number of returned rows.
func (b *QueryBuilder[T]) Limit(n int) *QueryBuilder[T] {
	b.q.Limit = n
	return b
}

// Offset skips the first n matching rows.
func (b *QueryBuilder[T]) Offset(n int) *QueryBuilder[T] {
	b.q.Offset = n
	return b
}

// IncludeDeleted makes the query also return tombstoned rows, whose
// last event was a delete.
func (b *QueryBuilder[T]) IncludeDeleted() *QueryBuilder[T] {
	b.q.IncludeDeleted = true
	return b
}

// Run compiles and executes the query, decoding every matched record
// into T.
func (b *QueryBuilder[T]) Run() ([]T, error) {
	records, err := b.repo.store.Query(b.repo.name, b.q)
	if err != nil {
		return nil, fmt.Errorf("repository %s: %w", b.repo.name, err)
	}
	return decodeAll(b.repo, records)
}

// Watch returns a channel delivering []T every time the compiled query
// is re-evaluated, plus a cancel func.
func (b *QueryBuilder[T]) Watch() (<-chan []T, func()) {
	raw, cancel := b.repo.store.WatchQuery(b.repo.name, b.q)
	out := make(chan []T, 1)

	go func() {
		defer close(out)
		for records := range raw {
			decoded, err := decodeAll(b.repo, records)
			if err != nil {
				continue
			}
			select {
			case out <- decoded:
			default:
				select {
				case <-out:
				default:
				}
				out <- decoded
			}
		}
	}()

	return out, cancel
}

func decodeAll[T any](r *Repository[T], records []types.Record) ([]T, error) {
	out := make([]T, 0, len(records))
	for _, rec := range records {
		v, err := r.fromData(rec.Data)
		if err != nil {
			return nil, fmt.Errorf("repository %s: decoding record %s: %w", r.name, rec.ID, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// ApplyRemote merges a remote value into the local store per
// onConflict, used by Client.PullChanges.
func (r *Repository[T]) ApplyRemote(id string, remote T) (json.RawMessage, error) {
	local, err := r.Get(id)
	if err != nil {
		return r.toRecord(remote)
	}
	merged := r.conflict(local, remote)
	return r.toRecord(merged)
}

// ApplyRemoteData decodes raw remote JSON into T and applies it via
// ApplyRemote, satisfying the Handle interface so a syncclient.Client
// can merge pulled changes without knowing T.
func (r *Repository[T]) ApplyRemoteData(id string, data json.RawMessage) (json.RawMessage, error) {
	remote, err := r.fromData(data)
	if err != nil {
		return nil, fmt.Errorf("repository %s: decoding remote change: %w", r.name, err)
	}
	return r.ApplyRemote(id, remote)
}

// Handle is the type-erased view of a Repository a syncclient.Client
// needs to merge pulled remote changes without knowing T.
type Handle interface {
	Name() string
	ApplyRemoteData(id string, data json.RawMessage) (json.RawMessage, error)
}
