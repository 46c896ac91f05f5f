package server

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/hashicorp/raft"
	"github.com/meridian-sync/meridian/pkg/storage"
	"github.com/meridian-sync/meridian/pkg/types"
)

// EventFSM implements the Raft finite state machine that makes the
// server authoritative: every accepted event passes through Apply,
// which raft serializes one at a time, giving the accept path the
// same atomicity per eventId that a transaction would.
type EventFSM struct {
	mu    sync.RWMutex
	store storage.Store
	repos map[string]bool
}

// NewEventFSM creates an FSM instance bound to store.
func NewEventFSM(store storage.Store) *EventFSM {
	return &EventFSM{store: store, repos: make(map[string]bool)}
}

// RegisterRepository records repo so a later Snapshot includes it.
// Called once per repository as the server declares its schema.
func (f *EventFSM) RegisterRepository(repo string) {
	f.mu.Lock()
	f.repos[repo] = true
	f.mu.Unlock()
}

// AcceptCommand is the Raft log payload for an accept-path mutation.
type AcceptCommand struct {
	Repository string      `json:"repository"`
	Event      types.Event `json:"event"`
}

// AcceptResult is returned from Apply (and surfaced via
// raft.ApplyFuture.Response()) so the caller can tell an idempotent
// replay from a freshly sequenced accept.
type AcceptResult struct {
	Event    types.Event
	Replayed bool
	Err      error
}

// Apply decodes a Raft log entry and runs the accept path: an
// eventId already on file is returned unchanged (idempotent replay);
// otherwise the repository's sequence counter is incremented, the
// event is stamped with serverSequence and persisted.
func (f *EventFSM) Apply(log *raft.Log) interface{} {
	var cmd AcceptCommand
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return AcceptResult{Err: fmt.Errorf("server: decoding raft log entry: %w", err)}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if existing, err := f.store.GetEventByID(cmd.Repository, cmd.Event.EventID); err == nil {
		return AcceptResult{Event: *existing, Replayed: true}
	}

	seq, err := f.store.NextSequence(cmd.Repository)
	if err != nil {
		return AcceptResult{Err: fmt.Errorf("server: assigning sequence: %w", err)}
	}

	evt := cmd.Event
	evt.ServerSequence = &seq
	evt.SyncStatus = types.SyncSynced

	if err := f.store.InsertEvent(cmd.Repository, evt); err != nil {
		return AcceptResult{Err: fmt.Errorf("server: persisting event: %w", err)}
	}

	if evt.Operation == types.OpDelete {
		if err := f.store.Delete(cmd.Repository, evt.DataID); err != nil {
			return AcceptResult{Err: fmt.Errorf("server: applying delete: %w", err)}
		}
	} else if len(evt.Data) > 0 {
		rec := types.Record{ID: evt.DataID, Data: evt.Data, LastEventID: evt.EventID}
		if err := f.store.Insert(cmd.Repository, rec); err != nil {
			return AcceptResult{Err: fmt.Errorf("server: applying record: %w", err)}
		}
	}

	return AcceptResult{Event: evt}
}

// eventSnapshot is the JSON shape of one repository's full log, the
// unit the FSM snapshots and restores.
type eventSnapshot struct {
	Repository string        `json:"repository"`
	Events     []types.Event `json:"events"`
}

// fsmSnapshot is a point-in-time snapshot of every known repository's
// event log.
type fsmSnapshot struct {
	Repositories []eventSnapshot `json:"repositories"`
}

// Snapshot collects every repository's event log known to the FSM, as
// declared via RegisterRepository.
func (f *EventFSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	repos := make([]string, 0, len(f.repos))
	for repo := range f.repos {
		repos = append(repos, repo)
	}
	snap := fsmSnapshot{Repositories: make([]eventSnapshot, 0, len(repos))}

	for _, repo := range repos {
		events, err := f.store.GetAllEvents(repo)
		if err != nil {
			return nil, fmt.Errorf("server: snapshotting %s: %w", repo, err)
		}
		snap.Repositories = append(snap.Repositories, eventSnapshot{Repository: repo, Events: events})
	}

	return &fsmSnapshotHolder{snap: snap}, nil
}

// Restore replaces the FSM's state with the contents of a snapshot.
func (f *EventFSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snap fsmSnapshot
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return fmt.Errorf("server: decoding snapshot: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, repoSnap := range snap.Repositories {
		f.repos[repoSnap.Repository] = true
		if err := f.store.DeleteAll(repoSnap.Repository); err != nil {
			return fmt.Errorf("server: clearing %s records before restore: %w", repoSnap.Repository, err)
		}
		// DeleteAll only clears the records bucket; the event log and
		// its by-dataId index must be cleared separately or a follower
		// restoring from a snapshot can retain stale rows that
		// FetchEvents' dedup logic would still surface alongside the
		// replayed ones.
		if err := f.store.DeleteAllEvents(repoSnap.Repository); err != nil {
			return fmt.Errorf("server: clearing %s event log before restore: %w", repoSnap.Repository, err)
		}
		for _, evt := range repoSnap.Events {
			if err := f.store.InsertEvent(repoSnap.Repository, evt); err != nil {
				return fmt.Errorf("server: restoring event %s: %w", evt.EventID, err)
			}
			if evt.Operation != types.OpDelete && len(evt.Data) > 0 {
				rec := types.Record{ID: evt.DataID, Data: evt.Data, LastEventID: evt.EventID}
				if err := f.store.Insert(repoSnap.Repository, rec); err != nil {
					return fmt.Errorf("server: restoring record %s: %w", evt.DataID, err)
				}
			}
		}
	}

	return nil
}

// fsmSnapshotHolder adapts fsmSnapshot to raft.FSMSnapshot.
type fsmSnapshotHolder struct {
	snap fsmSnapshot
}

func (s *fsmSnapshotHolder) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s.snap); err != nil {
			return err
		}
		return sink.Close()
	}()

	if err != nil {
		sink.Cancel()
	}
	return err
}

func (s *fsmSnapshotHolder) Release() {}
