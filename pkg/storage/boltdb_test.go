package storage

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/meridian-sync/meridian/pkg/types"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	s := NewBoltStore()
	require.NoError(t, s.Initialize(t.TempDir()))
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.EnsureSchema("tasks", types.Schema{"title": types.FieldText, "done": types.FieldBoolean}, "id"))
	return s
}

func recordWithData(id string, data map[string]interface{}) types.Record {
	raw, _ := json.Marshal(data)
	return types.Record{ID: id, Data: raw}
}

func TestInsertAndGetByID(t *testing.T) {
	s := newTestStore(t)

	rec := recordWithData("t1", map[string]interface{}{"title": "buy milk", "done": false})
	require.NoError(t, s.Insert("tasks", rec))

	got, err := s.GetByID("tasks", "t1")
	require.NoError(t, err)
	require.Equal(t, "t1", got.ID)
}

func TestInsertRejectsEmptyID(t *testing.T) {
	s := newTestStore(t)
	err := s.Insert("tasks", recordWithData("", nil))
	require.ErrorIs(t, err, ErrInvalidID)
}

func TestGetByIDNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetByID("tasks", "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateIsUpsert(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Insert("tasks", recordWithData("t1", map[string]interface{}{"title": "v1"})))
	require.NoError(t, s.Update("tasks", recordWithData("t1", map[string]interface{}{"title": "v2"})))

	got, err := s.GetByID("tasks", "t1")
	require.NoError(t, err)
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(got.Data, &doc))
	require.Equal(t, "v2", doc["title"])
}

func TestDeleteAll(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Insert("tasks", recordWithData("t1", nil)))
	require.NoError(t, s.Insert("tasks", recordWithData("t2", nil)))

	require.NoError(t, s.DeleteAll("tasks"))

	all, err := s.GetAll("tasks")
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestDeleteTombstonesRatherThanRemoves(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Insert("tasks", recordWithData("t1", map[string]interface{}{"title": "buy milk"})))

	require.NoError(t, s.Delete("tasks", "t1"))

	_, err := s.GetByID("tasks", "t1")
	require.ErrorIs(t, err, ErrNotFound, "a tombstoned row must look not-found to a plain GetByID")

	all, err := s.GetAll("tasks")
	require.NoError(t, err)
	require.Len(t, all, 1, "GetAll still sees the tombstoned row")
	require.True(t, all[0].Deleted)
}

func TestQueryExcludesTombstonesByDefault(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Insert("tasks", recordWithData("t1", map[string]interface{}{"title": "a"})))
	require.NoError(t, s.Insert("tasks", recordWithData("t2", map[string]interface{}{"title": "b"})))
	require.NoError(t, s.Delete("tasks", "t1"))

	results, err := s.Query("tasks", types.Query{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "t2", results[0].ID)
}

func TestQueryIncludeDeletedSurfacesTombstones(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Insert("tasks", recordWithData("t1", map[string]interface{}{"title": "a"})))
	require.NoError(t, s.Delete("tasks", "t1"))

	results, err := s.Query("tasks", types.Query{IncludeDeleted: true})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.True(t, results[0].Deleted)
}

func TestDeleteAllEventsClearsLogButNotRecords(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Insert("tasks", recordWithData("t1", nil)))
	require.NoError(t, s.InsertEvent("tasks", types.Event{EventID: "e1", DataID: "t1", Operation: types.OpInsert}))

	require.NoError(t, s.DeleteAllEvents("tasks"))

	events, err := s.GetAllEvents("tasks")
	require.NoError(t, err)
	require.Empty(t, events)

	_, err = s.GetByID("tasks", "t1")
	require.NoError(t, err, "DeleteAllEvents must not touch record rows")
}

func TestEventLogAndDataIDIndex(t *testing.T) {
	s := newTestStore(t)

	evt := types.Event{
		EventID:    "e1",
		Repository: "tasks",
		DataID:     "t1",
		Operation:  types.OpInsert,
		CreatedAt:  time.Now(),
		SyncStatus: types.SyncPending,
	}
	require.NoError(t, s.InsertEvent("tasks", evt))

	byID, err := s.GetEventByID("tasks", "e1")
	require.NoError(t, err)
	require.Equal(t, "t1", byID.DataID)

	byData, err := s.GetEventByDataID("tasks", "t1")
	require.NoError(t, err)
	require.Equal(t, "e1", byData.EventID)
}

func TestInsertEventRejectsMissingIDs(t *testing.T) {
	s := newTestStore(t)
	err := s.InsertEvent("tasks", types.Event{EventID: "e1"})
	require.ErrorIs(t, err, ErrInvalidEvent)
}

func TestQueryFiltersAndSorts(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Insert("tasks", recordWithData("t1", map[string]interface{}{"title": "b", "done": false})))
	require.NoError(t, s.Insert("tasks", recordWithData("t2", map[string]interface{}{"title": "a", "done": false})))
	require.NoError(t, s.Insert("tasks", recordWithData("t3", map[string]interface{}{"title": "c", "done": true})))

	results, err := s.Query("tasks", types.Query{
		Filters: []types.Filter{{Field: "done", Op: types.OpEq, Value: false}},
		Sort:    []types.SortKey{{Field: "title", Direction: types.SortAsc}},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "t2", results[0].ID)
	require.Equal(t, "t1", results[1].ID)
}

func TestWatchQueryDeliversSnapshotsOnWrite(t *testing.T) {
	s := newTestStore(t)

	ch, cancel := s.WatchQuery("tasks", types.Query{})
	defer cancel()

	select {
	case snap := <-ch:
		require.Empty(t, snap)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for initial snapshot")
	}

	require.NoError(t, s.Insert("tasks", recordWithData("t1", nil)))

	select {
	case snap := <-ch:
		require.Len(t, snap, 1)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for post-write snapshot")
	}
}

func TestConfigValues(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.SetConfigValue("endpoint", types.NewConfigString("wss://example.test")))

	val, found, err := s.GetConfigValue("endpoint")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "wss://example.test", val.String)

	keys, err := s.GetConfigKeys()
	require.NoError(t, err)
	require.Contains(t, keys, "endpoint")

	require.NoError(t, s.RemoveConfig("endpoint"))
	_, found, err = s.GetConfigValue("endpoint")
	require.NoError(t, err)
	require.False(t, found)
}

func TestNextSequenceIsMonotonicPerRepository(t *testing.T) {
	s := newTestStore(t)

	first, err := s.NextSequence("tasks")
	require.NoError(t, err)
	second, err := s.NextSequence("tasks")
	require.NoError(t, err)
	require.Equal(t, first+1, second)

	otherRepoFirst, err := s.NextSequence("notes")
	require.NoError(t, err)
	require.Equal(t, int64(1), otherRepoFirst)
}

func TestUseNamespaceIsolatesData(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Insert("tasks", recordWithData("t1", nil)))

	require.NoError(t, s.UseNamespace("other-user"))
	require.NoError(t, s.EnsureSchema("tasks", types.Schema{}, "id"))

	_, err := s.GetByID("tasks", "t1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestOperationsBeforeInitializeFail(t *testing.T) {
	s := NewBoltStore()
	_, err := s.GetAll("tasks")
	require.ErrorIs(t, err, ErrNotInitialized)
}
