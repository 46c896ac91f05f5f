package repository

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/meridian-sync/meridian/pkg/storage"
	"github.com/meridian-sync/meridian/pkg/types"
	"github.com/stretchr/testify/require"
)

type task struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Done      bool      `json:"done"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func newTaskRepo(t *testing.T) *Repository[task] {
	t.Helper()
	s := storage.NewBoltStore()
	require.NoError(t, s.Initialize(t.TempDir()))
	t.Cleanup(func() { _ = s.Close() })

	repo, err := New(s, Config[task]{
		Name:    "tasks",
		IDField: "id",
		Schema:  types.Schema{"title": types.FieldText, "done": types.FieldBoolean},
		GetID:   func(tk task) string { return tk.ID },
		ToRecord: func(tk task) (json.RawMessage, error) { return json.Marshal(tk) },
		FromData: func(data json.RawMessage) (task, error) {
			var tk task
			err := json.Unmarshal(data, &tk)
			return tk, err
		},
		Conflict: func(local, remote task) task {
			if local.UpdatedAt.After(remote.UpdatedAt) {
				return local
			}
			return remote
		},
	})
	require.NoError(t, err)
	return repo
}

func TestUpsertProducesInsertThenUpdateEvent(t *testing.T) {
	repo := newTaskRepo(t)

	evt, err := repo.Upsert(task{ID: "t1", Title: "buy milk"})
	require.NoError(t, err)
	require.Equal(t, types.OpInsert, evt.Operation)
	require.Equal(t, types.SyncPending, evt.SyncStatus)

	evt2, err := repo.Upsert(task{ID: "t1", Title: "buy oat milk"})
	require.NoError(t, err)
	require.Equal(t, types.OpUpdate, evt2.Operation)
	require.NotEqual(t, evt.EventID, evt2.EventID)
}

func TestUpsertHandsOffEvent(t *testing.T) {
	repo := newTaskRepo(t)

	var received types.Event
	repo.SetEventHandoff(func(repository string, event types.Event) {
		received = event
	})

	evt, err := repo.Upsert(task{ID: "t1", Title: "buy milk"})
	require.NoError(t, err)
	require.Equal(t, evt.EventID, received.EventID)
}

func TestDeleteProducesDeleteEvent(t *testing.T) {
	repo := newTaskRepo(t)
	_, err := repo.Upsert(task{ID: "t1", Title: "buy milk"})
	require.NoError(t, err)

	evt, err := repo.Delete("t1")
	require.NoError(t, err)
	require.Equal(t, types.OpDelete, evt.Operation)

	_, err = repo.Get("t1")
	require.Error(t, err)
}

func TestQueryBuilderIncludeDeletedSurfacesTombstones(t *testing.T) {
	repo := newTaskRepo(t)
	_, err := repo.Upsert(task{ID: "t1", Title: "buy milk"})
	require.NoError(t, err)
	_, err = repo.Delete("t1")
	require.NoError(t, err)

	visible, err := repo.Query().Run()
	require.NoError(t, err)
	require.Empty(t, visible)

	withDeleted, err := repo.Query().IncludeDeleted().Run()
	require.NoError(t, err)
	require.Len(t, withDeleted, 1)
	require.Equal(t, "t1", withDeleted[0].ID)
}

func TestQueryBuilderFiltersAndSorts(t *testing.T) {
	repo := newTaskRepo(t)
	_, _ = repo.Upsert(task{ID: "t1", Title: "b", Done: false})
	_, _ = repo.Upsert(task{ID: "t2", Title: "a", Done: false})
	_, _ = repo.Upsert(task{ID: "t3", Title: "c", Done: true})

	results, err := repo.Query().
		Where("done", types.OpEq, false).
		OrderBy("title", types.SortAsc).
		Run()
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "a", results[0].Title)
	require.Equal(t, "b", results[1].Title)
}

func TestApplyRemoteUsesConflictResolver(t *testing.T) {
	repo := newTaskRepo(t)
	_, err := repo.Upsert(task{ID: "t1", Title: "local", UpdatedAt: time.Now()})
	require.NoError(t, err)

	remote := task{ID: "t1", Title: "remote", UpdatedAt: time.Now().Add(time.Hour)}
	data, err := repo.ApplyRemote("t1", remote)
	require.NoError(t, err)

	var merged task
	require.NoError(t, json.Unmarshal(data, &merged))
	require.Equal(t, "remote", merged.Title)
}

func TestApplyRemoteConflictResolverPrefersNewerLocal(t *testing.T) {
	repo := newTaskRepo(t)
	_, err := repo.Upsert(task{ID: "t1", Title: "local", UpdatedAt: time.Now().Add(time.Hour)})
	require.NoError(t, err)

	remote := task{ID: "t1", Title: "remote", UpdatedAt: time.Now()}
	data, err := repo.ApplyRemote("t1", remote)
	require.NoError(t, err)

	var merged task
	require.NoError(t, json.Unmarshal(data, &merged))
	require.Equal(t, "local", merged.Title)
}

func TestDefaultConflictResolverIsLastWriteWins(t *testing.T) {
	s := storage.NewBoltStore()
	require.NoError(t, s.Initialize(t.TempDir()))
	t.Cleanup(func() { _ = s.Close() })

	repo, err := New(s, Config[task]{
		Name:    "tasks",
		IDField: "id",
		Schema:  types.Schema{"title": types.FieldText},
		GetID:   func(tk task) string { return tk.ID },
		ToRecord: func(tk task) (json.RawMessage, error) { return json.Marshal(tk) },
		FromData: func(data json.RawMessage) (task, error) {
			var tk task
			err := json.Unmarshal(data, &tk)
			return tk, err
		},
	})
	require.NoError(t, err)

	_, err = repo.Upsert(task{ID: "t1", Title: "local", UpdatedAt: time.Now().Add(time.Hour)})
	require.NoError(t, err)

	remote := task{ID: "t1", Title: "remote", UpdatedAt: time.Now()}
	data, err := repo.ApplyRemote("t1", remote)
	require.NoError(t, err)

	var merged task
	require.NoError(t, json.Unmarshal(data, &merged))
	require.Equal(t, "local", merged.Title, "default resolver should keep the newer local value")
}
