package syncclient

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/meridian-sync/meridian/pkg/repository"
	"github.com/meridian-sync/meridian/pkg/security"
	"github.com/meridian-sync/meridian/pkg/storage"
	"github.com/meridian-sync/meridian/pkg/types"
	"github.com/stretchr/testify/require"
)

type note struct {
	ID        string    `json:"id"`
	Body      string    `json:"body"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func newTestClient(t *testing.T) (*Client, *repository.Repository[note]) {
	t.Helper()
	store := storage.NewBoltStore()
	require.NoError(t, store.Initialize(t.TempDir()))

	repo, err := repository.New(store, repository.Config[note]{
		Name:     "notes",
		IDField:  "id",
		Schema:   types.Schema{"body": types.FieldText},
		GetID:    func(n note) string { return n.ID },
		ToRecord: func(n note) (json.RawMessage, error) { return json.Marshal(n) },
		FromData: func(data json.RawMessage) (note, error) {
			var n note
			err := json.Unmarshal(data, &n)
			return n, err
		},
	})
	require.NoError(t, err)

	c := New(store)
	t.Cleanup(func() { _ = c.Close() })
	c.RegisterRepository(repo)

	return c, repo
}

func TestPullChangesAppliesRemoteEvent(t *testing.T) {
	c, repo := newTestClient(t)

	data, err := json.Marshal(note{ID: "n1", Body: "hello"})
	require.NoError(t, err)
	seq := int64(1)

	err = c.PullChanges("notes", []types.Event{{
		EventID:        "e1",
		DataID:         "n1",
		Operation:      types.OpInsert,
		Data:           data,
		ServerSequence: &seq,
	}})
	require.NoError(t, err)

	got, err := repo.Get("n1")
	require.NoError(t, err)
	require.Equal(t, "hello", got.Body)
}

func TestPullChangesIsIdempotent(t *testing.T) {
	c, _ := newTestClient(t)

	data, err := json.Marshal(note{ID: "n1", Body: "hello"})
	require.NoError(t, err)
	evt := types.Event{EventID: "e1", DataID: "n1", Operation: types.OpInsert, Data: data}

	require.NoError(t, c.PullChanges("notes", []types.Event{evt}))
	require.NoError(t, c.PullChanges("notes", []types.Event{evt}))
}

func TestGetAllPendingEventsOnlyReturnsPending(t *testing.T) {
	c, repo := newTestClient(t)

	_, err := repo.Upsert(note{ID: "n1", Body: "a"})
	require.NoError(t, err)

	pending, err := c.GetAllPendingEvents("notes")
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, c.MarkEventsAsSynced("notes", pending))

	pending, err = c.GetAllPendingEvents("notes")
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestPersistAndLoadAuthTokenPlaintext(t *testing.T) {
	c, _ := newTestClient(t)

	require.NoError(t, c.PersistAuthToken("plain-token"))
	token, found, err := c.LoadAuthToken()
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "plain-token", token)
}

func TestPersistAndLoadAuthTokenEncrypted(t *testing.T) {
	c, _ := newTestClient(t)

	sm, err := security.NewSecretsManager(security.DeriveKeyFromDeviceID("device-1"))
	require.NoError(t, err)
	c.SetSecretsManager(sm)

	require.NoError(t, c.PersistAuthToken("secret-token"))

	val, found, err := c.Store().GetConfigValue(authTokenConfigKey)
	require.NoError(t, err)
	require.True(t, found)
	require.NotEqual(t, "secret-token", val.String)

	token, found, err := c.LoadAuthToken()
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "secret-token", token)
}

func TestConnectionStateChangesBroadcast(t *testing.T) {
	c, _ := newTestClient(t)

	sub, cancel := c.ConnectionChanges()
	defer cancel()

	c.ReportConnectionState(true)
	require.True(t, <-sub)
	require.True(t, c.LatestConnectionState())
}
