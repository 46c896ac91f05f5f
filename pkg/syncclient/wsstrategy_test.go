package syncclient

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/meridian-sync/meridian/pkg/repository"
	"github.com/meridian-sync/meridian/pkg/storage"
	"github.com/meridian-sync/meridian/pkg/types"
	"github.com/meridian-sync/meridian/pkg/wire"
	"github.com/stretchr/testify/require"
)

type widget struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func newTestWSStrategy(t *testing.T) (*WSStrategy, *Client, *repository.Repository[widget]) {
	t.Helper()
	store := storage.NewBoltStore()
	require.NoError(t, store.Initialize(t.TempDir()))

	repo, err := repository.New(store, repository.Config[widget]{
		Name:     "widgets",
		IDField:  "id",
		Schema:   types.Schema{"name": types.FieldText},
		GetID:    func(w widget) string { return w.ID },
		ToRecord: func(w widget) (json.RawMessage, error) { return json.Marshal(w) },
		FromData: func(data json.RawMessage) (widget, error) {
			var w widget
			err := json.Unmarshal(data, &w)
			return w, err
		},
	})
	require.NoError(t, err)

	c := New(store)
	t.Cleanup(func() { _ = c.Close() })
	c.RegisterRepository(repo)

	s := NewWSStrategy(c, Config{WebsocketURL: "ws://unused.invalid"})
	return s, c, repo
}

func TestApplyAckMarksLoggedEventSynced(t *testing.T) {
	s, c, repo := newTestWSStrategy(t)

	evt, err := repo.Upsert(widget{ID: "w1", Name: "gadget"})
	require.NoError(t, err)

	pending, err := c.GetAllPendingEvents("widgets")
	require.NoError(t, err)
	require.Len(t, pending, 1)

	s.applyAck(wire.Ack{
		Type:         wire.TypeAck,
		EventIDs:     []string{evt.EventID},
		Repositories: map[string][]string{"widgets": {evt.EventID}},
	})

	pending, err = c.GetAllPendingEvents("widgets")
	require.NoError(t, err)
	require.Empty(t, pending, "acked event should no longer be pending")
}

func TestApplyAckPreservesDataIDOnLoggedEvent(t *testing.T) {
	s, c, repo := newTestWSStrategy(t)

	evt, err := repo.Upsert(widget{ID: "w1", Name: "gadget"})
	require.NoError(t, err)

	s.applyAck(wire.Ack{
		Type:         wire.TypeAck,
		EventIDs:     []string{evt.EventID},
		Repositories: map[string][]string{"widgets": {evt.EventID}},
	})

	stored, err := c.Store().GetEventByID("widgets", evt.EventID)
	require.NoError(t, err)
	require.Equal(t, "w1", stored.DataID, "updating the logged event must not drop dataId")
	require.Equal(t, types.SyncSynced, stored.SyncStatus)
}

func TestApplyAckSkipsUnknownEventIDWithoutError(t *testing.T) {
	s, _, repo := newTestWSStrategy(t)

	evt, err := repo.Upsert(widget{ID: "w1", Name: "gadget"})
	require.NoError(t, err)

	require.NotPanics(t, func() {
		s.applyAck(wire.Ack{
			Type:         wire.TypeAck,
			EventIDs:     []string{"does-not-exist"},
			Repositories: map[string][]string{"widgets": {"does-not-exist"}},
		})
	})

	// The unrelated logged event is untouched.
	pending, err := s.client.GetAllPendingEvents("widgets")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, evt.EventID, pending[0].EventID)
}

func TestApplyAckDropsFromInMemoryPendingQueue(t *testing.T) {
	s, _, _ := newTestWSStrategy(t)

	evt := types.Event{EventID: "e1", Repository: "widgets", DataID: "w1", Operation: types.OpInsert}
	s.enqueue(evt)
	require.Len(t, s.pending, 1)

	s.applyAck(wire.Ack{Type: wire.TypeAck, EventIDs: []string{"e1"}})
	require.Empty(t, s.pending)
}

func TestOnPushToRemoteEnqueuesWhenDisconnected(t *testing.T) {
	s, _, _ := newTestWSStrategy(t)

	evt := types.Event{EventID: "e1", Repository: "widgets", DataID: "w1", Operation: types.OpInsert}
	status := s.OnPushToRemote(evt)

	require.Equal(t, types.SyncPending, status)
	require.Len(t, s.pending, 1)
	require.Equal(t, "e1", s.pending[0].EventID)
}

func TestEnqueueDeduplicatesByEventID(t *testing.T) {
	s, _, _ := newTestWSStrategy(t)

	evt := types.Event{EventID: "e1", Repository: "widgets", DataID: "w1"}
	s.enqueue(evt)
	s.enqueue(evt)

	require.Len(t, s.pending, 1)
}

func TestHealthURLFromWebsocketURLRewritesScheme(t *testing.T) {
	url, ok := healthURLFromWebsocketURL("ws://127.0.0.1:7420/ws")
	require.True(t, ok)
	require.Equal(t, "http://127.0.0.1:7420/api/health", url)

	url, ok = healthURLFromWebsocketURL("wss://sync.example.com/ws")
	require.True(t, ok)
	require.Equal(t, "https://sync.example.com/api/health", url)

	_, ok = healthURLFromWebsocketURL("not a url :/\x7f")
	require.False(t, ok)
}

func TestPreflightCheckFailsWhenServerUnhealthy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	s, _, _ := newTestWSStrategy(t)
	s.cfg.WebsocketURL = "ws://" + server.Listener.Addr().String() + "/ws"

	require.Error(t, s.preflightCheck())
}

func TestPreflightCheckPassesWhenServerHealthy(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	s, _, _ := newTestWSStrategy(t)
	s.cfg.WebsocketURL = "ws://" + server.Listener.Addr().String() + "/ws"

	require.NoError(t, s.preflightCheck())
}
