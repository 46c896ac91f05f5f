package server

import (
	"fmt"
	"testing"

	"github.com/meridian-sync/meridian/pkg/types"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(Config{NodeID: "node-1", BindAddr: "127.0.0.1:0", DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.store.Close() })
	require.NoError(t, s.RegisterRepository("tasks", types.Schema{"title": types.FieldText}, "id"))
	require.NoError(t, s.RegisterRepository("counter_log", types.Schema{"count": types.FieldInteger}, "id"))
	return s
}

func seq(n int64) *int64 { return &n }

func insertEvent(t *testing.T, s *Server, repo string, evt types.Event) {
	t.Helper()
	require.NoError(t, s.store.InsertEvent(repo, evt))
}

func TestFetchEventsDedupsByDataIDKeepingHighestSequence(t *testing.T) {
	s := newTestServer(t)

	insertEvent(t, s, "tasks", types.Event{EventID: "e1", DataID: "t1", ServerSequence: seq(1), Operation: types.OpInsert})
	insertEvent(t, s, "tasks", types.Event{EventID: "e2", DataID: "t1", ServerSequence: seq(2), Operation: types.OpUpdate})
	insertEvent(t, s, "tasks", types.Event{EventID: "e3", DataID: "t2", ServerSequence: seq(3), Operation: types.OpInsert})

	events, err := s.FetchEvents("tasks", 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, "e2", events[0].EventID)
	require.Equal(t, "e3", events[1].EventID)
}

func TestFetchEventsRespectsAfterSequence(t *testing.T) {
	s := newTestServer(t)

	insertEvent(t, s, "tasks", types.Event{EventID: "e1", DataID: "t1", ServerSequence: seq(1), Operation: types.OpInsert})
	insertEvent(t, s, "tasks", types.Event{EventID: "e2", DataID: "t2", ServerSequence: seq(2), Operation: types.OpInsert})

	events, err := s.FetchEvents("tasks", 1, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "e2", events[0].EventID)
}

func TestFetchEventsAppliesLimitAfterDedup(t *testing.T) {
	s := newTestServer(t)

	for i := int64(1); i <= 5; i++ {
		insertEvent(t, s, "tasks", types.Event{EventID: eventIDFor(i), DataID: eventIDFor(i), ServerSequence: seq(i), Operation: types.OpInsert})
	}

	events, err := s.FetchEvents("tasks", 0, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, int64(1), *events[0].ServerSequence)
	require.Equal(t, int64(2), *events[1].ServerSequence)
}

func TestFetchEventsCounterLogIsDescendingAndNotDeduped(t *testing.T) {
	s := newTestServer(t)

	insertEvent(t, s, "counter_log", types.Event{EventID: "c1", DataID: "counter", ServerSequence: seq(1), Operation: types.OpInsert})
	insertEvent(t, s, "counter_log", types.Event{EventID: "c2", DataID: "counter", ServerSequence: seq(2), Operation: types.OpInsert})
	insertEvent(t, s, "counter_log", types.Event{EventID: "c3", DataID: "counter", ServerSequence: seq(3), Operation: types.OpInsert})

	events, err := s.FetchEvents("counter_log", 0, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, "c3", events[0].EventID)
	require.Equal(t, "c2", events[1].EventID)
}

func eventIDFor(n int64) string {
	return fmt.Sprintf("e%d", n)
}
