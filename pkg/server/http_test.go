package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/meridian-sync/meridian/pkg/types"
	"github.com/meridian-sync/meridian/pkg/wire"
	"github.com/stretchr/testify/require"
)

// newLiveTestServer bootstraps a single-node raft cluster so Accept can
// actually commit, unlike newTestServer's bare store-only fixture.
func newLiveTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(Config{NodeID: "node-1", BindAddr: "127.0.0.1:0", DataDir: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, s.RegisterRepository("widgets", types.Schema{"name": types.FieldText}, "id"))
	require.NoError(t, s.Bootstrap())
	t.Cleanup(func() { _ = s.Close() })

	require.Eventually(t, s.IsLeader, 2*time.Second, 10*time.Millisecond, "node never became raft leader")
	return s
}

func authedToken(t *testing.T, s *Server) string {
	t.Helper()
	at, err := s.Tokens.GenerateToken("test-client", time.Hour)
	require.NoError(t, err)
	return at.Token
}

func doRequest(mux http.Handler, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestRoutesAreMountedUnderAPIBase(t *testing.T) {
	s := newLiveTestServer(t)
	mux := s.NewMux()
	token := authedToken(t, s)

	rec := doRequest(mux, http.MethodGet, "/api/repositories", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(mux, http.MethodGet, "/repositories", token, nil)
	require.Equal(t, http.StatusNotFound, rec.Code, "unprefixed REST path should no longer resolve")
}

func TestHandlePostEventReturns201OnSuccess(t *testing.T) {
	s := newLiveTestServer(t)
	mux := s.NewMux()
	token := authedToken(t, s)

	body := map[string]interface{}{
		"event": types.Event{
			EventID:   "e1",
			DataID:    "w1",
			Operation: types.OpInsert,
			Data:      json.RawMessage(`{"name":"gadget"}`),
		},
	}
	rec := doRequest(mux, http.MethodPost, "/api/events/widgets", token, body)
	require.Equal(t, http.StatusCreated, rec.Code)

	var accepted types.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
	require.Equal(t, "e1", accepted.EventID)
	require.NotNil(t, accepted.ServerSequence)
}

func TestHandlePostEventMissingEventIDReturns400(t *testing.T) {
	s := newLiveTestServer(t)
	mux := s.NewMux()
	token := authedToken(t, s)

	body := map[string]interface{}{
		"event": types.Event{
			DataID:    "w1",
			Operation: types.OpInsert,
			Data:      json.RawMessage(`{"name":"gadget"}`),
		},
	}
	rec := doRequest(mux, http.MethodPost, "/api/events/widgets", token, body)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var errResp wire.RESTError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	require.Equal(t, http.StatusBadRequest, errResp.StatusCode)
}

func TestHandlePostEventsBatchReturns201OnSuccess(t *testing.T) {
	s := newLiveTestServer(t)
	mux := s.NewMux()
	token := authedToken(t, s)

	body := wire.EventsBatchRequest{Events: []types.Event{
		{EventID: "b1", DataID: "w1", Operation: types.OpInsert, Data: json.RawMessage(`{"name":"a"}`)},
		{EventID: "b2", DataID: "w2", Operation: types.OpInsert, Data: json.RawMessage(`{"name":"b"}`)},
	}}
	rec := doRequest(mux, http.MethodPost, "/api/events/widgets/batch", token, body)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, float64(2), resp["count"])
}

func TestHandlePostEventRequiresAuth(t *testing.T) {
	s := newLiveTestServer(t)
	mux := s.NewMux()

	rec := doRequest(mux, http.MethodPost, "/api/events/widgets", "", map[string]interface{}{
		"event": types.Event{EventID: "e1", DataID: "w1", Operation: types.OpInsert},
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleHealthIsUnauthenticated(t *testing.T) {
	s := newLiveTestServer(t)
	mux := s.NewMux()

	rec := doRequest(mux, http.MethodGet, "/api/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleReadyChecksRaftTransport(t *testing.T) {
	s := newLiveTestServer(t)
	mux := s.NewMux()

	rec := doRequest(mux, http.MethodGet, "/ready", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}
