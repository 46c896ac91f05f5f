package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/meridian-sync/meridian/pkg/log"
	"github.com/meridian-sync/meridian/pkg/metrics"
	"github.com/meridian-sync/meridian/pkg/storage"
	"github.com/meridian-sync/meridian/pkg/types"
	"github.com/meridian-sync/meridian/pkg/wire"
)

func isUnknownRepository(err error) bool {
	return errors.Is(err, storage.ErrUnknownRepository)
}

// NewMux builds the full HTTP surface: the REST event API under /api,
// the WebSocket upgrade endpoint, and the health/readiness/metrics
// endpoints shared with every other process in this system.
func (s *Server) NewMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/repositories", s.withAuth(s.handleRepositories))
	mux.HandleFunc("GET /api/events/{repo}", s.withAuth(s.handleGetEvents))
	mux.HandleFunc("GET /api/events/{repo}/byDataId/{dataId}", s.withAuth(s.handleGetEventByDataID))
	mux.HandleFunc("GET /api/events/{repo}/{eventId}", s.withAuth(s.handleGetEventByID))
	mux.HandleFunc("POST /api/events/{repo}", s.withAuth(s.handlePostEvent))
	mux.HandleFunc("POST /api/events/{repo}/batch", s.withAuth(s.handlePostEventsBatch))

	mux.HandleFunc("/ws", s.HandleWebSocket)

	mux.HandleFunc("/ready", s.handleReady)
	mux.Handle("/metrics", metrics.Handler())

	return withCORS(mux)
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withAuth requires a valid bearer token on the Authorization header
// before delegating to next.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if _, err := s.Tokens.ValidateToken(token); err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		next(w, r)
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, wire.RESTError{Error: message, StatusCode: status})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	storeStatus := "ok"
	if _, err := s.store.GetAllEvents("__healthcheck__"); err != nil {
		// A missing-schema error is expected here; any other failure
		// indicates the store itself is unreachable.
		if !isUnknownRepository(err) {
			status = "unhealthy"
			storeStatus = "error"
		}
	}

	s.connMu.RLock()
	activeConnections := len(s.conns)
	s.connMu.RUnlock()

	resp := wire.HealthResponse{
		Status:            status,
		Timestamp:         time.Now().UTC().Format(time.RFC3339),
		Mongodb:           storeStatus,
		ActiveConnections: activeConnections,
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.IsLeader() && s.LeaderAddr() == "" {
		writeError(w, http.StatusServiceUnavailable, "no raft leader elected")
		return
	}

	if s.raftChecker != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		result := s.raftChecker.Check(ctx)
		cancel()
		if !result.Healthy {
			writeError(w, http.StatusServiceUnavailable, "raft transport unreachable: "+result.Message)
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleRepositories(w http.ResponseWriter, r *http.Request) {
	repos := s.knownRepositories()
	summaries := make([]wire.RepositorySummary, 0, len(repos))
	for _, repo := range repos {
		events, err := s.store.GetAllEvents(repo)
		if err != nil {
			log.WithComponent("server").Warn().Err(err).Str("repository", repo).Msg("listing events for repository summary")
			continue
		}
		var maxSeq int64
		for _, e := range events {
			if e.ServerSequence != nil && *e.ServerSequence > maxSeq {
				maxSeq = *e.ServerSequence
			}
		}
		summaries = append(summaries, wire.RepositorySummary{Name: repo, EventCount: len(events), MaxSequence: maxSeq})
	}
	writeJSON(w, http.StatusOK, wire.RepositoriesResponse{Repositories: summaries, Count: len(summaries)})
}

func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	repo := r.PathValue("repo")

	var afterSequence int64
	if v := r.URL.Query().Get("afterSequence"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "afterSequence must be an integer")
			return
		}
		afterSequence = n
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}

	events, err := s.FetchEvents(repo, afterSequence, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events, "count": len(events)})
}

func (s *Server) handleGetEventByID(w http.ResponseWriter, r *http.Request) {
	repo := r.PathValue("repo")
	eventID := r.PathValue("eventId")
	if eventID == "" {
		writeError(w, http.StatusBadRequest, "eventId is required")
		return
	}

	evt, err := s.store.GetEventByID(repo, eventID)
	if err != nil || evt == nil {
		writeError(w, http.StatusNotFound, "event not found")
		return
	}
	writeJSON(w, http.StatusOK, evt)
}

func (s *Server) handleGetEventByDataID(w http.ResponseWriter, r *http.Request) {
	repo := r.PathValue("repo")
	dataID := r.PathValue("dataId")
	if dataID == "" {
		writeError(w, http.StatusBadRequest, "dataId is required")
		return
	}

	events, err := s.store.GetAllEvents(repo)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var latest *types.Event
	for i := range events {
		e := &events[i]
		if e.DataID != dataID {
			continue
		}
		if latest == nil || (e.ServerSequence != nil && (latest.ServerSequence == nil || *e.ServerSequence > *latest.ServerSequence)) {
			latest = e
		}
	}
	if latest == nil {
		writeError(w, http.StatusNotFound, "no event found for dataId")
		return
	}
	writeJSON(w, http.StatusOK, latest)
}

func (s *Server) handlePostEvent(w http.ResponseWriter, r *http.Request) {
	repo := r.PathValue("repo")

	var body struct {
		Event types.Event `json:"event"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if body.Event.EventID == "" {
		writeError(w, http.StatusBadRequest, "eventId is required")
		return
	}

	accepted, err := s.Accept(repo, body.Event)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidEvent) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.Broadcast(repo, []types.Event{accepted}, "")
	writeJSON(w, http.StatusCreated, accepted)
}

func (s *Server) handlePostEventsBatch(w http.ResponseWriter, r *http.Request) {
	repo := r.PathValue("repo")

	var body wire.EventsBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	accepted := make([]types.Event, 0, len(body.Events))
	for _, evt := range body.Events {
		if evt.EventID == "" {
			log.WithComponent("server").Warn().Str("repository", repo).Msg("batch entry missing eventId, skipping")
			continue
		}
		out, err := s.Accept(repo, evt)
		if err != nil {
			log.WithComponent("server").Warn().Err(err).Str("repository", repo).Str("event_id", evt.EventID).Msg("batch accept failed")
			continue
		}
		accepted = append(accepted, out)
	}

	if len(accepted) == 0 && len(body.Events) > 0 {
		writeError(w, http.StatusBadRequest, "no events in batch were valid")
		return
	}

	if len(accepted) > 0 {
		s.Broadcast(repo, accepted, "")
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"accepted": accepted, "count": len(accepted)})
}
