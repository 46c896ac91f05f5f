package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/meridian-sync/meridian/pkg/log"
	"github.com/meridian-sync/meridian/pkg/types"
	"github.com/meridian-sync/meridian/pkg/wire"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	wsWriteTimeout = 5 * time.Second
	wsAuthTimeout  = 5 * time.Second
)

// wsConnection is one live client connection. It implements the
// server.Connection interface so Server.Broadcast can reach it without
// depending on gorilla/websocket directly.
type wsConnection struct {
	id   string
	conn *websocket.Conn

	mu            sync.Mutex
	authenticated bool
	clientID      string
	knownRepos    map[string]bool
}

func (c *wsConnection) ID() string { return c.id }

func (c *wsConnection) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

func (c *wsConnection) KnowsRepository(repo string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.knownRepos[repo]
}

func (c *wsConnection) recordRepository(repo string) {
	c.mu.Lock()
	c.knownRepos[repo] = true
	c.mu.Unlock()
}

func (c *wsConnection) Send(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteJSON(v)
}

// HandleWebSocket upgrades the request and runs the connection's
// read loop until it disconnects or a fatal protocol error occurs.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithComponent("server").Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &wsConnection{
		id:         uuid.NewString(),
		conn:       raw,
		knownRepos: make(map[string]bool),
	}
	defer func() {
		s.UnregisterConnection(c.id)
		_ = raw.Close()
	}()

	if err := s.authenticateConnection(c); err != nil {
		log.WithComponent("server").Info().Err(err).Str("connection_id", c.id).Msg("connection failed authentication")
		return
	}

	s.RegisterConnection(c)
	log.WithComponent("server").Info().Str("connection_id", c.id).Str("client_id", c.clientID).Msg("client connected")

	for {
		_, data, err := raw.ReadMessage()
		if err != nil {
			log.WithComponent("server").Debug().Err(err).Str("connection_id", c.id).Msg("connection closed")
			return
		}
		s.dispatch(c, data)
	}
}

// authenticateConnection blocks for the first frame, which must be an
// auth message bearing a valid bearer token.
func (s *Server) authenticateConnection(c *wsConnection) error {
	_ = c.conn.SetReadDeadline(time.Now().Add(wsAuthTimeout))
	defer c.conn.SetReadDeadline(time.Time{})

	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("reading auth frame: %w", err)
	}

	var auth wire.Auth
	if err := json.Unmarshal(data, &auth); err != nil || auth.Type != wire.TypeAuth {
		_ = c.Send(wire.Error{Type: wire.TypeError, Message: "expected auth message"})
		return fmt.Errorf("expected auth message, got malformed or wrong-type frame")
	}

	clientID, err := s.Tokens.ValidateToken(auth.Token)
	if err != nil {
		_ = c.Send(wire.Error{Type: wire.TypeError, Message: "authentication failed"})
		return fmt.Errorf("validating token: %w", err)
	}

	c.mu.Lock()
	c.authenticated = true
	c.clientID = clientID
	c.mu.Unlock()

	return c.Send(wire.AuthSuccess{Type: wire.TypeAuthSuccess})
}

// dispatch decodes one frame's type discriminator and routes it to the
// matching handler. Unknown types are logged and ignored, matching the
// client side's own tolerance for forward-compatible message types.
func (s *Server) dispatch(c *wsConnection, data []byte) {
	var env wire.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.WithComponent("server").Warn().Err(err).Str("connection_id", c.id).Msg("malformed frame")
		return
	}

	switch env.Type {
	case wire.TypePing:
		_ = c.Send(wire.Pong{Type: wire.TypePong})
	case wire.TypePong:
	case wire.TypePushEvent:
		s.handlePushEvent(c, data)
	case wire.TypePushEventsBatch:
		s.handlePushEventsBatch(c, data)
	case wire.TypeRequestAllEvents:
		s.handleRequestAllEvents(c, data)
	case wire.TypeRequestEvents:
		s.handleRequestEvents(c, data)
	case wire.TypeEventsReceived:
	default:
		log.WithComponent("server").Debug().Str("type", env.Type).Msg("ignoring unrecognized message type")
	}
}

func (s *Server) handlePushEvent(c *wsConnection, data []byte) {
	var msg wire.PushEvent
	if err := json.Unmarshal(data, &msg); err != nil {
		_ = c.Send(wire.Error{Type: wire.TypeError, Message: "malformed push_event"})
		return
	}

	accepted, err := s.Accept(msg.Repository, msg.Event)
	if err != nil {
		_ = c.Send(wire.Error{Type: wire.TypeError, Message: err.Error()})
		return
	}

	c.recordRepository(msg.Repository)
	_ = c.Send(wire.Ack{Type: wire.TypeAck, EventIDs: []string{accepted.EventID}, Repositories: map[string][]string{msg.Repository: {accepted.EventID}}})
	s.Broadcast(msg.Repository, []types.Event{accepted}, c.id)
}

func (s *Server) handlePushEventsBatch(c *wsConnection, data []byte) {
	var msg wire.PushEventsBatch
	if err := json.Unmarshal(data, &msg); err != nil {
		_ = c.Send(wire.Error{Type: wire.TypeError, Message: "malformed push_events_batch"})
		return
	}

	accepted := make([]types.Event, 0, len(msg.Events))
	acceptedIDs := make([]string, 0, len(msg.Events))
	for _, evt := range msg.Events {
		out, err := s.Accept(msg.Repository, evt)
		if err != nil {
			log.WithComponent("server").Warn().Err(err).Str("repository", msg.Repository).Str("event_id", evt.EventID).Msg("batch accept failed")
			continue
		}
		accepted = append(accepted, out)
		acceptedIDs = append(acceptedIDs, out.EventID)
	}

	c.recordRepository(msg.Repository)
	_ = c.Send(wire.Ack{Type: wire.TypeAck, EventIDs: acceptedIDs, Repositories: map[string][]string{msg.Repository: acceptedIDs}})
	if len(accepted) > 0 {
		s.Broadcast(msg.Repository, accepted, c.id)
	}
}

func (s *Server) handleRequestAllEvents(c *wsConnection, data []byte) {
	var msg wire.RequestAllEvents
	if err := json.Unmarshal(data, &msg); err != nil {
		_ = c.Send(wire.Error{Type: wire.TypeError, Message: "malformed request_all_events"})
		return
	}

	repos := s.knownRepositories()
	if msg.Repository != "" {
		repos = []string{msg.Repository}
	}

	for _, repo := range repos {
		events, err := s.FetchEvents(repo, 0, 0)
		if err != nil {
			_ = c.Send(wire.Error{Type: wire.TypeError, Message: err.Error()})
			continue
		}
		c.recordRepository(repo)
		_ = c.Send(wire.Events{Type: wire.TypeEvents, Repository: repo, Events: events})
	}
	_ = c.Send(wire.SyncComplete{Type: wire.TypeSyncComplete})
}

func (s *Server) handleRequestEvents(c *wsConnection, data []byte) {
	var msg wire.RequestEvents
	if err := json.Unmarshal(data, &msg); err != nil {
		_ = c.Send(wire.Error{Type: wire.TypeError, Message: "malformed request_events"})
		return
	}

	var afterSequence int64
	if v, ok := msg.Filter["afterSequence"]; ok {
		if f, ok := v.(float64); ok {
			afterSequence = int64(f)
		}
	}
	limit := 0
	if v, ok := msg.Filter["limit"]; ok {
		if f, ok := v.(float64); ok {
			limit = int(f)
		}
	}

	events, err := s.FetchEvents(msg.Repository, afterSequence, limit)
	if err != nil {
		_ = c.Send(wire.Error{Type: wire.TypeError, Message: err.Error()})
		return
	}

	c.recordRepository(msg.Repository)
	_ = c.Send(wire.Events{Type: wire.TypeEvents, Repository: msg.Repository, Events: events})
	_ = c.Send(wire.SyncComplete{Type: wire.TypeSyncComplete, Repository: msg.Repository})
}

// knownRepositories returns every repository name the FSM has been
// told about via RegisterRepository.
func (s *Server) knownRepositories() []string {
	s.fsm.mu.RLock()
	defer s.fsm.mu.RUnlock()

	out := make([]string, 0, len(s.fsm.repos))
	for repo := range s.fsm.repos {
		out = append(out, repo)
	}
	return out
}
