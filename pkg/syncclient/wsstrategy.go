package syncclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/meridian-sync/meridian/pkg/health"
	"github.com/meridian-sync/meridian/pkg/log"
	"github.com/meridian-sync/meridian/pkg/types"
	"github.com/meridian-sync/meridian/pkg/wire"
)

// ConnState names the WSStrategy's connection state machine states.
type ConnState string

const (
	StateDisconnected   ConnState = "disconnected"
	StateConnecting     ConnState = "connecting"
	StateAuthenticating ConnState = "authenticating"
	StateConnected      ConnState = "connected"
	StateReconnecting   ConnState = "reconnecting"
)

const (
	connectTimeout = 1500 * time.Millisecond
	authTimeout    = 1500 * time.Millisecond
	pongTimeout    = 2 * time.Second
)

// Credentials carries the bearer token and any custom headers sent on
// the auth frame.
type Credentials struct {
	Token   string
	Headers map[string]string
}

// Config describes everything a host must supply to drive a
// WSStrategy.
type Config struct {
	WebsocketURL      string
	ReconnectDelay    time.Duration
	HeartbeatInterval time.Duration
	Credentials       Credentials

	// OnBuildSyncFilter returns the opaque filter map to send with
	// request_events for repository, or nil/empty to request full
	// history instead.
	OnBuildSyncFilter func(repository string) map[string]interface{}

	// OnSyncCompleted is called after a remote batch for repository has
	// been applied locally.
	OnSyncCompleted func(repository string, events []types.Event)

	// OnAuthenticationFailed is called when the server rejects an auth
	// attempt. A non-nil return replaces the strategy's credentials for
	// the next connection attempt.
	OnAuthenticationFailed func() *Credentials
}

// WSStrategy is the WebSocket-backed Strategy: the core of the sync
// engine. One instance manages one connection attempt at a time,
// reconnecting on a constant-delay timer.
type WSStrategy struct {
	client *Client
	cfg    Config

	mu    sync.Mutex
	state ConnState
	conn  *websocket.Conn

	knownRepos map[string]bool
	pending    []types.Event // in-memory queue, merged with event log on flush

	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool

	connState   atomic32
	connChanges chan bool
}

// atomic32 is a tiny mutex-guarded bool holder, kept local to avoid pulling
// in sync/atomic's generic Bool in a struct literal context above.
type atomic32 struct {
	mu sync.Mutex
	v  bool
}

func (a *atomic32) set(v bool) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	old := a.v
	a.v = v
	return old
}

func (a *atomic32) get() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.v
}

// NewWSStrategy builds a strategy bound to client, unstarted.
func NewWSStrategy(client *Client, cfg Config) *WSStrategy {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 3 * time.Second
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	return &WSStrategy{
		client:      client,
		cfg:         cfg,
		state:       StateDisconnected,
		knownRepos:  make(map[string]bool),
		connChanges: make(chan bool, 8),
	}
}

// State returns the strategy's current connection state.
func (s *WSStrategy) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start ignites the reconnect loop on a background goroutine.
func (s *WSStrategy) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	s.restorePendingFromLog()

	go s.run()
	return nil
}

// Stop halts the reconnect loop and closes any active connection, but
// leaves the strategy usable via a later Start.
func (s *WSStrategy) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	close(s.stopCh)
	conn := s.conn
	s.conn = nil
	s.setState(StateDisconnected)
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	<-s.doneCh
}

// Dispose is Stop plus release of in-memory state; the strategy is not
// reusable afterward.
func (s *WSStrategy) Dispose() {
	s.Stop()
	s.mu.Lock()
	s.pending = nil
	s.mu.Unlock()
}

func (s *WSStrategy) setState(state ConnState) {
	s.state = state
}

func (s *WSStrategy) reportConnected(connected bool) {
	s.client.ReportConnectionState(connected)
	if s.connState.set(connected) != connected {
		select {
		case s.connChanges <- connected:
		default:
		}
	}
}

// ConnectionChanges subscribes to this strategy's connection state
// transitions.
func (s *WSStrategy) ConnectionChanges() (<-chan bool, func()) {
	return s.connChanges, func() {}
}

// LatestConnectionState returns the strategy's last reported
// connection state.
func (s *WSStrategy) LatestConnectionState() bool {
	return s.connState.get()
}

// run drives the reconnect loop: connect, authenticate, run the
// read/write pumps until the connection drops, then wait
// reconnectDelay and try again. Exits when stopCh closes.
func (s *WSStrategy) run() {
	defer close(s.doneCh)

	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		if err := s.preflightCheck(); err != nil {
			log.WithComponent("wsstrategy").Debug().Err(err).Msg("preflight health check failed, scheduling retry")
			if !s.waitRetry() {
				return
			}
			continue
		}

		s.mu.Lock()
		s.setState(StateConnecting)
		s.mu.Unlock()

		conn, err := s.connect()
		if err != nil {
			log.WithComponent("wsstrategy").Warn().Err(err).Msg("connect failed, scheduling retry")
			if !s.waitRetry() {
				return
			}
			continue
		}

		s.mu.Lock()
		s.conn = conn
		s.setState(StateAuthenticating)
		s.mu.Unlock()

		if err := s.authenticate(conn); err != nil {
			log.WithComponent("wsstrategy").Warn().Err(err).Msg("authentication failed, scheduling retry")
			s.adoptAuthFailureCredentials()
			_ = conn.Close()
			s.mu.Lock()
			s.conn = nil
			s.setState(StateReconnecting)
			s.mu.Unlock()
			if !s.waitRetry() {
				return
			}
			continue
		}

		s.mu.Lock()
		s.setState(StateConnected)
		s.mu.Unlock()
		s.reportConnected(true)

		s.onConnected(conn)
		s.serve(conn) // blocks until the connection drops

		s.mu.Lock()
		s.conn = nil
		s.setState(StateReconnecting)
		s.mu.Unlock()
		s.reportConnected(false)

		if !s.waitRetry() {
			return
		}
	}
}

func (s *WSStrategy) waitRetry() bool {
	select {
	case <-s.stopCh:
		return false
	case <-time.After(s.cfg.ReconnectDelay):
		return true
	}
}

// preflightCheck probes the server's REST health endpoint before a
// connect attempt, so a dead server shows up as disconnected
// immediately rather than after a websocket handshake timeout. A
// WebsocketURL this can't derive an http(s) health URL from (not a
// ws/wss URL) skips the check entirely.
func (s *WSStrategy) preflightCheck() error {
	healthURL, ok := healthURLFromWebsocketURL(s.cfg.WebsocketURL)
	if !ok {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	result := health.NewHTTPChecker(healthURL).Check(ctx)
	if !result.Healthy {
		return fmt.Errorf("syncclient: preflight check against %s: %s", healthURL, result.Message)
	}
	return nil
}

// healthURLFromWebsocketURL rewrites a ws(s):// sync endpoint to the
// http(s):// REST health endpoint served alongside it.
func healthURLFromWebsocketURL(wsURL string) (string, bool) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return "", false
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	default:
		return "", false
	}
	u.Path = "/api/health"
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), true
}

func (s *WSStrategy) connect() (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: connectTimeout}
	conn, _, err := dialer.Dial(s.cfg.WebsocketURL, nil)
	if err != nil {
		return nil, fmt.Errorf("syncclient: dial %s: %w", s.cfg.WebsocketURL, err)
	}
	return conn, nil
}

func (s *WSStrategy) authenticate(conn *websocket.Conn) error {
	s.mu.Lock()
	creds := s.cfg.Credentials
	s.mu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(authTimeout))
	if err := conn.WriteJSON(wire.Auth{Type: wire.TypeAuth, Token: creds.Token, Headers: creds.Headers}); err != nil {
		return err
	}

	_ = conn.SetReadDeadline(time.Now().Add(authTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return err
	}

	var env wire.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("syncclient: decoding auth response: %w", err)
	}

	switch env.Type {
	case wire.TypeAuthSuccess:
		return nil
	case wire.TypeError:
		var e wire.Error
		_ = json.Unmarshal(data, &e)
		return fmt.Errorf("syncclient: auth rejected: %s", e.Message)
	default:
		return fmt.Errorf("syncclient: unexpected message during auth: %s", env.Type)
	}
}

func (s *WSStrategy) adoptAuthFailureCredentials() {
	if s.cfg.OnAuthenticationFailed == nil {
		return
	}
	if creds := s.cfg.OnAuthenticationFailed(); creds != nil {
		s.mu.Lock()
		s.cfg.Credentials = *creds
		s.mu.Unlock()
	}
}

// onConnected runs the flush-then-pull sequence spec.md requires on
// entering Connected.
func (s *WSStrategy) onConnected(conn *websocket.Conn) {
	s.flushPendingQueue(conn)
	s.requestInitialOrResumedSync(conn)
}

func (s *WSStrategy) flushPendingQueue(conn *websocket.Conn) {
	s.mu.Lock()
	inMemory := append([]types.Event(nil), s.pending...)
	s.mu.Unlock()

	byRepo := make(map[string][]types.Event)
	seen := make(map[string]bool)

	for _, e := range inMemory {
		if seen[e.EventID] {
			continue
		}
		seen[e.EventID] = true
		byRepo[e.Repository] = append(byRepo[e.Repository], e)
	}

	s.client.mu.RLock()
	repoNames := make([]string, 0, len(s.client.repos))
	for name := range s.client.repos {
		repoNames = append(repoNames, name)
	}
	s.client.mu.RUnlock()

	for _, repo := range repoNames {
		logged, err := s.client.GetAllPendingEvents(repo)
		if err != nil {
			continue
		}
		for _, e := range logged {
			if seen[e.EventID] {
				continue
			}
			seen[e.EventID] = true
			byRepo[e.Repository] = append(byRepo[e.Repository], e)
		}
	}

	for repo, events := range byRepo {
		if len(events) == 0 {
			continue
		}
		_ = s.send(conn, wire.PushEventsBatch{Type: wire.TypePushEventsBatch, Repository: repo, Events: events})
	}
}

func (s *WSStrategy) requestInitialOrResumedSync(conn *websocket.Conn) {
	s.mu.Lock()
	known := make([]string, 0, len(s.knownRepos))
	for r := range s.knownRepos {
		known = append(known, r)
	}
	s.mu.Unlock()

	if len(known) == 0 {
		_ = s.send(conn, wire.RequestAllEvents{Type: wire.TypeRequestAllEvents})
		return
	}

	for _, repo := range known {
		var filter map[string]interface{}
		if s.cfg.OnBuildSyncFilter != nil {
			filter = s.cfg.OnBuildSyncFilter(repo)
		}
		if repo == "counter_log" {
			if filter == nil {
				filter = map[string]interface{}{}
			}
			filter["limit"] = 5
		}
		if len(filter) == 0 {
			_ = s.send(conn, wire.RequestAllEvents{Type: wire.TypeRequestAllEvents, Repository: repo})
		} else {
			_ = s.send(conn, wire.RequestEvents{Type: wire.TypeRequestEvents, Repository: repo, Filter: filter})
		}
	}
}

func (s *WSStrategy) send(conn *websocket.Conn, v interface{}) error {
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteJSON(v)
}

// serve runs the heartbeat ticker and the read pump until the
// connection drops or Stop is called.
func (s *WSStrategy) serve(conn *websocket.Conn) {
	heartbeat := time.NewTicker(s.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	pongDeadline := make(chan struct{})
	pongTimer := time.NewTimer(s.cfg.HeartbeatInterval + pongTimeout)
	defer pongTimer.Stop()

	readErr := make(chan error, 1)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			s.handleInbound(conn, data)
			resetTimer(pongTimer, s.cfg.HeartbeatInterval+pongTimeout)
		}
	}()

	for {
		select {
		case <-s.stopCh:
			return
		case <-heartbeat.C:
			if err := s.send(conn, wire.Ping{Type: wire.TypePing}); err != nil {
				return
			}
		case <-pongDeadline:
			return
		case <-pongTimer.C:
			return
		case err := <-readErr:
			if err != nil {
				log.WithComponent("wsstrategy").Debug().Err(err).Msg("connection read loop ended")
			}
			return
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

func (s *WSStrategy) handleInbound(conn *websocket.Conn, data []byte) {
	var env wire.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.WithComponent("wsstrategy").Warn().Err(err).Msg("could not decode inbound message")
		return
	}

	switch env.Type {
	case wire.TypePing:
		_ = s.send(conn, wire.Pong{Type: wire.TypePong})
	case wire.TypePong:
		// handled by read-loop deadline reset
	case wire.TypeEvents:
		var msg wire.Events
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		s.recordKnownRepo(msg.Repository)
		if err := s.client.PullChanges(msg.Repository, msg.Events); err != nil {
			log.WithRepository(msg.Repository).Error().Err(err).Msg("failed to apply pulled events")
			return
		}
		if s.cfg.OnSyncCompleted != nil {
			s.cfg.OnSyncCompleted(msg.Repository, msg.Events)
		}
		_ = s.send(conn, wire.EventsReceived{Type: wire.TypeEventsReceived, Repository: msg.Repository, Count: len(msg.Events)})
	case wire.TypeAck:
		var msg wire.Ack
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		s.applyAck(msg)
	case wire.TypeSyncComplete:
		// informational only
	case wire.TypeError:
		var msg wire.Error
		_ = json.Unmarshal(data, &msg)
		log.WithComponent("wsstrategy").Warn().Str("message", msg.Message).Msg("server reported an error")
	default:
		log.WithComponent("wsstrategy").Debug().Str("type", env.Type).Msg("ignoring unknown message type")
	}
}

func (s *WSStrategy) recordKnownRepo(repo string) {
	if repo == "" {
		return
	}
	s.mu.Lock()
	s.knownRepos[repo] = true
	s.mu.Unlock()
}

func (s *WSStrategy) applyAck(msg wire.Ack) {
	s.mu.Lock()
	acked := make(map[string]bool, len(msg.EventIDs))
	for _, id := range msg.EventIDs {
		acked[id] = true
	}
	remaining := s.pending[:0]
	for _, e := range s.pending {
		if !acked[e.EventID] {
			remaining = append(remaining, e)
		}
	}
	s.pending = remaining
	s.mu.Unlock()

	for repo, ids := range msg.Repositories {
		events := make([]types.Event, 0, len(ids))
		for _, id := range ids {
			evt, err := s.client.Store().GetEventByID(repo, id)
			if err != nil {
				log.WithRepository(repo).Warn().Err(err).Str("eventId", id).Msg("acked event not found in local log")
				continue
			}
			evt.SyncStatus = types.SyncSynced
			events = append(events, *evt)
		}
		if len(events) == 0 {
			continue
		}
		if err := s.client.MarkEventsAsSynced(repo, events); err != nil {
			log.WithRepository(repo).Warn().Err(err).Msg("failed to mark events synced")
		}
	}
}

func (s *WSStrategy) restorePendingFromLog() {
	s.client.mu.RLock()
	repoNames := make([]string, 0, len(s.client.repos))
	for name := range s.client.repos {
		repoNames = append(repoNames, name)
	}
	s.client.mu.RUnlock()

	var restored []types.Event
	for _, repo := range repoNames {
		events, err := s.client.GetAllPendingEvents(repo)
		if err != nil {
			continue
		}
		restored = append(restored, events...)
	}

	s.mu.Lock()
	s.pending = append(s.pending, restored...)
	s.mu.Unlock()
}

// OnPushToRemote implements the push-path semantics of spec.md §4.5.4.
func (s *WSStrategy) OnPushToRemote(event types.Event) types.SyncStatus {
	s.mu.Lock()
	state := s.state
	conn := s.conn
	s.mu.Unlock()

	if state != StateConnected || conn == nil {
		s.enqueue(event)
		return types.SyncPending
	}

	if err := s.send(conn, wire.PushEvent{Type: wire.TypePushEvent, Repository: event.Repository, Event: event}); err != nil {
		s.enqueue(event)
		s.mu.Lock()
		s.setState(StateReconnecting)
		s.mu.Unlock()
		return types.SyncPending
	}
	return types.SyncPending
}

func (s *WSStrategy) enqueue(event types.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.pending {
		if e.EventID == event.EventID {
			return
		}
	}
	s.pending = append(s.pending, event)
}

// PullChangesToLocal is a pass-through to Client.PullChanges.
func (s *WSStrategy) PullChangesToLocal(repository string, remoteChanges []types.Event) error {
	return s.client.PullChanges(repository, remoteChanges)
}

// MarkEventsAsSynced is a pass-through to Client.MarkEventsAsSynced.
func (s *WSStrategy) MarkEventsAsSynced(repository string, events []types.Event) error {
	return s.client.MarkEventsAsSynced(repository, events)
}

// UpdateAuthToken replaces the bearer token used on the next (or, if
// Connected, immediate) auth frame.
func (s *WSStrategy) UpdateAuthToken(token string) {
	s.mu.Lock()
	s.cfg.Credentials.Token = token
	conn := s.conn
	connected := s.state == StateConnected
	s.mu.Unlock()

	if connected && conn != nil {
		_ = s.send(conn, wire.Auth{Type: wire.TypeAuth, Token: token, Headers: s.cfg.Credentials.Headers})
	}
}

// UpdateHeaders replaces the custom headers used on the next (or, if
// Connected, immediate) auth frame.
func (s *WSStrategy) UpdateHeaders(headers map[string]string) {
	s.mu.Lock()
	s.cfg.Credentials.Headers = headers
	conn := s.conn
	connected := s.state == StateConnected
	token := s.cfg.Credentials.Token
	s.mu.Unlock()

	if connected && conn != nil {
		_ = s.send(conn, wire.Auth{Type: wire.TypeAuth, Token: token, Headers: headers})
	}
}

// UpdateCredentials replaces both token and headers at once.
func (s *WSStrategy) UpdateCredentials(creds Credentials) {
	s.mu.Lock()
	s.cfg.Credentials = creds
	conn := s.conn
	connected := s.state == StateConnected
	s.mu.Unlock()

	if connected && conn != nil {
		_ = s.send(conn, wire.Auth{Type: wire.TypeAuth, Token: creds.Token, Headers: creds.Headers})
	}
}
