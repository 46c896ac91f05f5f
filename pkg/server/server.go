package server

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/meridian-sync/meridian/pkg/health"
	"github.com/meridian-sync/meridian/pkg/log"
	"github.com/meridian-sync/meridian/pkg/storage"
	"github.com/meridian-sync/meridian/pkg/types"
	"github.com/meridian-sync/meridian/pkg/wire"
)

// Connection is the narrow view the server needs of a live WebSocket
// connection to broadcast to it; websocket.go's wsConnection
// implements it.
type Connection interface {
	ID() string
	Authenticated() bool
	KnowsRepository(repo string) bool
	Send(v interface{}) error
}

// Config configures a Server.
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string
}

// Server is the authoritative side of the sync protocol: it owns the
// BoltDB-backed store, the raft log that serializes accepts, and the
// set of live WS connections it broadcasts accepted events to.
type Server struct {
	nodeID   string
	bindAddr string
	dataDir  string

	raft  *raft.Raft
	fsm   *EventFSM
	store storage.Store
	Tokens *TokenManager

	// raftChecker probes the raft transport's own TCP listener; set by
	// Bootstrap, consulted by handleReady. A server never Bootstrapped
	// (tests exercising the store/FSM in isolation) leaves this nil, so
	// readiness falls back to the leader check alone.
	raftChecker *health.TCPChecker

	connMu sync.RWMutex
	conns  map[string]Connection
}

// New creates a Server bound to a fresh BoltStore rooted at cfg.DataDir.
func New(cfg Config) (*Server, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("server: creating data directory: %w", err)
	}

	store := storage.NewBoltStore()
	if err := store.Initialize(cfg.DataDir); err != nil {
		return nil, fmt.Errorf("server: initializing store: %w", err)
	}

	return &Server{
		nodeID:   cfg.NodeID,
		bindAddr: cfg.BindAddr,
		dataDir:  cfg.DataDir,
		fsm:      NewEventFSM(store),
		store:    store,
		Tokens:   NewTokenManager(),
		conns:    make(map[string]Connection),
	}, nil
}

// RegisterRepository declares repo's schema and makes it known to the
// FSM's snapshot machinery.
func (s *Server) RegisterRepository(repo string, schema types.Schema, idField string) error {
	if err := s.store.EnsureSchema(repo, schema, idField); err != nil {
		return fmt.Errorf("server: declaring schema for %s: %w", repo, err)
	}
	s.fsm.RegisterRepository(repo)
	return nil
}

// Bootstrap stands up a single-node Raft cluster with this node as
// its only voter. Tuned for edge/LAN deployment: faster heartbeats
// and elections than hashicorp/raft's WAN-oriented defaults.
func (s *Server) Bootstrap() error {
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(s.nodeID)
	config.HeartbeatTimeout = 500 * time.Millisecond
	config.ElectionTimeout = 500 * time.Millisecond
	config.CommitTimeout = 50 * time.Millisecond
	config.LeaderLeaseTimeout = 250 * time.Millisecond

	addr, err := net.ResolveTCPAddr("tcp", s.bindAddr)
	if err != nil {
		return fmt.Errorf("server: resolving bind address: %w", err)
	}

	transport, err := raft.NewTCPTransport(s.bindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return fmt.Errorf("server: creating raft transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(s.dataDir, 2, os.Stderr)
	if err != nil {
		return fmt.Errorf("server: creating snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(s.dataDir, "raft-log.db"))
	if err != nil {
		return fmt.Errorf("server: creating raft log store: %w", err)
	}

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(s.dataDir, "raft-stable.db"))
	if err != nil {
		return fmt.Errorf("server: creating raft stable store: %w", err)
	}

	r, err := raft.NewRaft(config, s.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return fmt.Errorf("server: creating raft instance: %w", err)
	}
	s.raft = r

	configuration := raft.Configuration{
		Servers: []raft.Server{
			{ID: config.LocalID, Address: transport.LocalAddr()},
		},
	}
	if err := s.raft.BootstrapCluster(configuration).Error(); err != nil {
		return fmt.Errorf("server: bootstrapping raft cluster: %w", err)
	}

	s.raftChecker = health.NewTCPChecker(transport.LocalAddr().String()).WithTimeout(500 * time.Millisecond)

	return nil
}

// IsLeader reports whether this node currently holds raft leadership.
func (s *Server) IsLeader() bool {
	return s.raft != nil && s.raft.State() == raft.Leader
}

// LeaderAddr returns the current leader's transport address, or "" if
// none is known.
func (s *Server) LeaderAddr() string {
	if s.raft == nil {
		return ""
	}
	addr, _ := s.raft.LeaderWithID()
	return string(addr)
}

// Store exposes the underlying storage.Store, primarily for read-only
// REST handlers that don't need to go through raft.
func (s *Server) Store() storage.Store {
	return s.store
}

// RegisterConnection adds a live connection to the broadcast registry.
func (s *Server) RegisterConnection(conn Connection) {
	s.connMu.Lock()
	s.conns[conn.ID()] = conn
	s.connMu.Unlock()
}

// UnregisterConnection removes a connection from the broadcast
// registry, called when it disconnects.
func (s *Server) UnregisterConnection(id string) {
	s.connMu.Lock()
	delete(s.conns, id)
	s.connMu.Unlock()
}

// Accept runs the accept path for one event: apply it through raft
// (which serializes it against every other concurrent accept),
// returning the stamped, authoritative event. An eventId already on
// file is returned unchanged.
func (s *Server) Accept(repository string, event types.Event) (types.Event, error) {
	event.ServerSequence = nil

	cmd := AcceptCommand{Repository: repository, Event: event}
	data, err := json.Marshal(cmd)
	if err != nil {
		return types.Event{}, fmt.Errorf("server: encoding accept command: %w", err)
	}

	future := s.raft.Apply(data, 5*time.Second)
	if err := future.Error(); err != nil {
		return types.Event{}, fmt.Errorf("server: applying accept command: %w", err)
	}

	result, ok := future.Response().(AcceptResult)
	if !ok {
		return types.Event{}, fmt.Errorf("server: unexpected raft apply response")
	}
	if result.Err != nil {
		return types.Event{}, result.Err
	}

	return result.Event, nil
}

// Broadcast fans an accepted event out to every other authenticated
// connection that has shown interest in repository. Per-connection
// send failures are logged and never abort the loop.
func (s *Server) Broadcast(repository string, events []types.Event, originatorConnID string) {
	s.connMu.RLock()
	targets := make([]Connection, 0, len(s.conns))
	for id, conn := range s.conns {
		if id == originatorConnID {
			continue
		}
		if !conn.Authenticated() || !conn.KnowsRepository(repository) {
			continue
		}
		targets = append(targets, conn)
	}
	s.connMu.RUnlock()

	msg := wire.Events{Type: wire.TypeEvents, Repository: repository, Events: events}
	for _, conn := range targets {
		if err := conn.Send(msg); err != nil {
			log.WithComponent("server").Warn().
				Err(err).
				Str("connection_id", conn.ID()).
				Str("repository", repository).
				Msg("broadcast send failed")
		}
	}
}

// FetchEvents implements the fetch path: events with serverSequence >
// afterSequence, ordered ascending, deduplicated to the
// highest-sequence event per dataId — except counter_log, which is
// returned in descending order with no deduplication.
func (s *Server) FetchEvents(repository string, afterSequence int64, limit int) ([]types.Event, error) {
	all, err := s.store.GetAllEvents(repository)
	if err != nil {
		return nil, fmt.Errorf("server: listing events for %s: %w", repository, err)
	}

	filtered := make([]types.Event, 0, len(all))
	for _, e := range all {
		if e.ServerSequence != nil && *e.ServerSequence > afterSequence {
			filtered = append(filtered, e)
		}
	}

	if repository == "counter_log" {
		sort.Slice(filtered, func(i, j int) bool {
			return *filtered[i].ServerSequence > *filtered[j].ServerSequence
		})
		if limit > 0 && len(filtered) > limit {
			filtered = filtered[:limit]
		}
		return filtered, nil
	}

	latestByDataID := make(map[string]types.Event, len(filtered))
	for _, e := range filtered {
		key := e.DataID
		if key == "" {
			key = e.EventID
		}
		if cur, ok := latestByDataID[key]; !ok || *e.ServerSequence > *cur.ServerSequence {
			latestByDataID[key] = e
		}
	}

	deduped := make([]types.Event, 0, len(latestByDataID))
	for _, e := range latestByDataID {
		deduped = append(deduped, e)
	}
	sort.Slice(deduped, func(i, j int) bool {
		return *deduped[i].ServerSequence < *deduped[j].ServerSequence
	})

	if limit > 0 && len(deduped) > limit {
		deduped = deduped[:limit]
	}
	return deduped, nil
}

// Close shuts down raft and the underlying store.
func (s *Server) Close() error {
	if s.raft != nil {
		if err := s.raft.Shutdown().Error(); err != nil {
			log.WithComponent("server").Warn().Err(err).Msg("raft shutdown reported an error")
		}
	}
	return s.store.Close()
}
