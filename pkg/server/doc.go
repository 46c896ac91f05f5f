// Package server is the authoritative side of the sync protocol: it
// accepts events from WebSocket and REST clients, serializes them
// through a raft log so every accept gets a single, monotonically
// increasing serverSequence, and broadcasts accepted events back out
// to every other connected client.
//
// Server bootstraps a single-node hashicorp/raft instance by default,
// backed by raft-boltdb log/stable stores and a BoltDB event store.
// EventFSM is the raft.FSM: Apply assigns serverSequence and persists
// the event, Snapshot/Restore serialize and replay the full event log
// per repository. Raft's own serialization of Apply calls is what
// makes the accept path atomic per eventId, without a second lock.
//
// TokenManager issues and validates the bearer tokens used both for
// the WebSocket auth frame and the REST Authorization header.
//
// websocket.go upgrades and drives one connection's lifecycle: an
// auth frame must arrive first, after which push_event,
// push_events_batch, request_all_events, request_events and heartbeat
// frames are dispatched to Server's Accept/FetchEvents/Broadcast.
//
// http.go exposes the same operations over a plain net/http.ServeMux,
// mounted under /api: GET /api/repositories, GET/POST /api/events/{repo},
// GET /api/events/{repo}/{eventId}, GET /api/events/{repo}/byDataId/
// {dataId}, POST /api/events/{repo}/batch, GET /api/health, plus the
// unprefixed operational endpoints /ws, /ready and /metrics.
package server
