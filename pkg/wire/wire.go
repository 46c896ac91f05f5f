// Package wire defines the JSON message set exchanged between a
// syncclient and a server over WebSocket, and the REST error/response
// envelopes exchanged over HTTP.
package wire

import "github.com/meridian-sync/meridian/pkg/types"

// Message types, used as the "type" discriminator on every WS frame.
const (
	TypeAuth              = "auth"
	TypeAuthSuccess       = "auth_success"
	TypePushEvent         = "push_event"
	TypePushEventsBatch   = "push_events_batch"
	TypeRequestAllEvents  = "request_all_events"
	TypeRequestEvents     = "request_events"
	TypePing              = "ping"
	TypePong              = "pong"
	TypeEventsReceived    = "events_received"
	TypeEvents            = "events"
	TypeAck               = "ack"
	TypeSyncComplete      = "sync_complete"
	TypeError             = "error"
)

// Envelope is the common shape every inbound message is first decoded
// into, just far enough to read the type discriminator before
// dispatching to the concrete payload.
type Envelope struct {
	Type string `json:"type"`
}

// Auth is sent by the client on every new connection.
type Auth struct {
	Type    string            `json:"type"`
	Token   string            `json:"token,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// AuthSuccess transitions the client's state machine to Connected.
type AuthSuccess struct {
	Type string `json:"type"`
}

// PushEvent carries a single locally-produced event to the server.
type PushEvent struct {
	Type       string      `json:"type"`
	Repository string      `json:"repository"`
	Event      types.Event `json:"event"`
}

// PushEventsBatch carries the pending queue flushed on reconnect,
// grouped by repository.
type PushEventsBatch struct {
	Type       string        `json:"type"`
	Repository string        `json:"repository"`
	Events     []types.Event `json:"events"`
}

// RequestAllEvents asks the server for a repository's full history
// (or every known repository's, if Repository is empty).
type RequestAllEvents struct {
	Type       string `json:"type"`
	Repository string `json:"repository,omitempty"`
}

// RequestEvents asks the server for a repository's changes matching an
// opaque filter, typically {"afterSequence": n}.
type RequestEvents struct {
	Type       string                 `json:"type"`
	Repository string                 `json:"repository"`
	Filter     map[string]interface{} `json:"filter,omitempty"`
}

// Ping/Pong are heartbeat frames, identical in shape.
type Ping struct {
	Type string `json:"type"`
}

type Pong struct {
	Type string `json:"type"`
}

// EventsReceived is sent after a remote batch has been applied
// locally.
type EventsReceived struct {
	Type       string `json:"type"`
	Repository string `json:"repository"`
	Count      int    `json:"count"`
}

// Events carries a server-originated batch of events for one
// repository, inbound to the client.
type Events struct {
	Type       string        `json:"type"`
	Repository string        `json:"repository"`
	Events     []types.Event `json:"events"`
}

// Ack confirms server-side acceptance of previously pushed events.
type Ack struct {
	Type         string              `json:"type"`
	EventIDs     []string            `json:"eventIds"`
	Repositories map[string][]string `json:"repositories"`
}

// SyncComplete is a terminal, informational marker for an initial
// request_all_events/request_events exchange.
type SyncComplete struct {
	Type       string `json:"type"`
	Repository string `json:"repository,omitempty"`
}

// Error is sent by the server when a request or the auth attempt
// fails.
type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// RESTError is the JSON body returned by REST endpoints on failure.
type RESTError struct {
	Error      string `json:"error"`
	StatusCode int    `json:"statusCode"`
}

// RepositorySummary is one entry of the GET /api/repositories response.
type RepositorySummary struct {
	Name        string `json:"name"`
	EventCount  int    `json:"eventCount"`
	MaxSequence int64  `json:"maxSequence"`
}

// RepositoriesResponse is the full GET /api/repositories response body.
type RepositoriesResponse struct {
	Repositories []RepositorySummary `json:"repositories"`
	Count        int                 `json:"count"`
}

// HealthResponse is the GET /api/health response body. The "mongodb"
// field name is preserved verbatim from the external interface even
// though the engine underneath is BoltDB: it reports the same
// store-reachability boolean the field name always meant.
type HealthResponse struct {
	Status            string `json:"status"`
	Timestamp         string `json:"timestamp"`
	Mongodb           string `json:"mongodb"`
	ActiveConnections int    `json:"activeConnections"`
}

// EventsBatchRequest is the POST /api/events/{repo}/batch request body.
type EventsBatchRequest struct {
	Events []types.Event `json:"events"`
}
