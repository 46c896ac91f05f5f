/*
Package metrics provides Prometheus metrics collection and exposition for
meridian. It defines and registers every meridian metric using the
Prometheus client library, giving observability into the server
authority's raft/event-accept path, the WebSocket hub, and the REST API,
plus the client-side sync strategy's pending-queue depth. Metrics are
exposed via an HTTP endpoint for scraping.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  Prometheus DefaultRegistry, MustRegister at package init │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Metric Categories                  │          │
	│  │                                              │          │
	│  │  Server:    repositories, events, sequences  │          │
	│  │  Raft:      leader status, peers, applied    │          │
	│  │  REST API:  request count, duration          │          │
	│  │  Accept:    accepted/duplicate, duration     │          │
	│  │  WS hub:    connections, broadcasts          │          │
	│  │  Client:    pending queue, reconnects        │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  GET /metrics, promhttp.Handler()                         │
	└────────────────────────────────────────────────────────┘

# Metrics Catalog

Server / repository metrics:

meridian_repositories_total (Gauge): total repositories known to the
server.

meridian_events_total{repository} (GaugeVec): total stored events by
repository.

meridian_max_sequence{repository} (GaugeVec): highest assigned
serverSequence by repository.

Raft / authority metrics:

meridian_raft_is_leader (Gauge): 1 if this node is the raft leader, else 0.

meridian_raft_peers_total (Gauge): total raft peers in the authority
cluster.

meridian_raft_applied_index (Gauge): last applied raft log index.

REST API metrics:

meridian_api_requests_total{method, path, status} (CounterVec): total
REST requests.

meridian_api_request_duration_seconds{method, path} (HistogramVec): REST
request duration.

Event acceptance metrics:

meridian_events_accepted_total{repository, operation} (CounterVec): total
events accepted via the raft apply path.

meridian_events_duplicate_total{repository} (CounterVec): total accept
calls that hit an already-known eventId (idempotent replay).

meridian_event_accept_duration_seconds (Histogram): time taken for the
accept path, including the raft apply round trip.

WebSocket hub metrics:

meridian_ws_connections (Gauge): current authenticated WebSocket
connections.

meridian_ws_broadcasts_total{outcome} (CounterVec): total events
broadcast over WebSocket, by outcome ("sent", "skipped", "error").

Client-side sync strategy metrics:

meridian_push_pending (Gauge): events currently sitting in the client's
in-memory pending queue.

meridian_reconnects_total (Counter): total WebSocket reconnect attempts
scheduled by a WSStrategy.

# Usage

	import "github.com/meridian-sync/meridian/pkg/metrics"

	metrics.EventsAcceptedTotal.WithLabelValues("tasks", "insert").Inc()
	metrics.WSConnections.Inc()

	timer := metrics.NewTimer()
	// ... accept the event ...
	timer.ObserveDuration(metrics.EventAcceptDuration)

	http.Handle("/metrics", metrics.Handler())

# Design Patterns

All metrics are registered at package init via MustRegister, so they
are visible on /metrics before the first scrape even if their value is
still zero. Label cardinality is kept low and bounded (repository name,
HTTP method, outcome) — never an eventId or other unbounded value.
*/
package metrics
