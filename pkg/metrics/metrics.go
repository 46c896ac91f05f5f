package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Repository metrics
	RepositoriesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "meridian_repositories_total",
			Help: "Total number of repositories known to the server",
		},
	)

	EventsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "meridian_events_total",
			Help: "Total number of stored events by repository",
		},
		[]string{"repository"},
	)

	MaxSequence = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "meridian_max_sequence",
			Help: "Highest assigned serverSequence by repository",
		},
		[]string{"repository"},
	)

	// Raft / authority metrics
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "meridian_raft_is_leader",
			Help: "Whether this node is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "meridian_raft_peers_total",
			Help: "Total number of Raft peers in the authority cluster",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "meridian_raft_applied_index",
			Help: "Last applied Raft log index",
		},
	)

	// REST API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meridian_api_requests_total",
			Help: "Total number of REST API requests by method, path and status",
		},
		[]string{"method", "path", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "meridian_api_request_duration_seconds",
			Help:    "REST API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Event acceptance metrics
	EventsAcceptedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meridian_events_accepted_total",
			Help: "Total number of events accepted by the server, by repository and operation",
		},
		[]string{"repository", "operation"},
	)

	EventsDuplicateTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meridian_events_duplicate_total",
			Help: "Total number of accept calls that hit an already-known eventId",
		},
		[]string{"repository"},
	)

	EventAcceptDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "meridian_event_accept_duration_seconds",
			Help:    "Time taken for the accept path (raft apply included) in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// WebSocket hub metrics
	WSConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "meridian_ws_connections",
			Help: "Current number of authenticated WebSocket connections",
		},
	)

	WSBroadcastsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meridian_ws_broadcasts_total",
			Help: "Total number of events broadcast over WebSocket, by outcome",
		},
		[]string{"outcome"},
	)

	// Client-side sync strategy metrics (registered here; no package in this module updates them)
	PushPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "meridian_push_pending",
			Help: "Current number of events sitting in the client's in-memory pending queue",
		},
	)

	ReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "meridian_reconnects_total",
			Help: "Total number of WebSocket reconnect attempts scheduled",
		},
	)
)

func init() {
	prometheus.MustRegister(RepositoriesTotal)
	prometheus.MustRegister(EventsTotal)
	prometheus.MustRegister(MaxSequence)
	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(RaftPeers)
	prometheus.MustRegister(RaftAppliedIndex)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(EventsAcceptedTotal)
	prometheus.MustRegister(EventsDuplicateTotal)
	prometheus.MustRegister(EventAcceptDuration)
	prometheus.MustRegister(WSConnections)
	prometheus.MustRegister(WSBroadcastsTotal)
	prometheus.MustRegister(PushPending)
	prometheus.MustRegister(ReconnectsTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
