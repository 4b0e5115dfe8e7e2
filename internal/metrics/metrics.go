package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Redis Operations Metrics
var (
	// RedisOpsTotal tracks total Redis operations by operation type and status
	RedisOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_operations_total",
			Help: "Total Redis operations by operation and status",
		},
		[]string{"operation", "status"},
	)

	// RedisOpDuration tracks Redis operation latency in seconds
	RedisOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Redis operation duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	// RedisConnectionErrors tracks Redis connection errors
	RedisConnectionErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "redis_connection_errors_total",
			Help: "Total Redis connection errors",
		},
	)

	// CircuitBreakerStateChanges tracks circuit breaker state transitions
	CircuitBreakerStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_changes_total",
			Help: "Circuit breaker state transitions by component and new state",
		},
		[]string{"component", "state"},
	)

	// CircuitBreakerState tracks current circuit breaker state (0=closed, 1=half-open, 2=open)
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"component"},
	)
)

// Hub Metrics
var (
	// HubActiveChannels tracks number of user channels with at least one connection
	HubActiveChannels = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hub_active_channels",
			Help: "Number of user channels with at least one live connection",
		},
	)

	// HubConnectedClients tracks total number of connected WebSocket clients
	HubConnectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hub_connected_clients_total",
			Help: "Total number of connected WebSocket clients across all channels",
		},
	)

	// HubSlowClientsEvicted tracks number of slow clients evicted
	HubSlowClientsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_slow_clients_evicted_total",
			Help: "Total number of slow WebSocket clients evicted due to buffer full",
		},
	)

	// HubCommandChannelDepth tracks current command channel depth
	HubCommandChannelDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hub_command_channel_depth",
			Help: "Current command channel depth",
		},
	)

	// NoticesPublished tracks change notices published to pub/sub
	NoticesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "change_notices_published_total",
			Help: "Total change notices published by status (success/error)",
		},
		[]string{"status"},
	)

	// NoticesDelivered tracks change notices fanned out to local clients
	NoticesDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "change_notices_delivered_total",
			Help: "Total change notices fanned out to local sibling connections",
		},
	)

	// PubSubMessageLatency tracks time from pub/sub receive to WebSocket fan-out
	PubSubMessageLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pubsub_message_latency_seconds",
			Help:    "Latency from pub/sub message receive to WebSocket client send",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25},
		},
	)

	// PubSubReconnectionsTotal tracks pub/sub reconnection attempts
	PubSubReconnectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pubsub_reconnections_total",
			Help: "Total pub/sub reconnection attempts after disconnect",
		},
	)

	// PubSubSubscriptionActive tracks whether the pub/sub subscription is active (1) or disconnected (0)
	PubSubSubscriptionActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pubsub_subscription_active",
			Help: "1 if pub/sub subscription is active, 0 if disconnected",
		},
	)
)

// WebSocket Metrics
var (
	// WebSocketConnectionsCurrent tracks current active WebSocket connections
	WebSocketConnectionsCurrent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections_current",
			Help: "Current number of active WebSocket connections",
		},
	)

	// WebSocketConnectionsTotal tracks total WebSocket connection attempts by result
	WebSocketConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "websocket_connections_total",
			Help: "Total WebSocket connection attempts by result (success/error/rejected)",
		},
		[]string{"result"},
	)

	// WebSocketConnectionDuration tracks WebSocket connection duration
	WebSocketConnectionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "websocket_connection_duration_seconds",
			Help:    "WebSocket connection duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 300, 600, 1800, 3600},
		},
	)

	// WebSocketPingFailures tracks WebSocket ping failures
	WebSocketPingFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_ping_failures_total",
			Help: "Total WebSocket ping failures (client not responding)",
		},
	)

	// WebSocketConnectionsRejected tracks rejected connection attempts by reason
	WebSocketConnectionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "websocket_connections_rejected_total",
			Help: "Total WebSocket connections rejected by reason (rate_limit/per_ip_limit/global_limit/unauthorized)",
		},
		[]string{"reason"},
	)

	// WebSocketUniqueIPs tracks number of unique IP addresses with active connections
	WebSocketUniqueIPs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_unique_ips",
			Help: "Number of unique IP addresses with active WebSocket connections",
		},
	)
)

// Event Processing Metrics
var (
	// EventsTotal tracks protocol events processed by name and result
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_total",
			Help: "Total protocol events processed by event name and result (ok/noop/error/throttled)",
		},
		[]string{"event", "result"},
	)

	// EventDuration tracks event handling latency by event name
	EventDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "event_duration_seconds",
			Help:    "Event handling duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"event"},
	)
)

// Session Registry Metrics
var (
	// RegistryEntriesDeleted tracks room entries reclaimed on last disconnect
	RegistryEntriesDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "registry_entries_deleted_total",
			Help: "Total session registry entries deleted after the last connection closed",
		},
	)

	// RegistrySweepsTotal tracks background sweep runs by result
	RegistrySweepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_sweeps_total",
			Help: "Total registry sweep runs by result (success/error)",
		},
		[]string{"result"},
	)

	// RegistryOrphansReclaimed tracks orphaned room entries removed by the sweeper
	RegistryOrphansReclaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "registry_orphans_reclaimed_total",
			Help: "Total orphaned room entries removed by the background sweeper",
		},
	)
)

// Database Metrics
var (
	// DBQueryDuration tracks database query duration by query name
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"query"},
	)

	// DBConnectionsCurrent tracks current database connections by state
	DBConnectionsCurrent = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "db_connections_current",
			Help: "Current database connections by state (active/idle)",
		},
		[]string{"state"},
	)

	// DBErrorsTotal tracks database errors by query name
	DBErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_errors_total",
			Help: "Total database errors by query",
		},
		[]string{"query"},
	)
)

// Build Information Metrics
var (
	// BuildInfo is a gauge that always returns 1, with build metadata as labels
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build information with version, commit, build_time, and go_version labels (value is always 1)",
		},
		[]string{"version", "commit", "build_time", "go_version"},
	)
)

// HTTP Error Metrics
// Note: http_errors_total{type} is provided by internal/errors package
