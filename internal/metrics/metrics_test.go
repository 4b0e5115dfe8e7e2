package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRegistration(t *testing.T) {
	// Verify all metrics are registered without conflicts
	// This test ensures no duplicate metric names

	metrics := []prometheus.Collector{
		// Redis metrics
		RedisOpsTotal,
		RedisOpDuration,
		RedisConnectionErrors,
		CircuitBreakerStateChanges,
		CircuitBreakerState,

		// Hub metrics
		HubActiveChannels,
		HubConnectedClients,
		HubSlowClientsEvicted,
		HubCommandChannelDepth,
		NoticesPublished,
		NoticesDelivered,
		PubSubMessageLatency,
		PubSubReconnectionsTotal,
		PubSubSubscriptionActive,

		// WebSocket metrics
		WebSocketConnectionsCurrent,
		WebSocketConnectionsTotal,
		WebSocketConnectionDuration,
		WebSocketPingFailures,
		WebSocketConnectionsRejected,
		WebSocketUniqueIPs,

		// Event metrics
		EventsTotal,
		EventDuration,

		// Registry metrics
		RegistryEntriesDeleted,
		RegistrySweepsTotal,
		RegistryOrphansReclaimed,

		// Database metrics
		DBQueryDuration,
		DBConnectionsCurrent,
		DBErrorsTotal,

		// Build info
		BuildInfo,
	}

	// Verify each metric is registered
	for _, metric := range metrics {
		desc := make(chan *prometheus.Desc, 1)
		metric.Describe(desc)
		close(desc)

		require.NotNil(t, <-desc, "metric should have a valid descriptor")
	}
}

func TestCounterMetrics(t *testing.T) {
	tests := []struct {
		name    string
		metric  *prometheus.CounterVec
		labels  prometheus.Labels
		incBy   float64
		wantVal float64
	}{
		{
			name:    "redis operations counter",
			metric:  RedisOpsTotal,
			labels:  prometheus.Labels{"operation": "get", "status": "success"},
			incBy:   5,
			wantVal: 5,
		},
		{
			name:    "events counter",
			metric:  EventsTotal,
			labels:  prometheus.Labels{"event": "workedTimeSpan:end", "result": "noop"},
			incBy:   10,
			wantVal: 10,
		},
		{
			name:    "notices published counter",
			metric:  NoticesPublished,
			labels:  prometheus.Labels{"status": "success"},
			incBy:   3,
			wantVal: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Reset metric
			tt.metric.Reset()

			// Increment counter
			for i := 0; i < int(tt.incBy); i++ {
				tt.metric.With(tt.labels).Inc()
			}

			// Verify value
			val := testutil.ToFloat64(tt.metric.With(tt.labels))
			assert.Equal(t, tt.wantVal, val)
		})
	}
}

func TestGaugeMetrics(t *testing.T) {
	tests := []struct {
		name     string
		metric   prometheus.Gauge
		setValue float64
	}{
		{
			name:     "hub active channels",
			metric:   HubActiveChannels,
			setValue: 42,
		},
		{
			name:     "hub connected clients",
			metric:   HubConnectedClients,
			setValue: 150,
		},
		{
			name:     "websocket connections current",
			metric:   WebSocketConnectionsCurrent,
			setValue: 75,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Set gauge value
			tt.metric.Set(tt.setValue)

			// Verify value
			val := testutil.ToFloat64(tt.metric)
			assert.Equal(t, tt.setValue, val)
		})
	}
}

func TestGaugeVecMetrics(t *testing.T) {
	DBConnectionsCurrent.Reset()

	DBConnectionsCurrent.WithLabelValues("active").Set(3)
	DBConnectionsCurrent.WithLabelValues("idle").Set(7)

	assert.Equal(t, 3.0, testutil.ToFloat64(DBConnectionsCurrent.WithLabelValues("active")))
	assert.Equal(t, 7.0, testutil.ToFloat64(DBConnectionsCurrent.WithLabelValues("idle")))
}

func TestHistogramMetrics(t *testing.T) {
	t.Run("redis operation duration", func(t *testing.T) {
		RedisOpDuration.Reset()

		observations := []float64{0.001, 0.005, 0.010, 0.025, 0.050}
		for _, obs := range observations {
			RedisOpDuration.WithLabelValues("test_get").Observe(obs)
		}

		count := testutil.CollectAndCount(RedisOpDuration)
		assert.Greater(t, count, 0, "histogram should have metrics")
	})

	t.Run("event duration", func(t *testing.T) {
		EventDuration.Reset()

		observations := []float64{0.002, 0.003, 0.004}
		for _, obs := range observations {
			EventDuration.WithLabelValues("tasks:create").Observe(obs)
		}

		count := testutil.CollectAndCount(EventDuration)
		assert.Greater(t, count, 0, "histogram should have metrics")
	})
}

func TestMetricTypes(t *testing.T) {
	t.Run("counters only increase", func(t *testing.T) {
		RedisOpsTotal.Reset()
		counter := RedisOpsTotal.WithLabelValues("test", "success")

		counter.Inc()
		val1 := testutil.ToFloat64(counter)

		counter.Inc()
		val2 := testutil.ToFloat64(counter)

		assert.Greater(t, val2, val1, "counters should only increase")
	})

	t.Run("gauges can increase and decrease", func(t *testing.T) {
		gauge := HubConnectedClients

		gauge.Set(10)
		assert.Equal(t, 10.0, testutil.ToFloat64(gauge))

		gauge.Inc()
		assert.Equal(t, 11.0, testutil.ToFloat64(gauge))

		gauge.Dec()
		assert.Equal(t, 10.0, testutil.ToFloat64(gauge))

		gauge.Set(5)
		assert.Equal(t, 5.0, testutil.ToFloat64(gauge))
	})
}
