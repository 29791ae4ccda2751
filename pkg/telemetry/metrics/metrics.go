package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "relay"

// Metrics owns the registry and the per-component collectors.
type Metrics struct {
	registry *prometheus.Registry

	// Pool tracks the upstream client pool.
	Pool *PoolMetrics

	// Relay tracks WebSocket connections and transactions.
	Relay *RelayMetrics
}

// PoolMetrics tracks the upstream client pool.
//
// Metrics:
//   - relay_pool_clients: currently pooled clients
//   - relay_pool_inflight_calls: upstream calls in flight
//   - relay_pool_evictions_total: LRU evictions
//   - relay_pool_requests_total: upstream requests by mode
type PoolMetrics struct {
	ActiveClients prometheus.Gauge
	InFlight      prometheus.Gauge
	Evictions     prometheus.Counter
	Requests      *prometheus.CounterVec
}

// RelayMetrics tracks the connection multiplexer.
//
// Metrics:
//   - relay_ws_connections: open WebSocket connections
//   - relay_ws_transactions: chat transactions in flight
//   - relay_ws_frames_total: outbound frames by kind
//   - relay_ws_transaction_errors_total: transactions ended by upstream failure
type RelayMetrics struct {
	ActiveConnections  prometheus.Gauge
	ActiveTransactions prometheus.Gauge
	Frames             *prometheus.CounterVec
	TransactionErrors  prometheus.Counter
}

// New creates and registers all collectors on a fresh registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	pool := &PoolMetrics{
		ActiveClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "clients",
			Help:      "Number of currently pooled upstream clients",
		}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "inflight_calls",
			Help:      "Number of upstream calls currently in flight",
		}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "evictions_total",
			Help:      "Total number of LRU client evictions",
		}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "requests_total",
			Help:      "Total upstream requests by mode (complete, stream)",
		}, []string{"mode"}),
	}
	registry.MustRegister(pool.ActiveClients, pool.InFlight, pool.Evictions, pool.Requests)

	relay := &RelayMetrics{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "connections",
			Help:      "Number of open WebSocket connections",
		}),
		ActiveTransactions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "transactions",
			Help:      "Number of chat transactions in flight",
		}),
		Frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "frames_total",
			Help:      "Total outbound frames by kind (fragment, finished)",
		}, []string{"kind"}),
		TransactionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "transaction_errors_total",
			Help:      "Total transactions terminated by an upstream failure",
		}),
	}
	registry.MustRegister(relay.ActiveConnections, relay.ActiveTransactions, relay.Frames, relay.TransactionErrors)

	return &Metrics{registry: registry, Pool: pool, Relay: relay}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
