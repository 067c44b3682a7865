// Package metrics provides application-level metrics collection backed by
// a private Prometheus registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "jury"

// Result label values.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Metrics holds the collectors for one registry.
type Metrics struct {
	registry *prometheus.Registry

	rpcCalls      *prometheus.CounterVec
	rpcLatency    *prometheus.HistogramVec
	connectionOps *prometheus.CounterVec
	sessionBuilds *prometheus.CounterVec
	contractTxs   *prometheus.CounterVec
	storageErrors *prometheus.CounterVec
	connected     prometheus.Gauge
}

// Global is the process-wide metrics instance.
//
//nolint:gochecknoglobals // Intentional global for metrics access
var Global = New()

// New creates a Metrics with its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		rpcCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_calls_total",
			Help:      "JSON-RPC calls by method and result.",
		}, []string{"method", "result"}),
		rpcLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rpc_call_duration_seconds",
			Help:      "JSON-RPC call latency by method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		connectionOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_operations_total",
			Help:      "Wallet connection operations by kind and result.",
		}, []string{"op", "result"}),
		sessionBuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fhevm_instance_builds_total",
			Help:      "Encrypted computation instance builds by backend and result.",
		}, []string{"backend", "result"}),
		contractTxs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "contract_transactions_total",
			Help:      "Contract write transactions by method and result.",
		}, []string{"method", "result"}),
		storageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_errors_total",
			Help:      "Ignored key/value storage failures by operation.",
		}, []string{"op"}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "wallet_connected",
			Help:      "1 while a wallet connection is active.",
		}),
	}

	m.registry.MustRegister(
		m.rpcCalls,
		m.rpcLatency,
		m.connectionOps,
		m.sessionBuilds,
		m.contractTxs,
		m.storageErrors,
		m.connected,
	)
	return m
}

func result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}

// RecordRPCCall records an RPC call with its duration and success status.
func (m *Metrics) RecordRPCCall(method string, duration time.Duration, err error) {
	m.rpcCalls.WithLabelValues(method, result(err)).Inc()
	m.rpcLatency.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordConnectionOp records a connect, disconnect, reconnect or switch.
func (m *Metrics) RecordConnectionOp(op string, err error) {
	m.connectionOps.WithLabelValues(op, result(err)).Inc()
}

// SetConnected tracks whether a wallet is currently connected.
func (m *Metrics) SetConnected(connected bool) {
	if connected {
		m.connected.Set(1)
		return
	}
	m.connected.Set(0)
}

// RecordSessionBuild records an instance build for a backend.
func (m *Metrics) RecordSessionBuild(backend string, err error) {
	m.sessionBuilds.WithLabelValues(backend, result(err)).Inc()
}

// RecordContractTx records a contract write.
func (m *Metrics) RecordContractTx(method string, err error) {
	m.contractTxs.WithLabelValues(method, result(err)).Inc()
}

// RecordStorageError records a swallowed storage failure.
func (m *Metrics) RecordStorageError(op string) {
	m.storageErrors.WithLabelValues(op).Inc()
}

// Registry exposes the underlying registry for gathering.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler serving the registry in text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
