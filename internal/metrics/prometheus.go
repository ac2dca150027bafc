package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusCollector wraps the Collector and mirrors its metrics into
// Prometheus format. All methods are safe on a nil receiver so callers can
// leave metrics disabled.
type PrometheusCollector struct {
	collector *Collector
	registry  *prometheus.Registry

	transactions   *prometheus.CounterVec
	reverts        *prometheus.CounterVec
	txConfirmation prometheus.Histogram
	rpcRequests    *prometheus.CounterVec
	rpcDuration    *prometheus.HistogramVec
	blockNumber    prometheus.Gauge
	uptimeSeconds  prometheus.Gauge

	startTime time.Time
}

var (
	defaultOnce      sync.Once
	defaultCollector *PrometheusCollector
)

// Default returns the process-wide collector
func Default() *PrometheusCollector {
	defaultOnce.Do(func() {
		defaultCollector = NewPrometheusCollector(NewCollector())
	})
	return defaultCollector
}

// NewPrometheusCollector creates a PrometheusCollector in a dedicated registry
func NewPrometheusCollector(c *Collector) *PrometheusCollector {
	reg := prometheus.NewRegistry()

	transactions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lsdctl",
		Name:      "transactions_total",
		Help:      "Transactions sent by method and outcome.",
	}, []string{"method", "status"})

	reverts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lsdctl",
		Name:      "reverts_total",
		Help:      "Reverted calls and transactions by decoded error.",
	}, []string{"error"})

	txConfirmation := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "lsdctl",
		Name:      "tx_confirmation_seconds",
		Help:      "Time from sending a transaction to its final confirmation.",
		Buckets:   []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	})

	rpcRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lsdctl",
		Name:      "rpc_requests_total",
		Help:      "JSON-RPC requests served by the dev node by method.",
	}, []string{"method"})

	rpcDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "lsdctl",
		Name:      "rpc_request_duration_seconds",
		Help:      "JSON-RPC request latency by method.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method"})

	blockNumber := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "lsdctl",
		Name:      "devchain_block_number",
		Help:      "Head block number of the in-process chain.",
	})

	uptimeSec := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "lsdctl",
		Name:      "uptime_seconds",
		Help:      "Time since the process started in seconds.",
	})

	reg.MustRegister(transactions, reverts, txConfirmation, rpcRequests, rpcDuration, blockNumber, uptimeSec)

	return &PrometheusCollector{
		collector:      c,
		registry:       reg,
		transactions:   transactions,
		reverts:        reverts,
		txConfirmation: txConfirmation,
		rpcRequests:    rpcRequests,
		rpcDuration:    rpcDuration,
		blockNumber:    blockNumber,
		uptimeSeconds:  uptimeSec,
		startTime:      time.Now(),
	}
}

// Registry returns the Prometheus registry used by this collector
func (p *PrometheusCollector) Registry() *prometheus.Registry {
	return p.registry
}

// Collector returns the underlying custom Collector
func (p *PrometheusCollector) Collector() *Collector {
	return p.collector
}

// RecordTransaction counts a sent transaction by outcome ("mined", "failed", "error")
func (p *PrometheusCollector) RecordTransaction(method, status string) {
	if p == nil {
		return
	}
	p.collector.RecordTransaction(method, status)
	p.transactions.WithLabelValues(method, status).Inc()
}

// RecordRevert counts a revert by its decoded error name
func (p *PrometheusCollector) RecordRevert(name string) {
	if p == nil {
		return
	}
	if name == "" {
		name = "unknown"
	}
	p.collector.RecordRevert(name)
	p.reverts.WithLabelValues(name).Inc()
}

// RecordConfirmation observes the send-to-confirmed latency
func (p *PrometheusCollector) RecordConfirmation(d time.Duration) {
	if p == nil {
		return
	}
	p.collector.RecordLatency("tx_confirmation", d)
	p.txConfirmation.Observe(d.Seconds())
}

// RecordRequest records a served RPC request and its latency
func (p *PrometheusCollector) RecordRequest(method string, d time.Duration) {
	if p == nil {
		return
	}
	p.collector.RecordRequest(method)
	p.collector.RecordLatency(method, d)
	p.rpcRequests.WithLabelValues(method).Inc()
	p.rpcDuration.WithLabelValues(method).Observe(d.Seconds())
}

// SetBlockNumber updates the dev chain head gauge
func (p *PrometheusCollector) SetBlockNumber(n uint64) {
	if p == nil {
		return
	}
	p.collector.SetBlockNumber(n)
	p.blockNumber.Set(float64(n))
}

// GetMetrics returns the JSON metrics from the underlying Collector
func (p *PrometheusCollector) GetMetrics() *Metrics {
	return p.collector.GetMetrics()
}

// PrometheusHandler serves the registry in the Prometheus text format
func (p *PrometheusCollector) PrometheusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.uptimeSeconds.Set(time.Since(p.startTime).Seconds())
		promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}

// JSONHandler serves the custom Collector snapshot as JSON
func (p *PrometheusCollector) JSONHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := p.collector.GetMetricsJSON()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})
}
