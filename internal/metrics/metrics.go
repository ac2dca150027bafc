package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Collector aggregates tool activity: RPC traffic, sent transactions,
// reverts and the dev chain head.
type Collector struct {
	// RPC request counts by method
	requestCounts   map[string]*uint64
	requestCountsMu sync.RWMutex

	// Latencies by method or tx label (stored as nanoseconds)
	latencies   map[string]*LatencyHistogram
	latenciesMu sync.RWMutex

	// Transactions by "method:status"
	txCounts   map[string]*uint64
	txCountsMu sync.RWMutex

	// Reverts by decoded error name
	revertCounts   map[string]*uint64
	revertCountsMu sync.RWMutex

	blockNumber uint64
	startTime   time.Time
}

// LatencyHistogram tracks latencies in buckets
type LatencyHistogram struct {
	// Buckets: [0-1ms], [1-5ms], [5-10ms], [10-25ms], [25-50ms], [50-100ms], [100-250ms], [250-500ms], [500-1000ms], [1000ms+]
	buckets [10]uint64
	sum     uint64 // nanoseconds
	count   uint64
	mu      sync.Mutex
}

// bucket boundaries in milliseconds
var bucketBoundaries = []int64{1, 5, 10, 25, 50, 100, 250, 500, 1000}

var bucketLabels = []string{
	"0-1ms", "1-5ms", "5-10ms", "10-25ms", "25-50ms",
	"50-100ms", "100-250ms", "250-500ms", "500-1000ms", "1000ms+",
}

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	return &Collector{
		requestCounts: make(map[string]*uint64),
		latencies:     make(map[string]*LatencyHistogram),
		txCounts:      make(map[string]*uint64),
		revertCounts:  make(map[string]*uint64),
		startTime:     time.Now(),
	}
}

func incr(mu *sync.RWMutex, m map[string]*uint64, key string) {
	mu.Lock()
	counter, exists := m[key]
	if !exists {
		var val uint64
		counter = &val
		m[key] = counter
	}
	mu.Unlock()

	atomic.AddUint64(counter, 1)
}

func snapshot(mu *sync.RWMutex, m map[string]*uint64) map[string]uint64 {
	out := make(map[string]uint64)
	mu.RLock()
	for k, counter := range m {
		out[k] = atomic.LoadUint64(counter)
	}
	mu.RUnlock()
	return out
}

// RecordRequest records an RPC request for the given method
func (c *Collector) RecordRequest(method string) {
	incr(&c.requestCountsMu, c.requestCounts, method)
}

// RecordTransaction records a sent transaction and its outcome
func (c *Collector) RecordTransaction(method, status string) {
	incr(&c.txCountsMu, c.txCounts, method+":"+status)
}

// RecordRevert records a revert by decoded error name
func (c *Collector) RecordRevert(name string) {
	incr(&c.revertCountsMu, c.revertCounts, name)
}

// RecordLatency records a latency sample
func (c *Collector) RecordLatency(label string, duration time.Duration) {
	c.latenciesMu.Lock()
	hist, exists := c.latencies[label]
	if !exists {
		hist = &LatencyHistogram{}
		c.latencies[label] = hist
	}
	c.latenciesMu.Unlock()

	hist.Record(duration)
}

// SetBlockNumber sets the current chain head
func (c *Collector) SetBlockNumber(n uint64) {
	atomic.StoreUint64(&c.blockNumber, n)
}

// Record records a latency value in the histogram
func (h *LatencyHistogram) Record(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ms := d.Milliseconds()

	bucketIdx := len(bucketBoundaries) // overflow
	for i, boundary := range bucketBoundaries {
		if ms < boundary {
			bucketIdx = i
			break
		}
	}

	h.buckets[bucketIdx]++
	h.sum += uint64(d.Nanoseconds())
	h.count++
}

// Metrics is a point-in-time snapshot
type Metrics struct {
	Uptime           string                  `json:"uptime"`
	UptimeSeconds    float64                 `json:"uptime_seconds"`
	RequestCounts    map[string]uint64       `json:"request_counts"`
	Latencies        map[string]LatencyStats `json:"latencies"`
	TransactionCount map[string]uint64       `json:"transactions"`
	RevertCounts     map[string]uint64       `json:"reverts"`
	BlockNumber      uint64                  `json:"block_number"`
	CollectedAt      time.Time               `json:"collected_at"`
}

// LatencyStats contains latency statistics for one label
type LatencyStats struct {
	Count   uint64            `json:"count"`
	SumMs   float64           `json:"sum_ms"`
	AvgMs   float64           `json:"avg_ms"`
	Buckets map[string]uint64 `json:"buckets"`
}

// GetMetrics returns the current metrics
func (c *Collector) GetMetrics() *Metrics {
	uptime := time.Since(c.startTime)

	latencies := make(map[string]LatencyStats)
	c.latenciesMu.RLock()
	for label, hist := range c.latencies {
		hist.mu.Lock()
		stats := LatencyStats{
			Count:   hist.count,
			SumMs:   float64(hist.sum) / float64(time.Millisecond),
			Buckets: make(map[string]uint64),
		}
		if hist.count > 0 {
			stats.AvgMs = float64(hist.sum) / float64(hist.count) / float64(time.Millisecond)
		}
		for i, count := range hist.buckets {
			if count > 0 {
				stats.Buckets[bucketLabels[i]] = count
			}
		}
		hist.mu.Unlock()
		latencies[label] = stats
	}
	c.latenciesMu.RUnlock()

	return &Metrics{
		Uptime:           uptime.Round(time.Second).String(),
		UptimeSeconds:    uptime.Seconds(),
		RequestCounts:    snapshot(&c.requestCountsMu, c.requestCounts),
		Latencies:        latencies,
		TransactionCount: snapshot(&c.txCountsMu, c.txCounts),
		RevertCounts:     snapshot(&c.revertCountsMu, c.revertCounts),
		BlockNumber:      atomic.LoadUint64(&c.blockNumber),
		CollectedAt:      time.Now(),
	}
}

// GetMetricsJSON returns the current metrics as JSON
func (c *Collector) GetMetricsJSON() ([]byte, error) {
	return json.Marshal(c.GetMetrics())
}

// Reset resets all metrics (useful for testing)
func (c *Collector) Reset() {
	c.requestCountsMu.Lock()
	c.requestCounts = make(map[string]*uint64)
	c.requestCountsMu.Unlock()

	c.latenciesMu.Lock()
	c.latencies = make(map[string]*LatencyHistogram)
	c.latenciesMu.Unlock()

	c.txCountsMu.Lock()
	c.txCounts = make(map[string]*uint64)
	c.txCountsMu.Unlock()

	c.revertCountsMu.Lock()
	c.revertCounts = make(map[string]*uint64)
	c.revertCountsMu.Unlock()

	atomic.StoreUint64(&c.blockNumber, 0)
	c.startTime = time.Now()
}
