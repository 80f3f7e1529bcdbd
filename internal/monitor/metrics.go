package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// SystemMetrics tracks relay throughput and latency.
type SystemMetrics struct {
	// Latency histograms
	ReconcileLatency *LatencyHistogram
	GatewayLatency   *LatencyHistogram
	APILatency       *LatencyHistogram

	// Counters
	signalsReceived uint64
	signalsIgnored  uint64
	reconciliations uint64
	gatewayErrors   uint64
	notifyFailures  uint64
	apiRequests     uint64
	apiErrors       uint64

	startedAt time.Time
}

// LatencyHistogram tracks latency samples with a sliding window and lazily
// recomputed stats.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// NewSystemMetrics creates a metrics instance.
func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{
		ReconcileLatency: NewLatencyHistogram(1000),
		GatewayLatency:   NewLatencyHistogram(1000),
		APILatency:       NewLatencyHistogram(1000),
		startedAt:        time.Now(),
	}
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95, p99. Recomputes only when samples
// have changed since the last call.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false

	return h.cachedStats
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

func (m *SystemMetrics) IncrementSignals()        { atomic.AddUint64(&m.signalsReceived, 1) }
func (m *SystemMetrics) IncrementIgnored()        { atomic.AddUint64(&m.signalsIgnored, 1) }
func (m *SystemMetrics) IncrementReconciles()     { atomic.AddUint64(&m.reconciliations, 1) }
func (m *SystemMetrics) IncrementGatewayErrors()  { atomic.AddUint64(&m.gatewayErrors, 1) }
func (m *SystemMetrics) IncrementNotifyFailures() { atomic.AddUint64(&m.notifyFailures, 1) }
func (m *SystemMetrics) IncrementAPI()            { atomic.AddUint64(&m.apiRequests, 1) }
func (m *SystemMetrics) IncrementAPIErrors()      { atomic.AddUint64(&m.apiErrors, 1) }

// Snapshot is a point-in-time view for the status API.
type Snapshot struct {
	UptimeSeconds   float64      `json:"uptime_seconds"`
	SignalsReceived uint64       `json:"signals_received"`
	SignalsIgnored  uint64       `json:"signals_ignored"`
	Reconciliations uint64       `json:"reconciliations"`
	GatewayErrors   uint64       `json:"gateway_errors"`
	NotifyFailures  uint64       `json:"notify_failures"`
	APIRequests     uint64       `json:"api_requests"`
	APIErrors       uint64       `json:"api_errors"`
	Reconcile       LatencyStats `json:"reconcile_latency"`
	Gateway         LatencyStats `json:"gateway_latency"`
	API             LatencyStats `json:"api_latency"`
	Goroutines      int          `json:"goroutines"`
	HeapAllocBytes  uint64       `json:"heap_alloc_bytes"`
}

// GetSnapshot assembles the current metrics view.
func (m *SystemMetrics) GetSnapshot() Snapshot {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return Snapshot{
		UptimeSeconds:   time.Since(m.startedAt).Seconds(),
		SignalsReceived: atomic.LoadUint64(&m.signalsReceived),
		SignalsIgnored:  atomic.LoadUint64(&m.signalsIgnored),
		Reconciliations: atomic.LoadUint64(&m.reconciliations),
		GatewayErrors:   atomic.LoadUint64(&m.gatewayErrors),
		NotifyFailures:  atomic.LoadUint64(&m.notifyFailures),
		APIRequests:     atomic.LoadUint64(&m.apiRequests),
		APIErrors:       atomic.LoadUint64(&m.apiErrors),
		Reconcile:       m.ReconcileLatency.Stats(),
		Gateway:         m.GatewayLatency.Stats(),
		API:             m.APILatency.Stats(),
		Goroutines:      runtime.NumGoroutine(),
		HeapAllocBytes:  mem.HeapAlloc,
	}
}
