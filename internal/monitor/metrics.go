package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for the decision engine plus an
// in-process latency window served by the status endpoint.
type Metrics struct {
	ticks         *prometheus.CounterVec
	tickDuration  prometheus.Histogram
	symbolErrors  *prometheus.CounterVec
	signals       *prometheus.CounterVec
	rejections    *prometheus.CounterVec
	trades        *prometheus.CounterVec
	ordersPlaced  *prometheus.CounterVec
	ordersDone    *prometheus.CounterVec
	activeTenants prometheus.Gauge
	pendingOrders prometheus.Gauge

	TickLatency *LatencyHistogram

	ticksProcessed uint64
	tradesExecuted uint64
	errorsCount    uint64
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered, which tests rely on.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradebot_ticks_total",
			Help: "Decision cycle ticks by outcome.",
		}, []string{"outcome"}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tradebot_tick_duration_seconds",
			Help:    "Wall time of one decision cycle tick.",
			Buckets: prometheus.DefBuckets,
		}),
		symbolErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradebot_symbol_errors_total",
			Help: "Symbols skipped within a tick, by error class.",
		}, []string{"kind"}),
		signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradebot_signals_total",
			Help: "Market signals recorded, by recommendation.",
		}, []string{"recommendation"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradebot_risk_rejections_total",
			Help: "Entries declined by the risk checks, by reason code.",
		}, []string{"code"}),
		trades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradebot_trades_total",
			Help: "Market fills recorded, by side.",
		}, []string{"side"}),
		ordersPlaced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradebot_conditional_orders_placed_total",
			Help: "Conditional orders accepted, by type.",
		}, []string{"type"}),
		ordersDone: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradebot_conditional_orders_finished_total",
			Help: "Conditional orders leaving PENDING, by type and status.",
		}, []string{"type", "status"}),
		activeTenants: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradebot_active_tenants",
			Help: "Tenant loops currently running.",
		}),
		pendingOrders: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradebot_pending_orders",
			Help: "Conditional orders waiting for their trigger.",
		}),
		TickLatency: NewLatencyHistogram(1000),
	}
	if reg != nil {
		reg.MustRegister(m.ticks, m.tickDuration, m.symbolErrors, m.signals, m.rejections,
			m.trades, m.ordersPlaced, m.ordersDone, m.activeTenants, m.pendingOrders)
	}
	return m
}

// ObserveTick records one finished tick.
func (m *Metrics) ObserveTick(d time.Duration, failed bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if failed {
		outcome = "failed"
		atomic.AddUint64(&m.errorsCount, 1)
	}
	m.ticks.WithLabelValues(outcome).Inc()
	m.tickDuration.Observe(d.Seconds())
	m.TickLatency.RecordDuration(d)
	atomic.AddUint64(&m.ticksProcessed, 1)
}

// SymbolSkipped counts a symbol abandoned for this tick.
func (m *Metrics) SymbolSkipped(kind string) {
	if m == nil {
		return
	}
	m.symbolErrors.WithLabelValues(kind).Inc()
	atomic.AddUint64(&m.errorsCount, 1)
}

func (m *Metrics) SignalRecorded(recommendation string) {
	if m == nil {
		return
	}
	m.signals.WithLabelValues(recommendation).Inc()
}

func (m *Metrics) Rejected(code string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(code).Inc()
}

func (m *Metrics) TradeExecuted(side string) {
	if m == nil {
		return
	}
	m.trades.WithLabelValues(side).Inc()
	atomic.AddUint64(&m.tradesExecuted, 1)
}

func (m *Metrics) OrderPlaced(orderType string) {
	if m == nil {
		return
	}
	m.ordersPlaced.WithLabelValues(orderType).Inc()
}

func (m *Metrics) OrderFinished(orderType, status string) {
	if m == nil {
		return
	}
	m.ordersDone.WithLabelValues(orderType, status).Inc()
}

// SetActiveTenants reports the supervisor's running loop count.
func (m *Metrics) SetActiveTenants(n int) {
	if m == nil {
		return
	}
	m.activeTenants.Set(float64(n))
}

func (m *Metrics) SetPendingOrders(n int) {
	if m == nil {
		return
	}
	m.pendingOrders.Set(float64(n))
}

// LatencyHistogram tracks latency samples with a sliding window. Stats are
// computed lazily.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
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

// Stats returns min, max, avg, p50, p95, p99.
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

// Snapshot is a point-in-time view for the status endpoint.
type Snapshot struct {
	TickLatency    LatencyStats `json:"tick_latency"`
	TicksProcessed uint64       `json:"ticks_processed"`
	TradesExecuted uint64       `json:"trades_executed"`
	ErrorsCount    uint64       `json:"errors_count"`
	GoroutineCount int          `json:"goroutine_count"`
	HeapAlloc      uint64       `json:"heap_alloc_bytes"`
	Timestamp      time.Time    `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *Metrics) GetSnapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return Snapshot{
		TickLatency:    m.TickLatency.Stats(),
		TicksProcessed: atomic.LoadUint64(&m.ticksProcessed),
		TradesExecuted: atomic.LoadUint64(&m.tradesExecuted),
		ErrorsCount:    atomic.LoadUint64(&m.errorsCount),
		GoroutineCount: runtime.NumGoroutine(),
		HeapAlloc:      memStats.HeapAlloc,
		Timestamp:      time.Now(),
	}
}
