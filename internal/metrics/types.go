package metrics

import (
	"sync"
	"time"
)

// Collector accumulates QPub client metrics for Prometheus-text export,
// adapted from the teacher's internal/metrics/types.go: the same
// counter/histogram map shape and bucket-based Collect() rendering, with
// Binance-specific fields (order latency, order status, per-exchange
// WebSocket counters) replaced by QPub's own concerns — channel
// lifecycle events, delivered messages, auth token events, and the
// admin HTTP surface's own request metrics.
type Collector struct {
	httpRequestCounter   map[string]int64     // [method:path:status]
	httpRequestHistogram map[string][]float64 // [method:path] -> durations

	channelEventCounter map[string]int64 // [channel:event] -> count (SUBSCRIBED, UNSUBSCRIBED, FAILED, RESUMED)
	messagesDelivered   map[string]int64 // [channel] -> count
	publishCounter      map[string]int64 // [channel] -> count

	authEventCounter map[string]int64     // [event] -> count (TOKEN_UPDATED, TOKEN_EXPIRED, TOKEN_ERROR, AUTH_ERROR)
	authLatencyHist  map[string][]float64 // [mode] -> seconds

	connectionEventCounter map[string]int64 // [event] -> count

	customHistograms map[string][]float64
	customCounters   map[string]int64

	mutex sync.RWMutex

	histogramBuckets []float64
	startTime        time.Time
}

// HistogramEntry is one histogram data point.
type HistogramEntry struct {
	Name   string
	Value  float64
	Labels map[string]string
}

// CounterEntry is one counter data point.
type CounterEntry struct {
	Name   string
	Value  int64
	Labels map[string]string
}

// Snapshot is a point-in-time view of every metric.
type Snapshot struct {
	Counters   []CounterEntry
	Histograms []HistogramEntry
	Timestamp  time.Time
}

// DefaultLatencyBuckets are the default histogram buckets for latency
// measurements, in seconds.
var DefaultLatencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0,
}
