// Package observability carries the pipeline's metrics, health reporting,
// and the operational HTTP surface.
package observability

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Counter is a monotonically increasing integer counter, lock-free.
type Counter struct {
	name  string
	help  string
	value atomic.Int64
}

// Inc increments the counter by 1.
func (c *Counter) Inc() { c.value.Add(1) }

// Add increments the counter by delta. Negative deltas are ignored.
func (c *Counter) Add(delta int64) {
	if delta < 0 {
		return
	}
	c.value.Add(delta)
}

// Value returns the current counter value.
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge is a value that can move in both directions.
type Gauge struct {
	name  string
	help  string
	mu    sync.Mutex
	value float64
}

// Set sets the gauge.
func (g *Gauge) Set(v float64) {
	g.mu.Lock()
	g.value = v
	g.mu.Unlock()
}

// Add adds delta to the gauge (may be negative).
func (g *Gauge) Add(delta float64) {
	g.mu.Lock()
	g.value += delta
	g.mu.Unlock()
}

// Value returns the current gauge value.
func (g *Gauge) Value() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.value
}

// Histogram tracks a value distribution in cumulative buckets. Buckets
// are upper-bound inclusive: a value <= buckets[i] increments counts[i].
type Histogram struct {
	name    string
	help    string
	mu      sync.Mutex
	buckets []float64
	counts  []int64
	sum     float64
	count   int64
}

// Observe records a value.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sum += v
	h.count++
	for i, b := range h.buckets {
		if v <= b {
			h.counts[i]++
		}
	}
}

// Count returns the number of observations.
func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Sum returns the sum of observed values.
func (h *Histogram) Sum() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sum
}

// BucketCounts returns a snapshot of (upper-bound, cumulative-count)
// pairs for the exporter.
func (h *Histogram) BucketCounts() (buckets []float64, counts []int64, sum float64, count int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	b := make([]float64, len(h.buckets))
	c := make([]int64, len(h.counts))
	copy(b, h.buckets)
	copy(c, h.counts)
	return b, c, h.sum, h.count
}

// Registry holds all metrics. Safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Histogram),
	}
}

// NewCounter registers a counter, returning the existing one if the name
// is already taken.
func (r *Registry) NewCounter(name, help string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.counters[name]; ok {
		return existing
	}
	c := &Counter{name: name, help: help}
	r.counters[name] = c
	return c
}

// NewGauge registers a gauge, returning the existing one if the name is
// already taken.
func (r *Registry) NewGauge(name, help string) *Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.gauges[name]; ok {
		return existing
	}
	g := &Gauge{name: name, help: help}
	r.gauges[name] = g
	return g
}

// NewHistogram registers a histogram with sorted upper bounds, returning
// the existing one if the name is already taken.
func (r *Registry) NewHistogram(name, help string, buckets []float64) *Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.histograms[name]; ok {
		return existing
	}
	sorted := make([]float64, len(buckets))
	copy(sorted, buckets)
	sort.Float64s(sorted)
	h := &Histogram{name: name, help: help, buckets: sorted, counts: make([]int64, len(sorted))}
	r.histograms[name] = h
	return h
}

// GetCounter returns a registered counter or nil.
func (r *Registry) GetCounter(name string) *Counter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.counters[name]
}

// GetGauge returns a registered gauge or nil.
func (r *Registry) GetGauge(name string) *Gauge {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.gauges[name]
}

// GetHistogram returns a registered histogram or nil.
func (r *Registry) GetHistogram(name string) *Histogram {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.histograms[name]
}

// DefaultLatencyBuckets for latency histograms, in milliseconds.
var DefaultLatencyBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

// Pipeline bundles the typed handles the trading pipeline records on.
type Pipeline struct {
	Signals         *Counter
	Blocks          *Counter
	Fills           *Counter
	OrdersSubmitted *Counter
	OrdersRejected  *Counter
	OrdersCanceled  *Counter
	BusEvicted      *Gauge
	BusDepth        *Gauge
	ExecLatency     *Histogram
}

// NewPipeline registers the standard pipeline metrics on the registry.
func NewPipeline(r *Registry) *Pipeline {
	return &Pipeline{
		Signals: r.NewCounter("tradetron_signals_total",
			"Signals emitted by the rule evaluator"),
		Blocks: r.NewCounter("tradetron_risk_blocks_total",
			"Signals rejected by the risk gate"),
		Fills: r.NewCounter("tradetron_fills_total",
			"Fills received from executors"),
		OrdersSubmitted: r.NewCounter("tradetron_orders_submitted_total",
			"Orders handed to an executor"),
		OrdersRejected: r.NewCounter("tradetron_orders_rejected_total",
			"Orders that ended rejected"),
		OrdersCanceled: r.NewCounter("tradetron_orders_canceled_total",
			"Orders canceled, including kill switch"),
		BusEvicted: r.NewGauge("tradetron_bus_evicted",
			"Events evicted from the ring buffer since start"),
		BusDepth: r.NewGauge("tradetron_bus_depth",
			"Current event bus depth"),
		ExecLatency: r.NewHistogram("tradetron_execution_latency_ms",
			"Order execution latency in milliseconds", DefaultLatencyBuckets),
	}
}

// sortedKeys returns the sorted keys of a string-keyed map.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
