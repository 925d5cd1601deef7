// Package metrics implements the C16 metrics collector: atomic event
// counters, a P-Square streaming percentile estimator for flush latency,
// an EMA-smoothed queue-depth gauge, and per-sink/per-plugin timing
// histograms.
//
// Grounded on eventloop/metrics.go (LatencyMetrics's P-Square usage,
// QueueMetrics's exponential-moving-average depth tracking).
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// FlushLatency tracks the distribution of per-batch flush durations
// using a P-Square streaming estimator, matching eventloop's
// LatencyMetrics.
type FlushLatency struct {
	mu      sync.Mutex
	psquare *pSquareMultiQuantile
}

// Record adds a flush-duration sample.
func (l *FlushLatency) Record(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.psquare == nil {
		l.psquare = newPSquareMultiQuantile(0.50, 0.90, 0.95, 0.99)
	}
	l.psquare.Update(float64(d))
}

// FlushLatencySnapshot is a point-in-time read of the latency distribution.
type FlushLatencySnapshot struct {
	P50, P90, P95, P99, Max, Mean time.Duration
	Count                         int
}

func (l *FlushLatency) Snapshot() FlushLatencySnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.psquare == nil {
		return FlushLatencySnapshot{}
	}
	return FlushLatencySnapshot{
		P50:   time.Duration(l.psquare.Quantile(0)),
		P90:   time.Duration(l.psquare.Quantile(1)),
		P95:   time.Duration(l.psquare.Quantile(2)),
		P99:   time.Duration(l.psquare.Quantile(3)),
		Max:   time.Duration(l.psquare.Max()),
		Mean:  time.Duration(l.psquare.Mean()),
		Count: l.psquare.Count(),
	}
}

// QueueDepthGauge tracks current/max/EMA-smoothed queue depth, matching
// eventloop's QueueMetrics.UpdateIngress/UpdateInternal shape, generalized
// to one gauge per queue the caller names.
type QueueDepthGauge struct {
	mu          sync.Mutex
	current     int
	max         int
	avg         float64
	initialized bool
}

// Update records an observed depth.
func (g *QueueDepthGauge) Update(depth int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.current = depth
	if depth > g.max {
		g.max = depth
	}
	if !g.initialized {
		g.avg = float64(depth)
		g.initialized = true
	} else {
		g.avg = 0.9*g.avg + 0.1*float64(depth)
	}
}

type QueueDepthSnapshot struct {
	Current int
	Max     int
	Avg     float64
}

func (g *QueueDepthGauge) Snapshot() QueueDepthSnapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return QueueDepthSnapshot{Current: g.current, Max: g.max, Avg: g.avg}
}

// Collector aggregates every C16 metric: event counters, flush latency,
// queue depth, and per-sink/per-plugin timers.
type Collector struct {
	processed atomic.Int64
	dropped   atomic.Int64

	flush FlushLatency
	queue QueueDepthGauge

	mu          sync.Mutex
	sinkTimers  map[string]*FlushLatency
	pluginTimers map[string]*FlushLatency
}

// New constructs a Collector.
func New() *Collector {
	return &Collector{
		sinkTimers:   make(map[string]*FlushLatency),
		pluginTimers: make(map[string]*FlushLatency),
	}
}

func (c *Collector) RecordProcessed(n int64) { c.processed.Add(n) }
func (c *Collector) RecordDropped(n int64)   { c.dropped.Add(n) }

func (c *Collector) Processed() int64 { return c.processed.Load() }
func (c *Collector) Dropped() int64   { return c.dropped.Load() }

func (c *Collector) RecordFlush(d time.Duration) { c.flush.Record(d) }
func (c *Collector) FlushLatency() FlushLatencySnapshot { return c.flush.Snapshot() }

func (c *Collector) UpdateQueueDepth(depth int) { c.queue.Update(depth) }
func (c *Collector) QueueDepth() QueueDepthSnapshot { return c.queue.Snapshot() }

func (c *Collector) namedTimer(registry map[string]*FlushLatency, name string) *FlushLatency {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := registry[name]
	if !ok {
		t = &FlushLatency{}
		registry[name] = t
	}
	return t
}

// RecordSinkTiming records a write duration for the named sink.
func (c *Collector) RecordSinkTiming(sinkName string, d time.Duration) {
	c.namedTimer(c.sinkTimers, sinkName).Record(d)
}

// SinkTiming returns the named sink's latency distribution.
func (c *Collector) SinkTiming(sinkName string) FlushLatencySnapshot {
	return c.namedTimer(c.sinkTimers, sinkName).Snapshot()
}

// RecordPluginTiming records a duration for the named filter/enricher/
// redactor/processor plugin, the Go analogue of worker.py's plugin_timer.
func (c *Collector) RecordPluginTiming(pluginName string, d time.Duration) {
	c.namedTimer(c.pluginTimers, pluginName).Record(d)
}

// PluginTiming returns the named plugin's latency distribution.
func (c *Collector) PluginTiming(pluginName string) FlushLatencySnapshot {
	return c.namedTimer(c.pluginTimers, pluginName).Snapshot()
}

// PluginTimer times fn's execution and records it under pluginName,
// mirroring worker.py's async context-manager plugin_timer.
func (c *Collector) PluginTimer(pluginName string, fn func()) {
	start := time.Now()
	defer func() { c.RecordPluginTiming(pluginName, time.Since(start)) }()
	fn()
}
