package svcmgr

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/triplesync/core/internal/model"
)

// serviceMetrics exports per-service operation counters and a rolling
// average latency to Prometheus, grounded on the teacher's
// internal/observability metrics construction idiom (CounterVec/GaugeVec
// keyed by a label, a constructor taking an explicit registerer for test
// isolation). Counts are mirrored in-process so snapshot can answer
// introspection calls (spec §4.6 per-service counters) without scraping
// Prometheus back out.
type serviceMetrics struct {
	completed         *prometheus.CounterVec
	failed            *prometheus.CounterVec
	retried           *prometheus.CounterVec
	avgLatencySeconds *prometheus.GaugeVec

	mu      sync.Mutex
	counts  map[model.ServiceKind]*counters
	windows map[model.ServiceKind]*latencyWindow
	lastOp  map[model.ServiceKind]time.Time
}

type counters struct {
	completed int
	failed    int
	retried   int
}

// latencyWindow is a fixed-size ring of the last 100 operation durations
// (spec §4.6 "average latency over the last 100 operations").
type latencyWindow struct {
	samples []time.Duration
	next    int
	full    bool
}

const latencyWindowSize = 100

func newLatencyWindow() *latencyWindow {
	return &latencyWindow{samples: make([]time.Duration, latencyWindowSize)}
}

func (w *latencyWindow) record(d time.Duration) {
	w.samples[w.next] = d
	w.next = (w.next + 1) % latencyWindowSize
	if w.next == 0 {
		w.full = true
	}
}

func (w *latencyWindow) average() time.Duration {
	n := w.next
	if w.full {
		n = latencyWindowSize
	}
	if n == 0 {
		return 0
	}
	var total time.Duration
	for i := 0; i < n; i++ {
		total += w.samples[i]
	}
	return total / time.Duration(n)
}

// newServiceMetrics registers the manager's metric families against reg.
func newServiceMetrics(reg prometheus.Registerer) *serviceMetrics {
	m := &serviceMetrics{
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "svcmgr_operations_completed_total",
			Help: "Background service operations completed, by service.",
		}, []string{"service"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "svcmgr_operations_failed_total",
			Help: "Background service operations failed, by service.",
		}, []string{"service"}),
		retried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "svcmgr_operations_retried_total",
			Help: "Background service operations retried, by service.",
		}, []string{"service"}),
		avgLatencySeconds: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "svcmgr_operation_latency_seconds_avg",
			Help: "Rolling average operation latency over the last 100 operations, by service.",
		}, []string{"service"}),
		counts:  make(map[model.ServiceKind]*counters),
		windows: make(map[model.ServiceKind]*latencyWindow),
		lastOp:  make(map[model.ServiceKind]time.Time),
	}
	reg.MustRegister(m.completed, m.failed, m.retried, m.avgLatencySeconds)
	return m
}

func (m *serviceMetrics) record(kind model.ServiceKind, d time.Duration, success, retried bool) {
	label := string(kind)

	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.counts[kind]
	if !ok {
		c = &counters{}
		m.counts[kind] = c
	}
	if success {
		c.completed++
		m.completed.WithLabelValues(label).Inc()
	} else {
		c.failed++
		m.failed.WithLabelValues(label).Inc()
	}
	if retried {
		c.retried++
		m.retried.WithLabelValues(label).Inc()
	}

	w, ok := m.windows[kind]
	if !ok {
		w = newLatencyWindow()
		m.windows[kind] = w
	}
	w.record(d)
	m.lastOp[kind] = time.Now()
	m.avgLatencySeconds.WithLabelValues(label).Set(w.average().Seconds())
}

// snapshot returns the introspectable Metrics for kind.
func (m *serviceMetrics) snapshot(kind model.ServiceKind) Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out Metrics
	if c, ok := m.counts[kind]; ok {
		out.Completed = c.completed
		out.Failed = c.failed
		out.Retried = c.retried
	}
	if w, ok := m.windows[kind]; ok {
		out.AverageLatency = w.average()
	}
	out.LastOperationTime = m.lastOp[kind]
	return out
}
