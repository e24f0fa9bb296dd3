package dynacache

// metrics.go is a thin abstraction over Prometheus, following the teacher's
// pkg/metrics.go layout exactly: a metricsSink interface, a no-op
// implementation used when the embedder opts out, and a Prometheus-backed
// implementation used when WithMetrics(reg) is passed. All metrics are
// region-level, labeled by the region's name, so aggregation is left to the
// Prometheus side (sum()/rate() across regions).
//
// © 2025 dynablock-cache authors. MIT License.

import (
	"github.com/prometheus/client_golang/prometheus"
)

// metricsSink abstracts away the concrete backend so Manager and Region
// only know about these methods, never about *prometheus.Registry directly.
type metricsSink interface {
	incHit(region string)
	incMiss(region string)
	incCreate(region string)
	incPromote(region string)
	incMark(region string)
	incFree(region string)
	incInvalidate(region string)
	setHostBytes(region string, value int64)
}

type noopMetrics struct{}

func (noopMetrics) incHit(string)              {}
func (noopMetrics) incMiss(string)              {}
func (noopMetrics) incCreate(string)            {}
func (noopMetrics) incPromote(string)           {}
func (noopMetrics) incMark(string)              {}
func (noopMetrics) incFree(string)              {}
func (noopMetrics) incInvalidate(string)        {}
func (noopMetrics) setHostBytes(string, int64) {}

type promMetrics struct {
	hits        *prometheus.CounterVec
	misses      *prometheus.CounterVec
	creates     *prometheus.CounterVec
	promotes    *prometheus.CounterVec
	marks       *prometheus.CounterVec
	frees       *prometheus.CounterVec
	invalidates *prometheus.CounterVec
	hostBytes   *prometheus.GaugeVec
}

func newPromMetrics(reg *prometheus.Registry) *promMetrics {
	label := []string{"region"}
	pm := &promMetrics{
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dynacache", Name: "lookup_hits_total",
			Help: "Number of DBGetBlock calls resolved without creating a block.",
		}, label),
		misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dynacache", Name: "lookup_misses_total",
			Help: "Number of DBGetBlock calls in a resolved region that found no block with creation disabled.",
		}, label),
		creates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dynacache", Name: "blocks_created_total",
			Help: "Number of blocks allocated via AddNewDynablock.",
		}, label),
		promotes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dynacache", Name: "directory_promotions_total",
			Help: "Number of hash-to-direct directory promotions.",
		}, label),
		marks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dynacache", Name: "blocks_marked_total",
			Help: "Number of MarkDynablock invocations (lazy invalidation).",
		}, label),
		frees: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dynacache", Name: "blocks_freed_total",
			Help: "Number of blocks freed (eager invalidation or region teardown).",
		}, label),
		invalidates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dynacache", Name: "rehash_invalidations_total",
			Help: "Number of times a re-hash on DBGetBlock found stale bytes.",
		}, label),
		hostBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "dynacache", Name: "host_bytes",
			Help: "Approximate live host-code bytes tracked by the staleness clock.",
		}, label),
	}
	reg.MustRegister(pm.hits, pm.misses, pm.creates, pm.promotes, pm.marks, pm.frees, pm.invalidates, pm.hostBytes)
	return pm
}

func (m *promMetrics) incHit(region string)       { m.hits.WithLabelValues(region).Inc() }
func (m *promMetrics) incMiss(region string)      { m.misses.WithLabelValues(region).Inc() }
func (m *promMetrics) incCreate(region string)    { m.creates.WithLabelValues(region).Inc() }
func (m *promMetrics) incPromote(region string)   { m.promotes.WithLabelValues(region).Inc() }
func (m *promMetrics) incMark(region string)      { m.marks.WithLabelValues(region).Inc() }
func (m *promMetrics) incFree(region string)      { m.frees.WithLabelValues(region).Inc() }
func (m *promMetrics) incInvalidate(region string) {
	m.invalidates.WithLabelValues(region).Inc()
}
func (m *promMetrics) setHostBytes(region string, value int64) {
	m.hostBytes.WithLabelValues(region).Set(float64(value))
}

// newMetricsSink decides which implementation to use based on the
// configured registry.
func newMetricsSink(reg *prometheus.Registry) metricsSink {
	if reg == nil {
		return noopMetrics{}
	}
	return newPromMetrics(reg)
}
