// Package prom adapts the cache core's counters to Prometheus metrics:
// admission allow/reject, soft-vs-hard eviction reasons, refresh lifecycle,
// and worker replica gauges.
package prom

import "github.com/prometheus/client_golang/prometheus"

// Adapter exports the cache core's hot-path counters as Prometheus
// metrics. Safe for concurrent use; all Prometheus metric types are
// goroutine-safe.
type Adapter struct {
	hits   prometheus.Counter
	misses prometheus.Counter

	admissionAllowed  prometheus.Counter
	admissionRejected prometheus.Counter

	evictions    *prometheus.CounterVec // labels: reason={soft,hard}
	evictedBytes *prometheus.CounterVec

	refreshQueued  prometheus.Counter
	refreshDropped prometheus.Counter
	refreshApplied prometheus.Counter
	refreshErrors  prometheus.Counter

	malformedPayloads prometheus.Counter

	sizeEntries prometheus.Gauge
	sizeBytes   prometheus.Gauge

	workerReplicas *prometheus.GaugeVec // labels: group={evictor,lifetime}
}

// New constructs a Prometheus metrics adapter.
//   - reg:         registry to register metrics with (nil => prometheus.DefaultRegisterer)
//   - ns, sub:      Prometheus namespace and subsystem
//   - constLabels:  static labels applied to all metrics (may be nil)
func New(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *Adapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	a := &Adapter{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "hits_total",
			Help: "Cache hits", ConstLabels: constLabels,
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "misses_total",
			Help: "Cache misses", ConstLabels: constLabels,
		}),
		admissionAllowed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "admission_allowed_total",
			Help: "Set calls admitted past the TinyLFU filter", ConstLabels: constLabels,
		}),
		admissionRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "admission_rejected_total",
			Help: "Set calls rejected by the TinyLFU filter", ConstLabels: constLabels,
		}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "evictions_total",
			Help: "Entries evicted, by reason (soft/hard)", ConstLabels: constLabels,
		}, []string{"reason"}),
		evictedBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "evicted_bytes_total",
			Help: "Bytes freed by eviction, by reason (soft/hard)", ConstLabels: constLabels,
		}, []string{"reason"}),
		refreshQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "refresh_queued_total",
			Help: "Entries queued for background refresh", ConstLabels: constLabels,
		}),
		refreshDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "refresh_dropped_total",
			Help: "Refresh enqueue attempts dropped (queue full)", ConstLabels: constLabels,
		}),
		refreshApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "refresh_applied_total",
			Help: "Background refreshes successfully applied", ConstLabels: constLabels,
		}),
		refreshErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "refresh_errors_total",
			Help: "Background refreshes that failed against upstream", ConstLabels: constLabels,
		}),
		malformedPayloads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "malformed_payloads_total",
			Help: "Decode failures treated as a miss", ConstLabels: constLabels,
		}),
		sizeEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub, Name: "size_entries",
			Help: "Number of resident entries", ConstLabels: constLabels,
		}),
		sizeBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub, Name: "size_bytes",
			Help: "Total resident memory usage in bytes", ConstLabels: constLabels,
		}),
		workerReplicas: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub, Name: "worker_replicas",
			Help: "Live worker count, by group (evictor/lifetime)", ConstLabels: constLabels,
		}, []string{"group"}),
	}
	reg.MustRegister(
		a.hits, a.misses,
		a.admissionAllowed, a.admissionRejected,
		a.evictions, a.evictedBytes,
		a.refreshQueued, a.refreshDropped, a.refreshApplied, a.refreshErrors,
		a.malformedPayloads,
		a.sizeEntries, a.sizeBytes,
		a.workerReplicas,
	)
	return a
}

// Hit increments the hit counter.
func (a *Adapter) Hit() { a.hits.Inc() }

// Miss increments the miss counter.
func (a *Adapter) Miss() { a.misses.Inc() }

// AdmissionAllowed increments the admission-allowed counter.
func (a *Adapter) AdmissionAllowed() { a.admissionAllowed.Inc() }

// AdmissionRejected increments the admission-rejected counter.
func (a *Adapter) AdmissionRejected() { a.admissionRejected.Inc() }

// EvictSoft records a soft-limit (background Evictor) reclaim.
func (a *Adapter) EvictSoft(items, bytes int64) {
	a.evictions.WithLabelValues("soft").Add(float64(items))
	a.evictedBytes.WithLabelValues("soft").Add(float64(bytes))
}

// EvictHard records a hard-limit (synchronous, on-insert) reclaim.
func (a *Adapter) EvictHard(items, bytes int64) {
	a.evictions.WithLabelValues("hard").Add(float64(items))
	a.evictedBytes.WithLabelValues("hard").Add(float64(bytes))
}

// RefreshQueued increments the refresh-queued counter.
func (a *Adapter) RefreshQueued() { a.refreshQueued.Inc() }

// RefreshDropped increments the refresh-dropped (queue-full) counter.
func (a *Adapter) RefreshDropped() { a.refreshDropped.Inc() }

// RefreshApplied increments the refresh-applied counter.
func (a *Adapter) RefreshApplied() { a.refreshApplied.Inc() }

// RefreshError increments the refresh-error counter.
func (a *Adapter) RefreshError() { a.refreshErrors.Inc() }

// MalformedPayload increments the malformed-payload counter.
func (a *Adapter) MalformedPayload() { a.malformedPayloads.Inc() }

// Size updates the resident entries/bytes gauges.
func (a *Adapter) Size(entries int, bytes int64) {
	a.sizeEntries.Set(float64(entries))
	a.sizeBytes.Set(float64(bytes))
}

// WorkerReplicas updates the live worker count gauge for a group
// ("evictor" or "lifetime").
func (a *Adapter) WorkerReplicas(group string, n int) {
	a.workerReplicas.WithLabelValues(group).Set(float64(n))
}
