package journal

import "github.com/prometheus/client_golang/prometheus"

// Metrics mirrors the teacher's WalMetrics/JournalMetrics shape:
// manually constructed and registered counters/histograms/gauges,
// rather than promauto, kept consistent with how the rest of the
// ambient stack in this repo is wired.
type Metrics struct {
	appendsTotal      prometheus.Counter
	rolloversTotal    prometheus.Counter
	truncationsTotal  prometheus.Counter
	compactionsTotal  prometheus.Counter
	deferredDeletions prometheus.Counter
	fsyncDuration     prometheus.Histogram
	firstIndex        prometheus.Gauge
	lastIndex         prometheus.Gauge
	openSegments      prometheus.Gauge
}

func newMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		appendsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "appends_total",
			Help: "Total number of records appended to the journal.",
		}),
		rolloversTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rollovers_total",
			Help: "Total number of segment rollovers.",
		}),
		truncationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "truncations_total",
			Help: "Total number of deleteAfter (tail truncation) calls.",
		}),
		compactionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "compactions_total",
			Help: "Total number of deleteUntil (head compaction) calls.",
		}),
		deferredDeletions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deferred_deletions_total",
			Help: "Total number of segments marked for deletion by Reset; each one stays on disk while a reader pins it.",
		}),
		fsyncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fsync_duration_seconds",
			Help:    "Duration of the segment flush after each append (a no-op when FlushExplicitly is off).",
			Buckets: prometheus.DefBuckets,
		}),
		firstIndex: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "first_index",
			Help: "Lowest index retained by the journal.",
		}),
		lastIndex: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "last_index",
			Help: "Highest index appended to the journal.",
		}),
		openSegments: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "open_segments",
			Help: "Number of segment files currently open.",
		}),
	}

	if registerer != nil {
		prometheus.WrapRegistererWithPrefix("journal_", registerer).MustRegister(
			m.appendsTotal,
			m.rolloversTotal,
			m.truncationsTotal,
			m.compactionsTotal,
			m.deferredDeletions,
			m.fsyncDuration,
			m.firstIndex,
			m.lastIndex,
			m.openSegments,
		)
	}

	return m
}
