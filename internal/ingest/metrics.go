package ingest

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts what the producer and drainer do. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	enqueued         *prometheus.CounterVec
	fallback         *prometheus.CounterVec
	popped           prometheus.Counter
	duplicates       prometheus.Counter
	unparseable      prometheus.Counter
	dispatched       *prometheus.CounterVec
	dispatchFailures *prometheus.CounterVec
	tickFailures     prometheus.Counter
	queueDepth       prometheus.Gauge
	batchSize        *prometheus.HistogramVec
}

// NewMetrics creates the ingestion collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_ingest_enqueued_total",
			Help: "Readings pushed onto the shared queue.",
		}, []string{"type"}),
		fallback: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_ingest_fallback_total",
			Help: "Readings dispatched directly instead of queued.",
		}, []string{"type", "reason"}),
		popped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "attendance_ingest_popped_total",
			Help: "Messages removed from the shared queue.",
		}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "attendance_ingest_duplicates_total",
			Help: "Popped messages skipped by the dedup index.",
		}),
		unparseable: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "attendance_ingest_unparseable_total",
			Help: "Popped messages skipped because they could not be parsed.",
		}),
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_ingest_dispatched_total",
			Help: "Readings handed to the batch dispatcher by the drainer.",
		}, []string{"type"}),
		dispatchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_ingest_dispatch_failures_total",
			Help: "Drain batches the dispatcher rejected.",
		}, []string{"type"}),
		tickFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "attendance_ingest_tick_failures_total",
			Help: "Drain ticks cut short by a queue error or panic.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "attendance_ingest_queue_depth",
			Help: "Queue length observed after the last drain tick.",
		}),
		batchSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "attendance_ingest_batch_size",
			Help:    "Readings per dispatched drain batch.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}, []string{"type"}),
	}

	reg.MustRegister(
		m.enqueued, m.fallback, m.popped, m.duplicates, m.unparseable,
		m.dispatched, m.dispatchFailures, m.tickFailures, m.queueDepth, m.batchSize,
	)
	return m
}

func (m *Metrics) incEnqueued(t ReadingType) {
	if m != nil {
		m.enqueued.WithLabelValues(t.String()).Inc()
	}
}

func (m *Metrics) incFallback(t ReadingType, reason string) {
	if m != nil {
		m.fallback.WithLabelValues(t.String(), reason).Inc()
	}
}

func (m *Metrics) addPopped(n int) {
	if m != nil {
		m.popped.Add(float64(n))
	}
}

func (m *Metrics) addDuplicates(n int) {
	if m != nil {
		m.duplicates.Add(float64(n))
	}
}

func (m *Metrics) addUnparseable(n int) {
	if m != nil {
		m.unparseable.Add(float64(n))
	}
}

func (m *Metrics) observeDispatch(t ReadingType, n int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.dispatchFailures.WithLabelValues(t.String()).Inc()
		return
	}
	m.dispatched.WithLabelValues(t.String()).Add(float64(n))
	m.batchSize.WithLabelValues(t.String()).Observe(float64(n))
}

func (m *Metrics) incTickFailure() {
	if m != nil {
		m.tickFailures.Inc()
	}
}

func (m *Metrics) setQueueDepth(n int64) {
	if m != nil {
		m.queueDepth.Set(float64(n))
	}
}
