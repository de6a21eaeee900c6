// Package metrics provides Prometheus metrics integration for the
// merge engine.
//
// Basic usage:
//
//	m := metrics.New(metrics.WithServiceName("orders-merger"))
//	prometheus.MustRegister(m.Collectors()...)
//
//	engine, err := scd.NewEngine(store, entities, scd.WithMetrics(m))
//
// The metrics collected include:
//   - Applied, dropped and conflicting events per entity
//   - History versions opened and closed
//   - Batch counts, durations and key failures
//   - The highest applied sequence per entity
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mergetide/go-scd"
)

// Default metric labels.
const (
	LabelEntity    = "entity"
	LabelOperation = "operation"
	LabelStatus    = "status"
	LabelService   = "service"
)

// Status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Metrics is a Prometheus implementation of scd.MergeMetrics.
type Metrics struct {
	namespace   string
	subsystem   string
	serviceName string

	eventsAppliedTotal      *prometheus.CounterVec
	eventsDroppedTotal      *prometheus.CounterVec
	duplicateSequencesTotal *prometheus.CounterVec
	versionsOpenedTotal     *prometheus.CounterVec
	versionsClosedTotal     *prometheus.CounterVec
	batchesTotal            *prometheus.CounterVec
	batchDuration           *prometheus.HistogramVec
	batchKeys               *prometheus.HistogramVec
	keyFailuresTotal        *prometheus.CounterVec
	watermark               *prometheus.GaugeVec
}

var _ scd.MergeMetrics = (*Metrics)(nil)

// Option configures Metrics.
type Option func(*Metrics)

// WithNamespace sets the Prometheus namespace.
func WithNamespace(namespace string) Option {
	return func(m *Metrics) {
		m.namespace = namespace
	}
}

// WithSubsystem sets the Prometheus subsystem.
func WithSubsystem(subsystem string) Option {
	return func(m *Metrics) {
		m.subsystem = subsystem
	}
}

// WithServiceName sets the service name label.
func WithServiceName(name string) Option {
	return func(m *Metrics) {
		m.serviceName = name
	}
}

// New creates a new Metrics instance with default settings.
func New(opts ...Option) *Metrics {
	m := &Metrics{
		namespace:   "scd",
		serviceName: "unknown",
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initMetrics()
	return m
}

func (m *Metrics) initMetrics() {
	m.eventsAppliedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "events_applied_total",
			Help:      "Total number of change events applied.",
		},
		[]string{LabelService, LabelEntity, LabelOperation},
	)

	m.eventsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "events_dropped_total",
			Help:      "Total number of events dropped at or below the key watermark.",
		},
		[]string{LabelService, LabelEntity},
	)

	m.duplicateSequencesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "duplicate_sequences_total",
			Help:      "Total number of rejected equal-sequence conflicts.",
		},
		[]string{LabelService, LabelEntity},
	)

	m.versionsOpenedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "history_versions_opened_total",
			Help:      "Total number of history versions opened.",
		},
		[]string{LabelService, LabelEntity},
	)

	m.versionsClosedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "history_versions_closed_total",
			Help:      "Total number of history versions closed.",
		},
		[]string{LabelService, LabelEntity},
	)

	m.batchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "batches_total",
			Help:      "Total number of processed micro-batches.",
		},
		[]string{LabelService, LabelEntity, LabelStatus},
	)

	m.batchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "batch_duration_seconds",
			Help:      "Duration of micro-batch processing in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelService, LabelEntity},
	)

	m.batchKeys = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "batch_keys",
			Help:      "Number of distinct keys per micro-batch.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		},
		[]string{LabelService, LabelEntity},
	)

	m.keyFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "key_failures_total",
			Help:      "Total number of keys whose merge failed.",
		},
		[]string{LabelService, LabelEntity},
	)

	m.watermark = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "watermark",
			Help:      "Highest applied sequence observed per entity.",
		},
		[]string{LabelService, LabelEntity},
	)
}

// Collectors returns all Prometheus collectors for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.eventsAppliedTotal,
		m.eventsDroppedTotal,
		m.duplicateSequencesTotal,
		m.versionsOpenedTotal,
		m.versionsClosedTotal,
		m.batchesTotal,
		m.batchDuration,
		m.batchKeys,
		m.keyFailuresTotal,
		m.watermark,
	}
}

// Register registers all collectors with the given registry.
func (m *Metrics) Register(registry prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// RecordEventApplied records one applied event.
func (m *Metrics) RecordEventApplied(entity string, op scd.Operation) {
	m.eventsAppliedTotal.WithLabelValues(m.serviceName, entity, op.String()).Inc()
}

// RecordEventDropped records an event discarded below the watermark.
func (m *Metrics) RecordEventDropped(entity string) {
	m.eventsDroppedTotal.WithLabelValues(m.serviceName, entity).Inc()
}

// RecordDuplicateSequence records a rejected equal-sequence conflict.
func (m *Metrics) RecordDuplicateSequence(entity string) {
	m.duplicateSequencesTotal.WithLabelValues(m.serviceName, entity).Inc()
}

// RecordVersionOpened records a new history version.
func (m *Metrics) RecordVersionOpened(entity string) {
	m.versionsOpenedTotal.WithLabelValues(m.serviceName, entity).Inc()
}

// RecordVersionClosed records a closed history version.
func (m *Metrics) RecordVersionClosed(entity string) {
	m.versionsClosedTotal.WithLabelValues(m.serviceName, entity).Inc()
}

// RecordBatch records a completed batch for an entity.
func (m *Metrics) RecordBatch(entity string, keys int, duration time.Duration, success bool) {
	status := StatusSuccess
	if !success {
		status = StatusError
	}
	m.batchesTotal.WithLabelValues(m.serviceName, entity, status).Inc()
	m.batchDuration.WithLabelValues(m.serviceName, entity).Observe(duration.Seconds())
	m.batchKeys.WithLabelValues(m.serviceName, entity).Observe(float64(keys))
}

// RecordKeyFailure records a key whose merge failed.
func (m *Metrics) RecordKeyFailure(entity string) {
	m.keyFailuresTotal.WithLabelValues(m.serviceName, entity).Inc()
}

// RecordWatermark records a key's advanced watermark.
func (m *Metrics) RecordWatermark(entity string, seq scd.Sequence) {
	m.watermark.WithLabelValues(m.serviceName, entity).Set(float64(seq))
}
