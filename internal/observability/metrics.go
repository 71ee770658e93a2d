package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels shared by relay and adapter metrics.
const (
	OutcomeOK        = "ok"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
	OutcomeRejected  = "rejected"
	OutcomeError     = "error"
)

// Metrics exposes Prometheus collectors for relay activity.
type Metrics struct {
	relayEvents    *prometheus.CounterVec
	relayDuration  *prometheus.HistogramVec
	externalCalls  *prometheus.CounterVec
	directorySize  prometheus.Gauge
	deliveryStatus *prometheus.CounterVec
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// DefaultMetrics returns the process-wide metrics registered with the default
// Prometheus registry. Collectors are created once.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics constructs a Metrics instance using the provided registerer.
// Registration errors panic, matching promauto semantics.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		relayEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "smsrelay",
				Subsystem: "relay",
				Name:      "events_total",
				Help:      "Relay operations by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		),
		relayDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "smsrelay",
				Subsystem: "relay",
				Name:      "duration_seconds",
				Help:      "Time spent handling relay operations.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		externalCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "smsrelay",
				Name:      "external_calls_total",
				Help:      "Carrier, chat and case adapter calls by outcome.",
			},
			[]string{"adapter", "outcome"},
		),
		directorySize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "smsrelay",
				Name:      "directory_entries",
				Help:      "Thread mappings held by the conversation directory.",
			},
		),
		deliveryStatus: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "smsrelay",
				Name:      "delivery_status_total",
				Help:      "Carrier delivery status callbacks by status.",
			},
			[]string{"status"},
		),
	}
	reg.MustRegister(m.relayEvents, m.relayDuration, m.externalCalls, m.directorySize, m.deliveryStatus)
	return m
}

// ObserveRelay records one relay operation.
func (m *Metrics) ObserveRelay(kind, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.relayEvents.WithLabelValues(kind, outcome).Inc()
	m.relayDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// ObserveExternal records one adapter call.
func (m *Metrics) ObserveExternal(adapter string, err error) {
	if m == nil {
		return
	}
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	m.externalCalls.WithLabelValues(adapter, outcome).Inc()
}

// SetDirectorySize reports the directory entry count.
func (m *Metrics) SetDirectorySize(n int) {
	if m == nil {
		return
	}
	m.directorySize.Set(float64(n))
}

// ObserveDeliveryStatus counts a carrier status callback.
func (m *Metrics) ObserveDeliveryStatus(status string) {
	if m == nil {
		return
	}
	if status == "" {
		status = "unknown"
	}
	m.deliveryStatus.WithLabelValues(status).Inc()
}
