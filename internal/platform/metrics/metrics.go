package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"certledger/internal/ledger"
)

// Metrics holds the service's Prometheus collectors. A nil *Metrics is a
// valid no-op so services can run without a registry in tests.
type Metrics struct {
	PublishOutcome      *prometheus.CounterVec
	PublishLatency      prometheus.Histogram
	VerificationOutcome *prometheus.CounterVec
	LedgerCallLatency   *prometheus.HistogramVec
	LedgerCircuitOpen   prometheus.Gauge
	CacheLookups        *prometheus.CounterVec
	AuditDropped        prometheus.Counter
}

// New registers all collectors with reg. Pass prometheus.DefaultRegisterer in
// production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PublishOutcome: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "certledger_publish_outcomes_total",
			Help: "Publish attempts by outcome",
		}, []string{"outcome"}), // confirmed, reverted, timed_out, rejected, in_progress, invalid, ...

		PublishLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "certledger_publish_duration_seconds",
			Help:    "Duration of a publish from validation to artifact, including confirmation wait",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		}),

		VerificationOutcome: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "certledger_verification_outcomes_total",
			Help: "Verification queries by result",
		}, []string{"result"}), // verified, not_found, unavailable, invalid

		LedgerCallLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "certledger_ledger_call_duration_seconds",
			Help:    "Duration of ledger gateway calls by operation and result",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 30, 60},
		}, []string{"op", "result"}),

		LedgerCircuitOpen: factory.NewGauge(prometheus.GaugeOpts{
			Name: "certledger_ledger_circuit_open",
			Help: "1 while the ledger circuit breaker is shedding calls",
		}),

		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "certledger_verify_cache_lookups_total",
			Help: "Verified-certificate cache lookups by result",
		}, []string{"result"}), // hit, miss, error

		AuditDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "certledger_audit_events_dropped_total",
			Help: "Audit events dropped because the buffer was full",
		}),
	}
}

func (m *Metrics) IncrementPublishOutcome(outcome string) {
	if m != nil {
		m.PublishOutcome.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) ObservePublishLatency(d time.Duration) {
	if m != nil {
		m.PublishLatency.Observe(d.Seconds())
	}
}

func (m *Metrics) IncrementVerificationOutcome(result string) {
	if m != nil {
		m.VerificationOutcome.WithLabelValues(result).Inc()
	}
}

// ObserveLedgerCall implements ledger.Observer.
func (m *Metrics) ObserveLedgerCall(op string, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = string(ledger.CategoryOf(err))
	}
	m.LedgerCallLatency.WithLabelValues(op, result).Observe(d.Seconds())
}

// SetLedgerCircuitOpen implements ledger.Observer.
func (m *Metrics) SetLedgerCircuitOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.LedgerCircuitOpen.Set(1)
		return
	}
	m.LedgerCircuitOpen.Set(0)
}

func (m *Metrics) IncrementCacheLookup(result string) {
	if m != nil {
		m.CacheLookups.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) IncrementAuditDropped() {
	if m != nil {
		m.AuditDropped.Inc()
	}
}

var _ ledger.Observer = (*Metrics)(nil)
