package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics covers vendor lifecycle transitions and migrations.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Transitions       *prometheus.CounterVec
	Unresolved        *prometheus.CounterVec
	Migrations        *prometheus.CounterVec
	MigrationDuration prometheus.Histogram
}

func New() *Metrics {
	return &Metrics{
		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "grc_lifecycle_transitions_total",
			Help: "Vendor lifecycle stage changes",
		}, []string{"from", "to"}),
		Unresolved: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "grc_lifecycle_unresolved_total",
			Help: "Completed approvals whose vendor could not be identified",
		}, []string{"approval_type"}),
		Migrations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "grc_vendor_migrations_total",
			Help: "Staging to master vendor migrations, by result",
		}, []string{"result"}),
		MigrationDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "grc_vendor_migration_duration_seconds",
			Help:    "Duration of vendor migrations including the transaction",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
	}
}

func (m *Metrics) IncrementTransition(from, to string) {
	if m == nil {
		return
	}
	if from == "" {
		from = "none"
	}
	m.Transitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) IncrementUnresolved(approvalType string) {
	if m == nil {
		return
	}
	m.Unresolved.WithLabelValues(approvalType).Inc()
}

func (m *Metrics) ObserveMigration(start time.Time, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.Migrations.WithLabelValues(result).Inc()
	m.MigrationDuration.Observe(time.Since(start).Seconds())
}
