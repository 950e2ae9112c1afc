package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics covers event reviews and evidence linkage.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	StatusChanges  *prometheus.CounterVec
	EvidenceLinked *prometheus.CounterVec
	LinkDuration   prometheus.Histogram
	SourceFailures *prometheus.CounterVec
	Uploads        *prometheus.CounterVec
	NotifyFailures prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		StatusChanges: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "grc_event_status_changes_total",
			Help: "Event status changes, by new status",
		}, []string{"status"}),
		EvidenceLinked: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "grc_evidence_linked_total",
			Help: "Documents linked to incidents, by source",
		}, []string{"source"}),
		LinkDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "grc_evidence_link_duration_seconds",
			Help:    "Duration of incident evidence linkage including source lookups",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		SourceFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "grc_evidence_source_failures_total",
			Help: "Evidence sources skipped because they could not be read",
		}, []string{"source"}),
		Uploads: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "grc_evidence_uploads_total",
			Help: "Evidence uploads, by result",
		}, []string{"result"}),
		NotifyFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "grc_event_notification_failures_total",
			Help: "Event notifications that could not be delivered",
		}),
	}
}

func (m *Metrics) IncrementStatusChange(status string) {
	if m == nil {
		return
	}
	m.StatusChanges.WithLabelValues(status).Inc()
}

func (m *Metrics) IncrementLinked(source string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.EvidenceLinked.WithLabelValues(source).Add(float64(n))
}

func (m *Metrics) ObserveLink(start time.Time) {
	if m == nil {
		return
	}
	m.LinkDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncrementSourceFailure(source string) {
	if m == nil {
		return
	}
	m.SourceFailures.WithLabelValues(source).Inc()
}

func (m *Metrics) IncrementUpload(err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.Uploads.WithLabelValues(result).Inc()
}

func (m *Metrics) IncrementNotifyFailure() {
	if m == nil {
		return
	}
	m.NotifyFailures.Inc()
}
