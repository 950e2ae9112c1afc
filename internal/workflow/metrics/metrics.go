package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var durationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

// Metrics provides observability for the approval engine.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	RequestsCreated   *prometheus.CounterVec
	StageActions      *prometheus.CounterVec
	RequestsCompleted *prometheus.CounterVec
	HookFailures      *prometheus.CounterVec
	ActDuration       prometheus.Histogram
	DecisionDuration  prometheus.Histogram
}

// New registers the approval engine metrics. Call once per process.
func New() *Metrics {
	return &Metrics{
		RequestsCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "grc_approval_requests_created_total",
			Help: "Approval requests created, by workflow type",
		}, []string{"workflow_type"}),
		StageActions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "grc_approval_stage_actions_total",
			Help: "Reviewer actions recorded on stages",
		}, []string{"workflow_type", "action"}),
		RequestsCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "grc_approval_requests_completed_total",
			Help: "Approval requests reaching a terminal status",
		}, []string{"status"}),
		HookFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "grc_approval_hook_failures_total",
			Help: "Post-commit hooks (lifecycle, migration, risk, notification) that failed",
		}, []string{"hook"}),
		ActDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "grc_approval_act_duration_seconds",
			Help:    "Duration of stage actions including the transaction",
			Buckets: durationBuckets,
		}),
		DecisionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "grc_approval_final_decision_duration_seconds",
			Help:    "Duration of requester final decisions including score aggregation",
			Buckets: durationBuckets,
		}),
	}
}

func (m *Metrics) IncrementRequestsCreated(workflowType string) {
	if m == nil {
		return
	}
	m.RequestsCreated.WithLabelValues(workflowType).Inc()
}

func (m *Metrics) IncrementStageAction(workflowType, action string) {
	if m == nil {
		return
	}
	m.StageActions.WithLabelValues(workflowType, action).Inc()
}

func (m *Metrics) IncrementCompleted(status string) {
	if m == nil {
		return
	}
	m.RequestsCompleted.WithLabelValues(status).Inc()
}

func (m *Metrics) IncrementHookFailure(hook string) {
	if m == nil {
		return
	}
	m.HookFailures.WithLabelValues(hook).Inc()
}

// ObserveAct records the duration of a stage action.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveAct(start time.Time) {
	if m == nil {
		return
	}
	m.ActDuration.Observe(time.Since(start).Seconds())
}

// ObserveDecision records the duration of a final decision.
func (m *Metrics) ObserveDecision(start time.Time) {
	if m == nil {
		return
	}
	m.DecisionDuration.Observe(time.Since(start).Seconds())
}
