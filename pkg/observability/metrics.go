package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aretw0/coachflow/pkg/domain"
)

const (
	labelWorkflow = "workflow_type"
	labelNode     = "node"
	labelProvider = "provider"
	labelModel    = "model"
	labelOutcome  = "outcome"
	labelStatus   = "status"
	labelKind     = "kind"
)

// Provider attempt outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeSkipped = "skipped"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	NodeExecutions   *prometheus.CounterVec
	NodeDuration     *prometheus.HistogramVec
	ProviderAttempts *prometheus.CounterVec
	ProviderLatency  *prometheus.HistogramVec
	InferenceTokens  *prometheus.CounterVec
	InferenceCost    *prometheus.CounterVec
	Workflows        *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg uses a fresh private registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		NodeExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coachflow_node_executions_total",
			Help: "Total number of node executions",
		}, []string{labelWorkflow, labelNode, labelOutcome}),
		NodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "coachflow_node_duration_seconds",
			Help:    "Duration of node executions",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{labelWorkflow, labelNode}),
		ProviderAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coachflow_provider_attempts_total",
			Help: "Provider attempts by outcome",
		}, []string{labelProvider, labelOutcome}),
		ProviderLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "coachflow_provider_latency_seconds",
			Help:    "Latency of provider calls",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{labelProvider}),
		InferenceTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coachflow_inference_tokens_total",
			Help: "Tokens consumed by successful inference calls",
		}, []string{labelProvider, labelModel, labelKind}),
		InferenceCost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coachflow_inference_cost_total",
			Help: "Estimated cost of successful inference calls",
		}, []string{labelProvider, labelModel}),
		Workflows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coachflow_workflow_transitions_total",
			Help: "Workflows that paused, completed or failed",
		}, []string{labelWorkflow, labelStatus}),
		gatherer: reg,
	}
	reg.MustRegister(
		m.NodeExecutions,
		m.NodeDuration,
		m.ProviderAttempts,
		m.ProviderLatency,
		m.InferenceTokens,
		m.InferenceCost,
		m.Workflows,
	)
	return m
}

// Hooks returns lifecycle hooks that record into m.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnNodeLeave: func(ctx context.Context, e *domain.NodeEvent) {
			outcome := OutcomeSuccess
			if e.Err != nil {
				outcome = OutcomeError
			}
			m.NodeExecutions.WithLabelValues(string(e.WorkflowType), e.Node, outcome).Inc()
			m.NodeDuration.WithLabelValues(string(e.WorkflowType), e.Node).Observe(e.Duration.Seconds())
		},
		OnProviderAttempt: func(ctx context.Context, e *domain.ProviderEvent) {
			switch {
			case e.Skipped:
				m.ProviderAttempts.WithLabelValues(e.Provider, OutcomeSkipped).Inc()
				return
			case e.Err != nil:
				m.ProviderAttempts.WithLabelValues(e.Provider, OutcomeError).Inc()
			default:
				m.ProviderAttempts.WithLabelValues(e.Provider, OutcomeSuccess).Inc()
				m.InferenceTokens.WithLabelValues(e.Provider, e.Model, "input").Add(float64(e.InputTokens))
				m.InferenceTokens.WithLabelValues(e.Provider, e.Model, "output").Add(float64(e.OutputTokens))
				m.InferenceCost.WithLabelValues(e.Provider, e.Model).Add(e.Cost)
			}
			m.ProviderLatency.WithLabelValues(e.Provider).Observe(e.Duration.Seconds())
		},
		OnWorkflowPaused: func(ctx context.Context, e *domain.WorkflowEvent) {
			m.Workflows.WithLabelValues(string(e.WorkflowType), string(e.Status)).Inc()
		},
		OnWorkflowDone: func(ctx context.Context, e *domain.WorkflowEvent) {
			m.Workflows.WithLabelValues(string(e.WorkflowType), string(e.Status)).Inc()
		},
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
