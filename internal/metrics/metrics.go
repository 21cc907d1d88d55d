// Package metrics exposes Prometheus instruments for the agent loop and
// the stage coordinator. All methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "wellpen"

// Metrics holds every instrument on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	llmCalls     *prometheus.CounterVec
	llmDuration  *prometheus.HistogramVec
	llmRetries   prometheus.Counter
	tokens       *prometheus.CounterVec
	cost         *prometheus.CounterVec
	toolCalls    *prometheus.CounterVec
	toolDuration *prometheus.HistogramVec
	loopRounds   *prometheus.HistogramVec
	transitions  *prometheus.CounterVec
	rateLimited  prometheus.Counter
	turnErrors   *prometheus.CounterVec
}

// New registers all instruments on a fresh registry, along with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		llmCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_calls_total",
			Help:      "Model calls by agent role, model and outcome",
		}, []string{"role", "model", "status"}),
		llmDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_duration_seconds",
			Help:      "Model call latency",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"role"}),
		llmRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_retries_total",
			Help:      "Retries of transient provider failures",
		}),
		tokens: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Tokens consumed",
		}, []string{"model", "direction"}),
		cost: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cost_usd_total",
			Help:      "Estimated spend in USD",
		}, []string{"model"}),
		toolCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool executions by tool and outcome",
		}, []string{"tool", "status"}),
		toolDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_duration_seconds",
			Help:      "Tool execution latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		loopRounds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "loop_rounds",
			Help:      "Model calls needed to finish one turn",
			Buckets:   []float64{1, 2, 3, 4, 6, 8, 12},
		}, []string{"role"}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_transitions_total",
			Help:      "Coordinator stage changes",
		}, []string{"from", "to"}),
		rateLimited: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Turns rejected by the per-user rate limiter",
		}),
		turnErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turn_errors_total",
			Help:      "Turns that ended in a fatal error",
		}, []string{"kind"}),
	}
}

// Registry exposes the underlying registry for tests and custom handlers.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveLLMCall records one model call.
func (m *Metrics) ObserveLLMCall(role, model string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.llmCalls.WithLabelValues(role, model, status).Inc()
	m.llmDuration.WithLabelValues(role).Observe(d.Seconds())
}

// IncRetry counts one provider retry.
func (m *Metrics) IncRetry() {
	if m == nil {
		return
	}
	m.llmRetries.Inc()
}

// AddUsage records token counts and cost for model.
func (m *Metrics) AddUsage(model string, in, out int, costUSD float64) {
	if m == nil {
		return
	}
	m.tokens.WithLabelValues(model, "input").Add(float64(in))
	m.tokens.WithLabelValues(model, "output").Add(float64(out))
	m.cost.WithLabelValues(model).Add(costUSD)
}

// ObserveTool records one tool execution.
func (m *Metrics) ObserveTool(tool string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.toolCalls.WithLabelValues(tool, status).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// ObserveRounds records how many model calls a turn took.
func (m *Metrics) ObserveRounds(role string, rounds int) {
	if m == nil {
		return
	}
	m.loopRounds.WithLabelValues(role).Observe(float64(rounds))
}

// IncTransition counts a stage change.
func (m *Metrics) IncTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

// IncRateLimited counts a rejected turn.
func (m *Metrics) IncRateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

// IncTurnError counts a fatal turn error by kind.
func (m *Metrics) IncTurnError(kind string) {
	if m == nil {
		return
	}
	m.turnErrors.WithLabelValues(kind).Inc()
}
