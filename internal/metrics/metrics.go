// Package metrics is the C10 metrics surface: counters, gauges, and
// histograms exposed on /metrics and updated by the router engine as it
// attempts and finalizes requests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every metric the router engine emits.
type Registry struct {
	reg *prometheus.Registry

	ModelCallsTotal  *prometheus.CounterVec
	EvalScore        prometheus.Histogram
	WaitTimeMs       prometheus.Histogram
	RequestLatency   *prometheus.HistogramVec
	CostUSD          *prometheus.CounterVec
	RateLimitedTotal prometheus.Counter

	// TokensEstimated is an auxiliary token-estimate counter, separate from
	// the fixed chars/4 estimator used for budget and fit decisions. Nothing
	// in this repository increments it, and no tokenizer is wired to it.
	TokensEstimated *prometheus.CounterVec
}

// New builds and registers every metric on a fresh registry.
func New() *Registry {
	reg := prometheus.NewRegistry()
	m := &Registry{
		reg: reg,
		ModelCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "switchboard_model_calls_total",
			Help: "Total provider calls attempted, by model and outcome",
		}, []string{"model", "provider", "outcome"}),
		EvalScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "switchboard_eval_score",
			Help:    "Evaluator scores assigned to candidate responses",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		WaitTimeMs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "switchboard_wait_time_ms",
			Help:    "End-to-end wall-clock wait per request, in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 12),
		}),
		RequestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "switchboard_request_latency_ms",
			Help:    "Per-attempt provider call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10),
		}, []string{"model", "provider"}),
		CostUSD: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "switchboard_cost_usd_total",
			Help: "Estimated USD cost attributed to routed requests",
		}, []string{"model", "provider"}),
		RateLimitedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "switchboard_rate_limited_total",
			Help: "Total attempts that received a RATE_LIMIT classification",
		}),
		TokensEstimated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "switchboard_tokens_estimated_total",
			Help: "Auxiliary token estimate, separate from the chars/4 estimator",
		}, []string{"model"}),
	}
	reg.MustRegister(
		m.ModelCallsTotal,
		m.EvalScore,
		m.WaitTimeMs,
		m.RequestLatency,
		m.CostUSD,
		m.RateLimitedTotal,
		m.TokensEstimated,
	)
	return m
}

// Handler returns the promhttp handler for this registry.
func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
