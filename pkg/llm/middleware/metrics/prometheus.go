package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements the Recorder interface using Prometheus metrics.
type PrometheusRecorder struct {
	requestsTotal   *prometheus.CounterVec
	tokensTotal     *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	throttleTotal   *prometheus.CounterVec
	queueWaitTime   *prometheus.HistogramVec
}

// NewPrometheusRecorder creates a recorder whose collectors are registered with reg.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	r := &PrometheusRecorder{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guidekit_llm_requests_total",
				Help: "Total number of LLM requests by model, feature and status",
			},
			[]string{"model", "feature", "status", "error_type"},
		),
		tokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guidekit_llm_tokens_total",
				Help: "Total number of tokens used in LLM requests",
			},
			[]string{"model", "feature", "type"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "guidekit_llm_request_duration_seconds",
				Help:    "Duration of LLM requests in seconds",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80, 160},
			},
			[]string{"model", "feature"},
		),
		throttleTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guidekit_llm_throttle_total",
				Help: "Total number of LLM throttling events",
			},
			[]string{"model", "reason"},
		),
		queueWaitTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "guidekit_llm_queue_wait_duration_seconds",
				Help:    "Time spent waiting for rate limit availability",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"model"},
		),
	}
	reg.MustRegister(r.requestsTotal, r.tokensTotal, r.requestDuration, r.throttleTotal, r.queueWaitTime)
	return r
}

// ObserveRequest records metrics for a completed LLM request.
func (p *PrometheusRecorder) ObserveRequest(
	model, feature string,
	promptTokens, completionTokens int,
	success bool,
	errorType string,
	duration time.Duration,
) {
	status := "success"
	if !success {
		status = "error"
	}
	p.requestsTotal.WithLabelValues(model, feature, status, errorType).Inc()

	if success {
		p.tokensTotal.WithLabelValues(model, feature, "prompt").Add(float64(promptTokens))
		p.tokensTotal.WithLabelValues(model, feature, "completion").Add(float64(completionTokens))
	}
	p.requestDuration.WithLabelValues(model, feature).Observe(duration.Seconds())
}

// IncThrottle increments the throttle counter for rate limiting events.
func (p *PrometheusRecorder) IncThrottle(model, reason string) {
	p.throttleTotal.WithLabelValues(model, reason).Inc()
}

// ObserveQueueWait records time spent waiting for rate limit availability.
func (p *PrometheusRecorder) ObserveQueueWait(model string, duration time.Duration) {
	p.queueWaitTime.WithLabelValues(model).Observe(duration.Seconds())
}
