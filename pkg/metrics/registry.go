package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	llmmetrics "guidekit/pkg/llm/middleware/metrics"
)

// Registry owns the service's Prometheus collectors.
type Registry struct {
	reg          *prometheus.Registry
	llm          *llmmetrics.PrometheusRecorder
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	stepDuration *prometheus.HistogramVec
	guidesTotal  *prometheus.CounterVec
}

// NewRegistry creates a registry with HTTP, pipeline and LLM collectors.
// withRuntime adds the Go runtime and process collectors.
func NewRegistry(withRuntime bool) *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		reg: reg,
		llm: llmmetrics.NewPrometheusRecorder(reg),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guidekit_http_requests_total",
				Help: "HTTP requests by method, route and status code",
			},
			[]string{"method", "route", "code"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "guidekit_http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "guidekit_pipeline_step_duration_seconds",
				Help:    "Duration of guide pipeline step attempts",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"step", "outcome"},
		),
		guidesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guidekit_guides_total",
				Help: "Guides that finished processing, by terminal status",
			},
			[]string{"status"},
		),
	}
	reg.MustRegister(r.httpRequests, r.httpDuration, r.stepDuration, r.guidesTotal)
	if withRuntime {
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	return r
}

// LLM returns the recorder for the LLM metrics middleware.
func (r *Registry) LLM() *llmmetrics.PrometheusRecorder {
	return r.llm
}

// Gatherer exposes the registry for tests and custom handlers.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// ObserveHTTP records one served request. route is the matched route
// pattern, not the raw path.
func (r *Registry) ObserveHTTP(method, route string, code int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	r.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	r.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// ObserveStep records a pipeline step attempt. Its signature matches workflow.Observer.
func (r *Registry) ObserveStep(step string, elapsed time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.stepDuration.WithLabelValues(step, outcome).Observe(elapsed.Seconds())
}

// IncGuide counts a guide reaching a terminal status.
func (r *Registry) IncGuide(status string) {
	r.guidesTotal.WithLabelValues(status).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}
