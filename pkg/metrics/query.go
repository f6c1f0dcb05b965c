// Package metrics owns the service's Prometheus collectors and queries a
// Prometheus server for aggregated LLM usage.
package metrics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// FeatureUsage is the token usage of one feature over a window.
type FeatureUsage struct {
	Feature          string `json:"feature"`
	Model            string `json:"model"`
	PromptTokens     int64  `json:"prompt_tokens"`
	CompletionTokens int64  `json:"completion_tokens"`
	TotalTokens      int64  `json:"total_tokens"`
	Requests         int64  `json:"requests"`
	Errors           int64  `json:"errors"`
}

// QueryService provides methods to query metrics from Prometheus.
type QueryService struct {
	queryAPI v1.API
	now      func() time.Time
}

// NewQueryService creates a new metrics query service.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	if prometheusURL == "" {
		return nil, fmt.Errorf("prometheus URL is not configured")
	}
	client, err := api.NewClient(api.Config{
		Address: prometheusURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}

	return &QueryService{
		queryAPI: v1.NewAPI(client),
		now:      time.Now,
	}, nil
}

type usageKey struct {
	feature, model string
}

// Usage aggregates LLM tokens and requests per feature and model over the
// trailing window, sorted by total tokens descending.
func (q *QueryService) Usage(ctx context.Context, window time.Duration) ([]FeatureUsage, error) {
	if window <= 0 {
		return nil, fmt.Errorf("usage window must be positive")
	}
	rng := model.Duration(window).String()
	at := q.now()
	usage := make(map[usageKey]*FeatureUsage)
	entry := func(m model.Metric) *FeatureUsage {
		k := usageKey{feature: string(m["feature"]), model: string(m["model"])}
		u, ok := usage[k]
		if !ok {
			u = &FeatureUsage{Feature: k.feature, Model: k.model}
			usage[k] = u
		}
		return u
	}

	tokens, err := q.vector(ctx, fmt.Sprintf(
		`sum by (feature, model, type) (increase(guidekit_llm_tokens_total[%s]))`, rng), at)
	if err != nil {
		return nil, fmt.Errorf("failed to query token usage: %w", err)
	}
	for _, sample := range tokens {
		u := entry(sample.Metric)
		switch sample.Metric["type"] {
		case "prompt":
			u.PromptTokens += int64(sample.Value)
		case "completion":
			u.CompletionTokens += int64(sample.Value)
		}
	}

	requests, err := q.vector(ctx, fmt.Sprintf(
		`sum by (feature, model, status) (increase(guidekit_llm_requests_total[%s]))`, rng), at)
	if err != nil {
		return nil, fmt.Errorf("failed to query request counts: %w", err)
	}
	for _, sample := range requests {
		u := entry(sample.Metric)
		u.Requests += int64(sample.Value)
		if sample.Metric["status"] == "error" {
			u.Errors += int64(sample.Value)
		}
	}

	out := make([]FeatureUsage, 0, len(usage))
	for _, u := range usage {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalTokens != out[j].TotalTokens {
			return out[i].TotalTokens > out[j].TotalTokens
		}
		return out[i].Feature < out[j].Feature
	})
	return out, nil
}

func (q *QueryService) vector(ctx context.Context, query string, at time.Time) (model.Vector, error) {
	result, _, err := q.queryAPI.Query(ctx, query, at)
	if err != nil {
		return nil, err //nolint:wrapcheck // Wrapped by the caller with the query's purpose
	}
	vector, ok := result.(model.Vector)
	if !ok {
		return nil, fmt.Errorf("unexpected result type %s", result.Type())
	}
	return vector, nil
}
