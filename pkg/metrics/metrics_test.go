package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryCollects(t *testing.T) {
	r := NewRegistry(false)
	r.ObserveHTTP(http.MethodGet, "/api/prompts", 200, 15*time.Millisecond)
	r.ObserveHTTP(http.MethodGet, "", 404, time.Millisecond)
	r.ObserveStep("scrape", time.Second, nil)
	r.ObserveStep("scrape", time.Second, errors.New("boom"))
	r.IncGuide("completed")
	r.LLM().ObserveRequest("gpt-4o-mini", "prd.generate", 100, 50, true, "", time.Second)

	families, err := r.Gatherer().Gather()
	require.NoError(t, err)
	names := make(map[string]int)
	for _, f := range families {
		names[f.GetName()] = len(f.GetMetric())
	}
	assert.Equal(t, 2, names["guidekit_http_requests_total"])
	assert.Equal(t, 2, names["guidekit_pipeline_step_duration_seconds"])
	assert.Equal(t, 1, names["guidekit_guides_total"])

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	body := string(raw)
	assert.Contains(t, body, `guidekit_http_requests_total{code="200",method="GET",route="/api/prompts"} 1`)
	assert.Contains(t, body, `guidekit_guides_total{status="completed"} 1`)
	assert.Contains(t, body, `guidekit_llm_tokens_total{feature="prd.generate",model="gpt-4o-mini",type="prompt"} 100`)
}

func prometheusStub(t *testing.T, results map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		query := r.Form.Get("query")
		w.Header().Set("Content-Type", "application/json")
		for metric, result := range results {
			if strings.Contains(query, metric) {
				_, _ = w.Write([]byte(`{"status":"success","data":{"resultType":"vector","result":` + result + `}}`))
				return
			}
		}
		_, _ = w.Write([]byte(`{"status":"success","data":{"resultType":"vector","result":[]}}`))
	}))
}

func TestUsageAggregatesByFeature(t *testing.T) {
	srv := prometheusStub(t, map[string]string{
		"guidekit_llm_tokens_total": `[
			{"metric":{"feature":"prd.generate","model":"gpt-4o-mini","type":"prompt"},"value":[1700000000,"1200"]},
			{"metric":{"feature":"prd.generate","model":"gpt-4o-mini","type":"completion"},"value":[1700000000,"800"]},
			{"metric":{"feature":"docs.chat","model":"gpt-4o-mini","type":"prompt"},"value":[1700000000,"300"]}
		]`,
		"guidekit_llm_requests_total": `[
			{"metric":{"feature":"prd.generate","model":"gpt-4o-mini","status":"success"},"value":[1700000000,"4"]},
			{"metric":{"feature":"prd.generate","model":"gpt-4o-mini","status":"error"},"value":[1700000000,"1"]},
			{"metric":{"feature":"docs.chat","model":"gpt-4o-mini","status":"success"},"value":[1700000000,"2"]}
		]`,
	})
	defer srv.Close()

	q, err := NewQueryService(srv.URL)
	require.NoError(t, err)
	usage, err := q.Usage(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	require.Len(t, usage, 2)

	assert.Equal(t, FeatureUsage{
		Feature: "prd.generate", Model: "gpt-4o-mini",
		PromptTokens: 1200, CompletionTokens: 800, TotalTokens: 2000, Requests: 5, Errors: 1,
	}, usage[0])
	assert.Equal(t, "docs.chat", usage[1].Feature)
	assert.Equal(t, int64(300), usage[1].TotalTokens)
}

func TestUsageValidation(t *testing.T) {
	_, err := NewQueryService("")
	assert.Error(t, err)

	q, err := NewQueryService("http://127.0.0.1:1")
	require.NoError(t, err)
	_, err = q.Usage(context.Background(), 0)
	assert.Error(t, err)
}
