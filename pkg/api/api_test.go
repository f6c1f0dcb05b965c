package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"guidekit/pkg/auth"
	"guidekit/pkg/chunking"
	"guidekit/pkg/config"
	"guidekit/pkg/docs"
	"guidekit/pkg/embedding"
	"guidekit/pkg/llm"
	"guidekit/pkg/metrics"
	"guidekit/pkg/persistence"
	"guidekit/pkg/persistence/sqlite"
	"guidekit/pkg/persistence/sqlstore"
	"guidekit/pkg/prd"
	"guidekit/pkg/prompts"
	"guidekit/pkg/rules"
	"guidekit/pkg/scrape"
	"guidekit/pkg/templates"
)

const pageText = `# Widgets

Widgets wrap a client with a configurable timeout and retry budget.

## Configure

Set the timeout option to bound every call. The default timeout is thirty seconds.`

const guideReply = `{"title": "Widget Guide", "guide": "## Summary\n\nWidgets add timeouts and retries."}`

var jwtSecret = []byte("api-test-secret-api-test-secret-0123")

type staticScraper struct{}

func (staticScraper) Scrape(_ context.Context, url string) (*scrape.Page, error) {
	return &scrape.Page{URL: url, Title: "Widgets", Text: pageText, ContentType: "text/html", Via: scrape.ViaHTTP}, nil
}

type testServer struct {
	*Server
	store *sqlstore.Store
	docs  *docs.Service
}

func newTestServer(t *testing.T, verifier auth.Verifier, replies ...string) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := sqlite.OpenMigrated(context.Background(), sqlite.Memory)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	client := llm.NewMockClientWithContent(replies...)
	renderer := templates.MustNewRenderer()
	docsSvc := docs.New(store, client, embedding.NewFake(32), staticScraper{}, chunking.NewSplitter(nil, 60, 10),
		renderer, docs.Config{StepAttempts: 1, MaxTokens: 256, TopK: 3})

	srv := NewServer(Services{
		Prompts: prompts.New(store, client, renderer),
		PRDs:    prd.New(store, client, renderer, 0),
		Rules:   rules.New(store, client, renderer, 0),
		Docs:    docsSvc,
	}, Options{
		Server:   config.ServerConfig{CORSOrigins: []string{"https://app.example.com"}},
		Verifier: verifier,
		Registry: metrics.NewRegistry(false),
		Health:   store.Ping,
	})
	return &testServer{Server: srv, store: store, docs: docsSvc}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec, env
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v), string(raw))
	return v
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t, nil)

	rec, _ := ts.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = ts.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `guidekit_http_requests_total{code="200",method="GET",route="/healthz"} 1`)
}

func TestHealthReportsStoreFailure(t *testing.T) {
	ts := newTestServer(t, nil)
	require.NoError(t, ts.store.Close())

	rec, _ := ts.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestPromptLifecycle(t *testing.T) {
	ts := newTestServer(t, nil)

	rec, env := ts.do(t, http.MethodPost, "/api/prompts", "", prompts.Input{
		Title: "Review", Content: "Review this diff", Category: "coding", Tags: []string{"Go"}, IsPublic: true,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[map[string]any](t, env.Data)
	id := created["id"].(string)

	rec, env = ts.do(t, http.MethodGet, "/api/prompts?scope=mine&tag=go", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]map[string]any](t, env.Data), 1)

	rec, env = ts.do(t, http.MethodPost, "/api/prompts/"+id+"/use", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"useCount": 1}`, string(env.Data))

	rec, _ = ts.do(t, http.MethodPost, "/api/prompts/"+id+"/favorite", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = ts.do(t, http.MethodDelete, "/api/prompts/"+id, "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec, env = ts.do(t, http.MethodGet, "/api/prompts/"+id, "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, env.Success)
}

func TestPromptValidationAndBadJSON(t *testing.T) {
	ts := newTestServer(t, nil)

	rec, env := ts.do(t, http.MethodPost, "/api/prompts", "", prompts.Input{Title: "x", Content: "y", Category: "poetry"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, env.Error, "category")

	rec, env = ts.do(t, http.MethodPost, "/api/prompts", "", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, env.Error, "body")

	rec, _ = ts.do(t, http.MethodGet, "/api/prompts?limit=ten", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBodyLimit(t *testing.T) {
	ts := newTestServer(t, nil)
	big := `{"title": "x", "content": "` + strings.Repeat("a", maxBodyBytes) + `"}`

	rec, _ := ts.do(t, http.MethodPost, "/api/prompts", "", big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestRulesGenerateAndDownload(t *testing.T) {
	ts := newTestServer(t, nil, `{"content": "# Rules\n- Use gofmt"}`)

	rec, env := ts.do(t, http.MethodPost, "/api/rules", "", rules.GenerateInput{
		ProjectName: "guidekit", Description: "Docs to guides", Target: "claude", TechStack: []string{"Go"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := decode[map[string]any](t, env.Data)["id"].(string)

	rec, _ = ts.do(t, http.MethodGet, "/api/rules/"+id+"/download", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "attachment; filename=CLAUDE.md", rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "text/markdown; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "# Rules\n- Use gofmt\n", rec.Body.String())

	rec, env = ts.do(t, http.MethodGet, "/api/rules/targets", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]rules.Target](t, env.Data), len(rules.Targets))
}

func TestLLMFailureMapsToBadGateway(t *testing.T) {
	ts := newTestServer(t, nil, "not json", "still not json")

	rec, env := ts.do(t, http.MethodPost, "/api/rules", "", rules.GenerateInput{ProjectName: "p", Description: "d"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.False(t, env.Success)
}

func TestGuideSubmitStatuses(t *testing.T) {
	ts := newTestServer(t, nil, guideReply)

	rec, env := ts.do(t, http.MethodPost, "/api/guides", "", gin.H{"url": "https://docs.example.com/widgets"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	first := decode[docs.SubmitResult](t, env.Data)
	assert.True(t, first.Created)

	rec, env = ts.do(t, http.MethodPost, "/api/guides", "", gin.H{"url": "https://docs.example.com/widgets/"})
	require.Equal(t, http.StatusOK, rec.Code)
	again := decode[docs.SubmitResult](t, env.Data)
	assert.False(t, again.Created)
	assert.Equal(t, first.Guide.ID, again.Guide.ID)

	force := gin.H{"url": "https://docs.example.com/widgets", "forceRefresh": true}
	rec, env = ts.do(t, http.MethodPost, "/api/guides", "", force)
	require.Equal(t, http.StatusOK, rec.Code, "forcing a queued guide changes nothing")
	assert.False(t, decode[docs.SubmitResult](t, env.Data).Refreshed)

	require.NoError(t, ts.docs.Process(context.Background(), first.Guide.ID))
	rec, env = ts.do(t, http.MethodPost, "/api/guides", "", force)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	refreshed := decode[docs.SubmitResult](t, env.Data)
	assert.True(t, refreshed.Refreshed)
	assert.Equal(t, persistence.GuideQueued, refreshed.Guide.Status)

	rec, _ = ts.do(t, http.MethodPost, "/api/guides", "", gin.H{"url": "ftp://docs.example.com"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = ts.do(t, http.MethodGet, "/api/guides?status=bogus", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func (ts *testServer) completedGuide(t *testing.T) string {
	t.Helper()
	res, err := ts.docs.Submit(context.Background(), auth.LocalDevUser, "https://docs.example.com/widgets", false)
	require.NoError(t, err)
	require.NoError(t, ts.docs.Process(context.Background(), res.Guide.ID))
	return res.Guide.ID
}

func TestGuideChat(t *testing.T) {
	ts := newTestServer(t, nil, guideReply, "Set the timeout option.")

	pending, err := ts.docs.Submit(context.Background(), auth.LocalDevUser, "https://docs.example.com/pending", false)
	require.NoError(t, err)
	rec, _ := ts.do(t, http.MethodPost, "/api/guides/"+pending.Guide.ID+"/chat", "", gin.H{"question": "How?"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	id := ts.completedGuide(t)
	rec, env := ts.do(t, http.MethodPost, "/api/guides/"+id+"/chat", "", gin.H{"question": "How do I set a timeout?"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Set the timeout option.", decode[map[string]any](t, env.Data)["content"])

	rec, env = ts.do(t, http.MethodGet, "/api/guides/"+id+"/messages", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]map[string]any](t, env.Data), 2)

	rec, env = ts.do(t, http.MethodGet, "/api/guides/"+id+"/search?q=timeout&k=2", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decode[[]map[string]any](t, env.Data))
}

func TestGuideChatStream(t *testing.T) {
	ts := newTestServer(t, nil, guideReply, "Pass the timeout option.")
	id := ts.completedGuide(t)

	rec, _ := ts.do(t, http.MethodPost, "/api/guides/"+id+"/chat", "", gin.H{"question": "Timeouts?", "stream": true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, "event:delta")
	assert.Contains(t, body, `"content":"Pass "`)
	assert.Contains(t, body, "event:done")
	assert.NotContains(t, body, "event:error")
}

func TestGuideDeleteRequiresSubmitter(t *testing.T) {
	ts := newTestServer(t, nil)
	res, err := ts.docs.Submit(context.Background(), "someone-else", "https://docs.example.com/other", false)
	require.NoError(t, err)

	rec, _ := ts.do(t, http.MethodDelete, "/api/guides/"+res.Guide.ID, "", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func signToken(t *testing.T, sub string, exp time.Time) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub,
		"exp": exp.Unix(),
	}).SignedString(jwtSecret)
	require.NoError(t, err)
	return token
}

func TestAuthentication(t *testing.T) {
	verifier, err := auth.NewJWTVerifier(jwtSecret, "", "")
	require.NoError(t, err)
	ts := newTestServer(t, verifier)
	input := prompts.Input{Title: "Mine", Content: "Body", Category: "writing"}

	rec, _ := ts.do(t, http.MethodPost, "/api/prompts", "", input)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, env := ts.do(t, http.MethodPost, "/api/prompts", "garbage", input)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, env.Error, "token")

	rec, _ = ts.do(t, http.MethodPost, "/api/prompts", signToken(t, "user-1", time.Now().Add(-time.Hour)), input)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, env = ts.do(t, http.MethodPost, "/api/prompts", signToken(t, "user-1", time.Now().Add(time.Hour)), input)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "user-1", decode[map[string]any](t, env.Data)["ownerId"])

	rec, _ = ts.do(t, http.MethodGet, "/api/prompts", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = ts.do(t, http.MethodGet, "/api/logs", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/prompts", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	ts.Handler().ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSCredentialsOnlyForListedOrigins(t *testing.T) {
	gin.SetMode(gin.TestMode)
	preflight := func(srv *Server) http.Header {
		req := httptest.NewRequest(http.MethodOptions, "/api/prompts", nil)
		req.Header.Set("Origin", "https://app.example.com")
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		require.Equal(t, http.StatusNoContent, rec.Code)
		return rec.Header()
	}

	listed := preflight(NewServer(Services{}, Options{
		Server: config.ServerConfig{CORSOrigins: []string{"https://app.example.com"}},
	}))
	assert.Equal(t, "https://app.example.com", listed.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", listed.Get("Access-Control-Allow-Credentials"))

	wildcard := preflight(NewServer(Services{}, Options{
		Server: config.ServerConfig{CORSOrigins: []string{"*"}},
	}))
	assert.Equal(t, "*", wildcard.Get("Access-Control-Allow-Origin"))
	assert.Empty(t, wildcard.Get("Access-Control-Allow-Credentials"))
}
