package scrape

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	page  *Page
	err   error
	calls int
}

func (f *fakeFetcher) Fetch(_ context.Context, _ string) (*Page, error) {
	f.calls++
	return f.page, f.err
}

func TestHTTPFetcherHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "guidekit-test", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = fmt.Fprint(w, samplePage)
	}))
	defer srv.Close()

	f := NewHTTPFetcher("guidekit-test", 0, 5*time.Second)
	page, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)

	assert.Equal(t, "Widget Docs", page.Title)
	assert.Equal(t, ViaHTTP, page.Via)
	assert.Contains(t, page.Text, "# Getting Started")
}

func TestHTTPFetcherMarkdown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/markdown")
		_, _ = fmt.Fprint(w, "\n# README\n\nSome docs.\n")
	}))
	defer srv.Close()

	page, err := NewHTTPFetcher("", 0, 5*time.Second).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "README", page.Title)
	assert.Equal(t, "# README\n\nSome docs.", page.Text)
}

func TestHTTPFetcherLimitsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = fmt.Fprint(w, strings.Repeat("a", 5000))
	}))
	defer srv.Close()

	page, err := NewHTTPFetcher("", 1000, 5*time.Second).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Len(t, page.Text, 1000)
}

func TestHTTPFetcherErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			http.NotFound(w, r)
		case "/busy":
			w.WriteHeader(http.StatusServiceUnavailable)
		case "/binary":
			w.Header().Set("Content-Type", "application/pdf")
			_, _ = w.Write([]byte("%PDF"))
		}
	}))
	defer srv.Close()

	f := NewHTTPFetcher("", 0, 5*time.Second)

	_, err := f.Fetch(context.Background(), srv.URL+"/missing")
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	assert.False(t, statusErr.Temporary())

	_, err = f.Fetch(context.Background(), srv.URL+"/busy")
	require.ErrorAs(t, err, &statusErr)
	assert.True(t, statusErr.Temporary())

	_, err = f.Fetch(context.Background(), srv.URL+"/binary")
	assert.ErrorIs(t, err, ErrUnsupportedContentType)
}

func TestScraperUsesStaticWhenLongEnough(t *testing.T) {
	static := &fakeFetcher{page: &Page{Text: strings.Repeat("x", MinStaticText)}}
	browser := &fakeFetcher{page: &Page{Text: "rendered"}}

	page, err := NewScraper(static, browser).Scrape(context.Background(), "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, MinStaticText, len(page.Text))
	assert.Equal(t, 0, browser.calls)
}

func TestScraperFallsBackForThinPages(t *testing.T) {
	static := &fakeFetcher{page: &Page{Text: "Loading...", Via: ViaHTTP}}
	browser := &fakeFetcher{page: &Page{Text: strings.Repeat("rendered ", 50), Via: ViaBrowser}}

	page, err := NewScraper(static, browser).Scrape(context.Background(), "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, ViaBrowser, page.Via)
	assert.Equal(t, 1, browser.calls)
}

func TestScraperKeepsStaticWhenBrowserFails(t *testing.T) {
	static := &fakeFetcher{page: &Page{Text: "short", Via: ViaHTTP}}
	browser := &fakeFetcher{err: errors.New("no chrome")}

	page, err := NewScraper(static, browser).Scrape(context.Background(), "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, "short", page.Text)
}

func TestScraperDoesNotRenderPermanentFailures(t *testing.T) {
	static := &fakeFetcher{err: &StatusError{URL: "u", StatusCode: http.StatusNotFound}}
	browser := &fakeFetcher{page: &Page{Text: "rendered"}}

	_, err := NewScraper(static, browser).Scrape(context.Background(), "https://example.com")
	require.Error(t, err)
	assert.Equal(t, 0, browser.calls)
}

func TestScraperWithoutBrowser(t *testing.T) {
	static := &fakeFetcher{page: &Page{Text: "thin"}}
	s := NewScraper(static, nil)

	page, err := s.Scrape(context.Background(), "https://example.com")
	require.NoError(t, err)
	assert.Equal(t, "thin", page.Text)
	assert.NoError(t, s.Close())
}
