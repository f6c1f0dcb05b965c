// Package scrape fetches documentation pages and extracts their readable text.
package scrape

import (
	"context"
	"errors"
	"fmt"

	"guidekit/pkg/logx"
)

// MinStaticText is the text length below which a statically fetched page is
// assumed to need JavaScript rendering.
const MinStaticText = 200

// Fetch methods recorded on a Page.
const (
	ViaHTTP    = "http"
	ViaBrowser = "browser"
)

// ErrUnsupportedContentType is returned for responses that are not HTML or text.
var ErrUnsupportedContentType = errors.New("unsupported content type")

// StatusError reports a non-200 upstream response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: HTTP %d", e.URL, e.StatusCode)
}

// Temporary reports whether retrying the fetch may succeed.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// Page is the extracted content of one URL.
type Page struct {
	URL         string
	Title       string
	Text        string
	ContentType string
	Via         string
}

// Fetcher retrieves and extracts one page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Page, error)
}

// Scraper fetches statically and falls back to a headless browser for thin pages.
type Scraper struct {
	static  Fetcher
	browser Fetcher
	minText int
	logger  *logx.Logger
}

// NewScraper creates a scraper. browser may be nil to disable fallback.
func NewScraper(static, browser Fetcher) *Scraper {
	return &Scraper{
		static:  static,
		browser: browser,
		minText: MinStaticText,
		logger:  logx.NewLogger("scrape"),
	}
}

// Scrape returns the best available extraction of url.
func (s *Scraper) Scrape(ctx context.Context, url string) (*Page, error) {
	page, err := s.static.Fetch(ctx, url)
	if err == nil && len(page.Text) >= s.minText {
		return page, nil
	}
	if s.browser == nil {
		if err != nil {
			return nil, err
		}
		return page, nil
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) && !statusErr.Temporary() {
		// A 404 will not render any better in a browser.
		return nil, err
	}

	if err != nil {
		s.logger.Info("Static fetch of %s failed (%v), trying headless browser", url, err)
	} else {
		s.logger.Info("Static fetch of %s returned %d chars, trying headless browser", url, len(page.Text))
	}

	rendered, berr := s.browser.Fetch(ctx, url)
	if berr != nil {
		if err == nil {
			s.logger.Warn("Browser fetch of %s failed, keeping static result: %v", url, berr)
			return page, nil
		}
		return nil, fmt.Errorf("static fetch failed: %w; browser fetch failed: %v", err, berr) //nolint:errorlint // Primary cause stays matchable
	}
	if page != nil && len(page.Text) > len(rendered.Text) {
		return page, nil
	}
	return rendered, nil
}

// Close releases the browser, if any.
func (s *Scraper) Close() error {
	if c, ok := s.browser.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
