// Package collyfetcher implements scrape.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/shelfscout/scraper/internal/scrape"
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
}

// Fetcher implements scrape.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
	}
}

// Fetch executes a single HTTP GET using Colly. Network and timeout failures
// come back classified as transient; pages that are definitively gone are
// structural.
func (f *Fetcher) Fetch(ctx context.Context, request scrape.FetchRequest) (scrape.FetchResponse, error) {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.SetRequestTimeout(f.cfg.Timeout)

	var (
		result   scrape.FetchResponse
		fetchErr error
	)
	start := time.Now()
	collector.OnResponse(func(r *colly.Response) {
		result = scrape.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       r.Body,
			Duration:   time.Since(start),
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			fetchErr = classifyStatus(r.StatusCode, err)
			return
		}
		fetchErr = scrape.NewTransientError(fmt.Sprintf("fetch %s", request.URL), err)
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := collector.Visit(request.URL); err != nil && fetchErr == nil {
			fetchErr = scrape.NewTransientError(fmt.Sprintf("visit %s", request.URL), err)
		}
	}()

	select {
	case <-ctx.Done():
		return scrape.FetchResponse{}, scrape.NewTransientError(
			fmt.Sprintf("fetch %s aborted", request.URL), ctx.Err())
	case <-done:
	}
	if fetchErr != nil {
		return scrape.FetchResponse{}, fetchErr
	}
	if result.StatusCode == 0 {
		return scrape.FetchResponse{}, scrape.NewTransientError(
			fmt.Sprintf("fetch %s returned no response", request.URL), nil)
	}
	return result, nil
}

// classifyStatus separates definitively-broken targets from the retryable rest.
func classifyStatus(status int, err error) error {
	switch {
	case status == http.StatusNotFound || status == http.StatusGone:
		return scrape.NewStructuralError(fmt.Sprintf("page unavailable (status %d)", status), err)
	default:
		return scrape.NewTransientError(fmt.Sprintf("fetch failed (status %d)", status), err)
	}
}
