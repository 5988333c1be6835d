// Package extractor turns fetched pages into typed, validated records.
//
// One extractor variant exists per target type. Variants share the page
// fetcher behind the scrape.Fetcher interface and never write to durable
// storage; persistence belongs to the reconciler.
package extractor

import (
	"bytes"
	"context"
	"fmt"

	"github.com/PuerkitoBio/goquery"

	"github.com/shelfscout/scraper/internal/scrape"
)

// Config carries the knobs shared by all extractor variants.
type Config struct {
	// DefaultCurrency is assumed when a price carries no known symbol.
	DefaultCurrency string
	// ProductLimit bounds products read from one listing page when the job
	// options carry no explicit limit.
	ProductLimit int
	// MaxTitleLen filters out implausibly long link labels.
	MaxTitleLen int
}

func (c Config) withDefaults() Config {
	if c.DefaultCurrency == "" {
		c.DefaultCurrency = "GBP"
	}
	if c.ProductLimit <= 0 {
		c.ProductLimit = 50
	}
	if c.MaxTitleLen <= 0 {
		c.MaxTitleLen = 50
	}
	return c
}

// Registry resolves the extractor variant for a target type.
type Registry struct {
	byType map[scrape.TargetType]scrape.Extractor
}

// NewRegistry wires the four variants over the given fetchers. The detail
// fetcher may differ from the listing fetcher (headless rendering); when nil,
// the listing fetcher serves detail pages too.
func NewRegistry(fetcher, detailFetcher scrape.Fetcher, hasher scrape.Hasher, cfg Config) *Registry {
	cfg = cfg.withDefaults()
	if detailFetcher == nil {
		detailFetcher = fetcher
	}
	return &Registry{
		byType: map[scrape.TargetType]scrape.Extractor{
			scrape.TargetNavigation:    &NavigationExtractor{fetcher: fetcher, cfg: cfg},
			scrape.TargetCategory:      &CategoryExtractor{fetcher: fetcher, cfg: cfg},
			scrape.TargetProduct:       &ProductExtractor{fetcher: fetcher, hasher: hasher, cfg: cfg},
			scrape.TargetProductDetail: &ProductDetailExtractor{fetcher: detailFetcher, cfg: cfg},
		},
	}
}

// Extract dispatches to the variant for the job's target type. An unknown
// type is a structural failure regardless of remaining retry budget.
func (r *Registry) Extract(ctx context.Context, targetType scrape.TargetType, targetURL string, opts scrape.Options) (scrape.Extraction, error) {
	ex, ok := r.byType[targetType]
	if !ok {
		return scrape.Extraction{}, scrape.NewStructuralError(
			fmt.Sprintf("unknown scrape type %q", targetType), nil)
	}
	return ex.Extract(ctx, targetURL, opts)
}

// fetchDocument runs the fetcher and parses the response body.
func fetchDocument(ctx context.Context, fetcher scrape.Fetcher, req scrape.FetchRequest) (*goquery.Document, scrape.FetchResponse, error) {
	resp, err := fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, scrape.FetchResponse{}, fmt.Errorf("fetch %s: %w", req.URL, err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, resp, scrape.NewStructuralError("parse page body", err)
	}
	return doc, resp, nil
}
