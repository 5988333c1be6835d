package extractor

import (
	"context"

	"github.com/PuerkitoBio/goquery"

	"github.com/shelfscout/scraper/internal/scrape"
)

// ProductExtractor pulls product records from a category listing page.
type ProductExtractor struct {
	fetcher scrape.Fetcher
	hasher  scrape.Hasher
	cfg     Config
}

// Extract returns up to options.limit products from the listing. Source ids
// are derived from stable page content so re-scraping the same listing
// matches the same catalog rows.
func (e *ProductExtractor) Extract(ctx context.Context, targetURL string, opts scrape.Options) (scrape.Extraction, error) {
	limit := e.cfg.ProductLimit
	if n, ok := opts.Int("limit"); ok && n > 0 {
		limit = n
	}

	doc, resp, err := fetchDocument(ctx, e.fetcher, scrape.FetchRequest{URL: targetURL, WaitSelector: ".product, .book-item, .product-item"})
	if err != nil {
		return scrape.Extraction{}, err
	}

	nodes := doc.Find(".product, .book-item, .product-item")
	if nodes.Length() == 0 {
		return scrape.Extraction{}, scrape.NewTransientError("product grid not present", nil)
	}

	seen := make(map[string]struct{})
	var items []scrape.ProductItem
	nodes.EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if len(items) >= limit {
			return false
		}
		item, ok := e.readProduct(resp.URL, sel)
		if !ok {
			return true
		}
		if _, dup := seen[item.SourceID]; dup {
			return true
		}
		seen[item.SourceID] = struct{}{}
		items = append(items, item)
		return true
	})

	return scrape.Extraction{Products: items, RawHTML: resp.Body, FinalURL: resp.URL}, nil
}

func (e *ProductExtractor) readProduct(pageURL string, sel *goquery.Selection) (scrape.ProductItem, bool) {
	title := cleanText(sel.Find("h2, h3, .title, .product-title").First().Text())
	href, _ := sel.Find("a").First().Attr("href")
	if title == "" || href == "" {
		return scrape.ProductItem{}, false
	}
	sourceURL := resolveURL(pageURL, href)
	if sourceURL == "" {
		return scrape.ProductItem{}, false
	}

	item := scrape.ProductItem{
		Title:     title,
		Author:    cleanText(sel.Find(".author, .product-author").First().Text()),
		SourceURL: sourceURL,
		SourceID:  e.sourceID(sourceURL),
		Currency:  e.cfg.DefaultCurrency,
		InStock:   sel.Find(".out-of-stock, .sold-out").Length() == 0,
	}

	if priceText := cleanText(sel.Find(".price, .product-price").First().Text()); priceText != "" {
		item.Price, item.Currency = ParsePrice(priceText, e.cfg.DefaultCurrency)
	}
	if img := sel.Find("img").First(); img.Length() > 0 {
		src, ok := img.Attr("src")
		if !ok || src == "" {
			src, _ = img.Attr("data-src")
		}
		if src != "" {
			item.ImageURL = resolveURL(pageURL, src)
		}
	}
	if countText := cleanText(sel.Find(".review-count").First().Text()); countText != "" {
		item.ReviewCount = parseIntLoose(countText)
	}
	return item, true
}

// sourceID prefers the canonical URL slug; failing that, a digest of the
// canonical URL. Never derived from the clock.
func (e *ProductExtractor) sourceID(sourceURL string) string {
	if id := sourceIDFromURL(sourceURL); id != "" {
		return id
	}
	digest, err := e.hasher.Hash([]byte(sourceURL))
	if err != nil || len(digest) < 16 {
		return sourceURL
	}
	return digest[:16]
}
