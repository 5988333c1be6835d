package extractor

import (
	"context"

	"github.com/PuerkitoBio/goquery"

	"github.com/shelfscout/scraper/internal/scrape"
)

// CategoryExtractor pulls category links from a navigation page.
type CategoryExtractor struct {
	fetcher scrape.Fetcher
	cfg     Config
}

// Extract returns the ordered list of categories discovered on the page.
func (e *CategoryExtractor) Extract(ctx context.Context, targetURL string, _ scrape.Options) (scrape.Extraction, error) {
	doc, resp, err := fetchDocument(ctx, e.fetcher, scrape.FetchRequest{URL: targetURL})
	if err != nil {
		return scrape.Extraction{}, err
	}

	seen := make(map[string]struct{})
	var items []scrape.CategoryItem
	doc.Find("a.category-link, .subcategory a, .category-item a, .category-list a").Each(func(_ int, sel *goquery.Selection) {
		title := cleanText(sel.Text())
		href, ok := sel.Attr("href")
		if !ok || title == "" || len(title) >= e.cfg.MaxTitleLen {
			return
		}
		link := resolveURL(resp.URL, href)
		if link == "" {
			return
		}
		slug := Slugify(title)
		if slug == "" {
			return
		}
		if _, dup := seen[slug]; dup {
			return
		}
		seen[slug] = struct{}{}
		items = append(items, scrape.CategoryItem{Title: title, Slug: slug, URL: link})
	})

	if len(items) == 0 {
		return scrape.Extraction{}, scrape.NewTransientError("no category links present", nil)
	}
	return scrape.Extraction{Categories: items, RawHTML: resp.Body, FinalURL: resp.URL}, nil
}
