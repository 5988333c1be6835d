package extractor

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/shelfscout/scraper/internal/scrape"
)

// navExcludeWords marks link labels that are UI affordances, not sections.
var navExcludeWords = []string{"cart", "account", "login", "search", "contact", "about"}

// NavigationExtractor pulls the primary site sections from a landing page.
type NavigationExtractor struct {
	fetcher scrape.Fetcher
	cfg     Config
}

// Extract returns the ordered list of navigation candidates, filtered to
// exclude non-primary affordances and degenerate labels.
func (e *NavigationExtractor) Extract(ctx context.Context, targetURL string, _ scrape.Options) (scrape.Extraction, error) {
	doc, resp, err := fetchDocument(ctx, e.fetcher, scrape.FetchRequest{URL: targetURL, WaitSelector: "nav, header"})
	if err != nil {
		return scrape.Extraction{}, err
	}
	if doc.Find("nav, header").Length() == 0 {
		return scrape.Extraction{}, scrape.NewTransientError("navigation chrome not present", nil)
	}

	seen := make(map[string]struct{})
	var items []scrape.NavigationItem
	doc.Find("nav a, header a, .nav-item a, .menu-item a").Each(func(_ int, sel *goquery.Selection) {
		title := cleanText(sel.Text())
		href, ok := sel.Attr("href")
		if !ok || title == "" {
			return
		}
		link := resolveURL(resp.URL, href)
		if link == "" || !e.isPrimary(title, link) {
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
		items = append(items, scrape.NavigationItem{Title: title, Slug: slug, URL: link})
	})

	return scrape.Extraction{Navigation: items, RawHTML: resp.Body, FinalURL: resp.URL}, nil
}

func (e *NavigationExtractor) isPrimary(title, link string) bool {
	if len(title) <= 1 || len(title) >= e.cfg.MaxTitleLen {
		return false
	}
	lowTitle := strings.ToLower(title)
	lowLink := strings.ToLower(link)
	for _, word := range navExcludeWords {
		if strings.Contains(lowTitle, word) || strings.Contains(lowLink, word) {
			return false
		}
	}
	return true
}
