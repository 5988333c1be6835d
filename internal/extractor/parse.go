package extractor

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

var (
	slugStrip    = regexp.MustCompile(`[^\w\s-]`)
	slugSpaces   = regexp.MustCompile(`\s+`)
	slugCollapse = regexp.MustCompile(`-+`)
	priceNumber  = regexp.MustCompile(`\d{1,3}(?:,\d{3})*(?:\.\d+)?|\d+(?:\.\d+)?`)
	intNumber    = regexp.MustCompile(`\d+`)
)

// Slugify normalizes a display title into a URL-safe natural key.
func Slugify(text string) string {
	s := strings.ToLower(strings.TrimSpace(text))
	s = slugStrip.ReplaceAllString(s, "")
	s = slugSpaces.ReplaceAllString(s, "-")
	s = slugCollapse.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// ParsePrice pulls an amount and currency out of a raw price label.
// Thousands separators are tolerated; the currency falls back to
// defaultCurrency when no known symbol is present.
func ParsePrice(text, defaultCurrency string) (*float64, string) {
	currency := defaultCurrency
	switch {
	case strings.Contains(text, "£"):
		currency = "GBP"
	case strings.Contains(text, "$"):
		currency = "USD"
	case strings.Contains(text, "€"):
		currency = "EUR"
	}
	match := priceNumber.FindString(text)
	if match == "" {
		return nil, currency
	}
	value, err := strconv.ParseFloat(strings.ReplaceAll(match, ",", ""), 64)
	if err != nil {
		return nil, currency
	}
	return &value, currency
}

// sourceIDFromURL derives a stable product identifier from the canonical
// product URL so re-scraping the same listing matches the same row. The last
// meaningful path segment serves as the id; callers fall back to a content
// hash when the URL has no usable segment.
func sourceIDFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := len(segments) - 1; i >= 0; i-- {
		seg := strings.TrimSuffix(segments[i], ".html")
		seg = strings.TrimSpace(seg)
		switch seg {
		case "", "p", "product", "products", "book", "books":
			continue
		}
		return seg
	}
	return ""
}

// resolveURL makes href absolute against the page URL.
func resolveURL(pageURL, href string) string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return href
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

// cleanText collapses whitespace in extracted text nodes.
func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// parseIntLoose reads the first integer appearing in s, for page counts and
// review totals embedded in label text.
func parseIntLoose(s string) int {
	digits := intNumber.FindString(strings.ReplaceAll(s, ",", ""))
	if digits == "" {
		return 0
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0
	}
	return n
}
