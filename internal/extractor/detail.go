package extractor

import (
	"context"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/shelfscout/scraper/internal/scrape"
)

// ProductDetailExtractor pulls the full detail record for one product.
type ProductDetailExtractor struct {
	fetcher scrape.Fetcher
	cfg     Config
}

// Extract requires options.productId; its absence is a validation failure,
// not a transient one.
func (e *ProductDetailExtractor) Extract(ctx context.Context, targetURL string, opts scrape.Options) (scrape.Extraction, error) {
	if _, ok := opts.Int("productId"); !ok {
		return scrape.Extraction{}, scrape.NewValidationError("productId option is required for product detail scraping")
	}

	doc, resp, err := fetchDocument(ctx, e.fetcher, scrape.FetchRequest{URL: targetURL, WaitSelector: ".product-detail, .book-details, .product-info"})
	if err != nil {
		return scrape.Extraction{}, err
	}
	if doc.Find(".product-detail, .book-details, .product-info").Length() == 0 {
		return scrape.Extraction{}, scrape.NewTransientError("product detail content not present", nil)
	}

	detail := &scrape.ProductDetailItem{
		Description:     cleanText(doc.Find(".description, .product-description, .book-description").First().Text()),
		LongDescription: cleanText(doc.Find(".long-description, .full-description").First().Text()),
	}
	e.readSpecifications(doc, detail)
	e.readGenres(doc, detail)
	e.readImages(doc, resp.URL, detail)
	e.readRelated(doc, resp.URL, detail)
	e.readReviews(doc, detail)

	return scrape.Extraction{Detail: detail, RawHTML: resp.Body, FinalURL: resp.URL}, nil
}

// readSpecifications collects "Key: Value" rows and lifts the well-known keys
// into their dedicated fields.
func (e *ProductDetailExtractor) readSpecifications(doc *goquery.Document, detail *scrape.ProductDetailItem) {
	specs := make(map[string]string)
	doc.Find(".spec-item, .product-spec, .book-info li").Each(func(_ int, sel *goquery.Selection) {
		text := cleanText(sel.Text())
		key, value, found := strings.Cut(text, ":")
		if !found {
			return
		}
		key = strings.ToLower(strings.TrimSpace(key))
		key = strings.ReplaceAll(key, " ", "_")
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			return
		}
		specs[key] = value
	})
	if len(specs) == 0 {
		return
	}
	detail.Specifications = specs

	detail.Publisher = specs["publisher"]
	detail.ISBN = specs["isbn"]
	detail.ISBN13 = firstNonEmpty(specs["isbn13"], specs["isbn-13"], specs["isbn_13"])
	detail.Language = specs["language"]
	detail.Format = firstNonEmpty(specs["format"], specs["binding"])
	if pages := specs["pages"]; pages != "" {
		detail.Pages = parseIntLoose(pages)
	}
	if published := firstNonEmpty(specs["publication_date"], specs["published"]); published != "" {
		if t, err := time.Parse("2006-01-02", published); err == nil {
			detail.PublicationDate = &t
		}
	}
}

func (e *ProductDetailExtractor) readGenres(doc *goquery.Document, detail *scrape.ProductDetailItem) {
	seen := make(map[string]struct{})
	doc.Find(".genres a, .genre-list a, .breadcrumb a").Each(func(_ int, sel *goquery.Selection) {
		genre := cleanText(sel.Text())
		if genre == "" || len(genre) >= e.cfg.MaxTitleLen {
			return
		}
		if _, dup := seen[genre]; dup {
			return
		}
		seen[genre] = struct{}{}
		detail.Genres = append(detail.Genres, genre)
	})
}

func (e *ProductDetailExtractor) readImages(doc *goquery.Document, pageURL string, detail *scrape.ProductDetailItem) {
	doc.Find(".product-gallery img, .additional-images img").Each(func(_ int, sel *goquery.Selection) {
		src, ok := sel.Attr("src")
		if !ok || src == "" {
			src, _ = sel.Attr("data-src")
		}
		if src == "" {
			return
		}
		if resolved := resolveURL(pageURL, src); resolved != "" {
			detail.AdditionalImages = append(detail.AdditionalImages, resolved)
		}
	})
}

func (e *ProductDetailExtractor) readRelated(doc *goquery.Document, pageURL string, detail *scrape.ProductDetailItem) {
	doc.Find(".related-product, .recommended-book").Each(func(_ int, sel *goquery.Selection) {
		title := cleanText(sel.Find(".title, h3").First().Text())
		href, _ := sel.Find("a").First().Attr("href")
		if title == "" || href == "" {
			return
		}
		if resolved := resolveURL(pageURL, href); resolved != "" {
			detail.RelatedProducts = append(detail.RelatedProducts, scrape.RelatedProductItem{Title: title, URL: resolved})
		}
	})
}

func (e *ProductDetailExtractor) readReviews(doc *goquery.Document, detail *scrape.ProductDetailItem) {
	doc.Find(".review, .customer-review").Each(func(_ int, sel *goquery.Selection) {
		review := scrape.ReviewItem{
			AuthorName: cleanText(sel.Find(".review-author, .author").First().Text()),
			Title:      cleanText(sel.Find(".review-title").First().Text()),
			Content:    cleanText(sel.Find(".review-text, .review-content, .content").First().Text()),
		}
		if ratingText := cleanText(sel.Find(".review-rating, .rating").First().Text()); ratingText != "" {
			if rating := parseIntLoose(ratingText); rating >= 1 && rating <= 5 {
				review.Rating = &rating
			}
		}
		if review.Content == "" && review.Title == "" {
			return
		}
		detail.Reviews = append(detail.Reviews, review)
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
