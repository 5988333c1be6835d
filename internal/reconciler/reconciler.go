// Package reconciler merges extracted records into the catalog idempotently.
package reconciler

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/shelfscout/scraper/internal/catalog"
	"github.com/shelfscout/scraper/internal/scrape"
)

// Reconciler is the only component that mutates the entity hierarchy.
// Upserts are keyed by natural keys; a record matching an existing key is
// updated in place, never duplicated.
type Reconciler struct {
	repos  catalog.Repositories
	clock  scrape.Clock
	logger *zap.Logger
}

// New constructs a Reconciler.
func New(repos catalog.Repositories, clock scrape.Clock, logger *zap.Logger) *Reconciler {
	return &Reconciler{repos: repos, clock: clock, logger: logger}
}

// Result summarizes one reconciliation pass for the job's result snapshot.
type Result struct {
	Scraped int
	Saved   int
	Payload map[string]any
}

// SaveNavigation upserts the extracted navigation sections by slug.
func (r *Reconciler) SaveNavigation(ctx context.Context, items []scrape.NavigationItem) (Result, error) {
	now := r.clock.Now()
	saved := 0
	for _, item := range items {
		nav := catalog.Navigation{
			Title:         item.Title,
			Slug:          item.Slug,
			SourceURL:     item.URL,
			IsActive:      true,
			LastScrapedAt: &now,
		}
		_, err := upsertWithConflictRetry(func() (catalog.Navigation, error) {
			return r.repos.Navigations.Upsert(ctx, nav)
		})
		if err != nil {
			if scrape.IsConflict(err) {
				return Result{}, err
			}
			r.logger.Warn("navigation save failed", zap.String("slug", item.Slug), zap.Error(err))
			continue
		}
		saved++
	}
	return Result{
		Scraped: len(items),
		Saved:   saved,
		Payload: map[string]any{"scraped_count": len(items), "saved_count": saved},
	}, nil
}

// SaveCategories upserts categories by slug, linking them to the navigation
// record whose source URL matches the scraped page when one exists.
func (r *Reconciler) SaveCategories(ctx context.Context, targetURL string, items []scrape.CategoryItem) (Result, error) {
	now := r.clock.Now()
	var navigationID *int64
	if nav, err := r.repos.Navigations.FindBySourceURL(ctx, targetURL); err == nil {
		navigationID = &nav.ID
	}

	saved := 0
	for _, item := range items {
		cat := catalog.Category{
			Title:         item.Title,
			Slug:          item.Slug,
			SourceURL:     item.URL,
			NavigationID:  navigationID,
			IsActive:      true,
			LastScrapedAt: &now,
		}
		if item.ParentSlug != "" {
			if parent, err := r.repos.Categories.FindBySlug(ctx, item.ParentSlug); err == nil {
				cat.ParentID = &parent.ID
			}
		}
		_, err := upsertWithConflictRetry(func() (catalog.Category, error) {
			return r.repos.Categories.Upsert(ctx, cat)
		})
		if err != nil {
			if scrape.IsConflict(err) {
				return Result{}, err
			}
			r.logger.Warn("category save failed", zap.String("slug", item.Slug), zap.Error(err))
			continue
		}
		saved++
	}

	payload := map[string]any{"scraped_count": len(items), "saved_count": saved}
	if navigationID != nil {
		payload["navigation_id"] = *navigationID
	}
	return Result{Scraped: len(items), Saved: saved, Payload: payload}, nil
}

// SaveProducts upserts products by source id and then recomputes the owning
// category's product count after the batch commits, so the aggregate never
// races the upserts it derives from.
func (r *Reconciler) SaveProducts(ctx context.Context, targetURL string, items []scrape.ProductItem) (Result, error) {
	now := r.clock.Now()
	var categoryID *int64
	if cat, err := r.repos.Categories.FindBySourceURL(ctx, targetURL); err == nil {
		categoryID = &cat.ID
	}

	saved := 0
	for _, item := range items {
		product := catalog.Product{
			SourceID:      item.SourceID,
			Title:         item.Title,
			Author:        item.Author,
			Price:         item.Price,
			Currency:      item.Currency,
			ImageURL:      item.ImageURL,
			SourceURL:     item.SourceURL,
			CategoryID:    categoryID,
			RatingAvg:     item.Rating,
			ReviewCount:   item.ReviewCount,
			InStock:       item.InStock,
			IsActive:      true,
			LastScrapedAt: &now,
		}
		_, err := upsertWithConflictRetry(func() (catalog.Product, error) {
			return r.repos.Products.Upsert(ctx, product)
		})
		if err != nil {
			if scrape.IsConflict(err) {
				return Result{}, err
			}
			r.logger.Warn("product save failed",
				zap.String("source_id", item.SourceID), zap.Error(err))
			continue
		}
		saved++
	}

	payload := map[string]any{"scraped_count": len(items), "saved_count": saved}
	if categoryID != nil {
		count, err := r.repos.Categories.RecomputeProductCount(ctx, *categoryID)
		if err != nil {
			return Result{}, fmt.Errorf("recompute product count for category %d: %w", *categoryID, err)
		}
		payload["category_id"] = *categoryID
		payload["product_count"] = count
	}
	return Result{Scraped: len(items), Saved: saved, Payload: payload}, nil
}

// SaveProductDetail upserts the 1:1 detail row for the product and appends
// any extracted reviews. Reviews are never matched against existing rows.
func (r *Reconciler) SaveProductDetail(ctx context.Context, productID int64, item scrape.ProductDetailItem) (Result, error) {
	if _, err := r.repos.Products.FindByID(ctx, productID); err != nil {
		return Result{}, scrape.NewValidationError(fmt.Sprintf("product %d does not exist", productID))
	}

	detail := catalog.ProductDetail{
		ProductID:        productID,
		Description:      item.Description,
		LongDescription:  item.LongDescription,
		Specifications:   item.Specifications,
		Publisher:        item.Publisher,
		PublicationDate:  item.PublicationDate,
		ISBN:             item.ISBN,
		ISBN13:           item.ISBN13,
		Pages:            item.Pages,
		Language:         item.Language,
		Format:           item.Format,
		Genres:           item.Genres,
		AdditionalImages: item.AdditionalImages,
		RelatedProducts:  relatedProducts(item.RelatedProducts),
	}
	_, err := upsertWithConflictRetry(func() (catalog.ProductDetail, error) {
		return r.repos.Details.Upsert(ctx, detail)
	})
	if err != nil {
		return Result{}, fmt.Errorf("upsert detail for product %d: %w", productID, err)
	}

	reviews := make([]catalog.Review, 0, len(item.Reviews))
	for _, rv := range item.Reviews {
		reviews = append(reviews, catalog.Review{
			ProductID:  productID,
			AuthorName: rv.AuthorName,
			Rating:     rv.Rating,
			Title:      rv.Title,
			Content:    rv.Content,
			ReviewDate: rv.ReviewDate,
		})
	}
	if len(reviews) > 0 {
		if _, err := r.repos.Reviews.Append(ctx, reviews); err != nil {
			return Result{}, fmt.Errorf("append reviews for product %d: %w", productID, err)
		}
	}

	return Result{
		Scraped: 1 + len(reviews),
		Saved:   1 + len(reviews),
		Payload: map[string]any{
			"product_id":    productID,
			"detail_saved":  true,
			"reviews_count": len(reviews),
		},
	}, nil
}

// upsertWithConflictRetry retries a natural-key race exactly once immediately;
// a second conflict surfaces as a classified persistence conflict.
func upsertWithConflictRetry[T any](fn func() (T, error)) (T, error) {
	out, err := fn()
	if err == nil || !isConflict(err) {
		return out, err
	}
	out, err = fn()
	if err != nil && isConflict(err) {
		return out, scrape.NewConflictError("natural-key write race persisted after retry", err)
	}
	return out, err
}

func isConflict(err error) bool {
	return errors.Is(err, catalog.ErrConflict) || scrape.IsConflict(err)
}

func relatedProducts(items []scrape.RelatedProductItem) []catalog.RelatedProduct {
	if len(items) == 0 {
		return nil
	}
	out := make([]catalog.RelatedProduct, 0, len(items))
	for _, rp := range items {
		out = append(out, catalog.RelatedProduct{Title: rp.Title, URL: rp.URL})
	}
	return out
}
