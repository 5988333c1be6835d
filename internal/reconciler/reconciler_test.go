package reconciler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shelfscout/scraper/internal/catalog"
	"github.com/shelfscout/scraper/internal/scrape"
	"github.com/shelfscout/scraper/internal/storage/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func newTestReconciler(t *testing.T) (*Reconciler, catalog.Repositories) {
	t.Helper()
	repos := memory.NewCatalogStore(newFakeClock()).Repositories()
	return New(repos, newFakeClock(), zap.NewNop()), repos
}

func TestSaveNavigationIsIdempotent(t *testing.T) {
	t.Parallel()

	rec, repos := newTestReconciler(t)
	ctx := context.Background()
	items := []scrape.NavigationItem{
		{Title: "Fiction", Slug: "fiction", URL: "https://example.com/fiction"},
		{Title: "Non-Fiction", Slug: "non-fiction", URL: "https://example.com/non-fiction"},
	}

	res, err := rec.SaveNavigation(ctx, items)
	require.NoError(t, err)
	require.Equal(t, 2, res.Scraped)
	require.Equal(t, 2, res.Saved)

	// Second pass over the same extraction updates in place.
	res, err = rec.SaveNavigation(ctx, items)
	require.NoError(t, err)
	require.Equal(t, 2, res.Saved)

	navs, err := repos.Navigations.List(ctx)
	require.NoError(t, err)
	require.Len(t, navs, 2)
	require.NotNil(t, navs[0].LastScrapedAt)
}

func TestSaveCategoriesLinksNavigationAndParent(t *testing.T) {
	t.Parallel()

	rec, repos := newTestReconciler(t)
	ctx := context.Background()

	navURL := "https://example.com/fiction"
	_, err := rec.SaveNavigation(ctx, []scrape.NavigationItem{{Title: "Fiction", Slug: "fiction", URL: navURL}})
	require.NoError(t, err)
	nav, err := repos.Navigations.FindBySlug(ctx, "fiction")
	require.NoError(t, err)

	res, err := rec.SaveCategories(ctx, navURL, []scrape.CategoryItem{
		{Title: "Crime", Slug: "crime", URL: "https://example.com/crime"},
		{Title: "Noir", Slug: "noir", URL: "https://example.com/noir", ParentSlug: "crime"},
	})
	require.NoError(t, err)
	require.Equal(t, 2, res.Saved)
	require.Equal(t, nav.ID, res.Payload["navigation_id"])

	noir, err := repos.Categories.FindBySlug(ctx, "noir")
	require.NoError(t, err)
	require.NotNil(t, noir.NavigationID)
	require.Equal(t, nav.ID, *noir.NavigationID)
	crime, err := repos.Categories.FindBySlug(ctx, "crime")
	require.NoError(t, err)
	require.NotNil(t, noir.ParentID)
	require.Equal(t, crime.ID, *noir.ParentID)
}

func TestSaveCategoriesWithoutNavigationMatch(t *testing.T) {
	t.Parallel()

	rec, repos := newTestReconciler(t)
	ctx := context.Background()

	res, err := rec.SaveCategories(ctx, "https://example.com/unseen", []scrape.CategoryItem{
		{Title: "Orphan", Slug: "orphan", URL: "https://example.com/orphan"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.Saved)
	require.NotContains(t, res.Payload, "navigation_id")

	cat, err := repos.Categories.FindBySlug(ctx, "orphan")
	require.NoError(t, err)
	require.Nil(t, cat.NavigationID)
}

func TestSaveProductsRecomputesCategoryCount(t *testing.T) {
	t.Parallel()

	rec, repos := newTestReconciler(t)
	ctx := context.Background()

	catURL := "https://example.com/crime"
	_, err := rec.SaveCategories(ctx, "https://example.com/fiction", []scrape.CategoryItem{
		{Title: "Crime", Slug: "crime", URL: catURL},
	})
	require.NoError(t, err)

	price := 12.99
	items := []scrape.ProductItem{
		{SourceID: "b-1", Title: "First", Price: &price, Currency: "GBP", SourceURL: "https://example.com/b-1", InStock: true},
		{SourceID: "b-2", Title: "Second", Currency: "GBP", SourceURL: "https://example.com/b-2"},
	}
	res, err := rec.SaveProducts(ctx, catURL, items)
	require.NoError(t, err)
	require.Equal(t, 2, res.Saved)
	require.Equal(t, 2, res.Payload["product_count"])

	// Re-running the same listing keeps the count stable.
	res, err = rec.SaveProducts(ctx, catURL, items)
	require.NoError(t, err)
	require.Equal(t, 2, res.Payload["product_count"])

	cat, err := repos.Categories.FindBySlug(ctx, "crime")
	require.NoError(t, err)
	require.Equal(t, 2, cat.ProductCount)
}

func TestSaveProductsWithoutCategoryMatch(t *testing.T) {
	t.Parallel()

	rec, _ := newTestReconciler(t)
	ctx := context.Background()

	res, err := rec.SaveProducts(ctx, "https://example.com/unseen", []scrape.ProductItem{
		{SourceID: "b-1", Title: "Stray", Currency: "GBP", SourceURL: "https://example.com/b-1"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.Saved)
	require.NotContains(t, res.Payload, "category_id")
}

func TestSaveProductDetailRequiresProduct(t *testing.T) {
	t.Parallel()

	rec, _ := newTestReconciler(t)

	_, err := rec.SaveProductDetail(context.Background(), 404, scrape.ProductDetailItem{Description: "x"})
	require.Error(t, err)
	require.Equal(t, scrape.KindValidation, scrape.Classify(err))
}

func TestSaveProductDetailAppendsReviews(t *testing.T) {
	t.Parallel()

	rec, repos := newTestReconciler(t)
	ctx := context.Background()

	_, err := rec.SaveProducts(ctx, "https://example.com/unseen", []scrape.ProductItem{
		{SourceID: "b-1", Title: "Book", Currency: "GBP", SourceURL: "https://example.com/b-1"},
	})
	require.NoError(t, err)
	product, err := repos.Products.FindBySourceID(ctx, "b-1")
	require.NoError(t, err)

	rating := 5
	item := scrape.ProductDetailItem{
		Description: "A fine book.",
		Publisher:   "Small Press",
		Genres:      []string{"crime"},
		Reviews: []scrape.ReviewItem{
			{AuthorName: "sam", Rating: &rating, Content: "loved it"},
		},
	}
	res, err := rec.SaveProductDetail(ctx, product.ID, item)
	require.NoError(t, err)
	require.Equal(t, 2, res.Saved)
	require.Equal(t, true, res.Payload["detail_saved"])
	require.Equal(t, 1, res.Payload["reviews_count"])

	// A rescrape updates the detail row but appends the reviews again.
	_, err = rec.SaveProductDetail(ctx, product.ID, item)
	require.NoError(t, err)
	reviews, err := repos.Reviews.ListByProduct(ctx, product.ID)
	require.NoError(t, err)
	require.Len(t, reviews, 2)

	detail, err := repos.Details.FindByProductID(ctx, product.ID)
	require.NoError(t, err)
	require.Equal(t, "A fine book.", detail.Description)
}

// flakyNavRepo fails Upsert with a conflict a fixed number of times before
// delegating to the real repository.
type flakyNavRepo struct {
	catalog.NavigationRepository
	mu        sync.Mutex
	conflicts int
}

func (f *flakyNavRepo) Upsert(ctx context.Context, nav catalog.Navigation) (catalog.Navigation, error) {
	f.mu.Lock()
	remaining := f.conflicts
	if remaining > 0 {
		f.conflicts--
	}
	f.mu.Unlock()
	if remaining > 0 {
		return catalog.Navigation{}, catalog.ErrConflict
	}
	return f.NavigationRepository.Upsert(ctx, nav)
}

func TestSaveNavigationRetriesNaturalKeyRaceOnce(t *testing.T) {
	t.Parallel()

	repos := memory.NewCatalogStore(newFakeClock()).Repositories()
	flaky := &flakyNavRepo{NavigationRepository: repos.Navigations, conflicts: 1}
	repos.Navigations = flaky
	rec := New(repos, newFakeClock(), zap.NewNop())

	res, err := rec.SaveNavigation(context.Background(), []scrape.NavigationItem{
		{Title: "Fiction", Slug: "fiction", URL: "https://example.com/fiction"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.Saved)
}

func TestSaveNavigationSurfacesPersistentConflict(t *testing.T) {
	t.Parallel()

	repos := memory.NewCatalogStore(newFakeClock()).Repositories()
	repos.Navigations = &flakyNavRepo{NavigationRepository: repos.Navigations, conflicts: 2}
	rec := New(repos, newFakeClock(), zap.NewNop())

	_, err := rec.SaveNavigation(context.Background(), []scrape.NavigationItem{
		{Title: "Fiction", Slug: "fiction", URL: "https://example.com/fiction"},
	})
	require.Error(t, err)
	require.True(t, scrape.IsConflict(err))
}
