package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shelfscout/scraper/internal/catalog"
)

func TestCatalogStoreNavigationUpsertIsIdempotent(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	repos := NewCatalogStore(clk).Repositories()
	ctx := context.Background()

	first, err := repos.Navigations.Upsert(ctx, catalog.Navigation{
		Title: "Fiction", Slug: "fiction", SourceURL: "https://example.com/fiction", IsActive: true,
	})
	require.NoError(t, err)
	require.NotZero(t, first.ID)

	clk.Advance(time.Hour)
	second, err := repos.Navigations.Upsert(ctx, catalog.Navigation{
		Title: "Fiction & Poetry", Slug: "fiction", SourceURL: "https://example.com/fiction", IsActive: true,
	})
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID, "matching slug must update in place")
	require.Equal(t, "Fiction & Poetry", second.Title)
	require.Equal(t, first.CreatedAt, second.CreatedAt)
	require.True(t, second.UpdatedAt.After(first.UpdatedAt))

	navs, err := repos.Navigations.List(ctx)
	require.NoError(t, err)
	require.Len(t, navs, 1)
}

func TestCatalogStoreCategoryUpsertPreservesProductCount(t *testing.T) {
	t.Parallel()

	repos := NewCatalogStore(newFakeClock()).Repositories()
	ctx := context.Background()

	cat, err := repos.Categories.Upsert(ctx, catalog.Category{Title: "Crime", Slug: "crime", IsActive: true})
	require.NoError(t, err)

	catID := cat.ID
	for _, sid := range []string{"p-1", "p-2"} {
		_, err := repos.Products.Upsert(ctx, catalog.Product{SourceID: sid, Title: sid, Currency: "GBP", CategoryID: &catID, IsActive: true})
		require.NoError(t, err)
	}
	count, err := repos.Categories.RecomputeProductCount(ctx, catID)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	// A later category re-scrape must not clobber the recomputed count.
	updated, err := repos.Categories.Upsert(ctx, catalog.Category{Title: "Crime Fiction", Slug: "crime", IsActive: true})
	require.NoError(t, err)
	require.Equal(t, 2, updated.ProductCount)
}

func TestCatalogStoreProductCountSkipsInactive(t *testing.T) {
	t.Parallel()

	repos := NewCatalogStore(newFakeClock()).Repositories()
	ctx := context.Background()

	cat, err := repos.Categories.Upsert(ctx, catalog.Category{Title: "Sci-Fi", Slug: "sci-fi", IsActive: true})
	require.NoError(t, err)
	catID := cat.ID

	_, err = repos.Products.Upsert(ctx, catalog.Product{SourceID: "live", Title: "Live", Currency: "GBP", CategoryID: &catID, IsActive: true})
	require.NoError(t, err)
	_, err = repos.Products.Upsert(ctx, catalog.Product{SourceID: "gone", Title: "Gone", Currency: "GBP", CategoryID: &catID, IsActive: false})
	require.NoError(t, err)

	count, err := repos.Categories.RecomputeProductCount(ctx, catID)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestCatalogStoreProductPagination(t *testing.T) {
	t.Parallel()

	repos := NewCatalogStore(newFakeClock()).Repositories()
	ctx := context.Background()

	cat, err := repos.Categories.Upsert(ctx, catalog.Category{Title: "History", Slug: "history", IsActive: true})
	require.NoError(t, err)
	catID := cat.ID

	for _, sid := range []string{"h-1", "h-2", "h-3", "h-4", "h-5"} {
		_, err := repos.Products.Upsert(ctx, catalog.Product{SourceID: sid, Title: sid, Currency: "GBP", CategoryID: &catID, IsActive: true})
		require.NoError(t, err)
	}

	page, total, err := repos.Products.ListByCategory(ctx, catID, 2, 2)
	require.NoError(t, err)
	require.Equal(t, 5, total)
	require.Len(t, page, 2)
	require.Equal(t, "h-3", page[0].SourceID)
	require.Equal(t, "h-4", page[1].SourceID)

	past, total, err := repos.Products.ListByCategory(ctx, catID, 2, 10)
	require.NoError(t, err)
	require.Equal(t, 5, total)
	require.Empty(t, past)
}

func TestCatalogStoreDetailOneToOne(t *testing.T) {
	t.Parallel()

	repos := NewCatalogStore(newFakeClock()).Repositories()
	ctx := context.Background()

	p, err := repos.Products.Upsert(ctx, catalog.Product{SourceID: "book-1", Title: "Book", Currency: "GBP", IsActive: true})
	require.NoError(t, err)

	first, err := repos.Details.Upsert(ctx, catalog.ProductDetail{ProductID: p.ID, Description: "short"})
	require.NoError(t, err)
	second, err := repos.Details.Upsert(ctx, catalog.ProductDetail{ProductID: p.ID, Description: "longer description"})
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID, "detail rows are keyed by product")
	require.Equal(t, "longer description", second.Description)

	found, err := repos.Details.FindByProductID(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, "longer description", found.Description)
}

func TestCatalogStoreReviewsAppendOnly(t *testing.T) {
	t.Parallel()

	repos := NewCatalogStore(newFakeClock()).Repositories()
	ctx := context.Background()

	p, err := repos.Products.Upsert(ctx, catalog.Product{SourceID: "book-1", Title: "Book", Currency: "GBP", IsActive: true})
	require.NoError(t, err)

	rating := 4
	batch := []catalog.Review{{ProductID: p.ID, AuthorName: "sam", Rating: &rating, Content: "good"}}
	_, err = repos.Reviews.Append(ctx, batch)
	require.NoError(t, err)
	// Re-scraping the same review appends a second row; nothing is matched.
	_, err = repos.Reviews.Append(ctx, batch)
	require.NoError(t, err)

	reviews, err := repos.Reviews.ListByProduct(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, reviews, 2)
	require.NotEqual(t, reviews[0].ID, reviews[1].ID)
}

func TestCatalogStoreNotFound(t *testing.T) {
	t.Parallel()

	repos := NewCatalogStore(newFakeClock()).Repositories()
	ctx := context.Background()

	_, err := repos.Navigations.FindBySlug(ctx, "missing")
	require.ErrorIs(t, err, catalog.ErrNotFound)
	_, err = repos.Categories.FindByID(ctx, 99)
	require.ErrorIs(t, err, catalog.ErrNotFound)
	_, err = repos.Products.FindBySourceID(ctx, "missing")
	require.ErrorIs(t, err, catalog.ErrNotFound)
	_, err = repos.Details.FindByProductID(ctx, 99)
	require.ErrorIs(t, err, catalog.ErrNotFound)
	_, err = repos.Categories.RecomputeProductCount(ctx, 99)
	require.ErrorIs(t, err, catalog.ErrNotFound)
}
