package catalog

import "context"

// NavigationRepository persists navigation sections keyed by slug.
type NavigationRepository interface {
	FindBySlug(ctx context.Context, slug string) (Navigation, error)
	FindBySourceURL(ctx context.Context, sourceURL string) (Navigation, error)
	// Upsert inserts or updates by slug atomically and returns the stored row.
	Upsert(ctx context.Context, nav Navigation) (Navigation, error)
	List(ctx context.Context) ([]Navigation, error)
}

// CategoryRepository persists categories keyed by slug.
type CategoryRepository interface {
	FindBySlug(ctx context.Context, slug string) (Category, error)
	FindBySourceURL(ctx context.Context, sourceURL string) (Category, error)
	FindByID(ctx context.Context, id int64) (Category, error)
	Upsert(ctx context.Context, cat Category) (Category, error)
	ListByNavigation(ctx context.Context, navigationID int64) ([]Category, error)
	// RecomputeProductCount sets product_count to the live count of active
	// products referencing the category and returns the new count.
	RecomputeProductCount(ctx context.Context, categoryID int64) (int, error)
}

// ProductRepository persists products keyed by source id.
type ProductRepository interface {
	FindBySourceID(ctx context.Context, sourceID string) (Product, error)
	FindByID(ctx context.Context, id int64) (Product, error)
	Upsert(ctx context.Context, p Product) (Product, error)
	// ListByCategory returns one page of active products plus the total count.
	ListByCategory(ctx context.Context, categoryID int64, limit, offset int) ([]Product, int, error)
}

// ProductDetailRepository persists the 1:1 detail extension keyed by product id.
type ProductDetailRepository interface {
	FindByProductID(ctx context.Context, productID int64) (ProductDetail, error)
	Upsert(ctx context.Context, detail ProductDetail) (ProductDetail, error)
}

// ReviewRepository appends reviews; they are never upserted.
type ReviewRepository interface {
	Append(ctx context.Context, reviews []Review) ([]Review, error)
	ListByProduct(ctx context.Context, productID int64) ([]Review, error)
}

// Repositories bundles the per-entity repositories for injection.
type Repositories struct {
	Navigations NavigationRepository
	Categories  CategoryRepository
	Products    ProductRepository
	Details     ProductDetailRepository
	Reviews     ReviewRepository
}
