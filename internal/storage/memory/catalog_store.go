package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/shelfscout/scraper/internal/catalog"
	"github.com/shelfscout/scraper/internal/scrape"
)

// CatalogStore holds the entity hierarchy in memory. One mutex serializes all
// writers, giving the same per-key atomicity the Postgres implementation gets
// from ON CONFLICT upserts.
type CatalogStore struct {
	mu          sync.RWMutex
	clock       scrape.Clock
	nextID      int64
	navigations map[int64]catalog.Navigation
	categories  map[int64]catalog.Category
	products    map[int64]catalog.Product
	details     map[int64]catalog.ProductDetail
	reviews     []catalog.Review
}

// NewCatalogStore constructs an empty CatalogStore.
func NewCatalogStore(clock scrape.Clock) *CatalogStore {
	return &CatalogStore{
		clock:       clock,
		navigations: make(map[int64]catalog.Navigation),
		categories:  make(map[int64]catalog.Category),
		products:    make(map[int64]catalog.Product),
		details:     make(map[int64]catalog.ProductDetail),
	}
}

// Repositories exposes the store through the catalog repository interfaces.
func (s *CatalogStore) Repositories() catalog.Repositories {
	return catalog.Repositories{
		Navigations: &navigationRepo{s},
		Categories:  &categoryRepo{s},
		Products:    &productRepo{s},
		Details:     &detailRepo{s},
		Reviews:     &reviewRepo{s},
	}
}

func (s *CatalogStore) allocID() int64 {
	s.nextID++
	return s.nextID
}

type navigationRepo struct{ s *CatalogStore }

func (r *navigationRepo) FindBySlug(_ context.Context, slug string) (catalog.Navigation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, n := range r.s.navigations {
		if n.Slug == slug {
			return n, nil
		}
	}
	return catalog.Navigation{}, catalog.ErrNotFound
}

func (r *navigationRepo) FindBySourceURL(_ context.Context, sourceURL string) (catalog.Navigation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, n := range r.s.navigations {
		if n.SourceURL == sourceURL {
			return n, nil
		}
	}
	return catalog.Navigation{}, catalog.ErrNotFound
}

func (r *navigationRepo) Upsert(_ context.Context, nav catalog.Navigation) (catalog.Navigation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := r.s.clock.Now()
	for id, existing := range r.s.navigations {
		if existing.Slug == nav.Slug {
			nav.ID = id
			nav.CreatedAt = existing.CreatedAt
			nav.UpdatedAt = now
			r.s.navigations[id] = nav
			return nav, nil
		}
	}
	nav.ID = r.s.allocID()
	nav.CreatedAt = now
	nav.UpdatedAt = now
	r.s.navigations[nav.ID] = nav
	return nav, nil
}

func (r *navigationRepo) List(_ context.Context) ([]catalog.Navigation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]catalog.Navigation, 0, len(r.s.navigations))
	for _, n := range r.s.navigations {
		if n.IsActive {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayOrder != out[j].DisplayOrder {
			return out[i].DisplayOrder < out[j].DisplayOrder
		}
		return out[i].Title < out[j].Title
	})
	return out, nil
}

type categoryRepo struct{ s *CatalogStore }

func (r *categoryRepo) FindBySlug(_ context.Context, slug string) (catalog.Category, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, c := range r.s.categories {
		if c.Slug == slug {
			return c, nil
		}
	}
	return catalog.Category{}, catalog.ErrNotFound
}

func (r *categoryRepo) FindBySourceURL(_ context.Context, sourceURL string) (catalog.Category, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, c := range r.s.categories {
		if c.SourceURL == sourceURL {
			return c, nil
		}
	}
	return catalog.Category{}, catalog.ErrNotFound
}

func (r *categoryRepo) FindByID(_ context.Context, id int64) (catalog.Category, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	c, ok := r.s.categories[id]
	if !ok {
		return catalog.Category{}, catalog.ErrNotFound
	}
	return c, nil
}

func (r *categoryRepo) Upsert(_ context.Context, cat catalog.Category) (catalog.Category, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := r.s.clock.Now()
	for id, existing := range r.s.categories {
		if existing.Slug == cat.Slug {
			cat.ID = id
			cat.CreatedAt = existing.CreatedAt
			cat.ProductCount = existing.ProductCount
			cat.UpdatedAt = now
			r.s.categories[id] = cat
			return cat, nil
		}
	}
	cat.ID = r.s.allocID()
	cat.CreatedAt = now
	cat.UpdatedAt = now
	r.s.categories[cat.ID] = cat
	return cat, nil
}

func (r *categoryRepo) ListByNavigation(_ context.Context, navigationID int64) ([]catalog.Category, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []catalog.Category
	for _, c := range r.s.categories {
		if c.NavigationID != nil && *c.NavigationID == navigationID && c.IsActive {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out, nil
}

func (r *categoryRepo) RecomputeProductCount(_ context.Context, categoryID int64) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cat, ok := r.s.categories[categoryID]
	if !ok {
		return 0, catalog.ErrNotFound
	}
	count := 0
	for _, p := range r.s.products {
		if p.CategoryID != nil && *p.CategoryID == categoryID && p.IsActive {
			count++
		}
	}
	cat.ProductCount = count
	cat.UpdatedAt = r.s.clock.Now()
	r.s.categories[categoryID] = cat
	return count, nil
}

type productRepo struct{ s *CatalogStore }

func (r *productRepo) FindBySourceID(_ context.Context, sourceID string) (catalog.Product, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, p := range r.s.products {
		if p.SourceID == sourceID {
			return p, nil
		}
	}
	return catalog.Product{}, catalog.ErrNotFound
}

func (r *productRepo) FindByID(_ context.Context, id int64) (catalog.Product, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	p, ok := r.s.products[id]
	if !ok {
		return catalog.Product{}, catalog.ErrNotFound
	}
	return p, nil
}

func (r *productRepo) Upsert(_ context.Context, p catalog.Product) (catalog.Product, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := r.s.clock.Now()
	for id, existing := range r.s.products {
		if existing.SourceID == p.SourceID {
			p.ID = id
			p.CreatedAt = existing.CreatedAt
			p.UpdatedAt = now
			r.s.products[id] = p
			return p, nil
		}
	}
	p.ID = r.s.allocID()
	p.CreatedAt = now
	p.UpdatedAt = now
	r.s.products[p.ID] = p
	return p, nil
}

func (r *productRepo) ListByCategory(_ context.Context, categoryID int64, limit, offset int) ([]catalog.Product, int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var all []catalog.Product
	for _, p := range r.s.products {
		if p.CategoryID != nil && *p.CategoryID == categoryID && p.IsActive {
			all = append(all, p)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := total
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end], total, nil
}

type detailRepo struct{ s *CatalogStore }

func (r *detailRepo) FindByProductID(_ context.Context, productID int64) (catalog.ProductDetail, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, d := range r.s.details {
		if d.ProductID == productID {
			return d, nil
		}
	}
	return catalog.ProductDetail{}, catalog.ErrNotFound
}

func (r *detailRepo) Upsert(_ context.Context, detail catalog.ProductDetail) (catalog.ProductDetail, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := r.s.clock.Now()
	for id, existing := range r.s.details {
		if existing.ProductID == detail.ProductID {
			detail.ID = id
			detail.CreatedAt = existing.CreatedAt
			detail.UpdatedAt = now
			r.s.details[id] = detail
			return detail, nil
		}
	}
	detail.ID = r.s.allocID()
	detail.CreatedAt = now
	detail.UpdatedAt = now
	r.s.details[detail.ID] = detail
	return detail, nil
}

type reviewRepo struct{ s *CatalogStore }

func (r *reviewRepo) Append(_ context.Context, reviews []catalog.Review) ([]catalog.Review, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := r.s.clock.Now()
	out := make([]catalog.Review, 0, len(reviews))
	for _, rv := range reviews {
		rv.ID = r.s.allocID()
		rv.CreatedAt = now
		r.s.reviews = append(r.s.reviews, rv)
		out = append(out, rv)
	}
	return out, nil
}

func (r *reviewRepo) ListByProduct(_ context.Context, productID int64) ([]catalog.Review, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []catalog.Review
	for _, rv := range r.s.reviews {
		if rv.ProductID == productID {
			out = append(out, rv)
		}
	}
	return out, nil
}
