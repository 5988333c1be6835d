package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shelfscout/scraper/internal/catalog"
	"github.com/shelfscout/scraper/internal/scrape"
)

// uniqueViolation is the Postgres error code for unique constraint failures.
const uniqueViolation = "23505"

// CatalogStore persists the scraped entity hierarchy in Postgres. Natural-key
// upserts use INSERT ... ON CONFLICT so concurrent re-scrapes converge on one
// row per key.
type CatalogStore struct {
	pool  dbPool
	clock scrape.Clock
}

// NewCatalogStore creates a Postgres-backed CatalogStore using the provided config.
func NewCatalogStore(ctx context.Context, cfg JobStoreConfig, clock scrape.Clock) (*CatalogStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &CatalogStore{pool: pool, clock: clock}, nil
}

// NewCatalogStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewCatalogStoreWithPool(pool dbPool, clock scrape.Clock) (*CatalogStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &CatalogStore{pool: pool, clock: clock}, nil
}

// Close releases the underlying pool resources.
func (s *CatalogStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Repositories returns the per-entity repositories backed by this store.
func (s *CatalogStore) Repositories() catalog.Repositories {
	return catalog.Repositories{
		Navigations: &navRepo{s},
		Categories:  &categoryRepo{s},
		Products:    &productRepo{s},
		Details:     &detailRepo{s},
		Reviews:     &reviewRepo{s},
	}
}

// mapWriteErr translates unique-constraint failures into ErrConflict.
func mapWriteErr(err error, op string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w", op, catalog.ErrConflict)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func mapReadErr(err error, op string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

// --- navigations ---

const navColumns = `id, title, slug, description, source_url, display_order,
	is_active, last_scraped_at, created_at, updated_at`

type navRepo struct{ s *CatalogStore }

func (r *navRepo) FindBySlug(ctx context.Context, slug string) (catalog.Navigation, error) {
	row := r.s.pool.QueryRow(ctx, `SELECT `+navColumns+` FROM navigations WHERE slug = $1`, slug)
	nav, err := scanNavigation(row)
	if err != nil {
		return catalog.Navigation{}, mapReadErr(err, "find navigation by slug")
	}
	return nav, nil
}

func (r *navRepo) FindBySourceURL(ctx context.Context, sourceURL string) (catalog.Navigation, error) {
	row := r.s.pool.QueryRow(ctx, `SELECT `+navColumns+` FROM navigations WHERE source_url = $1`, sourceURL)
	nav, err := scanNavigation(row)
	if err != nil {
		return catalog.Navigation{}, mapReadErr(err, "find navigation by source url")
	}
	return nav, nil
}

func (r *navRepo) Upsert(ctx context.Context, nav catalog.Navigation) (catalog.Navigation, error) {
	now := r.s.clock.Now()
	row := r.s.pool.QueryRow(ctx, `
INSERT INTO navigations (title, slug, description, source_url, display_order,
	is_active, last_scraped_at, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$8)
ON CONFLICT (slug) DO UPDATE SET
	title = EXCLUDED.title,
	description = EXCLUDED.description,
	source_url = EXCLUDED.source_url,
	display_order = EXCLUDED.display_order,
	is_active = EXCLUDED.is_active,
	last_scraped_at = EXCLUDED.last_scraped_at,
	updated_at = EXCLUDED.updated_at
RETURNING `+navColumns,
		nav.Title, nav.Slug, nav.Description, nav.SourceURL, nav.DisplayOrder,
		nav.IsActive, nav.LastScrapedAt, now)
	stored, err := scanNavigation(row)
	if err != nil {
		return catalog.Navigation{}, mapWriteErr(err, "upsert navigation")
	}
	return stored, nil
}

func (r *navRepo) List(ctx context.Context) ([]catalog.Navigation, error) {
	rows, err := r.s.pool.Query(ctx, `SELECT `+navColumns+` FROM navigations ORDER BY display_order, id`)
	if err != nil {
		return nil, fmt.Errorf("list navigations: %w", err)
	}
	defer rows.Close()
	var out []catalog.Navigation
	for rows.Next() {
		nav, err := scanNavigation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan navigation: %w", err)
		}
		out = append(out, nav)
	}
	return out, rows.Err()
}

func scanNavigation(row rowScanner) (catalog.Navigation, error) {
	var nav catalog.Navigation
	err := row.Scan(&nav.ID, &nav.Title, &nav.Slug, &nav.Description, &nav.SourceURL,
		&nav.DisplayOrder, &nav.IsActive, &nav.LastScrapedAt, &nav.CreatedAt, &nav.UpdatedAt)
	return nav, err
}

// --- categories ---

const categoryColumns = `id, title, slug, description, source_url, navigation_id,
	parent_id, product_count, display_order, is_active, last_scraped_at,
	created_at, updated_at`

type categoryRepo struct{ s *CatalogStore }

func (r *categoryRepo) FindBySlug(ctx context.Context, slug string) (catalog.Category, error) {
	row := r.s.pool.QueryRow(ctx, `SELECT `+categoryColumns+` FROM categories WHERE slug = $1`, slug)
	cat, err := scanCategory(row)
	if err != nil {
		return catalog.Category{}, mapReadErr(err, "find category by slug")
	}
	return cat, nil
}

func (r *categoryRepo) FindBySourceURL(ctx context.Context, sourceURL string) (catalog.Category, error) {
	row := r.s.pool.QueryRow(ctx, `SELECT `+categoryColumns+` FROM categories WHERE source_url = $1`, sourceURL)
	cat, err := scanCategory(row)
	if err != nil {
		return catalog.Category{}, mapReadErr(err, "find category by source url")
	}
	return cat, nil
}

func (r *categoryRepo) FindByID(ctx context.Context, id int64) (catalog.Category, error) {
	row := r.s.pool.QueryRow(ctx, `SELECT `+categoryColumns+` FROM categories WHERE id = $1`, id)
	cat, err := scanCategory(row)
	if err != nil {
		return catalog.Category{}, mapReadErr(err, "find category by id")
	}
	return cat, nil
}

// Upsert matches by slug. product_count is owned by RecomputeProductCount and
// is not touched on update.
func (r *categoryRepo) Upsert(ctx context.Context, cat catalog.Category) (catalog.Category, error) {
	now := r.s.clock.Now()
	row := r.s.pool.QueryRow(ctx, `
INSERT INTO categories (title, slug, description, source_url, navigation_id,
	parent_id, product_count, display_order, is_active, last_scraped_at,
	created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,0,$7,$8,$9,$10,$10)
ON CONFLICT (slug) DO UPDATE SET
	title = EXCLUDED.title,
	description = EXCLUDED.description,
	source_url = EXCLUDED.source_url,
	navigation_id = EXCLUDED.navigation_id,
	parent_id = EXCLUDED.parent_id,
	display_order = EXCLUDED.display_order,
	is_active = EXCLUDED.is_active,
	last_scraped_at = EXCLUDED.last_scraped_at,
	updated_at = EXCLUDED.updated_at
RETURNING `+categoryColumns,
		cat.Title, cat.Slug, cat.Description, cat.SourceURL, cat.NavigationID,
		cat.ParentID, cat.DisplayOrder, cat.IsActive, cat.LastScrapedAt, now)
	stored, err := scanCategory(row)
	if err != nil {
		return catalog.Category{}, mapWriteErr(err, "upsert category")
	}
	return stored, nil
}

func (r *categoryRepo) ListByNavigation(ctx context.Context, navigationID int64) ([]catalog.Category, error) {
	rows, err := r.s.pool.Query(ctx,
		`SELECT `+categoryColumns+` FROM categories WHERE navigation_id = $1 ORDER BY display_order, id`,
		navigationID)
	if err != nil {
		return nil, fmt.Errorf("list categories by navigation: %w", err)
	}
	defer rows.Close()
	var out []catalog.Category
	for rows.Next() {
		cat, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, cat)
	}
	return out, rows.Err()
}

func (r *categoryRepo) RecomputeProductCount(ctx context.Context, categoryID int64) (int, error) {
	now := r.s.clock.Now()
	row := r.s.pool.QueryRow(ctx, `
UPDATE categories
SET product_count = (
	SELECT COUNT(*) FROM products WHERE category_id = $1 AND is_active
), updated_at = $2
WHERE id = $1
RETURNING product_count`, categoryID, now)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, mapReadErr(err, "recompute product count")
	}
	return count, nil
}

func scanCategory(row rowScanner) (catalog.Category, error) {
	var cat catalog.Category
	err := row.Scan(&cat.ID, &cat.Title, &cat.Slug, &cat.Description, &cat.SourceURL,
		&cat.NavigationID, &cat.ParentID, &cat.ProductCount, &cat.DisplayOrder,
		&cat.IsActive, &cat.LastScrapedAt, &cat.CreatedAt, &cat.UpdatedAt)
	return cat, err
}

// --- products ---

const productColumns = `id, source_id, title, author, price, currency, image_url,
	source_url, category_id, rating_avg, review_count, in_stock, is_active,
	last_scraped_at, created_at, updated_at`

type productRepo struct{ s *CatalogStore }

func (r *productRepo) FindBySourceID(ctx context.Context, sourceID string) (catalog.Product, error) {
	row := r.s.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE source_id = $1`, sourceID)
	p, err := scanProduct(row)
	if err != nil {
		return catalog.Product{}, mapReadErr(err, "find product by source id")
	}
	return p, nil
}

func (r *productRepo) FindByID(ctx context.Context, id int64) (catalog.Product, error) {
	row := r.s.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	p, err := scanProduct(row)
	if err != nil {
		return catalog.Product{}, mapReadErr(err, "find product by id")
	}
	return p, nil
}

func (r *productRepo) Upsert(ctx context.Context, p catalog.Product) (catalog.Product, error) {
	now := r.s.clock.Now()
	row := r.s.pool.QueryRow(ctx, `
INSERT INTO products (source_id, title, author, price, currency, image_url,
	source_url, category_id, rating_avg, review_count, in_stock, is_active,
	last_scraped_at, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$14)
ON CONFLICT (source_id) DO UPDATE SET
	title = EXCLUDED.title,
	author = EXCLUDED.author,
	price = EXCLUDED.price,
	currency = EXCLUDED.currency,
	image_url = EXCLUDED.image_url,
	source_url = EXCLUDED.source_url,
	category_id = EXCLUDED.category_id,
	rating_avg = EXCLUDED.rating_avg,
	review_count = EXCLUDED.review_count,
	in_stock = EXCLUDED.in_stock,
	is_active = EXCLUDED.is_active,
	last_scraped_at = EXCLUDED.last_scraped_at,
	updated_at = EXCLUDED.updated_at
RETURNING `+productColumns,
		p.SourceID, p.Title, p.Author, p.Price, p.Currency, p.ImageURL,
		p.SourceURL, p.CategoryID, p.RatingAvg, p.ReviewCount, p.InStock,
		p.IsActive, p.LastScrapedAt, now)
	stored, err := scanProduct(row)
	if err != nil {
		return catalog.Product{}, mapWriteErr(err, "upsert product")
	}
	return stored, nil
}

func (r *productRepo) ListByCategory(ctx context.Context, categoryID int64, limit, offset int) ([]catalog.Product, int, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	var total int
	if err := r.s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM products WHERE category_id = $1 AND is_active`,
		categoryID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count products: %w", err)
	}
	rows, err := r.s.pool.Query(ctx,
		`SELECT `+productColumns+` FROM products WHERE category_id = $1 AND is_active ORDER BY id LIMIT $2 OFFSET $3`,
		categoryID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list products by category: %w", err)
	}
	defer rows.Close()
	var out []catalog.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan product: %w", err)
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

func scanProduct(row rowScanner) (catalog.Product, error) {
	var p catalog.Product
	err := row.Scan(&p.ID, &p.SourceID, &p.Title, &p.Author, &p.Price, &p.Currency,
		&p.ImageURL, &p.SourceURL, &p.CategoryID, &p.RatingAvg, &p.ReviewCount,
		&p.InStock, &p.IsActive, &p.LastScrapedAt, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

// --- product details ---

const detailColumns = `id, product_id, description, long_description, specifications,
	publisher, publication_date, isbn, isbn13, pages, language, format, genres,
	tags, additional_images, related_products, created_at, updated_at`

type detailRepo struct{ s *CatalogStore }

func (r *detailRepo) FindByProductID(ctx context.Context, productID int64) (catalog.ProductDetail, error) {
	row := r.s.pool.QueryRow(ctx, `SELECT `+detailColumns+` FROM product_details WHERE product_id = $1`, productID)
	d, err := scanDetail(row)
	if err != nil {
		return catalog.ProductDetail{}, mapReadErr(err, "find detail by product id")
	}
	return d, nil
}

func (r *detailRepo) Upsert(ctx context.Context, detail catalog.ProductDetail) (catalog.ProductDetail, error) {
	specs, err := json.Marshal(orEmptyMap(detail.Specifications))
	if err != nil {
		return catalog.ProductDetail{}, fmt.Errorf("marshal specifications: %w", err)
	}
	genres, err := json.Marshal(orEmptySlice(detail.Genres))
	if err != nil {
		return catalog.ProductDetail{}, fmt.Errorf("marshal genres: %w", err)
	}
	tags, err := json.Marshal(orEmptySlice(detail.Tags))
	if err != nil {
		return catalog.ProductDetail{}, fmt.Errorf("marshal tags: %w", err)
	}
	images, err := json.Marshal(orEmptySlice(detail.AdditionalImages))
	if err != nil {
		return catalog.ProductDetail{}, fmt.Errorf("marshal additional images: %w", err)
	}
	related, err := json.Marshal(detail.RelatedProducts)
	if err != nil {
		return catalog.ProductDetail{}, fmt.Errorf("marshal related products: %w", err)
	}
	now := r.s.clock.Now()
	row := r.s.pool.QueryRow(ctx, `
INSERT INTO product_details (product_id, description, long_description,
	specifications, publisher, publication_date, isbn, isbn13, pages, language,
	format, genres, tags, additional_images, related_products, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$16)
ON CONFLICT (product_id) DO UPDATE SET
	description = EXCLUDED.description,
	long_description = EXCLUDED.long_description,
	specifications = EXCLUDED.specifications,
	publisher = EXCLUDED.publisher,
	publication_date = EXCLUDED.publication_date,
	isbn = EXCLUDED.isbn,
	isbn13 = EXCLUDED.isbn13,
	pages = EXCLUDED.pages,
	language = EXCLUDED.language,
	format = EXCLUDED.format,
	genres = EXCLUDED.genres,
	tags = EXCLUDED.tags,
	additional_images = EXCLUDED.additional_images,
	related_products = EXCLUDED.related_products,
	updated_at = EXCLUDED.updated_at
RETURNING `+detailColumns,
		detail.ProductID, detail.Description, detail.LongDescription, specs,
		detail.Publisher, detail.PublicationDate, detail.ISBN, detail.ISBN13,
		detail.Pages, detail.Language, detail.Format, genres, tags, images,
		related, now)
	stored, err := scanDetail(row)
	if err != nil {
		return catalog.ProductDetail{}, mapWriteErr(err, "upsert product detail")
	}
	return stored, nil
}

func scanDetail(row rowScanner) (catalog.ProductDetail, error) {
	var (
		d       catalog.ProductDetail
		specs   []byte
		genres  []byte
		tags    []byte
		images  []byte
		related []byte
	)
	err := row.Scan(&d.ID, &d.ProductID, &d.Description, &d.LongDescription, &specs,
		&d.Publisher, &d.PublicationDate, &d.ISBN, &d.ISBN13, &d.Pages,
		&d.Language, &d.Format, &genres, &tags, &images, &related,
		&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return catalog.ProductDetail{}, err
	}
	if err := unmarshalInto(specs, &d.Specifications); err != nil {
		return catalog.ProductDetail{}, fmt.Errorf("unmarshal specifications: %w", err)
	}
	if err := unmarshalInto(genres, &d.Genres); err != nil {
		return catalog.ProductDetail{}, fmt.Errorf("unmarshal genres: %w", err)
	}
	if err := unmarshalInto(tags, &d.Tags); err != nil {
		return catalog.ProductDetail{}, fmt.Errorf("unmarshal tags: %w", err)
	}
	if err := unmarshalInto(images, &d.AdditionalImages); err != nil {
		return catalog.ProductDetail{}, fmt.Errorf("unmarshal additional images: %w", err)
	}
	if err := unmarshalInto(related, &d.RelatedProducts); err != nil {
		return catalog.ProductDetail{}, fmt.Errorf("unmarshal related products: %w", err)
	}
	return d, nil
}

// --- reviews ---

const reviewColumns = `id, product_id, author_name, author_id, rating, title,
	content, is_verified, helpful_count, review_date, created_at`

type reviewRepo struct{ s *CatalogStore }

// Append inserts every review as a new row; reviews are never deduplicated.
func (r *reviewRepo) Append(ctx context.Context, reviews []catalog.Review) ([]catalog.Review, error) {
	now := r.s.clock.Now()
	out := make([]catalog.Review, 0, len(reviews))
	for _, rev := range reviews {
		row := r.s.pool.QueryRow(ctx, `
INSERT INTO reviews (product_id, author_name, author_id, rating, title, content,
	is_verified, helpful_count, review_date, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
RETURNING `+reviewColumns,
			rev.ProductID, rev.AuthorName, rev.AuthorID, rev.Rating, rev.Title,
			rev.Content, rev.IsVerified, rev.HelpfulCount, rev.ReviewDate, now)
		stored, err := scanReview(row)
		if err != nil {
			return nil, mapWriteErr(err, "append review")
		}
		out = append(out, stored)
	}
	return out, nil
}

func (r *reviewRepo) ListByProduct(ctx context.Context, productID int64) ([]catalog.Review, error) {
	rows, err := r.s.pool.Query(ctx,
		`SELECT `+reviewColumns+` FROM reviews WHERE product_id = $1 ORDER BY id`, productID)
	if err != nil {
		return nil, fmt.Errorf("list reviews by product: %w", err)
	}
	defer rows.Close()
	var out []catalog.Review
	for rows.Next() {
		rev, err := scanReview(rows)
		if err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		out = append(out, rev)
	}
	return out, rows.Err()
}

func scanReview(row rowScanner) (catalog.Review, error) {
	var rev catalog.Review
	err := row.Scan(&rev.ID, &rev.ProductID, &rev.AuthorName, &rev.AuthorID,
		&rev.Rating, &rev.Title, &rev.Content, &rev.IsVerified,
		&rev.HelpfulCount, &rev.ReviewDate, &rev.CreatedAt)
	return rev, err
}

// --- json helpers ---

func orEmptyMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func orEmptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func unmarshalInto(data []byte, dst any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dst)
}
