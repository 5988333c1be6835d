// Package catalog defines the scraped entity hierarchy and its repositories.
package catalog

import (
	"errors"
	"time"
)

// Sentinel errors returned by repositories.
var (
	// ErrNotFound is returned when no row matches the lookup key.
	ErrNotFound = errors.New("catalog: not found")
	// ErrConflict is returned when a concurrent writer won a natural-key
	// race (unique constraint violation).
	ErrConflict = errors.New("catalog: conflicting write")
)

// Navigation is a top-level site section, keyed by slug.
type Navigation struct {
	ID            int64      `json:"id"`
	Title         string     `json:"title"`
	Slug          string     `json:"slug"`
	Description   string     `json:"description,omitempty"`
	SourceURL     string     `json:"source_url,omitempty"`
	DisplayOrder  int        `json:"display_order"`
	IsActive      bool       `json:"is_active"`
	LastScrapedAt *time.Time `json:"last_scraped_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Category is a product grouping, keyed by slug. It may reference a parent
// category and the navigation section it was discovered under.
type Category struct {
	ID            int64      `json:"id"`
	Title         string     `json:"title"`
	Slug          string     `json:"slug"`
	Description   string     `json:"description,omitempty"`
	SourceURL     string     `json:"source_url,omitempty"`
	NavigationID  *int64     `json:"navigation_id,omitempty"`
	ParentID      *int64     `json:"parent_id,omitempty"`
	ProductCount  int        `json:"product_count"`
	DisplayOrder  int        `json:"display_order"`
	IsActive      bool       `json:"is_active"`
	LastScrapedAt *time.Time `json:"last_scraped_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Product is one listed item, keyed by the upstream site's stable source id.
type Product struct {
	ID            int64      `json:"id"`
	SourceID      string     `json:"source_id"`
	Title         string     `json:"title"`
	Author        string     `json:"author,omitempty"`
	Price         *float64   `json:"price,omitempty"`
	Currency      string     `json:"currency"`
	ImageURL      string     `json:"image_url,omitempty"`
	SourceURL     string     `json:"source_url,omitempty"`
	CategoryID    *int64     `json:"category_id,omitempty"`
	RatingAvg     *float64   `json:"rating_avg,omitempty"`
	ReviewCount   int        `json:"review_count"`
	InStock       bool       `json:"in_stock"`
	IsActive      bool       `json:"is_active"`
	LastScrapedAt *time.Time `json:"last_scraped_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// RelatedProduct references another product from a detail page.
type RelatedProduct struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// ProductDetail is the 1:1 extension of Product, keyed by product id.
type ProductDetail struct {
	ID               int64             `json:"id"`
	ProductID        int64             `json:"product_id"`
	Description      string            `json:"description,omitempty"`
	LongDescription  string            `json:"long_description,omitempty"`
	Specifications   map[string]string `json:"specifications,omitempty"`
	Publisher        string            `json:"publisher,omitempty"`
	PublicationDate  *time.Time        `json:"publication_date,omitempty"`
	ISBN             string            `json:"isbn,omitempty"`
	ISBN13           string            `json:"isbn13,omitempty"`
	Pages            int               `json:"pages,omitempty"`
	Language         string            `json:"language,omitempty"`
	Format           string            `json:"format,omitempty"`
	Genres           []string          `json:"genres,omitempty"`
	Tags             []string          `json:"tags,omitempty"`
	AdditionalImages []string          `json:"additional_images,omitempty"`
	RelatedProducts  []RelatedProduct  `json:"related_products,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// Review is an append-only 1:N child of Product. Reviews are never matched
// against existing rows.
type Review struct {
	ID           int64      `json:"id"`
	ProductID    int64      `json:"product_id"`
	AuthorName   string     `json:"author_name,omitempty"`
	AuthorID     string     `json:"author_id,omitempty"`
	Rating       *int       `json:"rating,omitempty"`
	Title        string     `json:"title,omitempty"`
	Content      string     `json:"content,omitempty"`
	IsVerified   bool       `json:"is_verified"`
	HelpfulCount int        `json:"helpful_count"`
	ReviewDate   *time.Time `json:"review_date,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}
