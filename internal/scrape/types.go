// Package scrape defines core types shared across the scrape pipeline.
package scrape

import "time"

// JobStatus represents the lifecycle state of a scrape job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether the status is a resting state for the job.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// ValidJobStatus reports whether s is one of the five lifecycle states.
func ValidJobStatus(s JobStatus) bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// TargetType is the kind of page a job scrapes. It selects the extractor
// variant and which catalog entities are reconciled.
type TargetType string

// Supported target types.
const (
	TargetNavigation    TargetType = "navigation"
	TargetCategory      TargetType = "category"
	TargetProduct       TargetType = "product"
	TargetProductDetail TargetType = "product_detail"
)

// ValidTargetType reports whether t is one of the four supported types.
func ValidTargetType(t TargetType) bool {
	switch t {
	case TargetNavigation, TargetCategory, TargetProduct, TargetProductDetail:
		return true
	default:
		return false
	}
}

// DefaultMaxRetries bounds internal retry attempts per job.
const DefaultMaxRetries = 3

// RetryPriority is the queue priority used for operator-initiated retries so
// they drain ahead of the normal backlog.
const RetryPriority = 1

// Options is the opaque per-job option map (categoryId, productId, limit, ...).
type Options map[string]any

// Int reads an integer option, tolerating JSON's float64 decoding.
func (o Options) Int(key string) (int, bool) {
	v, ok := o[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// String reads a string option.
func (o Options) String(key string) (string, bool) {
	v, ok := o[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Job is the durable record of one scrape request.
type Job struct {
	ID             string         `json:"id"`
	TargetURL      string         `json:"target_url"`
	TargetType     TargetType     `json:"target_type"`
	Status         JobStatus      `json:"status"`
	Options        Options        `json:"options,omitempty"`
	Result         map[string]any `json:"result,omitempty"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	ErrorLog       map[string]any `json:"error_log,omitempty"`
	RetryCount     int            `json:"retry_count"`
	MaxRetries     int            `json:"max_retries"`
	ItemsProcessed int            `json:"items_processed"`
	ItemsTotal     int            `json:"items_total"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	FinishedAt     *time.Time     `json:"finished_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// QueueItem is the in-memory handle for a job awaiting execution.
type QueueItem struct {
	JobID      string
	TargetURL  string
	TargetType TargetType
	Options    Options
	Priority   int
	// Attempt counts completed executions of this job; 0 for the initial run.
	Attempt int
}

// QueueStats is a point-in-time snapshot of queue depth by partition.
// Total always equals the sum of the other five fields.
type QueueStats struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Delayed   int `json:"delayed"`
	Total     int `json:"total"`
}

// NavigationItem is one extracted top-level navigation candidate.
type NavigationItem struct {
	Title string `json:"title"`
	Slug  string `json:"slug"`
	URL   string `json:"url"`
}

// CategoryItem is one extracted category link under a navigation page.
type CategoryItem struct {
	Title      string `json:"title"`
	Slug       string `json:"slug"`
	URL        string `json:"url"`
	ParentSlug string `json:"parent_slug,omitempty"`
}

// ProductItem is one extracted product from a category listing page.
type ProductItem struct {
	SourceID    string   `json:"source_id"`
	Title       string   `json:"title"`
	Author      string   `json:"author,omitempty"`
	Price       *float64 `json:"price,omitempty"`
	Currency    string   `json:"currency"`
	ImageURL    string   `json:"image_url,omitempty"`
	SourceURL   string   `json:"source_url"`
	Rating      *float64 `json:"rating,omitempty"`
	ReviewCount int      `json:"review_count"`
	InStock     bool     `json:"in_stock"`
}

// ReviewItem is one extracted customer review.
type ReviewItem struct {
	AuthorName string     `json:"author_name,omitempty"`
	Rating     *int       `json:"rating,omitempty"`
	Title      string     `json:"title,omitempty"`
	Content    string     `json:"content,omitempty"`
	ReviewDate *time.Time `json:"review_date,omitempty"`
}

// RelatedProductItem links to another product referenced from a detail page.
type RelatedProductItem struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// ProductDetailItem is the extracted detail payload for exactly one product.
type ProductDetailItem struct {
	Description      string               `json:"description,omitempty"`
	LongDescription  string               `json:"long_description,omitempty"`
	Specifications   map[string]string    `json:"specifications,omitempty"`
	Publisher        string               `json:"publisher,omitempty"`
	PublicationDate  *time.Time           `json:"publication_date,omitempty"`
	ISBN             string               `json:"isbn,omitempty"`
	ISBN13           string               `json:"isbn13,omitempty"`
	Pages            int                  `json:"pages,omitempty"`
	Language         string               `json:"language,omitempty"`
	Format           string               `json:"format,omitempty"`
	Genres           []string             `json:"genres,omitempty"`
	AdditionalImages []string             `json:"additional_images,omitempty"`
	RelatedProducts  []RelatedProductItem `json:"related_products,omitempty"`
	Reviews          []ReviewItem         `json:"reviews,omitempty"`
}

// Extraction is the typed result of one extractor run. Exactly one of the
// per-type fields is populated, matching the job's target type.
type Extraction struct {
	Navigation []NavigationItem
	Categories []CategoryItem
	Products   []ProductItem
	Detail     *ProductDetailItem

	// RawHTML is the fetched page body, kept for optional snapshot archiving.
	RawHTML  []byte
	FinalURL string
}
