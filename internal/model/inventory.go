package model

import "time"

// Merchants accepted by the scraping endpoint.
var Merchants = []string{"Mercari", "Depop", "Generic", "Custom"}

// Conditions accepted for inventory items.
var Conditions = []string{"new", "like new", "used", "fair", "poor"}

const (
	// DefaultPageSize is used when a list call does not specify per_page.
	DefaultPageSize = 20
	// MaxPageSize caps per_page on list calls.
	MaxPageSize = 100
	// MaxScrapingPages caps max_pages on scrape requests.
	MaxScrapingPages = 10
)

// InventoryItem is a single tracked listing.
type InventoryItem struct {
	ID           int64          `json:"id"`
	UserID       int64          `json:"user_id"`
	JobID        *int64         `json:"job_id,omitempty"`
	Title        string         `json:"title" validate:"required,max=500"`
	Price        float64        `json:"price" validate:"gte=0"`
	Currency     string         `json:"currency" validate:"omitempty,len=3"`
	Quantity     int            `json:"quantity" validate:"gte=0"`
	SKU          string         `json:"sku"`
	Description  string         `json:"description,omitempty"`
	Category     string         `json:"category,omitempty"`
	Brand        string         `json:"brand,omitempty"`
	Condition    string         `json:"condition,omitempty" validate:"omitempty,oneof='new' 'like new' 'used' 'fair' 'poor'"`
	ImageURL     string         `json:"image_url,omitempty" validate:"omitempty,url"`
	ProductURL   string         `json:"product_url,omitempty" validate:"omitempty,url"`
	Merchant     string         `json:"merchant" validate:"required"`
	InStock      bool           `json:"in_stock"`
	CustomFields map[string]any `json:"custom_fields,omitempty"`
	ScrapedAt    *time.Time     `json:"scraped_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Pagination describes a page of a list response.
type Pagination struct {
	Page       int  `json:"page"`
	PerPage    int  `json:"per_page"`
	TotalItems int  `json:"total_items"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
	HasPrev    bool `json:"has_prev"`
}

// InventoryList is returned by GET /api/inventory.
type InventoryList struct {
	Items      []InventoryItem `json:"items"`
	Pagination Pagination      `json:"pagination"`
}

// InventoryFilters narrows GET /api/inventory.
type InventoryFilters struct {
	Search    string `validate:"max=200"`
	Merchant  string
	Category  string
	Condition string `validate:"omitempty,oneof='new' 'like new' 'used' 'fair' 'poor'"`
	InStock   *bool
	SortBy    string `validate:"omitempty,oneof=created_at price title"`
	SortOrder string `validate:"omitempty,oneof=asc desc"`
}

// ScrapingJob tracks one scrape request on the backend.
type ScrapingJob struct {
	ID              int64      `json:"id"`
	UserID          int64      `json:"user_id"`
	Merchant        string     `json:"merchant"`
	URL             string     `json:"url"`
	Status          string     `json:"status"`
	ItemsScraped    int        `json:"items_scraped"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	DurationSeconds *float64   `json:"duration_seconds,omitempty"`
}

// ScrapingJobWithItems is returned by GET /api/scraping/jobs/{id}.
type ScrapingJobWithItems struct {
	ScrapingJob
	Items []InventoryItem `json:"items"`
}

// ScrapingJobList is returned by GET /api/scraping/jobs.
type ScrapingJobList struct {
	Jobs       []ScrapingJob `json:"jobs"`
	Pagination Pagination    `json:"pagination"`
}

// ScrapeRequest is the body of POST /api/scraping/scrape.
type ScrapeRequest struct {
	URL      string `json:"url" validate:"required,url"`
	Merchant string `json:"merchant" validate:"required,oneof=Mercari Depop Generic Custom"`
	MaxPages int    `json:"max_pages,omitempty" validate:"omitempty,min=1,max=10"`
}

// ScrapeResponse is returned by POST /api/scraping/scrape.
type ScrapeResponse struct {
	Message string      `json:"message"`
	Job     ScrapingJob `json:"job"`
}

// Statistics is the dashboard payload of GET /api/stats.
type Statistics struct {
	Inventory    InventoryStatistics `json:"inventory"`
	Merchants    []MerchantCount     `json:"merchants"`
	Conditions   []ConditionCount    `json:"conditions"`
	Categories   []CategoryCount     `json:"categories"`
	ScrapingJobs JobStatistics       `json:"scraping_jobs"`
}

// InventoryStatistics summarizes inventory totals.
type InventoryStatistics struct {
	TotalItems      int     `json:"total_items"`
	ItemsInStock    int     `json:"items_in_stock"`
	ItemsOutOfStock int     `json:"items_out_of_stock"`
	TotalValue      float64 `json:"total_value"`
	ItemsLastWeek   int     `json:"items_last_week"`
	ItemsLastMonth  int     `json:"items_last_month"`
}

// MerchantCount is an item count per merchant.
type MerchantCount struct {
	Merchant string `json:"merchant"`
	Count    int    `json:"count"`
}

// ConditionCount is an item count per condition.
type ConditionCount struct {
	Condition string `json:"condition"`
	Count     int    `json:"count"`
}

// CategoryCount is an item count per category.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// JobStatistics summarizes scraping jobs.
type JobStatistics struct {
	TotalJobs      int           `json:"total_jobs"`
	SuccessfulJobs int           `json:"successful_jobs"`
	FailedJobs     int           `json:"failed_jobs"`
	PendingJobs    int           `json:"pending_jobs"`
	RecentJobs     []ScrapingJob `json:"recent_jobs"`
}

// JobStatuses are the lifecycle states of a scraping job.
var JobStatuses = []string{"pending", "running", "completed", "failed"}

// ItemUpdate is the partial body of PUT /api/inventory/{id}; nil fields are left unchanged.
type ItemUpdate struct {
	Title       *string  `json:"title,omitempty" validate:"omitempty,min=1,max=500"`
	Price       *float64 `json:"price,omitempty" validate:"omitempty,gte=0"`
	Quantity    *int     `json:"quantity,omitempty" validate:"omitempty,gte=0"`
	Description *string  `json:"description,omitempty"`
	Category    *string  `json:"category,omitempty"`
	Brand       *string  `json:"brand,omitempty"`
	Condition   *string  `json:"condition,omitempty" validate:"omitempty,oneof='new' 'like new' 'used' 'fair' 'poor'"`
	InStock     *bool    `json:"in_stock,omitempty"`
}

// Empty reports whether the update changes nothing.
func (update ItemUpdate) Empty() bool {
	return update.Title == nil && update.Price == nil && update.Quantity == nil &&
		update.Description == nil && update.Category == nil && update.Brand == nil &&
		update.Condition == nil && update.InStock == nil
}

// BulkDeleteRequest is the body of POST /api/inventory/bulk-delete.
type BulkDeleteRequest struct {
	ItemIDs []int64 `json:"item_ids" validate:"required,min=1,dive,gt=0"`
}

// BulkDeleteResponse reports how many items were removed.
type BulkDeleteResponse struct {
	Message string `json:"message"`
	Deleted int    `json:"deleted"`
}

// MessageResponse is the body of responses that only carry a message.
type MessageResponse struct {
	Message string `json:"message"`
}
