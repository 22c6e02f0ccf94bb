package devapi

import (
	"cmp"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/tyemirov/stockpilot/internal/model"
)

var (
	// ErrItemNotFound is returned for unknown items or items owned by another user.
	ErrItemNotFound = errors.New("devapi.inventory.item_not_found")
	// ErrJobNotFound is returned for unknown jobs or jobs owned by another user.
	ErrJobNotFound = errors.New("devapi.inventory.job_not_found")
)

const recentJobsLimit = 5

// itemQuery is a normalized list request.
type itemQuery struct {
	Page    int
	PerPage int
	Filters model.InventoryFilters
}

// InventoryStore keeps items and scraping jobs per user in memory.
type InventoryStore struct {
	mutex      sync.Mutex
	clock      Clock
	items      map[int64]*model.InventoryItem
	jobs       map[int64]*model.ScrapingJob
	nextItemID int64
	nextJobID  int64
}

// NewInventoryStore creates an empty store.
func NewInventoryStore(clock Clock) *InventoryStore {
	if clock == nil {
		clock = SystemClock{}
	}
	return &InventoryStore{
		clock: clock,
		items: make(map[int64]*model.InventoryItem),
		jobs:  make(map[int64]*model.ScrapingJob),
	}
}

// CreateItem stores item for userID and returns the stored copy.
func (store *InventoryStore) CreateItem(userID int64, item model.InventoryItem) model.InventoryItem {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.nextItemID++
	now := store.clock.Now()
	item.ID = store.nextItemID
	item.UserID = userID
	item.CreatedAt = now
	item.UpdatedAt = now
	if item.Currency == "" {
		item.Currency = "USD"
	}
	stored := item
	store.items[item.ID] = &stored
	return item
}

// GetItem returns one item owned by userID.
func (store *InventoryStore) GetItem(userID int64, id int64) (model.InventoryItem, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	item, found := store.items[id]
	if !found || item.UserID != userID {
		return model.InventoryItem{}, ErrItemNotFound
	}
	return *item, nil
}

// UpdateItem applies the non-nil fields of update.
func (store *InventoryStore) UpdateItem(userID int64, id int64, update model.ItemUpdate) (model.InventoryItem, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	item, found := store.items[id]
	if !found || item.UserID != userID {
		return model.InventoryItem{}, ErrItemNotFound
	}
	applyString(&item.Title, update.Title)
	applyString(&item.Description, update.Description)
	applyString(&item.Category, update.Category)
	applyString(&item.Brand, update.Brand)
	applyString(&item.Condition, update.Condition)
	if update.Price != nil {
		item.Price = *update.Price
	}
	if update.Quantity != nil {
		item.Quantity = *update.Quantity
	}
	if update.InStock != nil {
		item.InStock = *update.InStock
	}
	item.UpdatedAt = store.clock.Now()
	return *item, nil
}

func applyString(target *string, value *string) {
	if value != nil {
		*target = *value
	}
}

// DeleteItem removes one item owned by userID.
func (store *InventoryStore) DeleteItem(userID int64, id int64) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	item, found := store.items[id]
	if !found || item.UserID != userID {
		return ErrItemNotFound
	}
	delete(store.items, id)
	return nil
}

// BulkDelete removes the listed items owned by userID and returns the count removed.
func (store *InventoryStore) BulkDelete(userID int64, ids []int64) int {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	deleted := 0
	for _, id := range ids {
		if item, found := store.items[id]; found && item.UserID == userID {
			delete(store.items, id)
			deleted++
		}
	}
	return deleted
}

// ListItems filters, sorts and paginates the items of userID.
func (store *InventoryStore) ListItems(userID int64, query itemQuery) model.InventoryList {
	store.mutex.Lock()
	matching := make([]model.InventoryItem, 0)
	for _, item := range store.items {
		if item.UserID == userID && matchesFilters(*item, query.Filters) {
			matching = append(matching, *item)
		}
	}
	store.mutex.Unlock()

	sortItems(matching, query.Filters.SortBy, query.Filters.SortOrder)
	start, end, pagination := paginate(len(matching), query.Page, query.PerPage)
	return model.InventoryList{Items: matching[start:end], Pagination: pagination}
}

func matchesFilters(item model.InventoryItem, filters model.InventoryFilters) bool {
	if filters.Merchant != "" && item.Merchant != filters.Merchant {
		return false
	}
	if filters.Category != "" && item.Category != filters.Category {
		return false
	}
	if filters.Condition != "" && item.Condition != filters.Condition {
		return false
	}
	if filters.InStock != nil && item.InStock != *filters.InStock {
		return false
	}
	if filters.Search != "" {
		needle := strings.ToLower(filters.Search)
		haystacks := []string{item.Title, item.Description, item.Brand}
		return slices.ContainsFunc(haystacks, func(haystack string) bool {
			return strings.Contains(strings.ToLower(haystack), needle)
		})
	}
	return true
}

func sortItems(items []model.InventoryItem, sortBy string, sortOrder string) {
	compare := func(left model.InventoryItem, right model.InventoryItem) int {
		var result int
		switch sortBy {
		case "price":
			result = cmp.Compare(left.Price, right.Price)
		case "title":
			result = strings.Compare(strings.ToLower(left.Title), strings.ToLower(right.Title))
		default:
			result = left.CreatedAt.Compare(right.CreatedAt)
		}
		if result == 0 {
			result = cmp.Compare(left.ID, right.ID)
		}
		if sortOrder != "asc" {
			result = -result
		}
		return result
	}
	slices.SortFunc(items, compare)
}

func paginate(total int, page int, perPage int) (int, int, model.Pagination) {
	totalPages := (total + perPage - 1) / perPage
	start := min((page-1)*perPage, total)
	end := min(start+perPage, total)
	return start, end, model.Pagination{
		Page:       page,
		PerPage:    perPage,
		TotalItems: total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
		HasPrev:    page > 1,
	}
}

// CreateJob records a scrape request. Scraping itself is out of scope, so the job stays pending.
func (store *InventoryStore) CreateJob(userID int64, request model.ScrapeRequest) model.ScrapingJob {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.nextJobID++
	job := model.ScrapingJob{
		ID:        store.nextJobID,
		UserID:    userID,
		Merchant:  request.Merchant,
		URL:       request.URL,
		Status:    "pending",
		CreatedAt: store.clock.Now(),
	}
	stored := job
	store.jobs[job.ID] = &stored
	return job
}

// ListJobs returns a page of the jobs of userID, newest first.
func (store *InventoryStore) ListJobs(userID int64, page int, perPage int, status string) model.ScrapingJobList {
	store.mutex.Lock()
	matching := make([]model.ScrapingJob, 0)
	for _, job := range store.jobs {
		if job.UserID == userID && (status == "" || job.Status == status) {
			matching = append(matching, *job)
		}
	}
	store.mutex.Unlock()

	sortJobsNewestFirst(matching)
	start, end, pagination := paginate(len(matching), page, perPage)
	return model.ScrapingJobList{Jobs: matching[start:end], Pagination: pagination}
}

// GetJob returns a job with the items it produced.
func (store *InventoryStore) GetJob(userID int64, id int64) (model.ScrapingJobWithItems, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	job, found := store.jobs[id]
	if !found || job.UserID != userID {
		return model.ScrapingJobWithItems{}, ErrJobNotFound
	}
	items := make([]model.InventoryItem, 0)
	for _, item := range store.items {
		if item.JobID != nil && *item.JobID == id {
			items = append(items, *item)
		}
	}
	sortItems(items, "created_at", "asc")
	return model.ScrapingJobWithItems{ScrapingJob: *job, Items: items}, nil
}

// Statistics summarizes the inventory and jobs of userID.
func (store *InventoryStore) Statistics(userID int64) model.Statistics {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	now := store.clock.Now()
	weekAgo := now.Add(-7 * 24 * time.Hour)
	monthAgo := now.Add(-30 * 24 * time.Hour)
	merchants := map[string]int{}
	conditions := map[string]int{}
	categories := map[string]int{}

	statistics := model.Statistics{
		Merchants:  make([]model.MerchantCount, 0),
		Conditions: make([]model.ConditionCount, 0),
		Categories: make([]model.CategoryCount, 0),
	}
	for _, item := range store.items {
		if item.UserID != userID {
			continue
		}
		inventory := &statistics.Inventory
		inventory.TotalItems++
		if item.InStock {
			inventory.ItemsInStock++
		} else {
			inventory.ItemsOutOfStock++
		}
		inventory.TotalValue += item.Price * float64(item.Quantity)
		if item.CreatedAt.After(weekAgo) {
			inventory.ItemsLastWeek++
		}
		if item.CreatedAt.After(monthAgo) {
			inventory.ItemsLastMonth++
		}
		merchants[item.Merchant]++
		if item.Condition != "" {
			conditions[item.Condition]++
		}
		if item.Category != "" {
			categories[item.Category]++
		}
	}
	for name, count := range merchants {
		statistics.Merchants = append(statistics.Merchants, model.MerchantCount{Merchant: name, Count: count})
	}
	for name, count := range conditions {
		statistics.Conditions = append(statistics.Conditions, model.ConditionCount{Condition: name, Count: count})
	}
	for name, count := range categories {
		statistics.Categories = append(statistics.Categories, model.CategoryCount{Category: name, Count: count})
	}
	slices.SortFunc(statistics.Merchants, func(left, right model.MerchantCount) int {
		return cmp.Or(cmp.Compare(right.Count, left.Count), strings.Compare(left.Merchant, right.Merchant))
	})
	slices.SortFunc(statistics.Conditions, func(left, right model.ConditionCount) int {
		return cmp.Or(cmp.Compare(right.Count, left.Count), strings.Compare(left.Condition, right.Condition))
	})
	slices.SortFunc(statistics.Categories, func(left, right model.CategoryCount) int {
		return cmp.Or(cmp.Compare(right.Count, left.Count), strings.Compare(left.Category, right.Category))
	})

	jobs := make([]model.ScrapingJob, 0)
	for _, job := range store.jobs {
		if job.UserID != userID {
			continue
		}
		jobs = append(jobs, *job)
		switch job.Status {
		case "completed":
			statistics.ScrapingJobs.SuccessfulJobs++
		case "failed":
			statistics.ScrapingJobs.FailedJobs++
		default:
			statistics.ScrapingJobs.PendingJobs++
		}
	}
	statistics.ScrapingJobs.TotalJobs = len(jobs)
	sortJobsNewestFirst(jobs)
	statistics.ScrapingJobs.RecentJobs = jobs[:min(len(jobs), recentJobsLimit)]
	return statistics
}

func sortJobsNewestFirst(jobs []model.ScrapingJob) {
	slices.SortFunc(jobs, func(left, right model.ScrapingJob) int {
		return cmp.Or(right.CreatedAt.Compare(left.CreatedAt), cmp.Compare(right.ID, left.ID))
	})
}
