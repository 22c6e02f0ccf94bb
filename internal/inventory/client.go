// Package inventory wraps the inventory, scraping and statistics endpoints.
// Every call goes through the authenticated request pipeline.
package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"

	"go.uber.org/zap"

	"github.com/tyemirov/stockpilot/internal/apiclient"
	"github.com/tyemirov/stockpilot/internal/model"
)

const (
	itemsPath      = "/api/inventory"
	bulkDeletePath = "/api/inventory/bulk-delete"
	scrapePath     = "/api/scraping/scrape"
	jobsPath       = "/api/scraping/jobs"
	statsPath      = "/api/stats"
)

var (
	// ErrInvalidID rejects non-positive identifiers before a request is sent.
	ErrInvalidID = errors.New("inventory.invalid_id")
	// ErrEmptyUpdate rejects updates that change no field.
	ErrEmptyUpdate = errors.New("inventory.empty_update")
	// ErrInvalidStatus rejects unknown job status filters.
	ErrInvalidStatus = errors.New("inventory.invalid_status")
)

// Caller sends JSON requests through the authenticated pipeline.
type Caller interface {
	JSON(ctx context.Context, method string, path string, query url.Values, in any, out any) error
}

// Client exposes the domain API.
type Client struct {
	api    Caller
	logger *zap.Logger
}

// NewClient constructs a domain client over api.
func NewClient(api Caller, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{api: api, logger: logger}
}

// ListItems returns one page of inventory matching filters.
func (client *Client) ListItems(ctx context.Context, page int, perPage int, filters model.InventoryFilters) (model.InventoryList, error) {
	if err := model.Validate(filters); err != nil {
		return model.InventoryList{}, err
	}
	query := pageQuery(page, perPage)
	setIfPresent(query, "search", filters.Search)
	setIfPresent(query, "merchant", filters.Merchant)
	setIfPresent(query, "category", filters.Category)
	setIfPresent(query, "condition", filters.Condition)
	setIfPresent(query, "sort_by", filters.SortBy)
	setIfPresent(query, "sort_order", filters.SortOrder)
	if filters.InStock != nil {
		query.Set("in_stock", strconv.FormatBool(*filters.InStock))
	}

	var list model.InventoryList
	if err := client.api.JSON(ctx, http.MethodGet, itemsPath, query, nil, &list); err != nil {
		return model.InventoryList{}, fmt.Errorf("inventory.list: %w", err)
	}
	return list, nil
}

// GetItem fetches one item.
func (client *Client) GetItem(ctx context.Context, id int64) (model.InventoryItem, error) {
	if id <= 0 {
		return model.InventoryItem{}, ErrInvalidID
	}
	var payload json.RawMessage
	if err := client.api.JSON(ctx, http.MethodGet, itemPath(id), nil, nil, &payload); err != nil {
		return model.InventoryItem{}, fmt.Errorf("inventory.get: %w", err)
	}
	return decodeEnveloped[model.InventoryItem](payload, "item")
}

// CreateItem adds an item and returns it as stored by the backend.
func (client *Client) CreateItem(ctx context.Context, item model.InventoryItem) (model.InventoryItem, error) {
	if err := model.Validate(item); err != nil {
		return model.InventoryItem{}, err
	}
	var payload json.RawMessage
	if err := client.api.JSON(ctx, http.MethodPost, itemsPath, nil, item, &payload); err != nil {
		return model.InventoryItem{}, fmt.Errorf("inventory.create: %w", err)
	}
	created, err := decodeEnveloped[model.InventoryItem](payload, "item")
	if err != nil {
		return model.InventoryItem{}, err
	}
	client.logger.Debug("inventory item created", zap.Int64("item_id", created.ID))
	return created, nil
}

// UpdateItem applies a partial update.
func (client *Client) UpdateItem(ctx context.Context, id int64, update model.ItemUpdate) (model.InventoryItem, error) {
	if id <= 0 {
		return model.InventoryItem{}, ErrInvalidID
	}
	if update.Empty() {
		return model.InventoryItem{}, ErrEmptyUpdate
	}
	if err := model.Validate(update); err != nil {
		return model.InventoryItem{}, err
	}
	var payload json.RawMessage
	if err := client.api.JSON(ctx, http.MethodPut, itemPath(id), nil, update, &payload); err != nil {
		return model.InventoryItem{}, fmt.Errorf("inventory.update: %w", err)
	}
	return decodeEnveloped[model.InventoryItem](payload, "item")
}

// DeleteItem removes an item and returns the backend's confirmation message.
func (client *Client) DeleteItem(ctx context.Context, id int64) (string, error) {
	if id <= 0 {
		return "", ErrInvalidID
	}
	var response model.MessageResponse
	if err := client.api.JSON(ctx, http.MethodDelete, itemPath(id), nil, nil, &response); err != nil {
		return "", fmt.Errorf("inventory.delete: %w", err)
	}
	return response.Message, nil
}

// BulkDelete removes several items in one call and returns the deleted count.
func (client *Client) BulkDelete(ctx context.Context, ids []int64) (int, error) {
	request := model.BulkDeleteRequest{ItemIDs: ids}
	if err := model.Validate(request); err != nil {
		return 0, err
	}
	var response model.BulkDeleteResponse
	if err := client.api.JSON(ctx, http.MethodPost, bulkDeletePath, nil, request, &response); err != nil {
		return 0, fmt.Errorf("inventory.bulk_delete: %w", err)
	}
	return response.Deleted, nil
}

// StartScrape queues a scraping job.
func (client *Client) StartScrape(ctx context.Context, request model.ScrapeRequest) (model.ScrapeResponse, error) {
	if err := model.Validate(request); err != nil {
		return model.ScrapeResponse{}, err
	}
	var response model.ScrapeResponse
	if err := client.api.JSON(ctx, http.MethodPost, scrapePath, nil, request, &response); err != nil {
		return model.ScrapeResponse{}, fmt.Errorf("inventory.scrape: %w", err)
	}
	return response, nil
}

// ListJobs returns one page of scraping jobs, optionally filtered by status.
func (client *Client) ListJobs(ctx context.Context, page int, perPage int, status string) (model.ScrapingJobList, error) {
	if status != "" && !slices.Contains(model.JobStatuses, status) {
		return model.ScrapingJobList{}, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	query := pageQuery(page, perPage)
	setIfPresent(query, "status", status)
	var list model.ScrapingJobList
	if err := client.api.JSON(ctx, http.MethodGet, jobsPath, query, nil, &list); err != nil {
		return model.ScrapingJobList{}, fmt.Errorf("inventory.jobs: %w", err)
	}
	return list, nil
}

// GetJob fetches a job together with the items it produced.
func (client *Client) GetJob(ctx context.Context, id int64) (model.ScrapingJobWithItems, error) {
	if id <= 0 {
		return model.ScrapingJobWithItems{}, ErrInvalidID
	}
	var payload json.RawMessage
	if err := client.api.JSON(ctx, http.MethodGet, jobsPath+"/"+strconv.FormatInt(id, 10), nil, nil, &payload); err != nil {
		return model.ScrapingJobWithItems{}, fmt.Errorf("inventory.job: %w", err)
	}
	return decodeEnveloped[model.ScrapingJobWithItems](payload, "job")
}

// Statistics returns the dashboard summary.
func (client *Client) Statistics(ctx context.Context) (model.Statistics, error) {
	var statistics model.Statistics
	if err := client.api.JSON(ctx, http.MethodGet, statsPath, nil, nil, &statistics); err != nil {
		return model.Statistics{}, fmt.Errorf("inventory.stats: %w", err)
	}
	return statistics, nil
}

// NormalizePage clamps page and perPage to the accepted ranges.
func NormalizePage(page int, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage <= 0 {
		perPage = model.DefaultPageSize
	}
	if perPage > model.MaxPageSize {
		perPage = model.MaxPageSize
	}
	return page, perPage
}

func pageQuery(page int, perPage int) url.Values {
	page, perPage = NormalizePage(page, perPage)
	return url.Values{
		"page":     {strconv.Itoa(page)},
		"per_page": {strconv.Itoa(perPage)},
	}
}

func setIfPresent(query url.Values, key string, value string) {
	if value != "" {
		query.Set(key, value)
	}
}

func itemPath(id int64) string {
	return itemsPath + "/" + strconv.FormatInt(id, 10)
}

// decodeEnveloped accepts both a bare object and one wrapped under key.
func decodeEnveloped[T any](payload []byte, key string) (T, error) {
	var zero T
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return zero, fmt.Errorf("%w: %v", apiclient.ErrMalformedResponse, err)
	}
	body := json.RawMessage(payload)
	if wrapped, found := envelope[key]; found {
		body = wrapped
	}
	var value T
	if err := json.Unmarshal(body, &value); err != nil {
		return zero, fmt.Errorf("%w: %v", apiclient.ErrMalformedResponse, err)
	}
	return value, nil
}
