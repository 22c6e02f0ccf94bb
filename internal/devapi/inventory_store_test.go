package devapi

import (
	"errors"
	"testing"
	"time"

	"github.com/tyemirov/stockpilot/internal/model"
)

func seedInventory(store *InventoryStore, clock *ManualClock) {
	store.CreateItem(1, model.InventoryItem{Title: "Vintage Jacket", Brand: "Levi's", Price: 40, Quantity: 2, Merchant: "Depop", Condition: "used", Category: "Outerwear", InStock: true})
	clock.Advance(time.Hour)
	store.CreateItem(1, model.InventoryItem{Title: "Camera", Description: "35mm film body", Price: 120, Quantity: 1, Merchant: "Mercari", Condition: "like new", InStock: false})
	clock.Advance(time.Hour)
	store.CreateItem(1, model.InventoryItem{Title: "Denim skirt", Brand: "Levi's", Price: 15, Quantity: 3, Merchant: "Depop", InStock: true})
	store.CreateItem(2, model.InventoryItem{Title: "Someone else's", Price: 1, Merchant: "Depop"})
}

func itemTitles(items []model.InventoryItem) []string {
	titles := make([]string, 0, len(items))
	for _, item := range items {
		titles = append(titles, item.Title)
	}
	return titles
}

func TestInventoryStoreListFiltersAndSorts(t *testing.T) {
	clock := NewManualClock(testEpoch)
	store := NewInventoryStore(clock)
	seedInventory(store, clock)

	newestFirst := store.ListItems(1, itemQuery{Page: 1, PerPage: 20})
	if got := itemTitles(newestFirst.Items); len(got) != 3 || got[0] != "Denim skirt" || got[2] != "Vintage Jacket" {
		t.Fatalf("unexpected default order %v", got)
	}

	inStock := true
	filtered := store.ListItems(1, itemQuery{Page: 1, PerPage: 20, Filters: model.InventoryFilters{Merchant: "Depop", InStock: &inStock, SortBy: "price", SortOrder: "asc"}})
	if got := itemTitles(filtered.Items); len(got) != 2 || got[0] != "Denim skirt" || got[1] != "Vintage Jacket" {
		t.Fatalf("unexpected filtered order %v", got)
	}

	searched := store.ListItems(1, itemQuery{Page: 1, PerPage: 20, Filters: model.InventoryFilters{Search: "LEVI"}})
	if searched.Pagination.TotalItems != 2 {
		t.Fatalf("expected brand search to match 2 items, got %d", searched.Pagination.TotalItems)
	}
	described := store.ListItems(1, itemQuery{Page: 1, PerPage: 20, Filters: model.InventoryFilters{Search: "film"}})
	if got := itemTitles(described.Items); len(got) != 1 || got[0] != "Camera" {
		t.Fatalf("expected description search to match camera, got %v", got)
	}
}

func TestInventoryStorePagination(t *testing.T) {
	clock := NewManualClock(testEpoch)
	store := NewInventoryStore(clock)
	seedInventory(store, clock)

	second := store.ListItems(1, itemQuery{Page: 2, PerPage: 2, Filters: model.InventoryFilters{SortBy: "title", SortOrder: "asc"}})
	want := model.Pagination{Page: 2, PerPage: 2, TotalItems: 3, TotalPages: 2, HasNext: false, HasPrev: true}
	if second.Pagination != want {
		t.Fatalf("unexpected pagination %+v", second.Pagination)
	}
	if got := itemTitles(second.Items); len(got) != 1 || got[0] != "Vintage Jacket" {
		t.Fatalf("unexpected page contents %v", got)
	}
	beyond := store.ListItems(1, itemQuery{Page: 5, PerPage: 2})
	if len(beyond.Items) != 0 {
		t.Fatalf("expected empty page beyond range, got %d items", len(beyond.Items))
	}
}

func TestInventoryStoreOwnership(t *testing.T) {
	clock := NewManualClock(testEpoch)
	store := NewInventoryStore(clock)
	seedInventory(store, clock)

	if _, err := store.GetItem(1, 4); !errors.Is(err, ErrItemNotFound) {
		t.Fatalf("expected other user's item to be hidden, got %v", err)
	}
	if err := store.DeleteItem(1, 4); !errors.Is(err, ErrItemNotFound) {
		t.Fatalf("expected delete of other user's item to fail, got %v", err)
	}
	if deleted := store.BulkDelete(1, []int64{1, 4, 99}); deleted != 1 {
		t.Fatalf("expected 1 deletion, got %d", deleted)
	}
	if _, err := store.GetItem(2, 4); err != nil {
		t.Fatalf("owner should still see item: %v", err)
	}
}

func TestInventoryStoreUpdateAppliesOnlyProvidedFields(t *testing.T) {
	clock := NewManualClock(testEpoch)
	store := NewInventoryStore(clock)
	created := store.CreateItem(1, model.InventoryItem{Title: "Lamp", Price: 10, Quantity: 4, Merchant: "Generic", InStock: true})
	if created.Currency != "USD" {
		t.Fatalf("expected default currency, got %q", created.Currency)
	}

	clock.Advance(time.Minute)
	title := "Desk lamp"
	quantity := 0
	updated, err := store.UpdateItem(1, created.ID, model.ItemUpdate{Title: &title, Quantity: &quantity})
	if err != nil {
		t.Fatalf("update error: %v", err)
	}
	if updated.Title != "Desk lamp" || updated.Quantity != 0 || updated.Price != 10 || !updated.InStock {
		t.Fatalf("unexpected update result %+v", updated)
	}
	if !updated.UpdatedAt.Equal(testEpoch.Add(time.Minute)) || !updated.CreatedAt.Equal(testEpoch) {
		t.Fatalf("unexpected timestamps %+v", updated)
	}
}

func TestInventoryStoreJobsAndStatistics(t *testing.T) {
	clock := NewManualClock(testEpoch)
	store := NewInventoryStore(clock)
	seedInventory(store, clock)

	first := store.CreateJob(1, model.ScrapeRequest{URL: "https://depop.com/shop/a", Merchant: "Depop"})
	clock.Advance(time.Minute)
	second := store.CreateJob(1, model.ScrapeRequest{URL: "https://mercari.com/u/b", Merchant: "Mercari"})
	store.CreateJob(2, model.ScrapeRequest{URL: "https://depop.com/shop/c", Merchant: "Depop"})

	jobs := store.ListJobs(1, 1, 20, "")
	if len(jobs.Jobs) != 2 || jobs.Jobs[0].ID != second.ID || jobs.Jobs[1].ID != first.ID {
		t.Fatalf("expected newest job first, got %+v", jobs.Jobs)
	}
	if completed := store.ListJobs(1, 1, 20, "completed"); len(completed.Jobs) != 0 {
		t.Fatalf("expected no completed jobs, got %d", len(completed.Jobs))
	}
	detail, err := store.GetJob(1, first.ID)
	if err != nil || detail.Status != "pending" || len(detail.Items) != 0 {
		t.Fatalf("unexpected job detail %+v err=%v", detail, err)
	}
	if _, err := store.GetJob(2, first.ID); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected other user's job to be hidden, got %v", err)
	}

	clock.Advance(10 * 24 * time.Hour)
	statistics := store.Statistics(1)
	inventory := statistics.Inventory
	if inventory.TotalItems != 3 || inventory.ItemsInStock != 2 || inventory.ItemsOutOfStock != 1 {
		t.Fatalf("unexpected inventory counts %+v", inventory)
	}
	if inventory.TotalValue != 40*2+120+15*3 {
		t.Fatalf("unexpected total value %v", inventory.TotalValue)
	}
	if inventory.ItemsLastWeek != 0 || inventory.ItemsLastMonth != 3 {
		t.Fatalf("unexpected recency counts %+v", inventory)
	}
	if len(statistics.Merchants) != 2 || statistics.Merchants[0] != (model.MerchantCount{Merchant: "Depop", Count: 2}) {
		t.Fatalf("unexpected merchant breakdown %+v", statistics.Merchants)
	}
	if len(statistics.Categories) != 1 || len(statistics.Conditions) != 2 {
		t.Fatalf("unexpected breakdowns %+v %+v", statistics.Categories, statistics.Conditions)
	}
	if statistics.ScrapingJobs.TotalJobs != 2 || statistics.ScrapingJobs.PendingJobs != 2 || len(statistics.ScrapingJobs.RecentJobs) != 2 {
		t.Fatalf("unexpected job statistics %+v", statistics.ScrapingJobs)
	}
}
