package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/tyemirov/stockpilot/internal/model"
)

func printJSON(writer io.Writer, value any) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func newTable(writer io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(writer)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	table.SetAutoFormatHeaders(true)
	return table
}

func renderItems(writer io.Writer, list model.InventoryList) {
	table := newTable(writer, []string{"ID", "Title", "Price", "Qty", "Merchant", "Condition", "In stock"})
	for _, item := range list.Items {
		table.Append([]string{
			strconv.FormatInt(item.ID, 10),
			item.Title,
			fmt.Sprintf("%.2f %s", item.Price, item.Currency),
			strconv.Itoa(item.Quantity),
			item.Merchant,
			item.Condition,
			strconv.FormatBool(item.InStock),
		})
	}
	table.Render()
	renderPagination(writer, list.Pagination, "items")
}

func renderJobs(writer io.Writer, list model.ScrapingJobList) {
	table := newTable(writer, []string{"ID", "Merchant", "Status", "Items", "Created", "URL"})
	for _, job := range list.Jobs {
		table.Append([]string{
			strconv.FormatInt(job.ID, 10),
			job.Merchant,
			job.Status,
			strconv.Itoa(job.ItemsScraped),
			job.CreatedAt.Local().Format(time.DateTime),
			job.URL,
		})
	}
	table.Render()
	renderPagination(writer, list.Pagination, "jobs")
}

func renderPagination(writer io.Writer, pagination model.Pagination, noun string) {
	fmt.Fprintf(writer, "page %d of %d (%d %s)\n", pagination.Page, max(pagination.TotalPages, 1), pagination.TotalItems, noun)
}

func renderStatistics(writer io.Writer, statistics model.Statistics) {
	inventory := statistics.Inventory
	summary := newTable(writer, []string{"Metric", "Value"})
	summary.AppendBulk([][]string{
		{"Total items", strconv.Itoa(inventory.TotalItems)},
		{"In stock", strconv.Itoa(inventory.ItemsInStock)},
		{"Out of stock", strconv.Itoa(inventory.ItemsOutOfStock)},
		{"Total value", fmt.Sprintf("%.2f", inventory.TotalValue)},
		{"Added last 7 days", strconv.Itoa(inventory.ItemsLastWeek)},
		{"Added last 30 days", strconv.Itoa(inventory.ItemsLastMonth)},
		{"Scraping jobs", strconv.Itoa(statistics.ScrapingJobs.TotalJobs)},
		{"Pending jobs", strconv.Itoa(statistics.ScrapingJobs.PendingJobs)},
	})
	summary.Render()

	if len(statistics.Merchants) > 0 {
		merchants := newTable(writer, []string{"Merchant", "Items"})
		for _, merchant := range statistics.Merchants {
			merchants.Append([]string{merchant.Merchant, strconv.Itoa(merchant.Count)})
		}
		merchants.Render()
	}
}
