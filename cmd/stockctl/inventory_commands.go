package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tyemirov/stockpilot/internal/model"
)

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}

func newInventoryCommand() *cobra.Command {
	inventoryCmd := &cobra.Command{
		Use:     "inventory",
		Aliases: []string{"items"},
		Short:   "Manage inventory items",
	}
	inventoryCmd.AddCommand(
		newInventoryListCommand(),
		newInventoryGetCommand(),
		newInventoryCreateCommand(),
		newInventoryUpdateCommand(),
		newInventoryDeleteCommand(),
		newInventoryBulkDeleteCommand(),
	)
	return inventoryCmd
}

func newInventoryListCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "list",
		Short: "List items with filters and pagination",
		Args:  cobra.NoArgs,
		RunE: runWithApplication(func(command *cobra.Command, arguments []string, app *application) error {
			flags := command.Flags()
			page, _ := flags.GetInt("page")
			perPage, _ := flags.GetInt("per-page")
			filters := model.InventoryFilters{}
			filters.Search, _ = flags.GetString("search")
			filters.Merchant, _ = flags.GetString("merchant")
			filters.Category, _ = flags.GetString("category")
			filters.Condition, _ = flags.GetString("condition")
			filters.SortBy, _ = flags.GetString("sort-by")
			filters.SortOrder, _ = flags.GetString("sort-order")
			if flags.Changed("in-stock") {
				inStock, _ := flags.GetBool("in-stock")
				filters.InStock = &inStock
			}
			list, err := app.inventory.ListItems(commandContext(command), page, perPage, filters)
			if err != nil {
				return err
			}
			renderItems(command.OutOrStdout(), list)
			return nil
		}),
	}
	command.Flags().Int("page", 1, "Page number")
	command.Flags().Int("per-page", model.DefaultPageSize, "Items per page (max 100)")
	command.Flags().String("search", "", "Search title, description and brand")
	command.Flags().String("merchant", "", "Filter by merchant")
	command.Flags().String("category", "", "Filter by category")
	command.Flags().String("condition", "", "Filter by condition")
	command.Flags().Bool("in-stock", false, "Filter by stock state (pass --in-stock=false for out of stock)")
	command.Flags().String("sort-by", "", "Sort field: created_at, price or title")
	command.Flags().String("sort-order", "", "Sort order: asc or desc")
	return command
}

func newInventoryGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one item",
		Args:  cobra.ExactArgs(1),
		RunE: runWithApplication(func(command *cobra.Command, arguments []string, app *application) error {
			id, err := parseID(arguments[0])
			if err != nil {
				return err
			}
			item, err := app.inventory.GetItem(commandContext(command), id)
			if err != nil {
				return err
			}
			return printJSON(command.OutOrStdout(), item)
		}),
	}
}

func newInventoryCreateCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "create",
		Short: "Create an item",
		Args:  cobra.NoArgs,
		RunE: runWithApplication(func(command *cobra.Command, arguments []string, app *application) error {
			flags := command.Flags()
			item := model.InventoryItem{}
			item.Title, _ = flags.GetString("title")
			item.Price, _ = flags.GetFloat64("price")
			item.Currency, _ = flags.GetString("currency")
			item.Quantity, _ = flags.GetInt("quantity")
			item.SKU, _ = flags.GetString("sku")
			item.Description, _ = flags.GetString("description")
			item.Category, _ = flags.GetString("category")
			item.Brand, _ = flags.GetString("brand")
			item.Condition, _ = flags.GetString("condition")
			item.Merchant, _ = flags.GetString("merchant")
			item.ProductURL, _ = flags.GetString("product-url")
			item.InStock, _ = flags.GetBool("in-stock")
			created, err := app.inventory.CreateItem(commandContext(command), item)
			if err != nil {
				return err
			}
			fmt.Fprintf(command.OutOrStdout(), "Created item %d: %s\n", created.ID, created.Title)
			return nil
		}),
	}
	command.Flags().String("title", "", "Item title")
	command.Flags().Float64("price", 0, "Price")
	command.Flags().String("currency", "USD", "ISO currency code")
	command.Flags().Int("quantity", 1, "Quantity")
	command.Flags().String("sku", "", "Stock keeping unit")
	command.Flags().String("description", "", "Description")
	command.Flags().String("category", "", "Category")
	command.Flags().String("brand", "", "Brand")
	command.Flags().String("condition", "", "Condition: new, like new, used, fair or poor")
	command.Flags().String("merchant", "Custom", "Merchant")
	command.Flags().String("product-url", "", "Listing URL")
	command.Flags().Bool("in-stock", true, "Whether the item is in stock")
	return command
}

func newInventoryUpdateCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "update <id>",
		Short: "Update the given fields of an item",
		Args:  cobra.ExactArgs(1),
		RunE: runWithApplication(func(command *cobra.Command, arguments []string, app *application) error {
			id, err := parseID(arguments[0])
			if err != nil {
				return err
			}
			flags := command.Flags()
			update := model.ItemUpdate{}
			if flags.Changed("title") {
				title, _ := flags.GetString("title")
				update.Title = &title
			}
			if flags.Changed("price") {
				price, _ := flags.GetFloat64("price")
				update.Price = &price
			}
			if flags.Changed("quantity") {
				quantity, _ := flags.GetInt("quantity")
				update.Quantity = &quantity
			}
			if flags.Changed("description") {
				description, _ := flags.GetString("description")
				update.Description = &description
			}
			if flags.Changed("category") {
				category, _ := flags.GetString("category")
				update.Category = &category
			}
			if flags.Changed("brand") {
				brand, _ := flags.GetString("brand")
				update.Brand = &brand
			}
			if flags.Changed("condition") {
				condition, _ := flags.GetString("condition")
				update.Condition = &condition
			}
			if flags.Changed("in-stock") {
				inStock, _ := flags.GetBool("in-stock")
				update.InStock = &inStock
			}
			updated, err := app.inventory.UpdateItem(commandContext(command), id, update)
			if err != nil {
				return err
			}
			fmt.Fprintf(command.OutOrStdout(), "Updated item %d: %s\n", updated.ID, updated.Title)
			return nil
		}),
	}
	command.Flags().String("title", "", "Item title")
	command.Flags().Float64("price", 0, "Price")
	command.Flags().Int("quantity", 0, "Quantity")
	command.Flags().String("description", "", "Description")
	command.Flags().String("category", "", "Category")
	command.Flags().String("brand", "", "Brand")
	command.Flags().String("condition", "", "Condition")
	command.Flags().Bool("in-stock", true, "Whether the item is in stock")
	return command
}

func newInventoryDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an item",
		Args:  cobra.ExactArgs(1),
		RunE: runWithApplication(func(command *cobra.Command, arguments []string, app *application) error {
			id, err := parseID(arguments[0])
			if err != nil {
				return err
			}
			message, err := app.inventory.DeleteItem(commandContext(command), id)
			if err != nil {
				return err
			}
			fmt.Fprintln(command.OutOrStdout(), message)
			return nil
		}),
	}
}

func newInventoryBulkDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "bulk-delete <id>...",
		Short: "Delete several items",
		Args:  cobra.MinimumNArgs(1),
		RunE: runWithApplication(func(command *cobra.Command, arguments []string, app *application) error {
			ids := make([]int64, 0, len(arguments))
			for _, argument := range arguments {
				id, err := parseID(argument)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}
			deleted, err := app.inventory.BulkDelete(commandContext(command), ids)
			if err != nil {
				return err
			}
			fmt.Fprintf(command.OutOrStdout(), "Deleted %d items\n", deleted)
			return nil
		}),
	}
}

func newScrapeCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "scrape <url>",
		Short: "Start a scraping job for a storefront URL",
		Args:  cobra.ExactArgs(1),
		RunE: runWithApplication(func(command *cobra.Command, arguments []string, app *application) error {
			merchant, _ := command.Flags().GetString("merchant")
			maxPages, _ := command.Flags().GetInt("max-pages")
			response, err := app.inventory.StartScrape(commandContext(command), model.ScrapeRequest{
				URL:      arguments[0],
				Merchant: merchant,
				MaxPages: maxPages,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(command.OutOrStdout(), "%s: job %d (%s)\n", response.Message, response.Job.ID, response.Job.Status)
			return nil
		}),
	}
	command.Flags().String("merchant", "Generic", "Merchant: Mercari, Depop, Generic or Custom")
	command.Flags().Int("max-pages", 1, "Pages to scrape (1-10)")
	return command
}

func newJobsCommand() *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect scraping jobs",
	}
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List scraping jobs",
		Args:  cobra.NoArgs,
		RunE: runWithApplication(func(command *cobra.Command, arguments []string, app *application) error {
			page, _ := command.Flags().GetInt("page")
			perPage, _ := command.Flags().GetInt("per-page")
			status, _ := command.Flags().GetString("status")
			list, err := app.inventory.ListJobs(commandContext(command), page, perPage, status)
			if err != nil {
				return err
			}
			renderJobs(command.OutOrStdout(), list)
			return nil
		}),
	}
	listCmd.Flags().Int("page", 1, "Page number")
	listCmd.Flags().Int("per-page", model.DefaultPageSize, "Jobs per page (max 100)")
	listCmd.Flags().String("status", "", "Filter by status: pending, running, completed or failed")

	getCmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show a job and the items it produced",
		Args:  cobra.ExactArgs(1),
		RunE: runWithApplication(func(command *cobra.Command, arguments []string, app *application) error {
			id, err := parseID(arguments[0])
			if err != nil {
				return err
			}
			job, err := app.inventory.GetJob(commandContext(command), id)
			if err != nil {
				return err
			}
			return printJSON(command.OutOrStdout(), job)
		}),
	}
	jobsCmd.AddCommand(listCmd, getCmd)
	return jobsCmd
}

func newStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show inventory and scraping statistics",
		Args:  cobra.NoArgs,
		RunE: runWithApplication(func(command *cobra.Command, arguments []string, app *application) error {
			statistics, err := app.inventory.Statistics(commandContext(command))
			if err != nil {
				return err
			}
			renderStatistics(command.OutOrStdout(), statistics)
			return nil
		}),
	}
}
