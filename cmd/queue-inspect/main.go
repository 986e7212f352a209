package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/pos_device/config"
	"bitbucket.org/mmdatafocus/pos_device/models"
	"bitbucket.org/mmdatafocus/pos_device/utils"
)

func main() {
	shopID := flag.String("shop-id", "", "Shop id to inspect. Defaults to DEVICE_SHOP_ID.")
	entityType := flag.String("entity-type", "", "Optional: restrict to one entity type (product, expense, cash_entry, customer).")
	showDead := flag.Bool("dead", false, "Show dead entries instead of pending ones.")
	asJSON := flag.Bool("json", false, "Print entries as JSON instead of a table.")
	flag.Parse()

	shop := strings.TrimSpace(*shopID)
	if shop == "" {
		shop = strings.TrimSpace(os.Getenv("DEVICE_SHOP_ID"))
	}
	if shop == "" {
		shop = "shop-local"
	}

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}
	models.MigrateTable()
	config.ConnectRedisIfConfigured()

	// The running daemon mirrors its pending count into redis; surface it so a
	// mismatch against the store is visible at a glance.
	if hint, found, err := config.GetRedisValue("possync:pending:" + shop); err == nil && found {
		fmt.Printf("daemon pending hint: %s\n", hint)
	}

	var entries []models.QueueEntry
	var err error
	if *showDead {
		entries, err = models.ListDeadQueueEntries(ctx, shop)
	} else {
		var filter *models.EntityType
		if trimmed := strings.TrimSpace(*entityType); trimmed != "" {
			et := models.EntityType(trimmed)
			filter = &et
		}
		entries, err = models.ListPendingQueueEntries(ctx, filter)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to list queue entries: %v\n", err)
		os.Exit(1)
	}

	if len(entries) == 0 {
		fmt.Println("queue is empty")
		return
	}

	if *asJSON {
		encoded, err := utils.MarshalToJSON(entries)
		if err != nil {
			fmt.Fprintf(os.Stderr, "encode entries: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(encoded)
		return
	}

	fmt.Printf("%-6s %-10s %-38s %-7s %-9s %-21s %s\n",
		"ID", "TYPE", "ENTITY", "ACTION", "ATTEMPTS", "NEXT ATTEMPT", "LAST ERROR")
	for _, entry := range entries {
		nextAttempt := "-"
		if entry.NextAttemptAt != nil {
			nextAttempt = entry.NextAttemptAt.Format(time.RFC3339)
		}
		lastError := "-"
		if entry.LastError != nil {
			lastError = *entry.LastError
		}
		fmt.Printf("%-6d %-10s %-38s %-7s %-9d %-21s %s\n",
			entry.ID, entry.EntityType, entry.TargetEntityId, entry.Action,
			entry.Attempts, nextAttempt, lastError)
	}
	fmt.Printf("\n%d entries\n", len(entries))
}
