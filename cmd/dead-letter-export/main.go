package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"bitbucket.org/mmdatafocus/pos_device/config"
	"bitbucket.org/mmdatafocus/pos_device/models"
	"bitbucket.org/mmdatafocus/pos_device/syncengine"
)

func main() {
	shopID := flag.String("shop-id", "", "Shop id to export. Defaults to DEVICE_SHOP_ID.")
	out := flag.String("out", "", "Output xlsx path. Defaults to dead_letters_<shop>_<timestamp>.xlsx in the working directory.")
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

	count, err := models.DeadQueueCount(ctx, shop)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to count dead entries: %v\n", err)
		os.Exit(1)
	}
	if count == 0 {
		fmt.Printf("no dead entries for shop %s; nothing to export\n", shop)
		return
	}

	path, err := syncengine.ExportDeadLetters(ctx, shop, strings.TrimSpace(*out))
	if err != nil {
		fmt.Fprintf(os.Stderr, "export failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("exported %d dead entries to %s\n", count, path)
}
