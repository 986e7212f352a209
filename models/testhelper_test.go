package models_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/pos_device/config"
	"bitbucket.org/mmdatafocus/pos_device/models"
	"bitbucket.org/mmdatafocus/pos_device/utils"
)

const testShopId = "shop-test"

var setupOnce sync.Once

// setupStore opens a throwaway sqlite file for the whole test binary. sqlite
// needs no docker, so these tests always run.
func setupStore(t *testing.T) {
	t.Helper()
	setupOnce.Do(func() {
		dir, err := os.MkdirTemp("", "posdevice-models-test-")
		if err != nil {
			panic(err)
		}
		os.Setenv("POS_DB_PATH", filepath.Join(dir, "pos_test.db"))
		config.ConnectDatabaseWithRetry()
		models.MigrateTable()
	})
}

func mustTime(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse("2006-01-02", value)
	if err != nil {
		t.Fatalf("parse time %q: %v", value, err)
	}
	return parsed
}

func testCtx() context.Context {
	ctx := context.Background()
	ctx = utils.SetShopIdInContext(ctx, testShopId)
	ctx = utils.SetDeviceIdInContext(ctx, "device-test")
	return ctx
}
