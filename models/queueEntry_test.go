package models_test

import (
	"errors"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/pos_device/config"
	"bitbucket.org/mmdatafocus/pos_device/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

func enqueueRaw(t *testing.T, entityType models.EntityType, entityId string, action models.SyncAction) models.QueueEntry {
	t.Helper()
	var entryId int
	err := config.GetDB().Transaction(func(tx *gorm.DB) error {
		var err error
		entryId, err = models.EnqueueMutation(tx, testShopId, entityType, action, entityId, []byte(`{}`), 0, false)
		return err
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	var entry models.QueueEntry
	if err := config.GetDB().Take(&entry, entryId).Error; err != nil {
		t.Fatalf("load entry: %v", err)
	}
	return entry
}

func TestEnqueueMutationAssignsDistinctIdempotencyKeys(t *testing.T) {
	setupStore(t)
	entityId := uuid.NewString()

	first := enqueueRaw(t, models.EntityTypeCashEntry, entityId, models.SyncActionCreate)
	second := enqueueRaw(t, models.EntityTypeCashEntry, entityId, models.SyncActionUpdate)

	if first.IdempotencyKey == "" || second.IdempotencyKey == "" {
		t.Fatal("idempotency keys missing")
	}
	if first.IdempotencyKey == second.IdempotencyKey {
		t.Fatal("idempotency keys must differ per entry")
	}
	if first.ID >= second.ID {
		t.Fatal("enqueue order not reflected in ids")
	}
}

func TestCancelQueuedMutationsReportsUnsentCreate(t *testing.T) {
	setupStore(t)
	entityId := uuid.NewString()
	enqueueRaw(t, models.EntityTypeCustomer, entityId, models.SyncActionCreate)
	enqueueRaw(t, models.EntityTypeCustomer, entityId, models.SyncActionUpdate)

	err := config.GetDB().Transaction(func(tx *gorm.DB) error {
		removed, hadPendingCreate, err := models.CancelQueuedMutations(tx, models.EntityTypeCustomer, entityId)
		if err != nil {
			return err
		}
		if removed != 2 {
			t.Fatalf("removed = %d, want 2", removed)
		}
		if !hadPendingCreate {
			t.Fatal("pending create not reported")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if entries := entriesFor(t, models.EntityTypeCustomer, entityId); len(entries) != 0 {
		t.Fatalf("entries = %d, want 0", len(entries))
	}
}

func TestPendingGaugeFollowsCommittedStateOnly(t *testing.T) {
	setupStore(t)
	ctx := testCtx()

	if _, err := models.CreateProduct(ctx, &models.NewProduct{Name: "Gauge"}); err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}
	want, err := models.PendingQueueCount(ctx, testShopId)
	if err != nil {
		t.Fatalf("pending count: %v", err)
	}
	if got := models.PendingGauge(); got != want {
		t.Fatalf("gauge = %d, want %d after commit", got, want)
	}

	// A rolled-back enqueue must leave the gauge untouched.
	rollback := errors.New("rollback")
	err = config.GetDB().Transaction(func(tx *gorm.DB) error {
		if _, err := models.EnqueueMutation(tx, testShopId, models.EntityTypeProduct, models.SyncActionUpdate, uuid.NewString(), []byte(`{}`), 0, false); err != nil {
			return err
		}
		return rollback
	})
	if !errors.Is(err, rollback) {
		t.Fatalf("transaction err = %v, want the forced rollback", err)
	}
	if got := models.PendingGauge(); got != want {
		t.Fatalf("gauge = %d, want %d after rollback", got, want)
	}
}

func TestDeadEntriesAreKeptAndCountedSeparately(t *testing.T) {
	setupStore(t)
	entityId := uuid.NewString()
	entry := enqueueRaw(t, models.EntityTypeExpense, entityId, models.SyncActionUpdate)

	pendingBefore, err := models.PendingQueueCount(testCtx(), testShopId)
	if err != nil {
		t.Fatalf("pending count: %v", err)
	}

	if err := models.MarkQueueEntryDead(config.GetDB(), entry, 3, errors.New("validation failed")); err != nil {
		t.Fatalf("MarkQueueEntryDead: %v", err)
	}

	pendingAfter, err := models.PendingQueueCount(testCtx(), testShopId)
	if err != nil {
		t.Fatalf("pending count: %v", err)
	}
	if pendingAfter != pendingBefore-1 {
		t.Fatalf("pending = %d, want %d", pendingAfter, pendingBefore-1)
	}

	dead, err := models.ListDeadQueueEntries(testCtx(), testShopId)
	if err != nil {
		t.Fatalf("ListDeadQueueEntries: %v", err)
	}
	var found bool
	for _, d := range dead {
		if d.ID == entry.ID {
			found = true
			if d.LastError == nil || *d.LastError != "validation failed" {
				t.Fatal("last error not recorded on dead entry")
			}
		}
	}
	if !found {
		t.Fatal("dead entry not listed")
	}

	pendingType := models.EntityTypeExpense
	pending, err := models.ListPendingQueueEntries(testCtx(), &pendingType)
	if err != nil {
		t.Fatalf("ListPendingQueueEntries: %v", err)
	}
	for _, p := range pending {
		if p.ID == entry.ID {
			t.Fatal("dead entry leaked into pending listing")
		}
	}
}

func TestMarkQueueEntryFailedSchedulesRetry(t *testing.T) {
	setupStore(t)
	entityId := uuid.NewString()
	entry := enqueueRaw(t, models.EntityTypeProduct, entityId, models.SyncActionUpdate)

	next := time.Now().UTC().Add(30 * time.Second)
	if err := models.MarkQueueEntryFailed(config.GetDB(), entry.ID, 2, &next, errors.New("dial tcp: timeout")); err != nil {
		t.Fatalf("MarkQueueEntryFailed: %v", err)
	}

	var reloaded models.QueueEntry
	if err := config.GetDB().Take(&reloaded, entry.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", reloaded.Attempts)
	}
	if reloaded.NextAttemptAt == nil || !reloaded.NextAttemptAt.After(time.Now().UTC().Add(10*time.Second)) {
		t.Fatal("backoff window not recorded")
	}
	if reloaded.Dead {
		t.Fatal("transient failure must not kill the entry")
	}
	if reloaded.LockedAt != nil || reloaded.LockedBy != nil {
		t.Fatal("lock not released on failure")
	}
}
