package models_test

import (
	"errors"
	"testing"

	"bitbucket.org/mmdatafocus/pos_device/models"
)

var errTest = errors.New("connection reset by peer")

func TestSubscribeEntityChangesFiresOnCreate(t *testing.T) {
	setupStore(t)
	ctx := testCtx()

	var received []models.EntityChange
	unsubscribe := models.SubscribeEntityChanges(
		func(change models.EntityChange) bool { return change.EntityType == models.EntityTypeProduct },
		func(change models.EntityChange) { received = append(received, change) },
	)
	defer unsubscribe()

	product, err := models.CreateProduct(ctx, &models.NewProduct{Name: "Observed"})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}
	// Filtered out by the predicate.
	if _, err := models.CreateCustomer(ctx, &models.NewCustomer{Name: "Unobserved"}); err != nil {
		t.Fatalf("CreateCustomer: %v", err)
	}

	if len(received) != 1 {
		t.Fatalf("received = %d changes, want 1", len(received))
	}
	change := received[0]
	if change.EntityId != product.ID || change.Status != models.SyncStatusNew || change.Action != models.SyncActionCreate {
		t.Fatalf("change = %+v, want new/create for the product", change)
	}
	if change.At.IsZero() {
		t.Fatal("change timestamp not stamped")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	setupStore(t)
	ctx := testCtx()

	var count int
	unsubscribe := models.SubscribeEntityChanges(nil, func(models.EntityChange) { count++ })
	if _, err := models.CreateProduct(ctx, &models.NewProduct{Name: "First"}); err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}
	unsubscribe()
	if _, err := models.CreateProduct(ctx, &models.NewProduct{Name: "Second"}); err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}

	if count != 1 {
		t.Fatalf("handler ran %d times, want 1", count)
	}
}
