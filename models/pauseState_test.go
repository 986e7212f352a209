package models_test

import (
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/pos_device/models"
)

func TestPauseLifecycle(t *testing.T) {
	setupStore(t)
	ctx := testCtx()
	shop := "shop-pause-lifecycle"

	if err := models.SetPause(ctx, shop, "authentication failure", time.Minute); err != nil {
		t.Fatalf("SetPause: %v", err)
	}
	pause, err := models.GetPause(ctx, shop)
	if err != nil {
		t.Fatalf("GetPause: %v", err)
	}
	if pause == nil || pause.Reason != "authentication failure" {
		t.Fatalf("pause = %+v, want active with reason", pause)
	}

	// A second SetPause overwrites, it does not stack rows.
	if err := models.SetPause(ctx, shop, "operator request", time.Hour); err != nil {
		t.Fatalf("SetPause overwrite: %v", err)
	}
	pause, err = models.GetPause(ctx, shop)
	if err != nil {
		t.Fatalf("GetPause: %v", err)
	}
	if pause == nil || pause.Reason != "operator request" {
		t.Fatalf("pause = %+v, want overwritten reason", pause)
	}

	if err := models.ClearPause(ctx, shop); err != nil {
		t.Fatalf("ClearPause: %v", err)
	}
	pause, err = models.GetPause(ctx, shop)
	if err != nil {
		t.Fatalf("GetPause: %v", err)
	}
	if pause != nil {
		t.Fatal("pause still active after clear")
	}
}

func TestPauseExpiresOnRead(t *testing.T) {
	setupStore(t)
	ctx := testCtx()
	shop := "shop-pause-expiry"

	if err := models.SetPause(ctx, shop, "repeated sync failures", 10*time.Millisecond); err != nil {
		t.Fatalf("SetPause: %v", err)
	}
	time.Sleep(30 * time.Millisecond)

	pause, err := models.GetPause(ctx, shop)
	if err != nil {
		t.Fatalf("GetPause: %v", err)
	}
	if pause != nil {
		t.Fatal("expired pause still reported as active")
	}
}

func TestSyncRunStateUpsert(t *testing.T) {
	setupStore(t)
	ctx := testCtx()
	shop := "shop-run-state"

	state, err := models.GetSyncRunState(ctx, shop)
	if err != nil {
		t.Fatalf("GetSyncRunState: %v", err)
	}
	if state != nil {
		t.Fatal("expected no run state before first drain")
	}

	now := time.Now().UTC()
	if err := models.TouchSyncRunState(ctx, shop, &now, nil); err != nil {
		t.Fatalf("TouchSyncRunState: %v", err)
	}
	state, err = models.GetSyncRunState(ctx, shop)
	if err != nil {
		t.Fatalf("GetSyncRunState: %v", err)
	}
	if state == nil || state.LastSyncAt == nil || state.LastError != nil {
		t.Fatalf("state = %+v, want last sync with no error", state)
	}

	// A failed cycle records the error but keeps the last successful stamp.
	if err := models.TouchSyncRunState(ctx, shop, nil, errTest); err != nil {
		t.Fatalf("TouchSyncRunState failure: %v", err)
	}
	state, err = models.GetSyncRunState(ctx, shop)
	if err != nil {
		t.Fatalf("GetSyncRunState: %v", err)
	}
	if state.LastSyncAt == nil {
		t.Fatal("last sync stamp lost on failed cycle")
	}
	if state.LastError == nil || *state.LastError != errTest.Error() {
		t.Fatalf("last error = %v, want %q", state.LastError, errTest)
	}
}
