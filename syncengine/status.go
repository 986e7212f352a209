package syncengine

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/pos_device/models"
)

// StatusReport is the sync surface the POS UI polls to render its indicator.
// Counts come from the store, not the in-memory gauge, so the report is
// truthful right after a restart.
type StatusReport struct {
	Online       bool       `json:"online"`
	Syncing      bool       `json:"syncing"`
	PendingCount int64      `json:"pending_count"`
	DeadCount    int64      `json:"dead_count"`
	LastSyncAt   *time.Time `json:"last_sync_at"`
	LastError    *string    `json:"last_error"`
	PausedUntil  *time.Time `json:"paused_until"`
	PauseReason  *string    `json:"pause_reason"`
}

func (e *DrainEngine) StatusReport(ctx context.Context) (*StatusReport, error) {
	report := &StatusReport{
		Online:  e.connectivity.Online(),
		Syncing: e.Syncing(),
	}

	pending, err := models.PendingQueueCount(ctx, e.shopId)
	if err != nil {
		return nil, err
	}
	report.PendingCount = pending

	dead, err := models.DeadQueueCount(ctx, e.shopId)
	if err != nil {
		return nil, err
	}
	report.DeadCount = dead

	runState, err := models.GetSyncRunState(ctx, e.shopId)
	if err != nil {
		return nil, err
	}
	if runState != nil {
		report.LastSyncAt = runState.LastSyncAt
		report.LastError = runState.LastError
	}

	pause, err := models.GetPause(ctx, e.shopId)
	if err != nil {
		return nil, err
	}
	if pause != nil {
		until := pause.Until
		reason := pause.Reason
		report.PausedUntil = &until
		report.PauseReason = &reason
	}
	return report, nil
}
