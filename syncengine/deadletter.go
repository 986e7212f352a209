package syncengine

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/pos_device/models"
	"github.com/xuri/excelize/v2"
)

// BuildDeadLetterWorkbook renders the dead letter queue as a spreadsheet for
// offline inspection. Dead entries are never auto-deleted, so this is the
// operator's audit trail of what the server refused and why.
func BuildDeadLetterWorkbook(ctx context.Context, shopId string) (*excelize.File, error) {
	entries, err := models.ListDeadQueueEntries(ctx, shopId)
	if err != nil {
		return nil, err
	}

	file := excelize.NewFile()
	sheet := "DeadLetters"
	file.SetSheetName(file.GetSheetName(0), sheet)

	headers := []string{
		"Entry ID", "Entity Type", "Entity ID", "Action",
		"Attempts", "Last Error", "Idempotency Key", "Queued At", "Payload",
	}
	for col, header := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, err
		}
		if err := file.SetCellValue(sheet, cell, header); err != nil {
			return nil, err
		}
	}

	for row, entry := range entries {
		lastError := ""
		if entry.LastError != nil {
			lastError = *entry.LastError
		}
		values := []interface{}{
			entry.ID,
			string(entry.EntityType),
			entry.TargetEntityId,
			string(entry.Action),
			entry.Attempts,
			lastError,
			entry.IdempotencyKey,
			entry.CreatedAt.Format(time.RFC3339),
			string(entry.Payload),
		}
		for col, value := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row+2)
			if err != nil {
				return nil, err
			}
			if err := file.SetCellValue(sheet, cell, value); err != nil {
				return nil, err
			}
		}
	}
	return file, nil
}

// ExportDeadLetters writes the workbook to disk and returns the path.
func ExportDeadLetters(ctx context.Context, shopId string, path string) (string, error) {
	if path == "" {
		path = fmt.Sprintf("dead_letters_%s_%s.xlsx", shopId, time.Now().Format("20060102_150405"))
	}
	file, err := BuildDeadLetterWorkbook(ctx, shopId)
	if err != nil {
		return "", err
	}
	if err := file.SaveAs(path); err != nil {
		return "", err
	}
	return path, nil
}
