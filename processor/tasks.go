package processor

import (
	"context"
	"database/sql"

	"github.com/inkvault/inkvault/cmn/errs"
	"github.com/inkvault/inkvault/db"
)

// Task status values, per spec.md §3 SystemTask.
const (
	StatusPending    = "PENDING"
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
)

// Task type names. PageHashing is the global hashing module; the three
// per-page stages run in this fixed order (spec.md §4.7).
const (
	TaskPageHashing   = "PAGE_HASHING"
	TaskPNGConversion = "PNG_CONVERSION"
	TaskOCR           = "OCR"
	TaskEmbedding     = "EMBEDDING"
	TaskSummary       = "SUMMARY"
)

// GlobalKey is the SystemTask.key convention for file-level (non-page)
// modules.
const GlobalKey = "global"

// PageKey is the SystemTask.key convention for a page-scoped module.
func PageKey(pageID string) string { return "page_" + pageID }

func isValidTaskType(taskType string) bool {
	switch taskType {
	case TaskPageHashing, TaskPNGConversion, TaskOCR, TaskEmbedding, TaskSummary:
		return true
	default:
		return false
	}
}

func taskStatus(ctx context.Context, d *db.DB, fileID int64, taskType, key string) (status string, found bool, err error) {
	err = d.QueryRowContext(ctx,
		"SELECT status FROM system_tasks WHERE file_id = ? AND task_type = ? AND key = ?", fileID, taskType, key).
		Scan(&status)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, errs.Internalf(err, "processor: load task status")
	}
	return status, true, nil
}

func upsertTaskStatus(ctx context.Context, d *db.DB, fileID int64, taskType, key, status, lastErr string, bumpRetry bool) error {
	now := db.NowMS()
	retryDelta := 0
	if bumpRetry {
		retryDelta = 1
	}
	_, err := d.ExecContext(ctx,
		`INSERT INTO system_tasks (file_id, task_type, key, status, retry_count, last_error, update_time)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(file_id, task_type, key) DO UPDATE SET
		   status = excluded.status,
		   retry_count = retry_count + ?,
		   last_error = excluded.last_error,
		   update_time = excluded.update_time`,
		fileID, taskType, key, status, retryDelta, nullableString(lastErr), now, retryDelta)
	if err != nil {
		return errs.Internalf(err, "processor: upsert task status")
	}
	return nil
}

func deleteTask(ctx context.Context, d *db.DB, fileID int64, taskType, key string) error {
	_, err := d.ExecContext(ctx, "DELETE FROM system_tasks WHERE file_id = ? AND task_type = ? AND key = ?", fileID, taskType, key)
	return err
}

func deleteTasksForPage(ctx context.Context, d *db.DB, fileID int64, pageID string) error {
	_, err := d.ExecContext(ctx, "DELETE FROM system_tasks WHERE file_id = ? AND key = ?", fileID, PageKey(pageID))
	return err
}

func deleteAllTasksForFile(ctx context.Context, d *db.DB, fileID int64) error {
	_, err := d.ExecContext(ctx, "DELETE FROM system_tasks WHERE file_id = ?", fileID)
	return err
}

// fileOwner looks up the owning user_id for a file node directly, bypassing
// VFS ownership checks: recovery and event handling run with trusted
// internal file_ids, not attacker-controlled request paths.
func fileOwner(ctx context.Context, d *db.DB, fileID int64) (userID int64, storageKey string, found bool, err error) {
	var sk sql.NullString
	err = d.QueryRowContext(ctx,
		"SELECT user_id, storage_key FROM user_file_nodes WHERE id = ? AND is_active = 'Y'", fileID).
		Scan(&userID, &sk)
	if err == sql.ErrNoRows {
		return 0, "", false, nil
	}
	if err != nil {
		return 0, "", false, errs.Internalf(err, "processor: load file owner")
	}
	return userID, sk.String, true, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nonCompletedFileIDs returns the deduplicated set of file_ids with any
// SystemTask row not in COMPLETED status, for startup recovery (spec.md
// §4.7 "Recovery").
func nonCompletedFileIDs(ctx context.Context, d *db.DB) ([]int64, error) {
	rows, err := d.QueryContext(ctx, "SELECT DISTINCT file_id FROM system_tasks WHERE status != ?", StatusCompleted)
	if err != nil {
		return nil, errs.Internalf(err, "processor: scan incomplete tasks")
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
