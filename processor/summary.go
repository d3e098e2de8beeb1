package processor

import (
	"context"

	"github.com/google/uuid"

	"github.com/inkvault/inkvault/cmn/errs"
	"github.com/inkvault/inkvault/db"
)

// summaryNamespace seeds the deterministic UUIDs minted for a file's
// SUMMARY and TRANSCRIPT entities: both are derived from the file's
// storage_key so re-running the summary module for the same file always
// upserts the same two rows instead of accumulating duplicates.
var summaryNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

const (
	summaryKindSummary    = "SUMMARY"
	summaryKindTranscript = "TRANSCRIPT"
)

func summaryID(storageKey, kind string) string {
	return uuid.NewSHA1(summaryNamespace, []byte(storageKey+":"+kind)).String()
}

func upsertSummary(ctx context.Context, d *db.DB, userID, fileID int64, storageKey, kind, content string) error {
	id := summaryID(storageKey, kind)
	_, err := d.ExecContext(ctx,
		`INSERT INTO summaries (id, user_id, file_id, kind, content, create_time)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET content = excluded.content, create_time = excluded.create_time`,
		id, userID, fileID, kind, content, db.NowMS())
	if err != nil {
		return errs.Internalf(err, "processor: upsert summary")
	}
	return nil
}

func deleteSummariesForFile(ctx context.Context, d *db.DB, fileID int64) error {
	_, err := d.ExecContext(ctx, "DELETE FROM summary_tags WHERE summary_id IN (SELECT id FROM summaries WHERE file_id = ?)", fileID)
	if err != nil {
		return err
	}
	_, err = d.ExecContext(ctx, "DELETE FROM summaries WHERE file_id = ?", fileID)
	return err
}
