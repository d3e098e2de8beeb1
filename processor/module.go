package processor

import (
	"context"
	"fmt"

	"github.com/inkvault/inkvault/cmn"
	"github.com/inkvault/inkvault/cmn/errs"
	"github.com/inkvault/inkvault/db"
)

// pngCacheKey is the CACHE bucket key a rasterized page is stored under,
// shared by the PNG-conversion module (writer) and the OCR module (reader).
func pngCacheKey(fileID int64, pageID string) string {
	return fmt.Sprintf("%d/pages/%s.png", fileID, pageID)
}

// runStage wraps one module invocation in the status bookkeeping every
// stage shares (spec.md §4.7 "Module contract"): mark PROCESSING, run,
// mark COMPLETED or FAILED-with-retry-bump. A module failure is logged
// into system_tasks and reported back as ok=false rather than propagated,
// so one page's failure never aborts the rest of the file.
func runStage(ctx context.Context, d *db.DB, fileID int64, taskType, key string, fn func(ctx context.Context) error) (ok bool, err error) {
	cmn.Assertf(isValidTaskType(taskType), "processor: unknown task type %q", taskType)
	if err := upsertTaskStatus(ctx, d, fileID, taskType, key, StatusProcessing, "", false); err != nil {
		return false, err
	}
	if runErr := fn(ctx); runErr != nil {
		if err := upsertTaskStatus(ctx, d, fileID, taskType, key, StatusFailed, runErr.Error(), true); err != nil {
			return false, err
		}
		cmn.Warningf("processor: %s/%s failed for file %d: %v", taskType, key, fileID, runErr)
		return false, nil
	}
	if err := upsertTaskStatus(ctx, d, fileID, taskType, key, StatusCompleted, "", false); err != nil {
		return false, err
	}
	return true, nil
}

// stageDone applies the hybrid completion gate shared by every stage
// (spec.md §4.7): a stage only counts as already satisfied when its
// SystemTask row says COMPLETED *and* its end-state artifact still checks
// out. Either half failing means the stage must run again.
func stageDone(ctx context.Context, d *db.DB, fileID int64, taskType, key string, artifactExists func(ctx context.Context) (bool, error)) (bool, error) {
	status, found, err := taskStatus(ctx, d, fileID, taskType, key)
	if err != nil {
		return false, err
	}
	if !found || status != StatusCompleted {
		return false, nil
	}
	return artifactExists(ctx)
}

var errNoOpaqueKey = errs.Internalf(nil, "processor: file has no storage_key")
