// Package integrity implements IntegrityService (spec.md §4.9): a
// read-only scan comparing VFS metadata against BlobStore reality. It
// never mutates state; SPEC_FULL.md additionally has it report orphaned
// CACHE blobs (present in BlobStore, no longer referenced by any
// SystemTask/NotePage row) as a diagnostic, still without collecting them.
package integrity

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/inkvault/inkvault/blobstore"
	"github.com/inkvault/inkvault/cmn"
	"github.com/inkvault/inkvault/cmn/errs"
	"github.com/inkvault/inkvault/db"
)

// Report is the result of a scan: counts, per spec.md §4.9, plus the
// orphaned-CACHE-blob addition.
type Report struct {
	Scanned       int
	OK            int
	MissingBlob   int
	SizeMismatch  int
	OrphanedCache []string
}

type Service struct {
	db    *db.DB
	blobs *blobstore.Store
}

func New(d *db.DB, blobs *blobstore.Store) *Service {
	return &Service{db: d, blobs: blobs}
}

// ScanUser iterates a user's active file nodes, verifying blob existence
// and size against what VFS recorded. No row or blob is mutated.
func (s *Service) ScanUser(ctx context.Context, userID int64) (Report, error) {
	var report Report

	rows, err := s.db.QueryContext(ctx,
		"SELECT storage_key, size FROM user_file_nodes WHERE user_id = ? AND is_active = 'Y' AND is_folder = 'N'", userID)
	if err != nil {
		return report, errs.Internalf(err, "integrity: scan file nodes")
	}
	defer rows.Close()

	for rows.Next() {
		var storageKey string
		var size int64
		if err := rows.Scan(&storageKey, &size); err != nil {
			return report, err
		}
		report.Scanned++

		if storageKey == "" {
			report.MissingBlob++
			continue
		}
		exists, err := s.blobs.Exists(ctx, cmn.BucketUserData, storageKey)
		if err != nil {
			return report, errs.Internalf(err, "integrity: check blob existence")
		}
		if !exists {
			report.MissingBlob++
			continue
		}
		actualSize, err := s.blobs.GetSize(ctx, cmn.BucketUserData, storageKey)
		if err != nil {
			return report, errs.Internalf(err, "integrity: stat blob")
		}
		if actualSize != size {
			report.SizeMismatch++
			continue
		}
		report.OK++
	}
	if err := rows.Err(); err != nil {
		return report, err
	}

	orphans, err := s.orphanedCacheBlobs(ctx, userID)
	if err != nil {
		return report, err
	}
	report.OrphanedCache = orphans
	return report, nil
}

// orphanedCacheBlobs lists CACHE page PNGs that no longer have a backing
// NotePage row for their file, which can happen if hashing removed a page
// but a concurrent crash interrupted cleanup before the blob delete ran.
// BlobStore.Walk has no user scoping of its own (CACHE keys are
// "<file_id>/pages/<page_id>.png" across every tenant), so this also keeps
// its own set of the user's file ids and skips any walked key whose file_id
// isn't in it, to avoid reporting (and leaking) other users' cache blobs.
func (s *Service) orphanedCacheBlobs(ctx context.Context, userID int64) ([]string, error) {
	ownFiles, err := s.ownFileIDs(ctx, userID)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT np.file_id, np.page_id
		FROM note_pages np
		JOIN user_file_nodes n ON n.id = np.file_id
		WHERE n.user_id = ? AND n.is_active = 'Y'`, userID)
	if err != nil {
		return nil, errs.Internalf(err, "integrity: load pages")
	}
	defer rows.Close()

	known := make(map[string]bool)
	for rows.Next() {
		var fileID int64
		var pageID string
		if err := rows.Scan(&fileID, &pageID); err != nil {
			return nil, err
		}
		known[fmt.Sprintf("%d/pages/%s.png", fileID, pageID)] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var orphans []string
	err = s.blobs.Walk(ctx, cmn.BucketCache, func(key string) {
		fileID, ok := cacheKeyFileID(key)
		if !ok || !ownFiles[fileID] {
			return
		}
		if !known[key] {
			orphans = append(orphans, key)
		}
	})
	if err != nil {
		return nil, err
	}
	return orphans, nil
}

// ownFileIDs returns every file id (including already-deleted ones, since
// active node_pages can outlive a soft delete) this user has ever owned.
func (s *Service) ownFileIDs(ctx context.Context, userID int64) (map[int64]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id FROM user_file_nodes WHERE user_id = ? AND is_folder = 'N'", userID)
	if err != nil {
		return nil, errs.Internalf(err, "integrity: load owned file ids")
	}
	defer rows.Close()

	ids := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

// cacheKeyFileID extracts the leading "<file_id>" component of a CACHE key
// shaped "<file_id>/pages/<page_id>.png".
func cacheKeyFileID(key string) (int64, bool) {
	prefix, _, ok := strings.Cut(key, "/")
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(prefix, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
