// Package chunkstore implements the ChunkStore from spec.md §4.3: staging
// for chunked uploads keyed by (user_id, upload_id), with an ordered merge
// into a single USER_DATA blob once the final part arrives. Staged parts
// live outside the BlobStore's two namespace-disjoint buckets — they are
// transient and keyed by part number, not by opaque content key — so the
// store keeps its own directory tree and only hands the final concatenated
// bytes to the BlobStore.
package chunkstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/pkg/errors"

	"github.com/inkvault/inkvault/blobstore"
	"github.com/inkvault/inkvault/cmn"
	"github.com/inkvault/inkvault/cmn/errs"
)

// Store stages chunk parts on the local filesystem and merges them through
// a blobstore.Store, mirroring the atomic temp-file+rename discipline the
// BlobStore itself uses for final blobs.
type Store struct {
	root  string // <storage root>/chunks
	blobs *blobstore.Store
}

func Open(storageRoot string, blobs *blobstore.Store) (*Store, error) {
	root := filepath.Join(storageRoot, "chunks")
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrap(err, "chunkstore: mkdir")
	}
	return &Store{root: root, blobs: blobs}, nil
}

func (s *Store) uploadDir(userID, uploadID string) string {
	return filepath.Join(s.root, userID, uploadID)
}

func (s *Store) partPath(userID, uploadID string, partNumber int) string {
	return filepath.Join(s.uploadDir(userID, uploadID), fmt.Sprintf("%08d.part", partNumber))
}

// PutPart stages one chunk. Receiving the same partNumber twice is a no-op
// overwrite (spec.md §4.3), satisfied here by the same temp+rename write
// every other part gets — a retried part just replaces the file in place.
func (s *Store) PutPart(_ context.Context, userID, uploadID string, partNumber int, data []byte) error {
	if partNumber < 1 {
		return errs.BadRequestf("part number must be >= 1, got %d", partNumber)
	}
	dir := s.uploadDir(userID, uploadID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "chunkstore: mkdir upload dir")
	}
	tmp := filepath.Join(dir, cmn.GenOpaqueKey()+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "chunkstore: write part")
	}
	dst := s.partPath(userID, uploadID, partNumber)
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "chunkstore: rename part")
	}
	return nil
}

// Merge concatenates parts 1..totalChunks in numeric order into a single
// USER_DATA blob at objectName, then deletes the staged parts for
// uploadID. Call this once the caller's final PUT reports
// partNumber == totalChunks.
func (s *Store) Merge(ctx context.Context, userID, uploadID, objectName string, totalChunks int) (md5hex string, size int64, err error) {
	dir := s.uploadDir(userID, uploadID)
	readers := make([]io.Reader, 0, totalChunks)
	files := make([]*os.File, 0, totalChunks)
	defer func() {
		for _, f := range files {
			f.Close()
		}
	}()

	for part := 1; part <= totalChunks; part++ {
		p := s.partPath(userID, uploadID, part)
		f, ferr := os.Open(p)
		if errors.Is(ferr, os.ErrNotExist) {
			return "", 0, errs.BadRequestf("upload %s missing part %d of %d", uploadID, part, totalChunks)
		}
		if ferr != nil {
			return "", 0, errors.Wrap(ferr, "chunkstore: open part")
		}
		files = append(files, f)
		readers = append(readers, f)
	}

	md5hex, size, err = s.blobs.PutStream(ctx, cmn.BucketUserData, objectName, io.MultiReader(readers...))
	if err != nil {
		return "", 0, errors.Wrap(err, "chunkstore: merge stream")
	}

	if err := s.Cleanup(ctx, userID, uploadID); err != nil {
		cmn.Warningf("chunkstore: cleanup of upload %s failed after successful merge: %v", uploadID, err)
	}
	return md5hex, size, nil
}

// Cleanup removes all staged parts for an upload, whether abandoned or
// already merged.
func (s *Store) Cleanup(_ context.Context, userID, uploadID string) error {
	err := os.RemoveAll(s.uploadDir(userID, uploadID))
	if err != nil {
		return errors.Wrap(err, "chunkstore: cleanup")
	}
	return nil
}

// StagedParts lists the part numbers currently staged for an upload, for
// resumable-upload status queries and for tests. It tolerates a
// not-yet-created upload directory by returning an empty list.
func (s *Store) StagedParts(_ context.Context, userID, uploadID string) ([]int, error) {
	entries, err := os.ReadDir(s.uploadDir(userID, uploadID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "chunkstore: read upload dir")
	}
	parts := make([]int, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		const suffix = ".part"
		if len(name) <= len(suffix) || name[len(name)-len(suffix):] != suffix {
			continue
		}
		n, perr := strconv.Atoi(name[:len(name)-len(suffix)])
		if perr != nil {
			continue
		}
		parts = append(parts, n)
	}
	sort.Ints(parts)
	return parts, nil
}
