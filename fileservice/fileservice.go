// Package fileservice implements the FileService from spec.md §4.5: it
// orchestrates VFS, BlobStore, ChunkStore, UrlSigner and EventBus behind
// the upload/apply/finish contract, download resolution, move/copy/delete,
// recycle operations, and usage accounting.
package fileservice

import (
	"context"
	"crypto/md5" //nolint:gosec // content hash, not a security boundary
	"encoding/hex"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/inkvault/inkvault/blobstore"
	"github.com/inkvault/inkvault/chunkstore"
	"github.com/inkvault/inkvault/cmn"
	"github.com/inkvault/inkvault/cmn/errs"
	"github.com/inkvault/inkvault/eventbus"
	"github.com/inkvault/inkvault/urlsign"
	"github.com/inkvault/inkvault/vfs"
)

// notebookExtension is the file suffix that triggers the content
// processing pipeline on a successful write (spec.md §4.5 step 5).
const notebookExtension = ".note"

// defaultQuotaBytes stands in for a per-user storage allocation: the spec
// describes get_space_usage returning {used, allocation_vo:{allocated}}
// but never defines how "allocated" is computed for a self-hosted single
// node, so a fixed generous quota is used rather than inventing a
// billing/plan subsystem out of scope.
const defaultQuotaBytes = 100 << 30 // 100 GiB

// Service is the FileService.
type Service struct {
	vfs    *vfs.VFS
	blobs  *blobstore.Store
	chunks *chunkstore.Store
	signer *urlsign.Signer
	bus    *eventbus.Bus
}

func New(v *vfs.VFS, blobs *blobstore.Store, chunks *chunkstore.Store, signer *urlsign.Signer, bus *eventbus.Bus) *Service {
	return &Service{vfs: v, blobs: blobs, chunks: chunks, signer: signer, bus: bus}
}

// MergeChunkedUpload finalizes a chunked upload: it merges all staged
// parts for uploadID into a USER_DATA blob at objectName and returns the
// resulting digest and size, for the upload/part route's final call
// (partNumber == totalChunks).
func (s *Service) MergeChunkedUpload(ctx context.Context, userID int64, uploadID, objectName string, totalChunks int) (md5hex string, size int64, err error) {
	return s.chunks.Merge(ctx, strconv.FormatInt(userID, 10), uploadID, objectName, totalChunks)
}

// UploadApply mints a fresh opaque storage key and pre-signed URLs for both
// the whole-file and chunked upload routes (spec.md §4.5).
func (s *Service) UploadApply(ctx context.Context, userEmail, fileName string) (innerName, fullUploadPath, partUploadPath string, err error) {
	innerName = uuid.New().String() + path.Ext(fileName)

	fullQuery, err := s.signer.Sign(ctx, "/api/oss/upload", userEmail)
	if err != nil {
		return "", "", "", errors.Wrap(err, "fileservice: sign upload url")
	}
	partQuery, err := s.signer.Sign(ctx, "/api/oss/upload/part", userEmail)
	if err != nil {
		return "", "", "", errors.Wrap(err, "fileservice: sign part upload url")
	}
	fullUploadPath = "/api/oss/upload?object_name=" + innerName + "&" + fullQuery
	partUploadPath = "/api/oss/upload/part?object_name=" + innerName + "&" + partQuery
	return innerName, fullUploadPath, partUploadPath, nil
}

// blobMD5 recomputes a blob's content digest. BlobStore does not retain a
// put's digest past the call that produced it, so finish_upload re-derives
// it directly from the bytes on disk.
func (s *Service) blobMD5(ctx context.Context, bucket cmn.Bucket, key string) (string, error) {
	rc, err := s.blobs.OpenBlob(ctx, bucket, key)
	if err != nil {
		return "", err
	}
	defer rc.Close()
	h := md5.New() //nolint:gosec
	if _, err := io.Copy(h, rc); err != nil {
		return "", errors.Wrap(err, "fileservice: hash blob")
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// FinishUpload implements spec.md §4.5's five-step contract.
func (s *Service) FinishUpload(ctx context.Context, userID int64, fileName, dirPath, contentHash, innerName string) (*vfs.Node, error) {
	exists, err := s.blobs.Exists(ctx, cmn.BucketUserData, innerName)
	if err != nil {
		return nil, errs.Internalf(err, "fileservice: check uploaded blob")
	}
	if !exists {
		return nil, errs.NotFoundf("no uploaded blob for %q", innerName)
	}

	size, err := s.blobs.GetSize(ctx, cmn.BucketUserData, innerName)
	if err != nil {
		return nil, errs.Internalf(err, "fileservice: stat uploaded blob")
	}

	actualMD5, err := s.blobMD5(ctx, cmn.BucketUserData, innerName)
	if err != nil {
		return nil, errs.Internalf(err, "fileservice: hash uploaded blob")
	}
	if contentHash != "" && actualMD5 != contentHash {
		return nil, errs.HashMismatchf("declared content_hash %q does not match stored blob %q", contentHash, actualMD5)
	}

	parent, err := s.vfs.EnsureDirectoryPath(ctx, userID, dirPath)
	if err != nil {
		return nil, err
	}

	existing, err := s.vfs.ResolvePath(ctx, userID, strings.TrimSuffix(dirPath, "/")+"/"+fileName)
	var node *vfs.Node
	if err == nil && existing != nil && !existing.IsFolder {
		if err := s.vfs.ReplaceFile(ctx, userID, existing.ID, size, actualMD5, innerName); err != nil {
			return nil, err
		}
		node = existing
		node.Size, node.MD5, node.StorageKey = size, actualMD5, innerName
	} else {
		node, err = s.vfs.CreateFile(ctx, userID, parent.ID, fileName, size, actualMD5, innerName)
		if err != nil {
			return nil, err
		}
	}

	if strings.HasSuffix(strings.ToLower(fileName), notebookExtension) {
		s.bus.PublishNoteUpdated(eventbus.NoteUpdated{
			UserID:   userID,
			FileID:   node.ID,
			FilePath: strings.TrimSuffix(dirPath, "/") + "/" + fileName,
		})
	}
	return node, nil
}

// DownloadResolve returns the node a download route should stream, after
// the ownership check VFS already enforces.
func (s *Service) DownloadResolve(ctx context.Context, userID, fileID int64) (*vfs.Node, error) {
	n, err := s.vfs.GetNodeByID(ctx, userID, fileID)
	if err != nil {
		return nil, err
	}
	if n.IsFolder {
		return nil, errs.BadRequestf("node %d is a folder, not a file", fileID)
	}
	return n, nil
}

// Delete soft-deletes a node, publishing NoteDeleted for notebook files so
// ProcessorService can clean up derived state.
func (s *Service) Delete(ctx context.Context, userID, nodeID int64) error {
	n, err := s.vfs.GetNodeByID(ctx, userID, nodeID)
	if err != nil {
		return err
	}
	if err := s.vfs.DeleteNode(ctx, userID, nodeID); err != nil {
		return err
	}
	if !n.IsFolder && strings.HasSuffix(strings.ToLower(n.Name), notebookExtension) {
		s.bus.PublishNoteDeleted(eventbus.NoteDeleted{UserID: userID, FileID: n.ID})
	}
	return nil
}

// Move and Copy pass straight through to VFS; FileService's value-add here
// is staying the single entry point HTTP handlers call, so future
// cross-cutting concerns (auditing, quota checks) have one seam.
func (s *Service) Move(ctx context.Context, userID, nodeID, newParent int64, newName string) error {
	return s.vfs.MoveNode(ctx, userID, nodeID, newParent, newName)
}

func (s *Service) Copy(ctx context.Context, userID, nodeID, newParent int64, newName string) (*vfs.Node, error) {
	return s.vfs.CopyNode(ctx, userID, nodeID, newParent, newName)
}

// SpaceUsage sums the size of every active file (non-folder) node owned by
// userID against the fixed quota.
func (s *Service) SpaceUsage(ctx context.Context, userID int64) (used, allocated int64, err error) {
	nodes, err := s.vfs.ListRecursive(ctx, userID, vfs.RootParentID)
	if err != nil {
		return 0, 0, err
	}
	for _, n := range nodes {
		if !n.Node.IsFolder {
			used += n.Node.Size
		}
	}
	return used, defaultQuotaBytes, nil
}
