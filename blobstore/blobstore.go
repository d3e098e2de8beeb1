// Package blobstore implements the BlobStore from spec.md §2/§4.2: a
// bucket-scoped, content-addressed-by-key object store. Two buckets share a
// root directory but are namespace-disjoint (cmn.BucketUserData,
// cmn.BucketCache). Writes go through a temp file and an atomic rename
// (spec.md §4.2, §5 "Blob writes are atomic") — the same technique the
// teacher's own jsp package uses for metadata files, applied here to object
// bytes instead of JSON.
package blobstore

import (
	"context"
	"crypto/md5" //nolint:gosec // content hash, not a security boundary
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/inkvault/inkvault/cmn"
	"github.com/inkvault/inkvault/metrics"
)

// Store is the local-filesystem BlobStore. Keys are opaque strings chosen
// by the caller (FileService mints storage_key/inner_name via
// cmn.GenOpaqueKey); the store itself never inspects key structure beyond
// sharding on its first two characters to keep any one directory from
// holding too many entries.
type Store struct {
	root string // <storage root>/blobs
}

func Open(root string) (*Store, error) {
	blobRoot := filepath.Join(root, "blobs")
	if err := os.MkdirAll(filepath.Join(blobRoot, "temp"), 0o755); err != nil {
		return nil, errors.Wrap(err, "blobstore: mkdir")
	}
	return &Store{root: blobRoot}, nil
}

func (s *Store) path(bucket cmn.Bucket, key string) (string, error) {
	if !bucket.Valid() {
		return "", errors.Errorf("blobstore: invalid bucket %q", bucket)
	}
	if key == "" {
		return "", errors.New("blobstore: empty key")
	}
	shard := key
	if len(shard) > 2 {
		shard = shard[:2]
	}
	return filepath.Join(s.root, string(bucket), shard, key), nil
}

func (s *Store) tempPath() string {
	return filepath.Join(s.root, "temp", cmn.GenOpaqueKey()+".tmp")
}

// Put writes data to (bucket, key) and returns its MD5 hex digest.
func (s *Store) Put(_ context.Context, bucket cmn.Bucket, key string, data []byte) (md5hex string, err error) {
	dst, err := s.path(bucket, key)
	if err != nil {
		return "", err
	}
	sum := md5.Sum(data)
	md5hex = hex.EncodeToString(sum[:])

	tmp := s.tempPath()
	if err := os.MkdirAll(filepath.Dir(tmp), 0o755); err != nil {
		return "", errors.Wrap(err, "blobstore: mkdir temp")
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		os.Remove(tmp)
		return "", errors.Wrap(err, "blobstore: write temp")
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		os.Remove(tmp)
		return "", errors.Wrap(err, "blobstore: mkdir dest")
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return "", errors.Wrap(err, "blobstore: rename")
	}
	metrics.BlobBytesWritten.Add(float64(len(data)))
	return md5hex, nil
}

// PutStream streams r to (bucket, key), computing the MD5 on the fly, and
// returns its hex digest. The temp file is removed on any failure so
// readers never observe a partial write, per spec.md §4.2.
func (s *Store) PutStream(_ context.Context, bucket cmn.Bucket, key string, r io.Reader) (md5hex string, size int64, err error) {
	dst, err := s.path(bucket, key)
	if err != nil {
		return "", 0, err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", 0, errors.Wrap(err, "blobstore: mkdir dest")
	}

	tmp := s.tempPath()
	if err := os.MkdirAll(filepath.Dir(tmp), 0o755); err != nil {
		return "", 0, errors.Wrap(err, "blobstore: mkdir temp")
	}
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", 0, errors.Wrap(err, "blobstore: create temp")
	}

	h := md5.New() //nolint:gosec
	n, err := io.Copy(io.MultiWriter(f, h), r)
	if err != nil {
		f.Close()
		os.Remove(tmp)
		return "", 0, errors.Wrap(err, "blobstore: stream copy")
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", 0, errors.Wrap(err, "blobstore: close temp")
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return "", 0, errors.Wrap(err, "blobstore: rename")
	}
	metrics.BlobBytesWritten.Add(float64(n))
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

func (s *Store) Get(_ context.Context, bucket cmn.Bucket, key string) ([]byte, error) {
	p, err := s.path(bucket, key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, errors.Errorf("blobstore: %s/%s not found", bucket, key)
	}
	if err == nil {
		metrics.BlobBytesRead.Add(float64(len(data)))
	}
	return data, err
}

func (s *Store) Exists(_ context.Context, bucket cmn.Bucket, key string) (bool, error) {
	p, err := s.path(bucket, key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) GetSize(_ context.Context, bucket cmn.Bucket, key string) (int64, error) {
	p, err := s.path(bucket, key)
	if err != nil {
		return 0, err
	}
	fi, err := os.Stat(p)
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

func (s *Store) Delete(_ context.Context, bucket cmn.Bucket, key string) error {
	p, err := s.path(bucket, key)
	if err != nil {
		return err
	}
	err = os.Remove(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// ReadSeekCloser is what OpenBlob returns: a seekable, closeable byte
// stream suitable for range-request download serving.
type ReadSeekCloser interface {
	io.ReadSeeker
	io.Closer
}

// OpenBlob returns a seekable stream over the blob at (bucket, key),
// backing the Range-aware download route (spec.md §6).
func (s *Store) OpenBlob(_ context.Context, bucket cmn.Bucket, key string) (ReadSeekCloser, error) {
	p, err := s.path(bucket, key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, errors.Errorf("blobstore: %s/%s not found", bucket, key)
	}
	return f, err
}

// DeletePrefix removes every key under bucket that begins with prefix, e.g. "<file_id>/pages/" for CACHE cleanup on NoteDeleted
// (spec.md §4.7 "Deletion handling"). Since keys are sharded by their own
// first two characters rather than by prefix, this walks the bucket
// directory tree.
func (s *Store) DeletePrefix(_ context.Context, bucket cmn.Bucket, prefix string) error {
	if !bucket.Valid() {
		return errors.Errorf("blobstore: invalid bucket %q", bucket)
	}
	root := filepath.Join(s.root, string(bucket))
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		key, ok := keyFromRelPath(root, path)
		if !ok {
			return nil
		}
		if hasPrefix(key, prefix) {
			return os.Remove(path)
		}
		return nil
	})
}

// Walk calls fn with every key present in bucket, for read-only scans like
// IntegrityService's orphaned-CACHE-blob report.
func (s *Store) Walk(_ context.Context, bucket cmn.Bucket, fn func(key string)) error {
	if !bucket.Valid() {
		return errors.Errorf("blobstore: invalid bucket %q", bucket)
	}
	root := filepath.Join(s.root, string(bucket))
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		if key, ok := keyFromRelPath(root, path); ok {
			fn(key)
		}
		return nil
	})
}

// keyFromRelPath recovers the original key passed to path() from a file
// found while walking a bucket directory: the first path component below
// root is the two-character shard, everything after it is the key itself
// (which may contain its own slashes, e.g. "<file_id>/pages/<page_id>.png").
func keyFromRelPath(root, path string) (key string, ok bool) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return "", false
	}
	parts := strings.SplitN(filepath.ToSlash(rel), "/", 2)
	if len(parts) != 2 {
		return "", false
	}
	return parts[1], true
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
