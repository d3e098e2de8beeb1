package chunkstore

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkvault/inkvault/blobstore"
	"github.com/inkvault/inkvault/cmn"
)

func newStore(t *testing.T) (*Store, *blobstore.Store) {
	t.Helper()
	root := t.TempDir()
	blobs, err := blobstore.Open(root)
	require.NoError(t, err)
	cs, err := Open(root, blobs)
	require.NoError(t, err)
	return cs, blobs
}

func TestMergeMatchesSinglePartUpload(t *testing.T) {
	ctx := context.Background()
	cs, blobs := newStore(t)

	parts := [][]byte{
		bytes.Repeat([]byte("a"), 37),
		bytes.Repeat([]byte("b"), 101),
		bytes.Repeat([]byte("c"), 5),
	}
	whole := bytes.Join(parts, nil)

	uploadID := cmn.GenOpaqueKey()
	for i, p := range parts {
		require.NoError(t, cs.PutPart(ctx, "user-1", uploadID, i+1, p))
	}

	objectName := cmn.GenOpaqueKey()
	md5hex, size, err := cs.Merge(ctx, "user-1", uploadID, objectName, len(parts))
	require.NoError(t, err)
	assert.EqualValues(t, len(whole), size)

	wantMD5, err := blobs.Put(ctx, cmn.BucketUserData, cmn.GenOpaqueKey(), whole)
	require.NoError(t, err)
	assert.Equal(t, wantMD5, md5hex)

	got, err := blobs.Get(ctx, cmn.BucketUserData, objectName)
	require.NoError(t, err)
	assert.Equal(t, whole, got)
}

func TestRetriedPartIsOverwritten(t *testing.T) {
	ctx := context.Background()
	cs, _ := newStore(t)
	uploadID := cmn.GenOpaqueKey()

	require.NoError(t, cs.PutPart(ctx, "user-1", uploadID, 1, []byte("wrong")))
	require.NoError(t, cs.PutPart(ctx, "user-1", uploadID, 1, []byte("right")))
	require.NoError(t, cs.PutPart(ctx, "user-1", uploadID, 2, []byte("tail")))

	objectName := cmn.GenOpaqueKey()
	_, _, err := cs.Merge(ctx, "user-1", uploadID, objectName, 2)
	require.NoError(t, err)
}

func TestMergeFailsOnMissingPart(t *testing.T) {
	ctx := context.Background()
	cs, _ := newStore(t)
	uploadID := cmn.GenOpaqueKey()

	require.NoError(t, cs.PutPart(ctx, "user-1", uploadID, 1, []byte("only")))
	_, _, err := cs.Merge(ctx, "user-1", uploadID, cmn.GenOpaqueKey(), 3)
	assert.Error(t, err)
}

func TestMergeCleansUpStagedParts(t *testing.T) {
	ctx := context.Background()
	cs, _ := newStore(t)
	uploadID := cmn.GenOpaqueKey()

	require.NoError(t, cs.PutPart(ctx, "user-1", uploadID, 1, []byte("a")))
	parts, err := cs.StagedParts(ctx, "user-1", uploadID)
	require.NoError(t, err)
	assert.Len(t, parts, 1)

	_, _, err = cs.Merge(ctx, "user-1", uploadID, cmn.GenOpaqueKey(), 1)
	require.NoError(t, err)

	parts, err = cs.StagedParts(ctx, "user-1", uploadID)
	require.NoError(t, err)
	assert.Empty(t, parts, "staged parts must be removed after a successful merge")
}
