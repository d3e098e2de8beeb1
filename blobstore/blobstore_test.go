package blobstore

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec
	"encoding/hex"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkvault/inkvault/cmn"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	data := []byte("Shared Content Block")
	key := cmn.GenOpaqueKey()

	sum, err := s.Put(ctx, cmn.BucketUserData, key, data)
	require.NoError(t, err)
	want := md5.Sum(data)
	assert.Equal(t, hex.EncodeToString(want[:]), sum)

	got, err := s.Get(ctx, cmn.BucketUserData, key)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	ok, err := s.Exists(ctx, cmn.BucketUserData, key)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPutStreamMatchesPut(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	data := bytes.Repeat([]byte("abc123"), 1000)

	k1 := cmn.GenOpaqueKey()
	sum1, err := s.Put(ctx, cmn.BucketUserData, k1, data)
	require.NoError(t, err)

	k2 := cmn.GenOpaqueKey()
	sum2, n, err := s.PutStream(ctx, cmn.BucketUserData, k2, bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, sum1, sum2)
	assert.EqualValues(t, len(data), n)
}

func TestBucketsAreNamespaceDisjoint(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	key := cmn.GenOpaqueKey()

	_, err := s.Put(ctx, cmn.BucketUserData, key, []byte("user"))
	require.NoError(t, err)

	ok, err := s.Exists(ctx, cmn.BucketCache, key)
	require.NoError(t, err)
	assert.False(t, ok, "same key in a different bucket must not be visible")
}

func TestDeleteAndNotExists(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	key := cmn.GenOpaqueKey()
	_, err := s.Put(ctx, cmn.BucketUserData, key, []byte("x"))
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, cmn.BucketUserData, key))
	ok, err := s.Exists(ctx, cmn.BucketUserData, key)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Get(ctx, cmn.BucketUserData, key)
	assert.Error(t, err)
}

func TestDeletePrefixCleansCacheArtifacts(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	fileID := "42"
	for _, pageID := range []string{"p1", "p2"} {
		_, err := s.Put(ctx, cmn.BucketCache, fileID+"/pages/"+pageID+".png", []byte("png"))
		require.NoError(t, err)
	}
	unrelated := cmn.GenOpaqueKey()
	_, err := s.Put(ctx, cmn.BucketCache, unrelated, []byte("keep"))
	require.NoError(t, err)

	require.NoError(t, s.DeletePrefix(ctx, cmn.BucketCache, fileID+"/pages/"))

	ok, err := s.Exists(ctx, cmn.BucketCache, fileID+"/pages/p1.png")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.Exists(ctx, cmn.BucketCache, unrelated)
	require.NoError(t, err)
	assert.True(t, ok, "unrelated keys must survive a prefix delete")
}

func TestOpenBlobIsSeekable(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	key := cmn.GenOpaqueKey()
	data := []byte("0123456789")
	_, err := s.Put(ctx, cmn.BucketUserData, key, data)
	require.NoError(t, err)

	rc, err := s.OpenBlob(ctx, cmn.BucketUserData, key)
	require.NoError(t, err)
	defer rc.Close()

	_, err = rc.Seek(5, io.SeekStart)
	require.NoError(t, err)
	buf := make([]byte, 5)
	_, err = io.ReadFull(rc, buf)
	require.NoError(t, err)
	assert.Equal(t, "56789", string(buf))
}
