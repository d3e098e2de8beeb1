package fileservice

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkvault/inkvault/blobstore"
	"github.com/inkvault/inkvault/chunkstore"
	"github.com/inkvault/inkvault/cmn"
	"github.com/inkvault/inkvault/coordination"
	"github.com/inkvault/inkvault/db"
	"github.com/inkvault/inkvault/eventbus"
	"github.com/inkvault/inkvault/urlsign"
	"github.com/inkvault/inkvault/vfs"
)

func newService(t *testing.T) (*Service, *blobstore.Store, *eventbus.Bus) {
	t.Helper()
	root := t.TempDir()
	blobs, err := blobstore.Open(root)
	require.NoError(t, err)
	chunks, err := chunkstore.Open(root, blobs)
	require.NoError(t, err)
	database, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	ids := cmn.NewSnowflake(time.Now(), 1)
	v := vfs.New(database, ids)
	signer, err := urlsign.New("secret", coordination.NewMapStore())
	require.NoError(t, err)
	bus := eventbus.New()
	return New(v, blobs, chunks, signer, bus), blobs, bus
}

func TestUploadFinishRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc, blobs, _ := newService(t)

	innerName, fullURL, partURL, err := svc.UploadApply(ctx, "user@example.com", "notes.note")
	require.NoError(t, err)
	assert.Contains(t, fullURL, "object_name="+innerName)
	assert.Contains(t, partURL, "object_name="+innerName)

	content := []byte("hello notebook bytes")
	md5hex, err := blobs.Put(ctx, cmn.BucketUserData, innerName, content)
	require.NoError(t, err)

	node, err := svc.FinishUpload(ctx, 1, "notes.note", "/Docs", md5hex, innerName)
	require.NoError(t, err)
	assert.Equal(t, "notes.note", node.Name)
	assert.EqualValues(t, len(content), node.Size)
}

func TestFinishUploadPublishesNoteUpdatedForNotebookFiles(t *testing.T) {
	ctx := context.Background()
	svc, blobs, bus := newService(t)
	ch := bus.SubscribeNoteUpdated(1)

	innerName, _, _, err := svc.UploadApply(ctx, "user@example.com", "a.note")
	require.NoError(t, err)
	md5hex, err := blobs.Put(ctx, cmn.BucketUserData, innerName, []byte("x"))
	require.NoError(t, err)

	_, err = svc.FinishUpload(ctx, 1, "a.note", "/", md5hex, innerName)
	require.NoError(t, err)

	select {
	case e := <-ch:
		assert.EqualValues(t, 1, e.UserID)
	case <-time.After(time.Second):
		t.Fatal("expected NoteUpdated was not published")
	}
}

func TestFinishUploadRejectsHashMismatch(t *testing.T) {
	ctx := context.Background()
	svc, blobs, _ := newService(t)
	innerName, _, _, err := svc.UploadApply(ctx, "user@example.com", "a.note")
	require.NoError(t, err)
	_, err = blobs.Put(ctx, cmn.BucketUserData, innerName, []byte("x"))
	require.NoError(t, err)

	_, err = svc.FinishUpload(ctx, 1, "a.note", "/", "deadbeef", innerName)
	assert.Error(t, err)
}

func TestSameUserSameNameOverwriteReplacesNode(t *testing.T) {
	ctx := context.Background()
	svc, blobs, _ := newService(t)

	innerName1, _, _, err := svc.UploadApply(ctx, "user@example.com", "a.note")
	require.NoError(t, err)
	md5hex1, err := blobs.Put(ctx, cmn.BucketUserData, innerName1, []byte("v1"))
	require.NoError(t, err)
	node1, err := svc.FinishUpload(ctx, 1, "a.note", "/", md5hex1, innerName1)
	require.NoError(t, err)

	innerName2, _, _, err := svc.UploadApply(ctx, "user@example.com", "a.note")
	require.NoError(t, err)
	md5hex2, err := blobs.Put(ctx, cmn.BucketUserData, innerName2, []byte("v2-longer"))
	require.NoError(t, err)
	node2, err := svc.FinishUpload(ctx, 1, "a.note", "/", md5hex2, innerName2)
	require.NoError(t, err)

	assert.Equal(t, node1.ID, node2.ID, "overwrite must replace the existing node, not create a new one")
	assert.Equal(t, md5hex2, node2.MD5)
}

func TestMultiTenantNonInterference(t *testing.T) {
	ctx := context.Background()
	svc, blobs, _ := newService(t)
	content := []byte("Shared Content Block")

	innerA, _, _, err := svc.UploadApply(ctx, "a@example.com", "doc_X.txt")
	require.NoError(t, err)
	md5A, err := blobs.Put(ctx, cmn.BucketUserData, innerA, content)
	require.NoError(t, err)
	_, err = svc.FinishUpload(ctx, 1, "doc_X.txt", "/", md5A, innerA)
	require.NoError(t, err)

	innerB, _, _, err := svc.UploadApply(ctx, "b@example.com", "doc_B.txt")
	require.NoError(t, err)
	md5B, err := blobs.Put(ctx, cmn.BucketUserData, innerB, content)
	require.NoError(t, err)
	nodeB, err := svc.FinishUpload(ctx, 2, "doc_B.txt", "/", md5B, innerB)
	require.NoError(t, err)

	nodeA, err := svc.DownloadResolve(ctx, 1, nodeIDByName(t, ctx, svc, 1, "doc_X.txt"))
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, 1, nodeA.ID))

	got, err := svc.DownloadResolve(ctx, 2, nodeB.ID)
	require.NoError(t, err)
	data, err := blobs.Get(ctx, cmn.BucketUserData, got.StorageKey)
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func nodeIDByName(t *testing.T, ctx context.Context, svc *Service, userID int64, name string) int64 {
	t.Helper()
	n, err := svc.vfs.ResolvePath(ctx, userID, name)
	require.NoError(t, err)
	return n.ID
}
