package vfs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkvault/inkvault/cmn"
	"github.com/inkvault/inkvault/db"
)

func newVFS(t *testing.T) *VFS {
	t.Helper()
	database, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	ids := cmn.NewSnowflake(time.Now(), 1)
	return New(database, ids)
}

func TestCreateAndListDirectory(t *testing.T) {
	ctx := context.Background()
	v := newVFS(t)

	dir, err := v.CreateDirectory(ctx, 1, RootParentID, "Projects")
	require.NoError(t, err)

	_, err = v.CreateFile(ctx, 1, dir.ID, "a.note", 10, "md5a", "key-a")
	require.NoError(t, err)
	_, err = v.CreateFile(ctx, 1, dir.ID, "b.note", 20, "md5b", "key-b")
	require.NoError(t, err)

	children, err := v.ListDirectory(ctx, 1, dir.ID)
	require.NoError(t, err)
	assert.Len(t, children, 2)
}

func TestCreateDirectoryAutorenamesOnCollision(t *testing.T) {
	ctx := context.Background()
	v := newVFS(t)

	first, err := v.CreateDirectory(ctx, 1, RootParentID, "Item")
	require.NoError(t, err)
	assert.Equal(t, "Item", first.Name)

	second, err := v.CreateDirectory(ctx, 1, RootParentID, "Item")
	require.NoError(t, err)
	assert.Equal(t, "Item (1)", second.Name)

	third, err := v.CreateDirectory(ctx, 1, RootParentID, "Item")
	require.NoError(t, err)
	assert.Equal(t, "Item (2)", third.Name)
}

func TestCopyNodeAutorenamesWithExtension(t *testing.T) {
	ctx := context.Background()
	v := newVFS(t)

	f, err := v.CreateFile(ctx, 1, RootParentID, "notes.note", 10, "md5x", "key-x")
	require.NoError(t, err)

	copy1, err := v.CopyNode(ctx, 1, f.ID, RootParentID, "notes.note")
	require.NoError(t, err)
	assert.Equal(t, "notes (1).note", copy1.Name)
}

func TestMoveNodeRejectsCycle(t *testing.T) {
	ctx := context.Background()
	v := newVFS(t)

	parent, err := v.CreateDirectory(ctx, 1, RootParentID, "Parent")
	require.NoError(t, err)
	child, err := v.CreateDirectory(ctx, 1, parent.ID, "Child")
	require.NoError(t, err)

	err = v.MoveNode(ctx, 1, parent.ID, child.ID, "Parent")
	assert.Error(t, err)
}

func TestMoveNodeRejectsMovingIntoItself(t *testing.T) {
	ctx := context.Background()
	v := newVFS(t)
	dir, err := v.CreateDirectory(ctx, 1, RootParentID, "Dir")
	require.NoError(t, err)

	err = v.MoveNode(ctx, 1, dir.ID, dir.ID, "Dir")
	assert.Error(t, err)
}

func TestDeleteThenRestore(t *testing.T) {
	ctx := context.Background()
	v := newVFS(t)
	f, err := v.CreateFile(ctx, 1, RootParentID, "a.note", 10, "md5a", "key-a")
	require.NoError(t, err)

	require.NoError(t, v.DeleteNode(ctx, 1, f.ID))
	_, err = v.GetNodeByID(ctx, 1, f.ID)
	assert.Error(t, err, "soft-deleted node must not resolve")

	children, err := v.ListDirectory(ctx, 1, RootParentID)
	require.NoError(t, err)
	assert.Empty(t, children)

	entries, err := v.ListRecycle(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NoError(t, v.Restore(ctx, 1, entries[0].ID))

	restored, err := v.GetNodeByID(ctx, 1, f.ID)
	require.NoError(t, err)
	assert.Equal(t, "a.note", restored.Name)
}

func TestCrossTenantAccessIsNotFound(t *testing.T) {
	ctx := context.Background()
	v := newVFS(t)
	f, err := v.CreateFile(ctx, 1, RootParentID, "secret.note", 10, "md5a", "key-a")
	require.NoError(t, err)

	_, err = v.GetNodeByID(ctx, 2, f.ID)
	require.Error(t, err)
	assert.True(t, isNotFound(err))
}

func TestEnsureDirectoryPathCreatesIntermediates(t *testing.T) {
	ctx := context.Background()
	v := newVFS(t)

	leaf, err := v.EnsureDirectoryPath(ctx, 1, "NOTE/Note/2026/07")
	require.NoError(t, err)
	assert.Equal(t, "07", leaf.Name)

	resolved, err := v.ResolvePath(ctx, 1, "NOTE/Note/2026/07")
	require.NoError(t, err)
	assert.Equal(t, leaf.ID, resolved.ID)
}

func TestGetPathInfoFlattensCategoryContainer(t *testing.T) {
	ctx := context.Background()
	v := newVFS(t)
	leaf, err := v.EnsureDirectoryPath(ctx, 1, "NOTE/Note/Projects")
	require.NoError(t, err)

	// Only the container ("NOTE") is stripped, matching
	// original_source/supernote/server/routes/file_web.py's
	// "NOTE/Note/Sub -> Note/Sub" example.
	flatPath, flatIDs, err := v.GetPathInfo(ctx, 1, leaf.ID, true)
	require.NoError(t, err)
	assert.Equal(t, "Note/Projects", flatPath)
	assert.Len(t, flatIDs, 2)

	devicePath, deviceIDs, err := v.GetPathInfo(ctx, 1, leaf.ID, false)
	require.NoError(t, err)
	assert.Equal(t, "NOTE/Note/Projects", devicePath)
	assert.Len(t, deviceIDs, 3)
}

func TestGetPathInfoFlattensBareContainerToChildName(t *testing.T) {
	ctx := context.Background()
	v := newVFS(t)
	leaf, err := v.EnsureDirectoryPath(ctx, 1, "NOTE/Note")
	require.NoError(t, err)

	flatPath, flatIDs, err := v.GetPathInfo(ctx, 1, leaf.ID, true)
	require.NoError(t, err)
	assert.Equal(t, "Note", flatPath)
	assert.Len(t, flatIDs, 1)
}

func TestGetPathInfoFlattensUserFolderDirectlyUnderContainer(t *testing.T) {
	ctx := context.Background()
	v := newVFS(t)
	leaf, err := v.EnsureDirectoryPath(ctx, 1, "NOTE/CustomFolder")
	require.NoError(t, err)

	flatPath, _, err := v.GetPathInfo(ctx, 1, leaf.ID, true)
	require.NoError(t, err)
	assert.Equal(t, "CustomFolder", flatPath)
}

func TestRenameSystemDirectoryForbidden(t *testing.T) {
	ctx := context.Background()
	v := newVFS(t)
	noteDir, err := v.EnsureDirectoryPath(ctx, 1, "NOTE")
	require.NoError(t, err)

	err = v.MoveNode(ctx, 1, noteDir.ID, RootParentID, "Renamed")
	assert.Error(t, err)
}

func isNotFound(err error) bool {
	type notFounder interface{ HTTPStatus() int }
	nf, ok := err.(notFounder)
	return ok && nf.HTTPStatus() == 404
}

func TestListRecycleMostRecentFirst(t *testing.T) {
	ctx := context.Background()
	v := newVFS(t)

	a, err := v.CreateFile(ctx, 1, RootParentID, "a.note", 10, "md5a", "key-a")
	require.NoError(t, err)
	b, err := v.CreateFile(ctx, 1, RootParentID, "b.note", 10, "md5b", "key-b")
	require.NoError(t, err)

	require.NoError(t, v.DeleteNode(ctx, 1, a.ID))
	require.NoError(t, v.DeleteNode(ctx, 1, b.ID))

	entries, err := v.ListRecycle(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, b.ID, entries[0].NodeID)
	assert.Equal(t, a.ID, entries[1].NodeID)
}

func TestListRecycleIsolatedPerUser(t *testing.T) {
	ctx := context.Background()
	v := newVFS(t)

	f, err := v.CreateFile(ctx, 1, RootParentID, "a.note", 10, "md5a", "key-a")
	require.NoError(t, err)
	require.NoError(t, v.DeleteNode(ctx, 1, f.ID))

	entries, err := v.ListRecycle(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
