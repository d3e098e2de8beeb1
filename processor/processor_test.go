package processor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkvault/inkvault/blobstore"
	"github.com/inkvault/inkvault/cmn"
	"github.com/inkvault/inkvault/db"
	"github.com/inkvault/inkvault/eventbus"
	"github.com/inkvault/inkvault/renderer"
	"github.com/inkvault/inkvault/vfs"
)

// fakeRenderer treats the note's bytes as a literal page script: each
// comma-separated entry is "pageID:hash", and RenderPagePNG returns
// "png:<hash>" as the PNG bytes so tests can assert on cache contents without a
// real notebook format.
type fakeRenderer struct {
	mu    sync.Mutex
	calls int
}

func parsePageScript(note []byte) []renderer.PageInfo {
	var out []renderer.PageInfo
	cur := string(note)
	if cur == "" {
		return out
	}
	start := 0
	for i := 0; i <= len(cur); i++ {
		if i == len(cur) || cur[i] == ',' {
			entry := cur[start:i]
			start = i + 1
			var id, hash string
			for j := 0; j < len(entry); j++ {
				if entry[j] == ':' {
					id, hash = entry[:j], entry[j+1:]
					break
				}
			}
			if id != "" {
				out = append(out, renderer.PageInfo{PageID: id, ContentHash: hash})
			}
		}
	}
	return out
}

func (f *fakeRenderer) ParsePages(ctx context.Context, note []byte) ([]renderer.PageInfo, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return parsePageScript(note), nil
}

func (f *fakeRenderer) RenderPagePNG(ctx context.Context, note []byte, pageID string) ([]byte, error) {
	for _, p := range parsePageScript(note) {
		if p.PageID == pageID {
			return []byte("png:" + p.ContentHash), nil
		}
	}
	return nil, fmt.Errorf("page %s not found", pageID)
}

type fakeInference struct {
	mu        sync.Mutex
	ocrCalls  int
	embCalls  int
	failOCR   map[string]bool
}

func (f *fakeInference) OCRPage(ctx context.Context, png []byte) (string, error) {
	f.mu.Lock()
	f.ocrCalls++
	fail := f.failOCR != nil && f.failOCR[string(png)]
	f.mu.Unlock()
	if fail {
		return "", fmt.Errorf("ocr failed")
	}
	return "text for " + string(png), nil
}

func (f *fakeInference) Embed(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	f.embCalls++
	f.mu.Unlock()
	return []float32{1, 2, 3}, nil
}

func (f *fakeInference) Summarize(ctx context.Context, transcript string) (string, error) {
	return "summary of: " + transcript, nil
}

type testEnv struct {
	db    *db.DB
	vfs   *vfs.VFS
	blobs *blobstore.Store
	bus   *eventbus.Bus
	r     *fakeRenderer
	infer *fakeInference
	svc   *Service
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	database, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	ids := cmn.NewSnowflake(time.Now(), 1)
	v := vfs.New(database, ids)
	blobs, err := blobstore.Open(t.TempDir())
	require.NoError(t, err)
	bus := eventbus.New()
	r := &fakeRenderer{}
	infer := &fakeInference{}
	svc := New(database, v, blobs, r, infer, bus, 2)
	return &testEnv{db: database, vfs: v, blobs: blobs, bus: bus, r: r, infer: infer, svc: svc}
}

// writeNote creates (or overwrites) a notebook file at /name (name is path
// without its leading slash) whose bytes are a page script fakeRenderer
// understands, and returns its node ID.
func writeNote(t *testing.T, env *testEnv, userID int64, path, script string) int64 {
	t.Helper()
	ctx := context.Background()
	name := strings.TrimPrefix(path, "/")
	key := fmt.Sprintf("storage-%s-%d", name, time.Now().UnixNano())
	md5hex, err := env.blobs.Put(ctx, cmn.BucketUserData, key, []byte(script))
	require.NoError(t, err)

	existing, err := env.vfs.ResolvePath(ctx, userID, path)
	if err == nil && existing != nil && !existing.IsFolder {
		require.NoError(t, env.vfs.ReplaceFile(ctx, userID, existing.ID, int64(len(script)), md5hex, key))
		return existing.ID
	}
	node, err := env.vfs.CreateFile(ctx, userID, vfs.RootParentID, name, int64(len(script)), md5hex, key)
	require.NoError(t, err)
	return node.ID
}

func waitForTaskStatus(t *testing.T, env *testEnv, fileID int64, taskType, key, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		status, found, err := taskStatus(context.Background(), env.db, fileID, taskType, key)
		require.NoError(t, err)
		if found && status == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s/%s for file %d never reached status %s", taskType, key, fileID, want)
}

func TestProcessFileRunsHashingPNGOCREmbeddingAndSummary(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	fileID := writeNote(t, env, 1, "/notes.note", "p1:h1,p2:h2")

	env.svc.processFile(ctx, 1, fileID)

	waitForTaskStatus(t, env, fileID, TaskSummary, GlobalKey, StatusCompleted)

	pages, err := pagesForFile(ctx, env.db, fileID)
	require.NoError(t, err)
	require.Len(t, pages, 2)
	for _, p := range pages {
		assert.NotEmpty(t, p.TextContent)
		assert.NotEmpty(t, p.Embedding)
		exists, err := env.blobs.Exists(ctx, cmn.BucketCache, pngCacheKey(fileID, p.PageID))
		require.NoError(t, err)
		assert.True(t, exists)
	}
}

func TestHashChangeInvalidatesDownstreamStages(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	fileID := writeNote(t, env, 1, "/notes.note", "p1:h1")
	env.svc.processFile(ctx, 1, fileID)
	waitForTaskStatus(t, env, fileID, TaskEmbedding, PageKey("p1"), StatusCompleted)

	pngBefore, err := env.blobs.Get(ctx, cmn.BucketCache, pngCacheKey(fileID, "p1"))
	require.NoError(t, err)
	assert.Equal(t, "png:h1", string(pngBefore))

	writeNote(t, env, 1, "/notes.note", "p1:h2")
	env.svc.processFile(ctx, 1, fileID)
	waitForTaskStatus(t, env, fileID, TaskEmbedding, PageKey("p1"), StatusCompleted)

	page, err := getPage(ctx, env.db, fileID, "p1")
	require.NoError(t, err)
	assert.Equal(t, "h2", page.ContentHash)
	assert.Contains(t, page.TextContent, "png:h2")

	pngAfter, err := env.blobs.Get(ctx, cmn.BucketCache, pngCacheKey(fileID, "p1"))
	require.NoError(t, err)
	assert.Equal(t, "png:h2", string(pngAfter))
}

func TestRemovedPageIsDeletedWithItsCacheArtifact(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	fileID := writeNote(t, env, 1, "/notes.note", "p1:h1,p2:h2")
	env.svc.processFile(ctx, 1, fileID)
	waitForTaskStatus(t, env, fileID, TaskSummary, GlobalKey, StatusCompleted)

	writeNote(t, env, 1, "/notes.note", "p1:h1")
	env.svc.processFile(ctx, 1, fileID)
	waitForTaskStatus(t, env, fileID, TaskSummary, GlobalKey, StatusCompleted)

	pages, err := pagesForFile(ctx, env.db, fileID)
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, "p1", pages[0].PageID)

	exists, err := env.blobs.Exists(ctx, cmn.BucketCache, pngCacheKey(fileID, "p2"))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestOCRFailureSkipsEmbeddingForThatPage(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	env.infer.failOCR = map[string]bool{"png:h1": true}
	fileID := writeNote(t, env, 1, "/notes.note", "p1:h1")

	env.svc.processFile(ctx, 1, fileID)
	waitForTaskStatus(t, env, fileID, TaskOCR, PageKey("p1"), StatusFailed)

	status, found, err := taskStatus(ctx, env.db, fileID, TaskEmbedding, PageKey("p1"))
	require.NoError(t, err)
	assert.False(t, found, "embedding stage should never have run, got status %q", status)
}

func TestEnqueueDedupesConcurrentTriggersForSameFile(t *testing.T) {
	env := newEnv(t)
	fileID := writeNote(t, env, 1, "/notes.note", "p1:h1")

	env.svc.mu.Lock()
	env.svc.inFlight[fileID] = true
	env.svc.mu.Unlock()

	env.svc.enqueue(job{UserID: 1, FileID: fileID})
	assert.Equal(t, 0, len(env.svc.queue), "a file already marked in-flight must not be queued again")
}

func TestNoteDeletedCleansUpDerivedState(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	fileID := writeNote(t, env, 1, "/notes.note", "p1:h1")
	env.svc.processFile(ctx, 1, fileID)
	waitForTaskStatus(t, env, fileID, TaskSummary, GlobalKey, StatusCompleted)

	require.NoError(t, env.svc.handleDeleted(ctx, fileID))

	pages, err := pagesForFile(ctx, env.db, fileID)
	require.NoError(t, err)
	assert.Empty(t, pages)

	_, found, err := taskStatus(ctx, env.db, fileID, TaskSummary, GlobalKey)
	require.NoError(t, err)
	assert.False(t, found)

	exists, err := env.blobs.Exists(ctx, cmn.BucketCache, pngCacheKey(fileID, "p1"))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestStartRecoversIncompleteFilesOnBoot(t *testing.T) {
	env := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fileID := writeNote(t, env, 1, "/notes.note", "p1:h1")

	require.NoError(t, upsertTaskStatus(ctx, env.db, fileID, TaskPageHashing, GlobalKey, StatusPending, "", false))

	require.NoError(t, env.svc.Start(ctx))
	waitForTaskStatus(t, env, fileID, TaskSummary, GlobalKey, StatusCompleted)
}
