// Package processor implements ProcessorService: the pipeline that turns a
// NoteUpdated event into parsed pages, cached page rasters, OCR text, page
// embeddings and a file-level summary (spec.md §4.7). Each stage's status
// lives in system_tasks so a crash mid-file resumes instead of restarting
// the whole file, and a NoteDeleted event tears down everything derived
// from a file once it's gone.
package processor

import (
	"context"
	"fmt"
	"sync"

	"github.com/inkvault/inkvault/blobstore"
	"github.com/inkvault/inkvault/cmn"
	"github.com/inkvault/inkvault/db"
	"github.com/inkvault/inkvault/eventbus"
	"github.com/inkvault/inkvault/inference"
	"github.com/inkvault/inkvault/metrics"
	"github.com/inkvault/inkvault/renderer"
	"github.com/inkvault/inkvault/vfs"
)

// defaultQueueDepth bounds how many distinct files can be queued for
// processing; when the queue is full, enqueue drops the file (logging a
// warning) instead of blocking, and the next recovery pass picks it up.
const defaultQueueDepth = 1024

type job struct {
	UserID int64
	FileID int64
}

// Service is ProcessorService. It owns no goroutines until Start is
// called, so construction can happen anywhere in the wiring graph.
type Service struct {
	db       *db.DB
	vfs      *vfs.VFS
	blobs    *blobstore.Store
	renderer renderer.Renderer
	infer    inference.Service
	bus      *eventbus.Bus
	workers  int

	queue chan job

	mu       sync.Mutex
	inFlight map[int64]bool
}

func New(d *db.DB, v *vfs.VFS, blobs *blobstore.Store, r renderer.Renderer, infer inference.Service, bus *eventbus.Bus, workers int) *Service {
	if workers <= 0 {
		workers = 4
	}
	return &Service{
		db:       d,
		vfs:      v,
		blobs:    blobs,
		renderer: r,
		infer:    infer,
		bus:      bus,
		workers:  workers,
		queue:    make(chan job, defaultQueueDepth),
		inFlight: make(map[int64]bool),
	}
}

// Start launches the worker pool, subscribes to the event bus, and
// re-enqueues every file left in a non-COMPLETED state from a prior run
// (spec.md §4.7 "Recovery") before returning. Workers and subscriptions
// run until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	if err := s.recover(ctx); err != nil {
		return err
	}

	updated := s.bus.SubscribeNoteUpdated(defaultQueueDepth)
	deleted := s.bus.SubscribeNoteDeleted(defaultQueueDepth)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-updated:
				if !ok {
					return
				}
				s.enqueue(job{UserID: e.UserID, FileID: e.FileID})
			}
		}
	}()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-deleted:
				if !ok {
					return
				}
				if err := s.handleDeleted(ctx, e.FileID); err != nil {
					cmn.Warningf("processor: cleanup for deleted file %d failed: %v", e.FileID, err)
				}
			}
		}
	}()

	for i := 0; i < s.workers; i++ {
		go s.runWorker(ctx)
	}
	return nil
}

func (s *Service) recover(ctx context.Context) error {
	ids, err := nonCompletedFileIDs(ctx, s.db)
	if err != nil {
		return err
	}
	for _, fileID := range ids {
		userID, _, found, err := fileOwner(ctx, s.db, fileID)
		if err != nil {
			return err
		}
		if !found {
			continue // node was deleted since the task row was written; NoteDeleted cleanup handles it
		}
		s.enqueue(job{UserID: userID, FileID: fileID})
	}
	if len(ids) > 0 {
		cmn.Infof("processor: recovered %d incomplete file(s)", len(ids))
	}
	return nil
}

// enqueue is a no-op if fileID is already queued or being processed,
// satisfying the "re-enqueuing a file mid-flight is a no-op" requirement
// without a second event ever starting a concurrent, redundant pass.
func (s *Service) enqueue(j job) {
	s.mu.Lock()
	if s.inFlight[j.FileID] {
		s.mu.Unlock()
		return
	}
	s.inFlight[j.FileID] = true
	s.mu.Unlock()

	select {
	case s.queue <- j:
		metrics.QueueDepth.Set(float64(len(s.queue)))
	default:
		cmn.Warningf("processor: queue full, dropping file %d (will be picked up by next recovery pass)", j.FileID)
		s.mu.Lock()
		delete(s.inFlight, j.FileID)
		s.mu.Unlock()
	}
}

func (s *Service) runWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-s.queue:
			metrics.QueueDepth.Set(float64(len(s.queue)))
			s.processFile(ctx, j.UserID, j.FileID)
			s.mu.Lock()
			delete(s.inFlight, j.FileID)
			s.mu.Unlock()
		}
	}
}

// processFile runs the hashing module, fans out the three per-page stages
// (PNG -> OCR -> EMBEDDING, gated in sequence per page but unbounded across
// pages) and finally the file-level summary (spec.md §4.7).
func (s *Service) processFile(ctx context.Context, userID, fileID int64) {
	node, err := s.vfs.GetNodeByID(ctx, userID, fileID)
	if err != nil {
		cmn.Warningf("processor: file %d no longer resolvable, skipping: %v", fileID, err)
		return
	}
	if node.IsFolder || node.StorageKey == "" {
		return
	}
	noteBytes, err := s.blobs.Get(ctx, cmn.BucketUserData, node.StorageKey)
	if err != nil {
		cmn.Warningf("processor: file %d blob unreadable: %v", fileID, err)
		return
	}

	if ok, err := s.runHashing(ctx, fileID, noteBytes); err != nil || !ok {
		if err != nil {
			cmn.Warningf("processor: hashing file %d: %v", fileID, err)
			metrics.StageTotal.WithLabelValues("hashing", "failure").Inc()
		}
		return
	}
	metrics.StageTotal.WithLabelValues("hashing", "success").Inc()

	pages, err := pagesForFile(ctx, s.db, fileID)
	if err != nil {
		cmn.Warningf("processor: loading pages for file %d: %v", fileID, err)
		return
	}

	var wg sync.WaitGroup
	for _, p := range pages {
		wg.Add(1)
		go func(pageID string) {
			defer wg.Done()
			s.processPage(ctx, fileID, pageID, noteBytes)
		}(p.PageID)
	}
	wg.Wait()

	if _, err := s.runSummaryStage(ctx, userID, fileID, node.StorageKey); err != nil {
		cmn.Warningf("processor: summarizing file %d: %v", fileID, err)
		metrics.StageTotal.WithLabelValues("summary", "failure").Inc()
	} else {
		metrics.StageTotal.WithLabelValues("summary", "success").Inc()
	}
}

// processPage runs one page through PNG -> OCR -> EMBEDDING, stopping as
// soon as a stage reports it could not produce its artifact this pass
// (spec.md §4.7 "dependency gating").
func (s *Service) processPage(ctx context.Context, fileID int64, pageID string, noteBytes []byte) {
	pngOK, err := s.runPNGStage(ctx, fileID, pageID, noteBytes)
	if err != nil {
		cmn.Warningf("processor: png stage file %d page %s: %v", fileID, pageID, err)
		metrics.StageTotal.WithLabelValues("png", "failure").Inc()
		return
	}
	if !pngOK {
		return
	}
	metrics.StageTotal.WithLabelValues("png", "success").Inc()

	ocrOK, err := s.runOCRStage(ctx, fileID, pageID)
	if err != nil {
		cmn.Warningf("processor: ocr stage file %d page %s: %v", fileID, pageID, err)
		metrics.StageTotal.WithLabelValues("ocr", "failure").Inc()
		return
	}
	if !ocrOK {
		return
	}
	metrics.StageTotal.WithLabelValues("ocr", "success").Inc()

	if _, err := s.runEmbeddingStage(ctx, fileID, pageID); err != nil {
		cmn.Warningf("processor: embedding stage file %d page %s: %v", fileID, pageID, err)
		metrics.StageTotal.WithLabelValues("embedding", "failure").Inc()
		return
	}
	metrics.StageTotal.WithLabelValues("embedding", "success").Inc()
}

// handleDeleted tears down every row and cached artifact derived from a
// file once its node is gone (spec.md §4.7 "Deletion handling").
func (s *Service) handleDeleted(ctx context.Context, fileID int64) error {
	if err := s.blobs.DeletePrefix(ctx, cmn.BucketCache, pagesPrefix(fileID)); err != nil {
		return err
	}
	if err := deleteSummariesForFile(ctx, s.db, fileID); err != nil {
		return err
	}
	if err := deleteAllTasksForFile(ctx, s.db, fileID); err != nil {
		return err
	}
	return deleteAllPagesForFile(ctx, s.db, fileID)
}

func pagesPrefix(fileID int64) string {
	return fmt.Sprintf("%d/pages/", fileID)
}
