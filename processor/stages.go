package processor

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/inkvault/inkvault/cmn"
	"github.com/inkvault/inkvault/cmn/errs"
)

// runHashing parses the current notebook bytes, reconciles note_pages
// against what the renderer reports, and invalidates every downstream
// stage for any page whose content_hash changed (spec.md §4.7 step 1,
// §8 scenario 5). It has no stable end-state artifact of its own beyond
// note_pages, so it always re-runs rather than gating on a prior
// COMPLETED status: every NoteUpdated must re-derive the page list.
func (s *Service) runHashing(ctx context.Context, fileID int64, noteBytes []byte) (ok bool, err error) {
	return runStage(ctx, s.db, fileID, TaskPageHashing, GlobalKey, func(ctx context.Context) error {
		parsed, err := s.renderer.ParsePages(ctx, noteBytes)
		if err != nil {
			return err
		}
		existing, err := pagesForFile(ctx, s.db, fileID)
		if err != nil {
			return err
		}
		existingByID := make(map[string]Page, len(existing))
		for _, p := range existing {
			existingByID[p.PageID] = p
		}
		seen := make(map[string]bool, len(parsed))
		changed := len(parsed) != len(existing)
		for idx, p := range parsed {
			seen[p.PageID] = true
			prior, had := existingByID[p.PageID]
			if err := upsertPage(ctx, s.db, fileID, idx, p.PageID, p.ContentHash); err != nil {
				return err
			}
			if had && prior.ContentHash != p.ContentHash {
				changed = true
				if err := s.invalidatePage(ctx, fileID, p.PageID); err != nil {
					return err
				}
			}
		}
		for _, p := range existing {
			if seen[p.PageID] {
				continue
			}
			changed = true
			if err := s.removePage(ctx, fileID, p.PageID); err != nil {
				return err
			}
		}
		if changed {
			// The transcript the summary module aggregates depends on every
			// page's text, so any page addition, removal or content change
			// invalidates it too.
			if err := deleteTask(ctx, s.db, fileID, TaskSummary, GlobalKey); err != nil {
				return err
			}
		}
		return nil
	})
}

// invalidatePage clears derived content and every downstream SystemTask
// row for a page whose content_hash changed, so PNG/OCR/EMBEDDING all
// re-run against the new content (spec.md §8 scenario 5).
func (s *Service) invalidatePage(ctx context.Context, fileID int64, pageID string) error {
	if err := clearPageDerivedContent(ctx, s.db, fileID, pageID); err != nil {
		return err
	}
	return deleteTasksForPage(ctx, s.db, fileID, pageID)
}

// removePage deletes a page no longer present in the notebook, along with
// its SystemTask rows and cached PNG.
func (s *Service) removePage(ctx context.Context, fileID int64, pageID string) error {
	if err := deletePage(ctx, s.db, fileID, pageID); err != nil {
		return err
	}
	if err := deleteTasksForPage(ctx, s.db, fileID, pageID); err != nil {
		return err
	}
	return s.blobs.Delete(ctx, cmn.BucketCache, pngCacheKey(fileID, pageID))
}

// runPNGStage rasterizes one page to the CACHE bucket. ok reports whether
// the PNG now exists and OCR may proceed; a render or write failure
// returns ok=false without propagating the error, so the rest of the file
// keeps processing.
func (s *Service) runPNGStage(ctx context.Context, fileID int64, pageID string, noteBytes []byte) (ok bool, err error) {
	key := pngCacheKey(fileID, pageID)
	done, err := stageDone(ctx, s.db, fileID, TaskPNGConversion, PageKey(pageID), func(ctx context.Context) (bool, error) {
		return s.blobs.Exists(ctx, cmn.BucketCache, key)
	})
	if err != nil {
		return false, err
	}
	if done {
		return true, nil
	}
	return runStage(ctx, s.db, fileID, TaskPNGConversion, PageKey(pageID), func(ctx context.Context) error {
		png, err := s.renderer.RenderPagePNG(ctx, noteBytes, pageID)
		if err != nil {
			return err
		}
		_, err = s.blobs.Put(ctx, cmn.BucketCache, key, png)
		return err
	})
}

// runOCRStage transcribes the cached PNG for a page. Callers only invoke
// this once runPNGStage has reported ok=true, enforcing the PNG->OCR
// dependency at the orchestration level (spec.md §4.7 "dependency
// gating") rather than inside the stage itself.
func (s *Service) runOCRStage(ctx context.Context, fileID int64, pageID string) (ok bool, err error) {
	done, err := stageDone(ctx, s.db, fileID, TaskOCR, PageKey(pageID), func(ctx context.Context) (bool, error) {
		page, err := getPage(ctx, s.db, fileID, pageID)
		return page != nil && page.TextContent != "", err
	})
	if err != nil {
		return false, err
	}
	if done {
		return true, nil
	}
	return runStage(ctx, s.db, fileID, TaskOCR, PageKey(pageID), func(ctx context.Context) error {
		png, err := s.blobs.Get(ctx, cmn.BucketCache, pngCacheKey(fileID, pageID))
		if err != nil {
			return err
		}
		text, err := s.infer.OCRPage(ctx, png)
		if err != nil {
			return err
		}
		return setPageText(ctx, s.db, fileID, pageID, text)
	})
}

// runEmbeddingStage embeds a page's OCR text. Its dependency is the text
// itself rather than a separate stage: a page with no transcribed text
// (OCR skipped or failed, or genuinely blank) has nothing to embed, so
// this reports ok=false without marking FAILED.
func (s *Service) runEmbeddingStage(ctx context.Context, fileID int64, pageID string) (ok bool, err error) {
	page, err := getPage(ctx, s.db, fileID, pageID)
	if err != nil {
		return false, err
	}
	if page == nil || page.TextContent == "" {
		return false, nil
	}
	done, err := stageDone(ctx, s.db, fileID, TaskEmbedding, PageKey(pageID), func(ctx context.Context) (bool, error) {
		p, err := getPage(ctx, s.db, fileID, pageID)
		return p != nil && p.Embedding != "", err
	})
	if err != nil {
		return false, err
	}
	if done {
		return true, nil
	}
	return runStage(ctx, s.db, fileID, TaskEmbedding, PageKey(pageID), func(ctx context.Context) error {
		vec, err := s.infer.Embed(ctx, page.TextContent)
		if err != nil {
			return err
		}
		encoded, err := json.Marshal(vec)
		if err != nil {
			return errs.Internalf(err, "processor: encode embedding")
		}
		return setPageEmbedding(ctx, s.db, fileID, pageID, string(encoded))
	})
}

// runSummaryStage aggregates every page's OCR transcript and asks the
// generative-model client to summarize it, once all pages for the file
// have been attempted this pass (spec.md §4.7 "global, after all pages").
func (s *Service) runSummaryStage(ctx context.Context, userID, fileID int64, storageKey string) (ok bool, err error) {
	if storageKey == "" {
		return false, errNoOpaqueKey
	}
	done, err := stageDone(ctx, s.db, fileID, TaskSummary, GlobalKey, func(ctx context.Context) (bool, error) {
		return true, nil // the summaries rows are the artifact; COMPLETED implies they exist
	})
	if err != nil {
		return false, err
	}
	if done {
		return true, nil
	}
	return runStage(ctx, s.db, fileID, TaskSummary, GlobalKey, func(ctx context.Context) error {
		pages, err := pagesForFile(ctx, s.db, fileID)
		if err != nil {
			return err
		}
		var transcript strings.Builder
		for _, p := range pages {
			if p.TextContent == "" {
				continue
			}
			if transcript.Len() > 0 {
				transcript.WriteString("\n\n")
			}
			transcript.WriteString(p.TextContent)
		}
		if err := upsertSummary(ctx, s.db, userID, fileID, storageKey, summaryKindTranscript, transcript.String()); err != nil {
			return err
		}
		summaryText, err := s.infer.Summarize(ctx, transcript.String())
		if err != nil {
			return err
		}
		return upsertSummary(ctx, s.db, userID, fileID, storageKey, summaryKindSummary, summaryText)
	})
}
