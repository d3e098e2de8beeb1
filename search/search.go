// Package search implements SearchService (spec.md §4.8): semantic search
// over a user's notebook pages by embedding the query, ranking candidate
// pages by cosine similarity, and filtering by filename substring and the
// date inferred from each page's stable page_id.
package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/inkvault/inkvault/cmn/errs"
	"github.com/inkvault/inkvault/db"
	"github.com/inkvault/inkvault/inference"
)

// Result is one ranked hit, matching the fields spec.md §4.8 step 3 names.
type Result struct {
	FileID      int64
	FileName    string
	PageIndex   int
	PageID      string
	Score       float32
	TextPreview string
	Date        *time.Time
}

// Service is SearchService.
type Service struct {
	db    *db.DB
	infer inference.Service
}

func New(d *db.DB, infer inference.Service) *Service {
	return &Service{db: d, infer: infer}
}

const previewLen = 200

// candidate mirrors one row of the NotePage/file-node join before ranking.
type candidate struct {
	fileID      int64
	fileName    string
	pageIndex   int
	pageID      string
	textContent string
	embedding   string
}

// SearchChunks embeds query, ranks the user's pages with a non-null
// embedding by cosine similarity against it, and returns the top_n
// matches after applying the optional filename and date-window filters
// (spec.md §4.8).
func (s *Service) SearchChunks(ctx context.Context, userID int64, query string, topN int, nameFilter string, dateAfter, dateBefore *time.Time) ([]Result, error) {
	if topN <= 0 {
		topN = 10
	}
	queryVec, err := s.infer.Embed(ctx, query)
	if err != nil {
		return nil, nil // spec.md §4.8 step 1: embedding failure yields an empty result list, not an error
	}

	candidates, err := s.candidates(ctx, userID, nameFilter)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		var vec []float32
		if err := json.Unmarshal([]byte(c.embedding), &vec); err != nil {
			continue // a malformed embedding row is skipped, not fatal to the whole search
		}
		date, hasDate := inferredDate(c.pageID)
		if hasDate {
			if dateAfter != nil && date.Before(*dateAfter) {
				continue
			}
			if dateBefore != nil && date.After(*dateBefore) {
				continue
			}
		} else if dateAfter != nil || dateBefore != nil {
			continue // a date window was requested but this page has no inferable date
		}

		r := Result{
			FileID:      c.fileID,
			FileName:    c.fileName,
			PageIndex:   c.pageIndex,
			PageID:      c.pageID,
			Score:       cosineSimilarity(queryVec, vec),
			TextPreview: preview(c.textContent),
		}
		if hasDate {
			r.Date = &date
		}
		results = append(results, r)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > topN {
		results = results[:topN]
	}
	return results, nil
}

func (s *Service) candidates(ctx context.Context, userID int64, nameFilter string) ([]candidate, error) {
	query := `
		SELECT np.file_id, n.name, np.page_index, np.page_id, np.text_content, np.embedding
		FROM note_pages np
		JOIN user_file_nodes n ON n.id = np.file_id
		WHERE n.user_id = ? AND n.is_active = 'Y' AND np.embedding IS NOT NULL`
	args := []any{userID}
	if nameFilter != "" {
		query += " AND LOWER(n.name) LIKE ?"
		args = append(args, "%"+strings.ToLower(nameFilter)+"%")
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.Internalf(err, "search: query candidates")
	}
	defer rows.Close()

	var out []candidate
	for rows.Next() {
		var c candidate
		var text sql.NullString
		if err := rows.Scan(&c.fileID, &c.fileName, &c.pageIndex, &c.pageID, &text, &c.embedding); err != nil {
			return nil, err
		}
		c.textContent = text.String
		out = append(out, c)
	}
	return out, rows.Err()
}

func cosineSimilarity(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

func preview(text string) string {
	if len(text) <= previewLen {
		return text
	}
	return text[:previewLen]
}

// inferredDate extracts the YYYYMMDDhhmmss timestamp spec.md's GLOSSARY
// says a page_id encodes (format "P<YYYYMMDDhhmmss>..."), without needing
// to re-parse the notebook.
func inferredDate(pageID string) (time.Time, bool) {
	if !strings.HasPrefix(pageID, "P") || len(pageID) < 1+14 {
		return time.Time{}, false
	}
	digits := pageID[1 : 1+14]
	if _, err := strconv.ParseInt(digits, 10, 64); err != nil {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation("20060102150405", digits, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
