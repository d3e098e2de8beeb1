package processor

import (
	"context"
	"database/sql"

	"github.com/inkvault/inkvault/cmn/errs"
	"github.com/inkvault/inkvault/db"
)

// Page is a note_pages row (spec.md §3 NotePage).
type Page struct {
	FileID      int64
	PageIndex   int
	PageID      string
	ContentHash string
	TextContent string
	Embedding   string // JSON array of floats, empty if not yet embedded
}

func pagesForFile(ctx context.Context, d *db.DB, fileID int64) ([]Page, error) {
	rows, err := d.QueryContext(ctx,
		"SELECT file_id, page_index, page_id, content_hash, text_content, embedding FROM note_pages WHERE file_id = ? ORDER BY page_index ASC", fileID)
	if err != nil {
		return nil, errs.Internalf(err, "processor: load pages")
	}
	defer rows.Close()
	var out []Page
	for rows.Next() {
		var p Page
		var hash, text, embedding sql.NullString
		if err := rows.Scan(&p.FileID, &p.PageIndex, &p.PageID, &hash, &text, &embedding); err != nil {
			return nil, err
		}
		p.ContentHash, p.TextContent, p.Embedding = hash.String, text.String, embedding.String
		out = append(out, p)
	}
	return out, rows.Err()
}

func upsertPage(ctx context.Context, d *db.DB, fileID int64, pageIndex int, pageID, contentHash string) error {
	_, err := d.ExecContext(ctx,
		`INSERT INTO note_pages (file_id, page_index, page_id, content_hash)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(file_id, page_id) DO UPDATE SET page_index = excluded.page_index, content_hash = excluded.content_hash`,
		fileID, pageIndex, pageID, contentHash)
	return err
}

func clearPageDerivedContent(ctx context.Context, d *db.DB, fileID int64, pageID string) error {
	_, err := d.ExecContext(ctx,
		"UPDATE note_pages SET text_content = NULL, embedding = NULL WHERE file_id = ? AND page_id = ?", fileID, pageID)
	return err
}

func setPageText(ctx context.Context, d *db.DB, fileID int64, pageID, text string) error {
	_, err := d.ExecContext(ctx,
		"UPDATE note_pages SET text_content = ? WHERE file_id = ? AND page_id = ?", text, fileID, pageID)
	return err
}

func setPageEmbedding(ctx context.Context, d *db.DB, fileID int64, pageID, embeddingJSON string) error {
	_, err := d.ExecContext(ctx,
		"UPDATE note_pages SET embedding = ? WHERE file_id = ? AND page_id = ?", embeddingJSON, fileID, pageID)
	return err
}

func getPage(ctx context.Context, d *db.DB, fileID int64, pageID string) (*Page, error) {
	var p Page
	var hash, text, embedding sql.NullString
	err := d.QueryRowContext(ctx,
		"SELECT file_id, page_index, page_id, content_hash, text_content, embedding FROM note_pages WHERE file_id = ? AND page_id = ?", fileID, pageID).
		Scan(&p.FileID, &p.PageIndex, &p.PageID, &hash, &text, &embedding)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Internalf(err, "processor: load page")
	}
	p.ContentHash, p.TextContent, p.Embedding = hash.String, text.String, embedding.String
	return &p, nil
}

func deletePage(ctx context.Context, d *db.DB, fileID int64, pageID string) error {
	_, err := d.ExecContext(ctx, "DELETE FROM note_pages WHERE file_id = ? AND page_id = ?", fileID, pageID)
	return err
}

func deleteAllPagesForFile(ctx context.Context, d *db.DB, fileID int64) error {
	_, err := d.ExecContext(ctx, "DELETE FROM note_pages WHERE file_id = ?", fileID)
	return err
}
