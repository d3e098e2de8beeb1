package renderer

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec // content hash, not a security boundary
	"encoding/hex"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"time"

	"github.com/inkvault/inkvault/cmn/errs"
)

// pageDelimiter separates pages within a notebook's byte stream in the
// absence of the real vendor binary format, which spec.md §1 places out of
// scope ("the notebook binary parser and rasterizer, treated as an opaque
// renderer"). Simple exists only so ProcessorService has a concrete
// Renderer to drive end to end.
var pageDelimiter = []byte("\x00PAGE\x00")

// pageEpoch anchors the fake per-page timestamps Simple assigns pages,
// since the real vendor format encodes a page's creation time in its id
// (spec.md GLOSSARY "page_id") and nothing here actually knows it.
var pageEpoch = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

// Simple is a minimal stand-in Renderer: it splits a notebook's bytes on
// pageDelimiter and assigns each page a stable id built from its ordinal
// offset from pageEpoch, rather than parsing any real stroke format.
type Simple struct{}

func NewSimple() *Simple { return &Simple{} }

func (r *Simple) ParsePages(_ context.Context, noteBytes []byte) ([]PageInfo, error) {
	parts := bytes.Split(noteBytes, pageDelimiter)
	pages := make([]PageInfo, 0, len(parts))
	for i, part := range parts {
		sum := md5.Sum(part) //nolint:gosec
		pages = append(pages, PageInfo{
			PageID:      fmt.Sprintf("P%s", pageEpoch.Add(time.Duration(i)*time.Minute).Format("20060102150405")),
			ContentHash: hex.EncodeToString(sum[:]),
		})
	}
	return pages, nil
}

func (r *Simple) RenderPagePNG(_ context.Context, noteBytes []byte, pageID string) ([]byte, error) {
	parts := bytes.Split(noteBytes, pageDelimiter)
	idx, ok := pageIndex(pageID)
	if !ok || idx >= len(parts) {
		return nil, errs.NotFoundf("page %q not found in notebook", pageID)
	}

	shade := uint8(len(parts[idx]) % 256)
	img := image.NewGray(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.Gray{Y: shade})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func pageIndex(pageID string) (int, bool) {
	if len(pageID) < 15 || pageID[0] != 'P' {
		return 0, false
	}
	t, err := time.Parse("20060102150405", pageID[1:15])
	if err != nil {
		return 0, false
	}
	return int(t.Sub(pageEpoch) / time.Minute), true
}
