// Package renderer stands in for the opaque notebook binary parser and
// rasterizer the spec places out of scope (spec.md §1 "the notebook binary
// parser and rasterizer (treated as an opaque 'renderer' yielding page
// rasters and hashes)"). The hashing module calls this to enumerate pages
// and the PNG-conversion module calls it to rasterize one page.
package renderer

import "context"

// PageInfo is one page of a parsed notebook: a stable identifier and the
// content hash the hashing module uses to detect edits (spec.md §3
// NotePage, §4.7 step 1).
type PageInfo struct {
	PageID      string
	ContentHash string
}

// Renderer parses notebook bytes and rasterizes individual pages.
type Renderer interface {
	// ParsePages enumerates the pages currently in a notebook, in order.
	ParsePages(ctx context.Context, noteBytes []byte) ([]PageInfo, error)
	// RenderPagePNG rasterizes one page (identified by its stable PageID)
	// to PNG bytes.
	RenderPagePNG(ctx context.Context, noteBytes []byte, pageID string) ([]byte, error)
}
