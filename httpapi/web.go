package httpapi

import (
	"time"

	"github.com/valyala/fasthttp"

	"github.com/inkvault/inkvault/vfs"
)

// handleWebListQuery is the flattened, camelCase counterpart of
// handleListFolder: the web client never sees the NOTE/DOCUMENT category
// containers VFS presents to device clients (spec.md §4.1, §6 "Web API").
func (s *Server) handleWebListQuery(ctx *fasthttp.RequestCtx) {
	claims, err := s.authenticate(ctx)
	if err != nil {
		writeErr(ctx, err)
		return
	}
	var req struct {
		FolderID  int64  `json:"folderId"`
		Path      string `json:"path"`
		Recursive bool   `json:"recursive"`
	}
	if err := bindJSON(ctx, &req); err != nil {
		writeErr(ctx, err)
		return
	}
	target, err := s.resolveTarget(ctx, claims.UserID, req.FolderID, req.Path)
	if err != nil {
		writeErr(ctx, err)
		return
	}

	var nodes []*vfs.Node
	if req.Recursive {
		withPaths, err := s.vfs.ListRecursive(ctx, claims.UserID, target.ID)
		if err != nil {
			writeErr(ctx, err)
			return
		}
		for _, nwp := range withPaths {
			nodes = append(nodes, nwp.Node)
		}
	} else {
		nodes, err = s.vfs.ListDirectory(ctx, claims.UserID, target.ID)
		if err != nil {
			writeErr(ctx, err)
			return
		}
	}

	out := make([]userFileVO, 0, len(nodes))
	for _, n := range nodes {
		pathDisplay, _, err := s.vfs.GetPathInfo(ctx, claims.UserID, n.ID, true)
		if err != nil {
			writeErr(ctx, err)
			return
		}
		parentPath, _, err := s.vfs.GetPathInfo(ctx, claims.UserID, n.ParentID, true)
		if err != nil {
			writeErr(ctx, err)
			return
		}
		out = append(out, toUserFileVO(n, pathDisplay, parentPath))
	}
	writeOK(ctx, map[string]any{"total": len(out), "userFileVOList": out})
}

func (s *Server) handleWebRename(ctx *fasthttp.RequestCtx) {
	claims, err := s.authenticate(ctx)
	if err != nil {
		writeErr(ctx, err)
		return
	}
	var req struct {
		ID      int64  `json:"id"`
		NewName string `json:"newName"`
	}
	if err := bindJSON(ctx, &req); err != nil {
		writeErr(ctx, err)
		return
	}
	node, err := s.vfs.GetNodeByID(ctx, claims.UserID, req.ID)
	if err != nil {
		writeErr(ctx, err)
		return
	}
	if err := s.files.Move(ctx, claims.UserID, req.ID, node.ParentID, req.NewName); err != nil {
		writeErr(ctx, err)
		return
	}
	writeOK(ctx, nil)
}

// handleSearchChunks backs /api/search/chunks, a route with no device/web
// parity in the vendor protocol: it exposes SearchService
// directly to whatever client wants semantic search over a user's notes.
func (s *Server) handleSearchChunks(ctx *fasthttp.RequestCtx) {
	claims, err := s.authenticate(ctx)
	if err != nil {
		writeErr(ctx, err)
		return
	}
	var req struct {
		Query      string `json:"query"`
		TopN       int    `json:"topN"`
		NameFilter string `json:"nameFilter"`
		DateAfter  int64  `json:"dateAfter"`
		DateBefore int64  `json:"dateBefore"`
	}
	if err := bindJSON(ctx, &req); err != nil {
		writeErr(ctx, err)
		return
	}
	var after, before *time.Time
	if req.DateAfter > 0 {
		t := time.UnixMilli(req.DateAfter)
		after = &t
	}
	if req.DateBefore > 0 {
		t := time.UnixMilli(req.DateBefore)
		before = &t
	}
	results, err := s.search.SearchChunks(ctx, claims.UserID, req.Query, req.TopN, req.NameFilter, after, before)
	if err != nil {
		writeErr(ctx, err)
		return
	}
	writeOK(ctx, map[string]any{"results": results})
}

// handleIntegrityScan backs /api/integrity/scan, surfacing IntegrityService
// (spec.md §4.9) as an on-demand diagnostic rather than a background job.
func (s *Server) handleIntegrityScan(ctx *fasthttp.RequestCtx) {
	claims, err := s.authenticate(ctx)
	if err != nil {
		writeErr(ctx, err)
		return
	}
	report, err := s.integrity.ScanUser(ctx, claims.UserID)
	if err != nil {
		writeErr(ctx, err)
		return
	}
	writeOK(ctx, map[string]any{"report": report})
}
