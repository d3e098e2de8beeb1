package httpapi

import (
	"strconv"
	"strings"

	"github.com/valyala/fasthttp"

	"github.com/inkvault/inkvault/cmn/errs"
	"github.com/inkvault/inkvault/vfs"
)

func (s *Server) handleQueryRandomCode(ctx *fasthttp.RequestCtx) {
	var req struct {
		Account string `json:"account"`
	}
	if err := bindJSON(ctx, &req); err != nil {
		writeErr(ctx, err)
		return
	}
	code, ts, err := s.users.QueryRandomCode(ctx, req.Account)
	if err != nil {
		writeErr(ctx, err)
		return
	}
	writeOK(ctx, map[string]any{"randomCode": code, "timestamp": ts})
}

func (s *Server) handleLogin(ctx *fasthttp.RequestCtx) {
	var req struct {
		Account     string `json:"account"`
		Password    string `json:"password"`
		Timestamp   int64  `json:"timestamp"`
		EquipmentNo string `json:"equipmentNo"`
		LoginMethod string `json:"loginMethod"`
	}
	if err := bindJSON(ctx, &req); err != nil {
		writeErr(ctx, err)
		return
	}
	token, u, err := s.users.Login(ctx, req.Account, req.Password, req.EquipmentNo, req.LoginMethod)
	if err != nil {
		writeErr(ctx, err)
		return
	}
	writeOK(ctx, map[string]any{
		"token":           token,
		"userName":        u.DisplayName,
		"isBind":          req.EquipmentNo != "",
		"isBindEquipment": req.EquipmentNo != "",
	})
}

func (s *Server) handleSyncStart(ctx *fasthttp.RequestCtx) {
	claims, err := s.authenticate(ctx)
	if err != nil {
		writeErr(ctx, err)
		return
	}
	var req struct {
		EquipmentNo string `json:"equipmentNo"`
	}
	if err := bindJSON(ctx, &req); err != nil {
		writeErr(ctx, err)
		return
	}
	used, _, err := s.files.SpaceUsage(ctx, claims.UserID)
	if err != nil {
		writeErr(ctx, err)
		return
	}
	synType, err := s.sync.Start(ctx, claims.Email, req.EquipmentNo, used > 0)
	if err != nil {
		writeErr(ctx, err)
		return
	}
	writeOK(ctx, map[string]any{"synType": synType})
}

func (s *Server) handleSyncEnd(ctx *fasthttp.RequestCtx) {
	claims, err := s.authenticate(ctx)
	if err != nil {
		writeErr(ctx, err)
		return
	}
	var req struct {
		EquipmentNo string `json:"equipmentNo"`
	}
	if err := bindJSON(ctx, &req); err != nil {
		writeErr(ctx, err)
		return
	}
	if err := s.sync.End(ctx, claims.Email, req.EquipmentNo); err != nil {
		writeErr(ctx, err)
		return
	}
	writeOK(ctx, nil)
}

// resolveTarget finds the node a list_folder-style request names, by path
// for the device-API v2 route or by id for v3, falling back to the tree
// root when both are empty (spec.md §6).
func (s *Server) resolveTarget(ctx *fasthttp.RequestCtx, userID, id int64, path string) (*vfs.Node, error) {
	if id != 0 {
		return s.vfs.GetNodeByID(ctx, userID, id)
	}
	if path == "" || path == "/" {
		return &vfs.Node{ID: vfs.RootParentID, UserID: userID, IsFolder: true}, nil
	}
	return s.vfs.ResolvePath(ctx, userID, path)
}

func (s *Server) listEntries(ctx *fasthttp.RequestCtx, userID, parentID int64, recursive bool) ([]deviceEntry, error) {
	if !recursive {
		children, err := s.vfs.ListDirectory(ctx, userID, parentID)
		if err != nil {
			return nil, err
		}
		out := make([]deviceEntry, 0, len(children))
		for _, c := range children {
			parentPath, _, err := s.vfs.GetPathInfo(ctx, userID, parentID, false)
			if err != nil {
				return nil, err
			}
			out = append(out, toDeviceEntry(c, joinPath(parentPath, c.Name), parentPath))
		}
		return out, nil
	}
	nodes, err := s.vfs.ListRecursive(ctx, userID, parentID)
	if err != nil {
		return nil, err
	}
	basePath, _, err := s.vfs.GetPathInfo(ctx, userID, parentID, false)
	if err != nil {
		return nil, err
	}
	out := make([]deviceEntry, 0, len(nodes))
	for _, nwp := range nodes {
		full := joinPath(basePath, nwp.Path)
		parent := full[:len(full)-len(nwp.Node.Name)]
		parent = strings.TrimSuffix(parent, "/")
		out = append(out, toDeviceEntry(nwp.Node, full, parent))
	}
	return out, nil
}

func joinPath(base, name string) string {
	base = strings.Trim(base, "/")
	if base == "" {
		return "/" + name
	}
	return "/" + base + "/" + name
}

func (s *Server) handleListFolder(ctx *fasthttp.RequestCtx, v3 bool) {
	claims, err := s.authenticate(ctx)
	if err != nil {
		writeErr(ctx, err)
		return
	}
	var req struct {
		ID        int64  `json:"id"`
		Path      string `json:"path"`
		Recursive bool   `json:"recursive"`
	}
	if err := bindJSON(ctx, &req); err != nil {
		writeErr(ctx, err)
		return
	}
	target, err := s.resolveTarget(ctx, claims.UserID, req.ID, req.Path)
	if err != nil {
		writeErr(ctx, err)
		return
	}
	entries, err := s.listEntries(ctx, claims.UserID, target.ID, req.Recursive)
	if err != nil {
		writeErr(ctx, err)
		return
	}
	writeOK(ctx, map[string]any{"entries": entries})
}

func (s *Server) handleSpaceUsage(ctx *fasthttp.RequestCtx) {
	claims, err := s.authenticate(ctx)
	if err != nil {
		writeErr(ctx, err)
		return
	}
	used, allocated, err := s.files.SpaceUsage(ctx, claims.UserID)
	if err != nil {
		writeErr(ctx, err)
		return
	}
	writeOK(ctx, map[string]any{
		"used":          used,
		"allocation_vo": map[string]any{"allocated": allocated},
	})
}

func (s *Server) handleUploadApply(ctx *fasthttp.RequestCtx) {
	claims, err := s.authenticate(ctx)
	if err != nil {
		writeErr(ctx, err)
		return
	}
	var req struct {
		FileName string `json:"file_name"`
		Path     string `json:"path"`
		Size     int64  `json:"size"`
	}
	if err := bindJSON(ctx, &req); err != nil {
		writeErr(ctx, err)
		return
	}
	innerName, fullURL, partURL, err := s.files.UploadApply(ctx, claims.Email, req.FileName)
	if err != nil {
		writeErr(ctx, err)
		return
	}
	writeOK(ctx, map[string]any{
		"inner_name":      innerName,
		"full_upload_url": fullURL,
		"part_upload_url": partURL,
	})
}

func (s *Server) handleUploadFinish(ctx *fasthttp.RequestCtx) {
	claims, err := s.authenticate(ctx)
	if err != nil {
		writeErr(ctx, err)
		return
	}
	var req struct {
		FileName    string `json:"file_name"`
		Path        string `json:"path"`
		ContentHash string `json:"content_hash"`
		InnerName   string `json:"inner_name"`
	}
	if err := bindJSON(ctx, &req); err != nil {
		writeErr(ctx, err)
		return
	}
	node, err := s.files.FinishUpload(ctx, claims.UserID, req.FileName, req.Path, req.ContentHash, req.InnerName)
	if err != nil {
		writeErr(ctx, err)
		return
	}
	pathDisplay, _, err := s.vfs.GetPathInfo(ctx, claims.UserID, node.ID, false)
	if err != nil {
		writeErr(ctx, err)
		return
	}
	writeOK(ctx, map[string]any{
		"id":           node.ID,
		"path_display": pathDisplay,
		"size":         node.Size,
		"content_hash": node.MD5,
	})
}

func (s *Server) handleDownloadV3(ctx *fasthttp.RequestCtx) {
	claims, err := s.authenticate(ctx)
	if err != nil {
		writeErr(ctx, err)
		return
	}
	var req struct {
		ID int64 `json:"id"`
	}
	if err := bindJSON(ctx, &req); err != nil {
		writeErr(ctx, err)
		return
	}
	node, err := s.files.DownloadResolve(ctx, claims.UserID, req.ID)
	if err != nil {
		writeErr(ctx, err)
		return
	}
	signedQuery, err := s.signer.Sign(ctx, "/api/oss/download", claims.Email)
	if err != nil {
		writeErr(ctx, errs.Internalf(err, "httpapi: sign download url"))
		return
	}
	writeOK(ctx, map[string]any{
		"url":          "/api/oss/download?id=" + strconv.FormatInt(node.ID, 10) + "&" + signedQuery,
		"id":           node.ID,
		"name":         node.Name,
		"content_hash": node.MD5,
		"size":         node.Size,
	})
}

func (s *Server) handleCreateFolder(ctx *fasthttp.RequestCtx) {
	claims, err := s.authenticate(ctx)
	if err != nil {
		writeErr(ctx, err)
		return
	}
	var req struct {
		ParentID int64  `json:"parent_id"`
		Name     string `json:"name"`
	}
	if err := bindJSON(ctx, &req); err != nil {
		writeErr(ctx, err)
		return
	}
	if _, err := s.vfs.CreateDirectory(ctx, claims.UserID, req.ParentID, req.Name); err != nil {
		writeErr(ctx, err)
		return
	}
	writeOK(ctx, nil)
}

func (s *Server) handleDeleteNode(ctx *fasthttp.RequestCtx) {
	claims, err := s.authenticate(ctx)
	if err != nil {
		writeErr(ctx, err)
		return
	}
	var req struct {
		ID int64 `json:"id"`
	}
	if err := bindJSON(ctx, &req); err != nil {
		writeErr(ctx, err)
		return
	}
	if err := s.files.Delete(ctx, claims.UserID, req.ID); err != nil {
		writeErr(ctx, err)
		return
	}
	writeOK(ctx, nil)
}

func (s *Server) handleMove(ctx *fasthttp.RequestCtx) {
	claims, err := s.authenticate(ctx)
	if err != nil {
		writeErr(ctx, err)
		return
	}
	var req struct {
		ID          int64  `json:"id"`
		NewParentID int64  `json:"new_parent_id"`
		NewName     string `json:"new_name"`
	}
	if err := bindJSON(ctx, &req); err != nil {
		writeErr(ctx, err)
		return
	}
	if err := s.files.Move(ctx, claims.UserID, req.ID, req.NewParentID, req.NewName); err != nil {
		writeErr(ctx, err)
		return
	}
	writeOK(ctx, nil)
}

func (s *Server) handleCopy(ctx *fasthttp.RequestCtx) {
	claims, err := s.authenticate(ctx)
	if err != nil {
		writeErr(ctx, err)
		return
	}
	var req struct {
		ID          int64  `json:"id"`
		NewParentID int64  `json:"new_parent_id"`
		NewName     string `json:"new_name"`
	}
	if err := bindJSON(ctx, &req); err != nil {
		writeErr(ctx, err)
		return
	}
	if _, err := s.files.Copy(ctx, claims.UserID, req.ID, req.NewParentID, req.NewName); err != nil {
		writeErr(ctx, err)
		return
	}
	writeOK(ctx, nil)
}

func (s *Server) handleRecycleList(ctx *fasthttp.RequestCtx) {
	claims, err := s.authenticate(ctx)
	if err != nil {
		writeErr(ctx, err)
		return
	}
	entries, err := s.vfs.ListRecycle(ctx, claims.UserID)
	if err != nil {
		writeErr(ctx, err)
		return
	}
	writeOK(ctx, map[string]any{"total": len(entries), "recycle_file_vo_list": entries})
}

func (s *Server) handleRecycleDelete(ctx *fasthttp.RequestCtx) {
	claims, err := s.authenticate(ctx)
	if err != nil {
		writeErr(ctx, err)
		return
	}
	var req struct {
		IDs []int64 `json:"ids"`
	}
	if err := bindJSON(ctx, &req); err != nil {
		writeErr(ctx, err)
		return
	}
	if err := s.vfs.PurgeRecycle(ctx, claims.UserID, req.IDs); err != nil {
		writeErr(ctx, err)
		return
	}
	writeOK(ctx, nil)
}

func (s *Server) handleRecycleRevert(ctx *fasthttp.RequestCtx) {
	claims, err := s.authenticate(ctx)
	if err != nil {
		writeErr(ctx, err)
		return
	}
	var req struct {
		ID int64 `json:"id"`
	}
	if err := bindJSON(ctx, &req); err != nil {
		writeErr(ctx, err)
		return
	}
	if err := s.vfs.Restore(ctx, claims.UserID, req.ID); err != nil {
		writeErr(ctx, err)
		return
	}
	writeOK(ctx, nil)
}

func (s *Server) handleRecycleClear(ctx *fasthttp.RequestCtx) {
	claims, err := s.authenticate(ctx)
	if err != nil {
		writeErr(ctx, err)
		return
	}
	if err := s.vfs.PurgeRecycle(ctx, claims.UserID, nil); err != nil {
		writeErr(ctx, err)
		return
	}
	writeOK(ctx, nil)
}

func (s *Server) handleLabelSearch(ctx *fasthttp.RequestCtx) {
	claims, err := s.authenticate(ctx)
	if err != nil {
		writeErr(ctx, err)
		return
	}
	var req struct {
		Keyword string `json:"keyword"`
	}
	if err := bindJSON(ctx, &req); err != nil {
		writeErr(ctx, err)
		return
	}
	nodes, err := s.vfs.SearchFiles(ctx, claims.UserID, req.Keyword)
	if err != nil {
		writeErr(ctx, err)
		return
	}
	out := make([]deviceEntry, 0, len(nodes))
	for _, n := range nodes {
		pathDisplay, _, err := s.vfs.GetPathInfo(ctx, claims.UserID, n.ID, false)
		if err != nil {
			writeErr(ctx, err)
			return
		}
		parentPath, _, err := s.vfs.GetPathInfo(ctx, claims.UserID, n.ParentID, false)
		if err != nil {
			writeErr(ctx, err)
			return
		}
		out = append(out, toDeviceEntry(n, pathDisplay, parentPath))
	}
	writeOK(ctx, map[string]any{"entries": out})
}
