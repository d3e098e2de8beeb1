package httpapi

import (
	"github.com/inkvault/inkvault/vfs"
)

// deviceEntry is the device-API shape spec.md §6's list_folder/query_v3
// table row names: {id,name,path_display,parent_path,content_hash,
// is_downloadable,size,last_update_time,tag}.
type deviceEntry struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	PathDisplay    string `json:"path_display"`
	ParentPath     string `json:"parent_path"`
	ContentHash    string `json:"content_hash"`
	IsDownloadable bool   `json:"is_downloadable"`
	Size           int64  `json:"size"`
	LastUpdateTime int64  `json:"last_update_time"`
	Tag            string `json:"tag"`
}

func toDeviceEntry(n *vfs.Node, pathDisplay, parentPath string) deviceEntry {
	tag := "file"
	if n.IsFolder {
		tag = "folder"
	}
	return deviceEntry{
		ID:             n.ID,
		Name:           n.Name,
		PathDisplay:    pathDisplay,
		ParentPath:     parentPath,
		ContentHash:    n.MD5,
		IsDownloadable: !n.IsFolder,
		Size:           n.Size,
		LastUpdateTime: n.UpdateTime,
		Tag:            tag,
	}
}

// userFileVO is the web-API camelCase shape the same entry takes when
// rendered for `userFileVOList` (spec.md §6 "Web API variants").
type userFileVO struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	PathDisplay    string `json:"pathDisplay"`
	ParentPath     string `json:"parentPath"`
	ContentHash    string `json:"contentHash"`
	IsDownloadable bool   `json:"isDownloadable"`
	Size           int64  `json:"size"`
	LastUpdateTime int64  `json:"lastUpdateTime"`
	IsFolder       bool   `json:"isFolder"`
}

func toUserFileVO(n *vfs.Node, pathDisplay, parentPath string) userFileVO {
	return userFileVO{
		ID:             n.ID,
		Name:           n.Name,
		PathDisplay:    pathDisplay,
		ParentPath:     parentPath,
		ContentHash:    n.MD5,
		IsDownloadable: !n.IsFolder,
		Size:           n.Size,
		LastUpdateTime: n.UpdateTime,
		IsFolder:       n.IsFolder,
	}
}
