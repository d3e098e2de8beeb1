// Package vfs implements the Virtual Filesystem from spec.md §4.1: a
// database-backed tree with soft-delete, a recycle bin, and per-user
// namespace isolation, presenting both a flat "web" view and a
// hierarchical "device" view with fixed category containers over the same
// physical nodes.
package vfs

import (
	"context"
	"database/sql"
	"path"
	"strconv"
	"strings"

	"github.com/inkvault/inkvault/cmn"
	"github.com/inkvault/inkvault/cmn/errs"
	"github.com/inkvault/inkvault/db"
)

// Node is a UserFileNode row (spec.md §3).
type Node struct {
	ID         int64
	UserID     int64
	ParentID   int64
	Name       string
	IsFolder   bool
	Size       int64
	MD5        string
	StorageKey string
	IsActive   bool
	CreateTime int64
	UpdateTime int64
}

// RecycleEntry is a RecycleEntry row (spec.md §3).
type RecycleEntry struct {
	ID               int64
	UserID           int64
	NodeID           int64
	Name             string
	IsFolder         bool
	Size             int64
	DeleteTime       int64
	OriginalParentID int64
}

// RootParentID is the sentinel parent_id denoting the root of a user's tree.
const RootParentID int64 = 0

// categoryContainers names the fixed device-view containers at root and the
// children each one holds (SPEC_FULL.md §E Open Question decision). The web
// view flattens exactly these containers away.
var categoryContainers = map[string][]string{
	"NOTE":     {"Note", "MyStyle"},
	"DOCUMENT": {"Document"},
}

// rootOnlyDirs are fixed root-level folders with no container (also
// protected as system directories, per spec.md §4.1).
var rootOnlyDirs = []string{"Export", "Inbox", "Screenshot"}

func isSystemDirName(name string) bool {
	if _, ok := categoryContainers[name]; ok {
		return true
	}
	for _, d := range rootOnlyDirs {
		if d == name {
			return true
		}
	}
	for _, children := range categoryContainers {
		for _, c := range children {
			if c == name {
				return true
			}
		}
	}
	return false
}

// VFS provides ownership-checked node CRUD over the relational store.
type VFS struct {
	db  *db.DB
	ids *cmn.Snowflake
}

func New(database *db.DB, ids *cmn.Snowflake) *VFS {
	return &VFS{db: database, ids: ids}
}

func scanNode(row interface{ Scan(...any) error }) (*Node, error) {
	var n Node
	var isFolder, isActive string
	var md5, storageKey sql.NullString
	err := row.Scan(&n.ID, &n.UserID, &n.ParentID, &n.Name, &isFolder, &n.Size, &md5, &storageKey, &isActive, &n.CreateTime, &n.UpdateTime)
	if err != nil {
		return nil, err
	}
	n.IsFolder = isFolder == "Y"
	n.IsActive = isActive == "Y"
	n.MD5 = md5.String
	n.StorageKey = storageKey.String
	return &n, nil
}

const nodeColumns = "id, user_id, parent_id, name, is_folder, size, md5, storage_key, is_active, create_time, update_time"

func (v *VFS) nodeByID(ctx context.Context, userID, id int64) (*Node, error) {
	row := v.db.QueryRowContext(ctx,
		"SELECT "+nodeColumns+" FROM user_file_nodes WHERE id = ? AND user_id = ? AND is_active = 'Y'", id, userID)
	n, err := scanNode(row)
	if err == sql.ErrNoRows {
		return nil, errs.NotFoundf("node %d not found", id)
	}
	if err != nil {
		return nil, errs.Internalf(err, "vfs: load node %d", id)
	}
	return n, nil
}

// GetNodeByID returns the node if it exists and belongs to userID.
// Cross-tenant access returns NOT_FOUND, never FORBIDDEN (spec.md §4.1).
func (v *VFS) GetNodeByID(ctx context.Context, userID, id int64) (*Node, error) {
	return v.nodeByID(ctx, userID, id)
}

func (v *VFS) siblingByName(ctx context.Context, userID, parentID int64, name string, isFolder bool) (*Node, error) {
	folderFlag := "N"
	if isFolder {
		folderFlag = "Y"
	}
	row := v.db.QueryRowContext(ctx,
		"SELECT "+nodeColumns+" FROM user_file_nodes WHERE user_id = ? AND parent_id = ? AND name = ? AND is_folder = ? AND is_active = 'Y'",
		userID, parentID, name, folderFlag)
	n, err := scanNode(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Internalf(err, "vfs: load sibling %q", name)
	}
	return n, nil
}

// autorename finds the smallest N>=1 such that "name (N).ext" (or
// "name (N)" for folders) has no active sibling, per spec.md §4.1.
func (v *VFS) autorename(ctx context.Context, userID, parentID int64, name string, isFolder bool) (string, error) {
	ext := ""
	stem := name
	if !isFolder {
		ext = path.Ext(name)
		stem = strings.TrimSuffix(name, ext)
	}
	for n := 1; n < 10000; n++ {
		candidate := stem + " (" + strconv.Itoa(n) + ")" + ext
		existing, err := v.siblingByName(ctx, userID, parentID, candidate, isFolder)
		if err != nil {
			return "", err
		}
		if existing == nil {
			return candidate, nil
		}
	}
	return "", errs.Conflictf("", "could not find a free name for %q", name)
}

// resolveCollision returns the name to actually use, applying autorename or
// failing CONFLICT.
func (v *VFS) resolveCollision(ctx context.Context, userID, parentID int64, name string, isFolder, autorename bool) (string, error) {
	existing, err := v.siblingByName(ctx, userID, parentID, name, isFolder)
	if err != nil {
		return "", err
	}
	if existing == nil {
		return name, nil
	}
	if !autorename {
		return "", errs.Conflictf("", "a %s named %q already exists", kindWord(isFolder), name)
	}
	return v.autorename(ctx, userID, parentID, name, isFolder)
}

func kindWord(isFolder bool) string {
	if isFolder {
		return "folder"
	}
	return "file"
}

func (v *VFS) insertNode(ctx context.Context, userID, parentID int64, name string, isFolder bool, size int64, md5, storageKey string) (*Node, error) {
	now := db.NowMS()
	id := v.ids.Next()
	folderFlag := "N"
	if isFolder {
		folderFlag = "Y"
	}
	_, err := v.db.ExecContext(ctx,
		`INSERT INTO user_file_nodes (id, user_id, parent_id, name, is_folder, size, md5, storage_key, is_active, create_time, update_time)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'Y', ?, ?)`,
		id, userID, parentID, name, folderFlag, size, nullableString(md5), nullableString(storageKey), now, now)
	if err != nil {
		return nil, errs.Internalf(err, "vfs: insert node")
	}
	return &Node{ID: id, UserID: userID, ParentID: parentID, Name: name, IsFolder: isFolder, Size: size, MD5: md5, StorageKey: storageKey, IsActive: true, CreateTime: now, UpdateTime: now}, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// CreateDirectory creates a folder under parentID, autorenaming on
// collision.
func (v *VFS) CreateDirectory(ctx context.Context, userID, parentID int64, name string) (*Node, error) {
	if parentID != RootParentID {
		if _, err := v.nodeByID(ctx, userID, parentID); err != nil {
			return nil, err
		}
	}
	resolved, err := v.resolveCollision(ctx, userID, parentID, name, true, true)
	if err != nil {
		return nil, err
	}
	return v.insertNode(ctx, userID, parentID, resolved, true, 0, "", "")
}

// CreateFile creates a file node referencing a previously-written blob.
// Collisions fail CONFLICT rather than autorename: FileService decides the
// overwrite-vs-autorename policy at its layer (spec.md §4.5).
func (v *VFS) CreateFile(ctx context.Context, userID, parentID int64, name string, size int64, md5, storageKey string) (*Node, error) {
	if parentID != RootParentID {
		if _, err := v.nodeByID(ctx, userID, parentID); err != nil {
			return nil, err
		}
	}
	resolved, err := v.resolveCollision(ctx, userID, parentID, name, false, false)
	if err != nil {
		return nil, err
	}
	return v.insertNode(ctx, userID, parentID, resolved, false, size, md5, storageKey)
}

// ReplaceFile overwrites an existing file node's content fields in place,
// implementing the same-user same-name overwrite policy of spec.md §4.5
// step 4.
func (v *VFS) ReplaceFile(ctx context.Context, userID, nodeID int64, size int64, md5, storageKey string) error {
	now := db.NowMS()
	res, err := v.db.ExecContext(ctx,
		`UPDATE user_file_nodes SET size = ?, md5 = ?, storage_key = ?, update_time = ?
		 WHERE id = ? AND user_id = ? AND is_active = 'Y' AND is_folder = 'N'`,
		size, md5, storageKey, now, nodeID, userID)
	if err != nil {
		return errs.Internalf(err, "vfs: replace file")
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errs.NotFoundf("file %d not found", nodeID)
	}
	return nil
}

// ResolvePath walks a "/"-separated path from root and returns the node at
// its end, or NOT_FOUND.
func (v *VFS) ResolvePath(ctx context.Context, userID int64, p string) (*Node, error) {
	parts := splitPath(p)
	parentID := RootParentID
	var cur *Node
	for _, part := range parts {
		n, err := v.siblingByNameEither(ctx, userID, parentID, part)
		if err != nil {
			return nil, err
		}
		if n == nil {
			return nil, errs.NotFoundf("path %q not found", p)
		}
		cur = n
		parentID = n.ID
	}
	return cur, nil
}

func (v *VFS) siblingByNameEither(ctx context.Context, userID, parentID int64, name string) (*Node, error) {
	row := v.db.QueryRowContext(ctx,
		"SELECT "+nodeColumns+" FROM user_file_nodes WHERE user_id = ? AND parent_id = ? AND name = ? AND is_active = 'Y' LIMIT 1",
		userID, parentID, name)
	n, err := scanNode(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Internalf(err, "vfs: resolve path segment %q", name)
	}
	return n, nil
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// ListDirectory returns the immediate active children of parentID.
func (v *VFS) ListDirectory(ctx context.Context, userID, parentID int64) ([]*Node, error) {
	rows, err := v.db.QueryContext(ctx,
		"SELECT "+nodeColumns+" FROM user_file_nodes WHERE user_id = ? AND parent_id = ? AND is_active = 'Y' ORDER BY create_time ASC",
		userID, parentID)
	if err != nil {
		return nil, errs.Internalf(err, "vfs: list directory")
	}
	defer rows.Close()
	var out []*Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, errs.Internalf(err, "vfs: scan list row")
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// NodeWithPath pairs a node with its "/"-joined path relative to the
// ListRecursive root.
type NodeWithPath struct {
	Node *Node
	Path string
}

// ListRecursive walks the subtree rooted at parentID depth-first.
func (v *VFS) ListRecursive(ctx context.Context, userID, parentID int64) ([]NodeWithPath, error) {
	var out []NodeWithPath
	var walk func(parent int64, prefix string) error
	walk = func(parent int64, prefix string) error {
		children, err := v.ListDirectory(ctx, userID, parent)
		if err != nil {
			return err
		}
		for _, c := range children {
			rel := c.Name
			if prefix != "" {
				rel = prefix + "/" + c.Name
			}
			out = append(out, NodeWithPath{Node: c, Path: rel})
			if c.IsFolder {
				if err := walk(c.ID, rel); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := walk(parentID, ""); err != nil {
		return nil, err
	}
	return out, nil
}

// EnsureDirectoryPath behaves like "mkdir -p": it creates any missing
// directory in p and returns the deepest node.
func (v *VFS) EnsureDirectoryPath(ctx context.Context, userID int64, p string) (*Node, error) {
	parts := splitPath(p)
	parentID := RootParentID
	cur := &Node{ID: RootParentID, UserID: userID, IsFolder: true}
	for _, part := range parts {
		existing, err := v.siblingByName(ctx, userID, parentID, part, true)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			existing, err = v.insertNode(ctx, userID, parentID, part, true, 0, "", "")
			if err != nil {
				return nil, err
			}
		}
		cur = existing
		parentID = existing.ID
	}
	return cur, nil
}

// DeleteNode soft-deletes node id and creates one RecycleEntry for the top
// of the subtree (spec.md §4.1). System directories cannot be deleted.
func (v *VFS) DeleteNode(ctx context.Context, userID, id int64) error {
	n, err := v.nodeByID(ctx, userID, id)
	if err != nil {
		return err
	}
	if n.ParentID == RootParentID && isSystemDirName(n.Name) {
		return errs.ForbiddenF("cannot delete system directory %q", n.Name)
	}
	now := db.NowMS()
	return v.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"UPDATE user_file_nodes SET is_active = 'N', update_time = ? WHERE id = ? AND user_id = ?", now, id, userID); err != nil {
			return err
		}
		recID := v.ids.Next()
		_, err := tx.ExecContext(ctx,
			`INSERT INTO recycle_entries (id, user_id, node_id, name, is_folder, size, delete_time, original_parent_id)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			recID, userID, n.ID, n.Name, boolFlag(n.IsFolder), n.Size, now, n.ParentID)
		return err
	})
}

func boolFlag(b bool) string {
	if b {
		return "Y"
	}
	return "N"
}

// ListRecycle returns every RecycleEntry owned by userID, most recently
// deleted first.
func (v *VFS) ListRecycle(ctx context.Context, userID int64) ([]*RecycleEntry, error) {
	rows, err := v.db.QueryContext(ctx,
		`SELECT id, user_id, node_id, name, is_folder, size, delete_time, original_parent_id
		 FROM recycle_entries WHERE user_id = ? ORDER BY delete_time DESC`, userID)
	if err != nil {
		return nil, errs.Internalf(err, "vfs: list recycle entries")
	}
	defer rows.Close()
	var out []*RecycleEntry
	for rows.Next() {
		var e RecycleEntry
		var isFolder string
		if err := rows.Scan(&e.ID, &e.UserID, &e.NodeID, &e.Name, &isFolder, &e.Size, &e.DeleteTime, &e.OriginalParentID); err != nil {
			return nil, errs.Internalf(err, "vfs: scan recycle row")
		}
		e.IsFolder = isFolder == "Y"
		out = append(out, &e)
	}
	return out, rows.Err()
}

// Restore reactivates the node referenced by a RecycleEntry and removes the
// entry. Folder subtrees were never individually soft-deleted, so
// reactivating the top node exposes the whole subtree again.
func (v *VFS) Restore(ctx context.Context, userID, recycleID int64) error {
	return v.db.WithTx(ctx, func(tx *sql.Tx) error {
		var nodeID int64
		err := tx.QueryRowContext(ctx,
			"SELECT node_id FROM recycle_entries WHERE id = ? AND user_id = ?", recycleID, userID).Scan(&nodeID)
		if err == sql.ErrNoRows {
			return errs.NotFoundf("recycle entry %d not found", recycleID)
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE user_file_nodes SET is_active = 'Y', update_time = ? WHERE id = ? AND user_id = ?", db.NowMS(), nodeID, userID); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, "DELETE FROM recycle_entries WHERE id = ? AND user_id = ?", recycleID, userID)
		return err
	})
}

// PurgeRecycle permanently drops the given recycle entries (and leaves the
// now fully-deleted nodes' blobs for the out-of-scope GC to collect
// later). An empty ids purges every entry for userID.
func (v *VFS) PurgeRecycle(ctx context.Context, userID int64, ids []int64) error {
	if len(ids) == 0 {
		_, err := v.db.ExecContext(ctx, "DELETE FROM recycle_entries WHERE user_id = ?", userID)
		return err
	}
	for _, id := range ids {
		if _, err := v.db.ExecContext(ctx, "DELETE FROM recycle_entries WHERE id = ? AND user_id = ?", id, userID); err != nil {
			return errs.Internalf(err, "vfs: purge recycle entry %d", id)
		}
	}
	return nil
}

// isDescendant reports whether candidate is id itself or lies anywhere
// under id in the tree, used to reject cyclic moves.
func (v *VFS) isDescendant(ctx context.Context, userID, id, candidate int64) (bool, error) {
	cur := candidate
	for {
		if cur == id {
			return true, nil
		}
		if cur == RootParentID {
			return false, nil
		}
		var parent int64
		err := v.db.QueryRowContext(ctx,
			"SELECT parent_id FROM user_file_nodes WHERE id = ? AND user_id = ?", cur, userID).Scan(&parent)
		if err == sql.ErrNoRows {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		cur = parent
	}
}

// MoveNode relocates id under newParent with newName, rejecting cycles and
// protected system directories.
func (v *VFS) MoveNode(ctx context.Context, userID, id, newParent int64, newName string) error {
	n, err := v.nodeByID(ctx, userID, id)
	if err != nil {
		return err
	}
	if n.ParentID == RootParentID && isSystemDirName(n.Name) {
		return errs.ForbiddenF("cannot move system directory %q", n.Name)
	}
	if n.IsFolder {
		cyclic, err := v.isDescendant(ctx, userID, id, newParent)
		if err != nil {
			return errs.Internalf(err, "vfs: cycle check")
		}
		if cyclic {
			return errs.BadRequestf("cannot move folder %d into itself or a descendant", id)
		}
	}
	if newParent != RootParentID {
		if _, err := v.nodeByID(ctx, userID, newParent); err != nil {
			return err
		}
	}
	resolved, err := v.resolveCollision(ctx, userID, newParent, newName, n.IsFolder, true)
	if err != nil {
		return err
	}
	_, err = v.db.ExecContext(ctx,
		"UPDATE user_file_nodes SET parent_id = ?, name = ?, update_time = ? WHERE id = ? AND user_id = ?",
		newParent, resolved, db.NowMS(), id, userID)
	if err != nil {
		return errs.Internalf(err, "vfs: move node")
	}
	return nil
}

// CopyNode deep-copies a file or folder subtree under newParent as newName.
// File copies share the source's storage_key: BlobStore content is
// immutable, so two nodes may reference the same physical blob safely.
func (v *VFS) CopyNode(ctx context.Context, userID, id, newParent int64, newName string) (*Node, error) {
	n, err := v.nodeByID(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if newParent != RootParentID {
		if _, err := v.nodeByID(ctx, userID, newParent); err != nil {
			return nil, err
		}
	}
	resolved, err := v.resolveCollision(ctx, userID, newParent, newName, n.IsFolder, true)
	if err != nil {
		return nil, err
	}
	copied, err := v.insertNode(ctx, userID, newParent, resolved, n.IsFolder, n.Size, n.MD5, n.StorageKey)
	if err != nil {
		return nil, err
	}
	if n.IsFolder {
		children, err := v.ListDirectory(ctx, userID, n.ID)
		if err != nil {
			return nil, err
		}
		for _, c := range children {
			if _, err := v.CopyNode(ctx, userID, c.ID, copied.ID, c.Name); err != nil {
				return nil, err
			}
		}
	}
	return copied, nil
}

// SearchFiles does a case-insensitive substring match on name across the
// whole user tree.
func (v *VFS) SearchFiles(ctx context.Context, userID int64, keyword string) ([]*Node, error) {
	rows, err := v.db.QueryContext(ctx,
		"SELECT "+nodeColumns+" FROM user_file_nodes WHERE user_id = ? AND is_active = 'Y' AND LOWER(name) LIKE ? ORDER BY create_time ASC",
		userID, "%"+strings.ToLower(keyword)+"%")
	if err != nil {
		return nil, errs.Internalf(err, "vfs: search files")
	}
	defer rows.Close()
	var out []*Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, errs.Internalf(err, "vfs: scan search row")
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// GetPathInfo returns the full path and parallel id chain from root to id.
// When flatten is true and the path's first segment is a category
// container, that one segment is stripped from the returned path and id
// (spec.md §4.1) — web-API callers always pass flatten=true, device-API
// callers always pass false.
func (v *VFS) GetPathInfo(ctx context.Context, userID, id int64, flatten bool) (string, []int64, error) {
	var names []string
	var ids []int64
	cur := id
	for cur != RootParentID {
		n, err := v.nodeByID(ctx, userID, cur)
		if err != nil {
			return "", nil, err
		}
		names = append([]string{n.Name}, names...)
		ids = append([]int64{n.ID}, ids...)
		cur = n.ParentID
	}
	if flatten && len(names) >= 1 {
		if _, ok := categoryContainers[names[0]]; ok {
			names = names[1:]
			ids = ids[1:]
		}
	}
	return strings.Join(names, "/"), ids, nil
}
