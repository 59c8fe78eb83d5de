// Package vfs is the virtual filesystem layer: a mount table plus a
// path-walking lookup, grounded on original_source's kernel/fs/vfs.c
// (spec.md §4.7). original_source's own fs/ directory carries two
// mutually-incompatible redesigns of this API: vfs.c and
// include/fs/vfs.h's Vfs/VfsOps/VNode (plain VfsResult-returning, no
// refcounting — the one tmpfs.c is written against) and a newer,
// unfinished Mount/MountOps plus vnode.c's vnode_ref/vnode_unref pair
// (the one devfs.c is written against). spec.md §4.7 describes the
// refcounted contract explicitly ("every function that returns a vnode
// increments its refcount; the caller must unref it"), so this package
// takes vfs.c's mount-table and path-walk algorithm and grafts
// vnode.c's refcounting onto it — one consistent API instead of
// either original fragment alone.
package vfs

import (
	"strings"
	"sync"
	"sync/atomic"

	"ember/kernel/defs"
	"ember/kernel/fd"
)

// NodeType mirrors VNodeType (VNODE_TYPE_FILE/DIR/CHAR_DEV across the two
// original headers; ember only ever needs these three leaf kinds).
type NodeType int

const (
	TypeFile NodeType = iota
	TypeDir
	TypeDevice
)

// DirEntry is one entry returned by Ops.ReadDir.
type DirEntry struct {
	Name string
	Type NodeType
}

// Ops is the per-node operation set, grounded on vnode.h's VNodeOps plus
// devfs.c's DeviceOps. It embeds fd.Ops directly: a vnode's read/write/
// stat/ioctl surface is exactly what kernel/fd needs to wrap it in a
// File, so tmpfs and devfs nodes implement this one interface and are
// immediately usable as open files, with no separate adapter type.
type Ops interface {
	fd.Ops

	// Lookup resolves name, a single path component, within this node
	// (which must be a directory). Grounded on VNodeOps.lookup.
	Lookup(name string) (*VNode, defs.Err_t)

	// ReadDir returns the entry at offset and ok=true, or ok=false at
	// end of directory (no error) — the Go shape of tmpfs.c's
	// offset-skip-then-emit-one-entry loop and its VFS_RES_END sentinel.
	ReadDir(offset int) (entry DirEntry, ok bool, err defs.Err_t)

	// CreateFile and CreateDir add a new child named name, grounded on
	// VNodeOps.create_file/create_dir.
	CreateFile(name string) (*VNode, defs.Err_t)
	CreateDir(name string) (*VNode, defs.Err_t)
}

// VNode is a live handle onto a filesystem node, grounded on vnode.h's
// VNode{type, ops, ref_count}. Every VNode a lookup hands back starts
// with one reference that the caller owns and must Unref.
type VNode struct {
	Type NodeType
	ops  Ops
	refs int32

	// mountedHere is set when a filesystem is mounted directly on this
	// vnode, letting a lookup descend into the mounted root instead of
	// this node's own children. nil on every vnode that isn't a mount
	// point.
	mountedHere *VNode

	// covers is set on a mount's root vnode to the vnode it was mounted
	// over, letting ".." at a filesystem root cross back out of the
	// mount. original_source's vfs_mount validates the mount target but
	// never records it anywhere for ".." to find later — a gap in the
	// original, not a design this package is copying — so this field is
	// ember's own addition to actually deliver the crossing behavior
	// spec.md §4.7 describes.
	covers *VNode
}

// NewVNode wraps ops in a fresh VNode of the given type, starting with
// one reference owned by the caller (typically the filesystem node that
// backs ops, keeping it alive as long as its parent directory holds it).
func NewVNode(typ NodeType, ops Ops) *VNode {
	return &VNode{Type: typ, ops: ops, refs: 1}
}

// Ref adds a reference, grounded on vnode_ref.
func (n *VNode) Ref() {
	atomic.AddInt32(&n.refs, 1)
}

// Unref drops a reference, closing the node's backing Ops at zero.
// Grounded on vnode_unref calling ops->free(node).
func (n *VNode) Unref() {
	if atomic.AddInt32(&n.refs, -1) == 0 {
		n.ops.Close()
	}
}

// Ops exposes the node's backing operations, letting a caller hand the
// vnode straight to fd.New.
func (n *VNode) Ops() Ops { return n.ops }

// FSOps is what a filesystem implementation hands Mount: a way to build
// the root vnode of a freshly mounted instance, grounded on VfsOps.mount
// and MountOps.mount/root.
type FSOps interface {
	// Root builds (or returns) the filesystem's root vnode.
	Root() (*VNode, defs.Err_t)
}

type mountEntry struct {
	path string
	fs   FSOps
	root *VNode
}

// VFS is the mount table plus the path-walking lookup built over it,
// grounded on vfs.c's global vfs_list and vfs_lookup/vfs_mount.
type VFS struct {
	mu     sync.Mutex
	mounts []mountEntry
}

// New returns an empty VFS with nothing mounted yet.
func New() *VFS {
	return &VFS{}
}

// Root returns the root filesystem's root vnode, or nil if nothing has
// been mounted at "/" yet. The caller owns the returned reference.
func (v *VFS) Root() *VNode {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.mounts) == 0 {
		return nil
	}
	root := v.mounts[0].root
	root.Ref()
	return root
}

// Mount grafts fs onto path, grounded on vfs_mount's exact validation
// sequence: the very first mount must be at "/", every later mount must
// target an existing directory, and that directory becomes the mount's
// cover node so ".." can cross back out of it.
func (v *VFS) Mount(path string, fs FSOps) defs.Err_t {
	isRoot := path == "/"

	v.mu.Lock()
	empty := len(v.mounts) == 0
	v.mu.Unlock()

	var cover *VNode
	if !(isRoot && empty) {
		target, err := v.Lookup(nil, path)
		if err != 0 {
			return err
		}
		if target.Type != TypeDir {
			target.Unref()
			return -defs.ENOTDIR
		}
		cover = target
	}

	root, err := fs.Root()
	if err != 0 {
		if cover != nil {
			cover.Unref()
		}
		return err
	}
	root.covers = cover
	if cover != nil {
		cover.mountedHere = root
	}

	v.mu.Lock()
	v.mounts = append(v.mounts, mountEntry{path: path, fs: fs, root: root})
	v.mu.Unlock()
	return 0
}

// mountFor returns the longest-prefix-matching mount's root for path,
// grounded on vfs_lookup's mount-prefix scan over vfs_list.
func (v *VFS) mountFor(path string) (*VNode, string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	var best *mountEntry
	for i := range v.mounts {
		m := &v.mounts[i]
		if !strings.HasPrefix(path, m.path) {
			continue
		}
		if m.path != "/" && len(path) > len(m.path) && path[len(m.path)] != '/' {
			continue
		}
		if best == nil || len(m.path) > len(best.path) {
			best = m
		}
	}
	if best == nil {
		return nil, ""
	}
	rel := strings.TrimPrefix(path, best.path)
	rel = strings.TrimPrefix(rel, "/")
	return best.root, rel
}

// Lookup resolves path to a vnode, grounded on vfs_lookup's longest-
// mount-prefix match followed by a per-component vnode_ops->lookup walk.
// start, when non-nil, is used as the walk's origin instead of the mount
// table (a future relative-open/cwd extension); nil means "resolve from
// the mount table root", spec.md's only case today.
func (v *VFS) Lookup(start *VNode, path string) (*VNode, defs.Err_t) {
	if len(path) > defs.PATH_MAX {
		return nil, -defs.ENAMETOOLONG
	}

	var cur *VNode
	var rel string
	if start != nil {
		cur = start
		cur.Ref()
		rel = strings.TrimPrefix(path, "/")
	} else {
		cur, rel = v.mountFor(path)
		if cur == nil {
			return nil, -defs.ENOENT
		}
		cur.Ref()
	}

	if rel == "" {
		return cur, 0
	}

	for _, comp := range strings.Split(rel, "/") {
		if comp == "" || comp == "." {
			continue
		}
		if len(comp) > defs.NAME_MAX {
			cur.Unref()
			return nil, -defs.ENAMETOOLONG
		}

		if comp == ".." {
			next := crossUp(cur)
			cur.Unref()
			cur = next
			continue
		}

		if cur.Type != TypeDir {
			cur.Unref()
			return nil, -defs.ENOTDIR
		}
		if cur.mountedHere != nil {
			next := cur.mountedHere
			next.Ref()
			cur.Unref()
			cur = next
		}

		next, err := cur.ops.Lookup(comp)
		cur.Unref()
		if err != 0 {
			return nil, err
		}
		cur = next
	}
	return cur, 0
}

// crossUp resolves ".." at cur, stepping out of a mount at its root via
// the covers backlink (ember's addition, see VNode.covers) before
// falling back to the node's own ".." entry.
func crossUp(cur *VNode) *VNode {
	if cur.covers != nil {
		cur.covers.Ref()
		return cur.covers
	}
	next, err := cur.ops.Lookup("..")
	if err != 0 {
		cur.Ref()
		return cur
	}
	return next
}

// splitPath divides path into its parent directory and final component,
// grounded on vfs.c's split_path (strip trailing slashes, find the last
// remaining '/').
func splitPath(path string) (dir, base string) {
	path = strings.TrimRight(path, "/")
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return "", path
	}
	if i == 0 {
		return "/", path[1:]
	}
	return path[:i], path[i+1:]
}

// CreateFile creates a new regular file at path, grounded on
// vfs_create_file's split-path-then-delegate-to-parent pattern.
func (v *VFS) CreateFile(path string) (*VNode, defs.Err_t) {
	dir, base := splitPath(path)
	if base == "" {
		return nil, -defs.EEXIST
	}
	parent, err := v.Lookup(nil, dir)
	if err != 0 {
		return nil, err
	}
	defer parent.Unref()
	if parent.Type != TypeDir {
		return nil, -defs.ENOTDIR
	}
	return parent.ops.CreateFile(base)
}

// CreateDir creates a new directory at path, grounded on vfs_create_dir.
func (v *VFS) CreateDir(path string) (*VNode, defs.Err_t) {
	dir, base := splitPath(path)
	if base == "" {
		return nil, -defs.EEXIST
	}
	parent, err := v.Lookup(nil, dir)
	if err != 0 {
		return nil, err
	}
	defer parent.Unref()
	if parent.Type != TypeDir {
		return nil, -defs.ENOTDIR
	}
	return parent.ops.CreateDir(base)
}

// Open resolves path and, if not found and create is set, creates it as
// a regular file — the lookup-or-create sequence kernel/syscall's open
// wraps for O_CREAT, grounded on vfs_lookup/vfs_create_file's combined
// use in the original's open(2) handler (abi/sysv layer, not vfs.c
// itself, which only exposes the two separately).
func (v *VFS) Open(path string, create bool) (*VNode, defs.Err_t) {
	n, err := v.Lookup(nil, path)
	if err == 0 {
		return n, 0
	}
	if err != -defs.ENOENT || !create {
		return nil, err
	}
	return v.CreateFile(path)
}

// GetAttr reports the stat info for path, grounded on vfs_get_attr's
// lookup-then-delegate pattern.
func (v *VFS) GetAttr(path string) (fd.Stat, defs.Err_t) {
	n, err := v.Lookup(nil, path)
	if err != 0 {
		return fd.Stat{}, err
	}
	defer n.Unref()
	return n.ops.GetStat()
}
