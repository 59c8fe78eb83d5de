// Package tmpfs is an in-memory filesystem: directories are child lists,
// files are growable byte buffers, grounded on original_source's
// kernel/fs/tmpfs.c (spec.md §4.8).
package tmpfs

import (
	"sync"

	"ember/kernel/defs"
	"ember/kernel/fd"
	"ember/kernel/vfs"
)

// node is one tmpfs object, grounded on TmpfsNode's shared dir/file
// union — kept as two separate slices/byte buffers here since Go has no
// natural union, with Type distinguishing which is live.
type node struct {
	mu   sync.Mutex
	typ  vfs.NodeType
	name string

	children []*entry // typ == vfs.TypeDir
	data     []byte   // typ == vfs.TypeFile

	vn *vfs.VNode
}

type entry struct {
	name string
	n    *node
}

func newNode(typ vfs.NodeType, name string) *node {
	n := &node{typ: typ, name: name}
	n.vn = vfs.NewVNode(typ, n)
	return n
}

// findInDir linear-scans for name among n's children, grounded on
// tmpfs.c's find_in_dir.
func (n *node) findInDir(name string) *entry {
	for _, e := range n.children {
		if e.name == name {
			return e
		}
	}
	return nil
}

// Lookup resolves name within a directory node, grounded on
// tmpfs_node_lookup.
func (n *node) Lookup(name string) (*vfs.VNode, defs.Err_t) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.typ != vfs.TypeDir {
		return nil, -defs.ENOTDIR
	}
	e := n.findInDir(name)
	if e == nil {
		return nil, -defs.ENOENT
	}
	e.n.vn.Ref()
	return e.n.vn, 0
}

// ReadDir returns the child at offset, grounded on tmpfs_read_dir's
// skip-then-emit loop and VFS_RES_END sentinel.
func (n *node) ReadDir(offset int) (vfs.DirEntry, bool, defs.Err_t) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.typ != vfs.TypeDir {
		return vfs.DirEntry{}, false, -defs.ENOTDIR
	}
	if offset < 0 || offset >= len(n.children) {
		return vfs.DirEntry{}, false, 0
	}
	e := n.children[offset]
	return vfs.DirEntry{Name: e.name, Type: e.n.typ}, true, 0
}

func (n *node) createChild(name string, typ vfs.NodeType) (*vfs.VNode, defs.Err_t) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.typ != vfs.TypeDir {
		return nil, -defs.ENOTDIR
	}
	if n.findInDir(name) != nil {
		return nil, -defs.EEXIST
	}
	child := newNode(typ, name)
	n.children = append(n.children, &entry{name: name, n: child})
	child.vn.Ref()
	return child.vn, 0
}

// CreateFile adds a new empty file child, grounded on tmpfs_create_file.
func (n *node) CreateFile(name string) (*vfs.VNode, defs.Err_t) {
	return n.createChild(name, vfs.TypeFile)
}

// CreateDir adds a new empty directory child, grounded on tmpfs_create_dir.
func (n *node) CreateDir(name string) (*vfs.VNode, defs.Err_t) {
	return n.createChild(name, vfs.TypeDir)
}

// Read copies up to len(buf) bytes starting at offset, grounded on
// tmpfs_read's clip-to-available-length behavior.
func (n *node) Read(buf []byte, offset int64) (int, defs.Err_t) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.typ != vfs.TypeFile {
		return 0, -defs.EISDIR
	}
	if offset >= int64(len(n.data)) {
		return 0, 0
	}
	return copy(buf, n.data[offset:]), 0
}

// Write copies buf into the file at offset, growing the backing buffer
// as needed, grounded on tmpfs_write's krealloc-then-memcpy.
func (n *node) Write(buf []byte, offset int64) (int, defs.Err_t) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.typ != vfs.TypeFile {
		return 0, -defs.EISDIR
	}
	need := offset + int64(len(buf))
	if need > int64(len(n.data)) {
		grown := make([]byte, need)
		copy(grown, n.data)
		n.data = grown
	}
	copy(n.data[offset:], buf)
	return len(buf), 0
}

func (n *node) Reopen() defs.Err_t { return 0 }
func (n *node) Close() defs.Err_t  { return 0 }

func (n *node) GetStat() (fd.Stat, defs.Err_t) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return fd.Stat{Size: int64(len(n.data)), Blksize: 512, Blocks: int64(len(n.data)+511) / 512}, 0
}

func (n *node) IsTTY() bool { return false }

func (n *node) Ioctl(req, arg uintptr) (uintptr, defs.Err_t) {
	return 0, -defs.ENOTTY
}

// FS is a mountable tmpfs instance, grounded on TmpfsInfo{root, id_counter}
// and tmpfs_mount/tmpfs_root. id_counter has no observable use outside
// original_source's own debugging, so it is dropped rather than ported.
type FS struct {
	mu   sync.Mutex
	root *node
}

// New returns a fresh, empty tmpfs instance ready to be handed to
// vfs.VFS.Mount.
func New() *FS {
	return &FS{}
}

// Root builds (once) and returns tmpfs's root directory vnode, grounded
// on tmpfs_root.
func (fs *FS) Root() (*vfs.VNode, defs.Err_t) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.root == nil {
		fs.root = newNode(vfs.TypeDir, "/")
	}
	fs.root.vn.Ref()
	return fs.root.vn, 0
}
