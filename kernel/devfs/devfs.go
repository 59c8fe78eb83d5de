// Package devfs is the device-node filesystem mounted at /dev: a
// directory tree whose leaves delegate read/write/ioctl to a device
// driver's own DeviceOps vtable, grounded on original_source's
// kernel/fs/devfs/devfs.{h,c} (spec.md §4.9).
package devfs

import (
	"sync"

	"ember/kernel/defs"
	"ember/kernel/fd"
	"ember/kernel/vfs"
)

// DeviceOps is the per-driver vtable a device registers, grounded on
// devfs.h's DeviceOps. Write and Ioctl may be nil (grounded on
// devfs_write's ENOSYS check); Read is required.
type DeviceOps struct {
	Read  func(ctx any, buf []byte, offset int64) (int, defs.Err_t)
	Write func(ctx any, buf []byte, offset int64) (int, defs.Err_t)
	Ioctl func(ctx any, req, arg uintptr) (uintptr, defs.Err_t)
}

type node struct {
	mu   sync.Mutex
	typ  vfs.NodeType
	name string

	children []*entry // typ == vfs.TypeDir
	parent   *node

	devOps *DeviceOps // typ == vfs.TypeDevice
	ctx    any

	vn *vfs.VNode
}

type entry struct {
	name string
	n    *node
}

func newNode(typ vfs.NodeType, name string, parent *node) *node {
	n := &node{typ: typ, name: name, parent: parent}
	n.vn = vfs.NewVNode(typ, n)
	return n
}

// findInDir handles ".." as "my parent" before scanning children,
// grounded on devfs.c's find_in_dir.
func (n *node) findInDir(name string) *entry {
	if name == ".." {
		if n.parent == nil {
			return nil
		}
		return &entry{name: "..", n: n.parent}
	}
	for _, e := range n.children {
		if e.name == name {
			return e
		}
	}
	return nil
}

// Lookup resolves name within a directory, grounded on devfs_lookup.
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

// ReadDir is unimplemented upstream (devfs_node_ops never wires a
// read_dir; the original's own TODO flags it), so devfs reports ENOSYS
// rather than silently returning an empty directory.
func (n *node) ReadDir(offset int) (vfs.DirEntry, bool, defs.Err_t) {
	return vfs.DirEntry{}, false, -defs.ENOSYS
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
	child := newNode(typ, name, n)
	n.children = append(n.children, &entry{name: name, n: child})
	child.vn.Ref()
	return child.vn, 0
}

// CreateFile adds a device leaf with no driver attached yet, grounded on
// devfs_create_file; devfs.Register patches in the real DeviceOps right
// after.
func (n *node) CreateFile(name string) (*vfs.VNode, defs.Err_t) {
	return n.createChild(name, vfs.TypeDevice)
}

// CreateDir adds a subdirectory, grounded on devfs_create_dir — used to
// assemble hierarchies like /dev/input.
func (n *node) CreateDir(name string) (*vfs.VNode, defs.Err_t) {
	return n.createChild(name, vfs.TypeDir)
}

func (n *node) Read(buf []byte, offset int64) (int, defs.Err_t) {
	n.mu.Lock()
	typ, ops, ctx := n.typ, n.devOps, n.ctx
	n.mu.Unlock()
	if typ == vfs.TypeDir {
		return 0, -defs.EISDIR
	}
	if ops == nil || ops.Read == nil {
		return 0, -defs.ENOSYS
	}
	return ops.Read(ctx, buf, offset)
}

func (n *node) Write(buf []byte, offset int64) (int, defs.Err_t) {
	n.mu.Lock()
	typ, ops, ctx := n.typ, n.devOps, n.ctx
	n.mu.Unlock()
	if typ == vfs.TypeDir {
		return 0, -defs.EISDIR
	}
	if ops == nil || ops.Write == nil {
		return 0, -defs.ENOSYS
	}
	return ops.Write(ctx, buf, offset)
}

func (n *node) Reopen() defs.Err_t { return 0 }
func (n *node) Close() defs.Err_t  { return 0 }

// GetStat is a stub, grounded on devfs_get_attr which always reports
// size 0 regardless of device kind.
func (n *node) GetStat() (fd.Stat, defs.Err_t) {
	return fd.Stat{}, 0
}

func (n *node) IsTTY() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.name == "console" || n.name == "tty"
}

func (n *node) Ioctl(req, arg uintptr) (uintptr, defs.Err_t) {
	n.mu.Lock()
	typ, ops, ctx := n.typ, n.devOps, n.ctx
	n.mu.Unlock()
	if typ == vfs.TypeDir {
		return 0, -defs.EISDIR
	}
	if ops == nil || ops.Ioctl == nil {
		return 0, -defs.ENOSYS
	}
	return ops.Ioctl(ctx, req, arg)
}

// FS is a mountable devfs instance, grounded on DevfsInfo{root} and
// devfs_mount/devfs_root.
type FS struct {
	mu   sync.Mutex
	root *node
}

// New returns a fresh devfs instance ready to be handed to vfs.VFS.Mount.
func New() *FS {
	return &FS{}
}

// Root builds (once) and returns devfs's root directory vnode, grounded
// on devfs_root.
func (fs *FS) Root() (*vfs.VNode, defs.Err_t) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.root == nil {
		fs.root = newNode(vfs.TypeDir, "root", nil)
	}
	fs.root.vn.Ref()
	return fs.root.vn, 0
}

// Register creates a device leaf at parentPath/name and attaches ops and
// ctx to it, grounded on devfs_register's vfs_create_file-then-patch
// sequence. v is the VFS devfs was mounted into.
func Register(v *vfs.VFS, parentPath, name string, ops *DeviceOps, ctx any) defs.Err_t {
	vn, err := v.CreateFile(parentPath + "/" + name)
	if err != 0 {
		return err
	}
	defer vn.Unref()

	n, ok := vn.Ops().(*node)
	if !ok {
		return -defs.EINVAL
	}
	n.mu.Lock()
	n.devOps = ops
	n.ctx = ctx
	n.mu.Unlock()
	return 0
}
