// Package fd implements the open-file object and the per-process file
// descriptor table, grounded on biscuit's fd.Fd_t/Cwd_t (spec.md §4.10).
// biscuit splits a descriptor's operations out into a separate fdops
// package (Fdops_i/Userio_i) so fd itself never depends on a filesystem;
// ember keeps that same separation as the Ops interface below — kernel/vfs
// and kernel/devfs each implement Ops over their own vnode types, and
// neither this package nor kernel/proc imports either of them.
package fd

import (
	"sync"
	"sync/atomic"

	"ember/kernel/defs"
)

// Stat is the subset of vnode attributes spec.md §4.12's stat syscall
// reports, grounded on VNodeAttributes (original_source's fs/vfs.h).
type Stat struct {
	Size    int64
	Blksize int64
	Blocks  int64
}

// Ops is the operation set a File is built on. A regular file, a tmpfs
// node, and a devfs leaf (console, null, stat, prof) all implement it the
// same way biscuit's ufs console_t and in-memory files both satisfy
// Fdops_i; kernel/fd only ever sees this interface.
type Ops interface {
	Read(buf []byte, offset int64) (int, defs.Err_t)
	Write(buf []byte, offset int64) (int, defs.Err_t)
	// Reopen is called when a descriptor referencing this file is
	// duplicated onto a fresh File_t (not merely ref-counted), grounded
	// on Fdops_i.Reopen; most backings have nothing to do and return 0.
	Reopen() defs.Err_t
	Close() defs.Err_t
	GetStat() (Stat, defs.Err_t)
	IsTTY() bool
	Ioctl(req, arg uintptr) (uintptr, defs.Err_t)
}

// Seek whence values, matching the user ABI's SEEK_SET/CUR/END.
const (
	SeekSet = 0
	SeekCur = 1
	SeekEnd = 2
)

// File is one open file object: an Ops backing plus the offset/append
// state and refcount biscuit's Fd_t lacks explicitly (there, offset lives
// on the file's Vm mapping bookkeeping); two FD table slots that share a
// File (via dup/dup2/fork) share its offset, matching POSIX dup semantics.
type File struct {
	mu     sync.Mutex
	ops    Ops
	offset int64
	append bool
	tty    bool
	refs   int32
}

// New wraps ops in a File ready for a process's FD table, starting with
// one reference. appendMode forces every write to seek to the current end
// first, grounded on O_APPEND's contract (spec.md §6).
func New(ops Ops, appendMode bool) *File {
	return &File{ops: ops, append: appendMode, tty: ops.IsTTY(), refs: 1}
}

func (f *File) addRef() { atomic.AddInt32(&f.refs, 1) }

// Release drops one reference, closing the backing Ops when it reaches
// zero. Grounded on Fd_t's implicit refcounting through Go's GC in
// biscuit; ember counts explicitly since dup/dup2/fork/close must share
// one File without double-closing it.
func (f *File) Release() defs.Err_t {
	if atomic.AddInt32(&f.refs, -1) > 0 {
		return 0
	}
	return f.ops.Close()
}

func (f *File) Read(buf []byte) (int, defs.Err_t) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n, err := f.ops.Read(buf, f.offset)
	if err != 0 {
		return 0, err
	}
	f.offset += int64(n)
	return n, 0
}

func (f *File) Write(buf []byte) (int, defs.Err_t) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.append {
		st, err := f.ops.GetStat()
		if err != 0 {
			return 0, err
		}
		f.offset = st.Size
	}

	n, err := f.ops.Write(buf, f.offset)
	if err != 0 {
		return 0, err
	}
	f.offset += int64(n)
	return n, 0
}

func (f *File) Seek(off int64, whence int) (int64, defs.Err_t) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch whence {
	case SeekSet:
		f.offset = off
	case SeekCur:
		f.offset += off
	case SeekEnd:
		st, err := f.ops.GetStat()
		if err != 0 {
			return 0, err
		}
		f.offset = st.Size + off
	default:
		return 0, -defs.EINVAL
	}
	if f.offset < 0 {
		return 0, -defs.EINVAL
	}
	return f.offset, 0
}

func (f *File) IsTTY() bool { return f.tty }

func (f *File) Ioctl(req, arg uintptr) (uintptr, defs.Err_t) {
	return f.ops.Ioctl(req, arg)
}

func (f *File) GetStat() (Stat, defs.Err_t) {
	return f.ops.GetStat()
}

// Reopen builds an independent File sharing nothing but the backing Ops
// instance, grounded on Copyfd. Unlike dup (same File, shared offset) this
// is for the rare case of reopening a file fresh; spec.md §4.10 does not
// ask for it directly but biscuit's Fd_t.Copyfd is kept. Nothing in this
// module calls it outside tests.
func (f *File) Reopen() (*File, defs.Err_t) {
	if err := f.ops.Reopen(); err != 0 {
		return nil, err
	}
	return &File{ops: f.ops, append: f.append, tty: f.tty, refs: 1}, 0
}
