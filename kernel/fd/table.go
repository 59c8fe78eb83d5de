package fd

import (
	"sync"

	"ember/kernel/defs"
)

// MaxFDs is the fixed size of a process's descriptor table, grounded on
// spec.md §8's "exceeding 256 concurrent FDs returns -EMFILE".
const MaxFDs = 256

// Table is a process's file descriptor table: a fixed array of slots
// guarded by one mutex, grounded on biscuit's per-process fd array
// (kept as a fixed array instead of biscuit's growable one since
// spec.md fixes the table size at 256 rather than growing on demand).
type Table struct {
	mu      sync.Mutex
	slots   [MaxFDs]*File
	cloexec [MaxFDs]bool
}

// NewTable returns an empty descriptor table.
func NewTable() *Table {
	return &Table{}
}

func (t *Table) lowestFree(from int) int {
	for i := from; i < MaxFDs; i++ {
		if t.slots[i] == nil {
			return i
		}
	}
	return -1
}

// Alloc installs f at the lowest free slot at or after from and returns
// its number, or -EMFILE if the table is full.
func (t *Table) Alloc(f *File, from int, cloexec bool) (int, defs.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()

	slot := t.lowestFree(from)
	if slot < 0 {
		return 0, -defs.EMFILE
	}
	t.slots[slot] = f
	t.cloexec[slot] = cloexec
	return slot, 0
}

func (t *Table) valid(fd int) bool {
	return fd >= 0 && fd < MaxFDs
}

// Get returns the File installed at fd, or -EBADF if fd is out of range or
// unused.
func (t *Table) Get(fd int) (*File, defs.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.valid(fd) || t.slots[fd] == nil {
		return nil, -defs.EBADF
	}
	return t.slots[fd], 0
}

// Close releases fd's reference and clears the slot. For a valid
// descriptor the slot is always cleared; the returned error is whatever the
// backing Ops.Close reported if this was the last reference.
func (t *Table) Close(fd int) defs.Err_t {
	t.mu.Lock()
	if !t.valid(fd) || t.slots[fd] == nil {
		t.mu.Unlock()
		return -defs.EBADF
	}
	f := t.slots[fd]
	t.slots[fd] = nil
	t.cloexec[fd] = false
	t.mu.Unlock()

	return f.Release()
}

// Dup duplicates fd onto the lowest free slot, grounded on syscall #26.
func (t *Table) Dup(fd int) (int, defs.Err_t) {
	t.mu.Lock()
	if !t.valid(fd) || t.slots[fd] == nil {
		t.mu.Unlock()
		return 0, -defs.EBADF
	}
	f := t.slots[fd]
	t.mu.Unlock()

	f.addRef()
	return t.Alloc(f, 0, false)
}

// Dup2 duplicates oldfd onto newfd, closing whatever newfd previously held,
// grounded on syscall #16. A no-op (success, no refcount change) when
// oldfd == newfd, matching dup2(2).
func (t *Table) Dup2(oldfd, newfd int) defs.Err_t {
	t.mu.Lock()
	if !t.valid(oldfd) || t.slots[oldfd] == nil || !t.valid(newfd) {
		t.mu.Unlock()
		return -defs.EBADF
	}
	if oldfd == newfd {
		t.mu.Unlock()
		return 0
	}
	f := t.slots[oldfd]
	prev := t.slots[newfd]
	f.addRef()
	t.slots[newfd] = f
	t.cloexec[newfd] = false
	t.mu.Unlock()

	if prev != nil {
		prev.Release()
	}
	return 0
}

// Clone returns a new table sharing every open File with t (each gaining
// one reference), grounded on fork's "duplicate the FD table" contract
// (spec.md §4.11). cloexec slots are carried over as-is; execve is what
// actually closes them, not fork.
func (t *Table) Clone() *Table {
	t.mu.Lock()
	defer t.mu.Unlock()

	nt := &Table{}
	for i, f := range t.slots {
		if f == nil {
			continue
		}
		f.addRef()
		nt.slots[i] = f
		nt.cloexec[i] = t.cloexec[i]
	}
	return nt
}

// CloseOnExec closes every descriptor marked close-on-exec, grounded on
// execve's contract that successful exec clears them from the surviving
// table (spec.md §4.11's "replace the current process's address space"
// implies the FD table survives exec apart from these).
func (t *Table) CloseOnExec() {
	t.mu.Lock()
	var toClose []*File
	for i, f := range t.slots {
		if f != nil && t.cloexec[i] {
			toClose = append(toClose, f)
			t.slots[i] = nil
			t.cloexec[i] = false
		}
	}
	t.mu.Unlock()

	for _, f := range toClose {
		f.Release()
	}
}
