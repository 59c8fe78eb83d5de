package syscall

import (
	"encoding/binary"

	"ember/kernel/bounds"
	"ember/kernel/defs"
	"ember/kernel/mem"
	"ember/kernel/proc"
	"ember/kernel/res"
	"ember/kernel/sched"
	"ember/kernel/vm"
)

// currentProc resolves the calling thread's owning process, grounded on
// thread.h's per-thread proc backlink. Every syscall runs on behalf of a
// user thread, so a nil/non-process thread here is a dispatch bug, not a
// recoverable user error.
func currentProc() *proc.Process {
	t := sched.CurrentThread()
	if t == nil {
		panic("syscall: dispatch with no current thread")
	}
	p, ok := t.Proc.(*proc.Process)
	if !ok || p == nil {
		panic("syscall: current thread has no owning process")
	}
	return p
}

// copyStringFromUser reads a NUL-free, length-bounded string out of the
// caller's address space, grounded on syscall.c's copy_string_from_user:
// kmalloc a kernel buffer, vm_copy_from into it, reject a short copy as a
// fault. maxLen enforces spec.md §4.12's per-string bound (128/256
// depending on caller).
func copyStringFromUser(as *vm.AddressSpace, uptr uintptr, length, maxLen int) (string, defs.Err_t) {
	if length < 0 || length > maxLen {
		return "", -defs.E2BIG
	}
	release, ok := res.Reserve(bounds.CopyFromUser)
	if !ok {
		return "", -defs.ENOHEAP
	}
	defer release()

	buf := make([]byte, length)
	if n := vm.CopyFrom(buf, as, uptr); n != length {
		return "", -defs.EFAULT
	}
	return string(buf), 0
}

// copyBufferFromUser mirrors copy_buffer_from_user: allocate and fill a
// kernel buffer of exactly length bytes from the caller's address space,
// admission-gated by kernel/res the same way biscuit's User2k_inner
// reserves a budget unit before touching the page tables — a runaway
// read/write syscall storm can't exhaust kernel memory one copy at a time.
func copyBufferFromUser(as *vm.AddressSpace, uptr uintptr, length int) ([]byte, defs.Err_t) {
	if length < 0 {
		return nil, -defs.EINVAL
	}
	release, ok := res.Reserve(bounds.CopyFromUser)
	if !ok {
		return nil, -defs.ENOHEAP
	}
	defer release()

	buf := make([]byte, length)
	if n := vm.CopyFrom(buf, as, uptr); n != length {
		return nil, -defs.EFAULT
	}
	return buf, 0
}

// copyBufferToUser writes buf out to the caller's address space, grounded
// on vm_copy_to's use throughout syscall.c's result-copying handlers, with
// the same kernel/res admission check as the from-user direction
// (biscuit's K2user_inner).
func copyBufferToUser(as *vm.AddressSpace, uptr uintptr, buf []byte) defs.Err_t {
	release, ok := res.Reserve(bounds.CopyToUser)
	if !ok {
		return -defs.ENOHEAP
	}
	defer release()

	if n := vm.CopyTo(as, uptr, buf); n != len(buf) {
		return -defs.EFAULT
	}
	return 0
}

// copyStringArrayFromUser reads execve's argv/envp wire format out of the
// caller's address space: a little-endian u64 count followed by that many
// {u64 ptr, u64 len} pairs, each then resolved via copyStringFromUser. This
// layout is ember's own — original_source's process_create never takes an
// argv/envp from user space at all (exec doesn't exist there, see
// kernel/proc/exec.go) — but it applies spec.md §4.12's stated bounds
// (EXEC_MAXARGS entries, EXEC_MAXSTR bytes each) exactly as a ported
// implementation would.
func copyStringArrayFromUser(as *vm.AddressSpace, descPtr uintptr) ([]string, defs.Err_t) {
	if descPtr == 0 {
		return nil, 0
	}

	head := make([]byte, 8)
	if n := vm.CopyFrom(head, as, descPtr); n != len(head) {
		return nil, -defs.EFAULT
	}
	count := binary.LittleEndian.Uint64(head)
	if count > defs.EXEC_MAXARGS {
		return nil, -defs.E2BIG
	}

	const pairSize = 16
	pairs := make([]byte, int(count)*pairSize)
	if len(pairs) > 0 {
		if n := vm.CopyFrom(pairs, as, descPtr+8); n != len(pairs) {
			return nil, -defs.EFAULT
		}
	}

	out := make([]string, count)
	for i := range out {
		ptr := uintptr(binary.LittleEndian.Uint64(pairs[i*pairSize:]))
		ln := binary.LittleEndian.Uint64(pairs[i*pairSize+8:])
		s, err := copyStringFromUser(as, ptr, int(ln), defs.EXEC_MAXSTR)
		if err != 0 {
			return nil, err
		}
		out[i] = s
	}
	return out, 0
}

// pageAligned reports whether addr and length are both page-size multiples,
// the check every handler must run itself before calling vm.Unmap or
// vm.Mprotect — both panic on misalignment rather than returning an error.
func pageAligned(addr, length uintptr) bool {
	return addr%mem.PageSize == 0 && length%mem.PageSize == 0 && length > 0
}
