// Package syscall is the kernel-side half of the user ABI: one dispatch
// entry point plus a handler per syscall number, grounded on
// original_source's kernel/syscall/syscall.c and kernel/abi/syscall/
// syscall.h (spec.md §4.12). There is no entry stub (switch to the
// thread's kernel stack, save/restore registers around the call) in this
// module, kernel/trap included: callers invoke Dispatch directly, so this
// package only ever sees already-decoded register values and returns an
// already-decoded result.
package syscall

import (
	"ember/kernel/defs"
	"ember/kernel/mem"
	"ember/kernel/vfs"
)

// Syscall numbers, grounded on abi/syscall/syscall.h's SYSCALL_* defines.
const (
	SysExit = iota
	SysDebug
	SysSetTCB
	SysAnonAlloc
	SysAnonFree
	SysOpen
	SysClose
	SysRead
	SysWrite
	SysSeek
	SysFetchFramebuffer
	SysFork
	SysExecve
	SysMmap
	SysMprotect
	SysMkdir
	SysDup2
	SysGetTime
	SysNsleep
	SysGetPid
	SysGetCwd
	SysIsATTY
	SysGetPpid
	SysIoctl
	SysFcntl
	SysStat
	SysDup
)

// Result is a syscall's return value, grounded on SyscallResult{value,
// error}: Value is returned in rax, Err in rdx (spec.md §6), 0 meaning
// success.
type Result struct {
	Value uint64
	Err   defs.Err_t
}

func ok(v uint64) Result { return Result{Value: v} }

// fail builds a failing Result, mapping kernel/res's internal ENOHEAP
// admission-control error onto the POSIX ENOMEM every other out-of-memory
// condition already reports — ENOHEAP never crosses into the user-visible
// errno space itself (spec.md §6 only recognises POSIX codes), per its
// own doc comment in kernel/defs.
func fail(e defs.Err_t) Result {
	if e == -defs.ENOHEAP {
		e = -defs.ENOMEM
	}
	return Result{Err: e}
}

// Framebuffer is the descriptor fetch_framebuffer hands back, grounded on
// original_source's SysFramebuffer. PhysAddr is the physical base the
// boot shim reported; sysFetchFramebuffer maps it into the caller's
// address space and rewrites PhysAddr to the mapped virtual address
// before copying the struct out, exactly as framebuffer_map does.
type Framebuffer struct {
	PhysAddr              mem.Pa
	Width, Height, Pitch  uint64
	Bpp                   uint16
	RedMaskSize           uint8
	RedMaskShift          uint8
	GreenMaskSize         uint8
	GreenMaskShift        uint8
	BlueMaskSize          uint8
	BlueMaskShift         uint8
}

// Dispatcher holds the collaborators handlers reach for a current
// process's address space, the physical frame allocator, the mounted
// filesystem, and the boot-reported framebuffer. NewDispatcher builds
// one; within this module only the tests call it.
type Dispatcher struct {
	PFA *mem.PFA
	VFS *vfs.VFS
	FB  Framebuffer
}

// NewDispatcher returns a Dispatcher ready to serve syscalls.
func NewDispatcher(pfa *mem.PFA, v *vfs.VFS, fb Framebuffer) *Dispatcher {
	return &Dispatcher{PFA: pfa, VFS: v, FB: fb}
}

// Dispatch runs syscall num with the six argument registers already
// decoded (rdi, rsi, rdx, r10, r8, r9 per spec.md §6's convention), and
// returns its result. Pointer-valued arguments are passed through as
// uintptr user virtual addresses; handlers copy through kernel/vm
// themselves.
func (d *Dispatcher) Dispatch(num int, a0, a1, a2, a3, a4, a5 uintptr) Result {
	switch num {
	case SysExit:
		return d.sysExit(int(a0), a1 != 0)
	case SysDebug:
		return d.sysDebug(a0, a1)
	case SysSetTCB:
		return d.sysSetTCB(a0)
	case SysAnonAlloc:
		return d.sysAnonAlloc(a0)
	case SysAnonFree:
		return d.sysAnonFree(a0, a1)
	case SysOpen:
		return d.sysOpen(a0, a1, int(a2), int(a3))
	case SysClose:
		return d.sysClose(int(a0))
	case SysRead:
		return d.sysRead(int(a0), a1, a2)
	case SysWrite:
		return d.sysWrite(int(a0), a1, a2)
	case SysSeek:
		return d.sysSeek(int(a0), int64(a1), int(a2))
	case SysFetchFramebuffer:
		return d.sysFetchFramebuffer(a0)
	case SysFork:
		return d.sysFork()
	case SysExecve:
		return d.sysExecve(a0, a1, a2, a3)
	case SysMmap:
		return d.sysMmap(a0, a1, int(a2), int(a3), int(a4), int64(a5))
	case SysMprotect:
		return d.sysMprotect(a0, a1, int(a2))
	case SysMkdir:
		return d.sysMkdir(a0, a1, int(a2))
	case SysDup2:
		return d.sysDup2(int(a0), int(a1))
	case SysGetTime:
		return d.sysGetTime(int(a0), a1)
	case SysNsleep:
		return d.sysNsleep(uint64(a0))
	case SysGetPid:
		return d.sysGetPid()
	case SysGetCwd:
		return d.sysGetCwd(a0, a1)
	case SysIsATTY:
		return d.sysIsATTY(int(a0))
	case SysGetPpid:
		return d.sysGetPpid()
	case SysIoctl:
		return d.sysIoctl(int(a0), a1, a2)
	case SysFcntl:
		return d.sysFcntl(int(a0), int(a1), a2)
	case SysStat:
		return d.sysStat(int(a0), a1)
	case SysDup:
		return d.sysDup(int(a0))
	default:
		return fail(-defs.ENOSYS)
	}
}
