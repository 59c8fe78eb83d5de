package syscall

import (
	"encoding/binary"

	"ember/kernel/cpu"
	"ember/kernel/defs"
	"ember/kernel/klog"
	"ember/kernel/mem"
	"ember/kernel/ptm"
	"ember/kernel/sched"
	"ember/kernel/vm"
)

// sysAnonAlloc implements anon_alloc(size): a page-aligned RW anonymous
// mapping, grounded on syscall_anon_alloc's vm_map_anon(size, RW, ZERO)
// call.
func (d *Dispatcher) sysAnonAlloc(size uintptr) Result {
	if size == 0 {
		return fail(-defs.EINVAL)
	}
	length := (size + mem.PageSize - 1) &^ (mem.PageSize - 1)
	p := currentProc()
	as := p.AddressSpace()

	vaddr := vm.MapAnon(as, d.PFA, 0, length, ptm.Protection{Read: true, Write: true}, ptm.CachingDefault, vm.FlagZero)
	if vaddr == 0 {
		return fail(-defs.ENOMEM)
	}
	return ok(uint64(vaddr))
}

// sysAnonFree implements anon_free(ptr, size): unmap, grounded on
// syscall_anon_free's vm_unmap call. Handlers must validate alignment
// themselves since vm.Unmap panics rather than erroring on a misaligned
// address or length.
func (d *Dispatcher) sysAnonFree(ptr, size uintptr) Result {
	if !pageAligned(ptr, size) {
		return fail(-defs.EINVAL)
	}
	p := currentProc()
	vm.Unmap(p.AddressSpace(), d.PFA, ptr, size)
	return ok(0)
}

// sysSetTCB implements set_tcb(ptr): writes ptr into the calling CPU's FS
// base MSR, grounded on syscall_set_tcb's write_msr(MSR_FS_BASE, ptr).
func (d *Dispatcher) sysSetTCB(ptr uintptr) Result {
	cpu.WriteFSBaseFn(ptr)
	return ok(0)
}

// sysMmap implements mmap(hint, len, prot, flags, fd, off): anonymous
// mappings only, grounded on spec.md §4.12's "anon only" contract — a
// file-backed request (fd != -1) is rejected rather than silently
// degraded to anonymous.
func (d *Dispatcher) sysMmap(hint, length uintptr, prot, flags, fd int, off int64) Result {
	if fd != -1 || off != 0 {
		return fail(-defs.EINVAL)
	}
	if length == 0 || length%mem.PageSize != 0 {
		return fail(-defs.EINVAL)
	}

	p := currentProc()
	as := p.AddressSpace()
	vmProt := ptm.Protection{
		Read:  prot&defs.PROT_READ != 0,
		Write: prot&defs.PROT_WRITE != 0,
		Exec:  prot&defs.PROT_EXEC != 0,
	}
	var vmFlags vm.Flags
	if flags&defs.MAP_FIXED != 0 {
		vmFlags |= vm.FlagFixed
	}

	vaddr := vm.MapAnon(as, d.PFA, hint, length, vmProt, ptm.CachingDefault, vmFlags)
	if vaddr == 0 {
		return fail(-defs.ENOMEM)
	}
	return ok(uint64(vaddr))
}

// sysMprotect implements mprotect(ptr, len, prot), grounded on
// vm_mprotect. Like anon_free, alignment is the handler's responsibility.
func (d *Dispatcher) sysMprotect(ptr, length uintptr, prot int) Result {
	if !pageAligned(ptr, length) {
		return fail(-defs.EINVAL)
	}
	p := currentProc()
	vmProt := ptm.Protection{
		Read:  prot&defs.PROT_READ != 0,
		Write: prot&defs.PROT_WRITE != 0,
		Exec:  prot&defs.PROT_EXEC != 0,
	}
	vm.Mprotect(p.AddressSpace(), d.PFA, ptr, length, vmProt)
	return ok(0)
}

// framebufferWireSize is the on-the-wire byte length of a Framebuffer
// descriptor, grounded on original_source's SysFramebuffer layout:
// address, width, height, pitch and bpp as little-endian uint64s at
// offsets 0-39, the six mask size/shift bytes at 40-45, and zero padding
// up to 64 bytes. A fixed little-endian
// layout keeps the user struct stable across builds the way a C struct
// with no compiler-inserted padding surprises would.
const framebufferWireSize = 7*8 + 8

func encodeFramebuffer(fb Framebuffer) []byte {
	buf := make([]byte, framebufferWireSize)
	binary.LittleEndian.PutUint64(buf[0:], uint64(fb.PhysAddr))
	binary.LittleEndian.PutUint64(buf[8:], fb.Width)
	binary.LittleEndian.PutUint64(buf[16:], fb.Height)
	binary.LittleEndian.PutUint64(buf[24:], fb.Pitch)
	binary.LittleEndian.PutUint64(buf[32:], uint64(fb.Bpp))
	buf[40] = fb.RedMaskSize
	buf[41] = fb.RedMaskShift
	buf[42] = fb.GreenMaskSize
	buf[43] = fb.GreenMaskShift
	buf[44] = fb.BlueMaskSize
	buf[45] = fb.BlueMaskShift
	return buf
}

// sysFetchFramebuffer implements fetch_framebuffer(out): maps the boot
// framebuffer into the caller's address space and copies the descriptor
// out with address replaced by the mapped virtual address, grounded on
// framebuffer_map's vm_map_direct(height*pitch, RW, CachingDefault, 0)
// followed by a struct copy with address substituted.
func (d *Dispatcher) sysFetchFramebuffer(out uintptr) Result {
	if d.FB.PhysAddr == 0 {
		return fail(-defs.ENODEV)
	}
	length := uintptr(d.FB.Height * d.FB.Pitch)
	length = (length + mem.PageSize - 1) &^ (mem.PageSize - 1)

	p := currentProc()
	as := p.AddressSpace()
	vaddr := vm.MapDirect(as, d.PFA, 0, length, d.FB.PhysAddr, ptm.Protection{Read: true, Write: true}, ptm.CachingDefault, 0)
	if vaddr == 0 {
		return fail(-defs.ENOMEM)
	}

	mapped := d.FB
	mapped.PhysAddr = mem.Pa(vaddr)
	if err := copyBufferToUser(as, out, encodeFramebuffer(mapped)); err != 0 {
		return fail(err)
	}
	return ok(0)
}

// sysGetTime implements gettime(clock, out_ts): REALTIME always reads
// zero (no wall-clock source exists, spec.md §4.12), MONOTONIC reads
// sched.Now()'s boot-relative nanoseconds. out_ts receives a single
// little-endian uint64 nanosecond count.
func (d *Dispatcher) sysGetTime(clock int, outTS uintptr) Result {
	var ns uint64
	switch clock {
	case defs.CLOCK_REALTIME:
		ns = 0
	case defs.CLOCK_MONOTONIC:
		ns = sched.Now()
	default:
		return fail(-defs.EINVAL)
	}

	p := currentProc()
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, ns)
	if err := copyBufferToUser(p.AddressSpace(), outTS, buf); err != 0 {
		return fail(err)
	}
	return ok(0)
}

// sysNsleep implements nsleep(ns): a blocking sleep, grounded on
// sched.Sleep's own nanosecond-deadline contract.
func (d *Dispatcher) sysNsleep(ns uint64) Result {
	sched.Sleep(ns)
	return ok(0)
}

// sysDebug implements debug(str, len): logs a kernel-tagged line,
// grounded on syscall_debug's copy_string_from_user + log call.
func (d *Dispatcher) sysDebug(strPtr, length uintptr) Result {
	p := currentProc()
	raw, err := copyBufferFromUser(p.AddressSpace(), strPtr, int(length))
	if err != 0 {
		return fail(err)
	}
	klog.Logf(klog.Info, "user", "%s", klog.SanitizeBytes(raw))
	return ok(0)
}
