// Package cpu holds the per-CPU record and the handful of primitives that
// must drop to assembly on amd64: masking interrupts, spinning with PAUSE,
// and reading the interrupt flag. Everything above this layer (kernel/lock,
// kernel/sched) is architecture-neutral Go.
package cpu

// EnableInterrupts sets the interrupt flag (STI).
func EnableInterrupts()

// DisableInterrupts clears the interrupt flag (CLI).
func DisableInterrupts()

// InterruptsEnabled reports whether the interrupt flag is currently set,
// by reading RFLAGS rather than tracking it in software.
func InterruptsEnabled() bool

// Relax issues a PAUSE instruction, the idiomatic spin-wait hint on amd64;
// kernel/lock's Spinlock busy-loop uses it instead of a bare empty loop.
func Relax()

// Halt parks the calling CPU in a PAUSE/HLT loop. It never returns; the
// idle thread each CPU's scheduler dispatches when its ready queue is
// empty ends its stub by calling this, matching cpu_halt.
func Halt()

// InvalidatePage issues INVLPG for vaddr, flushing that single translation
// from the TLB. kernel/ptm calls this after every Map/Unmap instead of the
// original's commented-out tlb_shootdown(): per spec.md §4.2's single-CPU
// scope, a local INVLPG is sufficient and cross-CPU shootdown is out of
// scope (spec.md §1 Non-goals, SMP load balancing).
func InvalidatePage(vaddr uintptr)

// LoadCR3 writes cr3, switching the running CPU to the given address
// space's page tables. kernel/vm calls this once per vm_load_address_space
// equivalent (address space creation and context switch).
func LoadCR3(cr3 uintptr)

// FPUSave writes the calling CPU's SSE/x87 state into area via FXSAVE.
// area must be at least 512 bytes. kernel/sched calls this when switching
// away from a thread that belongs to a process, grounded on fpu.c's
// fxsave path; ember always uses the FXSAVE/FXRSTOR form rather than
// CPUID-branching to XSAVE the way fpu_init does, the same unconditional-
// baseline-feature simplification kernel/ptm makes for NX.
func FPUSave(area []byte)

// FPURestore loads SSE/x87 state from area via FXRSTOR, the inverse of
// FPUSave.
func FPURestore(area []byte)

// WriteFSBase writes ptr into MSR_FS_BASE, grounded on syscall_set_tcb's
// write_msr(MSR_FS_BASE, ptr). kernel/syscall's set_tcb handler is the
// only caller: user code points its thread-control-block pointer here so
// %fs-relative accesses (TLS) resolve against it.
func WriteFSBase(ptr uintptr)

// EnableInterruptsFn, DisableInterruptsFn and InterruptsEnabledFn are the
// indirections every caller above this package should use instead of the
// bare functions above. They default to the real privileged instructions
// but are swappable package vars, the same seam gopher-os's cpu package
// uses for cpuidFn so IsIntel stays host-testable; here it lets any
// package whose tests exercise kernel/lock.Spinlock run on a hosted
// GOOS/GOARCH without executing STI/CLI.
var (
	EnableInterruptsFn  = EnableInterrupts
	DisableInterruptsFn = DisableInterrupts
	InterruptsEnabledFn = InterruptsEnabled
	InvalidatePageFn    = InvalidatePage
	LoadCR3Fn           = LoadCR3
	FPUSaveFn           = FPUSave
	FPURestoreFn        = FPURestore
	WriteFSBaseFn       = WriteFSBase
)

// MaskInterrupts disables interrupts and reports whether they were enabled
// beforehand, grounded on cpu_int_mask. Every package that needs a short
// interrupts-off critical section (kernel/event, kernel/sched) pairs this
// with RestoreInterrupts rather than calling Enable/DisableInterruptsFn
// directly, so the save/restore discipline lives in one place.
func MaskInterrupts() bool {
	prev := InterruptsEnabledFn()
	DisableInterruptsFn()
	return prev
}

// RestoreInterrupts re-enables interrupts if prev (MaskInterrupts' return
// value) was true, grounded on cpu_int_restore.
func RestoreInterrupts(prev bool) {
	if prev {
		EnableInterruptsFn()
	}
}

// StubInterrupts installs software-only stand-ins for the Fn hooks above,
// tracking the flag in an ordinary bool instead of RFLAGS, and swaps
// InvalidatePageFn for a no-op (INVLPG is equally privileged and equally
// irrelevant to a hosted test's correctness). Returns a restore func that
// puts the real STI/CLI/INVLPG-backed hooks back. Every package whose
// tests exercise kernel/lock.Spinlock or kernel/ptm (directly or
// transitively) should call this from its TestMain.
func StubInterrupts() (restore func()) {
	realEnable, realDisable, realEnabled := EnableInterruptsFn, DisableInterruptsFn, InterruptsEnabledFn
	realInvalidate := InvalidatePageFn
	realLoadCR3 := LoadCR3Fn
	realFPUSave := FPUSaveFn
	realFPURestore := FPURestoreFn
	realWriteFSBase := WriteFSBaseFn

	var enabled bool
	EnableInterruptsFn = func() { enabled = true }
	DisableInterruptsFn = func() { enabled = false }
	InterruptsEnabledFn = func() bool { return enabled }
	InvalidatePageFn = func(uintptr) {}
	LoadCR3Fn = func(uintptr) {}
	FPUSaveFn = func([]byte) {}
	FPURestoreFn = func([]byte) {}
	WriteFSBaseFn = func(uintptr) {}
	enabled = true

	return func() {
		EnableInterruptsFn, DisableInterruptsFn, InterruptsEnabledFn = realEnable, realDisable, realEnabled
		InvalidatePageFn = realInvalidate
		LoadCR3Fn = realLoadCR3
		FPUSaveFn = realFPUSave
		FPURestoreFn = realFPURestore
		WriteFSBaseFn = realWriteFSBase
	}
}
