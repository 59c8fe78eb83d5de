package cpu

// TSS is the x86_64 Task State Segment, field order and widths matching
// the hardware layout exactly (the CPU's task register loads its physical
// address on certain privilege transitions). ember only uses it for rsp0:
// the kernel stack pointer the CPU loads on a ring3->ring0 transition via
// a syscall or interrupt. Grounded on original_source's packed Tss struct
// (kernel/cpu/tss.h); the ist/iomapBase fields are carried for layout
// fidelity even though nothing in this kernel arms an IST stack yet.
type TSS struct {
	reserved0 uint32
	rsp0Lower uint32
	rsp0Upper uint32
	rsp1Lower uint32
	rsp1Upper uint32
	rsp2Lower uint32
	rsp2Upper uint32
	reserved1 uint32
	reserved2 uint32
	ist       [7]struct{ AddrLower, AddrUpper uint32 }
	reserved3 uint32
	reserved4 uint32
	reserved5 uint16
	iomapBase uint16
}

// SetRSP0 installs rsp as the stack pointer the CPU switches to on a
// transition into ring 0, grounded on tss_set_rsp0. kernel/sched calls
// this on every context switch so a later trap into the next thread
// lands on that thread's own kernel stack rather than the one it
// preempted.
func (t *TSS) SetRSP0(rsp uintptr) {
	t.rsp0Lower = uint32(rsp)
	t.rsp0Upper = uint32(rsp >> 32)
}
