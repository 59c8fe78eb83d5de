package trap

import (
	"ember/kernel/klog"
	"golang.org/x/arch/x86/x86asm"
)

// fatalStorm throttles repeated identical fault reports the way the
// original's panic() never needed to (cpu_halt stops the machine after
// the first one); ember's hosted model instead crashes the offending
// goroutine and keeps running, so a tight fault loop — e.g. retried
// syscall dispatch after a bad pointer — would otherwise flood the log
// before the panic unwinds. Grounded on biscuit/src/caller/caller.go's
// Distinct_caller_t, already adapted once into klog.DistinctCaller.
var fatalStorm = &klog.DistinctCaller{Enabled: true}

// fatalf logs frame's register dump and a stack trace, then panics,
// grounded on panic()'s log_list + log_stack_trace + cpu_halt sequence.
// Unlike cpu_halt, a Go panic unwinds and can be recovered by a test;
// production boot code is expected to let it propagate to the runtime's
// default handler, which is this kernel's "the machine is wedged" state.
func fatalf(frame *Frame, format string, args ...any) {
	if fatalStorm.Distinct() {
		klog.Logf(klog.Error, "PANIC", format, args...)
		klog.Logf(klog.Error, "PANIC", "  rip=%#x cs=%#x rflags=%#x rsp=%#x ss=%#x err=%#x",
			frame.RIP, frame.CS, frame.RFLAGS, frame.RSP, frame.SS, frame.ErrCode)
		if line, ok := decodeFaultingInstruction(frame); ok {
			klog.Logf(klog.Error, "PANIC", "  faulting instruction: %s", line)
		}
		logStackTrace(frame)
	}
	panic("trap: fatal fault")
}

// decodeFaultingInstruction disassembles frame.Instr (if the caller
// supplied any) into one GNU-syntax line, resolving RIP through the
// installed symbol table the same way GNUSyntax's SymLookup callback
// resolves branch targets. Has no equivalent in the original, which
// never disassembles the faulting instruction at all.
func decodeFaultingInstruction(frame *Frame) (string, bool) {
	if len(frame.Instr) == 0 {
		return "", false
	}
	inst, err := x86asm.Decode(frame.Instr, 64)
	if err != nil {
		return "", false
	}
	return x86asm.GNUSyntax(inst, frame.RIP, symLookup), true
}

// gpHandler reports a #GP fault, grounded on gp_handler's error-code
// decode (E/Tbl/Index per the SDM's segment-selector error code layout).
func gpHandler(frame *Frame) {
	err := uint32(frame.ErrCode)
	external := err & 1
	tbl := (err >> 1) & 3
	idx := (err >> 3) & 0x1FFF

	tblName := [4]string{"GDT", "IDT", "LDT", "IDT"}[tbl]
	fatalf(frame,
		"GENERAL PROTECTION FAULT\n"+
			"   External (E)?    : %d\n"+
			"   Table referenced : %s\n"+
			"   Selector index   : %d",
		external, tblName, idx)
}

// pfHandler reports a #PF fault, grounded on pf_handler's error-code
// decode. The original reads CR2 for the faulting address; ember has no
// MMU to trap a real page fault from, and Frame has no CR2 field, so the
// report prints frame.RIP as the faulting address alongside the decoded
// frame.ErrCode bits.
func pfHandler(frame *Frame) {
	err := uint32(frame.ErrCode)
	fatalf(frame,
		"PAGE FAULT\n"+
			"   Faulting address (CR2) : %#x\n"+
			"   Present violation?     : %d\n"+
			"   Write access?          : %d\n"+
			"   User-mode access?      : %d\n"+
			"   Reserved-bit fault?    : %d\n"+
			"   Instruction fetch?     : %d",
		frame.RIP,
		err&1, (err>>1)&1, (err>>2)&1, (err>>3)&1, (err>>4)&1)
}

// Init installs the default fatal handlers for #GP and #PF, grounded on
// interrupts_init. Every other vector is left unregistered for
// RequestVector/SetHandler callers (the local-APIC timer, device
// interrupts); nothing in this module registers one outside tests. This is
// the same deferred-registration split interrupts_init's
// caller already follows in the original (fill_idt/load_idt happen here;
// every non-exception int_handlers[] entry is wired in later).
func Init() {
	SetHandler(VectorGeneralProtection, gpHandler)
	SetHandler(VectorPageFault, pfHandler)
}
