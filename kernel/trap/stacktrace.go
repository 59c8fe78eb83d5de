package trap

import "ember/kernel/klog"

// maxStackDepth mirrors log_stack_trace_from's depth < 30 bound.
const maxStackDepth = 30

// StackReader reads the 8-byte word of memory at addr, returning ok=false
// if addr isn't currently mapped/readable. Backtrace uses it instead of
// dereferencing a raw *DebugStackFrame the way log_stack_trace_from does:
// a fault's saved RBP is a virtual address in whatever address space was
// running at fault time, and resolving that address to a physical frame
// kernel/trap can safely read is kernel/vm's and kernel/mem's job, not
// this package's. Nothing in this module installs such a reader (a
// page-table walk through kernel/vm landing on kernel/mem.Dmap); only
// the tests install a synthetic one.
type StackReader func(addr uintptr) (word uint64, ok bool)

var stackReader StackReader

// InstallStackReader sets the memory reader Backtrace walks frames
// through. Passing nil (the zero value) makes Backtrace a no-op beyond
// the fault PC itself, which is also the state until something calls
// this.
func InstallStackReader(r StackReader) {
	stackReader = r
}

// Backtrace logs the call chain reachable by following the saved-RBP
// chain starting at rbp, grounded on log_stack_trace_from's
// DebugStackFrame{rbp, rip} walk: rip lives at rbp+8, the next frame's
// rbp lives at rbp+0, exactly the layout `push rbp; mov rbp, rsp`
// produces. Each resolved rip is looked up through the installed symbol
// table the same way get_symbol_name does. Stops silently at an unmapped
// or zero rbp, or after maxStackDepth frames, matching the original's
// `frame && frame->rip && depth < 30` loop condition.
func Backtrace(rbp uintptr) {
	if stackReader == nil {
		return
	}

	for depth := 0; rbp != 0 && depth < maxStackDepth; depth++ {
		rip, ok := stackReader(rbp + 8)
		if !ok || rip == 0 {
			return
		}
		logFrameLine(uintptr(rip))

		next, ok := stackReader(rbp)
		if !ok {
			return
		}
		rbp = uintptr(next)
	}
}

// logFrameLine logs one resolved-or-unknown stack frame, grounded on
// log_stack_trace_from's two log_raw branches.
func logFrameLine(rip uintptr) {
	if sym, off, ok := Lookup(rip); ok {
		klog.Logf(klog.Error, "PANIC", "       %s+%d <%#x>", sym.Name, off, rip)
	} else {
		klog.Logf(klog.Error, "PANIC", "       [UNKNOWN] <%#x>", rip)
	}
}

// logStackTrace is fatalf's entry point, grounded on log_stack_trace:
// log the header, the fault PC itself (frame.RIP, which log_stack_trace's
// caller never needs to special-case since its frame pointer already
// starts at the current function), then the saved-RBP chain above it.
func logStackTrace(frame *Frame) {
	klog.Logf(klog.Error, "PANIC", "Stack Trace")
	logFrameLine(uintptr(frame.RIP))
	Backtrace(uintptr(frame.RBP))
}
