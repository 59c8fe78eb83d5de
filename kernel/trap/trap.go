// Package trap is the interrupt/exception entry point every ISR stub
// funnels into, grounded on original_source's kernel/cpu/interrupts.c:
// one IDT-shaped vector table, a common dispatcher, and the two fatal
// CPU exception handlers (#GP, #PF) interrupts_init installs by default.
//
// ember has no ring0/ring3 transition to trap into — kernel/sched's
// goroutine handoff plays that role (see kernel/sched's package doc) —
// so this package models the IDT's *shape* (256 vectors, the first 32
// reserved for CPU exceptions, everything above available to
// interrupts_request_vector's callers) without any of the assembly
// stub/LIDT machinery that shape exists to drive on real hardware.
// kernel/event's local-APIC timer and kernel/syscall's dispatch both
// reach the kernel through an ordinary Go call instead of a trap, so
// this package's real job is exception routing and fault reporting: a
// vector with no registered handler, or one of the two CPU faults
// interrupts_init wires up, ends the program the same way panic()'s
// cpu_halt does on real hardware — it never returns control to the
// faulting context.
package trap

import "ember/kernel/lock"

// VectorCount mirrors IDT_SIZE.
const VectorCount = 256

// ExceptionsEnd mirrors EXCEPTIONS_END_OFFSET: vectors 0-31 are reserved
// for CPU exceptions (divide error, #GP, #PF, ...); RequestVector only
// ever hands out one above this.
const ExceptionsEnd = 31

const (
	VectorGeneralProtection = 0xD
	VectorPageFault         = 0xE
)

// Frame is the register/exception-context snapshot a trap handler
// receives, field order and meaning matching the original's packed
// InterruptFrame exactly (layout fidelity; nothing here is unsafe.Pointer
// cast onto real stack memory the way the original's assembly stub
// builds it). The general-purpose registers are carried for the same
// reason the original pushes them — a fault handler's report is more
// useful with the full register file — even though no handler in this
// package currently reads them.
type Frame struct {
	R15, R14, R13, R12, R11, R10, R9, R8 uint64
	RDI, RSI, RBP, RDX, RCX, RBX, RAX    uint64

	IntNumber uint64
	ErrCode   uint64
	RIP       uint64
	CS        uint64
	RFLAGS    uint64
	RSP       uint64
	SS        uint64

	// Instr is the raw bytes at RIP, if the caller building this Frame
	// had them available. It has no equivalent in the original (the
	// assembly stub never captures faulting-instruction bytes); fault
	// reports decode it with x86asm when present, and simply omit that
	// line when it isn't.
	Instr []byte
}

// Handler is a registered interrupt/exception handler, grounded on
// InterruptHandler.
type Handler func(frame *Frame)

var (
	handlersLock lock.Spinlock
	handlers     [VectorCount]Handler
)

// SetHandler installs handler as vector's handler, grounded on
// interrupts_set_handler.
func SetHandler(vector uint8, handler Handler) {
	handlersLock.Lock()
	defer handlersLock.Unlock()
	handlers[vector] = handler
}

// RequestVector finds the first unused vector above ExceptionsEnd
// and installs handler there, grounded on interrupts_request_vector.
// Returns ok=false if every dynamic vector is already taken.
func RequestVector(handler Handler) (vector uint8, ok bool) {
	handlersLock.Lock()
	defer handlersLock.Unlock()

	for i := ExceptionsEnd + 1; i < VectorCount; i++ {
		if handlers[i] != nil {
			continue
		}
		handlers[i] = handler
		return uint8(i), true
	}
	return 0, false
}

// Dispatch runs the handler registered for frame.IntNumber, grounded on
// common_int_handler. A vector with no registered handler is fatal, the
// same as the original's panic("no interrupt handler..."); the handler
// itself runs with handlersLock held, matching the original exactly
// (on a single CPU this only ever serializes against a concurrent
// SetHandler/RequestVector, never against the handler re-entering
// Dispatch).
//
// kernel/sched's preemption quantum expires on the local-APIC timer
// vector's handler (event.Queue.HandleNext, once registered for that
// vector; nothing in this module registers it), so every Dispatch caller
// must call sched.MaybeYield() once Dispatch returns, per spec.md §4.5's "yield on return from the timer handler"
// rule — this package doesn't call it directly itself to avoid an
// import cycle back into kernel/sched from a package kernel/sched's own
// tests have no need to depend on.
func Dispatch(frame *Frame) {
	handlersLock.Lock()
	defer handlersLock.Unlock()

	h := handlers[frame.IntNumber]
	if h == nil {
		fatalf(frame, "no interrupt handler for int_number: %d", frame.IntNumber)
	}
	h(frame)
}
