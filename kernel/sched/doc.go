// Package sched is the per-CPU preemptive scheduler, grounded on
// original_source's kernel/sched/{sched,thread}.{h,c} (spec.md §4.5).
//
// The original dispatches threads with a hand-written swtch-style
// assembly routine: it saves the outgoing thread's callee-saved registers
// and stack pointer, loads the incoming thread's, and returns — resuming
// on whatever stack and return address the incoming thread last left
// behind (or, for a thread that has never run, a synthetic bootstrap
// frame built by thread_kernel_create). That trick depends on owning the
// raw stack pointer: real OS kernels (and C kernels compiled for bare
// metal) can do it because nothing else is watching the stack. A hosted
// Go program cannot: the runtime's stack-growth checks and GC scanning
// assume exclusive ownership of each goroutine's stack, and swapping RSP
// out from under it corrupts both.
//
// ember's teacher, biscuit, sidesteps this same problem by not writing a
// context switch at all — biscuit's "threads" are goroutines, and a
// patched Go runtime's own scheduler does every context switch for it
// (see tinfo.Current/SetCurrent). ember has no patched runtime to lean
// on, so this package reproduces the same idea explicitly: each Thread is
// backed by one real goroutine, and dispatch is a baton handed over an
// unbuffered channel rather than a register swap. At most one thread's
// goroutine is ever unblocked at a time per Scheduler, which is exactly
// spec.md §4.5's "at most one CPU runs a given thread" invariant, just
// enforced by channel handoff instead of hardware.
//
// ThreadCreateUser inherits the same substitution one level further:
// thread_create_user's synthetic iretq frame exists to drop a thread into
// ring 3 at an ELF entry point on its first dispatch. A hosted Go program
// has no ring 3 and no x86 instruction interpreter, so there is nothing to
// jump to even setting the stack-splicing problem above aside.
// kernel/proc's ELF loader still does the real work — validating the
// header, mapping PT_LOAD segments, resolving PT_INTERP — only the final
// transfer of control is represented by an ordinary Go entry func, exactly
// like a kernel thread's.
package sched
