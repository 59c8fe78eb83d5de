package proc

import (
	"ember/kernel/mem"
	"ember/kernel/sched"
	"ember/kernel/vm"
)

// Fork creates a child of p: a new address space that is an eager copy of
// p's (vm.Clone already folds the anonymous-vs-direct distinction in),
// its own copy of the fd table (fd.Table.Clone, sharing the underlying
// open files per fork(2)'s contract), and one new thread that starts
// inside childEntry rather than resuming wherever the parent called fork.
//
// original_source has no fork at all (process_create only ever runs once,
// at boot) so there is no sched_context_switch-based "capture the calling
// thread's saved registers and splice them into a copy" to port: the same
// honest simplification already used for context switching and
// ThreadCreateUser applies here too. A real fork's single call returning
// twice depends on duplicating a raw register/stack snapshot that only
// exists because the original owns the bare metal; a hosted Go goroutine
// has no such snapshot to take. childEntry stands in for "the fork return
// path in the child", exactly as entry stands in for "the user program"
// in ThreadCreateUser. kernel/syscall's fork handler passes an empty
// func as childEntry, so the child thread does no work of its own and no
// return value is set for the child.
func (p *Process) Fork(pfa *mem.PFA, childEntry func(), name string) *Process {
	childAS := vm.CreateAddressSpace(pfa)
	vm.Clone(childAS, p.as, pfa)

	child := Create(childAS, name, p)
	child.Files = p.Files.Clone()
	child.Cwd = p.Cwd

	t := sched.ThreadCreateUser(pfa, child, 0, 0, childEntry, name)
	child.addThread(t)
	sched.ScheduleThread(t)

	return child
}
