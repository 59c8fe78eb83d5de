// Package proc is the process/thread/ELF/exec/fork model, grounded on
// original_source's kernel/sched/process.{h,c} (spec.md §4.11). fork and
// execve have no counterpart in original_source at all — process_create
// only ever runs once, at boot, for the first process — so fork.go and
// exec.go are supplemented features built in the teacher's idiom rather
// than ported line for line.
package proc

import (
	"sync"
	"sync/atomic"

	"ember/kernel/defs"
	"ember/kernel/fd"
	"ember/kernel/sched"
	"ember/kernel/vm"
)

// Process is a schedulable address space plus the bookkeeping the
// original's Process struct carries: pid, name, an fd table, and the
// threads running inside it. Grounded on process.h's {pid, name, as,
// fds, threads}; parent/children are a supplemented addition for
// spec.md §9's "process tree may be a DAG, not strictly a tree" note,
// since the original never tears a process down (no exit/wait at all).
type Process struct {
	PID  defs.Pid_t
	Name string

	as    *vm.AddressSpace
	Files *fd.Table

	// Cwd is the process's working directory, kept as a plain path
	// string rather than an open vnode. spec.md §4.12's getcwd entry
	// says the syscall "returns '/' for now" — an explicit, spec-stated
	// limitation, not an invented shortcut — so there is nothing yet
	// that needs a live vnode reference here.
	Cwd string

	mu      sync.Mutex
	Threads []*sched.Thread

	Parent   *Process
	children []*Process

	exited   bool
	exitCode int
}

// AddressSpace satisfies sched.AddressSpaceHolder, letting Thread.Proc
// (stored as an opaque any to avoid the kernel/proc <-> kernel/sched
// import cycle) hand Yield the address space to switch into.
func (p *Process) AddressSpace() *vm.AddressSpace {
	return p.as
}

var (
	nextPID uint64
	tableMu sync.Mutex
	table   = map[defs.Pid_t]*Process{}
)

// Lookup returns the live process with the given pid, or nil.
func Lookup(pid defs.Pid_t) *Process {
	tableMu.Lock()
	defer tableMu.Unlock()
	return table[pid]
}

// Create allocates a process around an already-built address space and
// registers it in the process table, grounded on process_create. parent
// is nil only for the first process created at boot.
func Create(as *vm.AddressSpace, name string, parent *Process) *Process {
	p := &Process{
		PID:    defs.Pid_t(atomic.AddUint64(&nextPID, 1) - 1),
		Name:   name,
		as:     as,
		Files:  fd.NewTable(),
		Cwd:    "/",
		Parent: parent,
	}

	if parent != nil {
		parent.mu.Lock()
		parent.children = append(parent.children, p)
		parent.mu.Unlock()
	}

	tableMu.Lock()
	table[p.PID] = p
	tableMu.Unlock()

	return p
}

// addThread registers t as running inside p, grounded on process.h's
// intrusive threads list. Kept as a plain mutex-guarded slice rather than
// an intrusive container.List: a process's thread count is tiny (spec.md
// never describes more than a handful of threads per process) so the
// O(n) removal below costs nothing, and it avoids giving kernel/sched's
// Thread a second container.Node alongside the one the ready queue
// already uses.
func (p *Process) addThread(t *sched.Thread) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Threads = append(p.Threads, t)
}

func (p *Process) removeThread(t *sched.Thread) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, th := range p.Threads {
		if th == t {
			p.Threads = append(p.Threads[:i], p.Threads[i+1:]...)
			return
		}
	}
}

// ThreadCount reports how many threads are currently running inside p.
func (p *Process) ThreadCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Threads)
}

// Exit marks p as exited with the given status. Threads already running
// are left to reach sched.Done on their own; spec.md's process teardown
// (reparenting children, waking a waiting parent) is future kernel/syscall
// work layered on top of this flag, not duplicated here.
func (p *Process) Exit(code int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exited = true
	p.exitCode = code
}

// Exited reports whether Exit has been called, and the code it was
// called with.
func (p *Process) Exited() (bool, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exited, p.exitCode
}

// Children returns a snapshot of p's child processes.
func (p *Process) Children() []*Process {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Process, len(p.children))
	copy(out, p.children)
	return out
}
