package syscall

import (
	"fmt"
	"io"

	"ember/kernel/defs"
	"ember/kernel/klog"
	"ember/kernel/sched"
	"ember/kernel/vfs"
)

// sysExit implements exit(code, panicked): never returns; marks the
// current thread Done, grounded on syscall_exit's sched_yield(STATUS_DONE)
// followed by ASSERT_UNREACHABLE.
func (d *Dispatcher) sysExit(code int, panicked bool) Result {
	p := currentProc()
	t := sched.CurrentThread()
	klog.Logf(klog.Debug, "SYSCALL", "exit(tid: %d, name: %s, code: %d, panicked: %t)", t.TID, t.Name, code, panicked)

	p.Exit(code)
	sched.Yield(sched.Done)
	panic("syscall: exit's Yield(Done) returned, unreachable")
}

// sysFork implements fork: return child PID in parent, 0 in child.
// original_source has no fork to ground the child-return-value mechanics
// on (process_create only ever builds the first process); like
// kernel/proc.Process.Exec's entry func, a hosted goroutine thread has no
// user-mode instruction stream to resume into, so the child thread's
// entry is the same empty stand-in Exec uses rather than a stub that sets
// a register this model has nowhere to store.
func (d *Dispatcher) sysFork() Result {
	p := currentProc()
	child := p.Fork(d.PFA, func() {}, p.Name)
	return ok(uint64(child.PID))
}

// vnodeReaderAt adapts a vfs.Ops's Read to io.ReaderAt, letting
// kernel/proc's ELF loader (which only knows io.ReaderAt) read straight
// out of a mounted vnode without kernel/proc ever importing kernel/vfs.
type vnodeReaderAt struct {
	ops vfs.Ops
}

func (r *vnodeReaderAt) ReadAt(p []byte, off int64) (int, error) {
	n, err := r.ops.Read(p, off)
	if err != 0 {
		return n, fmt.Errorf("vnode read: %s", err.Errstr())
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// sysExecve implements execve(path, argv, envp): replace address space;
// never returns on success. argv/envp are read through
// copyStringArrayFromUser's {count, {ptr,len}...} wire format.
func (d *Dispatcher) sysExecve(pathPtr, pathLen, argvDesc, envpDesc uintptr) Result {
	p := currentProc()
	as := p.AddressSpace()

	path, err := copyStringFromUser(as, pathPtr, int(pathLen), defs.PATH_MAX)
	if err != 0 {
		return fail(err)
	}
	argv, err := copyStringArrayFromUser(as, argvDesc)
	if err != 0 {
		return fail(err)
	}
	envp, err := copyStringArrayFromUser(as, envpDesc)
	if err != 0 {
		return fail(err)
	}

	opener := func(path string) (io.ReaderAt, defs.Err_t) {
		vn, err := d.VFS.Open(path, false)
		if err != 0 {
			return nil, err
		}
		defer vn.Unref()
		return &vnodeReaderAt{ops: vn.Ops()}, 0
	}

	// p.Exec only returns at all on failure — success ends in
	// sched.Yield(sched.Done), which blocks the calling goroutine forever
	// the same way sysExit's does.
	err = p.Exec(d.PFA, opener, path, argv, envp)
	return fail(err)
}

// sysGetPid implements getpid.
func (d *Dispatcher) sysGetPid() Result {
	return ok(uint64(currentProc().PID))
}

// sysGetPpid implements getppid.
func (d *Dispatcher) sysGetPpid() Result {
	p := currentProc()
	if p.Parent == nil {
		return ok(0)
	}
	return ok(uint64(p.Parent.PID))
}
