package proc

import (
	"io"

	"ember/kernel/defs"
	"ember/kernel/mem"
	"ember/kernel/sched"
	"ember/kernel/vm"
)

// Opener resolves a path to a readable image, grounded on elf_load's
// vfs_lookup call. kernel/proc never imports kernel/vfs directly (vfs
// doesn't exist until a later layer, and proc must not depend on it to
// stay usable standalone), so exec's caller — kernel/syscall, which has
// both — supplies this instead.
type Opener func(path string) (io.ReaderAt, defs.Err_t)

// Exec replaces p's address space and running image with a freshly
// loaded ELF, grounded on spec.md §4.11's exec(path, argv, envp). Unlike
// process_create (which only ever builds the first process, already
// carrying a loaded image) the original has no exec at all; this is a
// supplemented feature built from elf_load plus the System-V stack
// convention spec.md asks for.
func (p *Process) Exec(pfa *mem.PFA, open Opener, path string, argv, envp []string) defs.Err_t {
	if len(argv) > defs.EXEC_MAXARGS || len(envp) > defs.EXEC_MAXARGS {
		return -defs.E2BIG
	}
	for _, s := range argv {
		if len(s) > defs.EXEC_MAXSTR {
			return -defs.E2BIG
		}
	}
	for _, s := range envp {
		if len(s) > defs.EXEC_MAXSTR {
			return -defs.E2BIG
		}
	}

	r, err := open(path)
	if err != 0 {
		return err
	}

	as := vm.CreateAddressSpace(pfa)

	img, err := LoadELF(as, pfa, r)
	if err != 0 {
		return err
	}

	entry := img.Entry
	// Interpreter chaining (spec.md §4.11): load the dynamic loader into
	// the same address space and jump to its entry instead, with auxv
	// still describing the main image. Multiple levels of interpreter are
	// not supported, matching spec.md's explicit limitation.
	if img.Interp != "" {
		ir, err := open(img.Interp)
		if err != 0 {
			return err
		}
		interpImg, err := LoadELF(as, pfa, ir)
		if err != 0 {
			return err
		}
		entry = interpImg.Entry
	}

	sp, err := BuildInitialStack(as, pfa, img, argv, envp)
	if err != 0 {
		return err
	}

	p.mu.Lock()
	p.as = as
	p.Threads = nil
	p.mu.Unlock()
	p.Files.CloseOnExec()

	current := sched.CurrentThread()
	t := sched.ThreadCreateUser(pfa, p, entry, sp, func() {}, p.Name)
	p.addThread(t)
	sched.ScheduleThread(t)

	if current != nil {
		p.removeThread(current)
	}
	sched.Yield(sched.Done)
	return 0
}
