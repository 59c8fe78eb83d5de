package syscall

import (
	"encoding/binary"

	"ember/kernel/defs"
	"ember/kernel/fd"
)

// sysOpen implements open(path, path_length, flags, mode): POSIX open
// semantics over the mounted VFS, grounded on syscall_open's signature
// (the original's own body is only a commented-out sketch, so the
// lookup-or-create-then-install-fd sequence below is a supplemented,
// fully working implementation of what that sketch describes).
func (d *Dispatcher) sysOpen(pathPtr, pathLen uintptr, flags, mode int) Result {
	p := currentProc()
	as := p.AddressSpace()
	path, err := copyStringFromUser(as, pathPtr, int(pathLen), defs.PATH_MAX)
	if err != 0 {
		return fail(err)
	}

	create := flags&defs.O_CREAT != 0
	if create && flags&defs.O_EXCL != 0 {
		if existing, lerr := d.VFS.Lookup(nil, path); lerr == 0 {
			existing.Unref()
			return fail(-defs.EEXIST)
		}
	}

	vn, err := d.VFS.Open(path, create)
	if err != 0 {
		return fail(err)
	}

	appendMode := flags&defs.O_APPEND != 0
	file := fd.New(vn.Ops(), appendMode)
	vn.Unref()

	fdNum, err := p.Files.Alloc(file, 0, false)
	if err != 0 {
		file.Release()
		return fail(err)
	}
	return ok(uint64(fdNum))
}

// sysClose implements close(fd), passing on the error the FD table's
// Close reports (EBADF, or the backing file's own close error).
func (d *Dispatcher) sysClose(fdNum int) Result {
	p := currentProc()
	if err := p.Files.Close(fdNum); err != 0 {
		return fail(err)
	}
	return ok(0)
}

// sysRead implements read(fd, buf, len): advance offset, copy out.
func (d *Dispatcher) sysRead(fdNum int, bufPtr, length uintptr) Result {
	p := currentProc()
	f, err := p.Files.Get(fdNum)
	if err != 0 {
		return fail(err)
	}

	tmp := make([]byte, length)
	n, err := f.Read(tmp)
	if err != 0 {
		return fail(err)
	}
	if err := copyBufferToUser(p.AddressSpace(), bufPtr, tmp[:n]); err != 0 {
		return fail(err)
	}
	return ok(uint64(n))
}

// sysWrite implements write(fd, buf, len): copy in, delegate, advance
// offset.
func (d *Dispatcher) sysWrite(fdNum int, bufPtr, length uintptr) Result {
	p := currentProc()
	f, err := p.Files.Get(fdNum)
	if err != 0 {
		return fail(err)
	}

	tmp, err := copyBufferFromUser(p.AddressSpace(), bufPtr, int(length))
	if err != 0 {
		return fail(err)
	}
	n, err := f.Write(tmp)
	if err != 0 {
		return fail(err)
	}
	return ok(uint64(n))
}

// sysSeek implements seek(fd, off, whence): SET/CUR/END.
func (d *Dispatcher) sysSeek(fdNum int, off int64, whence int) Result {
	p := currentProc()
	f, err := p.Files.Get(fdNum)
	if err != 0 {
		return fail(err)
	}
	newOff, err := f.Seek(off, whence)
	if err != 0 {
		return fail(err)
	}
	return ok(uint64(newOff))
}

// sysMkdir implements mkdir(path, path_length, mode); mode is accepted
// for ABI shape but unused, matching syscall_open's own [[maybe_unused]]
// mode parameter (no permission bits are modeled, spec.md §4.7).
func (d *Dispatcher) sysMkdir(pathPtr, pathLen uintptr, mode int) Result {
	p := currentProc()
	path, err := copyStringFromUser(p.AddressSpace(), pathPtr, int(pathLen), defs.PATH_MAX)
	if err != 0 {
		return fail(err)
	}
	n, err := d.VFS.CreateDir(path)
	if err != 0 {
		return fail(err)
	}
	n.Unref()
	return ok(0)
}

// sysDup2 implements dup2(fd, newfd).
func (d *Dispatcher) sysDup2(fdNum, newfd int) Result {
	p := currentProc()
	if err := p.Files.Dup2(fdNum, newfd); err != 0 {
		return fail(err)
	}
	return ok(uint64(newfd))
}

// sysDup implements dup(fd).
func (d *Dispatcher) sysDup(fdNum int) Result {
	p := currentProc()
	n, err := p.Files.Dup(fdNum)
	if err != 0 {
		return fail(err)
	}
	return ok(uint64(n))
}

// sysGetCwd implements getcwd(buf, size): returns "/" for now, grounded
// on kernel/proc.Process.Cwd's own documented limitation — no live cwd
// vnode exists yet to render a real path from.
func (d *Dispatcher) sysGetCwd(bufPtr, size uintptr) Result {
	p := currentProc()
	cwd := p.Cwd
	if uintptr(len(cwd)+1) > size {
		return fail(-defs.EINVAL)
	}
	out := append([]byte(cwd), 0)
	if err := copyBufferToUser(p.AddressSpace(), bufPtr, out); err != 0 {
		return fail(err)
	}
	return ok(uint64(len(cwd)))
}

// sysIsATTY implements isatty(fd): 0 when the file's is_tty is set, else
// -ENOTTY.
func (d *Dispatcher) sysIsATTY(fdNum int) Result {
	p := currentProc()
	f, err := p.Files.Get(fdNum)
	if err != 0 {
		return fail(err)
	}
	if !f.IsTTY() {
		return fail(-defs.ENOTTY)
	}
	return ok(0)
}

// sysIoctl implements ioctl(fd, req, argp): pass-through to file/device.
func (d *Dispatcher) sysIoctl(fdNum int, req, argp uintptr) Result {
	p := currentProc()
	f, err := p.Files.Get(fdNum)
	if err != 0 {
		return fail(err)
	}
	v, err := f.Ioctl(req, argp)
	if err != 0 {
		return fail(err)
	}
	return ok(uint64(v))
}

// sysFcntl implements fcntl(fd, req, arg): a stub, grounded on spec.md
// §4.12's explicit "stub" contract — the descriptor must exist, but no
// fcntl command is actually implemented.
func (d *Dispatcher) sysFcntl(fdNum, req int, arg uintptr) Result {
	p := currentProc()
	if _, err := p.Files.Get(fdNum); err != 0 {
		return fail(err)
	}
	return ok(0)
}

// sysStat implements stat(fd, out): populate {st_size, st_blksize, st_blocks}
// from vnode attrs.
func (d *Dispatcher) sysStat(fdNum int, out uintptr) Result {
	p := currentProc()
	f, err := p.Files.Get(fdNum)
	if err != 0 {
		return fail(err)
	}
	st, err := f.GetStat()
	if err != 0 {
		return fail(err)
	}
	// st_blksize is fixed at 4096 regardless of the backing vnode's own
	// notion of block size, grounded on spec.md §4.12's stat contract.
	st.Blksize = 4096
	if err := copyBufferToUser(p.AddressSpace(), out, encodeStat(st)); err != 0 {
		return fail(err)
	}
	return ok(0)
}

func encodeStat(st fd.Stat) []byte {
	buf := make([]byte, 24)
	binary.LittleEndian.PutUint64(buf[0:], uint64(st.Size))
	binary.LittleEndian.PutUint64(buf[8:], uint64(st.Blksize))
	binary.LittleEndian.PutUint64(buf[16:], uint64(st.Blocks))
	return buf
}
