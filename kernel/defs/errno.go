// Package defs holds the constants and small value types shared by every
// kernel package: errno, the file/mmap flag bits, device identifiers, and
// the process/thread id types.
package defs

/// Err_t is a small negative-int domain error. Zero means success; negative
/// values are POSIX errno codes at the syscall boundary (spec.md §6) or, for
/// purely internal callers, a component-local error enum that the syscall
/// dispatcher maps to errno exactly once (spec.md §7).
type Err_t int

/// Recognised errno values (spec.md §6). Values match Linux/POSIX numbering
/// so the user ABI needs no translation table of its own.
const (
	EPERM        Err_t = 1
	ENOENT       Err_t = 2
	ESRCH        Err_t = 3
	EINTR        Err_t = 4
	EIO          Err_t = 5
	ENXIO        Err_t = 6
	E2BIG        Err_t = 7
	ENOEXEC      Err_t = 8
	EBADF        Err_t = 9
	ECHILD       Err_t = 10
	EAGAIN       Err_t = 11
	ENOMEM       Err_t = 12
	EACCES       Err_t = 13
	EFAULT       Err_t = 14
	ENOTBLK      Err_t = 15
	EBUSY        Err_t = 16
	EEXIST       Err_t = 17
	EXDEV        Err_t = 18
	ENODEV       Err_t = 19
	ENOTDIR      Err_t = 20
	EISDIR       Err_t = 21
	EINVAL       Err_t = 22
	ENFILE       Err_t = 23
	EMFILE       Err_t = 24
	ENOTTY       Err_t = 25
	ETXTBSY      Err_t = 26
	EFBIG        Err_t = 27
	ENOSPC       Err_t = 28
	ESPIPE       Err_t = 29
	EROFS        Err_t = 30
	EMLINK       Err_t = 31
	EPIPE        Err_t = 32
	ENAMETOOLONG Err_t = 36
	ENOSYS       Err_t = 38
	ENOTEMPTY    Err_t = 39
	// ENOHEAP is ember-internal: it is returned by the copy-in/copy-out
	// resource budget (kernel/res) when a caller would exceed the kernel
	// heap share reserved for a single syscall; it is mapped to ENOMEM at
	// the syscall boundary.
	ENOHEAP Err_t = 256
)

/// Errstr renders a small human-readable tag for logging; it is never part
/// of the user-visible ABI (only the numeric value crosses into rdx).
func (e Err_t) Errstr() string {
	switch e {
	case 0:
		return "success"
	case -EPERM:
		return "EPERM"
	case -ENOENT:
		return "ENOENT"
	case -ESRCH:
		return "ESRCH"
	case -EBADF:
		return "EBADF"
	case -EAGAIN:
		return "EAGAIN"
	case -ENOMEM:
		return "ENOMEM"
	case -EACCES:
		return "EACCES"
	case -EFAULT:
		return "EFAULT"
	case -EBUSY:
		return "EBUSY"
	case -EEXIST:
		return "EEXIST"
	case -ENOTDIR:
		return "ENOTDIR"
	case -EISDIR:
		return "EISDIR"
	case -EINVAL:
		return "EINVAL"
	case -EMFILE:
		return "EMFILE"
	case -ENOTTY:
		return "ENOTTY"
	case -ENAMETOOLONG:
		return "ENAMETOOLONG"
	case -ENOSYS:
		return "ENOSYS"
	case -ENOHEAP:
		return "ENOHEAP"
	default:
		return "Err_t(?)"
	}
}

/// Tid_t identifies a thread; Pid_t identifies a process.
type Tid_t int
type Pid_t int
