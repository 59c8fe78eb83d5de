package defs

/// Open-file flags (spec.md §6). Mutually exclusive access modes occupy the
/// low two bits; the rest are independent bits, matching the user ABI.
const (
	O_RDONLY   = 0x0
	O_WRONLY   = 0x1
	O_RDWR     = 0x2
	O_CREAT    = 0x100
	O_EXCL     = 0x200
	O_TRUNC    = 0x800
	O_APPEND   = 0x1000
	O_NONBLOCK = 0x2000
)

/// mmap/mprotect protection and flag bits (spec.md §6).
const (
	PROT_READ  = 0x1
	PROT_WRITE = 0x2
	PROT_EXEC  = 0x4

	MAP_FIXED = 0x10
	MAP_ANON  = 0x20
)

/// lseek whence values.
const (
	SEEK_SET = 0
	SEEK_CUR = 1
	SEEK_END = 2
)

/// gettime clock ids (syscall #17).
const (
	CLOCK_REALTIME  = 0
	CLOCK_MONOTONIC = 1
)

/// Resource ceilings referenced throughout §4.10-§4.12.
const (
	NOFILE       = 256 // FD table size
	NAME_MAX     = 255 // max path component length
	PATH_MAX     = 4096
	EXEC_MAXARGS = 128 // max argv/envp entries for execve
	EXEC_MAXSTR  = 256 // max bytes per argv/envp string
)
