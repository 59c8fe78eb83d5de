package proc

import (
	"encoding/binary"

	"ember/kernel/defs"
	"ember/kernel/mem"
	"ember/kernel/ptm"
	"ember/kernel/vm"
)

// userStackPages sizes the fixed stack region spec.md §4.11 asks for at
// the top of user address space. The original_source pack has no exec()
// at all (fork/exec/the System-V stack are supplemented features this
// module adds per spec.md), so there is no teacher constant to ground
// this on; 8 pages (32 KiB) is ember's own choice, generous for the
// bounded argv/envp (≤128 strings of ≤256 bytes) spec.md §4.12 allows.
const userStackPages = 8
const userStackSize = userStackPages * mem.PageSize

// auxv tag values, per the System-V amd64 ABI and spec.md §4.11's
// "ENTRY/PHDR/PHENT/PHNUM/SECURE" requirement.
const (
	auxNull   = 0
	auxPhdr   = 3
	auxPhent  = 4
	auxPhnum  = 5
	auxEntry  = 9
	auxSecure = 23
)

// BuildInitialStack lays out the System-V initial stack for a freshly
// exec'd image: envp strings, argv strings, the auxv vector, then the
// NULL/envp-pointers/NULL/argv-pointers/argc block, all written top-down
// into a fixed mapping at the top of user address space, and returns the
// resulting stack pointer. Grounded on spec.md §4.11's stack description.
func BuildInitialStack(as *vm.AddressSpace, pfa *mem.PFA, img ELFImage, argv, envp []string) (uintptr, defs.Err_t) {
	if len(argv) > defs.EXEC_MAXARGS || len(envp) > defs.EXEC_MAXARGS {
		return 0, -defs.E2BIG
	}
	for _, s := range argv {
		if len(s) > defs.EXEC_MAXSTR {
			return 0, -defs.E2BIG
		}
	}
	for _, s := range envp {
		if len(s) > defs.EXEC_MAXSTR {
			return 0, -defs.E2BIG
		}
	}

	top := vm.UserSpaceEnd &^ (mem.PageSize - 1)
	base := top - userStackSize
	if vm.MapAnon(as, pfa, base, userStackSize, ptm.Protection{Read: true, Write: true},
		ptm.CachingDefault, vm.FlagFixed|vm.FlagZero) != base {
		return 0, -defs.ENOMEM
	}

	// Laid out in a local scratch buffer mirroring the mapped region, top
	// down, then copied into the address space in one shot.
	buf := make([]byte, userStackSize)
	sp := userStackSize // offset into buf; base+sp is the real vaddr.

	writeString := func(s string) uintptr {
		sp -= len(s) + 1
		copy(buf[sp:], s)
		return base + uintptr(sp)
	}
	writeWord := func(v uint64) {
		sp -= 8
		binary.LittleEndian.PutUint64(buf[sp:], v)
	}

	envpPtrs := make([]uintptr, len(envp))
	for i := len(envp) - 1; i >= 0; i-- {
		envpPtrs[i] = writeString(envp[i])
	}
	argvPtrs := make([]uintptr, len(argv))
	for i := len(argv) - 1; i >= 0; i-- {
		argvPtrs[i] = writeString(argv[i])
	}

	sp &^= 0xF // 16-byte aligned before the first data word, per spec.md.

	type auxPair struct{ tag, val uint64 }
	auxv := []auxPair{
		{auxPhdr, uint64(img.PhdrVaddr)},
		{auxPhent, uint64(img.PhdrEntSize)},
		{auxPhnum, uint64(img.PhdrCount)},
		{auxEntry, uint64(img.Entry)},
		{auxSecure, 0},
		{auxNull, 0},
	}
	for i := len(auxv) - 1; i >= 0; i-- {
		writeWord(auxv[i].val)
		writeWord(auxv[i].tag)
	}

	// One more 16-byte alignment pad so rsp lands 16-byte aligned at argc
	// itself (the ABI's actual entry-point requirement): the auxv vector
	// above is an even number of words, so this only ever fires when the
	// NULL/pointers/argc block below has an odd total word count.
	wordCount := 1 + len(envpPtrs) + 1 + len(argvPtrs) + 1
	if (sp-wordCount*8)%16 != 0 {
		writeWord(0)
	}

	writeWord(0) // envp NULL terminator
	for i := len(envpPtrs) - 1; i >= 0; i-- {
		writeWord(uint64(envpPtrs[i]))
	}
	writeWord(0) // argv NULL terminator
	for i := len(argvPtrs) - 1; i >= 0; i-- {
		writeWord(uint64(argvPtrs[i]))
	}
	writeWord(uint64(len(argv))) // argc

	if n := vm.CopyTo(as, base+uintptr(sp), buf[sp:]); n != len(buf)-sp {
		return 0, -defs.ENOMEM
	}

	return base + uintptr(sp), 0
}
