package proc

import (
	"encoding/binary"
	"io"

	"ember/kernel/defs"
	"ember/kernel/mem"
	"ember/kernel/ptm"
	"ember/kernel/vm"
)

// ELF64 constants, grounded on original_source's abi/sysv/elf.c.
const (
	elfMag0      = 0x7F
	elfMag1      = 'E'
	elfMag2      = 'L'
	elfMag3      = 'F'
	elfClass64   = 2
	elfDataLSB   = 1
	elfVerCur    = 1
	elfMachX8664 = 62

	ptLoad   = 1
	ptInterp = 3
	ptPhdr   = 6

	pfX = 0x1
	pfW = 0x2
	pfR = 0x4

	ehdrSize = 64
	phdrSize = 56
)

// ELFImage is what a completed load leaves behind: where execution
// should start and where the program header table ended up in the new
// address space, the two pieces of information BuildInitialStack's auxv
// and ThreadCreateUser both need. Grounded on elf.h's ElfFile, extended
// with PhdrVaddr/Count/EntSize per spec.md §4.11's elf_lookup_phdr_table.
type ELFImage struct {
	Entry       uintptr
	PhdrVaddr   uintptr
	PhdrCount   int
	PhdrEntSize int

	// Interp is the PT_INTERP pathname, or "" if the image has none.
	Interp string
}

type elf64Ehdr struct {
	Ident     [16]byte
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint64
	Phoff     uint64
	Shoff     uint64
	Flags     uint32
	Ehsize    uint16
	Phentsize uint16
	Phnum     uint16
	Shentsize uint16
	Shnum     uint16
	Shstrndx  uint16
}

type elf64Phdr struct {
	Type   uint32
	Flags  uint32
	Offset uint64
	Vaddr  uint64
	Paddr  uint64
	Filesz uint64
	Memsz  uint64
	Align  uint64
}

func readEhdr(r io.ReaderAt) (elf64Ehdr, defs.Err_t) {
	var buf [ehdrSize]byte
	if n, err := r.ReadAt(buf[:], 0); err != nil && n != len(buf) {
		return elf64Ehdr{}, -defs.ENOEXEC
	}

	var h elf64Ehdr
	copy(h.Ident[:], buf[0:16])
	h.Type = binary.LittleEndian.Uint16(buf[16:18])
	h.Machine = binary.LittleEndian.Uint16(buf[18:20])
	h.Version = binary.LittleEndian.Uint32(buf[20:24])
	h.Entry = binary.LittleEndian.Uint64(buf[24:32])
	h.Phoff = binary.LittleEndian.Uint64(buf[32:40])
	h.Shoff = binary.LittleEndian.Uint64(buf[40:48])
	h.Flags = binary.LittleEndian.Uint32(buf[48:52])
	h.Ehsize = binary.LittleEndian.Uint16(buf[52:54])
	h.Phentsize = binary.LittleEndian.Uint16(buf[54:56])
	h.Phnum = binary.LittleEndian.Uint16(buf[56:58])
	h.Shentsize = binary.LittleEndian.Uint16(buf[58:60])
	h.Shnum = binary.LittleEndian.Uint16(buf[60:62])
	h.Shstrndx = binary.LittleEndian.Uint16(buf[62:64])

	if h.Ident[0] != elfMag0 || h.Ident[1] != elfMag1 || h.Ident[2] != elfMag2 || h.Ident[3] != elfMag3 {
		return elf64Ehdr{}, -defs.ENOEXEC
	}
	if h.Ident[4] != elfClass64 {
		return elf64Ehdr{}, -defs.ENOEXEC
	}
	if h.Ident[5] != elfDataLSB {
		return elf64Ehdr{}, -defs.ENOEXEC
	}
	if h.Version != elfVerCur {
		return elf64Ehdr{}, -defs.ENOEXEC
	}
	if h.Machine != elfMachX8664 {
		return elf64Ehdr{}, -defs.ENOEXEC
	}
	return h, 0
}

func readPhdr(r io.ReaderAt, off uint64) (elf64Phdr, defs.Err_t) {
	var buf [phdrSize]byte
	if n, err := r.ReadAt(buf[:], int64(off)); err != nil && n != len(buf) {
		return elf64Phdr{}, -defs.ENOEXEC
	}
	var p elf64Phdr
	p.Type = binary.LittleEndian.Uint32(buf[0:4])
	p.Flags = binary.LittleEndian.Uint32(buf[4:8])
	p.Offset = binary.LittleEndian.Uint64(buf[8:16])
	p.Vaddr = binary.LittleEndian.Uint64(buf[16:24])
	p.Paddr = binary.LittleEndian.Uint64(buf[24:32])
	p.Filesz = binary.LittleEndian.Uint64(buf[32:40])
	p.Memsz = binary.LittleEndian.Uint64(buf[40:48])
	p.Align = binary.LittleEndian.Uint64(buf[48:56])
	return p, 0
}

func alignDown(v, align uintptr) uintptr { return v &^ (align - 1) }
func alignUp(v, align uintptr) uintptr   { return (v + align - 1) &^ (align - 1) }

func loadSegment(as *vm.AddressSpace, pfa *mem.PFA, r io.ReaderAt, ph elf64Phdr) defs.Err_t {
	segStart := alignDown(uintptr(ph.Vaddr), mem.PageSize)
	segEnd := alignUp(uintptr(ph.Vaddr)+uintptr(ph.Memsz), mem.PageSize)
	segSize := segEnd - segStart

	prot := ptm.Protection{
		Read:  ph.Flags&pfR != 0,
		Write: ph.Flags&pfW != 0,
		Exec:  ph.Flags&pfX != 0,
	}

	if vm.MapAnon(as, pfa, segStart, segSize, prot, ptm.CachingDefault, vm.FlagFixed|vm.FlagZero) != segStart {
		return -defs.ENOMEM
	}

	if ph.Filesz == 0 {
		return 0
	}
	tmp := make([]byte, ph.Filesz)
	if n, err := r.ReadAt(tmp, int64(ph.Offset)); err != nil && uint64(n) != ph.Filesz {
		return -defs.ENOEXEC
	}
	if n := vm.CopyTo(as, uintptr(ph.Vaddr), tmp); uint64(n) != ph.Filesz {
		return -defs.ENOEXEC
	}
	return 0
}

func readInterp(r io.ReaderAt, ph elf64Phdr) (string, defs.Err_t) {
	if ph.Filesz == 0 {
		return "", 0
	}
	buf := make([]byte, ph.Filesz)
	if n, err := r.ReadAt(buf, int64(ph.Offset)); err != nil && uint64(n) != ph.Filesz {
		return "", -defs.ENOEXEC
	}
	// PT_INTERP's contents are a NUL-terminated path; trim the terminator
	// (and anything after it) per elf_lookup_interpreter's contract.
	if i := indexByte(buf, 0); i >= 0 {
		buf = buf[:i]
	}
	return string(buf), 0
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

// LoadELF validates an ELF64 header and maps every PT_LOAD segment into
// as, grounded on elf_load. Unlike the original (which only ever loads
// one image per address space, synchronously followed by a jump to its
// entry) this also records PT_PHDR's vaddr and returns PT_INTERP's
// pathname rather than resolving it itself, so exec.go can load a second
// image (the interpreter) into the same address space per spec.md
// §4.11's interpreter-chaining requirement.
func LoadELF(as *vm.AddressSpace, pfa *mem.PFA, r io.ReaderAt) (ELFImage, defs.Err_t) {
	h, err := readEhdr(r)
	if err != 0 {
		return ELFImage{}, err
	}

	img := ELFImage{Entry: uintptr(h.Entry)}

	for i := 0; i < int(h.Phnum); i++ {
		off := h.Phoff + uint64(i)*uint64(h.Phentsize)
		ph, err := readPhdr(r, off)
		if err != 0 {
			return ELFImage{}, err
		}

		switch ph.Type {
		case ptLoad:
			if err := loadSegment(as, pfa, r, ph); err != 0 {
				return ELFImage{}, err
			}
		case ptInterp:
			path, err := readInterp(r, ph)
			if err != 0 {
				return ELFImage{}, err
			}
			img.Interp = path
		case ptPhdr:
			img.PhdrVaddr = uintptr(ph.Vaddr)
			img.PhdrCount = int(h.Phnum)
			img.PhdrEntSize = int(h.Phentsize)
		}
	}

	// A static image with no PT_PHDR segment still needs PhdrCount/EntSize
	// for its auxv (AT_PHNUM/AT_PHENT); PhdrVaddr alone staying 0 matches
	// AT_PHDR being meaningless without a mapped table to point at.
	if img.PhdrCount == 0 {
		img.PhdrCount = int(h.Phnum)
		img.PhdrEntSize = int(h.Phentsize)
	}

	return img, 0
}
