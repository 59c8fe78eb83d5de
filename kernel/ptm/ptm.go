// Package ptm is the page table manager: it walks and installs the 4-level
// x86-64 page tables rooted at each address space's CR3 frame, per
// spec.md §4.2. It owns nothing about regions or allocation policy — that
// is kernel/vm's job — it only translates (vaddr, paddr, prot, caching,
// priv) triples into page-table entries and back.
//
// Grounded on original_source/kernel/memory/ptm.c's ptm_map/ptm_unmap/
// ptm_virt_to_phys, adapted to biscuit's vm/as.go Lock_pmap idiom (a
// spinlock serializes multi-level walks per address space, per spec.md
// §9's locking discipline) and mem.Dmap in place of HHDM().
package ptm

import (
	"encoding/binary"

	"ember/kernel/cpu"
	"ember/kernel/lock"
	"ember/kernel/mem"
)

// Protection is the requested page permission set. Read is implied by
// Present on amd64 and carried here only for the caller's convenience;
// original_source/include/memory/vm.h's VmProtection has the same shape.
type Protection struct {
	Read  bool
	Write bool
	Exec  bool
}

// Caching selects the PCD/PWT memory type of a mapping.
type Caching int

const (
	CachingDefault Caching = iota
	CachingUncached
)

// Privilege gates whether user-mode code may touch the mapping.
type Privilege int

const (
	PrivKernel Privilege = iota
	PrivUser
)

// entry flags, per original_source/kernel/memory/ptm.c.
const (
	flagPresent = uint64(1) << 0
	flagWrite   = uint64(1) << 1
	flagUser    = uint64(1) << 2
	flagPWT     = uint64(1) << 3
	flagPCD     = uint64(1) << 4
	flagPAT     = uint64(1) << 7
	flagNX      = uint64(1) << 63

	addrMask = uint64(0x000F_FFFF_FFFF_F000)
)

// Space is the page-table root shared by an address space. kernel/vm
// embeds this in its AddressSpace type alongside the region list; ptm
// only ever touches the CR3 frame and its own lock.
type Space struct {
	lock lock.Spinlock
	CR3  mem.Pa
}

// Init allocates the top-level (PML4) page and zeroes it, leaving the
// space ready for Map calls. The kernel address space and every user
// address space call this once at creation.
func Init(s *Space, pfa *mem.PFA) {
	s.CR3 = pfa.Alloc(mem.Zero)
	if s.CR3 == 0 {
		panic("ptm: out of memory initializing address space")
	}
}

// vaddrIndex extracts the 9-bit page-table index for vaddr at the given
// level (4 = PML4 down to 1 = PT), per ptm.c's VADDR_TO_INDEX.
func vaddrIndex(vaddr uintptr, level int) uint64 {
	return (uint64(vaddr) >> (uint(level)*9 + 3)) & 0x1ff
}

func storeEntry(pg []byte, idx uint64, entry uint64) {
	binary.LittleEndian.PutUint64(pg[idx*8:idx*8+8], entry)
}

func loadEntry(pg []byte, idx uint64) uint64 {
	return binary.LittleEndian.Uint64(pg[idx*8 : idx*8+8])
}

func privFlags(priv Privilege) uint64 {
	if priv == PrivUser {
		return flagUser
	}
	return 0
}

func cachingFlags(caching Caching) uint64 {
	if caching == CachingUncached {
		return flagPCD
	}
	return 0
}

// Map installs a single 4 KiB mapping, allocating any intermediate
// (PML4/PDPT/PD) page-table pages that don't yet exist. Matches
// ptm_map's level-4-down-to-2 walk, allocating+zeroing a fresh table
// on a non-present entry and storing the leaf at level 1.
func Map(s *Space, pfa *mem.PFA, vaddr uintptr, paddr mem.Pa, prot Protection, caching Caching, priv Privilege, isKernel bool) {
	s.lock.Lock()
	defer s.lock.Unlock()

	table := mem.Dmap(s.CR3)
	for level := 4; level > 1; level-- {
		idx := vaddrIndex(vaddr, level)
		entry := loadEntry(table, idx)

		if entry&flagPresent == 0 {
			child := pfa.Alloc(mem.Zero)
			if child == 0 {
				panic("ptm: out of memory allocating page table page")
			}
			entry = flagPresent | (uint64(child) & addrMask)
			if !prot.Exec {
				entry |= flagNX
			}
		} else if prot.Exec {
			entry &^= flagNX
		}

		if prot.Write {
			entry |= flagWrite
		}
		entry |= privFlags(priv)

		storeEntry(table, idx, entry)
		table = mem.Dmap(mem.Pa(entry & addrMask))
	}

	idx := vaddrIndex(vaddr, 1)
	entry := flagPresent | (uint64(paddr) & addrMask) | privFlags(priv) | cachingFlags(caching)
	if prot.Write {
		entry |= flagWrite
	}
	if !prot.Exec {
		entry |= flagNX
	}
	if !isKernel {
		entry |= flagUser
	}
	storeEntry(table, idx, entry)

	cpu.InvalidatePageFn(vaddr)
}

// Unmap clears the leaf entry for vaddr, if a mapping exists. Intermediate
// page-table pages are never freed (the original leaves the same TODO:
// reclaiming empty page-table levels is future work, spec.md §9 does not
// require it for this module's size).
func Unmap(s *Space, vaddr uintptr) {
	s.lock.Lock()
	defer s.lock.Unlock()

	table := mem.Dmap(s.CR3)
	for level := 4; level > 1; level-- {
		idx := vaddrIndex(vaddr, level)
		entry := loadEntry(table, idx)
		if entry&flagPresent == 0 {
			return
		}
		table = mem.Dmap(mem.Pa(entry & addrMask))
	}

	idx := vaddrIndex(vaddr, 1)
	storeEntry(table, idx, 0)
	cpu.InvalidatePageFn(vaddr)
}

// VirtToPhys resolves vaddr to its mapped physical address (with the
// page offset folded back in), or 0 if any level of the walk is absent.
func VirtToPhys(s *Space, vaddr uintptr) mem.Pa {
	s.lock.Lock()
	defer s.lock.Unlock()

	table := mem.Dmap(s.CR3)
	for level := 4; level > 1; level-- {
		idx := vaddrIndex(vaddr, level)
		entry := loadEntry(table, idx)
		if entry&flagPresent == 0 {
			return 0
		}
		table = mem.Dmap(mem.Pa(entry & addrMask))
	}

	idx := vaddrIndex(vaddr, 1)
	entry := loadEntry(table, idx)
	if entry&flagPresent == 0 {
		return 0
	}
	return mem.Pa(entry&addrMask) | mem.Pa(uintptr(vaddr)&mem.PageOffsetMask)
}
