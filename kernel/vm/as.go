package vm

import (
	"encoding/binary"

	"ember/kernel/container"
	"ember/kernel/cpu"
	"ember/kernel/lock"
	"ember/kernel/mem"
	"ember/kernel/ptm"
)

// pml4AddrMask and the present/write bits used when hand-building the
// kernel PML4's upper half, mirroring ptm's own entry layout.
const (
	pml4AddrMask = uint64(0x000F_FFFF_FFFF_F000)
	pml4Present  = uint64(1) << 0
	pml4Write    = uint64(1) << 1
)

// AddressSpace is a per-process (or the one global kernel) virtual address
// space: a page-table root (embedded ptm.Space) plus an ordered, disjoint
// region list. Matches original_source's VmAddressSpace (cr3_lock +
// regions_lock + cr3 + regions), with cr3/cr3_lock folded into ptm.Space
// since kernel/ptm is the only thing that ever touches them directly.
type AddressSpace struct {
	ptm.Space

	regionsLock lock.Spinlock
	regions     container.List[Region]
}

// KernelAS is the single global kernel address space every process shares
// the upper half of; set once by InitKernelAddressSpace at boot.
var KernelAS *AddressSpace

// CreateAddressSpace allocates a root page-table frame and copies the
// kernel half (upper 256 PML4 entries) from KernelAS, so the new address
// space immediately sees every kernel mapping (spec.md §4.3).
func CreateAddressSpace(pfa *mem.PFA) *AddressSpace {
	as := &AddressSpace{}
	ptm.Init(&as.Space, pfa)
	as.regions.Init()

	if KernelAS != nil {
		dst := mem.Dmap(as.CR3)
		src := mem.Dmap(KernelAS.CR3)
		copy(dst[256*8:], src[256*8:])
	}

	return as
}

// KernelImage describes where the running kernel's sections live in both
// virtual and physical memory, the boot shim's per-section handoff that
// original_source/kernel/memory/vm.c's vm_init receives as KernelAddress.
// Within this module only the tests construct one.
type KernelImage struct {
	VirtBase, PhysBase uintptr

	TextStart, TextEnd     uintptr
	RodataStart, RodataEnd uintptr
	DataStart, DataEnd     uintptr
	BSSStart, BSSEnd       uintptr
}

// InitKernelAddressSpace builds the global kernel address space: a fresh
// PML4 with every upper-half (kernel-range) slot pre-allocated, the
// kernel's own sections direct-mapped with their real permissions, and
// every usable physical region from the boot memory map direct-mapped
// into the high half. Must run exactly once, before any user address
// space is created. Mirrors original_source's vm_init.
func InitKernelAddressSpace(pfa *mem.PFA, img KernelImage, memmap []mem.Region) *AddressSpace {
	as := &AddressSpace{}
	ptm.Init(&as.Space, pfa)
	as.regions.Init()
	KernelAS = as

	pml4 := mem.Dmap(as.CR3)
	for i := 256; i < 512; i++ {
		child := pfa.Alloc(mem.Zero)
		if child == 0 {
			panic("vm: out of memory building kernel PML4")
		}
		entry := (uint64(child) & pml4AddrMask) | pml4Present | pml4Write
		binary.LittleEndian.PutUint64(pml4[i*8:i*8+8], entry)
	}

	mapSection := func(vstart, vend uintptr, prot ptm.Protection) {
		if vend <= vstart {
			return
		}
		paddr := mem.Pa(img.PhysBase + (vstart - img.VirtBase))
		MapDirect(as, pfa, vstart, vend-vstart, paddr, prot, ptm.CachingDefault, FlagFixed)
	}
	mapSection(img.TextStart, img.TextEnd, ptm.Protection{Read: true, Exec: true})
	mapSection(img.RodataStart, img.RodataEnd, ptm.Protection{Read: true})
	mapSection(img.DataStart, img.DataEnd, ptm.Protection{Read: true, Write: true})
	mapSection(img.BSSStart, img.BSSEnd, ptm.Protection{Read: true, Write: true})

	for _, e := range memmap {
		vaddr := mem.DirectAddr(e.Base)
		MapDirect(as, pfa, vaddr, uintptr(e.Length), e.Base, ptm.Protection{Read: true, Write: true}, ptm.CachingDefault, FlagFixed)
	}

	LoadAddressSpace(as)
	return as
}

// LoadAddressSpace switches the running CPU's CR3 to as's page tables.
func LoadAddressSpace(as *AddressSpace) {
	cpu.LoadCR3Fn(uintptr(as.CR3))
}

// mapCommon is the shared body of MapAnon/MapDirect: find space, build the
// Region, install its page-table mappings, and insert it into the list.
// Returns 0 on failure to find/reserve an address.
func mapCommon(as *AddressSpace, pfa *mem.PFA, hint, length uintptr, paddr mem.Pa, prot ptm.Protection, caching ptm.Caching, rtype Type, flags Flags, zeroed bool) uintptr {
	if hint%mem.PageSize != 0 || length%mem.PageSize != 0 || uintptr(paddr)%mem.PageSize != 0 {
		panic("vm: misaligned map arguments")
	}

	as.regionsLock.Lock()
	defer as.regionsLock.Unlock()

	address := findSpace(as, hint, length, flags&FlagFixed != 0)
	if address == 0 || (flags&FlagFixed != 0 && address != hint) {
		return 0
	}

	r := newRegion(as)
	r.Base = address
	r.Length = length
	r.Prot = prot
	r.Caching = caching
	r.Type = rtype
	if as == KernelAS {
		r.Priv = ptm.PrivKernel
	} else {
		r.Priv = ptm.PrivUser
	}
	switch rtype {
	case Anonymous:
		r.Zeroed = zeroed
	case Direct:
		r.Paddr = paddr
	}

	regionMap(r, pfa)
	regionInsert(as, r)

	return r.Base
}

// MapAnon reserves length bytes backed by freshly allocated frames,
// honoring FlagFixed/FlagZero, and returns the mapped base address, or 0
// on failure to find or reserve space.
func MapAnon(as *AddressSpace, pfa *mem.PFA, hint, length uintptr, prot ptm.Protection, caching ptm.Caching, flags Flags) uintptr {
	return mapCommon(as, pfa, hint, length, 0, prot, caching, Anonymous, flags, flags&FlagZero != 0)
}

// MapDirect reserves length bytes mapped 1:1 onto the physical range
// starting at paddr.
func MapDirect(as *AddressSpace, pfa *mem.PFA, hint, length uintptr, paddr mem.Pa, prot ptm.Protection, caching ptm.Caching, flags Flags) uintptr {
	return mapCommon(as, pfa, hint, length, paddr, prot, caching, Direct, flags, false)
}

// Unmap removes the mappings covering [address, address+length), splitting
// any region that only partially overlaps the range into the ≤2 pieces
// left over outside it (spec.md §4.3). Anonymous pages inside the range
// are freed back to pfa.
func Unmap(as *AddressSpace, pfa *mem.PFA, address, length uintptr) {
	if address%mem.PageSize != 0 || length%mem.PageSize != 0 {
		panic("vm: misaligned unmap arguments")
	}

	as.regionsLock.Lock()
	defer as.regionsLock.Unlock()

	scanEnd := address + length

	var overlapping []*Region
	as.regions.Each(func(r *Region) {
		rEnd := r.Base + r.Length
		if rEnd <= address || r.Base >= scanEnd {
			return
		}
		overlapping = append(overlapping, r)
	})

	for _, r := range overlapping {
		rEnd := r.Base + r.Length
		chunkStart := max(r.Base, address)
		chunkEnd := min(rEnd, scanEnd)

		regionUnmap(r, chunkStart, chunkEnd-chunkStart, pfa)

		leftLength := chunkStart - r.Base
		rightLength := rEnd - chunkEnd

		as.regions.Remove(&r.node)

		if leftLength > 0 {
			left := cloneMeta(r)
			left.Length = leftLength
			regionInsert(as, left)
		}
		if rightLength > 0 {
			right := cloneMeta(r)
			right.Base = chunkEnd
			right.Length = rightLength
			if right.Type == Direct {
				right.Paddr = r.Paddr + mem.Pa(chunkEnd-r.Base)
			}
			regionInsert(as, right)
		}
	}
}

// Mprotect updates the protection of every page covered by
// [address, address+length), splitting regions at the boundary the same
// way Unmap does when the range only partially covers a region.
func Mprotect(as *AddressSpace, pfa *mem.PFA, address, length uintptr, prot ptm.Protection) {
	if address%mem.PageSize != 0 || length%mem.PageSize != 0 {
		panic("vm: misaligned mprotect arguments")
	}

	as.regionsLock.Lock()
	defer as.regionsLock.Unlock()

	scanEnd := address + length
	isKernel := as == KernelAS

	var overlapping []*Region
	as.regions.Each(func(r *Region) {
		rEnd := r.Base + r.Length
		if rEnd <= address || r.Base >= scanEnd {
			return
		}
		overlapping = append(overlapping, r)
	})

	for _, r := range overlapping {
		rEnd := r.Base + r.Length
		chunkStart := max(r.Base, address)
		chunkEnd := min(rEnd, scanEnd)

		for vaddr := chunkStart; vaddr < chunkEnd; vaddr += mem.PageSize {
			paddr := ptm.VirtToPhys(&as.Space, vaddr)
			if paddr == 0 {
				continue
			}
			ptm.Map(&as.Space, pfa, vaddr, paddr, prot, r.Caching, r.Priv, isKernel)
		}

		leftLength := chunkStart - r.Base
		rightLength := rEnd - chunkEnd

		if leftLength == 0 && rightLength == 0 {
			r.Prot = prot
			continue
		}

		as.regions.Remove(&r.node)

		if leftLength > 0 {
			left := cloneMeta(r)
			left.Length = leftLength
			regionInsert(as, left)
		}

		mid := cloneMeta(r)
		mid.Base = chunkStart
		mid.Length = chunkEnd - chunkStart
		mid.Prot = prot
		if mid.Type == Direct {
			mid.Paddr = r.Paddr + mem.Pa(chunkStart-r.Base)
		}
		regionInsert(as, mid)

		if rightLength > 0 {
			right := cloneMeta(r)
			right.Base = chunkEnd
			right.Length = rightLength
			if right.Type == Direct {
				right.Paddr = r.Paddr + mem.Pa(chunkEnd-r.Base)
			}
			regionInsert(as, right)
		}
	}
}

// CopyTo copies src into destAS starting at destVaddr, stopping as soon as
// it reaches a page that isn't mapped. Returns the number of bytes copied.
func CopyTo(destAS *AddressSpace, destVaddr uintptr, src []byte) int {
	copied := 0
	for copied < len(src) {
		va := destVaddr + uintptr(copied)
		pa := ptm.VirtToPhys(&destAS.Space, va)
		if pa == 0 {
			return copied
		}
		dst := mem.DmapOffset(pa)
		chunk := len(dst)
		if rem := len(src) - copied; chunk > rem {
			chunk = rem
		}
		copy(dst, src[copied:copied+chunk])
		copied += chunk
	}
	return copied
}

// CopyFrom copies len(dest) bytes out of srcAS starting at srcVaddr,
// stopping as soon as it reaches a page that isn't mapped. Returns the
// number of bytes copied.
func CopyFrom(dest []byte, srcAS *AddressSpace, srcVaddr uintptr) int {
	copied := 0
	for copied < len(dest) {
		va := srcVaddr + uintptr(copied)
		pa := ptm.VirtToPhys(&srcAS.Space, va)
		if pa == 0 {
			return copied
		}
		src := mem.DmapOffset(pa)
		chunk := len(src)
		if rem := len(dest) - copied; chunk > rem {
			chunk = rem
		}
		copy(dest[copied:copied+chunk], src)
		copied += chunk
	}
	return copied
}

// Clone deep-copies every region of srcAS into destAS: direct regions
// share their backing paddr, anonymous regions get fresh frames with
// src's bytes copied in. This is the eager byte-copy policy spec.md §9
// Open Question (a) calls out — a copy-on-write design was clearly
// intended upstream but never implemented, and this port keeps the
// simpler eager policy rather than inventing COW.
func Clone(destAS, srcAS *AddressSpace, pfa *mem.PFA) {
	srcAS.regionsLock.Lock()
	defer srcAS.regionsLock.Unlock()
	destAS.regionsLock.Lock()
	defer destAS.regionsLock.Unlock()

	srcAS.regions.Each(func(r *Region) {
		nr := cloneMeta(r)
		nr.AS = destAS

		regionMap(nr, pfa)
		regionInsert(destAS, nr)

		if r.Type == Anonymous {
			buf := make([]byte, r.Length)
			CopyFrom(buf, srcAS, r.Base)
			CopyTo(destAS, nr.Base, buf)
		}
	})
}
