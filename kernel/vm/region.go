// Package vm implements region-based virtual address spaces (spec.md
// §4.3): each AddressSpace holds an ordered, disjoint list of Regions over
// either the kernel or user half of the address space, backed by either
// freshly allocated frames (anonymous) or a fixed physical range (direct).
//
// Grounded on original_source/kernel/memory/vm.c (region_insert/
// find_space/region_map/region_unmap/map_common/vm_clone_address_space)
// and biscuit/src/vm/as.go's Vm_t/Vmregion_t/Lock_pmap shape. The manual
// region_pool_alloc/region_pool_free free-list in vm.c is a C allocator
// workaround this package drops entirely — Go's allocator and GC already
// do what that pool exists to avoid, so Region values are ordinary
// heap-allocated structs.
package vm

import (
	"ember/kernel/container"
	"ember/kernel/mem"
	"ember/kernel/ptm"
)

// Address space ranges, per original_source/include/memory/vm.h.
const (
	KernelSpaceStart = uintptr(0xFFFF_8000_0000_0000)
	KernelSpaceEnd   = ^uintptr(0) - mem.PageSize
	UserSpaceStart   = uintptr(mem.PageSize)
	UserSpaceEnd     = (uintptr(1) << 47) - mem.PageSize - 1
)

// Flags controls map_anon/map_direct placement and fill policy.
type Flags uint64

const (
	// FlagFixed requires the returned mapping to sit exactly at hint,
	// failing on any overlap instead of searching for another gap.
	FlagFixed Flags = 1 << 1
	// FlagZero requests a zero-filled anonymous region (map_anon only).
	FlagZero Flags = 1 << 2
)

// Type distinguishes how a Region's pages are backed.
type Type int

const (
	// Anonymous regions are backed by freshly allocated page frames.
	Anonymous Type = iota
	// Direct regions map a contiguous physical range 1:1.
	Direct
)

// Region is a contiguous range of an address space with uniform
// protection, caching, privilege and backing type (spec.md §3's "Region").
// Fields are written at creation or split: Unmap, and an Mprotect that
// covers only part of a region, remove it and insert the pieces, while an
// Mprotect covering a whole region updates its Prot in place.
type Region struct {
	node container.Node[Region]

	AS     *AddressSpace
	Base   uintptr
	Length uintptr

	Prot    ptm.Protection
	Caching ptm.Caching
	Priv    ptm.Privilege
	Type    Type

	Zeroed bool   // meaningful when Type == Anonymous
	Paddr  mem.Pa // meaningful when Type == Direct
}

func newRegion(as *AddressSpace) *Region {
	r := &Region{AS: as}
	r.node = container.NewNode(r)
	return r
}

// cloneMeta returns a fresh Region with the same AS/prot/caching/priv/type
// metadata as src but its own list node, Base and Length left to the
// caller. Used when a mutation (Unmap, Mprotect) has to split one Region
// into pieces.
func cloneMeta(src *Region) *Region {
	r := &Region{}
	*r = *src
	r.node = container.NewNode(r)
	return r
}

func regionsIntersect(base1, length1, base2, length2 uintptr) bool {
	return base1 < base2+length2 && base2 < base1+length1
}

// regionInsert splices r into as.regions in base-address order, preserving
// the sortedness invariant (spec.md §3 Virtual address space, invariant a).
func regionInsert(as *AddressSpace, r *Region) {
	var before *Region
	as.regions.Each(func(cur *Region) {
		if before == nil && r.Base < cur.Base {
			before = cur
		}
	})
	if before != nil {
		as.regions.InsertBefore(&before.node, &r.node)
		return
	}
	as.regions.PushBack(&r.node)
}

func addressRange(as *AddressSpace) (start, end uintptr) {
	if as == KernelAS {
		return KernelSpaceStart, KernelSpaceEnd
	}
	return UserSpaceStart, UserSpaceEnd
}

// findSpace implements the free-space search spec.md §4.3 specifies:
// linear scan for the first gap that fits, tie-broken by lowest address,
// honoring a fixed hint when requested. Returns 0 ("null") on failure.
func findSpace(as *AddressSpace, hint, length uintptr, fixed bool) uintptr {
	start, end := addressRange(as)

	if hint != 0 {
		intersects := false
		as.regions.Each(func(r *Region) {
			if regionsIntersect(hint, length, r.Base, r.Length) {
				intersects = true
			}
		})
		if !intersects {
			return hint
		}
		if fixed {
			return 0
		}
	}

	candidate := start
	found := uintptr(0)
	as.regions.Each(func(r *Region) {
		if found != 0 {
			return
		}
		if regionsIntersect(candidate, length, r.Base, r.Length) {
			candidate = r.Base + r.Length
			return
		}
		if candidate+length <= r.Base {
			found = candidate
		}
	})
	if found != 0 {
		return found
	}
	if candidate+length <= end {
		return candidate
	}
	return 0
}

// regionMap installs the page-table mappings for every page of r, pulling
// fresh frames from pfa for anonymous regions and using r.Paddr's offset
// for direct ones.
func regionMap(r *Region, pfa *mem.PFA) {
	isKernel := r.AS == KernelAS
	for off := uintptr(0); off < r.Length; off += mem.PageSize {
		vaddr := r.Base + off
		var paddr mem.Pa
		switch r.Type {
		case Anonymous:
			flags := mem.AllocFlags(0)
			if r.Zeroed {
				flags = mem.Zero
			}
			paddr = pfa.Alloc(flags)
			if paddr == 0 {
				panic("vm: out of memory mapping anonymous region")
			}
		case Direct:
			paddr = r.Paddr + mem.Pa(off)
		}
		ptm.Map(&r.AS.Space, pfa, vaddr, paddr, r.Prot, r.Caching, r.Priv, isKernel)
	}
}

// regionUnmap tears down the mappings covering [address, address+length)
// within r, freeing the backing frames for anonymous pages (spec.md §4.3:
// "frees the affected frames (for anon regions)" — unlike the original C
// kernel, which leaves a `// TODO, don't leak page frames` here).
func regionUnmap(r *Region, address, length uintptr, pfa *mem.PFA) {
	for off := uintptr(0); off < length; off += mem.PageSize {
		vaddr := address + off
		if r.Type == Anonymous {
			if paddr := ptm.VirtToPhys(&r.AS.Space, vaddr); paddr != 0 {
				pfa.Free(paddr.Rounddown())
			}
		}
		ptm.Unmap(&r.AS.Space, vaddr)
	}
}
