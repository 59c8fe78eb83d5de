package mem

import "unsafe"

// directBase is the virtual base of the high-half direct map (HHDM): every
// physical address pa is reachable at directBase+pa. It is set once during
// early boot, before any other kernel package runs, mirroring biscuit's
// Vdirect constant.
var directBase uintptr

// SetDirectBase records the HHDM base the boot shim established. Must be
// called exactly once, before the first call to Dmap.
func SetDirectBase(base uintptr) {
	directBase = base
}

// maxDirectPhys is the largest physical address the direct map can reach;
// biscuit reserves a 512GB (1<<39) window, which is ample for the small
// physical memories this kernel targets.
const maxDirectPhys = 1 << 39

// Dmap returns a page-sized byte slice backed by the physical frame
// containing pa, rounded down to the frame's start.
func Dmap(pa Pa) []byte {
	if uintptr(pa) >= maxDirectPhys {
		panic("mem: direct map not large enough")
	}
	v := directBase + uintptr(pa.Rounddown())
	return unsafe.Slice((*byte)(unsafe.Pointer(v)), PageSize)
}

// DmapOffset returns a slice into the direct-mapped frame starting at pa's
// exact byte offset, running to the end of the frame.
func DmapOffset(pa Pa) []byte {
	pg := Dmap(pa)
	return pg[pa.Offset():]
}

// DirectAddr returns the exact direct-mapped virtual address of pa (no
// frame rounding), for callers that need the address itself rather than a
// slice into it — e.g. kernel/vm direct-mapping the boot memory map's
// physical regions into the high half at their HHDM virtual address.
func DirectAddr(pa Pa) uintptr {
	if uintptr(pa) >= maxDirectPhys {
		panic("mem: direct map not large enough")
	}
	return directBase + uintptr(pa)
}

// DmapV2P converts a direct-mapped virtual address back to the physical
// address it maps.
func DmapV2P(v unsafe.Pointer) Pa {
	va := uintptr(v)
	if va < directBase || va-directBase >= maxDirectPhys {
		panic("mem: address is not in the direct map")
	}
	return Pa(va - directBase)
}
