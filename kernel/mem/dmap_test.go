package mem

import (
	"testing"
	"unsafe"
)

// fakePhysMem backs the direct map with an ordinary Go byte slice for
// testing: physical address 0 aliases fakemem[0], exactly as if that slice
// were the machine's entire physical memory. A real boot sets directBase to
// the HHDM virtual base instead.
func fakePhysMem(t *testing.T, npages int) []byte {
	t.Helper()
	buf := make([]byte, npages*PageSize+PageSize) // pad so rounding never walks off the end
	SetDirectBase(uintptr(unsafe.Pointer(&buf[0])))
	t.Cleanup(func() { SetDirectBase(0) })
	return buf
}

func TestDmapRoundsDownToFrame(t *testing.T) {
	fakePhysMem(t, 4)

	pa := Pa(PageSize + 17)
	pg := Dmap(pa)
	if len(pg) != PageSize {
		t.Fatalf("expected page-sized slice, got %d", len(pg))
	}

	pg[pa.Offset()] = 0xAB
	off := DmapOffset(pa)
	if off[0] != 0xAB {
		t.Fatalf("expected DmapOffset to start at pa's in-frame offset, got %#x", off[0])
	}
}

func TestDmapV2PRoundTrip(t *testing.T) {
	fakePhysMem(t, 4)

	pa := Pa(2 * PageSize)
	pg := Dmap(pa)
	got := DmapV2P(unsafe.Pointer(&pg[0]))
	if got != pa {
		t.Fatalf("expected round-trip to %v, got %v", pa, got)
	}
}

func TestDirectAddr(t *testing.T) {
	fakePhysMem(t, 4)

	pa := Pa(3 * PageSize)
	got := DirectAddr(pa)
	want := DmapV2P(unsafe.Pointer(got))
	if want != pa {
		t.Fatalf("DirectAddr(%v) round-trips to %v", pa, want)
	}
}

func TestDmapPanicsOnHugeAddress(t *testing.T) {
	fakePhysMem(t, 1)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for an address beyond the direct map window")
		}
	}()
	Dmap(Pa(maxDirectPhys))
}
