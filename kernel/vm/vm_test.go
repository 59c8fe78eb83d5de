package vm

import (
	"bytes"
	"os"
	"testing"
	"unsafe"

	"ember/kernel/cpu"
	"ember/kernel/mem"
	"ember/kernel/ptm"
)

func TestMain(m *testing.M) {
	restore := cpu.StubInterrupts()
	code := m.Run()
	restore()
	os.Exit(code)
}

// newTestEnv backs the direct map with a real Go byte slice (as kernel/mem
// and kernel/ptm's own tests do) and returns a seeded PFA; each test
// creates its own KernelAS-less address space to map into. Tests that need KernelAS set
// up their own fixture separately to avoid cross-test interference, since
// KernelAS is a package-level var.
func newTestEnv(t *testing.T, npages int) *mem.PFA {
	t.Helper()
	buf := make([]byte, npages*mem.PageSize+mem.PageSize)
	mem.SetDirectBase(uintptr(unsafe.Pointer(&buf[0])))
	t.Cleanup(func() { mem.SetDirectBase(0) })

	pfa := &mem.PFA{}
	pfa.Seed([]mem.Region{{Base: mem.Pa(mem.PageSize), Length: uint64((npages - 1) * mem.PageSize)}})
	return pfa
}

func TestMapAnonAndUnmap(t *testing.T) {
	pfa := newTestEnv(t, 256)
	as := CreateAddressSpace(pfa)

	base := MapAnon(as, pfa, 0, 4*mem.PageSize, ptm.Protection{Read: true, Write: true}, ptm.CachingDefault, 0)
	if base == 0 {
		t.Fatal("MapAnon failed to find space")
	}
	if base < UserSpaceStart {
		t.Fatalf("mapped below user space start: %#x", base)
	}

	for i := 0; i < 4; i++ {
		if ptm.VirtToPhys(&as.Space, base+uintptr(i)*mem.PageSize) == 0 {
			t.Fatalf("page %d of mapping not present", i)
		}
	}

	Unmap(as, pfa, base, 4*mem.PageSize)

	for i := 0; i < 4; i++ {
		if ptm.VirtToPhys(&as.Space, base+uintptr(i)*mem.PageSize) != 0 {
			t.Fatalf("page %d still mapped after Unmap", i)
		}
	}
}

func TestUnmapSplitsRegion(t *testing.T) {
	pfa := newTestEnv(t, 256)
	as := CreateAddressSpace(pfa)

	base := MapAnon(as, pfa, 0, 4*mem.PageSize, ptm.Protection{Read: true, Write: true}, ptm.CachingDefault, 0)
	if base == 0 {
		t.Fatal("MapAnon failed")
	}

	// Unmap the two middle pages, leaving a region on either side.
	Unmap(as, pfa, base+mem.PageSize, 2*mem.PageSize)

	if ptm.VirtToPhys(&as.Space, base) == 0 {
		t.Fatal("first page should still be mapped")
	}
	if ptm.VirtToPhys(&as.Space, base+3*mem.PageSize) == 0 {
		t.Fatal("last page should still be mapped")
	}
	if ptm.VirtToPhys(&as.Space, base+mem.PageSize) != 0 {
		t.Fatal("middle page should have been unmapped")
	}
	if ptm.VirtToPhys(&as.Space, base+2*mem.PageSize) != 0 {
		t.Fatal("middle page should have been unmapped")
	}

	if as.regions.Len() != 2 {
		t.Fatalf("expected region to split into 2, got %d", as.regions.Len())
	}
}

func TestMapDirect(t *testing.T) {
	pfa := newTestEnv(t, 64)
	as := CreateAddressSpace(pfa)

	phys := pfa.Alloc(0)
	if phys == 0 {
		t.Fatal("failed to allocate a backing frame")
	}

	base := MapDirect(as, pfa, 0, mem.PageSize, phys, ptm.Protection{Read: true, Write: true}, ptm.CachingDefault, 0)
	if base == 0 {
		t.Fatal("MapDirect failed")
	}
	if got := ptm.VirtToPhys(&as.Space, base); got != phys {
		t.Fatalf("VirtToPhys = %v, want %v", got, phys)
	}
}

func TestMapFixedFailsOnOverlap(t *testing.T) {
	pfa := newTestEnv(t, 64)
	as := CreateAddressSpace(pfa)

	const hint = UserSpaceStart + 0x10_0000

	base := MapAnon(as, pfa, hint, mem.PageSize, ptm.Protection{Read: true}, ptm.CachingDefault, FlagFixed)
	if base != hint {
		t.Fatalf("expected fixed mapping at %#x, got %#x", hint, base)
	}

	overlap := MapAnon(as, pfa, hint, mem.PageSize, ptm.Protection{Read: true}, ptm.CachingDefault, FlagFixed)
	if overlap != 0 {
		t.Fatalf("expected overlapping fixed mapping to fail, got %#x", overlap)
	}
}

func TestCopyToFromRoundTrip(t *testing.T) {
	pfa := newTestEnv(t, 64)
	as := CreateAddressSpace(pfa)

	base := MapAnon(as, pfa, 0, mem.PageSize, ptm.Protection{Read: true, Write: true}, ptm.CachingDefault, 0)
	if base == 0 {
		t.Fatal("MapAnon failed")
	}

	msg := []byte("hello from kernel space")
	if n := CopyTo(as, base, msg); n != len(msg) {
		t.Fatalf("CopyTo copied %d bytes, want %d", n, len(msg))
	}

	got := make([]byte, len(msg))
	if n := CopyFrom(got, as, base); n != len(msg) {
		t.Fatalf("CopyFrom copied %d bytes, want %d", n, len(msg))
	}
	if !bytes.Equal(got, msg) {
		t.Fatalf("round trip mismatch: got %q, want %q", got, msg)
	}
}

func TestCopyFromStopsAtUnmappedPage(t *testing.T) {
	pfa := newTestEnv(t, 64)
	as := CreateAddressSpace(pfa)

	base := MapAnon(as, pfa, 0, mem.PageSize, ptm.Protection{Read: true, Write: true}, ptm.CachingDefault, 0)
	dest := make([]byte, mem.PageSize*2)
	n := CopyFrom(dest, as, base)
	if n != mem.PageSize {
		t.Fatalf("expected copy to stop at the unmapped second page, got %d bytes", n)
	}
}

func TestMprotectUpdatesProtectionWithoutChangingMapping(t *testing.T) {
	pfa := newTestEnv(t, 64)
	as := CreateAddressSpace(pfa)

	base := MapAnon(as, pfa, 0, 2*mem.PageSize, ptm.Protection{Read: true, Write: true}, ptm.CachingDefault, 0)
	before := ptm.VirtToPhys(&as.Space, base)

	Mprotect(as, pfa, base, mem.PageSize, ptm.Protection{Read: true})

	after := ptm.VirtToPhys(&as.Space, base)
	if before != after {
		t.Fatalf("Mprotect changed the backing frame: %v -> %v", before, after)
	}
	if as.regions.Len() != 2 {
		t.Fatalf("expected the region to split at the protect boundary, got %d regions", as.regions.Len())
	}
}

func TestCloneDeepCopiesAnonRegions(t *testing.T) {
	pfa := newTestEnv(t, 128)
	src := CreateAddressSpace(pfa)
	dst := CreateAddressSpace(pfa)

	base := MapAnon(src, pfa, 0, mem.PageSize, ptm.Protection{Read: true, Write: true}, ptm.CachingDefault, 0)
	msg := []byte("child should see this")
	CopyTo(src, base, msg)

	Clone(dst, src, pfa)

	got := make([]byte, len(msg))
	n := CopyFrom(got, dst, base)
	if n != len(msg) || !bytes.Equal(got, msg) {
		t.Fatalf("clone did not copy anon region bytes: got %q (%d bytes)", got, n)
	}

	// mutating the child must not affect the parent (deep copy, not share).
	CopyTo(dst, base, []byte("mutated in child only"))
	parentStill := make([]byte, len(msg))
	CopyFrom(parentStill, src, base)
	if !bytes.Equal(parentStill, msg) {
		t.Fatalf("parent region was mutated by a write to the child: %q", parentStill)
	}
}

func TestCreateAddressSpaceSharesKernelHalf(t *testing.T) {
	pfa := newTestEnv(t, 512)

	img := KernelImage{}
	kas := InitKernelAddressSpace(pfa, img, nil)
	t.Cleanup(func() { KernelAS = nil })

	child := CreateAddressSpace(pfa)

	kernelPml4 := mem.Dmap(kas.CR3)
	childPml4 := mem.Dmap(child.CR3)
	if !bytes.Equal(kernelPml4[256*8:], childPml4[256*8:]) {
		t.Fatal("child address space did not inherit the kernel PML4 half")
	}
}
