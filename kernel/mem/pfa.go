package mem

import (
	"encoding/binary"

	"ember/kernel/lock"
)

// AllocFlags controls PFA.Alloc behavior.
type AllocFlags uint

// Zero requests the returned frame be zero-filled before Alloc returns it.
const Zero AllocFlags = 1 << 0

// PFA is the physical frame allocator: a single free list of 4 KiB frames,
// per spec.md §4.1. The list is intrusive — the first 8 bytes of each free
// frame hold the physical address of the next free frame, reached through
// the direct map, so freeing and allocating a frame costs no side storage.
// There is no refcounting and no per-CPU caching: a frame is either on the
// free list or owned by exactly one of {a VM region, a page-table page, a
// kernel heap block}.
type PFA struct {
	mu    lock.Spinlock
	free  Pa // head of the free list, or 0 when empty
	count int
}

// Seed adds every page-aligned frame covered by regions to the free list.
// Regions come from the boot memory map's usable entries; reclaimable
// bootloader memory is never passed in here (spec.md §4.1), so it is never
// handed out by Alloc.
func (p *PFA) Seed(regions []Region) {
	for _, r := range regions {
		start := r.Base.Roundup()
		end := (r.Base + Pa(r.Length)).Rounddown()
		for f := start; f < end; f += PageSize {
			p.free0(f)
		}
	}
}

// free0 pushes a frame onto the free list without taking the lock; callers
// must already hold it or call before concurrent access is possible (i.e.
// only Seed, during single-threaded boot).
func (p *PFA) free0(pa Pa) {
	binary.LittleEndian.PutUint64(Dmap(pa), uint64(p.free))
	p.free = pa
	p.count++
}

// Alloc removes a frame from the free list and returns its physical
// address, or 0 if memory is exhausted. Exhaustion during early boot is
// expected to be fatal at the call site; Alloc itself never panics on OOM.
func (p *PFA) Alloc(flags AllocFlags) Pa {
	p.mu.Lock()
	defer p.mu.Unlock()

	f := p.free
	if f == 0 {
		return 0
	}
	next := Pa(binary.LittleEndian.Uint64(Dmap(f)))
	p.free = next
	p.count--

	if flags&Zero != 0 {
		zeroPage(Dmap(f))
	}
	return f
}

// Free returns a frame to the free list. Double-freeing a frame corrupts
// the list silently, the same trust boundary the original free-list
// allocator has: callers (VM, PTM) are responsible for giving up a frame
// exactly once.
func (p *PFA) Free(pa Pa) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free0(pa)
}

// Count returns the number of frames currently on the free list, for
// /dev/stat reporting.
func (p *PFA) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}
