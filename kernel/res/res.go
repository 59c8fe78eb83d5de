// Package res is the kernel's non-blocking resource admission control: a
// fixed budget that copy loops and other potentially-allocating per-page
// operations reserve a unit of before proceeding, so one runaway syscall
// can't starve every other thread's ability to make progress.
//
// Grounded on biscuit's res.Resadd_noblock(bounds.Bounds(tag)) call sites
// in vm/as.go/vm/userbuf.go (ported to kernel/bounds.Tag); the defining
// res.go was never retrieved, only those call sites, so the budget's
// actual accounting strategy (reused/refilled how, released when) is
// inferred rather than copied: this package models it as a weighted
// semaphore (golang.org/x/sync/semaphore) sized by SetCapacity at boot and
// released via the returned func when the bracketed operation finishes —
// every retrieved call site only shows the acquire half, so the release
// point is this package's own addition, not a ported one.
package res

import (
	"golang.org/x/sync/semaphore"

	"ember/kernel/bounds"
)

// defaultCapacity is a provisional budget sized for the small physical
// memories this kernel targets; SetCapacity overrides it once boot knows
// the real amount of usable memory.
const defaultCapacity = 4096

var budget = semaphore.NewWeighted(defaultCapacity)

// SetCapacity resizes the global budget. Call once during boot, before
// any thread can reach a Reserve call site.
func SetCapacity(units int64) {
	budget = semaphore.NewWeighted(units)
}

// Reserve attempts to reserve tag.Cost() units of the budget without
// blocking. On success it returns a release func the caller must invoke
// once it is done with the work the reservation guarded; on failure ok is
// false and release is nil, matching biscuit's bool-returning
// Resadd_noblock (callers should treat this the same way biscuit's
// K2user_inner/User2k_inner do: abort the operation with an out-of-heap
// error rather than retry).
func Reserve(tag bounds.Tag) (release func(), ok bool) {
	if !budget.TryAcquire(tag.Cost()) {
		return nil, false
	}
	return func() { budget.Release(tag.Cost()) }, true
}
