// Package lock provides the two primitives every other kernel package
// synchronizes with: Spinlock (interrupt-masking, for data touched by
// interrupt handlers) and Mutex (a three-state lock that parks contested
// waiters on the scheduler instead of spinning).
package lock

import (
	"sync/atomic"

	"ember/kernel/cpu"
)

// deadlockIters bounds how long Spinlock.Lock busy-waits before concluding
// the lock is held forever and panicking, rather than hanging the CPU
// silently. It mirrors the original kernel's fixed iteration count rather
// than a wall-clock timeout, since a wall clock needs interrupts that a
// spinning CPU has, by construction, masked off.
const deadlockIters = 100_000_000

// Spinlock masks interrupts for the duration it is held, so it is safe to
// take from both thread and interrupt context on the same CPU. It restores
// whatever interrupt state was in effect before Lock, so nested acquisition
// of a primitive lock under a masking one doesn't re-enable interrupts
// early.
type Spinlock struct {
	locked   int32
	prevIntr bool
}

// Lock acquires the spinlock, masking interrupts on this CPU until Unlock.
func (s *Spinlock) Lock() {
	for {
		if atomic.CompareAndSwapInt32(&s.locked, 0, 1) {
			s.prevIntr = cpu.InterruptsEnabledFn()
			cpu.DisableInterruptsFn()
			return
		}
		var iters uint64
		for atomic.LoadInt32(&s.locked) != 0 {
			cpu.Relax()
			iters++
			if iters >= deadlockIters {
				panic("lock: spinlock deadlock suspected")
			}
		}
	}
}

// Unlock releases the spinlock and restores the pre-Lock interrupt state.
func (s *Spinlock) Unlock() {
	prev := s.prevIntr
	atomic.StoreInt32(&s.locked, 0)
	if prev {
		cpu.EnableInterruptsFn()
	}
}

// TryLock attempts to acquire the spinlock without spinning.
func (s *Spinlock) TryLock() bool {
	if !atomic.CompareAndSwapInt32(&s.locked, 0, 1) {
		return false
	}
	s.prevIntr = cpu.InterruptsEnabledFn()
	cpu.DisableInterruptsFn()
	return true
}

// Primitive is a spinlock that never touches the interrupt flag. It is for
// data that interrupt handlers never touch (the opposite assumption from
// Spinlock), so acquiring it from an interrupt handler would be a bug, not
// a safety net this type tries to catch.
type Primitive struct {
	locked int32
}

func (s *Primitive) Lock() {
	for {
		if atomic.CompareAndSwapInt32(&s.locked, 0, 1) {
			return
		}
		var iters uint64
		for atomic.LoadInt32(&s.locked) != 0 {
			cpu.Relax()
			iters++
			if iters >= deadlockIters {
				panic("lock: primitive spinlock deadlock suspected")
			}
		}
	}
}

func (s *Primitive) Unlock() {
	atomic.StoreInt32(&s.locked, 0)
}
