package lock

import (
	"sync"
	"testing"
)

// fakeScheduler stands in for kernel/sched in tests: Current hands out a
// fresh per-call token (a buffered channel), and Block/Wake use it directly
// instead of the real ready-queue splice.
type fakeScheduler struct{}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{}
}

func (f *fakeScheduler) Current() any {
	return make(chan struct{}, 1)
}

func (f *fakeScheduler) Block(token any) {
	<-token.(chan struct{})
}

func (f *fakeScheduler) Wake(token any) {
	token.(chan struct{}) <- struct{}{}
}

func TestMutexUncontended(t *testing.T) {
	var m Mutex
	m.Init(newFakeScheduler())

	m.Lock()
	if m.State() != MutexLocked {
		t.Fatalf("expected Locked, got %v", m.State())
	}
	m.Unlock()
	if m.State() != MutexUnlocked {
		t.Fatalf("expected Unlocked, got %v", m.State())
	}
}

func TestMutexContention(t *testing.T) {
	var m Mutex
	m.Init(newFakeScheduler())

	var order []int
	var orderMu sync.Mutex
	var wg sync.WaitGroup

	m.Lock()

	const n = 8
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			m.Lock()
			orderMu.Lock()
			order = append(order, i)
			orderMu.Unlock()
			m.Unlock()
		}(i)
	}

	// release while the goroutines are starting: those already queued
	// behind the held lock are woken in turn, the rest take the fast path
	m.Unlock()
	wg.Wait()

	if len(order) != n {
		t.Fatalf("expected %d goroutines to record entry, got %d", n, len(order))
	}
	if m.State() != MutexUnlocked {
		t.Fatalf("expected Unlocked after all releases, got %v", m.State())
	}
}

func TestMutexUnlockOfUnlockedPanics(t *testing.T) {
	var m Mutex
	m.Init(newFakeScheduler())

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic unlocking an already-unlocked mutex")
		}
	}()
	m.Unlock()
}
