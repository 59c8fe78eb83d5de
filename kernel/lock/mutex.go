package lock

import (
	"sync/atomic"

	"ember/kernel/container"
)

// MutexState is the three-way state of a Mutex.
type MutexState int32

const (
	MutexUnlocked MutexState = iota
	MutexLocked
	MutexContested
)

// Scheduler is the minimal view of kernel/sched a Mutex needs: a token for
// "the calling thread", and the ability to park or wake a thread identified
// by that token. Taking this as an interface rather than importing
// kernel/sched directly avoids a sched->lock->sched import cycle, the same
// role biscuit's tinfo package plays between vm and proc.
type Scheduler interface {
	// Current returns a token identifying the calling thread.
	Current() any
	// Block parks the calling thread until a matching Wake call returns.
	Block(token any)
	// Wake makes the thread identified by token runnable again.
	Wake(token any)
}

type waiter struct {
	node  container.Node[waiter]
	token any
}

// Mutex is a three-state lock (Unlocked/Locked/Contested). The common case
// of an uncontended lock/unlock is a single atomic compare-and-swap; only a
// contested mutex pays for the spinlock-protected FIFO wait queue.
type Mutex struct {
	lock      Spinlock
	state     int32
	waitQueue container.List[waiter]
	sched     Scheduler
}

// Init binds the mutex to the scheduler it parks contested waiters on. It
// must be called before first use.
func (m *Mutex) Init(sched Scheduler) *Mutex {
	m.sched = sched
	return m
}

// Lock acquires the mutex, blocking the calling thread if it is contested.
func (m *Mutex) Lock() {
	if atomic.CompareAndSwapInt32(&m.state, int32(MutexUnlocked), int32(MutexLocked)) {
		return
	}

	m.lock.Lock()
	prev := MutexState(atomic.SwapInt32(&m.state, int32(MutexContested)))
	if prev == MutexUnlocked {
		atomic.StoreInt32(&m.state, int32(MutexLocked))
		m.lock.Unlock()
		return
	}

	w := &waiter{token: m.sched.Current()}
	w.node = container.NewNode(w)
	m.waitQueue.PushBack(&w.node)
	m.lock.Unlock()

	m.sched.Block(w.token)
}

// Unlock releases the mutex, waking the longest-waiting blocked thread if
// any are queued.
func (m *Mutex) Unlock() {
	if atomic.CompareAndSwapInt32(&m.state, int32(MutexLocked), int32(MutexUnlocked)) {
		return
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	if MutexState(atomic.LoadInt32(&m.state)) != MutexContested {
		panic("lock: unlock of unlocked mutex")
	}
	next := m.waitQueue.PopFront()
	if next == nil {
		panic("lock: contested mutex has no waiters")
	}
	m.sched.Wake(next.token)

	if m.waitQueue.Empty() {
		atomic.StoreInt32(&m.state, int32(MutexLocked))
	}
}

// State returns the mutex's current state, for /dev/stat reporting.
func (m *Mutex) State() MutexState {
	return MutexState(atomic.LoadInt32(&m.state))
}
