package event

import (
	"testing"

	"ember/kernel/cpu"
)

func TestMain(m *testing.M) {
	restore := cpu.StubInterrupts()
	defer restore()
	m.Run()
}

type fakeClock struct{ now uint64 }

func (c *fakeClock) Now() uint64 { return c.now }

type fakeTimer struct {
	armedDelay uint64
	armCount   int
	eoiCount   int
}

func (t *fakeTimer) Oneshot(delay uint64) {
	t.armedDelay = delay
	t.armCount++
}

func (t *fakeTimer) EOI() { t.eoiCount++ }

func TestAddOnEmptyQueueArmsTimer(t *testing.T) {
	clock := &fakeClock{now: 100}
	timer := &fakeTimer{}
	q := NewQueue(timer, clock)

	e := &Event{Deadline: 150}
	q.Add(e)

	if timer.armCount != 1 || timer.armedDelay != 50 {
		t.Fatalf("expected one arm for delay 50, got count=%d delay=%d", timer.armCount, timer.armedDelay)
	}
	if !e.Pending() {
		t.Fatal("expected event to be linked after Add")
	}
}

func TestAddEarlierDeadlineBecomesNewHeadAndRearms(t *testing.T) {
	clock := &fakeClock{now: 0}
	timer := &fakeTimer{}
	q := NewQueue(timer, clock)

	later := &Event{Deadline: 200}
	q.Add(later)
	timer.armCount = 0

	earlier := &Event{Deadline: 50}
	q.Add(earlier)

	if timer.armCount != 1 || timer.armedDelay != 50 {
		t.Fatalf("expected rearm for the new earlier head, got count=%d delay=%d", timer.armCount, timer.armedDelay)
	}
}

func TestAddLaterDeadlineDoesNotRearm(t *testing.T) {
	clock := &fakeClock{now: 0}
	timer := &fakeTimer{}
	q := NewQueue(timer, clock)

	head := &Event{Deadline: 50}
	q.Add(head)
	timer.armCount = 0

	tail := &Event{Deadline: 200}
	q.Add(tail)

	if timer.armCount != 0 {
		t.Fatalf("expected no rearm when the new event isn't the head, got %d", timer.armCount)
	}
}

func TestEqualDeadlinesFireFIFO(t *testing.T) {
	clock := &fakeClock{now: 1000}
	timer := &fakeTimer{}
	q := NewQueue(timer, clock)

	var order []int
	first := &Event{Deadline: 1000, Callback: func(any) { order = append(order, 1) }}
	second := &Event{Deadline: 1000, Callback: func(any) { order = append(order, 2) }}
	q.Add(first)
	q.Add(second)

	q.HandleNext()

	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("expected FIFO order [1 2], got %v", order)
	}
}

func TestCancelHeadReprogramsForNewHead(t *testing.T) {
	clock := &fakeClock{now: 0}
	timer := &fakeTimer{}
	q := NewQueue(timer, clock)

	head := &Event{Deadline: 50}
	tail := &Event{Deadline: 200}
	q.Add(head)
	q.Add(tail)
	timer.armCount = 0

	q.Cancel(head)

	if timer.armCount != 1 || timer.armedDelay != 200 {
		t.Fatalf("expected rearm for tail's deadline 200, got count=%d delay=%d", timer.armCount, timer.armedDelay)
	}
	if head.Pending() {
		t.Fatal("expected cancelled event to be unlinked")
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	clock := &fakeClock{now: 0}
	timer := &fakeTimer{}
	q := NewQueue(timer, clock)

	e := &Event{Deadline: 50}
	q.Add(e)
	q.Cancel(e)

	q.Cancel(e) // must not panic on an already-cancelled event
}

func TestHandleNextDrainsExpiredAndRearmsSurvivor(t *testing.T) {
	clock := &fakeClock{now: 0}
	timer := &fakeTimer{}
	q := NewQueue(timer, clock)

	var fired []uint64
	expired1 := &Event{Deadline: 10, Callback: func(any) { fired = append(fired, 10) }}
	expired2 := &Event{Deadline: 20, Callback: func(any) { fired = append(fired, 20) }}
	survivor := &Event{Deadline: 1000}
	q.Add(expired1)
	q.Add(expired2)
	q.Add(survivor)

	clock.now = 25
	q.HandleNext()

	if len(fired) != 2 || fired[0] != 10 || fired[1] != 20 {
		t.Fatalf("expected both expired callbacks to fire in order, got %v", fired)
	}
	if survivor.Pending() == false {
		t.Fatal("survivor should remain queued")
	}
	if timer.armedDelay != 975 {
		t.Fatalf("expected rearm for survivor's remaining delay 975, got %d", timer.armedDelay)
	}
	if timer.eoiCount != 1 {
		t.Fatalf("expected exactly one EOI, got %d", timer.eoiCount)
	}
}

func TestHandleNextOnEmptyQueueDoesNotRearm(t *testing.T) {
	clock := &fakeClock{now: 0}
	timer := &fakeTimer{}
	q := NewQueue(timer, clock)

	q.HandleNext()

	if timer.armCount != 0 {
		t.Fatalf("expected no rearm on an empty queue, got %d", timer.armCount)
	}
	if timer.eoiCount != 1 {
		t.Fatalf("expected EOI even on an empty queue, got %d", timer.eoiCount)
	}
}

func TestInstallAndOfRoundTrip(t *testing.T) {
	r := &cpu.Record{}
	q := NewQueue(&fakeTimer{}, &fakeClock{})
	Install(r, q)

	if Of(r) != q {
		t.Fatal("Of did not return the installed queue")
	}
}

func TestOfPanicsWithoutInstall(t *testing.T) {
	r := &cpu.Record{}
	defer func() {
		if recover() == nil {
			t.Fatal("expected Of to panic when no queue was installed")
		}
	}()
	Of(r)
}
