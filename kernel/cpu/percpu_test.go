package cpu

import "testing"

func resetRecords(t *testing.T) {
	t.Cleanup(func() {
		records = nil
		current = nil
	})
	records = nil
	current = nil
}

func TestRegisterAssignsSequentialIndices(t *testing.T) {
	resetRecords(t)

	bsp := &Record{SeqID: 0}
	ap := &Record{SeqID: 1}

	if idx := Register(bsp); idx != 0 {
		t.Fatalf("Register(bsp) = %d, want 0", idx)
	}
	if idx := Register(ap); idx != 1 {
		t.Fatalf("Register(ap) = %d, want 1", idx)
	}
	if Count() != 2 {
		t.Fatalf("Count() = %d, want 2", Count())
	}
	if !bsp.IsBSP() {
		t.Fatal("seq_id 0 should report IsBSP")
	}
	if ap.IsBSP() {
		t.Fatal("seq_id 1 should not report IsBSP")
	}
}

func TestCurrentPanicsWithoutInstall(t *testing.T) {
	resetRecords(t)

	defer func() {
		if recover() == nil {
			t.Fatal("expected Current to panic with no record installed")
		}
	}()
	Current()
}

func TestSetCurrentThenCurrentRoundTrips(t *testing.T) {
	resetRecords(t)

	r := &Record{SeqID: 0, LapicID: 7}
	SetCurrent(r)
	if got := Current(); got != r {
		t.Fatalf("Current() = %v, want %v", got, r)
	}

	ClearCurrent()
	defer func() {
		if recover() == nil {
			t.Fatal("expected Current to panic after ClearCurrent")
		}
	}()
	Current()
}

func TestSetCurrentTwiceWithoutClearPanics(t *testing.T) {
	resetRecords(t)

	SetCurrent(&Record{SeqID: 0})
	defer func() {
		if recover() == nil {
			t.Fatal("expected second SetCurrent to panic")
		}
	}()
	SetCurrent(&Record{SeqID: 1})
}

func TestOpaqueSchedulerAndEventsHandles(t *testing.T) {
	resetRecords(t)

	type fakeScheduler struct{ tag string }
	type fakeEvents struct{ tag string }

	r := &Record{SeqID: 0}
	r.Scheduler = &fakeScheduler{tag: "sched"}
	r.Events = &fakeEvents{tag: "events"}

	sched, ok := r.Scheduler.(*fakeScheduler)
	if !ok || sched.tag != "sched" {
		t.Fatal("Scheduler handle did not round-trip through the any field")
	}
	events, ok := r.Events.(*fakeEvents)
	if !ok || events.tag != "events" {
		t.Fatal("Events handle did not round-trip through the any field")
	}
}
