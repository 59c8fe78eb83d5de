// Package event implements each CPU's deadline-ordered timer queue,
// grounded on original_source's kernel/events/event.{h,c}: a sorted list
// of callbacks, the head of which drives the local APIC's one-shot timer.
// spec.md §4.4 names this the per-CPU event queue; kernel/sched.sleep and
// the preemption quantum are both built on it.
package event

import (
	"ember/kernel/container"
	"ember/kernel/cpu"
)

// Callback is invoked when an Event's deadline passes. Per spec.md §4.4 it
// must be short and may safely call Add again (re-arming itself), exactly
// as event_handle_next's comment requires.
type Callback func(arg any)

// Event is one scheduled callback. Grounded on the original's Event
// struct; Deadline/Callback/Arg correspond directly, and node replaces the
// embedded ListNode.
type Event struct {
	node container.Node[Event]

	Deadline uint64
	Callback Callback
	Arg      any
}

// Pending reports whether the event is currently linked into a queue.
func (e *Event) Pending() bool {
	return e.node.Linked()
}

// Timer is the local APIC one-shot timer a Queue drives, grounded on
// lapic_timer_oneshot/lapic_eoi. The event vector itself is an interrupt-
// controller concern (kernel/trap's concern, not this package's), so the
// interface only deals in delays and EOI.
type Timer interface {
	// Oneshot (re)arms the timer to fire once after delay nanoseconds,
	// replacing whatever was previously armed. delay == 0 fires as soon
	// as possible.
	Oneshot(delay uint64)
	// EOI signals end-of-interrupt for the event vector.
	EOI()
}

// Clock supplies the monotonic nanosecond time event queues schedule
// against, grounded on time_current().
type Clock interface {
	Now() uint64
}

// Queue is one CPU's event list, grounded on the per-CPU events field of
// the original's Cpu struct (here installed via Install/Of instead of
// being an embedded field, see kernel/cpu.Record's doc comment).
type Queue struct {
	list  container.List[Event]
	timer Timer
	clock Clock
}

// NewQueue constructs an empty queue driven by timer and clock. Call once
// per CPU during boot and install it with Install.
func NewQueue(timer Timer, clock Clock) *Queue {
	q := &Queue{timer: timer, clock: clock}
	q.list.Init()
	return q
}

// Install registers q as r's event queue.
func Install(r *cpu.Record, q *Queue) {
	r.Events = q
}

// Of returns the queue installed on r. Panics if none was installed,
// since every CPU record must have one by the time scheduling begins.
func Of(r *cpu.Record) *Queue {
	q, ok := r.Events.(*Queue)
	if !ok {
		panic("event: no queue installed on this cpu record")
	}
	return q
}

// Current returns the calling CPU's event queue, the common-case spelling
// of Of(cpu.Current()).
func Current() *Queue {
	return Of(cpu.Current())
}

func (q *Queue) armFor(deadline uint64) {
	now := q.clock.Now()
	var delay uint64
	if deadline > now {
		delay = deadline - now
	}
	q.timer.Oneshot(delay)
}

// Add inserts e in deadline order, grounded on event_add. If the queue was
// empty, or e becomes the new head, the local APIC timer is (re)armed for
// e.Deadline. Equal deadlines are broken by insertion order (e is placed
// after every event already queued with an equal or earlier deadline),
// matching spec.md §4.4's FIFO tie-break.
func (q *Queue) Add(e *Event) {
	prev := cpu.MaskInterrupts()
	defer cpu.RestoreInterrupts(prev)

	if e.node.Owner() == nil {
		e.node = container.NewNode(e)
	}

	if q.list.Empty() {
		q.list.PushBack(&e.node)
		q.armFor(e.Deadline)
		return
	}

	var before *Event
	q.list.Each(func(cur *Event) {
		if before == nil && e.Deadline < cur.Deadline {
			before = cur
		}
	})
	if before != nil {
		q.list.InsertBefore(&before.node, &e.node)
		if q.list.Front() == e {
			q.armFor(e.Deadline)
		}
		return
	}
	q.list.PushBack(&e.node)
}

// Cancel removes e from the queue, grounded on event_cancel. Idempotent:
// cancelling an event that isn't queued (or was already handled) is a
// no-op, matching spec.md §4.4. If e was the head, the timer is reprogrammed
// for the new head; the original does not disarm when the queue becomes
// empty (a harmless spurious IRQ that event_handle_next absorbs), and
// neither does this.
func (q *Queue) Cancel(e *Event) {
	prev := cpu.MaskInterrupts()
	defer cpu.RestoreInterrupts(prev)

	wasHead := q.list.Front() == e
	q.list.Remove(&e.node)
	if wasHead {
		if next := q.list.Front(); next != nil {
			q.armFor(next.Deadline)
		}
	}
}

// HandleNext is the timer interrupt handler, grounded on event_handle_next.
// It signals EOI first (so a long callback chain doesn't delay the
// controller's view of interrupt completion), then drains every event
// whose deadline has passed, then reprograms the timer for whatever is
// left at the head. Runs with interrupts masked, per spec.md §4.4.
func (q *Queue) HandleNext() {
	q.timer.EOI()

	for {
		head := q.list.Front()
		if head == nil {
			break
		}
		if head.Deadline > q.clock.Now() {
			break
		}
		q.list.Remove(&head.node)
		if head.Callback != nil {
			head.Callback(head.Arg)
		}
	}

	if next := q.list.Front(); next != nil {
		q.armFor(next.Deadline)
	}
}
