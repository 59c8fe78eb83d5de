package sched

import (
	"fmt"

	"ember/kernel/container"
	"ember/kernel/cpu"
	"ember/kernel/event"
	"ember/kernel/mem"
	"ember/kernel/vm"
)

// quantumNanos is the fixed preemption quantum, grounded on sched.c's
// THREAD_QUANTUM (ms_to_ns(5)).
const quantumNanos = 5_000_000

// Scheduler is one CPU's dispatcher, grounded on the original's Scheduler
// struct ({current_thread, ready_queue, idle_thread, preemption_event,
// should_yield, yield_status}); events/clock are the per-CPU collaborators
// sched_switch/maybe_reschedule_thread reach through cpu_current().
type Scheduler struct {
	cpuRec *cpu.Record
	events *event.Queue
	clock  event.Clock

	readyQueue container.List[Thread]
	current    *Thread
	idle       *Thread

	preemption  event.Event
	shouldYield bool
}

// NewScheduler builds an empty scheduler with a fresh idle thread for
// rec, installs it on rec, and returns it. Grounded on sched_init; call
// once per CPU during boot, after rec has an events queue installed and
// before Start.
func NewScheduler(rec *cpu.Record, events *event.Queue, clock event.Clock, pfa *mem.PFA) *Scheduler {
	s := &Scheduler{cpuRec: rec, events: events, clock: clock}
	s.readyQueue.Init()
	Install(rec, s)

	s.idle = ThreadKernelCreate(pfa, idleLoop, fmt.Sprintf("idle_cpu%d", rec.SeqID))

	return s
}

// Install registers s as r's scheduler.
func Install(r *cpu.Record, s *Scheduler) {
	r.Scheduler = s
}

// Of returns the scheduler installed on r. Panics if none was installed.
func Of(r *cpu.Record) *Scheduler {
	s, ok := r.Scheduler.(*Scheduler)
	if !ok {
		panic("sched: no scheduler installed on this cpu record")
	}
	return s
}

// Current returns the calling CPU's scheduler, the common-case spelling
// of Of(cpu.Current()).
func Current() *Scheduler {
	return Of(cpu.Current())
}

// CurrentThread returns the calling CPU's running thread, grounded on
// sched_get_current_thread.
func CurrentThread() *Thread {
	prev := cpu.MaskInterrupts()
	defer cpu.RestoreInterrupts(prev)
	return Current().current
}

// Now returns the calling CPU's clock reading, the same source Sleep
// arms its deadline from — kernel/syscall's gettime(CLOCK_MONOTONIC)
// reads through this rather than importing event.Clock directly.
func Now() uint64 {
	return Current().clock.Now()
}

// ScheduleThread marks t Ready and appends it to the calling CPU's ready
// queue, grounded on sched_schedule_thread. Per spec.md §4.5 there is no
// migration: t must already belong to the CPU this is called on (a sleep
// or mutex wake callback runs in that CPU's own interrupt/thread context,
// never another CPU's).
func ScheduleThread(t *Thread) {
	t.Status = Ready

	prev := cpu.MaskInterrupts()
	defer cpu.RestoreInterrupts(prev)
	Current().readyQueue.PushBack(&t.node)
}

// Start hands the calling goroutine off to the scheduler for the first
// time, grounded on sched_start: it installs a permanently-Done "bsp"
// placeholder as the current thread and yields, which — since nothing
// ever reschedules a Done thread — never returns.
func Start() {
	s := Current()
	s.current = &Thread{
		Name:   "bsp",
		Status: Done,
		cont:   make(chan struct{}),
	}

	Yield(Done)
	panic("sched: Start's Yield(Done) returned, unreachable")
}

func (s *Scheduler) chooseNext() *Thread {
	return s.readyQueue.PopFront()
}

// Yield hands the CPU to the next ready thread (or the idle thread if
// none is ready), grounded on sched_yield. target is the status the
// calling thread transitions to; the call blocks until some later Yield
// redispatches the calling thread. If nothing is ready and target is
// already Ready, this returns immediately without switching — the
// calling thread simply keeps running its quantum out.
func Yield(target Status) {
	if target == Running {
		panic("sched: cannot yield to Running")
	}

	prev := cpu.MaskInterrupts()
	defer cpu.RestoreInterrupts(prev)

	s := Current()
	this := s.current

	next := s.chooseNext()
	if next == nil {
		if target == Ready {
			return
		}
		next = s.idle
	}

	this.Status = target
	next.Status = Running
	s.current = next

	s.switchContext(this, next)
	s.maybeReschedule(this)

	next.cont <- struct{}{}
	<-this.cont
}

// switchContext loads next's address space and TSS.rsp0, and swaps FPU
// state for threads that belong to a process, grounded on sched_switch
// (minus the register-level context switch itself, which this package's
// goroutine handoff replaces — see the package doc).
func (s *Scheduler) switchContext(this, next *Thread) {
	if holder, ok := next.Proc.(AddressSpaceHolder); ok {
		vm.LoadAddressSpace(holder.AddressSpace())
	} else {
		vm.LoadAddressSpace(vm.KernelAS)
	}

	s.cpuRec.TSS.SetRSP0(next.kernelStackBase + next.kernelStackSize)

	if this.Proc != nil {
		cpu.FPUSaveFn(this.fpu)
	}
	if next.Proc != nil {
		cpu.FPURestoreFn(next.fpu)
	}
}

// maybeReschedule finalizes the outgoing thread t's bookkeeping and arms
// the next preemption quantum, grounded on maybe_reschedule_thread. Must
// be called with interrupts masked.
func (s *Scheduler) maybeReschedule(t *Thread) {
	if t != s.idle {
		switch t.Status {
		case Ready:
			s.readyQueue.PushBack(&t.node)
		case Done:
			// TODO: reap finished threads — nothing yet frees a Done
			// thread's kernel stack region or struct, matching the
			// original's own "TODO: REAP".
		case Blocked:
			// The blocker (mutex, sleep, wait queue) owns the later
			// ScheduleThread call; the scheduler never implicitly
			// unblocks (spec.md §4.5).
		case Running:
			panic("sched: thread marked Running in maybeReschedule")
		}
	}

	s.armPreemption()
}

// armPreemption (re)arms the per-CPU preemption event for one fresh
// quantum starting now, grounded on maybe_reschedule_thread's inline
// Event literal and preempt(). The previous preemption event is
// explicitly cancelled first: a voluntary yield (sleep, a contested
// mutex) can happen before the prior quantum's deadline, and re-inserting
// an already-linked intrusive list node without removing it first would
// corrupt the per-CPU event queue — a correctness fix over the original,
// which re-arms unconditionally.
func (s *Scheduler) armPreemption() {
	s.events.Cancel(&s.preemption)
	s.preemption = event.Event{
		Deadline: s.clock.Now() + quantumNanos,
		Callback: func(any) { s.shouldYield = true },
	}
	s.events.Add(&s.preemption)
}

// MaybeYield yields Ready if the preemption quantum has expired since the
// calling thread was last dispatched, grounded on "on return from the
// timer handler the dispatcher yields if requested" (spec.md §4.5).
// kernel/trap.Dispatch does not call this itself; its doc leaves the call
// to Dispatch's caller. The idle loop calls it directly.
func MaybeYield() {
	s := Current()
	if s.shouldYield {
		s.shouldYield = false
		Yield(Ready)
	}
}

// Sleep arms the calling thread's own event for now+ns and blocks it,
// grounded on sched_sleep. The wake callback reschedules the thread; the
// scheduler itself never wakes a sleeping thread on its own.
func Sleep(ns uint64) {
	s := Current()
	this := s.current

	this.Event.Deadline = s.clock.Now() + ns
	this.Event.Callback = func(any) { ScheduleThread(this) }
	s.events.Add(this.Event)

	Yield(Blocked)
}

func idleLoop() {
	for {
		cpu.Relax()
		MaybeYield()
	}
}
