package cpu

// Record is the per-CPU state block each CPU's boot path constructs once
// and installs with SetCurrent, grounded on original_source's Cpu struct
// (kernel/cpu/cpu.h). The original reaches it through a GS-segment-relative
// self pointer (`cpu_current()` dereferences `((__seg_gs Cpu*) nullptr)->self`);
// Go has no portable way to read a segment base, so Current/SetCurrent
// substitute a package-level variable with the same nil-checked
// install/clear discipline biscuit's tinfo.Current/SetCurrent use for the
// analogous problem (there backed by a patched runtime goroutine pointer;
// ember has no such patch, so a plain package var stands in for it).
type Record struct {
	SeqID          uint64
	LapicID        uint32
	LapicTimerFreq uint64

	TSS *TSS

	// Scheduler and Events are opaque handles owned by kernel/sched and
	// kernel/event respectively. Both packages need Current() to reach
	// their own per-CPU state, so kernel/cpu can't import either without
	// creating a cycle; each owning package installs its own handle here
	// at boot and type-asserts it back out through its own accessor
	// (sched.Of, event.Of), the same role the original's untyped
	// forward-declared Scheduler*/List fields play in C.
	Scheduler any
	Events    any
}

var (
	records []*Record
	current *Record
)

// Register appends r to the set of known CPUs and returns its index,
// mirroring the original's cpus[]/cpu_count pair. Call once per CPU during
// boot, in the order CPUs come up; index 0 is the bootstrap processor.
func Register(r *Record) int {
	records = append(records, r)
	return len(records) - 1
}

// Records returns every registered per-CPU record, in boot order.
func Records() []*Record {
	return records
}

// Count returns the number of registered CPUs.
func Count() int {
	return len(records)
}

// Current returns the calling CPU's record. Panics if none is installed.
func Current() *Record {
	if current == nil {
		panic("cpu: no current record installed")
	}
	return current
}

// SetCurrent installs r as the calling CPU's record. Panics if a record is
// already installed or r is nil, matching tinfo.SetCurrent's guards.
func SetCurrent(r *Record) {
	if r == nil {
		panic("cpu: SetCurrent with nil record")
	}
	if current != nil {
		panic("cpu: a record is already installed")
	}
	current = r
}

// ClearCurrent removes the installed record, so a later SetCurrent can
// install a different one (used by tests between cases).
func ClearCurrent() {
	if current == nil {
		panic("cpu: no current record installed")
	}
	current = nil
}

// IsBSP reports whether r is the bootstrap processor, grounded on
// cpu_is_bsp (seq_id == 0).
func (r *Record) IsBSP() bool {
	return r.SeqID == 0
}
