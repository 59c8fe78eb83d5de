// Package stats is the kernel's compile-time-gated counter/cycle
// instrumentation, kept close to biscuit's stats.go: when the Stats/Timing
// flags are off (the default), every operation below is a no-op so the
// instrumentation costs nothing in the common case.
package stats

import (
	"reflect"
	"strconv"
	"strings"
	"sync/atomic"
	"unsafe"
)

// Stats and Timing gate counter/cycle instrumentation at compile time,
// grounded on biscuit's identically named consts.
const Stats = false
const Timing = false

// rdtsc returns the current cycle count when Timing is enabled, or 0
// otherwise. biscuit's version calls runtime.Rdtsc(), a method its own
// forked Go runtime adds and the standard runtime doesn't have; ember has
// no wired RDTSC primitive in kernel/cpu yet, so this always reads 0 —
// consistent with Timing being off by default, and honest about the gap
// rather than inventing an assembly stub nothing calls.
func rdtsc() uint64 {
	return 0
}

// Counter_t is a statistical counter, grounded on biscuit's Counter_t.
type Counter_t int64

// Cycles_t holds a cycle count, grounded on biscuit's Cycles_t.
type Cycles_t int64

// Inc increments the counter when Stats is enabled.
func (c *Counter_t) Inc() {
	if Stats {
		n := (*int64)(unsafe.Pointer(c))
		atomic.AddInt64(n, 1)
	}
}

// Add adds the cycles elapsed since start to the counter when Timing is
// enabled.
func (c *Cycles_t) Add(start uint64) {
	if Timing {
		n := (*int64)(unsafe.Pointer(c))
		atomic.AddInt64(n, int64(rdtsc()-start))
	}
}

// Stats2String renders every Counter_t/Cycles_t field of st as a
// printable string, grounded on biscuit's Stats2String.
func Stats2String(st any) string {
	if !Stats {
		return ""
	}
	v := reflect.ValueOf(st)
	s := ""
	for i := 0; i < v.NumField(); i++ {
		t := v.Field(i).Type().String()
		switch {
		case strings.HasSuffix(t, "Counter_t"):
			n := v.Field(i).Interface().(Counter_t)
			s += "\n\t#" + v.Type().Field(i).Name + ": " + strconv.FormatInt(int64(n), 10)
		case strings.HasSuffix(t, "Cycles_t"):
			n := v.Field(i).Interface().(Cycles_t)
			s += "\n\t#" + v.Type().Field(i).Name + ": " + strconv.FormatInt(int64(n), 10)
		}
	}
	return s + "\n"
}
