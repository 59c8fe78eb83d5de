// Package klog is the kernel's log sink: a level-tagged, timestamped
// line writer plus distinct-caller throttling, grounded on
// original_source's kernel/common/log.c (log/logln) and
// biscuit/src/caller/caller.go's Distinct_caller_t.
package klog

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// Level mirrors LogLevel (LOG_INFO/DEBUG/WARN/ERROR).
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Info:
		return "INFO"
	case Debug:
		return "DEBUG"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ansiColor mirrors log.c's INFO_COLOR/DEBUG_COLOR/WARN_COLOR/ERROR_COLOR.
func (l Level) ansiColor() string {
	switch l {
	case Info:
		return "\033[35m"
	case Warn:
		return "\033[33m"
	case Error:
		return "\033[31m"
	default:
		return "\033[39m"
	}
}

const resetColor = "\033[0m"

// Clock is the minimal time source a timestamped log line needs,
// satisfied by event.Clock without klog importing kernel/event (klog is
// used before a scheduler/event queue exists during boot, and by
// kernel/trap on a fault path that must not depend on either).
type Clock interface {
	Now() uint64
}

var (
	mu    sync.Mutex
	sink  io.Writer = os.Stderr
	clock Clock
)

// Install swaps the sink every log line is written to, grounded on
// log.c writing to the QEMU debug port (0xE9) — ember's stand-in is any
// io.Writer, os.Stderr until Install is called (within this module only
// the tests call it).
func Install(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	sink = w
}

// SetClock installs the time source timestamps are read from. Lines
// logged before this is called carry a zero timestamp, matching log.c's
// own "time_source != nullptr ? time_current() : 0" guard.
func SetClock(c Clock) {
	mu.Lock()
	defer mu.Unlock()
	clock = c
}

// SanitizeBytes maps raw bytes through Latin-1 decoding into a valid Go
// string, grounded on nothing in the original (port_outb only ever sees
// bytes it already produced) but necessary here: the debug(str, len)
// syscall copies arbitrary user bytes in, and an io.Writer sink (unlike
// a raw debug port) assumes valid UTF-8. Latin-1 assigns a Unicode code
// point to every byte value, so this never fails and never drops a
// malformed debug string the way a strict UTF-8 validity check would.
func SanitizeBytes(b []byte) string {
	out, _, err := transform.Bytes(charmap.ISO8859_1.NewDecoder(), b)
	if err != nil {
		return string(b)
	}
	return string(out)
}

func timestamp() (seconds, millis uint64) {
	if clock == nil {
		return 0, 0
	}
	now := clock.Now()
	return now / 1_000_000_000, (now / 1_000_000) % 1000
}

// Logf writes one line tagged with level and tag, grounded on logln.
func Logf(level Level, tag, format string, args ...any) {
	sec, ms := timestamp()
	msg := fmt.Sprintf(format, args...)

	mu.Lock()
	defer mu.Unlock()
	fmt.Fprintf(sink, "%s[%d:%03d] [%s] %s: %s%s\n", level.ansiColor(), sec, ms, level, tag, msg, resetColor)
}

// DistinctCaller records whether a call chain has already logged once,
// grounded on Distinct_caller_t — used to stop a hot fault/retry loop
// from flooding the log with an identical trace on every iteration.
type DistinctCaller struct {
	mu      sync.Mutex
	Enabled bool
	seen    map[uintptr]bool
}

func pcHash(pcs []uintptr) uintptr {
	var h uintptr
	for _, pc := range pcs {
		h ^= pc*1103515245 + 12345
	}
	return h
}

// Distinct reports whether the current call stack is new (not seen
// before), recording it if so. The stack is taken from the caller of Distinct's
// caller upward (runtime.Callers skips itself, Distinct, and the function
// that called Distinct).
func (dc *DistinctCaller) Distinct() bool {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	if !dc.Enabled {
		return true
	}
	if dc.seen == nil {
		dc.seen = make(map[uintptr]bool)
	}

	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	h := pcHash(pcs[:n])
	if dc.seen[h] {
		return false
	}
	dc.seen[h] = true
	return true
}
