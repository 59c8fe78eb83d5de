package trap

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"ember/kernel/cpu"
	"ember/kernel/klog"
)

func TestMain(m *testing.M) {
	restore := cpu.StubInterrupts()
	code := m.Run()
	restore()
	os.Exit(code)
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// withCleanState snapshots and restores every package var a test might
// mutate, so tests can run in any order without bleeding handler
// registrations or symbol tables into one another.
func withCleanState(t *testing.T) {
	t.Helper()
	savedHandlers := handlers
	savedSymtab := symtab
	savedStorm := fatalStorm
	t.Cleanup(func() {
		handlers = savedHandlers
		symtab = savedSymtab
		fatalStorm = savedStorm
	})
	fatalStorm = &klog.DistinctCaller{Enabled: true}
}

func recoverPanic(t *testing.T, fn func()) (recovered any) {
	t.Helper()
	defer func() { recovered = recover() }()
	fn()
	return nil
}

func TestDispatchRoutesToRegisteredHandler(t *testing.T) {
	withCleanState(t)
	klog.Install(discardWriter{})

	var gotFrame *Frame
	SetHandler(40, func(f *Frame) { gotFrame = f })

	f := &Frame{IntNumber: 40, RIP: 0x1000}
	Dispatch(f)

	if gotFrame != f {
		t.Fatal("expected the registered handler to receive the dispatched frame")
	}
}

func TestDispatchPanicsForUnhandledVector(t *testing.T) {
	withCleanState(t)
	var buf bytes.Buffer
	klog.Install(&buf)
	t.Cleanup(func() { klog.Install(discardWriter{}) })

	r := recoverPanic(t, func() { Dispatch(&Frame{IntNumber: 99}) })
	if r == nil {
		t.Fatal("expected Dispatch to panic on an unregistered vector")
	}
	if !strings.Contains(buf.String(), "no interrupt handler for int_number: 99") {
		t.Fatalf("expected fault log to name the vector, got %q", buf.String())
	}
}

func TestRequestVectorSkipsExceptionRange(t *testing.T) {
	withCleanState(t)

	v, ok := RequestVector(func(*Frame) {})
	if !ok {
		t.Fatal("expected a free vector")
	}
	if v <= ExceptionsEnd {
		t.Fatalf("expected a vector above the exception range, got %d", v)
	}
}

func TestRequestVectorReportsExhaustion(t *testing.T) {
	withCleanState(t)

	for i := 0; i < VectorCount; i++ {
		RequestVector(func(*Frame) {})
	}
	if _, ok := RequestVector(func(*Frame) {}); ok {
		t.Fatal("expected RequestVector to fail once every dynamic vector is taken")
	}
}

func TestGPHandlerLogsDecodedErrorCode(t *testing.T) {
	withCleanState(t)
	var buf bytes.Buffer
	klog.Install(&buf)
	t.Cleanup(func() { klog.Install(discardWriter{}) })

	// Tbl=01 (IDT), index=5, external=1: err = (5<<3)|(1<<1)|1 = 0x2B.
	r := recoverPanic(t, func() {
		gpHandler(&Frame{IntNumber: VectorGeneralProtection, ErrCode: 0x2B})
	})
	if r == nil {
		t.Fatal("expected gpHandler to panic")
	}
	out := buf.String()
	if !strings.Contains(out, "GENERAL PROTECTION FAULT") || !strings.Contains(out, "IDT") {
		t.Fatalf("unexpected fault report: %q", out)
	}
}

func TestPageFaultHandlerLogsFaultingAddress(t *testing.T) {
	withCleanState(t)
	var buf bytes.Buffer
	klog.Install(&buf)
	t.Cleanup(func() { klog.Install(discardWriter{}) })

	r := recoverPanic(t, func() {
		pfHandler(&Frame{IntNumber: VectorPageFault, RIP: 0xdeadbeef, ErrCode: 0x2})
	})
	if r == nil {
		t.Fatal("expected pfHandler to panic")
	}
	if !strings.Contains(buf.String(), "0xdeadbeef") {
		t.Fatalf("expected the fault address in the report, got %q", buf.String())
	}
}

func TestInitInstallsDefaultFaultHandlers(t *testing.T) {
	withCleanState(t)
	klog.Install(discardWriter{})
	Init()

	if r := recoverPanic(t, func() { Dispatch(&Frame{IntNumber: VectorGeneralProtection}) }); r == nil {
		t.Fatal("expected the installed #GP handler to be fatal")
	}
	if r := recoverPanic(t, func() { Dispatch(&Frame{IntNumber: VectorPageFault}) }); r == nil {
		t.Fatal("expected the installed #PF handler to be fatal")
	}
}

func TestLookupResolvesNearestSymbolBelowRIP(t *testing.T) {
	withCleanState(t)
	InstallSymbols([]Symbol{
		{Addr: 0x1000, Type: 'T', Name: "kmain"},
		{Addr: 0x2000, Type: 'T', Name: "sched_yield"},
	})

	sym, off, ok := Lookup(0x2010)
	if !ok || sym.Name != "sched_yield" || off != 0x10 {
		t.Fatalf("expected sched_yield+0x10, got %+v off=%#x ok=%v", sym, off, ok)
	}

	if _, _, ok := Lookup(0x500); ok {
		t.Fatal("expected no symbol below the first installed address")
	}
}

func TestLookupWithNoSymbolTableInstalled(t *testing.T) {
	withCleanState(t)
	InstallSymbols(nil)

	if _, _, ok := Lookup(0x1234); ok {
		t.Fatal("expected Lookup to fail with no symbol table installed")
	}
}

func TestSymLookupDemanglesKnownName(t *testing.T) {
	withCleanState(t)
	InstallSymbols([]Symbol{{Addr: 0x1000, Type: 'T', Name: "_ZN4ember4bootE"}})

	name, off := symLookup(0x1004)
	if name == "" || off != 4 {
		t.Fatalf("expected a resolved name at offset 4, got %q off=%d", name, off)
	}
}

func TestDecodeFaultingInstructionDecodesNOP(t *testing.T) {
	f := &Frame{RIP: 0x1000, Instr: []byte{0x90}}
	line, ok := decodeFaultingInstruction(f)
	if !ok {
		t.Fatal("expected a single NOP byte to decode")
	}
	if !strings.Contains(line, "nop") {
		t.Fatalf("expected a nop mnemonic, got %q", line)
	}
}

func TestDecodeFaultingInstructionWithNoBytes(t *testing.T) {
	if _, ok := decodeFaultingInstruction(&Frame{}); ok {
		t.Fatal("expected no decode when Instr is empty")
	}
}

func TestLogStackTraceIncludesFaultPC(t *testing.T) {
	withCleanState(t)
	var buf bytes.Buffer
	klog.Install(&buf)
	t.Cleanup(func() { klog.Install(discardWriter{}) })
	InstallSymbols([]Symbol{{Addr: 0x4000, Type: 'T', Name: "fault_entry"}})

	logStackTrace(&Frame{RIP: 0x4010})

	out := buf.String()
	if !strings.Contains(out, "fault_entry+16") {
		t.Fatalf("expected the resolved fault symbol in the trace, got %q", out)
	}
}

// fakeStack backs StackReader with an in-memory map from address to word,
// simulating a call chain of pushed {rbp, rip} pairs without any real
// virtual memory behind it.
type fakeStack map[uintptr]uint64

func (s fakeStack) read(addr uintptr) (uint64, bool) {
	w, ok := s[addr]
	return w, ok
}

func TestBacktraceWalksSavedRBPChain(t *testing.T) {
	withCleanState(t)
	var buf bytes.Buffer
	klog.Install(&buf)
	t.Cleanup(func() { klog.Install(discardWriter{}); InstallStackReader(nil) })
	InstallSymbols([]Symbol{
		{Addr: 0x2000, Type: 'T', Name: "caller_of_caller"},
		{Addr: 0x3000, Type: 'T', Name: "caller"},
	})

	// Frame at rbp=0x100: saved rbp=0x200, return rip=0x3010 ("caller").
	// Frame at rbp=0x200: return rip=0x2020 ("caller_of_caller"), saved
	// rbp=0 — the chain terminates there, matching the original's
	// `frame &&` loop guard.
	stack := fakeStack{
		0x108: 0x3010, // rip at rbp+8
		0x100: 0x200,  // saved rbp
		0x208: 0x2020,
		0x200: 0, // chain terminates here
	}
	InstallStackReader(stack.read)

	Backtrace(0x100)

	out := buf.String()
	if !strings.Contains(out, "caller+16") {
		t.Fatalf("expected the first frame's symbol resolved, got %q", out)
	}
	if !strings.Contains(out, "caller_of_caller+32") {
		t.Fatalf("expected the second frame's symbol resolved, got %q", out)
	}
}

func TestBacktraceWithNoReaderInstalledIsANoop(t *testing.T) {
	withCleanState(t)
	var buf bytes.Buffer
	klog.Install(&buf)
	t.Cleanup(func() { klog.Install(discardWriter{}) })
	InstallStackReader(nil)

	Backtrace(0x100)

	if buf.Len() != 0 {
		t.Fatalf("expected no output with no stack reader installed, got %q", buf.String())
	}
}

func TestBacktraceStopsAtUnmappedFrame(t *testing.T) {
	withCleanState(t)
	var buf bytes.Buffer
	klog.Install(&buf)
	t.Cleanup(func() { klog.Install(discardWriter{}); InstallStackReader(nil) })
	InstallStackReader(fakeStack{}.read) // every address reads ok=false

	Backtrace(0x100)

	if buf.Len() != 0 {
		t.Fatalf("expected no output when the first frame is unreadable, got %q", buf.String())
	}
}
