package proc

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"runtime"
	"testing"
	"time"
	"unsafe"

	"ember/kernel/cpu"
	"ember/kernel/defs"
	"ember/kernel/event"
	"ember/kernel/mem"
	"ember/kernel/sched"
	"ember/kernel/vm"
)

func TestMain(m *testing.M) {
	restore := cpu.StubInterrupts()
	code := m.Run()
	restore()
	os.Exit(code)
}

type fakeClock struct{ now uint64 }

func (c *fakeClock) Now() uint64 { return c.now }

type fakeTimer struct{}

func (t *fakeTimer) Oneshot(delay uint64) {}
func (t *fakeTimer) EOI()                 {}

// newTestEnv wires up a kernel address space and a scheduler, the same
// fixture shape kernel/sched's tests use; tests create their own user
// address spaces.
func newTestEnv(t *testing.T, npages int) *mem.PFA {
	t.Helper()
	// InitKernelAddressSpace below takes 257 frames of its own: the PML4
	// and one table for each of its 256 upper-half slots.
	npages += 257

	buf := make([]byte, npages*mem.PageSize+mem.PageSize)
	mem.SetDirectBase(uintptr(unsafe.Pointer(&buf[0])))
	t.Cleanup(func() { mem.SetDirectBase(0) })

	pfa := &mem.PFA{}
	pfa.Seed([]mem.Region{{Base: mem.Pa(mem.PageSize), Length: uint64((npages - 1) * mem.PageSize)}})

	vm.InitKernelAddressSpace(pfa, vm.KernelImage{}, nil)
	t.Cleanup(func() { vm.KernelAS = nil })

	rec := &cpu.Record{TSS: &cpu.TSS{}}
	cpu.SetCurrent(rec)
	t.Cleanup(cpu.ClearCurrent)

	clock := &fakeClock{}
	queue := event.NewQueue(&fakeTimer{}, clock)
	event.Install(rec, queue)

	s := sched.NewScheduler(rec, queue, clock, pfa)
	sched.Install(rec, s)

	return pfa
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for condition")
		}
		runtime.Gosched()
	}
}

func TestCreateRegistersInProcessTable(t *testing.T) {
	newTestEnv(t, 64)
	as := vm.KernelAS

	p := Create(as, "init", nil)
	if p.PID < 0 {
		t.Fatalf("expected a non-negative pid, got %d", p.PID)
	}
	if Lookup(p.PID) != p {
		t.Fatal("Create did not register the process for Lookup")
	}
	if p.Cwd != "/" {
		t.Fatalf("Cwd = %q, want /", p.Cwd)
	}
}

func TestCreateTracksParentChild(t *testing.T) {
	newTestEnv(t, 64)
	parent := Create(vm.KernelAS, "parent", nil)
	child := Create(vm.KernelAS, "child", parent)

	kids := parent.Children()
	if len(kids) != 1 || kids[0] != child {
		t.Fatalf("expected parent to track child, got %v", kids)
	}
	if child.Parent != parent {
		t.Fatal("expected child.Parent to point back at parent")
	}
}

func TestExitRecordsStatus(t *testing.T) {
	newTestEnv(t, 64)
	p := Create(vm.KernelAS, "p", nil)

	if exited, _ := p.Exited(); exited {
		t.Fatal("freshly created process reports exited")
	}
	p.Exit(7)
	exited, code := p.Exited()
	if !exited || code != 7 {
		t.Fatalf("Exited() = %v, %d; want true, 7", exited, code)
	}
}

// buildStaticELF assembles the smallest valid ELF64 image this loader
// accepts: a header, one PT_LOAD segment, and the bytes it loads.
func buildStaticELF(t *testing.T, entry uint64, loadVaddr uint64, payload []byte) []byte {
	t.Helper()

	const ehdrSize = 64
	const phdrSize = 56
	phoff := uint64(ehdrSize)

	buf := make([]byte, ehdrSize+phdrSize+len(payload))

	buf[0], buf[1], buf[2], buf[3] = 0x7F, 'E', 'L', 'F'
	buf[4] = 2 // ELFCLASS64
	buf[5] = 1 // little-endian
	binary.LittleEndian.PutUint32(buf[20:24], 1) // EV_CURRENT
	binary.LittleEndian.PutUint16(buf[18:20], 62) // EM_X86_64
	binary.LittleEndian.PutUint64(buf[24:32], entry)
	binary.LittleEndian.PutUint64(buf[32:40], phoff)
	binary.LittleEndian.PutUint16(buf[54:56], phdrSize)
	binary.LittleEndian.PutUint16(buf[56:58], 1) // phnum

	ph := buf[phoff : phoff+phdrSize]
	binary.LittleEndian.PutUint32(ph[0:4], ptLoad)
	binary.LittleEndian.PutUint32(ph[4:8], pfR|pfW|pfX)
	binary.LittleEndian.PutUint64(ph[8:16], phoff+phdrSize)
	binary.LittleEndian.PutUint64(ph[16:24], loadVaddr)
	binary.LittleEndian.PutUint64(ph[32:40], uint64(len(payload)))
	binary.LittleEndian.PutUint64(ph[40:48], uint64(len(payload)))

	copy(buf[phoff+phdrSize:], payload)
	return buf
}

func TestLoadELFMapsPTLoadSegment(t *testing.T) {
	pfa := newTestEnv(t, 256)
	as := vm.CreateAddressSpace(pfa)

	const loadVaddr = 0x400000
	payload := []byte("hello kernel")
	img, err := LoadELF(as, pfa, bytes.NewReader(buildStaticELF(t, loadVaddr+4, loadVaddr, payload)))
	if err != 0 {
		t.Fatalf("LoadELF failed: %v", err)
	}
	if img.Entry != loadVaddr+4 {
		t.Fatalf("Entry = %#x, want %#x", img.Entry, loadVaddr+4)
	}

	got := make([]byte, len(payload))
	if n := vm.CopyFrom(got, as, loadVaddr); n != len(payload) {
		t.Fatalf("CopyFrom returned %d, want %d", n, len(payload))
	}
	if string(got) != string(payload) {
		t.Fatalf("mapped segment = %q, want %q", got, payload)
	}
}

func TestLoadELFRejectsBadMagic(t *testing.T) {
	pfa := newTestEnv(t, 64)
	as := vm.CreateAddressSpace(pfa)

	bad := buildStaticELF(t, 0x400000, 0x400000, nil)
	bad[0] = 0 // corrupt the magic

	_, err := LoadELF(as, pfa, bytes.NewReader(bad))
	if err != -defs.ENOEXEC {
		t.Fatalf("expected ENOEXEC, got %v", err)
	}
}

func TestBuildInitialStackPlacesArgcArgvEnvp(t *testing.T) {
	pfa := newTestEnv(t, 256)
	as := vm.CreateAddressSpace(pfa)

	img := ELFImage{Entry: 0x400000, PhdrVaddr: 0x400040, PhdrCount: 1, PhdrEntSize: 56}
	sp, err := BuildInitialStack(as, pfa, img, []string{"init", "-v"}, []string{"HOME=/"})
	if err != 0 {
		t.Fatalf("BuildInitialStack failed: %v", err)
	}
	if sp == 0 || sp%16 != 0 {
		t.Fatalf("sp = %#x, want non-zero and 16-byte aligned", sp)
	}

	var argcBuf [8]byte
	if n := vm.CopyFrom(argcBuf[:], as, sp); n != 8 {
		t.Fatalf("failed reading argc back from the built stack")
	}
	if argc := binary.LittleEndian.Uint64(argcBuf[:]); argc != 2 {
		t.Fatalf("argc = %d, want 2", argc)
	}
}

func TestBuildInitialStackRejectsTooManyArgs(t *testing.T) {
	pfa := newTestEnv(t, 64)
	as := vm.CreateAddressSpace(pfa)

	argv := make([]string, defs.EXEC_MAXARGS+1)
	for i := range argv {
		argv[i] = "x"
	}
	_, err := BuildInitialStack(as, pfa, ELFImage{}, argv, nil)
	if err != -defs.E2BIG {
		t.Fatalf("expected E2BIG, got %v", err)
	}
}

type bufOpener map[string][]byte

func (b bufOpener) open(path string) (io.ReaderAt, defs.Err_t) {
	data, ok := b[path]
	if !ok {
		return nil, -defs.ENOENT
	}
	return bytes.NewReader(data), 0
}

// runOnDispatchedThread schedules a kernel thread running body and starts
// the scheduler so body actually executes with a live CurrentThread(),
// the way Exec/Fork expect to be called (from inside a running thread,
// not the bare test goroutine). Scheduling the thread before Start means
// Start's own Yield(Done) dispatches straight into it instead of falling
// back to the idle thread.
func runOnDispatchedThread(t *testing.T, pfa *mem.PFA, body func()) {
	t.Helper()
	sched.ScheduleThread(sched.ThreadKernelCreate(pfa, body, "test-worker"))
	go sched.Start()
}

func TestExecReplacesAddressSpaceAndStartsAThread(t *testing.T) {
	pfa := newTestEnv(t, 256)

	p := Create(vm.CreateAddressSpace(pfa), "init", nil)
	before := p.AddressSpace()

	image := buildStaticELF(t, 0x400000, 0x400000, []byte("ok"))
	opener := bufOpener{"/bin/init": image}

	// Exec never returns on success (it yields Done in place of the
	// calling thread, mirroring exec(2)); its side effects land
	// synchronously before that final yield, so poll for them rather
	// than waiting on a return value.
	runOnDispatchedThread(t, pfa, func() {
		p.Exec(pfa, opener.open, "/bin/init", []string{"init"}, nil)
	})

	waitUntil(t, func() bool { return p.ThreadCount() == 1 })
	if p.AddressSpace() == before {
		t.Fatal("expected Exec to install a new address space")
	}
}

func TestForkCopiesFilesAndAddressSpace(t *testing.T) {
	pfa := newTestEnv(t, 256)
	parent := Create(vm.CreateAddressSpace(pfa), "parent", nil)

	childCh := make(chan *Process, 1)
	runOnDispatchedThread(t, pfa, func() {
		childCh <- parent.Fork(pfa, func() { sched.Yield(sched.Blocked) }, "child")
		sched.Yield(sched.Blocked)
	})

	child := <-childCh
	if child.Parent != parent {
		t.Fatal("expected Fork's child to record the parent")
	}
	if child.AddressSpace() == parent.AddressSpace() {
		t.Fatal("expected Fork to give the child its own address space")
	}
	waitUntil(t, func() bool { return child.ThreadCount() == 1 })
}
