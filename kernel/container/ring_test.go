package container

import "testing"

func TestRingWriteRead(t *testing.T) {
	r := NewRing(8)
	n := r.Write([]byte("hello"))
	if n != 5 {
		t.Fatalf("expected 5 bytes written, got %d", n)
	}
	if r.Used() != 5 || r.Left() != 3 {
		t.Fatalf("unexpected used/left: %d/%d", r.Used(), r.Left())
	}

	buf := make([]byte, 5)
	n = r.Read(buf)
	if n != 5 || string(buf) != "hello" {
		t.Fatalf("expected hello, got %q (n=%d)", buf, n)
	}
	if !r.Empty() {
		t.Fatal("expected ring to be empty after full read")
	}
}

func TestRingFullStopsWrite(t *testing.T) {
	r := NewRing(4)
	n := r.Write([]byte("abcdef"))
	if n != 4 {
		t.Fatalf("expected short write of 4, got %d", n)
	}
	if !r.Full() {
		t.Fatal("expected ring to report full")
	}
}

func TestRingWrapsAroundAfterPartialDrain(t *testing.T) {
	r := NewRing(4)
	r.Write([]byte("ab"))
	out := make([]byte, 1)
	r.Read(out)
	r.Write([]byte("cd"))

	got := make([]byte, 3)
	n := r.Read(got)
	if n != 3 || string(got) != "bcd" {
		t.Fatalf("expected bcd, got %q (n=%d)", got, n)
	}
}
