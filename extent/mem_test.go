package extent

import (
	"bytes"
	"testing"
)

func TestMemExtentGrowZeroFills(t *testing.T) {
	e := NewMemExtent()
	if err := e.Resize(10); err != nil {
		t.Fatal(err)
	}
	for i := int64(0); i < 10; i++ {
		if got := e.Get(i); got != 0 {
			t.Fatalf("byte %d: got %#x, want 0", i, got)
		}
	}
}

func TestMemExtentResizePreservesPrefix(t *testing.T) {
	e := NewMemExtent()
	if err := e.Resize(5); err != nil {
		t.Fatal(err)
	}
	want := []byte{1, 2, 3, 4, 5}
	e.WriteAt(want, 0)

	if err := e.Resize(3); err != nil {
		t.Fatal(err)
	}
	if err := e.Resize(8); err != nil {
		t.Fatal(err)
	}

	got := make([]byte, 3)
	e.ReadAt(got, 0)
	if !bytes.Equal(got, want[:3]) {
		t.Fatalf("prefix not preserved: got %v, want %v", got, want[:3])
	}
	for i := int64(3); i < 8; i++ {
		if e.Get(i) != 0 {
			t.Fatalf("byte %d not zero after grow past shrink: %#x", i, e.Get(i))
		}
	}
}

func TestMemExtentOutOfRangePanics(t *testing.T) {
	e := NewMemExtent()
	e.Resize(4)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on out-of-range Get")
		}
	}()
	e.Get(4)
}

func TestMemExtentSnapshotSurvivesResize(t *testing.T) {
	e := NewMemExtent()
	e.Resize(4)
	e.WriteAt([]byte{9, 9, 9, 9}, 0)
	snap := e.Snapshot()

	e.Resize(0)
	e.Resize(4)

	if !bytes.Equal(snap, []byte{9, 9, 9, 9}) {
		t.Fatalf("snapshot mutated: %v", snap)
	}
}
