package graph

import (
	"testing"
)

type person struct {
	Age  int32  `graph:"fixed"`
	Name string `graph:"variable"`
}

func TestInsertGetRoundTrip(t *testing.T) {
	g, err := Open(MemOpener(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := g.Register(person{}); err != nil {
		t.Fatal(err)
	}

	key, err := g.Insert(person{Age: 30, Name: "Ada"})
	if err != nil {
		t.Fatal(err)
	}

	var got person
	if err := g.Get(key, &got); err != nil {
		t.Fatal(err)
	}
	if got.Age != 30 || got.Name != "Ada" {
		t.Fatalf("got %+v", got)
	}
}

func TestConnectAndNeighbors(t *testing.T) {
	g, err := Open(MemOpener(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := g.Register(person{}); err != nil {
		t.Fatal(err)
	}

	a, err := g.Insert(person{Age: 1, Name: "A"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := g.Insert(person{Age: 2, Name: "B"})
	if err != nil {
		t.Fatal(err)
	}
	c, err := g.Insert(person{Age: 3, Name: "C"})
	if err != nil {
		t.Fatal(err)
	}

	if err := g.Connect(a, b); err != nil {
		t.Fatal(err)
	}
	if err := g.Connect(a, c); err != nil {
		t.Fatal(err)
	}

	neighbors, err := g.Neighbors(a)
	if err != nil {
		t.Fatal(err)
	}
	if len(neighbors) != 2 || neighbors[0] != b || neighbors[1] != c {
		t.Fatalf("neighbors of a = %v, want [%d %d]", neighbors, b, c)
	}

	bNeighbors, err := g.Neighbors(b)
	if err != nil {
		t.Fatal(err)
	}
	if len(bNeighbors) != 1 || bNeighbors[0] != a {
		t.Fatalf("neighbors of b = %v, want [%d]", bNeighbors, a)
	}
}

func TestFileBackedReload(t *testing.T) {
	dir := t.TempDir()

	g, err := Open(FileOpener(dir), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := g.Register(person{}); err != nil {
		t.Fatal(err)
	}
	a, err := g.Insert(person{Age: 42, Name: "Grace"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := g.Insert(person{Age: 7, Name: "Alan"})
	if err != nil {
		t.Fatal(err)
	}
	if err := g.Connect(a, b); err != nil {
		t.Fatal(err)
	}

	g2, err := Open(FileOpener(dir), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := g2.Register(person{}); err != nil {
		t.Fatal(err)
	}

	var got person
	if err := g2.Get(a, &got); err != nil {
		t.Fatal(err)
	}
	if got.Age != 42 || got.Name != "Grace" {
		t.Fatalf("got %+v", got)
	}

	neighbors, err := g2.Neighbors(a)
	if err != nil {
		t.Fatal(err)
	}
	if len(neighbors) != 1 || neighbors[0] != b {
		t.Fatalf("neighbors after reload = %v, want [%d]", neighbors, b)
	}
}

func TestOptionsFixedWidthPreset(t *testing.T) {
	opts := &Options{FixedWidthPresets: map[string]int{"Age": 8}}
	g, err := Open(MemOpener(), opts)
	if err != nil {
		t.Fatal(err)
	}
	if err := g.Register(person{}); err != nil {
		t.Fatal(err)
	}

	key, err := g.Insert(person{Age: 30, Name: "Ada"})
	if err != nil {
		t.Fatal(err)
	}
	var got person
	if err := g.Get(key, &got); err != nil {
		t.Fatal(err)
	}
	if got.Age != 30 || got.Name != "Ada" {
		t.Fatalf("got %+v", got)
	}
}

func TestOptionsRejectsNarrowerPreset(t *testing.T) {
	opts := &Options{FixedWidthPresets: map[string]int{"Age": 1}}
	g, err := Open(MemOpener(), opts)
	if err != nil {
		t.Fatal(err)
	}
	if err := g.Register(person{}); err == nil {
		t.Fatal("expected error: preset narrower than field's required width")
	}
}

func TestOptionsInitialFATBlocksPreallocates(t *testing.T) {
	opts := &Options{InitialFATBlocks: 4}
	g, err := Open(MemOpener(), opts)
	if err != nil {
		t.Fatal(err)
	}
	if err := g.Register(person{}); err != nil {
		t.Fatal(err)
	}
	if g.adjacency.Len() != 0 {
		t.Fatalf("preallocation must not create entries, Len() = %d", g.adjacency.Len())
	}
	key, err := g.Insert(person{Age: 1, Name: "x"})
	if err != nil {
		t.Fatal(err)
	}
	var got person
	if err := g.Get(key, &got); err != nil {
		t.Fatal(err)
	}
}

func TestOptionsRejectsInvalidValues(t *testing.T) {
	if _, err := Open(MemOpener(), &Options{InitialFATBlocks: -1}); err == nil {
		t.Fatal("expected error for negative InitialFATBlocks")
	}
	if _, err := Open(MemOpener(), &Options{MmapGrowChunk: -1}); err == nil {
		t.Fatal("expected error for negative MmapGrowChunk")
	}
}

func TestRegisterRejectsUntaggedType(t *testing.T) {
	type noTags struct {
		X int
	}
	g, err := Open(MemOpener(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := g.Register(noTags{}); err == nil {
		t.Fatal("expected error for struct with no graph-tagged fields")
	}
}

func TestGetUnregisteredTypeMismatch(t *testing.T) {
	type other struct {
		V int32 `graph:"fixed"`
	}
	g, err := Open(MemOpener(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := g.Register(person{}); err != nil {
		t.Fatal(err)
	}
	key, err := g.Insert(person{Age: 1, Name: "x"})
	if err != nil {
		t.Fatal(err)
	}
	var o other
	if err := g.Get(key, &o); err == nil {
		t.Fatal("expected type mismatch error")
	}
}
