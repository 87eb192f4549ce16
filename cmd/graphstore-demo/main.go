// Command graphstore-demo exercises the three storage layers and the graph
// façade against a file-backed directory (or, with -dir unset, against
// in-memory extents), the way perf_target/src/main.rs exercised
// DatabaseTable against an in-memory one: insert a batch of records, link
// them in a chain, read every one back, and report whether they all
// round-tripped.
//
// Grounded on lldb/lab/1/main.go's flag+log CLI shape; this package is the
// only place in the module that uses either.
package main

import (
	"flag"
	"fmt"
	"log"

	"modernc.org/graphstore/graph"
)

var (
	dir              = flag.String("dir", "", "directory to store graph data in (empty: in-memory, discarded on exit)")
	n                = flag.Int("n", 1000, "number of nodes to insert")
	initialFATBlocks = flag.Int("initial-fat-blocks", 0, "preallocate this many free blocks in every freshly created variable-width store")
	mmapGrowChunk    = flag.Int64("mmap-grow-chunk", 0, "batch variable-width store extent growth to at least this many bytes per resize")
)

type person struct {
	Age  int32  `graph:"fixed"`
	Name string `graph:"variable"`
}

func main() {
	flag.Parse()

	var opener graph.Opener
	if *dir == "" {
		opener = graph.MemOpener()
	} else {
		opener = graph.FileOpener(*dir)
	}
	opts := &graph.Options{
		InitialFATBlocks: *initialFATBlocks,
		MmapGrowChunk:    *mmapGrowChunk,
	}
	g, err := graph.Open(opener, opts)
	if err != nil {
		log.Fatalf("graphstore-demo: open: %v", err)
	}
	if err := g.Register(person{}); err != nil {
		log.Fatalf("graphstore-demo: register: %v", err)
	}

	keys := make([]graph.NodeKey, *n)
	for i := 0; i < *n; i++ {
		key, err := g.Insert(person{Age: int32(i), Name: fmt.Sprintf("node-%d", i)})
		if err != nil {
			log.Fatalf("graphstore-demo: insert %d: %v", i, err)
		}
		keys[i] = key
		if i > 0 {
			if err := g.Connect(keys[i-1], keys[i]); err != nil {
				log.Fatalf("graphstore-demo: connect %d: %v", i, err)
			}
		}
	}

	var mismatches int
	for i, key := range keys {
		var got person
		if err := g.Get(key, &got); err != nil {
			log.Fatalf("graphstore-demo: get %d: %v", i, err)
		}
		if got.Age != int32(i) || got.Name != fmt.Sprintf("node-%d", i) {
			mismatches++
		}
	}

	log.Printf("inserted %d nodes, %d mismatches on readback", *n, mismatches)
}
