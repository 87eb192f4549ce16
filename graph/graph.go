// Package graph is the supplementary façade spec.md §1 treats as an
// external collaborator: it consumes extent, fixedtable and variablestore
// through their public operations only, hashing record-type and field
// names into the stable identifiers those layers use as table/store names.
//
// Grounded on the original graph::TableManager / table_manager::backed
// wiring (one VariableStore for adjacency, one FixedTable per record type
// for locator records, one FixedTable/VariableStore per field hash) and on
// traits::{NodeHash, NodeElementHash} for the hashing role, here played by
// xxhash instead of the original's ad hoc hash derivation.
package graph

import (
	"encoding/binary"
	"fmt"
	"reflect"

	"modernc.org/graphstore/extent"
	"modernc.org/graphstore/fixedtable"
	"modernc.org/graphstore/variablestore"
)

// adjacency entry layout: typeHash(8) | locatorKey(8) | neighborCount(4) |
// neighborKey(8) * neighborCount. This is the "(locator-key, type-hash,
// adjacency)" tuple spec.md §2's data flow names, all in one VariableStore
// entry so a node's public identity is a single opaque VariableStore key.
const (
	adjTypeOff   = 0
	adjLocOff    = 8
	adjCountOff  = 16
	adjNeighOff  = 20
	adjNeighSize = 8
)

// NodeKey is the opaque handle returned by Insert and consumed by Get,
// Connect and Neighbors — spec.md §1's "retrieve records by opaque keys".
type NodeKey uint64

// Opener creates or reopens the Extent to use for a named persistent
// structure ("adjacency", or a field/type hash hex string). Callers supply
// MemOpener for a throwaway in-memory graph or FileOpener for a
// file-backed one.
type Opener func(name string) (extent.Extent, error)

// MemOpener returns an Opener that hands out fresh in-memory extents,
// independent across names.
func MemOpener() Opener {
	return func(string) (extent.Extent, error) {
		return extent.NewMemExtent(), nil
	}
}

// Graph is a minimal typed graph store built on top of the three core
// storage layers.
type Graph struct {
	open Opener
	opts *Options

	adjacency *variablestore.Store

	schemasByType map[reflect.Type]*nodeSchema
	schemasByHash map[uint64]*nodeSchema

	fixedTables map[uint64]*fixedtable.Table
	varStores   map[uint64]*variablestore.Store
	locators    map[uint64]*fixedtable.Table // keyed by NodeHash
}

// Open creates (or reopens, if the opener returns non-empty extents) a
// Graph. Callers must Register every record type they intend to use before
// calling Insert/Get for it. opts may be nil, meaning every knob defaults to
// its zero value (no width overrides, no preallocation, no resize batching).
func Open(open Opener, opts *Options) (*Graph, error) {
	if opts == nil {
		opts = &Options{}
	}
	if err := opts.check(); err != nil {
		return nil, err
	}

	adjExt, err := open("adjacency")
	if err != nil {
		return nil, err
	}
	adj, created, err := openVariableStore(adjExt, opts)
	if err != nil {
		return nil, err
	}
	if created && opts.InitialFATBlocks > 0 {
		if err := adj.Preallocate(opts.InitialFATBlocks); err != nil {
			return nil, err
		}
	}

	return &Graph{
		open:          open,
		opts:          opts,
		adjacency:     adj,
		schemasByType: map[reflect.Type]*nodeSchema{},
		schemasByHash: map[uint64]*nodeSchema{},
		fixedTables:   map[uint64]*fixedtable.Table{},
		varStores:     map[uint64]*variablestore.Store{},
		locators:      map[uint64]*fixedtable.Table{},
	}, nil
}

// openVariableStore opens or creates the VariableStore backing e, reporting
// whether it was freshly created so callers can decide whether
// preallocation still makes sense. opts.MmapGrowChunk applies either way,
// since it only affects future grows.
func openVariableStore(e extent.Extent, opts *Options) (*variablestore.Store, bool, error) {
	created := e.Len() == 0
	var st *variablestore.Store
	var err error
	if created {
		st, err = variablestore.Create(e)
	} else {
		st, err = variablestore.Load(e)
	}
	if err != nil {
		return nil, false, err
	}
	if opts.MmapGrowChunk > 0 {
		st.SetGrowChunk(opts.MmapGrowChunk)
	}
	return st, created, nil
}

func openFixedTable(e extent.Extent, width int64) (*fixedtable.Table, error) {
	if e.Len() == 0 {
		return fixedtable.Create(e, width)
	}
	return fixedtable.Load(e)
}

// Register reflects over sample's type (a struct, passed by value or
// pointer) and provisions the backing tables/stores for its graph-tagged
// fields. It is idempotent for a given type.
func (g *Graph) Register(sample interface{}) error {
	t := reflect.TypeOf(sample)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if _, ok := g.schemasByType[t]; ok {
		return nil
	}

	schema, err := reflectSchema(t)
	if err != nil {
		return err
	}

	for _, fs := range schema.fields {
		switch fs.kind {
		case kindFixed:
			if _, ok := g.fixedTables[fs.hash]; ok {
				continue
			}
			width := fs.width
			if preset, ok := g.opts.FixedWidthPresets[fs.name]; ok {
				if preset < width {
					return fmt.Errorf("graph: FixedWidthPresets[%q] = %d narrower than field's required width %d", fs.name, preset, width)
				}
				width = preset
			}
			e, err := g.open(fmt.Sprintf("field-%016x", fs.hash))
			if err != nil {
				return err
			}
			tbl, err := openFixedTable(e, int64(width))
			if err != nil {
				return err
			}
			g.fixedTables[fs.hash] = tbl
		case kindVariable:
			if _, ok := g.varStores[fs.hash]; ok {
				continue
			}
			e, err := g.open(fmt.Sprintf("field-%016x", fs.hash))
			if err != nil {
				return err
			}
			st, created, err := openVariableStore(e, g.opts)
			if err != nil {
				return err
			}
			if created && g.opts.InitialFATBlocks > 0 {
				if err := st.Preallocate(g.opts.InitialFATBlocks); err != nil {
					return err
				}
			}
			g.varStores[fs.hash] = st
		}
	}

	locExt, err := g.open(fmt.Sprintf("locator-%016x", schema.hash))
	if err != nil {
		return err
	}
	locTbl, err := openFixedTable(locExt, schema.locatorWidth)
	if err != nil {
		return err
	}
	g.locators[schema.hash] = locTbl

	g.schemasByType[t] = schema
	g.schemasByHash[schema.hash] = schema
	return nil
}

// Insert serialises record's graph-tagged fields into their field
// tables/stores, packs the resulting keys into a locator record, and adds
// the node to the adjacency store with an empty neighbor list.
func (g *Graph) Insert(record interface{}) (NodeKey, error) {
	v := reflect.ValueOf(record)
	for v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	schema, ok := g.schemasByType[v.Type()]
	if !ok {
		return 0, fmt.Errorf("graph: type %s not registered", v.Type())
	}

	locator := make([]byte, schema.locatorWidth)
	for i, fs := range schema.fields {
		fv := v.Field(fs.index)
		var key uint64
		switch fs.kind {
		case kindFixed:
			data, err := encodeFixed(fv, int(g.fixedTables[fs.hash].Width()))
			if err != nil {
				return 0, err
			}
			key, err = g.fixedTables[fs.hash].Insert(data)
			if err != nil {
				return 0, err
			}
		case kindVariable:
			var err error
			key, err = g.varStores[fs.hash].AddEntry(encodeVariable(fv))
			if err != nil {
				return 0, err
			}
		}
		binary.LittleEndian.PutUint64(locator[i*8:i*8+8], key)
	}

	locatorKey, err := g.locators[schema.hash].Insert(locator)
	if err != nil {
		return 0, err
	}

	payload := make([]byte, adjNeighOff)
	binary.LittleEndian.PutUint64(payload[adjTypeOff:adjTypeOff+8], schema.hash)
	binary.LittleEndian.PutUint64(payload[adjLocOff:adjLocOff+8], locatorKey)
	// neighborCount defaults to 0, already zeroed.

	nodeKey, err := g.adjacency.AddEntry(payload)
	if err != nil {
		return 0, err
	}
	return NodeKey(nodeKey), nil
}

// Get reconstructs the node stored at key into out, which must be a
// pointer to the registered struct type the node was inserted as.
func (g *Graph) Get(key NodeKey, out interface{}) error {
	raw, err := g.adjacency.GetEntry(uint64(key))
	if err != nil {
		return err
	}
	typeHash := binary.LittleEndian.Uint64(raw[adjTypeOff : adjTypeOff+8])
	locatorKey := binary.LittleEndian.Uint64(raw[adjLocOff : adjLocOff+8])

	schema, ok := g.schemasByHash[typeHash]
	if !ok {
		return fmt.Errorf("graph: node %d has unregistered type hash %x", key, typeHash)
	}

	locator, err := g.locators[schema.hash].Get(locatorKey)
	if err != nil {
		return err
	}

	ov := reflect.ValueOf(out)
	if ov.Kind() != reflect.Ptr || ov.Elem().Type() != schema.typ {
		return fmt.Errorf("graph: Get needs *%s, got %T", schema.typ, out)
	}
	ov = ov.Elem()

	for i, fs := range schema.fields {
		key := binary.LittleEndian.Uint64(locator[i*8 : i*8+8])
		fv := ov.Field(fs.index)
		switch fs.kind {
		case kindFixed:
			data, err := g.fixedTables[fs.hash].Get(key)
			if err != nil {
				return err
			}
			if err := decodeFixed(data, fv); err != nil {
				return err
			}
		case kindVariable:
			data, err := g.varStores[fs.hash].GetEntry(key)
			if err != nil {
				return err
			}
			decodeVariable(data, fv)
		}
	}
	return nil
}

// Connect adds an undirected edge between a and b.
func (g *Graph) Connect(a, b NodeKey) error {
	if err := g.addNeighbor(a, b); err != nil {
		return err
	}
	return g.addNeighbor(b, a)
}

func (g *Graph) addNeighbor(from, to NodeKey) error {
	raw, err := g.adjacency.GetEntry(uint64(from))
	if err != nil {
		return err
	}
	count := binary.LittleEndian.Uint32(raw[adjCountOff : adjCountOff+4])

	var toBuf [adjNeighSize]byte
	binary.LittleEndian.PutUint64(toBuf[:], uint64(to))
	offset := int64(adjNeighOff) + int64(count)*adjNeighSize
	if err := g.adjacency.WriteEntry(uint64(from), offset, toBuf[:]); err != nil {
		return err
	}

	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], count+1)
	return g.adjacency.WriteEntry(uint64(from), adjCountOff, countBuf[:])
}

// Neighbors returns the keys of every node connected to key.
func (g *Graph) Neighbors(key NodeKey) ([]NodeKey, error) {
	raw, err := g.adjacency.GetEntry(uint64(key))
	if err != nil {
		return nil, err
	}
	count := binary.LittleEndian.Uint32(raw[adjCountOff : adjCountOff+4])
	out := make([]NodeKey, count)
	for i := uint32(0); i < count; i++ {
		off := adjNeighOff + int(i)*adjNeighSize
		out[i] = NodeKey(binary.LittleEndian.Uint64(raw[off : off+8]))
	}
	return out, nil
}
