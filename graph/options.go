package graph

import "fmt"

// Options configures a Graph at Open time. It follows dbm.Options'
// functional-defaults-plus-check style: a struct of knobs, a nil Options
// always means "the zero-value defaults", and check validates the struct the
// first time it's used and records that it did. Open keeps the caller's
// pointer rather than a copy, so later changes to the struct are seen by the
// Graph and are not validated again.
type Options struct {
	// FixedWidthPresets overrides the on-disk width reflectSchema would
	// otherwise infer for a kindFixed field, keyed by the Go struct field
	// name. Only useful to widen a field beyond what its Go type implies
	// (e.g. reserving room to grow an array field later); it can never
	// narrow a field below the width its type requires.
	FixedWidthPresets map[string]int

	// InitialFATBlocks preallocates this many free blocks, via
	// variablestore.Store.Preallocate, in every VariableStore this Graph
	// creates fresh (adjacency, and each kindVariable field store). It has
	// no effect on a store Load reopens, since preallocating into an
	// existing store's block numbering would not be observable as "free"
	// by anything that already recorded those blocks as absent.
	InitialFATBlocks int

	// MmapGrowChunk sets variablestore.Store.SetGrowChunk on every
	// VariableStore this Graph opens, fresh or reloaded. It batches the
	// underlying Extent.Resize calls findFree triggers, which matters most
	// for a FileExtent's unmap/grow-file/remap dance.
	MmapGrowChunk int64

	checked bool
}

// check validates o in place and marks it checked, so repeated calls (one
// per Open given the same Options) do the validation work once.
func (o *Options) check() error {
	if o.checked {
		return nil
	}
	if o.InitialFATBlocks < 0 {
		return fmt.Errorf("graph: Options.InitialFATBlocks must be >= 0, got %d", o.InitialFATBlocks)
	}
	if o.MmapGrowChunk < 0 {
		return fmt.Errorf("graph: Options.MmapGrowChunk must be >= 0, got %d", o.MmapGrowChunk)
	}
	for name, w := range o.FixedWidthPresets {
		if w <= 0 {
			return fmt.Errorf("graph: Options.FixedWidthPresets[%q] must be > 0, got %d", name, w)
		}
	}
	o.checked = true
	return nil
}
