// Package extent implements the byte-addressable, resizable storage
// abstraction that the rest of the graph store is built on (spec §3, §4.1).
//
// Two concrete Extent implementations are provided: MemExtent, a pure
// in-memory extent, and FileExtent, a memory-mapped-file-backed extent.
// Both satisfy the same contract: len, indexed get/set constrained to
// [0, len), and resize that preserves the common prefix and zero-fills on
// growth.
package extent

// Extent is a contiguous, resizable sequence of bytes addressable by
// 0..Len(). Implementations are not safe for concurrent use; each higher
// layer (FixedTable, VariableStore) owns its Extent exclusively.
type Extent interface {
	// Len reports the number of addressable bytes.
	Len() int64

	// Get returns the byte at i. i must be in [0, Len()); violating this
	// is a programming error and Get may panic.
	Get(i int64) byte

	// Set stores b at i. i must be in [0, Len()); violating this is a
	// programming error and Set may panic.
	Set(i int64, b byte)

	// ReadAt copies len(p) bytes starting at off into p. off+len(p) must
	// be <= Len(); violating this is a programming error.
	ReadAt(p []byte, off int64)

	// WriteAt copies p into the extent starting at off. off+len(p) must
	// be <= Len(); violating this is a programming error.
	WriteAt(p []byte, off int64)

	// Resize changes the extent's length to newLen. Bytes in
	// [0, min(old, newLen)) are preserved; bytes added by growth are
	// zero. Resize fails for a negative newLen and, for the file-backed
	// variant, also when an underlying syscall fails.
	Resize(newLen int64) error

	// Snapshot returns a freshly allocated copy of the extent's current
	// [0, Len()) bytes. It never aliases live storage, so the result
	// stays valid across any later Resize. This is the safe replacement
	// for the source's unsafe "drainable" aliasing view (spec §9).
	Snapshot() []byte

	// Close releases the extent's backing resource. For the file-backed
	// variant this flushes and unmaps; for the in-memory variant it is a
	// no-op. Best-effort: implementations swallow unmap errors rather
	// than propagate them, matching the "destructors never throw"
	// discipline of the source.
	Close() error
}
