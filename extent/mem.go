package extent

import (
	"github.com/cznic/mathutil"

	"modernc.org/graphstore/internal/xerrors"
)

// pgBits/pgSize mirror lldb/memfiler.go's page size choice: large enough to
// amortize the map lookup, small enough that a sparsely touched extent (the
// common case for a freshly grown FixedTable block or VariableStore chain)
// doesn't allocate much it never uses.
const (
	pgBits = 12
	pgSize = 1 << pgBits
	pgMask = pgSize - 1
)

var zeroPage [pgSize]byte

// MemExtent is a pure in-memory Extent backed by a sparse map of fixed-size
// pages, the same technique as lldb's MemFiler. Externally it behaves like a
// flat zero-filled byte buffer; internally, untouched regions never
// materialize a page.
type MemExtent struct {
	pages map[int64]*[pgSize]byte
	size  int64
}

var _ Extent = (*MemExtent)(nil)

// NewMemExtent returns an empty in-memory extent.
func NewMemExtent() *MemExtent {
	return &MemExtent{pages: map[int64]*[pgSize]byte{}}
}

func (e *MemExtent) Len() int64 { return e.size }

func (e *MemExtent) checkBounds(i int64) {
	if i < 0 || i >= e.size {
		panic("extent: index out of range")
	}
}

func (e *MemExtent) Get(i int64) byte {
	e.checkBounds(i)
	pg := e.pages[i>>pgBits]
	if pg == nil {
		return 0
	}
	return pg[i&pgMask]
}

func (e *MemExtent) Set(i int64, b byte) {
	e.checkBounds(i)
	pgI := i >> pgBits
	pg := e.pages[pgI]
	if pg == nil {
		if b == 0 {
			return
		}
		pg = new([pgSize]byte)
		e.pages[pgI] = pg
	}
	pg[i&pgMask] = b
}

func (e *MemExtent) ReadAt(p []byte, off int64) {
	if off < 0 || off+int64(len(p)) > e.size {
		panic("extent: ReadAt out of range")
	}
	pgI := off >> pgBits
	pgO := int(off & pgMask)
	rem := len(p)
	for rem != 0 {
		pg := e.pages[pgI]
		var src []byte
		if pg == nil {
			src = zeroPage[pgO:]
		} else {
			src = pg[pgO:]
		}
		n := copy(p[:mathutil.Min(rem, pgSize-pgO)], src)
		p = p[n:]
		rem -= n
		pgI++
		pgO = 0
	}
}

func (e *MemExtent) WriteAt(p []byte, off int64) {
	if off < 0 || off+int64(len(p)) > e.size {
		panic("extent: WriteAt out of range")
	}
	pgI := off >> pgBits
	pgO := int(off & pgMask)
	rem := len(p)
	for rem != 0 {
		pg := e.pages[pgI]
		if pg == nil {
			pg = new([pgSize]byte)
			e.pages[pgI] = pg
		}
		n := copy(pg[pgO:], p)
		p = p[n:]
		rem -= n
		pgI++
		pgO = 0
	}
}

func (e *MemExtent) Resize(newLen int64) error {
	if newLen < 0 {
		return &xerrors.ErrINVAL{Name: "MemExtent.Resize", Arg: newLen}
	}
	switch {
	case newLen < e.size:
		// Zero the tail of the page still straddling the new boundary (its
		// prefix remains live) and drop every page now fully out of range,
		// so a later grow back over this range reads zeros again rather
		// than stale bytes.
		e.zeroRange(newLen, e.size)
		firstDead := (newLen + pgSize - 1) >> pgBits
		lastDead := (e.size + pgSize - 1) >> pgBits
		for pg := firstDead; pg < lastDead; pg++ {
			delete(e.pages, pg)
		}
	case newLen > e.size:
		e.zeroRange(e.size, newLen)
	}
	e.size = newLen
	return nil
}

// zeroRange clears already-materialized pages over [from, to); pages that
// don't exist yet are already implicitly zero and are left unallocated.
func (e *MemExtent) zeroRange(from, to int64) {
	if from >= to {
		return
	}
	pgI := from >> pgBits
	pgO := int(from & pgMask)
	rem := to - from
	for rem != 0 {
		n := int64(pgSize - pgO)
		if n > rem {
			n = rem
		}
		if pg := e.pages[pgI]; pg != nil {
			for i := int64(0); i < n; i++ {
				pg[int64(pgO)+i] = 0
			}
		}
		rem -= n
		pgI++
		pgO = 0
	}
}

func (e *MemExtent) Snapshot() []byte {
	b := make([]byte, e.size)
	if e.size > 0 {
		e.ReadAt(b, 0)
	}
	return b
}

func (e *MemExtent) Close() error { return nil }
