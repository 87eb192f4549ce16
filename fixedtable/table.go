// Package fixedtable implements the slotted fixed-width record allocator
// (spec §3, §4.2): a bitmap-prefixed block format over an Extent that hands
// out stable, dense integer keys.
//
// Grounded on dbm/bits.go's byte/bit mask tables for the scan primitives and
// on the original file_table::SizedTable algorithm for block/slot layout —
// with the off-by-one Get bound the design notes call out fixed to
// `block < blockCount`.
package fixedtable

import (
	"encoding/binary"

	"modernc.org/graphstore/extent"
	"modernc.org/graphstore/internal/xerrors"
)

// Layout constants, fixed by spec §6: changing any of these breaks every
// existing on-disk file.
const (
	BitmapBytes   = 255
	BlockCapacity = BitmapBytes * 8 // 2040
	headerSize    = 8
)

// Table is a fixed-width record table over an Extent.
type Table struct {
	ext   extent.Extent
	width int64
}

// blockByteSize is the size in bytes of one (bitmap + slots) block.
func (t *Table) blockByteSize() int64 {
	return BitmapBytes + t.width*BlockCapacity
}

// Create initializes a fresh table over ext with the given fixed record
// width. ext must be empty (Len() == 0); Create resizes it to the header
// and writes the width.
func Create(ext extent.Extent, width int64) (*Table, error) {
	if width <= 0 {
		return nil, &xerrors.ErrINVAL{Name: "fixedtable.Create", Arg: width}
	}
	if err := ext.Resize(headerSize); err != nil {
		return nil, err
	}
	var hdr [headerSize]byte
	binary.LittleEndian.PutUint64(hdr[:], uint64(width))
	ext.WriteAt(hdr[:], 0)
	return &Table{ext: ext, width: width}, nil
}

// Load reconstructs a Table from an extent previously written by Create,
// validating that its size matches the layout implied by the stored width.
func Load(ext extent.Extent) (*Table, error) {
	if ext.Len() < headerSize {
		return nil, &xerrors.ErrInvalidExtentSize{Name: "fixedtable.Load", Size: ext.Len()}
	}
	var hdr [headerSize]byte
	ext.ReadAt(hdr[:], 0)
	width := int64(binary.LittleEndian.Uint64(hdr[:]))
	t := &Table{ext: ext, width: width}
	if width <= 0 || (ext.Len()-headerSize)%t.blockByteSize() != 0 {
		return nil, &xerrors.ErrInvalidExtentSize{Name: "fixedtable.Load", Size: ext.Len()}
	}
	return t, nil
}

// Width reports the fixed record width this table was created with.
func (t *Table) Width() int64 { return t.width }

func (t *Table) blockCount() int64 {
	return (t.ext.Len() - headerSize) / t.blockByteSize()
}

func (t *Table) bitmapOffset(block int64) int64 {
	return headerSize + block*t.blockByteSize()
}

func (t *Table) slotOffset(block, slot int64) int64 {
	return t.bitmapOffset(block) + BitmapBytes + slot*t.width
}

// firstZeroBit scans the BitmapBytes-byte bitmap at the given block for the
// first clear bit, bytes in order and, within a non-0xFF byte, bits
// LSB-first — the ordering spec §4.2 requires. Returns -1 if the block is
// full.
func (t *Table) firstZeroBit(block int64) int64 {
	off := t.bitmapOffset(block)
	var buf [BitmapBytes]byte
	t.ext.ReadAt(buf[:], off)
	for bi, b := range buf {
		if b == 0xff {
			continue
		}
		for j := 0; j < 8; j++ {
			if b&(1<<uint(j)) == 0 {
				return int64(bi)*8 + int64(j)
			}
		}
	}
	return -1
}

func (t *Table) setBit(block, slot int64) {
	byteOff := t.bitmapOffset(block) + slot/8
	b := t.ext.Get(byteOff)
	b |= 1 << uint(slot%8)
	t.ext.Set(byteOff, b)
}

func (t *Table) testBit(block, slot int64) bool {
	byteOff := t.bitmapOffset(block) + slot/8
	b := t.ext.Get(byteOff)
	return b&(1<<uint(slot%8)) != 0
}

// Insert stores rec, which must have length exactly Width(), and returns
// its newly assigned key. Scans existing blocks for a free slot (first-fit
// over the bitmap); if none is free, grows the extent by one block.
func (t *Table) Insert(rec []byte) (uint64, error) {
	if int64(len(rec)) != t.width {
		return 0, &xerrors.ErrINVAL{Name: "fixedtable.Insert", Arg: len(rec)}
	}

	blocks := t.blockCount()
	for b := int64(0); b < blocks; b++ {
		slot := t.firstZeroBit(b)
		if slot < 0 {
			continue
		}
		t.ext.WriteAt(rec, t.slotOffset(b, slot))
		t.setBit(b, slot)
		return uint64(b*BlockCapacity + slot), nil
	}

	// No free slot anywhere: grow by one block.
	block := blocks
	oldLen := t.ext.Len()
	if err := t.ext.Resize(oldLen + t.blockByteSize()); err != nil {
		return 0, err
	}
	// New bytes from Resize are zero-filled already; only the record and
	// bit 0 need writing.
	t.ext.WriteAt(rec, t.slotOffset(block, 0))
	t.setBit(block, 0)
	return uint64(block * BlockCapacity), nil
}

// Get returns the record stored at key. Fails with ErrKeyOutOfRange if the
// key's block does not exist, or ErrKeyUnused if the slot's bitmap bit is
// clear.
func (t *Table) Get(key uint64) ([]byte, error) {
	block := int64(key) / BlockCapacity
	slot := int64(key) % BlockCapacity
	if block < 0 || block >= t.blockCount() {
		return nil, &xerrors.ErrKeyOutOfRange{Key: key}
	}
	if !t.testBit(block, slot) {
		return nil, &xerrors.ErrKeyUnused{Key: key}
	}
	rec := make([]byte, t.width)
	t.ext.ReadAt(rec, t.slotOffset(block, slot))
	return rec, nil
}
