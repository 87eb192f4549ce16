// Package variablestore implements the FAT-style chained-block allocator
// for arbitrary byte strings (spec §3, §4.3) — the heart of the storage
// engine. Block 0 is a self-describing directory: a packed array of
// little-endian u64 block numbers, one per stored entry, itself an
// ordinary chain.
//
// Grounded on variable_storage::VariableExtent for the block/chain
// algorithms, and on lldb/falloc.go's free-list allocator for the shape of
// "scan for a free unit, else grow by one" (find_free here plays the role
// falloc's free list plays there, simplified to first-fit-no-reclaim per
// spec §4.3).
package variablestore

import (
	"encoding/binary"

	"github.com/bits-and-blooms/bitset"
	"github.com/cznic/mathutil"

	"modernc.org/graphstore/extent"
	"modernc.org/graphstore/internal/xerrors"
)

// Layout constants, fixed by spec §6.
const (
	FATBlockSize = 256
	headerSize   = 4 + 4 + 8 // used, size, next
	usableSize   = FATBlockSize - headerSize

	offUsed = 0
	offSize = 4
	offNext = 8
)

// Store is a VariableStore over an Extent.
type Store struct {
	ext extent.Extent

	// freeHint caches which blocks were last observed used==0, so
	// repeated findFree calls don't always rescan from block 1. It is
	// never persisted and never changes first-fit semantics: findFree
	// still returns the lowest-numbered free block, the hint only lets
	// it skip blocks already known to be occupied (spec §2 domain stack).
	//
	// Apart from blocks added by growth or Preallocate, the hint learns a
	// block is free again only through findFree's fallback scan, since the
	// Store's own API never frees a block. A block can still become free
	// from outside the Store's bookkeeping (direct extent surgery, e.g. a
	// repair/compaction tool), so findFree falls back to a real scan of
	// every block the hint currently claims is occupied before it grows the
	// extent, rather than trusting a stale "occupied" bit forever.
	freeHint      *bitset.BitSet
	freeHintBuilt bool

	// growChunk, if > FATBlockSize, rounds a grow-triggered extent resize
	// up to cover at least this many bytes of fresh blocks at once, so a
	// run of inserts pays the underlying Extent.Resize cost (the expensive
	// part for a file-backed extent) once per chunk instead of once per
	// block. It never changes which block findFree returns, only how often
	// it has to grow the extent to produce one.
	growChunk int64
}

// Create initializes ext as a fresh VariableStore: one FAT block (the
// directory), used=1, size=0, next=0.
func Create(ext extent.Extent) (*Store, error) {
	if err := ext.Resize(FATBlockSize); err != nil {
		return nil, err
	}
	s := &Store{ext: ext}
	s.writeUsed(0, 1)
	s.writeSize(0, 0)
	s.writeNext(0, 0)
	return s, nil
}

// Load reconstructs a Store from an extent previously written by Create.
func Load(ext extent.Extent) (*Store, error) {
	if ext.Len() < FATBlockSize || ext.Len()%FATBlockSize != 0 {
		return nil, &xerrors.ErrInvalidExtentSize{Name: "variablestore.Load", Size: ext.Len()}
	}
	return &Store{ext: ext}, nil
}

func (s *Store) blockCount() int64 { return s.ext.Len() / FATBlockSize }

func (s *Store) blockOffset(b int64) int64 { return b * FATBlockSize }

func (s *Store) readUsed(b int64) uint32 {
	var buf [4]byte
	s.ext.ReadAt(buf[:], s.blockOffset(b)+offUsed)
	return binary.LittleEndian.Uint32(buf[:])
}

func (s *Store) writeUsed(b int64, v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	s.ext.WriteAt(buf[:], s.blockOffset(b)+offUsed)
}

func (s *Store) readSize(b int64) int64 {
	var buf [4]byte
	s.ext.ReadAt(buf[:], s.blockOffset(b)+offSize)
	return int64(binary.LittleEndian.Uint32(buf[:]))
}

func (s *Store) writeSize(b int64, v int64) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(v))
	s.ext.WriteAt(buf[:], s.blockOffset(b)+offSize)
}

func (s *Store) readNext(b int64) uint64 {
	var buf [8]byte
	s.ext.ReadAt(buf[:], s.blockOffset(b)+offNext)
	return binary.LittleEndian.Uint64(buf[:])
}

func (s *Store) writeNext(b int64, next uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], next)
	s.ext.WriteAt(buf[:], s.blockOffset(b)+offNext)
}

func (s *Store) payloadOffset(b int64) int64 { return s.blockOffset(b) + headerSize }

func (s *Store) writePayload(b int64, pos int64, data []byte) {
	s.ext.WriteAt(data, s.payloadOffset(b)+pos)
}

func (s *Store) readPayload(b int64, pos, n int64) []byte {
	buf := make([]byte, n)
	s.ext.ReadAt(buf, s.payloadOffset(b)+pos)
	return buf
}

func (s *Store) initBlock(b int64) {
	s.writeUsed(b, 1)
	s.writeSize(b, 0)
	s.writeNext(b, 0)
	if s.freeHintBuilt {
		s.freeHint.Clear(uint(b))
	}
}

// findFree scans blocks 1..blockCount for the first with used==0,
// consulting freeHint to skip blocks already known occupied. If none is
// free, grows the extent (by growChunk bytes' worth of blocks, or by one
// block if growChunk is unset) and returns the first new block's number.
// The returned block is not yet initialized; callers must initBlock it.
func (s *Store) findFree() (int64, error) {
	s.ensureFreeHint()
	blocks := s.blockCount()

	// Fast path: every block the hint still claims is free.
	for b := int64(1); b < blocks; b++ {
		if !s.freeHint.Test(uint(b)) {
			continue
		}
		if s.readUsed(b) == 0 {
			return b, nil
		}
		s.freeHint.Clear(uint(b))
	}

	// Slow path: the hint only ever learns a block is occupied, so a block
	// freed by something other than this Store (the hint's documented
	// limitation) is invisible to the fast path above. Re-check every block
	// the hint still claims is occupied directly, so the extent never grows
	// while any block is free. Such a block is found only here, when the
	// hint knows of no free block; while it does know of one, the fast path
	// returns that block even if an externally freed block lies below it.
	for b := int64(1); b < blocks; b++ {
		if s.freeHint.Test(uint(b)) {
			continue // already ruled out above
		}
		if s.readUsed(b) == 0 {
			s.freeHint.Set(uint(b))
			return b, nil
		}
	}

	newBlock := blocks
	blocksToAdd := int64(1)
	if s.growChunk > FATBlockSize {
		need := (s.growChunk + FATBlockSize - 1) / FATBlockSize
		if need > blocksToAdd {
			blocksToAdd = need
		}
	}
	if err := s.ext.Resize(s.ext.Len() + blocksToAdd*FATBlockSize); err != nil {
		return 0, err
	}
	if s.freeHintBuilt {
		for b := newBlock; b < newBlock+blocksToAdd; b++ {
			s.freeHint.Set(uint(b))
		}
	}
	return newBlock, nil
}

// SetGrowChunk configures findFree's extent-growth batch size in bytes; see
// the growChunk field comment. Values <= FATBlockSize disable batching, the
// default.
func (s *Store) SetGrowChunk(chunkBytes int64) {
	s.growChunk = chunkBytes
}

// Preallocate grows the store by n additional free FAT blocks up front,
// letting a caller front-load a file-backed extent's resize cost instead of
// paying it block by block as entries are later added.
func (s *Store) Preallocate(n int) error {
	if n <= 0 {
		return nil
	}
	blocks := s.blockCount()
	if err := s.ext.Resize(s.ext.Len() + int64(n)*FATBlockSize); err != nil {
		return err
	}
	s.ensureFreeHint()
	for b := blocks; b < blocks+int64(n); b++ {
		s.freeHint.Set(uint(b))
	}
	return nil
}

// ensureFreeHint lazily builds the free-block bitset by scanning the extent
// once. Rebuilt on first use after Load since the hint is never persisted.
func (s *Store) ensureFreeHint() {
	if s.freeHintBuilt {
		return
	}
	blocks := s.blockCount()
	bs := bitset.New(uint(mathutil.Max(1, int(blocks))))
	for b := int64(1); b < blocks; b++ {
		if s.readUsed(b) == 0 {
			bs.Set(uint(b))
		}
	}
	s.freeHint = bs
	s.freeHintBuilt = true
}

// appendBlock appends data to the chain rooted at head, allocating and
// linking new blocks as needed.
func (s *Store) appendBlock(head int64, data []byte) error {
	block := head
	for len(data) != 0 {
		size := s.readSize(block)
		room := usableSize - size
		n := int64(len(data))
		if n > room {
			n = room
		}
		if n > 0 {
			s.writePayload(block, size, data[:n])
			s.writeSize(block, size+n)
			data = data[n:]
		}
		if len(data) == 0 {
			return nil
		}
		next := s.readNext(block)
		if next == 0 {
			nb, err := s.findFree()
			if err != nil {
				return err
			}
			s.initBlock(nb)
			s.writeNext(block, uint64(nb))
			next = uint64(nb)
		}
		block = int64(next)
	}
	return nil
}

// chainLen sums the size field across the whole chain rooted at head.
func (s *Store) chainLen(head int64) int64 {
	var total int64
	block := head
	for {
		total += s.readSize(block)
		next := s.readNext(block)
		if next == 0 {
			return total
		}
		block = int64(next)
	}
}

// readRange returns length bytes starting at logical offset start within
// the chain rooted at head.
func (s *Store) readRange(head int64, start, length int64) []byte {
	out := make([]byte, 0, length)
	block := head
	traversed := int64(0)
	for int64(len(out)) < length {
		size := s.readSize(block)
		blockStart := traversed
		blockEnd := traversed + size
		if start < blockEnd {
			from := start - blockStart
			if from < 0 {
				from = 0
			}
			avail := size - from
			need := length - int64(len(out))
			n := avail
			if n > need {
				n = need
			}
			if n > 0 {
				out = append(out, s.readPayload(block, from, n)...)
				start += n
			}
		}
		traversed = blockEnd
		if int64(len(out)) >= length {
			break
		}
		next := s.readNext(block)
		if next == 0 {
			break
		}
		block = int64(next)
	}
	return out
}

// concatChain reads the whole chain rooted at head.
func (s *Store) concatChain(head int64) []byte {
	return s.readRange(head, 0, s.chainLen(head))
}

// directoryLen reports the current directory length in bytes (block 0's
// chain length), always a multiple of 8.
func (s *Store) directoryLen() int64 { return s.chainLen(0) }

// Len reports the number of entries currently stored.
func (s *Store) Len() uint64 { return uint64(s.directoryLen() / 8) }

func (s *Store) findKeyHead(key uint64) (int64, error) {
	dirLen := s.directoryLen()
	if int64(key)*8+8 > dirLen {
		return 0, &xerrors.ErrInvalidKey{Key: key}
	}
	buf := s.readRange(0, int64(key)*8, 8)
	return int64(binary.LittleEndian.Uint64(buf)), nil
}

// AddEntry stores data under a freshly allocated, densely increasing key.
func (s *Store) AddEntry(data []byte) (uint64, error) {
	key := s.Len()

	f, err := s.findFree()
	if err != nil {
		return 0, err
	}
	s.initBlock(f)
	if err := s.appendBlock(f, data); err != nil {
		return 0, err
	}

	var keyBuf [8]byte
	binary.LittleEndian.PutUint64(keyBuf[:], uint64(f))
	if err := s.appendBlock(0, keyBuf[:]); err != nil {
		return 0, err
	}
	return key, nil
}

// GetEntry returns the byte string stored under key.
func (s *Store) GetEntry(key uint64) ([]byte, error) {
	head, err := s.findKeyHead(key)
	if err != nil {
		return nil, err
	}
	return s.concatChain(head), nil
}

// ContainsKey reports whether key names a live entry.
func (s *Store) ContainsKey(key uint64) bool {
	return int64(key)*8 < s.directoryLen()
}

// WriteEntry overwrites (or appends, extending the chain as needed)
// starting at logical offset inside the value named by key.
//
// It is a precondition violation — a programming error, per spec §7 — to
// write starting strictly beyond the end of the value's last block; that
// condition panics rather than returning an error.
func (s *Store) WriteEntry(key uint64, offset int64, data []byte) error {
	if offset < 0 {
		return &xerrors.ErrINVAL{Name: "variablestore.WriteEntry", Arg: offset}
	}
	head, err := s.findKeyHead(key)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	block := head
	traversed := int64(0)
	for {
		size := s.readSize(block)
		if offset >= traversed && offset <= traversed+size {
			pos := offset - traversed
			room := usableSize - pos
			n := int64(len(data))
			if n > room {
				n = room
			}
			s.writePayload(block, pos, data[:n])
			newSize := size
			if pos+n > newSize {
				newSize = pos + n
			}
			s.writeSize(block, newSize)
			data = data[n:]
			if len(data) == 0 {
				return nil
			}

			next := s.readNext(block)
			if next == 0 {
				nb, err := s.findFree()
				if err != nil {
					return err
				}
				s.initBlock(nb)
				s.writeNext(block, uint64(nb))
				next = uint64(nb)
			}
			traversed += usableSize
			offset = traversed
			block = int64(next)
			continue
		}

		next := s.readNext(block)
		if next == 0 {
			panic("variablestore: write offset beyond end of chain")
		}
		traversed += size
		block = int64(next)
	}
}

// IsConsistent verifies the directory invariants from spec §4.3: the
// directory payload length is a multiple of 8, and every directory entry
// references a block number strictly inside the extent other than the
// directory's own block 0. Primarily a test
// affordance.
func (s *Store) IsConsistent() bool {
	dirLen := s.directoryLen()
	if dirLen%8 != 0 {
		return false
	}
	blocks := s.blockCount()
	n := dirLen / 8
	for i := int64(0); i < n; i++ {
		buf := s.readRange(0, i*8, 8)
		b := int64(binary.LittleEndian.Uint64(buf))
		if b <= 0 || b >= blocks {
			return false
		}
	}
	return true
}
