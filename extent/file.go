package extent

import (
	"os"

	"golang.org/x/sys/unix"

	"modernc.org/graphstore/internal/xerrors"
)

// FileExtent is a memory-mapped-file-backed Extent. Grounded on the
// original file_extent implementation's mmap/mremap resize dance (unmap,
// append-extend the file, remap, mremap) and on the mmap-backed stores seen
// across the retrieved corpus (golang.org/x/sys/unix is the common way Go
// code does this). Linux-only: MREMAP_MAYMOVE has no portable equivalent,
// matching the source's direct libc::mremap dependency.
type FileExtent struct {
	path   string
	data   []byte // current mapping, length == mapLen
	mapLen int64  // physical mmap length, always >= 1
	size   int64  // logical length exposed to callers, may be 0
}

var _ Extent = (*FileExtent)(nil)

// NewFileExtent opens (creating if absent) the file at path and maps it.
// An empty file is mapped with a minimum mapping length of one byte, since
// mmap of a zero-length region is illegal; Len() still reports 0 for it.
func NewFileExtent(path string) (*FileExtent, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, &xerrors.StorageFault{Op: path, Kind: xerrors.OpenFailed, Errno: err}
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, &xerrors.StorageFault{Op: path, Kind: xerrors.OpenFailed, Errno: err}
	}
	size := fi.Size()
	mapLen := size
	if mapLen == 0 {
		mapLen = 1
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(mapLen), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, &xerrors.StorageFault{Op: path, Kind: xerrors.MapFailed, Errno: err}
	}

	if err := f.Close(); err != nil {
		unix.Munmap(data)
		return nil, &xerrors.StorageFault{Op: path, Kind: xerrors.CloseFailed, Errno: err}
	}

	return &FileExtent{path: path, data: data, mapLen: mapLen, size: size}, nil
}

func (e *FileExtent) Len() int64 { return e.size }

func (e *FileExtent) checkBounds(i int64) {
	if i < 0 || i >= e.size {
		panic("extent: index out of range")
	}
}

func (e *FileExtent) Get(i int64) byte {
	e.checkBounds(i)
	return e.data[i]
}

func (e *FileExtent) Set(i int64, b byte) {
	e.checkBounds(i)
	e.data[i] = b
}

func (e *FileExtent) ReadAt(p []byte, off int64) {
	if off < 0 || off+int64(len(p)) > e.size {
		panic("extent: ReadAt out of range")
	}
	copy(p, e.data[off:off+int64(len(p))])
}

func (e *FileExtent) WriteAt(p []byte, off int64) {
	if off < 0 || off+int64(len(p)) > e.size {
		panic("extent: WriteAt out of range")
	}
	copy(e.data[off:off+int64(len(p))], p)
}

// Resize implements the spec's grow/shrink policy:
//
//   - growing unmaps the current region, reopens the file in append mode to
//     write the new zero-filled tail, fsyncs it (narrowing, per the design
//     notes, the source's crash window between growing the file on disk and
//     remapping it), remaps the file at its old mapped length, and finally
//     mremaps in place up to the requested length with relocation allowed;
//   - shrinking truncates the file to the new length and then mremaps, so
//     the file's on-disk length always equals the logical length.
//
// A requested length of 0 still maps at least one byte internally; Len()
// reports the logical (possibly zero) length regardless.
func (e *FileExtent) Resize(newLen int64) error {
	if newLen < 0 {
		return &xerrors.ErrINVAL{Name: "FileExtent.Resize", Arg: newLen}
	}

	newMapLen := newLen
	if newMapLen == 0 {
		newMapLen = 1
	}

	if newLen > e.size {
		oldMapLen := e.mapLen
		if err := unix.Munmap(e.data); err != nil {
			return &xerrors.StorageFault{Op: e.path, Kind: xerrors.UnmapFailed, Errno: err}
		}
		e.data = nil

		if err := e.growFile(newLen - e.size); err != nil {
			return err
		}

		f, err := os.OpenFile(e.path, os.O_RDWR, 0o644)
		if err != nil {
			return &xerrors.StorageFault{Op: e.path, Kind: xerrors.OpenFailed, Errno: err}
		}
		data, err := unix.Mmap(int(f.Fd()), 0, int(oldMapLen), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			f.Close()
			return &xerrors.StorageFault{Op: e.path, Kind: xerrors.MapFailed, Errno: err}
		}
		if err := f.Close(); err != nil {
			unix.Munmap(data)
			return &xerrors.StorageFault{Op: e.path, Kind: xerrors.CloseFailed, Errno: err}
		}
		e.data = data
		e.mapLen = oldMapLen
	} else if newLen < e.size {
		// Truncate the on-disk file to match the new logical length too,
		// not just the mapping: growFile's O_APPEND write on a later grow
		// assumes the file's actual length already equals the last logical
		// size, or it would append zeros starting past stale leftover bytes
		// instead of exactly where the logical tail ends.
		if err := os.Truncate(e.path, newLen); err != nil {
			return &xerrors.StorageFault{Op: e.path, Kind: xerrors.WriteShort, Errno: err}
		}
	}

	newData, err := unix.Mremap(e.data, int(newMapLen), unix.MREMAP_MAYMOVE)
	if err != nil {
		return &xerrors.StorageFault{Op: e.path, Kind: xerrors.RemapFailed, Errno: err}
	}
	e.data = newData
	e.mapLen = newMapLen
	e.size = newLen
	return nil
}

// growFile appends n zero bytes to the on-disk file, fsyncing before the
// caller remaps it.
func (e *FileExtent) growFile(n int64) error {
	f, err := os.OpenFile(e.path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return &xerrors.StorageFault{Op: e.path, Kind: xerrors.OpenFailed, Errno: err}
	}
	defer f.Close()

	zeros := make([]byte, minInt64(n, 1<<20))
	for n > 0 {
		chunk := zeros
		if int64(len(chunk)) > n {
			chunk = chunk[:n]
		}
		wn, err := f.Write(chunk)
		if err != nil {
			return &xerrors.StorageFault{Op: e.path, Kind: xerrors.WriteShort, Errno: err}
		}
		if int64(wn) != int64(len(chunk)) {
			return &xerrors.StorageFault{Op: e.path, Kind: xerrors.WriteShort}
		}
		n -= int64(wn)
	}
	return f.Sync()
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// Snapshot returns a freshly allocated copy of [0, Len()). It never aliases
// the live mapping, so it survives a later Resize even though Resize may
// relocate or unmap the mapping out from under any raw pointer.
func (e *FileExtent) Snapshot() []byte {
	b := make([]byte, e.size)
	copy(b, e.data[:e.size])
	return b
}

// Close flushes the mapping to the file and unmaps it. Best effort: any
// flush or unmap error is swallowed, matching the "destructors never throw"
// discipline the source follows.
func (e *FileExtent) Close() error {
	if e.data == nil {
		return nil
	}
	unix.Msync(e.data, unix.MS_SYNC)
	unix.Munmap(e.data)
	e.data = nil
	return nil
}

// Name reports the backing file path, mirroring Filer.Name in lldb.
func (e *FileExtent) Name() string { return e.path }
