// Package xerrors collects the typed error values shared by the storage
// layers. It follows the per-kind struct convention used throughout
// cznic/exp/lldb (ErrINVAL, ErrPERM) rather than sentinel errors, so callers
// can type-switch on the failure and recover the offending value.
//
// No layer here has lldb's BeginUpdate/EndUpdate transaction concept, so
// unlike lldb there is no ErrPERM: every failure mode in this module is
// either a bad argument/size (ErrINVAL, ErrInvalidExtentSize) or a bad key
// (ErrKeyOutOfRange, ErrKeyUnused, ErrInvalidKey), never a state violation.
package xerrors

import "fmt"

// FaultKind names one of the distinct file-backed extent syscall failures
// from spec §7. Each carries the raw OS error code that produced it.
type FaultKind int

const (
	MapFailed FaultKind = iota
	UnmapFailed
	RemapFailed
	OpenFailed
	CloseFailed
	WriteShort
)

func (k FaultKind) String() string {
	switch k {
	case MapFailed:
		return "MapFailed"
	case UnmapFailed:
		return "UnmapFailed"
	case RemapFailed:
		return "RemapFailed"
	case OpenFailed:
		return "OpenFailed"
	case CloseFailed:
		return "CloseFailed"
	case WriteShort:
		return "WriteShort"
	default:
		return "UnknownFault"
	}
}

// StorageFault is raised by the file-backed Extent when an underlying
// syscall fails. Errno is the raw OS error code, where applicable.
type StorageFault struct {
	Op    string
	Kind  FaultKind
	Errno error
}

func (e *StorageFault) Error() string {
	if e.Errno != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Errno)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *StorageFault) Unwrap() error { return e.Errno }

// ErrInvalidExtentSize is returned by FixedTable.Load / VariableStore.Load
// when the extent's length does not match the layout implied by its header.
type ErrInvalidExtentSize struct {
	Name string
	Size int64
}

func (e *ErrInvalidExtentSize) Error() string {
	return fmt.Sprintf("%s: invalid extent size %d", e.Name, e.Size)
}

// ErrKeyOutOfRange is returned by FixedTable.Get when the key's block number
// is not below the table's block count.
type ErrKeyOutOfRange struct {
	Key uint64
}

func (e *ErrKeyOutOfRange) Error() string {
	return fmt.Sprintf("key %d out of range", e.Key)
}

// ErrKeyUnused is returned by FixedTable.Get when the key's bitmap bit is
// clear (the slot was never inserted into).
type ErrKeyUnused struct {
	Key uint64
}

func (e *ErrKeyUnused) Error() string {
	return fmt.Sprintf("key %d unused", e.Key)
}

// ErrInvalidKey is returned by VariableStore lookups (and the graph façade)
// for a directory index with no corresponding entry.
type ErrInvalidKey struct {
	Key uint64
}

func (e *ErrInvalidKey) Error() string {
	return fmt.Sprintf("invalid key %d", e.Key)
}

// ErrINVAL mirrors lldb's ErrINVAL: an invalid argument was passed to an
// operation (negative offset, wrong-length record, ...).
type ErrINVAL struct {
	Name string
	Arg  interface{}
}

func (e *ErrINVAL) Error() string {
	return fmt.Sprintf("%s: invalid argument %v", e.Name, e.Arg)
}
