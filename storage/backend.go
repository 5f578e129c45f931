// Package storage owns the slot array for a maph table: either a
// contiguous heap allocation (Memory) or a memory-mapped file (Mmap),
// both satisfying the same Backend contract.
package storage

import (
	"errors"

	"github.com/opencoff/maph/slot"
)

// ErrPermissionDenied is returned by Write/Clear on a read-only
// backend.
var ErrPermissionDenied = errors.New("storage: write attempted on read-only backend")

// ErrOutOfRange is returned when idx is not in [0, SlotCount()).
var ErrOutOfRange = errors.New("storage: slot index out of range")

// Backend is the storage contract shared by every backend
// implementation and by the Cached decorator. All methods are safe for
// concurrent callers except Write and Clear, which require external
// single-writer discipline.
type Backend interface {
	// Read returns the value stored at idx, or (nil, false) if the
	// slot is empty or the read raced a writer past the retry
	// budget.
	Read(idx uint64) ([]byte, bool)

	// Write stores payload at idx under hash tag tag.
	Write(idx uint64, tag uint32, payload []byte) error

	// Clear empties the slot at idx.
	Clear(idx uint64) error

	// SlotCount returns the fixed number of slots this backend
	// manages.
	SlotCount() uint64

	// IsEmpty reports whether the slot at idx is currently
	// unoccupied.
	IsEmpty(idx uint64) bool

	// TagAt returns the current hash tag stored at idx (0 if
	// empty).
	TagAt(idx uint64) uint32

	// Close releases any resources (file descriptors, mappings)
	// held by the backend.
	Close() error
}

func slotAt(raw []byte, idx uint64) slot.View {
	off := idx * slot.Size
	return slot.New(raw[off : off+slot.Size])
}
