// Package slot implements the fixed-size, atomically-versioned record
// that is the unit of storage for every maph backend.
//
// A Slot packs an 8-byte atomic header (a 32-bit hash tag in the high
// word, a 32-bit version counter in the low word), a 4-byte size field,
// 4 bytes reserved, and a fixed payload. The header's version counter
// is even when the slot is stable and odd while a writer is mid-write;
// readers use it to detect and retry a torn read without ever taking a
// lock.
package slot

import (
	"errors"
	"sync/atomic"
)

// Size is the canonical on-disk/in-memory slot size in bytes.
const Size = 512

// HeaderSize is the size, in bytes, of the atomic header + size +
// reserved fields that precede the payload in every slot.
const HeaderSize = 8 + 4 + 4

// PayloadCapacity is the number of payload bytes available after the
// header, for the canonical 512-byte slot.
const PayloadCapacity = Size - HeaderSize

// ErrValueTooLarge is returned by Write when the payload exceeds the
// slot's capacity.
var ErrValueTooLarge = errors.New("slot: value exceeds payload capacity")

// maxReadRetries bounds how many times Read will retry a slot it
// observes mid-write before giving up and reporting a miss.
const maxReadRetries = 64

// header packs (tag:32, version:32) into one atomically-accessed word.
// tag lives in the high 32 bits so that "is this slot empty" is a
// single word compare against the top half being zero.
func pack(tag, version uint32) uint64 {
	return uint64(tag)<<32 | uint64(version)
}

func unpack(h uint64) (tag, version uint32) {
	return uint32(h >> 32), uint32(h)
}

func isWriting(version uint32) bool {
	return version&1 == 1
}

// View is a byte-addressable window onto one slot's storage: either a
// slice into a heap-backed array (storage.Memory) or a slice into a
// memory-mapped file (storage.Mmap). Both backends hand Slot a raw
// []byte of exactly Size bytes and let it own the bit-level layout.
type View struct {
	raw []byte
}

// New wraps raw (which must be exactly Size bytes) as a slot View.
func New(raw []byte) View {
	if len(raw) != Size {
		panic("slot: raw buffer is not Size bytes")
	}
	return View{raw: raw}
}

func (v View) header() *uint64 {
	return (*uint64)(headerPtr(v.raw))
}

// Tag returns the slot's current hash tag (0 means empty). This is a
// single atomic load; it does not imply the payload is stable.
func (v View) Tag() uint32 {
	h := atomic.LoadUint64(v.header())
	tag, _ := unpack(h)
	return tag
}

// IsEmpty reports whether the slot is currently unoccupied.
func (v View) IsEmpty() bool {
	return v.Tag() == 0
}

// Read performs the lock-free, tear-free read protocol: load the
// header, bail out on an empty tag, retry while a writer is
// mid-flight, copy size+payload, then re-check the header hasn't
// changed underneath us. It returns (value, true) on a clean read of
// an occupied slot, or (nil, false) for an empty slot or one that
// stayed mid-write for maxReadRetries iterations (treated as a miss,
// never surfaced as an error).
func (v View) Read() ([]byte, bool) {
	for attempt := 0; attempt < maxReadRetries; attempt++ {
		h0 := atomic.LoadUint64(v.header())
		tag, ver := unpack(h0)
		if tag == 0 {
			return nil, false
		}
		if isWriting(ver) {
			continue
		}

		size := loadSize(v.raw)
		if size > PayloadCapacity {
			// Corrupt or torn size field; treat like a retry-able miss.
			continue
		}
		buf := make([]byte, size)
		copy(buf, v.raw[HeaderSize:HeaderSize+size])

		h1 := atomic.LoadUint64(v.header())
		if h1 != h0 {
			continue
		}
		return buf, true
	}
	return nil, false
}

// TagMatches reports whether the slot's current tag equals tag,
// without attempting to read the payload.
func (v View) TagMatches(tag uint32) bool {
	return v.Tag() == tag
}

// Write performs the single-writer protocol: bump the version to odd
// (writer in progress), write size+payload, then bump the version to
// even with the final tag. Write is only safe to call from a single
// writer at a time per slot.
func (v View) Write(tag uint32, payload []byte) error {
	if len(payload) > PayloadCapacity {
		return ErrValueTooLarge
	}
	if tag == 0 {
		tag = 1 // 0 is reserved for "empty"
	}

	_, curVer := unpack(atomic.LoadUint64(v.header()))
	inProgress := pack(tag, curVer+1)
	atomic.StoreUint64(v.header(), inProgress)

	storeSize(v.raw, uint32(len(payload)))
	copy(v.raw[HeaderSize:], payload)

	stable := pack(tag, curVer+2)
	atomic.StoreUint64(v.header(), stable)
	return nil
}

// Clear marks the slot empty by storing a stable header with tag 0.
func (v View) Clear() {
	_, curVer := unpack(atomic.LoadUint64(v.header()))
	next := curVer + 2
	if next&1 == 1 {
		next++
	}
	atomic.StoreUint64(v.header(), pack(0, next))
}
