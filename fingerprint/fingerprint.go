// Package fingerprint provides the two independent key digests maph's
// hasher family relies on: a 64-bit keyed fingerprint used to confirm
// identity after a perfect-hash placement, and a 32-bit hash tag used
// for the cheap header-level comparison in a slot.
//
// The two digests deliberately use unrelated algorithms and seeds so
// that a collision in one is not correlated with a collision in the
// other.
package fingerprint

import (
	"github.com/cespare/xxhash/v2"
	"github.com/dchest/siphash"
)

// Fingerprint computes a 64-bit keyed digest of key using siphash-2-4
// keyed by seed. 0 is reserved to mean "no fingerprint / absent", so a
// digest of 0 is remapped to 1.
func Fingerprint(seed [16]byte, key []byte) uint64 {
	h := siphash.New(seed[:])
	h.Write(key)
	v := h.Sum64()
	if v == 0 {
		v = 1
	}
	return v
}

// Tag computes a 32-bit hash tag of key, seeded independently from the
// fingerprint seed and mixed with an unrelated algorithm (xxhash rather
// than siphash) so the two digests don't share a failure mode. 0 is
// remapped to 1 for the same "0 means empty slot" reason as
// Fingerprint.
func Tag(seed uint64, key []byte) uint32 {
	d := xxhash.NewWithSeed(seed)
	d.Write(key)
	v := uint32(d.Sum64())
	if v == 0 {
		v = 1
	}
	return v
}
