// Package phf defines the shared contract every minimal-perfect-hash
// variant (phf/chd, phf/recsplit, phf/bbhash, phf/pthash, phf/fch)
// satisfies, plus the plumbing those variants all share: the
// fingerprint-checked query protocol, the overflow fallback that makes
// construction unable to fail, and hasher statistics. Every variant's
// builder follows the same "dedupe, bucket, retry,
// overflow-on-exhaustion" skeleton.
package phf

import (
	"errors"
	"sort"

	"github.com/opencoff/maph/fingerprint"
)

// Algorithm identifiers for the serialization envelope.
const (
	AlgoRecSplit uint32 = 1
	AlgoCHD      uint32 = 2
	AlgoBBHash   uint32 = 3
	AlgoFCH      uint32 = 4
	AlgoPTHash   uint32 = 5
)

// ErrEmptyKeySet is returned by a builder's Build when no keys were
// ever added.
var ErrEmptyKeySet = errors.New("phf: builder has no keys")

// Hasher is the query contract shared by every perfect-hash variant.
type Hasher interface {
	// SlotFor returns the slot a key was placed at during
	// construction, or (0, false) if the key was never in the
	// build set (modulo an approximately 2^-64 fingerprint
	// collision).
	SlotFor(key []byte) (uint64, bool)

	// MaxSlots is PerfectCount + OverflowCount: the number of
	// slots the owning storage backend must provide.
	MaxSlots() uint64

	// Stats reports the built hasher's shape.
	Stats() Stats

	// Serialize encodes the hasher to a portable byte string.
	Serialize() ([]byte, error)
}

// Stats reports bits-per-key, perfect/overflow counts for a built
// hasher, independent of which variant built it.
type Stats struct {
	Algorithm     string
	PerfectCount  uint64
	OverflowCount uint64
	BitsPerKey    float64
}

// Bucket groups the keys that one builder's primary hash assigned to
// the same bucket index.
type Bucket struct {
	Index uint64
	Keys  [][]byte
}

// AssignBuckets hashes every key with primary(key) % bucketCount and
// groups them into bucketCount buckets, the partitioning step shared
// by every variant.
func AssignBuckets(keys [][]byte, bucketCount uint64, primary func([]byte) uint64) []Bucket {
	bs := make([]Bucket, bucketCount)
	for i := range bs {
		bs[i].Index = uint64(i)
	}
	for _, k := range keys {
		j := primary(k) % bucketCount
		bs[j].Keys = append(bs[j].Keys, k)
	}
	return bs
}

// SortLargestFirst orders buckets by decreasing key count, the
// "process buckets largest-first" rule CHD, FCH, and PTHash share.
func SortLargestFirst(buckets []Bucket) {
	sort.SliceStable(buckets, func(i, j int) bool {
		return len(buckets[i].Keys) > len(buckets[j].Keys)
	})
}

// DedupKeys drops duplicate keys (by byte content), keeping the first
// occurrence.
func DedupKeys(keys [][]byte) [][]byte {
	seen := make(map[string]struct{}, len(keys))
	out := make([][]byte, 0, len(keys))
	for _, k := range keys {
		s := string(k)
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, k)
	}
	return out
}

// NextPow2 returns the smallest power of two >= n (n > 0).
func NextPow2(n uint64) uint64 {
	if n <= 1 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}

// Base is embedded by every variant's built Hasher. It implements the
// shared fingerprint-check-then-overflow-scan query protocol, stats,
// and MaxSlots — the parts that do not vary by variant. A variant's
// SlotFor need only compute its own candidate perfect-region slot and
// delegate to Query.
type Base struct {
	FPSeed [16]byte

	// PerfectFP[i] is the fingerprint of the key placed at perfect
	// slot i. The hasher never stores key bytes, only fingerprints.
	PerfectFP []uint64

	OverflowFP   []uint64
	OverflowSlot []uint64
}

// PerfectCount is the number of slots in the perfect region.
func (b *Base) PerfectCount() uint64 { return uint64(len(b.PerfectFP)) }

// OverflowCount is the number of keys that spilled to the overflow
// region.
func (b *Base) OverflowCount() uint64 { return uint64(len(b.OverflowFP)) }

// MaxSlots is PerfectCount + OverflowCount by construction.
func (b *Base) MaxSlots() uint64 { return b.PerfectCount() + b.OverflowCount() }

// Query implements the shared query protocol: if candidate is a valid
// perfect-region index and its stored fingerprint matches key's,
// return it; otherwise fall back to the overflow scan.
func (b *Base) Query(key []byte, candidate uint64, candidateValid bool) (uint64, bool) {
	fp := fingerprint.Fingerprint(b.FPSeed, key)
	if candidateValid && candidate < b.PerfectCount() && b.PerfectFP[candidate] == fp {
		return candidate, true
	}
	return b.scanOverflow(fp)
}

// scanOverflow is the linear fingerprint scan over the overflow
// region. An obvious SIMD target (4- or 8-wide uint64 compares); the
// scalar loop is correct on every CPU.
func (b *Base) scanOverflow(fp uint64) (uint64, bool) {
	for i, f := range b.OverflowFP {
		if f == fp {
			return b.OverflowSlot[i], true
		}
	}
	return 0, false
}

// Stats computes the shared Stats shape for algo.
func (b *Base) Stats(algo string) Stats {
	n := b.MaxSlots()
	var bits float64
	if n > 0 {
		bitsTotal := (len(b.PerfectFP) + len(b.OverflowFP) + len(b.OverflowSlot)) * 64
		bits = float64(bitsTotal) / float64(n)
	}
	return Stats{
		Algorithm:     algo,
		PerfectCount:  b.PerfectCount(),
		OverflowCount: b.OverflowCount(),
		BitsPerKey:    bits,
	}
}

// FingerprintOf is a small convenience wrapper so variant builders
// don't need to import the fingerprint package directly.
func FingerprintOf(seed [16]byte, key []byte) uint64 {
	return fingerprint.Fingerprint(seed, key)
}

// BuildOverflow appends every key in leftover (keys no bucket could
// place within its retry budget) to the overflow region, assigning
// each a fresh slot index starting at perfectCount.
func BuildOverflow(fpSeed [16]byte, perfectCount uint64, leftover [][]byte) (fp, slots []uint64) {
	fp = make([]uint64, len(leftover))
	slots = make([]uint64, len(leftover))
	for i, k := range leftover {
		fp[i] = FingerprintOf(fpSeed, k)
		slots[i] = perfectCount + uint64(i)
	}
	return fp, slots
}
