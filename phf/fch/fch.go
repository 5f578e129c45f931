// Package fch implements the FCH minimal perfect hash variant:
// partition keys into ⌈n/β⌉ buckets of fixed size β by a primary
// hash, process buckets largest-first, and search a per-bucket
// displacement such that the secondary hash of each key in the
// bucket, offset by the displacement, lands on an unclaimed position
// in a sparse table; a sparse-to-dense slot map (the same
// rank-over-occupancy-bitvector trick as phf/chd) compacts the result.
//
// FCH differs from CHD mainly in how the bucket count is derived: a
// fixed bucket size β instead of a load-factor-derived bucket count.
package fch

import (
	"fmt"

	"github.com/opencoff/go-fasthash"

	"github.com/opencoff/maph/internal/randutil"
	"github.com/opencoff/maph/phf"
)

const (
	defaultBucketSize = 4
	maxDisplacement   = 1 << 16
)

// Builder accumulates keys for an FCH hasher.
type Builder struct {
	keys       [][]byte
	bucketSize int
	seed       uint64
	maxDisp    uint32
}

// NewBuilder returns a Builder with the default bucket size β.
func NewBuilder() *Builder {
	return &Builder{
		bucketSize: defaultBucketSize,
		seed:       randutil.Uint64(),
		maxDisp:    maxDisplacement,
	}
}

// WithBucketSize overrides β, the target keys-per-bucket.
func (b *Builder) WithBucketSize(beta int) *Builder {
	if beta < 1 {
		beta = 1
	}
	b.bucketSize = beta
	return b
}

// WithSeed fixes the primary-hash seed.
func (b *Builder) WithSeed(seed uint64) *Builder {
	b.seed = seed
	return b
}

// WithMaxDisplacementTries overrides the per-bucket displacement retry
// budget.
func (b *Builder) WithMaxDisplacementTries(n uint32) *Builder {
	b.maxDisp = n
	return b
}

// Add adds one key to the builder.
func (b *Builder) Add(key []byte) *Builder {
	b.keys = append(b.keys, key)
	return b
}

// AddAll adds every key in keys to the builder.
func (b *Builder) AddAll(keys [][]byte) *Builder {
	b.keys = append(b.keys, keys...)
	return b
}

func (b *Builder) primary(key []byte) uint64 {
	return fasthash.Hash64(b.seed, key)
}

func secondary(seed uint64, disp uint32, key []byte) uint64 {
	return fasthash.Hash64(seed^(uint64(disp)*0x9E3779B97F4A7C15+0xbf58476d1ce4e5b9), key)
}

// Build constructs a Hasher. It never fails on a non-empty key set;
// buckets whose displacement search exhausts maxDisp have their keys
// routed to the overflow region instead.
func (b *Builder) Build() (*Hasher, error) {
	keys := phf.DedupKeys(b.keys)
	if len(keys) == 0 {
		return nil, phf.ErrEmptyKeySet
	}

	bucketCount := (uint64(len(keys)) + uint64(b.bucketSize) - 1) / uint64(b.bucketSize)
	if bucketCount == 0 {
		bucketCount = 1
	}
	sparseSize := phf.NextPow2(uint64(len(keys)) + uint64(len(keys))/4 + 1)

	buckets := phf.AssignBuckets(keys, bucketCount, b.primary)
	phf.SortLargestFirst(buckets)

	occ := phf.NewBitVector(sparseSize)
	bOcc := phf.NewBitVector(sparseSize)
	disp := make([]uint32, bucketCount)

	type placement struct {
		key  []byte
		slot uint64
	}
	var placements []placement
	var leftover [][]byte

	for _, bucket := range buckets {
		if len(bucket.Keys) == 0 {
			continue
		}
		found := false
		for d := uint32(1); d < b.maxDisp; d++ {
			bOcc.Reset()
			ok := true
			for _, k := range bucket.Keys {
				s := secondary(b.seed, d, k) % sparseSize
				if occ.IsSet(s) || bOcc.IsSet(s) {
					ok = false
					break
				}
				bOcc.Set(s)
			}
			if !ok {
				continue
			}
			occ.Merge(bOcc)
			disp[bucket.Index] = d
			for _, k := range bucket.Keys {
				s := secondary(b.seed, d, k) % sparseSize
				placements = append(placements, placement{key: k, slot: s})
			}
			found = true
			break
		}
		if !found {
			leftover = append(leftover, bucket.Keys...)
		}
	}

	perfectCount := occ.PopCount(sparseSize)
	fpSeed := randutil.Seed16()
	perfectFP := make([]uint64, perfectCount)
	for _, p := range placements {
		dense := occ.PopCount(p.slot)
		perfectFP[dense] = phf.FingerprintOf(fpSeed, p.key)
	}

	overflowFP, overflowSlot := phf.BuildOverflow(fpSeed, perfectCount, leftover)

	h := &Hasher{
		Base: phf.Base{
			FPSeed:       fpSeed,
			PerfectFP:    perfectFP,
			OverflowFP:   overflowFP,
			OverflowSlot: overflowSlot,
		},
		disp:        phf.NewSeedTable(disp),
		occ:         occ,
		sparseSize:  sparseSize,
		bucketCount: bucketCount,
		seed:        b.seed,
	}
	return h, nil
}

// Hasher is a built FCH minimal perfect hash.
type Hasher struct {
	phf.Base
	disp        phf.SeedTable
	occ         *phf.BitVector
	sparseSize  uint64
	bucketCount uint64
	seed        uint64
}

var _ phf.Hasher = (*Hasher)(nil)

// SlotFor implements phf.Hasher.
func (h *Hasher) SlotFor(key []byte) (uint64, bool) {
	if h.bucketCount == 0 {
		return h.Query(key, 0, false)
	}
	primary := fasthash.Hash64(h.seed, key)
	bucket := primary % h.bucketCount
	d := h.disp.Get(bucket)
	s := secondary(h.seed, d, key) % h.sparseSize
	if !h.occ.IsSet(s) {
		return h.Query(key, 0, false)
	}
	candidate := h.occ.PopCount(s)
	return h.Query(key, candidate, true)
}

// Stats implements phf.Hasher.
func (h *Hasher) Stats() phf.Stats { return h.Base.Stats("fch") }

// Serialize implements phf.Hasher.
func (h *Hasher) Serialize() ([]byte, error) {
	env := phf.Envelope{
		Algo:          phf.AlgoFCH,
		Params:        []uint32{uint32(h.disp.Len()), uint32(h.sparseSize)},
		FPSeed:        h.FPSeed,
		PerfectCount:  h.PerfectCount(),
		OverflowCount: h.OverflowCount(),
	}
	buf := phf.EncodeEnvelope(nil, env)
	var tmp8 [8]byte
	for i := 0; i < 8; i++ {
		tmp8[i] = byte(h.seed >> (8 * i))
	}
	buf = append(buf, tmp8[:]...)
	buf = h.disp.Encode(buf)
	buf = phf.EncodeUint64Vector(buf, h.occ.Words())
	buf = phf.EncodeUint64Vector(buf, h.PerfectFP)
	buf = phf.EncodeUint64Vector(buf, h.OverflowFP)
	buf = phf.EncodeUint64Vector(buf, h.OverflowSlot)
	return buf, nil
}

// Deserialize reconstructs a Hasher from bytes produced by Serialize.
func Deserialize(data []byte) (*Hasher, error) {
	env, rest, err := phf.DecodeEnvelope(data, phf.AlgoFCH)
	if err != nil {
		return nil, fmt.Errorf("phf/fch: %w", err)
	}
	if len(env.Params) != 2 {
		return nil, fmt.Errorf("phf/fch: %w: expected 2 params, saw %d", phf.ErrInvalidFormat, len(env.Params))
	}
	bucketCount := uint64(env.Params[0])
	sparseSize := uint64(env.Params[1])

	if len(rest) < 8 {
		return nil, fmt.Errorf("phf/fch: %w: seed truncated", phf.ErrInvalidFormat)
	}
	var seed uint64
	for i := 0; i < 8; i++ {
		seed |= uint64(rest[i]) << (8 * i)
	}
	rest = rest[8:]

	disp, rest, err := phf.DecodeSeedTable(rest)
	if err != nil {
		return nil, fmt.Errorf("phf/fch: %w", err)
	}
	occWords, rest, err := phf.DecodeUint64Vector(rest)
	if err != nil {
		return nil, fmt.Errorf("phf/fch: %w", err)
	}
	perfectFP, rest, err := phf.DecodeUint64Vector(rest)
	if err != nil {
		return nil, fmt.Errorf("phf/fch: %w", err)
	}
	overflowFP, rest, err := phf.DecodeUint64Vector(rest)
	if err != nil {
		return nil, fmt.Errorf("phf/fch: %w", err)
	}
	overflowSlot, _, err := phf.DecodeUint64Vector(rest)
	if err != nil {
		return nil, fmt.Errorf("phf/fch: %w", err)
	}

	h := &Hasher{
		Base: phf.Base{
			FPSeed:       env.FPSeed,
			PerfectFP:    perfectFP,
			OverflowFP:   overflowFP,
			OverflowSlot: overflowSlot,
		},
		disp:        disp,
		occ:         phf.BitVectorFromWords(occWords),
		sparseSize:  sparseSize,
		bucketCount: bucketCount,
		seed:        seed,
	}
	return h, nil
}
