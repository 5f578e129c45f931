// Package pthash implements the PTHash minimal perfect hash variant:
// each key is assigned to a bucket by a primary hash (one bucket per
// key in the default high-reliability parameterization), and each
// bucket searches pilot values until its keys land on unclaimed
// positions in a sparse table of size ⌈n/α⌉. A sparse→dense mapping
// (a rank over the claimed-position bitvector) resolves queries to
// compact slot indices.
package pthash

import (
	"fmt"
	"math"

	"github.com/opencoff/go-fasthash"

	"github.com/opencoff/maph/internal/randutil"
	"github.com/opencoff/maph/phf"
)

const (
	defaultAlpha    = 0.98
	defaultMaxPilot = 1 << 16
)

// Builder accumulates keys for a PTHash hasher.
type Builder struct {
	keys     [][]byte
	alpha    float64
	seed     uint64
	maxPilot uint32
}

// NewBuilder returns a Builder with the default target occupancy α.
func NewBuilder() *Builder {
	return &Builder{
		alpha:    defaultAlpha,
		seed:     randutil.Uint64(),
		maxPilot: defaultMaxPilot,
	}
}

// WithAlpha overrides α, the target sparse-table occupancy (0 < α <= 1).
func (b *Builder) WithAlpha(alpha float64) *Builder {
	if alpha <= 0 || alpha > 1 {
		alpha = defaultAlpha
	}
	b.alpha = alpha
	return b
}

// WithSeed fixes the primary-hash seed.
func (b *Builder) WithSeed(seed uint64) *Builder {
	b.seed = seed
	return b
}

// WithMaxPilotTries overrides the per-bucket pilot retry budget.
func (b *Builder) WithMaxPilotTries(n uint32) *Builder {
	b.maxPilot = n
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

func secondary(seed, pilot uint64, key []byte) uint64 {
	return fasthash.Hash64(seed^(pilot*0x9E3779B97F4A7C15+0x517cc1b727220a95), key)
}

// Build constructs a Hasher. It never fails on a non-empty key set;
// buckets whose pilot search exhausts maxPilot have their keys routed
// to the overflow region instead.
func (b *Builder) Build() (*Hasher, error) {
	keys := phf.DedupKeys(b.keys)
	if len(keys) == 0 {
		return nil, phf.ErrEmptyKeySet
	}

	n := uint64(len(keys))
	bucketCount := n
	sparseSize := uint64(math.Ceil(float64(n) / b.alpha))

	buckets := phf.AssignBuckets(keys, bucketCount, b.primary)
	phf.SortLargestFirst(buckets)

	occ := phf.NewBitVector(sparseSize)
	bOcc := phf.NewBitVector(sparseSize)
	pilots := make([]uint32, bucketCount)

	type placed struct {
		key  []byte
		slot uint64
	}
	var placements []placed
	var leftover [][]byte

	for _, bucket := range buckets {
		if len(bucket.Keys) == 0 {
			continue
		}
		found := false
		for p := uint32(1); p < b.maxPilot; p++ {
			bOcc.Reset()
			ok := true
			for _, k := range bucket.Keys {
				s := secondary(b.seed, uint64(p), k) % sparseSize
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
			pilots[bucket.Index] = p
			for _, k := range bucket.Keys {
				s := secondary(b.seed, uint64(p), k) % sparseSize
				placements = append(placements, placed{key: k, slot: s})
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
	for _, pl := range placements {
		dense := occ.PopCount(pl.slot)
		perfectFP[dense] = phf.FingerprintOf(fpSeed, pl.key)
	}

	overflowFP, overflowSlot := phf.BuildOverflow(fpSeed, perfectCount, leftover)

	h := &Hasher{
		Base: phf.Base{
			FPSeed:       fpSeed,
			PerfectFP:    perfectFP,
			OverflowFP:   overflowFP,
			OverflowSlot: overflowSlot,
		},
		pilots:      phf.NewSeedTable(pilots),
		occ:         occ,
		sparseSize:  sparseSize,
		bucketCount: bucketCount,
		seed:        b.seed,
	}
	return h, nil
}

// Hasher is a built PTHash minimal perfect hash.
type Hasher struct {
	phf.Base
	pilots      phf.SeedTable
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
	pilot := h.pilots.Get(bucket)
	s := secondary(h.seed, uint64(pilot), key) % h.sparseSize
	if !h.occ.IsSet(s) {
		return h.Query(key, 0, false)
	}
	candidate := h.occ.PopCount(s)
	return h.Query(key, candidate, true)
}

// Stats implements phf.Hasher.
func (h *Hasher) Stats() phf.Stats { return h.Base.Stats("pthash") }

// Serialize implements phf.Hasher.
func (h *Hasher) Serialize() ([]byte, error) {
	env := phf.Envelope{
		Algo:          phf.AlgoPTHash,
		Params:        []uint32{uint32(h.pilots.Len()), uint32(h.sparseSize)},
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
	buf = h.pilots.Encode(buf)
	buf = phf.EncodeUint64Vector(buf, h.occ.Words())
	buf = phf.EncodeUint64Vector(buf, h.PerfectFP)
	buf = phf.EncodeUint64Vector(buf, h.OverflowFP)
	buf = phf.EncodeUint64Vector(buf, h.OverflowSlot)
	return buf, nil
}

// Deserialize reconstructs a Hasher from bytes produced by Serialize.
func Deserialize(data []byte) (*Hasher, error) {
	env, rest, err := phf.DecodeEnvelope(data, phf.AlgoPTHash)
	if err != nil {
		return nil, fmt.Errorf("phf/pthash: %w", err)
	}
	if len(env.Params) != 2 {
		return nil, fmt.Errorf("phf/pthash: %w: expected 2 params, saw %d", phf.ErrInvalidFormat, len(env.Params))
	}
	bucketCount := uint64(env.Params[0])
	sparseSize := uint64(env.Params[1])

	if len(rest) < 8 {
		return nil, fmt.Errorf("phf/pthash: %w: seed truncated", phf.ErrInvalidFormat)
	}
	var seed uint64
	for i := 0; i < 8; i++ {
		seed |= uint64(rest[i]) << (8 * i)
	}
	rest = rest[8:]

	pilots, rest, err := phf.DecodeSeedTable(rest)
	if err != nil {
		return nil, fmt.Errorf("phf/pthash: %w", err)
	}
	occWords, rest, err := phf.DecodeUint64Vector(rest)
	if err != nil {
		return nil, fmt.Errorf("phf/pthash: %w", err)
	}
	perfectFP, rest, err := phf.DecodeUint64Vector(rest)
	if err != nil {
		return nil, fmt.Errorf("phf/pthash: %w", err)
	}
	overflowFP, rest, err := phf.DecodeUint64Vector(rest)
	if err != nil {
		return nil, fmt.Errorf("phf/pthash: %w", err)
	}
	overflowSlot, _, err := phf.DecodeUint64Vector(rest)
	if err != nil {
		return nil, fmt.Errorf("phf/pthash: %w", err)
	}

	h := &Hasher{
		Base: phf.Base{
			FPSeed:       env.FPSeed,
			PerfectFP:    perfectFP,
			OverflowFP:   overflowFP,
			OverflowSlot: overflowSlot,
		},
		pilots:      pilots,
		occ:         phf.BitVectorFromWords(occWords),
		sparseSize:  sparseSize,
		bucketCount: bucketCount,
		seed:        seed,
	}
	return h, nil
}
