// Package chd implements the CHD (Compress Hash Displace) minimal
// perfect hash variant: bucket keys by a primary hash, process buckets
// largest-first, and search per-bucket seeds until the bucket's keys
// land on unclaimed slots.
//
// Build never fails on a non-empty key set: a bucket that can't be
// placed within the retry budget has its keys pushed to the overflow
// region instead.
package chd

import (
	"fmt"

	"github.com/opencoff/go-fasthash"

	"github.com/opencoff/maph/internal/randutil"
	"github.com/opencoff/maph/phf"
)

// defaultLoad is the occupancy-table load factor: the sparse table has
// len(keys)/defaultLoad entries, rounded up to a power of two.
const defaultLoad = 0.85

// maxSeed bounds the per-bucket seed search.
const maxSeed = 65536 * 2

// Builder accumulates keys for a CHD hasher.
type Builder struct {
	keys [][]byte
	load float64
	seed uint64
	maxS uint32
}

// NewBuilder returns a Builder with the default load factor and a
// random primary-hash seed.
func NewBuilder() *Builder {
	return &Builder{
		load: defaultLoad,
		seed: randutil.Uint64(),
		maxS: maxSeed,
	}
}

// WithLoad overrides the occupancy-table load factor (0 < load <= 1).
func (b *Builder) WithLoad(load float64) *Builder {
	b.load = load
	return b
}

// WithSeed fixes the primary-hash seed (for reproducible tests).
func (b *Builder) WithSeed(seed uint64) *Builder {
	b.seed = seed
	return b
}

// WithMaxSeedTries overrides the per-bucket seed retry budget.
func (b *Builder) WithMaxSeedTries(n uint32) *Builder {
	b.maxS = n
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

// Build constructs a Hasher. It never fails on a non-empty key set;
// ErrEmptyKeySet is the only possible error.
func (b *Builder) Build() (*Hasher, error) {
	keys := phf.DedupKeys(b.keys)
	if len(keys) == 0 {
		return nil, phf.ErrEmptyKeySet
	}

	if b.load <= 0 || b.load > 1 {
		b.load = defaultLoad
	}

	m := phf.NextPow2(uint64(float64(len(keys)) / b.load))
	// Bucket index is rhash(0, ...) so that SlotFor can recompute it
	// from the primary hash alone.
	buckets := phf.AssignBuckets(keys, m, func(k []byte) uint64 {
		return rhash(0, b.primary(k), m, b.seed)
	})
	phf.SortLargestFirst(buckets)

	occ := phf.NewBitVector(m)
	bOcc := phf.NewBitVector(m)
	seeds := make([]uint32, m)

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
		for s := uint32(1); s < b.maxS; s++ {
			bOcc.Reset()
			ok := true
			for _, k := range bucket.Keys {
				h := rhash(s, b.primary(k), m, b.seed)
				if occ.IsSet(h) || bOcc.IsSet(h) {
					ok = false
					break
				}
				bOcc.Set(h)
			}
			if !ok {
				continue
			}
			occ.Merge(bOcc)
			seeds[bucket.Index] = s
			for _, k := range bucket.Keys {
				h := rhash(s, b.primary(k), m, b.seed)
				placements = append(placements, placement{key: k, slot: h})
			}
			found = true
			break
		}
		if !found {
			leftover = append(leftover, bucket.Keys...)
		}
	}

	// Sparse-to-dense compaction: a key's sparse slot (its position
	// in the m-wide occupancy table) is mapped to a dense
	// perfect-region index via the number of occupied bits before
	// it, so the perfect region has exactly as many slots as placed
	// keys.
	perfectCount := occ.PopCount(m)
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
		seeds: phf.NewSeedTable(seeds),
		occ:   occ,
		salt:  b.seed,
	}
	return h, nil
}

// Hasher is a built CHD minimal perfect hash.
type Hasher struct {
	phf.Base
	seeds phf.SeedTable
	occ   *phf.BitVector
	salt  uint64
}

var _ phf.Hasher = (*Hasher)(nil)

// SlotFor implements phf.Hasher.
func (h *Hasher) SlotFor(key []byte) (uint64, bool) {
	m := uint64(h.seeds.Len())
	if m == 0 {
		return h.Query(key, 0, false)
	}
	primary := fasthash.Hash64(h.salt, key)
	b := rhash(0, primary, m, h.salt)
	s := h.seeds.Get(b)
	sparse := rhash(s, primary, m, h.salt)
	if !h.occ.IsSet(sparse) {
		return h.Query(key, 0, false)
	}
	candidate := h.occ.PopCount(sparse)
	return h.Query(key, candidate, true)
}

// Stats implements phf.Hasher.
func (h *Hasher) Stats() phf.Stats { return h.Base.Stats("chd") }

// Serialize implements phf.Hasher.
func (h *Hasher) Serialize() ([]byte, error) {
	env := phf.Envelope{
		Algo:          phf.AlgoCHD,
		Params:        []uint32{uint32(h.seeds.Len())},
		FPSeed:        h.FPSeed,
		PerfectCount:  h.PerfectCount(),
		OverflowCount: h.OverflowCount(),
	}
	buf := phf.EncodeEnvelope(nil, env)
	var tmp8 [8]byte
	putU64 := func(v uint64) {
		for i := 0; i < 8; i++ {
			tmp8[i] = byte(v >> (8 * i))
		}
		buf = append(buf, tmp8[:]...)
	}
	putU64(h.salt)
	buf = h.seeds.Encode(buf)
	buf = phf.EncodeUint64Vector(buf, h.occ.Words())
	buf = phf.EncodeUint64Vector(buf, h.PerfectFP)
	buf = phf.EncodeUint64Vector(buf, h.OverflowFP)
	buf = phf.EncodeUint64Vector(buf, h.OverflowSlot)
	return buf, nil
}

// Deserialize reconstructs a Hasher from bytes produced by Serialize.
func Deserialize(data []byte) (*Hasher, error) {
	env, rest, err := phf.DecodeEnvelope(data, phf.AlgoCHD)
	if err != nil {
		return nil, fmt.Errorf("phf/chd: %w", err)
	}
	if len(env.Params) != 1 {
		return nil, fmt.Errorf("phf/chd: %w: expected 1 param, saw %d", phf.ErrInvalidFormat, len(env.Params))
	}
	if len(rest) < 8 {
		return nil, fmt.Errorf("phf/chd: %w: salt truncated", phf.ErrInvalidFormat)
	}
	var salt uint64
	for i := 0; i < 8; i++ {
		salt |= uint64(rest[i]) << (8 * i)
	}
	rest = rest[8:]

	seeds, rest, err := phf.DecodeSeedTable(rest)
	if err != nil {
		return nil, fmt.Errorf("phf/chd: %w", err)
	}
	occWords, rest, err := phf.DecodeUint64Vector(rest)
	if err != nil {
		return nil, fmt.Errorf("phf/chd: %w", err)
	}
	perfectFP, rest, err := phf.DecodeUint64Vector(rest)
	if err != nil {
		return nil, fmt.Errorf("phf/chd: %w", err)
	}
	overflowFP, rest, err := phf.DecodeUint64Vector(rest)
	if err != nil {
		return nil, fmt.Errorf("phf/chd: %w", err)
	}
	overflowSlot, _, err := phf.DecodeUint64Vector(rest)
	if err != nil {
		return nil, fmt.Errorf("phf/chd: %w", err)
	}

	h := &Hasher{
		Base: phf.Base{
			FPSeed:       env.FPSeed,
			PerfectFP:    perfectFP,
			OverflowFP:   overflowFP,
			OverflowSlot: overflowSlot,
		},
		seeds: seeds,
		occ:   phf.BitVectorFromWords(occWords),
		salt:  salt,
	}
	return h, nil
}

// compression function for fasthash
// borrowed from Zi Long Tan's superfast hash
func mix(h uint64) uint64 {
	h ^= h >> 23
	h *= 0x2127599bf4325c37
	h ^= h >> 47
	return h
}

// hash key with a given seed and return the result modulo 'sz'.
// 'sz' is guarantted to be a power of 2; so, modulo can be fast.
// borrowed from Zi Long Tan's superfast hash
func rhash(seed uint32, key, sz, salt uint64) uint64 {
	const m uint64 = 0x880355f21e6d1965
	h := key
	h *= m
	h ^= mix(salt)
	h *= m
	h ^= mix(uint64(seed))
	h *= m
	return mix(h) & (sz - 1)
}
