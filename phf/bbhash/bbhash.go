// Package bbhash implements the BBHash minimal perfect hash variant:
// keys are hashed into successive levels of a bit array sized γ·n;
// within a level, a key that is the sole occupant of its hashed bit is
// placed there, while colliding keys are demoted to the next level.
// After K levels, any key still unplaced overflows.
package bbhash

import (
	"fmt"

	"github.com/opencoff/go-fasthash"

	"github.com/opencoff/maph/internal/randutil"
	"github.com/opencoff/maph/phf"
)

const (
	defaultGamma  = 2.0
	defaultLevels = 10
)

// Builder accumulates keys for a BBHash hasher.
type Builder struct {
	keys   [][]byte
	gamma  float64
	levels int
	seed   uint64
}

// NewBuilder returns a Builder with the default γ and level count.
func NewBuilder() *Builder {
	return &Builder{
		gamma:  defaultGamma,
		levels: defaultLevels,
		seed:   randutil.Uint64(),
	}
}

// WithGamma overrides γ, the bit-array fill factor (>= 1.0).
func (b *Builder) WithGamma(g float64) *Builder {
	if g < 1.0 {
		g = 1.0
	}
	b.gamma = g
	return b
}

// WithLevels overrides K, the maximum level count (clamped to [1,10]).
func (b *Builder) WithLevels(k int) *Builder {
	if k < 1 {
		k = 1
	}
	if k > 10 {
		k = 10
	}
	b.levels = k
	return b
}

// WithSeed fixes the per-level hashing seed.
func (b *Builder) WithSeed(seed uint64) *Builder {
	b.seed = seed
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

func levelHash(seed uint64, level int, key []byte) uint64 {
	return fasthash.Hash64(seed^(uint64(level)*0x9E3779B97F4A7C15+1), key)
}

// Build constructs a Hasher. It never fails on a non-empty key set;
// keys still unplaced after the level budget overflow instead.
func (b *Builder) Build() (*Hasher, error) {
	keys := phf.DedupKeys(b.keys)
	if len(keys) == 0 {
		return nil, phf.ErrEmptyKeySet
	}

	remaining := keys
	var levelBits []uint64
	var placedBV []*phf.BitVector
	var baseOffset []uint64
	var cursor uint64

	type placement struct {
		key   []byte
		level int
		bit   uint64
	}
	var placements []placement

	for level := 0; level < b.levels && len(remaining) > 0; level++ {
		bits := uint64(float64(len(remaining))*b.gamma) + 1
		seen := phf.NewBitVector(bits)
		collide := phf.NewBitVector(bits)
		for _, k := range remaining {
			h := levelHash(b.seed, level, k) % bits
			if seen.IsSet(h) {
				collide.Set(h)
				continue
			}
			seen.Set(h)
		}

		placed := phf.NewBitVector(bits)
		var next [][]byte
		for _, k := range remaining {
			h := levelHash(b.seed, level, k) % bits
			if !collide.IsSet(h) {
				placed.Set(h)
				placements = append(placements, placement{key: k, level: level, bit: h})
			} else {
				next = append(next, k)
			}
		}

		levelBits = append(levelBits, bits)
		placedBV = append(placedBV, placed)
		baseOffset = append(baseOffset, cursor)
		cursor += placed.PopCount(bits)
		remaining = next
	}

	fpSeed := randutil.Seed16()
	perfectFP := make([]uint64, cursor)
	for _, p := range placements {
		idx := baseOffset[p.level] + placedBV[p.level].PopCount(p.bit)
		perfectFP[idx] = phf.FingerprintOf(fpSeed, p.key)
	}

	overflowFP, overflowSlot := phf.BuildOverflow(fpSeed, cursor, remaining)

	h := &Hasher{
		Base: phf.Base{
			FPSeed:       fpSeed,
			PerfectFP:    perfectFP,
			OverflowFP:   overflowFP,
			OverflowSlot: overflowSlot,
		},
		levelBits:  levelBits,
		placed:     placedBV,
		baseOffset: baseOffset,
		gamma:      b.gamma,
		seed:       b.seed,
	}
	return h, nil
}

// Hasher is a built BBHash minimal perfect hash.
type Hasher struct {
	phf.Base
	levelBits  []uint64
	placed     []*phf.BitVector
	baseOffset []uint64
	gamma      float64
	seed       uint64
}

var _ phf.Hasher = (*Hasher)(nil)

// SlotFor implements phf.Hasher. Levels are intrinsically sequential
// at query time too: a key's bit is checked level by level until a
// placed bit is found.
func (h *Hasher) SlotFor(key []byte) (uint64, bool) {
	for level, bits := range h.levelBits {
		hb := levelHash(h.seed, level, key) % bits
		if h.placed[level].IsSet(hb) {
			candidate := h.baseOffset[level] + h.placed[level].PopCount(hb)
			return h.Query(key, candidate, true)
		}
	}
	return h.Query(key, 0, false)
}

// Stats implements phf.Hasher.
func (h *Hasher) Stats() phf.Stats { return h.Base.Stats("bbhash") }

// Serialize implements phf.Hasher.
func (h *Hasher) Serialize() ([]byte, error) {
	env := phf.Envelope{
		Algo:          phf.AlgoBBHash,
		Params:        []uint32{uint32(len(h.levelBits))},
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
	buf = phf.EncodeUint64Vector(buf, h.levelBits)
	buf = phf.EncodeUint64Vector(buf, h.baseOffset)
	for _, bv := range h.placed {
		buf = phf.EncodeUint64Vector(buf, bv.Words())
	}
	buf = phf.EncodeUint64Vector(buf, h.PerfectFP)
	buf = phf.EncodeUint64Vector(buf, h.OverflowFP)
	buf = phf.EncodeUint64Vector(buf, h.OverflowSlot)
	return buf, nil
}

// Deserialize reconstructs a Hasher from bytes produced by Serialize.
func Deserialize(data []byte) (*Hasher, error) {
	env, rest, err := phf.DecodeEnvelope(data, phf.AlgoBBHash)
	if err != nil {
		return nil, fmt.Errorf("phf/bbhash: %w", err)
	}
	if len(env.Params) != 1 {
		return nil, fmt.Errorf("phf/bbhash: %w: expected 1 param, saw %d", phf.ErrInvalidFormat, len(env.Params))
	}
	nlevels := int(env.Params[0])

	if len(rest) < 8 {
		return nil, fmt.Errorf("phf/bbhash: %w: seed truncated", phf.ErrInvalidFormat)
	}
	var seed uint64
	for i := 0; i < 8; i++ {
		seed |= uint64(rest[i]) << (8 * i)
	}
	rest = rest[8:]

	levelBits, rest, err := phf.DecodeUint64Vector(rest)
	if err != nil {
		return nil, fmt.Errorf("phf/bbhash: %w", err)
	}
	baseOffset, rest, err := phf.DecodeUint64Vector(rest)
	if err != nil {
		return nil, fmt.Errorf("phf/bbhash: %w", err)
	}
	placed := make([]*phf.BitVector, nlevels)
	for i := 0; i < nlevels; i++ {
		words, r, err := phf.DecodeUint64Vector(rest)
		if err != nil {
			return nil, fmt.Errorf("phf/bbhash: %w", err)
		}
		placed[i] = phf.BitVectorFromWords(words)
		rest = r
	}
	perfectFP, rest, err := phf.DecodeUint64Vector(rest)
	if err != nil {
		return nil, fmt.Errorf("phf/bbhash: %w", err)
	}
	overflowFP, rest, err := phf.DecodeUint64Vector(rest)
	if err != nil {
		return nil, fmt.Errorf("phf/bbhash: %w", err)
	}
	overflowSlot, _, err := phf.DecodeUint64Vector(rest)
	if err != nil {
		return nil, fmt.Errorf("phf/bbhash: %w", err)
	}

	h := &Hasher{
		Base: phf.Base{
			FPSeed:       env.FPSeed,
			PerfectFP:    perfectFP,
			OverflowFP:   overflowFP,
			OverflowSlot: overflowSlot,
		},
		levelBits:  levelBits,
		placed:     placed,
		baseOffset: baseOffset,
		seed:       seed,
	}
	return h, nil
}
