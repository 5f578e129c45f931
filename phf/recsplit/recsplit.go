// Package recsplit implements the RecSplit minimal perfect hash
// variant: partition keys into buckets of expected size leafSize, then
// for each bucket search a rotation seed so the bucket's keys map
// bijectively onto [0, |bucket|); concatenate buckets so a key's final
// slot is bucketOffset + intraBucketSlot.
//
// Buckets are independent, so the seed search runs on a bounded worker
// pool via golang.org/x/sync/errgroup.
package recsplit

import (
	"fmt"
	"runtime"

	"github.com/opencoff/go-fasthash"
	"golang.org/x/sync/errgroup"

	"github.com/opencoff/maph/internal/randutil"
	"github.com/opencoff/maph/phf"
)

// defaultLeafSize is the target bucket size.
const defaultLeafSize = 8

// maxSeed bounds the per-bucket rotation-seed search.
const maxSeed = 1 << 16

// Builder accumulates keys for a RecSplit hasher.
type Builder struct {
	keys     [][]byte
	leafSize int
	seed     uint64
	maxSeed  uint32
	workers  int
}

// NewBuilder returns a Builder with the default leaf size and a random
// primary-hash seed.
func NewBuilder() *Builder {
	return &Builder{
		leafSize: defaultLeafSize,
		seed:     randutil.Uint64(),
		maxSeed:  maxSeed,
		workers:  runtime.GOMAXPROCS(0),
	}
}

// WithLeafSize overrides the target bucket size, clamped to [4,16].
func (b *Builder) WithLeafSize(l int) *Builder {
	if l < 4 {
		l = 4
	}
	if l > 16 {
		l = 16
	}
	b.leafSize = l
	return b
}

// WithSeed fixes the primary-hash seed.
func (b *Builder) WithSeed(seed uint64) *Builder {
	b.seed = seed
	return b
}

// WithMaxSeedTries overrides the per-bucket rotation-seed retry budget.
func (b *Builder) WithMaxSeedTries(n uint32) *Builder {
	b.maxSeed = n
	return b
}

// WithWorkers overrides the bounded worker-pool size used to search
// buckets in parallel.
func (b *Builder) WithWorkers(n int) *Builder {
	if n < 1 {
		n = 1
	}
	b.workers = n
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

type bucketResult struct {
	ok    bool
	seed  uint32
	order [][]byte // order[intraSlot] = key
}

// Build constructs a Hasher. It never fails on a non-empty key set;
// buckets whose rotation search exhausts maxSeed have their keys
// routed to the overflow region instead.
func (b *Builder) Build() (*Hasher, error) {
	keys := phf.DedupKeys(b.keys)
	if len(keys) == 0 {
		return nil, phf.ErrEmptyKeySet
	}

	bucketCount := uint64(len(keys)) / uint64(b.leafSize)
	if bucketCount == 0 {
		bucketCount = 1
	}
	buckets := phf.AssignBuckets(keys, bucketCount, b.primary)

	results := make([]bucketResult, bucketCount)
	g := new(errgroup.Group)
	g.SetLimit(b.workers)
	for i := range buckets {
		i := i
		g.Go(func() error {
			bucket := buckets[i]
			if len(bucket.Keys) == 0 {
				results[i] = bucketResult{ok: true}
				return nil
			}
			seed, order, ok := solveBucket(bucket.Keys, b.primary, b.maxSeed)
			results[i] = bucketResult{ok: ok, seed: seed, order: order}
			return nil
		})
	}
	_ = g.Wait() // solveBucket never returns an error; failures are recorded per-bucket

	seeds := make([]uint32, bucketCount)
	var leftover [][]byte
	var perfectKeys []string // perfectKeys[slot] = key bytes, built incrementally

	for i, r := range results {
		if len(buckets[i].Keys) == 0 {
			continue
		}
		if !r.ok {
			leftover = append(leftover, buckets[i].Keys...)
			continue
		}
		seeds[i] = r.seed
		for _, k := range r.order {
			perfectKeys = append(perfectKeys, string(k))
		}
	}

	fpSeed := randutil.Seed16()
	perfectFP := make([]uint64, len(perfectKeys))
	for i, k := range perfectKeys {
		perfectFP[i] = phf.FingerprintOf(fpSeed, []byte(k))
	}
	overflowFP, overflowSlot := phf.BuildOverflow(fpSeed, uint64(len(perfectFP)), leftover)

	// bucketOffset[i] is the perfect-region base slot for bucket i,
	// computed from the successful buckets' sizes in index order so
	// SlotFor can recompute it without storing a key->slot map.
	bucketOffset := make([]uint32, bucketCount)
	var off uint64
	for i, r := range results {
		bucketOffset[i] = uint32(off)
		if len(buckets[i].Keys) > 0 && r.ok {
			off += uint64(len(r.order))
		}
	}

	h := &Hasher{
		Base: phf.Base{
			FPSeed:       fpSeed,
			PerfectFP:    perfectFP,
			OverflowFP:   overflowFP,
			OverflowSlot: overflowSlot,
		},
		seeds:       phf.NewSeedTable(seeds),
		offsets:     bucketOffset,
		bucketCount: bucketCount,
		leafSize:    b.leafSize,
		salt:        b.seed,
	}
	return h, nil
}

// solveBucket searches for a seed such that primary(key) rotated by
// seed, modulo len(keys), maps the bucket's keys bijectively onto
// [0, len(keys)).
func solveBucket(keys [][]byte, primary func([]byte) uint64, maxSeed uint32) (uint32, [][]byte, bool) {
	n := uint64(len(keys))
	used := make([]bool, n)
	order := make([][]byte, n)
	for s := uint32(1); s < maxSeed; s++ {
		for i := range used {
			used[i] = false
		}
		ok := true
		for _, k := range keys {
			slot := intraSlot(primary(k), s, n)
			if used[slot] {
				ok = false
				break
			}
			used[slot] = true
			order[slot] = k
		}
		if ok {
			out := make([][]byte, n)
			copy(out, order)
			return s, out, true
		}
	}
	return 0, nil, false
}

func intraSlot(h uint64, seed uint32, n uint64) uint64 {
	h ^= uint64(seed) * 0x9E3779B97F4A7C15
	h ^= h >> 33
	h *= 0xff51afd7ed558ccd
	h ^= h >> 33
	return h % n
}

// Hasher is a built RecSplit minimal perfect hash.
type Hasher struct {
	phf.Base
	seeds       phf.SeedTable
	offsets     []uint32
	bucketCount uint64
	leafSize    int
	salt        uint64
}

var _ phf.Hasher = (*Hasher)(nil)

// SlotFor implements phf.Hasher.
func (h *Hasher) SlotFor(key []byte) (uint64, bool) {
	if h.bucketCount == 0 {
		return h.Query(key, 0, false)
	}
	primary := fasthash.Hash64(h.salt, key)
	bucket := primary % h.bucketCount
	seed := h.seeds.Get(bucket)
	bucketSize := h.bucketSize(bucket)
	if bucketSize == 0 {
		return h.Query(key, 0, false)
	}
	candidate := uint64(h.offsets[bucket]) + intraSlot(primary, seed, bucketSize)
	return h.Query(key, candidate, true)
}

func (h *Hasher) bucketSize(bucket uint64) uint64 {
	next := h.PerfectCount()
	if bucket+1 < uint64(len(h.offsets)) {
		next = uint64(h.offsets[bucket+1])
	}
	return next - uint64(h.offsets[bucket])
}

// Stats implements phf.Hasher.
func (h *Hasher) Stats() phf.Stats { return h.Base.Stats("recsplit") }

// Serialize implements phf.Hasher.
func (h *Hasher) Serialize() ([]byte, error) {
	env := phf.Envelope{
		Algo:          phf.AlgoRecSplit,
		Params:        []uint32{uint32(h.leafSize), uint32(h.bucketCount)},
		FPSeed:        h.FPSeed,
		PerfectCount:  h.PerfectCount(),
		OverflowCount: h.OverflowCount(),
	}
	buf := phf.EncodeEnvelope(nil, env)
	var tmp8 [8]byte
	for i := 0; i < 8; i++ {
		tmp8[i] = byte(h.salt >> (8 * i))
	}
	buf = append(buf, tmp8[:]...)
	buf = h.seeds.Encode(buf)
	offsets64 := make([]uint64, len(h.offsets))
	for i, v := range h.offsets {
		offsets64[i] = uint64(v)
	}
	buf = phf.EncodeUint64Vector(buf, offsets64)
	buf = phf.EncodeUint64Vector(buf, h.PerfectFP)
	buf = phf.EncodeUint64Vector(buf, h.OverflowFP)
	buf = phf.EncodeUint64Vector(buf, h.OverflowSlot)
	return buf, nil
}

// Deserialize reconstructs a Hasher from bytes produced by Serialize.
func Deserialize(data []byte) (*Hasher, error) {
	env, rest, err := phf.DecodeEnvelope(data, phf.AlgoRecSplit)
	if err != nil {
		return nil, fmt.Errorf("phf/recsplit: %w", err)
	}
	if len(env.Params) != 2 {
		return nil, fmt.Errorf("phf/recsplit: %w: expected 2 params, saw %d", phf.ErrInvalidFormat, len(env.Params))
	}
	leafSize := int(env.Params[0])
	bucketCount := uint64(env.Params[1])

	if len(rest) < 8 {
		return nil, fmt.Errorf("phf/recsplit: %w: salt truncated", phf.ErrInvalidFormat)
	}
	var salt uint64
	for i := 0; i < 8; i++ {
		salt |= uint64(rest[i]) << (8 * i)
	}
	rest = rest[8:]

	seeds, rest, err := phf.DecodeSeedTable(rest)
	if err != nil {
		return nil, fmt.Errorf("phf/recsplit: %w", err)
	}
	offsets64, rest, err := phf.DecodeUint64Vector(rest)
	if err != nil {
		return nil, fmt.Errorf("phf/recsplit: %w", err)
	}
	perfectFP, rest, err := phf.DecodeUint64Vector(rest)
	if err != nil {
		return nil, fmt.Errorf("phf/recsplit: %w", err)
	}
	overflowFP, rest, err := phf.DecodeUint64Vector(rest)
	if err != nil {
		return nil, fmt.Errorf("phf/recsplit: %w", err)
	}
	overflowSlot, _, err := phf.DecodeUint64Vector(rest)
	if err != nil {
		return nil, fmt.Errorf("phf/recsplit: %w", err)
	}

	offsets := make([]uint32, len(offsets64))
	for i, v := range offsets64 {
		offsets[i] = uint32(v)
	}

	h := &Hasher{
		Base: phf.Base{
			FPSeed:       env.FPSeed,
			PerfectFP:    perfectFP,
			OverflowFP:   overflowFP,
			OverflowSlot: overflowSlot,
		},
		seeds:       seeds,
		offsets:     offsets,
		bucketCount: bucketCount,
		leafSize:    leafSize,
		salt:        salt,
	}
	return h, nil
}
