// Package maph is a fixed-capacity, memory-mappable key/value store
// indexed by a minimal perfect hash function, with an open-addressing
// phase before the first Optimize call has a key set to build from. It
// is the root facade gluing together slot, storage, fingerprint,
// oahash, the phf variants, journal, and table.
//
// A DB starts as a linear-probe table; Optimize compiles the live key
// set into a perfect hash and swaps the new table in without ever
// taking the store offline.
package maph

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/opencoff/maph/internal/randutil"
	"github.com/opencoff/maph/journal"
	"github.com/opencoff/maph/oahash"
	"github.com/opencoff/maph/phf"
	"github.com/opencoff/maph/phf/bbhash"
	"github.com/opencoff/maph/phf/chd"
	"github.com/opencoff/maph/phf/fch"
	"github.com/opencoff/maph/phf/pthash"
	"github.com/opencoff/maph/phf/recsplit"
	"github.com/opencoff/maph/storage"
	"github.com/opencoff/maph/table"
)

// metaMagic tags the small sidecar file that records what Create/
// Optimize can't otherwise recover from the data file alone: whether
// the table is in probe or perfect mode, the probe bound, the tag
// seed, and (in perfect mode) the serialized hasher. Hand-rolled
// little-endian encoding, matching storage/format.go's own header
// style, rather than pulling in an encoding package for one small
// struct.
const metaMagic = uint32(0x4D504d54) // "MPMT"

func metaPath(path string) string { return path + ".meta" }

// writeMeta writes the sidecar to the exact file named by dst (callers
// pass metaPath(...) or a temp name they rename into place afterward).
func writeMeta(dst string, algo uint32, maxProbes int32, tagSeed uint64, hasher []byte) error {
	buf := make([]byte, 0, 24+len(hasher))
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], metaMagic)
	buf = append(buf, tmp[:]...)
	binary.LittleEndian.PutUint32(tmp[:], algo)
	buf = append(buf, tmp[:]...)
	binary.LittleEndian.PutUint32(tmp[:], uint32(maxProbes))
	buf = append(buf, tmp[:]...)
	var tmp8 [8]byte
	binary.LittleEndian.PutUint64(tmp8[:], tagSeed)
	buf = append(buf, tmp8[:]...)
	binary.LittleEndian.PutUint32(tmp[:], uint32(len(hasher)))
	buf = append(buf, tmp[:]...)
	buf = append(buf, hasher...)
	return os.WriteFile(dst, buf, 0644)
}

type metaInfo struct {
	algo      uint32
	maxProbes int32
	tagSeed   uint64
	hasher    []byte
}

func readMeta(path string) (metaInfo, error) {
	raw, err := os.ReadFile(metaPath(path))
	if err != nil {
		return metaInfo{}, fmt.Errorf("%w: %v", ErrIO, err)
	}
	if len(raw) < 24 {
		return metaInfo{}, fmt.Errorf("%w: meta file truncated", ErrInvalidFormat)
	}
	if binary.LittleEndian.Uint32(raw[0:4]) != metaMagic {
		return metaInfo{}, fmt.Errorf("%w: bad meta magic", ErrInvalidFormat)
	}
	m := metaInfo{
		algo:      binary.LittleEndian.Uint32(raw[4:8]),
		maxProbes: int32(binary.LittleEndian.Uint32(raw[8:12])),
		tagSeed:   binary.LittleEndian.Uint64(raw[12:20]),
	}
	n := binary.LittleEndian.Uint32(raw[20:24])
	if uint32(len(raw)-24) < n {
		return metaInfo{}, fmt.Errorf("%w: meta hasher truncated", ErrInvalidFormat)
	}
	m.hasher = raw[24 : 24+n]
	return m, nil
}

// DB is a single mutable key/value store. Exactly one table.Table is
// live at a time; Optimize swaps in a freshly built one atomically so
// concurrent Gets never observe a half-built table.
type DB struct {
	mu      sync.Mutex // serializes Set/Remove/Optimize
	tbl     atomic.Pointer[table.Table]
	hasher  phf.Hasher       // the live perfect hasher; nil in probe mode
	journal *journal.Journal // nil when journaling is disabled
	cfg     Config
	tagSeed uint64

	path     string // "" for an in-memory DB
	readOnly bool
}

func newJournal(cfg Config) *journal.Journal {
	if !cfg.EnableJournal {
		return nil
	}
	return journal.New()
}

func wrapCache(cfg Config, backend storage.Backend) (storage.Backend, error) {
	if !cfg.EnableCache {
		return backend, nil
	}
	return storage.NewCached(backend, cfg.CacheSize)
}

// CreateMemory builds a new, purely in-memory DB in open-addressing
// mode, per cfg.
func CreateMemory(cfg Config) (*DB, error) {
	if cfg.SlotCount == 0 {
		return nil, fmt.Errorf("%w: SlotCount must be > 0", ErrInvalidArgument)
	}
	backend, err := wrapCache(cfg, storage.NewMemory(cfg.SlotCount))
	if err != nil {
		return nil, err
	}
	return newFromProbe(cfg, backend, "", false)
}

// Create creates a new, file-backed DB at path in open-addressing
// mode, per cfg.
func Create(path string, cfg Config) (*DB, error) {
	if cfg.SlotCount == 0 {
		return nil, fmt.Errorf("%w: SlotCount must be > 0", ErrInvalidArgument)
	}
	mm, err := storage.Create(path, cfg.SlotCount)
	if err != nil {
		return nil, err
	}
	backend, err := wrapCache(cfg, mm)
	if err != nil {
		mm.Close()
		return nil, err
	}
	db, err := newFromProbe(cfg, backend, path, false)
	if err != nil {
		backend.Close()
		return nil, err
	}
	if err := writeMeta(metaPath(path), 0, int32(cfg.MaxProbes), db.tagSeed, nil); err != nil {
		db.tbl.Load().Close()
		os.Remove(path)
		return nil, err
	}
	return db, nil
}

func newFromProbe(cfg Config, backend storage.Backend, path string, readOnly bool) (*DB, error) {
	tagSeed := randutil.Uint64()
	h := oahash.New(cfg.SlotCount).WithMaxProbes(cfg.MaxProbes)
	tbl := table.NewProbe(h, backend, tagSeed)

	db := &DB{
		journal:  newJournal(cfg),
		cfg:      cfg,
		tagSeed:  tagSeed,
		path:     path,
		readOnly: readOnly,
	}
	db.tbl.Store(tbl)
	return db, nil
}

// Open opens an existing file-backed DB at path. If readOnly, every
// mutating call returns ErrPermissionDenied, matching the underlying
// mmap's own read-only protection.
func Open(path string, readOnly bool) (*DB, error) {
	meta, err := readMeta(path)
	if err != nil {
		return nil, err
	}
	mm, err := storage.Open(path, readOnly)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	cfg.SlotCount = mm.SlotCount()
	cfg.MaxProbes = int(meta.maxProbes)
	cfg.EnableJournal = !readOnly
	cfg.EnableCache = false

	var backend storage.Backend = mm
	db := &DB{
		journal:  newJournal(cfg),
		cfg:      cfg,
		tagSeed:  meta.tagSeed,
		path:     path,
		readOnly: readOnly,
	}

	if meta.algo == 0 {
		h := oahash.New(mm.SlotCount()).WithMaxProbes(int(meta.maxProbes))
		db.tbl.Store(table.NewProbe(h, backend, meta.tagSeed))
		return db, nil
	}

	h, err := decodeHasher(meta.algo, meta.hasher)
	if err != nil {
		mm.Close()
		return nil, err
	}
	db.hasher = h
	db.tbl.Store(table.NewPerfect(h, backend, meta.tagSeed))
	return db, nil
}

func decodeHasher(algo uint32, data []byte) (phf.Hasher, error) {
	var h phf.Hasher
	var err error
	switch algo {
	case phf.AlgoCHD:
		h, err = chd.Deserialize(data)
	case phf.AlgoRecSplit:
		h, err = recsplit.Deserialize(data)
	case phf.AlgoBBHash:
		h, err = bbhash.Deserialize(data)
	case phf.AlgoPTHash:
		h, err = pthash.Deserialize(data)
	case phf.AlgoFCH:
		h, err = fch.Deserialize(data)
	default:
		return nil, fmt.Errorf("%w: unknown algorithm id %d", ErrInvalidFormat, algo)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	return h, nil
}

// Get returns the value stored for key.
func (db *DB) Get(key []byte) ([]byte, error) {
	return db.tbl.Load().Get(key)
}

// Contains reports whether key is present.
func (db *DB) Contains(key []byte) bool {
	_, err := db.Get(key)
	return err == nil
}

// GetOr returns the value for key, or def if key is absent.
func (db *DB) GetOr(key, def []byte) []byte {
	v, err := db.Get(key)
	if err != nil {
		return def
	}
	return v
}

// Set stores value under key. DB serializes Set with other
// Set/Remove/Update/Optimize calls internally, and concurrent Gets
// from other goroutines are always safe.
func (db *DB) Set(key, value []byte) error {
	if db.readOnly {
		return ErrPermissionDenied
	}
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.tbl.Load().Set(key, value); err != nil {
		return err
	}
	if db.journal != nil {
		db.journal.RecordInsert(key)
	}
	return nil
}

// Remove deletes key, if present.
func (db *DB) Remove(key []byte) error {
	if db.readOnly {
		return ErrPermissionDenied
	}
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.tbl.Load().Remove(key); err != nil {
		return err
	}
	if db.journal != nil {
		db.journal.RecordRemove(key)
	}
	return nil
}

// Update replaces the value at key with f(old), serializing with
// other writers via the same lock Set/Remove use. A key that cannot
// be read returns ErrKeyNotFound without calling f; Update never
// creates a key.
func (db *DB) Update(key []byte, f func(old []byte) []byte) error {
	if db.readOnly {
		return ErrPermissionDenied
	}
	db.mu.Lock()
	defer db.mu.Unlock()

	t := db.tbl.Load()
	old, err := t.Get(key)
	if err != nil {
		return err
	}
	return t.Set(key, f(old))
}

// Pair is one key/value entry for SetAll.
type Pair struct {
	Key, Value []byte
}

// SetAll applies Set to every pair. It is NOT atomic across pairs: a
// failure partway through leaves the preceding pairs committed. The
// first error aborts and is returned.
func (db *DB) SetAll(pairs []Pair) error {
	for _, p := range pairs {
		if err := db.Set(p.Key, p.Value); err != nil {
			return err
		}
	}
	return nil
}

// Size returns the number of occupied slots.
func (db *DB) Size() uint64 {
	return db.tbl.Load().Stats().UsedSlots
}

// LoadFactor returns UsedSlots/TotalSlots.
func (db *DB) LoadFactor() float64 {
	return db.tbl.Load().Stats().LoadFactor
}

// Empty reports whether the table currently holds no keys.
func (db *DB) Empty() bool {
	return db.Size() == 0
}

// Stats reports the DB's occupancy plus, once a perfect hasher is
// live, that hasher's shape (algorithm, perfect/overflow counts,
// bits per key).
type Stats struct {
	TotalSlots uint64
	UsedSlots  uint64
	LoadFactor float64
	Hasher     *phf.Stats // nil while still in open-addressing mode
}

// Stats computes occupancy with a full scan of the slot array's empty
// flags.
func (db *DB) Stats() Stats {
	ts := db.tbl.Load().Stats()
	s := Stats{
		TotalSlots: ts.TotalSlots,
		UsedSlots:  ts.UsedSlots,
		LoadFactor: ts.LoadFactor,
	}
	db.mu.Lock()
	if db.hasher != nil {
		hs := db.hasher.Stats()
		s.Hasher = &hs
	}
	db.mu.Unlock()
	return s
}

// Optimize rebuilds the perfect-hash region from the journal's live
// key set and atomically swaps it in. Readers using the old
// *table.Table never observe a partially built one; Gets in flight
// during Optimize complete against whichever table they loaded.
//
// Optimize requires journaling to have been enabled; without a
// journal there is no authoritative live key set to rebuild from
// (the backend stores only fingerprints and tags, never key bytes).
func (db *DB) Optimize() error {
	if db.readOnly {
		return ErrPermissionDenied
	}
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.journal == nil {
		return fmt.Errorf("%w: journaling disabled, no key set to rebuild from", ErrOptimizationFailed)
	}
	keys := db.journal.Keys()
	if len(keys) == 0 {
		return fmt.Errorf("%w: no live keys", ErrOptimizationFailed)
	}

	h, algoID, err := buildHasher(db.cfg.Algorithm, keys)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOptimizationFailed, err)
	}

	oldTbl := db.tbl.Load()
	newBackend, publish, abort, err := db.rebuildBackend(h.MaxSlots())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOptimizationFailed, err)
	}

	newTbl := table.NewPerfect(h, newBackend, db.tagSeed)
	for _, k := range keys {
		v, err := oldTbl.Get(k)
		if err != nil {
			abort()
			return fmt.Errorf("%w: journal key missing from live table: %v", ErrOptimizationFailed, err)
		}
		if err := newTbl.Set(k, v); err != nil {
			abort()
			return fmt.Errorf("%w: %v", ErrOptimizationFailed, err)
		}
	}

	if db.path != "" {
		// Stage everything fallible before the renames so a failure
		// here still leaves the pre-optimize files untouched.
		ser, err := h.Serialize()
		if err != nil {
			abort()
			return fmt.Errorf("%w: %v", ErrOptimizationFailed, err)
		}
		metaTmp := metaPath(db.path) + ".tmp"
		if err := writeMeta(metaTmp, algoID, int32(db.cfg.MaxProbes), db.tagSeed, ser); err != nil {
			abort()
			os.Remove(metaTmp)
			return err
		}
		if err := publish(); err != nil {
			abort()
			os.Remove(metaTmp)
			return fmt.Errorf("%w: %v", ErrIO, err)
		}
		if err := os.Rename(metaTmp, metaPath(db.path)); err != nil {
			return fmt.Errorf("%w: %v", ErrIO, err)
		}
	}

	db.tbl.Store(newTbl)
	db.hasher = h
	oldTbl.Close()

	// The rebuilt table IS the live key set now; re-seed the journal
	// from it so the next Optimize still has an authoritative input.
	db.journal.Clear()
	for _, k := range keys {
		db.journal.RecordInsert(k)
	}
	return nil
}

// rebuildBackend allocates the storage Optimize's new table needs: an
// in-memory array for a memory DB, or a freshly sized mmap file for a
// file-backed one. For a file-backed DB the new file is created
// alongside the original under a temp name; publish flushes it and
// renames it over the live path once fully populated, while abort
// discards it, so neither a failed rebuild nor a crash mid-rebuild
// ever clobbers the live, still-good original.
func (db *DB) rebuildBackend(slotCount uint64) (backend storage.Backend, publish func() error, abort func(), err error) {
	if db.path == "" {
		backend, err = wrapCache(db.cfg, storage.NewMemory(slotCount))
		if err != nil {
			return nil, nil, nil, err
		}
		return backend, func() error { return nil }, func() { backend.Close() }, nil
	}

	tmp := db.path + ".optimize.tmp"
	os.Remove(tmp)
	mm, err := storage.Create(tmp, slotCount)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	backend, err = wrapCache(db.cfg, mm)
	if err != nil {
		mm.Close()
		os.Remove(tmp)
		return nil, nil, nil, err
	}
	publish = func() error {
		if err := mm.Flush(); err != nil {
			return err
		}
		// Renaming over the live path while both files are mapped is
		// fine: each mapping pins its own inode.
		return os.Rename(tmp, db.path)
	}
	abort = func() {
		backend.Close()
		os.Remove(tmp)
	}
	return backend, publish, abort, nil
}

func buildHasher(algo Algorithm, keys [][]byte) (phf.Hasher, uint32, error) {
	switch algo {
	case AlgoRecSplit:
		h, err := recsplit.NewBuilder().AddAll(keys).Build()
		return h, phf.AlgoRecSplit, err
	case AlgoBBHash:
		h, err := bbhash.NewBuilder().AddAll(keys).Build()
		return h, phf.AlgoBBHash, err
	case AlgoPTHash:
		h, err := pthash.NewBuilder().AddAll(keys).Build()
		return h, phf.AlgoPTHash, err
	case AlgoFCH:
		h, err := fch.NewBuilder().AddAll(keys).Build()
		return h, phf.AlgoFCH, err
	case AlgoCHD:
		fallthrough
	default:
		h, err := chd.NewBuilder().AddAll(keys).Build()
		return h, phf.AlgoCHD, err
	}
}

// Close releases the DB's underlying storage resources. The DB must
// not be used afterward.
func (db *DB) Close() error {
	return db.tbl.Load().Close()
}
