// Package table composes one hasher (either an oahash.Hasher or a
// phf.Hasher) with one storage.Backend into the key/value contract:
// probe-sequence resolution before a perfect hash exists, direct
// placement after.
package table

import (
	"github.com/opencoff/maph/fingerprint"
	"github.com/opencoff/maph/storage"
)

// PerfectHasher is the subset of phf.Hasher a Table needs.
type PerfectHasher interface {
	SlotFor(key []byte) (uint64, bool)
	MaxSlots() uint64
}

// ProbeHasher is the subset of oahash.Hasher a Table needs.
type ProbeHasher interface {
	MaxSlots() uint64
	ProbeSequence(key []byte) []uint64
}

// Stats reports a table's occupancy.
type Stats struct {
	TotalSlots uint64
	UsedSlots  uint64
	LoadFactor float64
}

// Table composes a hasher and a storage backend. Exactly one of
// perfect or probe is set, selecting how keys resolve to slots.
type Table struct {
	backend storage.Backend
	tagSeed uint64
	perfect PerfectHasher
	probe   ProbeHasher
}

// NewPerfect builds a Table in perfect-hash mode.
func NewPerfect(h PerfectHasher, backend storage.Backend, tagSeed uint64) *Table {
	return &Table{backend: backend, tagSeed: tagSeed, perfect: h}
}

// NewProbe builds a Table in open-addressing (probe-sequence) mode.
func NewProbe(h ProbeHasher, backend storage.Backend, tagSeed uint64) *Table {
	return &Table{backend: backend, tagSeed: tagSeed, probe: h}
}

// IsPerfect reports whether this table is in perfect-hash mode.
func (t *Table) IsPerfect() bool { return t.perfect != nil }

// Backend returns the underlying storage backend.
func (t *Table) Backend() storage.Backend { return t.backend }

func (t *Table) tag(key []byte) uint32 {
	return fingerprint.Tag(t.tagSeed, key)
}

// Get returns the value stored for key.
func (t *Table) Get(key []byte) ([]byte, error) {
	if t.probe != nil {
		tag := t.tag(key)
		for _, idx := range t.probe.ProbeSequence(key) {
			if t.backend.IsEmpty(idx) {
				return nil, ErrKeyNotFound
			}
			if t.backend.TagAt(idx) == tag {
				if v, ok := t.backend.Read(idx); ok {
					return v, nil
				}
			}
		}
		return nil, ErrKeyNotFound
	}

	idx, ok := t.perfect.SlotFor(key)
	if !ok {
		return nil, ErrKeyNotFound
	}
	v, ok := t.backend.Read(idx)
	if !ok {
		return nil, ErrKeyNotFound
	}
	return v, nil
}

// Set stores value under key. In probe mode the first empty or
// tag-matching slot wins; in perfect mode the hasher dictates the
// slot, and a key outside the build set has none.
func (t *Table) Set(key, value []byte) error {
	tag := t.tag(key)
	if t.probe != nil {
		for _, idx := range t.probe.ProbeSequence(key) {
			if t.backend.IsEmpty(idx) || t.backend.TagAt(idx) == tag {
				return t.backend.Write(idx, tag, value)
			}
		}
		return ErrTableFull
	}

	idx, ok := t.perfect.SlotFor(key)
	if !ok {
		return ErrKeyNotFound
	}
	return t.backend.Write(idx, tag, value)
}

// Remove locates key as in Get, then clears its slot.
func (t *Table) Remove(key []byte) error {
	if t.probe != nil {
		tag := t.tag(key)
		for _, idx := range t.probe.ProbeSequence(key) {
			if t.backend.IsEmpty(idx) {
				return ErrKeyNotFound
			}
			if t.backend.TagAt(idx) == tag {
				return t.backend.Clear(idx)
			}
		}
		return ErrKeyNotFound
	}

	idx, ok := t.perfect.SlotFor(key)
	if !ok || t.backend.IsEmpty(idx) {
		return ErrKeyNotFound
	}
	return t.backend.Clear(idx)
}

// Stats computes occupancy via a full linear scan of empty flags.
func (t *Table) Stats() Stats {
	total := t.backend.SlotCount()
	var used uint64
	for i := uint64(0); i < total; i++ {
		if !t.backend.IsEmpty(i) {
			used++
		}
	}
	var lf float64
	if total > 0 {
		lf = float64(used) / float64(total)
	}
	return Stats{TotalSlots: total, UsedSlots: used, LoadFactor: lf}
}

// Close releases the underlying backend's resources.
func (t *Table) Close() error { return t.backend.Close() }
