package table

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/opencoff/maph/internal/testutil"
	"github.com/opencoff/maph/oahash"
	"github.com/opencoff/maph/phf/chd"
	"github.com/opencoff/maph/storage"
)

func TestProbeModeSetGetRemove(t *testing.T) {
	assert := testutil.New(t)

	backend := storage.NewMemory(64)
	h := oahash.New(64)
	tbl := NewProbe(h, backend, 0xfeed)
	assert(!tbl.IsPerfect(), "expected probe mode")

	key, val := []byte("alpha"), []byte("one")
	assert(tbl.Set(key, val) == nil, "set failed")

	got, err := tbl.Get(key)
	assert(err == nil, "get failed: %v", err)
	assert(bytes.Equal(got, val), "value mismatch: got %q want %q", got, val)

	_, err = tbl.Get([]byte("missing"))
	assert(err == ErrKeyNotFound, "expected ErrKeyNotFound, got %v", err)

	assert(tbl.Remove(key) == nil, "remove failed")
	_, err = tbl.Get(key)
	assert(err == ErrKeyNotFound, "key should be gone after remove")
}

func TestProbeModeTableFull(t *testing.T) {
	backend := storage.NewMemory(2)
	h := oahash.New(2)
	tbl := NewProbe(h, backend, 1)

	// Fill both slots with keys that collide into the same start
	// offset isn't guaranteed, but with only 2 slots and max probes
	// 10 > slotCount, every key's probe sequence spans both slots.
	if err := tbl.Set([]byte("k1"), []byte("v1")); err != nil {
		t.Fatalf("first set failed: %v", err)
	}
	if err := tbl.Set([]byte("k2"), []byte("v2")); err != nil {
		t.Fatalf("second set failed: %v", err)
	}
	if err := tbl.Set([]byte("k3"), []byte("v3")); err != ErrTableFull {
		t.Fatalf("expected ErrTableFull once both slots are taken, got %v", err)
	}
}

func TestPerfectModeSetGetStats(t *testing.T) {
	assert := testutil.New(t)

	keys := make([][]byte, 100)
	for i := range keys {
		keys[i] = []byte(fmt.Sprintf("key-%04d", i))
	}
	h, err := chd.NewBuilder().AddAll(keys).Build()
	assert(err == nil, "chd build failed: %v", err)

	backend := storage.NewMemory(h.MaxSlots())
	tbl := NewPerfect(h, backend, 0x1234)
	assert(tbl.IsPerfect(), "expected perfect-hash mode")

	for i, k := range keys {
		v := []byte(fmt.Sprintf("val-%d", i))
		assert(tbl.Set(k, v) == nil, "set failed for %q", k)
	}
	for i, k := range keys {
		v, err := tbl.Get(k)
		assert(err == nil, "get failed for %q: %v", k, err)
		want := []byte(fmt.Sprintf("val-%d", i))
		assert(bytes.Equal(v, want), "value mismatch for %q: got %q want %q", k, v, want)
	}

	stats := tbl.Stats()
	want := Stats{
		TotalSlots: h.MaxSlots(),
		UsedSlots:  uint64(len(keys)),
		LoadFactor: float64(len(keys)) / float64(h.MaxSlots()),
	}
	if diff := cmp.Diff(want, stats); diff != "" {
		t.Fatalf("Stats() mismatch (-want +got):\n%s", diff)
	}
}

func TestPerfectModeUnknownKeyNotFound(t *testing.T) {
	keys := [][]byte{[]byte("only-key")}
	h, err := chd.NewBuilder().AddAll(keys).Build()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	backend := storage.NewMemory(h.MaxSlots())
	tbl := NewPerfect(h, backend, 7)

	_, err = tbl.Get([]byte("never-inserted"))
	if err != ErrKeyNotFound {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestCloseDelegatesToBackend(t *testing.T) {
	backend := storage.NewMemory(4)
	tbl := NewProbe(oahash.New(4), backend, 0)
	if err := tbl.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
}
