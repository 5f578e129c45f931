package chd

import (
	"fmt"
	"testing"

	"github.com/opencoff/maph/internal/testutil"
)

func genKeys(n int) [][]byte {
	keys := make([][]byte, n)
	for i := range keys {
		keys[i] = []byte(fmt.Sprintf("key-%06d", i))
	}
	return keys
}

func TestBuildAndQueryAllKeys(t *testing.T) {
	assert := testutil.New(t)

	keys := genKeys(500)
	h, err := NewBuilder().AddAll(keys).Build()
	assert(err == nil, "build failed: %v", err)

	seen := make(map[uint64]bool)
	for _, k := range keys {
		slot, ok := h.SlotFor(k)
		assert(ok, "key %q not found after build", k)
		assert(slot < h.MaxSlots(), "slot %d out of range (max %d)", slot, h.MaxSlots())
		assert(!seen[slot], "slot %d reused: not a perfect hash", slot)
		seen[slot] = true
	}
}

func TestUnknownKeyMostlyMisses(t *testing.T) {
	keys := genKeys(200)
	h, err := NewBuilder().AddAll(keys).Build()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	misses := 0
	for i := 0; i < 1000; i++ {
		k := []byte(fmt.Sprintf("absent-%d", i))
		if _, ok := h.SlotFor(k); !ok {
			misses++
		}
	}
	if misses < 990 {
		t.Fatalf("too many false positives: %d/1000 keys reported found", 1000-misses)
	}
}

func TestEmptyKeySetErrors(t *testing.T) {
	_, err := NewBuilder().Build()
	if err == nil {
		t.Fatalf("expected an error building from zero keys")
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	assert := testutil.New(t)

	keys := genKeys(300)
	h, err := NewBuilder().AddAll(keys).Build()
	assert(err == nil, "build failed: %v", err)

	data, err := h.Serialize()
	assert(err == nil, "serialize failed: %v", err)

	h2, err := Deserialize(data)
	assert(err == nil, "deserialize failed: %v", err)
	assert(h2.MaxSlots() == h.MaxSlots(), "max slots mismatch after round trip")

	for _, k := range keys {
		want, ok := h.SlotFor(k)
		assert(ok, "original hasher lost key %q", k)
		got, ok := h2.SlotFor(k)
		assert(ok, "deserialized hasher lost key %q", k)
		assert(got == want, "slot mismatch for %q: %d != %d", k, got, want)
	}
}

func TestDuplicateKeysDeduped(t *testing.T) {
	assert := testutil.New(t)

	keys := genKeys(50)
	keys = append(keys, keys[0], keys[1])
	h, err := NewBuilder().AddAll(keys).Build()
	assert(err == nil, "build failed: %v", err)
	assert(h.PerfectCount()+h.OverflowCount() == h.MaxSlots(), "slot accounting inconsistent")
}
