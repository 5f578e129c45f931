package pthash

import (
	"fmt"
	"testing"

	"github.com/opencoff/maph/internal/testutil"
)

func genKeys(n int) [][]byte {
	keys := make([][]byte, n)
	for i := range keys {
		keys[i] = []byte(fmt.Sprintf("pthash-key-%06d", i))
	}
	return keys
}

func TestBuildAndQueryAllKeys(t *testing.T) {
	assert := testutil.New(t)

	keys := genKeys(400)
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

func TestSerializeRoundTrip(t *testing.T) {
	assert := testutil.New(t)

	keys := genKeys(200)
	h, err := NewBuilder().AddAll(keys).Build()
	assert(err == nil, "build failed: %v", err)

	data, err := h.Serialize()
	assert(err == nil, "serialize failed: %v", err)

	h2, err := Deserialize(data)
	assert(err == nil, "deserialize failed: %v", err)

	for _, k := range keys {
		want, _ := h.SlotFor(k)
		got, ok := h2.SlotFor(k)
		assert(ok, "deserialized hasher lost key %q", k)
		assert(got == want, "slot mismatch for %q: %d != %d", k, got, want)
	}
}

func TestEmptyKeySetErrors(t *testing.T) {
	_, err := NewBuilder().Build()
	if err == nil {
		t.Fatalf("expected an error building from zero keys")
	}
}
