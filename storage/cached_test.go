package storage

import (
	"bytes"
	"testing"

	"github.com/opencoff/maph/internal/testutil"
)

func TestCachedReadThroughAndInvalidate(t *testing.T) {
	assert := testutil.New(t)

	inner := NewMemory(16)
	c, err := NewCached(inner, 8)
	assert(err == nil, "NewCached failed: %v", err)

	assert(c.IsEmpty(2), "slot 2 should start empty")

	err = c.Write(2, 0xabcd, []byte("hello"))
	assert(err == nil, "write failed: %v", err)
	assert(!c.IsEmpty(2), "slot 2 should be occupied after write")

	v, ok := c.Read(2)
	assert(ok, "read after write should hit")
	assert(bytes.Equal(v, []byte("hello")), "value mismatch: got %q", v)

	// second read should be served from cache but agree with inner.
	v2, ok := c.Read(2)
	assert(ok, "cached read should hit")
	assert(bytes.Equal(v2, v), "cached read diverged from first read")

	err = c.Clear(2)
	assert(err == nil, "clear failed: %v", err)
	assert(c.IsEmpty(2), "slot should be empty after clear")
	_, ok = c.Read(2)
	assert(!ok, "read after clear should miss")
}

func TestCachedDelegatesSlotCountAndTag(t *testing.T) {
	assert := testutil.New(t)

	inner := NewMemory(32)
	c, err := NewCached(inner, 4)
	assert(err == nil, "NewCached failed: %v", err)
	assert(c.SlotCount() == 32, "slot count not delegated: got %d", c.SlotCount())

	assert(c.Write(5, 99, []byte("v")) == nil, "write failed")
	assert(c.TagAt(5) == 99, "tag not delegated: got %d", c.TagAt(5))
}

func TestCachedDefaultCapacity(t *testing.T) {
	c, err := NewCached(NewMemory(4), 0)
	if err != nil {
		t.Fatalf("NewCached with zero capacity should default rather than error: %v", err)
	}
	if c == nil {
		t.Fatalf("expected a non-nil Cached backend")
	}
}
