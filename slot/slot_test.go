package slot

import (
	"bytes"
	"testing"

	"github.com/opencoff/maph/internal/testutil"
)

func newRaw() []byte {
	return make([]byte, Size)
}

func TestSlotEmptyByDefault(t *testing.T) {
	assert := testutil.New(t)

	v := New(newRaw())
	assert(v.IsEmpty(), "fresh slot should be empty")
	_, ok := v.Read()
	assert(!ok, "read of empty slot should miss")
}

func TestSlotRoundTrip(t *testing.T) {
	assert := testutil.New(t)

	v := New(newRaw())
	val := []byte(`{"hello":"world"}`)
	err := v.Write(0xdeadbeef, val)
	assert(err == nil, "write failed: %v", err)
	assert(!v.IsEmpty(), "slot should be occupied after write")

	got, ok := v.Read()
	assert(ok, "read after write should hit")
	assert(bytes.Equal(got, val), "round-trip mismatch: got %q want %q", got, val)
}

func TestSlotTagZeroRemapped(t *testing.T) {
	assert := testutil.New(t)

	v := New(newRaw())
	err := v.Write(0, []byte("x"))
	assert(err == nil, "write failed: %v", err)
	assert(v.Tag() != 0, "tag should never be stored as 0 on an occupied slot")
}

func TestSlotClear(t *testing.T) {
	assert := testutil.New(t)

	v := New(newRaw())
	_ = v.Write(7, []byte("payload"))
	v.Clear()
	assert(v.IsEmpty(), "slot should be empty after Clear")
	_, ok := v.Read()
	assert(!ok, "read after Clear should miss")
}

func TestSlotValueTooLarge(t *testing.T) {
	assert := testutil.New(t)

	v := New(newRaw())
	big := make([]byte, PayloadCapacity+1)
	err := v.Write(1, big)
	assert(err == ErrValueTooLarge, "expected ErrValueTooLarge, got %v", err)
}

func TestSlotExactCapacity(t *testing.T) {
	assert := testutil.New(t)

	v := New(newRaw())
	exact := bytes.Repeat([]byte{0xab}, PayloadCapacity)
	err := v.Write(9, exact)
	assert(err == nil, "write at exact capacity should succeed: %v", err)

	got, ok := v.Read()
	assert(ok, "read should hit")
	assert(bytes.Equal(got, exact), "exact-capacity round trip mismatch")
}

func TestSlotUpdateOverwritesValue(t *testing.T) {
	assert := testutil.New(t)

	v := New(newRaw())
	_ = v.Write(3, []byte("first"))
	_ = v.Write(3, []byte("second-value"))

	got, ok := v.Read()
	assert(ok, "read should hit")
	assert(string(got) == "second-value", "expected updated value, got %q", got)
}
