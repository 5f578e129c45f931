package oahash

import (
	"testing"

	"github.com/opencoff/maph/internal/testutil"
)

func TestProbeSequenceLengthAndBound(t *testing.T) {
	assert := testutil.New(t)

	h := New(64)
	seq := h.ProbeSequence([]byte("hello"))
	assert(len(seq) == DefaultMaxProbes, "expected %d probes, got %d", DefaultMaxProbes, len(seq))
	for _, idx := range seq {
		assert(idx < 64, "probe index %d out of range", idx)
	}
}

func TestProbeSequenceDeterministic(t *testing.T) {
	assert := testutil.New(t)

	h := New(128)
	a := h.ProbeSequence([]byte("same-key"))
	b := h.ProbeSequence([]byte("same-key"))
	assert(len(a) == len(b), "probe sequence length not stable")
	for i := range a {
		assert(a[i] == b[i], "probe sequence not deterministic at step %d: %d != %d", i, a[i], b[i])
	}
}

func TestZeroMaxProbesIsEmpty(t *testing.T) {
	assert := testutil.New(t)

	h := New(64).WithMaxProbes(0)
	seq := h.ProbeSequence([]byte("x"))
	assert(len(seq) == 0, "expected empty probe sequence with max-probes 0, got %d entries", len(seq))
}

func TestNegativeMaxProbesClampedToZero(t *testing.T) {
	h := New(64).WithMaxProbes(-5)
	if h.MaxProbes() != 0 {
		t.Fatalf("expected negative max-probes to clamp to 0, got %d", h.MaxProbes())
	}
}

func TestProbeSequenceBoundedBySlotCount(t *testing.T) {
	assert := testutil.New(t)

	h := New(4).WithMaxProbes(10)
	seq := h.ProbeSequence([]byte("y"))
	assert(len(seq) == 4, "probe sequence should be capped at slot count, got %d", len(seq))
}

func TestProbeSequenceWraps(t *testing.T) {
	assert := testutil.New(t)

	h := New(8)
	start := h.Hash([]byte("wrap-key")) % 8
	seq := h.ProbeSequence([]byte("wrap-key"))
	for i, idx := range seq {
		want := (start + uint64(i)) % 8
		assert(idx == want, "probe step %d: got %d want %d", i, idx, want)
	}
}
