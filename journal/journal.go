// Package journal tracks the live key set of a table so a perfect-hash
// rebuild has an authoritative input. A plain map plus an
// insertion-ordered slice: Keys needs an exact, orderable key list, not
// a probabilistic membership test.
package journal

// Journal is an append-only record of the keys currently live in a
// table. It is not consulted on Get; only Optimize reads it.
type Journal struct {
	index map[string]int // key -> position in order
	order []string
}

// New returns an empty Journal.
func New() *Journal {
	return &Journal{index: make(map[string]int)}
}

// RecordInsert records key as live. Idempotent: recording an
// already-live key is a no-op.
func (j *Journal) RecordInsert(key []byte) {
	s := string(key)
	if _, ok := j.index[s]; ok {
		return
	}
	j.index[s] = len(j.order)
	j.order = append(j.order, s)
}

// RecordRemove removes key from the live set, if present.
func (j *Journal) RecordRemove(key []byte) {
	s := string(key)
	pos, ok := j.index[s]
	if !ok {
		return
	}
	delete(j.index, s)
	j.order = append(j.order[:pos], j.order[pos+1:]...)
	for k := pos; k < len(j.order); k++ {
		j.index[j.order[k]] = k
	}
}

// Keys returns the live key set in insertion order, as a fresh copy of
// byte slices safe for the caller to retain.
func (j *Journal) Keys() [][]byte {
	out := make([][]byte, len(j.order))
	for i, s := range j.order {
		out[i] = []byte(s)
	}
	return out
}

// Len returns the number of live keys.
func (j *Journal) Len() int { return len(j.order) }

// Clear empties the journal. Optimize calls it before re-seeding the
// journal with the rebuilt key set.
func (j *Journal) Clear() {
	j.index = make(map[string]int)
	j.order = nil
}
