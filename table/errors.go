package table

import "errors"

var (
	// ErrKeyNotFound is returned when a key is absent, or no slot
	// can be located for it.
	ErrKeyNotFound = errors.New("table: key not found")

	// ErrTableFull is returned when a probe sequence is exhausted
	// without finding an empty or matching slot.
	ErrTableFull = errors.New("table: probe sequence exhausted")
)
