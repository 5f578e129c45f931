package maph

import (
	"errors"

	"github.com/opencoff/maph/slot"
	"github.com/opencoff/maph/storage"
	"github.com/opencoff/maph/table"
)

// The canonical error taxonomy. Where a lower package
// already owns the right sentinel, DB returns it directly rather than
// wrapping it in a look-alike — callers can errors.Is against either
// the maph or the underlying package's sentinel.
var (
	// ErrKeyNotFound is returned by Get/Remove/Update when key is not
	// present.
	ErrKeyNotFound = table.ErrKeyNotFound

	// ErrTableFull is returned by Set in open-addressing mode when a
	// key's probe sequence is exhausted.
	ErrTableFull = table.ErrTableFull

	// ErrValueTooLarge is returned by Set when the value exceeds a
	// slot's fixed payload capacity.
	ErrValueTooLarge = slot.ErrValueTooLarge

	// ErrPermissionDenied is returned by Set/Remove/Optimize on a
	// read-only (mmap Opened-read-only) DB.
	ErrPermissionDenied = storage.ErrPermissionDenied

	// ErrInvalidFormat is returned by Open when a file's header or a
	// serialized hasher fails validation.
	ErrInvalidFormat = storage.ErrInvalidFormat

	// ErrInvalidArgument is returned by Create/CreateMemory for
	// malformed Config values (a zero SlotCount).
	ErrInvalidArgument = errors.New("maph: invalid argument")

	// ErrOptimizationFailed is returned by Optimize if the chosen
	// algorithm's builder cannot be constructed (e.g. an empty
	// journal).
	ErrOptimizationFailed = errors.New("maph: optimization failed")

	// ErrIO wraps filesystem errors encountered outside the storage
	// package's own calls (e.g. the Optimize rename step).
	ErrIO = errors.New("maph: I/O error")
)
