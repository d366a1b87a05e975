// Package vmerr defines the error taxonomy of §7: sentinel errors returned
// by the core operations, plus the thread-id type they're indexed by.
package vmerr

import "errors"

// Tid identifies the thread (goroutine-equivalent) that owns a frame or is
// resolving a fault. Named Tid_t in the teacher; kept as a plain defined
// type here since this module has no device-number-style packed encoding to
// share the name with.
type Tid int64

// Sentinel errors matching §7's taxonomy. Callers compare with errors.Is;
// ErrFatal and ErrSwapExhausted are additionally raised via panic (wrapped
// with github.com/pkg/errors.Wrap for a stack trace) since §7 calls them
// unrecoverable at this layer.
var (
	// ErrOutOfMemory is raised when an FTE or SPTE cannot be allocated.
	ErrOutOfMemory = errors.New("vm: out of memory")
	// ErrDuplicateKey is raised by SPT insert when an entry already exists.
	ErrDuplicateKey = errors.New("vm: duplicate key")
	// ErrLoadFailed is raised by the page loader on short read or PTE
	// install failure.
	ErrLoadFailed = errors.New("vm: load failed")
	// ErrSwapExhausted is raised by eviction when no swap slot is free.
	ErrSwapExhausted = errors.New("vm: swap exhausted")
	// ErrFatal marks an unrecoverable kernel condition (no eligible
	// eviction victim, write-back I/O failure).
	ErrFatal = errors.New("vm: fatal")
	// ErrNotFound is not part of §7's taxonomy. No lookup in this module
	// returns it: lookups report a missing entry with a boolean.
	ErrNotFound = errors.New("vm: not found")
)
