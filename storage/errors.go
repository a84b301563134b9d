package storage

import "errors"

// Sentinel errors shared by every block store backend. Callers branch on
// these rather than on backend-specific failures.
var (
	// ErrNotFound reports a block absent from the store.
	ErrNotFound = errors.New("storage: block not found")

	// ErrInvalidCID reports an undefined or unparseable block id.
	ErrInvalidCID = errors.New("storage: invalid block id")

	// ErrCIDMismatch reports stored bytes that no longer hash to their id.
	// Vault blocks are canonical documents, so this means on-disk
	// corruption, not a logic error.
	ErrCIDMismatch = errors.New("storage: block does not match its id")

	// ErrImmutable reports an attempt to store different bytes under an
	// id that already holds a block.
	ErrImmutable = errors.New("storage: block is immutable")
)

// IsNotFound reports whether err means the block does not exist.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
