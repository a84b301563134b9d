package stash

import "errors"

var (
	// ErrDuplicateContract is returned when an identical genesis is already
	// stored (content-addressed dedup).
	ErrDuplicateContract = errors.New("stash: duplicate contract")

	// ErrUnknownContract is returned for operations on a contract id this
	// vault has never seen.
	ErrUnknownContract = errors.New("stash: unknown contract")

	// ErrUnknownSeal is returned when a consumed input seal is not a live
	// allocation of the contract.
	ErrUnknownSeal = errors.New("stash: unknown input seal")

	// ErrDoubleSpend is returned when an input seal was already consumed by
	// a previously recorded transition.
	ErrDoubleSpend = errors.New("stash: input seal already spent")

	// ErrSchemaMismatch is returned when importing a genesis whose schema
	// this node has no registered semantics for.
	ErrSchemaMismatch = errors.New("stash: unsupported contract schema")

	// ErrSealRevealMismatch is returned when a blind seal's secret does not
	// open to the claimed outpoint. Fatal: the consignment is corrupted or
	// malicious.
	ErrSealRevealMismatch = errors.New("stash: seal reveal mismatch")

	// ErrMissingOpening is returned when a transition carries a concealed
	// output without a matching value-commitment opening, leaving
	// conservation unverifiable.
	ErrMissingOpening = errors.New("stash: missing value-commitment opening")
)
