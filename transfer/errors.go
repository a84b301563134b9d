package transfer

import "errors"

var (
	// ErrSealReserved is returned when a transfer tries to consume a seal
	// already committed to another in-flight transfer.
	ErrSealReserved = errors.New("transfer: input seal reserved by an in-flight transfer")

	// ErrNoBroadcaster is returned when Transfer runs without a configured
	// witness broadcaster.
	ErrNoBroadcaster = errors.New("transfer: no broadcaster configured")

	// ErrRejected is returned by Accept when validation found hard
	// failures. The consignment must not be retried as-is.
	ErrRejected = errors.New("transfer: consignment rejected")

	// ErrNotConfirmed is returned by Accept when the consignment is sound
	// but some witness transactions are not yet confirmed. Retry later.
	ErrNotConfirmed = errors.New("transfer: witness not yet confirmed")

	// ErrNotDisclosure is returned by Enclose for a bundle that is not a
	// disclosure.
	ErrNotDisclosure = errors.New("transfer: bundle is not a disclosure")
)
