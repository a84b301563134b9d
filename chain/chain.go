// Package chain defines the thin boundary to the Bitcoin network.
//
// The vault never talks to a node directly. Confirmation lookups,
// broadcasting, and coin selection are behind small interfaces so tests and
// deployments can plug in fakes, RPC bridges, or the gRPC oracle.
package chain

import (
	"context"
	"errors"

	"github.com/libsv/go-bt/v2"

	"xdao.co/sealvault/seal"
)

// State classifies a witness transaction as seen by the oracle.
type State string

const (
	// StateUnconfirmed means the transaction is known but not yet mined.
	StateUnconfirmed State = "unconfirmed"

	// StateConfirmed means the transaction is mined; Depth carries the
	// confirmation count.
	StateConfirmed State = "confirmed"

	// StateNotFound means the oracle has never seen the transaction.
	StateNotFound State = "not-found"
)

// Status is the oracle's answer for one txid. Depth is meaningful only when
// State is StateConfirmed.
type Status struct {
	State State
	Depth uint32
}

// Confirmed reports whether the status carries at least min confirmations.
func (s Status) Confirmed(min uint32) bool {
	return s.State == StateConfirmed && s.Depth >= min
}

// ConfirmationOracle answers whether a witness transaction is mined.
//
// Oracle unavailability is a transient error, distinct from StateNotFound
// which is a definitive answer.
type ConfirmationOracle interface {
	Confirmation(ctx context.Context, txid string) (Status, error)
}

// Broadcaster submits a signed witness transaction to the network and
// returns its txid.
type Broadcaster interface {
	Broadcast(ctx context.Context, rawTx []byte) (string, error)
}

// UTXOSource lists outpoints the wallet can spend as witness inputs.
type UTXOSource interface {
	Unspent(ctx context.Context) ([]seal.Outpoint, error)
}

// ErrUnsupportedMethod is returned when a commitment template cannot be
// built for the requested seal closing method.
var ErrUnsupportedMethod = errors.New("chain: unsupported closing method for template")

// BuildCommitmentTemplate assembles an unsigned witness transaction that
// spends the given outpoints and embeds the commitment payload.
//
// For opret1st the payload goes into an OP_RETURN output, which by
// convention is the first output so the template must be signed without
// reordering. tapret1st needs a taproot output tweak that cannot be
// expressed as a plain output; callers using it must embed the payload in
// their own signer and only anchor the resulting txid here.
func BuildCommitmentTemplate(method seal.Method, inputs []seal.Outpoint, payload [32]byte) (*bt.Tx, error) {
	if len(inputs) == 0 {
		return nil, errors.New("chain: template needs at least one input")
	}
	if method != seal.MethodOpretFirst {
		return nil, ErrUnsupportedMethod
	}
	tx := bt.NewTx()
	for _, in := range inputs {
		if err := in.Validate(); err != nil {
			return nil, err
		}
		if err := tx.From(in.Txid, in.Vout, "", 0); err != nil {
			return nil, err
		}
	}
	if err := tx.AddOpReturnOutput(payload[:]); err != nil {
		return nil, err
	}
	return tx, nil
}
