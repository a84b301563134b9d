// Package transition implements state transitions, their witness anchors,
// and the transfer builder.
//
// A transition consumes prior allocations (by revealed seal) and produces
// new ones. Its identifier is the CID of its canonical bytes. The witness
// txid is deliberately not part of the transition document: the witness
// transaction embeds a commitment to the transition, so including the txid
// would be circular. The txid lives in a separate anchor document.
package transition

import (
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"

	"xdao.co/sealvault/conceal"
	"xdao.co/sealvault/contentid"
	"xdao.co/sealvault/schema"
	"xdao.co/sealvault/seal"
)

// Spec is the transition document format identifier.
const Spec = "sealvault-transition-1"

// Version is the transition document version.
const Version = "1"

var (
	// ErrBalanceMismatch is returned when input and output values do not
	// conserve under the contract's schema semantics.
	ErrBalanceMismatch = errors.New("transition: balance mismatch")

	// ErrUnexpectedChange is returned when a change amount is requested
	// without a change seal to bind it to.
	ErrUnexpectedChange = errors.New("transition: change amount without change seal")
)

// OutputKind distinguishes revealed from concealed outputs.
type OutputKind int

const (
	// KindRevealed outputs carry a plaintext amount bound to a revealed seal.
	KindRevealed OutputKind = iota
	// KindConcealed outputs carry a value commitment bound to a blind seal.
	KindConcealed
)

// Output is a produced allocation.
type Output struct {
	Kind OutputKind

	// Revealed form.
	Seal   seal.Revealed
	Amount uint64

	// Concealed form.
	Blind      seal.Blind
	Commitment conceal.Commitment
}

// RevealedOutput binds a plaintext amount to a revealed seal.
func RevealedOutput(s seal.Revealed, amount uint64) Output {
	return Output{Kind: KindRevealed, Seal: s, Amount: amount}
}

// ConcealedOutput binds a value commitment to a blind seal.
func ConcealedOutput(b seal.Blind, c conceal.Commitment) Output {
	return Output{Kind: KindConcealed, Blind: b, Commitment: c}
}

func (o Output) Validate() error {
	switch o.Kind {
	case KindRevealed:
		return o.Seal.Validate()
	case KindConcealed:
		return nil
	}
	return fmt.Errorf("transition: unknown output kind %d", o.Kind)
}

// Transition is a state update for one contract.
type Transition struct {
	ContractID cid.Cid
	Inputs     []seal.Revealed
	Outputs    []Output
}

// Validate checks structural well-formedness: at least one input and output,
// no duplicate inputs, valid seals.
func (t *Transition) Validate() error {
	if !t.ContractID.Defined() {
		return errors.New("transition: contract id is required")
	}
	if len(t.Inputs) == 0 {
		return errors.New("transition: at least one input is required")
	}
	if len(t.Outputs) == 0 {
		return errors.New("transition: at least one output is required")
	}
	seen := make(map[string]struct{}, len(t.Inputs))
	for _, in := range t.Inputs {
		if err := in.Validate(); err != nil {
			return err
		}
		key := in.String()
		if _, ok := seen[key]; ok {
			return fmt.Errorf("transition: duplicate input seal %s", key)
		}
		seen[key] = struct{}{}
	}
	for _, out := range t.Outputs {
		if err := out.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ID returns the transition identifier: the CID of the canonical bytes.
func (t *Transition) ID() (cid.Cid, error) {
	b, err := Render(t)
	if err != nil {
		return cid.Undef, err
	}
	return contentid.New(b)
}

// CheckConservation verifies sum(inputs) == sum(outputs) under the schema
// semantics. Output amounts for concealed outputs must already be resolved
// by the caller (from openings it holds or was consigned).
func CheckConservation(sem schema.Semantics, inputAmounts, outputAmounts []uint64) error {
	in, err := sem.Sum(inputAmounts)
	if err != nil {
		return err
	}
	out, err := sem.Sum(outputAmounts)
	if err != nil {
		return err
	}
	if in != out {
		return fmt.Errorf("%w: inputs %d != outputs %d", ErrBalanceMismatch, in, out)
	}
	return nil
}
