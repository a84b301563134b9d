package transition

import (
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"

	"xdao.co/sealvault/conceal"
	"xdao.co/sealvault/contract"
	"xdao.co/sealvault/schema"
	"xdao.co/sealvault/seal"
)

// BuildParams describes a single transfer.
//
// Inputs are the live allocations being consumed, supplied with their
// amounts by the caller (the stash, via the transfer engine). The recipient
// output is concealed under a fresh value commitment; change, when present,
// is revealed since the sender controls the change seal.
type BuildParams struct {
	ContractID cid.Cid
	Schema     string

	Inputs []contract.Allocation

	RecipientBlind seal.Blind
	SendAmount     uint64

	// ChangeSeal nil requires ChangeAmount == 0.
	ChangeSeal   *seal.Revealed
	ChangeAmount uint64
}

// Built is the result of BuildTransfer.
type Built struct {
	Transition *Transition
	ID         cid.Cid

	// Opening opens the recipient's concealed output; it travels to the
	// recipient inside the consignment, never to the base ledger.
	Opening conceal.Opening

	// Payload is the commitment the caller must embed into the witness
	// transaction template before broadcast.
	Payload [32]byte
}

// BuildTransfer constructs a transition consuming the input allocations and
// producing a concealed recipient output plus an optional revealed change
// output.
//
// It does not record anything: recording is deferred until the witness
// transaction is known, so an unbroadcast construction never consumes an
// allocation.
func BuildTransfer(p BuildParams) (*Built, error) {
	sem, err := schema.Lookup(p.Schema)
	if err != nil {
		return nil, err
	}
	if len(p.Inputs) == 0 {
		return nil, errors.New("transition: no input allocations")
	}
	if p.SendAmount == 0 {
		return nil, errors.New("transition: send amount must be positive")
	}
	if p.ChangeSeal == nil && p.ChangeAmount != 0 {
		return nil, fmt.Errorf("%w: change amount %d", ErrUnexpectedChange, p.ChangeAmount)
	}
	if p.ChangeSeal != nil && p.ChangeAmount == 0 && !sem.ZeroChangeAllowed() {
		return nil, errors.New("transition: zero change amount requires omitting the change seal")
	}

	inputAmounts := make([]uint64, len(p.Inputs))
	inputs := make([]seal.Revealed, len(p.Inputs))
	for i, a := range p.Inputs {
		inputAmounts[i] = a.Amount
		inputs[i] = a.Seal
	}
	outputAmounts := []uint64{p.SendAmount}
	if p.ChangeSeal != nil {
		outputAmounts = append(outputAmounts, p.ChangeAmount)
	}
	if err := CheckConservation(sem, inputAmounts, outputAmounts); err != nil {
		return nil, err
	}

	commitment, opening, err := conceal.Conceal(p.SendAmount)
	if err != nil {
		return nil, err
	}

	t := &Transition{
		ContractID: p.ContractID,
		Inputs:     inputs,
		Outputs:    []Output{ConcealedOutput(p.RecipientBlind, commitment)},
	}
	if p.ChangeSeal != nil {
		t.Outputs = append(t.Outputs, RevealedOutput(*p.ChangeSeal, p.ChangeAmount))
	}

	id, err := t.ID()
	if err != nil {
		return nil, err
	}
	return &Built{
		Transition: t,
		ID:         id,
		Opening:    opening,
		Payload:    CommitmentPayload(p.ContractID, id),
	}, nil
}
