package stash

import (
	"fmt"

	"github.com/ipfs/go-cid"

	"xdao.co/sealvault/conceal"
	"xdao.co/sealvault/schema"
	"xdao.co/sealvault/seal"
	"xdao.co/sealvault/transition"
)

// RecordTransition appends a transition to a contract's history and updates
// the live allocation set.
//
// The whole operation is one critical section: the "no input seal already
// spent" check and the append are atomic, which is what rejects the loser
// when two transfers race over the same allocation.
//
// Openings must open every concealed output's value commitment (keyed by
// output index); without them conservation cannot be verified and the call
// fails with ErrMissingOpening. Re-recording an already-recorded transition
// is a no-op, so Accept and Enclose can be retried after a crash.
func (s *Stash) RecordTransition(contractID cid.Cid, t *transition.Transition, anchor *transition.Anchor, openings map[int]conceal.Opening) error {
	if t.ContractID != contractID {
		return fmt.Errorf("stash: transition belongs to contract %s, not %s", t.ContractID, contractID)
	}
	canonical, err := transition.Render(t)
	if err != nil {
		return err
	}
	tid, err := t.ID()
	if err != nil {
		return err
	}
	if anchor == nil {
		return fmt.Errorf("stash: transition %s has no anchor", tid)
	}
	if anchor.ContractID != contractID || anchor.TransitionID != tid {
		return fmt.Errorf("stash: anchor does not match transition %s", tid)
	}
	anchorBytes, err := transition.RenderAnchor(anchor)
	if err != nil {
		return err
	}
	anchorID, err := anchor.ID()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.contracts[contractID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownContract, contractID)
	}
	sem, err := schema.Lookup(st.schema)
	if err != nil {
		return err
	}

	for _, recorded := range st.transitions {
		if recorded == tid {
			return nil
		}
	}

	// Resolve inputs against the live set; classify misses.
	inputAmounts := make([]uint64, len(t.Inputs))
	for i, in := range t.Inputs {
		alloc, ok := st.live[in.String()]
		if !ok {
			if _, wasSpent := st.spent[in.String()]; wasSpent {
				return fmt.Errorf("%w: %s", ErrDoubleSpend, in)
			}
			return fmt.Errorf("%w: %s", ErrUnknownSeal, in)
		}
		inputAmounts[i] = alloc.Amount
	}

	// Resolve output amounts; concealed outputs need verified openings.
	outputAmounts := make([]uint64, len(t.Outputs))
	for i, out := range t.Outputs {
		switch out.Kind {
		case transition.KindRevealed:
			outputAmounts[i] = out.Amount
		case transition.KindConcealed:
			opening, ok := openings[i]
			if !ok {
				return fmt.Errorf("%w: output %d", ErrMissingOpening, i)
			}
			if !opening.Verify(out.Commitment) {
				return fmt.Errorf("stash: opening does not match commitment of output %d", i)
			}
			outputAmounts[i] = opening.Amount
		}
	}
	if err := transition.CheckConservation(sem, inputAmounts, outputAmounts); err != nil {
		return err
	}

	// All checks passed; persist blocks, then swap the in-memory view and
	// rewrite the index. Blocks are immutable, so a failure after Put
	// leaves no observable state change.
	if _, err := s.cas.Put(canonical); err != nil {
		return err
	}
	if _, err := s.cas.Put(anchorBytes); err != nil {
		return err
	}

	consumed := make(map[string]Allocation, len(t.Inputs))
	for _, in := range t.Inputs {
		consumed[in.String()] = st.live[in.String()]
		delete(st.live, in.String())
		st.spent[in.String()] = tid
	}
	for i, out := range t.Outputs {
		alloc := Allocation{Origin: tid, OutputIndex: i}
		switch out.Kind {
		case transition.KindRevealed:
			alloc.Revealed = true
			alloc.Seal = out.Seal
			alloc.Amount = out.Amount
		case transition.KindConcealed:
			alloc.Blind = out.Blind
			alloc.Commitment = out.Commitment
			alloc.Amount = openings[i].Amount
		}
		st.live[alloc.Key()] = alloc
	}
	st.transitions = append(st.transitions, tid)
	st.anchors[tid] = anchorID

	if err := s.persistIndexLocked(); err != nil {
		// Roll the in-memory view back so memory and index never diverge.
		for _, out := range t.Outputs {
			switch out.Kind {
			case transition.KindRevealed:
				delete(st.live, out.Seal.String())
			case transition.KindConcealed:
				delete(st.live, out.Blind.String())
			}
		}
		for key, alloc := range consumed {
			delete(st.spent, key)
			st.live[key] = alloc
		}
		st.transitions = st.transitions[:len(st.transitions)-1]
		delete(st.anchors, tid)
		return err
	}
	return nil
}

// RevealOutput converts a concealed live allocation to a revealed one after
// checking the blind seal opens to the claimed outpoint.
//
// Fails with ErrSealRevealMismatch when the secret does not open the blind
// seal for the claimed revealed seal. Re-revealing an already-revealed
// allocation is a no-op.
func (s *Stash) RevealOutput(contractID cid.Cid, blind seal.Blind, secret seal.Secret, claimed seal.Revealed, opening conceal.Opening) error {
	if err := claimed.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.contracts[contractID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownContract, contractID)
	}

	alloc, ok := st.live[blind.String()]
	if !ok {
		// Tolerate retried reveals: the link may already be recorded, even
		// if the revealed seal has since been spent.
		if existing, done := st.reveals[blind]; done && existing == claimed {
			return nil
		}
		if existing, done := st.live[claimed.String()]; done && existing.Revealed {
			return nil
		}
		return fmt.Errorf("%w: no live allocation for blind seal %s", ErrUnknownSeal, blind)
	}
	if !seal.Reveal(blind, secret, claimed) {
		return fmt.Errorf("%w: blind seal %s", ErrSealRevealMismatch, blind)
	}
	if !opening.Verify(alloc.Commitment) {
		return fmt.Errorf("stash: opening does not match commitment of blind seal %s", blind)
	}

	prev := alloc
	delete(st.live, blind.String())
	alloc.Revealed = true
	alloc.Seal = claimed
	alloc.Amount = opening.Amount
	st.live[alloc.Key()] = alloc
	st.reveals[blind] = claimed

	if err := s.persistIndexLocked(); err != nil {
		delete(st.live, alloc.Key())
		delete(st.reveals, blind)
		st.live[blind.String()] = prev
		return err
	}
	return nil
}
