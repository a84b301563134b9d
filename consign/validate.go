package consign

import (
	"context"
	"sort"

	"github.com/ipfs/go-cid"

	"xdao.co/sealvault/chain"
	"xdao.co/sealvault/contract"
	"xdao.co/sealvault/schema"
	"xdao.co/sealvault/seal"
	"xdao.co/sealvault/storage"
	"xdao.co/sealvault/storage/mem"
	"xdao.co/sealvault/transition"
)

// RequiredDepth is the confirmation count a witness transaction needs
// before its transition is accepted.
const RequiredDepth = 1

// replayEntry is one live allocation during history replay.
type replayEntry struct {
	amount    uint64
	concealed bool
}

// Validate replays a bundle's full history and checks every rule a
// recipient must not take on trust: block integrity, canonical form,
// balance conservation per transition, anchor commitments, and witness
// confirmation via the oracle.
//
// Validation is pure: it never mutates local and holds no locks, so it can
// run in parallel across consignments and is idempotent. Blocks the bundle
// omits are hydrated read-only from local, which lets a counterparty send
// deltas against history the recipient already holds.
func Validate(ctx context.Context, data []byte, local storage.CAS, oracle chain.ConfirmationOracle) Report {
	var r Report

	c, err := Parse(data)
	if err != nil {
		r.fail(KindParse, "SV-PARSE-001", "%v", err)
		return r
	}
	return validateParsed(ctx, c, local, oracle, &r)
}

func validateParsed(ctx context.Context, c *Consignment, local storage.CAS, oracle chain.ConfirmationOracle, r *Report) Report {
	if err := c.VerifySignature(); err != nil {
		r.fail(KindCrypto, "SV-CRYPTO-401", "%v", err)
		return *r
	}

	// Hydrate from the bundle first, then from blocks the vault already
	// holds; the bundle may be a delta against known history.
	bundleStore := mem.New()
	for _, b := range c.Blocks {
		if _, err := bundleStore.Put(b); err != nil {
			r.fail(KindParse, "SV-PARSE-002", "%v", err)
			return *r
		}
	}
	store := storage.MultiCAS{Adapters: []storage.CAS{bundleStore}}
	if local != nil {
		store.Adapters = append(store.Adapters, local)
	}
	getBlock := func(id cid.Cid) ([]byte, bool) {
		b, err := store.Get(id)
		return b, err == nil
	}

	genesisBytes, ok := getBlock(c.ContractID)
	if !ok {
		r.fail(KindParse, "SV-PARSE-010", "missing genesis block %s", c.ContractID)
		return *r
	}
	genesis, err := contract.Parse(genesisBytes)
	if err != nil {
		r.fail(KindCanonical, "SV-CANON-001", "genesis %s: %v", c.ContractID, err)
		return *r
	}
	sem, err := schema.Lookup(genesis.Schema)
	if err != nil {
		r.fail(KindCanonical, "SV-CANON-003", "%v", err)
		return *r
	}

	live := make(map[string]replayEntry)
	for _, a := range genesis.Allocations {
		live[a.Seal.String()] = replayEntry{amount: a.Amount}
	}
	spent := make(map[string]struct{})

	var txids []string
	seenTxid := make(map[string]struct{})

	for _, step := range c.Steps {
		tb, ok := getBlock(step.TransitionID)
		if !ok {
			r.fail(KindParse, "SV-PARSE-011", "missing transition block %s", step.TransitionID)
			return *r
		}
		t, err := transition.Parse(tb)
		if err != nil {
			r.fail(KindCanonical, "SV-CANON-002", "transition %s: %v", step.TransitionID, err)
			return *r
		}
		if t.ContractID != c.ContractID {
			r.fail(KindCanonical, "SV-CANON-004", "transition %s belongs to contract %s", step.TransitionID, t.ContractID)
			return *r
		}

		ab, ok := getBlock(step.AnchorID)
		if !ok {
			r.fail(KindParse, "SV-PARSE-012", "missing anchor block %s", step.AnchorID)
			return *r
		}
		anchor, err := transition.ParseAnchor(ab)
		if err != nil {
			r.fail(KindCanonical, "SV-CANON-005", "anchor %s: %v", step.AnchorID, err)
			return *r
		}
		if anchor.ContractID != c.ContractID || anchor.TransitionID != step.TransitionID {
			r.fail(KindCommitment, "SV-COMMIT-101", "anchor %s does not bind transition %s", step.AnchorID, step.TransitionID)
			return *r
		}
		if anchor.Commitment() != transition.CommitmentPayload(c.ContractID, step.TransitionID) {
			r.fail(KindCommitment, "SV-COMMIT-102", "anchor %s commitment mismatch", step.AnchorID)
			return *r
		}

		inputAmounts := make([]uint64, len(t.Inputs))
		for i, in := range t.Inputs {
			entry, ok := live[in.String()]
			if !ok {
				if _, was := spent[in.String()]; was {
					r.fail(KindSeal, "SV-SEAL-202", "input seal %s spent twice within bundle", in)
				} else {
					r.fail(KindSeal, "SV-SEAL-201", "input seal %s is not a live allocation", in)
				}
				return *r
			}
			if entry.concealed {
				r.fail(KindSeal, "SV-SEAL-203", "input seal %s consumed while still concealed", in)
				return *r
			}
			inputAmounts[i] = entry.amount
		}

		outputAmounts := make([]uint64, len(t.Outputs))
		for i, out := range t.Outputs {
			switch out.Kind {
			case transition.KindRevealed:
				outputAmounts[i] = out.Amount
			case transition.KindConcealed:
				opening, ok := c.Openings[OpeningRef{Transition: step.TransitionID, Output: i}]
				if !ok {
					r.fail(KindBalance, "SV-BAL-102", "transition %s output %d has no opening", step.TransitionID, i)
					return *r
				}
				if !opening.Verify(out.Commitment) {
					r.fail(KindCommitment, "SV-COMMIT-103", "transition %s output %d opening does not match commitment", step.TransitionID, i)
					return *r
				}
				outputAmounts[i] = opening.Amount
			}
		}
		if err := transition.CheckConservation(sem, inputAmounts, outputAmounts); err != nil {
			r.fail(KindBalance, "SV-BAL-101", "transition %s: %v", step.TransitionID, err)
			return *r
		}

		for _, in := range t.Inputs {
			delete(live, in.String())
			spent[in.String()] = struct{}{}
		}
		for i, out := range t.Outputs {
			switch out.Kind {
			case transition.KindRevealed:
				live[out.Seal.String()] = replayEntry{amount: out.Amount}
			case transition.KindConcealed:
				opening := c.Openings[OpeningRef{Transition: step.TransitionID, Output: i}]
				live[out.Blind.String()] = replayEntry{amount: opening.Amount, concealed: true}
			}
		}

		// Apply the bundle's reveal records: a concealed output consumed by
		// a later step must be revealed first or its consumer cannot resolve
		// the input. Each reveal keys a distinct blind seal, so application
		// order does not matter.
		for _, out := range t.Outputs {
			if out.Kind != transition.KindConcealed {
				continue
			}
			rv, ok := c.Reveals[out.Blind]
			if !ok {
				continue
			}
			entry := live[out.Blind.String()]
			if !seal.Reveal(out.Blind, rv.Secret, rv.Seal) {
				r.fail(KindSeal, "SV-SEAL-204", "reveal for blind seal %s does not open seal %s", out.Blind, rv.Seal)
				return *r
			}
			delete(live, out.Blind.String())
			live[rv.Seal.String()] = replayEntry{amount: entry.amount}
		}

		if _, ok := seenTxid[anchor.Txid]; !ok {
			seenTxid[anchor.Txid] = struct{}{}
			txids = append(txids, anchor.Txid)
		}
	}

	for _, txid := range txids {
		if oracle == nil {
			r.fail(KindOracle, "SV-ORACLE-501", "no confirmation oracle configured")
			r.UnresolvedTxids = append(r.UnresolvedTxids, txid)
			continue
		}
		st, err := oracle.Confirmation(ctx, txid)
		if err != nil {
			r.fail(KindOracle, "SV-ORACLE-502", "txid %s: %v", txid, err)
			r.UnresolvedTxids = append(r.UnresolvedTxids, txid)
			continue
		}
		if st.Confirmed(RequiredDepth) {
			r.AcceptedTxids = append(r.AcceptedTxids, txid)
		} else {
			r.UnresolvedTxids = append(r.UnresolvedTxids, txid)
		}
	}
	sort.Strings(r.AcceptedTxids)
	sort.Strings(r.UnresolvedTxids)
	return *r
}
