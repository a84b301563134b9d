// Package ledger is a derived, read-only view over the stash's allocation
// records. It holds no state of its own.
//
// The node does not know which outpoints belong to the caller; ownership is
// supplied externally (by a wallet) as a seal set.
package ledger

import (
	"github.com/ipfs/go-cid"

	"xdao.co/sealvault/contract"
	"xdao.co/sealvault/schema"
	"xdao.co/sealvault/seal"
	"xdao.co/sealvault/stash"
)

// Source is the slice of the stash the ledger reads.
type Source interface {
	Genesis(id cid.Cid) (*contract.Contract, error)
	CurrentAllocations(id cid.Cid) ([]stash.Allocation, error)
}

// Balance sums the revealed values of live allocations whose seal is in the
// caller-supplied owned set.
func Balance(src Source, contractID cid.Cid, owned []seal.Revealed) (uint64, error) {
	sem, allocations, err := view(src, contractID)
	if err != nil {
		return 0, err
	}
	ownedSet := make(map[string]struct{}, len(owned))
	for _, o := range owned {
		ownedSet[o.String()] = struct{}{}
	}
	var amounts []uint64
	for _, a := range allocations {
		if !a.Revealed {
			continue
		}
		if _, ok := ownedSet[a.Seal.String()]; ok {
			amounts = append(amounts, a.Amount)
		}
	}
	return sem.Sum(amounts)
}

// TotalRevealed sums the revealed values of all live allocations.
func TotalRevealed(src Source, contractID cid.Cid) (uint64, error) {
	sem, allocations, err := view(src, contractID)
	if err != nil {
		return 0, err
	}
	var amounts []uint64
	for _, a := range allocations {
		if a.Revealed {
			amounts = append(amounts, a.Amount)
		}
	}
	return sem.Sum(amounts)
}

// TotalLive sums all live allocation values, counting concealed allocations
// at the amounts known to this vault. For a single party's vault this equals
// the share of supply currently under its view.
func TotalLive(src Source, contractID cid.Cid) (uint64, error) {
	sem, allocations, err := view(src, contractID)
	if err != nil {
		return 0, err
	}
	amounts := make([]uint64, len(allocations))
	for i, a := range allocations {
		amounts[i] = a.Amount
	}
	return sem.Sum(amounts)
}

func view(src Source, contractID cid.Cid) (schema.Semantics, []stash.Allocation, error) {
	genesis, err := src.Genesis(contractID)
	if err != nil {
		return nil, nil, err
	}
	sem, err := schema.Lookup(genesis.Schema)
	if err != nil {
		return nil, nil, err
	}
	allocations, err := src.CurrentAllocations(contractID)
	if err != nil {
		return nil, nil, err
	}
	return sem, allocations, nil
}
