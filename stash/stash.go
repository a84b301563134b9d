// Package stash implements the durable contract state store.
//
// The stash exclusively owns all contract, transition, and allocation
// records of a node. Canonical documents (geneses, transitions, anchors)
// are persisted as immutable CAS blocks; the mutable view (spent seals,
// live allocations) lives in an index file that is rewritten atomically, so
// a crash can never leave a half-applied transition behind.
//
// A single RWMutex guards the mutable view: writes (including the
// check-then-append of RecordTransition) are serialized, reads run
// concurrently against a consistent snapshot.
package stash

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ipfs/go-cid"

	"xdao.co/sealvault/conceal"
	"xdao.co/sealvault/contract"
	"xdao.co/sealvault/seal"
	"xdao.co/sealvault/storage"
)

// Allocation is a live (unspent) allocation of a contract.
//
// Origin is the CID of the document that produced it: the contract id for
// genesis allocations, the transition id otherwise. Amount is known to this
// vault even for concealed allocations (the opening was supplied when the
// transition was recorded); it contributes to the revealed balance only
// once the seal is revealed.
type Allocation struct {
	Origin      cid.Cid
	OutputIndex int

	Revealed bool
	Seal     seal.Revealed
	Blind    seal.Blind

	Amount     uint64
	Commitment conceal.Commitment
}

// Key returns the map key under which the allocation is tracked: the
// canonical revealed-seal form, or the blind commitment hex.
func (a Allocation) Key() string {
	if a.Revealed {
		return a.Seal.String()
	}
	return a.Blind.String()
}

// Summary describes a stored contract.
type Summary struct {
	ID     cid.Cid
	Name   string
	Ticker string
	Schema string
	Supply uint64
}

type contractState struct {
	genesis     *contract.Contract
	schema      string
	transitions []cid.Cid           // causal order
	anchors     map[cid.Cid]cid.Cid // transition id -> anchor id
	spent       map[string]cid.Cid  // revealed seal -> spending transition id

	// reveals links each opened blind seal to its revealed form. The link
	// outlives the allocation: once the revealed seal is spent, the entry
	// is what lets a re-exported consignment carry the reveal so the next
	// recipient can replay past the concealed hop.
	reveals map[seal.Blind]seal.Revealed

	live map[string]Allocation
}

// Stash is the contract state store. Safe for concurrent use.
type Stash struct {
	cas       storage.CAS
	indexPath string // empty means ephemeral (no index persistence)

	mu        sync.RWMutex
	contracts map[cid.Cid]*contractState
}

// Open loads (or initializes) a stash backed by cas, with the mutable index
// persisted at indexPath. An empty indexPath yields an ephemeral stash.
func Open(cas storage.CAS, indexPath string) (*Stash, error) {
	s := &Stash{
		cas:       cas,
		indexPath: indexPath,
		contracts: make(map[cid.Cid]*contractState),
	}
	if indexPath != "" {
		if err := s.loadIndex(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// CreateContract stores a genesis and its initial allocation set.
//
// Fails with ErrDuplicateContract when an identical genesis already exists.
func (s *Stash) CreateContract(c *contract.Contract) (cid.Cid, error) {
	canonical, err := contract.Render(c)
	if err != nil {
		return cid.Undef, err
	}
	return s.admitGenesis(c, canonical, false)
}

// ImportGenesis stores a genesis received from another node, enabling this
// vault to participate in the contract without prior history.
//
// Importing a genesis already present is a no-op returning its id. Fails
// with ErrSchemaMismatch when the schema is unsupported.
func (s *Stash) ImportGenesis(data []byte) (cid.Cid, error) {
	c, err := contract.Parse(data)
	if err != nil {
		if errors.Is(err, contract.ErrUnsupportedSchema) {
			return cid.Undef, fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
		}
		return cid.Undef, err
	}
	return s.admitGenesis(c, data, true)
}

// ExportGenesis returns the canonical genesis bytes for transfer to another
// node.
func (s *Stash) ExportGenesis(id cid.Cid) ([]byte, error) {
	s.mu.RLock()
	_, ok := s.contracts[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownContract, id)
	}
	return s.cas.Get(id)
}

// ListContracts returns summaries of all stored contracts, sorted by id.
func (s *Stash) ListContracts() []Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Summary, 0, len(s.contracts))
	for id, st := range s.contracts {
		supply, _ := st.genesis.Supply()
		out = append(out, Summary{
			ID:     id,
			Name:   st.genesis.Name,
			Ticker: st.genesis.Ticker,
			Schema: st.schema,
			Supply: supply,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

// Genesis returns the parsed genesis of a stored contract.
func (s *Stash) Genesis(id cid.Cid) (*contract.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.contracts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownContract, id)
	}
	return st.genesis, nil
}

// CurrentAllocations returns the live (unspent) allocation set of a
// contract as a consistent snapshot, sorted by origin and output index.
func (s *Stash) CurrentAllocations(id cid.Cid) ([]Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.contracts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownContract, id)
	}
	out := make([]Allocation, 0, len(st.live))
	for _, a := range st.live {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Origin != out[j].Origin {
			return out[i].Origin.String() < out[j].Origin.String()
		}
		return out[i].OutputIndex < out[j].OutputIndex
	})
	return out, nil
}

// Transitions returns the recorded transition ids of a contract in causal
// order, with their anchor ids.
func (s *Stash) Transitions(id cid.Cid) ([]cid.Cid, map[cid.Cid]cid.Cid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.contracts[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownContract, id)
	}
	order := append([]cid.Cid(nil), st.transitions...)
	anchors := make(map[cid.Cid]cid.Cid, len(st.anchors))
	for k, v := range st.anchors {
		anchors[k] = v
	}
	return order, anchors, nil
}

// Reveals returns the recorded blind-to-revealed seal links of a contract.
// Entries persist after the revealed seal is spent; exporters need them to
// carry provenance across concealed hops.
func (s *Stash) Reveals(id cid.Cid) (map[seal.Blind]seal.Revealed, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.contracts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownContract, id)
	}
	out := make(map[seal.Blind]seal.Revealed, len(st.reveals))
	for blind, revealed := range st.reveals {
		out[blind] = revealed
	}
	return out, nil
}

// Block returns the canonical bytes of a stored document.
func (s *Stash) Block(id cid.Cid) ([]byte, error) { return s.cas.Get(id) }

// BlockStore exposes the stash's CAS for read-through hydration during
// consignment validation.
func (s *Stash) BlockStore() storage.CAS { return s.cas }

func (s *Stash) admitGenesis(c *contract.Contract, canonical []byte, idempotent bool) (cid.Cid, error) {
	id, err := c.ID()
	if err != nil {
		return cid.Undef, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.contracts[id]; ok {
		if idempotent {
			return id, nil
		}
		return cid.Undef, fmt.Errorf("%w: %s", ErrDuplicateContract, id)
	}

	if _, err := s.cas.Put(canonical); err != nil {
		return cid.Undef, err
	}

	st := &contractState{
		genesis: c,
		schema:  c.Schema,
		anchors: make(map[cid.Cid]cid.Cid),
		spent:   make(map[string]cid.Cid),
		reveals: make(map[seal.Blind]seal.Revealed),
		live:    make(map[string]Allocation),
	}
	for i, a := range c.Allocations {
		alloc := Allocation{
			Origin:      id,
			OutputIndex: i,
			Revealed:    true,
			Seal:        a.Seal,
			Amount:      a.Amount,
		}
		st.live[alloc.Key()] = alloc
	}
	s.contracts[id] = st

	if err := s.persistIndexLocked(); err != nil {
		delete(s.contracts, id)
		return cid.Undef, err
	}
	return id, nil
}
