// Package contract implements the contract genesis document.
//
// A contract is immutable once created and is referenced by every later
// transition through its content-derived identifier: a CIDv1 computed over
// the canonical genesis bytes. Canonical serialization is byte-exact, so two
// nodes that agree on the logical genesis agree on the contract id.
package contract

import (
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"

	"xdao.co/sealvault/contentid"
	"xdao.co/sealvault/schema"
	"xdao.co/sealvault/seal"
)

// Spec is the genesis document format identifier.
const Spec = "sealvault-contract-1"

// Version is the genesis document version.
const Version = "1"

// ErrUnsupportedSchema is returned when a genesis names a schema tag this
// node has no registered semantics for.
var ErrUnsupportedSchema = errors.New("contract: unsupported schema")

// Allocation is an amount of contract value bound to a revealed seal.
type Allocation struct {
	Seal   seal.Revealed
	Amount uint64
}

// Contract is a parsed or constructed genesis.
//
// Supply is always the schema-checked sum of the genesis allocations; it is
// recorded explicitly in the document and cross-checked at parse time.
type Contract struct {
	Name        string
	Ticker      string
	Schema      string
	Allocations []Allocation
}

// Supply returns the total issued supply under the contract's schema
// semantics.
func (c *Contract) Supply() (uint64, error) {
	sem, err := schema.Lookup(c.Schema)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedSchema, c.Schema)
	}
	amounts := make([]uint64, len(c.Allocations))
	for i, a := range c.Allocations {
		amounts[i] = a.Amount
	}
	return sem.Sum(amounts)
}

// Validate checks structural well-formedness of the genesis.
func (c *Contract) Validate() error {
	if c.Name == "" {
		return errors.New("contract: name is required")
	}
	if c.Ticker == "" {
		return errors.New("contract: ticker is required")
	}
	if len(c.Allocations) == 0 {
		return errors.New("contract: at least one genesis allocation is required")
	}
	seen := make(map[string]struct{}, len(c.Allocations))
	for _, a := range c.Allocations {
		if err := a.Seal.Validate(); err != nil {
			return err
		}
		if a.Amount == 0 {
			return errors.New("contract: zero-amount genesis allocation")
		}
		key := a.Seal.String()
		if _, ok := seen[key]; ok {
			return fmt.Errorf("contract: duplicate genesis seal %s", key)
		}
		seen[key] = struct{}{}
	}
	if _, err := c.Supply(); err != nil {
		return err
	}
	return nil
}

// ID returns the contract identifier: the CID of the canonical genesis bytes.
func (c *Contract) ID() (cid.Cid, error) {
	b, err := Render(c)
	if err != nil {
		return cid.Undef, err
	}
	return contentid.New(b)
}
