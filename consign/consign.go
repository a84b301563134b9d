// Package consign implements the interchange bundles two vaults exchange
// during a transfer, and the validator a recipient runs before accepting.
//
// A consignment carries the full provenance of an allocation: the genesis
// document, every ancestor transition with its anchor, and the value
// openings needed to check conservation across concealed outputs. A
// disclosure is the same container restricted to a single transition; the
// sender applies it to its own vault after broadcast.
//
// Both are deterministic TAR bundles: blocks under blocks/<cid> in
// lexicographic order plus a canonical manifest.json, so identical logical
// content yields identical bytes.
package consign

import (
	"fmt"
	"sort"

	"github.com/ipfs/go-cid"

	"xdao.co/sealvault/conceal"
	"xdao.co/sealvault/seal"
)

// Bundle kinds.
const (
	KindConsignment = "consignment"
	KindDisclosure  = "disclosure"
)

// Step is one link of the provenance chain, in causal order.
type Step struct {
	TransitionID cid.Cid
	AnchorID     cid.Cid
}

// OpeningRef addresses one concealed output along the chain.
type OpeningRef struct {
	Transition cid.Cid
	Output     int
}

// Reveal opens a blind seal that a later transition in the chain consumed:
// the revealed seal the blind committed to, plus the blinding secret that
// proves it. Without the reveal a recipient replaying history would see the
// consuming transition spend a seal that was never produced.
type Reveal struct {
	Seal   seal.Revealed
	Secret seal.Secret
}

// Consignment is the parsed form of an interchange bundle.
type Consignment struct {
	// Kind is KindConsignment or KindDisclosure.
	Kind string

	ContractID cid.Cid

	// Steps lists the carried transitions in causal order. A disclosure
	// carries exactly one.
	Steps []Step

	// Openings open the value commitments of concealed outputs so the
	// validator can check conservation without revealing amounts on chain.
	Openings map[OpeningRef]conceal.Opening

	// Reveals open the blind seals of concealed outputs that later carried
	// transitions consume, keyed by blind seal. The terminal recipient
	// output never appears here; its secret stays with the recipient.
	Reveals map[seal.Blind]Reveal

	// Recipient addresses the terminal output this bundle delivers, when
	// there is one.
	Recipient *OpeningRef

	// Blocks holds the canonical bytes of every carried document keyed by
	// CID. On export, missing entries are hydrated from the source CAS.
	Blocks map[cid.Cid][]byte

	// Signature is the optional issuer signature over the manifest scope.
	Signature *Signature
}

// BlockIDs returns the CIDs of all carried blocks plus the contract id,
// sorted lexicographically.
func (c *Consignment) BlockIDs() []cid.Cid {
	uniq := map[string]cid.Cid{c.ContractID.String(): c.ContractID}
	for _, s := range c.Steps {
		uniq[s.TransitionID.String()] = s.TransitionID
		uniq[s.AnchorID.String()] = s.AnchorID
	}
	keys := make([]string, 0, len(uniq))
	for k := range uniq {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]cid.Cid, len(keys))
	for i, k := range keys {
		out[i] = uniq[k]
	}
	return out
}

func (c *Consignment) check() error {
	switch c.Kind {
	case KindConsignment, KindDisclosure:
	default:
		return fmt.Errorf("consign: unknown bundle kind %q", c.Kind)
	}
	if !c.ContractID.Defined() {
		return fmt.Errorf("consign: undefined contract id")
	}
	if len(c.Steps) == 0 {
		return fmt.Errorf("consign: no transitions")
	}
	if c.Kind == KindDisclosure && len(c.Steps) != 1 {
		return fmt.Errorf("consign: disclosure must carry exactly one transition")
	}
	seen := make(map[cid.Cid]struct{}, len(c.Steps))
	for _, s := range c.Steps {
		if !s.TransitionID.Defined() || !s.AnchorID.Defined() {
			return fmt.Errorf("consign: undefined step id")
		}
		if _, dup := seen[s.TransitionID]; dup {
			return fmt.Errorf("consign: duplicate transition %s", s.TransitionID)
		}
		seen[s.TransitionID] = struct{}{}
	}
	for blind, rv := range c.Reveals {
		if err := rv.Seal.Validate(); err != nil {
			return fmt.Errorf("consign: reveal for blind seal %s: %w", blind, err)
		}
	}
	if c.Recipient != nil {
		if _, ok := seen[c.Recipient.Transition]; !ok {
			return fmt.Errorf("consign: recipient references uncarried transition %s", c.Recipient.Transition)
		}
	}
	return nil
}
