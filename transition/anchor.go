package transition

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"
	"golang.org/x/crypto/blake2b"

	"xdao.co/sealvault/contentid"
	"xdao.co/sealvault/docform"
	"xdao.co/sealvault/seal"
)

const (
	AnchorPreamble  = "-----BEGIN SEALVAULT ANCHOR-----"
	AnchorPostamble = "-----END SEALVAULT ANCHOR-----"
)

// anchorDomain separates anchor commitments from other blake2b uses.
const anchorDomain = "sealvault:anchor:1"

// Anchor binds a transition to the witness transaction that commits to it.
//
// The anchor records the commitment payload that was embedded into the
// witness (via the closing method) so a validator can recompute it from the
// transition and detect tampering.
type Anchor struct {
	ContractID   cid.Cid
	TransitionID cid.Cid
	Method       seal.Method
	Txid         string
}

// CommitmentPayload derives the 32-byte payload embedded into the witness
// transaction for a transition. Pure over the two identifiers.
func CommitmentPayload(contractID, transitionID cid.Cid) [32]byte {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(anchorDomain))
	h.Write(contractID.Bytes())
	h.Write(transitionID.Bytes())
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Commitment returns the payload this anchor's witness must embed.
func (a *Anchor) Commitment() [32]byte {
	return CommitmentPayload(a.ContractID, a.TransitionID)
}

func (a *Anchor) Validate() error {
	if !a.ContractID.Defined() {
		return errors.New("transition: anchor contract id is required")
	}
	if !a.TransitionID.Defined() {
		return errors.New("transition: anchor transition id is required")
	}
	if _, err := seal.ParseMethod(string(a.Method)); err != nil {
		return err
	}
	op := seal.Outpoint{Txid: a.Txid}
	if err := op.Validate(); err != nil {
		return fmt.Errorf("transition: anchor witness txid: %w", err)
	}
	return nil
}

// ID returns the anchor identifier: the CID of the canonical bytes.
func (a *Anchor) ID() (cid.Cid, error) {
	b, err := RenderAnchor(a)
	if err != nil {
		return cid.Undef, err
	}
	return contentid.New(b)
}

// RenderAnchor produces the canonical anchor bytes.
func RenderAnchor(a *Anchor) ([]byte, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	payload := a.Commitment()
	sec := docform.Section{Name: "ANCHOR", Lines: []docform.KV{
		{Key: "Commitment", Value: hex.EncodeToString(payload[:])},
		{Key: "Contract-ID", Value: a.ContractID.String()},
		{Key: "Method", Value: string(a.Method)},
		{Key: "Transition-ID", Value: a.TransitionID.String()},
		{Key: "Txid", Value: a.Txid},
	}}
	return docform.Render(AnchorPreamble, AnchorPostamble, []docform.Section{sec})
}

// ParseAnchor decodes canonical anchor bytes and cross-checks the recorded
// commitment against a recomputation from the identifiers.
func ParseAnchor(data []byte) (*Anchor, error) {
	sections, err := docform.Parse(data, AnchorPreamble, AnchorPostamble)
	if err != nil {
		return nil, err
	}
	if len(sections) != 1 || sections[0].Name != "ANCHOR" {
		return nil, errors.New("transition: malformed anchor document")
	}
	pairs := make(map[string]string, len(sections[0].Lines))
	for _, kv := range sections[0].Lines {
		if _, ok := pairs[kv.Key]; ok {
			return nil, fmt.Errorf("transition: duplicate anchor key %q", kv.Key)
		}
		pairs[kv.Key] = kv.Value
	}

	contractID, err := contentid.Parse(pairs["Contract-ID"])
	if err != nil {
		return nil, fmt.Errorf("transition: invalid anchor contract id: %w", err)
	}
	transitionID, err := contentid.Parse(pairs["Transition-ID"])
	if err != nil {
		return nil, fmt.Errorf("transition: invalid anchor transition id: %w", err)
	}
	method, err := seal.ParseMethod(pairs["Method"])
	if err != nil {
		return nil, err
	}

	a := &Anchor{
		ContractID:   contractID,
		TransitionID: transitionID,
		Method:       method,
		Txid:         pairs["Txid"],
	}
	want := a.Commitment()
	if pairs["Commitment"] != hex.EncodeToString(want[:]) {
		return nil, errors.New("transition: anchor commitment does not match transition")
	}

	canonical, err := RenderAnchor(a)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(data, canonical) {
		return nil, errors.New("transition: non-canonical anchor document")
	}
	return a, nil
}
