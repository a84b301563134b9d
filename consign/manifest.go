package consign

import (
	"encoding/json"
	"fmt"
	"sort"

	"xdao.co/sealvault/conceal"
	"xdao.co/sealvault/contentid"
	"xdao.co/sealvault/seal"
)

// manifestVersion is the current manifest schema version.
const manifestVersion = 1

type manifestJSON struct {
	Version   int                `json:"version"`
	Kind      string             `json:"kind"`
	Contract  string             `json:"contract"`
	Steps     []manifestStep     `json:"steps"`
	Openings  []manifestOpening  `json:"openings,omitempty"`
	Reveals   []manifestReveal   `json:"reveals,omitempty"`
	Recipient *manifestRef       `json:"recipient,omitempty"`
	Signature *manifestSignature `json:"signature,omitempty"`
}

type manifestStep struct {
	Transition string `json:"transition"`
	Anchor     string `json:"anchor"`
}

type manifestOpening struct {
	Transition string `json:"transition"`
	Output     int    `json:"output"`
	Amount     uint64 `json:"amount"`
	Blinding   string `json:"blinding"`
}

type manifestReveal struct {
	Blind  string `json:"blind"`
	Seal   string `json:"seal"`
	Secret string `json:"secret"`
}

type manifestRef struct {
	Transition string `json:"transition"`
	Output     int    `json:"output"`
}

type manifestSignature struct {
	Alg       string `json:"alg"`
	PublicKey string `json:"publicKey"`
	Signature string `json:"signature"`
}

// marshalManifest renders the canonical manifest bytes. The same bytes with
// the signature omitted form the signing scope, so marshaling must stay
// deterministic (structs and pre-sorted slices only).
func marshalManifest(c *Consignment, includeSignature bool) ([]byte, error) {
	m := manifestJSON{
		Version:  manifestVersion,
		Kind:     c.Kind,
		Contract: c.ContractID.String(),
	}
	for _, s := range c.Steps {
		m.Steps = append(m.Steps, manifestStep{Transition: s.TransitionID.String(), Anchor: s.AnchorID.String()})
	}
	for ref, o := range c.Openings {
		m.Openings = append(m.Openings, manifestOpening{
			Transition: ref.Transition.String(),
			Output:     ref.Output,
			Amount:     o.Amount,
			Blinding:   o.BlindingHex(),
		})
	}
	sort.Slice(m.Openings, func(i, j int) bool {
		if m.Openings[i].Transition != m.Openings[j].Transition {
			return m.Openings[i].Transition < m.Openings[j].Transition
		}
		return m.Openings[i].Output < m.Openings[j].Output
	})
	for blind, rv := range c.Reveals {
		m.Reveals = append(m.Reveals, manifestReveal{
			Blind:  blind.String(),
			Seal:   rv.Seal.String(),
			Secret: rv.Secret.String(),
		})
	}
	sort.Slice(m.Reveals, func(i, j int) bool { return m.Reveals[i].Blind < m.Reveals[j].Blind })
	if c.Recipient != nil {
		m.Recipient = &manifestRef{Transition: c.Recipient.Transition.String(), Output: c.Recipient.Output}
	}
	if includeSignature && c.Signature != nil {
		m.Signature = encodeSignature(c.Signature)
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func parseManifest(b []byte) (*Consignment, error) {
	var m manifestJSON
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("consign: corrupt manifest: %w", err)
	}
	if m.Version != manifestVersion {
		return nil, fmt.Errorf("consign: unsupported manifest version %d", m.Version)
	}

	c := &Consignment{Kind: m.Kind, Openings: make(map[OpeningRef]conceal.Opening, len(m.Openings))}
	var err error
	if c.ContractID, err = contentid.Parse(m.Contract); err != nil {
		return nil, fmt.Errorf("consign: bad contract id %q: %w", m.Contract, err)
	}
	for _, s := range m.Steps {
		var step Step
		if step.TransitionID, err = contentid.Parse(s.Transition); err != nil {
			return nil, fmt.Errorf("consign: bad transition id %q: %w", s.Transition, err)
		}
		if step.AnchorID, err = contentid.Parse(s.Anchor); err != nil {
			return nil, fmt.Errorf("consign: bad anchor id %q: %w", s.Anchor, err)
		}
		c.Steps = append(c.Steps, step)
	}
	for _, o := range m.Openings {
		ref := OpeningRef{Output: o.Output}
		if ref.Transition, err = contentid.Parse(o.Transition); err != nil {
			return nil, fmt.Errorf("consign: bad opening transition id %q: %w", o.Transition, err)
		}
		blinding, err := conceal.ParseBlinding(o.Blinding)
		if err != nil {
			return nil, fmt.Errorf("consign: bad opening blinding: %w", err)
		}
		if _, dup := c.Openings[ref]; dup {
			return nil, fmt.Errorf("consign: duplicate opening for %s output %d", o.Transition, o.Output)
		}
		c.Openings[ref] = conceal.Opening{Amount: o.Amount, Blinding: blinding}
	}
	if len(m.Reveals) > 0 {
		c.Reveals = make(map[seal.Blind]Reveal, len(m.Reveals))
	}
	for _, rv := range m.Reveals {
		blind, err := seal.ParseBlind(rv.Blind)
		if err != nil {
			return nil, fmt.Errorf("consign: bad reveal blind seal: %w", err)
		}
		revealed, err := seal.ParseRevealed(rv.Seal)
		if err != nil {
			return nil, fmt.Errorf("consign: bad reveal seal: %w", err)
		}
		secret, err := seal.ParseSecret(rv.Secret)
		if err != nil {
			return nil, fmt.Errorf("consign: bad reveal secret: %w", err)
		}
		if _, dup := c.Reveals[blind]; dup {
			return nil, fmt.Errorf("consign: duplicate reveal for blind seal %s", rv.Blind)
		}
		c.Reveals[blind] = Reveal{Seal: revealed, Secret: secret}
	}
	if m.Recipient != nil {
		ref := OpeningRef{Output: m.Recipient.Output}
		if ref.Transition, err = contentid.Parse(m.Recipient.Transition); err != nil {
			return nil, fmt.Errorf("consign: bad recipient transition id %q: %w", m.Recipient.Transition, err)
		}
		c.Recipient = &ref
	}
	if m.Signature != nil {
		if c.Signature, err = decodeSignature(m.Signature); err != nil {
			return nil, err
		}
	}
	if err := c.check(); err != nil {
		return nil, err
	}
	return c, nil
}
