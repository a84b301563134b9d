package transition

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"

	"xdao.co/sealvault/conceal"
	"xdao.co/sealvault/contentid"
	"xdao.co/sealvault/docform"
	"xdao.co/sealvault/seal"
)

const (
	Preamble  = "-----BEGIN SEALVAULT TRANSITION-----"
	Postamble = "-----END SEALVAULT TRANSITION-----"
)

// Render produces the canonical transition bytes.
//
// Input and output order is part of the canonical form.
func Render(t *Transition) ([]byte, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	meta := docform.Section{Name: "META", Lines: []docform.KV{
		{Key: "Contract-ID", Value: t.ContractID.String()},
		{Key: "Spec", Value: Spec},
		{Key: "Version", Value: Version},
	}}
	inputs := docform.Section{Name: "INPUTS"}
	for _, in := range t.Inputs {
		inputs.Lines = append(inputs.Lines, docform.KV{Key: "Input", Value: in.String()})
	}
	outputs := docform.Section{Name: "OUTPUTS"}
	for _, out := range t.Outputs {
		switch out.Kind {
		case KindRevealed:
			outputs.Lines = append(outputs.Lines,
				docform.KV{Key: "Seal", Value: out.Seal.String()},
				docform.KV{Key: "Amount", Value: strconv.FormatUint(out.Amount, 10)},
			)
		case KindConcealed:
			outputs.Lines = append(outputs.Lines,
				docform.KV{Key: "Blind-Seal", Value: out.Blind.String()},
				docform.KV{Key: "Commitment", Value: out.Commitment.String()},
			)
		}
	}

	return docform.Render(Preamble, Postamble, []docform.Section{meta, inputs, outputs})
}

// Parse decodes canonical transition bytes, rejecting non-canonical input by
// re-rendering and comparing.
func Parse(data []byte) (*Transition, error) {
	sections, err := docform.Parse(data, Preamble, Postamble)
	if err != nil {
		return nil, err
	}
	if len(sections) != 3 || sections[0].Name != "META" || sections[1].Name != "INPUTS" || sections[2].Name != "OUTPUTS" {
		return nil, errors.New("transition: sections missing or out of order")
	}

	meta := make(map[string]string, len(sections[0].Lines))
	for _, kv := range sections[0].Lines {
		if _, ok := meta[kv.Key]; ok {
			return nil, fmt.Errorf("transition: duplicate META key %q", kv.Key)
		}
		meta[kv.Key] = kv.Value
	}
	if meta["Spec"] != Spec {
		return nil, fmt.Errorf("transition: unsupported spec %q", meta["Spec"])
	}
	if meta["Version"] != Version {
		return nil, fmt.Errorf("transition: unsupported version %q", meta["Version"])
	}
	contractID, err := contentid.Parse(meta["Contract-ID"])
	if err != nil {
		return nil, fmt.Errorf("transition: invalid contract id: %w", err)
	}

	t := &Transition{ContractID: contractID}
	for _, kv := range sections[1].Lines {
		if kv.Key != "Input" {
			return nil, fmt.Errorf("transition: unexpected key %q in INPUTS", kv.Key)
		}
		in, err := seal.ParseRevealed(kv.Value)
		if err != nil {
			return nil, err
		}
		t.Inputs = append(t.Inputs, in)
	}

	lines := sections[2].Lines
	if len(lines)%2 != 0 {
		return nil, errors.New("transition: malformed outputs")
	}
	for i := 0; i < len(lines); i += 2 {
		switch lines[i].Key {
		case "Seal":
			if lines[i+1].Key != "Amount" {
				return nil, errors.New("transition: malformed revealed output")
			}
			s, err := seal.ParseRevealed(lines[i].Value)
			if err != nil {
				return nil, err
			}
			amount, err := strconv.ParseUint(lines[i+1].Value, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("transition: invalid amount %q", lines[i+1].Value)
			}
			t.Outputs = append(t.Outputs, RevealedOutput(s, amount))
		case "Blind-Seal":
			if lines[i+1].Key != "Commitment" {
				return nil, errors.New("transition: malformed concealed output")
			}
			b, err := seal.ParseBlind(lines[i].Value)
			if err != nil {
				return nil, err
			}
			c, err := conceal.ParseCommitment(lines[i+1].Value)
			if err != nil {
				return nil, err
			}
			t.Outputs = append(t.Outputs, ConcealedOutput(b, c))
		default:
			return nil, fmt.Errorf("transition: unexpected key %q in OUTPUTS", lines[i].Key)
		}
	}

	canonical, err := Render(t)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(data, canonical) {
		return nil, errors.New("transition: non-canonical transition document")
	}
	return t, nil
}
