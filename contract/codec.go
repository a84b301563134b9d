package contract

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"

	"xdao.co/sealvault/docform"
	"xdao.co/sealvault/seal"
)

const (
	Preamble  = "-----BEGIN SEALVAULT CONTRACT-----"
	Postamble = "-----END SEALVAULT CONTRACT-----"
)

// Render produces the canonical genesis bytes for a contract.
func Render(c *Contract) ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	supply, err := c.Supply()
	if err != nil {
		return nil, err
	}

	meta := docform.Section{Name: "META", Lines: []docform.KV{
		{Key: "Name", Value: c.Name},
		{Key: "Schema", Value: c.Schema},
		{Key: "Spec", Value: Spec},
		{Key: "Ticker", Value: c.Ticker},
		{Key: "Version", Value: Version},
	}}
	issue := docform.Section{Name: "ISSUE", Lines: []docform.KV{
		{Key: "Supply", Value: strconv.FormatUint(supply, 10)},
	}}
	allocs := docform.Section{Name: "ALLOCATIONS"}
	for _, a := range c.Allocations {
		allocs.Lines = append(allocs.Lines,
			docform.KV{Key: "Seal", Value: a.Seal.String()},
			docform.KV{Key: "Amount", Value: strconv.FormatUint(a.Amount, 10)},
		)
	}

	return docform.Render(Preamble, Postamble, []docform.Section{meta, issue, allocs})
}

// Parse decodes canonical genesis bytes, rejecting any non-canonical input
// by re-rendering and comparing.
func Parse(data []byte) (*Contract, error) {
	sections, err := docform.Parse(data, Preamble, Postamble)
	if err != nil {
		return nil, err
	}
	if len(sections) != 3 || sections[0].Name != "META" || sections[1].Name != "ISSUE" || sections[2].Name != "ALLOCATIONS" {
		return nil, errors.New("contract: sections missing or out of order")
	}

	meta, err := uniquePairs(sections[0])
	if err != nil {
		return nil, err
	}
	if meta["Spec"] != Spec {
		return nil, fmt.Errorf("contract: unsupported spec %q", meta["Spec"])
	}
	if meta["Version"] != Version {
		return nil, fmt.Errorf("contract: unsupported version %q", meta["Version"])
	}

	c := &Contract{
		Name:   meta["Name"],
		Ticker: meta["Ticker"],
		Schema: meta["Schema"],
	}

	lines := sections[2].Lines
	if len(lines) == 0 || len(lines)%2 != 0 {
		return nil, errors.New("contract: malformed allocations")
	}
	for i := 0; i < len(lines); i += 2 {
		if lines[i].Key != "Seal" || lines[i+1].Key != "Amount" {
			return nil, errors.New("contract: malformed allocation entry")
		}
		s, err := seal.ParseRevealed(lines[i].Value)
		if err != nil {
			return nil, err
		}
		amount, err := strconv.ParseUint(lines[i+1].Value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("contract: invalid amount %q", lines[i+1].Value)
		}
		c.Allocations = append(c.Allocations, Allocation{Seal: s, Amount: amount})
	}

	issue, err := uniquePairs(sections[1])
	if err != nil {
		return nil, err
	}
	declared, err := strconv.ParseUint(issue["Supply"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("contract: invalid supply %q", issue["Supply"])
	}
	supply, err := c.Supply()
	if err != nil {
		return nil, err
	}
	if declared != supply {
		return nil, fmt.Errorf("contract: declared supply %d does not match allocation sum %d", declared, supply)
	}

	// Enforce full canonical byte identity by re-rendering and comparing.
	canonical, err := Render(c)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(data, canonical) {
		return nil, errors.New("contract: non-canonical genesis document")
	}
	return c, nil
}

func uniquePairs(sec docform.Section) (map[string]string, error) {
	out := make(map[string]string, len(sec.Lines))
	for _, kv := range sec.Lines {
		if _, ok := out[kv.Key]; ok {
			return nil, fmt.Errorf("contract: duplicate key %q in %s", kv.Key, sec.Name)
		}
		out[kv.Key] = kv.Value
	}
	return out, nil
}
