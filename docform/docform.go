// Package docform implements the canonical text-document form shared by all
// vault documents (contract geneses, transitions, anchors, disclosures).
//
// A document is a preamble line, named sections of "Key: Value" lines
// separated by exactly one blank line, and a postamble line. Serialization is
// byte-canonical: UTF-8, LF only, no BOM, no trailing whitespace, no
// trailing newline. Unlike attestation formats with unique sorted keys,
// vault sections may repeat keys; line order inside a section is part of the
// canonical form (inputs and outputs are ordered).
package docform

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// KV is a single "Key: Value" line.
type KV struct {
	Key   string
	Value string
}

// Section is a named run of KV lines.
type Section struct {
	Name  string
	Lines []KV
}

// Render produces canonical document bytes.
func Render(preamble, postamble string, sections []Section) ([]byte, error) {
	var sb strings.Builder
	sb.WriteString(preamble)
	sb.WriteString("\n")

	for i, sec := range sections {
		if sec.Name == "" {
			return nil, errors.New("docform: empty section name")
		}
		sb.WriteString(sec.Name)
		sb.WriteString("\n")
		for _, kv := range sec.Lines {
			if kv.Key == "" {
				return nil, errors.New("docform: empty key")
			}
			if !isASCII(kv.Key) || strings.ContainsAny(kv.Key, ": \t\n") {
				return nil, fmt.Errorf("docform: invalid key %q", kv.Key)
			}
			if kv.Value == "" {
				return nil, fmt.Errorf("docform: empty value for key %q", kv.Key)
			}
			if strings.ContainsAny(kv.Value, "\n\r") {
				return nil, fmt.Errorf("docform: value for key %q contains newline", kv.Key)
			}
			if strings.HasPrefix(kv.Value, " ") || strings.HasSuffix(kv.Value, " ") || strings.HasSuffix(kv.Value, "\t") {
				return nil, fmt.Errorf("docform: value for key %q has leading or trailing whitespace", kv.Key)
			}
			sb.WriteString(kv.Key)
			sb.WriteString(": ")
			sb.WriteString(kv.Value)
			sb.WriteString("\n")
		}
		if i != len(sections)-1 {
			sb.WriteString("\n")
		}
	}

	sb.WriteString(postamble)
	return []byte(sb.String()), nil
}

// Parse reads a document and enforces the canonical serialization rules.
// Section interpretation is left to the caller, which must also re-render
// and byte-compare to reject any remaining non-canonical input.
func Parse(data []byte, preamble, postamble string) ([]Section, error) {
	if !utf8.Valid(data) {
		return nil, errors.New("docform: document must be valid UTF-8")
	}
	if bytes.HasPrefix(data, []byte{0xEF, 0xBB, 0xBF}) {
		return nil, errors.New("docform: BOM not allowed")
	}
	if bytes.Contains(data, []byte("\r")) {
		return nil, errors.New("docform: CR line endings not allowed")
	}
	if len(data) > 0 && data[len(data)-1] == '\n' {
		return nil, errors.New("docform: trailing newline not allowed")
	}

	lines := strings.Split(string(data), "\n")
	if len(lines) < 2 || lines[0] != preamble {
		return nil, errors.New("docform: missing or malformed preamble")
	}
	if lines[len(lines)-1] != postamble {
		return nil, errors.New("docform: missing or malformed postamble")
	}

	var sections []Section
	var curr *Section
	afterSeparator := false
	for _, line := range lines[1 : len(lines)-1] {
		if len(line) > 0 && (line[len(line)-1] == ' ' || line[len(line)-1] == '\t') {
			return nil, errors.New("docform: trailing whitespace forbidden")
		}
		if line == "" {
			if curr == nil {
				return nil, errors.New("docform: blank line outside section")
			}
			if afterSeparator {
				return nil, errors.New("docform: multiple blank lines between sections")
			}
			afterSeparator = true
			continue
		}
		if key, value, ok := strings.Cut(line, ": "); ok && curr != nil && !afterSeparator {
			if key == "" || !isASCII(key) {
				return nil, fmt.Errorf("docform: invalid key %q", key)
			}
			if strings.HasPrefix(value, " ") {
				return nil, errors.New("docform: value must not start with a space")
			}
			curr.Lines = append(curr.Lines, KV{Key: key, Value: value})
			continue
		}
		if strings.Contains(line, ": ") {
			return nil, errors.New("docform: key-value line outside section")
		}
		// Section header.
		if curr != nil && !afterSeparator {
			return nil, errors.New("docform: missing blank line between sections")
		}
		if curr == nil && afterSeparator {
			return nil, errors.New("docform: blank line before first section")
		}
		for _, s := range sections {
			if s.Name == line {
				return nil, fmt.Errorf("docform: duplicate section %q", line)
			}
		}
		sections = append(sections, Section{Name: line})
		curr = &sections[len(sections)-1]
		afterSeparator = false
	}
	if afterSeparator {
		return nil, errors.New("docform: blank line before postamble")
	}
	if len(sections) == 0 {
		return nil, errors.New("docform: document has no sections")
	}
	return sections, nil
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 127 {
			return false
		}
	}
	return true
}
