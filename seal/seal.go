// Package seal implements the ownership-binding primitives of the vault.
//
// A seal binds contract state to a base-ledger transaction output. A seal is
// either revealed (the outpoint is public) or blind (only a commitment to the
// outpoint is public; the outpoint and the blinding secret are held by the
// seal's creator until reveal).
package seal

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Method is the closing-method tag describing how a transition commitment is
// embedded into the witness transaction spending the sealed output.
type Method string

const (
	// MethodOpretFirst commits via the first OP_RETURN output.
	MethodOpretFirst Method = "opret1st"
	// MethodTapretFirst commits via a tweak of the first taproot output.
	MethodTapretFirst Method = "tapret1st"
)

// ParseMethod validates a closing-method tag.
func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case MethodOpretFirst, MethodTapretFirst:
		return Method(s), nil
	}
	return "", fmt.Errorf("seal: unknown closing method %q", s)
}

// Outpoint identifies a base-ledger transaction output.
//
// Txid is the lowercase hex transaction id; canonical form is "txid:vout".
type Outpoint struct {
	Txid string
	Vout uint32
}

func (o Outpoint) String() string {
	return o.Txid + ":" + strconv.FormatUint(uint64(o.Vout), 10)
}

// Validate checks the txid is 32 lowercase hex bytes.
func (o Outpoint) Validate() error {
	if len(o.Txid) != 64 {
		return errors.New("seal: txid must be 64 hex characters")
	}
	if strings.ToLower(o.Txid) != o.Txid {
		return errors.New("seal: txid must be lowercase hex")
	}
	if _, err := hex.DecodeString(o.Txid); err != nil {
		return errors.New("seal: txid is not valid hex")
	}
	return nil
}

// ParseOutpoint parses the canonical "txid:vout" form.
func ParseOutpoint(s string) (Outpoint, error) {
	txid, voutStr, ok := strings.Cut(s, ":")
	if !ok {
		return Outpoint{}, fmt.Errorf("seal: invalid outpoint %q", s)
	}
	vout, err := strconv.ParseUint(voutStr, 10, 32)
	if err != nil {
		return Outpoint{}, fmt.Errorf("seal: invalid outpoint index in %q", s)
	}
	op := Outpoint{Txid: txid, Vout: uint32(vout)}
	if err := op.Validate(); err != nil {
		return Outpoint{}, err
	}
	return op, nil
}

// Revealed is an explicit seal: a closing method qualifying an outpoint.
// Canonical form is "method:txid:vout".
type Revealed struct {
	Method   Method
	Outpoint Outpoint
}

func (r Revealed) String() string {
	return string(r.Method) + ":" + r.Outpoint.String()
}

func (r Revealed) Validate() error {
	if _, err := ParseMethod(string(r.Method)); err != nil {
		return err
	}
	return r.Outpoint.Validate()
}

// ParseRevealed parses the canonical "method:txid:vout" form.
func ParseRevealed(s string) (Revealed, error) {
	methodStr, rest, ok := strings.Cut(s, ":")
	if !ok {
		return Revealed{}, fmt.Errorf("seal: invalid revealed seal %q", s)
	}
	method, err := ParseMethod(methodStr)
	if err != nil {
		return Revealed{}, err
	}
	op, err := ParseOutpoint(rest)
	if err != nil {
		return Revealed{}, err
	}
	return Revealed{Method: method, Outpoint: op}, nil
}
