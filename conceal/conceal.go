// Package conceal implements fungible value commitments.
//
// While a transfer is in flight the recipient's allocation carries only a
// commitment to its amount. The opening (amount plus blinding factor)
// travels inside the consignment and is verified before the allocation is
// converted to a revealed one on Accept.
package conceal

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// BlindingSize is the byte length of a value blinding factor.
const BlindingSize = 32

// CommitmentSize is the byte length of a value commitment.
const CommitmentSize = 32

// Commitment is a one-way commitment to an amount.
type Commitment [CommitmentSize]byte

func (c Commitment) String() string { return hex.EncodeToString(c[:]) }

// ParseCommitment decodes a hex-encoded value commitment.
func ParseCommitment(s string) (Commitment, error) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != CommitmentSize {
		return Commitment{}, fmt.Errorf("conceal: invalid commitment %q", s)
	}
	var out Commitment
	copy(out[:], b)
	return out, nil
}

// Opening opens a value commitment.
type Opening struct {
	Amount   uint64
	Blinding [BlindingSize]byte
}

// Conceal commits to amount under a fresh random blinding factor.
func Conceal(amount uint64) (Commitment, Opening, error) {
	var blinding [BlindingSize]byte
	if _, err := rand.Read(blinding[:]); err != nil {
		return Commitment{}, Opening{}, fmt.Errorf("conceal: entropy source: %w", err)
	}
	op := Opening{Amount: amount, Blinding: blinding}
	return op.Commitment(), op, nil
}

// Commitment recomputes the commitment for the opening. Pure.
func (o Opening) Commitment() Commitment {
	h, _ := blake2b.New256(nil)
	var amt [8]byte
	binary.LittleEndian.PutUint64(amt[:], o.Amount)
	h.Write(amt[:])
	h.Write(o.Blinding[:])
	var out Commitment
	copy(out[:], h.Sum(nil))
	return out
}

// Verify reports whether the opening opens c. Constant time, never errors.
func (o Opening) Verify(c Commitment) bool {
	got := o.Commitment()
	return subtle.ConstantTimeCompare(got[:], c[:]) == 1
}

// BlindingHex returns the hex form of the blinding factor.
func (o Opening) BlindingHex() string { return hex.EncodeToString(o.Blinding[:]) }

// ParseBlinding decodes a hex-encoded blinding factor.
func ParseBlinding(s string) ([BlindingSize]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != BlindingSize {
		return [BlindingSize]byte{}, fmt.Errorf("conceal: invalid blinding %q", s)
	}
	var out [BlindingSize]byte
	copy(out[:], b)
	return out, nil
}
