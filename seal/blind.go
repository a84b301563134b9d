package seal

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// SecretSize is the byte length of a blinding secret.
const SecretSize = 32

// CommitmentSize is the byte length of a blind-seal commitment.
const CommitmentSize = 32

// Secret is the locally generated blinding secret for a blind seal.
// It never leaves the seal creator's node until Accept.
type Secret [SecretSize]byte

func (s Secret) String() string { return hex.EncodeToString(s[:]) }

// ParseSecret decodes a hex-encoded blinding secret.
func ParseSecret(s string) (Secret, error) {
	var out Secret
	if err := decodeHexExact(s, out[:]); err != nil {
		return Secret{}, fmt.Errorf("seal: invalid secret: %w", err)
	}
	return out, nil
}

// Blind is a blinded seal: a one-way commitment to a revealed seal.
// The commitment never changes once created.
type Blind struct {
	Commitment [CommitmentSize]byte
}

func (b Blind) String() string { return hex.EncodeToString(b.Commitment[:]) }

// ParseBlind decodes a hex-encoded blind-seal commitment.
func ParseBlind(s string) (Blind, error) {
	var out Blind
	if err := decodeHexExact(s, out.Commitment[:]); err != nil {
		return Blind{}, fmt.Errorf("seal: invalid blind seal: %w", err)
	}
	return out, nil
}

// BlindSeal blinds a revealed seal with a fresh random secret.
//
// The only failure mode is an entropy-source failure.
func BlindSeal(r Revealed) (Blind, Secret, error) {
	if err := r.Validate(); err != nil {
		return Blind{}, Secret{}, err
	}
	var secret Secret
	if _, err := rand.Read(secret[:]); err != nil {
		return Blind{}, Secret{}, fmt.Errorf("seal: entropy source: %w", err)
	}
	return Blind{Commitment: commit(r, secret)}, secret, nil
}

// Reveal reports whether (claimed, secret) opens the blind seal.
//
// It recomputes the commitment and compares in constant time; it never
// errors. A false return during Accept means the consignment bound value to
// a different outpoint than the one claimed.
func Reveal(b Blind, secret Secret, claimed Revealed) bool {
	got := commit(claimed, secret)
	return subtle.ConstantTimeCompare(got[:], b.Commitment[:]) == 1
}

// commit derives the commitment as blake2b-256 over the length-prefixed
// canonical revealed form followed by the secret. Pure over its inputs.
func commit(r Revealed, secret Secret) [CommitmentSize]byte {
	h, _ := blake2b.New256(nil)
	canonical := []byte(r.String())
	var lenPrefix [4]byte
	binary.LittleEndian.PutUint32(lenPrefix[:], uint32(len(canonical)))
	h.Write(lenPrefix[:])
	h.Write(canonical)
	h.Write(secret[:])
	var out [CommitmentSize]byte
	copy(out[:], h.Sum(nil))
	return out
}

func decodeHexExact(s string, dst []byte) error {
	b, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	if len(b) != len(dst) {
		return fmt.Errorf("expected %d bytes, got %d", len(dst), len(b))
	}
	copy(dst, b)
	return nil
}
