package conceal

import "testing"

func TestConcealVerifyRoundTrip(t *testing.T) {
	commitment, opening, err := Conceal(1234)
	if err != nil {
		t.Fatalf("Conceal failed: %v", err)
	}
	if opening.Amount != 1234 {
		t.Fatalf("opening amount: got %d want 1234", opening.Amount)
	}
	if !opening.Verify(commitment) {
		t.Fatalf("opening does not verify against its own commitment")
	}

	wrongAmount := opening
	wrongAmount.Amount++
	if wrongAmount.Verify(commitment) {
		t.Fatalf("tampered amount verified")
	}

	wrongBlinding := opening
	wrongBlinding.Blinding[0] ^= 0x01
	if wrongBlinding.Verify(commitment) {
		t.Fatalf("tampered blinding verified")
	}
}

func TestConcealHidesAmount(t *testing.T) {
	c1, _, err := Conceal(500)
	if err != nil {
		t.Fatalf("Conceal failed: %v", err)
	}
	c2, _, err := Conceal(500)
	if err != nil {
		t.Fatalf("Conceal failed: %v", err)
	}
	if c1 == c2 {
		t.Fatalf("equal amounts must not produce equal commitments")
	}
}

func TestParseCommitmentRoundTrip(t *testing.T) {
	c, _, err := Conceal(9)
	if err != nil {
		t.Fatalf("Conceal failed: %v", err)
	}
	parsed, err := ParseCommitment(c.String())
	if err != nil {
		t.Fatalf("ParseCommitment failed: %v", err)
	}
	if parsed != c {
		t.Fatalf("commitment round trip mismatch")
	}
	if _, err := ParseCommitment("not-hex"); err == nil {
		t.Fatalf("expected rejection of malformed commitment")
	}
}
