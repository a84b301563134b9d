package seal

import (
	"strings"
	"testing"
)

func testTxid(c byte) string {
	return strings.Repeat(string(c), 64)
}

func TestParseRevealedRoundTrip(t *testing.T) {
	in := "opret1st:" + testTxid('a') + ":3"
	r, err := ParseRevealed(in)
	if err != nil {
		t.Fatalf("ParseRevealed failed: %v", err)
	}
	if r.Method != MethodOpretFirst || r.Outpoint.Vout != 3 {
		t.Fatalf("parsed wrong seal: %+v", r)
	}
	if r.String() != in {
		t.Fatalf("String round trip: got %q want %q", r.String(), in)
	}
}

func TestParseRevealedRejects(t *testing.T) {
	bad := []string{
		"",
		"opret1st",
		"opret1st:" + testTxid('a'),
		"unknown:" + testTxid('a') + ":0",
		"opret1st:" + strings.Repeat("a", 63) + ":0",
		"opret1st:" + strings.ToUpper(testTxid('a')) + ":0",
		"opret1st:" + strings.Repeat("g", 64) + ":0",
		"opret1st:" + testTxid('a') + ":-1",
		"opret1st:" + testTxid('a') + ":4294967296",
	}
	for _, s := range bad {
		if _, err := ParseRevealed(s); err == nil {
			t.Fatalf("expected rejection of %q", s)
		}
	}
}

func TestBlindRevealRoundTrip(t *testing.T) {
	r := Revealed{Method: MethodTapretFirst, Outpoint: Outpoint{Txid: testTxid('b'), Vout: 7}}
	blind, secret, err := BlindSeal(r)
	if err != nil {
		t.Fatalf("BlindSeal failed: %v", err)
	}

	if !Reveal(blind, secret, r) {
		t.Fatalf("Reveal rejected the original seal and secret")
	}

	other := r
	other.Outpoint.Vout = 8
	if Reveal(blind, secret, other) {
		t.Fatalf("Reveal accepted a different outpoint")
	}

	var wrongSecret Secret
	copy(wrongSecret[:], secret[:])
	wrongSecret[0] ^= 0x01
	if Reveal(blind, wrongSecret, r) {
		t.Fatalf("Reveal accepted a tampered secret")
	}

	otherMethod := r
	otherMethod.Method = MethodOpretFirst
	if Reveal(blind, secret, otherMethod) {
		t.Fatalf("Reveal accepted a different closing method")
	}
}

func TestBlindSealIsUnlinkable(t *testing.T) {
	r := Revealed{Method: MethodOpretFirst, Outpoint: Outpoint{Txid: testTxid('c'), Vout: 0}}
	b1, _, err := BlindSeal(r)
	if err != nil {
		t.Fatalf("BlindSeal failed: %v", err)
	}
	b2, _, err := BlindSeal(r)
	if err != nil {
		t.Fatalf("BlindSeal failed: %v", err)
	}
	if b1 == b2 {
		t.Fatalf("blinding the same seal twice must produce distinct commitments")
	}
}

func TestBlindStringRoundTrip(t *testing.T) {
	r := Revealed{Method: MethodOpretFirst, Outpoint: Outpoint{Txid: testTxid('d'), Vout: 1}}
	blind, secret, err := BlindSeal(r)
	if err != nil {
		t.Fatalf("BlindSeal failed: %v", err)
	}

	parsedBlind, err := ParseBlind(blind.String())
	if err != nil {
		t.Fatalf("ParseBlind failed: %v", err)
	}
	if parsedBlind != blind {
		t.Fatalf("blind round trip mismatch")
	}

	parsedSecret, err := ParseSecret(secret.String())
	if err != nil {
		t.Fatalf("ParseSecret failed: %v", err)
	}
	if parsedSecret != secret {
		t.Fatalf("secret round trip mismatch")
	}

	if _, err := ParseBlind("zz"); err == nil {
		t.Fatalf("expected rejection of malformed blind hex")
	}
}
