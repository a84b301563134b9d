package consign_test

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/cloudflare/circl/sign/dilithium/mode3"

	"xdao.co/sealvault/consign"
)

func TestSignEd25519RoundTrip(t *testing.T) {
	f := buildFixture(t)
	c := f.consignment()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	if err := c.SignEd25519(priv); err != nil {
		t.Fatalf("SignEd25519 failed: %v", err)
	}
	if err := c.VerifySignature(); err != nil {
		t.Fatalf("VerifySignature failed: %v", err)
	}

	// The signature must survive a bundle round trip.
	data, err := consign.ExportBytes(nil, c)
	if err != nil {
		t.Fatalf("ExportBytes failed: %v", err)
	}
	parsed, err := consign.Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if parsed.Signature == nil || parsed.Signature.Alg != consign.AlgEd25519 {
		t.Fatalf("signature lost across round trip: %+v", parsed.Signature)
	}
	if err := parsed.VerifySignature(); err != nil {
		t.Fatalf("VerifySignature after round trip failed: %v", err)
	}

	report := consign.Validate(context.Background(), data, nil, confirmedOracle(f))
	if !report.OK() {
		t.Fatalf("signed bundle must validate, got %+v", report)
	}
}

func TestSignDilithium3RoundTrip(t *testing.T) {
	f := buildFixture(t)
	c := f.consignment()

	_, priv, err := mode3.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	if err := c.SignDilithium3(priv); err != nil {
		t.Fatalf("SignDilithium3 failed: %v", err)
	}
	if err := c.VerifySignature(); err != nil {
		t.Fatalf("VerifySignature failed: %v", err)
	}

	data, err := consign.ExportBytes(nil, c)
	if err != nil {
		t.Fatalf("ExportBytes failed: %v", err)
	}
	parsed, err := consign.Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if parsed.Signature == nil || parsed.Signature.Alg != consign.AlgDilithium3 {
		t.Fatalf("signature lost across round trip: %+v", parsed.Signature)
	}
	if err := parsed.VerifySignature(); err != nil {
		t.Fatalf("VerifySignature after round trip failed: %v", err)
	}
}

func TestTamperedSignatureFailsClosed(t *testing.T) {
	f := buildFixture(t)
	c := f.consignment()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	if err := c.SignEd25519(priv); err != nil {
		t.Fatalf("SignEd25519 failed: %v", err)
	}

	// Flipping a signature bit must fail verification.
	c.Signature.Sig[0] ^= 1
	if err := c.VerifySignature(); err == nil {
		t.Fatalf("expected verification failure for tampered signature")
	}
	c.Signature.Sig[0] ^= 1

	// Changing the signed scope must also fail verification.
	c.Recipient = nil
	if err := c.VerifySignature(); err == nil {
		t.Fatalf("expected verification failure for altered scope")
	}
}

func TestValidateReportsBadSignature(t *testing.T) {
	f := buildFixture(t)
	c := f.consignment()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	if err := c.SignEd25519(priv); err != nil {
		t.Fatalf("SignEd25519 failed: %v", err)
	}
	c.Signature.Sig[0] ^= 1
	data, err := consign.ExportBytes(nil, c)
	if err != nil {
		t.Fatalf("ExportBytes failed: %v", err)
	}

	report := consign.Validate(context.Background(), data, nil, confirmedOracle(f))
	if report.Sound() {
		t.Fatalf("expected hard failure for invalid signature")
	}
	if report.Failures[0].Kind != consign.KindCrypto {
		t.Fatalf("expected Crypto failure, got %+v", report.Failures[0])
	}
}
