package consign

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
)

// Supported signature algorithms.
const (
	AlgEd25519    = "ed25519"
	AlgDilithium3 = "dilithium3"
)

// Signature is an issuer signature over the bundle's signing scope, which
// is the canonical manifest with the signature itself omitted. Because the
// manifest names every carried block by CID, the signature transitively
// covers all block bytes.
type Signature struct {
	Alg       string
	PublicKey []byte
	Sig       []byte
}

func encodeSignature(s *Signature) *manifestSignature {
	return &manifestSignature{
		Alg:       s.Alg,
		PublicKey: base64.StdEncoding.EncodeToString(s.PublicKey),
		Signature: base64.StdEncoding.EncodeToString(s.Sig),
	}
}

func decodeSignature(m *manifestSignature) (*Signature, error) {
	pub, err := base64.StdEncoding.DecodeString(m.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("consign: invalid public key base64: %w", err)
	}
	sig, err := base64.StdEncoding.DecodeString(m.Signature)
	if err != nil {
		return nil, fmt.Errorf("consign: invalid signature base64: %w", err)
	}
	switch m.Alg {
	case AlgEd25519:
		if len(pub) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("consign: invalid ed25519 public key length %d", len(pub))
		}
		if len(sig) != ed25519.SignatureSize {
			return nil, fmt.Errorf("consign: invalid ed25519 signature length %d", len(sig))
		}
	case AlgDilithium3:
		var pk mode3.PublicKey
		if err := pk.UnmarshalBinary(pub); err != nil {
			return nil, fmt.Errorf("consign: invalid dilithium3 public key: %w", err)
		}
		if len(sig) != mode3.SignatureSize {
			return nil, fmt.Errorf("consign: invalid dilithium3 signature length %d", len(sig))
		}
	default:
		return nil, fmt.Errorf("consign: unsupported signature alg %q", m.Alg)
	}
	return &Signature{Alg: m.Alg, PublicKey: pub, Sig: sig}, nil
}

func (c *Consignment) signingScope() ([]byte, error) {
	scope, err := marshalManifest(c, false)
	if err != nil {
		return nil, err
	}
	digest := sha256.Sum256(scope)
	return digest[:], nil
}

// SignEd25519 attaches an ed25519 signature over the signing scope.
func (c *Consignment) SignEd25519(priv ed25519.PrivateKey) error {
	digest, err := c.signingScope()
	if err != nil {
		return err
	}
	c.Signature = &Signature{
		Alg:       AlgEd25519,
		PublicKey: append([]byte(nil), priv.Public().(ed25519.PublicKey)...),
		Sig:       ed25519.Sign(priv, digest),
	}
	return nil
}

// SignDilithium3 attaches a post-quantum dilithium3 signature over the
// signing scope.
func (c *Consignment) SignDilithium3(priv *mode3.PrivateKey) error {
	if priv == nil {
		return fmt.Errorf("consign: missing private key")
	}
	digest, err := c.signingScope()
	if err != nil {
		return err
	}
	pub, err := priv.Public().(*mode3.PublicKey).MarshalBinary()
	if err != nil {
		return err
	}
	sig := make([]byte, mode3.SignatureSize)
	mode3.SignTo(priv, digest, sig)
	c.Signature = &Signature{Alg: AlgDilithium3, PublicKey: pub, Sig: sig}
	return nil
}

// VerifySignature checks the attached signature against the signing scope.
// A bundle without a signature verifies trivially.
func (c *Consignment) VerifySignature() error {
	if c.Signature == nil {
		return nil
	}
	digest, err := c.signingScope()
	if err != nil {
		return err
	}
	switch c.Signature.Alg {
	case AlgEd25519:
		if !ed25519.Verify(ed25519.PublicKey(c.Signature.PublicKey), digest, c.Signature.Sig) {
			return fmt.Errorf("consign: signature invalid")
		}
		return nil
	case AlgDilithium3:
		var pk mode3.PublicKey
		if err := pk.UnmarshalBinary(c.Signature.PublicKey); err != nil {
			return fmt.Errorf("consign: invalid dilithium3 public key: %w", err)
		}
		if !mode3.Verify(&pk, digest, c.Signature.Sig) {
			return fmt.Errorf("consign: signature invalid")
		}
		return nil
	default:
		return fmt.Errorf("consign: unsupported signature alg %q", c.Signature.Alg)
	}
}
