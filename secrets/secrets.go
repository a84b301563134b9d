// Package secrets is the local-first store for material that must never
// leave the vault in a consignment: blind-seal secrets, value-commitment
// openings learned along the chain, and consignment signing seeds.
//
// Everything is a small hex file under a 0700 directory tree, explicit and
// greppable. There is no encryption at rest; the store relies on filesystem
// permissions like the rest of the vault.
package secrets

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ipfs/go-cid"

	"xdao.co/sealvault/conceal"
	"xdao.co/sealvault/contentid"
	"xdao.co/sealvault/seal"
)

// ErrNotFound is returned when the requested entry does not exist.
var ErrNotFound = errors.New("secrets: not found")

// Store is a filesystem secret store rooted at Directory.
type Store struct {
	Directory string
}

// DefaultDirectory returns ~/.sealvault/secrets.
func DefaultDirectory() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".sealvault", "secrets"), nil
}

// Open returns a store rooted at directory, defaulting to
// DefaultDirectory when empty.
func Open(directory string) (*Store, error) {
	if directory == "" {
		var err error
		directory, err = DefaultDirectory()
		if err != nil {
			return nil, err
		}
	}
	return &Store{Directory: directory}, nil
}

func (s *Store) blindPath(contractID cid.Cid, blind seal.Blind) string {
	return filepath.Join(s.Directory, contractID.String(), "blinds", blind.String()+".secret")
}

func (s *Store) openingPath(contractID, transitionID cid.Cid, output int) string {
	name := fmt.Sprintf("%s-%d.opening", transitionID, output)
	return filepath.Join(s.Directory, contractID.String(), "openings", name)
}

func (s *Store) seedPath(name string) string {
	return filepath.Join(s.Directory, "signing", name+".seed")
}

func checkName(name string) error {
	if name == "" {
		return errors.New("secrets: name cannot be empty")
	}
	for _, char := range name {
		if (char >= 'a' && char <= 'z') || (char >= 'A' && char <= 'Z') || (char >= '0' && char <= '9') || char == '-' || char == '_' {
			continue
		}
		return fmt.Errorf("secrets: invalid character %q in name", char)
	}
	return nil
}

func writeHexFile(path string, raw []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(hex.EncodeToString(raw) + "\n"); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func readHexFile(path string, wantLen int) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	raw, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("secrets: corrupt entry %s: %w", path, err)
	}
	if wantLen > 0 && len(raw) != wantLen {
		return nil, fmt.Errorf("secrets: entry %s has length %d, want %d", path, len(raw), wantLen)
	}
	return raw, nil
}

// SaveBlindSecret stores the secret that opens a blind seal. Saving the
// same secret again is a no-op.
func (s *Store) SaveBlindSecret(contractID cid.Cid, blind seal.Blind, secret seal.Secret) error {
	return writeHexFile(s.blindPath(contractID, blind), secret[:])
}

// LoadBlindSecret returns the stored secret for a blind seal.
func (s *Store) LoadBlindSecret(contractID cid.Cid, blind seal.Blind) (seal.Secret, error) {
	raw, err := readHexFile(s.blindPath(contractID, blind), seal.SecretSize)
	if err != nil {
		return seal.Secret{}, err
	}
	var out seal.Secret
	copy(out[:], raw)
	return out, nil
}

// DeleteBlindSecret removes a blind-seal secret once the seal is revealed
// and recorded.
func (s *Store) DeleteBlindSecret(contractID cid.Cid, blind seal.Blind) error {
	err := os.Remove(s.blindPath(contractID, blind))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// OpeningKey addresses one stored value-commitment opening.
type OpeningKey struct {
	Transition cid.Cid
	Output     int
}

// SaveOpening stores the opening of a concealed output so the vault can
// re-export provenance later.
func (s *Store) SaveOpening(contractID, transitionID cid.Cid, output int, o conceal.Opening) error {
	raw := make([]byte, 8+conceal.BlindingSize)
	for i := 0; i < 8; i++ {
		raw[i] = byte(o.Amount >> (8 * i))
	}
	copy(raw[8:], o.Blinding[:])
	return writeHexFile(s.openingPath(contractID, transitionID, output), raw)
}

// LoadOpening returns one stored opening.
func (s *Store) LoadOpening(contractID, transitionID cid.Cid, output int) (conceal.Opening, error) {
	raw, err := readHexFile(s.openingPath(contractID, transitionID, output), 8+conceal.BlindingSize)
	if err != nil {
		return conceal.Opening{}, err
	}
	return decodeOpening(raw), nil
}

// ListOpenings returns all openings stored for a contract.
func (s *Store) ListOpenings(contractID cid.Cid) (map[OpeningKey]conceal.Opening, error) {
	dir := filepath.Join(s.Directory, contractID.String(), "openings")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[OpeningKey]conceal.Opening{}, nil
		}
		return nil, err
	}
	out := make(map[OpeningKey]conceal.Opening, len(entries))
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), ".opening")
		if !ok {
			continue
		}
		sep := strings.LastIndex(name, "-")
		if sep < 0 {
			continue
		}
		tid, err := contentid.Parse(name[:sep])
		if err != nil {
			return nil, fmt.Errorf("secrets: corrupt opening entry %s: %w", e.Name(), err)
		}
		var output int
		if _, err := fmt.Sscanf(name[sep+1:], "%d", &output); err != nil {
			return nil, fmt.Errorf("secrets: corrupt opening entry %s: %w", e.Name(), err)
		}
		raw, err := readHexFile(filepath.Join(dir, e.Name()), 8+conceal.BlindingSize)
		if err != nil {
			return nil, err
		}
		out[OpeningKey{Transition: tid, Output: output}] = decodeOpening(raw)
	}
	return out, nil
}

func decodeOpening(raw []byte) conceal.Opening {
	var o conceal.Opening
	for i := 0; i < 8; i++ {
		o.Amount |= uint64(raw[i]) << (8 * i)
	}
	copy(o.Blinding[:], raw[8:])
	return o
}

// SaveSigningSeed stores an ed25519 seed for consignment signatures.
func (s *Store) SaveSigningSeed(name string, seed []byte) error {
	if err := checkName(name); err != nil {
		return err
	}
	if len(seed) != ed25519.SeedSize {
		return fmt.Errorf("secrets: expected seed length of %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return writeHexFile(s.seedPath(name), seed)
}

// LoadSigningKey returns the ed25519 private key derived from a stored
// seed.
func (s *Store) LoadSigningKey(name string) (ed25519.PrivateKey, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	raw, err := readHexFile(s.seedPath(name), ed25519.SeedSize)
	if err != nil {
		return nil, err
	}
	return ed25519.NewKeyFromSeed(raw), nil
}

// ListSigningSeeds returns the names of stored signing seeds, sorted.
func (s *Store) ListSigningSeeds() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.Directory, "signing"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if name, ok := strings.CutSuffix(e.Name(), ".seed"); ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}
