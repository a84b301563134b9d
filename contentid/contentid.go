// Package contentid derives content identifiers for canonical document bytes.
//
// All durable objects in the vault (contract geneses, state transitions,
// anchors) are keyed by CIDv1 with the "raw" multicodec and a sha2-256
// multihash, computed over their canonical serialization.
package contentid

import (
	"errors"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// New returns a CIDv1 (raw + sha2-256) derived from data.
func New(data []byte) (cid.Cid, error) {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, sum), nil
}

// NewString returns the string form of New.
func NewString(data []byte) string {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		// multihash.Sum only errors for invalid inputs; with SHA2_256 and -1
		// length this should be unreachable.
		return ""
	}
	return cid.NewCidV1(cid.Raw, sum).String()
}

// Parse decodes a CID string and rejects undefined values.
func Parse(s string) (cid.Cid, error) {
	id, err := cid.Decode(s)
	if err != nil {
		return cid.Undef, err
	}
	if !id.Defined() {
		return cid.Undef, errors.New("contentid: undefined cid")
	}
	return id, nil
}
