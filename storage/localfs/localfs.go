// Package localfs stores vault blocks as read-only files under a root
// directory. It is the default block store of an on-disk vault.
//
// Blocks are published atomically: bytes go to a temp file, are fsynced,
// and are renamed into place as a 0444 file. A crash mid-Put leaves at
// most a stray temp file, never a partial block.
package localfs

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ipfs/go-cid"

	"xdao.co/sealvault/contentid"
	"xdao.co/sealvault/storage"
)

// CAS is a filesystem block store keyed strictly by CID. Safe for
// concurrent use within one process.
type CAS struct {
	root string
}

// New opens a block store rooted at root, creating the directory if
// needed.
func New(root string) (*CAS, error) {
	if root == "" {
		return nil, errors.New("localfs: empty root directory")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &CAS{root: root}, nil
}

// Put stores b under its CID. Re-putting identical bytes is a no-op;
// finding different bytes already stored under the id fails with
// ErrImmutable.
func (c *CAS) Put(b []byte) (cid.Cid, error) {
	id, err := contentid.New(b)
	if err != nil {
		return cid.Undef, err
	}
	if !id.Defined() {
		return cid.Undef, storage.ErrInvalidCID
	}

	path := c.blockPath(id)
	existing, err := os.ReadFile(path)
	if err == nil {
		if !bytes.Equal(existing, b) {
			return cid.Undef, fmt.Errorf("%w: %s", storage.ErrImmutable, id)
		}
		return id, nil
	}
	if !os.IsNotExist(err) {
		return cid.Undef, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return cid.Undef, err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return cid.Undef, err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return cid.Undef, err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return cid.Undef, err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return cid.Undef, err
	}
	if err := os.Chmod(tmp, 0o444); err != nil {
		_ = os.Remove(tmp)
		return cid.Undef, err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return cid.Undef, err
	}
	return id, nil
}

// Get returns the stored bytes, re-hashing them against the id so silent
// on-disk corruption surfaces as ErrCIDMismatch instead of bad state.
func (c *CAS) Get(id cid.Cid) ([]byte, error) {
	if !id.Defined() {
		return nil, storage.ErrInvalidCID
	}
	b, err := os.ReadFile(c.blockPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	got, err := contentid.New(b)
	if err != nil {
		return nil, err
	}
	if got != id {
		return nil, fmt.Errorf("%w: %s", storage.ErrCIDMismatch, id)
	}
	return b, nil
}

// Has reports whether a block is present, without reading it.
func (c *CAS) Has(id cid.Cid) bool {
	if !id.Defined() {
		return false
	}
	_, err := os.Stat(c.blockPath(id))
	return err == nil
}

// blockPath shards by the tail of the CID string. Base32 CIDv1 ids share
// a long common prefix, so sharding by the head would pile every block
// into one directory.
func (c *CAS) blockPath(id cid.Cid) string {
	s := id.String()
	if len(s) < 3 {
		return filepath.Join(c.root, s)
	}
	return filepath.Join(c.root, s[len(s)-3:], s)
}
