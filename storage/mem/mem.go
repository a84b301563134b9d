// Package mem implements an in-memory CAS for tests and consignment staging.
package mem

import (
	"sync"

	"github.com/ipfs/go-cid"

	"xdao.co/sealvault/contentid"
	"xdao.co/sealvault/storage"
)

// CAS is a memory-backed content-addressable store.
//
// Safe for concurrent use. Consignment import stages incoming blocks here
// before they are admitted to the durable vault.
type CAS struct {
	mu     sync.RWMutex
	blocks map[cid.Cid][]byte
}

func New() *CAS {
	return &CAS{blocks: make(map[cid.Cid][]byte)}
}

func (c *CAS) Put(bytes []byte) (cid.Cid, error) {
	id, err := contentid.New(bytes)
	if err != nil {
		return cid.Undef, err
	}
	if !id.Defined() {
		return cid.Undef, storage.ErrInvalidCID
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.blocks[id]; ok {
		if string(existing) != string(bytes) {
			return cid.Undef, storage.ErrImmutable
		}
		return id, nil
	}
	cp := make([]byte, len(bytes))
	copy(cp, bytes)
	c.blocks[id] = cp
	return id, nil
}

func (c *CAS) Get(id cid.Cid) ([]byte, error) {
	if !id.Defined() {
		return nil, storage.ErrInvalidCID
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.blocks[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	return cp, nil
}

func (c *CAS) Has(id cid.Cid) bool {
	if !id.Defined() {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.blocks[id]
	return ok
}
