package chain

import (
	"context"
	"sync"
)

// StaticOracle is an in-memory ConfirmationOracle fed by the caller. It
// backs tests and the standalone oracle daemon.
type StaticOracle struct {
	mu    sync.RWMutex
	txids map[string]Status
}

func NewStaticOracle() *StaticOracle {
	return &StaticOracle{txids: make(map[string]Status)}
}

// See marks a txid as broadcast but not yet mined.
func (o *StaticOracle) See(txid string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.txids[txid] = Status{State: StateUnconfirmed}
}

// Confirm marks a txid as mined at the given depth.
func (o *StaticOracle) Confirm(txid string, depth uint32) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.txids[txid] = Status{State: StateConfirmed, Depth: depth}
}

func (o *StaticOracle) Confirmation(ctx context.Context, txid string) (Status, error) {
	if err := ctx.Err(); err != nil {
		return Status{}, err
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	st, ok := o.txids[txid]
	if !ok {
		return Status{State: StateNotFound}, nil
	}
	return st, nil
}
