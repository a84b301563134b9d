package transfer

import (
	"github.com/looplab/fsm"
)

// Allocation lifecycle states tracked per in-flight input seal.
const (
	StateUnspent   = "unspent"
	StateCommitted = "committed"
	StateResolved  = "resolved"
	StateAbandoned = "abandoned"
)

// Allocation lifecycle events.
const (
	EventCommit  = "commit"
	EventResolve = "resolve"
	EventAbandon = "abandon"
)

// newAllocationFSM builds the per-seal state machine. Commit reserves a
// seal for one transfer attempt; Resolve follows a successful enclose;
// Abandon frees a reservation whose witness never made it out. A resolved
// or committed seal cannot be committed again, which is the in-process
// guard against racing transfers over the same allocation (the stash is
// the durable one).
func newAllocationFSM() *fsm.FSM {
	return fsm.NewFSM(
		StateUnspent,
		fsm.Events{
			{Name: EventCommit, Src: []string{StateUnspent}, Dst: StateCommitted},
			{Name: EventResolve, Src: []string{StateCommitted}, Dst: StateResolved},
			{Name: EventAbandon, Src: []string{StateCommitted}, Dst: StateAbandoned},
		},
		fsm.Callbacks{},
	)
}
