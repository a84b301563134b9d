// Package transfer drives asset transfers end to end: building and
// anchoring transitions on the sender side, validating and accepting
// consignments on the recipient side.
//
// The engine is transport-agnostic. It owns no sockets; callers move
// consignment and disclosure bytes between parties however they like and
// hand them back in.
package transfer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ipfs/go-cid"
	"github.com/looplab/fsm"
	"github.com/rs/zerolog"

	"xdao.co/sealvault/chain"
	"xdao.co/sealvault/conceal"
	"xdao.co/sealvault/consign"
	"xdao.co/sealvault/contract"
	"xdao.co/sealvault/ledger"
	"xdao.co/sealvault/seal"
	"xdao.co/sealvault/secrets"
	"xdao.co/sealvault/stash"
	"xdao.co/sealvault/transition"
)

// Engine coordinates one vault's side of transfers.
type Engine struct {
	stash   *stash.Stash
	secrets *secrets.Store
	oracle  chain.ConfirmationOracle

	broadcaster chain.Broadcaster
	signer      string
	log         zerolog.Logger

	pollAttempts int
	pollDelay    time.Duration

	mu       sync.Mutex
	reserved map[string]*fsm.FSM // contract/seal -> lifecycle
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the progress logger.
func WithLogger(l zerolog.Logger) Option { return func(e *Engine) { e.log = l } }

// WithBroadcaster sets the witness publisher. The broadcaster receives the
// unsigned commitment template and is responsible for funding, signing
// without reordering outputs, and submitting it.
func WithBroadcaster(b chain.Broadcaster) Option { return func(e *Engine) { e.broadcaster = b } }

// WithSigner names a signing seed in the secret store; outgoing
// consignments are signed with it.
func WithSigner(name string) Option { return func(e *Engine) { e.signer = name } }

// WithPolling sets the WaitConfirmed attempt budget and delay.
func WithPolling(attempts int, delay time.Duration) Option {
	return func(e *Engine) {
		e.pollAttempts = attempts
		e.pollDelay = delay
	}
}

// New builds an engine over a stash, a secret store, and a confirmation
// oracle.
func New(st *stash.Stash, sec *secrets.Store, oracle chain.ConfirmationOracle, opts ...Option) *Engine {
	e := &Engine{
		stash:        st,
		secrets:      sec,
		oracle:       oracle,
		log:          zerolog.Nop(),
		pollAttempts: 10,
		pollDelay:    2 * time.Second,
		reserved:     make(map[string]*fsm.FSM),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Issue creates a new contract with its initial allocations.
func (e *Engine) Issue(name, ticker, schemaTag string, allocations []contract.Allocation) (cid.Cid, error) {
	c := &contract.Contract{Name: name, Ticker: ticker, Schema: schemaTag, Allocations: allocations}
	if err := c.Validate(); err != nil {
		return cid.Undef, err
	}
	id, err := e.stash.CreateContract(c)
	if err != nil {
		return cid.Undef, err
	}
	supply, _ := c.Supply()
	e.log.Info().Str("contract", id.String()).Str("ticker", ticker).Uint64("supply", supply).Msg("contract issued")
	return id, nil
}

// ListContracts returns summaries of all stored contracts.
func (e *Engine) ListContracts() []stash.Summary { return e.stash.ListContracts() }

// Balance sums the revealed live allocations owned by the given seals.
func (e *Engine) Balance(contractID cid.Cid, owned []seal.Revealed) (uint64, error) {
	return ledger.Balance(e.stash, contractID, owned)
}

// ExportContract returns the canonical genesis bytes for out-of-band
// delivery to a counterparty.
func (e *Engine) ExportContract(contractID cid.Cid) ([]byte, error) {
	return e.stash.ExportGenesis(contractID)
}

// ImportContract stores a genesis received out-of-band.
func (e *Engine) ImportContract(data []byte) (cid.Cid, error) {
	return e.stash.ImportGenesis(data)
}

// Blind prepares this vault to receive a payment on the given outpoint:
// it blinds the seal, stores the secret, and returns the blind seal for
// the payer. The outpoint never reaches the payer.
func (e *Engine) Blind(contractID cid.Cid, method seal.Method, outpoint seal.Outpoint) (seal.Blind, error) {
	r := seal.Revealed{Method: method, Outpoint: outpoint}
	if err := r.Validate(); err != nil {
		return seal.Blind{}, err
	}
	blind, secret, err := seal.BlindSeal(r)
	if err != nil {
		return seal.Blind{}, err
	}
	if err := e.secrets.SaveBlindSecret(contractID, blind, secret); err != nil {
		return seal.Blind{}, err
	}
	e.log.Debug().Str("contract", contractID.String()).Str("blind", blind.String()).Msg("seal blinded")
	return blind, nil
}

// TransferParams describes one outgoing transfer.
type TransferParams struct {
	ContractID     cid.Cid
	Inputs         []seal.Revealed
	RecipientBlind seal.Blind
	SendAmount     uint64

	// ChangeSeal receives the leftover input value. Must be nil exactly
	// when the inputs carry no leftover.
	ChangeSeal *seal.Revealed
}

// Result is the sender-side outcome of a transfer.
type Result struct {
	AttemptID    uuid.UUID
	TransitionID cid.Cid
	AnchorID     cid.Cid
	Txid         string

	// Consignment goes to the recipient; Disclosure stays with the sender
	// and is applied via Enclose after broadcast.
	Consignment []byte
	Disclosure  []byte
}

// Transfer builds a transition spending the given inputs, embeds its
// commitment into a witness template, broadcasts it, and emits the
// consignment and disclosure bundles.
//
// The stash is not touched: the sender's state changes only when Enclose
// applies the disclosure. Input seals are reserved in-process so a second
// transfer cannot race over them before then.
func (e *Engine) Transfer(ctx context.Context, p TransferParams) (*Result, error) {
	if e.broadcaster == nil {
		return nil, ErrNoBroadcaster
	}
	attemptID := uuid.New()
	log := e.log.With().Str("attempt", attemptID.String()).Str("contract", p.ContractID.String()).Logger()

	genesis, err := e.stash.Genesis(p.ContractID)
	if err != nil {
		return nil, err
	}
	inputs, total, err := e.resolveInputs(p.ContractID, p.Inputs)
	if err != nil {
		return nil, err
	}
	var change uint64
	if total > p.SendAmount {
		change = total - p.SendAmount
	}

	built, err := transition.BuildTransfer(transition.BuildParams{
		ContractID:     p.ContractID,
		Schema:         genesis.Schema,
		Inputs:         inputs,
		RecipientBlind: p.RecipientBlind,
		SendAmount:     p.SendAmount,
		ChangeSeal:     p.ChangeSeal,
		ChangeAmount:   change,
	})
	if err != nil {
		return nil, err
	}

	method := p.Inputs[0].Method
	outpoints := make([]seal.Outpoint, len(p.Inputs))
	for i, in := range p.Inputs {
		outpoints[i] = in.Outpoint
	}
	template, err := chain.BuildCommitmentTemplate(method, outpoints, built.Payload)
	if err != nil {
		return nil, err
	}

	if err := e.reserve(p.ContractID, p.Inputs); err != nil {
		return nil, err
	}
	txid, err := e.broadcaster.Broadcast(ctx, template.Bytes())
	if err != nil {
		e.release(p.ContractID, p.Inputs)
		return nil, fmt.Errorf("transfer: broadcast: %w", err)
	}
	log.Info().Str("txid", txid).Str("transition", built.ID.String()).Msg("witness broadcast")

	anchor := &transition.Anchor{
		ContractID:   p.ContractID,
		TransitionID: built.ID,
		Method:       method,
		Txid:         txid,
	}
	anchorID, err := anchor.ID()
	if err != nil {
		return nil, err
	}
	if err := e.secrets.SaveOpening(p.ContractID, built.ID, 0, built.Opening); err != nil {
		return nil, err
	}

	consignment, err := e.exportConsignment(p.ContractID, built, anchor, anchorID)
	if err != nil {
		return nil, err
	}
	disclosure, err := e.exportDisclosure(p.ContractID, built, anchor, anchorID)
	if err != nil {
		return nil, err
	}

	log.Info().Str("anchor", anchorID.String()).Int("consignment_bytes", len(consignment)).Msg("transfer prepared")
	return &Result{
		AttemptID:    attemptID,
		TransitionID: built.ID,
		AnchorID:     anchorID,
		Txid:         txid,
		Consignment:  consignment,
		Disclosure:   disclosure,
	}, nil
}

// Validate checks a received consignment against this vault's store and
// the confirmation oracle.
func (e *Engine) Validate(ctx context.Context, consignment []byte) consign.Report {
	return consign.Validate(ctx, consignment, e.stash.BlockStore(), e.oracle)
}

// WaitConfirmed polls the oracle until the witness transaction reaches the
// required depth or the attempt budget runs out.
func (e *Engine) WaitConfirmed(ctx context.Context, txid string) (PollOutcome, error) {
	return Poll(ctx, e.pollAttempts, e.pollDelay, func(ctx context.Context) (bool, error) {
		st, err := e.oracle.Confirmation(ctx, txid)
		if err != nil {
			e.log.Warn().Str("txid", txid).Err(err).Msg("oracle lookup failed, retrying")
			return false, nil
		}
		return st.Confirmed(consign.RequiredDepth), nil
	})
}

// Accept validates a consignment and, when fully confirmed, records its
// history and reveals the payment output under the claimed outpoint.
//
// The blind secret saved by Blind is looked up from the secret store; a
// secret that does not open the recipient seal fails with
// stash.ErrSealRevealMismatch. Accept is idempotent.
func (e *Engine) Accept(ctx context.Context, consignment []byte, claimed seal.Revealed) (consign.Report, error) {
	report := e.Validate(ctx, consignment)
	if !report.Sound() {
		return report, fmt.Errorf("%w: %d failures", ErrRejected, len(report.HardFailures()))
	}
	if len(report.UnresolvedTxids) > 0 {
		return report, fmt.Errorf("%w: %d pending", ErrNotConfirmed, len(report.UnresolvedTxids))
	}

	c, err := consign.Parse(consignment)
	if err != nil {
		return report, err
	}
	if c.Recipient == nil {
		return report, fmt.Errorf("transfer: consignment has no recipient output")
	}

	if _, err := e.stash.Genesis(c.ContractID); err != nil {
		genesisBytes, ok := c.Blocks[c.ContractID]
		if !ok {
			return report, fmt.Errorf("transfer: consignment omits unknown genesis %s", c.ContractID)
		}
		if _, err := e.stash.ImportGenesis(genesisBytes); err != nil {
			return report, err
		}
	}

	for _, step := range c.Steps {
		t, anchor, err := e.loadStep(c, step)
		if err != nil {
			return report, err
		}
		openings := make(map[int]conceal.Opening)
		for i, out := range t.Outputs {
			if out.Kind != transition.KindConcealed {
				continue
			}
			o, ok := c.Openings[consign.OpeningRef{Transition: step.TransitionID, Output: i}]
			if !ok {
				return report, fmt.Errorf("%w: transition %s output %d", stash.ErrMissingOpening, step.TransitionID, i)
			}
			openings[i] = o
		}
		if err := e.stash.RecordTransition(c.ContractID, t, anchor, openings); err != nil {
			return report, err
		}
		for i, o := range openings {
			if err := e.secrets.SaveOpening(c.ContractID, step.TransitionID, i, o); err != nil {
				return report, err
			}
		}
		// Apply the bundle's reveal records before the next step tries to
		// consume a revealed seal this step produced concealed. The secret
		// is stored too: once revealed along the chain it is provenance,
		// and re-exporting this history needs it.
		for i, out := range t.Outputs {
			if out.Kind != transition.KindConcealed {
				continue
			}
			rv, ok := c.Reveals[out.Blind]
			if !ok {
				continue
			}
			if err := e.secrets.SaveBlindSecret(c.ContractID, out.Blind, rv.Secret); err != nil {
				return report, err
			}
			if err := e.stash.RevealOutput(c.ContractID, out.Blind, rv.Secret, rv.Seal, openings[i]); err != nil {
				return report, err
			}
		}
	}

	terminal, _, err := e.loadStep(c, stepFor(c, c.Recipient.Transition))
	if err != nil {
		return report, err
	}
	if c.Recipient.Output >= len(terminal.Outputs) || terminal.Outputs[c.Recipient.Output].Kind != transition.KindConcealed {
		return report, fmt.Errorf("transfer: recipient reference is not a concealed output")
	}
	blind := terminal.Outputs[c.Recipient.Output].Blind
	secret, err := e.secrets.LoadBlindSecret(c.ContractID, blind)
	if err != nil {
		return report, fmt.Errorf("transfer: no secret for recipient seal %s: %w", blind, err)
	}
	opening := c.Openings[*c.Recipient]
	if err := e.stash.RevealOutput(c.ContractID, blind, secret, claimed, opening); err != nil {
		return report, err
	}

	e.log.Info().Str("contract", c.ContractID.String()).Str("seal", claimed.String()).Uint64("amount", opening.Amount).Msg("payment accepted")
	return report, nil
}

// Enclose applies a disclosure to the sender's own vault: the spent inputs
// move to history and the change output becomes live. Idempotent; safe to
// retry any time after broadcast.
func (e *Engine) Enclose(ctx context.Context, disclosure []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c, err := consign.Parse(disclosure)
	if err != nil {
		return err
	}
	if c.Kind != consign.KindDisclosure {
		return ErrNotDisclosure
	}

	step := c.Steps[0]
	t, anchor, err := e.loadStep(c, step)
	if err != nil {
		return err
	}
	openings := make(map[int]conceal.Opening)
	for i, out := range t.Outputs {
		if out.Kind != transition.KindConcealed {
			continue
		}
		o, ok := c.Openings[consign.OpeningRef{Transition: step.TransitionID, Output: i}]
		if !ok {
			return fmt.Errorf("%w: transition %s output %d", stash.ErrMissingOpening, step.TransitionID, i)
		}
		openings[i] = o
	}
	if err := e.stash.RecordTransition(c.ContractID, t, anchor, openings); err != nil {
		return err
	}

	e.mu.Lock()
	for _, in := range t.Inputs {
		if m, ok := e.reserved[reservationKey(c.ContractID, in)]; ok && m.Current() == StateCommitted {
			_ = m.Event(context.Background(), EventResolve)
		}
	}
	e.mu.Unlock()

	e.log.Info().Str("contract", c.ContractID.String()).Str("transition", step.TransitionID.String()).Msg("transfer enclosed")
	return nil
}

func (e *Engine) resolveInputs(contractID cid.Cid, inputs []seal.Revealed) ([]contract.Allocation, uint64, error) {
	live, err := e.stash.CurrentAllocations(contractID)
	if err != nil {
		return nil, 0, err
	}
	byKey := make(map[string]stash.Allocation, len(live))
	for _, a := range live {
		byKey[a.Key()] = a
	}
	out := make([]contract.Allocation, len(inputs))
	var total uint64
	for i, in := range inputs {
		a, ok := byKey[in.String()]
		if !ok || !a.Revealed {
			return nil, 0, fmt.Errorf("%w: %s", stash.ErrUnknownSeal, in)
		}
		out[i] = contract.Allocation{Seal: in, Amount: a.Amount}
		total += a.Amount
	}
	return out, total, nil
}

func (e *Engine) reserve(contractID cid.Cid, inputs []seal.Revealed) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	committed := make([]string, 0, len(inputs))
	for _, in := range inputs {
		key := reservationKey(contractID, in)
		m, ok := e.reserved[key]
		if !ok {
			m = newAllocationFSM()
			e.reserved[key] = m
		}
		if err := m.Event(context.Background(), EventCommit); err != nil {
			for _, k := range committed {
				delete(e.reserved, k)
			}
			return fmt.Errorf("%w: %s", ErrSealReserved, in)
		}
		committed = append(committed, key)
	}
	return nil
}

func (e *Engine) release(contractID cid.Cid, inputs []seal.Revealed) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, in := range inputs {
		delete(e.reserved, reservationKey(contractID, in))
	}
}

func reservationKey(contractID cid.Cid, s seal.Revealed) string {
	return contractID.String() + "/" + s.String()
}

func (e *Engine) exportConsignment(contractID cid.Cid, built *transition.Built, anchor *transition.Anchor, anchorID cid.Cid) ([]byte, error) {
	transitionBytes, err := transition.Render(built.Transition)
	if err != nil {
		return nil, err
	}
	anchorBytes, err := transition.RenderAnchor(anchor)
	if err != nil {
		return nil, err
	}

	history, historyAnchors, err := e.stash.Transitions(contractID)
	if err != nil {
		return nil, err
	}
	c := &consign.Consignment{
		Kind:       consign.KindConsignment,
		ContractID: contractID,
		Openings:   make(map[consign.OpeningRef]conceal.Opening),
		Recipient:  &consign.OpeningRef{Transition: built.ID, Output: 0},
		Blocks: map[cid.Cid][]byte{
			built.ID: transitionBytes,
			anchorID: anchorBytes,
		},
	}
	for _, tid := range history {
		c.Steps = append(c.Steps, consign.Step{TransitionID: tid, AnchorID: historyAnchors[tid]})
	}
	c.Steps = append(c.Steps, consign.Step{TransitionID: built.ID, AnchorID: anchorID})

	stored, err := e.secrets.ListOpenings(contractID)
	if err != nil {
		return nil, err
	}
	for key, o := range stored {
		c.Openings[consign.OpeningRef{Transition: key.Transition, Output: key.Output}] = o
	}
	c.Openings[consign.OpeningRef{Transition: built.ID, Output: 0}] = built.Opening

	// Carry a reveal record for every blind seal whose revealed form some
	// exported transition consumes; without them the recipient's replay
	// stops at the first concealed hop. Secrets of live allocations never
	// leave the vault.
	consumed := make(map[string]struct{})
	for _, tid := range history {
		tb, err := e.stash.Block(tid)
		if err != nil {
			return nil, err
		}
		t, err := transition.Parse(tb)
		if err != nil {
			return nil, err
		}
		for _, in := range t.Inputs {
			consumed[in.String()] = struct{}{}
		}
	}
	for _, in := range built.Transition.Inputs {
		consumed[in.String()] = struct{}{}
	}
	links, err := e.stash.Reveals(contractID)
	if err != nil {
		return nil, err
	}
	for blind, revealed := range links {
		if _, ok := consumed[revealed.String()]; !ok {
			continue
		}
		secret, err := e.secrets.LoadBlindSecret(contractID, blind)
		if err != nil {
			return nil, fmt.Errorf("transfer: no secret for spent blind seal %s: %w", blind, err)
		}
		if c.Reveals == nil {
			c.Reveals = make(map[seal.Blind]consign.Reveal)
		}
		c.Reveals[blind] = consign.Reveal{Seal: revealed, Secret: secret}
	}

	if e.signer != "" {
		key, err := e.secrets.LoadSigningKey(e.signer)
		if err != nil {
			return nil, err
		}
		if err := c.SignEd25519(key); err != nil {
			return nil, err
		}
	}
	return consign.ExportBytes(e.stash.BlockStore(), c)
}

func (e *Engine) exportDisclosure(contractID cid.Cid, built *transition.Built, anchor *transition.Anchor, anchorID cid.Cid) ([]byte, error) {
	transitionBytes, err := transition.Render(built.Transition)
	if err != nil {
		return nil, err
	}
	anchorBytes, err := transition.RenderAnchor(anchor)
	if err != nil {
		return nil, err
	}
	c := &consign.Consignment{
		Kind:       consign.KindDisclosure,
		ContractID: contractID,
		Steps:      []consign.Step{{TransitionID: built.ID, AnchorID: anchorID}},
		Openings: map[consign.OpeningRef]conceal.Opening{
			{Transition: built.ID, Output: 0}: built.Opening,
		},
		Blocks: map[cid.Cid][]byte{
			built.ID: transitionBytes,
			anchorID: anchorBytes,
		},
	}
	return consign.ExportBytes(e.stash.BlockStore(), c)
}

func (e *Engine) loadStep(c *consign.Consignment, step consign.Step) (*transition.Transition, *transition.Anchor, error) {
	tb, err := e.blockBytes(c, step.TransitionID)
	if err != nil {
		return nil, nil, err
	}
	t, err := transition.Parse(tb)
	if err != nil {
		return nil, nil, err
	}
	ab, err := e.blockBytes(c, step.AnchorID)
	if err != nil {
		return nil, nil, err
	}
	anchor, err := transition.ParseAnchor(ab)
	if err != nil {
		return nil, nil, err
	}
	return t, anchor, nil
}

func (e *Engine) blockBytes(c *consign.Consignment, id cid.Cid) ([]byte, error) {
	if b, ok := c.Blocks[id]; ok {
		return b, nil
	}
	return e.stash.Block(id)
}

func stepFor(c *consign.Consignment, tid cid.Cid) consign.Step {
	for _, s := range c.Steps {
		if s.TransitionID == tid {
			return s
		}
	}
	return consign.Step{}
}
