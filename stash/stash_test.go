package stash_test

import (
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/ipfs/go-cid"

	"xdao.co/sealvault/conceal"
	"xdao.co/sealvault/contract"
	"xdao.co/sealvault/schema"
	"xdao.co/sealvault/seal"
	"xdao.co/sealvault/stash"
	"xdao.co/sealvault/storage/localfs"
	"xdao.co/sealvault/storage/mem"
	"xdao.co/sealvault/transition"
)

func testSeal(c byte, vout uint32) seal.Revealed {
	return seal.Revealed{
		Method:   seal.MethodOpretFirst,
		Outpoint: seal.Outpoint{Txid: strings.Repeat(string(c), 64), Vout: vout},
	}
}

func testContract() *contract.Contract {
	return &contract.Contract{
		Name:   "Example Token",
		Ticker: "EXT",
		Schema: schema.FungibleTag,
		Allocations: []contract.Allocation{
			{Seal: testSeal('a', 0), Amount: 1000},
			{Seal: testSeal('a', 1), Amount: 1000},
		},
	}
}

func openEphemeral(t *testing.T) *stash.Stash {
	t.Helper()
	s, err := stash.Open(mem.New(), "")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return s
}

// testTransfer builds a transition spending the genesis allocation under
// `input`, sending `send` to a fresh blind seal with the rest as revealed
// change, plus its matching anchor and openings.
func testTransfer(t *testing.T, contractID cid.Cid, input seal.Revealed, total, send uint64, change seal.Revealed) (*transition.Transition, *transition.Anchor, map[int]conceal.Opening) {
	t.Helper()
	blind, _, err := seal.BlindSeal(testSeal('f', 9))
	if err != nil {
		t.Fatalf("BlindSeal failed: %v", err)
	}
	commitment, opening, err := conceal.Conceal(send)
	if err != nil {
		t.Fatalf("Conceal failed: %v", err)
	}
	tr := &transition.Transition{
		ContractID: contractID,
		Inputs:     []seal.Revealed{input},
		Outputs: []transition.Output{
			transition.ConcealedOutput(blind, commitment),
			transition.RevealedOutput(change, total-send),
		},
	}
	tid, err := tr.ID()
	if err != nil {
		t.Fatalf("ID failed: %v", err)
	}
	anchor := &transition.Anchor{
		ContractID:   contractID,
		TransitionID: tid,
		Method:       seal.MethodOpretFirst,
		Txid:         strings.Repeat("e", 64),
	}
	openings := map[int]conceal.Opening{0: opening}
	return tr, anchor, openings
}

func TestCreateContract(t *testing.T) {
	s := openEphemeral(t)
	id, err := s.CreateContract(testContract())
	if err != nil {
		t.Fatalf("CreateContract failed: %v", err)
	}

	if _, err := s.CreateContract(testContract()); !errors.Is(err, stash.ErrDuplicateContract) {
		t.Fatalf("expected ErrDuplicateContract, got %v", err)
	}

	allocs, err := s.CurrentAllocations(id)
	if err != nil {
		t.Fatalf("CurrentAllocations failed: %v", err)
	}
	if len(allocs) != 2 {
		t.Fatalf("expected 2 genesis allocations, got %d", len(allocs))
	}
	for _, a := range allocs {
		if !a.Revealed || a.Origin != id || a.Amount != 1000 {
			t.Fatalf("genesis allocation mangled: %+v", a)
		}
	}

	contracts := s.ListContracts()
	if len(contracts) != 1 || contracts[0].ID != id || contracts[0].Supply != 2000 {
		t.Fatalf("ListContracts mangled: %+v", contracts)
	}
}

func TestImportGenesisIdempotent(t *testing.T) {
	s := openEphemeral(t)
	id, err := s.CreateContract(testContract())
	if err != nil {
		t.Fatalf("CreateContract failed: %v", err)
	}
	data, err := s.ExportGenesis(id)
	if err != nil {
		t.Fatalf("ExportGenesis failed: %v", err)
	}

	other := openEphemeral(t)
	got, err := other.ImportGenesis(data)
	if err != nil {
		t.Fatalf("ImportGenesis failed: %v", err)
	}
	if got != id {
		t.Fatalf("imported genesis id mismatch: %s != %s", got, id)
	}
	again, err := other.ImportGenesis(data)
	if err != nil || again != id {
		t.Fatalf("re-import must be a no-op: %s, %v", again, err)
	}
}

func TestRecordTransition(t *testing.T) {
	s := openEphemeral(t)
	id, err := s.CreateContract(testContract())
	if err != nil {
		t.Fatalf("CreateContract failed: %v", err)
	}

	tr, anchor, openings := testTransfer(t, id, testSeal('a', 0), 1000, 600, testSeal('b', 0))
	if err := s.RecordTransition(id, tr, anchor, openings); err != nil {
		t.Fatalf("RecordTransition failed: %v", err)
	}
	// Idempotent re-record.
	if err := s.RecordTransition(id, tr, anchor, openings); err != nil {
		t.Fatalf("re-record must be a no-op: %v", err)
	}

	allocs, err := s.CurrentAllocations(id)
	if err != nil {
		t.Fatalf("CurrentAllocations failed: %v", err)
	}
	// Untouched genesis seal + concealed recipient + revealed change.
	if len(allocs) != 3 {
		t.Fatalf("expected 3 live allocations, got %d: %+v", len(allocs), allocs)
	}
	var total uint64
	for _, a := range allocs {
		total += a.Amount
	}
	if total != 2000 {
		t.Fatalf("value not conserved: %d", total)
	}

	order, anchors, err := s.Transitions(id)
	if err != nil {
		t.Fatalf("Transitions failed: %v", err)
	}
	tid, _ := tr.ID()
	if len(order) != 1 || order[0] != tid {
		t.Fatalf("history mangled: %v", order)
	}
	if _, ok := anchors[tid]; !ok {
		t.Fatalf("anchor not recorded for %s", tid)
	}

	// Spending the consumed seal again is a double spend.
	tr2, anchor2, openings2 := testTransfer(t, id, testSeal('a', 0), 1000, 500, testSeal('c', 0))
	if err := s.RecordTransition(id, tr2, anchor2, openings2); !errors.Is(err, stash.ErrDoubleSpend) {
		t.Fatalf("expected ErrDoubleSpend, got %v", err)
	}
}

func TestRecordTransitionRejectsMissingOpening(t *testing.T) {
	s := openEphemeral(t)
	id, err := s.CreateContract(testContract())
	if err != nil {
		t.Fatalf("CreateContract failed: %v", err)
	}
	tr, anchor, _ := testTransfer(t, id, testSeal('a', 0), 1000, 600, testSeal('b', 0))
	if err := s.RecordTransition(id, tr, anchor, nil); !errors.Is(err, stash.ErrMissingOpening) {
		t.Fatalf("expected ErrMissingOpening, got %v", err)
	}
}

func TestRecordTransitionRejectsUnknownSeal(t *testing.T) {
	s := openEphemeral(t)
	id, err := s.CreateContract(testContract())
	if err != nil {
		t.Fatalf("CreateContract failed: %v", err)
	}
	tr, anchor, openings := testTransfer(t, id, testSeal('9', 7), 1000, 600, testSeal('b', 0))
	if err := s.RecordTransition(id, tr, anchor, openings); !errors.Is(err, stash.ErrUnknownSeal) {
		t.Fatalf("expected ErrUnknownSeal, got %v", err)
	}
}

func TestConcurrentSpendsHaveOneWinner(t *testing.T) {
	s := openEphemeral(t)
	id, err := s.CreateContract(testContract())
	if err != nil {
		t.Fatalf("CreateContract failed: %v", err)
	}

	const racers = 8
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		tr, anchor, openings := testTransfer(t, id, testSeal('a', 0), 1000, uint64(100+i), testSeal('b', uint32(i)))
		wg.Add(1)
		go func(i int, tr *transition.Transition, anchor *transition.Anchor, openings map[int]conceal.Opening) {
			defer wg.Done()
			errs[i] = s.RecordTransition(id, tr, anchor, openings)
		}(i, tr, anchor, openings)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else if !errors.Is(err, stash.ErrDoubleSpend) {
			t.Fatalf("unexpected loser error: %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
}

func TestRevealOutput(t *testing.T) {
	s := openEphemeral(t)
	id, err := s.CreateContract(testContract())
	if err != nil {
		t.Fatalf("CreateContract failed: %v", err)
	}

	recipient := testSeal('f', 9)
	blind, secret, err := seal.BlindSeal(recipient)
	if err != nil {
		t.Fatalf("BlindSeal failed: %v", err)
	}
	commitment, opening, err := conceal.Conceal(600)
	if err != nil {
		t.Fatalf("Conceal failed: %v", err)
	}
	tr := &transition.Transition{
		ContractID: id,
		Inputs:     []seal.Revealed{testSeal('a', 0)},
		Outputs: []transition.Output{
			transition.ConcealedOutput(blind, commitment),
			transition.RevealedOutput(testSeal('b', 0), 400),
		},
	}
	tid, err := tr.ID()
	if err != nil {
		t.Fatalf("ID failed: %v", err)
	}
	anchor := &transition.Anchor{
		ContractID: id, TransitionID: tid,
		Method: seal.MethodOpretFirst, Txid: strings.Repeat("e", 64),
	}
	if err := s.RecordTransition(id, tr, anchor, map[int]conceal.Opening{0: opening}); err != nil {
		t.Fatalf("RecordTransition failed: %v", err)
	}

	// A wrong secret must not reveal.
	var bogus seal.Secret
	if err := s.RevealOutput(id, blind, bogus, recipient, opening); !errors.Is(err, stash.ErrSealRevealMismatch) {
		t.Fatalf("expected ErrSealRevealMismatch, got %v", err)
	}

	if err := s.RevealOutput(id, blind, secret, recipient, opening); err != nil {
		t.Fatalf("RevealOutput failed: %v", err)
	}
	// Retried reveal is a no-op.
	if err := s.RevealOutput(id, blind, secret, recipient, opening); err != nil {
		t.Fatalf("re-reveal must be a no-op: %v", err)
	}

	allocs, err := s.CurrentAllocations(id)
	if err != nil {
		t.Fatalf("CurrentAllocations failed: %v", err)
	}
	found := false
	for _, a := range allocs {
		if a.Revealed && a.Seal == recipient {
			found = true
			if a.Amount != 600 {
				t.Fatalf("revealed amount mangled: %d", a.Amount)
			}
		}
	}
	if !found {
		t.Fatalf("revealed allocation missing: %+v", allocs)
	}
}

func TestRevealLinkSurvivesSpendAndReopen(t *testing.T) {
	dir := t.TempDir()
	cas, err := localfs.New(filepath.Join(dir, "blocks"))
	if err != nil {
		t.Fatalf("localfs.New failed: %v", err)
	}
	indexPath := filepath.Join(dir, "index.json")
	s, err := stash.Open(cas, indexPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	id, err := s.CreateContract(testContract())
	if err != nil {
		t.Fatalf("CreateContract failed: %v", err)
	}

	recipient := testSeal('f', 9)
	blind, secret, err := seal.BlindSeal(recipient)
	if err != nil {
		t.Fatalf("BlindSeal failed: %v", err)
	}
	commitment, opening, err := conceal.Conceal(600)
	if err != nil {
		t.Fatalf("Conceal failed: %v", err)
	}
	tr := &transition.Transition{
		ContractID: id,
		Inputs:     []seal.Revealed{testSeal('a', 0)},
		Outputs: []transition.Output{
			transition.ConcealedOutput(blind, commitment),
			transition.RevealedOutput(testSeal('b', 0), 400),
		},
	}
	tid, err := tr.ID()
	if err != nil {
		t.Fatalf("ID failed: %v", err)
	}
	anchor := &transition.Anchor{
		ContractID: id, TransitionID: tid,
		Method: seal.MethodOpretFirst, Txid: strings.Repeat("e", 64),
	}
	if err := s.RecordTransition(id, tr, anchor, map[int]conceal.Opening{0: opening}); err != nil {
		t.Fatalf("RecordTransition failed: %v", err)
	}
	if err := s.RevealOutput(id, blind, secret, recipient, opening); err != nil {
		t.Fatalf("RevealOutput failed: %v", err)
	}

	// Spending the revealed seal must not erase the link; exporters need
	// it to carry provenance across the concealed hop.
	tr2, anchor2, openings2 := testTransfer(t, id, recipient, 600, 200, testSeal('c', 0))
	if err := s.RecordTransition(id, tr2, anchor2, openings2); err != nil {
		t.Fatalf("RecordTransition failed: %v", err)
	}
	links, err := s.Reveals(id)
	if err != nil {
		t.Fatalf("Reveals failed: %v", err)
	}
	if links[blind] != recipient {
		t.Fatalf("reveal link lost after spend: %+v", links)
	}

	// Retried reveal of the now-spent seal stays a no-op.
	if err := s.RevealOutput(id, blind, secret, recipient, opening); err != nil {
		t.Fatalf("re-reveal after spend must be a no-op: %v", err)
	}

	reopened, err := stash.Open(cas, indexPath)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	links, err = reopened.Reveals(id)
	if err != nil {
		t.Fatalf("Reveals after reopen failed: %v", err)
	}
	if links[blind] != recipient {
		t.Fatalf("reveal link lost across reopen: %+v", links)
	}
}

func TestStashSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	cas, err := localfs.New(filepath.Join(dir, "blocks"))
	if err != nil {
		t.Fatalf("localfs.New failed: %v", err)
	}
	indexPath := filepath.Join(dir, "index.json")

	s, err := stash.Open(cas, indexPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	id, err := s.CreateContract(testContract())
	if err != nil {
		t.Fatalf("CreateContract failed: %v", err)
	}
	tr, anchor, openings := testTransfer(t, id, testSeal('a', 0), 1000, 600, testSeal('b', 0))
	if err := s.RecordTransition(id, tr, anchor, openings); err != nil {
		t.Fatalf("RecordTransition failed: %v", err)
	}
	before, err := s.CurrentAllocations(id)
	if err != nil {
		t.Fatalf("CurrentAllocations failed: %v", err)
	}

	reopened, err := stash.Open(cas, indexPath)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	after, err := reopened.CurrentAllocations(id)
	if err != nil {
		t.Fatalf("CurrentAllocations after reopen failed: %v", err)
	}
	if len(after) != len(before) {
		t.Fatalf("allocations lost across reopen: %d != %d", len(after), len(before))
	}
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("allocation %d diverged across reopen: %+v != %+v", i, before[i], after[i])
		}
	}

	// The double-spend ledger must survive, too.
	tr2, anchor2, openings2 := testTransfer(t, id, testSeal('a', 0), 1000, 500, testSeal('c', 0))
	if err := reopened.RecordTransition(id, tr2, anchor2, openings2); !errors.Is(err, stash.ErrDoubleSpend) {
		t.Fatalf("expected ErrDoubleSpend after reopen, got %v", err)
	}
}
