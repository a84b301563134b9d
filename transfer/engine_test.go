package transfer_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/require"

	"xdao.co/sealvault/chain"
	"xdao.co/sealvault/consign"
	"xdao.co/sealvault/contract"
	"xdao.co/sealvault/schema"
	"xdao.co/sealvault/seal"
	"xdao.co/sealvault/secrets"
	"xdao.co/sealvault/stash"
	"xdao.co/sealvault/storage/mem"
	"xdao.co/sealvault/transfer"
	"xdao.co/sealvault/transition"
)

func testSeal(c byte, vout uint32) seal.Revealed {
	return seal.Revealed{
		Method:   seal.MethodOpretFirst,
		Outpoint: seal.Outpoint{Txid: strings.Repeat(string(c), 64), Vout: vout},
	}
}

// fakeBroadcaster hands out sequential txids without touching a network.
type fakeBroadcaster struct {
	calls atomic.Int64
}

func (b *fakeBroadcaster) Broadcast(ctx context.Context, rawTx []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(rawTx) == 0 {
		return "", errors.New("empty transaction")
	}
	n := b.calls.Add(1)
	return fmt.Sprintf("%064d", n), nil
}

type vault struct {
	engine      *transfer.Engine
	broadcaster *fakeBroadcaster
}

func newVault(t *testing.T, oracle chain.ConfirmationOracle) *vault {
	t.Helper()
	st, err := stash.Open(mem.New(), "")
	require.NoError(t, err)
	sec, err := secrets.Open(t.TempDir())
	require.NoError(t, err)
	b := &fakeBroadcaster{}
	return &vault{
		engine:      transfer.New(st, sec, oracle, transfer.WithBroadcaster(b)),
		broadcaster: b,
	}
}

func issueTestContract(t *testing.T, v *vault) cid.Cid {
	t.Helper()
	id, err := v.engine.Issue("Example Token", "EXT", schema.FungibleTag, []contract.Allocation{
		{Seal: testSeal('a', 0), Amount: 1000},
		{Seal: testSeal('a', 1), Amount: 1000},
	})
	require.NoError(t, err)
	return id
}

func TestTransferEndToEnd(t *testing.T) {
	ctx := context.Background()
	oracle := chain.NewStaticOracle()
	sender := newVault(t, oracle)
	recipient := newVault(t, oracle)

	contractID := issueTestContract(t, sender)

	// First hop: sender pays 100, keeps 1900 across two seals.
	recipientOutpoint := testSeal('f', 9)
	blind, err := recipient.engine.Blind(contractID, seal.MethodOpretFirst, recipientOutpoint.Outpoint)
	require.NoError(t, err)

	change := testSeal('b', 0)
	result, err := sender.engine.Transfer(ctx, transfer.TransferParams{
		ContractID:     contractID,
		Inputs:         []seal.Revealed{testSeal('a', 0)},
		RecipientBlind: blind,
		SendAmount:     100,
		ChangeSeal:     &change,
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.Consignment)
	require.NotEmpty(t, result.Disclosure)

	// The sender's view does not change until the disclosure is applied.
	balance, err := sender.engine.Balance(contractID, []seal.Revealed{testSeal('a', 0), testSeal('a', 1)})
	require.NoError(t, err)
	require.Equal(t, uint64(2000), balance)

	oracle.Confirm(result.Txid, consign.RequiredDepth)

	outcome, err := sender.engine.WaitConfirmed(ctx, result.Txid)
	require.NoError(t, err)
	require.Equal(t, transfer.PollSucceeded, outcome)

	require.NoError(t, sender.engine.Enclose(ctx, result.Disclosure))
	balance, err = sender.engine.Balance(contractID, []seal.Revealed{testSeal('a', 1), change})
	require.NoError(t, err)
	require.Equal(t, uint64(1900), balance)

	report, err := recipient.engine.Accept(ctx, result.Consignment, recipientOutpoint)
	require.NoError(t, err)
	require.True(t, report.OK())

	// Accept is idempotent.
	report, err = recipient.engine.Accept(ctx, result.Consignment, recipientOutpoint)
	require.NoError(t, err)
	require.True(t, report.OK())

	balance, err = recipient.engine.Balance(contractID, []seal.Revealed{recipientOutpoint})
	require.NoError(t, err)
	require.Equal(t, uint64(100), balance)

	// Second hop: the recipient forwards 42 to a third party, whose vault
	// has never seen the contract and must replay the whole chain,
	// including the reveal of the first hop's concealed output.
	third := newVault(t, oracle)
	thirdOutpoint := testSeal('d', 3)
	thirdBlind, err := third.engine.Blind(contractID, seal.MethodOpretFirst, thirdOutpoint.Outpoint)
	require.NoError(t, err)

	change2 := testSeal('e', 0)
	result2, err := recipient.engine.Transfer(ctx, transfer.TransferParams{
		ContractID:     contractID,
		Inputs:         []seal.Revealed{recipientOutpoint},
		RecipientBlind: thirdBlind,
		SendAmount:     42,
		ChangeSeal:     &change2,
	})
	require.NoError(t, err)
	oracle.Confirm(result2.Txid, consign.RequiredDepth)

	require.NoError(t, recipient.engine.Enclose(ctx, result2.Disclosure))
	report, err = third.engine.Accept(ctx, result2.Consignment, thirdOutpoint)
	require.NoError(t, err)
	require.True(t, report.OK())

	// Nothing was minted or burned: the three parties' balances sum to the
	// issued supply.
	balance, err = sender.engine.Balance(contractID, []seal.Revealed{testSeal('a', 1), change})
	require.NoError(t, err)
	require.Equal(t, uint64(1900), balance)

	balance, err = recipient.engine.Balance(contractID, []seal.Revealed{change2})
	require.NoError(t, err)
	require.Equal(t, uint64(58), balance)

	balance, err = third.engine.Balance(contractID, []seal.Revealed{thirdOutpoint})
	require.NoError(t, err)
	require.Equal(t, uint64(42), balance)
}

func TestTransferRejectsOverspend(t *testing.T) {
	ctx := context.Background()
	oracle := chain.NewStaticOracle()
	sender := newVault(t, oracle)
	contractID := issueTestContract(t, sender)

	blind, err := sender.engine.Blind(contractID, seal.MethodOpretFirst, seal.Outpoint{Txid: strings.Repeat("f", 64), Vout: 9})
	require.NoError(t, err)

	_, err = sender.engine.Transfer(ctx, transfer.TransferParams{
		ContractID:     contractID,
		Inputs:         []seal.Revealed{testSeal('a', 0)},
		RecipientBlind: blind,
		SendAmount:     5000,
	})
	require.ErrorIs(t, err, transition.ErrBalanceMismatch)

	// The template never reached the broadcaster.
	require.Equal(t, int64(0), sender.broadcaster.calls.Load())
}

func TestTransferReservesInputs(t *testing.T) {
	ctx := context.Background()
	oracle := chain.NewStaticOracle()
	sender := newVault(t, oracle)
	recipient := newVault(t, oracle)
	contractID := issueTestContract(t, sender)

	blind, err := recipient.engine.Blind(contractID, seal.MethodOpretFirst, seal.Outpoint{Txid: strings.Repeat("f", 64), Vout: 9})
	require.NoError(t, err)

	change := testSeal('b', 0)
	_, err = sender.engine.Transfer(ctx, transfer.TransferParams{
		ContractID:     contractID,
		Inputs:         []seal.Revealed{testSeal('a', 0)},
		RecipientBlind: blind,
		SendAmount:     100,
		ChangeSeal:     &change,
	})
	require.NoError(t, err)

	// The same input cannot back a second in-flight transfer.
	blind2, err := recipient.engine.Blind(contractID, seal.MethodOpretFirst, seal.Outpoint{Txid: strings.Repeat("f", 64), Vout: 10})
	require.NoError(t, err)
	change2 := testSeal('c', 0)
	_, err = sender.engine.Transfer(ctx, transfer.TransferParams{
		ContractID:     contractID,
		Inputs:         []seal.Revealed{testSeal('a', 0)},
		RecipientBlind: blind2,
		SendAmount:     200,
		ChangeSeal:     &change2,
	})
	require.ErrorIs(t, err, transfer.ErrSealReserved)
}

func TestAcceptRequiresConfirmation(t *testing.T) {
	ctx := context.Background()
	oracle := chain.NewStaticOracle()
	sender := newVault(t, oracle)
	recipient := newVault(t, oracle)
	contractID := issueTestContract(t, sender)

	recipientOutpoint := testSeal('f', 9)
	blind, err := recipient.engine.Blind(contractID, seal.MethodOpretFirst, recipientOutpoint.Outpoint)
	require.NoError(t, err)

	change := testSeal('b', 0)
	result, err := sender.engine.Transfer(ctx, transfer.TransferParams{
		ContractID:     contractID,
		Inputs:         []seal.Revealed{testSeal('a', 0)},
		RecipientBlind: blind,
		SendAmount:     100,
		ChangeSeal:     &change,
	})
	require.NoError(t, err)

	// The witness is broadcast but unmined.
	oracle.See(result.Txid)
	report, err := recipient.engine.Accept(ctx, result.Consignment, recipientOutpoint)
	require.ErrorIs(t, err, transfer.ErrNotConfirmed)
	require.True(t, report.Sound())

	// Confirmation unblocks the same bundle.
	oracle.Confirm(result.Txid, consign.RequiredDepth)
	report, err = recipient.engine.Accept(ctx, result.Consignment, recipientOutpoint)
	require.NoError(t, err)
	require.True(t, report.OK())
}

func TestAcceptRejectsTamperedConsignment(t *testing.T) {
	ctx := context.Background()
	oracle := chain.NewStaticOracle()
	sender := newVault(t, oracle)
	recipient := newVault(t, oracle)
	contractID := issueTestContract(t, sender)

	recipientOutpoint := testSeal('f', 9)
	blind, err := recipient.engine.Blind(contractID, seal.MethodOpretFirst, recipientOutpoint.Outpoint)
	require.NoError(t, err)

	change := testSeal('b', 0)
	result, err := sender.engine.Transfer(ctx, transfer.TransferParams{
		ContractID:     contractID,
		Inputs:         []seal.Revealed{testSeal('a', 0)},
		RecipientBlind: blind,
		SendAmount:     100,
		ChangeSeal:     &change,
	})
	require.NoError(t, err)
	oracle.Confirm(result.Txid, consign.RequiredDepth)

	tampered := []byte(strings.Replace(string(result.Consignment), "Amount: 900", "Amount: 901", 1))
	require.NotEqual(t, result.Consignment, tampered)

	_, err = recipient.engine.Accept(ctx, tampered, recipientOutpoint)
	require.ErrorIs(t, err, transfer.ErrRejected)
}

func TestEncloseRejectsConsignment(t *testing.T) {
	ctx := context.Background()
	oracle := chain.NewStaticOracle()
	sender := newVault(t, oracle)
	recipient := newVault(t, oracle)
	contractID := issueTestContract(t, sender)

	blind, err := recipient.engine.Blind(contractID, seal.MethodOpretFirst, seal.Outpoint{Txid: strings.Repeat("f", 64), Vout: 9})
	require.NoError(t, err)

	change := testSeal('b', 0)
	result, err := sender.engine.Transfer(ctx, transfer.TransferParams{
		ContractID:     contractID,
		Inputs:         []seal.Revealed{testSeal('a', 0)},
		RecipientBlind: blind,
		SendAmount:     100,
		ChangeSeal:     &change,
	})
	require.NoError(t, err)

	err = sender.engine.Enclose(ctx, result.Consignment)
	require.ErrorIs(t, err, transfer.ErrNotDisclosure)
}

func TestEncloseHonorsContext(t *testing.T) {
	ctx := context.Background()
	oracle := chain.NewStaticOracle()
	sender := newVault(t, oracle)
	recipient := newVault(t, oracle)
	contractID := issueTestContract(t, sender)

	blind, err := recipient.engine.Blind(contractID, seal.MethodOpretFirst, seal.Outpoint{Txid: strings.Repeat("f", 64), Vout: 9})
	require.NoError(t, err)

	change := testSeal('b', 0)
	result, err := sender.engine.Transfer(ctx, transfer.TransferParams{
		ContractID:     contractID,
		Inputs:         []seal.Revealed{testSeal('a', 0)},
		RecipientBlind: blind,
		SendAmount:     100,
		ChangeSeal:     &change,
	})
	require.NoError(t, err)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	require.ErrorIs(t, sender.engine.Enclose(cancelled, result.Disclosure), context.Canceled)

	// The same disclosure applies once the context is live again.
	require.NoError(t, sender.engine.Enclose(ctx, result.Disclosure))
}

func TestTransferNeedsBroadcaster(t *testing.T) {
	st, err := stash.Open(mem.New(), "")
	require.NoError(t, err)
	sec, err := secrets.Open(t.TempDir())
	require.NoError(t, err)
	engine := transfer.New(st, sec, chain.NewStaticOracle())

	_, err = engine.Transfer(context.Background(), transfer.TransferParams{})
	require.ErrorIs(t, err, transfer.ErrNoBroadcaster)
}

func TestWaitConfirmedExhaustsBudget(t *testing.T) {
	oracle := chain.NewStaticOracle()
	st, err := stash.Open(mem.New(), "")
	require.NoError(t, err)
	sec, err := secrets.Open(t.TempDir())
	require.NoError(t, err)
	engine := transfer.New(st, sec, oracle, transfer.WithPolling(3, time.Millisecond))

	txid := strings.Repeat("a", 64)
	outcome, err := engine.WaitConfirmed(context.Background(), txid)
	require.NoError(t, err)
	require.Equal(t, transfer.PollExhausted, outcome)

	oracle.Confirm(txid, consign.RequiredDepth)
	outcome, err = engine.WaitConfirmed(context.Background(), txid)
	require.NoError(t, err)
	require.Equal(t, transfer.PollSucceeded, outcome)
}
