package transfer_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"xdao.co/sealvault/transfer"
)

func TestPollSucceedsMidBudget(t *testing.T) {
	calls := 0
	outcome, err := transfer.Poll(context.Background(), 5, time.Millisecond, func(context.Context) (bool, error) {
		calls++
		return calls == 3, nil
	})
	require.NoError(t, err)
	require.Equal(t, transfer.PollSucceeded, outcome)
	require.Equal(t, 3, calls)
}

func TestPollExhaustsBudget(t *testing.T) {
	calls := 0
	outcome, err := transfer.Poll(context.Background(), 4, time.Millisecond, func(context.Context) (bool, error) {
		calls++
		return false, nil
	})
	require.NoError(t, err)
	require.Equal(t, transfer.PollExhausted, outcome)
	require.Equal(t, 4, calls)
}

func TestPollAbortsOnError(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	outcome, err := transfer.Poll(context.Background(), 5, time.Millisecond, func(context.Context) (bool, error) {
		calls++
		return false, boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, transfer.PollExhausted, outcome)
	require.Equal(t, 1, calls)
}

func TestPollHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	outcome, err := transfer.Poll(ctx, 100, time.Hour, func(context.Context) (bool, error) {
		cancel()
		return false, nil
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, transfer.PollExhausted, outcome)
}

func TestPollOutcomeString(t *testing.T) {
	require.Equal(t, "succeeded", transfer.PollSucceeded.String())
	require.Equal(t, "exhausted", transfer.PollExhausted.String())
}
