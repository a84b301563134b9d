package transfer

import (
	"context"
	"time"
)

// PollOutcome is the typed result of a bounded poll.
type PollOutcome int

const (
	// PollSucceeded means the condition held before the attempt budget ran
	// out.
	PollSucceeded PollOutcome = iota

	// PollExhausted means every attempt was spent without the condition
	// holding. Not an error: the caller decides whether to retry later.
	PollExhausted
)

func (o PollOutcome) String() string {
	if o == PollSucceeded {
		return "succeeded"
	}
	return "exhausted"
}

// Poll invokes f up to attempts times, waiting delay between attempts,
// until f reports done. Context cancellation aborts the wait immediately.
//
// f returning an error aborts the poll; transient conditions should be
// swallowed inside f so they consume an attempt instead.
func Poll(ctx context.Context, attempts int, delay time.Duration, f func(context.Context) (bool, error)) (PollOutcome, error) {
	if attempts < 1 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return PollExhausted, err
		}
		done, err := f(ctx)
		if err != nil {
			return PollExhausted, err
		}
		if done {
			return PollSucceeded, nil
		}
		if i == attempts-1 {
			break
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return PollExhausted, ctx.Err()
		case <-timer.C:
		}
	}
	return PollExhausted, nil
}
