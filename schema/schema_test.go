package schema

import (
	"math"
	"testing"
)

func TestLookupFungible(t *testing.T) {
	sem, err := Lookup(FungibleTag)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if sem.Tag() != FungibleTag {
		t.Fatalf("tag: got %q want %q", sem.Tag(), FungibleTag)
	}
	if sem.ZeroChangeAllowed() {
		t.Fatalf("fungible semantics must not allow zero-amount change")
	}
}

func TestLookupUnknown(t *testing.T) {
	if _, err := Lookup("no-such-schema"); err == nil {
		t.Fatalf("expected error for unknown schema")
	}
}

func TestFungibleSum(t *testing.T) {
	sem, err := Lookup(FungibleTag)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}

	got, err := sem.Sum([]uint64{1, 2, 3})
	if err != nil {
		t.Fatalf("Sum failed: %v", err)
	}
	if got != 6 {
		t.Fatalf("Sum: got %d want 6", got)
	}

	empty, err := sem.Sum(nil)
	if err != nil || empty != 0 {
		t.Fatalf("empty Sum: got %d, %v", empty, err)
	}

	if _, err := sem.Sum([]uint64{math.MaxUint64, 1}); err == nil {
		t.Fatalf("expected overflow error")
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on duplicate registration")
		}
	}()
	Register(Fungible{})
}
