package schema

import (
	"errors"
	"math"
)

// FungibleTag is the schema tag for divisible, additive asset values.
const FungibleTag = "fungible"

// ErrOverflow is returned when summed amounts exceed the 64-bit range.
var ErrOverflow = errors.New("schema: amount overflow")

// Fungible implements integer-addition value semantics.
//
// A change allocation of zero is not permitted; when the computed change is
// exactly zero the change seal must be omitted instead.
type Fungible struct{}

func (Fungible) Tag() string { return FungibleTag }

func (Fungible) Sum(amounts []uint64) (uint64, error) {
	var total uint64
	for _, a := range amounts {
		if a > math.MaxUint64-total {
			return 0, ErrOverflow
		}
		total += a
	}
	return total, nil
}

func (Fungible) ZeroChangeAllowed() bool { return false }

func init() {
	Register(Fungible{})
}
