package consign

import "fmt"

// Kind is a stable category for programmatic failure handling.
//
// Callers should branch on Kind/RuleID rather than matching messages.
type Kind string

const (
	KindParse      Kind = "Parse"
	KindCanonical  Kind = "Canonical"
	KindBalance    Kind = "Balance"
	KindCommitment Kind = "Commitment"
	KindSeal       Kind = "Seal"
	KindCrypto     Kind = "Crypto"

	// KindOracle marks a confirmation lookup that could not be completed.
	// It is deliberately distinct from the validity kinds above: "could not
	// check" must never read as "invalid".
	KindOracle Kind = "Oracle"
)

// Failure names one violated rule found during validation.
//
// RuleID is a stable identifier (e.g. SV-PARSE-001, SV-BAL-101) naming the
// violated invariant. Message is for humans; do not match on it.
type Failure struct {
	Kind    Kind
	RuleID  string
	Message string
}

func (f Failure) String() string {
	return fmt.Sprintf("%s/%s: %s", f.Kind, f.RuleID, f.Message)
}

// Report is the outcome of validating a consignment.
//
// An empty Failures slice means the consignment is structurally and
// cryptographically sound. UnresolvedTxids lists witness transactions the
// oracle has not confirmed yet; they are expected to shrink on re-validation
// as the chain advances, and are not failures. AcceptedTxids lists witness
// transactions confirmed at or beyond the required depth.
type Report struct {
	Failures        []Failure
	UnresolvedTxids []string
	AcceptedTxids   []string
}

// OK reports whether the consignment is valid and fully confirmed.
func (r Report) OK() bool {
	return len(r.Failures) == 0 && len(r.UnresolvedTxids) == 0
}

// Sound reports whether the consignment has no validity failures. Oracle
// availability failures do not count: an unreachable oracle leaves txids
// unresolved but says nothing about validity.
func (r Report) Sound() bool { return len(r.HardFailures()) == 0 }

// HardFailures returns the validity failures, excluding KindOracle.
func (r Report) HardFailures() []Failure {
	var out []Failure
	for _, f := range r.Failures {
		if f.Kind != KindOracle {
			out = append(out, f)
		}
	}
	return out
}

func (r *Report) fail(kind Kind, ruleID, format string, args ...interface{}) {
	r.Failures = append(r.Failures, Failure{Kind: kind, RuleID: ruleID, Message: fmt.Sprintf(format, args...)})
}
