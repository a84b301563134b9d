package contentid

import "testing"

func TestNewIsDeterministic(t *testing.T) {
	a, err := New([]byte("payload"))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	b, err := New([]byte("payload"))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if a != b {
		t.Fatalf("equal bytes must yield equal CIDs")
	}

	c, err := New([]byte("other payload"))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if a == c {
		t.Fatalf("different bytes must yield different CIDs")
	}
}

func TestParseRoundTrip(t *testing.T) {
	id, err := New([]byte("round trip"))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	parsed, err := Parse(id.String())
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if parsed != id {
		t.Fatalf("Parse round trip mismatch")
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "not-a-cid", "b"} {
		if _, err := Parse(s); err == nil {
			t.Fatalf("expected rejection of %q", s)
		}
	}
}
