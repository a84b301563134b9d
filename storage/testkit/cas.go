// Package testkit holds the conformance suite every vault block store
// must pass, regardless of backend.
package testkit

import (
	"bytes"
	"errors"
	"testing"

	"xdao.co/sealvault/contentid"
	"xdao.co/sealvault/storage"
)

// NewCAS returns a fresh store for one test, isolated from all others.
type NewCAS func(t *testing.T) storage.CAS

// RunCASConformance exercises the block store contract: content
// addressing, put idempotence, and not-found reporting.
func RunCASConformance(t *testing.T, newCAS NewCAS) {
	t.Helper()

	t.Run("AddressesByContent", func(t *testing.T) {
		cas := newCAS(t)
		for i, want := range [][]byte{
			[]byte("vault genesis block"),
			[]byte("vault transition block"),
			[]byte("vault anchor block"),
		} {
			id, err := cas.Put(want)
			if err != nil {
				t.Fatalf("Put block %d: %v", i, err)
			}
			wantID, err := contentid.New(want)
			if err != nil {
				t.Fatalf("contentid.New failed: %v", err)
			}
			if id != wantID {
				t.Fatalf("block %d stored under %s, want %s", i, id, wantID)
			}
			got, err := cas.Get(id)
			if err != nil {
				t.Fatalf("Get block %d: %v", i, err)
			}
			if !bytes.Equal(got, want) {
				t.Fatalf("block %d bytes mangled", i)
			}
		}
	})

	t.Run("PutIsIdempotent", func(t *testing.T) {
		cas := newCAS(t)
		b := []byte("stored twice")
		first, err := cas.Put(b)
		if err != nil {
			t.Fatalf("first Put failed: %v", err)
		}
		second, err := cas.Put(b)
		if err != nil {
			t.Fatalf("second Put failed: %v", err)
		}
		if first != second {
			t.Fatalf("ids diverged across re-put: %s != %s", first, second)
		}
		got, err := cas.Get(first)
		if err != nil {
			t.Fatalf("Get after re-put failed: %v", err)
		}
		if !bytes.Equal(got, b) {
			t.Fatalf("block damaged by re-put")
		}
	})

	t.Run("ReportsMissingBlocks", func(t *testing.T) {
		cas := newCAS(t)
		id, err := contentid.New([]byte("never stored"))
		if err != nil {
			t.Fatalf("contentid.New failed: %v", err)
		}
		if cas.Has(id) {
			t.Fatalf("Has reported a block that was never stored")
		}
		_, err = cas.Get(id)
		if !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("Get of missing block: got %v, want ErrNotFound", err)
		}
		if !storage.IsNotFound(err) {
			t.Fatalf("IsNotFound must match the Get error")
		}
	})

	t.Run("HasTracksPut", func(t *testing.T) {
		cas := newCAS(t)
		id, err := cas.Put([]byte("present block"))
		if err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if !cas.Has(id) {
			t.Fatalf("Has returned false for a stored block")
		}
	})
}
