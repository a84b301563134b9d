// Package schema defines per-schema value semantics.
//
// Transition recording and consignment validation are schema-agnostic: all
// conservation arithmetic is delegated to the Semantics registered for the
// contract's schema tag. The fungible schema ships built in; other asset
// kinds plug in their own.
package schema

import (
	"fmt"
	"sort"
	"sync"
)

// Semantics interprets allocation values for one schema tag.
type Semantics interface {
	// Tag is the stable schema identifier recorded in contract geneses.
	Tag() string

	// Sum folds amounts with overflow checking.
	Sum(amounts []uint64) (uint64, error)

	// ZeroChangeAllowed reports whether a zero-amount revealed change
	// allocation is permitted, as opposed to omitting the change seal.
	ZeroChangeAllowed() bool
}

var (
	mu       sync.RWMutex
	registry = map[string]Semantics{}
)

// Register adds semantics for a schema tag. Registering a duplicate tag
// panics; registration happens at init time.
func Register(s Semantics) {
	mu.Lock()
	defer mu.Unlock()
	if _, ok := registry[s.Tag()]; ok {
		panic(fmt.Sprintf("schema: duplicate registration for %q", s.Tag()))
	}
	registry[s.Tag()] = s
}

// Lookup returns the semantics for tag, or an error when the node does not
// support the schema.
func Lookup(tag string) (Semantics, error) {
	mu.RLock()
	defer mu.RUnlock()
	s, ok := registry[tag]
	if !ok {
		return nil, fmt.Errorf("schema: unsupported schema %q", tag)
	}
	return s, nil
}

// Tags lists the registered schema tags in sorted order.
func Tags() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(registry))
	for tag := range registry {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}
