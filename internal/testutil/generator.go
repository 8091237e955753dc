package testutil

import (
	"sync"

	"github.com/roach88/stableid/internal/model"
)

// FixedIDGenerator returns predetermined stable ids for testing.
//
// Thread-safety: safe for concurrent use via internal mutex.
type FixedIDGenerator struct {
	mu  sync.Mutex
	ids []model.StableID
	idx int
}

// NewFixedIDGenerator creates a generator that returns ids in order.
//
// Example:
//
//	gen := NewFixedIDGenerator("S-b", "S-a")
//	gen.Generate() // "S-b"
//	gen.Generate() // "S-a"
//	gen.Generate() // panic: all ids exhausted
func NewFixedIDGenerator(ids ...model.StableID) *FixedIDGenerator {
	return &FixedIDGenerator{ids: ids}
}

// Generate returns the next predetermined id.
//
// Panics if all ids have been consumed, which catches a test minting more
// ids than it expected.
func (g *FixedIDGenerator) Generate() model.StableID {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.ids) {
		panic("FixedIDGenerator: all ids exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}

// Remaining returns how many ids are left.
func (g *FixedIDGenerator) Remaining() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.ids) - g.idx
}
