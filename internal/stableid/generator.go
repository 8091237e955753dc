package stableid

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/stableid/internal/model"
)

// IDGenerator mints new stable ids.
// Implemented by UUIDGenerator (production) and SequenceGenerator
// (deterministic runs).
type IDGenerator interface {
	Generate() model.StableID
}

// UUIDGenerator mints ids of the form "E-<uuid v4>".
//
// Thread-safety: stateless and safe for concurrent use.
type UUIDGenerator struct{}

// Generate returns a new random stable id.
func (UUIDGenerator) Generate() model.StableID {
	return model.StableID("E-" + uuid.NewString())
}

// SequenceGenerator mints prefix + zero-padded counter ids ("S-0001",
// "S-0002", ...). Used by the scenario harness and by the CLI when
// deterministic ids are requested.
//
// Thread-safety: safe for concurrent use via internal mutex.
type SequenceGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequenceGenerator creates a generator starting at 1.
func NewSequenceGenerator(prefix string) *SequenceGenerator {
	return &SequenceGenerator{prefix: prefix}
}

// NewSequenceGeneratorAt creates a generator whose next id is start+1.
func NewSequenceGeneratorAt(prefix string, start int) *SequenceGenerator {
	return &SequenceGenerator{prefix: prefix, n: start}
}

// Generate returns the next id in sequence.
func (g *SequenceGenerator) Generate() model.StableID {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return model.StableID(fmt.Sprintf("%s%04d", g.prefix, g.n))
}
