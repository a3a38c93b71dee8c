package testutil

// FixedIDGenerator returns the same request ID every time.
//
// Log lines and traces produced with a FixedIDGenerator are byte-identical
// across runs, which keeps golden comparisons stable.
//
// Thread-safety: FixedIDGenerator is stateless and safe for concurrent use.
type FixedIDGenerator struct {
	id string
}

// NewFixedIDGenerator creates a generator that always returns id.
//
// If id is empty, Generate() returns "test-request".
func NewFixedIDGenerator(id string) *FixedIDGenerator {
	if id == "" {
		id = "test-request"
	}
	return &FixedIDGenerator{id: id}
}

// Generate returns the fixed ID.
//
// Implements worker.IDGenerator.
func (g *FixedIDGenerator) Generate() string {
	return g.id
}
