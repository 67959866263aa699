// Package uuid provides ID generation helpers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/ahgcrowdfarming/agentic-browsing/internal/scrape"
)

var _ scrape.IDGenerator = Generator{}

// Generator creates time-ordered UUIDv7 strings, so invocation ids of one run
// sort in launch order.
type Generator struct{}

// New creates a new Generator.
func New() Generator {
	return Generator{}
}

// NewID returns a UUIDv7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}
