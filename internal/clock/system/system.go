// Package system provides the wall clock used outside tests.
package system

import (
	"time"

	"github.com/ahgcrowdfarming/agentic-browsing/internal/scrape"
)

var _ scrape.Clock = Clock{}

// Clock implements scrape.Clock in UTC.
type Clock struct{}

// New creates a new Clock.
func New() Clock {
	return Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
