package testutil

import (
	"fmt"
	"sync"
)

// FixedIDGenerator generates predictable session IDs.
//
// The first ID is the configured prefix itself; later IDs append a counter
// ("test-session", "test-session-2", ...). This keeps golden traces stable
// while still giving each retried session a distinct ID.
//
// Thread-safety: FixedIDGenerator is safe for concurrent use via internal mutex.
type FixedIDGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewFixedIDGenerator creates a new generator.
//
// If prefix is empty, "test-session" is used.
func NewFixedIDGenerator(prefix string) *FixedIDGenerator {
	if prefix == "" {
		prefix = "test-session"
	}
	return &FixedIDGenerator{prefix: prefix}
}

// Generate returns the next ID.
func (g *FixedIDGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	if g.n == 1 {
		return g.prefix
	}
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}
