package testutil

import (
	"fmt"
	"sync"
)

// SequentialIDs generates "<prefix>-0001", "<prefix>-0002", ...
//
// Implements purchase.IDGenerator.
type SequentialIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialIDs creates a generator. An empty prefix becomes "req".
func NewSequentialIDs(prefix string) *SequentialIDs {
	if prefix == "" {
		prefix = "req"
	}
	return &SequentialIDs{prefix: prefix}
}

// Generate returns the next id.
func (g *SequentialIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%04d", g.prefix, g.n)
}

// FixedID always returns the same id.
type FixedID string

// Generate returns the fixed id, or "req-fixed" when empty.
func (id FixedID) Generate() string {
	if id == "" {
		return "req-fixed"
	}
	return string(id)
}
