package marketdata

import (
	"context"
	"sync"
)

// StaticFutures is a FuturesSource that serves fixed values. It is the
// fallback when no futures feed is connected, and the vehicle for
// manually entered overnight data: without a feed the changes read as
// flat, which scores as neutral.
type StaticFutures struct {
	mu      sync.RWMutex
	changes FuturesChanges
}

// NewStaticFutures creates a source serving flat changes until Set is
// called.
func NewStaticFutures() *StaticFutures {
	return &StaticFutures{}
}

// GetOvernightChanges returns the configured changes.
func (s *StaticFutures) GetOvernightChanges(_ context.Context) (FuturesChanges, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.changes, nil
}

// Set replaces the served changes with the given percent moves.
func (s *StaticFutures) Set(es, nq, ym float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.changes = FuturesChanges{ES: es, NQ: nq, YM: ym}
}
