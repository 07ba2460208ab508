// Package market holds the latest top-of-book snapshot shared by the
// scanner and the execution engine's commission valuation.
package market

import (
	"sync"
	"time"

	"triarb/internal/model"
)

// Store holds the latest best bid/ask per instrument. It is replaced
// wholesale each cycle and never partially updated.
type Store struct {
	mu        sync.RWMutex
	quotes    map[string]model.Quote
	updatedAt time.Time
}

// NewStore creates an empty snapshot store.
func NewStore() *Store {
	return &Store{quotes: make(map[string]model.Quote)}
}

// Replace swaps in a new snapshot. The caller must not mutate quotes afterwards.
func (s *Store) Replace(quotes map[string]model.Quote, at time.Time) {
	if quotes == nil {
		quotes = make(map[string]model.Quote)
	}
	s.mu.Lock()
	s.quotes = quotes
	s.updatedAt = at
	s.mu.Unlock()
}

// Quote returns the quote for symbol, if present.
func (s *Store) Quote(symbol string) (model.Quote, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quotes[symbol]
	return q, ok
}

// Snapshot returns an immutable view of the current quotes.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{quotes: s.quotes, at: s.updatedAt}
}

// Snapshot is a read-only set of quotes taken at one instant. Because Replace
// swaps the whole map, a Snapshot stays consistent without holding the lock.
type Snapshot struct {
	quotes map[string]model.Quote
	at     time.Time
}

// Quote returns the quote for symbol, if present.
func (s Snapshot) Quote(symbol string) (model.Quote, bool) {
	q, ok := s.quotes[symbol]
	return q, ok
}

// Len is the number of quoted instruments.
func (s Snapshot) Len() int { return len(s.quotes) }

// At is the capture time.
func (s Snapshot) At() time.Time { return s.at }
