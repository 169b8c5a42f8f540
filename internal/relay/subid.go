package relay

import (
	"sync"

	"github.com/google/uuid"
)

// SubscriptionIDs hands out subscription ids for one connection. An id is
// never returned twice.
type SubscriptionIDs struct {
	mu     sync.Mutex
	issued map[string]struct{}
}

// NewSubscriptionIDs creates a generator scoped to a single connection
func NewSubscriptionIDs() *SubscriptionIDs {
	return &SubscriptionIDs{issued: make(map[string]struct{})}
}

// Next returns a fresh subscription id
func (s *SubscriptionIDs) Next() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		id := uuid.NewString()
		if _, dup := s.issued[id]; dup {
			continue
		}
		s.issued[id] = struct{}{}
		return id
	}
}

// Issued returns how many ids have been handed out
func (s *SubscriptionIDs) Issued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.issued)
}
