package audit

import (
	"context"
	"slices"
	"sync"
	"time"
)

// Criteria filters audit queries. Zero fields match everything.
type Criteria struct {
	Action      string
	ResourceID  string
	WorkspaceID string
	Since       time.Time
	Until       time.Time
	Limit       int
}

func (c Criteria) matches(e Event) bool {
	switch {
	case c.Action != "" && e.Action != c.Action:
		return false
	case c.ResourceID != "" && e.ResourceID != c.ResourceID:
		return false
	case c.WorkspaceID != "" && e.WorkspaceID != c.WorkspaceID:
		return false
	case !c.Since.IsZero() && e.CreatedAt.Before(c.Since):
		return false
	case !c.Until.IsZero() && !e.CreatedAt.Before(c.Until):
		return false
	}
	return true
}

// Storage persists audit events.
// Query returns matching events newest first.
type Storage interface {
	Store(ctx context.Context, events ...Event) error
	Query(ctx context.Context, criteria Criteria) ([]Event, error)
}

// MemoryStorage keeps events in process memory.
type MemoryStorage struct {
	mu     sync.RWMutex
	events []Event
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (s *MemoryStorage) Store(ctx context.Context, events ...Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

func (s *MemoryStorage) Query(ctx context.Context, c Criteria) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Event, 0)
	for _, e := range slices.Backward(s.events) {
		if !c.matches(e) {
			continue
		}
		out = append(out, e)
		if c.Limit > 0 && len(out) == c.Limit {
			break
		}
	}
	return out, nil
}
