package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	id "casetrail/pkg/domain"
	audit "casetrail/pkg/platform/audit"
	"casetrail/pkg/platform/sentinel"
)

// InMemoryStore keeps audit records per subject in insertion order.
type InMemoryStore struct {
	mu     sync.RWMutex
	events map[string][]audit.RawEvent
	ids    map[string]struct{}
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		events: make(map[string][]audit.RawEvent),
		ids:    make(map[string]struct{}),
	}
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = make(map[string][]audit.RawEvent)
	s.ids = make(map[string]struct{})
}

// Create appends a record. Records with a duplicate ID are rejected.
func (s *InMemoryStore) Create(_ context.Context, event audit.RawEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if event.ID != "" {
		if _, exists := s.ids[event.ID]; exists {
			return fmt.Errorf("audit event %s: %w", event.ID, sentinel.ErrConflict)
		}
		s.ids[event.ID] = struct{}{}
	}
	event.Metadata = event.Metadata.Clone()
	key := event.Subject.String()
	s.events[key] = append(s.events[key], event)
	return nil
}

// ListInWindow returns the subject's records created in [from, to]. A non-empty action
// restricts the result to that action.
func (s *InMemoryStore) ListInWindow(_ context.Context, subject id.Reference, action string, from, to time.Time) ([]audit.RawEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []audit.RawEvent
	for _, e := range s.events[subject.String()] {
		if (action != "" && e.Action != action) || e.CreatedAt.Before(from) || e.CreatedAt.After(to) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// ListBySubject returns every record for the subject, oldest first.
func (s *InMemoryStore) ListBySubject(_ context.Context, subject id.Reference) ([]audit.RawEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := slices.Clone(s.events[subject.String()])
	slices.SortStableFunc(out, func(a, b audit.RawEvent) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}

// Count returns the number of stored records across all subjects.
func (s *InMemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}
