package memory

import (
	"context"
	"slices"
	"sync"

	audit "grc/pkg/platform/audit"
)

type entry struct {
	event     audit.Event
	processed bool
}

// InMemoryStore is an outbox for tests and single-process runs. It takes part
// in in-memory transactions through Snapshot and Restore.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries []entry
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry{event: event})
	return nil
}

// List returns every appended event in insertion order.
func (s *InMemoryStore) List() []audit.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]audit.Event, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.event
	}
	return out
}

// Names returns the event names in insertion order.
func (s *InMemoryStore) Names() []audit.EventName {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]audit.EventName, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.event.Name
	}
	return out
}

func (s *InMemoryStore) ProcessBatch(ctx context.Context, limit int, publish func(context.Context, audit.Event) error) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for i := range s.entries {
		if n >= limit {
			break
		}
		if s.entries[i].processed {
			continue
		}
		if err := publish(ctx, s.entries[i].event); err != nil {
			return n, err
		}
		s.entries[i].processed = true
		n++
	}
	return n, nil
}

func (s *InMemoryStore) Snapshot() any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.entries)
}

func (s *InMemoryStore) Restore(state any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = state.([]entry)
}
