package store

import (
	"context"
	"slices"
	"sync"

	"grc/internal/users"
	id "grc/pkg/domain"
	"grc/pkg/platform/sentinel"
)

// InMemoryStore holds plaintext users for tests and single-process runs.
type InMemoryStore struct {
	mu    sync.RWMutex
	users map[id.UserID]users.User
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{users: make(map[id.UserID]users.User)}
}

func (s *InMemoryStore) Save(u users.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u.Roles = slices.Clone(u.Roles)
	s.users[u.ID] = u
}

func (s *InMemoryStore) FindByID(_ context.Context, tenantID id.TenantID, userID id.UserID) (*users.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok || u.TenantID != tenantID {
		return nil, sentinel.ErrNotFound
	}
	return &u, nil
}

func (s *InMemoryStore) FindByIDs(ctx context.Context, tenantID id.TenantID, userIDs []id.UserID) (map[id.UserID]*users.User, error) {
	out := make(map[id.UserID]*users.User, len(userIDs))
	for _, uid := range userIDs {
		if u, err := s.FindByID(ctx, tenantID, uid); err == nil {
			out[uid] = u
		}
	}
	return out, nil
}
