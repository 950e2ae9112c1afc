package store

import (
	"context"
	"slices"
	"sync"

	"grc/internal/versions"
	id "grc/pkg/domain"
)

// InMemoryStore keeps version chains per approval. Append is only safe for
// concurrent appenders on the same approval when callers serialize through a
// transaction runner, which is how the service uses it.
type InMemoryStore struct {
	mu     sync.RWMutex
	chains map[id.ApprovalID][]versions.Version
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{chains: make(map[id.ApprovalID][]versions.Version)}
}

func (s *InMemoryStore) Append(_ context.Context, v *versions.Version) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chain := s.chains[v.ApprovalID]
	v.Number = len(chain) + 1
	v.ParentID = nil
	for i := range chain {
		if chain[i].IsCurrent {
			parent := chain[i].ID
			v.ParentID = &parent
			chain[i].IsCurrent = false
		}
	}
	v.IsCurrent = true
	stored := *v
	stored.Payload = versions.ClonePayload(v.Payload)
	s.chains[v.ApprovalID] = append(chain, stored)
	return nil
}

func (s *InMemoryStore) ListByApproval(_ context.Context, approvalID id.ApprovalID) ([]*versions.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chain := s.chains[approvalID]
	out := make([]*versions.Version, 0, len(chain))
	for _, v := range chain {
		out = append(out, copyVersion(v))
	}
	return out, nil
}

func (s *InMemoryStore) FindCurrent(_ context.Context, approvalID id.ApprovalID) (*versions.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, v := range s.chains[approvalID] {
		if v.IsCurrent {
			return copyVersion(v), nil
		}
	}
	return nil, ErrNotFound
}

func (s *InMemoryStore) FindByID(_ context.Context, versionID id.VersionID) (*versions.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, chain := range s.chains {
		for _, v := range chain {
			if v.ID == versionID {
				return copyVersion(v), nil
			}
		}
	}
	return nil, ErrNotFound
}

func (s *InMemoryStore) Snapshot() any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[id.ApprovalID][]versions.Version, len(s.chains))
	for k, chain := range s.chains {
		out[k] = slices.Clone(chain)
	}
	return out
}

func (s *InMemoryStore) Restore(state any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chains = state.(map[id.ApprovalID][]versions.Version)
}

func copyVersion(v versions.Version) *versions.Version {
	v.Payload = versions.ClonePayload(v.Payload)
	if v.ParentID != nil {
		parent := *v.ParentID
		v.ParentID = &parent
	}
	return &v
}
