// Package store persists events, file operations and incident approvals on
// the primary database.
package store

import (
	"context"
	"maps"
	"sort"
	"sync"

	"grc/internal/events"
	id "grc/pkg/domain"
	"grc/pkg/platform/sentinel"
)

type incidentKey struct {
	tenant   id.TenantID
	incident id.IncidentID
}

type memoryState struct {
	events    map[id.EventID]events.Event
	fileOps   map[id.FileOperationID]events.FileOperation
	incidents map[incidentKey]events.IncidentApproval
	nextEvent int64
	nextOp    int64
	nextInc   int64
}

func (m memoryState) clone() memoryState {
	out := m
	out.events = make(map[id.EventID]events.Event, len(m.events))
	for k, v := range m.events {
		out.events[k] = copyEvent(v)
	}
	out.fileOps = maps.Clone(m.fileOps)
	out.incidents = make(map[incidentKey]events.IncidentApproval, len(m.incidents))
	for k, v := range m.incidents {
		out.incidents[k] = copyIncident(v)
	}
	return out
}

type InMemoryStore struct {
	mu    sync.RWMutex
	state memoryState
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{state: memoryState{
		events:    make(map[id.EventID]events.Event),
		fileOps:   make(map[id.FileOperationID]events.FileOperation),
		incidents: make(map[incidentKey]events.IncidentApproval),
	}}
}

func (s *InMemoryStore) Snapshot() any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

func (s *InMemoryStore) Restore(state any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state.(memoryState)
}

func (s *InMemoryStore) CreateEvent(_ context.Context, e *events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.nextEvent++
	e.ID = id.EventID(s.state.nextEvent)
	s.state.events[e.ID] = copyEvent(*e)
	return nil
}

func (s *InMemoryStore) FindEvent(_ context.Context, eventID id.EventID, _ bool) (*events.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.state.events[eventID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	out := copyEvent(e)
	return &out, nil
}

func (s *InMemoryStore) UpdateEvent(_ context.Context, e *events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.state.events[e.ID]
	if !ok || cur.TenantID != e.TenantID {
		return sentinel.ErrNotFound
	}
	s.state.events[e.ID] = copyEvent(*e)
	return nil
}

func (s *InMemoryStore) DeleteEvent(_ context.Context, tenantID id.TenantID, eventID id.EventID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.state.events[eventID]
	if !ok || cur.TenantID != tenantID {
		return sentinel.ErrNotFound
	}
	if cur.Status != events.StatusArchived {
		return sentinel.ErrInvalidState
	}
	delete(s.state.events, eventID)
	return nil
}

func (s *InMemoryStore) ListEvents(_ context.Context, f events.ListFilter) ([]*events.Event, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []events.Event
	for _, e := range s.state.events {
		if matches(e, f) {
			matched = append(matched, e)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})
	total := len(matched)
	start := min(f.Offset, total)
	end := total
	if f.Limit > 0 {
		end = min(start+f.Limit, total)
	}
	out := make([]*events.Event, 0, end-start)
	for _, e := range matched[start:end] {
		c := copyEvent(e)
		out = append(out, &c)
	}
	return out, total, nil
}

func matches(e events.Event, f events.ListFilter) bool {
	switch {
	case e.TenantID != f.TenantID:
		return false
	case !f.IncludeTemplates && e.IsTemplate:
		return false
	case f.Status != "" && e.Status != f.Status:
		return false
	case !f.OwnerID.IsNil() && e.OwnerID != f.OwnerID:
		return false
	case !f.ReviewerID.IsNil() && !e.IsReviewer(f.ReviewerID):
		return false
	case f.Category != "" && e.Category != f.Category:
		return false
	case f.FrameworkID != nil && (e.FrameworkID == nil || *e.FrameworkID != *f.FrameworkID):
		return false
	}
	return true
}

func (s *InMemoryStore) InsertFileOperation(_ context.Context, op *events.FileOperation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.nextOp++
	op.ID = id.FileOperationID(s.state.nextOp)
	s.state.fileOps[op.ID] = *op
	return nil
}

// SaveFileOperation seeds a row with a fixed ID.
func (s *InMemoryStore) SaveFileOperation(op events.FileOperation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.fileOps[op.ID] = op
	if int64(op.ID) > s.state.nextOp {
		s.state.nextOp = int64(op.ID)
	}
}

func (s *InMemoryStore) FindFileOperations(_ context.Context, tenantID id.TenantID, ids []id.FileOperationID) (map[id.FileOperationID]*events.FileOperation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[id.FileOperationID]*events.FileOperation, len(ids))
	for _, fid := range ids {
		if op, ok := s.state.fileOps[fid]; ok && op.TenantID == tenantID {
			c := op
			out[fid] = &c
		}
	}
	return out, nil
}

func (s *InMemoryStore) ListFileOperations(_ context.Context, tenantID id.TenantID, module string, entityID int64) ([]*events.FileOperation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*events.FileOperation
	for _, op := range s.state.fileOps {
		if op.TenantID == tenantID && op.Module == module && op.EntityID != nil && *op.EntityID == entityID &&
			op.Status == events.FileOperationCompleted {
			c := op
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryStore) FindIncidentApproval(_ context.Context, tenantID id.TenantID, incidentID id.IncidentID, _ bool) (*events.IncidentApproval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ia, ok := s.state.incidents[incidentKey{tenantID, incidentID}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	out := copyIncident(ia)
	return &out, nil
}

func (s *InMemoryStore) SaveIncidentApproval(_ context.Context, ia *events.IncidentApproval) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := incidentKey{ia.TenantID, ia.IncidentID}
	if cur, ok := s.state.incidents[key]; ok {
		ia.ID = cur.ID
	} else {
		s.state.nextInc++
		ia.ID = s.state.nextInc
	}
	s.state.incidents[key] = copyIncident(*ia)
	return nil
}

func copyEvent(e events.Event) events.Event {
	e.Evidence = append(events.Evidence(nil), e.Evidence...)
	return e
}

func copyIncident(ia events.IncidentApproval) events.IncidentApproval {
	info := make(events.ExtractedInfo, len(ia.ExtractedInfo))
	for k, v := range ia.ExtractedInfo {
		if list, ok := v.([]any); ok {
			v = append([]any(nil), list...)
		}
		info[k] = v
	}
	ia.ExtractedInfo = info
	return ia
}
