// Package store persists workflows, approval requests and stages.
package store

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"grc/internal/workflow"
	id "grc/pkg/domain"
	"grc/pkg/platform/sentinel"
)

type memoryState struct {
	workflows map[id.WorkflowID]workflow.Workflow
	requests  map[id.ApprovalID]workflow.Request
	stages    map[id.StageID]workflow.Stage
}

func (m memoryState) clone() memoryState {
	return memoryState{
		workflows: maps.Clone(m.workflows),
		requests:  maps.Clone(m.requests),
		stages:    maps.Clone(m.stages),
	}
}

// InMemoryStore is safe for concurrent use. Row locks are not modelled:
// callers serialize writers through the in-memory transaction runner.
type InMemoryStore struct {
	mu    sync.RWMutex
	state memoryState
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{state: memoryState{
		workflows: make(map[id.WorkflowID]workflow.Workflow),
		requests:  make(map[id.ApprovalID]workflow.Request),
		stages:    make(map[id.StageID]workflow.Stage),
	}}
}

func (s *InMemoryStore) CreateWorkflow(_ context.Context, wf *workflow.Workflow, templates []*workflow.Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.state.workflows[wf.ID]; exists {
		return sentinel.ErrConflict
	}
	stored := *wf
	stored.Stages = nil
	s.state.workflows[wf.ID] = stored
	for _, st := range templates {
		s.state.stages[st.ID] = copyStage(st)
	}
	return nil
}

func (s *InMemoryStore) FindWorkflow(_ context.Context, workflowID id.WorkflowID) (*workflow.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wf, ok := s.state.workflows[workflowID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &wf, nil
}

func (s *InMemoryStore) ListWorkflows(_ context.Context, tenantID id.TenantID, activeOnly bool) ([]*workflow.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*workflow.Workflow{}
	for _, wf := range s.state.workflows {
		if wf.TenantID != tenantID || (activeOnly && !wf.IsActive) {
			continue
		}
		out = append(out, &wf)
	}
	slices.SortFunc(out, func(a, b *workflow.Workflow) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) ListTemplateStages(_ context.Context, workflowID id.WorkflowID) ([]*workflow.Stage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*workflow.Stage{}
	for _, st := range s.state.stages {
		if st.WorkflowID == workflowID && st.IsTemplate() {
			out = append(out, ptrStage(st))
		}
	}
	workflow.SortStages(out)
	return out, nil
}

func (s *InMemoryStore) CreateRequest(_ context.Context, req *workflow.Request, stages []*workflow.Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.state.requests[req.ID]; exists {
		return sentinel.ErrConflict
	}
	s.state.requests[req.ID] = copyRequest(req)
	for _, st := range stages {
		s.state.stages[st.ID] = copyStage(st)
	}
	return nil
}

func (s *InMemoryStore) FindRequest(_ context.Context, approvalID id.ApprovalID, _ bool) (*workflow.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.state.requests[approvalID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	out := copyRequest(&req)
	return &out, nil
}

func (s *InMemoryStore) ApprovalTenant(_ context.Context, approvalID id.ApprovalID, _ bool) (id.TenantID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.state.requests[approvalID]
	if !ok {
		return id.TenantID{}, sentinel.ErrNotFound
	}
	return req.TenantID, nil
}

func (s *InMemoryStore) UpdateRequest(_ context.Context, req *workflow.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.requests[req.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.state.requests[req.ID] = copyRequest(req)
	return nil
}

func (s *InMemoryStore) ListRequests(_ context.Context, f workflow.ListFilter) ([]*workflow.Request, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	assigned := map[id.ApprovalID]bool{}
	if !f.AssigneeID.IsNil() {
		for _, st := range s.state.stages {
			if !st.IsTemplate() && st.AssignedUserID == f.AssigneeID {
				assigned[st.ApprovalID] = true
			}
		}
	}

	var matched []*workflow.Request
	for _, req := range s.state.requests {
		switch {
		case req.TenantID != f.TenantID,
			f.Status != "" && req.Status != f.Status,
			!f.RequesterID.IsNil() && req.RequesterID != f.RequesterID,
			!f.AssigneeID.IsNil() && !assigned[req.ID],
			!f.WorkflowID.IsNil() && req.WorkflowID != f.WorkflowID,
			f.ApprovalType != "" && req.RequestData.ApprovalType() != f.ApprovalType:
			continue
		}
		out := copyRequest(&req)
		matched = append(matched, &out)
	}
	slices.SortFunc(matched, func(a, b *workflow.Request) int { return b.SubmissionDate.Compare(a.SubmissionDate) })

	total := len(matched)
	start := min(f.Offset, total)
	end := total
	if f.Limit > 0 {
		end = min(start+f.Limit, total)
	}
	return matched[start:end], total, nil
}

func (s *InMemoryStore) FindStage(_ context.Context, stageID id.StageID) (*workflow.Stage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.state.stages[stageID]
	if !ok || st.IsTemplate() {
		return nil, sentinel.ErrNotFound
	}
	return ptrStage(st), nil
}

func (s *InMemoryStore) ListStages(_ context.Context, approvalID id.ApprovalID) ([]*workflow.Stage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*workflow.Stage{}
	for _, st := range s.state.stages {
		if st.ApprovalID == approvalID && !st.IsTemplate() {
			out = append(out, ptrStage(st))
		}
	}
	workflow.SortStages(out)
	return out, nil
}

func (s *InMemoryStore) UpdateStages(_ context.Context, stages ...*workflow.Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range stages {
		if _, ok := s.state.stages[st.ID]; !ok {
			return sentinel.ErrNotFound
		}
	}
	for _, st := range stages {
		s.state.stages[st.ID] = copyStage(st)
	}
	return nil
}

func (s *InMemoryStore) ListStagesByAssignee(_ context.Context, tenantID id.TenantID, userID id.UserID, status workflow.StageStatus) ([]*workflow.Stage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*workflow.Stage{}
	for _, st := range s.state.stages {
		if st.IsTemplate() || st.TenantID != tenantID || st.AssignedUserID != userID {
			continue
		}
		if status != "" && st.Status != status {
			continue
		}
		out = append(out, ptrStage(st))
	}
	slices.SortFunc(out, func(a, b *workflow.Stage) int { return b.UpdatedAt.Compare(a.UpdatedAt) })
	return out, nil
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

// Stored values own deep copies of their JSON payloads so callers mutating
// returned entities never change the store behind a transaction's back.

func copyRequest(req *workflow.Request) workflow.Request {
	out := *req
	out.RequestData = req.RequestData.Clone()
	if req.CompletionDate != nil {
		t := *req.CompletionDate
		out.CompletionDate = &t
	}
	return out
}

func copyStage(st *workflow.Stage) workflow.Stage {
	out := *st
	out.ResponseData = st.ResponseData.Merge(nil)
	if st.Weightage != nil {
		w := *st.Weightage
		out.Weightage = &w
	}
	for _, p := range []**time.Time{&out.StartedAt, &out.CompletedAt, &out.DeadlineDate} {
		if *p != nil {
			t := **p
			*p = &t
		}
	}
	return out
}

func ptrStage(st workflow.Stage) *workflow.Stage {
	out := copyStage(&st)
	return &out
}
