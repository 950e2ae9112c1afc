// Package store persists questionnaire data. Every lookup is tenant-scoped;
// rows of another tenant are reported as not found.
package store

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"grc/internal/questionnaire"
	id "grc/pkg/domain"
	"grc/pkg/platform/sentinel"
)

type submissionKey struct {
	assignment id.AssignmentID
	question   id.QuestionID
}

type memoryState struct {
	questionnaires map[id.QuestionnaireID]questionnaire.Questionnaire
	assignments    map[id.AssignmentID]questionnaire.Assignment
	questions      map[id.QuestionID]questionnaire.Question
	submissions    map[submissionKey]questionnaire.SubmissionScore
}

type InMemoryStore struct {
	mu    sync.RWMutex
	state memoryState
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{state: memoryState{
		questionnaires: make(map[id.QuestionnaireID]questionnaire.Questionnaire),
		assignments:    make(map[id.AssignmentID]questionnaire.Assignment),
		questions:      make(map[id.QuestionID]questionnaire.Question),
		submissions:    make(map[submissionKey]questionnaire.SubmissionScore),
	}}
}

func (s *InMemoryStore) SaveQuestionnaire(q questionnaire.Questionnaire) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.questionnaires[q.ID] = q
}

func (s *InMemoryStore) SaveAssignment(a questionnaire.Assignment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.assignments[a.ID] = a
}

func (s *InMemoryStore) SaveQuestion(q questionnaire.Question) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.questions[q.ID] = q
}

func (s *InMemoryStore) FindAssignment(_ context.Context, tenantID id.TenantID, assignmentID id.AssignmentID) (*questionnaire.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.state.assignments[assignmentID]
	if !ok || a.TenantID != tenantID {
		return nil, sentinel.ErrNotFound
	}
	return &a, nil
}

func (s *InMemoryStore) ListQuestions(_ context.Context, tenantID id.TenantID, questionnaireID id.QuestionnaireID) ([]*questionnaire.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*questionnaire.Question
	for _, q := range s.state.questions {
		if q.QuestionnaireID == questionnaireID && q.TenantID == tenantID {
			out = append(out, &q)
		}
	}
	slices.SortFunc(out, func(a, b *questionnaire.Question) int {
		if a.Order != b.Order {
			return a.Order - b.Order
		}
		return int(a.ID - b.ID)
	})
	return out, nil
}

func (s *InMemoryStore) UpsertSubmissionScore(_ context.Context, score questionnaire.SubmissionScore) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.state.assignments[score.AssignmentID]
	if !ok || a.TenantID != score.TenantID {
		return sentinel.ErrNotFound
	}
	s.state.submissions[submissionKey{score.AssignmentID, score.QuestionID}] = score
	return nil
}

func (s *InMemoryStore) UpdateOverallScore(_ context.Context, tenantID id.TenantID, assignmentID id.AssignmentID, score float64, overridden bool, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.state.assignments[assignmentID]
	if !ok || a.TenantID != tenantID {
		return sentinel.ErrNotFound
	}
	a.OverallScore = &score
	a.ScoreOverridden = overridden
	a.UpdatedAt = now
	s.state.assignments[assignmentID] = a
	return nil
}

func (s *InMemoryStore) VendorForQuestionnaire(_ context.Context, tenantID id.TenantID, questionnaireID id.QuestionnaireID) (id.VendorID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.state.questionnaires[questionnaireID]
	if !ok || q.TenantID != tenantID || q.VendorID == nil {
		return 0, sentinel.ErrNotFound
	}
	return *q.VendorID, nil
}

func (s *InMemoryStore) VendorForAssignment(_ context.Context, tenantID id.TenantID, assignmentID id.AssignmentID) (id.VendorID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.state.assignments[assignmentID]
	if !ok || a.TenantID != tenantID || a.TempVendorID == nil {
		return 0, sentinel.ErrNotFound
	}
	return *a.TempVendorID, nil
}

// Submissions returns the scores written for an assignment, keyed by question.
func (s *InMemoryStore) Submissions(assignmentID id.AssignmentID) map[id.QuestionID]questionnaire.SubmissionScore {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[id.QuestionID]questionnaire.SubmissionScore)
	for k, v := range s.state.submissions {
		if k.assignment == assignmentID {
			out[k.question] = v
		}
	}
	return out
}

func (s *InMemoryStore) Snapshot() any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return memoryState{
		questionnaires: maps.Clone(s.state.questionnaires),
		assignments:    maps.Clone(s.state.assignments),
		questions:      maps.Clone(s.state.questions),
		submissions:    maps.Clone(s.state.submissions),
	}
}

func (s *InMemoryStore) Restore(state any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state.(memoryState)
}
