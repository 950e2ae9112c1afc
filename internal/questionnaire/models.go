// Package questionnaire is the slice of the questionnaire domain the approval
// engine touches: questions with their scoring weights, vendor assignments
// and the per-question scores written when a response approval completes.
package questionnaire

import (
	"time"

	id "grc/pkg/domain"
)

type Questionnaire struct {
	ID       id.QuestionnaireID `json:"questionnaire_id"`
	TenantID id.TenantID        `json:"tenant_id"`
	Name     string             `json:"questionnaire_name"`
	VendorID *id.VendorID       `json:"vendor_id"`
	Status   string             `json:"status"`
}

type Assignment struct {
	ID              id.AssignmentID    `json:"assignment_id"`
	TenantID        id.TenantID        `json:"tenant_id"`
	QuestionnaireID id.QuestionnaireID `json:"questionnaire_id"`
	TempVendorID    *id.VendorID       `json:"temp_vendor"`
	Status          string             `json:"status"`
	OverallScore    *float64           `json:"overall_score"`
	ScoreOverridden bool               `json:"score_overridden"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// Question carries the weight used to scale reviewer scores: a question's
// maximum score is ScoringWeight * 10.
type Question struct {
	ID              id.QuestionID      `json:"question_id"`
	QuestionnaireID id.QuestionnaireID `json:"questionnaire_id"`
	TenantID        id.TenantID        `json:"tenant_id"`
	Text            string             `json:"question_text"`
	ScoringWeight   float64            `json:"scoring_weight"`
	Order           int                `json:"question_order"`
}

// SubmissionScore is the aggregated score written for one question of an
// assignment.
type SubmissionScore struct {
	TenantID        id.TenantID     `json:"tenant_id"`
	AssignmentID    id.AssignmentID `json:"assignment_id"`
	QuestionID      id.QuestionID   `json:"question_id"`
	Score           float64         `json:"score"`
	Percentage      float64         `json:"percentage"`
	ReviewerComment string          `json:"reviewer_comment"`
	ScoredAt        time.Time       `json:"scored_at"`
}
