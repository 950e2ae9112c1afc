package handler

import (
	"encoding/json"
	"strings"
	"time"

	"grc/internal/events"
	"grc/internal/events/service"
	id "grc/pkg/domain"
	dErrors "grc/pkg/domain-errors"
	pstrings "grc/pkg/platform/strings"
)

type CreateEventRequest struct {
	Title        string     `json:"title" validate:"required,max=500"`
	Description  string     `json:"description"`
	FrameworkID  *int64     `json:"framework_id" validate:"omitempty,gt=0"`
	ModuleID     *int64     `json:"module_id" validate:"omitempty,gt=0"`
	Category     string     `json:"category" validate:"max=200"`
	OwnerID      string     `json:"owner_id"`
	ReviewerID   string     `json:"reviewer_id"`
	IsTemplate   bool       `json:"is_template"`
	Evidence     string     `json:"evidence"`
	Recurrence   string     `json:"recurrence" validate:"max=100"`
	StartDate    *time.Time `json:"start_date"`
	EndDate      *time.Time `json:"end_date"`
	JiraIssueKey string     `json:"jira_issue_key" validate:"max=100"`

	input service.CreateEventInput
}

// Validate accepts evidence in its stored form, a semicolon separated list.
func (r *CreateEventRequest) Validate() error {
	in := service.CreateEventInput{
		Title:        strings.TrimSpace(r.Title),
		Description:  r.Description,
		FrameworkID:  r.FrameworkID,
		ModuleID:     r.ModuleID,
		Category:     r.Category,
		IsTemplate:   r.IsTemplate,
		Evidence:     events.ParseEvidence(r.Evidence),
		Recurrence:   r.Recurrence,
		StartDate:    r.StartDate,
		EndDate:      r.EndDate,
		JiraIssueKey: r.JiraIssueKey,
	}
	if r.OwnerID != "" {
		ownerID, err := id.ParseUserID(r.OwnerID)
		if err != nil {
			return err
		}
		in.OwnerID = ownerID
	}
	if r.ReviewerID != "" {
		reviewerID, err := id.ParseUserID(r.ReviewerID)
		if err != nil {
			return err
		}
		in.ReviewerID = &reviewerID
	}
	r.input = in
	return nil
}

type AssignRequest struct {
	ReviewerID string `json:"reviewer_id" validate:"required"`

	reviewerID id.UserID
}

func (r *AssignRequest) Validate() error {
	reviewerID, err := id.ParseUserID(r.ReviewerID)
	if err != nil {
		return err
	}
	r.reviewerID = reviewerID
	return nil
}

type ReviewRequest struct {
	Comments string `json:"comments" validate:"max=4000"`
}

type EvidenceRequest struct {
	Token string `json:"token" validate:"required,max=2048"`
}

// LinkRequest takes event IDs as numbers or numeric strings. Repeats are
// dropped.
type LinkRequest struct {
	EventIDs []json.Number `json:"event_ids" validate:"required,min=1,max=100"`

	eventIDs []id.EventID
}

func (r *LinkRequest) Validate() error {
	raw := make([]string, len(r.EventIDs))
	for i, n := range r.EventIDs {
		raw[i] = n.String()
	}
	raw = pstrings.DedupeAndTrim(raw)
	if len(raw) == 0 {
		return dErrors.New(dErrors.CodeValidation, "event_ids is required")
	}
	r.eventIDs = make([]id.EventID, 0, len(raw))
	for _, v := range raw {
		eventID, err := id.ParseEventID(v)
		if err != nil {
			return err
		}
		r.eventIDs = append(r.eventIDs, eventID)
	}
	return nil
}

// ListResponse wraps a page of events with the unpaged total.
type ListResponse struct {
	Events []*events.Event `json:"events"`
	Total  int             `json:"total"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

type EvidenceResponse struct {
	EventID  id.EventID              `json:"event_id"`
	Evidence []events.EvidenceDetail `json:"evidence"`
	Count    int                     `json:"count"`
}
