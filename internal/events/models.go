// Package events is the compliance event sub-domain: review of recurring
// control events, their evidence tokens, and the linkage of that evidence to
// incidents. Events, file operations and incident approvals live on the
// primary database.
package events

import (
	"path"
	"strconv"
	"strings"
	"time"

	id "grc/pkg/domain"
	dErrors "grc/pkg/domain-errors"
)

type Status string

const (
	StatusUnderReview   Status = "Under Review"
	StatusPendingReview Status = "Pending Review"
	StatusApproved      Status = "Approved"
	StatusRejected      Status = "Rejected"
	StatusArchived      Status = "Archived"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusUnderReview, StatusPendingReview, StatusApproved, StatusRejected, StatusArchived:
		return true
	}
	return false
}

// ParseStatus accepts the display form of a status, case-insensitively.
func ParseStatus(s string) (Status, error) {
	for _, st := range []Status{StatusUnderReview, StatusPendingReview, StatusApproved, StatusRejected, StatusArchived} {
		if strings.EqualFold(strings.TrimSpace(s), string(st)) {
			return st, nil
		}
	}
	return "", dErrors.New(dErrors.CodeValidation, "unknown event status "+s)
}

// Module is the file_operations.module value for event evidence uploads.
const Module = "events"

type Event struct {
	ID               id.EventID  `json:"event_id"`
	TenantID         id.TenantID `json:"tenant_id"`
	Title            string      `json:"title"`
	Description      string      `json:"description"`
	FrameworkID      *int64      `json:"framework_id,omitempty"`
	ModuleID         *int64      `json:"module_id,omitempty"`
	Category         string      `json:"category"`
	OwnerID          id.UserID   `json:"owner_id"`
	ReviewerID       *id.UserID  `json:"reviewer_id,omitempty"`
	CreatedBy        id.UserID   `json:"created_by"`
	Status           Status      `json:"status"`
	IsTemplate       bool        `json:"is_template"`
	Evidence         Evidence    `json:"evidence"`
	EvidenceCount    int         `json:"evidence_count"`
	Recurrence       string      `json:"recurrence"`
	StartDate        *time.Time  `json:"start_date,omitempty"`
	EndDate          *time.Time  `json:"end_date,omitempty"`
	JiraIssueKey     string      `json:"jira_issue_key,omitempty"`
	ReviewerComments string      `json:"reviewer_comments,omitempty"`
	ReviewedAt       *time.Time  `json:"reviewed_at,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// NewEvent builds an operational or template event. Events start Under Review.
func NewEvent(tenantID id.TenantID, createdBy id.UserID, now time.Time) *Event {
	return &Event{
		TenantID:  tenantID,
		OwnerID:   createdBy,
		CreatedBy: createdBy,
		Status:    StatusUnderReview,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsReviewer reports whether userID is the event's assigned reviewer.
func (e *Event) IsReviewer(userID id.UserID) bool {
	return e.ReviewerID != nil && *e.ReviewerID == userID
}

func (e *Event) CanAssign() error {
	if e.Status == StatusArchived {
		return dErrors.New(dErrors.CodeInvariantViolation, "archived events cannot be reassigned")
	}
	return nil
}

func (e *Event) Assign(reviewerID id.UserID, now time.Time) {
	e.ReviewerID = &reviewerID
	e.UpdatedAt = now
}

func (e *Event) CanReview() error {
	if e.IsTemplate {
		return dErrors.New(dErrors.CodeInvariantViolation, "template events are not reviewed")
	}
	if e.Status != StatusUnderReview && e.Status != StatusPendingReview {
		return dErrors.New(dErrors.CodeInvariantViolation, "event is "+string(e.Status)+", not awaiting review")
	}
	if e.ReviewerID == nil {
		return dErrors.New(dErrors.CodeInvariantViolation, "event has no assigned reviewer")
	}
	return nil
}

// Review records the reviewer's verdict; status must be Approved or Rejected.
func (e *Event) Review(status Status, comments string, now time.Time) {
	e.Status = status
	e.ReviewerComments = comments
	e.ReviewedAt = &now
	e.UpdatedAt = now
}

func (e *Event) CanEditEvidence() error {
	if e.Status == StatusArchived {
		return dErrors.New(dErrors.CodeInvariantViolation, "archived events are read-only")
	}
	return nil
}

// SetEvidence replaces the token list. New evidence on a rejected event puts
// it back in the review queue.
func (e *Event) SetEvidence(ev Evidence, now time.Time) {
	e.Evidence = ev
	e.EvidenceCount = ev.Count()
	if e.Status == StatusRejected {
		e.Status = StatusPendingReview
	}
	e.UpdatedAt = now
}

func (e *Event) CanArchive() error {
	if e.Status == StatusArchived {
		return dErrors.New(dErrors.CodeInvariantViolation, "event is already archived")
	}
	return nil
}

func (e *Event) Archive(now time.Time) {
	e.Status = StatusArchived
	e.UpdatedAt = now
}

// Evidence is the ordered multiset of evidence tokens on an event. A token is
// either an object URL or a file operation reference.
type Evidence []string

const (
	evidenceSeparator   = ";"
	fileOperationPrefix = "#linked-event-file_op_"
)

// ParseEvidence splits the stored form. Blank tokens are dropped; order and
// duplicates are kept.
func ParseEvidence(raw string) Evidence {
	var out Evidence
	for _, tok := range strings.Split(raw, evidenceSeparator) {
		if tok = strings.TrimSpace(tok); tok != "" {
			out = append(out, tok)
		}
	}
	return out
}

// String is the stored form.
func (e Evidence) String() string {
	return strings.Join(e, evidenceSeparator)
}

func (e Evidence) Count() int {
	n := 0
	for _, tok := range e {
		if strings.TrimSpace(tok) != "" {
			n++
		}
	}
	return n
}

func (e Evidence) Add(token string) Evidence {
	return append(append(Evidence(nil), e...), token)
}

// Remove rebuilds the list without any occurrence of token.
func (e Evidence) Remove(token string) (Evidence, bool) {
	out := make(Evidence, 0, len(e))
	removed := false
	for _, tok := range e {
		if tok == token {
			removed = true
			continue
		}
		out = append(out, tok)
	}
	return out, removed
}

// FileOperationIDs returns the referenced file operations in token order,
// without duplicates.
func (e Evidence) FileOperationIDs() []id.FileOperationID {
	var out []id.FileOperationID
	seen := make(map[id.FileOperationID]bool)
	for _, tok := range e {
		if fid, ok := ParseFileOperationToken(tok); ok && !seen[fid] {
			seen[fid] = true
			out = append(out, fid)
		}
	}
	return out
}

// ValidateToken rejects tokens that would corrupt the stored form.
func ValidateToken(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return dErrors.New(dErrors.CodeValidation, "evidence token is required")
	}
	if strings.Contains(token, evidenceSeparator) {
		return dErrors.New(dErrors.CodeValidation, "evidence token must not contain ';'")
	}
	if strings.HasPrefix(token, fileOperationPrefix) {
		if _, ok := ParseFileOperationToken(token); !ok {
			return dErrors.New(dErrors.CodeValidation, "malformed file operation reference "+token)
		}
	}
	return nil
}

func FileOperationToken(fid id.FileOperationID) string {
	return fileOperationPrefix + fid.String()
}

func ParseFileOperationToken(token string) (id.FileOperationID, bool) {
	rest, ok := strings.CutPrefix(token, fileOperationPrefix)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return id.FileOperationID(n), true
}

// FileName is the last path element of a URL token, without query string.
func FileName(url string) string {
	if i := strings.IndexAny(url, "?#"); i >= 0 {
		url = url[:i]
	}
	return path.Base(url)
}

// FileOperation is one row of the document handling table.
type FileOperation struct {
	ID           id.FileOperationID `json:"file_operation_id"`
	TenantID     id.TenantID        `json:"tenant_id"`
	UserID       id.UserID          `json:"user_id"`
	Module       string             `json:"module"`
	EntityID     *int64             `json:"entity_id,omitempty"`
	S3URL        string             `json:"s3_url"`
	S3Key        string             `json:"s3_key"`
	OriginalName string             `json:"original_name"`
	StoredName   string             `json:"stored_name"`
	FileType     string             `json:"file_type"`
	FileSize     int64              `json:"file_size"`
	Status       string             `json:"status"`
	CreatedAt    time.Time          `json:"created_at"`
}

const FileOperationCompleted = "COMPLETED"

// Source says where a piece of evidence was found.
type Source string

const (
	SourceS3            Source = "s3"
	SourceFileOperation Source = "file_operation"
	SourceJira          Source = "jira"
)

// EvidenceDetail is an evidence token resolved to a downloadable document.
type EvidenceDetail struct {
	Token           string              `json:"token,omitempty"`
	Source          Source              `json:"source"`
	Filename        string              `json:"filename"`
	URL             string              `json:"url"`
	FileType        string              `json:"file_type,omitempty"`
	FileSize        int64               `json:"file_size,omitempty"`
	FileOperationID *id.FileOperationID `json:"file_operation_id,omitempty"`
}

// URLDetail resolves a plain URL token.
func URLDetail(token string) EvidenceDetail {
	name := FileName(token)
	return EvidenceDetail{
		Token:    token,
		Source:   SourceS3,
		Filename: name,
		URL:      token,
		FileType: strings.TrimPrefix(strings.ToLower(path.Ext(name)), "."),
	}
}

// FileOperationDetail resolves a file operation row.
func FileOperationDetail(token string, op *FileOperation) EvidenceDetail {
	fid := op.ID
	return EvidenceDetail{
		Token:           token,
		Source:          SourceFileOperation,
		Filename:        op.OriginalName,
		URL:             op.S3URL,
		FileType:        op.FileType,
		FileSize:        op.FileSize,
		FileOperationID: &fid,
	}
}

// IncidentApproval holds what has been extracted for an incident, including
// the evidence linked to it.
type IncidentApproval struct {
	ID            int64         `json:"incident_approval_id"`
	TenantID      id.TenantID   `json:"tenant_id"`
	IncidentID    id.IncidentID `json:"incident_id"`
	Status        string        `json:"status"`
	ExtractedInfo ExtractedInfo `json:"extracted_info"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

const IncidentStatusPending = "PENDING"

func NewIncidentApproval(tenantID id.TenantID, incidentID id.IncidentID, now time.Time) *IncidentApproval {
	return &IncidentApproval{
		TenantID:      tenantID,
		IncidentID:    incidentID,
		Status:        IncidentStatusPending,
		ExtractedInfo: ExtractedInfo{},
		UpdatedAt:     now,
	}
}

// ExtractedInfo is the JSON document on incident_approval. Keys other than
// linked_evidence are owned by other writers and are kept as they are.
type ExtractedInfo map[string]any

// LinkedEvidence is one document linked to an incident.
type LinkedEvidence struct {
	EventID    id.EventID `json:"event_id"`
	EventTitle string     `json:"event_title"`
	Source     Source     `json:"source"`
	Filename   string     `json:"filename"`
	URL        string     `json:"url"`
	FileType   string     `json:"file_type,omitempty"`
	FileSize   int64      `json:"file_size,omitempty"`
	LinkedBy   id.UserID  `json:"linked_by"`
	LinkedAt   time.Time  `json:"linked_at"`
}

// AddLinkedEvidence appends docs to extracted_info.linked_evidence, skipping
// any whose URL is already linked. It returns the docs actually added.
func (ia *IncidentApproval) AddLinkedEvidence(docs []LinkedEvidence, now time.Time) []LinkedEvidence {
	if ia.ExtractedInfo == nil {
		ia.ExtractedInfo = ExtractedInfo{}
	}
	existing := ia.ExtractedInfo.linked()
	seen := make(map[string]bool, len(existing))
	for _, item := range existing {
		if m, ok := item.(map[string]any); ok {
			if u, ok := m["url"].(string); ok {
				seen[u] = true
			}
		}
	}
	var added []LinkedEvidence
	for _, d := range docs {
		if d.URL == "" || seen[d.URL] {
			continue
		}
		seen[d.URL] = true
		added = append(added, d)
		existing = append(existing, d.toMap())
	}
	ia.ExtractedInfo["linked_evidence"] = existing
	ia.UpdatedAt = now
	return added
}

// LinkedEvidenceCount is the number of documents linked so far.
func (ia *IncidentApproval) LinkedEvidenceCount() int {
	return len(ia.ExtractedInfo.linked())
}

func (x ExtractedInfo) linked() []any {
	switch v := x["linked_evidence"].(type) {
	case []any:
		return v
	case []map[string]any:
		out := make([]any, len(v))
		for i := range v {
			out[i] = v[i]
		}
		return out
	}
	return nil
}

// toMap keeps extracted_info a plain JSON document so in-memory and decoded
// rows have the same shape.
func (d LinkedEvidence) toMap() map[string]any {
	m := map[string]any{
		"event_id":    int64(d.EventID),
		"event_title": d.EventTitle,
		"source":      string(d.Source),
		"filename":    d.Filename,
		"url":         d.URL,
		"linked_by":   d.LinkedBy.String(),
		"linked_at":   d.LinkedAt.UTC().Format(time.RFC3339),
	}
	if d.FileType != "" {
		m["file_type"] = d.FileType
	}
	if d.FileSize > 0 {
		m["file_size"] = d.FileSize
	}
	return m
}

// ListFilter narrows ListEvents. Zero values mean "any".
type ListFilter struct {
	TenantID         id.TenantID
	Status           Status
	OwnerID          id.UserID
	ReviewerID       id.UserID
	Category         string
	FrameworkID      *int64
	IncludeTemplates bool
	Limit            int
	Offset           int
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

func (f *ListFilter) Normalize() {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}
