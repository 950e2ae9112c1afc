// Package lifecycle tracks a vendor's progression through the onboarding
// stages and moves approved vendors from staging into the master tables.
package lifecycle

import (
	"strings"
	"time"

	id "grc/pkg/domain"
	dErrors "grc/pkg/domain-errors"
)

// StageCode identifies a lifecycle stage. Stages form a single forward chain.
type StageCode string

const (
	StageIntake    StageCode = "INTAKE"
	StageQuesApp   StageCode = "QUES_APP"
	StageQuesRes   StageCode = "QUES_RES"
	StageResApp    StageCode = "RES_APP"
	StageVenApp    StageCode = "VEN_APP"
	StageOnboarded StageCode = "ONBOARDED"
)

var chain = []StageCode{StageIntake, StageQuesApp, StageQuesRes, StageResApp, StageVenApp, StageOnboarded}

var stageNames = map[StageCode]string{
	StageIntake:    "Intake",
	StageQuesApp:   "Questionnaire Approval",
	StageQuesRes:   "Questionnaire Response",
	StageResApp:    "Response Approval",
	StageVenApp:    "Vendor Approval",
	StageOnboarded: "Onboarded",
}

// Stages returns the chain in order.
func Stages() []StageCode {
	out := make([]StageCode, len(chain))
	copy(out, chain)
	return out
}

func ParseStage(s string) (StageCode, error) {
	code := StageCode(strings.ToUpper(strings.TrimSpace(s)))
	if !code.IsValid() {
		return "", dErrors.New(dErrors.CodeValidation, "unknown lifecycle stage "+s)
	}
	return code, nil
}

func (c StageCode) IsValid() bool { return c.order() > 0 }

func (c StageCode) Name() string { return stageNames[c] }

// order is the 1-based position in the chain, 0 when unknown.
func (c StageCode) order() int {
	for i, s := range chain {
		if s == c {
			return i + 1
		}
	}
	return 0
}

func (c StageCode) Before(other StageCode) bool { return c.order() < other.order() }

// Next returns the following stage, or "" at the end of the chain.
func (c StageCode) Next() StageCode {
	o := c.order()
	if o == 0 || o == len(chain) {
		return ""
	}
	return chain[o]
}

// Between returns the stages strictly between from and to.
func Between(from, to StageCode) []StageCode {
	lo, hi := from.order(), to.order()
	if lo == 0 || hi == 0 || hi-lo < 2 {
		return nil
	}
	return append([]StageCode(nil), chain[lo:hi-1]...)
}

// Entry is one visit of a vendor to a stage. An entry with a nil EndedAt is
// the vendor's active stage; there is at most one per vendor.
type Entry struct {
	ID        int64       `json:"entry_id"`
	TenantID  id.TenantID `json:"tenant_id"`
	VendorID  id.VendorID `json:"vendor_id"`
	Stage     StageCode   `json:"lifecycle_stage"`
	StartedAt time.Time   `json:"started_at"`
	EndedAt   *time.Time  `json:"ended_at"`
}

func NewEntry(tenantID id.TenantID, vendorID id.VendorID, stage StageCode, now time.Time) *Entry {
	return &Entry{TenantID: tenantID, VendorID: vendorID, Stage: stage, StartedAt: now}
}

// NewHistoricalEntry records a stage the vendor passed through without an
// entry of its own. It starts and ends at now.
func NewHistoricalEntry(tenantID id.TenantID, vendorID id.VendorID, stage StageCode, now time.Time) *Entry {
	e := NewEntry(tenantID, vendorID, stage, now)
	e.EndedAt = &now
	return e
}

func (e *Entry) IsActive() bool { return e.EndedAt == nil }

func (e *Entry) End(now time.Time) {
	e.EndedAt = &now
}

// Duration is the time spent in the stage so far, or in total once ended.
func (e *Entry) Duration(now time.Time) time.Duration {
	if e.EndedAt != nil {
		return e.EndedAt.Sub(e.StartedAt)
	}
	return now.Sub(e.StartedAt)
}

// Transition is the outcome of moving a vendor between stages.
type Transition struct {
	VendorID   id.VendorID `json:"vendor_id"`
	From       StageCode   `json:"from,omitempty"`
	To         StageCode   `json:"to"`
	Historical []StageCode `json:"historical,omitempty"`
	Changed    bool        `json:"changed"`
}

const (
	TempStatusPending  = "PENDING"
	TempStatusMigrated = "MIGRATED"

	VendorStatusApproved   = "APPROVED"
	DocumentStatusApproved = "APPROVED"
)

// Contact is a vendor contact as captured on the staging record.
type Contact struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Role      string `json:"role"`
	IsPrimary bool   `json:"is_primary"`
}

// Document is a vendor document as captured on the staging record.
type Document struct {
	Name       string     `json:"document_name"`
	Type       string     `json:"document_type"`
	S3URL      string     `json:"s3_url"`
	UploadedAt *time.Time `json:"uploaded_at,omitempty"`
}

// TempVendor is the staging record a vendor lives in while under review.
type TempVendor struct {
	ID             id.VendorID `json:"vendor_id"`
	TenantID       id.TenantID `json:"tenant_id"`
	Code           string      `json:"vendor_code"`
	CompanyName    string      `json:"company_name"`
	LegalName      string      `json:"legal_name"`
	BusinessType   string      `json:"business_type"`
	Industry       string      `json:"industry"`
	Website        string      `json:"website"`
	Country        string      `json:"country"`
	RiskLevel      string      `json:"risk_level"`
	Status         string      `json:"status"`
	LifecycleStage StageCode   `json:"lifecycle_stage,omitempty"`
	Contacts       []Contact   `json:"contacts"`
	Documents      []Document  `json:"documents"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
	MigratedAt     *time.Time  `json:"migrated_at,omitempty"`
}

// CanMigrate reports whether the staging record may still be copied to the
// master tables.
func (t *TempVendor) CanMigrate() error {
	if t.Status == TempStatusMigrated {
		return dErrors.New(dErrors.CodeInvariantViolation, "vendor "+t.Code+" has already been migrated")
	}
	if strings.TrimSpace(t.Code) == "" {
		return dErrors.New(dErrors.CodeInvariantViolation, "staging vendor has no vendor_code")
	}
	return nil
}

func (t *TempVendor) ApplyMigrated(now time.Time) {
	t.Status = TempStatusMigrated
	t.MigratedAt = &now
	t.UpdatedAt = now
}

// Vendor is a master vendor record.
type Vendor struct {
	ID                 id.VendorID `json:"vendor_id"`
	TenantID           id.TenantID `json:"tenant_id"`
	Code               string      `json:"vendor_code"`
	CompanyName        string      `json:"company_name"`
	LegalName          string      `json:"legal_name"`
	BusinessType       string      `json:"business_type"`
	Industry           string      `json:"industry"`
	Website            string      `json:"website"`
	Country            string      `json:"country"`
	RiskLevel          string      `json:"risk_level"`
	Status             string      `json:"status"`
	LifecycleStage     StageCode   `json:"lifecycle_stage"`
	OnboardingDate     time.Time   `json:"onboarding_date"`
	SourceTempVendorID id.VendorID `json:"source_temp_vendor_id"`
	CreatedBy          id.UserID   `json:"created_by"`
	CreatedAt          time.Time   `json:"created_at"`
}

// NewVendorFrom builds the approved master record for a staging vendor.
func NewVendorFrom(t *TempVendor, createdBy id.UserID, now time.Time) *Vendor {
	y, m, d := now.Date()
	return &Vendor{
		TenantID:           t.TenantID,
		Code:               t.Code,
		CompanyName:        t.CompanyName,
		LegalName:          t.LegalName,
		BusinessType:       t.BusinessType,
		Industry:           t.Industry,
		Website:            t.Website,
		Country:            t.Country,
		RiskLevel:          t.RiskLevel,
		Status:             VendorStatusApproved,
		LifecycleStage:     StageOnboarded,
		OnboardingDate:     time.Date(y, m, d, 0, 0, 0, 0, now.Location()),
		SourceTempVendorID: t.ID,
		CreatedBy:          createdBy,
		CreatedAt:          now,
	}
}

type VendorContact struct {
	ID       int64       `json:"contact_id"`
	VendorID id.VendorID `json:"vendor_id"`
	TenantID id.TenantID `json:"tenant_id"`
	Contact
}

type VendorDocument struct {
	ID           int64       `json:"document_id"`
	VendorID     id.VendorID `json:"vendor_id"`
	TenantID     id.TenantID `json:"tenant_id"`
	Status       string      `json:"status"`
	ApprovalDate *time.Time  `json:"approval_date"`
	Document
}

// MasterRecords copies the staging contacts and documents onto the master
// vendor. Documents are approved as of now.
func MasterRecords(v *Vendor, t *TempVendor, now time.Time) ([]VendorContact, []VendorDocument) {
	contacts := make([]VendorContact, 0, len(t.Contacts))
	for _, c := range t.Contacts {
		contacts = append(contacts, VendorContact{VendorID: v.ID, TenantID: v.TenantID, Contact: c})
	}
	docs := make([]VendorDocument, 0, len(t.Documents))
	for _, d := range t.Documents {
		approved := now
		docs = append(docs, VendorDocument{
			VendorID:     v.ID,
			TenantID:     v.TenantID,
			Status:       DocumentStatusApproved,
			ApprovalDate: &approved,
			Document:     d,
		})
	}
	return contacts, docs
}

// Migration summarises a completed staging-to-master move.
type Migration struct {
	VendorID          id.VendorID `json:"vendor_id"`
	TempVendorID      id.VendorID `json:"temp_vendor_id"`
	VendorCode        string      `json:"vendor_code"`
	ContactsMigrated  int         `json:"contacts_migrated"`
	DocumentsMigrated int         `json:"documents_migrated"`
}

// ApprovalOutcome is what the lifecycle needs to know about an approval
// that started or completed.
type ApprovalOutcome struct {
	TenantID     id.TenantID
	ApprovalID   id.ApprovalID
	ApprovalType string
	Ref          VendorRef
	ActorID      id.UserID
}

// VendorRef carries every hint that can identify the vendor an approval is
// about, in resolution order.
type VendorRef struct {
	VendorID        *id.VendorID
	QuestionnaireID *id.QuestionnaireID
	AssignmentID    *id.AssignmentID
	Texts           []string
}

const (
	ApprovalQuestionnaire = "questionnaire_approval"
	ApprovalResponse      = "response_approval"
	ApprovalVendor        = "vendor_approval"
	ApprovalFinalVendor   = "final_vendor_approval"
)

// startStages maps an approval type to the stage a vendor enters while the
// approval is running.
var startStages = map[string]StageCode{
	ApprovalQuestionnaire: StageQuesApp,
	ApprovalResponse:      StageResApp,
	ApprovalVendor:        StageVenApp,
	ApprovalFinalVendor:   StageVenApp,
}

// completions maps an approval type to the stage that ends and the stage
// that opens when the approval is APPROVED.
var completions = map[string][2]StageCode{
	ApprovalQuestionnaire: {StageQuesApp, StageQuesRes},
	ApprovalResponse:      {StageResApp, StageVenApp},
	ApprovalVendor:        {StageVenApp, StageOnboarded},
	ApprovalFinalVendor:   {StageVenApp, StageOnboarded},
}

// StartStage returns the stage an approval of this type puts the vendor in.
func StartStage(approvalType string) (StageCode, bool) {
	s, ok := startStages[approvalType]
	return s, ok
}

// Completion returns the stage an approval of this type closes and the one it
// opens.
func Completion(approvalType string) (from, to StageCode, ok bool) {
	c, ok := completions[approvalType]
	return c[0], c[1], ok
}
