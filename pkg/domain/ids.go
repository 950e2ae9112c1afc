package domain

import (
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	dErrors "grc/pkg/domain-errors"
)

// UUID-backed identifiers owned by the primary database.
type (
	TenantID   uuid.UUID
	UserID     uuid.UUID
	WorkflowID uuid.UUID
	ApprovalID uuid.UUID
	StageID    uuid.UUID
	VersionID  uuid.UUID
)

// Sequence-backed identifiers. The TPRM tables and the legacy GRC tables
// (events, incidents, file operations) use BIGSERIAL keys.
type (
	VendorID        int64
	QuestionnaireID int64
	AssignmentID    int64
	QuestionID      int64
	EventID         int64
	IncidentID      int64
	FileOperationID int64
)

func parseUUID(kind, s string) (uuid.UUID, error) {
	if strings.TrimSpace(s) == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" cannot be nil")
	}
	return u, nil
}

func parseSerial(kind, s string) (int64, error) {
	if strings.TrimSpace(s) == "" {
		return 0, dErrors.New(dErrors.CodeInvalidInput, kind+" is required")
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind)
	}
	return n, nil
}

func ParseTenantID(s string) (TenantID, error) {
	u, err := parseUUID("tenant ID", s)
	return TenantID(u), err
}

func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID("user ID", s)
	return UserID(u), err
}

func ParseWorkflowID(s string) (WorkflowID, error) {
	u, err := parseUUID("workflow ID", s)
	return WorkflowID(u), err
}

func ParseApprovalID(s string) (ApprovalID, error) {
	u, err := parseUUID("approval ID", s)
	return ApprovalID(u), err
}

func ParseStageID(s string) (StageID, error) {
	u, err := parseUUID("stage ID", s)
	return StageID(u), err
}

func ParseVersionID(s string) (VersionID, error) {
	u, err := parseUUID("version ID", s)
	return VersionID(u), err
}

func ParseVendorID(s string) (VendorID, error) {
	n, err := parseSerial("vendor ID", s)
	return VendorID(n), err
}

func ParseEventID(s string) (EventID, error) {
	n, err := parseSerial("event ID", s)
	return EventID(n), err
}

func ParseIncidentID(s string) (IncidentID, error) {
	n, err := parseSerial("incident ID", s)
	return IncidentID(n), err
}

func (id TenantID) String() string   { return uuid.UUID(id).String() }
func (id UserID) String() string     { return uuid.UUID(id).String() }
func (id WorkflowID) String() string { return uuid.UUID(id).String() }
func (id ApprovalID) String() string { return uuid.UUID(id).String() }
func (id StageID) String() string    { return uuid.UUID(id).String() }
func (id VersionID) String() string  { return uuid.UUID(id).String() }

func (id TenantID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id UserID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id WorkflowID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id ApprovalID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id StageID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id VersionID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }

func (id VendorID) String() string        { return strconv.FormatInt(int64(id), 10) }
func (id QuestionnaireID) String() string { return strconv.FormatInt(int64(id), 10) }
func (id AssignmentID) String() string    { return strconv.FormatInt(int64(id), 10) }
func (id QuestionID) String() string      { return strconv.FormatInt(int64(id), 10) }
func (id EventID) String() string         { return strconv.FormatInt(int64(id), 10) }
func (id IncidentID) String() string      { return strconv.FormatInt(int64(id), 10) }
func (id FileOperationID) String() string { return strconv.FormatInt(int64(id), 10) }

// JSON encoding renders UUID identifiers in canonical string form.

func (id TenantID) MarshalText() ([]byte, error)   { return uuid.UUID(id).MarshalText() }
func (id UserID) MarshalText() ([]byte, error)     { return uuid.UUID(id).MarshalText() }
func (id WorkflowID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id ApprovalID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id StageID) MarshalText() ([]byte, error)    { return uuid.UUID(id).MarshalText() }
func (id VersionID) MarshalText() ([]byte, error)  { return uuid.UUID(id).MarshalText() }

func (id *TenantID) UnmarshalText(b []byte) error   { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *UserID) UnmarshalText(b []byte) error     { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *WorkflowID) UnmarshalText(b []byte) error { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *ApprovalID) UnmarshalText(b []byte) error { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *StageID) UnmarshalText(b []byte) error    { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *VersionID) UnmarshalText(b []byte) error  { return (*uuid.UUID)(id).UnmarshalText(b) }

// database/sql integration. Named array types lose uuid.UUID's Scanner and
// Valuer, so each identifier forwards to it explicitly.

func scanUUID(dst *uuid.UUID, src any) error {
	if src == nil {
		*dst = uuid.Nil
		return nil
	}
	if err := dst.Scan(src); err != nil {
		return fmt.Errorf("scan uuid: %w", err)
	}
	return nil
}

func (id *TenantID) Scan(src any) error   { return scanUUID((*uuid.UUID)(id), src) }
func (id *UserID) Scan(src any) error     { return scanUUID((*uuid.UUID)(id), src) }
func (id *WorkflowID) Scan(src any) error { return scanUUID((*uuid.UUID)(id), src) }
func (id *ApprovalID) Scan(src any) error { return scanUUID((*uuid.UUID)(id), src) }
func (id *StageID) Scan(src any) error    { return scanUUID((*uuid.UUID)(id), src) }
func (id *VersionID) Scan(src any) error  { return scanUUID((*uuid.UUID)(id), src) }

func (id TenantID) Value() (driver.Value, error)   { return uuid.UUID(id).String(), nil }
func (id UserID) Value() (driver.Value, error)     { return uuid.UUID(id).String(), nil }
func (id WorkflowID) Value() (driver.Value, error) { return uuid.UUID(id).String(), nil }
func (id ApprovalID) Value() (driver.Value, error) { return uuid.UUID(id).String(), nil }
func (id StageID) Value() (driver.Value, error)    { return uuid.UUID(id).String(), nil }
func (id VersionID) Value() (driver.Value, error)  { return uuid.UUID(id).String(), nil }

func NewTenantID() TenantID     { return TenantID(uuid.New()) }
func NewUserID() UserID         { return UserID(uuid.New()) }
func NewWorkflowID() WorkflowID { return WorkflowID(uuid.New()) }
func NewApprovalID() ApprovalID { return ApprovalID(uuid.New()) }
func NewStageID() StageID       { return StageID(uuid.New()) }
func NewVersionID() VersionID   { return VersionID(uuid.New()) }
