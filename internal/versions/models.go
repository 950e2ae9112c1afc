// Package versions is the append-only version chain kept for every approval
// request. Each approval has versions numbered 1..n with exactly one current
// version; a new version always becomes current and points at the version it
// replaced.
package versions

import (
	"encoding/json"
	"maps"
	"reflect"
	"slices"
	"strings"
	"time"

	id "grc/pkg/domain"
	dErrors "grc/pkg/domain-errors"
)

type VersionType string

const (
	TypeInitial       VersionType = "INITIAL"
	TypeRevision      VersionType = "REVISION"
	TypeConsolidation VersionType = "CONSOLIDATION"
	TypeFinal         VersionType = "FINAL"
)

func (t VersionType) IsValid() bool {
	switch t {
	case TypeInitial, TypeRevision, TypeConsolidation, TypeFinal:
		return true
	}
	return false
}

// Version is one immutable snapshot of an approval's request data.
type Version struct {
	ID             id.VersionID   `json:"version_id"`
	ApprovalID     id.ApprovalID  `json:"approval_id"`
	TenantID       id.TenantID    `json:"tenant_id"`
	Number         int            `json:"version_number"`
	Label          string         `json:"version_label"`
	Type           VersionType    `json:"version_type"`
	Payload        map[string]any `json:"json_payload"`
	ChangesSummary string         `json:"changes_summary"`
	ChangeReason   string         `json:"change_reason"`
	CreatedBy      id.UserID      `json:"created_by"`
	CreatedByName  string         `json:"created_by_name"`
	CreatedByRole  string         `json:"created_by_role"`
	ParentID       *id.VersionID  `json:"parent_version_id"`
	IsCurrent      bool           `json:"is_current"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Actor identifies who authored a version.
type Actor struct {
	ID   id.UserID
	Name string
	Role string
}

// AppendRequest describes a version to append. Number, parent and current
// flag are assigned by the store.
type AppendRequest struct {
	TenantID   id.TenantID
	ApprovalID id.ApprovalID
	Type       VersionType
	Label      string
	Payload    map[string]any
	Summary    string
	Reason     string
	Actor      Actor
}

func (r *AppendRequest) Validate() error {
	if r.TenantID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "tenant_id is required")
	}
	if r.ApprovalID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "approval_id is required")
	}
	if !r.Type.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "invalid version_type")
	}
	if strings.TrimSpace(r.Label) == "" {
		return dErrors.New(dErrors.CodeValidation, "version_label is required")
	}
	if r.Actor.ID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "version author is required")
	}
	return nil
}

// History is the lineage of an approval walked from the current version back
// to the first, newest first.
type History struct {
	ApprovalID     id.ApprovalID `json:"approval_id"`
	CurrentVersion int           `json:"current_version"`
	TotalVersions  int           `json:"total_versions"`
	Versions       []*Version    `json:"versions"`
}

// Diff lists the top-level payload keys that differ between two versions.
type Diff struct {
	From    int      `json:"from_version"`
	To      int      `json:"to_version"`
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
	Changed []string `json:"changed"`
}

// ComparePayloads reports keys present only in to (added), only in from
// (removed), and present in both with different values (changed). Key lists
// are sorted.
func ComparePayloads(from, to map[string]any) (added, removed, changed []string) {
	added, removed, changed = []string{}, []string{}, []string{}
	for _, k := range slices.Sorted(maps.Keys(to)) {
		old, ok := from[k]
		if !ok {
			added = append(added, k)
			continue
		}
		if !reflect.DeepEqual(old, to[k]) {
			changed = append(changed, k)
		}
	}
	for _, k := range slices.Sorted(maps.Keys(from)) {
		if _, ok := to[k]; !ok {
			removed = append(removed, k)
		}
	}
	return added, removed, changed
}

// ClonePayload deep-copies a JSON-shaped payload so stored snapshots never
// alias caller maps.
func ClonePayload(p map[string]any) map[string]any {
	if p == nil {
		return map[string]any{}
	}
	b, err := json.Marshal(p)
	if err != nil {
		return maps.Clone(p)
	}
	out := map[string]any{}
	if err := json.Unmarshal(b, &out); err != nil {
		return maps.Clone(p)
	}
	return out
}
