package service

import (
	"context"
	"errors"
	"log/slog"
	"regexp"

	"grc/internal/lifecycle"
	id "grc/pkg/domain"
	"grc/pkg/platform/sentinel"
)

var vendorCodePattern = regexp.MustCompile(`VEND\d+|VEN\d+`)

// Resolver locates the staging vendor an approval is about. Hints are tried
// in order: the id carried on the request, the questionnaire, the
// questionnaire assignment, then vendor codes mentioned in free text.
type Resolver struct {
	questionnaires Questionnaires
	vendors        VendorLookup
	logger         *slog.Logger
}

// VendorLookup finds staging vendors by code within a tenant.
type VendorLookup interface {
	FindTempVendorByCode(ctx context.Context, tenantID id.TenantID, code string) (*lifecycle.TempVendor, error)
}

func NewResolver(questionnaires Questionnaires, vendors VendorLookup, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{questionnaires: questionnaires, vendors: vendors, logger: logger}
}

// Resolve returns the vendor and the hint that produced it. Lookup errors
// other than not-found are logged and the next hint is tried.
func (r *Resolver) Resolve(ctx context.Context, tenantID id.TenantID, ref lifecycle.VendorRef) (id.VendorID, string, bool) {
	if ref.VendorID != nil && *ref.VendorID > 0 {
		return *ref.VendorID, "request_data", true
	}
	if r.questionnaires != nil {
		if ref.QuestionnaireID != nil {
			vendorID, err := r.questionnaires.VendorForQuestionnaire(ctx, tenantID, *ref.QuestionnaireID)
			if r.usable(ctx, "questionnaire", err) {
				return vendorID, "questionnaire", true
			}
		}
		if ref.AssignmentID != nil {
			vendorID, err := r.questionnaires.VendorForAssignment(ctx, tenantID, *ref.AssignmentID)
			if r.usable(ctx, "assignment", err) {
				return vendorID, "assignment", true
			}
		}
	}
	if r.vendors == nil {
		return 0, "", false
	}
	for _, text := range ref.Texts {
		for _, code := range vendorCodePattern.FindAllString(text, -1) {
			tv, err := r.vendors.FindTempVendorByCode(ctx, tenantID, code)
			if r.usable(ctx, "vendor_code", err) {
				return tv.ID, "vendor_code", true
			}
		}
	}
	return 0, "", false
}

func (r *Resolver) usable(ctx context.Context, hint string, err error) bool {
	if err == nil {
		return true
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		r.logger.WarnContext(ctx, "vendor lookup failed", "hint", hint, "error", err)
	}
	return false
}
