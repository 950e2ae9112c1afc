package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"grc/internal/lifecycle"
	"grc/internal/lifecycle/metrics"
	id "grc/pkg/domain"
	dErrors "grc/pkg/domain-errors"
	audit "grc/pkg/platform/audit"
	"grc/pkg/platform/sentinel"
	"grc/pkg/platform/tracing"
	txcontext "grc/pkg/platform/tx"
	"grc/pkg/requestcontext"
)

type Store interface {
	VendorLookup
	VendorTenant(ctx context.Context, vendorID id.VendorID) (id.TenantID, error)
	ActiveEntry(ctx context.Context, tenantID id.TenantID, vendorID id.VendorID) (*lifecycle.Entry, error)
	ListEntries(ctx context.Context, tenantID id.TenantID, vendorID id.VendorID) ([]*lifecycle.Entry, error)
	InsertEntry(ctx context.Context, e *lifecycle.Entry) error
	EndEntry(ctx context.Context, entryID int64, endedAt time.Time) error
	SetVendorStage(ctx context.Context, tenantID id.TenantID, vendorID id.VendorID, stage lifecycle.StageCode, now time.Time) error
	FindTempVendor(ctx context.Context, tenantID id.TenantID, vendorID id.VendorID, forUpdate bool) (*lifecycle.TempVendor, error)
	MarkMigrated(ctx context.Context, t *lifecycle.TempVendor) error
	VendorCodeExists(ctx context.Context, tenantID id.TenantID, code string) (bool, error)
	InsertVendor(ctx context.Context, v *lifecycle.Vendor) error
	FindVendor(ctx context.Context, tenantID id.TenantID, vendorID id.VendorID) (*lifecycle.Vendor, error)
	InsertContacts(ctx context.Context, contacts []lifecycle.VendorContact) error
	InsertDocuments(ctx context.Context, docs []lifecycle.VendorDocument) error
}

type Questionnaires interface {
	VendorForQuestionnaire(ctx context.Context, tenantID id.TenantID, questionnaireID id.QuestionnaireID) (id.VendorID, error)
	VendorForAssignment(ctx context.Context, tenantID id.TenantID, assignmentID id.AssignmentID) (id.VendorID, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service moves vendors along the lifecycle chain and migrates approved
// vendors to the master tables.
type Service struct {
	store    Store
	tx       txcontext.Runner
	resolver *Resolver
	audit    AuditPublisher
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(s *Service) {
		s.audit = p
	}
}

func New(store Store, tx txcontext.Runner, questionnaires Questionnaires, opts ...Option) *Service {
	s := &Service{store: store, tx: tx, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.resolver = NewResolver(questionnaires, store, s.logger)
	return s
}

// CurrentStage returns the vendor's open lifecycle entry.
func (s *Service) CurrentStage(ctx context.Context, vendorID id.VendorID) (*lifecycle.Entry, error) {
	p, err := s.authorizeVendor(ctx, vendorID)
	if err != nil {
		return nil, err
	}
	e, err := s.store.ActiveEntry(ctx, p.TenantID, vendorID)
	if err != nil {
		return nil, storeErr(err, "active lifecycle stage")
	}
	return e, nil
}

// History returns every lifecycle entry of the vendor, oldest first.
func (s *Service) History(ctx context.Context, vendorID id.VendorID) ([]*lifecycle.Entry, error) {
	p, err := s.authorizeVendor(ctx, vendorID)
	if err != nil {
		return nil, err
	}
	entries, err := s.store.ListEntries(ctx, p.TenantID, vendorID)
	if err != nil {
		return nil, storeErr(err, "lifecycle history")
	}
	return entries, nil
}

// Advance moves a vendor forward to the given stage. Skipped stages are
// recorded as zero-duration entries. Admin only.
func (s *Service) Advance(ctx context.Context, vendorID id.VendorID, to lifecycle.StageCode) (*lifecycle.Transition, error) {
	p, err := s.authorizeVendor(ctx, vendorID)
	if err != nil {
		return nil, err
	}
	if !p.IsAdmin() {
		return nil, dErrors.New(dErrors.CodeForbidden, "admin role required")
	}
	if !to.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "unknown lifecycle stage "+string(to))
	}
	var tr *lifecycle.Transition
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		tr, err = s.move(ctx, p.TenantID, vendorID, to, "", p.UserID)
		return err
	})
	if err != nil {
		return nil, txErr(err, "failed to advance lifecycle")
	}
	return tr, nil
}

// ApprovalStarted puts the vendor in the stage matching a running approval.
// An unidentifiable vendor is logged and ignored.
func (s *Service) ApprovalStarted(ctx context.Context, out lifecycle.ApprovalOutcome) error {
	to, ok := lifecycle.StartStage(out.ApprovalType)
	if !ok {
		return nil
	}
	return s.onApproval(ctx, out, to, "")
}

// ApprovalCompleted closes the stage an APPROVED approval belonged to and
// opens the next one. A missing prior entry is back-filled so the history
// stays complete.
func (s *Service) ApprovalCompleted(ctx context.Context, out lifecycle.ApprovalOutcome) error {
	from, to, ok := lifecycle.Completion(out.ApprovalType)
	if !ok {
		return nil
	}
	return s.onApproval(ctx, out, to, from)
}

func (s *Service) onApproval(ctx context.Context, out lifecycle.ApprovalOutcome, to, prior lifecycle.StageCode) error {
	vendorID, ok, err := s.resolve(ctx, out)
	if err != nil || !ok {
		return err
	}
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		_, err := s.move(ctx, out.TenantID, vendorID, to, prior, out.ActorID)
		return err
	})
	if dErrors.HasCode(err, dErrors.CodeStateConflict) {
		s.logger.InfoContext(ctx, "lifecycle.skipped",
			"tenant_id", out.TenantID.String(),
			"vendor_id", int64(vendorID),
			"approval_id", out.ApprovalID.String(),
			"reason", dErrors.MessageOf(err),
		)
		return nil
	}
	if err != nil {
		return txErr(err, "failed to update vendor lifecycle")
	}
	return nil
}

// resolve finds the approval's vendor and checks it belongs to the
// approval's tenant. ok is false when no hint identifies a vendor.
func (s *Service) resolve(ctx context.Context, out lifecycle.ApprovalOutcome) (id.VendorID, bool, error) {
	vendorID, hint, ok := s.resolver.Resolve(ctx, out.TenantID, out.Ref)
	if !ok {
		s.metrics.IncrementUnresolved(out.ApprovalType)
		s.logger.WarnContext(ctx, "lifecycle.unresolved",
			"tenant_id", out.TenantID.String(),
			"approval_id", out.ApprovalID.String(),
			"approval_type", out.ApprovalType,
			"request_id", requestcontext.RequestID(ctx),
		)
		return 0, false, nil
	}
	tenantID, err := s.store.VendorTenant(ctx, vendorID)
	if errors.Is(err, sentinel.ErrNotFound) {
		s.metrics.IncrementUnresolved(out.ApprovalType)
		s.logger.WarnContext(ctx, "lifecycle.unresolved",
			"tenant_id", out.TenantID.String(),
			"approval_id", out.ApprovalID.String(),
			"vendor_id", int64(vendorID),
			"hint", hint,
			"reason", "staging vendor not found",
		)
		return 0, false, nil
	}
	if err != nil {
		return 0, false, storeErr(err, "vendor")
	}
	if tenantID != out.TenantID {
		return 0, false, dErrors.New(dErrors.CodeTenantIsolation, "vendor belongs to another tenant")
	}
	return vendorID, true, nil
}

// move runs inside the caller's transaction. prior is back-filled as a
// zero-duration entry when the vendor has no open entry.
func (s *Service) move(ctx context.Context, tenantID id.TenantID, vendorID id.VendorID, to, prior lifecycle.StageCode, actor id.UserID) (*lifecycle.Transition, error) {
	now := requestcontext.Now(ctx)
	tr := &lifecycle.Transition{VendorID: vendorID, To: to}

	active, err := s.store.ActiveEntry(ctx, tenantID, vendorID)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return nil, storeErr(err, "active lifecycle stage")
	}
	if active != nil {
		tr.From = active.Stage
		if active.Stage == to {
			return tr, nil
		}
		if !active.Stage.Before(to) {
			return nil, dErrors.New(dErrors.CodeStateConflict,
				fmt.Sprintf("vendor is already at %s and cannot move back to %s", active.Stage, to))
		}
		if err := s.store.EndEntry(ctx, active.ID, now); err != nil {
			return nil, storeErr(err, "active lifecycle stage")
		}
		tr.Historical = lifecycle.Between(active.Stage, to)
	} else if prior != "" && prior != to {
		tr.Historical = []lifecycle.StageCode{prior}
	}

	for _, stage := range tr.Historical {
		if err := s.store.InsertEntry(ctx, lifecycle.NewHistoricalEntry(tenantID, vendorID, stage, now)); err != nil {
			return nil, storeErr(err, "lifecycle entry")
		}
	}
	if err := s.store.InsertEntry(ctx, lifecycle.NewEntry(tenantID, vendorID, to, now)); err != nil {
		return nil, storeErr(err, "lifecycle entry")
	}
	if err := s.store.SetVendorStage(ctx, tenantID, vendorID, to, now); err != nil {
		return nil, storeErr(err, "vendor")
	}
	tr.Changed = true

	historical := make([]string, len(tr.Historical))
	for i, h := range tr.Historical {
		historical[i] = string(h)
	}
	if err := s.emit(ctx, tenantID, actor, audit.EventLifecycleAdvanced, vendorID, map[string]any{
		"from":       string(tr.From),
		"to":         string(to),
		"historical": historical,
	}); err != nil {
		return nil, err
	}
	s.metrics.IncrementTransition(string(tr.From), string(to))
	s.logger.InfoContext(ctx, string(audit.EventLifecycleAdvanced),
		"tenant_id", tenantID.String(),
		"vendor_id", int64(vendorID),
		"from", string(tr.From),
		"to", string(to),
		"request_id", requestcontext.RequestID(ctx),
	)
	return tr, nil
}

// MigrateVendor copies an approved staging vendor into the master tables.
// Admin only.
func (s *Service) MigrateVendor(ctx context.Context, vendorID id.VendorID) (*lifecycle.Migration, error) {
	p, err := s.authorizeVendor(ctx, vendorID)
	if err != nil {
		return nil, err
	}
	if !p.IsAdmin() {
		return nil, dErrors.New(dErrors.CodeForbidden, "admin role required")
	}
	return s.migrate(ctx, p.TenantID, vendorID, p.UserID)
}

// MigrateForApproval migrates the vendor of an approved final vendor
// approval.
func (s *Service) MigrateForApproval(ctx context.Context, out lifecycle.ApprovalOutcome) error {
	if out.ApprovalType != lifecycle.ApprovalFinalVendor {
		return nil
	}
	vendorID, ok, err := s.resolve(ctx, out)
	if err != nil || !ok {
		return err
	}
	_, err = s.migrate(ctx, out.TenantID, vendorID, out.ActorID)
	return err
}

// migrate is one transaction: a duplicate vendor code or an already migrated
// staging row aborts it before anything is written.
func (s *Service) migrate(ctx context.Context, tenantID id.TenantID, vendorID id.VendorID, actor id.UserID) (result *lifecycle.Migration, err error) {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "lifecycle.MigrateVendor",
		attribute.String("tenant_id", tenantID.String()),
		attribute.Int64("vendor_id", int64(vendorID)),
	)
	defer func() {
		s.metrics.ObserveMigration(start, err)
		tracing.End(span, err)
	}()

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		tv, err := s.store.FindTempVendor(ctx, tenantID, vendorID, true)
		if err != nil {
			return storeErr(err, "staging vendor")
		}
		if err := tv.CanMigrate(); err != nil {
			return dErrors.New(dErrors.CodeConflict, dErrors.MessageOf(err))
		}
		exists, err := s.store.VendorCodeExists(ctx, tenantID, tv.Code)
		if err != nil {
			return storeErr(err, "vendor")
		}
		if exists {
			return dErrors.New(dErrors.CodeConflict, "vendor code "+tv.Code+" already exists")
		}

		now := requestcontext.Now(ctx)
		v := lifecycle.NewVendorFrom(tv, actor, now)
		if err := s.store.InsertVendor(ctx, v); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.Wrap(err, dErrors.CodeConflict, "vendor code "+tv.Code+" already exists")
			}
			return storeErr(err, "vendor")
		}
		contacts, docs := lifecycle.MasterRecords(v, tv, now)
		if err := s.store.InsertContacts(ctx, contacts); err != nil {
			return storeErr(err, "vendor contacts")
		}
		if err := s.store.InsertDocuments(ctx, docs); err != nil {
			return storeErr(err, "vendor documents")
		}
		tv.ApplyMigrated(now)
		if err := s.store.MarkMigrated(ctx, tv); err != nil {
			if errors.Is(err, sentinel.ErrInvalidState) {
				return dErrors.New(dErrors.CodeConflict, "vendor "+tv.Code+" has already been migrated")
			}
			return storeErr(err, "staging vendor")
		}

		result = &lifecycle.Migration{
			VendorID:          v.ID,
			TempVendorID:      tv.ID,
			VendorCode:        v.Code,
			ContactsMigrated:  len(contacts),
			DocumentsMigrated: len(docs),
		}
		return s.emit(ctx, tenantID, actor, audit.EventVendorMigrated, v.ID, map[string]any{
			"temp_vendor_id":     int64(tv.ID),
			"vendor_code":        v.Code,
			"contacts_migrated":  len(contacts),
			"documents_migrated": len(docs),
		})
	})
	if err != nil {
		s.logger.WarnContext(ctx, "vendor migration failed",
			"tenant_id", tenantID.String(),
			"vendor_id", int64(vendorID),
			"error", err,
		)
		return nil, txErr(err, "failed to migrate vendor")
	}
	s.logger.InfoContext(ctx, string(audit.EventVendorMigrated),
		"tenant_id", tenantID.String(),
		"temp_vendor_id", int64(vendorID),
		"vendor_id", int64(result.VendorID),
		"vendor_code", result.VendorCode,
		"request_id", requestcontext.RequestID(ctx),
	)
	return result, nil
}

func (s *Service) authorizeVendor(ctx context.Context, vendorID id.VendorID) (requestcontext.Principal, error) {
	p, ok := requestcontext.PrincipalFrom(ctx)
	if !ok || p.TenantID.IsNil() {
		return requestcontext.Principal{}, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	tenantID, err := s.store.VendorTenant(ctx, vendorID)
	if err != nil {
		return p, storeErr(err, "vendor")
	}
	if tenantID != p.TenantID {
		return p, dErrors.New(dErrors.CodeTenantIsolation, "vendor belongs to another tenant")
	}
	return p, nil
}

func (s *Service) emit(ctx context.Context, tenantID id.TenantID, actor id.UserID, name audit.EventName, vendorID id.VendorID, payload map[string]any) error {
	if s.audit == nil {
		return nil
	}
	return s.audit.Emit(ctx, audit.Event{
		TenantID:      tenantID,
		Name:          name,
		AggregateType: audit.AggregateVendor,
		AggregateID:   vendorID.String(),
		ActorID:       actor,
		Payload:       payload,
	})
}

func storeErr(err error, what string) error {
	var de *dErrors.Error
	switch {
	case errors.As(err, &de):
		return err
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, what+" not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, what+" changed concurrently, retry")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load "+what)
	}
}

func txErr(err error, msg string) error {
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	if errors.Is(err, sentinel.ErrConflict) {
		return dErrors.Wrap(err, dErrors.CodeConflict, "vendor changed concurrently, retry")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}
