package versions

import (
	"context"
	"errors"
	"log/slog"

	id "grc/pkg/domain"
	dErrors "grc/pkg/domain-errors"
	audit "grc/pkg/platform/audit"
	"grc/pkg/platform/sentinel"
	txcontext "grc/pkg/platform/tx"
	"grc/pkg/requestcontext"
)

type Store interface {
	Append(ctx context.Context, v *Version) error
	ListByApproval(ctx context.Context, approvalID id.ApprovalID) ([]*Version, error)
	FindCurrent(ctx context.Context, approvalID id.ApprovalID) (*Version, error)
	FindByID(ctx context.Context, versionID id.VersionID) (*Version, error)
}

// Approvals resolves the owning tenant of an approval. With forUpdate set the
// approval row stays locked until the surrounding transaction ends.
type Approvals interface {
	ApprovalTenant(ctx context.Context, approvalID id.ApprovalID, forUpdate bool) (id.TenantID, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service appends and reads version chains. Every operation is scoped to the
// caller's tenant.
type Service struct {
	store     Store
	approvals Approvals
	tx        txcontext.Runner
	audit     AuditPublisher
	logger    *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.audit = publisher
	}
}

func NewService(store Store, approvals Approvals, tx txcontext.Runner, opts ...Option) *Service {
	s := &Service{store: store, approvals: approvals, tx: tx, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AppendVersion adds a version to the approval's chain and makes it current.
// When called inside an existing transaction it joins it, so the append
// commits or rolls back with the caller's state change.
func (s *Service) AppendVersion(ctx context.Context, req AppendRequest) (*Version, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	v := &Version{
		ID:             id.NewVersionID(),
		ApprovalID:     req.ApprovalID,
		TenantID:       req.TenantID,
		Label:          req.Label,
		Type:           req.Type,
		Payload:        ClonePayload(req.Payload),
		ChangesSummary: req.Summary,
		ChangeReason:   req.Reason,
		CreatedBy:      req.Actor.ID,
		CreatedByName:  req.Actor.Name,
		CreatedByRole:  req.Actor.Role,
		CreatedAt:      requestcontext.Now(ctx),
	}

	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.authorize(ctx, req.TenantID, req.ApprovalID, true); err != nil {
			return err
		}
		if err := s.store.Append(ctx, v); err != nil {
			return err
		}
		if s.audit == nil {
			return nil
		}
		return s.audit.Emit(ctx, audit.Event{
			TenantID:      v.TenantID,
			Name:          audit.EventVersionAppended,
			AggregateType: audit.AggregateApproval,
			AggregateID:   v.ApprovalID.String(),
			ActorID:       v.CreatedBy,
			Payload: map[string]any{
				"version_id":     v.ID.String(),
				"version_number": v.Number,
				"version_type":   string(v.Type),
				"version_label":  v.Label,
			},
		})
	})
	if err != nil {
		return nil, translate(err, "failed to append version")
	}
	return v, nil
}

// ListVersions returns the approval's versions ordered by number.
func (s *Service) ListVersions(ctx context.Context, tenantID id.TenantID, approvalID id.ApprovalID) ([]*Version, error) {
	if err := s.authorize(ctx, tenantID, approvalID, false); err != nil {
		return nil, err
	}
	list, err := s.store.ListByApproval(ctx, approvalID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list versions")
	}
	return list, nil
}

func (s *Service) GetCurrent(ctx context.Context, tenantID id.TenantID, approvalID id.ApprovalID) (*Version, error) {
	if err := s.authorize(ctx, tenantID, approvalID, false); err != nil {
		return nil, err
	}
	v, err := s.store.FindCurrent(ctx, approvalID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "approval has no versions")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load current version")
	}
	return v, nil
}

// GetHistory follows parent links from the current version back to the
// first one.
func (s *Service) GetHistory(ctx context.Context, tenantID id.TenantID, approvalID id.ApprovalID) (*History, error) {
	list, err := s.ListVersions(ctx, tenantID, approvalID)
	if err != nil {
		return nil, err
	}
	h := &History{ApprovalID: approvalID, TotalVersions: len(list), Versions: []*Version{}}

	byID := make(map[id.VersionID]*Version, len(list))
	var current *Version
	for _, v := range list {
		byID[v.ID] = v
		if v.IsCurrent {
			current = v
		}
	}
	if current == nil {
		return h, nil
	}
	h.CurrentVersion = current.Number

	seen := make(map[id.VersionID]bool, len(list))
	for v := current; v != nil && !seen[v.ID]; {
		seen[v.ID] = true
		h.Versions = append(h.Versions, v)
		if v.ParentID == nil {
			break
		}
		v = byID[*v.ParentID]
	}
	return h, nil
}

func (s *Service) GetVersion(ctx context.Context, tenantID id.TenantID, versionID id.VersionID) (*Version, error) {
	v, err := s.store.FindByID(ctx, versionID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "version not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load version")
	}
	if v.TenantID != tenantID {
		return nil, dErrors.New(dErrors.CodeTenantIsolation, "version belongs to another tenant")
	}
	return v, nil
}

// CompareVersions diffs the payloads of two versions of the same approval.
func (s *Service) CompareVersions(ctx context.Context, tenantID id.TenantID, fromID, toID id.VersionID) (*Diff, error) {
	from, err := s.GetVersion(ctx, tenantID, fromID)
	if err != nil {
		return nil, err
	}
	to, err := s.GetVersion(ctx, tenantID, toID)
	if err != nil {
		return nil, err
	}
	if from.ApprovalID != to.ApprovalID {
		return nil, dErrors.New(dErrors.CodeValidation, "versions belong to different approvals")
	}
	added, removed, changed := ComparePayloads(from.Payload, to.Payload)
	return &Diff{From: from.Number, To: to.Number, Added: added, Removed: removed, Changed: changed}, nil
}

func (s *Service) authorize(ctx context.Context, tenantID id.TenantID, approvalID id.ApprovalID, forUpdate bool) error {
	owner, err := s.approvals.ApprovalTenant(ctx, approvalID, forUpdate)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "approval not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load approval")
	}
	if owner != tenantID {
		return dErrors.New(dErrors.CodeTenantIsolation, "approval belongs to another tenant")
	}
	return nil
}

func translate(err error, msg string) error {
	var derr *dErrors.Error
	if errors.As(err, &derr) {
		return err
	}
	if errors.Is(err, sentinel.ErrConflict) {
		return dErrors.Wrap(err, dErrors.CodeConflict, "version chain changed concurrently, retry")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}
