package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"grc/internal/events"
	"grc/internal/events/metrics"
	"grc/internal/storage"
	id "grc/pkg/domain"
	dErrors "grc/pkg/domain-errors"
	audit "grc/pkg/platform/audit"
	"grc/pkg/platform/sentinel"
	txcontext "grc/pkg/platform/tx"
	"grc/pkg/requestcontext"
)

// Service manages compliance events, their evidence and the linkage of that
// evidence to incidents. Notifications are best-effort and sent after commit.
type Service struct {
	store     Store
	tx        txcontext.Runner
	storage   storage.S3Client
	jira      Jira
	notifier  Notifier
	directory Directory
	audit     AuditPublisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	linkLimit int
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

func WithStorage(c storage.S3Client) Option {
	return func(s *Service) {
		s.storage = c
	}
}

// WithJira enables Jira attachments as an evidence source.
func WithJira(j Jira) Option {
	return func(s *Service) {
		s.jira = j
	}
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

func WithDirectory(d Directory) Option {
	return func(s *Service) {
		s.directory = d
	}
}

// WithLinkConcurrency bounds the number of concurrent source lookups during
// incident linkage.
func WithLinkConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.linkLimit = n
		}
	}
}

func New(store Store, tx txcontext.Runner, opts ...Option) *Service {
	s := &Service{store: store, tx: tx, logger: slog.Default(), linkLimit: 8}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type CreateEventInput struct {
	Title        string
	Description  string
	FrameworkID  *int64
	ModuleID     *int64
	Category     string
	OwnerID      id.UserID
	ReviewerID   *id.UserID
	IsTemplate   bool
	Evidence     []string
	Recurrence   string
	StartDate    *time.Time
	EndDate      *time.Time
	JiraIssueKey string
}

func (in CreateEventInput) validate() error {
	if strings.TrimSpace(in.Title) == "" {
		return dErrors.New(dErrors.CodeValidation, "title is required")
	}
	if in.StartDate != nil && in.EndDate != nil && in.EndDate.Before(*in.StartDate) {
		return dErrors.New(dErrors.CodeValidation, "end_date must not be before start_date")
	}
	for _, tok := range in.Evidence {
		if err := events.ValidateToken(tok); err != nil {
			return err
		}
	}
	return nil
}

// CreateEvent stores a new event owned by OwnerID, or by the caller when no
// owner is given.
func (s *Service) CreateEvent(ctx context.Context, in CreateEventInput) (*events.Event, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	e := events.NewEvent(p.TenantID, p.UserID, requestcontext.Now(ctx))
	e.Title = strings.TrimSpace(in.Title)
	e.Description = in.Description
	e.FrameworkID = in.FrameworkID
	e.ModuleID = in.ModuleID
	e.Category = in.Category
	e.IsTemplate = in.IsTemplate
	e.Recurrence = in.Recurrence
	e.StartDate = in.StartDate
	e.EndDate = in.EndDate
	e.JiraIssueKey = strings.TrimSpace(in.JiraIssueKey)
	if !in.OwnerID.IsNil() {
		e.OwnerID = in.OwnerID
	}
	if in.ReviewerID != nil && !in.ReviewerID.IsNil() {
		e.ReviewerID = in.ReviewerID
	}
	for _, tok := range in.Evidence {
		e.Evidence = e.Evidence.Add(strings.TrimSpace(tok))
	}
	e.EvidenceCount = e.Evidence.Count()

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		return s.store.CreateEvent(ctx, e)
	})
	if err != nil {
		return nil, txErr(err, "failed to create event")
	}

	s.logger.InfoContext(ctx, "event.created",
		"tenant_id", e.TenantID.String(),
		"event_id", int64(e.ID),
		"is_template", e.IsTemplate,
		"request_id", requestcontext.RequestID(ctx),
	)
	if !e.IsTemplate {
		s.notifyCreated(ctx, e, p.UserID)
		if e.ReviewerID != nil {
			s.notifyAssigned(ctx, e)
		}
	}
	return e, nil
}

func (s *Service) GetEvent(ctx context.Context, eventID id.EventID) (*events.Event, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	return s.loadEvent(ctx, p, eventID, false)
}

// ListEvents lists the caller's tenant's events. Templates are left out
// unless IncludeTemplates is set.
func (s *Service) ListEvents(ctx context.Context, filter events.ListFilter) ([]*events.Event, int, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, 0, err
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, 0, dErrors.New(dErrors.CodeValidation, "unknown event status "+string(filter.Status))
	}
	filter.TenantID = p.TenantID
	filter.Normalize()
	list, total, err := s.store.ListEvents(ctx, filter)
	if err != nil {
		return nil, 0, storeErr(err, "events")
	}
	return list, total, nil
}

// AssignReviewer sets the event's reviewer. Owner or admin only.
func (s *Service) AssignReviewer(ctx context.Context, eventID id.EventID, reviewerID id.UserID) (*events.Event, error) {
	if reviewerID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "reviewer_id is required")
	}
	e, err := s.mutate(ctx, eventID, canManage, func(ctx context.Context, e *events.Event, _ requestcontext.Principal) error {
		if err := e.CanAssign(); err != nil {
			return stateErr(err)
		}
		e.Assign(reviewerID, requestcontext.Now(ctx))
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notifyAssigned(ctx, e)
	return e, nil
}

// ApproveEvent records the assigned reviewer's approval.
func (s *Service) ApproveEvent(ctx context.Context, eventID id.EventID, comments string) (*events.Event, error) {
	return s.review(ctx, eventID, events.StatusApproved, comments)
}

// RejectEvent records the assigned reviewer's rejection. Comments are
// required so the owner knows what to fix.
func (s *Service) RejectEvent(ctx context.Context, eventID id.EventID, comments string) (*events.Event, error) {
	if strings.TrimSpace(comments) == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "comments are required when rejecting")
	}
	return s.review(ctx, eventID, events.StatusRejected, comments)
}

func (s *Service) review(ctx context.Context, eventID id.EventID, status events.Status, comments string) (*events.Event, error) {
	var from events.Status
	e, err := s.mutate(ctx, eventID, isReviewer, func(ctx context.Context, e *events.Event, p requestcontext.Principal) error {
		if err := e.CanReview(); err != nil {
			return stateErr(err)
		}
		from = e.Status
		e.Review(status, comments, requestcontext.Now(ctx))
		return s.emitStatus(ctx, e, p.UserID, from)
	})
	if err != nil {
		return nil, err
	}
	s.statusChanged(ctx, e, from)
	return e, nil
}

// ArchiveEvent takes an event out of circulation. Owner or admin only.
func (s *Service) ArchiveEvent(ctx context.Context, eventID id.EventID) (*events.Event, error) {
	var from events.Status
	e, err := s.mutate(ctx, eventID, canManage, func(ctx context.Context, e *events.Event, p requestcontext.Principal) error {
		if err := e.CanArchive(); err != nil {
			return stateErr(err)
		}
		from = e.Status
		e.Archive(requestcontext.Now(ctx))
		return s.emitStatus(ctx, e, p.UserID, from)
	})
	if err != nil {
		return nil, err
	}
	s.statusChanged(ctx, e, from)
	return e, nil
}

// DeleteResult reports what DeleteEvent did.
type DeleteResult struct {
	EventID  id.EventID `json:"event_id"`
	Archived bool       `json:"archived"`
	Deleted  bool       `json:"deleted"`
}

// DeleteEvent removes an archived event. A live event is archived instead,
// so a first delete archives and a second one removes the row.
func (s *Service) DeleteEvent(ctx context.Context, eventID id.EventID) (*DeleteResult, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	res := &DeleteResult{EventID: eventID}
	var archived *events.Event
	var from events.Status
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		*res = DeleteResult{EventID: eventID}
		archived = nil
		e, err := s.loadEvent(ctx, p, eventID, true)
		if err != nil {
			return err
		}
		if !canManage(p, e) {
			return dErrors.New(dErrors.CodeForbidden, "only the event owner or an admin can delete it")
		}
		if e.Status != events.StatusArchived {
			from = e.Status
			e.Archive(requestcontext.Now(ctx))
			if err := s.store.UpdateEvent(ctx, e); err != nil {
				return storeErr(err, "event")
			}
			res.Archived = true
			archived = e
			return s.emitStatus(ctx, e, p.UserID, from)
		}
		if err := s.store.DeleteEvent(ctx, p.TenantID, eventID); err != nil {
			if errors.Is(err, sentinel.ErrInvalidState) {
				return dErrors.New(dErrors.CodeStateConflict, "only archived events can be deleted")
			}
			return storeErr(err, "event")
		}
		res.Deleted = true
		return s.emit(ctx, p.TenantID, p.UserID, audit.EventEventStatusChanged, audit.AggregateEvent, eventID.String(), map[string]any{
			"from": string(events.StatusArchived),
			"to":   "Deleted",
		})
	})
	if err != nil {
		return nil, txErr(err, "failed to delete event")
	}
	if archived != nil {
		s.statusChanged(ctx, archived, from)
	} else {
		s.logger.InfoContext(ctx, "event.deleted",
			"tenant_id", p.TenantID.String(),
			"event_id", int64(eventID),
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	return res, nil
}

// mutate locks the event, checks the caller with allowed, applies fn and
// saves the result in one transaction.
func (s *Service) mutate(
	ctx context.Context,
	eventID id.EventID,
	allowed func(requestcontext.Principal, *events.Event) bool,
	fn func(ctx context.Context, e *events.Event, p requestcontext.Principal) error,
) (*events.Event, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	var out *events.Event
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		e, err := s.loadEvent(ctx, p, eventID, true)
		if err != nil {
			return err
		}
		if !allowed(p, e) {
			return dErrors.New(dErrors.CodeForbidden, "not permitted on this event")
		}
		if err := fn(ctx, e, p); err != nil {
			return err
		}
		if err := s.store.UpdateEvent(ctx, e); err != nil {
			return storeErr(err, "event")
		}
		out = e
		return nil
	})
	if err != nil {
		return nil, txErr(err, "failed to update event")
	}
	return out, nil
}

func (s *Service) loadEvent(ctx context.Context, p requestcontext.Principal, eventID id.EventID, forUpdate bool) (*events.Event, error) {
	e, err := s.store.FindEvent(ctx, eventID, forUpdate)
	if err != nil {
		return nil, storeErr(err, "event")
	}
	if e.TenantID != p.TenantID {
		return nil, dErrors.New(dErrors.CodeTenantIsolation, "event belongs to another tenant")
	}
	return e, nil
}

func (s *Service) statusChanged(ctx context.Context, e *events.Event, from events.Status) {
	s.metrics.IncrementStatusChange(string(e.Status))
	s.logger.InfoContext(ctx, "event.status_changed",
		"tenant_id", e.TenantID.String(),
		"event_id", int64(e.ID),
		"from", string(from),
		"to", string(e.Status),
		"request_id", requestcontext.RequestID(ctx),
	)
	s.notifyStatusChanged(ctx, e, from)
}

func (s *Service) emitStatus(ctx context.Context, e *events.Event, actor id.UserID, from events.Status) error {
	return s.emit(ctx, e.TenantID, actor, audit.EventEventStatusChanged, audit.AggregateEvent, e.ID.String(), map[string]any{
		"from": string(from),
		"to":   string(e.Status),
	})
}

func (s *Service) emit(ctx context.Context, tenantID id.TenantID, actor id.UserID, name audit.EventName, aggregate, aggregateID string, payload map[string]any) error {
	if s.audit == nil {
		return nil
	}
	return s.audit.Emit(ctx, audit.Event{
		TenantID:      tenantID,
		Name:          name,
		AggregateType: aggregate,
		AggregateID:   aggregateID,
		ActorID:       actor,
		Payload:       payload,
	})
}

func canManage(p requestcontext.Principal, e *events.Event) bool {
	return p.IsAdmin() || e.OwnerID == p.UserID
}

func isReviewer(p requestcontext.Principal, e *events.Event) bool {
	return e.IsReviewer(p.UserID)
}

func canEditEvidence(p requestcontext.Principal, e *events.Event) bool {
	return canManage(p, e) || e.IsReviewer(p.UserID)
}

func principal(ctx context.Context) (requestcontext.Principal, error) {
	p, ok := requestcontext.PrincipalFrom(ctx)
	if !ok || p.TenantID.IsNil() {
		return requestcontext.Principal{}, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	return p, nil
}

// stateErr turns a model invariant violation into the caller-facing
// state conflict.
func stateErr(err error) error {
	if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
		return dErrors.New(dErrors.CodeStateConflict, dErrors.MessageOf(err))
	}
	return err
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
		return dErrors.Wrap(err, dErrors.CodeConflict, "event changed concurrently, retry")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}
