package service

import (
	"context"
	"strings"

	"grc/internal/events"
	"grc/internal/storage"
	id "grc/pkg/domain"
	dErrors "grc/pkg/domain-errors"
	audit "grc/pkg/platform/audit"
	"grc/pkg/requestcontext"
)

// AddEvidence appends a token to the event's evidence list. Owner, reviewer
// or admin only.
func (s *Service) AddEvidence(ctx context.Context, eventID id.EventID, token string) (*events.Event, error) {
	token = strings.TrimSpace(token)
	if err := events.ValidateToken(token); err != nil {
		return nil, err
	}
	return s.editEvidence(ctx, eventID, "added", func(_ context.Context, ev events.Evidence) (events.Evidence, string, error) {
		return ev.Add(token), token, nil
	})
}

// RemoveEvidence drops every occurrence of token from the event's evidence.
func (s *Service) RemoveEvidence(ctx context.Context, eventID id.EventID, token string) (*events.Event, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "evidence token is required")
	}
	return s.editEvidence(ctx, eventID, "removed", func(_ context.Context, ev events.Evidence) (events.Evidence, string, error) {
		out, removed := ev.Remove(token)
		if !removed {
			return nil, "", dErrors.New(dErrors.CodeNotFound, "evidence not found on event")
		}
		return out, token, nil
	})
}

// editEvidence applies fn to the locked event's evidence. fn returns the new
// list and the token it added or removed.
func (s *Service) editEvidence(ctx context.Context, eventID id.EventID, change string, fn func(context.Context, events.Evidence) (events.Evidence, string, error)) (*events.Event, error) {
	var from events.Status
	e, err := s.mutate(ctx, eventID, canEditEvidence, func(ctx context.Context, e *events.Event, p requestcontext.Principal) error {
		if err := e.CanEditEvidence(); err != nil {
			return stateErr(err)
		}
		next, token, err := fn(ctx, e.Evidence)
		if err != nil {
			return err
		}
		from = e.Status
		e.SetEvidence(next, requestcontext.Now(ctx))
		if err := s.emit(ctx, e.TenantID, p.UserID, audit.EventEventEvidenceEdited, audit.AggregateEvent, e.ID.String(), map[string]any{
			"change":         change,
			"token":          token,
			"evidence_count": e.EvidenceCount,
		}); err != nil {
			return err
		}
		if e.Status != from {
			return s.emitStatus(ctx, e, p.UserID, from)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "event.evidence_changed",
		"tenant_id", e.TenantID.String(),
		"event_id", int64(e.ID),
		"change", change,
		"evidence_count", e.EvidenceCount,
		"request_id", requestcontext.RequestID(ctx),
	)
	if e.Status != from {
		s.statusChanged(ctx, e, from)
	}
	return e, nil
}

// UploadFile is an evidence file received from a client.
type UploadFile struct {
	FileName    string
	ContentType string
	Data        []byte
}

// UploadResult is the event after the upload together with the file
// operation recorded for it.
type UploadResult struct {
	Event         *events.Event         `json:"event"`
	FileOperation *events.FileOperation `json:"file_operation"`
}

// UploadEvidence stores the file in object storage, records a file operation
// and links it to the event by reference. The object is written before the
// transaction; if the transaction fails the orphan is logged.
func (s *Service) UploadEvidence(ctx context.Context, eventID id.EventID, file UploadFile) (res *UploadResult, err error) {
	defer func() { s.metrics.IncrementUpload(err) }()

	if s.storage == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "object storage is not configured")
	}
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	in := storage.UploadInput{
		TenantID:    p.TenantID,
		UserID:      p.UserID,
		Module:      events.Module,
		FileName:    file.FileName,
		ContentType: file.ContentType,
		Data:        file.Data,
	}
	if err := storage.ValidateUpload(in); err != nil {
		return nil, err
	}

	e, err := s.loadEvent(ctx, p, eventID, false)
	if err != nil {
		return nil, err
	}
	if !canEditEvidence(p, e) {
		return nil, dErrors.New(dErrors.CodeForbidden, "not permitted on this event")
	}
	if err := e.CanEditEvidence(); err != nil {
		return nil, stateErr(err)
	}

	obj, err := s.storage.Upload(ctx, in)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store evidence file")
	}

	entityID := int64(eventID)
	op := &events.FileOperation{
		TenantID:     p.TenantID,
		UserID:       p.UserID,
		Module:       events.Module,
		EntityID:     &entityID,
		S3URL:        obj.S3URL,
		S3Key:        obj.S3Key,
		OriginalName: file.FileName,
		StoredName:   obj.StoredName,
		FileType:     obj.FileType,
		FileSize:     obj.FileSize,
		Status:       events.FileOperationCompleted,
		CreatedAt:    requestcontext.Now(ctx),
	}
	updated, err := s.editEvidence(ctx, eventID, "uploaded", func(ctx context.Context, ev events.Evidence) (events.Evidence, string, error) {
		if err := s.store.InsertFileOperation(ctx, op); err != nil {
			return nil, "", storeErr(err, "file operation")
		}
		token := events.FileOperationToken(op.ID)
		return ev.Add(token), token, nil
	})
	if err != nil {
		s.logger.WarnContext(ctx, "evidence.orphaned",
			"tenant_id", p.TenantID.String(),
			"event_id", int64(eventID),
			"s3_key", obj.S3Key,
			"error", err,
		)
		return nil, err
	}
	return &UploadResult{Event: updated, FileOperation: op}, nil
}

// GetEventEvidenceDetails resolves every evidence token of the event, in
// order. URL tokens are described from the URL itself; file operation
// references are joined to their rows. References to missing rows are
// logged and left out.
func (s *Service) GetEventEvidenceDetails(ctx context.Context, eventID id.EventID) ([]events.EvidenceDetail, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	e, err := s.loadEvent(ctx, p, eventID, false)
	if err != nil {
		return nil, err
	}
	return s.resolveEvidence(ctx, e)
}

func (s *Service) resolveEvidence(ctx context.Context, e *events.Event) ([]events.EvidenceDetail, error) {
	ops, err := s.store.FindFileOperations(ctx, e.TenantID, e.Evidence.FileOperationIDs())
	if err != nil {
		return nil, storeErr(err, "file operations")
	}
	details := make([]events.EvidenceDetail, 0, len(e.Evidence))
	for _, tok := range e.Evidence {
		fid, isRef := events.ParseFileOperationToken(tok)
		if !isRef {
			details = append(details, events.URLDetail(tok))
			continue
		}
		op, ok := ops[fid]
		if !ok {
			s.logger.WarnContext(ctx, "evidence.unresolved",
				"tenant_id", e.TenantID.String(),
				"event_id", int64(e.ID),
				"file_operation_id", int64(fid),
			)
			continue
		}
		details = append(details, events.FileOperationDetail(tok, op))
	}
	return details, nil
}
