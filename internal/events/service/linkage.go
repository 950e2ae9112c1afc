package service

import (
	"context"
	"errors"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"grc/internal/events"
	id "grc/pkg/domain"
	dErrors "grc/pkg/domain-errors"
	audit "grc/pkg/platform/audit"
	"grc/pkg/platform/sentinel"
	"grc/pkg/platform/tracing"
	"grc/pkg/requestcontext"
)

// LinkResult summarises a LinkEvidenceToIncident call.
type LinkResult struct {
	IncidentID id.IncidentID           `json:"incident_id"`
	Found      int                     `json:"documents_found"`
	Added      []events.LinkedEvidence `json:"added"`
	Skipped    int                     `json:"skipped_duplicates"`
	Total      int                     `json:"total_linked"`
}

const sourceCount = 3

// LinkEvidenceToIncident collects the documents of each event from its
// evidence URLs, its file operations and its Jira issue, and appends them to
// the incident's extracted_info.linked_evidence. Documents whose URL is
// already linked are skipped, so repeating a call is harmless. Jira is
// best-effort: when it cannot be read the other sources are still linked.
func (s *Service) LinkEvidenceToIncident(ctx context.Context, incidentID id.IncidentID, eventIDs []id.EventID) (res *LinkResult, err error) {
	ctx, span := tracing.StartSpan(ctx, "events.LinkEvidenceToIncident",
		attribute.Int64("incident_id", int64(incidentID)),
		attribute.Int("event_count", len(eventIDs)),
	)
	start := time.Now()
	defer func() {
		s.metrics.ObserveLink(start)
		tracing.End(span, err)
	}()

	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	if incidentID <= 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "incident_id is required")
	}
	eventIDs = dedupeEvents(eventIDs)
	if len(eventIDs) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "at least one event is required")
	}

	evs := make([]*events.Event, len(eventIDs))
	for i, eventID := range eventIDs {
		if evs[i], err = s.loadEvent(ctx, p, eventID, false); err != nil {
			return nil, err
		}
	}

	docs, err := s.gather(ctx, p, evs)
	if err != nil {
		return nil, err
	}

	res = &LinkResult{IncidentID: incidentID, Found: len(docs)}
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		now := requestcontext.Now(ctx)
		ia, err := s.store.FindIncidentApproval(ctx, p.TenantID, incidentID, true)
		if errors.Is(err, sentinel.ErrNotFound) {
			ia = events.NewIncidentApproval(p.TenantID, incidentID, now)
		} else if err != nil {
			return storeErr(err, "incident approval")
		}
		res.Added = ia.AddLinkedEvidence(docs, now)
		res.Skipped = len(docs) - len(res.Added)
		res.Total = ia.LinkedEvidenceCount()
		if len(res.Added) == 0 {
			return nil
		}
		if err := s.store.SaveIncidentApproval(ctx, ia); err != nil {
			return storeErr(err, "incident approval")
		}
		return s.emit(ctx, p.TenantID, p.UserID, audit.EventEvidenceLinked, audit.AggregateIncident, incidentID.String(), map[string]any{
			"event_ids": eventIDStrings(eventIDs),
			"added":     len(res.Added),
			"skipped":   res.Skipped,
		})
	})
	if err != nil {
		return nil, txErr(err, "failed to link evidence")
	}

	for _, d := range res.Added {
		s.metrics.IncrementLinked(string(d.Source), 1)
	}
	s.logger.InfoContext(ctx, "evidence.linked",
		"tenant_id", p.TenantID.String(),
		"incident_id", int64(incidentID),
		"events", len(eventIDs),
		"added", len(res.Added),
		"skipped", res.Skipped,
		"request_id", requestcontext.RequestID(ctx),
	)
	return res, nil
}

// gather reads the three sources of every event concurrently. Results are
// slotted by event and source so the output order does not depend on
// scheduling.
func (s *Service) gather(ctx context.Context, p requestcontext.Principal, evs []*events.Event) ([]events.LinkedEvidence, error) {
	slots := make([][sourceCount][]events.LinkedEvidence, len(evs))
	now := requestcontext.Now(ctx)
	stamp := func(e *events.Event, d events.LinkedEvidence) events.LinkedEvidence {
		d.EventID = e.ID
		d.EventTitle = e.Title
		d.LinkedBy = p.UserID
		d.LinkedAt = now
		return d
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.linkLimit)
	for i, e := range evs {
		g.Go(func() error {
			for _, tok := range e.Evidence {
				if _, isRef := events.ParseFileOperationToken(tok); !isRef {
					slots[i][0] = append(slots[i][0], stamp(e, fromDetail(events.URLDetail(tok))))
				}
			}
			return nil
		})
		g.Go(func() error {
			ops, err := s.eventFileOperations(gctx, e)
			if err != nil {
				return err
			}
			for _, op := range ops {
				slots[i][1] = append(slots[i][1], stamp(e, fromDetail(events.FileOperationDetail("", op))))
			}
			return nil
		})
		g.Go(func() error {
			atts, err := s.jiraAttachments(gctx, e)
			if err != nil {
				return err
			}
			for _, a := range atts {
				slots[i][2] = append(slots[i][2], stamp(e, a))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []events.LinkedEvidence
	for _, perEvent := range slots {
		for _, docs := range perEvent {
			out = append(out, docs...)
		}
	}
	return out, nil
}

// eventFileOperations returns the rows referenced from the evidence list
// followed by uploads recorded against the event that are not referenced.
func (s *Service) eventFileOperations(ctx context.Context, e *events.Event) ([]*events.FileOperation, error) {
	refs := e.Evidence.FileOperationIDs()
	byID, err := s.store.FindFileOperations(ctx, e.TenantID, refs)
	if err != nil {
		return nil, storeErr(err, "file operations")
	}
	attached, err := s.store.ListFileOperations(ctx, e.TenantID, events.Module, int64(e.ID))
	if err != nil {
		return nil, storeErr(err, "file operations")
	}
	out := make([]*events.FileOperation, 0, len(refs)+len(attached))
	for _, fid := range refs {
		if op, ok := byID[fid]; ok {
			out = append(out, op)
		}
	}
	for _, op := range attached {
		if !slices.Contains(refs, op.ID) {
			out = append(out, op)
		}
	}
	return out, nil
}

// jiraAttachments never fails the linkage because of Jira itself; only a
// cancelled context is returned.
func (s *Service) jiraAttachments(ctx context.Context, e *events.Event) ([]events.LinkedEvidence, error) {
	if s.jira == nil || e.JiraIssueKey == "" {
		return nil, nil
	}
	atts, err := s.jira.Attachments(ctx, e.JiraIssueKey)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.metrics.IncrementSourceFailure(string(events.SourceJira))
		s.logger.WarnContext(ctx, "evidence.source_skipped",
			"tenant_id", e.TenantID.String(),
			"event_id", int64(e.ID),
			"source", string(events.SourceJira),
			"jira_issue_key", e.JiraIssueKey,
			"unavailable", errors.Is(err, sentinel.ErrUnavailable),
			"error", err,
		)
		return nil, nil
	}
	out := make([]events.LinkedEvidence, 0, len(atts))
	for _, a := range atts {
		out = append(out, events.LinkedEvidence{
			Source:   events.SourceJira,
			Filename: a.Filename,
			URL:      a.Content,
			FileType: events.URLDetail(a.Filename).FileType,
			FileSize: a.Size,
		})
	}
	return out, nil
}

func fromDetail(d events.EvidenceDetail) events.LinkedEvidence {
	return events.LinkedEvidence{
		Source:   d.Source,
		Filename: d.Filename,
		URL:      d.URL,
		FileType: d.FileType,
		FileSize: d.FileSize,
	}
}

func dedupeEvents(ids []id.EventID) []id.EventID {
	out := make([]id.EventID, 0, len(ids))
	seen := make(map[id.EventID]bool, len(ids))
	for _, eventID := range ids {
		if eventID > 0 && !seen[eventID] {
			seen[eventID] = true
			out = append(out, eventID)
		}
	}
	return out
}

func eventIDStrings(ids []id.EventID) []string {
	out := make([]string, len(ids))
	for i, eventID := range ids {
		out[i] = eventID.String()
	}
	return out
}
