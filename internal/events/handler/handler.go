package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"grc/internal/events"
	"grc/internal/events/service"
	"grc/internal/storage"
	id "grc/pkg/domain"
	dErrors "grc/pkg/domain-errors"
	"grc/pkg/platform/httputil"
	"grc/pkg/requestcontext"
)

type Service interface {
	CreateEvent(ctx context.Context, in service.CreateEventInput) (*events.Event, error)
	GetEvent(ctx context.Context, eventID id.EventID) (*events.Event, error)
	ListEvents(ctx context.Context, filter events.ListFilter) ([]*events.Event, int, error)
	AssignReviewer(ctx context.Context, eventID id.EventID, reviewerID id.UserID) (*events.Event, error)
	ApproveEvent(ctx context.Context, eventID id.EventID, comments string) (*events.Event, error)
	RejectEvent(ctx context.Context, eventID id.EventID, comments string) (*events.Event, error)
	ArchiveEvent(ctx context.Context, eventID id.EventID) (*events.Event, error)
	DeleteEvent(ctx context.Context, eventID id.EventID) (*service.DeleteResult, error)
	AddEvidence(ctx context.Context, eventID id.EventID, token string) (*events.Event, error)
	RemoveEvidence(ctx context.Context, eventID id.EventID, token string) (*events.Event, error)
	UploadEvidence(ctx context.Context, eventID id.EventID, file service.UploadFile) (*service.UploadResult, error)
	GetEventEvidenceDetails(ctx context.Context, eventID id.EventID) ([]events.EvidenceDetail, error)
	LinkEvidenceToIncident(ctx context.Context, incidentID id.IncidentID, eventIDs []id.EventID) (*service.LinkResult, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Route("/events", func(r chi.Router) {
		r.Get("/", h.HandleListEvents)
		r.Post("/", h.HandleCreateEvent)
		r.Route("/{eventID}", func(r chi.Router) {
			r.Get("/", h.HandleGetEvent)
			r.Delete("/", h.HandleDeleteEvent)
			r.Put("/reviewer", h.HandleAssignReviewer)
			r.Post("/approve", h.HandleApprove)
			r.Post("/reject", h.HandleReject)
			r.Post("/archive", h.HandleArchive)
			r.Get("/evidence", h.HandleEvidenceDetails)
			r.Post("/evidence", h.HandleAddEvidence)
			r.Delete("/evidence", h.HandleRemoveEvidence)
			r.Post("/evidence/upload", h.HandleUploadEvidence)
		})
	})
	r.Post("/incidents/{incidentID}/evidence/link", h.HandleLinkEvidence)
}

func (h *Handler) HandleCreateEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := httputil.RequirePrincipal(w, r); !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[CreateEventRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	e, err := h.service.CreateEvent(ctx, req.input)
	if err != nil {
		h.fail(w, r, "create event failed", err)
		return
	}
	httputil.WriteSuccess(w, http.StatusCreated, "event created", e)
}

func (h *Handler) HandleGetEvent(w http.ResponseWriter, r *http.Request) {
	eventID, ok := h.eventID(w, r)
	if !ok {
		return
	}
	e, err := h.service.GetEvent(r.Context(), eventID)
	if err != nil {
		h.fail(w, r, "get event failed", err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, "", e)
}

// HandleListEvents accepts status, owner_id, reviewer_id, category,
// framework_id, include_templates, limit and offset query parameters.
func (h *Handler) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	if _, ok := httputil.RequirePrincipal(w, r); !ok {
		return
	}
	filter, err := parseListFilter(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	list, total, err := h.service.ListEvents(r.Context(), filter)
	if err != nil {
		h.fail(w, r, "list events failed", err)
		return
	}
	filter.Normalize()
	httputil.WriteSuccess(w, http.StatusOK, "", ListResponse{
		Events: list,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	})
}

func parseListFilter(r *http.Request) (events.ListFilter, error) {
	q := r.URL.Query()
	filter := events.ListFilter{Category: q.Get("category")}
	if v := q.Get("status"); v != "" {
		status, err := events.ParseStatus(v)
		if err != nil {
			return filter, err
		}
		filter.Status = status
	}
	for name, dst := range map[string]*id.UserID{"owner_id": &filter.OwnerID, "reviewer_id": &filter.ReviewerID} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		userID, err := id.ParseUserID(v)
		if err != nil {
			return filter, err
		}
		*dst = userID
	}
	if v := q.Get("framework_id"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return filter, dErrors.New(dErrors.CodeValidation, "framework_id must be a positive integer")
		}
		filter.FrameworkID = &n
	}
	if v := q.Get("include_templates"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return filter, dErrors.New(dErrors.CodeValidation, "include_templates must be true or false")
		}
		filter.IncludeTemplates = b
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return filter, dErrors.New(dErrors.CodeValidation, name+" must be a non-negative integer")
		}
		*dst = n
	}
	return filter, nil
}

func (h *Handler) HandleAssignReviewer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	eventID, ok := h.eventID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[AssignRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	e, err := h.service.AssignReviewer(ctx, eventID, req.reviewerID)
	if err != nil {
		h.fail(w, r, "assign reviewer failed", err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, "reviewer assigned", e)
}

func (h *Handler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, h.service.ApproveEvent, "approve event failed")
}

func (h *Handler) HandleReject(w http.ResponseWriter, r *http.Request) {
	h.review(w, r, h.service.RejectEvent, "reject event failed")
}

func (h *Handler) review(w http.ResponseWriter, r *http.Request, fn func(context.Context, id.EventID, string) (*events.Event, error), failMsg string) {
	ctx := r.Context()
	eventID, ok := h.eventID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[ReviewRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	e, err := fn(ctx, eventID, req.Comments)
	if err != nil {
		h.fail(w, r, failMsg, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, "event "+string(e.Status), e)
}

func (h *Handler) HandleArchive(w http.ResponseWriter, r *http.Request) {
	eventID, ok := h.eventID(w, r)
	if !ok {
		return
	}
	e, err := h.service.ArchiveEvent(r.Context(), eventID)
	if err != nil {
		h.fail(w, r, "archive event failed", err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, "event archived", e)
}

func (h *Handler) HandleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	eventID, ok := h.eventID(w, r)
	if !ok {
		return
	}
	res, err := h.service.DeleteEvent(r.Context(), eventID)
	if err != nil {
		h.fail(w, r, "delete event failed", err)
		return
	}
	msg := "event deleted"
	if res.Archived {
		msg = "event archived"
	}
	httputil.WriteSuccess(w, http.StatusOK, msg, res)
}

func (h *Handler) HandleEvidenceDetails(w http.ResponseWriter, r *http.Request) {
	eventID, ok := h.eventID(w, r)
	if !ok {
		return
	}
	details, err := h.service.GetEventEvidenceDetails(r.Context(), eventID)
	if err != nil {
		h.fail(w, r, "get evidence details failed", err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, "", EvidenceResponse{EventID: eventID, Evidence: details, Count: len(details)})
}

func (h *Handler) HandleAddEvidence(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	eventID, ok := h.eventID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[EvidenceRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	e, err := h.service.AddEvidence(ctx, eventID, req.Token)
	if err != nil {
		h.fail(w, r, "add evidence failed", err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, "evidence added", e)
}

// HandleRemoveEvidence takes the token from the token query parameter, or
// from a JSON body when the parameter is absent.
func (h *Handler) HandleRemoveEvidence(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	eventID, ok := h.eventID(w, r)
	if !ok {
		return
	}
	token := r.URL.Query().Get("token")
	if token == "" {
		req, ok := httputil.DecodeAndPrepare[EvidenceRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
		if !ok {
			return
		}
		token = req.Token
	}
	e, err := h.service.RemoveEvidence(ctx, eventID, token)
	if err != nil {
		h.fail(w, r, "remove evidence failed", err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, "evidence removed", e)
}

// multipartOverhead leaves room for form boundaries and headers around the
// file part.
const multipartOverhead = 1 << 20

// HandleUploadEvidence reads a multipart form with a single "file" part.
func (h *Handler) HandleUploadEvidence(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	eventID, ok := h.eventID(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, storage.MaxUploadSize+multipartOverhead)
	if err := r.ParseMultipartForm(storage.MaxUploadSize + multipartOverhead); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "file exceeds the 10 MiB upload limit"))
			return
		}
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid multipart form"))
		return
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "file is required"))
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		h.fail(w, r, "read upload failed", dErrors.Wrap(err, dErrors.CodeBadRequest, "could not read uploaded file"))
		return
	}

	res, err := h.service.UploadEvidence(ctx, eventID, service.UploadFile{
		FileName:    hdr.Filename,
		ContentType: hdr.Header.Get("Content-Type"),
		Data:        data,
	})
	if err != nil {
		h.fail(w, r, "upload evidence failed", err)
		return
	}
	httputil.WriteSuccess(w, http.StatusCreated, "evidence uploaded", res)
}

func (h *Handler) HandleLinkEvidence(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := httputil.RequirePrincipal(w, r); !ok {
		return
	}
	incidentID, ok := httputil.PathID(w, r, "incidentID", id.ParseIncidentID)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[LinkRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	res, err := h.service.LinkEvidenceToIncident(ctx, incidentID, req.eventIDs)
	if err != nil {
		h.fail(w, r, "link evidence failed", err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, "evidence linked", res)
}

func (h *Handler) eventID(w http.ResponseWriter, r *http.Request) (id.EventID, bool) {
	if _, ok := httputil.RequirePrincipal(w, r); !ok {
		return 0, false
	}
	return httputil.PathID(w, r, "eventID", id.ParseEventID)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	ctx := r.Context()
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, msg, "request_id", requestcontext.RequestID(ctx), "error", err)
	} else {
		h.logger.WarnContext(ctx, msg, "request_id", requestcontext.RequestID(ctx), "error", err)
	}
	httputil.WriteError(w, err)
}
