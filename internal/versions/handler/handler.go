package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"grc/internal/versions"
	id "grc/pkg/domain"
	dErrors "grc/pkg/domain-errors"
	"grc/pkg/platform/httputil"
	"grc/pkg/requestcontext"
)

type Service interface {
	AppendVersion(ctx context.Context, req versions.AppendRequest) (*versions.Version, error)
	ListVersions(ctx context.Context, tenantID id.TenantID, approvalID id.ApprovalID) ([]*versions.Version, error)
	GetCurrent(ctx context.Context, tenantID id.TenantID, approvalID id.ApprovalID) (*versions.Version, error)
	GetHistory(ctx context.Context, tenantID id.TenantID, approvalID id.ApprovalID) (*versions.History, error)
	GetVersion(ctx context.Context, tenantID id.TenantID, versionID id.VersionID) (*versions.Version, error)
	CompareVersions(ctx context.Context, tenantID id.TenantID, fromID, toID id.VersionID) (*versions.Diff, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/approvals/{approvalID}/versions", h.HandleList)
	r.Post("/approvals/{approvalID}/versions", h.HandleConsolidate)
	r.Get("/approvals/{approvalID}/versions/current", h.HandleCurrent)
	r.Get("/approvals/{approvalID}/versions/history", h.HandleHistory)
	r.Get("/versions/compare", h.HandleCompare)
	r.Get("/versions/{versionID}", h.HandleGet)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	p, ok := httputil.RequirePrincipal(w, r)
	if !ok {
		return
	}
	approvalID, ok := httputil.PathID(w, r, "approvalID", id.ParseApprovalID)
	if !ok {
		return
	}
	list, err := h.service.ListVersions(r.Context(), p.TenantID, approvalID)
	if err != nil {
		h.fail(w, r, "list versions failed", err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, "", list)
}

func (h *Handler) HandleCurrent(w http.ResponseWriter, r *http.Request) {
	p, ok := httputil.RequirePrincipal(w, r)
	if !ok {
		return
	}
	approvalID, ok := httputil.PathID(w, r, "approvalID", id.ParseApprovalID)
	if !ok {
		return
	}
	v, err := h.service.GetCurrent(r.Context(), p.TenantID, approvalID)
	if err != nil {
		h.fail(w, r, "get current version failed", err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, "", v)
}

func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	p, ok := httputil.RequirePrincipal(w, r)
	if !ok {
		return
	}
	approvalID, ok := httputil.PathID(w, r, "approvalID", id.ParseApprovalID)
	if !ok {
		return
	}
	hist, err := h.service.GetHistory(r.Context(), p.TenantID, approvalID)
	if err != nil {
		h.fail(w, r, "get version history failed", err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, "", hist)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	p, ok := httputil.RequirePrincipal(w, r)
	if !ok {
		return
	}
	versionID, ok := httputil.PathID(w, r, "versionID", id.ParseVersionID)
	if !ok {
		return
	}
	v, err := h.service.GetVersion(r.Context(), p.TenantID, versionID)
	if err != nil {
		h.fail(w, r, "get version failed", err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, "", v)
}

func (h *Handler) HandleCompare(w http.ResponseWriter, r *http.Request) {
	p, ok := httputil.RequirePrincipal(w, r)
	if !ok {
		return
	}
	fromID, err := id.ParseVersionID(r.URL.Query().Get("from"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	toID, err := id.ParseVersionID(r.URL.Query().Get("to"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	diff, err := h.service.CompareVersions(r.Context(), p.TenantID, fromID, toID)
	if err != nil {
		h.fail(w, r, "compare versions failed", err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, "", diff)
}

// HandleConsolidate lets an admin record a CONSOLIDATION snapshot. Without an
// explicit payload the current version's payload is carried forward.
func (h *Handler) HandleConsolidate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, ok := httputil.RequirePrincipal(w, r)
	if !ok {
		return
	}
	if !p.IsAdmin() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "admin role required"))
		return
	}
	approvalID, ok := httputil.PathID(w, r, "approvalID", id.ParseApprovalID)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[ConsolidateRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	payload := req.Payload
	if payload == nil {
		current, err := h.service.GetCurrent(ctx, p.TenantID, approvalID)
		if err != nil {
			h.fail(w, r, "load current version failed", err)
			return
		}
		payload = current.Payload
	}

	v, err := h.service.AppendVersion(ctx, versions.AppendRequest{
		TenantID:   p.TenantID,
		ApprovalID: approvalID,
		Type:       versions.TypeConsolidation,
		Label:      req.Label,
		Payload:    payload,
		Summary:    req.Summary,
		Reason:     req.Reason,
		Actor:      versions.Actor{ID: p.UserID, Name: p.Username, Role: p.PrimaryRole()},
	})
	if err != nil {
		h.fail(w, r, "append consolidation version failed", err)
		return
	}
	httputil.WriteSuccess(w, http.StatusCreated, "version appended", v)
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
