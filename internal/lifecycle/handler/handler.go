package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"grc/internal/lifecycle"
	id "grc/pkg/domain"
	dErrors "grc/pkg/domain-errors"
	"grc/pkg/platform/httputil"
	"grc/pkg/platform/middleware/auth"
	"grc/pkg/requestcontext"
)

type Service interface {
	CurrentStage(ctx context.Context, vendorID id.VendorID) (*lifecycle.Entry, error)
	History(ctx context.Context, vendorID id.VendorID) ([]*lifecycle.Entry, error)
	Advance(ctx context.Context, vendorID id.VendorID, to lifecycle.StageCode) (*lifecycle.Transition, error)
	MigrateVendor(ctx context.Context, vendorID id.VendorID) (*lifecycle.Migration, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/lifecycle/stages", h.HandleStages)
	r.Get("/vendors/{vendorID}/lifecycle", h.HandleCurrent)
	r.Get("/vendors/{vendorID}/lifecycle/history", h.HandleHistory)
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAdmin(h.logger))
		r.Post("/vendors/{vendorID}/lifecycle/advance", h.HandleAdvance)
		r.Post("/vendors/{vendorID}/migrate", h.HandleMigrate)
	})
}

// HandleStages lists the lifecycle chain in order.
func (h *Handler) HandleStages(w http.ResponseWriter, r *http.Request) {
	if _, ok := httputil.RequirePrincipal(w, r); !ok {
		return
	}
	stages := lifecycle.Stages()
	out := make([]StageResponse, len(stages))
	for i, s := range stages {
		out[i] = StageResponse{Code: s, Name: s.Name(), Order: i + 1}
	}
	httputil.WriteSuccess(w, http.StatusOK, "", out)
}

func (h *Handler) HandleCurrent(w http.ResponseWriter, r *http.Request) {
	vendorID, ok := h.vendorID(w, r)
	if !ok {
		return
	}
	e, err := h.service.CurrentStage(r.Context(), vendorID)
	if err != nil {
		h.fail(w, r, "get lifecycle stage failed", err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, "", toEntryResponse(e, requestcontext.Now(r.Context())))
}

func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	vendorID, ok := h.vendorID(w, r)
	if !ok {
		return
	}
	entries, err := h.service.History(r.Context(), vendorID)
	if err != nil {
		h.fail(w, r, "get lifecycle history failed", err)
		return
	}
	now := requestcontext.Now(r.Context())
	out := make([]EntryResponse, len(entries))
	for i, e := range entries {
		out[i] = toEntryResponse(e, now)
	}
	httputil.WriteSuccess(w, http.StatusOK, "", out)
}

func (h *Handler) HandleAdvance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vendorID, ok := h.vendorID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[AdvanceRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	tr, err := h.service.Advance(ctx, vendorID, req.stage)
	if err != nil {
		h.fail(w, r, "advance lifecycle failed", err)
		return
	}
	msg := "lifecycle advanced"
	if !tr.Changed {
		msg = "vendor already at stage " + string(tr.To)
	}
	httputil.WriteSuccess(w, http.StatusOK, msg, tr)
}

func (h *Handler) HandleMigrate(w http.ResponseWriter, r *http.Request) {
	vendorID, ok := h.vendorID(w, r)
	if !ok {
		return
	}
	m, err := h.service.MigrateVendor(r.Context(), vendorID)
	if err != nil {
		h.fail(w, r, "vendor migration failed", err)
		return
	}
	httputil.WriteSuccess(w, http.StatusCreated, "vendor migrated", m)
}

func (h *Handler) vendorID(w http.ResponseWriter, r *http.Request) (id.VendorID, bool) {
	if _, ok := httputil.RequirePrincipal(w, r); !ok {
		return 0, false
	}
	return httputil.PathID(w, r, "vendorID", id.ParseVendorID)
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
