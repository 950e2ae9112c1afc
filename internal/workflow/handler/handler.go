package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"grc/internal/workflow"
	"grc/internal/workflow/service"
	id "grc/pkg/domain"
	dErrors "grc/pkg/domain-errors"
	"grc/pkg/platform/httputil"
	"grc/pkg/requestcontext"
)

type Service interface {
	CreateWorkflow(ctx context.Context, in service.CreateWorkflowInput) (*workflow.Workflow, error)
	GetWorkflow(ctx context.Context, workflowID id.WorkflowID) (*workflow.Workflow, error)
	ListWorkflows(ctx context.Context, activeOnly bool) ([]*workflow.Workflow, error)
	CreateRequest(ctx context.Context, in service.CreateRequestInput) (*workflow.Approval, error)
	CreateComprehensive(ctx context.Context, in service.ComprehensiveInput) (*workflow.Approval, error)
	GetApproval(ctx context.Context, approvalID id.ApprovalID) (*workflow.Approval, error)
	ListApprovals(ctx context.Context, filter workflow.ListFilter) ([]*workflow.Request, int, error)
	ListMyStages(ctx context.Context, status workflow.StageStatus) ([]*workflow.MyStage, error)
	Act(ctx context.Context, in service.ActInput) (*service.ActResult, error)
	SaveStageDraft(ctx context.Context, stageID id.StageID, data map[string]any) (*workflow.Stage, error)
	SaveReviewerScores(ctx context.Context, stageID id.StageID, scores map[string]workflow.ReviewerScore) (*workflow.Stage, error)
	FinalDecision(ctx context.Context, in service.FinalDecisionInput) (*service.DecisionResult, error)
	AdminHandleRejection(ctx context.Context, in service.AdminInput) (*service.Resolution, error)
	StartRequest(ctx context.Context, approvalID id.ApprovalID, comments string) (*service.Resolution, error)
	CancelRequest(ctx context.Context, approvalID id.ApprovalID, reason string) (*service.Resolution, error)
	ScorePreview(ctx context.Context, approvalID id.ApprovalID) (*service.ScorePreview, error)
	ComputeOverallScore(ctx context.Context, approvalID id.ApprovalID) (*service.ScoreBreakdown, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Route("/workflows", func(r chi.Router) {
		r.Get("/", h.HandleListWorkflows)
		r.Post("/", h.HandleCreateWorkflow)
		r.Get("/{workflowID}", h.HandleGetWorkflow)
	})
	r.Route("/approvals", func(r chi.Router) {
		r.Get("/", h.HandleListApprovals)
		r.Post("/", h.HandleCreateRequest)
		r.Post("/comprehensive", h.HandleCreateComprehensive)
		r.Route("/{approvalID}", func(r chi.Router) {
			r.Get("/", h.HandleGetApproval)
			r.Post("/final-decision", h.HandleFinalDecision)
			r.Post("/admin-rejection", h.HandleAdminRejection)
			r.Post("/start", h.HandleStart)
			r.Post("/cancel", h.HandleCancel)
			r.Get("/scores/preview", h.HandleScorePreview)
			r.Post("/scores/compute", h.HandleComputeScore)
		})
	})
	r.Post("/stages/{stageID}/actions", h.HandleAct)
	r.Put("/stages/{stageID}/draft", h.HandleSaveDraft)
	r.Put("/stages/{stageID}/scores", h.HandleSaveScores)
	r.Get("/me/stages", h.HandleMyStages)
}

func (h *Handler) HandleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := httputil.RequirePrincipal(w, r); !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[CreateWorkflowRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	wf, err := h.service.CreateWorkflow(ctx, req.input)
	if err != nil {
		h.fail(w, r, "create workflow failed", err)
		return
	}
	httputil.WriteSuccess(w, http.StatusCreated, "workflow created", wf)
}

func (h *Handler) HandleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	if _, ok := httputil.RequirePrincipal(w, r); !ok {
		return
	}
	workflowID, ok := httputil.PathID(w, r, "workflowID", id.ParseWorkflowID)
	if !ok {
		return
	}
	wf, err := h.service.GetWorkflow(r.Context(), workflowID)
	if err != nil {
		h.fail(w, r, "get workflow failed", err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, "", wf)
}

func (h *Handler) HandleListWorkflows(w http.ResponseWriter, r *http.Request) {
	if _, ok := httputil.RequirePrincipal(w, r); !ok {
		return
	}
	activeOnly := r.URL.Query().Get("active_only") != "false"
	list, err := h.service.ListWorkflows(r.Context(), activeOnly)
	if err != nil {
		h.fail(w, r, "list workflows failed", err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, "", list)
}

func (h *Handler) HandleCreateRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := httputil.RequirePrincipal(w, r); !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[CreateRequestRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	a, err := h.service.CreateRequest(ctx, req.input)
	if err != nil {
		h.fail(w, r, "create approval request failed", err)
		return
	}
	httputil.WriteSuccess(w, http.StatusCreated, "approval request created", a)
}

func (h *Handler) HandleCreateComprehensive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := httputil.RequirePrincipal(w, r); !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[ComprehensiveRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	a, err := h.service.CreateComprehensive(ctx, req.input())
	if err != nil {
		h.fail(w, r, "create comprehensive approval failed", err)
		return
	}
	httputil.WriteSuccess(w, http.StatusCreated, "approval request created", a)
}

func (h *Handler) HandleGetApproval(w http.ResponseWriter, r *http.Request) {
	approvalID, ok := h.approvalID(w, r)
	if !ok {
		return
	}
	a, err := h.service.GetApproval(r.Context(), approvalID)
	if err != nil {
		h.fail(w, r, "get approval failed", err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, "", a)
}

// HandleListApprovals accepts status, requester_id, assignee_id,
// approval_type, workflow_id, limit and offset query parameters.
func (h *Handler) HandleListApprovals(w http.ResponseWriter, r *http.Request) {
	if _, ok := httputil.RequirePrincipal(w, r); !ok {
		return
	}
	filter, err := parseListFilter(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	list, total, err := h.service.ListApprovals(r.Context(), filter)
	if err != nil {
		h.fail(w, r, "list approvals failed", err)
		return
	}
	filter.Normalize()
	httputil.WriteSuccess(w, http.StatusOK, "", ListResponse{
		Approvals: list,
		Total:     total,
		Limit:     filter.Limit,
		Offset:    filter.Offset,
	})
}

func parseListFilter(r *http.Request) (workflow.ListFilter, error) {
	q := r.URL.Query()
	filter := workflow.ListFilter{
		Status:       workflow.RequestStatus(q.Get("status")),
		ApprovalType: workflow.ApprovalType(q.Get("approval_type")),
	}
	if v := q.Get("requester_id"); v != "" {
		userID, err := id.ParseUserID(v)
		if err != nil {
			return filter, err
		}
		filter.RequesterID = userID
	}
	if v := q.Get("assignee_id"); v != "" {
		userID, err := id.ParseUserID(v)
		if err != nil {
			return filter, err
		}
		filter.AssigneeID = userID
	}
	if v := q.Get("workflow_id"); v != "" {
		workflowID, err := id.ParseWorkflowID(v)
		if err != nil {
			return filter, err
		}
		filter.WorkflowID = workflowID
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

func (h *Handler) HandleMyStages(w http.ResponseWriter, r *http.Request) {
	if _, ok := httputil.RequirePrincipal(w, r); !ok {
		return
	}
	stages, err := h.service.ListMyStages(r.Context(), workflow.StageStatus(r.URL.Query().Get("status")))
	if err != nil {
		h.fail(w, r, "list my stages failed", err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, "", stages)
}

func (h *Handler) HandleAct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stageID, ok := h.stageID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[ActRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	res, err := h.service.Act(ctx, service.ActInput{
		StageID:         stageID,
		Action:          workflow.Action(req.Action),
		ResponseData:    req.ResponseData,
		RejectionReason: req.RejectionReason,
		Comments:        req.Comments,
	})
	if err != nil {
		h.fail(w, r, "stage action failed", err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, "stage "+string(res.Stage.Status), res)
}

func (h *Handler) HandleSaveDraft(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stageID, ok := h.stageID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[DraftRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	st, err := h.service.SaveStageDraft(ctx, stageID, req.ResponseData)
	if err != nil {
		h.fail(w, r, "save stage draft failed", err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, "draft saved", st)
}

func (h *Handler) HandleSaveScores(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stageID, ok := h.stageID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[ScoresRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	st, err := h.service.SaveReviewerScores(ctx, stageID, req.ReviewerScores)
	if err != nil {
		h.fail(w, r, "save reviewer scores failed", err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, "scores saved", st)
}

func (h *Handler) HandleFinalDecision(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	approvalID, ok := h.approvalID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[FinalDecisionRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	res, err := h.service.FinalDecision(ctx, service.FinalDecisionInput{
		ApprovalID:           approvalID,
		Decision:             workflow.Action(req.Decision),
		Reason:               req.Reason,
		OverallScoreOverride: req.OverallScoreOverride,
	})
	if err != nil {
		h.fail(w, r, "final decision failed", err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, "request "+string(res.Request.Status), res)
}

func (h *Handler) HandleAdminRejection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	approvalID, ok := h.approvalID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[AdminRejectionRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	res, err := h.service.AdminHandleRejection(ctx, service.AdminInput{
		ApprovalID: approvalID,
		Action:     workflow.AdminAction(req.Action),
		StageOrder: req.StageOrder,
		Comments:   req.Comments,
	})
	if err != nil {
		h.fail(w, r, "admin rejection handling failed", err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, "rejection handled", res)
}

func (h *Handler) HandleStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	approvalID, ok := h.approvalID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[StartRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	res, err := h.service.StartRequest(ctx, approvalID, req.Comments)
	if err != nil {
		h.fail(w, r, "start approval failed", err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, "request started", res)
}

func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	approvalID, ok := h.approvalID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[CancelRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	res, err := h.service.CancelRequest(ctx, approvalID, req.Reason)
	if err != nil {
		h.fail(w, r, "cancel approval failed", err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, "request cancelled", res)
}

func (h *Handler) HandleScorePreview(w http.ResponseWriter, r *http.Request) {
	approvalID, ok := h.approvalID(w, r)
	if !ok {
		return
	}
	preview, err := h.service.ScorePreview(r.Context(), approvalID)
	if err != nil {
		h.fail(w, r, "score preview failed", err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, "", preview)
}

func (h *Handler) HandleComputeScore(w http.ResponseWriter, r *http.Request) {
	approvalID, ok := h.approvalID(w, r)
	if !ok {
		return
	}
	scores, err := h.service.ComputeOverallScore(r.Context(), approvalID)
	if err != nil {
		h.fail(w, r, "compute overall score failed", err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, "overall score updated", scores)
}

func (h *Handler) approvalID(w http.ResponseWriter, r *http.Request) (id.ApprovalID, bool) {
	if _, ok := httputil.RequirePrincipal(w, r); !ok {
		return id.ApprovalID{}, false
	}
	return httputil.PathID(w, r, "approvalID", id.ParseApprovalID)
}

func (h *Handler) stageID(w http.ResponseWriter, r *http.Request) (id.StageID, bool) {
	if _, ok := httputil.RequirePrincipal(w, r); !ok {
		return id.StageID{}, false
	}
	return httputil.PathID(w, r, "stageID", id.ParseStageID)
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
