package service

import (
	"context"
	"slices"
	"strings"
	"time"

	"grc/internal/questionnaire"
	"grc/internal/workflow"
	"grc/internal/workflow/scoring"
	id "grc/pkg/domain"
	dErrors "grc/pkg/domain-errors"
	"grc/pkg/requestcontext"
)

// QuestionScore is the aggregated result for one question.
type QuestionScore struct {
	QuestionID    id.QuestionID `json:"question_id"`
	ScoringWeight float64       `json:"scoring_weight"`
	MaxScore      float64       `json:"max_score"`
	Score         float64       `json:"score"`
	Percentage    float64       `json:"percentage"`
	Reviewers     int           `json:"reviewers"`
	Weights       []float64     `json:"weights,omitempty"`
	Fallback      bool          `json:"fallback"`
	Comment       string        `json:"reviewer_comment,omitempty"`
}

// ScoreBreakdown is the weighted aggregation over every question of an
// assignment.
type ScoreBreakdown struct {
	AssignmentID id.AssignmentID `json:"assignment_id"`
	Questions    []QuestionScore `json:"questions"`
	OverallScore float64         `json:"overall_score"`
	Overridden   bool            `json:"score_overridden"`
}

type PreviewQuestion struct {
	QuestionID   string   `json:"question_id"`
	AverageScore float64  `json:"average_score"`
	Reviewers    int      `json:"reviewers"`
	Percentage   *float64 `json:"percentage,omitempty"`
}

// ScorePreview shows per-question averages while a decision is pending.
// Percentages and the overall score need the questionnaire's weights and are
// omitted when the approval has no assignment.
type ScorePreview struct {
	ApprovalID   id.ApprovalID     `json:"approval_id"`
	Questions    []PreviewQuestion `json:"questions"`
	OverallScore *float64          `json:"overall_score,omitempty"`
}

// ScorePreview averages reviewer scores across stages that are APPROVED or
// still IN_PROGRESS.
func (s *Service) ScorePreview(ctx context.Context, approvalID id.ApprovalID) (*ScorePreview, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	a, err := s.loadApproval(ctx, p.TenantID, approvalID, false)
	if err != nil {
		return nil, err
	}

	perQuestion := map[string][]float64{}
	for _, st := range a.Stages {
		if st.Status != workflow.StageApproved && st.Status != workflow.StageInProgress {
			continue
		}
		for qid, sc := range st.ResponseData.ReviewerScores() {
			perQuestion[qid] = append(perQuestion[qid], sc.Score)
		}
	}

	preview := &ScorePreview{ApprovalID: approvalID, Questions: []PreviewQuestion{}}
	qids := make([]string, 0, len(perQuestion))
	for qid := range perQuestion {
		qids = append(qids, qid)
	}
	slices.Sort(qids)

	weights := s.previewWeights(ctx, a.Request)
	var results []scoring.QuestionResult
	for _, qid := range qids {
		avg, _ := scoring.Average(perQuestion[qid])
		pq := PreviewQuestion{QuestionID: qid, AverageScore: scoring.Round2(avg), Reviewers: len(perQuestion[qid])}
		if w, ok := weights[qid]; ok {
			pct := scoring.Round2(scoring.Percentage(avg, w))
			pq.Percentage = &pct
		}
		preview.Questions = append(preview.Questions, pq)
	}
	if weights != nil {
		for qid, w := range weights {
			score := scoring.FallbackScore(w)
			if avg, ok := scoring.Average(perQuestion[qid]); ok {
				score = avg
			}
			results = append(results, scoring.QuestionResult{Score: score, ScoringWeight: w})
		}
		overall := scoring.Round2(scoring.Overall(results))
		preview.OverallScore = &overall
	}
	return preview, nil
}

// previewWeights returns scoring weights keyed by question id, or nil when
// they cannot be loaded. Preview is best-effort.
func (s *Service) previewWeights(ctx context.Context, req *workflow.Request) map[string]float64 {
	if s.questionnaires == nil {
		return nil
	}
	assignmentID, ok := req.RequestData.AssignmentID()
	if !ok {
		return nil
	}
	assignment, err := s.questionnaires.FindAssignment(ctx, req.TenantID, assignmentID)
	if err != nil {
		s.logger.DebugContext(ctx, "score preview without weights", "approval_id", req.ID.String(), "error", err)
		return nil
	}
	questions, err := s.questionnaires.ListQuestions(ctx, req.TenantID, assignment.QuestionnaireID)
	if err != nil || len(questions) == 0 {
		return nil
	}
	out := make(map[string]float64, len(questions))
	for _, q := range questions {
		out[q.ID.String()] = q.ScoringWeight
	}
	return out
}

// ComputeOverallScore aggregates the weighted score of a parallel response
// approval and stores it on the questionnaire assignment. Requester or admin.
func (s *Service) ComputeOverallScore(ctx context.Context, approvalID id.ApprovalID) (*ScoreBreakdown, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	var breakdown *ScoreBreakdown
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		a, err := s.loadApproval(ctx, p.TenantID, approvalID, true)
		if err != nil {
			return err
		}
		if a.Request.RequesterID != p.UserID && !p.IsAdmin() {
			return dErrors.New(dErrors.CodeForbidden, "only the requester can compute the overall score")
		}
		if a.Workflow.Type != workflow.TypeParallel || a.Request.RequestData.ApprovalType() != workflow.ApprovalResponse {
			return dErrors.New(dErrors.CodeStateConflict, "overall scores apply to parallel response approvals only")
		}
		assignmentID, err := s.assignmentFor(a.Request)
		if err != nil {
			return err
		}
		breakdown, err = s.aggregate(ctx, p.TenantID, assignmentID, a.Stages)
		if err != nil {
			return err
		}
		now := requestcontext.Now(ctx)
		if err := s.questionnaires.UpdateOverallScore(ctx, p.TenantID, assignmentID, breakdown.OverallScore, false, now); err != nil {
			return storeErr(err, "questionnaire assignment")
		}
		return nil
	})
	if err != nil {
		return nil, txErr(err, "failed to compute overall score")
	}
	return breakdown, nil
}

func (s *Service) assignmentFor(req *workflow.Request) (id.AssignmentID, error) {
	if s.questionnaires == nil {
		return 0, dErrors.New(dErrors.CodeInternal, "questionnaire store is not configured")
	}
	assignmentID, ok := req.RequestData.AssignmentID()
	if !ok {
		return 0, dErrors.New(dErrors.CodeValidation, "request_data.questionnaire_assignment_id is required")
	}
	return assignmentID, nil
}

// aggregate combines every reviewer's score per question with weights
// derived from the stages' weightage. Questions nobody scored get the
// fallback score.
func (s *Service) aggregate(ctx context.Context, tenantID id.TenantID, assignmentID id.AssignmentID, stages []*workflow.Stage) (*ScoreBreakdown, error) {
	assignment, err := s.questionnaires.FindAssignment(ctx, tenantID, assignmentID)
	if err != nil {
		return nil, storeErr(err, "questionnaire assignment")
	}
	questions, err := s.questionnaires.ListQuestions(ctx, tenantID, assignment.QuestionnaireID)
	if err != nil {
		return nil, storeErr(err, "questions")
	}

	stageScores := make([]map[string]workflow.ReviewerScore, len(stages))
	for i, st := range stages {
		stageScores[i] = st.ResponseData.ReviewerScores()
	}

	out := &ScoreBreakdown{AssignmentID: assignmentID, Questions: make([]QuestionScore, 0, len(questions))}
	results := make([]scoring.QuestionResult, 0, len(questions))
	for _, q := range questions {
		key := q.ID.String()
		var (
			contribs []scoring.Contribution
			comments []string
		)
		for i, st := range stages {
			sc, ok := stageScores[i][key]
			if !ok {
				continue
			}
			contribs = append(contribs, scoring.Contribution{Score: sc.Score, Weightage: st.Weightage})
			if c := strings.TrimSpace(sc.Comment); c != "" {
				comments = append(comments, c)
			}
		}

		qs := QuestionScore{
			QuestionID:    q.ID,
			ScoringWeight: q.ScoringWeight,
			MaxScore:      scoring.MaxScore(q.ScoringWeight),
			Reviewers:     len(contribs),
			Comment:       strings.Join(comments, "; "),
		}
		if len(contribs) == 0 {
			qs.Score = scoring.FallbackScore(q.ScoringWeight)
			qs.Fallback = true
		} else {
			qs.Score, qs.Weights = scoring.WeightedScore(contribs)
		}
		qs.Percentage = scoring.Round2(scoring.Percentage(qs.Score, q.ScoringWeight))
		results = append(results, scoring.QuestionResult{Score: qs.Score, ScoringWeight: q.ScoringWeight})
		qs.Score = scoring.Round2(qs.Score)
		out.Questions = append(out.Questions, qs)
	}
	out.OverallScore = scoring.Round2(scoring.Overall(results))
	return out, nil
}

func (s *Service) writeScores(ctx context.Context, tenantID id.TenantID, b *ScoreBreakdown, now time.Time) error {
	for _, q := range b.Questions {
		err := s.questionnaires.UpsertSubmissionScore(ctx, questionnaire.SubmissionScore{
			TenantID:        tenantID,
			AssignmentID:    b.AssignmentID,
			QuestionID:      q.QuestionID,
			Score:           q.Score,
			Percentage:      q.Percentage,
			ReviewerComment: q.Comment,
			ScoredAt:        now,
		})
		if err != nil {
			return storeErr(err, "response submission")
		}
	}
	return nil
}
