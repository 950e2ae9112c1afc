package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"grc/internal/questionnaire"
	id "grc/pkg/domain"
	"grc/pkg/platform/sentinel"
	txcontext "grc/pkg/platform/tx"
)

// PostgresStore reads and scores questionnaires on the vendor database.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgres(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) conn(ctx context.Context) txcontext.Querier {
	return txcontext.Conn(ctx, s.db, txcontext.PoolVendor)
}

type assignmentRow struct {
	ID              id.AssignmentID    `db:"assignment_id"`
	TenantID        id.TenantID        `db:"tenant_id"`
	QuestionnaireID id.QuestionnaireID `db:"questionnaire_id"`
	TempVendorID    sql.NullInt64      `db:"temp_vendor"`
	Status          string             `db:"status"`
	OverallScore    sql.NullFloat64    `db:"overall_score"`
	ScoreOverridden bool               `db:"score_overridden"`
	UpdatedAt       time.Time          `db:"updated_at"`
}

func (s *PostgresStore) FindAssignment(ctx context.Context, tenantID id.TenantID, assignmentID id.AssignmentID) (*questionnaire.Assignment, error) {
	var row assignmentRow
	err := s.conn(ctx).GetContext(ctx, &row, `
		SELECT assignment_id, tenant_id, questionnaire_id, temp_vendor, status,
		       overall_score, score_overridden, updated_at
		FROM questionnaire_assignments
		WHERE assignment_id = $1 AND tenant_id = $2`, assignmentID, tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find assignment: %w", err)
	}
	a := &questionnaire.Assignment{
		ID:              row.ID,
		TenantID:        row.TenantID,
		QuestionnaireID: row.QuestionnaireID,
		Status:          row.Status,
		ScoreOverridden: row.ScoreOverridden,
		UpdatedAt:       row.UpdatedAt,
	}
	if row.TempVendorID.Valid {
		v := id.VendorID(row.TempVendorID.Int64)
		a.TempVendorID = &v
	}
	if row.OverallScore.Valid {
		a.OverallScore = &row.OverallScore.Float64
	}
	return a, nil
}

func (s *PostgresStore) ListQuestions(ctx context.Context, tenantID id.TenantID, questionnaireID id.QuestionnaireID) ([]*questionnaire.Question, error) {
	var rows []questionnaire.Question
	err := s.conn(ctx).SelectContext(ctx, &rows, `
		SELECT question_id AS id, questionnaire_id AS questionnaireid, tenant_id AS tenantid,
		       question_text AS text, scoring_weight AS scoringweight, question_order AS "order"
		FROM questionnaire_questions
		WHERE questionnaire_id = $1 AND tenant_id = $2
		ORDER BY question_order, question_id`, questionnaireID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	out := make([]*questionnaire.Question, len(rows))
	for i := range rows {
		out[i] = &rows[i]
	}
	return out, nil
}

func (s *PostgresStore) UpsertSubmissionScore(ctx context.Context, score questionnaire.SubmissionScore) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO questionnaire_response_submissions
			(tenant_id, assignment_id, question_id, score, percentage, reviewer_comment, scored_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (assignment_id, question_id) DO UPDATE SET
			score = EXCLUDED.score,
			percentage = EXCLUDED.percentage,
			reviewer_comment = EXCLUDED.reviewer_comment,
			scored_at = EXCLUDED.scored_at`,
		score.TenantID, int64(score.AssignmentID), int64(score.QuestionID),
		score.Score, score.Percentage, score.ReviewerComment, score.ScoredAt)
	if err != nil {
		return fmt.Errorf("upsert submission score: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateOverallScore(ctx context.Context, tenantID id.TenantID, assignmentID id.AssignmentID, score float64, overridden bool, now time.Time) error {
	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE questionnaire_assignments
		SET overall_score = $1, score_overridden = $2, updated_at = $3
		WHERE assignment_id = $4 AND tenant_id = $5`,
		score, overridden, now, int64(assignmentID), tenantID)
	if err != nil {
		return fmt.Errorf("update overall score: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) VendorForQuestionnaire(ctx context.Context, tenantID id.TenantID, questionnaireID id.QuestionnaireID) (id.VendorID, error) {
	return s.vendorLookup(ctx, `SELECT vendor_id FROM questionnaires WHERE questionnaire_id = $1 AND tenant_id = $2`,
		int64(questionnaireID), tenantID)
}

func (s *PostgresStore) VendorForAssignment(ctx context.Context, tenantID id.TenantID, assignmentID id.AssignmentID) (id.VendorID, error) {
	return s.vendorLookup(ctx, `SELECT temp_vendor FROM questionnaire_assignments WHERE assignment_id = $1 AND tenant_id = $2`,
		int64(assignmentID), tenantID)
}

func (s *PostgresStore) vendorLookup(ctx context.Context, query string, key int64, tenantID id.TenantID) (id.VendorID, error) {
	var vendor sql.NullInt64
	err := s.conn(ctx).GetContext(ctx, &vendor, query, key, tenantID)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !vendor.Valid) {
		return 0, sentinel.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("vendor lookup: %w", err)
	}
	return id.VendorID(vendor.Int64), nil
}
