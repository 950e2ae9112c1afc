//go:build integration

package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"golang.org/x/sync/errgroup"

	"grc/internal/platform/database"
	"grc/internal/versions"
	wfstore "grc/internal/workflow/store"
	id "grc/pkg/domain"
	txcontext "grc/pkg/platform/tx"
	"grc/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres  *containers.PostgresContainer
	store     *PostgresStore
	approvals *wfstore.PostgresStore
	tx        *database.TxRunner
	tenantID  id.TenantID
	actorID   id.UserID
	now       time.Time
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = NewPostgres(s.postgres.Vendor)
	s.approvals = wfstore.NewPostgres(s.postgres.Vendor)
	s.tx = s.postgres.Router().Runner(txcontext.PoolVendor)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), s.postgres.Vendor,
		"approval_request_versions", "approval_stages", "approval_requests", "approval_workflows"))
	s.tenantID = id.NewTenantID()
	s.actorID = id.NewUserID()
	s.now = time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
}

// newApproval inserts the workflow and request rows a version chain hangs
// off.
func (s *PostgresStoreSuite) newApproval() id.ApprovalID {
	ctx := context.Background()
	workflowID, approvalID := id.NewWorkflowID(), id.NewApprovalID()
	_, err := s.postgres.Vendor.ExecContext(ctx, `
		INSERT INTO approval_workflows (workflow_id, tenant_id, workflow_name, workflow_type, created_by, created_at, updated_at)
		VALUES ($1, $2, 'Vendor review', 'SEQUENTIAL', $3, $4, $4)`,
		workflowID, s.tenantID, s.actorID, s.now)
	s.Require().NoError(err)
	_, err = s.postgres.Vendor.ExecContext(ctx, `
		INSERT INTO approval_requests (approval_id, tenant_id, workflow_id, request_title, requester_id, priority,
			overall_status, submission_date, updated_at)
		VALUES ($1, $2, $3, 'Review ACME Corp', $4, 'MEDIUM', 'PENDING', $5, $5)`,
		approvalID, s.tenantID, workflowID, s.actorID, s.now)
	s.Require().NoError(err)
	return approvalID
}

func (s *PostgresStoreSuite) newVersion(approvalID id.ApprovalID, label string) *versions.Version {
	return &versions.Version{
		ID:            id.NewVersionID(),
		ApprovalID:    approvalID,
		TenantID:      s.tenantID,
		Label:         label,
		Type:          versions.TypeRevision,
		Payload:       map[string]any{"label": label},
		CreatedBy:     s.actorID,
		CreatedByName: "Reviewer",
		CreatedByRole: "reviewer",
		CreatedAt:     s.now,
	}
}

// appendLocked appends the way the version service does: lock the approval
// row, then append in the same transaction.
func (s *PostgresStoreSuite) appendLocked(ctx context.Context, v *versions.Version) error {
	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := s.approvals.ApprovalTenant(ctx, v.ApprovalID, true); err != nil {
			return err
		}
		return s.store.Append(ctx, v)
	})
}

func (s *PostgresStoreSuite) assertChain(list []*versions.Version) {
	current := 0
	for i, v := range list {
		s.Equal(i+1, v.Number)
		if v.IsCurrent {
			current++
			s.Equal(len(list), v.Number, "only the head is current")
		}
		if i == 0 {
			s.Nil(v.ParentID)
			continue
		}
		s.Require().NotNil(v.ParentID)
		s.Equal(list[i-1].ID, *v.ParentID)
	}
	s.Equal(1, current)
}

func (s *PostgresStoreSuite) TestAppendRoundTrip() {
	ctx := context.Background()
	approvalID := s.newApproval()

	first := s.newVersion(approvalID, "Initial Submission")
	first.Type = versions.TypeInitial
	s.Require().NoError(s.appendLocked(ctx, first))
	second := s.newVersion(approvalID, "Stage 1: Security - Approved")
	s.Require().NoError(s.appendLocked(ctx, second))

	s.Equal(2, second.Number)
	s.Require().NotNil(second.ParentID)
	s.Equal(first.ID, *second.ParentID)

	current, err := s.store.FindCurrent(ctx, approvalID)
	s.Require().NoError(err)
	s.Equal(second.ID, current.ID)
	s.Equal(map[string]any{"label": "Stage 1: Security - Approved"}, current.Payload)

	got, err := s.store.FindByID(ctx, first.ID)
	s.Require().NoError(err)
	s.False(got.IsCurrent)
	s.Equal(versions.TypeInitial, got.Type)

	_, err = s.store.FindCurrent(ctx, s.newApproval())
	s.ErrorIs(err, ErrNotFound)
}

func (s *PostgresStoreSuite) TestAppendOutsideTransactionFails() {
	err := s.store.Append(context.Background(), s.newVersion(s.newApproval(), "Initial Submission"))
	s.ErrorIs(err, errNoTransaction)
}

func (s *PostgresStoreSuite) TestConcurrentAppendersKeepChainContiguous() {
	ctx := context.Background()
	approvalID := s.newApproval()
	other := s.newApproval()

	const writers = 12
	g, gctx := errgroup.WithContext(ctx)
	for i := range writers {
		g.Go(func() error {
			target := approvalID
			if i%4 == 3 {
				target = other
			}
			return s.appendLocked(gctx, s.newVersion(target, fmt.Sprintf("writer %d", i)))
		})
	}
	s.Require().NoError(g.Wait())

	list, err := s.store.ListByApproval(ctx, approvalID)
	s.Require().NoError(err)
	s.Len(list, 9)
	s.assertChain(list)

	list, err = s.store.ListByApproval(ctx, other)
	s.Require().NoError(err)
	s.Len(list, 3)
	s.assertChain(list)
}

func (s *PostgresStoreSuite) TestSingleCurrentVersionIsEnforced() {
	ctx := context.Background()
	approvalID := s.newApproval()
	first := s.newVersion(approvalID, "Initial Submission")
	s.Require().NoError(s.appendLocked(ctx, first))
	s.Require().NoError(s.appendLocked(ctx, s.newVersion(approvalID, "Revision")))

	_, err := s.postgres.Vendor.ExecContext(ctx,
		`UPDATE approval_request_versions SET is_current = true WHERE version_id = $1`, first.ID)
	s.Require().Error(err)
	s.True(database.IsUniqueViolation(err), "want unique violation, got %v", err)

	dup := s.newVersion(approvalID, "Duplicate number")
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		conn, _ := txcontext.From(ctx, txcontext.PoolVendor)
		_, err := conn.ExecContext(ctx, `
			INSERT INTO approval_request_versions (version_id, approval_id, tenant_id, version_number, version_label,
				version_type, created_by, is_current, created_at)
			VALUES ($1, $2, $3, 2, $4, 'REVISION', $5, false, $6)`,
			dup.ID, approvalID, s.tenantID, dup.Label, s.actorID, s.now)
		return err
	})
	s.Require().Error(err)
	s.True(database.IsUniqueViolation(err), "want unique violation, got %v", err)

	list, err := s.store.ListByApproval(ctx, approvalID)
	s.Require().NoError(err)
	s.Len(list, 2)
	s.assertChain(list)
}
