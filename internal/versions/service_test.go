package versions_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"grc/internal/versions"
	"grc/internal/versions/store"
	id "grc/pkg/domain"
	dErrors "grc/pkg/domain-errors"
	audit "grc/pkg/platform/audit"
	auditpublisher "grc/pkg/platform/audit/publisher"
	auditmemory "grc/pkg/platform/audit/store/memory"
	"grc/pkg/platform/sentinel"
	txcontext "grc/pkg/platform/tx"
	"grc/pkg/requestcontext"
)

type stubApprovals struct {
	mu      sync.Mutex
	tenants map[id.ApprovalID]id.TenantID
}

func (a *stubApprovals) ApprovalTenant(_ context.Context, approvalID id.ApprovalID, _ bool) (id.TenantID, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.tenants[approvalID]
	if !ok {
		return id.TenantID{}, sentinel.ErrNotFound
	}
	return t, nil
}

type ServiceSuite struct {
	suite.Suite
	ctx       context.Context
	store     *store.InMemoryStore
	audit     *auditmemory.InMemoryStore
	approvals *stubApprovals
	tx        *txcontext.InMemory
	service   *versions.Service
	tenantID  id.TenantID
	approval  id.ApprovalID
	actor     versions.Actor
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = requestcontext.WithTime(context.Background(), time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	s.store = store.NewInMemoryStore()
	s.audit = auditmemory.NewInMemoryStore()
	s.tenantID = id.NewTenantID()
	s.approval = id.NewApprovalID()
	s.approvals = &stubApprovals{tenants: map[id.ApprovalID]id.TenantID{s.approval: s.tenantID}}
	s.actor = versions.Actor{ID: id.NewUserID(), Name: "Reviewer One", Role: "reviewer"}

	s.tx = txcontext.NewInMemory(s.store, s.audit)
	s.service = versions.NewService(s.store, s.approvals, s.tx,
		versions.WithAuditPublisher(auditpublisher.NewPublisher(s.audit)))
}

func (s *ServiceSuite) appendVersion(t versions.VersionType, label string, payload map[string]any) *versions.Version {
	v, err := s.service.AppendVersion(s.ctx, versions.AppendRequest{
		TenantID:   s.tenantID,
		ApprovalID: s.approval,
		Type:       t,
		Label:      label,
		Payload:    payload,
		Actor:      s.actor,
	})
	s.Require().NoError(err)
	return v
}

func (s *ServiceSuite) TestAppendChainsVersions() {
	v1 := s.appendVersion(versions.TypeInitial, "Initial Submission", map[string]any{"approval_type": "generic"})
	v2 := s.appendVersion(versions.TypeRevision, "Stage 1: Legal - Approved", map[string]any{"approval_type": "generic"})
	v3 := s.appendVersion(versions.TypeFinal, "Stage 2: Finance - Approved", map[string]any{"approval_type": "generic"})

	s.Equal(1, v1.Number)
	s.Nil(v1.ParentID)
	s.Equal(2, v2.Number)
	s.Require().NotNil(v2.ParentID)
	s.Equal(v1.ID, *v2.ParentID)
	s.Equal(v2.ID, *v3.ParentID)

	list, err := s.service.ListVersions(s.ctx, s.tenantID, s.approval)
	s.Require().NoError(err)
	s.Require().Len(list, 3)
	s.False(list[0].IsCurrent)
	s.False(list[1].IsCurrent)
	s.True(list[2].IsCurrent)

	current, err := s.service.GetCurrent(s.ctx, s.tenantID, s.approval)
	s.Require().NoError(err)
	s.Equal(v3.ID, current.ID)

	s.Equal([]audit.EventName{audit.EventVersionAppended, audit.EventVersionAppended, audit.EventVersionAppended}, s.audit.Names())
}

func (s *ServiceSuite) TestHistoryNewestFirst() {
	s.appendVersion(versions.TypeInitial, "Initial Submission", nil)
	s.appendVersion(versions.TypeRevision, "Stage Legal Rejected", nil)
	s.appendVersion(versions.TypeRevision, "Admin restart", nil)

	h, err := s.service.GetHistory(s.ctx, s.tenantID, s.approval)
	s.Require().NoError(err)
	s.Equal(3, h.CurrentVersion)
	s.Equal(3, h.TotalVersions)
	s.Require().Len(h.Versions, 3)
	s.Equal(3, h.Versions[0].Number)
	s.Equal(1, h.Versions[2].Number)
}

func (s *ServiceSuite) TestCompareVersions() {
	v1 := s.appendVersion(versions.TypeInitial, "Initial Submission", map[string]any{"a": 1, "b": "x"})
	v2 := s.appendVersion(versions.TypeRevision, "Edit", map[string]any{"a": 2, "c": true})

	diff, err := s.service.CompareVersions(s.ctx, s.tenantID, v1.ID, v2.ID)
	s.Require().NoError(err)
	s.Equal([]string{"c"}, diff.Added)
	s.Equal([]string{"b"}, diff.Removed)
	s.Equal([]string{"a"}, diff.Changed)
	s.Equal(1, diff.From)
	s.Equal(2, diff.To)
}

func (s *ServiceSuite) TestTenantIsolation() {
	v := s.appendVersion(versions.TypeInitial, "Initial Submission", nil)
	other := id.NewTenantID()

	_, err := s.service.ListVersions(s.ctx, other, s.approval)
	s.True(dErrors.HasCode(err, dErrors.CodeTenantIsolation))

	_, err = s.service.GetVersion(s.ctx, other, v.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeTenantIsolation))

	_, err = s.service.AppendVersion(s.ctx, versions.AppendRequest{
		TenantID: other, ApprovalID: s.approval, Type: versions.TypeRevision, Label: "x", Actor: s.actor,
	})
	s.True(dErrors.HasCode(err, dErrors.CodeTenantIsolation))

	list, err := s.service.ListVersions(s.ctx, s.tenantID, s.approval)
	s.Require().NoError(err)
	s.Len(list, 1)
}

func (s *ServiceSuite) TestUnknownApproval() {
	_, err := s.service.AppendVersion(s.ctx, versions.AppendRequest{
		TenantID: s.tenantID, ApprovalID: id.NewApprovalID(), Type: versions.TypeInitial, Label: "x", Actor: s.actor,
	})
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ServiceSuite) TestAppendValidation() {
	cases := []struct {
		name string
		req  versions.AppendRequest
	}{
		{"bad type", versions.AppendRequest{TenantID: s.tenantID, ApprovalID: s.approval, Type: "DRAFT", Label: "x", Actor: s.actor}},
		{"no label", versions.AppendRequest{TenantID: s.tenantID, ApprovalID: s.approval, Type: versions.TypeRevision, Actor: s.actor}},
		{"no author", versions.AppendRequest{TenantID: s.tenantID, ApprovalID: s.approval, Type: versions.TypeRevision, Label: "x"}},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			_, err := s.service.AppendVersion(s.ctx, tc.req)
			s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		})
	}
}

// A failing step after the append rolls the whole transaction back, so the
// chain never shows a version the caller did not commit.
func (s *ServiceSuite) TestAppendRollsBackWithCaller() {
	s.appendVersion(versions.TypeInitial, "Initial Submission", nil)

	err := s.tx.RunInTx(s.ctx, func(ctx context.Context) error {
		if _, err := s.service.AppendVersion(ctx, versions.AppendRequest{
			TenantID: s.tenantID, ApprovalID: s.approval, Type: versions.TypeRevision, Label: "x", Actor: s.actor,
		}); err != nil {
			return err
		}
		return dErrors.New(dErrors.CodeStateConflict, "later step failed")
	})
	s.Require().Error(err)

	list, err := s.service.ListVersions(s.ctx, s.tenantID, s.approval)
	s.Require().NoError(err)
	s.Len(list, 1)
	s.True(list[0].IsCurrent)
}

func TestConcurrentAppendsKeepNumbersContiguous(t *testing.T) {
	versionStore := store.NewInMemoryStore()
	tenantID, approvalID := id.NewTenantID(), id.NewApprovalID()
	approvals := &stubApprovals{tenants: map[id.ApprovalID]id.TenantID{approvalID: tenantID}}
	svc := versions.NewService(versionStore, approvals, txcontext.NewInMemory(versionStore))

	const writers = 25
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.AppendVersion(context.Background(), versions.AppendRequest{
				TenantID:   tenantID,
				ApprovalID: approvalID,
				Type:       versions.TypeRevision,
				Label:      "concurrent",
				Actor:      versions.Actor{ID: id.NewUserID()},
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	list, err := svc.ListVersions(context.Background(), tenantID, approvalID)
	require.NoError(t, err)
	require.Len(t, list, writers)

	current := 0
	for i, v := range list {
		assert.Equal(t, i+1, v.Number)
		if v.IsCurrent {
			current++
		}
		if i > 0 {
			require.NotNil(t, v.ParentID)
			assert.Equal(t, list[i-1].ID, *v.ParentID)
		}
	}
	assert.Equal(t, 1, current)
}
