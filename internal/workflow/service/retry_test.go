package service

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"go.uber.org/mock/gomock"

	"grc/internal/notification"
	"grc/internal/workflow"
	"grc/internal/workflow/service/mocks"
	id "grc/pkg/domain"
	txcontext "grc/pkg/platform/tx"
)

var errSerialization = errors.New("could not serialize access due to concurrent update")

// retryingRunner commits nothing on the first attempt: it runs fn to
// completion, rolls it back with a serialization failure and runs fn again,
// the way the Postgres runner retries a conflicting transaction.
type retryingRunner struct {
	inner    txcontext.Runner
	attempts int
}

func (r *retryingRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	for {
		r.attempts++
		first := r.attempts == 1
		err := r.inner.RunInTx(ctx, func(ctx context.Context) error {
			if err := fn(ctx); err != nil {
				return err
			}
			if first {
				return errSerialization
			}
			return nil
		})
		if errors.Is(err, errSerialization) {
			continue
		}
		return err
	}
}

func (s *ServiceSuite) retryingService(notifier Notifier) (*Service, *retryingRunner) {
	runner := &retryingRunner{inner: s.tx}
	svc := New(s.workflows, s.versions, runner,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithNotifier(notifier),
		WithLifecycle(s.lifecycle),
	)
	return svc, runner
}

func (s *ServiceSuite) TestRetriedActNotifiesNextReviewerOnce() {
	a := s.createApproval(workflow.TypeSequential, nil)

	notifier := mocks.NewMockNotifier(s.ctrl)
	notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, msg notification.Message) error {
			s.Equal(notification.TypeApprovalStageAssigned, msg.Type)
			s.Equal(s.u2.UserID, msg.RecipientID)
			return nil
		}).Times(1)
	svc, runner := s.retryingService(notifier)

	res, err := svc.Act(s.as(s.u1), ActInput{StageID: a.Stages[0].ID, Action: workflow.ActionApprove})
	s.Require().NoError(err)
	s.Equal(2, runner.attempts)
	s.Require().NotNil(res.NextStage)
	s.Equal(a.Stages[1].ID, res.NextStage.ID)
	s.Empty(res.Warnings)

	vs := s.chain(a.Request.ID)
	s.Len(vs, 2)
	s.assertChain(vs)
}

func (s *ServiceSuite) TestRetriedCancelNotifiesEachReviewerOnce() {
	a := s.createApproval(workflow.TypeParallel, nil)

	got := map[id.UserID]int{}
	notifier := mocks.NewMockNotifier(s.ctrl)
	notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, msg notification.Message) error {
			s.Equal(notification.TypeApprovalCancelled, msg.Type)
			got[msg.RecipientID]++
			return nil
		}).Times(3)
	svc, runner := s.retryingService(notifier)

	res, err := svc.CancelRequest(s.as(s.requester), a.Request.ID, "vendor withdrew")
	s.Require().NoError(err)
	s.Equal(2, runner.attempts)
	s.Equal(workflow.StatusCancelled, res.Request.Status)
	s.Equal(map[id.UserID]int{s.u1.UserID: 1, s.u2.UserID: 1, s.u3.UserID: 1}, got)
	s.assertChain(s.chain(a.Request.ID))
}

func (s *ServiceSuite) TestRetriedCreateRequestNotifiesOnce() {
	wf, err := s.service.CreateWorkflow(s.as(s.admin), CreateWorkflowInput{
		Name:   "Vendor review",
		Type:   workflow.TypeSequential,
		Stages: []StageConfig{{Name: "Security", AssignedUserID: s.u1.UserID}, {Name: "Legal", AssignedUserID: s.u2.UserID}},
	})
	s.Require().NoError(err)

	notifier := mocks.NewMockNotifier(s.ctrl)
	notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, msg notification.Message) error {
			s.Equal(s.u1.UserID, msg.RecipientID)
			return nil
		}).Times(1)
	svc, runner := s.retryingService(notifier)

	a, err := svc.CreateRequest(s.as(s.requester), CreateRequestInput{WorkflowID: wf.ID, Title: "Review ACME Corp"})
	s.Require().NoError(err)
	s.Equal(2, runner.attempts)

	list, total, err := s.workflows.ListRequests(context.Background(), workflow.ListFilter{TenantID: s.tenantID, Limit: 10})
	s.Require().NoError(err)
	s.Equal(1, total)
	s.Require().Len(list, 1)
	s.Equal(a.Request.ID, list[0].ID)
	s.Len(s.chain(a.Request.ID), 1)
}
