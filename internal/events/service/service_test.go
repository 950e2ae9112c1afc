package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"grc/internal/events"
	"grc/internal/events/jira"
	"grc/internal/events/service/mocks"
	evstore "grc/internal/events/store"
	"grc/internal/notification"
	"grc/internal/storage"
	"grc/internal/users"
	userstore "grc/internal/users/store"
	id "grc/pkg/domain"
	dErrors "grc/pkg/domain-errors"
	audit "grc/pkg/platform/audit"
	auditpublisher "grc/pkg/platform/audit/publisher"
	auditmemory "grc/pkg/platform/audit/store/memory"
	"grc/pkg/platform/sentinel"
	txcontext "grc/pkg/platform/tx"
	"grc/pkg/requestcontext"
)

type EventsSuite struct {
	suite.Suite
	ctrl     *gomock.Controller
	jira     *mocks.MockJira
	notifier *mocks.MockNotifier

	store   *evstore.InMemoryStore
	objects *storage.InMemory
	audit   *auditmemory.InMemoryStore
	service *Service

	now      time.Time
	tenantID id.TenantID
	admin    requestcontext.Principal
	owner    requestcontext.Principal
	reviewer requestcontext.Principal
	outsider requestcontext.Principal
}

func TestEventsSuite(t *testing.T) {
	suite.Run(t, new(EventsSuite))
}

func (s *EventsSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.jira = mocks.NewMockJira(s.ctrl)
	s.notifier = mocks.NewMockNotifier(s.ctrl)

	s.now = time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)
	s.tenantID = id.NewTenantID()
	s.admin = s.principal("admin", requestcontext.RoleAdmin)
	s.owner = s.principal("owner", "user")
	s.reviewer = s.principal("reviewer", "user")
	s.outsider = requestcontext.Principal{UserID: id.NewUserID(), Username: "other", TenantID: id.NewTenantID(), Roles: []string{requestcontext.RoleAdmin}}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	userStore := userstore.NewInMemoryStore()
	for _, p := range []requestcontext.Principal{s.admin, s.owner, s.reviewer} {
		userStore.Save(users.User{ID: p.UserID, TenantID: p.TenantID, Username: p.Username, Email: p.Username + "@example.com", IsActive: true})
	}

	s.store = evstore.NewInMemoryStore()
	s.objects = storage.NewInMemory("https://s3.local")
	s.audit = auditmemory.NewInMemoryStore()
	tx := txcontext.NewInMemory(s.store, s.audit)
	s.service = New(s.store, tx,
		WithLogger(logger),
		WithStorage(s.objects),
		WithJira(s.jira),
		WithNotifier(s.notifier),
		WithDirectory(users.NewDirectory(userStore, logger)),
		WithAuditPublisher(auditpublisher.NewPublisher(s.audit)),
	)
}

func (s *EventsSuite) principal(name string, roles ...string) requestcontext.Principal {
	return requestcontext.Principal{UserID: id.NewUserID(), Username: name, TenantID: s.tenantID, Roles: roles}
}

func (s *EventsSuite) as(p requestcontext.Principal) context.Context {
	return requestcontext.WithTime(requestcontext.WithPrincipal(context.Background(), p), s.now)
}

func (s *EventsSuite) allowNotifications() {
	s.notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
}

func ofType(t notification.Type) gomock.Matcher {
	return gomock.Cond(func(msg notification.Message) bool {
		return msg.Type == t
	})
}

// seedEvent creates an event owned by s.owner with s.reviewer assigned.
func (s *EventsSuite) seedEvent(title string, evidence ...string) *events.Event {
	e := events.NewEvent(s.tenantID, s.owner.UserID, s.now.Add(-time.Hour))
	e.Title = title
	reviewer := s.reviewer.UserID
	e.ReviewerID = &reviewer
	for _, tok := range evidence {
		e.Evidence = e.Evidence.Add(tok)
	}
	e.EvidenceCount = e.Evidence.Count()
	s.Require().NoError(s.store.CreateEvent(context.Background(), e))
	return e
}

func (s *EventsSuite) seedFileOperation(fid id.FileOperationID, eventID id.EventID, name, url string) {
	entity := int64(eventID)
	s.store.SaveFileOperation(events.FileOperation{
		ID:           fid,
		TenantID:     s.tenantID,
		UserID:       s.owner.UserID,
		Module:       events.Module,
		EntityID:     &entity,
		S3URL:        url,
		S3Key:        "k/" + name,
		OriginalName: name,
		StoredName:   "stored_" + name,
		FileType:     "pdf",
		FileSize:     1024,
		Status:       events.FileOperationCompleted,
		CreatedAt:    s.now,
	})
}

func (s *EventsSuite) TestEvidenceDetails_ResolvesURLsAndFileOperations() {
	e := s.seedEvent("Access review", "https://s3/a.pdf", "#linked-event-file_op_17")
	s.seedFileOperation(17, e.ID, "Board minutes.pdf", "https://s3/t/uuid_minutes.pdf")

	details, err := s.service.GetEventEvidenceDetails(s.as(s.owner), e.ID)
	s.Require().NoError(err)
	s.Require().Len(details, 2)

	s.Equal("a.pdf", details[0].Filename)
	s.Equal("https://s3/a.pdf", details[0].URL)
	s.Equal(events.SourceS3, details[0].Source)

	s.Equal("Board minutes.pdf", details[1].Filename)
	s.Equal("https://s3/t/uuid_minutes.pdf", details[1].URL)
	s.Equal(events.SourceFileOperation, details[1].Source)
	s.Require().NotNil(details[1].FileOperationID)
	s.Equal(id.FileOperationID(17), *details[1].FileOperationID)
}

func (s *EventsSuite) TestEvidenceDetails_SkipsMissingReferences() {
	e := s.seedEvent("Access review", "#linked-event-file_op_99", "https://s3/b.pdf")

	details, err := s.service.GetEventEvidenceDetails(s.as(s.owner), e.ID)
	s.Require().NoError(err)
	s.Require().Len(details, 1)
	s.Equal("b.pdf", details[0].Filename)
}

func (s *EventsSuite) TestCreateEvent_NotifiesOwnerAndReviewer() {
	s.notifier.EXPECT().Notify(gomock.Any(), ofType(notification.TypeEventCreated)).
		DoAndReturn(func(_ context.Context, msg notification.Message) error {
			s.Equal(s.owner.UserID, msg.RecipientID)
			s.Equal("owner@example.com", msg.RecipientEmail)
			return nil
		})
	s.notifier.EXPECT().Notify(gomock.Any(), ofType(notification.TypeEventAssigned)).
		DoAndReturn(func(_ context.Context, msg notification.Message) error {
			s.Equal(s.reviewer.UserID, msg.RecipientID)
			return nil
		})

	reviewer := s.reviewer.UserID
	e, err := s.service.CreateEvent(s.as(s.admin), CreateEventInput{
		Title:      " Quarterly access review ",
		OwnerID:    s.owner.UserID,
		ReviewerID: &reviewer,
		Evidence:   []string{"https://s3/a.pdf", "https://s3/a.pdf"},
	})
	s.Require().NoError(err)
	s.Equal("Quarterly access review", e.Title)
	s.Equal(events.StatusUnderReview, e.Status)
	s.Equal(s.admin.UserID, e.CreatedBy)
	s.Equal(2, e.EvidenceCount)
	s.NotZero(e.ID)
}

func (s *EventsSuite) TestCreateEvent_Validation() {
	_, err := s.service.CreateEvent(s.as(s.owner), CreateEventInput{Title: "  "})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	_, err = s.service.CreateEvent(s.as(s.owner), CreateEventInput{Title: "x", Evidence: []string{"a;b"}})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	start, end := s.now, s.now.Add(-24*time.Hour)
	_, err = s.service.CreateEvent(s.as(s.owner), CreateEventInput{Title: "x", StartDate: &start, EndDate: &end})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	_, err = s.service.CreateEvent(context.Background(), CreateEventInput{Title: "x"})
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func (s *EventsSuite) TestApprove_AssignedReviewerOnly() {
	e := s.seedEvent("Firewall review")

	_, err := s.service.ApproveEvent(s.as(s.owner), e.ID, "")
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	_, err = s.service.ApproveEvent(s.as(s.admin), e.ID, "")
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden), "admins are not reviewers")

	s.notifier.EXPECT().Notify(gomock.Any(), ofType(notification.TypeEventStatusChanged)).
		DoAndReturn(func(_ context.Context, msg notification.Message) error {
			s.Equal(s.owner.UserID, msg.RecipientID)
			s.Equal("Approved", msg.Args["status"])
			s.Equal("Under Review", msg.Args["previous_status"])
			return nil
		})
	approved, err := s.service.ApproveEvent(s.as(s.reviewer), e.ID, "looks good")
	s.Require().NoError(err)
	s.Equal(events.StatusApproved, approved.Status)
	s.Equal("looks good", approved.ReviewerComments)
	s.Equal(s.now, *approved.ReviewedAt)
	s.Contains(s.audit.Names(), audit.EventEventStatusChanged)

	_, err = s.service.ApproveEvent(s.as(s.reviewer), e.ID, "")
	s.True(dErrors.HasCode(err, dErrors.CodeStateConflict))
}

func (s *EventsSuite) TestReject_RequiresComments() {
	e := s.seedEvent("Firewall review")

	_, err := s.service.RejectEvent(s.as(s.reviewer), e.ID, " ")
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	s.allowNotifications()
	rejected, err := s.service.RejectEvent(s.as(s.reviewer), e.ID, "missing sign-off")
	s.Require().NoError(err)
	s.Equal(events.StatusRejected, rejected.Status)

	resubmitted, err := s.service.AddEvidence(s.as(s.owner), e.ID, "https://s3/signoff.pdf")
	s.Require().NoError(err)
	s.Equal(events.StatusPendingReview, resubmitted.Status)

	again, err := s.service.ApproveEvent(s.as(s.reviewer), e.ID, "")
	s.Require().NoError(err)
	s.Equal(events.StatusApproved, again.Status)
}

func (s *EventsSuite) TestAssignReviewer() {
	e := s.seedEvent("Vendor SLA")
	newReviewer := s.principal("second", "user")

	_, err := s.service.AssignReviewer(s.as(s.reviewer), e.ID, newReviewer.UserID)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

	s.notifier.EXPECT().Notify(gomock.Any(), ofType(notification.TypeEventAssigned)).Return(nil)
	updated, err := s.service.AssignReviewer(s.as(s.owner), e.ID, newReviewer.UserID)
	s.Require().NoError(err)
	s.True(updated.IsReviewer(newReviewer.UserID))

	_, err = s.service.ApproveEvent(s.as(s.reviewer), e.ID, "")
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden), "previous reviewer lost access")
}

func (s *EventsSuite) TestEvidenceEdits() {
	e := s.seedEvent("DR test", "https://s3/a.pdf", "https://s3/b.pdf", "https://s3/a.pdf")

	updated, err := s.service.AddEvidence(s.as(s.reviewer), e.ID, " https://s3/c.pdf ")
	s.Require().NoError(err)
	s.Equal(events.Evidence{"https://s3/a.pdf", "https://s3/b.pdf", "https://s3/a.pdf", "https://s3/c.pdf"}, updated.Evidence)

	updated, err = s.service.RemoveEvidence(s.as(s.owner), e.ID, "https://s3/a.pdf")
	s.Require().NoError(err)
	s.Equal(events.Evidence{"https://s3/b.pdf", "https://s3/c.pdf"}, updated.Evidence)
	s.Equal(2, updated.EvidenceCount)

	_, err = s.service.RemoveEvidence(s.as(s.owner), e.ID, "https://s3/a.pdf")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	_, err = s.service.AddEvidence(s.as(s.principal("stranger", "user")), e.ID, "https://s3/d.pdf")
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

	_, err = s.service.AddEvidence(s.as(s.owner), e.ID, "#linked-event-file_op_x")
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	s.Contains(s.audit.Names(), audit.EventEventEvidenceEdited)
}

func (s *EventsSuite) TestUploadEvidence() {
	e := s.seedEvent("Pen test")

	_, err := s.service.UploadEvidence(s.as(s.owner), e.ID, UploadFile{FileName: "payload.exe", Data: []byte("MZ")})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	res, err := s.service.UploadEvidence(s.as(s.owner), e.ID, UploadFile{
		FileName:    "report.pdf",
		ContentType: "application/pdf",
		Data:        []byte("%PDF-1.7"),
	})
	s.Require().NoError(err)
	op := res.FileOperation
	s.Equal("report.pdf", op.OriginalName)
	s.Equal(int64(8), op.FileSize)
	s.Equal(int64(e.ID), *op.EntityID)
	s.Equal(events.Evidence{events.FileOperationToken(op.ID)}, res.Event.Evidence)

	data, err := s.objects.Download(context.Background(), op.S3Key, op.OriginalName, s.owner.UserID)
	s.Require().NoError(err)
	s.Equal([]byte("%PDF-1.7"), data)

	details, err := s.service.GetEventEvidenceDetails(s.as(s.reviewer), e.ID)
	s.Require().NoError(err)
	s.Require().Len(details, 1)
	s.Equal("report.pdf", details[0].Filename)
	s.Equal(op.S3URL, details[0].URL)
}

func (s *EventsSuite) TestDeleteEvent_ArchivesFirst() {
	s.allowNotifications()
	e := s.seedEvent("Old control")

	_, err := s.service.DeleteEvent(s.as(s.reviewer), e.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

	res, err := s.service.DeleteEvent(s.as(s.owner), e.ID)
	s.Require().NoError(err)
	s.True(res.Archived)
	s.False(res.Deleted)

	got, err := s.service.GetEvent(s.as(s.owner), e.ID)
	s.Require().NoError(err)
	s.Equal(events.StatusArchived, got.Status)

	_, err = s.service.AddEvidence(s.as(s.owner), e.ID, "https://s3/late.pdf")
	s.True(dErrors.HasCode(err, dErrors.CodeStateConflict))
	_, err = s.service.ArchiveEvent(s.as(s.owner), e.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeStateConflict))

	res, err = s.service.DeleteEvent(s.as(s.admin), e.ID)
	s.Require().NoError(err)
	s.True(res.Deleted)

	_, err = s.service.GetEvent(s.as(s.owner), e.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *EventsSuite) TestTenantIsolation() {
	e := s.seedEvent("Private")

	_, err := s.service.GetEvent(s.as(s.outsider), e.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeTenantIsolation))
	_, err = s.service.GetEventEvidenceDetails(s.as(s.outsider), e.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeTenantIsolation))
	_, err = s.service.ArchiveEvent(s.as(s.outsider), e.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeTenantIsolation))

	list, total, err := s.service.ListEvents(s.as(s.outsider), events.ListFilter{})
	s.Require().NoError(err)
	s.Empty(list)
	s.Zero(total)
}

func (s *EventsSuite) TestListEvents_TemplatesExcludedByDefault() {
	s.seedEvent("Operational")
	tpl := events.NewEvent(s.tenantID, s.owner.UserID, s.now)
	tpl.Title = "Template"
	tpl.IsTemplate = true
	s.Require().NoError(s.store.CreateEvent(context.Background(), tpl))

	list, total, err := s.service.ListEvents(s.as(s.owner), events.ListFilter{})
	s.Require().NoError(err)
	s.Equal(1, total)
	s.Equal("Operational", list[0].Title)

	_, total, err = s.service.ListEvents(s.as(s.owner), events.ListFilter{IncludeTemplates: true})
	s.Require().NoError(err)
	s.Equal(2, total)

	_, _, err = s.service.ListEvents(s.as(s.owner), events.ListFilter{Status: "Closed"})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *EventsSuite) TestLinkEvidenceToIncident() {
	first := s.seedEvent("Phishing drill", "https://s3/a.pdf", "#linked-event-file_op_17")
	s.seedFileOperation(17, first.ID, "minutes.pdf", "https://s3/minutes.pdf")
	s.seedFileOperation(18, first.ID, "screenshot.pdf", "https://s3/screenshot.pdf")

	second := s.seedEvent("Mail filter review", "https://s3/a.pdf")
	second.JiraIssueKey = "SEC-7"
	s.Require().NoError(s.store.UpdateEvent(context.Background(), second))

	s.jira.EXPECT().Attachments(gomock.Any(), "SEC-7").Return([]jira.Attachment{
		{Filename: "headers.txt", Content: "https://jira/att/1/headers.txt", Size: 300},
	}, nil).Times(2)

	res, err := s.service.LinkEvidenceToIncident(s.as(s.owner), 7, []id.EventID{first.ID, second.ID, first.ID})
	s.Require().NoError(err)
	s.Equal(5, res.Found)
	s.Require().Len(res.Added, 4)
	s.Equal(1, res.Skipped)
	s.Equal(4, res.Total)

	urls := make([]string, len(res.Added))
	for i, d := range res.Added {
		urls[i] = d.URL
	}
	s.Equal([]string{
		"https://s3/a.pdf",
		"https://s3/minutes.pdf",
		"https://s3/screenshot.pdf",
		"https://jira/att/1/headers.txt",
	}, urls)
	s.Equal(events.SourceJira, res.Added[3].Source)
	s.Equal(second.ID, res.Added[3].EventID)
	s.Equal(s.owner.UserID, res.Added[0].LinkedBy)

	ia, err := s.store.FindIncidentApproval(context.Background(), s.tenantID, 7, false)
	s.Require().NoError(err)
	s.Equal(4, ia.LinkedEvidenceCount())
	s.Contains(s.audit.Names(), audit.EventEvidenceLinked)
	auditCount := len(s.audit.List())

	again, err := s.service.LinkEvidenceToIncident(s.as(s.owner), 7, []id.EventID{first.ID, second.ID})
	s.Require().NoError(err)
	s.Empty(again.Added)
	s.Equal(5, again.Skipped)
	s.Equal(4, again.Total)
	s.Len(s.audit.List(), auditCount, "a no-op link writes no audit row")
}

func (s *EventsSuite) TestLinkEvidence_JiraFailureIsSkipped() {
	e := s.seedEvent("Incident follow-up", "https://s3/a.pdf")
	e.JiraIssueKey = "SEC-9"
	s.Require().NoError(s.store.UpdateEvent(context.Background(), e))
	s.jira.EXPECT().Attachments(gomock.Any(), "SEC-9").Return(nil, errors.Join(sentinel.ErrUnavailable, errors.New("502")))

	res, err := s.service.LinkEvidenceToIncident(s.as(s.owner), 8, []id.EventID{e.ID})
	s.Require().NoError(err)
	s.Len(res.Added, 1)
}

func (s *EventsSuite) TestLinkEvidence_Validation() {
	_, err := s.service.LinkEvidenceToIncident(s.as(s.owner), 7, nil)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	_, err = s.service.LinkEvidenceToIncident(s.as(s.owner), 0, []id.EventID{1})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	_, err = s.service.LinkEvidenceToIncident(s.as(s.owner), 7, []id.EventID{404})
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	e := s.seedEvent("Private")
	_, err = s.service.LinkEvidenceToIncident(s.as(s.outsider), 7, []id.EventID{e.ID})
	s.True(dErrors.HasCode(err, dErrors.CodeTenantIsolation))
}

func (s *EventsSuite) TestNotificationFailureDoesNotFailAction() {
	e := s.seedEvent("Backup restore")
	s.notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).Return(errors.New("smtp down"))

	archived, err := s.service.ArchiveEvent(s.as(s.owner), e.ID)
	s.Require().NoError(err)
	s.Equal(events.StatusArchived, archived.Status)
}
