package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"grc/internal/lifecycle"
	lcstore "grc/internal/lifecycle/store"
	"grc/internal/questionnaire"
	qstore "grc/internal/questionnaire/store"
	id "grc/pkg/domain"
	dErrors "grc/pkg/domain-errors"
	audit "grc/pkg/platform/audit"
	auditpublisher "grc/pkg/platform/audit/publisher"
	auditmemory "grc/pkg/platform/audit/store/memory"
	txcontext "grc/pkg/platform/tx"
	"grc/pkg/requestcontext"
)

type LifecycleSuite struct {
	suite.Suite
	store          *lcstore.InMemoryStore
	questionnaires *qstore.InMemoryStore
	audit          *auditmemory.InMemoryStore
	tx             *txcontext.InMemory
	service        *Service

	now      time.Time
	tenantID id.TenantID
	admin    requestcontext.Principal
	viewer   requestcontext.Principal
}

func TestLifecycleSuite(t *testing.T) {
	suite.Run(t, new(LifecycleSuite))
}

func (s *LifecycleSuite) SetupTest() {
	s.now = time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	s.tenantID = id.NewTenantID()
	s.admin = requestcontext.Principal{UserID: id.NewUserID(), Username: "admin", TenantID: s.tenantID, Roles: []string{requestcontext.RoleAdmin}}
	s.viewer = requestcontext.Principal{UserID: id.NewUserID(), Username: "viewer", TenantID: s.tenantID, Roles: []string{"user"}}

	s.store = lcstore.NewInMemoryStore()
	s.questionnaires = qstore.NewInMemoryStore()
	s.audit = auditmemory.NewInMemoryStore()
	s.tx = txcontext.NewInMemory(s.store, s.audit)
	s.service = s.newService(s.store)

	s.store.SaveTempVendor(s.acme())
}

func (s *LifecycleSuite) newService(store Store) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(store, s.tx, s.questionnaires,
		WithLogger(logger),
		WithAuditPublisher(auditpublisher.NewPublisher(s.audit)),
	)
}

func (s *LifecycleSuite) acme() lifecycle.TempVendor {
	uploaded := s.now.Add(-48 * time.Hour)
	return lifecycle.TempVendor{
		ID:          42,
		TenantID:    s.tenantID,
		Code:        "VEND042",
		CompanyName: "Acme",
		LegalName:   "Acme Holdings Ltd",
		Country:     "GB",
		RiskLevel:   "MEDIUM",
		Status:      lifecycle.TempStatusPending,
		Contacts: []lifecycle.Contact{
			{Name: "Jane Roe", Email: "jane@acme.test", Role: "CISO", IsPrimary: true},
			{Name: "John Doe", Email: "john@acme.test", Role: "Procurement"},
		},
		Documents: []lifecycle.Document{
			{Name: "SOC2 report", Type: "certificate", S3URL: "s3://docs/acme/soc2.pdf", UploadedAt: &uploaded},
		},
		CreatedAt: s.now.Add(-72 * time.Hour),
		UpdatedAt: s.now.Add(-72 * time.Hour),
	}
}

func (s *LifecycleSuite) as(p requestcontext.Principal) context.Context {
	return requestcontext.WithTime(requestcontext.WithPrincipal(context.Background(), p), s.now)
}

func (s *LifecycleSuite) at(t time.Time) context.Context {
	return requestcontext.WithTime(context.Background(), t)
}

func (s *LifecycleSuite) requireCode(err error, code dErrors.Code) {
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, code), "want %s, got %v", code, err)
}

func (s *LifecycleSuite) outcome(typ string, ref lifecycle.VendorRef) lifecycle.ApprovalOutcome {
	return lifecycle.ApprovalOutcome{
		TenantID:     s.tenantID,
		ApprovalID:   id.NewApprovalID(),
		ApprovalType: typ,
		Ref:          ref,
		ActorID:      s.admin.UserID,
	}
}

func vendorRef(v id.VendorID) lifecycle.VendorRef {
	return lifecycle.VendorRef{VendorID: &v}
}

func (s *LifecycleSuite) history(vendorID id.VendorID) []*lifecycle.Entry {
	entries, err := s.store.ListEntries(context.Background(), s.tenantID, vendorID)
	s.Require().NoError(err)
	return entries
}

func stagesOf(entries []*lifecycle.Entry) []lifecycle.StageCode {
	out := make([]lifecycle.StageCode, len(entries))
	for i, e := range entries {
		out[i] = e.Stage
	}
	return out
}

func activeCount(entries []*lifecycle.Entry) int {
	n := 0
	for _, e := range entries {
		if e.IsActive() {
			n++
		}
	}
	return n
}

func (s *LifecycleSuite) TestApprovalStartedAndCompleted_MoveThroughStages() {
	ref := vendorRef(42)

	s.Require().NoError(s.service.ApprovalStarted(s.at(s.now), s.outcome(lifecycle.ApprovalQuestionnaire, ref)))
	entries := s.history(42)
	s.Equal([]lifecycle.StageCode{lifecycle.StageQuesApp}, stagesOf(entries))

	later := s.now.Add(3 * time.Hour)
	s.Require().NoError(s.service.ApprovalCompleted(s.at(later), s.outcome(lifecycle.ApprovalQuestionnaire, ref)))

	entries = s.history(42)
	s.Equal([]lifecycle.StageCode{lifecycle.StageQuesApp, lifecycle.StageQuesRes}, stagesOf(entries))
	s.Equal(1, activeCount(entries))
	s.Require().NotNil(entries[0].EndedAt)
	s.Equal(3*time.Hour, entries[0].Duration(later))

	tv, err := s.store.FindTempVendor(context.Background(), s.tenantID, 42, false)
	s.Require().NoError(err)
	s.Equal(lifecycle.StageQuesRes, tv.LifecycleStage)
	s.Contains(s.audit.Names(), audit.EventLifecycleAdvanced)
}

func (s *LifecycleSuite) TestApprovalCompleted_BackfillsMissingPriorStage() {
	s.Require().NoError(s.service.ApprovalCompleted(s.at(s.now), s.outcome(lifecycle.ApprovalResponse, vendorRef(42))))

	entries := s.history(42)
	s.Equal([]lifecycle.StageCode{lifecycle.StageResApp, lifecycle.StageVenApp}, stagesOf(entries))
	s.Require().NotNil(entries[0].EndedAt)
	s.Equal(time.Duration(0), entries[0].Duration(s.now.Add(time.Hour)))
	s.True(entries[1].IsActive())
}

func (s *LifecycleSuite) TestApprovalCompleted_StaleOutcomeIsIgnored() {
	s.Require().NoError(s.service.ApprovalCompleted(s.at(s.now), s.outcome(lifecycle.ApprovalVendor, vendorRef(42))))
	before := s.history(42)

	err := s.service.ApprovalCompleted(s.at(s.now.Add(time.Hour)), s.outcome(lifecycle.ApprovalQuestionnaire, vendorRef(42)))
	s.Require().NoError(err)
	s.Equal(stagesOf(before), stagesOf(s.history(42)))
}

func (s *LifecycleSuite) TestApprovalCompleted_RepeatIsNoop() {
	out := s.outcome(lifecycle.ApprovalQuestionnaire, vendorRef(42))
	s.Require().NoError(s.service.ApprovalCompleted(s.at(s.now), out))
	s.Require().NoError(s.service.ApprovalCompleted(s.at(s.now.Add(time.Minute)), out))

	entries := s.history(42)
	s.Len(entries, 2)
	s.Equal(1, activeCount(entries))
}

func (s *LifecycleSuite) TestApprovalCompleted_UnresolvedVendorIsIgnored() {
	err := s.service.ApprovalCompleted(s.at(s.now), s.outcome(lifecycle.ApprovalQuestionnaire, lifecycle.VendorRef{
		Texts: []string{"no vendor code here"},
	}))
	s.Require().NoError(err)
	s.Empty(s.history(42))

	err = s.service.ApprovalCompleted(s.at(s.now), s.outcome(lifecycle.ApprovalQuestionnaire, vendorRef(999)))
	s.Require().NoError(err)
}

func (s *LifecycleSuite) TestApprovalCompleted_GenericTypeDoesNothing() {
	s.Require().NoError(s.service.ApprovalCompleted(s.at(s.now), s.outcome("generic", vendorRef(42))))
	s.Empty(s.history(42))
}

func (s *LifecycleSuite) TestApprovalCompleted_RejectsOtherTenantsVendor() {
	other := s.acme()
	other.ID = 77
	other.TenantID = id.NewTenantID()
	other.Code = "VEND077"
	s.store.SaveTempVendor(other)

	err := s.service.ApprovalCompleted(s.at(s.now), s.outcome(lifecycle.ApprovalQuestionnaire, vendorRef(77)))
	s.requireCode(err, dErrors.CodeTenantIsolation)
}

func (s *LifecycleSuite) TestResolve_HintOrder() {
	qVendor, aVendor := id.VendorID(42), id.VendorID(43)
	s.store.SaveTempVendor(lifecycle.TempVendor{ID: 43, TenantID: s.tenantID, Code: "VEN043", Status: lifecycle.TempStatusPending})
	s.questionnaires.SaveQuestionnaire(questionnaire.Questionnaire{ID: 5, TenantID: s.tenantID, VendorID: &qVendor})
	s.questionnaires.SaveAssignment(questionnaire.Assignment{ID: 9, TenantID: s.tenantID, QuestionnaireID: 5, TempVendorID: &aVendor})
	r := NewResolver(s.questionnaires, s.store, nil)
	ctx := context.Background()
	qid, aid := id.QuestionnaireID(5), id.AssignmentID(9)
	direct := id.VendorID(7)

	cases := []struct {
		name   string
		ref    lifecycle.VendorRef
		vendor id.VendorID
		hint   string
	}{
		{"request data wins", lifecycle.VendorRef{VendorID: &direct, QuestionnaireID: &qid}, 7, "request_data"},
		{"questionnaire before assignment", lifecycle.VendorRef{QuestionnaireID: &qid, AssignmentID: &aid}, 42, "questionnaire"},
		{"assignment", lifecycle.VendorRef{AssignmentID: &aid}, 43, "assignment"},
		{"vendor code in text", lifecycle.VendorRef{Texts: []string{"Onboarding", "Final review for ven043"}}, 0, ""},
		{"first known code", lifecycle.VendorRef{Texts: []string{"VEND999 replaced by VEN043"}}, 43, "vendor_code"},
		{"code in workflow name", lifecycle.VendorRef{Texts: []string{"VEND042 onboarding", "Review"}}, 42, "vendor_code"},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			vendor, hint, ok := r.Resolve(ctx, s.tenantID, tc.ref)
			s.Equal(tc.hint != "", ok)
			s.Equal(tc.vendor, vendor)
			s.Equal(tc.hint, hint)
		})
	}
}

func (s *LifecycleSuite) TestResolve_UnknownQuestionnaireFallsThrough() {
	r := NewResolver(s.questionnaires, s.store, nil)
	qid := id.QuestionnaireID(404)

	vendor, hint, ok := r.Resolve(context.Background(), s.tenantID, lifecycle.VendorRef{
		QuestionnaireID: &qid,
		Texts:           []string{"Approve VEND042"},
	})
	s.True(ok)
	s.Equal(id.VendorID(42), vendor)
	s.Equal("vendor_code", hint)
}

func (s *LifecycleSuite) TestAdvance_RecordsSkippedStages() {
	tr, err := s.service.Advance(s.as(s.admin), 42, lifecycle.StageIntake)
	s.Require().NoError(err)
	s.True(tr.Changed)

	tr, err = s.service.Advance(s.as(s.admin), 42, lifecycle.StageVenApp)
	s.Require().NoError(err)
	s.Equal(lifecycle.StageIntake, tr.From)
	s.Equal([]lifecycle.StageCode{lifecycle.StageQuesApp, lifecycle.StageQuesRes, lifecycle.StageResApp}, tr.Historical)

	entries := s.history(42)
	s.Equal([]lifecycle.StageCode{
		lifecycle.StageIntake, lifecycle.StageQuesApp, lifecycle.StageQuesRes, lifecycle.StageResApp, lifecycle.StageVenApp,
	}, stagesOf(entries))
	s.Equal(1, activeCount(entries))

	current, err := s.service.CurrentStage(s.as(s.viewer), 42)
	s.Require().NoError(err)
	s.Equal(lifecycle.StageVenApp, current.Stage)
}

func (s *LifecycleSuite) TestAdvance_Checks() {
	_, err := s.service.Advance(s.as(s.viewer), 42, lifecycle.StageIntake)
	s.requireCode(err, dErrors.CodeForbidden)

	_, err = s.service.Advance(s.as(s.admin), 42, lifecycle.StageCode("DONE"))
	s.requireCode(err, dErrors.CodeValidation)

	_, err = s.service.Advance(context.Background(), 42, lifecycle.StageIntake)
	s.requireCode(err, dErrors.CodeUnauthorized)

	_, err = s.service.Advance(s.as(s.admin), 404, lifecycle.StageIntake)
	s.requireCode(err, dErrors.CodeNotFound)

	_, err = s.service.Advance(s.as(s.admin), 42, lifecycle.StageResApp)
	s.Require().NoError(err)
	_, err = s.service.Advance(s.as(s.admin), 42, lifecycle.StageQuesApp)
	s.requireCode(err, dErrors.CodeStateConflict)
}

func (s *LifecycleSuite) TestQueries_TenantIsolation() {
	outsider := requestcontext.Principal{UserID: id.NewUserID(), TenantID: id.NewTenantID(), Roles: []string{requestcontext.RoleAdmin}}

	_, err := s.service.History(s.as(outsider), 42)
	s.requireCode(err, dErrors.CodeTenantIsolation)
	_, err = s.service.CurrentStage(s.as(outsider), 42)
	s.requireCode(err, dErrors.CodeTenantIsolation)
	_, err = s.service.MigrateVendor(s.as(outsider), 42)
	s.requireCode(err, dErrors.CodeTenantIsolation)
}

func (s *LifecycleSuite) TestMigrateVendor_CopiesStagingRecord() {
	m, err := s.service.MigrateVendor(s.as(s.admin), 42)
	s.Require().NoError(err)
	s.Equal(id.VendorID(42), m.TempVendorID)
	s.Equal("VEND042", m.VendorCode)
	s.Equal(2, m.ContactsMigrated)
	s.Equal(1, m.DocumentsMigrated)

	vendors := s.store.Vendors(s.tenantID)
	s.Require().Len(vendors, 1)
	v := vendors[0]
	s.Equal(m.VendorID, v.ID)
	s.Equal("Acme", v.CompanyName)
	s.Equal(lifecycle.VendorStatusApproved, v.Status)
	s.Equal(lifecycle.StageOnboarded, v.LifecycleStage)
	s.Equal(id.VendorID(42), v.SourceTempVendorID)
	s.Equal(s.admin.UserID, v.CreatedBy)

	contacts := s.store.Contacts(v.ID)
	s.Require().Len(contacts, 2)
	s.Equal("Jane Roe", contacts[0].Name)
	s.True(contacts[0].IsPrimary)
	docs := s.store.Documents(v.ID)
	s.Require().Len(docs, 1)
	s.Equal(lifecycle.DocumentStatusApproved, docs[0].Status)
	s.Equal("s3://docs/acme/soc2.pdf", docs[0].S3URL)

	tv, err := s.store.FindTempVendor(context.Background(), s.tenantID, 42, false)
	s.Require().NoError(err)
	s.Equal(lifecycle.TempStatusMigrated, tv.Status)
	s.Require().NotNil(tv.MigratedAt)
	s.Contains(s.audit.Names(), audit.EventVendorMigrated)
}

func (s *LifecycleSuite) TestMigrateVendor_RerunConflictsWithoutWriting() {
	_, err := s.service.MigrateVendor(s.as(s.admin), 42)
	s.Require().NoError(err)

	_, err = s.service.MigrateVendor(s.as(s.admin), 42)
	s.requireCode(err, dErrors.CodeConflict)

	vendors := s.store.Vendors(s.tenantID)
	s.Len(vendors, 1)
	s.Len(s.store.Contacts(vendors[0].ID), 2)
	s.Len(s.store.Documents(vendors[0].ID), 1)
}

func (s *LifecycleSuite) TestMigrateVendor_DuplicateCodeConflicts() {
	s.Require().NoError(s.store.InsertVendor(context.Background(), &lifecycle.Vendor{TenantID: s.tenantID, Code: "vend042"}))

	_, err := s.service.MigrateVendor(s.as(s.admin), 42)
	s.requireCode(err, dErrors.CodeConflict)
	s.Equal("vendor code VEND042 already exists", dErrors.MessageOf(err))

	tv, err := s.store.FindTempVendor(context.Background(), s.tenantID, 42, false)
	s.Require().NoError(err)
	s.Equal(lifecycle.TempStatusPending, tv.Status)
}

func (s *LifecycleSuite) TestMigrateVendor_RollsBackOnPartialFailure() {
	broken := s.newService(failingDocuments{s.store})

	_, err := broken.MigrateVendor(s.as(s.admin), 42)
	s.requireCode(err, dErrors.CodeInternal)

	s.Empty(s.store.Vendors(s.tenantID))
	tv, err := s.store.FindTempVendor(context.Background(), s.tenantID, 42, false)
	s.Require().NoError(err)
	s.Equal(lifecycle.TempStatusPending, tv.Status)
	s.NotContains(s.audit.Names(), audit.EventVendorMigrated)
}

func (s *LifecycleSuite) TestMigrateVendor_RequiresAdmin() {
	_, err := s.service.MigrateVendor(s.as(s.viewer), 42)
	s.requireCode(err, dErrors.CodeForbidden)
}

func (s *LifecycleSuite) TestMigrateForApproval() {
	s.Require().NoError(s.service.MigrateForApproval(s.at(s.now), s.outcome(lifecycle.ApprovalVendor, vendorRef(42))))
	s.Empty(s.store.Vendors(s.tenantID))

	s.Require().NoError(s.service.MigrateForApproval(s.at(s.now), s.outcome(lifecycle.ApprovalFinalVendor, lifecycle.VendorRef{
		Texts: []string{"Final approval VEND042"},
	})))
	s.Len(s.store.Vendors(s.tenantID), 1)

	err := s.service.MigrateForApproval(s.at(s.now), s.outcome(lifecycle.ApprovalFinalVendor, vendorRef(42)))
	s.requireCode(err, dErrors.CodeConflict)
}

type failingDocuments struct {
	*lcstore.InMemoryStore
}

func (failingDocuments) InsertDocuments(context.Context, []lifecycle.VendorDocument) error {
	return errors.New("vendor_documents unavailable")
}
