package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strconv"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"grc/internal/events"
	"grc/internal/events/service"
	evstore "grc/internal/events/store"
	"grc/internal/storage"
	id "grc/pkg/domain"
	txcontext "grc/pkg/platform/tx"
	"grc/pkg/requestcontext"
)

type HandlerSuite struct {
	suite.Suite
	router   http.Handler
	store    *evstore.InMemoryStore
	tenantID id.TenantID
	owner    requestcontext.Principal
	reviewer requestcontext.Principal
	now      time.Time
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.now = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	s.tenantID = id.NewTenantID()
	s.owner = requestcontext.Principal{UserID: id.NewUserID(), Username: "owner", TenantID: s.tenantID, Roles: []string{"user"}}
	s.reviewer = requestcontext.Principal{UserID: id.NewUserID(), Username: "reviewer", TenantID: s.tenantID, Roles: []string{"user"}}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.store = evstore.NewInMemoryStore()
	svc := service.New(s.store, txcontext.NewInMemory(s.store),
		service.WithLogger(logger),
		service.WithStorage(storage.NewInMemory("https://s3.local")),
	)

	r := chi.NewRouter()
	New(svc, logger).Register(r)
	s.router = r
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Details json.RawMessage `json:"details"`
	Error   string          `json:"error"`
}

func (s *HandlerSuite) send(p *requestcontext.Principal, req *http.Request) (int, envelope) {
	ctx := requestcontext.WithTime(req.Context(), s.now)
	if p != nil {
		ctx = requestcontext.WithPrincipal(ctx, *p)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req.WithContext(ctx))

	var env envelope
	s.Require().NoError(json.NewDecoder(rec.Body).Decode(&env))
	return rec.Code, env
}

func (s *HandlerSuite) do(p *requestcontext.Principal, method, path string, body any) (int, envelope) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(raw)
	}
	return s.send(p, httptest.NewRequest(method, path, reader))
}

func (s *HandlerSuite) decode(env envelope, v any) {
	s.Require().NoError(json.Unmarshal(env.Details, v))
}

type eventView struct {
	ID       int64    `json:"event_id"`
	Status   string   `json:"status"`
	Evidence []string `json:"evidence"`
	Count    int      `json:"evidence_count"`
}

func (s *HandlerSuite) createEvent(body map[string]any) eventView {
	if _, ok := body["reviewer_id"]; !ok {
		body["reviewer_id"] = s.reviewer.UserID.String()
	}
	code, env := s.do(&s.owner, http.MethodPost, "/events", body)
	s.Require().Equal(http.StatusCreated, code, env.Message)
	var e eventView
	s.decode(env, &e)
	return e
}

func (s *HandlerSuite) path(e eventView, suffix string) string {
	return "/events/" + strconv.FormatInt(e.ID, 10) + suffix
}

func (s *HandlerSuite) TestCreateGetAndList() {
	e := s.createEvent(map[string]any{
		"title":    "Quarterly access review",
		"evidence": "https://s3/a.pdf; https://s3/b.pdf;;",
	})
	s.Equal("Under Review", e.Status)
	s.Equal([]string{"https://s3/a.pdf", "https://s3/b.pdf"}, e.Evidence)
	s.Equal(2, e.Count)
	s.createEvent(map[string]any{"title": "Template", "is_template": true})

	code, env := s.do(&s.owner, http.MethodGet, s.path(e, ""), nil)
	s.Require().Equal(http.StatusOK, code)
	var got eventView
	s.decode(env, &got)
	s.Equal(e.ID, got.ID)

	code, env = s.do(&s.owner, http.MethodGet, "/events?status=under%20review", nil)
	s.Require().Equal(http.StatusOK, code, env.Message)
	var page struct {
		Events []eventView `json:"events"`
		Total  int         `json:"total"`
		Limit  int         `json:"limit"`
	}
	s.decode(env, &page)
	s.Equal(1, page.Total)
	s.Equal(events.DefaultListLimit, page.Limit)

	code, env = s.do(&s.owner, http.MethodGet, "/events?include_templates=true", nil)
	s.Require().Equal(http.StatusOK, code)
	s.decode(env, &page)
	s.Equal(2, page.Total)
}

func (s *HandlerSuite) TestRequestErrors() {
	code, env := s.do(nil, http.MethodGet, "/events", nil)
	s.Equal(http.StatusUnauthorized, code)
	s.Equal("unauthorized", env.Error)

	code, env = s.do(&s.owner, http.MethodGet, "/events/abc", nil)
	s.Equal(http.StatusBadRequest, code)
	s.Equal("invalid_input", env.Error)

	code, env = s.do(&s.owner, http.MethodGet, "/events/999", nil)
	s.Equal(http.StatusNotFound, code)
	s.Equal("not_found", env.Error)

	code, env = s.do(&s.owner, http.MethodGet, "/events?status=Closed", nil)
	s.Equal(http.StatusBadRequest, code)
	s.Equal("validation_error", env.Error)

	code, env = s.do(&s.owner, http.MethodPost, "/events", map[string]any{"description": "no title"})
	s.Equal(http.StatusBadRequest, code)
	s.Equal("validation_error", env.Error)

	code, _ = s.do(&s.owner, http.MethodPost, "/events", map[string]any{"title": "x", "owner_id": "not-a-uuid"})
	s.Equal(http.StatusBadRequest, code)
}

func (s *HandlerSuite) TestReviewFlow() {
	e := s.createEvent(map[string]any{"title": "Firewall review"})

	code, env := s.do(&s.reviewer, http.MethodPost, s.path(e, "/reject"), map[string]any{})
	s.Equal(http.StatusBadRequest, code)
	s.Equal("validation_error", env.Error)

	code, env = s.do(&s.owner, http.MethodPost, s.path(e, "/approve"), map[string]any{})
	s.Equal(http.StatusForbidden, code)
	s.Equal("forbidden", env.Error)

	code, env = s.do(&s.reviewer, http.MethodPost, s.path(e, "/approve"), map[string]any{"comments": "ok"})
	s.Require().Equal(http.StatusOK, code, env.Message)
	s.Equal("event Approved", env.Message)

	code, env = s.do(&s.reviewer, http.MethodPost, s.path(e, "/approve"), map[string]any{})
	s.Equal(http.StatusBadRequest, code)
	s.Equal("state_conflict", env.Error)
}

func (s *HandlerSuite) TestEvidenceDetails() {
	e := s.createEvent(map[string]any{
		"title":    "Board review",
		"evidence": "https://s3/a.pdf;#linked-event-file_op_17",
	})
	entity := e.ID
	s.store.SaveFileOperation(events.FileOperation{
		ID:           17,
		TenantID:     s.tenantID,
		Module:       events.Module,
		EntityID:     &entity,
		S3URL:        "https://s3/t/minutes.pdf",
		OriginalName: "minutes.pdf",
		FileType:     "pdf",
		Status:       events.FileOperationCompleted,
	})

	code, env := s.do(&s.owner, http.MethodGet, s.path(e, "/evidence"), nil)
	s.Require().Equal(http.StatusOK, code, env.Message)
	var res struct {
		Count    int `json:"count"`
		Evidence []struct {
			Filename string `json:"filename"`
			URL      string `json:"url"`
		} `json:"evidence"`
	}
	s.decode(env, &res)
	s.Require().Equal(2, res.Count)
	s.Equal("a.pdf", res.Evidence[0].Filename)
	s.Equal("https://s3/a.pdf", res.Evidence[0].URL)
	s.Equal("minutes.pdf", res.Evidence[1].Filename)
	s.Equal("https://s3/t/minutes.pdf", res.Evidence[1].URL)

	code, env = s.do(&s.owner, http.MethodPost, s.path(e, "/evidence"), map[string]any{"token": "https://s3/c.pdf"})
	s.Require().Equal(http.StatusOK, code, env.Message)

	code, env = s.do(&s.owner, http.MethodDelete, s.path(e, "/evidence?token=https://s3/a.pdf"), nil)
	s.Require().Equal(http.StatusOK, code, env.Message)
	var updated eventView
	s.decode(env, &updated)
	s.Equal([]string{"#linked-event-file_op_17", "https://s3/c.pdf"}, updated.Evidence)

	code, env = s.do(&s.owner, http.MethodDelete, s.path(e, "/evidence"), map[string]any{"token": "https://s3/a.pdf"})
	s.Equal(http.StatusNotFound, code)
	s.Equal("not_found", env.Error)
}

func (s *HandlerSuite) uploadRequest(path, field, name, contentType string, data []byte) *http.Request {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+name+`"`)
	hdr.Set("Content-Type", contentType)
	part, err := mw.CreatePart(hdr)
	s.Require().NoError(err)
	_, err = part.Write(data)
	s.Require().NoError(err)
	s.Require().NoError(mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func (s *HandlerSuite) TestUploadEvidence() {
	e := s.createEvent(map[string]any{"title": "Pen test"})

	code, env := s.send(&s.owner, s.uploadRequest(s.path(e, "/evidence/upload"), "file", "report.pdf", "application/pdf", []byte("%PDF-1.7")))
	s.Require().Equal(http.StatusCreated, code, env.Message)
	var res struct {
		Event         eventView `json:"event"`
		FileOperation struct {
			ID           int64  `json:"file_operation_id"`
			OriginalName string `json:"original_name"`
			S3URL        string `json:"s3_url"`
		} `json:"file_operation"`
	}
	s.decode(env, &res)
	s.Equal("report.pdf", res.FileOperation.OriginalName)
	s.Contains(res.FileOperation.S3URL, "https://s3.local/")
	s.Equal([]string{"#linked-event-file_op_" + strconv.FormatInt(res.FileOperation.ID, 10)}, res.Event.Evidence)

	code, env = s.send(&s.owner, s.uploadRequest(s.path(e, "/evidence/upload"), "file", "tool.exe", "application/octet-stream", []byte("MZ")))
	s.Equal(http.StatusBadRequest, code)
	s.Equal("validation_error", env.Error)

	code, env = s.send(&s.owner, s.uploadRequest(s.path(e, "/evidence/upload"), "attachment", "report.pdf", "application/pdf", []byte("%PDF")))
	s.Equal(http.StatusBadRequest, code)
	s.Equal("validation_error", env.Error)

	big := make([]byte, storage.MaxUploadSize+2<<20)
	code, env = s.send(&s.owner, s.uploadRequest(s.path(e, "/evidence/upload"), "file", "big.pdf", "application/pdf", big))
	s.Equal(http.StatusBadRequest, code)
	s.False(env.Success)
}

func (s *HandlerSuite) TestDeleteArchivesThenRemoves() {
	e := s.createEvent(map[string]any{"title": "Old control"})

	code, env := s.do(&s.owner, http.MethodDelete, s.path(e, ""), nil)
	s.Require().Equal(http.StatusOK, code, env.Message)
	s.Equal("event archived", env.Message)

	code, env = s.do(&s.owner, http.MethodDelete, s.path(e, ""), nil)
	s.Require().Equal(http.StatusOK, code, env.Message)
	s.Equal("event deleted", env.Message)

	code, _ = s.do(&s.owner, http.MethodGet, s.path(e, ""), nil)
	s.Equal(http.StatusNotFound, code)
}

func (s *HandlerSuite) TestLinkEvidence() {
	a := s.createEvent(map[string]any{"title": "Drill", "evidence": "https://s3/a.pdf"})
	b := s.createEvent(map[string]any{"title": "Review", "evidence": "https://s3/a.pdf;https://s3/b.pdf"})

	code, env := s.do(&s.owner, http.MethodPost, "/incidents/5/evidence/link", map[string]any{
		"event_ids": []any{a.ID, strconv.FormatInt(b.ID, 10), a.ID},
	})
	s.Require().Equal(http.StatusOK, code, env.Message)
	var res struct {
		Found   int `json:"documents_found"`
		Skipped int `json:"skipped_duplicates"`
		Total   int `json:"total_linked"`
	}
	s.decode(env, &res)
	s.Equal(3, res.Found)
	s.Equal(1, res.Skipped)
	s.Equal(2, res.Total)

	code, env = s.do(&s.owner, http.MethodPost, "/incidents/5/evidence/link", map[string]any{"event_ids": []any{}})
	s.Equal(http.StatusBadRequest, code)
	s.Equal("validation_error", env.Error)

	code, _ = s.do(&s.owner, http.MethodPost, "/incidents/x/evidence/link", map[string]any{"event_ids": []any{a.ID}})
	s.Equal(http.StatusBadRequest, code)
}
