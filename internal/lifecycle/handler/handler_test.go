package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grc/internal/lifecycle"
	"grc/internal/lifecycle/service"
	"grc/internal/lifecycle/store"
	qstore "grc/internal/questionnaire/store"
	id "grc/pkg/domain"
	txcontext "grc/pkg/platform/tx"
	"grc/pkg/requestcontext"
)

type fixture struct {
	router   http.Handler
	store    *store.InMemoryStore
	tenantID id.TenantID
	admin    requestcontext.Principal
	viewer   requestcontext.Principal
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    store.NewInMemoryStore(),
		tenantID: id.NewTenantID(),
		now:      time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC),
	}
	f.admin = requestcontext.Principal{UserID: id.NewUserID(), Username: "admin", TenantID: f.tenantID, Roles: []string{requestcontext.RoleAdmin}}
	f.viewer = requestcontext.Principal{UserID: id.NewUserID(), Username: "viewer", TenantID: f.tenantID, Roles: []string{"user"}}
	f.store.SaveTempVendor(lifecycle.TempVendor{
		ID:          42,
		TenantID:    f.tenantID,
		Code:        "VEND042",
		CompanyName: "Acme",
		Status:      lifecycle.TempStatusPending,
		Contacts:    []lifecycle.Contact{{Name: "Jane Roe", IsPrimary: true}},
	})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := service.New(f.store, txcontext.NewInMemory(f.store), qstore.NewInMemoryStore(), service.WithLogger(logger))
	r := chi.NewRouter()
	New(svc, logger).Register(r)
	f.router = r
	return f
}

func (f *fixture) do(t *testing.T, p *requestcontext.Principal, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	ctx := requestcontext.WithTime(req.Context(), f.now)
	if p != nil {
		ctx = requestcontext.WithPrincipal(ctx, *p)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req.WithContext(ctx))

	var env map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	return rec, env
}

func TestAdvanceAndHistory(t *testing.T) {
	f := newFixture(t)

	rec, env := f.do(t, &f.admin, http.MethodPost, "/vendors/42/lifecycle/advance", map[string]any{"lifecycle_stage": "INTAKE"})
	require.Equal(t, http.StatusOK, rec.Code, env)

	rec, env = f.do(t, &f.admin, http.MethodPost, "/vendors/42/lifecycle/advance", map[string]any{"lifecycle_stage": "ques_res"})
	require.Equal(t, http.StatusOK, rec.Code, env)
	details := env["details"].(map[string]any)
	assert.Equal(t, "QUES_RES", details["to"])
	assert.Equal(t, true, details["changed"])
	assert.Equal(t, []any{"QUES_APP"}, details["historical"])

	rec, env = f.do(t, &f.admin, http.MethodPost, "/vendors/42/lifecycle/advance", map[string]any{"lifecycle_stage": "QUES_RES"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "vendor already at stage QUES_RES", env["message"])

	rec, env = f.do(t, &f.viewer, http.MethodGet, "/vendors/42/lifecycle", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	current := env["details"].(map[string]any)
	assert.Equal(t, "QUES_RES", current["lifecycle_stage"])
	assert.Equal(t, lifecycle.StageQuesRes.Name(), current["stage_name"])

	rec, env = f.do(t, &f.viewer, http.MethodGet, "/vendors/42/lifecycle/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, env["details"], 3)
}

func TestAdvance_Errors(t *testing.T) {
	f := newFixture(t)

	rec, env := f.do(t, &f.admin, http.MethodPost, "/vendors/42/lifecycle/advance", map[string]any{"lifecycle_stage": "DONE"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", env["error"])

	rec, _ = f.do(t, &f.viewer, http.MethodPost, "/vendors/42/lifecycle/advance", map[string]any{"lifecycle_stage": "INTAKE"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = f.do(t, nil, http.MethodGet, "/vendors/42/lifecycle", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = f.do(t, &f.admin, http.MethodGet, "/vendors/abc/lifecycle", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.do(t, &f.admin, http.MethodGet, "/vendors/42/lifecycle", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMigrate(t *testing.T) {
	f := newFixture(t)

	rec, env := f.do(t, &f.admin, http.MethodPost, "/vendors/42/migrate", nil)
	require.Equal(t, http.StatusCreated, rec.Code, env)
	details := env["details"].(map[string]any)
	assert.Equal(t, "VEND042", details["vendor_code"])
	assert.Equal(t, float64(1), details["contacts_migrated"])

	rec, env = f.do(t, &f.admin, http.MethodPost, "/vendors/42/migrate", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", env["error"])
}

func TestStages(t *testing.T) {
	f := newFixture(t)

	rec, env := f.do(t, &f.viewer, http.MethodGet, "/lifecycle/stages", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stages := env["details"].([]any)
	require.Len(t, stages, 6)
	assert.Equal(t, "INTAKE", stages[0].(map[string]any)["code"])
	assert.Equal(t, "ONBOARDED", stages[5].(map[string]any)["code"])
}
