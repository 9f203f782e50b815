package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"sqlgate/internal/config"
	"sqlgate/internal/domain/confirmation"
	"sqlgate/internal/domain/memory"
	"sqlgate/internal/domain/policy"
	"sqlgate/internal/infrastructure/xlsx"
	"sqlgate/internal/models"
	"sqlgate/internal/service"
	"sqlgate/internal/storage"
	"sqlgate/internal/usecase"
)

type MockGovernance struct {
	mock.Mock
}

func (m *MockGovernance) Ask(ctx context.Context, req usecase.AskRequest) (usecase.Response, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(usecase.Response), args.Error(1)
}

func (m *MockGovernance) Confirm(ctx context.Context, sessionID, id string) (usecase.Response, error) {
	args := m.Called(ctx, sessionID, id)
	return args.Get(0).(usecase.Response), args.Error(1)
}

func (m *MockGovernance) Cancel(ctx context.Context, sessionID, id string) (usecase.Response, error) {
	args := m.Called(ctx, sessionID, id)
	return args.Get(0).(usecase.Response), args.Error(1)
}

func (m *MockGovernance) Resolve(ctx context.Context, sessionID, id, reply string) (usecase.Response, error) {
	args := m.Called(ctx, sessionID, id, reply)
	return args.Get(0).(usecase.Response), args.Error(1)
}

func (m *MockGovernance) Confirmation(sessionID, id string) (confirmation.Request, error) {
	args := m.Called(sessionID, id)
	return args.Get(0).(confirmation.Request), args.Error(1)
}

func (m *MockGovernance) EndSession(sessionID string) bool {
	return m.Called(sessionID).Bool(0)
}

type MockAudit struct {
	mock.Mock
}

func (m *MockAudit) List(ctx context.Context, params service.ListAuditParams) (*service.AuditList, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(*service.AuditList), args.Error(1)
}

func (m *MockAudit) Get(ctx context.Context, id uint) (*models.AuditRecord, error) {
	args := m.Called(ctx, id)
	record, _ := args.Get(0).(*models.AuditRecord)
	return record, args.Error(1)
}

func (m *MockAudit) Export(ctx context.Context, params service.ListAuditParams) (*service.ExportResult, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(*service.ExportResult), args.Error(1)
}

func (m *MockAudit) Exports(ctx context.Context) ([]storage.FileInfo, error) {
	args := m.Called(ctx)
	return args.Get(0).([]storage.FileInfo), args.Error(1)
}

func (m *MockAudit) OpenExport(ctx context.Context, name string) (io.ReadCloser, error) {
	args := m.Called(ctx, name)
	reader, _ := args.Get(0).(io.ReadCloser)
	return reader, args.Error(1)
}

func (m *MockAudit) DeleteExport(ctx context.Context, name string) error {
	args := m.Called(ctx, name)
	return args.Error(0)
}

func newTestServer(gov Governance, audit AuditQueries) *Server {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewServer(config.Config{}, gov, audit, logger)
}

func do(t *testing.T, srv *Server, method, target, role, session, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if role != "" {
		req.Header.Set(HeaderRole, role)
	}
	if session != "" {
		req.Header.Set(HeaderSession, session)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealth(t *testing.T) {
	rec := do(t, newTestServer(new(MockGovernance), nil), http.MethodGet, "/health", "", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(new(MockGovernance), nil)
	do(t, srv, http.MethodGet, "/health", "", "", "")

	rec := do(t, srv, http.MethodGet, "/metrics", "", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `sqlgate_http_requests_total{method="GET",path="/health",status="200"}`)
}

func TestAskRequiresRole(t *testing.T) {
	srv := newTestServer(new(MockGovernance), nil)

	rec := do(t, srv, http.MethodPost, "/api/v1/ask", "", "s1", `{"question":"q"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/v1/ask", "root", "s1", `{"question":"q"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAskUser(t *testing.T) {
	gov := new(MockGovernance)
	srv := newTestServer(gov, nil)

	resp := usecase.Response{
		Role: policy.RoleUnprivileged,
		User: &usecase.UserResponse{Status: usecase.StatusDenied, Answer: usecase.DeniedMessage},
	}
	gov.On("Ask", mock.Anything, usecase.AskRequest{
		Question: "drop the quotes table", Role: policy.RoleUnprivileged, SessionID: "s1",
	}).Return(resp, nil)

	rec := do(t, srv, http.MethodPost, "/api/v1/ask", "user", "s1", `{"question":"drop the quotes table"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, usecase.DeniedMessage, body["answer"])
	assert.Equal(t, usecase.StatusDenied, body["status"])
	gov.AssertExpectations(t)
}

func TestAskValidation(t *testing.T) {
	gov := new(MockGovernance)
	srv := newTestServer(gov, nil)

	rec := do(t, srv, http.MethodPost, "/api/v1/ask", "user", "s1", `{"question":"  "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	gov.On("Ask", mock.Anything, mock.Anything).Return(usecase.Response{}, memory.ErrSessionRequired)
	rec = do(t, srv, http.MethodPost, "/api/v1/ask", "user", "", `{"question":"q"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAskAdminPending(t *testing.T) {
	gov := new(MockGovernance)
	srv := newTestServer(gov, nil)

	expires := time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC)
	resp := usecase.Response{
		Role: policy.RolePrivileged,
		Admin: &usecase.AdminResponse{
			Status:    usecase.StatusPendingConfirmation,
			Operation: "DELETE",
			Confirmation: &usecase.PendingConfirmation{
				ID: "c1", Description: "Pending operation: DELETE on repairs", SQL: "DELETE FROM repairs", ExpiresAt: &expires,
			},
		},
	}
	gov.On("Ask", mock.Anything, mock.Anything).Return(resp, nil)

	rec := do(t, srv, http.MethodPost, "/api/v1/ask", "admin", "s9", `{"question":"delete all repairs"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, usecase.StatusPendingConfirmation, body["status"])
	pending := body["confirmation"].(map[string]any)
	assert.Equal(t, "c1", pending["confirmation_id"])
	assert.Equal(t, "DELETE FROM repairs", pending["sql"])
}

func TestConfirmationRoutesAreAdminOnly(t *testing.T) {
	srv := newTestServer(new(MockGovernance), nil)

	for _, target := range []string{"/api/v1/confirmations/c1/confirm", "/api/v1/confirmations/c1/cancel", "/api/v1/confirmations/c1"} {
		rec := do(t, srv, http.MethodPost, target, "user", "s1", `{"reply":"yes"}`)
		assert.Equal(t, http.StatusForbidden, rec.Code, target)
	}
}

func TestConfirmationErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{confirmation.ErrNotFound, http.StatusNotFound},
		{confirmation.ErrSessionMismatch, http.StatusForbidden},
		{fmt.Errorf("%w (status=confirmed)", confirmation.ErrNotPending), http.StatusConflict},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		gov := new(MockGovernance)
		gov.On("Confirm", mock.Anything, "s1", "c1").Return(usecase.Response{}, tc.err)

		rec := do(t, newTestServer(gov, nil), http.MethodPost, "/api/v1/confirmations/c1/confirm", "admin", "s1", "")
		assert.Equal(t, tc.status, rec.Code, tc.err.Error())
	}
}

func TestResolveAndCancel(t *testing.T) {
	gov := new(MockGovernance)
	srv := newTestServer(gov, nil)

	rows := int64(4)
	done := usecase.Response{Role: policy.RolePrivileged, Admin: &usecase.AdminResponse{Status: usecase.StatusSuccess, RowsAffected: &rows}}
	cancelled := usecase.Response{Role: policy.RolePrivileged, Admin: &usecase.AdminResponse{Status: usecase.StatusCancelled}}
	gov.On("Resolve", mock.Anything, "s1", "c1", "yes").Return(done, nil)
	gov.On("Cancel", mock.Anything, "s1", "c2").Return(cancelled, nil)

	rec := do(t, srv, http.MethodPost, "/api/v1/confirmations/c1", "admin", "s1", `{"reply":"yes"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(4), decode(t, rec)["rows_affected"])

	rec = do(t, srv, http.MethodPost, "/api/v1/confirmations/c2/cancel", "admin", "s1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, usecase.StatusCancelled, decode(t, rec)["status"])
	gov.AssertExpectations(t)
}

func TestGetConfirmation(t *testing.T) {
	gov := new(MockGovernance)
	gov.On("Confirmation", "s1", "c1").Return(confirmation.Request{ID: "c1", Status: confirmation.StatusExpired}, nil)

	rec := do(t, newTestServer(gov, nil), http.MethodGet, "/api/v1/confirmations/c1", "admin", "s1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "expired", decode(t, rec)["status"])
}

func TestEndSession(t *testing.T) {
	gov := new(MockGovernance)
	srv := newTestServer(gov, nil)
	gov.On("EndSession", "s1").Return(true).Once()
	gov.On("EndSession", "s2").Return(false).Once()

	rec := do(t, srv, http.MethodDelete, "/api/v1/sessions/s1", "user", "s1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, srv, http.MethodDelete, "/api/v1/sessions/s2", "user", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, srv, http.MethodDelete, "/api/v1/sessions/s3", "user", "s1", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	gov.AssertExpectations(t)
}

func TestAuditRoutes(t *testing.T) {
	audit := new(MockAudit)
	srv := newTestServer(new(MockGovernance), audit)

	rec := do(t, srv, http.MethodGet, "/api/v1/audit", "user", "", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	audit.On("List", mock.Anything, service.ListAuditParams{Page: 2, PageSize: 5, Role: "user", From: &from}).
		Return(&service.AuditList{Total: 7, Page: 2, PageSize: 5, TotalPages: 2}, nil)

	rec = do(t, srv, http.MethodGet, "/api/v1/audit?page=2&page_size=5&role=user&from=2026-03-01T00:00:00Z", "admin", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(7), decode(t, rec)["total"])

	rec = do(t, srv, http.MethodGet, "/api/v1/audit?page=two", "admin", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	audit.On("Get", mock.Anything, uint(3)).Return(nil, service.ErrRecordNotFound)
	rec = do(t, srv, http.MethodGet, "/api/v1/audit/3", "admin", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	audit.On("Export", mock.Anything, service.ListAuditParams{Decision: "reject"}).
		Return(&service.ExportResult{Key: "audit/x.xlsx", Records: 2}, nil)
	rec = do(t, srv, http.MethodPost, "/api/v1/audit/export", "admin", "", `{"decision":"reject"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "audit/x.xlsx", decode(t, rec)["key"])

	audit.On("Exports", mock.Anything).Return([]storage.FileInfo{{Key: "audit/x.xlsx"}}, nil)
	rec = do(t, srv, http.MethodGet, "/api/v1/audit/exports", "admin", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decode(t, rec)["count"])

	audit.AssertExpectations(t)
}

func TestAuditExportDownloadAndDelete(t *testing.T) {
	audit := new(MockAudit)
	srv := newTestServer(new(MockGovernance), audit)

	rec := do(t, srv, http.MethodGet, "/api/v1/audit/exports/x.xlsx", "user", "", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	audit.On("OpenExport", mock.Anything, "x.xlsx").Return(io.NopCloser(strings.NewReader("PK-data")), nil)
	rec = do(t, srv, http.MethodGet, "/api/v1/audit/exports/x.xlsx", "admin", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "PK-data", rec.Body.String())
	assert.Equal(t, xlsx.MimeType, rec.Header().Get(echo.HeaderContentType))
	assert.Contains(t, rec.Header().Get(echo.HeaderContentDisposition), `filename="x.xlsx"`)

	audit.On("OpenExport", mock.Anything, "gone.xlsx").Return(nil, service.ErrExportNotFound)
	rec = do(t, srv, http.MethodGet, "/api/v1/audit/exports/gone.xlsx", "admin", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	audit.On("DeleteExport", mock.Anything, "x.xlsx").Return(nil)
	rec = do(t, srv, http.MethodDelete, "/api/v1/audit/exports/x.xlsx", "admin", "", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	audit.On("DeleteExport", mock.Anything, "bad").Return(service.ErrInvalidExportName)
	rec = do(t, srv, http.MethodDelete, "/api/v1/audit/exports/bad", "admin", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	audit.AssertExpectations(t)
}

func TestAuditDisabled(t *testing.T) {
	rec := do(t, newTestServer(new(MockGovernance), nil), http.MethodGet, "/api/v1/audit", "admin", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
