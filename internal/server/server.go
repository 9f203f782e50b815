package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"sqlgate/internal/config"
	"sqlgate/internal/domain/confirmation"
	"sqlgate/internal/domain/memory"
	"sqlgate/internal/domain/policy"
	"sqlgate/internal/infrastructure/xlsx"
	"sqlgate/internal/models"
	"sqlgate/internal/observability"
	"sqlgate/internal/service"
	"sqlgate/internal/storage"
	"sqlgate/internal/usecase"
)

// Trusted headers set by the upstream gateway.
const (
	HeaderRole    = "X-Role"
	HeaderSession = "X-Session-ID"

	ctxRole    = "caller_role"
	ctxSession = "caller_session"
)

// HTTPServer is the lifecycle surface used by cmd/server.
type HTTPServer interface {
	Start(address string) error
	Shutdown(ctx context.Context) error
}

// Governance is the request flow the API exposes.
type Governance interface {
	Ask(ctx context.Context, req usecase.AskRequest) (usecase.Response, error)
	Confirm(ctx context.Context, sessionID, id string) (usecase.Response, error)
	Cancel(ctx context.Context, sessionID, id string) (usecase.Response, error)
	Resolve(ctx context.Context, sessionID, id, reply string) (usecase.Response, error)
	Confirmation(sessionID, id string) (confirmation.Request, error)
	EndSession(sessionID string) bool
}

// AuditQueries is the read and export side of the audit trail.
type AuditQueries interface {
	List(ctx context.Context, params service.ListAuditParams) (*service.AuditList, error)
	Get(ctx context.Context, id uint) (*models.AuditRecord, error)
	Export(ctx context.Context, params service.ListAuditParams) (*service.ExportResult, error)
	Exports(ctx context.Context) ([]storage.FileInfo, error)
	OpenExport(ctx context.Context, name string) (io.ReadCloser, error)
	DeleteExport(ctx context.Context, name string) error
}

// Server represents the HTTP server
type Server struct {
	echo       *echo.Echo
	governance Governance
	audit      AuditQueries
	logger     *logrus.Logger
}

// NewServer creates a new HTTP server. audit may be nil when the audit
// store is disabled; the audit routes then answer 503.
func NewServer(cfg config.Config, governance Governance, audit AuditQueries, logger *logrus.Logger) *Server {
	e := echo.New()
	e.Debug = cfg.Server.Debug
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORS())
	e.Use(observability.MetricsMiddleware)

	if cfg.Server.Debug {
		e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
			Format: "${time_rfc3339} ${method} ${uri} ${status} ${latency_human} ${error}\n",
		}))
	}

	server := &Server{
		echo:       e,
		governance: governance,
		audit:      audit,
		logger:     logger,
	}

	server.setupRoutes()
	return server
}

// Start starts the HTTP server
func (s *Server) Start(address string) error {
	s.logger.WithField("address", address).Info("Starting HTTP server")
	err := s.echo.Start(address)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.echo.Shutdown(ctx)
}

// ServeHTTP lets tests drive the router directly.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// setupRoutes configures the server routes
func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := s.echo.Group("/api/v1", s.resolveCaller)
	{
		api.POST("/ask", s.ask)
		api.DELETE("/sessions/:id", s.endSession)

		confirmations := api.Group("/confirmations", requireRole(policy.RolePrivileged))
		{
			confirmations.GET("/:id", s.getConfirmation)
			confirmations.POST("/:id", s.resolveConfirmation)
			confirmations.POST("/:id/confirm", s.confirm)
			confirmations.POST("/:id/cancel", s.cancel)
		}

		audit := api.Group("/audit", requireRole(policy.RolePrivileged))
		{
			audit.GET("", s.listAudit)
			audit.GET("/exports", s.listExports)
			audit.GET("/exports/:name", s.downloadExport)
			audit.DELETE("/exports/:name", s.deleteExport)
			audit.GET("/:id", s.getAudit)
			audit.POST("/export", s.exportAudit)
		}
	}
}

// healthCheck handles health check requests
func (s *Server) healthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   "sqlgate",
	})
}

// resolveCaller reads the trusted role and session headers.
func (s *Server) resolveCaller(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		role, err := policy.ParseRole(c.Request().Header.Get(HeaderRole))
		if err != nil {
			return c.JSON(http.StatusUnauthorized, errorBody("Missing or unknown role"))
		}
		c.Set(ctxRole, role)
		c.Set(ctxSession, strings.TrimSpace(c.Request().Header.Get(HeaderSession)))
		return next(c)
	}
}

func requireRole(role policy.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if callerRole(c) != role {
				return c.JSON(http.StatusForbidden, errorBody("Forbidden"))
			}
			return next(c)
		}
	}
}

func callerRole(c echo.Context) policy.Role {
	role, _ := c.Get(ctxRole).(policy.Role)
	return role
}

func callerSession(c echo.Context) string {
	session, _ := c.Get(ctxSession).(string)
	return session
}

// ask handles a natural-language question
func (s *Server) ask(c echo.Context) error {
	var req struct {
		Question string `json:"question"`
	}
	if err := c.Bind(&req); err != nil {
		s.logger.WithError(err).Debug("Failed to bind request")
		return c.JSON(http.StatusBadRequest, errorBody("Invalid request format"))
	}
	if strings.TrimSpace(req.Question) == "" {
		return c.JSON(http.StatusBadRequest, errorBody("Question is required"))
	}

	resp, err := s.governance.Ask(c.Request().Context(), usecase.AskRequest{
		Question:  req.Question,
		Role:      callerRole(c),
		SessionID: callerSession(c),
	})
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, resp.Body())
}

func (s *Server) getConfirmation(c echo.Context) error {
	req, err := s.governance.Confirmation(callerSession(c), c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, req)
}

// resolveConfirmation confirms on an affirmative reply and cancels otherwise
func (s *Server) resolveConfirmation(c echo.Context) error {
	var req struct {
		Reply string `json:"reply"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("Invalid request format"))
	}

	resp, err := s.governance.Resolve(c.Request().Context(), callerSession(c), c.Param("id"), req.Reply)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, resp.Body())
}

func (s *Server) confirm(c echo.Context) error {
	resp, err := s.governance.Confirm(c.Request().Context(), callerSession(c), c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, resp.Body())
}

func (s *Server) cancel(c echo.Context) error {
	resp, err := s.governance.Cancel(c.Request().Context(), callerSession(c), c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, resp.Body())
}

// endSession discards the memory window of the session in the path
func (s *Server) endSession(c echo.Context) error {
	id := c.Param("id")
	if session := callerSession(c); session != "" && session != id {
		return c.JSON(http.StatusForbidden, errorBody("Session does not belong to caller"))
	}
	if !s.governance.EndSession(id) {
		return c.JSON(http.StatusNotFound, errorBody("Session not found"))
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) listAudit(c echo.Context) error {
	if s.audit == nil {
		return c.JSON(http.StatusServiceUnavailable, errorBody("Audit trail is disabled"))
	}

	params, err := auditParams(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody(err.Error()))
	}

	list, err := s.audit.List(c.Request().Context(), params)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) getAudit(c echo.Context) error {
	if s.audit == nil {
		return c.JSON(http.StatusServiceUnavailable, errorBody("Audit trail is disabled"))
	}

	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("Invalid audit record ID"))
	}

	record, err := s.audit.Get(c.Request().Context(), uint(id))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, record)
}

func (s *Server) exportAudit(c echo.Context) error {
	if s.audit == nil {
		return c.JSON(http.StatusServiceUnavailable, errorBody("Audit trail is disabled"))
	}

	var params service.ListAuditParams
	if err := c.Bind(&params); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("Invalid request format"))
	}

	result, err := s.audit.Export(c.Request().Context(), params)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusCreated, result)
}

func (s *Server) listExports(c echo.Context) error {
	if s.audit == nil {
		return c.JSON(http.StatusServiceUnavailable, errorBody("Audit trail is disabled"))
	}

	files, err := s.audit.Exports(c.Request().Context())
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"exports": files,
		"count":   len(files),
	})
}

func (s *Server) downloadExport(c echo.Context) error {
	if s.audit == nil {
		return c.JSON(http.StatusServiceUnavailable, errorBody("Audit trail is disabled"))
	}

	name := c.Param("name")
	reader, err := s.audit.OpenExport(c.Request().Context(), name)
	if err != nil {
		return s.fail(c, err)
	}
	defer reader.Close()

	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+name+`"`)
	return c.Stream(http.StatusOK, xlsx.MimeType, reader)
}

func (s *Server) deleteExport(c echo.Context) error {
	if s.audit == nil {
		return c.JSON(http.StatusServiceUnavailable, errorBody("Audit trail is disabled"))
	}

	if err := s.audit.DeleteExport(c.Request().Context(), c.Param("name")); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func auditParams(c echo.Context) (service.ListAuditParams, error) {
	var (
		params   service.ListAuditParams
		from, to time.Time
	)
	err := echo.QueryParamsBinder(c).
		Int("page", &params.Page).
		Int("page_size", &params.PageSize).
		String("role", &params.Role).
		String("decision", &params.Decision).
		String("session_id", &params.SessionID).
		Time("from", &from, time.RFC3339).
		Time("to", &to, time.RFC3339).
		BindError()
	if err != nil {
		return params, err
	}
	if !from.IsZero() {
		params.From = &from
	}
	if !to.IsZero() {
		params.To = &to
	}
	return params, nil
}

// fail maps service errors to HTTP statuses
func (s *Server) fail(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	message := "Internal server error"

	switch {
	case errors.Is(err, memory.ErrSessionRequired):
		status, message = http.StatusBadRequest, "Session id is required"
	case errors.Is(err, usecase.ErrUnknownRole):
		status, message = http.StatusUnauthorized, "Missing or unknown role"
	case errors.Is(err, confirmation.ErrNotFound):
		status, message = http.StatusNotFound, "Confirmation request not found"
	case errors.Is(err, confirmation.ErrSessionMismatch):
		status, message = http.StatusForbidden, "Confirmation request belongs to another session"
	case errors.Is(err, confirmation.ErrNotPending):
		status, message = http.StatusConflict, err.Error()
	case errors.Is(err, service.ErrRecordNotFound):
		status, message = http.StatusNotFound, "Audit record not found"
	case errors.Is(err, service.ErrExportNotFound):
		status, message = http.StatusNotFound, "Audit export not found"
	case errors.Is(err, service.ErrInvalidExportName):
		status, message = http.StatusBadRequest, "Invalid export name"
	}

	logger := s.logger.WithError(err).WithFields(logrus.Fields{
		"method": c.Request().Method,
		"path":   c.Path(),
		"status": status,
	})
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed")
	} else {
		logger.Debug("Request rejected")
	}

	return c.JSON(status, errorBody(message))
}

func errorBody(message string) map[string]string {
	return map[string]string{"error": message}
}
