package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"sqlgate/internal/domain/confirmation"
	"sqlgate/internal/domain/memory"
	"sqlgate/internal/domain/outcome"
	"sqlgate/internal/domain/policy"
	"sqlgate/internal/domain/query"
	"sqlgate/internal/observability"
	"sqlgate/internal/usecase/repository"
)

const defaultExecutionTimeout = 30 * time.Second

// ErrGeneration wraps failures of the SQL generation step.
var ErrGeneration = errors.New("sql generation failed")

// ErrUnknownRole is returned for roles outside the two trust tiers.
var ErrUnknownRole = errors.New("unknown role")

// Действия, попадающие в журнал аудита.
const (
	ActionAsk     = "ask"
	ActionConfirm = "confirm"
	ActionCancel  = "cancel"
)

// AskRequest запрос на естественном языке от вызывающего с уже известной ролью.
type AskRequest struct {
	Question  string
	Role      policy.Role
	SessionID string
}

// GovernanceDeps собирает зависимости сервиса.
type GovernanceDeps struct {
	Classifier *query.Classifier
	Policy     *policy.Engine
	Sanitizer  query.Sanitizer
	Gate       *confirmation.Gate
	Memory     *memory.Store
	Generator  repository.SQLGenerator
	Executor   repository.QueryExecutor
	Schema     repository.SchemaProvider
	Audit      repository.AuditLog
	Formatter  *Formatter
	Logger     *logrus.Logger

	ExecutionTimeout time.Duration
}

// GovernanceService проводит запрос через генерацию, классификацию, политику,
// санитайзер, подтверждение и исполнение.
type GovernanceService struct {
	classifier *query.Classifier
	policy     *policy.Engine
	sanitizer  query.Sanitizer
	gate       *confirmation.Gate
	memory     *memory.Store
	generator  repository.SQLGenerator
	executor   repository.QueryExecutor
	schema     repository.SchemaProvider
	audit      repository.AuditLog
	formatter  *Formatter
	logger     *logrus.Logger

	executionTimeout time.Duration
}

// NewGovernanceService создает сервис. Generator, Executor, Gate, Memory and
// Classifier are required; the rest fall back to defaults.
func NewGovernanceService(deps GovernanceDeps) *GovernanceService {
	if deps.Logger == nil {
		deps.Logger = logrus.New()
	}
	if deps.Policy == nil {
		deps.Policy = policy.NewEngine(nil)
	}
	if deps.Sanitizer.MaxLimit == 0 {
		deps.Sanitizer = query.NewSanitizer(100, 1000)
	}
	if deps.Formatter == nil {
		deps.Formatter = NewFormatter(nil, deps.Logger)
	}
	if deps.ExecutionTimeout <= 0 {
		deps.ExecutionTimeout = defaultExecutionTimeout
	}
	return &GovernanceService{
		classifier:       deps.Classifier,
		policy:           deps.Policy,
		sanitizer:        deps.Sanitizer,
		gate:             deps.Gate,
		memory:           deps.Memory,
		generator:        deps.Generator,
		executor:         deps.Executor,
		schema:           deps.Schema,
		audit:            deps.Audit,
		formatter:        deps.Formatter,
		logger:           deps.Logger,
		executionTimeout: deps.ExecutionTimeout,
	}
}

// Ask обрабатывает вопрос. The returned error is non-nil only for caller
// mistakes (missing session, unknown role); every governed outcome,
// rejections included, is a Response.
func (s *GovernanceService) Ask(ctx context.Context, req AskRequest) (Response, error) {
	if req.SessionID == "" {
		return Response{}, memory.ErrSessionRequired
	}
	switch req.Role {
	case policy.RoleUnprivileged:
		return s.askUnprivileged(ctx, req)
	case policy.RolePrivileged:
		return s.askPrivileged(ctx, req)
	}
	return Response{}, fmt.Errorf("%w: %q", ErrUnknownRole, req.Role)
}

func (s *GovernanceService) askUnprivileged(ctx context.Context, req AskRequest) (Response, error) {
	window, release, err := s.memory.Acquire(ctx, req.SessionID)
	if err != nil {
		return Response{}, err
	}
	defer release()

	started := time.Now()
	entry := s.entry(req.SessionID, req.Role, ActionAsk, req.Question)
	logger := s.logger.WithFields(logrus.Fields{
		"session_id": req.SessionID,
		"role":       req.Role,
	})

	gen, err := s.generate(ctx, req, window.Snapshot())
	if err != nil {
		logger.WithError(err).Warn("Не удалось сгенерировать SQL")
		entry.Error = err.Error()
		s.record(ctx, entry, started)
		return s.formatter.Denied(), nil
	}
	entry.GeneratedSQL = gen.SQL

	stmt, verdict := s.evaluate(req.Role, gen.SQL)
	entry.Kind, entry.Decision, entry.Reason, entry.Rule = stmt.Kind.String(), string(verdict.Decision), string(verdict.Reason), verdict.Rule
	logger = logger.WithFields(logrus.Fields{"kind": stmt.Kind, "verdict": verdict})

	if !verdict.Allowed() {
		// The reason stays in logs and audit; the caller sees a fixed message.
		logger.Warn("Запрос пользователя отклонен политикой")
		s.record(ctx, entry, started)
		return s.formatter.Denied(), nil
	}

	stmt = s.sanitizer.Apply(stmt)
	window.Append(memory.Turn{Question: req.Question, SQL: stmt.SQL, Timestamp: time.Now().UTC()})

	out := s.execute(ctx, stmt)
	s.fillOutcome(&entry, stmt.SQL, out)
	if out.Failed() {
		logger.WithField("error", out.Err).Warn("Ошибка выполнения запроса пользователя")
	}
	s.record(ctx, entry, started)

	return s.formatter.UserResult(ctx, req.Question, stmt.SQL, out), nil
}

func (s *GovernanceService) askPrivileged(ctx context.Context, req AskRequest) (Response, error) {
	started := time.Now()
	entry := s.entry(req.SessionID, req.Role, ActionAsk, req.Question)
	logger := s.logger.WithFields(logrus.Fields{
		"session_id": req.SessionID,
		"role":       req.Role,
	})

	// Privileged requests are independent: no history is sent or kept.
	gen, err := s.generate(ctx, req, nil)
	if err != nil {
		logger.WithError(err).Error("Не удалось сгенерировать SQL")
		entry.Error = err.Error()
		s.record(ctx, entry, started)
		return s.formatter.AdminFailed(query.KindOther, "", err.Error()), nil
	}
	entry.GeneratedSQL = gen.SQL

	stmt, verdict := s.evaluate(req.Role, gen.SQL)
	entry.Kind, entry.Decision, entry.Reason, entry.Rule = stmt.Kind.String(), string(verdict.Decision), string(verdict.Reason), verdict.Rule
	logger = logger.WithFields(logrus.Fields{"kind": stmt.Kind, "verdict": verdict})

	switch {
	case verdict.NeedsConfirmation():
		pending := s.gate.Open(req.SessionID, stmt, req.Question)
		entry.ConfirmationID = pending.ID
		entry.Confirmation = string(pending.Status)
		logger.WithField("confirmation_id", pending.ID).Info("Операция ожидает подтверждения")
		s.record(ctx, entry, started)
		return s.formatter.AdminPending(pending, gen.Explanation), nil

	case verdict.Allowed():
		stmt = s.sanitizer.Apply(stmt)
		out := s.execute(ctx, stmt)
		s.fillOutcome(&entry, stmt.SQL, out)
		s.record(ctx, entry, started)
		resp := s.formatter.AdminResult(stmt.Kind, stmt.SQL, out)
		resp.Admin.Explanation = gen.Explanation
		return resp, nil
	}

	logger.Warn("Запрос администратора отклонен политикой")
	s.record(ctx, entry, started)
	return s.formatter.AdminRejected(stmt.Kind, stmt.SQL, verdict), nil
}

// Confirm подтверждает ожидающую операцию и выполняет ее ровно один раз.
// An expired request yields the cancelled response, not an error.
func (s *GovernanceService) Confirm(ctx context.Context, sessionID, id string) (Response, error) {
	started := time.Now()
	req, err := s.gate.Confirm(id, sessionID)
	if err != nil {
		return s.terminalFailure(ctx, sessionID, id, ActionConfirm, req, err, started)
	}
	observability.ObserveConfirmation(string(req.Status))

	logger := s.logger.WithFields(logrus.Fields{
		"session_id":      sessionID,
		"confirmation_id": id,
		"kind":            req.Statement.Kind,
	})
	logger.Info("Операция подтверждена")

	stmt := s.sanitizer.Apply(req.Statement)
	out := s.execute(ctx, stmt)
	if out.Failed() {
		logger.WithField("error", out.Err).Error("Подтвержденная операция завершилась ошибкой")
	}

	entry := s.entry(sessionID, policy.RolePrivileged, ActionConfirm, req.Question)
	entry.GeneratedSQL = req.Statement.SQL
	entry.Kind = stmt.Kind.String()
	entry.Decision = string(policy.DecisionRequireConfirmation)
	entry.ConfirmationID = id
	entry.Confirmation = string(req.Status)
	s.fillOutcome(&entry, stmt.SQL, out)
	s.record(ctx, entry, started)

	return s.formatter.AdminResult(stmt.Kind, stmt.SQL, out), nil
}

// Cancel отменяет ожидающую операцию без побочных эффектов.
func (s *GovernanceService) Cancel(ctx context.Context, sessionID, id string) (Response, error) {
	started := time.Now()
	req, err := s.gate.Cancel(id, sessionID)
	if err != nil {
		return s.terminalFailure(ctx, sessionID, id, ActionCancel, req, err, started)
	}
	observability.ObserveConfirmation(string(req.Status))
	s.logger.WithFields(logrus.Fields{
		"session_id":      sessionID,
		"confirmation_id": id,
	}).Info("Операция отменена")

	entry := s.entry(sessionID, policy.RolePrivileged, ActionCancel, req.Question)
	entry.GeneratedSQL = req.Statement.SQL
	entry.Kind = req.Statement.Kind.String()
	entry.Decision = string(policy.DecisionRequireConfirmation)
	entry.ConfirmationID = id
	entry.Confirmation = string(req.Status)
	s.record(ctx, entry, started)

	return s.formatter.AdminCancelled(), nil
}

// Resolve confirms on an affirmative reply and cancels on anything else.
func (s *GovernanceService) Resolve(ctx context.Context, sessionID, id, reply string) (Response, error) {
	if confirmation.IsAffirmative(reply) {
		return s.Confirm(ctx, sessionID, id)
	}
	return s.Cancel(ctx, sessionID, id)
}

// Confirmation returns the current state of a request.
func (s *GovernanceService) Confirmation(sessionID, id string) (confirmation.Request, error) {
	return s.gate.Get(id, sessionID)
}

// EndSession discards the session's memory window.
func (s *GovernanceService) EndSession(sessionID string) bool {
	ended := s.memory.End(sessionID)
	if ended {
		s.logger.WithField("session_id", sessionID).Debug("Сессия завершена")
	}
	return ended
}

func (s *GovernanceService) terminalFailure(ctx context.Context, sessionID, id, action string, req confirmation.Request, err error, started time.Time) (Response, error) {
	if !errors.Is(err, confirmation.ErrExpired) {
		return Response{}, err
	}
	observability.ObserveConfirmation(string(confirmation.StatusExpired))
	s.logger.WithFields(logrus.Fields{
		"session_id":      sessionID,
		"confirmation_id": id,
	}).Info("Срок подтверждения истек")

	entry := s.entry(sessionID, policy.RolePrivileged, action, req.Question)
	entry.GeneratedSQL = req.Statement.SQL
	entry.Kind = req.Statement.Kind.String()
	entry.Decision = string(policy.DecisionRequireConfirmation)
	entry.ConfirmationID = id
	entry.Confirmation = string(confirmation.StatusExpired)
	s.record(ctx, entry, started)
	return s.formatter.AdminCancelled(), nil
}

func (s *GovernanceService) generate(ctx context.Context, req AskRequest, history []memory.Turn) (repository.Generation, error) {
	schema := ""
	if s.schema != nil {
		var err error
		schema, err = s.schema.Describe(ctx)
		if err != nil {
			return repository.Generation{}, fmt.Errorf("%w: schema: %v", ErrGeneration, err)
		}
	}

	gen, err := s.generator.Generate(ctx, repository.GenerationRequest{
		Question: req.Question,
		Schema:   schema,
		History:  history,
		Role:     req.Role,
	})
	if err != nil {
		return repository.Generation{}, fmt.Errorf("%w: %v", ErrGeneration, err)
	}
	gen.SQL = strings.TrimSpace(gen.SQL)
	if gen.SQL == "" {
		return repository.Generation{}, fmt.Errorf("%w: empty statement", ErrGeneration)
	}
	return gen, nil
}

func (s *GovernanceService) evaluate(role policy.Role, sql string) (query.Statement, policy.Verdict) {
	stmt := s.classifier.Classify(sql)
	verdict := s.policy.Evaluate(role, stmt)
	observability.ObserveVerdict(string(role), string(verdict.Decision), string(verdict.Reason))
	s.logger.WithFields(logrus.Fields{
		"role":    role,
		"kind":    stmt.Kind,
		"verdict": verdict,
		"rule":    verdict.Rule,
		"sql":     stmt.SQL,
	}).Debug("Выражение классифицировано")
	return stmt, verdict
}

// execute bounds the store call. A timeout is an Error outcome and is never retried.
func (s *GovernanceService) execute(ctx context.Context, stmt query.Statement) outcome.Outcome {
	ctx, cancel := context.WithTimeout(ctx, s.executionTimeout)
	defer cancel()

	started := time.Now()
	out := s.executor.Execute(ctx, stmt.SQL, stmt.Kind)
	observability.ObserveExecution(stmt.Kind.String(), string(out.Kind), time.Since(started))
	return out
}

func (s *GovernanceService) entry(sessionID string, role policy.Role, action, question string) repository.AuditEntry {
	return repository.AuditEntry{
		SessionID: sessionID,
		Role:      string(role),
		Action:    action,
		Question:  question,
		At:        time.Now().UTC(),
	}
}

func (s *GovernanceService) fillOutcome(entry *repository.AuditEntry, sql string, out outcome.Outcome) {
	entry.ExecutedSQL = sql
	entry.Outcome = string(out.Kind)
	entry.RowsAffected = out.RowsAffected
	entry.RowCount = len(out.Rows)
	entry.Error = out.Err
}

// record never fails the request.
func (s *GovernanceService) record(ctx context.Context, entry repository.AuditEntry, started time.Time) {
	if s.audit == nil {
		return
	}
	entry.Duration = time.Since(started)
	if err := s.audit.Record(context.WithoutCancel(ctx), entry); err != nil {
		s.logger.WithError(err).WithField("session_id", entry.SessionID).Error("Не удалось записать аудит")
	}
}
