package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"sqlgate/internal/domain/confirmation"
	"sqlgate/internal/domain/memory"
	"sqlgate/internal/domain/outcome"
	"sqlgate/internal/domain/policy"
	"sqlgate/internal/domain/query"
	"sqlgate/internal/usecase/repository"
)

// MockGenerator is a mock implementation of repository.SQLGenerator
type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) Generate(ctx context.Context, req repository.GenerationRequest) (repository.Generation, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(repository.Generation), args.Error(1)
}

// MockExecutor is a mock implementation of repository.QueryExecutor
type MockExecutor struct {
	mock.Mock
}

func (m *MockExecutor) Execute(ctx context.Context, sql string, kind query.Kind) outcome.Outcome {
	args := m.Called(ctx, sql, kind)
	return args.Get(0).(outcome.Outcome)
}

// MockAnswers is a mock implementation of repository.AnswerGenerator
type MockAnswers struct {
	mock.Mock
}

func (m *MockAnswers) Answer(ctx context.Context, question, sql string, rows []map[string]any) (string, error) {
	args := m.Called(ctx, question, sql, rows)
	return args.String(0), args.Error(1)
}

// MockSchema is a mock implementation of repository.SchemaProvider
type MockSchema struct {
	mock.Mock
}

func (m *MockSchema) Describe(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

// MockAudit is a mock implementation of repository.AuditLog
type MockAudit struct {
	mock.Mock
}

func (m *MockAudit) Record(ctx context.Context, entry repository.AuditEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

type fixture struct {
	service   *GovernanceService
	generator *MockGenerator
	executor  *MockExecutor
	answers   *MockAnswers
	audit     *MockAudit
	memory    *memory.Store
	gate      *confirmation.Gate
}

func setupTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	return logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := setupTestLogger()

	f := &fixture{
		generator: new(MockGenerator),
		executor:  new(MockExecutor),
		answers:   new(MockAnswers),
		audit:     new(MockAudit),
		memory:    memory.NewStore(memory.DefaultWindowSize),
		gate:      confirmation.NewGate(time.Minute),
	}
	schema := new(MockSchema)
	schema.On("Describe", mock.Anything).Return("repairs(repair_id, card_id, approved)", nil)
	f.audit.On("Record", mock.Anything, mock.Anything).Return(nil)

	f.service = NewGovernanceService(GovernanceDeps{
		Classifier: query.NewClassifier(query.NewDenyList(query.DefaultDenyList)),
		Policy:     policy.NewEngine(nil),
		Sanitizer:  query.NewSanitizer(100, 1000),
		Gate:       f.gate,
		Memory:     f.memory,
		Generator:  f.generator,
		Executor:   f.executor,
		Schema:     schema,
		Audit:      f.audit,
		Formatter:  NewFormatter(f.answers, logger),
		Logger:     logger,
	})
	return f
}

func (f *fixture) generates(sql string) {
	f.generator.On("Generate", mock.Anything, mock.Anything).
		Return(repository.Generation{SQL: sql}, nil).Once()
}

func TestUnprivilegedSelectIsCappedAndAnswered(t *testing.T) {
	f := newFixture(t)
	f.generates("select * from repairs")

	rows := []map[string]any{{"repair_id": int64(1)}, {"repair_id": int64(2)}}
	f.executor.On("Execute", mock.Anything, "select * from repairs LIMIT 100", query.KindSelect).
		Return(outcome.Rows([]string{"repair_id"}, rows)).Once()
	f.answers.On("Answer", mock.Anything, "list repairs", "select * from repairs LIMIT 100", rows).
		Return("There are two repairs.", nil).Once()

	resp, err := f.service.Ask(context.Background(), AskRequest{
		Question: "list repairs", Role: policy.RoleUnprivileged, SessionID: "s1",
	})
	require.NoError(t, err)
	require.NotNil(t, resp.User)
	assert.Equal(t, StatusAnswered, resp.User.Status)
	assert.Equal(t, "There are two repairs.", resp.User.Answer)
	assert.Equal(t, "select * from repairs LIMIT 100", resp.User.SQL)

	f.executor.AssertExpectations(t)
	f.answers.AssertExpectations(t)
}

func TestUnprivilegedWriteIsDeniedWithoutExecution(t *testing.T) {
	f := newFixture(t)
	f.generates("DROP TABLE quotes;")

	resp, err := f.service.Ask(context.Background(), AskRequest{
		Question: "drop quotes", Role: policy.RoleUnprivileged, SessionID: "s1",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusDenied, resp.User.Status)
	assert.Equal(t, DeniedMessage, resp.User.Answer)
	assert.Empty(t, resp.User.SQL)

	f.executor.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything)
	f.audit.AssertCalled(t, "Record", mock.Anything, mock.MatchedBy(func(e repository.AuditEntry) bool {
		return e.Reason == string(policy.ReasonDataModificationNotAllowed) && e.ExecutedSQL == ""
	}))
}

func TestUnprivilegedMetadataIsDenied(t *testing.T) {
	f := newFixture(t)
	f.generates("SELECT * FROM information_schema.tables")

	resp, err := f.service.Ask(context.Background(), AskRequest{
		Question: "what tables exist", Role: policy.RoleUnprivileged, SessionID: "s1",
	})
	require.NoError(t, err)
	assert.Equal(t, DeniedMessage, resp.User.Answer)
	assert.NotContains(t, resp.User.Answer, string(policy.ReasonSchemaVisibilityRestricted))

	f.executor.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything)
	f.audit.AssertCalled(t, "Record", mock.Anything, mock.MatchedBy(func(e repository.AuditEntry) bool {
		return e.Reason == string(policy.ReasonSchemaVisibilityRestricted)
	}))
}

func TestUnprivilegedEmptyResult(t *testing.T) {
	f := newFixture(t)
	f.generates("SELECT * FROM repairs WHERE approved LIMIT 10")
	f.executor.On("Execute", mock.Anything, "SELECT * FROM repairs WHERE approved LIMIT 10", query.KindSelect).
		Return(outcome.Rows([]string{"repair_id"}, nil)).Once()

	resp, err := f.service.Ask(context.Background(), AskRequest{
		Question: "approved repairs", Role: policy.RoleUnprivileged, SessionID: "s1",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusNoResults, resp.User.Status)
	assert.Equal(t, NoResultsMessage, resp.User.Answer)
	assert.Equal(t, "SELECT * FROM repairs WHERE approved LIMIT 10", resp.User.SQL)
	f.answers.AssertNotCalled(t, "Answer", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestUnprivilegedExecutionErrorIsHidden(t *testing.T) {
	f := newFixture(t)
	f.generates("SELECT * FROM repairs")
	f.executor.On("Execute", mock.Anything, mock.Anything, query.KindSelect).
		Return(outcome.Error(`relation "repairs" does not exist`)).Once()

	resp, err := f.service.Ask(context.Background(), AskRequest{
		Question: "repairs", Role: policy.RoleUnprivileged, SessionID: "s1",
	})
	require.NoError(t, err)
	assert.Equal(t, DeniedMessage, resp.User.Answer)
}

func TestUnprivilegedGenerationFailureIsDenied(t *testing.T) {
	f := newFixture(t)
	f.generator.On("Generate", mock.Anything, mock.Anything).
		Return(repository.Generation{}, errors.New("rate limited")).Once()

	resp, err := f.service.Ask(context.Background(), AskRequest{
		Question: "repairs", Role: policy.RoleUnprivileged, SessionID: "s1",
	})
	require.NoError(t, err)
	assert.Equal(t, DeniedMessage, resp.User.Answer)
}

func TestAnswerFailureFallsBackToPlainRendering(t *testing.T) {
	f := newFixture(t)
	f.generates("SELECT count(*) AS total FROM repairs")
	rows := []map[string]any{{"total": int64(42)}}
	f.executor.On("Execute", mock.Anything, mock.Anything, query.KindSelect).
		Return(outcome.Rows([]string{"total"}, rows)).Once()
	f.answers.On("Answer", mock.Anything, mock.Anything, mock.Anything, rows).
		Return("", errors.New("timeout")).Once()

	resp, err := f.service.Ask(context.Background(), AskRequest{
		Question: "how many repairs", Role: policy.RoleUnprivileged, SessionID: "s1",
	})
	require.NoError(t, err)
	assert.Equal(t, "Result: 42", resp.User.Answer)
}

func TestMemoryWindowFeedsGeneration(t *testing.T) {
	f := newFixture(t)
	f.executor.On("Execute", mock.Anything, mock.Anything, mock.Anything).
		Return(outcome.Rows([]string{"n"}, nil))

	for i := 0; i < 7; i++ {
		f.generates("SELECT 1")
		_, err := f.service.Ask(context.Background(), AskRequest{
			Question: strings.Repeat("q", i+1), Role: policy.RoleUnprivileged, SessionID: "s1",
		})
		require.NoError(t, err)
	}

	// A rejected statement is not remembered.
	f.generates("DELETE FROM repairs")
	_, err := f.service.Ask(context.Background(), AskRequest{
		Question: "delete", Role: policy.RoleUnprivileged, SessionID: "s1",
	})
	require.NoError(t, err)

	turns, err := f.memory.Snapshot(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, turns, memory.DefaultWindowSize)
	assert.Equal(t, "qqq", turns[0].Question)
	assert.Equal(t, "qqqqqqq", turns[4].Question)
	assert.Equal(t, "SELECT 1 LIMIT 100", turns[4].SQL)

	calls := f.generator.Calls
	last := calls[len(calls)-1].Arguments.Get(1).(repository.GenerationRequest)
	assert.Len(t, last.History, memory.DefaultWindowSize)
	assert.Equal(t, "repairs(repair_id, card_id, approved)", last.Schema)
}

func TestPrivilegedRequestsCarryNoHistory(t *testing.T) {
	f := newFixture(t)
	f.executor.On("Execute", mock.Anything, mock.Anything, mock.Anything).
		Return(outcome.Rows([]string{"n"}, nil))

	for i := 0; i < 2; i++ {
		f.generates("SELECT 1")
		_, err := f.service.Ask(context.Background(), AskRequest{
			Question: "q", Role: policy.RolePrivileged, SessionID: "admin",
		})
		require.NoError(t, err)
	}

	for _, call := range f.generator.Calls {
		assert.Empty(t, call.Arguments.Get(1).(repository.GenerationRequest).History)
	}
	assert.Zero(t, f.memory.Sessions())
}

func TestPrivilegedDeleteCancelled(t *testing.T) {
	f := newFixture(t)
	f.generates("DELETE FROM repairs WHERE repair_id = 10;")

	resp, err := f.service.Ask(context.Background(), AskRequest{
		Question: "delete repair 10", Role: policy.RolePrivileged, SessionID: "admin",
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Admin)
	assert.Equal(t, StatusPendingConfirmation, resp.Admin.Status)
	require.NotNil(t, resp.Admin.Confirmation)
	assert.Equal(t, "Pending operation: DELETE on repairs", resp.Admin.Confirmation.Description)
	assert.NotNil(t, resp.Admin.Confirmation.ExpiresAt)

	resp, err = f.service.Resolve(context.Background(), "admin", resp.Admin.Confirmation.ID, "No")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, resp.Admin.Status)

	f.executor.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything)
}

func TestPrivilegedDeleteConfirmed(t *testing.T) {
	f := newFixture(t)
	f.generates("DELETE FROM repairs WHERE repair_id = 10;")
	f.executor.On("Execute", mock.Anything, "DELETE FROM repairs WHERE repair_id = 10;", query.KindDelete).
		Return(outcome.Mutation(1)).Once()

	resp, err := f.service.Ask(context.Background(), AskRequest{
		Question: "delete repair 10", Role: policy.RolePrivileged, SessionID: "admin",
	})
	require.NoError(t, err)
	id := resp.Admin.Confirmation.ID

	resp, err = f.service.Resolve(context.Background(), "admin", id, "Yes")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, resp.Admin.Status)
	assert.Equal(t, "DELETE", resp.Admin.Operation)
	require.NotNil(t, resp.Admin.RowsAffected)
	assert.Equal(t, int64(1), *resp.Admin.RowsAffected)
	assert.False(t, resp.Admin.Timestamp.IsZero())

	_, err = f.service.Confirm(context.Background(), "admin", id)
	assert.ErrorIs(t, err, confirmation.ErrNotPending)

	f.executor.AssertNumberOfCalls(t, "Execute", 1)
}

func TestPrivilegedFailedMutationCarriesDetail(t *testing.T) {
	f := newFixture(t)
	f.generates("UPDATE repairs SET approved = true")
	f.executor.On("Execute", mock.Anything, mock.Anything, query.KindUpdate).
		Return(outcome.Error("execution timed out")).Once()

	resp, err := f.service.Ask(context.Background(), AskRequest{
		Question: "approve all", Role: policy.RolePrivileged, SessionID: "admin",
	})
	require.NoError(t, err)

	resp, err = f.service.Confirm(context.Background(), "admin", resp.Admin.Confirmation.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, resp.Admin.Status)
	assert.Equal(t, "UPDATE", resp.Admin.Operation)
	assert.Equal(t, "execution timed out", resp.Admin.Error)
	f.executor.AssertNumberOfCalls(t, "Execute", 1)
}

func TestConcurrentConfirmExecutesOnce(t *testing.T) {
	f := newFixture(t)
	f.generates("DELETE FROM repairs")
	f.executor.On("Execute", mock.Anything, mock.Anything, query.KindDelete).Return(outcome.Mutation(3))

	resp, err := f.service.Ask(context.Background(), AskRequest{
		Question: "delete all", Role: policy.RolePrivileged, SessionID: "admin",
	})
	require.NoError(t, err)
	id := resp.Admin.Confirmation.ID

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.service.Confirm(context.Background(), "admin", id)
		}()
	}
	wg.Wait()

	f.executor.AssertNumberOfCalls(t, "Execute", 1)
}

func TestExpiredConfirmationIsCancelled(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	f.gate.WithClock(func() time.Time { return now })
	f.generates("DROP TABLE quotes")

	resp, err := f.service.Ask(context.Background(), AskRequest{
		Question: "drop quotes", Role: policy.RolePrivileged, SessionID: "admin",
	})
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	resp, err = f.service.Confirm(context.Background(), "admin", resp.Admin.Confirmation.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, resp.Admin.Status)
	f.executor.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything)
}

func TestPrivilegedReadRunsImmediately(t *testing.T) {
	f := newFixture(t)
	f.generator.On("Generate", mock.Anything, mock.Anything).
		Return(repository.Generation{SQL: "SELECT * FROM information_schema.tables", Explanation: "lists tables"}, nil).Once()
	rows := []map[string]any{{"table_name": "repairs"}}
	f.executor.On("Execute", mock.Anything, "SELECT * FROM information_schema.tables LIMIT 100", query.KindSchemaMetadataAccess).
		Return(outcome.Rows([]string{"table_name"}, rows)).Once()

	resp, err := f.service.Ask(context.Background(), AskRequest{
		Question: "tables", Role: policy.RolePrivileged, SessionID: "admin",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, resp.Admin.Status)
	assert.Equal(t, rows, resp.Admin.Rows)
	require.NotNil(t, resp.Admin.RowCount)
	assert.Equal(t, 1, *resp.Admin.RowCount)
	assert.Equal(t, "lists tables", resp.Admin.Explanation)
}

func TestPrivilegedGenerationFailureHasDetail(t *testing.T) {
	f := newFixture(t)
	f.generator.On("Generate", mock.Anything, mock.Anything).
		Return(repository.Generation{}, errors.New("model unavailable")).Once()

	resp, err := f.service.Ask(context.Background(), AskRequest{
		Question: "x", Role: policy.RolePrivileged, SessionID: "admin",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, resp.Admin.Status)
	assert.Contains(t, resp.Admin.Error, "model unavailable")
}

func TestConfirmationBelongsToSession(t *testing.T) {
	f := newFixture(t)
	f.generates("DELETE FROM repairs")

	resp, err := f.service.Ask(context.Background(), AskRequest{
		Question: "delete", Role: policy.RolePrivileged, SessionID: "admin",
	})
	require.NoError(t, err)

	_, err = f.service.Confirm(context.Background(), "other", resp.Admin.Confirmation.ID)
	assert.ErrorIs(t, err, confirmation.ErrSessionMismatch)
}

func TestAskValidatesCaller(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Ask(context.Background(), AskRequest{Question: "q", Role: policy.RoleUnprivileged})
	assert.ErrorIs(t, err, memory.ErrSessionRequired)

	_, err = f.service.Ask(context.Background(), AskRequest{Question: "q", Role: "guest", SessionID: "s"})
	assert.ErrorIs(t, err, ErrUnknownRole)
}

func TestAuditFailureDoesNotChangeResponse(t *testing.T) {
	f := newFixture(t)
	f.audit.ExpectedCalls = nil
	f.audit.On("Record", mock.Anything, mock.Anything).Return(errors.New("db down"))
	f.generates("DROP TABLE quotes")

	resp, err := f.service.Ask(context.Background(), AskRequest{
		Question: "drop", Role: policy.RoleUnprivileged, SessionID: "s1",
	})
	require.NoError(t, err)
	assert.Equal(t, DeniedMessage, resp.User.Answer)
}

func TestEndSessionDiscardsWindow(t *testing.T) {
	f := newFixture(t)
	f.generates("SELECT 1")
	f.executor.On("Execute", mock.Anything, mock.Anything, mock.Anything).Return(outcome.Rows(nil, nil))

	_, err := f.service.Ask(context.Background(), AskRequest{Question: "q", Role: policy.RoleUnprivileged, SessionID: "s1"})
	require.NoError(t, err)

	assert.True(t, f.service.EndSession("s1"))
	assert.False(t, f.service.EndSession("s1"))
	turns, err := f.memory.Snapshot(context.Background(), "s1")
	require.NoError(t, err)
	assert.Empty(t, turns)
}
