package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"sqlgate/internal/domain/confirmation"
	"sqlgate/internal/domain/outcome"
	"sqlgate/internal/domain/policy"
	"sqlgate/internal/domain/query"
	"sqlgate/internal/usecase/repository"
)

const (
	// DeniedMessage единственный ответ пользователю при любом отказе или ошибке.
	DeniedMessage = "No access to this information; contact the admin."
	// NoResultsMessage ответ пользователю при пустой выборке.
	NoResultsMessage = "No results found for your query."

	plainPreviewRows = 5
)

// Статусы ответов.
const (
	StatusAnswered            = "answered"
	StatusNoResults           = "no_results"
	StatusDenied              = "denied"
	StatusSuccess             = "success"
	StatusFailed              = "failed"
	StatusRejected            = "rejected"
	StatusCancelled           = "cancelled"
	StatusPendingConfirmation = "pending_confirmation"
)

// UserResponse ответ для непривилегированной роли.
type UserResponse struct {
	Status string `json:"status"`
	Answer string `json:"answer"`
	SQL    string `json:"sql,omitempty"`
}

// PendingConfirmation описывает операцию, ожидающую подтверждения.
type PendingConfirmation struct {
	ID          string     `json:"confirmation_id"`
	Description string     `json:"description"`
	SQL         string     `json:"sql"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// AdminResponse ответ для привилегированной роли.
type AdminResponse struct {
	Status       string               `json:"status"`
	Operation    string               `json:"operation,omitempty"`
	RowsAffected *int64               `json:"rows_affected,omitempty"`
	Columns      []string             `json:"columns,omitempty"`
	Rows         []map[string]any     `json:"rows,omitempty"`
	RowCount     *int                 `json:"row_count,omitempty"`
	SQL          string               `json:"sql,omitempty"`
	Explanation  string               `json:"explanation,omitempty"`
	Error        string               `json:"error,omitempty"`
	Confirmation *PendingConfirmation `json:"confirmation,omitempty"`
	Timestamp    time.Time            `json:"timestamp"`
}

// Response carries exactly one of the two role-specific payloads.
type Response struct {
	Role  policy.Role    `json:"-"`
	User  *UserResponse  `json:"-"`
	Admin *AdminResponse `json:"-"`
}

// Body returns the payload to serialize.
func (r Response) Body() any {
	if r.Admin != nil {
		return r.Admin
	}
	return r.User
}

// Status returns the payload status.
func (r Response) Status() string {
	if r.Admin != nil {
		return r.Admin.Status
	}
	if r.User != nil {
		return r.User.Status
	}
	return ""
}

// Formatter строит ответы в форме, зависящей от роли.
type Formatter struct {
	answers repository.AnswerGenerator
	clock   func() time.Time
	logger  *logrus.Logger
}

// NewFormatter создает форматтер. answers may be nil; the plain rendering is used then.
func NewFormatter(answers repository.AnswerGenerator, logger *logrus.Logger) *Formatter {
	return &Formatter{answers: answers, clock: time.Now, logger: logger}
}

// WithClock overrides the timestamp source.
func (f *Formatter) WithClock(clock func() time.Time) *Formatter {
	f.clock = clock
	return f
}

// Denied hides the reason from the caller.
func (f *Formatter) Denied() Response {
	return userResponse(UserResponse{Status: StatusDenied, Answer: DeniedMessage})
}

// UserResult formats an executed read for the unprivileged role.
func (f *Formatter) UserResult(ctx context.Context, question, sql string, out outcome.Outcome) Response {
	if out.Kind != outcome.KindRows {
		return f.Denied()
	}
	if out.Empty() {
		return userResponse(UserResponse{Status: StatusNoResults, Answer: NoResultsMessage, SQL: sql})
	}

	answer := ""
	if f.answers != nil {
		text, err := f.answers.Answer(ctx, question, sql, out.Rows)
		if err != nil {
			f.logger.WithError(err).Warn("Генерация ответа не удалась, используется простой формат")
		} else {
			answer = strings.TrimSpace(text)
		}
	}
	if answer == "" {
		answer = PlainAnswer(out.Columns, out.Rows)
	}
	return userResponse(UserResponse{Status: StatusAnswered, Answer: answer, SQL: sql})
}

// AdminResult formats an executed statement for the privileged role.
func (f *Formatter) AdminResult(kind query.Kind, sql string, out outcome.Outcome) Response {
	resp := AdminResponse{
		Operation: strings.ToUpper(kind.String()),
		SQL:       sql,
		Timestamp: f.clock().UTC(),
	}
	switch out.Kind {
	case outcome.KindRows:
		count := len(out.Rows)
		resp.Status = StatusSuccess
		resp.Columns = out.Columns
		resp.Rows = out.Rows
		resp.RowCount = &count
	case outcome.KindMutation:
		affected := out.RowsAffected
		resp.Status = StatusSuccess
		resp.RowsAffected = &affected
	default:
		resp.Status = StatusFailed
		resp.Error = out.Err
	}
	return adminResponse(resp)
}

// AdminFailed reports a failure that happened before execution.
func (f *Formatter) AdminFailed(kind query.Kind, sql, detail string) Response {
	return adminResponse(AdminResponse{
		Status:    StatusFailed,
		Operation: strings.ToUpper(kind.String()),
		SQL:       sql,
		Error:     detail,
		Timestamp: f.clock().UTC(),
	})
}

// AdminRejected reports a policy rejection. Privileged callers see the reason.
func (f *Formatter) AdminRejected(kind query.Kind, sql string, verdict policy.Verdict) Response {
	return adminResponse(AdminResponse{
		Status:    StatusRejected,
		Operation: strings.ToUpper(kind.String()),
		SQL:       sql,
		Error:     string(verdict.Reason),
		Timestamp: f.clock().UTC(),
	})
}

// AdminPending surfaces a confirmation request.
func (f *Formatter) AdminPending(req confirmation.Request, explanation string) Response {
	pending := &PendingConfirmation{
		ID:          req.ID,
		Description: req.Description,
		SQL:         req.Statement.SQL,
	}
	if req.ExpiresAt != nil {
		expires := req.ExpiresAt.UTC()
		pending.ExpiresAt = &expires
	}
	return adminResponse(AdminResponse{
		Status:       StatusPendingConfirmation,
		Operation:    strings.ToUpper(req.Statement.Kind.String()),
		SQL:          req.Statement.SQL,
		Explanation:  explanation,
		Confirmation: pending,
		Timestamp:    f.clock().UTC(),
	})
}

// AdminCancelled is the outcome of a cancelled or expired confirmation.
func (f *Formatter) AdminCancelled() Response {
	return adminResponse(AdminResponse{Status: StatusCancelled, Timestamp: f.clock().UTC()})
}

// PlainAnswer renders rows without a model: a single value as "Result: v",
// otherwise a count followed by the first rows.
func PlainAnswer(columns []string, rows []map[string]any) string {
	if len(rows) == 0 {
		return NoResultsMessage
	}
	if len(rows) == 1 && len(rows[0]) == 1 {
		for _, v := range rows[0] {
			return fmt.Sprintf("Result: %v", v)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d results:\n\n", len(rows))
	for i, row := range rows {
		if i == plainPreviewRows {
			break
		}
		cols := columns
		if len(cols) == 0 {
			cols = sortedKeys(row)
		}
		parts := make([]string, 0, len(cols))
		for _, col := range cols {
			parts = append(parts, fmt.Sprintf("%s: %v", col, row[col]))
		}
		fmt.Fprintf(&b, "%d. %s\n", i+1, strings.Join(parts, ", "))
	}
	if len(rows) > plainPreviewRows {
		fmt.Fprintf(&b, "\n... and %d more results", len(rows)-plainPreviewRows)
	}
	return b.String()
}

func sortedKeys(row map[string]any) []string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func userResponse(u UserResponse) Response {
	return Response{Role: policy.RoleUnprivileged, User: &u}
}

func adminResponse(a AdminResponse) Response {
	return Response{Role: policy.RolePrivileged, Admin: &a}
}
