package repository

import (
	"context"
	"time"
)

// AuditEntry is one governed request as seen by the use case layer.
type AuditEntry struct {
	SessionID      string
	Role           string
	Action         string
	Question       string
	GeneratedSQL   string
	ExecutedSQL    string
	Kind           string
	Decision       string
	Reason         string
	Rule           string
	ConfirmationID string
	Confirmation   string
	Outcome        string
	RowsAffected   int64
	RowCount       int
	Error          string
	Duration       time.Duration
	At             time.Time
}

// AuditLog persists audit entries. Failures must not affect the caller.
type AuditLog interface {
	Record(ctx context.Context, entry AuditEntry) error
}
