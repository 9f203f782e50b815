package repository

import (
	"context"

	"sqlgate/internal/domain/outcome"
	"sqlgate/internal/domain/query"
)

// QueryExecutor runs one final statement against the governed store.
// Store failures are reported as outcome.Error, never as a Go error.
type QueryExecutor interface {
	Execute(ctx context.Context, sql string, kind query.Kind) outcome.Outcome
}

// SchemaProvider describes the governed store for SQL generation.
type SchemaProvider interface {
	Describe(ctx context.Context) (string, error)
}
