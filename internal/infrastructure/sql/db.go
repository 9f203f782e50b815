package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	// Драйверы управляемого хранилища.
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"sqlgate/internal/domain/outcome"
	"sqlgate/internal/domain/query"
)

// DB wraps *sql.DB to satisfy the QueryExecutor interface.
type DB struct {
	*sql.DB
	Driver string
}

// Open connects to the governed store. driver is "postgres" or "sqlite3".
func Open(ctx context.Context, driver, dsn string) (*DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", driver, err)
	}

	db.SetMaxIdleConns(10)
	db.SetMaxOpenConns(100)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s store: %w", driver, err)
	}
	return &DB{DB: db, Driver: driver}, nil
}

// Execute runs one final statement. Writes go through Exec and report the
// affected row count; everything else is read as rows. Any failure, the
// deadline included, becomes an Error outcome.
func (d *DB) Execute(ctx context.Context, sqlText string, kind query.Kind) outcome.Outcome {
	if kind.Mutates() {
		res, err := d.ExecContext(ctx, sqlText)
		if err != nil {
			return failure(ctx, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			// Some DDL on some drivers cannot report a count.
			affected = 0
		}
		return outcome.Mutation(affected)
	}

	rows, err := d.QueryContext(ctx, sqlText)
	if err != nil {
		return failure(ctx, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return failure(ctx, err)
	}

	results := make([]map[string]any, 0)
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range ptrs {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return failure(ctx, err)
		}
		rowMap := make(map[string]any, len(cols))
		for i, col := range cols {
			rowMap[col] = normalize(vals[i])
		}
		results = append(results, rowMap)
	}
	if err := rows.Err(); err != nil {
		return failure(ctx, err)
	}
	return outcome.Rows(cols, results)
}

func failure(ctx context.Context, err error) outcome.Outcome {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return outcome.Error("execution timed out")
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		return outcome.Error("execution cancelled")
	}
	return outcome.Error(err.Error())
}

// normalize turns driver byte slices into strings so rows serialize as text.
func normalize(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
