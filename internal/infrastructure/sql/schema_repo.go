package sql

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// SchemaRepository describes the governed store for SQL generation by
// introspecting its catalog. This is a trusted internal path; the
// statements below never pass through the policy engine.
type SchemaRepository struct {
	DB     *sql.DB
	Driver string
	// Notes is appended to the description, e.g. value hints for columns.
	Notes string

	mu     sync.Mutex
	cached string
}

type column struct {
	table, name, dataType string
}

const postgresColumns = `SELECT table_name, column_name, data_type
FROM information_schema.columns
WHERE table_schema = 'public'
ORDER BY table_name, ordinal_position`

const sqliteColumns = `SELECT m.name, p.name, p.type
FROM sqlite_master m, pragma_table_info(m.name) p
WHERE m.type = 'table' AND m.name NOT LIKE 'sqlite_%'
ORDER BY m.name, p.cid`

// Describe returns the schema description, cached after the first success.
func (r *SchemaRepository) Describe(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cached != "" {
		return withDate(r.cached), nil
	}

	var stmt string
	switch r.Driver {
	case "postgres":
		stmt = postgresColumns
	case "sqlite3", "sqlite":
		stmt = sqliteColumns
	default:
		return "", fmt.Errorf("schema introspection is not supported for driver %q", r.Driver)
	}

	rows, err := r.DB.QueryContext(ctx, stmt)
	if err != nil {
		return "", fmt.Errorf("failed to introspect schema: %w", err)
	}
	defer rows.Close()

	var cols []column
	for rows.Next() {
		var c column
		if err := rows.Scan(&c.table, &c.name, &c.dataType); err != nil {
			return "", fmt.Errorf("failed to scan schema row: %w", err)
		}
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("failed to introspect schema: %w", err)
	}
	if len(cols) == 0 {
		return "", fmt.Errorf("schema introspection returned no tables")
	}

	r.cached = render(cols, r.Notes)
	return withDate(r.cached), nil
}

func render(cols []column, notes string) string {
	byTable := make(map[string][]column)
	for _, c := range cols {
		byTable[c.table] = append(byTable[c.table], c)
	}
	tables := make([]string, 0, len(byTable))
	for t := range byTable {
		tables = append(tables, t)
	}
	sort.Strings(tables)

	var b strings.Builder
	b.WriteString("Database Schema:\n")
	for i, t := range tables {
		fmt.Fprintf(&b, "\n%d. %s:\n", i+1, t)
		for _, c := range byTable[t] {
			fmt.Fprintf(&b, "   - %s (%s)\n", c.name, strings.ToUpper(c.dataType))
		}
	}
	if notes = strings.TrimSpace(notes); notes != "" {
		b.WriteString("\n")
		b.WriteString(notes)
		b.WriteString("\n")
	}
	return b.String()
}

// StaticSchema serves a description loaded from a file. The placeholder
// {current_date} is replaced on every call.
type StaticSchema struct {
	Text string
}

// LoadStaticSchema reads a schema description file.
func LoadStaticSchema(path string) (*StaticSchema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema description: %w", err)
	}
	return &StaticSchema{Text: string(data)}, nil
}

func (s *StaticSchema) Describe(context.Context) (string, error) {
	return withDate(s.Text), nil
}

var now = time.Now

func withDate(text string) string {
	date := now().Format("2006-01-02")
	if strings.Contains(text, "{current_date}") {
		return strings.ReplaceAll(text, "{current_date}", date)
	}
	return text + "\nCurrent date is " + date + "\n"
}
