package sql

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Table is a named block of rows to load into the governed store.
type Table struct {
	Name    string
	Columns []string
	Rows    [][]any
}

// SeedOptions controls how Seed prepares the target tables.
type SeedOptions struct {
	// Create runs CREATE TABLE IF NOT EXISTS before loading. Known tables get
	// their typed definition; any other table is created from its columns.
	Create bool
	// Replace deletes existing rows first, children before parents.
	Replace bool
}

// knownTables holds the definitions of the vehicle inspection dataset, in
// foreign-key order. The DDL is valid for both postgres and sqlite.
var knownTables = []struct {
	name string
	ddl  string
}{
	{"vehicle_cards", `CREATE TABLE IF NOT EXISTS vehicle_cards (
	card_id INT PRIMARY KEY,
	vehicle_type TEXT,
	manufacturer TEXT,
	model TEXT,
	manufacture_year INT,
	created_at DATE
)`},
	{"damage_detections", `CREATE TABLE IF NOT EXISTS damage_detections (
	damage_id INT PRIMARY KEY,
	card_id INT REFERENCES vehicle_cards(card_id) ON DELETE CASCADE,
	panel_name TEXT,
	damage_type TEXT,
	severity TEXT,
	confidence DOUBLE PRECISION,
	detected_at DATE
)`},
	{"repairs", `CREATE TABLE IF NOT EXISTS repairs (
	repair_id INT PRIMARY KEY,
	card_id INT REFERENCES vehicle_cards(card_id) ON DELETE CASCADE,
	panel_name TEXT,
	repair_action TEXT,
	repair_cost DOUBLE PRECISION,
	approved BOOLEAN,
	created_at DATE
)`},
	{"quotes", `CREATE TABLE IF NOT EXISTS quotes (
	quote_id INT PRIMARY KEY,
	card_id INT REFERENCES vehicle_cards(card_id) ON DELETE CASCADE,
	total_estimated_cost DOUBLE PRECISION,
	currency TEXT,
	generated_at DATE
)`},
}

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Seed loads tables into the store inside one transaction and returns the
// row count of every seeded table after the load. Seeding is an operator
// action and does not go through the governance layer.
func (d *DB) Seed(ctx context.Context, tables []Table, opts SeedOptions) (map[string]int64, error) {
	for _, t := range tables {
		if !identifier.MatchString(t.Name) {
			return nil, fmt.Errorf("invalid table name %q", t.Name)
		}
		for _, c := range t.Columns {
			if !identifier.MatchString(c) {
				return nil, fmt.Errorf("table %s: invalid column name %q", t.Name, c)
			}
		}
	}
	tables = inLoadOrder(tables)

	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin seed transaction: %w", err)
	}
	defer tx.Rollback()

	if opts.Create {
		for _, t := range tables {
			if _, err := tx.ExecContext(ctx, createStatement(t)); err != nil {
				return nil, fmt.Errorf("failed to create %s: %w", t.Name, err)
			}
		}
	}

	if opts.Replace {
		for i := len(tables) - 1; i >= 0; i-- {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+quote(tables[i].Name)); err != nil {
				return nil, fmt.Errorf("failed to clear %s: %w", tables[i].Name, err)
			}
		}
	}

	for _, t := range tables {
		if err := d.insertRows(ctx, tx, t); err != nil {
			return nil, err
		}
	}

	counts := make(map[string]int64, len(tables))
	for _, t := range tables {
		var n int64
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quote(t.Name)).Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", t.Name, err)
		}
		counts[t.Name] = n
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit seed: %w", err)
	}
	return counts, nil
}

func (d *DB) insertRows(ctx context.Context, tx *sql.Tx, t Table) error {
	if len(t.Rows) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, d.insertStatement(t))
	if err != nil {
		return fmt.Errorf("failed to prepare insert into %s: %w", t.Name, err)
	}
	defer stmt.Close()

	for i, row := range t.Rows {
		if len(row) != len(t.Columns) {
			return fmt.Errorf("table %s row %d: expected %d values, got %d", t.Name, i+1, len(t.Columns), len(row))
		}
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return fmt.Errorf("table %s row %d: %w", t.Name, i+1, err)
		}
	}
	return nil
}

// inLoadOrder puts known tables first in foreign-key order and keeps the
// input order for the rest.
func inLoadOrder(tables []Table) []Table {
	rank := func(name string) int {
		for i, k := range knownTables {
			if k.name == name {
				return i
			}
		}
		return len(knownTables)
	}
	ordered := append([]Table(nil), tables...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return rank(ordered[i].Name) < rank(ordered[j].Name)
	})
	return ordered
}

func createStatement(t Table) string {
	for _, k := range knownTables {
		if k.name == t.Name {
			return k.ddl
		}
	}
	cols := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = quote(c) + " TEXT"
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quote(t.Name), strings.Join(cols, ", "))
}

func (d *DB) insertStatement(t Table) string {
	cols := make([]string, len(t.Columns))
	marks := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = quote(c)
		if d.Driver == "postgres" {
			marks[i] = "$" + strconv.Itoa(i+1)
		} else {
			marks[i] = "?"
		}
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quote(t.Name), strings.Join(cols, ", "), strings.Join(marks, ", "))
}

func quote(name string) string {
	return `"` + name + `"`
}
