// Package outcome describes what the store returned for an executed statement.
package outcome

// Kind of an execution outcome.
type Kind string

const (
	KindRows     Kind = "rows"
	KindMutation Kind = "mutation"
	KindError    Kind = "error"
)

// Outcome is one of Rows, Mutation or Error.
type Outcome struct {
	Kind         Kind
	Columns      []string
	Rows         []map[string]any
	RowsAffected int64
	Err          string
}

// Rows wraps a result set. A nil slice is normalized to an empty one.
func Rows(columns []string, rows []map[string]any) Outcome {
	if rows == nil {
		rows = []map[string]any{}
	}
	return Outcome{Kind: KindRows, Columns: columns, Rows: rows}
}

// Mutation wraps the affected row count of a write.
func Mutation(rowsAffected int64) Outcome {
	return Outcome{Kind: KindMutation, RowsAffected: rowsAffected}
}

// Error wraps a store failure message.
func Error(message string) Outcome {
	return Outcome{Kind: KindError, Err: message}
}

// Failed reports whether the outcome is an Error.
func (o Outcome) Failed() bool { return o.Kind == KindError }

// Empty reports whether a Rows outcome carries no records.
func (o Outcome) Empty() bool { return o.Kind == KindRows && len(o.Rows) == 0 }
