package repository

import (
	"context"

	"sqlgate/internal/domain/memory"
	"sqlgate/internal/domain/policy"
)

// GenerationRequest is what the SQL generator sees. History is empty for
// privileged callers.
type GenerationRequest struct {
	Question string
	Schema   string
	History  []memory.Turn
	Role     policy.Role
}

// Generation is the model's answer. Only SQL is mandatory.
type Generation struct {
	SQL         string   `json:"sql"`
	Explanation string   `json:"explanation,omitempty"`
	Assumptions []string `json:"assumptions,omitempty"`
	Confidence  float64  `json:"confidence,omitempty"`
}

// SQLGenerator translates a natural-language question into SQL text.
// Its output is untrusted.
type SQLGenerator interface {
	Generate(ctx context.Context, req GenerationRequest) (Generation, error)
}

// AnswerGenerator turns result rows into prose.
type AnswerGenerator interface {
	Answer(ctx context.Context, question, sql string, rows []map[string]any) (string, error)
}
