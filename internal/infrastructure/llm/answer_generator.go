package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go"
)

const answerRows = 10

const answerSystemPrompt = `You turn database query results into clear, natural language answers.

Rules:
1. Be concise and direct
2. Include specific numbers and data points
3. Format numbers appropriately (e.g. currency with 2 decimals)
4. If there are multiple results, summarize key insights
5. Avoid technical jargon
6. Do not add information that is not in the data`

// AnswerGenerator phrases result rows as prose.
type AnswerGenerator struct {
	client *Client
}

func NewAnswerGenerator(client *Client) *AnswerGenerator {
	return &AnswerGenerator{client: client}
}

// Answer implements repository.AnswerGenerator. Only the first rows are sent.
func (g *AnswerGenerator) Answer(ctx context.Context, question, sql string, rows []map[string]any) (string, error) {
	sample := rows
	if len(sample) > answerRows {
		sample = sample[:answerRows]
	}
	data, err := json.MarshalIndent(sample, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal rows: %w", err)
	}

	prompt := fmt.Sprintf("The user asked: %q\nSQL query executed: %s\n\nResults (%d rows):\n%s\n\nAnswer the question based on these results.",
		question, sql, len(rows), data)

	return g.client.complete(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(g.client.cfg.AnswerModel),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(answerSystemPrompt),
			openai.UserMessage(prompt),
		},
		Temperature:         openai.Float(0.3),
		MaxCompletionTokens: openai.Int(1000),
	})
}
