package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/shared"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"sqlgate/internal/domain/policy"
	"sqlgate/internal/usecase/repository"
)

// SQLGenerator asks the model for a JSON envelope with the SQL and its
// rationale. Its output is advisory; callers classify it before use.
type SQLGenerator struct {
	client *Client
}

func NewSQLGenerator(client *Client) *SQLGenerator {
	return &SQLGenerator{client: client}
}

const envelopeFormat = `Response format:
Return a JSON object with:
{
  "sql": "the SQL query",
  "explanation": "brief explanation of the query logic",
  "assumptions": ["list of assumptions made"],
  "confidence": 0.0-1.0
}`

const readRules = `Your task:
1. Convert natural language questions into a single valid SELECT query
2. Resolve informal terms (e.g. "back bumper" means panel names LIKE '%rear%bumper%')
3. When no time range is given, assume the last 30 days
4. Use explicit JOINs when several tables are involved

Rules:
- Generate exactly one SELECT statement
- Never generate INSERT, UPDATE, DELETE, DROP, CREATE or ALTER
- Always include a LIMIT clause (at most 1000)
- Match panel names with LOWER() and LIKE`

const adminRules = `Your task:
1. Convert the administrator's request into exactly one SQL statement
2. Data or schema changes are allowed; they will be confirmed before running
3. Always add a WHERE clause to UPDATE and DELETE unless the request clearly targets every row
4. For reads, include a LIMIT clause (at most 1000)`

// Generate implements repository.SQLGenerator.
func (g *SQLGenerator) Generate(ctx context.Context, req repository.GenerationRequest) (repository.Generation, error) {
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(systemPrompt(req)),
	}
	if req.Role == policy.RoleUnprivileged {
		for _, turn := range req.History {
			messages = append(messages,
				openai.UserMessage(turn.Question),
				openai.AssistantMessage(priorAnswer(turn.SQL)),
			)
		}
	}
	messages = append(messages, openai.UserMessage(fmt.Sprintf(
		"Convert this request to SQL:\n%q\n\nReturn ONLY the JSON response, no other text.",
		strings.TrimSpace(req.Question),
	)))

	content, err := g.client.complete(ctx, openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(g.client.cfg.SQLModel),
		Messages:            messages,
		Temperature:         openai.Float(g.client.cfg.Temperature),
		MaxCompletionTokens: openai.Int(2000),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	})
	if err != nil {
		return repository.Generation{}, err
	}
	return ParseEnvelope(content)
}

// priorAnswer renders an earlier turn the way the model is asked to answer.
func priorAnswer(sql string) string {
	out, err := sjson.Set(`{}`, "sql", sql)
	if err != nil {
		return `{}`
	}
	return out
}

func systemPrompt(req repository.GenerationRequest) string {
	rules := readRules
	if req.Role == policy.RolePrivileged {
		rules = adminRules
	}
	var b strings.Builder
	b.WriteString("You are a SQL expert for the database described below.\n\n")
	if schema := strings.TrimSpace(req.Schema); schema != "" {
		b.WriteString(schema)
		b.WriteString("\n\n")
	}
	b.WriteString(rules)
	b.WriteString("\n\n")
	b.WriteString(envelopeFormat)
	return b.String()
}

// ParseEnvelope reads the model's answer. A JSON envelope is preferred;
// a bare or fenced SQL answer is accepted as the SQL.
func ParseEnvelope(content string) (repository.Generation, error) {
	text := stripMarkdown(content)

	envelope := ""
	if gjson.Valid(text) {
		envelope = text
	} else if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start && gjson.Valid(text[start:end+1]) {
		envelope = text[start : end+1]
	}

	var gen repository.Generation
	if envelope != "" && gjson.Get(envelope, "sql").Exists() {
		parsed := gjson.Parse(envelope)
		gen.SQL = stripMarkdown(parsed.Get("sql").String())
		gen.Explanation = parsed.Get("explanation").String()
		for _, a := range parsed.Get("assumptions").Array() {
			gen.Assumptions = append(gen.Assumptions, a.String())
		}
		gen.Confidence = parsed.Get("confidence").Float()
	} else if !gjson.Valid(text) {
		gen.SQL = text
	}

	gen.SQL = strings.TrimSpace(gen.SQL)
	if gen.SQL == "" {
		return repository.Generation{}, errors.New("model returned empty SQL")
	}
	return gen, nil
}

func stripMarkdown(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```sql")
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		return strings.TrimSpace(trimmed)
	}
	return trimmed
}
