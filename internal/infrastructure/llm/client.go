// Package llm talks to an OpenAI-compatible chat completion endpoint (Groq
// by default) to generate SQL and to phrase answers.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	DefaultBaseURL     = "https://api.groq.com/openai/v1"
	DefaultSQLModel    = "llama-3.3-70b-versatile"
	DefaultAnswerModel = "llama-3.1-8b-instant"
)

// Config of the model endpoint.
type Config struct {
	BaseURL     string
	APIKey      string
	SQLModel    string
	AnswerModel string
	Temperature float64
	Timeout     time.Duration
	MaxRetries  int
}

// Client is a thin wrapper around the chat completion API.
type Client struct {
	completions *openai.ChatCompletionService
	cfg         Config
}

// NewClient validates cfg and builds the API client.
func NewClient(cfg Config) (*Client, error) {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if cfg.APIKey == "" {
		return nil, errors.New("llm: api key required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if strings.TrimSpace(cfg.SQLModel) == "" {
		cfg.SQLModel = DefaultSQLModel
	}
	if strings.TrimSpace(cfg.AnswerModel) == "" {
		cfg.AnswerModel = DefaultAnswerModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	client := openai.NewClient(
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")+"/"),
		option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		option.WithMaxRetries(cfg.MaxRetries),
	)
	return &Client{completions: &client.Chat.Completions, cfg: cfg}, nil
}

func (c *Client) complete(ctx context.Context, params openai.ChatCompletionNewParams) (string, error) {
	completion, err := c.completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return completion.Choices[0].Message.Content, nil
}
