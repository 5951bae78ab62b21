package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pavelanni/qareview/internal/llm/prompts"
	"github.com/pavelanni/qareview/internal/model"

	openai "github.com/sashabaranov/go-openai"
)

// ErrNotConfigured is returned by Evaluate when no API key or model is set.
var ErrNotConfigured = errors.New("evaluator not configured")

// ParseError means the evaluator answered but no usable verdict could be
// decoded from the response.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse evaluator response: %v (raw: %s)", e.Err, truncate(e.Raw, 200))
}

func (e *ParseError) Unwrap() error { return e.Err }

// TransportError wraps a failed call to the evaluator endpoint.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "evaluator API call: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// EvalInput is everything the evaluator sees about one question.
type EvalInput struct {
	Question      string
	CorrectAnswer string
	Subject       string
	Options       []string
	Memory        []model.SubjectMemory
}

// Evaluation is the evaluator's structured output.
type Evaluation struct {
	Verdict     model.Verdict `json:"verdict"`
	Confidence  float64       `json:"confidence"`
	Explanation string        `json:"explanation"`
}

// Config holds evaluator connection settings.
type Config struct {
	BaseURL       string
	APIKey        string
	Model         string
	PromptVariant string
	MaxTokens     int
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api       *openai.Client
	model     string
	variant   prompts.PromptVariant
	maxTokens int
}

// New creates a new evaluator client. Missing credentials are not an error
// here; Evaluate reports ErrNotConfigured instead.
func New(cfg Config) (*Client, error) {
	variant := prompts.PromptVariant(cfg.PromptVariant)
	if variant == "" {
		variant = prompts.PromptStandard
	}
	if !prompts.IsValidVariant(string(variant)) {
		return nil, fmt.Errorf("invalid prompt variant %q", cfg.PromptVariant)
	}
	if err := prompts.Load(); err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}

	var api *openai.Client
	if cfg.APIKey != "" {
		config := openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			config.BaseURL = cfg.BaseURL
		}
		api = openai.NewClientWithConfig(config)
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 512
	}
	return &Client{
		api:       api,
		model:     cfg.Model,
		variant:   variant,
		maxTokens: maxTokens,
	}, nil
}

// Configured reports whether the client can make calls.
func (c *Client) Configured() bool {
	return c.api != nil && c.model != ""
}

// Ping checks that the endpoint is reachable and the model is listed.
func (c *Client) Ping(ctx context.Context) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	if _, err := c.api.GetModel(ctx, c.model); err != nil {
		return &TransportError{Err: err}
	}
	return nil
}

// Evaluate asks the model whether the stored answer is correct. No retries
// are made; callers decide what to do with a failure.
func (c *Client) Evaluate(ctx context.Context, in EvalInput) (*Evaluation, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	if strings.TrimSpace(in.Question) == "" || strings.TrimSpace(in.CorrectAnswer) == "" {
		return nil, model.NewValidationError("question", "required")
	}

	prompt, err := prompts.BuildEvalPrompt(c.variant, toPromptData(in))
	if err != nil {
		return nil, fmt.Errorf("build prompt: %w", err)
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   c.maxTokens,
		Temperature: 0.1,
	})
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	if len(resp.Choices) == 0 {
		return nil, &ParseError{Err: errors.New("evaluator returned no choices")}
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("evaluator response", "subject", in.Subject, "raw", raw)
	return ParseEvaluation(raw)
}

// ParseEvaluation decodes the first well-formed JSON object in raw. The
// model may wrap it in prose or a code fence.
func ParseEvaluation(raw string) (*Evaluation, error) {
	obj, ok := extractJSONObject(raw)
	if !ok {
		return nil, &ParseError{Raw: raw, Err: errors.New("no JSON object found")}
	}
	var result Evaluation
	if err := json.Unmarshal(obj, &result); err != nil {
		return nil, &ParseError{Raw: raw, Err: err}
	}
	if result.Verdict == "" {
		return nil, &ParseError{Raw: raw, Err: errors.New("missing verdict")}
	}
	return &result, nil
}

// extractJSONObject returns the first substring starting at a '{' that
// decodes as a complete JSON object.
func extractJSONObject(text string) ([]byte, bool) {
	for i := 0; i < len(text); i++ {
		if text[i] != '{' {
			continue
		}
		dec := json.NewDecoder(strings.NewReader(text[i:]))
		var obj json.RawMessage
		if err := dec.Decode(&obj); err == nil {
			return obj, true
		}
	}
	return nil, false
}

func toPromptData(in EvalInput) prompts.EvalData {
	data := prompts.EvalData{
		Subject:       in.Subject,
		Question:      in.Question,
		CorrectAnswer: in.CorrectAnswer,
		Options:       in.Options,
	}
	for _, m := range in.Memory {
		data.Mistakes = append(data.Mistakes, prompts.Mistake{
			Pattern:    m.MistakePattern,
			Resolution: m.Resolution,
		})
	}
	return data
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
