package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pavelanni/evaluator/internal/llm/prompts"
	"github.com/pavelanni/evaluator/internal/model"
)

// ErrGrading wraps every failure of a grading call.
var ErrGrading = errors.New("grading call failed")

// Config configures the grading client.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Variant prompts.PromptVariant
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api     *openai.Client
	model   string
	variant prompts.PromptVariant
	prompts *prompts.Set
}

// New creates a new LLM client. An empty API key is a configuration error.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, model.ErrMissingCredential
	}
	set, err := prompts.Default()
	if err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}
	variant := cfg.Variant
	if variant == "" {
		variant = prompts.PromptStrict
	}
	if !prompts.IsValidVariant(string(variant)) {
		return nil, fmt.Errorf("%w: invalid prompt variant %q", model.ErrConfiguration, variant)
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	return &Client{
		api:     openai.NewClientWithConfig(config),
		model:   cfg.Model,
		variant: variant,
		prompts: set,
	}, nil
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

// Variant returns the prompt variant in use.
func (c *Client) Variant() prompts.PromptVariant {
	return c.variant
}

// Grade asks the model to grade one answer and returns its reply verbatim,
// trimmed of surrounding whitespace.
func (c *Client) Grade(ctx context.Context, req model.GradeRequest) (string, error) {
	prompt, err := c.prompts.Build(c.variant, req)
	if err != nil {
		return "", fmt.Errorf("build prompt: %w", err)
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		// The client drops a zero temperature from the request body.
		Temperature: math.SmallestNonzeroFloat32,
	})
	if err != nil {
		return "", fmt.Errorf("%w: LLM API call: %w", ErrGrading, err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: LLM returned no choices", ErrGrading)
	}

	raw := strings.TrimSpace(resp.Choices[0].Message.Content)
	slog.Debug("LLM response", "raw", raw)
	return raw, nil
}

// Ping checks that the endpoint answers and accepts the credential.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// IsRateLimited reports whether err came from an HTTP 429 response.
func IsRateLimited(err error) bool {
	return statusCode(err) == http.StatusTooManyRequests
}

// IsAuthError reports whether err came from a rejected credential.
func IsAuthError(err error) bool {
	code := statusCode(err)
	return code == http.StatusUnauthorized || code == http.StatusForbidden
}

func statusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}
