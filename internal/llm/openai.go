package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/unisoflta/chatbot-back/internal/apperr"
)

// Completer sends a conversation to a completion API and returns the text
// of the first choice.
type Completer interface {
	Complete(ctx context.Context, turns []Turn) (string, error)
}

// OpenAIOptions configures an OpenAI-compatible completion client.
type OpenAIOptions struct {
	APIKey      string
	BaseURL     string // empty keeps the library default
	Model       string
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration // per call
	HTTPClient  *http.Client
}

// OpenAICompleter implements Completer on top of go-openai.
type OpenAICompleter struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
	timeout     time.Duration
}

// NewOpenAICompleter builds a completion client from opts.
func NewOpenAICompleter(opts OpenAIOptions) *OpenAICompleter {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	if opts.HTTPClient != nil {
		cfg.HTTPClient = opts.HTTPClient
	}
	if opts.Model == "" {
		opts.Model = openai.GPT4oMini
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &OpenAICompleter{
		client:      openai.NewClientWithConfig(cfg),
		model:       opts.Model,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
		timeout:     opts.Timeout,
	}
}

// Complete performs one chat-completion call. Transport failures, non-2xx
// statuses and replies without choices are upstream errors.
func (c *OpenAICompleter) Complete(ctx context.Context, turns []Turn) (string, error) {
	const op = "llm.Complete"

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	msgs := make([]openai.ChatCompletionMessage, 0, len(turns))
	for _, t := range turns {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: string(t.Role), Content: t.Content})
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    msgs,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", apperr.Wrapf(apperr.KindUpstream, op, err, "completion API returned %d", apiErr.HTTPStatusCode)
		}
		return "", apperr.Wrap(apperr.KindUpstream, op, err)
	}
	if len(resp.Choices) == 0 {
		return "", apperr.Upstream(op, "completion API returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

var _ Completer = (*OpenAICompleter)(nil)

// String identifies the client in logs.
func (c *OpenAICompleter) String() string { return fmt.Sprintf("openai(%s)", c.model) }
