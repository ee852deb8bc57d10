// Package llm wraps the Anthropic API for synthesis and extraction.
// Each client is built from a user's own key; there is no process-wide
// singleton.
package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"
)

const defaultModel = "claude-sonnet-4-5"

// Client calls the Anthropic Messages API.
type Client struct {
	client anthropic.Client
	model  string
	logger *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithModel overrides the default model.
func WithModel(model string) Option {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

// New builds a client for the given API key.
func New(apiKey string, logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  defaultModel,
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Complete sends one prompt and returns the concatenated text blocks of
// the response.
func (c *Client) Complete(ctx context.Context, prompt, system string, maxTokens int) (string, error) {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic completion: %w", err)
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	text := b.String()
	if text == "" {
		return "", fmt.Errorf("anthropic completion: response contained no text blocks")
	}
	c.logger.Debug("completion finished",
		zap.String("model", c.model),
		zap.Int64("input_tokens", resp.Usage.InputTokens),
		zap.Int64("output_tokens", resp.Usage.OutputTokens))
	return text, nil
}
