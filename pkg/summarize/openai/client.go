// Package openai provides an OpenAI-backed Summarizer.
package openai

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

const systemPrompt = `You compress an AI agent's episodic memory into compact topic summaries.

Rules:
- Preserve decisions, dates, proper nouns, and open action items (lines like "- [ ] ...") verbatim or near-verbatim.
- Drop conversational filler, greetings, and repetition.
- When a prior summary is provided, merge it with the new episodes into one summary. State each fact once; never duplicate a fact that is already in the prior summary.
- Stay within the stated character budget.
- Output only the summary text.`

// Client is an OpenAI Summarizer client.
type Client struct {
	client *openai.Client
	model  string
}

// Config is the configuration for the OpenAI summarizer.
// APIKey is required. Model defaults to "gpt-4o-mini". BaseURL defaults to
// the official OpenAI endpoint.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
}

// NewClient creates a new OpenAI summarizer client.
func NewClient(cfg *Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai summarizer: api key is required")
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}

	return &Client{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}, nil
}

// Summarize collapses rawText (and the prior summary, if any) into a single
// topic summary within the character budget.
func (c *Client) Summarize(ctx context.Context, topic, rawText, priorSummary string, budget int) (string, error) {
	var user string
	if priorSummary != "" {
		user = fmt.Sprintf("Topic: %s\nCharacter budget: %d\n\nPrior summary:\n%s\n\nNew episodes:\n%s",
			topic, budget, priorSummary, rawText)
	} else {
		user = fmt.Sprintf("Topic: %s\nCharacter budget: %d\n\nNew episodes:\n%s",
			topic, budget, rawText)
	}

	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: 0.1,
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", errors.New("summarization failed: no choices returned from OpenAI API")
	}

	return resp.Choices[0].Message.Content, nil
}

// Close closes the client connection.
// The OpenAI SDK client does not require explicit closing; this method is
// retained for interface compatibility.
func (c *Client) Close() error {
	return nil
}
