// Package genai writes reminder bodies through an OpenAI-compatible
// chat-completions endpoint.
package genai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"reminderq/internal/config"
	"reminderq/internal/ports"
)

var _ ports.Generator = (*Client)(nil)

var ErrNoChoices = errors.New("completion returned no choices")

type Client struct {
	cfg config.Generation
	api *openai.Client
}

func New(cfg config.Generation) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("GENERATION_API_KEY is required when generation is enabled")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("GENERATION_BASE_URL is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	oc.HTTPClient = &http.Client{Timeout: timeout}
	return &Client{cfg: cfg, api: openai.NewClientWithConfig(oc)}, nil
}

func (c *Client) Generate(ctx context.Context, p ports.Prompt) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: BuildPrompt(p)},
		},
		Temperature: float32(c.cfg.Temperature),
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoices
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// StatusCode extracts the HTTP status of a failed completion, or 0.
func StatusCode(err error) int {
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

// BuildPrompt renders the bounded task summary sent to the model.
func BuildPrompt(p ports.Prompt) string {
	orNone := func(s, def string) string {
		if strings.TrimSpace(s) == "" {
			return def
		}
		return s
	}
	tags := "None"
	if len(p.Tags) > 0 {
		tags = strings.Join(p.Tags, ", ")
	}

	var b strings.Builder
	b.WriteString("You are a professional task reminder assistant. Generate a concise,\n")
	b.WriteString("motivating reminder email for the following task.\n\n")
	fmt.Fprintf(&b, "User: %s\n", orNone(p.RecipientName, "there"))
	fmt.Fprintf(&b, "Task Name: %s\n", p.Title)
	fmt.Fprintf(&b, "Description: %s\n", orNone(p.Description, "No description provided"))
	fmt.Fprintf(&b, "Tags: %s\n", tags)
	fmt.Fprintf(&b, "Due Date: %s\n", p.Due)
	fmt.Fprintf(&b, "Priority: %s\n", p.Priority)
	fmt.Fprintf(&b, "Recurrence: %s\n\n", orNone(p.Recurrence, "none"))
	b.WriteString("Requirements:\n")
	b.WriteString("- Professional but warm and friendly tone\n")
	b.WriteString("- 2-3 sentences maximum\n")
	b.WriteString("- Mention the task name and due date\n")
	b.WriteString("- Add a brief motivational closing\n")
	b.WriteString("- Output ONLY the email body text (no subject line)\n")
	b.WriteString("- Do NOT include HTML tags - plain text only\n\n")
	b.WriteString("Email body:")
	return b.String()
}
