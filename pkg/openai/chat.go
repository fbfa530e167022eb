package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// ChatClient requests a single synchronous completion from the remote chat
// model. No streaming.
type ChatClient struct {
	cfg    Config
	client *http.Client
}

// NewChatClient creates a chat-completions client.
func NewChatClient(cfg Config) *ChatClient {
	cfg = cfg.withDefaults()
	return &ChatClient{cfg: cfg, client: cfg.httpClient()}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	// Sampling knobs stay at provider defaults unless configured. The
	// pointer keeps an explicit 0.0 temperature expressible on the wire.
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// CompletionOpts carries the optional sampling parameters. A nil
// Temperature and a zero MaxTokens leave the provider defaults in place.
type CompletionOpts struct {
	Temperature *float64
	MaxTokens   int
}

// Complete sends a two-message prompt (system role + user role) and returns
// the completion text.
func (c *ChatClient) Complete(ctx context.Context, system, user string, opts CompletionOpts) (string, error) {
	payload, err := post(ctx, c.client, c.cfg, "/chat/completions", chatRequest{
		Model: c.cfg.ChatModel,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	})
	if err != nil {
		return "", err
	}

	var out chatResponse
	if err := decode(payload, &out); err != nil {
		return "", fmt.Errorf("openai: decode completion: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("openai: no completion returned")
	}
	return out.Choices[0].Message.Content, nil
}

func decode(payload []byte, v any) error {
	return json.Unmarshal(payload, v)
}
