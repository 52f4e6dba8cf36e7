// Package openai backs the dispatcher's Generator with an OpenAI-compatible
// chat-completion endpoint.
package openai

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"ariabot/internal/services/dispatch"
	"ariabot/internal/storage"
)

const defaultModel = "gpt-4o-mini"

type Config struct {
	APIKey string
	// BaseURL overrides the endpoint for OpenAI-compatible providers.
	BaseURL string
	Model   string
	// SystemPrompt sets the assistant persona. Empty means provider default
	// behavior with no persona.
	SystemPrompt string
	MaxTokens    int
	Temperature  float32
}

type Client struct {
	client *openai.Client
	cfg    Config
}

func New(cfg Config) *Client {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	return &Client{client: openai.NewClientWithConfig(oc), cfg: cfg}
}

// Generate implements dispatch.Generator. History arrives oldest-first and
// maps 1:1 onto chat roles; the current turn goes last as a user message.
func (c *Client) Generate(ctx context.Context, req dispatch.Request) (string, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.History)+2)
	if c.cfg.SystemPrompt != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: c.cfg.SystemPrompt,
		})
	}
	for _, t := range req.History {
		role := openai.ChatMessageRoleUser
		if t.Role == storage.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: t.Text})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: composeUserMessage(req),
	})

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Messages:    msgs,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response choices")
	}
	reply := strings.TrimSpace(resp.Choices[0].Message.Content)

	// A bare [react:<emoji>] reply is a directive, not text. The system
	// prompt documents it; models that never emit it lose nothing.
	if emoji, ok := parseReactDirective(reply); ok && req.OnReaction != nil {
		if err := req.OnReaction(emoji); err != nil {
			return "", fmt.Errorf("send reaction: %w", err)
		}
		return "", nil
	}
	return reply, nil
}

const reactPrefix = "[react:"

func parseReactDirective(reply string) (string, bool) {
	if !strings.HasPrefix(reply, reactPrefix) || !strings.HasSuffix(reply, "]") {
		return "", false
	}
	emoji := strings.TrimSpace(reply[len(reactPrefix) : len(reply)-1])
	return emoji, emoji != ""
}

// composeUserMessage folds attachment references into the text so a
// text-only endpoint still sees that media arrived.
func composeUserMessage(req dispatch.Request) string {
	if len(req.Attachments) == 0 {
		return req.Text
	}
	var b strings.Builder
	b.WriteString(req.Text)
	b.WriteString("\n\n[attachments]\n")
	for _, a := range req.Attachments {
		b.WriteString(a)
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}
