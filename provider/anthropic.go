package provider

import (
	"context"
	"errors"
	"fmt"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClient implements Client against Claude's Messages API, using
// Anthropic's separate system-prompt parameter rather than an in-band
// system message.
type AnthropicClient struct {
	apiKey    string
	modelName string
}

// NewAnthropicClient creates an AnthropicClient. An empty modelName falls
// back to a current Sonnet release.
func NewAnthropicClient(apiKey, modelName string) *AnthropicClient {
	if modelName == "" {
		modelName = "claude-sonnet-4-5-20250929"
	}
	return &AnthropicClient{apiKey: apiKey, modelName: modelName}
}

func (c *AnthropicClient) Complete(ctx context.Context, p Prompt) (Reply, error) {
	if ctx.Err() != nil {
		return Reply{}, ctx.Err()
	}
	if c.apiKey == "" {
		return Reply{}, errors.New("provider: anthropic API key is required")
	}

	system, turns := extractSystem(p.Messages)
	client := anthropicsdk.NewClient(option.WithAPIKey(c.apiKey))

	messages := make([]anthropicsdk.MessageParam, len(turns))
	for i, m := range turns {
		switch m.Role {
		case RoleAssistant:
			messages[i] = anthropicsdk.NewAssistantMessage(anthropicsdk.NewTextBlock(m.Content))
		default:
			messages[i] = anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(m.Content))
		}
	}

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(c.modelName),
		Messages:  messages,
		MaxTokens: 4096,
	}
	if system != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: system}}
	}

	resp, err := client.Messages.New(ctx, params)
	if err != nil {
		return Reply{}, fmt.Errorf("provider: anthropic: %w", err)
	}

	var out Reply
	for _, block := range resp.Content {
		if b, ok := block.AsAny().(anthropicsdk.TextBlock); ok {
			if out.Text != "" {
				out.Text += "\n"
			}
			out.Text += b.Text
		}
	}
	return out, nil
}
