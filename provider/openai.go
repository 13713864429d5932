package provider

import (
	"context"
	"errors"
	"fmt"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIClient implements Client against the Chat Completions API.
type OpenAIClient struct {
	apiKey    string
	modelName string
}

// NewOpenAIClient creates an OpenAIClient. An empty modelName falls back
// to a current GPT-4o release.
func NewOpenAIClient(apiKey, modelName string) *OpenAIClient {
	if modelName == "" {
		modelName = "gpt-4o"
	}
	return &OpenAIClient{apiKey: apiKey, modelName: modelName}
}

func (c *OpenAIClient) Complete(ctx context.Context, p Prompt) (Reply, error) {
	if ctx.Err() != nil {
		return Reply{}, ctx.Err()
	}
	if c.apiKey == "" {
		return Reply{}, errors.New("provider: openai API key is required")
	}

	client := openaisdk.NewClient(option.WithAPIKey(c.apiKey))

	messages := make([]openaisdk.ChatCompletionMessageParamUnion, len(p.Messages))
	for i, m := range p.Messages {
		switch m.Role {
		case RoleSystem:
			messages[i] = openaisdk.SystemMessage(m.Content)
		case RoleAssistant:
			messages[i] = openaisdk.AssistantMessage(m.Content)
		default:
			messages[i] = openaisdk.UserMessage(m.Content)
		}
	}

	resp, err := client.Chat.Completions.New(ctx, openaisdk.ChatCompletionNewParams{
		Model:    openaisdk.ChatModel(c.modelName),
		Messages: messages,
	})
	if err != nil {
		return Reply{}, fmt.Errorf("provider: openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Reply{}, nil
	}
	return Reply{Text: resp.Choices[0].Message.Content}, nil
}
