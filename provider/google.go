package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GoogleClient implements Client against the Gemini API.
type GoogleClient struct {
	apiKey    string
	modelName string
}

// NewGoogleClient creates a GoogleClient. An empty modelName falls back
// to a current Gemini Flash release.
func NewGoogleClient(apiKey, modelName string) *GoogleClient {
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}
	return &GoogleClient{apiKey: apiKey, modelName: modelName}
}

func (c *GoogleClient) Complete(ctx context.Context, p Prompt) (Reply, error) {
	if ctx.Err() != nil {
		return Reply{}, ctx.Err()
	}
	if c.apiKey == "" {
		return Reply{}, errors.New("provider: google API key is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(c.apiKey))
	if err != nil {
		return Reply{}, fmt.Errorf("provider: google: new client: %w", err)
	}
	defer client.Close()

	genModel := client.GenerativeModel(c.modelName)

	var parts []genai.Part
	for _, m := range p.Messages {
		if m.Content == "" {
			continue
		}
		if m.Role == RoleSystem {
			genModel.SystemInstruction = genai.NewUserContent(genai.Text(m.Content))
			continue
		}
		parts = append(parts, genai.Text(m.Content))
	}

	resp, err := genModel.GenerateContent(ctx, parts...)
	if err != nil {
		return Reply{}, fmt.Errorf("provider: google: %w", err)
	}

	var out Reply
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return out, nil
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			if out.Text != "" {
				out.Text += "\n"
			}
			out.Text += string(t)
		}
	}
	return out, nil
}
