package llm

import (
	"context"
	"fmt"
	"os"
	"strings"

	"google.golang.org/genai"
)

type GeminiLLM struct {
	client    *genai.Client
	model     string
	maxTokens int
}

func NewGeminiLLM(ctx context.Context, apiKeyEnv, model string, maxTokens int) (*GeminiLLM, error) {
	apiKey := strings.TrimSpace(os.Getenv(apiKeyEnv))
	if apiKey == "" {
		return nil, fmt.Errorf("API key not found in environment variable: %s", apiKeyEnv)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &GeminiLLM{client: client, model: model, maxTokens: maxTokens}, nil
}

func (g *GeminiLLM) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: systemPrompt}}},
		Temperature:       genai.Ptr[float32](0),
	}
	if g.maxTokens > 0 {
		cfg.MaxOutputTokens = int32(g.maxTokens)
	}

	resp, err := g.client.Models.GenerateContent(
		ctx,
		g.model,
		[]*genai.Content{{Role: "user", Parts: []*genai.Part{{Text: userPrompt}}}},
		cfg,
	)
	if err != nil {
		return "", fmt.Errorf("failed to generate response: %w", err)
	}

	return strings.TrimSpace(resp.Text()), nil
}

func (g *GeminiLLM) ModelName() string {
	return g.model
}
