package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
	"github.com/ollama/ollama/envconfig"
)

// OllamaLLM generates answers with a local Ollama model.
type OllamaLLM struct {
	client    *api.Client
	model     string
	maxTokens int
}

// NewOllamaLLM connects to host, or to OLLAMA_HOST when host is empty.
func NewOllamaLLM(host, model string, maxTokens int) (*OllamaLLM, error) {
	hostURL := envconfig.Host()
	if host != "" {
		u, err := url.Parse(host)
		if err != nil {
			return nil, fmt.Errorf("invalid ollama host %q: %w", host, err)
		}
		hostURL = u
	}

	return &OllamaLLM{
		client:    api.NewClient(hostURL, http.DefaultClient),
		model:     model,
		maxTokens: maxTokens,
	}, nil
}

func (o *OllamaLLM) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	stream := false
	options := map[string]interface{}{
		"temperature": 0,
	}
	if o.maxTokens > 0 {
		options["num_predict"] = o.maxTokens
	}

	req := api.GenerateRequest{
		Model:   o.model,
		System:  systemPrompt,
		Prompt:  userPrompt,
		Stream:  &stream,
		Options: options,
	}

	var responseBuilder strings.Builder

	err := o.client.Generate(ctx, &req, func(resp api.GenerateResponse) error {
		_, err := responseBuilder.WriteString(resp.Response)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate response: %w", err)
	}

	return strings.TrimSpace(responseBuilder.String()), nil
}

func (o *OllamaLLM) ModelName() string {
	return o.model
}
