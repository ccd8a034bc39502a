package embedding

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"
	"github.com/ollama/ollama/envconfig"
)

// OllamaEmbedder calls a local Ollama server's batch embed endpoint.
type OllamaEmbedder struct {
	client    *api.Client
	model     string
	dimension int
}

// NewOllamaEmbedder connects to host, or to OLLAMA_HOST when host is empty.
func NewOllamaEmbedder(host, model string, dimension int) (*OllamaEmbedder, error) {
	hostURL := envconfig.Host()
	if host != "" {
		u, err := url.Parse(host)
		if err != nil {
			return nil, fmt.Errorf("invalid ollama host %q: %w", host, err)
		}
		hostURL = u
	}

	if dimension <= 0 {
		dimension = 768
		switch model {
		case "mxbai-embed-large":
			dimension = 1024
		case "all-minilm":
			dimension = 384
		}
	}

	return &OllamaEmbedder{
		client:    api.NewClient(hostURL, http.DefaultClient),
		model:     model,
		dimension: dimension,
	}, nil
}

func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := e.client.Embed(ctx, &api.EmbedRequest{
		Model: e.model,
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embeddings: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama returned %d embeddings for %d inputs", len(resp.Embeddings), len(texts))
	}

	return resp.Embeddings, nil
}

func (e *OllamaEmbedder) Dimension() int {
	return e.dimension
}

func (e *OllamaEmbedder) ModelName() string {
	return e.model
}
