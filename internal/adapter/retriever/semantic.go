package retriever

import (
	"context"
	"fmt"
	"strings"
	"time"

	"legisrag/internal/domain"
	"legisrag/internal/port"
)

// SemanticRetriever embeds a query and searches the vector index. With a
// reranker it over-fetches and lets the reranker pick the final k.
type SemanticRetriever struct {
	index    port.VectorIndex
	embedder port.Embedder
	reranker port.DiversityReranker
	fetchK   int
	timeout  time.Duration
}

type SemanticOption func(*SemanticRetriever)

// WithQueryTimeout bounds the query embedding call.
func WithQueryTimeout(d time.Duration) SemanticOption {
	return func(r *SemanticRetriever) {
		r.timeout = d
	}
}

func NewSemanticRetriever(index port.VectorIndex, embedder port.Embedder, reranker port.DiversityReranker, opts ...SemanticOption) *SemanticRetriever {
	r := &SemanticRetriever{
		index:    index,
		embedder: embedder,
		reranker: reranker,
		fetchK:   3,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *SemanticRetriever) Search(ctx context.Context, query string, k int) ([]domain.SearchHit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, domain.ErrEmptyQuery
	}

	embeddings, err := r.embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(embeddings) != 1 || len(embeddings[0]) == 0 {
		return nil, fmt.Errorf("embedding returned empty result")
	}

	n := k
	if r.reranker != nil {
		n = k * r.fetchK
	}

	hits, err := r.index.Search(ctx, embeddings[0], n)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	if r.reranker != nil {
		hits = r.reranker.Rerank(hits, k)
	}
	if len(hits) > k {
		hits = hits[:k]
	}

	return hits, nil
}

func (r *SemanticRetriever) embed(ctx context.Context, query string) ([][]float32, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	return r.embedder.Embed(ctx, []string{query})
}
