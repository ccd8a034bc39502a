package port

import (
	"context"

	"legisrag/internal/domain"
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates embeddings for the given texts.
	// Returns a slice of vectors, one per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the embedding vector dimension.
	Dimension() int

	// ModelName returns the name of the embedding model.
	ModelName() string
}

// VectorIndex stores passage vectors with metadata and answers nearest-neighbour queries.
type VectorIndex interface {
	// Rebuild replaces the whole index. The previous index stays loadable
	// until the new one is fully persisted.
	Rebuild(ctx context.Context, ids []string, vectors [][]float32, metadatas []map[string]string) error

	// Add appends entries; an existing id is overwritten.
	Add(ctx context.Context, ids []string, vectors [][]float32, metadatas []map[string]string) error

	// Search returns at most k hits ordered by descending similarity.
	Search(ctx context.Context, query []float32, k int) ([]domain.SearchHit, error)

	// Count returns the number of entries in the index.
	Count() int
}

// ChunkEncoder embeds chunks, returning exactly one vector per chunk in
// chunk order.
type ChunkEncoder interface {
	Encode(ctx context.Context, chunks []domain.Chunk) ([]domain.EmbeddingVector, error)
}
