package port

import (
	"context"

	"legisrag/internal/domain"
)

// Retriever defines the interface for searching indexed passages.
type Retriever interface {
	// Search embeds the query and returns top-k passages.
	Search(ctx context.Context, query string, k int) ([]domain.SearchHit, error)
}
