package port

import (
	"context"

	"legisrag/internal/domain"
)

// PDFFetcher stores a document's PDF and returns its storage reference.
// A PDF that is already stored is reused without a network fetch.
type PDFFetcher interface {
	Fetch(ctx context.Context, downloadURL string, docType domain.DocType, docID string) (string, error)
}

// TextExtractor reads the plain text of a stored PDF.
type TextExtractor interface {
	Extract(ctx context.Context, storagePath string) (string, error)
}

// DocumentExtractor turns listing pages into documents.
type DocumentExtractor interface {
	Extract(ctx context.Context, sources map[domain.DocType]string) ([]domain.Document, error)
}

// EventSink records answered queries for observability.
type EventSink interface {
	Record(ctx context.Context, event domain.QueryEvent) error
}
