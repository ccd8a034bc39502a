package port

import (
	"context"
	"iter"

	"legisrag/internal/domain"
)

// DocumentStore persists scraped documents keyed by Document.Key().
type DocumentStore interface {
	// InsertMany upserts documents in fixed-size batches. Each batch commits
	// or fails on its own; the returned error joins every failed batch.
	InsertMany(ctx context.Context, docs []domain.Document) (InsertResult, error)

	// FetchAll returns a lazy sequence over every stored document. Ranging
	// over it again queries the store again.
	FetchAll(ctx context.Context) iter.Seq2[domain.Document, error]

	// SetStoragePath records where the document's PDF was stored.
	SetStoragePath(ctx context.Context, key, storagePath string) error

	Close() error
}

type InsertResult struct {
	Inserted      int
	Batches       int
	FailedBatches int
}

// Collect drains a document sequence into a slice.
func Collect(seq iter.Seq2[domain.Document, error]) ([]domain.Document, error) {
	var docs []domain.Document
	for doc, err := range seq {
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}
