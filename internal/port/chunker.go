package port

import "legisrag/internal/domain"

// Chunker splits a document's text into ordered, overlapping passages.
type Chunker interface {
	Split(doc domain.Document) []domain.Chunk
}
