package memstore

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sort"
	"sync"

	"legisrag/internal/adapter/store"
	"legisrag/internal/domain"
	"legisrag/internal/port"
)

// MemoryStore is an in-process DocumentStore with the same batch semantics
// as the persistent stores. FetchAll yields documents in key order.
type MemoryStore struct {
	mu        sync.RWMutex
	docs      map[string]domain.Document
	batchSize int
}

func NewMemoryStore(batchSize int) *MemoryStore {
	if batchSize <= 0 {
		batchSize = 150
	}
	return &MemoryStore{
		docs:      make(map[string]domain.Document),
		batchSize: batchSize,
	}
}

func (s *MemoryStore) InsertMany(ctx context.Context, docs []domain.Document) (port.InsertResult, error) {
	var res port.InsertResult
	var errs []error

	for start := 0; start < len(docs); start += s.batchSize {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		end := start + s.batchSize
		if end > len(docs) {
			end = len(docs)
		}
		batch := docs[start:end]
		res.Batches++

		var invalid error
		for _, doc := range batch {
			if err := store.ValidateDocument(doc); err != nil {
				invalid = err
				break
			}
		}
		if invalid != nil {
			res.FailedBatches++
			errs = append(errs, fmt.Errorf("batch %d (documents %d-%d): %w", res.Batches-1, start, end-1, invalid))
			continue
		}

		s.mu.Lock()
		for _, doc := range batch {
			if prev, ok := s.docs[doc.Key()]; ok {
				doc = store.MergeEnrichment(prev, doc)
			}
			doc.ID = doc.Key()
			s.docs[doc.ID] = doc
		}
		s.mu.Unlock()
		res.Inserted += len(batch)
	}

	return res, errors.Join(errs...)
}

// FetchAll snapshots the store each time it is ranged over.
func (s *MemoryStore) FetchAll(ctx context.Context) iter.Seq2[domain.Document, error] {
	return func(yield func(domain.Document, error) bool) {
		s.mu.RLock()
		docs := make([]domain.Document, 0, len(s.docs))
		for _, doc := range s.docs {
			docs = append(docs, doc)
		}
		s.mu.RUnlock()

		sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })

		for _, doc := range docs {
			if err := ctx.Err(); err != nil {
				yield(domain.Document{}, err)
				return
			}
			if !yield(doc, nil) {
				return
			}
		}
	}
}

func (s *MemoryStore) Get(ctx context.Context, key string) (domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[key]
	if !ok {
		return domain.Document{}, fmt.Errorf("document not found: %s", key)
	}
	return doc, nil
}

func (s *MemoryStore) SetStoragePath(ctx context.Context, key, storagePath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[key]
	if !ok {
		return fmt.Errorf("document not found: %s", key)
	}
	doc.Metadata.StoragePath = storagePath
	s.docs[key] = doc
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
