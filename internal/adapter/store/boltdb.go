package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"

	"go.etcd.io/bbolt"

	"legisrag/internal/domain"
	"legisrag/internal/port"
)

var (
	bucketDocs  = []byte("docs")
	bucketStats = []byte("stats")
)

// fetchPage is how many documents FetchAll reads per read transaction.
const fetchPage = 256

// BoltStore is a DocumentStore in a single bbolt file, keyed by
// Document.Key().
type BoltStore struct {
	db        *bbolt.DB
	batchSize int
}

func NewBoltStore(path string, batchSize int) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store dir: %w", err)
	}

	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketDocs, bucketStats} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	if batchSize <= 0 {
		batchSize = 150
	}
	s := &BoltStore{db: db, batchSize: batchSize}

	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *BoltStore) DB() *bbolt.DB {
	return s.db
}

// InsertMany upserts docs, one bbolt transaction per batch. A failing batch
// rolls back alone and the remaining batches are still attempted.
func (s *BoltStore) InsertMany(ctx context.Context, docs []domain.Document) (port.InsertResult, error) {
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

		err := s.db.Update(func(tx *bbolt.Tx) error {
			b := tx.Bucket(bucketDocs)
			for _, doc := range batch {
				if err := ValidateDocument(doc); err != nil {
					return err
				}
				key := []byte(doc.Key())

				if existing := b.Get(key); existing != nil {
					var prev domain.Document
					if err := json.Unmarshal(existing, &prev); err == nil {
						doc = MergeEnrichment(prev, doc)
					}
				}
				doc.ID = doc.Key()

				data, err := json.Marshal(doc)
				if err != nil {
					return err
				}
				if err := b.Put(key, data); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			res.FailedBatches++
			errs = append(errs, fmt.Errorf("batch %d (documents %d-%d): %w", res.Batches-1, start, end-1, err))
			continue
		}
		res.Inserted += len(batch)
	}

	return res, errors.Join(errs...)
}

// FetchAll pages through the docs bucket in short read transactions, so a
// long consumer never pins a transaction open.
func (s *BoltStore) FetchAll(ctx context.Context) iter.Seq2[domain.Document, error] {
	return func(yield func(domain.Document, error) bool) {
		var after []byte

		for {
			if err := ctx.Err(); err != nil {
				yield(domain.Document{}, err)
				return
			}

			var page []domain.Document
			err := s.db.View(func(tx *bbolt.Tx) error {
				c := tx.Bucket(bucketDocs).Cursor()

				var k, v []byte
				if after == nil {
					k, v = c.First()
				} else {
					k, v = c.Seek(after)
					if k != nil && string(k) == string(after) {
						k, v = c.Next()
					}
				}

				for ; k != nil && len(page) < fetchPage; k, v = c.Next() {
					var doc domain.Document
					if err := json.Unmarshal(v, &doc); err != nil {
						return fmt.Errorf("corrupt document %s: %w", k, err)
					}
					page = append(page, doc)
					after = append(after[:0], k...)
				}
				return nil
			})
			if err != nil {
				yield(domain.Document{}, err)
				return
			}

			for _, doc := range page {
				if !yield(doc, nil) {
					return
				}
			}
			if len(page) < fetchPage {
				return
			}
		}
	}
}

// Get returns the document stored under key.
func (s *BoltStore) Get(ctx context.Context, key string) (domain.Document, error) {
	var doc domain.Document
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketDocs).Get([]byte(key))
		if data == nil {
			return fmt.Errorf("document not found: %s", key)
		}
		return json.Unmarshal(data, &doc)
	})
	return doc, err
}

func (s *BoltStore) SetStoragePath(ctx context.Context, key, storagePath string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketDocs)
		data := b.Get([]byte(key))
		if data == nil {
			return fmt.Errorf("document not found: %s", key)
		}

		var doc domain.Document
		if err := json.Unmarshal(data, &doc); err != nil {
			return err
		}
		doc.Metadata.StoragePath = storagePath

		updated, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), updated)
	})
}

// Count returns the number of stored documents.
func (s *BoltStore) Count() (int, error) {
	var n int
	err := s.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketDocs).Stats().KeyN
		return nil
	})
	return n, err
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

// ValidateDocument rejects documents without the fields their identity is
// built from.
func ValidateDocument(doc domain.Document) error {
	if doc.DocType == "" || doc.Metadata.DocID == "" {
		return fmt.Errorf("%w: doc_type and doc_id are required (title %q)", domain.ErrInvalidDocument, doc.Title)
	}
	return nil
}

// MergeEnrichment keeps the fields later pipeline stages added to prev when
// a re-scraped next does not carry them.
func MergeEnrichment(prev, next domain.Document) domain.Document {
	if next.Metadata.StoragePath == "" {
		next.Metadata.StoragePath = prev.Metadata.StoragePath
	}
	if next.FullText == "" {
		next.FullText = prev.FullText
	}
	return next
}
