package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"legisrag/internal/domain"
)

var (
	bucketVectors  = []byte("vectors")
	bucketIndexMap = []byte("metadata")
	bucketManifest = []byte("manifest")
	keyManifest    = []byte("manifest")
)

// putBatch bounds how many entries one rebuild transaction writes.
const putBatch = 1000

// BoltVectorIndex is a named vector index persisted as one bbolt file with a
// vectors bucket and an id to metadata bucket. Search is brute-force cosine
// over an in-memory copy.
//
// Rebuild writes a sibling temp file and renames it over the live file, so
// an interrupted rebuild leaves the previous index loadable.
type BoltVectorIndex struct {
	path   string
	expect Manifest

	// writeMu serializes Rebuild and Add.
	writeMu sync.Mutex

	mu      sync.RWMutex
	db      *bbolt.DB
	stored  *Manifest
	vectors map[string]vectorEntry
}

type vectorEntry struct {
	vector   []float32
	metadata map[string]string
}

type storedVector struct {
	Vector []float32 `json:"v"`
}

type IndexOption func(*indexOptions)

type indexOptions struct {
	replace bool
}

// ForRebuild opens an index that is about to be replaced. A manifest
// mismatch is tolerated until the next Rebuild, but Add and Search still
// refuse to use the stale entries.
func ForRebuild() IndexOption {
	return func(o *indexOptions) { o.replace = true }
}

// IndexPath returns the file a named index is persisted to.
func IndexPath(dir, name string) string {
	return filepath.Join(dir, name+".db")
}

// OpenVectorIndex loads the index named name from dir. A missing index is
// not an error; Search reports ErrIndexNotFound until something is written.
// An index built with a different model or dimension than expect yields
// ErrModelMismatch.
func OpenVectorIndex(dir, name string, expect Manifest, opts ...IndexOption) (*BoltVectorIndex, error) {
	var o indexOptions
	for _, opt := range opts {
		opt(&o)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create index dir: %w", err)
	}

	idx := &BoltVectorIndex{
		path:    IndexPath(dir, name),
		expect:  expect,
		vectors: make(map[string]vectorEntry),
	}

	if _, err := os.Stat(idx.path); errors.Is(err, os.ErrNotExist) {
		return idx, nil
	}

	db, stored, vectors, err := loadIndex(idx.path)
	if err != nil {
		return nil, err
	}
	idx.db, idx.stored, idx.vectors = db, stored, vectors

	if err := idx.checkManifest(); err != nil && !o.replace {
		db.Close()
		return nil, err
	}

	return idx, nil
}

func loadIndex(path string) (*bbolt.DB, *Manifest, map[string]vectorEntry, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open index %s: %w", path, err)
	}

	var manifest *Manifest
	vectors := make(map[string]vectorEntry)

	err = db.View(func(tx *bbolt.Tx) error {
		if b := tx.Bucket(bucketManifest); b != nil {
			if data := b.Get(keyManifest); data != nil {
				var m Manifest
				if err := json.Unmarshal(data, &m); err != nil {
					return fmt.Errorf("corrupt index manifest: %w", err)
				}
				manifest = &m
			}
		}

		vb := tx.Bucket(bucketVectors)
		mb := tx.Bucket(bucketIndexMap)
		if vb == nil || mb == nil {
			return nil
		}

		return vb.ForEach(func(k, v []byte) error {
			var sv storedVector
			if err := json.Unmarshal(v, &sv); err != nil {
				return fmt.Errorf("corrupt vector %s: %w", k, err)
			}
			var meta map[string]string
			if data := mb.Get(k); data != nil {
				if err := json.Unmarshal(data, &meta); err != nil {
					return fmt.Errorf("corrupt metadata %s: %w", k, err)
				}
			}
			vectors[string(k)] = vectorEntry{vector: sv.Vector, metadata: meta}
			return nil
		})
	})
	if err != nil {
		db.Close()
		return nil, nil, nil, err
	}

	return db, manifest, vectors, nil
}

func (idx *BoltVectorIndex) checkManifest() error {
	if idx.stored == nil {
		return nil
	}
	return idx.stored.Compatible(idx.expect)
}

// Manifest returns the manifest of the loaded index, or nil.
func (idx *BoltVectorIndex) Manifest() *Manifest {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.stored == nil {
		return nil
	}
	m := *idx.stored
	return &m
}

func (idx *BoltVectorIndex) validate(ids []string, vectors [][]float32, metadatas []map[string]string) error {
	if len(ids) != len(vectors) || len(ids) != len(metadatas) {
		return fmt.Errorf("%d ids, %d vectors, %d metadatas: %w", len(ids), len(vectors), len(metadatas), domain.ErrLengthMismatch)
	}
	for i, id := range ids {
		if id == "" {
			return fmt.Errorf("entry %d has an empty id", i)
		}
		if len(vectors[i]) != idx.expect.Dimension {
			return fmt.Errorf("entry %s: expected %d, got %d: %w", id, idx.expect.Dimension, len(vectors[i]), domain.ErrDimensionMismatch)
		}
		for _, key := range domain.CitationKeys {
			if metadatas[i][key] == "" {
				return fmt.Errorf("entry %s lacks %q: %w", id, key, domain.ErrMissingCitation)
			}
		}
	}
	return nil
}

// Rebuild replaces the index with exactly the given entries. Nothing is
// visible to Search until the new file has been renamed into place.
func (idx *BoltVectorIndex) Rebuild(ctx context.Context, ids []string, vectors [][]float32, metadatas []map[string]string) error {
	if err := idx.validate(ids, vectors, metadatas); err != nil {
		return err
	}

	idx.writeMu.Lock()
	defer idx.writeMu.Unlock()

	tmp := fmt.Sprintf("%s.tmp-%d", idx.path, time.Now().UnixNano())
	manifest := idx.expect
	manifest.SchemaVersion = CurrentSchemaVersion
	manifest.BuiltAt = time.Now().UTC()
	manifest.Count = uniqueCount(ids)

	if err := writeIndexFile(ctx, tmp, ids, vectors, metadatas, manifest); err != nil {
		os.Remove(tmp)
		return err
	}

	// last point at which abandoning leaves the old index in place
	if err := ctx.Err(); err != nil {
		os.Remove(tmp)
		return err
	}

	entries := make(map[string]vectorEntry, len(ids))
	for i, id := range ids {
		entries[id] = vectorEntry{vector: vectors[i], metadata: copyMeta(metadatas[i])}
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.db != nil {
		idx.db.Close()
		idx.db = nil
	}
	if err := os.Rename(tmp, idx.path); err != nil {
		os.Remove(tmp)
		// the old file is untouched; reload it
		if db, stored, vecs, lerr := loadIndex(idx.path); lerr == nil {
			idx.db, idx.stored, idx.vectors = db, stored, vecs
		}
		return fmt.Errorf("failed to install rebuilt index: %w", err)
	}

	db, err := bbolt.Open(idx.path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return fmt.Errorf("failed to reopen rebuilt index: %w", err)
	}

	idx.db = db
	idx.stored = &manifest
	idx.vectors = entries
	return nil
}

func writeIndexFile(ctx context.Context, path string, ids []string, vectors [][]float32, metadatas []map[string]string, manifest Manifest) error {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second, NoSync: true})
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketVectors, bucketIndexMap, bucketManifest} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", name, err)
			}
		}
		return nil
	})

	for start := 0; err == nil && start < len(ids); start += putBatch {
		if err = ctx.Err(); err != nil {
			break
		}
		end := start + putBatch
		if end > len(ids) {
			end = len(ids)
		}
		err = db.Update(func(tx *bbolt.Tx) error {
			return putEntries(tx, ids[start:end], vectors[start:end], metadatas[start:end])
		})
	}

	if err == nil {
		err = db.Update(func(tx *bbolt.Tx) error {
			return putManifest(tx, manifest)
		})
	}
	if err == nil {
		err = db.Sync()
	}

	if cerr := db.Close(); err == nil && cerr != nil {
		err = cerr
	}
	return err
}

func putEntries(tx *bbolt.Tx, ids []string, vectors [][]float32, metadatas []map[string]string) error {
	vb := tx.Bucket(bucketVectors)
	mb := tx.Bucket(bucketIndexMap)

	for i, id := range ids {
		vdata, err := json.Marshal(storedVector{Vector: vectors[i]})
		if err != nil {
			return err
		}
		mdata, err := json.Marshal(metadatas[i])
		if err != nil {
			return err
		}
		if err := vb.Put([]byte(id), vdata); err != nil {
			return err
		}
		if err := mb.Put([]byte(id), mdata); err != nil {
			return err
		}
	}
	return nil
}

func putManifest(tx *bbolt.Tx, m Manifest) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketManifest).Put(keyManifest, data)
}

// Add writes entries in one transaction. An existing id is overwritten.
func (idx *BoltVectorIndex) Add(ctx context.Context, ids []string, vectors [][]float32, metadatas []map[string]string) error {
	if err := idx.validate(ids, vectors, metadatas); err != nil {
		return err
	}

	idx.writeMu.Lock()
	defer idx.writeMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	idx.mu.RLock()
	db := idx.db
	mismatch := idx.checkManifest()
	idx.mu.RUnlock()

	if mismatch != nil {
		return mismatch
	}

	if db == nil {
		var err error
		db, err = bbolt.Open(idx.path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
		if err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	manifest := idx.expect
	manifest.SchemaVersion = CurrentSchemaVersion
	if stored := idx.Manifest(); stored != nil {
		manifest.BuiltAt = stored.BuiltAt
	} else {
		manifest.BuiltAt = time.Now().UTC()
	}

	// the count is only known once the map is updated, so compute it ahead
	idx.mu.RLock()
	count := len(idx.vectors)
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := idx.vectors[id]; ok {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		count++
	}
	idx.mu.RUnlock()
	manifest.Count = count

	err := db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketVectors, bucketIndexMap, bucketManifest} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		if err := putEntries(tx, ids, vectors, metadatas); err != nil {
			return err
		}
		return putManifest(tx, manifest)
	})
	if err != nil {
		if idx.db == nil {
			db.Close()
		}
		return fmt.Errorf("failed to add entries: %w", err)
	}

	idx.mu.Lock()
	idx.db = db
	idx.stored = &manifest
	for i, id := range ids {
		idx.vectors[id] = vectorEntry{vector: vectors[i], metadata: copyMeta(metadatas[i])}
	}
	idx.mu.Unlock()

	return nil
}

// Search finds the k nearest entries to query by cosine similarity. Ties
// are broken by id so results are stable.
func (idx *BoltVectorIndex) Search(ctx context.Context, query []float32, k int) ([]domain.SearchHit, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.db == nil {
		return nil, domain.ErrIndexNotFound
	}
	if err := idx.checkManifest(); err != nil {
		return nil, err
	}
	if len(query) != idx.expect.Dimension {
		return nil, fmt.Errorf("query: expected %d, got %d: %w", idx.expect.Dimension, len(query), domain.ErrDimensionMismatch)
	}
	if k <= 0 || len(idx.vectors) == 0 {
		return nil, nil
	}

	scores := make([]domain.SearchHit, 0, len(idx.vectors))
	for id, entry := range idx.vectors {
		scores = append(scores, domain.SearchHit{
			ID:    id,
			Score: cosineSimilarity(query, entry.vector),
		})
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		return scores[i].ID < scores[j].ID
	})

	if k > len(scores) {
		k = len(scores)
	}

	hits := scores[:k]
	for i := range hits {
		hits[i].Metadata = copyMeta(idx.vectors[hits[i].ID].metadata)
	}

	return hits, nil
}

// Count returns the number of entries in the index.
func (idx *BoltVectorIndex) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.vectors)
}

func (idx *BoltVectorIndex) Close() error {
	idx.writeMu.Lock()
	defer idx.writeMu.Unlock()
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.db == nil {
		return nil
	}
	err := idx.db.Close()
	idx.db = nil
	return err
}

func copyMeta(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func uniqueCount(ids []string) int {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	return len(seen)
}

// cosineSimilarity calculates the cosine similarity between two vectors.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
