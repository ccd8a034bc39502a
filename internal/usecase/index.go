package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"legisrag/internal/adapter/cache"
	"legisrag/internal/domain"
	"legisrag/internal/port"
	"legisrag/internal/workerpool"
)

// IndexUseCase turns stored documents into vector index entries.
type IndexUseCase struct {
	store        port.DocumentStore
	cache        port.ArtifactCache
	text         port.TextExtractor
	chunker      port.Chunker
	encoder      port.ChunkEncoder
	index        port.VectorIndex
	prepPool     *workerpool.Pool
	pipelineHash string
	logger       *zap.Logger
}

// NewIndexUseCase creates a new index use case. pipelineHash prefixes the
// cache keys of derived artifacts so a changed setting never reads a stale
// snapshot.
func NewIndexUseCase(
	store port.DocumentStore,
	artifacts port.ArtifactCache,
	text port.TextExtractor,
	chunker port.Chunker,
	encoder port.ChunkEncoder,
	index port.VectorIndex,
	prepPool *workerpool.Pool,
	pipelineHash string,
	logger *zap.Logger,
) *IndexUseCase {
	return &IndexUseCase{
		store:        store,
		cache:        artifacts,
		text:         text,
		chunker:      chunker,
		encoder:      encoder,
		index:        index,
		prepPool:     prepPool,
		pipelineHash: pipelineHash,
		logger:       logger,
	}
}

// IndexOptions selects how an index run writes.
type IndexOptions struct {
	// Incremental adds to the existing index instead of rebuilding it.
	Incremental bool
	// DocIDs restricts the run to documents whose key or doc_id is listed.
	DocIDs []string
	// Refresh ignores cached snapshots and rewrites them.
	Refresh bool
	// Progress is called as documents are prepared.
	Progress ProgressFunc
}

// IndexResult contains the results of an indexing operation.
type IndexResult struct {
	Documents      int
	Indexed        int
	Excluded       []string
	TitleFallbacks int
	Chunks         int
	SnapshotHit    bool
	ChunksHit      bool
	Incremental    bool
	IndexSize      int
}

// preparedCorpus is the cached output of chunk preparation.
type preparedCorpus struct {
	Chunks         []domain.Chunk `json:"chunks"`
	Documents      int            `json:"documents"`
	Excluded       []string       `json:"excluded"`
	TitleFallbacks int            `json:"title_fallbacks"`
}

type preparedDoc struct {
	chunks   []domain.Chunk
	excluded bool
	fallback bool
}

func (u *IndexUseCase) snapshotKey() string {
	return u.pipelineHash + "/documents.json"
}

func (u *IndexUseCase) chunksKey() string {
	return u.pipelineHash + "/chunks.json"
}

// Index prepares chunks for every stored document, embeds them and writes
// the index. Documents with neither text nor a stored PDF are excluded and
// reported; documents whose PDF cannot be read are indexed by title.
func (u *IndexUseCase) Index(ctx context.Context, opts IndexOptions) (*IndexResult, error) {
	result := &IndexResult{Incremental: opts.Incremental}

	docs, hit, err := u.documents(ctx, opts.Refresh)
	if err != nil {
		return nil, err
	}
	result.SnapshotHit = hit

	docs = filterDocs(docs, opts.DocIDs)
	if len(docs) == 0 {
		return nil, fmt.Errorf("no documents to index")
	}

	var corpus preparedCorpus
	if len(opts.DocIDs) > 0 {
		// A subset is never cached under the whole-corpus key.
		corpus, err = u.prepare(ctx, docs, opts.Progress)
	} else {
		corpus, result.ChunksHit, err = u.preparedChunks(ctx, docs, opts)
	}
	if err != nil {
		return nil, err
	}

	result.Documents = corpus.Documents
	result.Excluded = corpus.Excluded
	result.TitleFallbacks = corpus.TitleFallbacks
	result.Indexed = corpus.Documents - len(corpus.Excluded)
	result.Chunks = len(corpus.Chunks)

	if len(corpus.Chunks) == 0 {
		return result, fmt.Errorf("no chunks to index: all %d documents excluded (run download, then index with --refresh)", corpus.Documents)
	}

	vectors, err := u.encoder.Encode(ctx, corpus.Chunks)
	if err != nil {
		return nil, fmt.Errorf("failed to embed chunks: %w", err)
	}
	if len(vectors) != len(corpus.Chunks) {
		return nil, fmt.Errorf("got %d vectors for %d chunks: %w", len(vectors), len(corpus.Chunks), domain.ErrLengthMismatch)
	}

	ids := make([]string, len(corpus.Chunks))
	vecs := make([][]float32, len(corpus.Chunks))
	metas := make([]map[string]string, len(corpus.Chunks))
	for i, ch := range corpus.Chunks {
		if vectors[i].ChunkID != ch.ID {
			return nil, fmt.Errorf("vector %d belongs to %s, not %s: %w", i, vectors[i].ChunkID, ch.ID, domain.ErrLengthMismatch)
		}
		ids[i] = ch.ID
		vecs[i] = vectors[i].Vector
		metas[i] = ch.IndexMetadata()
	}

	if opts.Incremental {
		err = u.index.Add(ctx, ids, vecs, metas)
	} else {
		err = u.index.Rebuild(ctx, ids, vecs, metas)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to write index: %w", err)
	}

	result.IndexSize = u.index.Count()
	u.logger.Info("index written",
		zap.Int("documents", result.Indexed),
		zap.Int("excluded", len(result.Excluded)),
		zap.Int("chunks", result.Chunks),
		zap.Bool("incremental", opts.Incremental),
		zap.Int("size", result.IndexSize))

	return result, nil
}

// documents returns the document snapshot, cache-aside.
func (u *IndexUseCase) documents(ctx context.Context, refresh bool) ([]domain.Document, bool, error) {
	fetch := func(ctx context.Context) ([]domain.Document, error) {
		docs, err := port.Collect(u.store.FetchAll(ctx))
		if err != nil {
			return nil, fmt.Errorf("failed to fetch documents: %w", err)
		}
		return docs, nil
	}

	if refresh {
		docs, err := fetch(ctx)
		if err != nil {
			return nil, false, err
		}
		putJSON(ctx, u.cache, u.logger, SnapshotBucket, u.snapshotKey(), docs)
		return docs, false, nil
	}
	return cache.AsideJSON(ctx, u.cache, u.logger, SnapshotBucket, u.snapshotKey(), fetch)
}

func (u *IndexUseCase) preparedChunks(ctx context.Context, docs []domain.Document, opts IndexOptions) (preparedCorpus, bool, error) {
	prepare := func(ctx context.Context) (preparedCorpus, error) {
		return u.prepare(ctx, docs, opts.Progress)
	}

	if opts.Refresh {
		corpus, err := prepare(ctx)
		if err != nil {
			return preparedCorpus{}, false, err
		}
		putJSON(ctx, u.cache, u.logger, SnapshotBucket, u.chunksKey(), corpus)
		return corpus, false, nil
	}
	return cache.AsideJSON(ctx, u.cache, u.logger, SnapshotBucket, u.chunksKey(), prepare)
}

// prepare chunks every document on the prep pool, keeping document order.
func (u *IndexUseCase) prepare(ctx context.Context, docs []domain.Document, progress ProgressFunc) (preparedCorpus, error) {
	var done atomic.Int64
	total := len(docs)

	prepared, errs := workerpool.MapEach(ctx, u.prepPool, docs, func(ctx context.Context, d domain.Document) (preparedDoc, error) {
		p := u.prepareDoc(ctx, d)
		progress.report(int(done.Add(1)), total, d.Key())
		return p, nil
	})

	corpus := preparedCorpus{Documents: len(docs)}
	for i, p := range prepared {
		if errs[i] != nil {
			return preparedCorpus{}, fmt.Errorf("failed to prepare %s: %w", docs[i].Key(), errs[i])
		}
		if p.excluded {
			corpus.Excluded = append(corpus.Excluded, docs[i].Key())
			continue
		}
		if p.fallback {
			corpus.TitleFallbacks++
		}
		corpus.Chunks = append(corpus.Chunks, p.chunks...)
	}
	return corpus, nil
}

func (u *IndexUseCase) prepareDoc(ctx context.Context, d domain.Document) preparedDoc {
	if d.FullText == "" {
		if d.Metadata.StoragePath == "" {
			u.logger.Debug("no text or pdf, excluding",
				zap.String("doc_id", d.Metadata.DocID),
				zap.String("doc_type", string(d.DocType)))
			return preparedDoc{excluded: true}
		}

		text, err := u.text.Extract(ctx, d.Metadata.StoragePath)
		if err != nil {
			u.logger.Warn("pdf text unavailable, using title",
				zap.String("doc_id", d.Metadata.DocID),
				zap.String("doc_type", string(d.DocType)),
				zap.Error(err))
		}
		d.FullText = text
	}

	chunks := u.chunker.Split(d)
	fallback := len(chunks) > 0 && chunks[0].Metadata[domain.MetaTextSource] == "title"
	return preparedDoc{chunks: chunks, fallback: fallback}
}

func filterDocs(docs []domain.Document, ids []string) []domain.Document {
	if len(ids) == 0 {
		return docs
	}
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}

	var out []domain.Document
	for _, d := range docs {
		_, byKey := want[d.Key()]
		_, byID := want[d.Metadata.DocID]
		if byKey || byID {
			out = append(out, d)
		}
	}
	return out
}

func putJSON(ctx context.Context, c port.ArtifactCache, logger *zap.Logger, bucket, key string, v any) {
	payload, err := json.Marshal(v)
	if err == nil {
		err = c.Put(ctx, bucket, key, payload)
	}
	if err != nil {
		logger.Warn("snapshot not written", zap.String("uri", c.URI(bucket, key)), zap.Error(err))
	}
}
