package usecase

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"legisrag/internal/domain"
	"legisrag/internal/port"
)

const (
	// SnapshotBucket holds JSON snapshots of the scraped corpus.
	SnapshotBucket = "json_files"
	// ScrapeSnapshotKey is the snapshot written by every scrape.
	ScrapeSnapshotKey = "corpus_document.json"
)

// ScrapeUseCase extracts documents from listing pages and stores them.
type ScrapeUseCase struct {
	extractor port.DocumentExtractor
	store     port.DocumentStore
	cache     port.ArtifactCache
	logger    *zap.Logger
}

func NewScrapeUseCase(extractor port.DocumentExtractor, store port.DocumentStore, cache port.ArtifactCache, logger *zap.Logger) *ScrapeUseCase {
	return &ScrapeUseCase{
		extractor: extractor,
		store:     store,
		cache:     cache,
		logger:    logger,
	}
}

// ScrapeResult contains the results of a scrape.
type ScrapeResult struct {
	Extracted     int
	ByType        map[domain.DocType]int
	Inserted      int
	Batches       int
	FailedBatches int
	SnapshotURI   string
}

// Scrape extracts every source, upserts the documents and writes a JSON
// snapshot of what was scraped. Failed store batches are reported in the
// result and the returned error; batches that committed stay committed.
func (u *ScrapeUseCase) Scrape(ctx context.Context, sources map[domain.DocType]string) (*ScrapeResult, error) {
	docs, err := u.extractor.Extract(ctx, sources)
	if err != nil {
		return nil, fmt.Errorf("failed to extract documents: %w", err)
	}

	result := &ScrapeResult{
		Extracted: len(docs),
		ByType:    make(map[domain.DocType]int),
	}
	for _, d := range docs {
		result.ByType[d.DocType]++
	}

	if len(docs) == 0 {
		u.logger.Warn("no documents extracted", zap.Int("sources", len(sources)))
		return result, nil
	}

	ins, insErr := u.store.InsertMany(ctx, docs)
	result.Inserted = ins.Inserted
	result.Batches = ins.Batches
	result.FailedBatches = ins.FailedBatches
	if insErr != nil {
		u.logger.Error("document batches failed",
			zap.Int("failed", ins.FailedBatches),
			zap.Int("batches", ins.Batches),
			zap.Error(insErr))
	}

	if u.cache != nil {
		result.SnapshotURI = u.snapshot(ctx, docs)
	}

	if insErr != nil {
		return result, fmt.Errorf("failed to store documents: %w", insErr)
	}
	return result, nil
}

func (u *ScrapeUseCase) snapshot(ctx context.Context, docs []domain.Document) string {
	uri := u.cache.URI(SnapshotBucket, ScrapeSnapshotKey)

	payload, err := json.Marshal(docs)
	if err != nil {
		u.logger.Warn("cannot encode scrape snapshot", zap.Error(err))
		return ""
	}
	if err := u.cache.Put(ctx, SnapshotBucket, ScrapeSnapshotKey, payload); err != nil {
		u.logger.Warn("scrape snapshot not written", zap.String("uri", uri), zap.Error(err))
		return ""
	}
	return uri
}
