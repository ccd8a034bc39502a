// Package fetch stores source PDFs in the artifact cache and reads their
// text back out.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"legisrag/internal/domain"
	"legisrag/internal/port"
)

// PDFBucket is the cache bucket PDFs are stored under.
const PDFBucket = "pdf_files"

// PDFKey is the cache key of a document's PDF.
func PDFKey(docType domain.DocType, docID string) string {
	return string(docType) + "/" + docID + ".pdf"
}

// StatusError is a non-200 download response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("download %s: status %d", e.URL, e.StatusCode)
}

// Retryable reports whether the download may succeed if attempted again.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// MissingURLError is returned for a document that has nothing to download.
type MissingURLError struct {
	DocID string
}

func (e *MissingURLError) Error() string {
	return fmt.Sprintf("%s has no download url", e.DocID)
}

func (e *MissingURLError) Retryable() bool { return false }

// PDFFetcher downloads PDFs into an artifact cache. A PDF already in the
// cache is reused without touching the network.
type PDFFetcher struct {
	cache    port.ArtifactCache
	client   *http.Client
	maxBytes int64
	logger   *zap.Logger
}

func NewPDFFetcher(cache port.ArtifactCache, client *http.Client, maxBytes int64, logger *zap.Logger) *PDFFetcher {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	if maxBytes <= 0 {
		maxBytes = 64 << 20
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PDFFetcher{cache: cache, client: client, maxBytes: maxBytes, logger: logger}
}

// Fetch returns the storage reference of the document's PDF.
func (f *PDFFetcher) Fetch(ctx context.Context, downloadURL string, docType domain.DocType, docID string) (string, error) {
	ref := port.BlobRef{Bucket: PDFBucket, Key: PDFKey(docType, docID)}

	exists, err := f.cache.Has(ctx, ref.Bucket, ref.Key)
	if err != nil {
		f.logger.Warn("cache lookup failed, downloading", zap.String("uri", f.cache.URI(ref.Bucket, ref.Key)), zap.Error(err))
	}
	if exists {
		f.logger.Debug("pdf already stored", zap.String("doc_id", docID))
		return ref.String(), nil
	}

	if downloadURL == "" {
		return "", &MissingURLError{DocID: docID}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", downloadURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{URL: downloadURL, StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", downloadURL, err)
	}
	if int64(len(data)) > f.maxBytes {
		return "", fmt.Errorf("download %s: larger than %d bytes", downloadURL, f.maxBytes)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("download %s: empty body", downloadURL)
	}

	if err := f.cache.Put(ctx, ref.Bucket, ref.Key, data); err != nil {
		return "", fmt.Errorf("store %s: %w", ref, err)
	}

	f.logger.Info("pdf stored",
		zap.String("doc_id", docID),
		zap.String("uri", f.cache.URI(ref.Bucket, ref.Key)),
		zap.Int("bytes", len(data)))

	return ref.String(), nil
}
