package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"legisrag/internal/domain"
	"legisrag/internal/port"
	"legisrag/internal/workerpool"
)

// DownloadUseCase fetches the PDF of every stored document that does not
// have one yet and records where it was stored.
type DownloadUseCase struct {
	store    port.DocumentStore
	fetcher  port.PDFFetcher
	pool     *workerpool.Pool
	attempts int
	timeout  time.Duration
	backoff  func() backoff.BackOff
	logger   *zap.Logger
}

func NewDownloadUseCase(store port.DocumentStore, fetcher port.PDFFetcher, pool *workerpool.Pool, attempts int, timeout time.Duration, logger *zap.Logger) *DownloadUseCase {
	if attempts <= 0 {
		attempts = 1
	}
	return &DownloadUseCase{
		store:    store,
		fetcher:  fetcher,
		pool:     pool,
		attempts: attempts,
		timeout:  timeout,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 10 * time.Second
			return b
		},
		logger: logger,
	}
}

// DownloadResult contains the results of a download run.
type DownloadResult struct {
	Downloaded int
	Skipped    int
	Failed     int
	Errors     []string
}

// Download fetches missing PDFs on the pool. A document that still fails
// after its retries is reported in the result; the others proceed.
func (u *DownloadUseCase) Download(ctx context.Context, progress ProgressFunc) (*DownloadResult, error) {
	docs, err := port.Collect(u.store.FetchAll(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	result := &DownloadResult{}
	var pending []domain.Document
	for _, d := range docs {
		if d.Metadata.StoragePath != "" {
			result.Skipped++
			continue
		}
		pending = append(pending, d)
	}

	var done atomic.Int64
	total := len(pending)
	_, errs := workerpool.MapEach(ctx, u.pool, pending, func(ctx context.Context, d domain.Document) (struct{}, error) {
		err := u.downloadOne(ctx, d)
		progress.report(int(done.Add(1)), total, d.Key())
		return struct{}{}, err
	})

	for i, err := range errs {
		d := pending[i]
		if err == nil {
			result.Downloaded++
			continue
		}
		result.Failed++
		result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", d.Key(), err))
		u.logger.Warn("download failed",
			zap.String("doc_id", d.Metadata.DocID),
			zap.String("doc_type", string(d.DocType)),
			zap.Error(err))
	}

	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

func (u *DownloadUseCase) downloadOne(ctx context.Context, d domain.Document) error {
	var ref string
	op := func() error {
		attemptCtx, cancel := u.attemptContext(ctx)
		defer cancel()

		r, err := u.fetcher.Fetch(attemptCtx, d.Metadata.DownloadURL, d.DocType, d.Metadata.DocID)
		if err != nil {
			if !retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		ref = r
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(u.backoff(), uint64(u.attempts-1)), ctx)
	notify := func(err error, wait time.Duration) {
		u.logger.Debug("retrying download",
			zap.String("doc_id", d.Metadata.DocID),
			zap.Duration("wait", wait),
			zap.Error(err))
	}
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return err
	}

	if err := u.store.SetStoragePath(ctx, d.Key(), ref); err != nil {
		return fmt.Errorf("failed to record storage path: %w", err)
	}
	return nil
}

func (u *DownloadUseCase) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if u.timeout > 0 {
		return context.WithTimeout(ctx, u.timeout)
	}
	return context.WithCancel(ctx)
}

// retryable treats errors that classify themselves as final and any
// cancellation of the caller as permanent. Everything else is assumed
// transient.
func retryable(err error) bool {
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return !errors.Is(err, context.Canceled)
}
