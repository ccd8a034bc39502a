package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"legisrag/internal/domain"
	"legisrag/internal/port"
	"legisrag/internal/workerpool"
)

// Stage embeds chunks in fixed-size batches on a worker pool. Vectors come
// back in chunk order no matter which batch finishes first.
type Stage struct {
	embedder  port.Embedder
	pool      *workerpool.Pool
	batchSize int
	attempts  int
	timeout   time.Duration
	logger    *zap.Logger
}

type StageOption func(*Stage)

func WithBatchSize(n int) StageOption {
	return func(s *Stage) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithAttempts sets how many times a batch is tried before the stage fails.
func WithAttempts(n int) StageOption {
	return func(s *Stage) {
		if n > 0 {
			s.attempts = n
		}
	}
}

// WithTimeout bounds a single batch request.
func WithTimeout(d time.Duration) StageOption {
	return func(s *Stage) {
		s.timeout = d
	}
}

func WithLogger(l *zap.Logger) StageOption {
	return func(s *Stage) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewStage(embedder port.Embedder, pool *workerpool.Pool, opts ...StageOption) *Stage {
	s := &Stage{
		embedder:  embedder,
		pool:      pool,
		batchSize: 64,
		attempts:  3,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type batch struct {
	index int
	texts []string
}

// Encode returns one vector per chunk, aligned with chunks. Any batch that
// still fails after its retries fails the whole call; no partial result is
// returned.
func (s *Stage) Encode(ctx context.Context, chunks []domain.Chunk) ([]domain.EmbeddingVector, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	var batches []batch
	for start := 0; start < len(chunks); start += s.batchSize {
		end := start + s.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		texts := make([]string, 0, end-start)
		for _, ch := range chunks[start:end] {
			texts = append(texts, ch.Text)
		}
		batches = append(batches, batch{index: len(batches), texts: texts})
	}

	results, err := workerpool.Map(ctx, s.pool, batches, s.embedBatch)
	if err != nil {
		return nil, err
	}

	model := s.embedder.ModelName()
	dim := s.embedder.Dimension()
	out := make([]domain.EmbeddingVector, 0, len(chunks))
	for _, vectors := range results {
		for _, v := range vectors {
			ch := chunks[len(out)]
			if len(v) != dim {
				return nil, fmt.Errorf("chunk %s: got %d values, want %d: %w", ch.ID, len(v), dim, domain.ErrDimensionMismatch)
			}
			out = append(out, domain.EmbeddingVector{ChunkID: ch.ID, Vector: v, ModelID: model})
		}
	}
	if len(out) != len(chunks) {
		return nil, fmt.Errorf("embedded %d of %d chunks: %w", len(out), len(chunks), domain.ErrLengthMismatch)
	}

	return out, nil
}

func (s *Stage) embedBatch(ctx context.Context, b batch) ([][]float32, error) {
	var vectors [][]float32

	op := func() error {
		callCtx := ctx
		if s.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, s.timeout)
			defer cancel()
		}

		v, err := s.embedder.Embed(callCtx, b.texts)
		if err != nil {
			if !retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		if len(v) != len(b.texts) {
			return backoff.Permanent(fmt.Errorf("got %d vectors for %d texts: %w", len(v), len(b.texts), domain.ErrLengthMismatch))
		}
		vectors = v
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxInterval = 5 * time.Second

	notify := func(err error, wait time.Duration) {
		s.logger.Warn("embedding batch failed, retrying",
			zap.Int("batch", b.index),
			zap.Int("size", len(b.texts)),
			zap.Duration("wait", wait),
			zap.Error(err))
	}

	err := backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(s.attempts-1)), ctx), notify)
	if err != nil {
		return nil, fmt.Errorf("embedding batch %d: %w", b.index, err)
	}
	return vectors, nil
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return true
}
