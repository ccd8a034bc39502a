package cache

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"legisrag/internal/port"
)

// Aside returns the cached payload for bucket/key, or computes, stores and
// returns it. A failing cache read is treated as a miss and a failing write
// is logged; neither fails the caller. The bool reports a cache hit.
func Aside(ctx context.Context, c port.ArtifactCache, logger *zap.Logger, bucket, key string, compute func(context.Context) ([]byte, error)) ([]byte, bool, error) {
	res, err := c.Get(ctx, bucket, key)
	if err != nil {
		logger.Warn("cache read failed, recomputing", zap.String("uri", c.URI(bucket, key)), zap.Error(err))
		res = port.Miss()
	}
	if res.IsHit() {
		return res.Payload(), true, nil
	}

	payload, err := compute(ctx)
	if err != nil {
		return nil, false, err
	}

	store(ctx, c, logger, bucket, key, payload)
	return payload, false, nil
}

// AsideJSON is Aside for JSON-encoded values. A hit that does not decode
// counts as corrupt: the value is recomputed and the entry rewritten.
func AsideJSON[T any](ctx context.Context, c port.ArtifactCache, logger *zap.Logger, bucket, key string, compute func(context.Context) (T, error)) (T, bool, error) {
	res, err := c.Get(ctx, bucket, key)
	if err != nil {
		logger.Warn("cache read failed, recomputing", zap.String("uri", c.URI(bucket, key)), zap.Error(err))
		res = port.Miss()
	}
	if res.IsHit() {
		var v T
		err := json.Unmarshal(res.Payload(), &v)
		if err == nil {
			return v, true, nil
		}
		logger.Warn("corrupt cache entry, recomputing", zap.String("uri", c.URI(bucket, key)), zap.Error(err))
	}

	v, err := compute(ctx)
	if err != nil {
		var zero T
		return zero, false, err
	}

	payload, err := json.Marshal(v)
	if err != nil {
		logger.Warn("cannot encode value for cache", zap.String("uri", c.URI(bucket, key)), zap.Error(err))
		return v, false, nil
	}
	store(ctx, c, logger, bucket, key, payload)
	return v, false, nil
}

func store(ctx context.Context, c port.ArtifactCache, logger *zap.Logger, bucket, key string, payload []byte) {
	if err := c.Put(ctx, bucket, key, payload); err != nil {
		logger.Warn("cache write failed", zap.String("uri", c.URI(bucket, key)), zap.Error(err))
		return
	}
	logger.Debug("cache write", zap.String("uri", c.URI(bucket, key)), zap.Int("bytes", len(payload)))
}
