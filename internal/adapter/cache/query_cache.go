package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"legisrag/internal/port"
)

// CachedEmbedder remembers recent query vectors. Keys include the model
// name, so switching models never returns a stale vector.
type CachedEmbedder struct {
	next  port.Embedder
	cache *expirable.LRU[string, []float32]
}

// NewCachedEmbedder wraps next. A non-positive size or ttl disables caching.
func NewCachedEmbedder(next port.Embedder, size int, ttl time.Duration) port.Embedder {
	if size <= 0 || ttl <= 0 {
		return next
	}
	return &CachedEmbedder{
		next:  next,
		cache: expirable.NewLRU[string, []float32](size, nil, ttl),
	}
}

func cacheKey(model, text string) string {
	hash := sha256.Sum256([]byte(model + "\x00" + text))
	return hex.EncodeToString(hash[:16])
}

// Embed serves cached texts from memory and sends only the rest on.
func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	model := c.next.ModelName()

	var missing []string
	var missingIdx []int
	for i, text := range texts {
		if v, ok := c.cache.Get(cacheKey(model, text)); ok {
			out[i] = clone(v)
			continue
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}

	if len(missing) == 0 {
		return out, nil
	}

	vectors, err := c.next.Embed(ctx, missing)
	if err != nil {
		return nil, err
	}
	for j, v := range vectors {
		if j >= len(missingIdx) {
			break
		}
		out[missingIdx[j]] = v
		c.cache.Add(cacheKey(model, missing[j]), clone(v))
	}

	return out, nil
}

func (c *CachedEmbedder) Dimension() int {
	return c.next.Dimension()
}

func (c *CachedEmbedder) ModelName() string {
	return c.next.ModelName()
}

// Len returns the number of cached vectors.
func (c *CachedEmbedder) Len() int {
	return c.cache.Len()
}

func clone(v []float32) []float32 {
	if v == nil {
		return nil
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
