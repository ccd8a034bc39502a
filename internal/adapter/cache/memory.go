package cache

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"legisrag/internal/port"
)

// MemoryCache is a size-bounded in-process artifact cache.
type MemoryCache struct {
	entries *lru.Cache[string, []byte]
}

func NewMemoryCache(size int) (*MemoryCache, error) {
	if size <= 0 {
		size = 1024
	}
	entries, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, err
	}
	return &MemoryCache{entries: entries}, nil
}

func memKey(bucket, key string) string {
	return bucket + "\x00" + key
}

func (c *MemoryCache) Get(ctx context.Context, bucket, key string) (port.CacheResult, error) {
	if v, ok := c.entries.Get(memKey(bucket, key)); ok {
		return port.Hit(append([]byte(nil), v...)), nil
	}
	return port.Miss(), nil
}

func (c *MemoryCache) Put(ctx context.Context, bucket, key string, payload []byte) error {
	c.entries.Add(memKey(bucket, key), append([]byte(nil), payload...))
	return nil
}

func (c *MemoryCache) Has(ctx context.Context, bucket, key string) (bool, error) {
	return c.entries.Contains(memKey(bucket, key)), nil
}

func (c *MemoryCache) URI(bucket, key string) string {
	return "mem://" + bucket + "/" + key
}

func (c *MemoryCache) Close() error {
	c.entries.Purge()
	return nil
}
