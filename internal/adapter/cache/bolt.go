package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.etcd.io/bbolt"

	"legisrag/internal/port"
)

// BoltCache keeps artifacts in a local bbolt file, one bbolt bucket per
// cache bucket.
type BoltCache struct {
	db   *bbolt.DB
	path string
}

func NewBoltCache(path string) (*BoltCache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache db: %w", err)
	}
	return &BoltCache{db: db, path: path}, nil
}

func (c *BoltCache) Get(ctx context.Context, bucket, key string) (port.CacheResult, error) {
	var payload []byte
	err := c.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(key)); v != nil {
			payload = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return port.Miss(), err
	}
	if payload == nil {
		return port.Miss(), nil
	}
	return port.Hit(payload), nil
}

func (c *BoltCache) Put(ctx context.Context, bucket, key string, payload []byte) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return err
		}
		return b.Put([]byte(key), payload)
	})
}

func (c *BoltCache) Has(ctx context.Context, bucket, key string) (bool, error) {
	var found bool
	err := c.db.View(func(tx *bbolt.Tx) error {
		if b := tx.Bucket([]byte(bucket)); b != nil {
			found = b.Get([]byte(key)) != nil
		}
		return nil
	})
	return found, err
}

func (c *BoltCache) URI(bucket, key string) string {
	return "bolt://" + c.path + "#" + bucket + "/" + key
}

func (c *BoltCache) Close() error {
	return c.db.Close()
}
