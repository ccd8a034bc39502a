package port

import (
	"context"
	"strings"
)

// CacheResult is either a hit carrying a payload or a miss.
type CacheResult struct {
	payload []byte
	hit     bool
}

// Hit wraps a cached payload.
func Hit(payload []byte) CacheResult {
	return CacheResult{payload: payload, hit: true}
}

// Miss reports an absent entry.
func Miss() CacheResult {
	return CacheResult{}
}

func (r CacheResult) IsHit() bool { return r.hit }

func (r CacheResult) Payload() []byte { return r.payload }

// ArtifactCache is a bucket+key blob store used cache-aside.
// A hit is trusted as is; freshness is encoded in the key.
type ArtifactCache interface {
	Get(ctx context.Context, bucket, key string) (CacheResult, error)

	Put(ctx context.Context, bucket, key string, payload []byte) error

	// Has reports presence without transferring the payload.
	Has(ctx context.Context, bucket, key string) (bool, error)

	// URI renders a human readable location for logs.
	URI(bucket, key string) string

	Close() error
}

// BlobRef points at an artifact cache entry. Its string form is stored as
// a document's storage_path.
type BlobRef struct {
	Bucket string
	Key    string
}

func (r BlobRef) String() string {
	return r.Bucket + "/" + r.Key
}

// ParseBlobRef parses the "bucket/key" form produced by BlobRef.String.
func ParseBlobRef(s string) (BlobRef, bool) {
	bucket, key, ok := strings.Cut(s, "/")
	if !ok || bucket == "" || key == "" {
		return BlobRef{}, false
	}
	return BlobRef{Bucket: bucket, Key: key}, true
}
