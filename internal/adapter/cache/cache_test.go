package cache

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"legisrag/internal/port"
)

func backends(t *testing.T) map[string]port.ArtifactCache {
	t.Helper()

	bolt, err := NewBoltCache(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { bolt.Close() })

	mem, err := NewMemoryCache(16)
	if err != nil {
		t.Fatal(err)
	}

	return map[string]port.ArtifactCache{
		"bolt":   bolt,
		"memory": mem,
		"s3":     newS3Cache(newFakeS3(), "nass-bot", "artifacts"),
	}
}

func TestCacheBackends(t *testing.T) {
	ctx := context.Background()

	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			res, err := c.Get(ctx, "pdf_files", "bills/1.pdf")
			if err != nil {
				t.Fatal(err)
			}
			if res.IsHit() {
				t.Fatal("expected miss on empty cache")
			}
			if ok, _ := c.Has(ctx, "pdf_files", "bills/1.pdf"); ok {
				t.Fatal("Has reported a missing entry")
			}

			if err := c.Put(ctx, "pdf_files", "bills/1.pdf", []byte("%PDF-1.4")); err != nil {
				t.Fatal(err)
			}

			res, err = c.Get(ctx, "pdf_files", "bills/1.pdf")
			if err != nil {
				t.Fatal(err)
			}
			if !res.IsHit() || string(res.Payload()) != "%PDF-1.4" {
				t.Errorf("unexpected result hit=%v payload=%q", res.IsHit(), res.Payload())
			}
			if ok, _ := c.Has(ctx, "pdf_files", "bills/1.pdf"); !ok {
				t.Error("Has missed a stored entry")
			}

			// buckets are separate namespaces
			if res, _ := c.Get(ctx, "snapshots", "bills/1.pdf"); res.IsHit() {
				t.Error("entry leaked into another bucket")
			}
		})
	}
}

func TestS3CacheObjectKey(t *testing.T) {
	c := newS3Cache(newFakeS3(), "nass-bot", "/artifacts/")
	if got := c.URI("pdf_files", "bills/1.pdf"); got != "s3://nass-bot/artifacts/pdf_files/bills/1.pdf" {
		t.Errorf("unexpected uri %s", got)
	}
}

func TestAsideComputesOnce(t *testing.T) {
	ctx := context.Background()
	c, _ := NewMemoryCache(16)

	calls := 0
	compute := func(context.Context) ([]byte, error) {
		calls++
		return []byte("chunks"), nil
	}

	for i := 0; i < 3; i++ {
		payload, hit, err := Aside(ctx, c, zap.NewNop(), "chunks", "v1-abc", compute)
		if err != nil {
			t.Fatal(err)
		}
		if string(payload) != "chunks" {
			t.Errorf("unexpected payload %q", payload)
		}
		if hit != (i > 0) {
			t.Errorf("call %d: hit=%v", i, hit)
		}
	}
	if calls != 1 {
		t.Errorf("expected compute once, got %d", calls)
	}
}

func TestAsideComputeError(t *testing.T) {
	ctx := context.Background()
	c, _ := NewMemoryCache(16)

	boom := errors.New("boom")
	_, _, err := Aside(ctx, c, zap.NewNop(), "chunks", "k", func(context.Context) ([]byte, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if ok, _ := c.Has(ctx, "chunks", "k"); ok {
		t.Error("failed computation must not be cached")
	}
}

func TestAsideJSONRewritesCorruptEntry(t *testing.T) {
	ctx := context.Background()
	c, _ := NewMemoryCache(16)

	if err := c.Put(ctx, "snapshots", "docs", []byte("{not json")); err != nil {
		t.Fatal(err)
	}

	calls := 0
	compute := func(context.Context) ([]string, error) {
		calls++
		return []string{"bills/1", "bills/2"}, nil
	}

	v, hit, err := AsideJSON(ctx, c, zap.NewNop(), "snapshots", "docs", compute)
	if err != nil {
		t.Fatal(err)
	}
	if hit || calls != 1 || len(v) != 2 {
		t.Fatalf("corrupt entry should be recomputed: hit=%v calls=%d v=%v", hit, calls, v)
	}

	v, hit, err = AsideJSON(ctx, c, zap.NewNop(), "snapshots", "docs", compute)
	if err != nil {
		t.Fatal(err)
	}
	if !hit || calls != 1 || v[1] != "bills/2" {
		t.Errorf("rewritten entry should be a hit: hit=%v calls=%d", hit, calls)
	}
}

type countingEmbedder struct {
	calls int
	texts int
}

func (e *countingEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.calls++
	e.texts += len(texts)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t))}
	}
	return out, nil
}

func (e *countingEmbedder) Dimension() int    { return 1 }
func (e *countingEmbedder) ModelName() string { return "counting" }

func TestCachedEmbedder(t *testing.T) {
	ctx := context.Background()
	next := &countingEmbedder{}
	emb := NewCachedEmbedder(next, 8, time.Minute)

	if _, err := emb.Embed(ctx, []string{"status of bill x"}); err != nil {
		t.Fatal(err)
	}
	vecs, err := emb.Embed(ctx, []string{"status of bill x", "who sponsored it"})
	if err != nil {
		t.Fatal(err)
	}

	if next.texts != 2 {
		t.Errorf("expected 2 texts sent upstream, got %d", next.texts)
	}
	if vecs[0][0] != float32(len("status of bill x")) || vecs[1][0] != float32(len("who sponsored it")) {
		t.Errorf("vectors out of order: %v", vecs)
	}

	if NewCachedEmbedder(next, 0, time.Minute) != port.Embedder(next) {
		t.Error("zero size should disable caching")
	}
}

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[*in.Bucket+"/"+*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[*in.Bucket+"/"+*in.Key]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}
