package retriever

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"legisrag/internal/adapter/analyzer"
	"legisrag/internal/domain"
)

func hit(id, text string, score float64) domain.SearchHit {
	return domain.SearchHit{
		ID:       id,
		Score:    score,
		Metadata: map[string]string{domain.MetaText: text},
	}
}

func TestMMRReranking(t *testing.T) {
	reranker := NewMMRReranker(0.7, 0.9, analyzer.NewTokenizer().Terms)

	candidates := []domain.SearchHit{
		hit("c1", "electoral commission voter registration deadline", 1.0),
		hit("c2", "electoral commission voter registration centres", 0.9),
		hit("c3", "petroleum revenue sharing formula", 0.8),
		hit("c4", "electoral tribunal petition appeal", 0.7),
	}

	results := reranker.Rerank(candidates, 3)

	if len(results) == 0 {
		t.Fatal("expected results from MMR reranking")
	}

	if results[0].ID != "c1" {
		t.Errorf("expected c1 as first result, got %s", results[0].ID)
	}

	c3Idx, c2Idx := -1, -1
	for i, r := range results {
		if r.ID == "c3" {
			c3Idx = i
		}
		if r.ID == "c2" {
			c2Idx = i
		}
	}

	if c3Idx == -1 || (c2Idx != -1 && c2Idx < c3Idx) {
		t.Error("expected MMR to prioritize diverse results (c3) over similar results (c2)")
	}
}

func TestMMRDeduplication(t *testing.T) {
	reranker := NewMMRReranker(0.5, 0.3, strings.Fields)

	candidates := []domain.SearchHit{
		hit("c1", "a b c", 1.0),
		hit("c2", "a b c", 0.9),
	}

	results := reranker.Rerank(candidates, 2)

	if len(results) != 1 {
		t.Errorf("expected 1 result after dedup, got %d", len(results))
	}

	if results[0].ID != "c1" {
		t.Errorf("expected c1 (highest score), got %s", results[0].ID)
	}
}

func TestMMREmptyCandidates(t *testing.T) {
	reranker := NewMMRReranker(0.7, 0.8, strings.Fields)

	results := reranker.Rerank(nil, 10)
	if results != nil {
		t.Errorf("expected nil for empty candidates, got %v", results)
	}

	results = reranker.Rerank([]domain.SearchHit{}, 10)
	if results != nil {
		t.Errorf("expected nil for empty slice, got %v", results)
	}
}

type stubIndex struct {
	hits []domain.SearchHit
	k    int
}

func (s *stubIndex) Rebuild(context.Context, []string, [][]float32, []map[string]string) error {
	return nil
}

func (s *stubIndex) Add(context.Context, []string, [][]float32, []map[string]string) error {
	return nil
}

func (s *stubIndex) Search(_ context.Context, _ []float32, k int) ([]domain.SearchHit, error) {
	s.k = k
	if k > len(s.hits) {
		k = len(s.hits)
	}
	return s.hits[:k], nil
}

func (s *stubIndex) Count() int { return len(s.hits) }

type unitEmbedder struct{}

func (unitEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1}
	}
	return out, nil
}

func (unitEmbedder) Dimension() int    { return 1 }
func (unitEmbedder) ModelName() string { return "unit" }

func TestSemanticRetriever(t *testing.T) {
	idx := &stubIndex{hits: []domain.SearchHit{
		hit("a", "alpha", 0.9), hit("b", "beta", 0.8), hit("c", "gamma", 0.7),
	}}

	r := NewSemanticRetriever(idx, unitEmbedder{}, nil)
	hits, err := r.Search(context.Background(), "status of bill", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 || idx.k != 2 {
		t.Errorf("expected 2 hits from a k=2 search, got %d (k=%d)", len(hits), idx.k)
	}

	// with a reranker the index is over-fetched
	r = NewSemanticRetriever(idx, unitEmbedder{}, NewMMRReranker(0.7, 0.9, strings.Fields))
	hits, err = r.Search(context.Background(), "status of bill", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 || idx.k != 6 {
		t.Errorf("expected 2 hits from a k=6 search, got %d (k=%d)", len(hits), idx.k)
	}

	if _, err := r.Search(context.Background(), "   ", 2); !errors.Is(err, domain.ErrEmptyQuery) {
		t.Errorf("expected ErrEmptyQuery, got %v", err)
	}
}

type stalledEmbedder struct{ unitEmbedder }

func (stalledEmbedder) Embed(ctx context.Context, _ []string) ([][]float32, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestSemanticRetrieverQueryTimeout(t *testing.T) {
	idx := &stubIndex{hits: []domain.SearchHit{hit("a", "alpha", 0.9)}}
	r := NewSemanticRetriever(idx, stalledEmbedder{}, nil, WithQueryTimeout(20*time.Millisecond))

	_, err := r.Search(context.Background(), "status of bill", 2)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
}

func TestJaccardSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a        []string
		b        []string
		expected float64
	}{
		{
			name:     "identical",
			a:        []string{"a", "b", "c"},
			b:        []string{"a", "b", "c"},
			expected: 1.0,
		},
		{
			name:     "no overlap",
			a:        []string{"a", "b", "c"},
			b:        []string{"d", "e", "f"},
			expected: 0.0,
		},
		{
			name:     "half overlap",
			a:        []string{"a", "b"},
			b:        []string{"b", "c"},
			expected: 1.0 / 3.0,
		},
		{
			name:     "empty a",
			a:        []string{},
			b:        []string{"a", "b"},
			expected: 0.0,
		},
		{
			name:     "empty b",
			a:        []string{"a", "b"},
			b:        []string{},
			expected: 0.0,
		},
		{
			name:     "both empty",
			a:        []string{},
			b:        []string{},
			expected: 1.0,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := JaccardSimilarity(tc.a, tc.b)
			if !floatEquals(result, tc.expected, 0.001) {
				t.Errorf("JaccardSimilarity(%v, %v) = %f, expected %f", tc.a, tc.b, result, tc.expected)
			}
		})
	}
}

func floatEquals(a, b, tolerance float64) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff < tolerance
}
