package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"legisrag/internal/adapter/analyzer"
	"legisrag/internal/adapter/cache"
	"legisrag/internal/adapter/chunker"
	"legisrag/internal/adapter/embedding"
	"legisrag/internal/adapter/fetch"
	"legisrag/internal/adapter/memstore"
	"legisrag/internal/adapter/retriever"
	"legisrag/internal/adapter/store"
	"legisrag/internal/domain"
	"legisrag/internal/port"
	"legisrag/internal/workerpool"
)

const testDim = 64

func bill(id, title, text, storagePath string) domain.Document {
	return domain.Document{
		Title:   title,
		URL:     "https://example.gov/bills/" + id,
		DocType: domain.DocTypeBills,
		Metadata: domain.Metadata{
			Chamber:     "Senate",
			DocID:       id,
			DownloadURL: "https://example.gov/" + id + ".pdf",
			StoragePath: storagePath,
		},
		FullText: text,
	}
}

type fakeExtractor struct {
	docs []domain.Document
	err  error
}

func (f *fakeExtractor) Extract(context.Context, map[domain.DocType]string) ([]domain.Document, error) {
	return f.docs, f.err
}

type fakeFetcher struct {
	mu       sync.Mutex
	fail     map[string]error
	attempts map[string]int
}

func (f *fakeFetcher) Fetch(_ context.Context, _ string, docType domain.DocType, docID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts[docID]++
	if err := f.fail[docID]; err != nil {
		return "", err
	}
	return fetch.PDFBucket + "/" + fetch.PDFKey(docType, docID), nil
}

type fakeText map[string]string

func (f fakeText) Extract(_ context.Context, storagePath string) (string, error) {
	text, ok := f[storagePath]
	if !ok {
		return "", fmt.Errorf("malformed pdf")
	}
	return text, nil
}

type fakeLLM struct {
	answer string
	err    error
	calls  int
	user   string
}

func (f *fakeLLM) Generate(_ context.Context, _, user string) (string, error) {
	f.calls++
	f.user = user
	return f.answer, f.err
}

func (f *fakeLLM) ModelName() string { return "fake" }

type fakeSink struct {
	events []domain.QueryEvent
	err    error
}

func (f *fakeSink) Record(_ context.Context, ev domain.QueryEvent) error {
	f.events = append(f.events, ev)
	return f.err
}

type pipeline struct {
	docs  *memstore.MemoryStore
	cache *cache.MemoryCache
	index *store.BoltVectorIndex
	embed port.Embedder
	uc    *IndexUseCase
}

func newPipeline(t *testing.T, text port.TextExtractor) *pipeline {
	t.Helper()

	pool, err := workerpool.New(4)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(pool.Release)

	artifacts, err := cache.NewMemoryCache(64)
	if err != nil {
		t.Fatal(err)
	}

	embedder := embedding.NewHashEmbedder(testDim)
	index, err := store.OpenVectorIndex(t.TempDir(), "test", store.Manifest{Model: embedder.ModelName(), Dimension: testDim})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { index.Close() })

	docs := memstore.NewMemoryStore(150)
	stage := embedding.NewStage(embedder, pool, embedding.WithBatchSize(2))
	chk := chunker.NewTokenChunker(500, 100, analyzer.NewTokenizer())

	if text == nil {
		text = fakeText{}
	}

	return &pipeline{
		docs:  docs,
		cache: artifacts,
		index: index,
		embed: embedder,
		uc:    NewIndexUseCase(docs, artifacts, text, chk, stage, index, pool, "v1-test", zap.NewNop()),
	}
}

func TestScrapeStoresAndSnapshots(t *testing.T) {
	p := newPipeline(t, nil)
	extracted := []domain.Document{
		bill("b1", "Bill One", "", ""),
		bill("b2", "Bill Two", "", ""),
	}

	uc := NewScrapeUseCase(&fakeExtractor{docs: extracted}, p.docs, p.cache, zap.NewNop())
	result, err := uc.Scrape(context.Background(), map[domain.DocType]string{domain.DocTypeBills: "bills.html"})
	if err != nil {
		t.Fatal(err)
	}

	if result.Extracted != 2 || result.Inserted != 2 {
		t.Errorf("expected 2 extracted and inserted, got %d/%d", result.Extracted, result.Inserted)
	}
	if result.ByType[domain.DocTypeBills] != 2 {
		t.Errorf("expected 2 bills, got %d", result.ByType[domain.DocTypeBills])
	}

	res, err := p.cache.Get(context.Background(), SnapshotBucket, ScrapeSnapshotKey)
	if err != nil || !res.IsHit() {
		t.Fatalf("expected a scrape snapshot, got hit=%v err=%v", res.IsHit(), err)
	}
	if !strings.Contains(string(res.Payload()), `"doc_id":"b2"`) {
		t.Errorf("snapshot missing b2: %s", res.Payload())
	}
}

func TestDownloadFailureIsReportedNotFatal(t *testing.T) {
	p := newPipeline(t, nil)
	ctx := context.Background()

	if _, err := p.docs.InsertMany(ctx, []domain.Document{
		bill("ok", "Fine Bill", "", ""),
		bill("broken", "Broken Bill", "", ""),
		bill("done", "Stored Bill", "", "pdf_files/bills/done.pdf"),
	}); err != nil {
		t.Fatal(err)
	}

	pool, err := workerpool.New(10)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Release()

	fetcher := &fakeFetcher{
		fail:     map[string]error{"broken": errors.New("connection reset")},
		attempts: map[string]int{},
	}
	uc := NewDownloadUseCase(p.docs, fetcher, pool, 3, 0, zap.NewNop())
	uc.backoff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }

	var (
		mu       sync.Mutex
		reported int
	)
	result, err := uc.Download(ctx, func(_, total int, _ string) {
		mu.Lock()
		reported = total
		mu.Unlock()
	})
	if err != nil {
		t.Fatal(err)
	}

	if result.Downloaded != 1 || result.Failed != 1 || result.Skipped != 1 {
		t.Errorf("expected 1 downloaded, 1 failed, 1 skipped, got %+v", result)
	}
	if reported != 2 {
		t.Errorf("expected progress over 2 pending documents, got %d", reported)
	}
	if fetcher.attempts["broken"] != 3 {
		t.Errorf("expected 3 attempts for the failing document, got %d", fetcher.attempts["broken"])
	}
	if fetcher.attempts["done"] != 0 {
		t.Error("a document with a storage path must not be fetched again")
	}

	doc, err := p.docs.Get(ctx, domain.DocumentKey(domain.DocTypeBills, "ok"))
	if err != nil {
		t.Fatal(err)
	}
	if doc.Metadata.StoragePath != "pdf_files/bills/ok.pdf" {
		t.Errorf("unexpected storage path %q", doc.Metadata.StoragePath)
	}
}

func TestDownloadPermanentErrorNotRetried(t *testing.T) {
	p := newPipeline(t, nil)
	ctx := context.Background()

	if _, err := p.docs.InsertMany(ctx, []domain.Document{bill("gone", "Gone", "", "")}); err != nil {
		t.Fatal(err)
	}

	pool, err := workerpool.New(2)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Release()

	fetcher := &fakeFetcher{
		fail:     map[string]error{"gone": &fetch.StatusError{URL: "https://example.gov/gone.pdf", StatusCode: 404}},
		attempts: map[string]int{},
	}
	uc := NewDownloadUseCase(p.docs, fetcher, pool, 3, 0, zap.NewNop())
	uc.backoff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }

	result, err := uc.Download(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Failed != 1 || fetcher.attempts["gone"] != 1 {
		t.Errorf("expected one attempt for a 404, got %d (failed=%d)", fetcher.attempts["gone"], result.Failed)
	}
}

func TestIndexThreeBillsAndSearch(t *testing.T) {
	p := newPipeline(t, nil)
	ctx := context.Background()

	if _, err := p.docs.InsertMany(ctx, []domain.Document{
		bill("b1", "Electoral Act Amendment", "electoral act amendment voter registration", ""),
		bill("b2", "Petroleum Industry Bill", "petroleum industry host communities fund", ""),
		bill("b3", "Police Reform Bill", "police reform community policing", ""),
	}); err != nil {
		t.Fatal(err)
	}

	result, err := p.uc.Index(ctx, IndexOptions{})
	if err != nil {
		t.Fatal(err)
	}

	if result.Indexed != 3 || result.Chunks != 3 {
		t.Errorf("expected 3 documents and 3 chunks, got %d/%d", result.Indexed, result.Chunks)
	}
	if p.index.Count() != 3 {
		t.Fatalf("expected 3 index entries, got %d", p.index.Count())
	}

	q, err := p.embed.Embed(ctx, []string{"petroleum host communities"})
	if err != nil {
		t.Fatal(err)
	}
	hits, err := p.index.Search(ctx, q[0], 2)
	if err != nil {
		t.Fatal(err)
	}

	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].Score < hits[1].Score {
		t.Error("hits not ordered by descending score")
	}
	if hits[0].Metadata[domain.MetaDocID] != "b2" {
		t.Errorf("expected b2 first, got %s", hits[0].Metadata[domain.MetaDocID])
	}
	for _, h := range hits {
		for _, k := range domain.CitationKeys {
			if h.Metadata[k] == "" {
				t.Errorf("hit %s missing %s", h.ID, k)
			}
		}
	}
}

func TestIndexLongDocument(t *testing.T) {
	p := newPipeline(t, nil)
	ctx := context.Background()

	words := make([]string, 1200)
	for i := range words {
		words[i] = fmt.Sprintf("w%d", i)
	}
	if _, err := p.docs.InsertMany(ctx, []domain.Document{
		bill("long", "Appropriation Bill", strings.Join(words, " "), ""),
	}); err != nil {
		t.Fatal(err)
	}

	result, err := p.uc.Index(ctx, IndexOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if result.Chunks != 3 || p.index.Count() != 3 {
		t.Errorf("expected 3 chunks for 1200 words, got %d (index %d)", result.Chunks, p.index.Count())
	}
}

func TestIndexExcludesFailedDownloads(t *testing.T) {
	text := fakeText{"pdf_files/bills/b1.pdf": "customs and excise tariff"}
	p := newPipeline(t, text)
	ctx := context.Background()

	if _, err := p.docs.InsertMany(ctx, []domain.Document{
		bill("b1", "Customs Bill", "", "pdf_files/bills/b1.pdf"),
		bill("b2", "Unreadable Bill", "", "pdf_files/bills/b2.pdf"),
		bill("b3", "Never Downloaded", "", ""),
	}); err != nil {
		t.Fatal(err)
	}

	result, err := p.uc.Index(ctx, IndexOptions{})
	if err != nil {
		t.Fatal(err)
	}

	if len(result.Excluded) != 1 || result.Excluded[0] != "bills/b3" {
		t.Errorf("expected bills/b3 excluded, got %v", result.Excluded)
	}
	if result.TitleFallbacks != 1 {
		t.Errorf("expected 1 title fallback, got %d", result.TitleFallbacks)
	}
	if p.index.Count() != 2 {
		t.Errorf("expected 2 index entries, got %d", p.index.Count())
	}
}

func TestIndexUsesSnapshotCache(t *testing.T) {
	p := newPipeline(t, nil)
	ctx := context.Background()

	if _, err := p.docs.InsertMany(ctx, []domain.Document{bill("b1", "First", "first bill text", "")}); err != nil {
		t.Fatal(err)
	}
	first, err := p.uc.Index(ctx, IndexOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if first.SnapshotHit || first.ChunksHit {
		t.Error("first run cannot hit the cache")
	}

	// a document added after the snapshot is invisible until a refresh
	if _, err := p.docs.InsertMany(ctx, []domain.Document{bill("b2", "Second", "second bill text", "")}); err != nil {
		t.Fatal(err)
	}
	second, err := p.uc.Index(ctx, IndexOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if !second.SnapshotHit || !second.ChunksHit || second.Indexed != 1 {
		t.Errorf("expected cached run over 1 document, got %+v", second)
	}

	third, err := p.uc.Index(ctx, IndexOptions{Refresh: true})
	if err != nil {
		t.Fatal(err)
	}
	if third.SnapshotHit || third.Indexed != 2 || p.index.Count() != 2 {
		t.Errorf("expected refreshed run over 2 documents, got %+v", third)
	}
}

func TestIndexBeforeDownloadNeedsRefresh(t *testing.T) {
	p := newPipeline(t, fakeText{"pdf_files/bills/b1.pdf": "finance act provisions"})
	ctx := context.Background()

	if _, err := p.docs.InsertMany(ctx, []domain.Document{bill("b1", "Finance Bill", "", "")}); err != nil {
		t.Fatal(err)
	}

	_, err := p.uc.Index(ctx, IndexOptions{})
	if err == nil || !strings.Contains(err.Error(), "--refresh") {
		t.Fatalf("expected an error naming --refresh, got %v", err)
	}

	if err := p.docs.SetStoragePath(ctx, domain.DocumentKey(domain.DocTypeBills, "b1"), "pdf_files/bills/b1.pdf"); err != nil {
		t.Fatal(err)
	}
	result, err := p.uc.Index(ctx, IndexOptions{Refresh: true})
	if err != nil {
		t.Fatal(err)
	}
	if result.Indexed != 1 || p.index.Count() != 1 {
		t.Errorf("expected the refreshed run to index b1, got %+v", result)
	}
}

func TestIndexIncremental(t *testing.T) {
	p := newPipeline(t, nil)
	ctx := context.Background()

	if _, err := p.docs.InsertMany(ctx, []domain.Document{
		bill("b1", "First", "first bill text", ""),
		bill("b2", "Second", "second bill text", ""),
	}); err != nil {
		t.Fatal(err)
	}

	if _, err := p.uc.Index(ctx, IndexOptions{DocIDs: []string{"b1"}}); err != nil {
		t.Fatal(err)
	}
	if p.index.Count() != 1 {
		t.Fatalf("expected 1 entry, got %d", p.index.Count())
	}

	result, err := p.uc.Index(ctx, IndexOptions{Incremental: true, DocIDs: []string{"bills/b2"}})
	if err != nil {
		t.Fatal(err)
	}
	if result.IndexSize != 2 {
		t.Errorf("expected incremental add to grow the index to 2, got %d", result.IndexSize)
	}
}

func newAnswerer(t *testing.T, llm port.LLM, sink port.EventSink) *AnswerUseCase {
	t.Helper()
	p := newPipeline(t, nil)
	ctx := context.Background()

	doc := domain.Document{
		Title:   "Bill X",
		DocType: domain.DocTypeBills,
		Metadata: domain.Metadata{
			DocID:       "bill-x",
			DownloadURL: "https://example.gov/bill-x.pdf",
		},
		FullText: "Bill X passed second reading and was referred to committee.",
	}
	if _, err := p.docs.InsertMany(ctx, []domain.Document{doc}); err != nil {
		t.Fatal(err)
	}
	if _, err := p.uc.Index(ctx, IndexOptions{}); err != nil {
		t.Fatal(err)
	}

	r := retriever.NewSemanticRetriever(p.index, p.embed, nil)
	return NewAnswerUseCase(r, llm, sink, 2, zap.NewNop())
}

func TestAnswerCitesDownloadURL(t *testing.T) {
	llm := &fakeLLM{answer: " Bill X has passed second reading. "}
	sink := &fakeSink{}
	uc := newAnswerer(t, llm, sink)

	answer, err := uc.Answer(context.Background(), "What is the status of Bill X?", "req-42")
	if err != nil {
		t.Fatal(err)
	}

	if len(answer.Sources) != 1 || answer.Sources[0] != "https://example.gov/bill-x.pdf" {
		t.Errorf("unexpected sources %v", answer.Sources)
	}
	if answer.Answer != "Bill X has passed second reading." {
		t.Errorf("unexpected answer %q", answer.Answer)
	}
	if answer.RequestID != "req-42" {
		t.Errorf("expected request id req-42, got %s", answer.RequestID)
	}
	if !strings.Contains(llm.user, "passed second reading") || !strings.Contains(llm.user, "What is the status of Bill X?") {
		t.Errorf("prompt missing passage or question:\n%s", llm.user)
	}
	if len(sink.events) != 1 || sink.events[0].RequestID != "req-42" {
		t.Errorf("expected one recorded event, got %+v", sink.events)
	}
}

func TestAnswerSinkFailureIgnored(t *testing.T) {
	uc := newAnswerer(t, &fakeLLM{answer: "ok"}, &fakeSink{err: errors.New("sink down")})

	answer, err := uc.Answer(context.Background(), "What is the status of Bill X?", "")
	if err != nil {
		t.Fatalf("sink failure must not fail the answer: %v", err)
	}
	if answer.RequestID == "" {
		t.Error("expected a generated request id")
	}
}

func TestAnswerLLMFailureSurfaces(t *testing.T) {
	llm := &fakeLLM{err: errors.New("upstream 500")}
	uc := newAnswerer(t, llm, nil)

	if _, err := uc.Answer(context.Background(), "What is the status of Bill X?", ""); err == nil {
		t.Fatal("expected the LLM error")
	}
	if llm.calls != 1 {
		t.Errorf("expected exactly one LLM call, got %d", llm.calls)
	}
}

type stalledLLM struct{}

func (stalledLLM) Generate(ctx context.Context, _, _ string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func (stalledLLM) ModelName() string { return "stalled" }

func TestAnswerLLMTimeout(t *testing.T) {
	uc := newAnswerer(t, stalledLLM{}, nil)
	uc.timeout = 20 * time.Millisecond

	_, err := uc.Answer(context.Background(), "What is the status of Bill X?", "")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
}

func TestAnswerEmptyQuery(t *testing.T) {
	llm := &fakeLLM{answer: "unused"}
	uc := newAnswerer(t, llm, nil)

	if _, err := uc.Answer(context.Background(), "  ", ""); !errors.Is(err, domain.ErrEmptyQuery) {
		t.Errorf("expected ErrEmptyQuery, got %v", err)
	}
	if llm.calls != 0 {
		t.Error("LLM must not be called for an empty query")
	}
}

func TestSourcesDeduplicated(t *testing.T) {
	got := Sources([]Passage{
		{Source: "https://example.gov/a.pdf"},
		{Source: ""},
		{Source: "https://example.gov/b.pdf"},
		{Source: "https://example.gov/a.pdf"},
	})
	if len(got) != 2 || got[0] != "https://example.gov/a.pdf" || got[1] != "https://example.gov/b.pdf" {
		t.Errorf("unexpected sources %v", got)
	}
}
