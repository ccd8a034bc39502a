package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"legisrag/internal/adapter/cache"
	"legisrag/internal/domain"
)

func TestPDFFetcherReusesStoredPDF(t *testing.T) {
	ctx := context.Background()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte("%PDF-1.4 bill"))
	}))
	defer srv.Close()

	c, _ := cache.NewMemoryCache(16)
	f := NewPDFFetcher(c, srv.Client(), 0, nil)

	ref, err := f.Fetch(ctx, srv.URL+"/4021.pdf", domain.DocTypeBills, "4021")
	if err != nil {
		t.Fatal(err)
	}
	if ref != "pdf_files/bills/4021.pdf" {
		t.Errorf("unexpected ref %q", ref)
	}

	again, err := f.Fetch(ctx, srv.URL+"/4021.pdf", domain.DocTypeBills, "4021")
	if err != nil {
		t.Fatal(err)
	}
	if again != ref {
		t.Errorf("second fetch returned %q, want %q", again, ref)
	}
	if hits.Load() != 1 {
		t.Errorf("expected one network fetch, got %d", hits.Load())
	}

	res, _ := c.Get(ctx, PDFBucket, PDFKey(domain.DocTypeBills, "4021"))
	if string(res.Payload()) != "%PDF-1.4 bill" {
		t.Errorf("unexpected stored payload %q", res.Payload())
	}
}

func TestPDFFetcherStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c, _ := cache.NewMemoryCache(16)
	f := NewPDFFetcher(c, srv.Client(), 0, nil)

	_, err := f.Fetch(context.Background(), srv.URL+"/missing.pdf", domain.DocTypeHansard, "missing")

	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if se.Retryable() {
		t.Error("404 must not be retryable")
	}
	if ok, _ := c.Has(context.Background(), PDFBucket, PDFKey(domain.DocTypeHansard, "missing")); ok {
		t.Error("failed download must not be cached")
	}
}

func TestPDFFetcherMissingURL(t *testing.T) {
	c, _ := cache.NewMemoryCache(16)
	f := NewPDFFetcher(c, nil, 0, nil)

	_, err := f.Fetch(context.Background(), "", domain.DocTypeBills, "4022")

	var me *MissingURLError
	if !errors.As(err, &me) {
		t.Fatalf("expected MissingURLError, got %v", err)
	}
	if me.Retryable() {
		t.Error("a missing download url must not be retryable")
	}
}

func TestPDFFetcherSizeLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 100))
	}))
	defer srv.Close()

	c, _ := cache.NewMemoryCache(16)
	f := NewPDFFetcher(c, srv.Client(), 10, nil)

	if _, err := f.Fetch(context.Background(), srv.URL, domain.DocTypeBills, "big"); err == nil {
		t.Error("expected size limit error")
	}
}

func TestTextExtractorErrors(t *testing.T) {
	ctx := context.Background()
	c, _ := cache.NewMemoryCache(16)
	x := NewTextExtractor(c)

	if _, err := x.Extract(ctx, "no-slash"); err == nil {
		t.Error("expected error for invalid storage path")
	}
	if _, err := x.Extract(ctx, "pdf_files/bills/none.pdf"); err == nil {
		t.Error("expected error for missing pdf")
	}

	c.Put(ctx, PDFBucket, "bills/junk.pdf", []byte("not a pdf"))
	if _, err := x.Extract(ctx, "pdf_files/bills/junk.pdf"); err == nil {
		t.Error("expected error for malformed pdf")
	}
}

func TestNormalize(t *testing.T) {
	in := "  A  BILL\n\n\n\nFOR   an Act \n   \nto amend  "
	want := "A BILL\n\nFOR an Act\n\nto amend"
	if got := normalize(in); got != want {
		t.Errorf("normalize = %q, want %q", got, want)
	}
}
