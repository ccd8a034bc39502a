package scrape

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"legisrag/internal/domain"
)

func TestExtractBills(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	e := NewExtractor(WithLogger(zap.New(core)))

	docs, err := e.Extract(context.Background(), map[domain.DocType]string{
		domain.DocTypeBills: "testdata/bills.html",
	})
	if err != nil {
		t.Fatal(err)
	}

	// two malformed rows are skipped, not fatal
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}
	if logs.FilterMessage("skipping malformed row").Len() != 2 {
		t.Errorf("expected 2 skip warnings, got %d", logs.Len())
	}

	d := docs[0]
	if d.ID != "bills/4021" || d.Metadata.DocID != "4021" {
		t.Errorf("unexpected identity %q / %q", d.ID, d.Metadata.DocID)
	}
	if d.Title != "Electoral Act (Amendment) Bill, 2024" {
		t.Errorf("unexpected title %q", d.Title)
	}
	if d.Metadata.Chamber != "Senate" || d.Metadata.CommitteeReferred != "Committee on INEC" {
		t.Errorf("unexpected metadata %+v", d.Metadata)
	}
	if d.Metadata.DownloadURL != "https://nass.gov.ng/documents/billdownload/4021.pdf" {
		t.Errorf("unexpected download url %q", d.Metadata.DownloadURL)
	}
	if d.Metadata.Dates["second_reading"] != "2024-03-12" {
		t.Errorf("unexpected dates %v", d.Metadata.Dates)
	}
	if _, ok := d.Metadata.Dates["third_reading"]; ok {
		t.Error("empty dates should be dropped")
	}

	// trailing slash
	if docs[1].Metadata.DocID != "4022" {
		t.Errorf("expected doc id 4022, got %q", docs[1].Metadata.DocID)
	}
}

func TestExtractGeneralListing(t *testing.T) {
	e := NewExtractor()

	docs, err := e.Extract(context.Background(), map[domain.DocType]string{
		domain.DocTypeHansard: "testdata/hansard.html",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 document, got %d", len(docs))
	}

	d := docs[0]
	if d.DocType != domain.DocTypeHansard || d.Metadata.DocID != "hansard-0317.pdf" {
		t.Errorf("unexpected document %+v", d)
	}
	if d.Metadata.DownloadURL != d.URL {
		t.Error("non-bill documents download from their own link")
	}
	if d.Metadata.Session != "First Session" || d.Metadata.Parliament != "10th Assembly" {
		t.Errorf("unexpected metadata %+v", d.Metadata)
	}
}

func TestExtractOverHTTP(t *testing.T) {
	page, err := os.ReadFile("testdata/hansard.html")
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(page)
	}))
	defer srv.Close()

	e := NewExtractor(WithHTTPClient(srv.Client()))
	docs, err := e.Extract(context.Background(), map[domain.DocType]string{
		domain.DocTypeHansard: srv.URL + "/hansard",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 {
		t.Errorf("expected 1 document, got %d", len(docs))
	}
}

func TestExtractMissingSource(t *testing.T) {
	e := NewExtractor()
	_, err := e.Extract(context.Background(), map[domain.DocType]string{
		domain.DocTypeVotesAndProceedings: "testdata/missing-*.html",
	})
	if err == nil {
		t.Error("expected error for a source matching no files")
	}
}

func TestLastSegment(t *testing.T) {
	cases := map[string]string{
		"https://nass.gov.ng/documents/bills/12":     "12",
		"https://nass.gov.ng/documents/bills/12/":    "12",
		"https://nass.gov.ng/documents/bills/12?x=1": "12",
		"/documents/order_paper/op-2024-05-02":       "op-2024-05-02",
		"https://nass.gov.ng/":                       "",
	}
	for in, want := range cases {
		if got := lastSegment(in); got != want {
			t.Errorf("lastSegment(%q) = %q, want %q", in, got, want)
		}
	}
}
