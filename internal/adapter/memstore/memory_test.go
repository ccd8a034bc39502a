package memstore

import (
	"context"
	"testing"

	"legisrag/internal/domain"
	"legisrag/internal/port"
)

func doc(id string) domain.Document {
	return domain.Document{
		Title:    "Order Paper " + id,
		DocType:  domain.DocTypeOrderPapers,
		Metadata: domain.Metadata{DocID: id, DownloadURL: "https://nass.gov.ng/" + id + ".pdf"},
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(2)

	res, err := s.InsertMany(ctx, []domain.Document{doc("b"), doc("a"), doc("c")})
	if err != nil {
		t.Fatal(err)
	}
	if res.Batches != 2 || res.Inserted != 3 {
		t.Errorf("unexpected result %+v", res)
	}

	docs, err := port.Collect(s.FetchAll(ctx))
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 3 || docs[0].ID != "order_papers/a" {
		t.Errorf("unexpected documents %v", docs)
	}

	if err := s.SetStoragePath(ctx, "order_papers/a", "pdf_files/order_papers/a.pdf"); err != nil {
		t.Fatal(err)
	}
	got, _ := s.Get(ctx, "order_papers/a")
	if got.Metadata.StoragePath != "pdf_files/order_papers/a.pdf" {
		t.Errorf("storage path not set: %+v", got.Metadata)
	}
}

func TestMemoryStoreRejectsInvalidBatch(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(1)

	res, err := s.InsertMany(ctx, []domain.Document{doc("a"), {Title: "broken"}})
	if err == nil {
		t.Fatal("expected error")
	}
	if res.Inserted != 1 || res.FailedBatches != 1 {
		t.Errorf("unexpected result %+v", res)
	}
}
