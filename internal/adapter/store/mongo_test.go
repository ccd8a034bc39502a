package store

import (
	"testing"

	"go.mongodb.org/mongo-driver/bson"

	"legisrag/internal/domain"
)

func TestUpsertUpdateLeavesEnrichmentAlone(t *testing.T) {
	update := upsertUpdate(bill("7"))
	set, ok := update["$set"].(bson.M)
	if !ok {
		t.Fatalf("expected $set document, got %T", update["$set"])
	}

	if _, ok := set["metadata.storage_path"]; ok {
		t.Error("empty storage_path must not be written")
	}
	if _, ok := set["full_text"]; ok {
		t.Error("empty full_text must not be written")
	}
	if set["metadata.doc_id"] != "7" {
		t.Errorf("unexpected doc_id %v", set["metadata.doc_id"])
	}

	doc := bill("7")
	doc.Metadata.StoragePath = "pdf_files/bills/7.pdf"
	set = upsertUpdate(doc)["$set"].(bson.M)
	if set["metadata.storage_path"] != "pdf_files/bills/7.pdf" {
		t.Error("non-empty storage_path should be written")
	}
}

func TestMongoDocumentMapping(t *testing.T) {
	doc := bill("9")
	doc.Metadata.Chamber = "Senate"
	doc.Metadata.Dates = map[string]string{"first_reading": "2024-02-01"}

	m := toMongo(doc)
	if m.ID != "bills/9" {
		t.Errorf("expected _id bills/9, got %q", m.ID)
	}

	back := m.toDomain()
	if back.Key() != doc.Key() || back.Metadata.Chamber != "Senate" || back.Metadata.Dates["first_reading"] != "2024-02-01" {
		t.Errorf("mapping lost fields: %+v", back)
	}
	if back.DocType != domain.DocTypeBills {
		t.Errorf("unexpected doc type %q", back.DocType)
	}
}
