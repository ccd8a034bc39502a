package domain

import (
	"strconv"
	"strings"
	"time"
)

// DocType is the listing a document was scraped from.
type DocType string

const (
	DocTypeBills               DocType = "bills"
	DocTypeHansard             DocType = "hansard"
	DocTypeOrderPapers         DocType = "order_papers"
	DocTypeVotesAndProceedings DocType = "votes_and_proceedings"
)

// DocTypes lists every known document type in scrape order.
var DocTypes = []DocType{DocTypeBills, DocTypeHansard, DocTypeOrderPapers, DocTypeVotesAndProceedings}

// ParseDocType returns the DocType named by s.
func ParseDocType(s string) (DocType, bool) {
	for _, t := range DocTypes {
		if string(t) == strings.TrimSpace(s) {
			return t, true
		}
	}
	return "", false
}

type Metadata struct {
	Chamber           string            `json:"chamber"`
	Dates             map[string]string `json:"dates,omitempty"`
	CommitteeReferred string            `json:"committee_referred,omitempty"`
	Parliament        string            `json:"parliament,omitempty"`
	Session           string            `json:"session,omitempty"`
	DownloadURL       string            `json:"download_url"`
	DocID             string            `json:"doc_id"`
	StoragePath       string            `json:"storage_path,omitempty"`
}

type Document struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	URL      string   `json:"url"`
	DocType  DocType  `json:"doc_type"`
	Metadata Metadata `json:"metadata"`
	FullText string   `json:"full_text,omitempty"`
}

// DocumentKey builds the store identity of a document.
func DocumentKey(docType DocType, docID string) string {
	return string(docType) + "/" + docID
}

// Key returns the document identity, deriving it when ID is unset.
func (d Document) Key() string {
	if d.ID != "" {
		return d.ID
	}
	return DocumentKey(d.DocType, d.Metadata.DocID)
}

// Chunk is one retrieval passage. Offsets are byte offsets into the text the
// chunk was cut from, so overlapping neighbours can be stitched back together.
type Chunk struct {
	ID          string            `json:"id"`
	DocumentID  string            `json:"document_id"`
	SequenceNo  int               `json:"sequence_no"`
	Text        string            `json:"text"`
	StartOffset int               `json:"start_offset"`
	EndOffset   int               `json:"end_offset"`
	Tokens      int               `json:"tokens"`
	Metadata    map[string]string `json:"metadata"`
}

type EmbeddingVector struct {
	ChunkID string    `json:"chunk_id"`
	Vector  []float32 `json:"vector"`
	ModelID string    `json:"model_id"`
}

// Metadata keys every index entry carries.
const (
	MetaDocID       = "doc_id"
	MetaDocType     = "doc_type"
	MetaDownloadURL = "download_url"
	MetaTitle       = "title"
	MetaChamber     = "chamber"
	MetaSession     = "session"
	MetaStoragePath = "storage_path"
	MetaDocumentID  = "document_id"
	MetaSequenceNo  = "sequence_no"
	MetaText        = "text"
	MetaSource      = "source"
	MetaTextSource  = "text_source"
)

// CitationKeys are required on every index entry to rebuild a citation.
var CitationKeys = []string{MetaDownloadURL, MetaDocID, MetaDocType}

type SearchHit struct {
	ID       string            `json:"id"`
	Score    float64           `json:"score"`
	Metadata map[string]string `json:"metadata"`
}

// Text returns the passage text stored with the hit.
func (h SearchHit) Text() string {
	return h.Metadata[MetaText]
}

type Answer struct {
	Answer    string   `json:"answer"`
	Sources   []string `json:"sources"`
	RequestID string   `json:"request_id,omitempty"`
}

// QueryEvent is what the observability sink receives for an answered query.
type QueryEvent struct {
	RequestID string    `json:"request_id" bson:"request_id"`
	Query     string    `json:"query" bson:"query"`
	Passages  []string  `json:"passages" bson:"passages"`
	Sources   []string  `json:"sources" bson:"sources"`
	Answer    string    `json:"answer" bson:"answer"`
	Model     string    `json:"model" bson:"model"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

// ChunkMetadata flattens the document fields every chunk of it carries.
func (d Document) ChunkMetadata() map[string]string {
	m := map[string]string{
		MetaDocID:       d.Metadata.DocID,
		MetaDocType:     string(d.DocType),
		MetaDownloadURL: d.Metadata.DownloadURL,
		MetaTitle:       d.Title,
		MetaDocumentID:  d.Key(),
	}
	if d.Metadata.Chamber != "" {
		m[MetaChamber] = d.Metadata.Chamber
	}
	if d.Metadata.Session != "" {
		m[MetaSession] = d.Metadata.Session
	}
	if d.Metadata.StoragePath != "" {
		m[MetaStoragePath] = d.Metadata.StoragePath
	}
	return m
}

// IndexMetadata returns the metadata stored with the chunk's index entry.
func (c Chunk) IndexMetadata() map[string]string {
	m := make(map[string]string, len(c.Metadata)+2)
	for k, v := range c.Metadata {
		m[k] = v
	}
	m[MetaText] = c.Text
	m[MetaSequenceNo] = strconv.Itoa(c.SequenceNo)
	return m
}
