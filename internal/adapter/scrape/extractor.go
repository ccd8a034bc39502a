// Package scrape turns the listing tables of the National Assembly website
// into documents.
package scrape

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"legisrag/internal/adapter/fs"
	"legisrag/internal/domain"
)

const defaultRowSelector = "table.dataTable tbody tr"

// Extractor reads listing pages from local files, globs or http(s) URLs.
type Extractor struct {
	rowSelector     string
	billDownloadURL string
	client          *http.Client
	walker          *fs.Walker
	logger          *zap.Logger
}

type Option func(*Extractor)

func WithRowSelector(sel string) Option {
	return func(e *Extractor) {
		if sel != "" {
			e.rowSelector = sel
		}
	}
}

// WithBillDownloadURL sets the format, with one %s for the doc id, used to
// build bill download links.
func WithBillDownloadURL(format string) Option {
	return func(e *Extractor) {
		if format != "" {
			e.billDownloadURL = format
		}
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(e *Extractor) { e.client = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Extractor) { e.logger = l }
}

func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{
		rowSelector:     defaultRowSelector,
		billDownloadURL: "https://nass.gov.ng/documents/billdownload/%s.pdf",
		client:          &http.Client{Timeout: 30 * time.Second},
		walker:          fs.NewWalker(nil),
		logger:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract parses every source in domain.DocTypes order. Malformed rows are
// skipped with a warning; an unreadable source is an error.
func (e *Extractor) Extract(ctx context.Context, sources map[domain.DocType]string) ([]domain.Document, error) {
	var docs []domain.Document

	for _, docType := range domain.DocTypes {
		location, ok := sources[docType]
		if !ok || location == "" {
			continue
		}

		pages, err := e.open(ctx, location)
		if err != nil {
			return nil, fmt.Errorf("scrape %s: %w", docType, err)
		}

		for _, page := range pages {
			parsed, err := e.parse(page.body, page.name, docType)
			page.body.Close()
			if err != nil {
				return nil, fmt.Errorf("scrape %s from %s: %w", docType, page.name, err)
			}
			e.logger.Info("scraped listing",
				zap.String("doc_type", string(docType)),
				zap.String("source", page.name),
				zap.Int("documents", len(parsed)))
			docs = append(docs, parsed...)
		}
	}

	return docs, nil
}

type page struct {
	name string
	body io.ReadCloser
}

func (e *Extractor) open(ctx context.Context, location string) ([]page, error) {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
		if err != nil {
			return nil, err
		}
		resp, err := e.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", location, err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("fetch %s: status %d", location, resp.StatusCode)
		}
		return []page{{name: location, body: resp.Body}}, nil
	}

	files, err := e.walker.Walk(location)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no files match %s", location)
	}

	pages := make([]page, 0, len(files))
	for _, f := range files {
		body, err := os.Open(f.Path)
		if err != nil {
			for _, p := range pages {
				p.body.Close()
			}
			return nil, err
		}
		pages = append(pages, page{name: f.Path, body: body})
	}
	return pages, nil
}

func (e *Extractor) parse(r io.Reader, source string, docType domain.DocType) ([]domain.Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var docs []domain.Document
	doc.Find(e.rowSelector).Each(func(i int, tr *goquery.Selection) {
		d, err := e.row(tr, docType)
		if err != nil {
			e.logger.Warn("skipping malformed row",
				zap.String("doc_type", string(docType)),
				zap.String("source", source),
				zap.Int("row", i),
				zap.Error(err))
			return
		}
		docs = append(docs, d)
	})

	return docs, nil
}

// columns per listing: bills carry reading dates and the referred
// committee, the other listings a document date, parliament and session.
const (
	billColumns    = 6
	generalColumns = 5
)

func (e *Extractor) row(tr *goquery.Selection, docType domain.DocType) (domain.Document, error) {
	cells := tr.Find("td")
	want := generalColumns
	if docType == domain.DocTypeBills {
		want = billColumns
	}
	if cells.Length() < want {
		return domain.Document{}, fmt.Errorf("expected %d columns, got %d", want, cells.Length())
	}

	cell := func(i int) string {
		return strings.TrimSpace(cells.Eq(i).Text())
	}

	link := cells.Eq(0).Find("a").First()
	href, ok := link.Attr("href")
	href = strings.TrimSpace(href)
	if !ok || href == "" {
		return domain.Document{}, fmt.Errorf("first column has no link")
	}

	docID := lastSegment(href)
	if docID == "" {
		return domain.Document{}, fmt.Errorf("cannot derive doc id from %q", href)
	}

	d := domain.Document{
		Title:   cell(0),
		URL:     href,
		DocType: docType,
		Metadata: domain.Metadata{
			Chamber: cell(1),
			DocID:   docID,
		},
	}

	if docType == domain.DocTypeBills {
		d.Metadata.Dates = nonEmpty(map[string]string{
			"first_reading":  cell(2),
			"second_reading": cell(3),
			"third_reading":  cell(5),
		})
		d.Metadata.CommitteeReferred = cell(4)
		d.Metadata.DownloadURL = fmt.Sprintf(e.billDownloadURL, docID)
	} else {
		d.Metadata.Dates = nonEmpty(map[string]string{
			"document_date": cell(2),
		})
		d.Metadata.Parliament = cell(3)
		d.Metadata.Session = cell(4)
		d.Metadata.DownloadURL = href
	}
	d.ID = d.Key()

	return d, nil
}

// lastSegment returns the final path segment of a link, ignoring any
// query string or trailing slash.
func lastSegment(href string) string {
	if u, err := url.Parse(href); err == nil {
		href = u.Path
	}
	href = strings.TrimRight(href, "/")
	seg := path.Base(href)
	if seg == "." || seg == "/" {
		return ""
	}
	return seg
}

func nonEmpty(m map[string]string) map[string]string {
	for k, v := range m {
		if v == "" {
			delete(m, k)
		}
	}
	if len(m) == 0 {
		return nil
	}
	return m
}
